// Package checksum computes the SHA-256 digests stored alongside report exports.
// The digest returned by an upload is reported to the client, so a downloaded CSV
// can be checked against it.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// Sum returns the hex SHA-256 of data
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Writer passes writes through to an underlying writer while hashing them
type Writer struct {
	w io.Writer
	h hash.Hash
}

// NewWriter wraps w
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, h: sha256.New()}
}

func (cw *Writer) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.h.Write(p[:n])
	return n, err
}

// Sum returns the hex SHA-256 of everything written so far
func (cw *Writer) Sum() string {
	return hex.EncodeToString(cw.h.Sum(nil))
}
