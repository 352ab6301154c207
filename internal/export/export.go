// Package export writes the scoped, filtered report set of a project to CSV and stores it in
// the configured object storage backend.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sales-dashboard/sales-dashboard/internal/db/models"
	"github.com/sales-dashboard/sales-dashboard/internal/reports"
	"github.com/sales-dashboard/sales-dashboard/internal/storage"
	"github.com/sales-dashboard/sales-dashboard/internal/telemetry"
)

// DefaultMaxRows caps an export when no limit is configured
const DefaultMaxRows = 100000

var errRowLimit = errors.New("export row limit reached")

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Walker is the part of reports.Engine an export needs
type Walker interface {
	Walk(ctx context.Context, filter *reports.FieldFilter, fn func([]*models.Report) error) error
}

// Request describes one export
type Request struct {
	UserID  string
	Project *models.Project
	Source  Walker
	Filter  *reports.FieldFilter
}

// Result describes a stored export
type Result struct {
	Path      string    `json:"path"`
	URL       string    `json:"url"`
	Rows      int       `json:"rows"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum"`
	Truncated bool      `json:"truncated"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Exporter renders report CSVs and uploads them
type Exporter struct {
	store     storage.Storage
	backend   string
	formatter *reports.Formatter
	urlTTL    time.Duration
	maxRows   int
	now       func() time.Time
}

// NewExporter returns an exporter writing to store. backend labels metrics only.
func NewExporter(store storage.Storage, backend string, formatter *reports.Formatter, urlTTL time.Duration, maxRows int) *Exporter {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	if urlTTL <= 0 {
		urlTTL = 15 * time.Minute
	}
	return &Exporter{
		store:     store,
		backend:   backend,
		formatter: formatter,
		urlTTL:    urlTTL,
		maxRows:   maxRows,
		now:       time.Now,
	}
}

// Export walks every record visible through req.Source, writes the project's table layout as
// CSV and returns a download link. Projects without report headers cannot be exported.
func (x *Exporter) Export(ctx context.Context, req Request) (*Result, error) {
	res, err := x.export(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	telemetry.ReportExportsTotal.WithLabelValues(x.backend, outcome).Inc()
	return res, err
}

func (x *Exporter) export(ctx context.Context, req Request) (*Result, error) {
	if !req.Project.Configured() {
		return nil, reports.ErrNotConfigured
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(reports.Headers(req.Project)); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}

	rows := 0
	truncated := false
	err := req.Source.Walk(ctx, req.Filter, func(batch []*models.Report) error {
		for _, r := range batch {
			if rows == x.maxRows {
				truncated = true
				return errRowLimit
			}
			rows++
			if err := w.Write(reports.RowCells(req.Project, r, rows, x.formatter)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errRowLimit) {
		return nil, fmt.Errorf("failed to read reports: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to write csv: %w", err)
	}

	path := x.objectPath(req)
	size := int64(buf.Len())
	uploaded, err := x.store.Upload(ctx, path, &buf, size)
	if err != nil {
		return nil, fmt.Errorf("failed to store export: %w", err)
	}

	url, err := x.store.GetURL(ctx, path, x.urlTTL)
	if err != nil {
		if delErr := x.store.Delete(ctx, path); delErr != nil {
			slog.Warn("failed to remove unreachable export", "path", path, "error", delErr)
		}
		return nil, fmt.Errorf("failed to create export link: %w", err)
	}

	slog.Info("report export stored",
		"project_id", req.Project.ID, "user_id", req.UserID, "path", path,
		"rows", rows, "truncated", truncated)

	return &Result{
		Path:      uploaded.Path,
		URL:       url,
		Rows:      rows,
		Size:      uploaded.Size,
		Checksum:  uploaded.Checksum,
		Truncated: truncated,
		ExpiresAt: x.now().Add(x.urlTTL).UTC(),
	}, nil
}

// objectPath is exports/<user>/<project>-<yyyymmdd-hhmmss>-<rand>.csv
func (x *Exporter) objectPath(req Request) string {
	name := req.Project.Identifier()
	if name == "" {
		name = req.Project.ID
	}
	name = strings.Trim(unsafeName.ReplaceAllString(name, "_"), "_")
	return fmt.Sprintf("%s/%s/%s-%s-%s.csv",
		PathPrefix, OwnerSegment(req.UserID), name,
		x.now().UTC().Format("20060102-150405"), uuid.NewString()[:8])
}

// PathPrefix is the first segment of every export object path
const PathPrefix = "exports"

// OwnerSegment is the path segment that holds a user's exports
func OwnerSegment(userID string) string {
	return unsafeName.ReplaceAllString(userID, "_")
}

// OwnedBy reports whether path is an export of userID
func OwnedBy(path, userID string) bool {
	prefix := PathPrefix + "/" + OwnerSegment(userID) + "/"
	return strings.HasPrefix(path, prefix) && !strings.Contains(path, "..")
}
