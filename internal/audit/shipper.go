// Package audit forwards audit entries to destinations outside the database: a JSON-lines
// file picked up by a log collector, or an HTTP collector endpoint. The audit_logs table
// stays the source of truth that /api/v1/audit-logs reads; shipping is best effort.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/sales-dashboard/sales-dashboard/internal/config"
	"github.com/sales-dashboard/sales-dashboard/internal/db/models"
	"github.com/sales-dashboard/sales-dashboard/internal/safego"
)

// Shipper sends audit entries to one destination
type Shipper interface {
	Ship(ctx context.Context, entry *models.AuditLog) error
	Close() error
}

// Store persists audit entries; the audit repository implements it
type Store interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Recorder stores each entry and then ships it. It satisfies middleware.AuditWriter.
type Recorder struct {
	store   Store
	shipper Shipper
}

// NewRecorder wraps store. A nil shipper only stores.
func NewRecorder(store Store, shipper Shipper) *Recorder {
	return &Recorder{store: store, shipper: shipper}
}

// CreateAuditLog stores the entry and ships it. Shipping failures are logged, not returned:
// the entry is already safe in the database.
func (r *Recorder) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	if err := r.store.CreateAuditLog(ctx, entry); err != nil {
		return err
	}
	if r.shipper != nil {
		if err := r.shipper.Ship(ctx, entry); err != nil {
			slog.Warn("failed to ship audit entry", "action", entry.Action, "error", err)
		}
	}
	return nil
}

// MultiShipper ships to every configured destination
type MultiShipper struct {
	shippers []Shipper
	mu       sync.RWMutex
}

// NewMultiShipper builds the shippers enabled in cfg. With none enabled it returns an empty
// shipper that does nothing.
func NewMultiShipper(cfg *config.AuditConfig) (*MultiShipper, error) {
	ms := &MultiShipper{}

	if cfg.File.Path != "" {
		fs, err := NewFileShipper(&cfg.File)
		if err != nil {
			return nil, fmt.Errorf("failed to create file shipper: %w", err)
		}
		ms.shippers = append(ms.shippers, fs)
	}
	if cfg.Webhook.URL != "" {
		ms.shippers = append(ms.shippers, NewWebhookShipper(&cfg.Webhook))
	}
	return ms, nil
}

// Len returns the number of active destinations
func (ms *MultiShipper) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.shippers)
}

// Ship sends entry to all destinations and returns the last error
func (ms *MultiShipper) Ship(ctx context.Context, entry *models.AuditLog) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var lastErr error
	for _, shipper := range ms.shippers {
		if err := shipper.Ship(ctx, entry); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Close closes all destinations
func (ms *MultiShipper) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var lastErr error
	for _, shipper := range ms.shippers {
		if err := shipper.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// ---------------------------------------------------------------------------
// Webhook
// ---------------------------------------------------------------------------

// WebhookShipper posts entries as JSON to a collector. With a batch size it posts arrays,
// flushed when full or on the flush interval.
type WebhookShipper struct {
	cfg       *config.AuditWebhookConfig
	client    *http.Client
	batchCh   chan *models.AuditLog
	closeCh   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewWebhookShipper creates a webhook shipper and starts its batch loop when batching
func NewWebhookShipper(cfg *config.AuditWebhookConfig) *WebhookShipper {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ws := &WebhookShipper{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		batchCh: make(chan *models.AuditLog, 1000),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}

	if cfg.BatchSize > 0 {
		safego.Go(ws.processBatches)
	} else {
		close(ws.done)
	}
	return ws
}

func (ws *WebhookShipper) processBatches() {
	defer close(ws.done)

	flushInterval := ws.cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*models.AuditLog, 0, ws.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := ws.post(context.Background(), batch); err != nil {
			slog.Warn("failed to ship audit batch", "entries", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-ws.batchCh:
			batch = append(batch, entry)
			if len(batch) >= ws.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ws.closeCh:
			for {
				select {
				case entry := <-ws.batchCh:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Ship queues entry when batching, otherwise posts it directly. A full queue falls back to a
// direct post.
func (ws *WebhookShipper) Ship(ctx context.Context, entry *models.AuditLog) error {
	if ws.cfg.BatchSize > 0 {
		select {
		case ws.batchCh <- entry:
			return nil
		default:
		}
	}
	return ws.post(ctx, entry)
}

func (ws *WebhookShipper) post(ctx context.Context, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal audit payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range ws.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Close flushes queued entries and stops the batch loop
func (ws *WebhookShipper) Close() error {
	ws.closeOnce.Do(func() {
		close(ws.closeCh)
	})
	<-ws.done
	return nil
}

// ---------------------------------------------------------------------------
// File
// ---------------------------------------------------------------------------

// FileShipper appends entries as JSON lines, rotating by size
type FileShipper struct {
	cfg  *config.AuditFileConfig
	file *os.File
	mu   sync.Mutex
}

// NewFileShipper opens (or creates) the audit file
func NewFileShipper(cfg *config.AuditFileConfig) (*FileShipper, error) {
	file, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	return &FileShipper{cfg: cfg, file: file}, nil
}

// Ship writes one JSON line
func (fs *FileShipper) Ship(_ context.Context, entry *models.AuditLog) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.cfg.MaxSizeMB > 0 {
		info, err := fs.file.Stat()
		if err == nil && info.Size() > int64(fs.cfg.MaxSizeMB)*1024*1024 {
			if err := fs.rotate(); err != nil {
				slog.Warn("failed to rotate audit file", "path", fs.cfg.Path, "error", err)
			}
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	if _, err := fs.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// rotate shifts path.N to path.N+1, moves the live file to path.1 and reopens it
func (fs *FileShipper) rotate() error {
	if err := fs.file.Close(); err != nil {
		return err
	}

	for i := fs.cfg.MaxBackups - 1; i >= 1; i-- {
		_ = os.Rename(fmt.Sprintf("%s.%d", fs.cfg.Path, i), fmt.Sprintf("%s.%d", fs.cfg.Path, i+1))
	}
	_ = os.Rename(fs.cfg.Path, fs.cfg.Path+".1")
	if fs.cfg.MaxBackups > 0 {
		_ = os.Remove(fmt.Sprintf("%s.%d", fs.cfg.Path, fs.cfg.MaxBackups+1))
	}

	file, err := os.OpenFile(fs.cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	fs.file = file
	return nil
}

// Close closes the file
func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.file.Close()
}
