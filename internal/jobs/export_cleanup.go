// Package jobs holds the dashboard's periodic background work.
//
// ExportCleaner removes stored CSV exports once they are older than storage.retention. Export
// links expire after storage.url_ttl, so anything past the retention window can no longer be
// downloaded through a handed-out link and only occupies space.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sales-dashboard/sales-dashboard/internal/export"
	"github.com/sales-dashboard/sales-dashboard/internal/storage"
	"github.com/sales-dashboard/sales-dashboard/internal/telemetry"
)

// ExportCleaner periodically deletes expired export objects
type ExportCleaner struct {
	store     storage.Storage
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// NewExportCleaner creates a cleaner for store. interval defaults to one hour.
func NewExportCleaner(store storage.Storage, retention, interval time.Duration) *ExportCleaner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &ExportCleaner{
		store:     store,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		stopChan:  make(chan struct{}),
	}
}

// Start runs a cleanup immediately, then on every interval until ctx is cancelled or Stop is
// called. A zero retention disables the job.
func (c *ExportCleaner) Start(ctx context.Context) {
	if c.retention <= 0 {
		slog.Info("export cleaner disabled (storage.retention=0)")
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	slog.Info("export cleaner started", "interval", c.interval, "retention", c.retention)

	c.run(ctx)
	for {
		select {
		case <-ticker.C:
			c.run(ctx)
		case <-c.stopChan:
			slog.Info("export cleaner stopped")
			return
		case <-ctx.Done():
			slog.Info("export cleaner stopped (context cancelled)")
			return
		}
	}
}

// Stop signals the loop to exit
func (c *ExportCleaner) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

func (c *ExportCleaner) run(ctx context.Context) {
	removed, err := c.RunOnce(ctx)
	if err != nil {
		slog.Error("export cleanup failed", "removed", removed, "error", err)
		return
	}
	if removed > 0 {
		slog.Info("expired exports removed", "count", removed)
	}
}

// RunOnce deletes every export last modified before now minus the retention window and returns
// how many objects were removed. A failed delete is logged and skipped.
func (c *ExportCleaner) RunOnce(ctx context.Context) (int, error) {
	objects, err := c.store.List(ctx, export.PathPrefix+"/")
	if err != nil {
		return 0, fmt.Errorf("failed to list exports: %w", err)
	}

	cutoff := c.now().Add(-c.retention)
	removed := 0
	for _, obj := range objects {
		if !obj.ModifiedAt.Before(cutoff) {
			continue
		}
		if err := c.store.Delete(ctx, obj.Path); err != nil {
			slog.Warn("failed to delete expired export", "path", obj.Path, "error", err)
			continue
		}
		removed++
		telemetry.ReportExportsExpiredTotal.Inc()
	}
	return removed, nil
}
