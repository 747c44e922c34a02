package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-adp-archiver/internal/models"
)

const progressCachePrefix = "content_exports:progress:"

type progressStore interface {
	UpdateProgress(ctx context.Context, id string, progress int) error
}

type progressCache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
}

func progressCacheKey(exportID string) string {
	return progressCachePrefix + exportID
}

// ProgressReporter persists the percentage complete of one archive run.
// Reported values never decrease.
type ProgressReporter struct {
	export *models.ContentExport
	store  progressStore
	cache  progressCache
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	last  int
	total int
	done  int
}

func newProgressReporter(export *models.ContentExport, store progressStore, cache progressCache, ttl time.Duration, logger *zap.Logger) *ProgressReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressReporter{
		export: export,
		store:  store,
		cache:  cache,
		ttl:    ttl,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		last:   export.Progress,
	}
}

// SetTotal sets the number of units Advance divides by.
func (p *ProgressReporter) SetTotal(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = total
	p.done = 0
}

// Advance marks one unit complete and reports floor(done/total*100).
func (p *ProgressReporter) Advance(ctx context.Context) {
	p.mu.Lock()
	p.done++
	done, total := p.done, p.total
	p.mu.Unlock()
	if total <= 0 {
		return
	}
	p.Report(ctx, done*100/total)
}

// Report persists percent unless it is lower than what was already reported.
// Failures are logged; progress is best effort.
func (p *ProgressReporter) Report(ctx context.Context, percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	p.mu.Lock()
	if percent < p.last {
		p.mu.Unlock()
		return
	}
	p.last = percent
	p.mu.Unlock()

	if err := p.store.UpdateProgress(ctx, p.export.ID, percent); err != nil {
		p.logger.Sugar().Warnw("failed to persist export progress", "export_id", p.export.ID, "progress", percent, "error", err)
	}
	p.publish(ctx, models.ContentExportZipping, percent)
}

// Finish writes the terminal snapshot for pollers.
func (p *ProgressReporter) Finish(ctx context.Context, state models.ContentExportState) {
	p.mu.Lock()
	if state == models.ContentExportZipped {
		p.last = 100
	}
	percent := p.last
	p.mu.Unlock()
	p.publish(ctx, state, percent)
}

// Last returns the highest value reported so far.
func (p *ProgressReporter) Last() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *ProgressReporter) publish(ctx context.Context, state models.ContentExportState, percent int) {
	if p.cache == nil {
		return
	}
	snapshot := models.ContentExportProgress{
		ID:            p.export.ID,
		UserID:        p.export.UserID,
		WorkflowState: state,
		Progress:      percent,
		UpdatedAt:     p.now(),
	}
	if err := p.cache.Set(ctx, progressCacheKey(p.export.ID), snapshot, p.ttl); err != nil {
		p.logger.Sugar().Debugw("failed to cache export progress", "export_id", p.export.ID, "error", err)
	}
}
