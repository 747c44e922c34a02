package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-adp-archiver/internal/models"
	"github.com/noah-isme/sma-adp-archiver/pkg/jobs"
)

type exportProcessor interface {
	Process(ctx context.Context, exportID string) (models.ContentExportState, error)
}

// ContentExportWorker bridges queue jobs to the ContentZipper.
type ContentExportWorker struct {
	zipper exportProcessor
	logger *zap.Logger
}

// NewContentExportWorker constructs a worker.
func NewContentExportWorker(zipper exportProcessor, logger *zap.Logger) *ContentExportWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContentExportWorker{zipper: zipper, logger: logger}
}

// Handle processes a queue job. Only failures to start a run are returned,
// so the queue retries them; a missing export is never retried.
func (w *ContentExportWorker) Handle(ctx context.Context, job jobs.Job) error {
	state, err := w.zipper.Process(ctx, job.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			w.logger.Sugar().Warnw("content export vanished before processing", "export_id", job.ID)
			return jobs.Permanent(err)
		}
		return err
	}
	w.logger.Sugar().Debugw("content export handled", "export_id", job.ID, "state", state, "attempt", job.Attempt)
	return nil
}
