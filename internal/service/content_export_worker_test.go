package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-adp-archiver/internal/models"
	"github.com/noah-isme/sma-adp-archiver/pkg/jobs"
)

type processorStub struct {
	state models.ContentExportState
	err   error
	ids   []string
}

func (p *processorStub) Process(ctx context.Context, exportID string) (models.ContentExportState, error) {
	p.ids = append(p.ids, exportID)
	return p.state, p.err
}

func TestContentExportWorkerHandle(t *testing.T) {
	t.Run("errored runs are not retried", func(t *testing.T) {
		zipper := &processorStub{state: models.ContentExportErrored}
		worker := NewContentExportWorker(zipper, nil)

		require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: "e1", Type: "folder"}))
		assert.Equal(t, []string{"e1"}, zipper.ids)
	})

	t.Run("missing export is permanent", func(t *testing.T) {
		zipper := &processorStub{err: fmt.Errorf("load content export e1: %w", sql.ErrNoRows)}
		err := NewContentExportWorker(zipper, nil).Handle(context.Background(), jobs.Job{ID: "e1"})
		require.Error(t, err)
		assert.True(t, jobs.IsPermanent(err))
	})

	t.Run("start failures are retried", func(t *testing.T) {
		zipper := &processorStub{err: errors.New("connection refused")}
		err := NewContentExportWorker(zipper, nil).Handle(context.Background(), jobs.Job{ID: "e1"})
		require.Error(t, err)
		assert.False(t, jobs.IsPermanent(err))
	})
}
