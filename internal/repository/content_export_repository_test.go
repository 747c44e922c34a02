package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-adp-archiver/internal/models"
)

var contentExportRowColumns = []string{"id", "context_type", "context_id", "user_id", "workflow_state", "progress", "attempts", "options", "file_path", "filename", "size_bytes", "checksum", "error_message", "created_at", "updated_at", "finished_at"}

func TestContentExportRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewContentExportRepository(db)

	userID := "u-1"
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO content_exports")).
		WithArgs(sqlmock.AnyArg(), "folder", "fold-1", "u-1", "pending", 0, 0, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	export := &models.ContentExport{ContextType: models.ContentExportFolder, ContextID: "fold-1", UserID: &userID, Options: models.ContentExportOptions{Manifest: "csv"}}
	require.NoError(t, repo.Create(context.Background(), export))
	require.NotEmpty(t, export.ID)
	assert.Equal(t, models.ContentExportPending, export.WorkflowState)

	now := time.Now()
	rows := sqlmock.NewRows(contentExportRowColumns).
		AddRow(export.ID, "folder", "fold-1", userID, "pending", 0, 0, `{"manifest":"csv"}`, nil, nil, nil, nil, nil, now, now, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM content_exports WHERE id = $1")).
		WithArgs(export.ID).
		WillReturnRows(rows)

	fetched, err := repo.GetByID(context.Background(), export.ID)
	require.NoError(t, err)
	assert.Equal(t, "csv", fetched.Options.Manifest)
	assert.Equal(t, "u-1", *fetched.UserID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContentExportRepositoryClaim(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewContentExportRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE content_exports SET workflow_state = 'zipping', progress = 0, attempts = attempts + 1")).
		WithArgs(sqlmock.AnyArg(), "exp-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $2 AND workflow_state = 'pending'")).
		WithArgs(sqlmock.AnyArg(), "exp-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Claim(context.Background(), "exp-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Claim(context.Background(), "exp-1")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContentExportRepositoryUpdateGuarded(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewContentExportRepository(db)

	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	repo.now = func() time.Time { return fixed }

	state := models.ContentExportZipped
	expect := models.ContentExportZipping
	progress := 100
	path := "content_exports/exp-1/a.zip"
	mock.ExpectExec(regexp.QuoteMeta("UPDATE content_exports SET workflow_state = $1, progress = $2, file_path = $3, finished_at = $4, updated_at = $5 WHERE id = $6 AND workflow_state = $7")).
		WithArgs(state, progress, path, fixed, fixed, "exp-1", expect).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE content_exports SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	params := UpdateContentExportParams{
		WorkflowState: &state,
		ExpectState:   &expect,
		Progress:      &progress,
		FilePath:      &path,
		FinishedAt:    &fixed,
	}
	require.NoError(t, repo.Update(context.Background(), "exp-1", params))
	assert.ErrorIs(t, repo.Update(context.Background(), "exp-1", params), ErrStateConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContentExportRepositoryUpdateClearResult(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewContentExportRepository(db)

	state := models.ContentExportPending
	mock.ExpectExec(regexp.QuoteMeta("UPDATE content_exports SET workflow_state = $1, file_path = NULL, filename = NULL, size_bytes = NULL, checksum = NULL, finished_at = NULL, error_message = NULL, updated_at = $2 WHERE id = $3")).
		WithArgs(state, sqlmock.AnyArg(), "exp-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Update(context.Background(), "exp-1", UpdateContentExportParams{WorkflowState: &state, ClearResult: true}))
	require.NoError(t, repo.Update(context.Background(), "exp-1", UpdateContentExportParams{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContentExportRepositoryUpdateProgress(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewContentExportRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE content_exports SET progress = $1, updated_at = $2 WHERE id = $3 AND workflow_state = 'zipping' AND progress <= $1")).
		WithArgs(40, sqlmock.AnyArg(), "exp-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateProgress(context.Background(), "exp-1", 40))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContentExportRepositoryFindActive(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewContentExportRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(contentExportRowColumns).
		AddRow("exp-1", "assignment", "asg-1", nil, "zipping", 30, 1, `{}`, nil, nil, nil, nil, nil, now, now, nil)
	mock.ExpectQuery(regexp.QuoteMeta("user_id IS NOT DISTINCT FROM $3 AND workflow_state IN ('pending', 'zipping')")).
		WithArgs(models.ContentExportAssignment, "asg-1", nil).
		WillReturnRows(rows)

	found, err := repo.FindActive(context.Background(), models.ContentExportAssignment, "asg-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "exp-1", found.ID)
	assert.Nil(t, found.UserID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContentExportRepositoryRecoveryQueries(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewContentExportRepository(db)

	cutoff := time.Now().Add(-time.Hour)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE content_exports SET workflow_state = 'pending', updated_at = $1 WHERE workflow_state = 'zipping' AND updated_at < $2")).
		WithArgs(sqlmock.AnyArg(), cutoff).
		WillReturnResult(sqlmock.NewResult(0, 2))

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM content_exports WHERE workflow_state = $1 ORDER BY created_at ASC LIMIT $2")).
		WithArgs(models.ContentExportPending, 50).
		WillReturnRows(sqlmock.NewRows(contentExportRowColumns).
			AddRow("exp-1", "folder", "f-1", nil, "pending", 0, 1, nil, nil, nil, nil, nil, nil, now, now, nil))

	mock.ExpectQuery(regexp.QuoteMeta("WHERE workflow_state = 'zipped' AND file_path IS NOT NULL AND finished_at IS NOT NULL AND finished_at < $1")).
		WithArgs(cutoff, 10).
		WillReturnRows(sqlmock.NewRows(contentExportRowColumns))

	n, err := repo.ResetStale(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	pending, err := repo.ListByState(context.Background(), models.ContentExportPending, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	finished, err := repo.ListFinishedBefore(context.Background(), cutoff, 10)
	require.NoError(t, err)
	assert.Empty(t, finished)
	require.NoError(t, mock.ExpectationsWereMet())
}
