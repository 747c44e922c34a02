package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-adp-archiver/internal/models"
)

// ErrStateConflict is returned when a guarded update matched no row in the expected state.
var ErrStateConflict = errors.New("content export state changed concurrently")

const contentExportColumns = `id, context_type, context_id, user_id, workflow_state, progress, attempts, options, file_path, filename, size_bytes, checksum, error_message, created_at, updated_at, finished_at`

// ContentExportRepository persists archive jobs in content_exports.
type ContentExportRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewContentExportRepository constructs the repository.
func NewContentExportRepository(db *sqlx.DB) *ContentExportRepository {
	return &ContentExportRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Create inserts a new export row with generated defaults.
func (r *ContentExportRepository) Create(ctx context.Context, export *models.ContentExport) error {
	if export.ID == "" {
		export.ID = uuid.NewString()
	}
	if export.WorkflowState == "" {
		export.WorkflowState = models.ContentExportPending
	}
	now := r.now()
	if export.CreatedAt.IsZero() {
		export.CreatedAt = now
	}
	export.UpdatedAt = now
	const query = `INSERT INTO content_exports (id, context_type, context_id, user_id, workflow_state, progress, attempts, options, created_at, updated_at)
VALUES (:id, :context_type, :context_id, :user_id, :workflow_state, :progress, :attempts, :options, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, export); err != nil {
		return fmt.Errorf("create content export: %w", err)
	}
	return nil
}

// GetByID returns an export row by its identifier. Missing rows wrap sql.ErrNoRows.
func (r *ContentExportRepository) GetByID(ctx context.Context, id string) (*models.ContentExport, error) {
	query := `SELECT ` + contentExportColumns + ` FROM content_exports WHERE id = $1`
	var export models.ContentExport
	if err := r.db.GetContext(ctx, &export, query, id); err != nil {
		return nil, fmt.Errorf("get content export: %w", err)
	}
	return &export, nil
}

// FindActive returns the newest pending or zipping export for the same context and requester.
func (r *ContentExportRepository) FindActive(ctx context.Context, contextType models.ContentExportContext, contextID string, userID *string) (*models.ContentExport, error) {
	query := `SELECT ` + contentExportColumns + ` FROM content_exports
WHERE context_type = $1 AND context_id = $2 AND user_id IS NOT DISTINCT FROM $3 AND workflow_state IN ('pending', 'zipping')
ORDER BY created_at DESC LIMIT 1`
	var export models.ContentExport
	if err := r.db.GetContext(ctx, &export, query, contextType, contextID, userID); err != nil {
		return nil, fmt.Errorf("find active content export: %w", err)
	}
	return &export, nil
}

// Claim moves a pending export to zipping and bumps its attempt counter.
// It returns false when the export is not pending.
func (r *ContentExportRepository) Claim(ctx context.Context, id string) (bool, error) {
	const query = `UPDATE content_exports SET workflow_state = 'zipping', progress = 0, attempts = attempts + 1, error_message = NULL, updated_at = $1
WHERE id = $2 AND workflow_state = 'pending'`
	res, err := r.db.ExecContext(ctx, query, r.now(), id)
	if err != nil {
		return false, fmt.Errorf("claim content export: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim content export: %w", err)
	}
	return n == 1, nil
}

// UpdateProgress raises progress while the export is zipping. Lower values are ignored.
func (r *ContentExportRepository) UpdateProgress(ctx context.Context, id string, progress int) error {
	const query = `UPDATE content_exports SET progress = $1, updated_at = $2
WHERE id = $3 AND workflow_state = 'zipping' AND progress <= $1`
	if _, err := r.db.ExecContext(ctx, query, progress, r.now(), id); err != nil {
		return fmt.Errorf("update content export progress: %w", err)
	}
	return nil
}

// UpdateContentExportParams defines the mutable fields. ExpectState guards the
// update so a terminal state is written once.
type UpdateContentExportParams struct {
	WorkflowState *models.ContentExportState
	ExpectState   *models.ContentExportState
	Progress      *int
	FilePath      *string
	Filename      *string
	SizeBytes     *int64
	Checksum      *string
	ErrorMessage  *string
	FinishedAt    *time.Time
	ClearResult   bool
}

// Update persists the provided changes for an export row.
func (r *ContentExportRepository) Update(ctx context.Context, id string, params UpdateContentExportParams) error {
	set := make([]string, 0, 10)
	args := make([]interface{}, 0, 12)
	argPos := 1

	add := func(column string, value interface{}) {
		set = append(set, fmt.Sprintf("%s = $%d", column, argPos))
		args = append(args, value)
		argPos++
	}

	if params.WorkflowState != nil {
		add("workflow_state", *params.WorkflowState)
	}
	if params.Progress != nil {
		add("progress", *params.Progress)
	}
	if params.ClearResult {
		set = append(set, "file_path = NULL", "filename = NULL", "size_bytes = NULL", "checksum = NULL", "finished_at = NULL", "error_message = NULL")
	}
	if params.FilePath != nil {
		add("file_path", *params.FilePath)
	}
	if params.Filename != nil {
		add("filename", *params.Filename)
	}
	if params.SizeBytes != nil {
		add("size_bytes", *params.SizeBytes)
	}
	if params.Checksum != nil {
		add("checksum", *params.Checksum)
	}
	if params.ErrorMessage != nil {
		add("error_message", *params.ErrorMessage)
	}
	if params.FinishedAt != nil {
		add("finished_at", *params.FinishedAt)
	}

	if len(set) == 0 {
		return nil
	}
	add("updated_at", r.now())

	query := fmt.Sprintf("UPDATE content_exports SET %s WHERE id = $%d", strings.Join(set, ", "), argPos)
	args = append(args, id)
	argPos++
	if params.ExpectState != nil {
		query += fmt.Sprintf(" AND workflow_state = $%d", argPos)
		args = append(args, *params.ExpectState)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update content export: %w", err)
	}
	if params.ExpectState != nil {
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update content export: %w", err)
		}
		if n == 0 {
			return ErrStateConflict
		}
	}
	return nil
}

// ListByState fetches exports in the given state, oldest first (used for cold start recovery).
func (r *ContentExportRepository) ListByState(ctx context.Context, state models.ContentExportState, limit int) ([]models.ContentExport, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + contentExportColumns + ` FROM content_exports WHERE workflow_state = $1 ORDER BY created_at ASC LIMIT $2`
	var exports []models.ContentExport
	if err := r.db.SelectContext(ctx, &exports, query, state, limit); err != nil {
		return nil, fmt.Errorf("list content exports by state: %w", err)
	}
	return exports, nil
}

// ResetStale returns zipping exports untouched since cutoff to pending.
func (r *ContentExportRepository) ResetStale(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `UPDATE content_exports SET workflow_state = 'pending', updated_at = $1 WHERE workflow_state = 'zipping' AND updated_at < $2`
	res, err := r.db.ExecContext(ctx, query, r.now(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("reset stale content exports: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset stale content exports: %w", err)
	}
	return n, nil
}

// ListFinishedBefore retrieves published exports finished prior to cutoff for cleanup.
func (r *ContentExportRepository) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ContentExport, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + contentExportColumns + ` FROM content_exports
WHERE workflow_state = 'zipped' AND file_path IS NOT NULL AND finished_at IS NOT NULL AND finished_at < $1 ORDER BY finished_at ASC LIMIT $2`
	var exports []models.ContentExport
	if err := r.db.SelectContext(ctx, &exports, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("list finished content exports: %w", err)
	}
	return exports, nil
}

// IsNotFound reports whether err came from a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
