package service

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-adp-archiver/internal/dto"
	"github.com/noah-isme/sma-adp-archiver/internal/models"
	"github.com/noah-isme/sma-adp-archiver/internal/repository"
	appErrors "github.com/noah-isme/sma-adp-archiver/pkg/errors"
	"github.com/noah-isme/sma-adp-archiver/pkg/jobs"
	"github.com/noah-isme/sma-adp-archiver/pkg/storage"
	"github.com/noah-isme/sma-adp-archiver/pkg/workspace"
)

type contentExportStore interface {
	Create(ctx context.Context, export *models.ContentExport) error
	GetByID(ctx context.Context, id string) (*models.ContentExport, error)
	FindActive(ctx context.Context, contextType models.ContentExportContext, contextID string, userID *string) (*models.ContentExport, error)
	Update(ctx context.Context, id string, params repository.UpdateContentExportParams) error
	ListByState(ctx context.Context, state models.ContentExportState, limit int) ([]models.ContentExport, error)
	ResetStale(ctx context.Context, cutoff time.Time) (int64, error)
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ContentExport, error)
}

type exportContextLoader interface {
	GetAssignment(ctx context.Context, id string) (*models.Assignment, error)
	GetPortfolio(ctx context.Context, id string) (*models.Portfolio, error)
	GetFolder(ctx context.Context, id string) (*models.Folder, error)
}

type exportDispatcher interface {
	Enqueue(job jobs.Job) error
}

type exportFileStore interface {
	Open(key string) (*os.File, error)
	Delete(key string) error
}

type workspaceCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (workspace.CleanupReport, error)
}

type cacheRecorder interface {
	RecordCacheOperation(hit bool, duration time.Duration)
}

// ContentExportServiceConfig governs URLs, recovery and cleanup.
type ContentExportServiceConfig struct {
	APIPrefix       string
	ResultTTL       time.Duration
	CleanupInterval time.Duration
	StaleAfter      time.Duration
	WorkspaceMaxAge time.Duration
}

// ContentDownload aggregates a resolved archive download.
type ContentDownload struct {
	File      *os.File
	Filename  string
	SizeBytes int64
	ExpiresAt time.Time
}

// ContentExportService manages the lifecycle of content export jobs for API callers.
type ContentExportService struct {
	exports    contentExportStore
	content    exportContextLoader
	oracle     capabilityOracle
	queue      exportDispatcher
	cache      progressCache
	files      exportFileStore
	workspaces workspaceCleaner
	signer     *storage.SignedURLSigner
	metrics    cacheRecorder
	validator  *validator.Validate
	logger     *zap.Logger
	cfg        ContentExportServiceConfig
	now        func() time.Time
}

// ContentExportServiceDeps groups collaborators of ContentExportService.
type ContentExportServiceDeps struct {
	Exports    contentExportStore
	Content    exportContextLoader
	Oracle     capabilityOracle
	Queue      exportDispatcher
	Cache      progressCache
	Files      exportFileStore
	Workspaces workspaceCleaner
	Signer     *storage.SignedURLSigner
	Metrics    cacheRecorder
}

// NewContentExportService constructs the service.
func NewContentExportService(deps ContentExportServiceDeps, validate *validator.Validate, cfg ContentExportServiceConfig, logger *zap.Logger) *ContentExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 7 * 24 * time.Hour
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Minute
	}
	if cfg.WorkspaceMaxAge <= 0 {
		cfg.WorkspaceMaxAge = 6 * time.Hour
	}
	return &ContentExportService{
		exports:    deps.Exports,
		content:    deps.Content,
		oracle:     deps.Oracle,
		queue:      deps.Queue,
		cache:      deps.Cache,
		files:      deps.Files,
		workspaces: deps.Workspaces,
		signer:     deps.Signer,
		metrics:    deps.Metrics,
		validator:  validate,
		logger:     logger,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RequestExport validates access to the context and enqueues a new export,
// or returns the caller's export of the same context that is still running.
func (s *ContentExportService) RequestExport(ctx context.Context, req dto.ContentExportRequest, actor *models.User, requestID string) (*dto.ContentExportResponse, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	req.ContextID = strings.TrimSpace(req.ContextID)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid content export payload")
	}
	if err := s.authorizeContext(ctx, req.ContextType, req.ContextID, actor); err != nil {
		return nil, err
	}

	userID := actor.ID
	active, err := s.exports.FindActive(ctx, req.ContextType, req.ContextID, &userID)
	switch {
	case err == nil:
		return dto.NewContentExportResponse(active), nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up active exports")
	}

	export := &models.ContentExport{
		ContextType:   req.ContextType,
		ContextID:     req.ContextID,
		UserID:        &userID,
		WorkflowState: models.ContentExportPending,
		Options:       models.ContentExportOptions{Manifest: req.Manifest, RequestID: requestID},
	}
	if err := s.exports.Create(ctx, export); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create content export")
	}
	if err := s.enqueue(export); err != nil {
		s.markEnqueueFailed(ctx, export.ID, models.ContentExportPending)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue content export")
	}
	s.logger.Sugar().Infow("content export requested", "export_id", export.ID, "context_type", export.ContextType, "context_id", export.ContextID, "user_id", userID)
	return dto.NewContentExportResponse(export), nil
}

// GetStatus returns progress for an export, preferring the cached snapshot
// while it runs. The boolean reports whether the cache served the response.
func (s *ContentExportService) GetStatus(ctx context.Context, id string, actor *models.User) (*dto.ContentExportResponse, bool, error) {
	if snapshot, ok := s.cachedProgress(ctx, id); ok && !snapshot.WorkflowState.Terminal() {
		if !canSee(actor, snapshot.UserID) {
			return nil, false, appErrors.ErrForbidden
		}
		return &dto.ContentExportResponse{ID: snapshot.ID, WorkflowState: snapshot.WorkflowState, Progress: snapshot.Progress}, true, nil
	}

	export, err := s.load(ctx, id, actor)
	if err != nil {
		return nil, false, err
	}
	return dto.NewContentExportResponse(export), false, nil
}

// Retry moves an errored export back to pending and enqueues it again.
func (s *ContentExportService) Retry(ctx context.Context, id string, actor *models.User) (*dto.ContentExportResponse, error) {
	export, err := s.load(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if export.WorkflowState != models.ContentExportErrored {
		return nil, appErrors.Clone(appErrors.ErrConflict, "only errored exports can be retried")
	}

	pending := models.ContentExportPending
	errored := models.ContentExportErrored
	reset := 0
	if err := s.exports.Update(ctx, id, repository.UpdateContentExportParams{
		WorkflowState: &pending,
		ExpectState:   &errored,
		Progress:      &reset,
		ClearResult:   true,
	}); err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "export changed state, reload and try again")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset content export")
	}
	s.forgetProgress(ctx, id)

	export.WorkflowState = pending
	export.Progress = 0
	export.ErrorMessage = nil
	export.FinishedAt = nil
	if err := s.enqueue(export); err != nil {
		s.markEnqueueFailed(ctx, id, pending)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue content export")
	}
	return dto.NewContentExportResponse(export), nil
}

// GetDownloadURL signs a short-lived URL for a zipped export.
func (s *ContentExportService) GetDownloadURL(ctx context.Context, id string, actor *models.User) (*dto.ContentExportDownloadURLResponse, error) {
	export, err := s.load(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if export.WorkflowState != models.ContentExportZipped {
		return nil, appErrors.ErrExportNotReady
	}
	if export.FilePath == nil || *export.FilePath == "" {
		return nil, appErrors.Clone(appErrors.ErrExportNotReady, "archive has expired")
	}
	signed, token, err := s.signer.Generate(export.ID, *export.FilePath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download url")
	}
	return &dto.ContentExportDownloadURLResponse{
		URL:       strings.TrimRight(s.cfg.APIPrefix, "/") + "/content-exports/download/" + token,
		ExpiresAt: signed.ExpiresAt,
	}, nil
}

// ResolveDownload validates a signed token and opens the published archive.
func (s *ContentExportService) ResolveDownload(ctx context.Context, token string) (*ContentDownload, error) {
	signed, err := s.signer.Parse(token)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	export, err := s.exports.GetByID(ctx, signed.ExportID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load content export")
	}
	if export.WorkflowState != models.ContentExportZipped || export.FilePath == nil {
		return nil, appErrors.ErrExportNotReady
	}
	if *export.FilePath != signed.Path {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	file, err := s.files.Open(signed.Path)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open archive")
	}

	download := &ContentDownload{File: file, Filename: path.Base(signed.Path), ExpiresAt: signed.ExpiresAt}
	if export.Filename != nil && *export.Filename != "" {
		download.Filename = *export.Filename
	}
	if export.SizeBytes != nil {
		download.SizeBytes = *export.SizeBytes
	}
	return download, nil
}

// RecoverPending requeues exports left pending, and zipping runs abandoned
// by a previous process, e.g. after a restart.
func (s *ContentExportService) RecoverPending(ctx context.Context) {
	if n, err := s.exports.ResetStale(ctx, s.now().Add(-s.cfg.StaleAfter)); err != nil {
		s.logger.Sugar().Warnw("failed to reset stale content exports", "error", err)
	} else if n > 0 {
		s.logger.Sugar().Infow("reset stale content exports", "count", n)
	}

	pending, err := s.exports.ListByState(ctx, models.ContentExportPending, 100)
	if err != nil {
		s.logger.Sugar().Warnw("failed to recover pending content exports", "error", err)
		return
	}
	for i := range pending {
		if err := s.enqueue(&pending[i]); err != nil {
			s.logger.Sugar().Warnw("failed to requeue pending content export", "export_id", pending[i].ID, "error", err)
		}
	}
}

// StartCleanup boots a goroutine that purges expired archives periodically.
func (s *ContentExportService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.CleanupExpired(ctx)
			}
		}
	}()
}

// CleanupExpired deletes archives older than the result TTL and stale workspaces.
func (s *ContentExportService) CleanupExpired(ctx context.Context) {
	cutoff := s.now().Add(-s.cfg.ResultTTL)
	for {
		expired, err := s.exports.ListFinishedBefore(ctx, cutoff, 100)
		if err != nil {
			s.logger.Sugar().Warnw("cleanup list failed", "error", err)
			return
		}
		if len(expired) == 0 {
			break
		}
		cleared := 0
		for _, export := range expired {
			if export.FilePath != nil {
				if err := s.files.Delete(*export.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
					s.logger.Sugar().Warnw("cleanup delete failed", "export_id", export.ID, "error", err)
					continue
				}
			}
			if err := s.exports.Update(ctx, export.ID, repository.UpdateContentExportParams{ClearResult: true}); err != nil {
				s.logger.Sugar().Warnw("cleanup update failed", "export_id", export.ID, "error", err)
				continue
			}
			s.forgetProgress(ctx, export.ID)
			cleared++
		}
		if len(expired) < 100 || cleared == 0 {
			break
		}
	}

	if s.workspaces != nil {
		report, err := s.workspaces.Cleanup(ctx, s.cfg.WorkspaceMaxAge)
		if err != nil {
			s.logger.Sugar().Warnw("workspace cleanup failed", "error", err)
		} else if report.DeletedDirs > 0 {
			s.logger.Sugar().Infow("removed orphaned workspaces", "count", report.DeletedDirs)
		}
	}
}

func (s *ContentExportService) authorizeContext(ctx context.Context, contextType models.ContentExportContext, contextID string, actor *models.User) error {
	var (
		resource   any
		capability models.Capability
		err        error
	)
	switch contextType {
	case models.ContentExportAssignment:
		resource, err = s.content.GetAssignment(ctx, contextID)
		capability = models.CapManageGrades
	case models.ContentExportEportfolio:
		resource, err = s.content.GetPortfolio(ctx, contextID)
		capability = models.CapReadContents
	case models.ContentExportFolder:
		resource, err = s.content.GetFolder(ctx, contextID)
		capability = models.CapReadContents
	default:
		return appErrors.Clone(appErrors.ErrValidation, "unsupported context type")
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, string(contextType)+" not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export context")
	}

	ok, err := s.oracle.Grants(ctx, actor, resource, capability)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check permissions")
	}
	if !ok {
		return appErrors.ErrForbidden
	}
	return nil
}

func (s *ContentExportService) load(ctx context.Context, id string, actor *models.User) (*models.ContentExport, error) {
	export, err := s.exports.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load content export")
	}
	if !canSee(actor, export.UserID) {
		return nil, appErrors.ErrForbidden
	}
	return export, nil
}

func (s *ContentExportService) cachedProgress(ctx context.Context, id string) (*models.ContentExportProgress, bool) {
	if s.cache == nil {
		return nil, false
	}
	start := time.Now()
	var snapshot models.ContentExportProgress
	err := s.cache.Get(ctx, progressCacheKey(id), &snapshot)
	hit := err == nil
	if s.metrics != nil {
		s.metrics.RecordCacheOperation(hit, time.Since(start))
	}
	if !hit {
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Sugar().Debugw("progress cache read failed", "export_id", id, "error", err)
		}
		return nil, false
	}
	return &snapshot, true
}

func (s *ContentExportService) forgetProgress(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, progressCacheKey(id)); err != nil {
		s.logger.Sugar().Debugw("failed to drop cached progress", "export_id", id, "error", err)
	}
}

func (s *ContentExportService) enqueue(export *models.ContentExport) error {
	return s.queue.Enqueue(jobs.Job{ID: export.ID, Type: string(export.ContextType)})
}

func (s *ContentExportService) markEnqueueFailed(ctx context.Context, id string, from models.ContentExportState) {
	errored := models.ContentExportErrored
	msg := "failed to enqueue export"
	finished := s.now()
	if err := s.exports.Update(context.WithoutCancel(ctx), id, repository.UpdateContentExportParams{
		WorkflowState: &errored,
		ExpectState:   &from,
		ErrorMessage:  &msg,
		FinishedAt:    &finished,
	}); err != nil {
		s.logger.Sugar().Warnw("failed to mark content export errored", "export_id", id, "error", err)
	}
}

func canSee(actor *models.User, owner *string) bool {
	if actor == nil {
		return false
	}
	if actor.Role.IsAdmin() {
		return true
	}
	return owner != nil && *owner == actor.ID
}
