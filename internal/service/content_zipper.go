package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-adp-archiver/internal/models"
	"github.com/noah-isme/sma-adp-archiver/internal/repository"
	"github.com/noah-isme/sma-adp-archiver/pkg/export"
	"github.com/noah-isme/sma-adp-archiver/pkg/logger"
	"github.com/noah-isme/sma-adp-archiver/pkg/storage"
	"github.com/noah-isme/sma-adp-archiver/pkg/workspace"
	"github.com/noah-isme/sma-adp-archiver/pkg/zipfile"
)

var (
	// ErrEntrySkipped wraps failures that only drop a single entry.
	ErrEntrySkipped = errors.New("archive entry skipped")
	// ErrNoEntries means the run produced nothing worth publishing.
	ErrNoEntries = errors.New("no entries were added to the archive")
	// ErrPublishFailed means storage rejected the finished archive.
	ErrPublishFailed = errors.New("archive publish failed")
)

const publishedPrefix = "content_exports"

type zipExportStore interface {
	GetByID(ctx context.Context, id string) (*models.ContentExport, error)
	Claim(ctx context.Context, id string) (bool, error)
	UpdateProgress(ctx context.Context, id string, progress int) error
	Update(ctx context.Context, id string, params repository.UpdateContentExportParams) error
}

type zipContentStore interface {
	GetCourse(ctx context.Context, id string) (*models.Course, error)
	GetAssignment(ctx context.Context, id string) (*models.Assignment, error)
	ListSubmissions(ctx context.Context, assignmentID string) ([]models.Submission, error)
	ListSubmissionAttachments(ctx context.Context, submissionID string) ([]models.Attachment, error)
	GetPortfolio(ctx context.Context, id string) (*models.Portfolio, error)
	ListPortfolioEntries(ctx context.Context, portfolioID string) ([]models.PortfolioEntry, error)
	ListEntryAttachments(ctx context.Context, entryID string) ([]models.Attachment, error)
	ListEntrySubmissions(ctx context.Context, entryID string) ([]models.Submission, error)
	GetFolder(ctx context.Context, id string) (*models.Folder, error)
	folderContentStore
}

type userLoader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type capabilityOracle interface {
	Grants(ctx context.Context, user *models.User, resource any, capability models.Capability) (bool, error)
}

type archivePublisher interface {
	Publish(ctx context.Context, localPath, relPath string) (*storage.PublishResult, error)
	Delete(key string) error
}

type workspaceProvider interface {
	Acquire(ctx context.Context, jobID string) (*workspace.Workspace, error)
}

// ManifestRenderer renders the archive listing in one format.
type ManifestRenderer interface {
	Render(data export.Dataset) ([]byte, error)
	Extension() string
}

type exportRecorder interface {
	ObserveContentExport(contextType string, state string, duration time.Duration)
	AddContentExportEntries(contextType string, written, skipped int)
}

// ContentZipperConfig tunes archive assembly.
type ContentZipperConfig struct {
	CompressionLevel int
	DefaultManifest  string
	ProgressCacheTTL time.Duration
	// StaticAssets holds stylesheets/static/eportfolio_static.css and images/logo.png.
	StaticAssets fs.FS
}

// ContentZipperDeps groups the collaborators of ContentZipper.
type ContentZipperDeps struct {
	Exports    zipExportStore
	Content    zipContentStore
	Users      userLoader
	Oracle     capabilityOracle
	Renderer   templateRenderer
	Blobs      blobOpener
	Publisher  archivePublisher
	Workspaces workspaceProvider
	Cache      progressCache
	Manifests  map[string]ManifestRenderer
	Metrics    exportRecorder
}

// ContentZipper runs archive jobs: it walks the requested content, streams it
// into a zip inside a private workspace and publishes the result.
type ContentZipper struct {
	deps   ContentZipperDeps
	walker *FolderWalker
	cfg    ContentZipperConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewContentZipper constructs the zipper.
func NewContentZipper(deps ContentZipperDeps, cfg ContentZipperConfig, log *zap.Logger) *ContentZipper {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.ProgressCacheTTL <= 0 {
		cfg.ProgressCacheTTL = 10 * time.Minute
	}
	return &ContentZipper{
		deps:   deps,
		walker: NewFolderWalker(deps.Content, deps.Oracle, deps.Blobs, log),
		cfg:    cfg,
		logger: log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Walker exposes the folder walker so callers can attach a restricted-folder hook.
func (z *ContentZipper) Walker() *FolderWalker { return z.walker }

// Process claims a pending export and runs it to a terminal state, or back
// to pending when shutdown cancels ctx mid-run. The
// returned error only reports that the run could not start; failures
// during the run are recorded on the export and never returned.
func (z *ContentZipper) Process(ctx context.Context, exportID string) (models.ContentExportState, error) {
	job, err := z.deps.Exports.GetByID(ctx, exportID)
	if err != nil {
		return "", fmt.Errorf("load content export %s: %w", exportID, err)
	}
	claimed, err := z.deps.Exports.Claim(ctx, exportID)
	if err != nil {
		return "", fmt.Errorf("claim content export %s: %w", exportID, err)
	}
	if !claimed {
		z.logger.Sugar().Infow("content export not pending, skipping", "export_id", exportID, "state", job.WorkflowState)
		return job.WorkflowState, nil
	}
	job.WorkflowState = models.ContentExportZipping
	job.Progress = 0
	job.Attempts++

	start := time.Now()
	state := z.run(ctx, job)
	if z.deps.Metrics != nil {
		z.deps.Metrics.ObserveContentExport(string(job.ContextType), string(state), time.Since(start))
	}
	return state, nil
}

type runStats struct {
	written int
	skipped int
	current string
}

type emitFunc func(entry ContentEntry) (bool, error)

type archivePlan struct {
	name    string
	title   string
	produce func(ctx context.Context, emit emitFunc) error
}

func (z *ContentZipper) run(ctx context.Context, job *models.ContentExport) (state models.ContentExportState) {
	log := logger.ForExport(z.logger, job.ID, string(job.ContextType), job.ContextID)
	progress := newProgressReporter(job, z.deps.Exports, z.deps.Cache, z.cfg.ProgressCacheTTL, log)
	stats := &runStats{}

	defer func() {
		if r := recover(); r != nil {
			state = z.fail(ctx, job, progress, fmt.Errorf("panic: %v", r), stats.current, log)
		}
		if z.deps.Metrics != nil {
			z.deps.Metrics.AddContentExportEntries(string(job.ContextType), stats.written, stats.skipped)
		}
	}()

	requester, err := z.loadRequester(ctx, job)
	if err != nil {
		return z.fail(ctx, job, progress, err, "", log)
	}

	plan, err := z.plan(ctx, job, requester, progress)
	if err != nil {
		return z.fail(ctx, job, progress, err, "", log)
	}

	ws, err := z.deps.Workspaces.Acquire(ctx, job.ID)
	if err != nil {
		return z.fail(ctx, job, progress, err, "", log)
	}
	defer func() {
		if err := ws.Release(); err != nil {
			log.Warn("failed to release workspace", zap.Error(err))
		}
	}()

	sink, err := zipfile.Create(ws.Dir, plan.name+".zip", zipfile.WithLevel(z.cfg.CompressionLevel))
	if err != nil {
		return z.fail(ctx, job, progress, err, "", log)
	}
	defer sink.Abort()

	names := zipfile.NewNameRegistry()
	emit := func(entry ContentEntry) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		name := names.Allocate(entry.Name)
		stats.current = name
		err := z.writeEntry(ctx, sink, name, entry)
		stats.current = ""
		switch {
		case err == nil:
			stats.written++
			return true, nil
		case errors.Is(err, ErrEntrySkipped):
			stats.skipped++
			log.Warn("skipping archive entry", zap.String("entry", name), zap.String("origin", entry.Origin), zap.Error(err))
			return false, nil
		default:
			stats.current = name
			return false, err
		}
	}

	if err := plan.produce(ctx, emit); err != nil {
		return z.fail(ctx, job, progress, err, stats.current, log)
	}
	if sink.Len() == 0 {
		return z.fail(ctx, job, progress, ErrNoEntries, "", log)
	}

	z.writeManifest(ctx, job, plan, sink, names, log)

	localPath, err := sink.Close()
	if err != nil {
		return z.fail(ctx, job, progress, err, "", log)
	}

	filename := plan.name + ".zip"
	published, err := z.deps.Publisher.Publish(ctx, localPath, path.Join(publishedPrefix, job.ID, filename))
	if err != nil {
		return z.fail(ctx, job, progress, fmt.Errorf("%w: %v", ErrPublishFailed, err), "", log)
	}

	zipped := models.ContentExportZipped
	zipping := models.ContentExportZipping
	full := 100
	finished := z.now()
	if err := z.deps.Exports.Update(context.WithoutCancel(ctx), job.ID, repository.UpdateContentExportParams{
		WorkflowState: &zipped,
		ExpectState:   &zipping,
		Progress:      &full,
		FilePath:      &published.Path,
		Filename:      &filename,
		SizeBytes:     &published.Size,
		Checksum:      &published.Checksum,
		FinishedAt:    &finished,
	}); err != nil {
		if delErr := z.deps.Publisher.Delete(published.Path); delErr != nil {
			log.Warn("failed to remove unreferenced archive", zap.String("path", published.Path), zap.Error(delErr))
		}
		return z.fail(ctx, job, progress, fmt.Errorf("mark zipped: %w", err), "", log)
	}
	progress.Finish(ctx, zipped)
	log.Info("content export zipped",
		zap.Int("entries", stats.written),
		zap.Int("skipped", stats.skipped),
		zap.Int64("size_bytes", published.Size),
	)
	return zipped
}

func (z *ContentZipper) plan(ctx context.Context, job *models.ContentExport, requester *models.User, progress *ProgressReporter) (*archivePlan, error) {
	switch job.ContextType {
	case models.ContentExportAssignment:
		return z.planAssignment(ctx, job, progress)
	case models.ContentExportEportfolio:
		return z.planPortfolio(ctx, job, progress)
	case models.ContentExportFolder:
		return z.planFolder(ctx, job, requester, progress)
	default:
		return nil, fmt.Errorf("unsupported context type %q", job.ContextType)
	}
}

func (z *ContentZipper) writeEntry(ctx context.Context, sink *zipfile.Writer, name string, entry ContentEntry) error {
	rc, err := entry.Source.Open(ctx)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrEntrySkipped, entry.Origin, err)
	}
	defer rc.Close() //nolint:errcheck

	if _, err := sink.Write(name, rc); err != nil {
		if zipfile.IsSourceError(err) {
			return fmt.Errorf("%w: %v", ErrEntrySkipped, err)
		}
		return err
	}
	return nil
}

func (z *ContentZipper) loadRequester(ctx context.Context, job *models.ContentExport) (*models.User, error) {
	if job.UserID == nil {
		return nil, nil
	}
	user, err := z.deps.Users.FindByID(ctx, *job.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("requester %s no longer exists", *job.UserID)
		}
		return nil, fmt.Errorf("load requester: %w", err)
	}
	return user, nil
}

func (z *ContentZipper) writeManifest(ctx context.Context, job *models.ContentExport, plan *archivePlan, sink *zipfile.Writer, names *zipfile.NameRegistry, log *zap.Logger) {
	format := job.Options.Manifest
	if format == "" {
		format = z.cfg.DefaultManifest
	}
	if format == "" {
		return
	}
	renderer, ok := z.deps.Manifests[format]
	if !ok {
		log.Warn("unknown manifest format", zap.String("format", format))
		return
	}

	data := export.Dataset{Title: plan.title, Headers: []string{"name", "size_bytes", "crc32", "modified"}}
	for _, e := range sink.Entries() {
		data.Rows = append(data.Rows, map[string]string{
			"name":       e.Name,
			"size_bytes": strconv.FormatInt(e.Size, 10),
			"crc32":      fmt.Sprintf("%08x", e.CRC32),
			"modified":   e.Modified.UTC().Format(time.RFC3339),
		})
	}
	body, err := renderer.Render(data)
	if err != nil {
		log.Warn("failed to render manifest", zap.Error(err))
		return
	}
	name := names.Allocate("manifest." + renderer.Extension())
	if err := z.writeEntry(ctx, sink, name, ContentEntry{Name: name, Source: bytesSource(body), Origin: "manifest"}); err != nil {
		log.Warn("failed to add manifest", zap.Error(err))
	}
}

func (z *ContentZipper) fail(ctx context.Context, job *models.ContentExport, progress *ProgressReporter, cause error, entry string, log *zap.Logger) models.ContentExportState {
	if errors.Is(cause, context.Canceled) && ctx.Err() != nil {
		return z.interrupt(ctx, job, log)
	}

	fields := []zap.Field{zap.Error(cause), zap.Int("attempt", job.Attempts), zap.Int("progress", progress.Last())}
	if entry != "" {
		fields = append(fields, zap.String("entry", entry))
	}
	log.Error("content export failed", fields...)

	errored := models.ContentExportErrored
	zipping := models.ContentExportZipping
	msg := cause.Error()
	finished := z.now()
	if err := z.deps.Exports.Update(context.WithoutCancel(ctx), job.ID, repository.UpdateContentExportParams{
		WorkflowState: &errored,
		ExpectState:   &zipping,
		ErrorMessage:  &msg,
		FinishedAt:    &finished,
	}); err != nil {
		log.Error("failed to mark content export errored", zap.Error(err))
	}
	progress.Finish(context.WithoutCancel(ctx), errored)
	return errored
}

// interrupt hands a run cut short by shutdown back to pending so recovery picks it up.
func (z *ContentZipper) interrupt(ctx context.Context, job *models.ContentExport, log *zap.Logger) models.ContentExportState {
	pending := models.ContentExportPending
	zipping := models.ContentExportZipping
	reset := 0
	if err := z.deps.Exports.Update(context.WithoutCancel(ctx), job.ID, repository.UpdateContentExportParams{
		WorkflowState: &pending,
		ExpectState:   &zipping,
		Progress:      &reset,
	}); err != nil {
		log.Error("failed to requeue interrupted content export", zap.Error(err))
		return zipping
	}
	log.Warn("content export interrupted, left pending for recovery", zap.Int("attempt", job.Attempts))
	return pending
}
