package service

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-adp-archiver/internal/dto"
	"github.com/noah-isme/sma-adp-archiver/internal/models"
	appErrors "github.com/noah-isme/sma-adp-archiver/pkg/errors"
	"github.com/noah-isme/sma-adp-archiver/pkg/jobs"
	"github.com/noah-isme/sma-adp-archiver/pkg/storage"
	"github.com/noah-isme/sma-adp-archiver/pkg/workspace"
)

type queueStub struct {
	mu   sync.Mutex
	jobs []jobs.Job
	err  error
}

func (q *queueStub) Enqueue(job jobs.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type cacheRecorderStub struct {
	hits   int
	misses int
}

func (r *cacheRecorderStub) RecordCacheOperation(hit bool, duration time.Duration) {
	if hit {
		r.hits++
		return
	}
	r.misses++
}

type workspaceCleanerStub struct {
	calls     int
	olderThan time.Duration
}

func (w *workspaceCleanerStub) Cleanup(ctx context.Context, olderThan time.Duration) (workspace.CleanupReport, error) {
	w.calls++
	w.olderThan = olderThan
	return workspace.CleanupReport{DeletedDirs: 1}, nil
}

type exportServiceFixture struct {
	svc        *ContentExportService
	exports    *exportStoreStub
	content    *contentStoreStub
	queue      *queueStub
	cache      *memoryCache
	files      *storage.LocalStorage
	filesDir   string
	workspaces *workspaceCleanerStub
	recorder   *cacheRecorderStub
}

var (
	teacherUser = &models.User{ID: "teacher", Role: models.RoleTeacher}
	studentUser = &models.User{ID: "student", Role: models.RoleStudent}
	adminUser   = &models.User{ID: "admin", Role: models.RoleAdmin}
)

func newExportServiceFixture(t *testing.T) *exportServiceFixture {
	t.Helper()
	filesDir := t.TempDir()
	files, err := storage.NewLocalStorage(filesDir)
	require.NoError(t, err)

	f := &exportServiceFixture{
		exports:    newExportStoreStub(),
		content:    newContentStoreStub(),
		queue:      &queueStub{},
		cache:      newMemoryCache(),
		files:      files,
		filesDir:   filesDir,
		workspaces: &workspaceCleanerStub{},
		recorder:   &cacheRecorderStub{},
	}
	f.content.courses["c1"] = &models.Course{ID: "c1", ShortName: "BIO101"}
	f.content.assignments["as1"] = &models.Assignment{ID: "as1", CourseID: "c1", Title: "Lab"}
	f.content.portfolios["p1"] = &models.Portfolio{ID: "p1", UserID: "student", Name: "Mine"}
	f.content.addFolder(models.Folder{ID: "f1", CourseID: "c1", Name: "files"})

	members := membershipStub{
		"c1|teacher": {models.EnrollmentTeacher},
		"c1|student": {models.EnrollmentStudent},
	}
	f.svc = NewContentExportService(ContentExportServiceDeps{
		Exports:    f.exports,
		Content:    f.content,
		Oracle:     NewPermissionService(members, PermissionServiceConfig{}, zap.NewNop()),
		Queue:      f.queue,
		Cache:      f.cache,
		Files:      files,
		Workspaces: f.workspaces,
		Signer:     storage.NewSignedURLSigner("test-secret", time.Minute),
		Metrics:    f.recorder,
	}, nil, ContentExportServiceConfig{APIPrefix: "/api/v1/"}, zap.NewNop())
	return f
}

func (f *exportServiceFixture) publish(t *testing.T, export *models.ContentExport, body string) {
	t.Helper()
	local := filepath.Join(t.TempDir(), "archive.zip")
	require.NoError(t, os.WriteFile(local, []byte(body), 0o600))
	result, err := f.files.Publish(context.Background(), local, "content_exports/"+export.ID+"/archive.zip")
	require.NoError(t, err)

	name := "archive.zip"
	finished := time.Now().UTC()
	export.WorkflowState = models.ContentExportZipped
	export.Progress = 100
	export.FilePath = &result.Path
	export.Filename = &name
	export.SizeBytes = &result.Size
	export.Checksum = &result.Checksum
	export.FinishedAt = &finished
}

func TestRequestExportCreatesAndEnqueues(t *testing.T) {
	f := newExportServiceFixture(t)

	resp, err := f.svc.RequestExport(context.Background(), dto.ContentExportRequest{
		ContextType: models.ContentExportAssignment,
		ContextID:   " as1 ",
		Manifest:    "csv",
	}, teacherUser, "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.ContentExportPending, resp.WorkflowState)
	assert.Equal(t, "as1", resp.ContextID)

	stored := f.exports.get(resp.ID)
	require.NotNil(t, stored.UserID)
	assert.Equal(t, "teacher", *stored.UserID)
	assert.Equal(t, "csv", stored.Options.Manifest)
	assert.Equal(t, "req-1", stored.Options.RequestID)
	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, jobs.Job{ID: resp.ID, Type: "assignment"}, f.queue.jobs[0])
}

func TestRequestExportReusesActiveExport(t *testing.T) {
	f := newExportServiceFixture(t)
	req := dto.ContentExportRequest{ContextType: models.ContentExportFolder, ContextID: "f1"}

	first, err := f.svc.RequestExport(context.Background(), req, studentUser, "")
	require.NoError(t, err)
	second, err := f.svc.RequestExport(context.Background(), req, studentUser, "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, f.queue.jobs, 1)

	other, err := f.svc.RequestExport(context.Background(), req, teacherUser, "")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestRequestExportRejections(t *testing.T) {
	f := newExportServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.RequestExport(ctx, dto.ContentExportRequest{ContextType: models.ContentExportAssignment, ContextID: "as1"}, nil, "")
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	_, err = f.svc.RequestExport(ctx, dto.ContentExportRequest{ContextType: "course", ContextID: "c1"}, teacherUser, "")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.RequestExport(ctx, dto.ContentExportRequest{ContextType: models.ContentExportFolder, ContextID: "f1", Manifest: "xlsx"}, teacherUser, "")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.RequestExport(ctx, dto.ContentExportRequest{ContextType: models.ContentExportFolder, ContextID: " \t "}, teacherUser, "")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.RequestExport(ctx, dto.ContentExportRequest{ContextType: models.ContentExportAssignment, ContextID: "as1"}, studentUser, "")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = f.svc.RequestExport(ctx, dto.ContentExportRequest{ContextType: models.ContentExportEportfolio, ContextID: "p1"}, teacherUser, "")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = f.svc.RequestExport(ctx, dto.ContentExportRequest{ContextType: models.ContentExportFolder, ContextID: "nope"}, teacherUser, "")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	assert.Empty(t, f.queue.jobs)
}

func TestRequestExportMarksEnqueueFailure(t *testing.T) {
	f := newExportServiceFixture(t)
	f.queue.err = errors.New("queue is full")

	_, err := f.svc.RequestExport(context.Background(), dto.ContentExportRequest{ContextType: models.ContentExportEportfolio, ContextID: "p1"}, studentUser, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrInternal)

	errored, _ := f.exports.ListByState(context.Background(), models.ContentExportErrored, 10)
	require.Len(t, errored, 1)
	require.NotNil(t, errored[0].ErrorMessage)
	assert.Equal(t, "failed to enqueue export", *errored[0].ErrorMessage)
}

func TestGetStatusPrefersRunningSnapshot(t *testing.T) {
	f := newExportServiceFixture(t)
	owner := "student"
	export := f.exports.add(&models.ContentExport{ContextType: models.ContentExportEportfolio, ContextID: "p1", UserID: &owner, WorkflowState: models.ContentExportZipping, Progress: 10})
	require.NoError(t, f.cache.Set(context.Background(), progressCacheKey(export.ID), models.ContentExportProgress{
		ID: export.ID, UserID: &owner, WorkflowState: models.ContentExportZipping, Progress: 55,
	}, time.Minute))

	resp, hit, err := f.svc.GetStatus(context.Background(), export.ID, studentUser)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 55, resp.Progress)
	assert.Equal(t, 1, f.recorder.hits)

	_, _, err = f.svc.GetStatus(context.Background(), export.ID, teacherUser)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	resp, hit, err = f.svc.GetStatus(context.Background(), export.ID, adminUser)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 55, resp.Progress)
}

func TestGetStatusFallsBackToStore(t *testing.T) {
	f := newExportServiceFixture(t)
	owner := "student"
	export := f.exports.add(&models.ContentExport{ContextType: models.ContentExportEportfolio, ContextID: "p1", UserID: &owner})

	resp, hit, err := f.svc.GetStatus(context.Background(), export.ID, studentUser)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, models.ContentExportPending, resp.WorkflowState)
	assert.Equal(t, 1, f.recorder.misses)

	f.publish(t, f.exports.exports[export.ID], "zip")
	require.NoError(t, f.cache.Set(context.Background(), progressCacheKey(export.ID), models.ContentExportProgress{
		ID: export.ID, UserID: &owner, WorkflowState: models.ContentExportZipped, Progress: 100,
	}, time.Minute))
	resp, hit, err = f.svc.GetStatus(context.Background(), export.ID, studentUser)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, models.ContentExportZipped, resp.WorkflowState)
	require.NotNil(t, resp.Filename)
	assert.Equal(t, "archive.zip", *resp.Filename)

	_, _, err = f.svc.GetStatus(context.Background(), "missing", studentUser)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestRetryRequeuesErroredExport(t *testing.T) {
	f := newExportServiceFixture(t)
	owner := "teacher"
	msg := "boom"
	finished := time.Now()
	export := f.exports.add(&models.ContentExport{
		ContextType:   models.ContentExportAssignment,
		ContextID:     "as1",
		UserID:        &owner,
		WorkflowState: models.ContentExportErrored,
		Progress:      40,
		Attempts:      1,
		ErrorMessage:  &msg,
		FinishedAt:    &finished,
	})

	resp, err := f.svc.Retry(context.Background(), export.ID, teacherUser)
	require.NoError(t, err)
	assert.Equal(t, models.ContentExportPending, resp.WorkflowState)
	assert.Nil(t, resp.Error)

	stored := f.exports.get(export.ID)
	assert.Equal(t, models.ContentExportPending, stored.WorkflowState)
	assert.Equal(t, 0, stored.Progress)
	assert.Equal(t, 1, stored.Attempts)
	assert.Nil(t, stored.ErrorMessage)
	assert.Nil(t, stored.FinishedAt)
	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, export.ID, f.queue.jobs[0].ID)
	assert.Contains(t, f.cache.deleted, progressCacheKey(export.ID))

	_, err = f.svc.Retry(context.Background(), export.ID, teacherUser)
	assert.ErrorIs(t, err, appErrors.ErrConflict)
}

func TestRetryRequiresOwnership(t *testing.T) {
	f := newExportServiceFixture(t)
	owner := "teacher"
	export := f.exports.add(&models.ContentExport{ContextType: models.ContentExportAssignment, ContextID: "as1", UserID: &owner, WorkflowState: models.ContentExportErrored})

	_, err := f.svc.Retry(context.Background(), export.ID, studentUser)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	assert.Empty(t, f.queue.jobs)
}

func TestDownloadURLRoundTrip(t *testing.T) {
	f := newExportServiceFixture(t)
	owner := "student"
	export := f.exports.add(&models.ContentExport{ContextType: models.ContentExportEportfolio, ContextID: "p1", UserID: &owner})

	_, err := f.svc.GetDownloadURL(context.Background(), export.ID, studentUser)
	assert.ErrorIs(t, err, appErrors.ErrExportNotReady)

	f.publish(t, f.exports.exports[export.ID], "zip bytes")

	link, err := f.svc.GetDownloadURL(context.Background(), export.ID, studentUser)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(link.URL, "/api/v1/content-exports/download/"), link.URL)
	assert.True(t, link.ExpiresAt.After(time.Now()))

	token := strings.TrimPrefix(link.URL, "/api/v1/content-exports/download/")
	download, err := f.svc.ResolveDownload(context.Background(), token)
	require.NoError(t, err)
	defer download.File.Close()
	body, err := io.ReadAll(download.File)
	require.NoError(t, err)
	assert.Equal(t, "zip bytes", string(body))
	assert.Equal(t, "archive.zip", download.Filename)
	assert.Equal(t, int64(len("zip bytes")), download.SizeBytes)

	_, err = f.svc.ResolveDownload(context.Background(), token+"x")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = f.svc.GetDownloadURL(context.Background(), export.ID, teacherUser)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestResolveDownloadRejectsExpiredArchive(t *testing.T) {
	f := newExportServiceFixture(t)
	owner := "student"
	export := f.exports.add(&models.ContentExport{ContextType: models.ContentExportEportfolio, ContextID: "p1", UserID: &owner})
	f.publish(t, f.exports.exports[export.ID], "zip")

	link, err := f.svc.GetDownloadURL(context.Background(), export.ID, studentUser)
	require.NoError(t, err)
	token := strings.TrimPrefix(link.URL, "/api/v1/content-exports/download/")

	f.exports.exports[export.ID].FilePath = nil
	_, err = f.svc.ResolveDownload(context.Background(), token)
	assert.ErrorIs(t, err, appErrors.ErrExportNotReady)

	_, err = f.svc.GetDownloadURL(context.Background(), export.ID, studentUser)
	assert.ErrorIs(t, err, appErrors.ErrExportNotReady)
}

func TestRecoverPendingRequeues(t *testing.T) {
	f := newExportServiceFixture(t)
	pending := f.exports.add(&models.ContentExport{ContextType: models.ContentExportFolder, ContextID: "f1"})
	f.exports.add(&models.ContentExport{ContextType: models.ContentExportFolder, ContextID: "f1", WorkflowState: models.ContentExportZipped})

	f.svc.RecoverPending(context.Background())
	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, jobs.Job{ID: pending.ID, Type: "folder"}, f.queue.jobs[0])
}

func TestCleanupExpiredRemovesArchives(t *testing.T) {
	f := newExportServiceFixture(t)
	old := f.exports.add(&models.ContentExport{ContextType: models.ContentExportFolder, ContextID: "f1"})
	fresh := f.exports.add(&models.ContentExport{ContextType: models.ContentExportFolder, ContextID: "f1"})
	f.publish(t, f.exports.exports[old.ID], "old")
	f.publish(t, f.exports.exports[fresh.ID], "fresh")
	longAgo := time.Now().Add(-8 * 24 * time.Hour)
	f.exports.exports[old.ID].FinishedAt = &longAgo
	oldPath := filepath.Join(f.filesDir, filepath.FromSlash(*f.exports.exports[old.ID].FilePath))
	require.FileExists(t, oldPath)

	f.svc.CleanupExpired(context.Background())

	stored := f.exports.get(old.ID)
	assert.Equal(t, models.ContentExportZipped, stored.WorkflowState)
	assert.Nil(t, stored.FilePath)
	_, err := os.Stat(oldPath)
	assert.True(t, os.IsNotExist(err))
	assert.Contains(t, f.cache.deleted, progressCacheKey(old.ID))

	assert.NotNil(t, f.exports.get(fresh.ID).FilePath)
	assert.Equal(t, 1, f.workspaces.calls)
	assert.Equal(t, 6*time.Hour, f.workspaces.olderThan)
}
