package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-adp-archiver/internal/dto"
	"github.com/noah-isme/sma-adp-archiver/internal/middleware"
	"github.com/noah-isme/sma-adp-archiver/internal/models"
	"github.com/noah-isme/sma-adp-archiver/internal/service"
	appErrors "github.com/noah-isme/sma-adp-archiver/pkg/errors"
)

type contentExportServiceStub struct {
	requested   *dto.ContentExportRequest
	actor       *models.User
	requestErr  error
	status      *dto.ContentExportResponse
	statusHit   bool
	statusErr   error
	retryErr    error
	url         *dto.ContentExportDownloadURLResponse
	urlErr      error
	download    *service.ContentDownload
	downloadErr error
	recovered   int
	cleaned     int
}

func (s *contentExportServiceStub) RequestExport(ctx context.Context, req dto.ContentExportRequest, actor *models.User, requestID string) (*dto.ContentExportResponse, error) {
	s.requested = &req
	s.actor = actor
	if s.requestErr != nil {
		return nil, s.requestErr
	}
	return &dto.ContentExportResponse{ID: "e1", ContextType: req.ContextType, ContextID: req.ContextID, WorkflowState: models.ContentExportPending}, nil
}

func (s *contentExportServiceStub) GetStatus(ctx context.Context, id string, actor *models.User) (*dto.ContentExportResponse, bool, error) {
	return s.status, s.statusHit, s.statusErr
}

func (s *contentExportServiceStub) Retry(ctx context.Context, id string, actor *models.User) (*dto.ContentExportResponse, error) {
	if s.retryErr != nil {
		return nil, s.retryErr
	}
	return &dto.ContentExportResponse{ID: id, WorkflowState: models.ContentExportPending}, nil
}

func (s *contentExportServiceStub) GetDownloadURL(ctx context.Context, id string, actor *models.User) (*dto.ContentExportDownloadURLResponse, error) {
	return s.url, s.urlErr
}

func (s *contentExportServiceStub) ResolveDownload(ctx context.Context, token string) (*service.ContentDownload, error) {
	return s.download, s.downloadErr
}

func (s *contentExportServiceStub) RecoverPending(ctx context.Context) { s.recovered++ }

func (s *contentExportServiceStub) CleanupExpired(ctx context.Context) { s.cleaned++ }

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func withClaims(c *gin.Context, userID string, role models.UserRole) {
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: userID, Role: role})
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	return envelope
}

func TestContentExportHandlerCreate(t *testing.T) {
	svc := &contentExportServiceStub{}
	h := NewContentExportHandler(svc)

	c, w := newGinContext(http.MethodPost, "/content-exports", []byte(`{"contextType":"folder","contextId":"f1"}`))
	withClaims(c, "u1", models.RoleTeacher)
	h.Create(c)

	require.Equal(t, http.StatusAccepted, w.Code)
	require.NotNil(t, svc.actor)
	assert.Equal(t, "u1", svc.actor.ID)
	assert.Equal(t, models.ContentExportFolder, svc.requested.ContextType)

	data := decodeEnvelope(t, w)["data"].(map[string]any)
	assert.Equal(t, "e1", data["id"])
	assert.Equal(t, "pending", data["workflowState"])
}

func TestContentExportHandlerCreateRejectsBadInput(t *testing.T) {
	svc := &contentExportServiceStub{}
	h := NewContentExportHandler(svc)

	c, w := newGinContext(http.MethodPost, "/content-exports", []byte(`{"contextType":"folder","contextId":"f1"}`))
	h.Create(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	c, w = newGinContext(http.MethodPost, "/content-exports", []byte(`{not json`))
	withClaims(c, "u1", models.RoleTeacher)
	h.Create(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, svc.requested)

	svc.requestErr = appErrors.ErrForbidden
	c, w = newGinContext(http.MethodPost, "/content-exports", []byte(`{"contextType":"assignment","contextId":"as1"}`))
	withClaims(c, "u1", models.RoleStudent)
	h.Create(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestContentExportHandlerStatusSetsCacheMeta(t *testing.T) {
	svc := &contentExportServiceStub{
		status:    &dto.ContentExportResponse{ID: "e1", WorkflowState: models.ContentExportZipping, Progress: 40},
		statusHit: true,
	}
	h := NewContentExportHandler(svc)

	c, w := newGinContext(http.MethodGet, "/content-exports/e1", nil)
	c.Params = gin.Params{{Key: "id", Value: "e1"}}
	withClaims(c, "u1", models.RoleStudent)
	h.Status(c)

	require.Equal(t, http.StatusOK, w.Code)
	envelope := decodeEnvelope(t, w)
	assert.Equal(t, "cache", envelope["meta"].(map[string]any)["progress_source"])
	assert.EqualValues(t, 40, envelope["data"].(map[string]any)["progress"])
}

func TestContentExportHandlerRetryConflict(t *testing.T) {
	svc := &contentExportServiceStub{retryErr: appErrors.Clone(appErrors.ErrConflict, "only errored exports can be retried")}
	h := NewContentExportHandler(svc)

	c, w := newGinContext(http.MethodPost, "/content-exports/e1/retry", nil)
	c.Params = gin.Params{{Key: "id", Value: "e1"}}
	withClaims(c, "u1", models.RoleStudent)
	h.Retry(c)

	assert.Equal(t, http.StatusConflict, w.Code)
	errBody := decodeEnvelope(t, w)["error"].(map[string]any)
	assert.Equal(t, "CONFLICT", errBody["code"])
}

func TestContentExportHandlerDownloadURLNotReady(t *testing.T) {
	svc := &contentExportServiceStub{urlErr: appErrors.ErrExportNotReady}
	h := NewContentExportHandler(svc)

	c, w := newGinContext(http.MethodGet, "/content-exports/e1/download-url", nil)
	c.Params = gin.Params{{Key: "id", Value: "e1"}}
	withClaims(c, "u1", models.RoleStudent)
	h.DownloadURL(c)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "EXPORT_NOT_READY", decodeEnvelope(t, w)["error"].(map[string]any)["code"])
}

func TestContentExportHandlerDownloadStreamsArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.zip")
	require.NoError(t, os.WriteFile(path, []byte("PK fake"), 0o600))
	file, err := os.Open(path)
	require.NoError(t, err)

	svc := &contentExportServiceStub{download: &service.ContentDownload{File: file, Filename: "BIO101-files.zip"}}
	h := NewContentExportHandler(svc)

	c, w := newGinContext(http.MethodGet, "/content-exports/download/tok", nil)
	c.Params = gin.Params{{Key: "token", Value: "tok"}}
	h.Download(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="BIO101-files.zip"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "PK fake", w.Body.String())
}

func TestContentExportHandlerDownloadRejectsBadToken(t *testing.T) {
	svc := &contentExportServiceStub{downloadErr: appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")}
	h := NewContentExportHandler(svc)

	c, w := newGinContext(http.MethodGet, "/content-exports/download/bad", nil)
	c.Params = gin.Params{{Key: "token", Value: "bad"}}
	h.Download(c)
	assert.Equal(t, http.StatusForbidden, w.Code)

	c, w = newGinContext(http.MethodGet, "/content-exports/download/", nil)
	h.Download(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestContentExportHandlerMaintenance(t *testing.T) {
	svc := &contentExportServiceStub{}
	h := NewContentExportHandler(svc)

	c, w := newGinContext(http.MethodPost, "/content-exports/maintenance/recover", nil)
	h.Recover(c)
	assert.Equal(t, http.StatusAccepted, w.Code)

	c, w = newGinContext(http.MethodPost, "/content-exports/maintenance/cleanup", nil)
	h.Cleanup(c)
	assert.Equal(t, http.StatusAccepted, w.Code)

	assert.Equal(t, 1, svc.recovered)
	assert.Equal(t, 1, svc.cleaned)
}
