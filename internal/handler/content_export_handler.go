package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-adp-archiver/internal/dto"
	"github.com/noah-isme/sma-adp-archiver/internal/middleware"
	"github.com/noah-isme/sma-adp-archiver/internal/models"
	"github.com/noah-isme/sma-adp-archiver/internal/service"
	appErrors "github.com/noah-isme/sma-adp-archiver/pkg/errors"
	"github.com/noah-isme/sma-adp-archiver/pkg/middleware/requestid"
	"github.com/noah-isme/sma-adp-archiver/pkg/response"
)

type contentExportService interface {
	RequestExport(ctx context.Context, req dto.ContentExportRequest, actor *models.User, requestID string) (*dto.ContentExportResponse, error)
	GetStatus(ctx context.Context, id string, actor *models.User) (*dto.ContentExportResponse, bool, error)
	Retry(ctx context.Context, id string, actor *models.User) (*dto.ContentExportResponse, error)
	GetDownloadURL(ctx context.Context, id string, actor *models.User) (*dto.ContentExportDownloadURLResponse, error)
	ResolveDownload(ctx context.Context, token string) (*service.ContentDownload, error)
	RecoverPending(ctx context.Context)
	CleanupExpired(ctx context.Context)
}

// ContentExportHandler exposes content export endpoints.
type ContentExportHandler struct {
	service contentExportService
}

// NewContentExportHandler constructs the handler.
func NewContentExportHandler(service contentExportService) *ContentExportHandler {
	return &ContentExportHandler{service: service}
}

// Create godoc
// @Summary Request a content export
// @Tags ContentExports
// @Accept json
// @Produce json
// @Param payload body dto.ContentExportRequest true "Export context"
// @Success 202 {object} response.Envelope
// @Router /content-exports [post]
func (h *ContentExportHandler) Create(c *gin.Context) {
	actor := actorFromContext(c)
	if actor == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ContentExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid content export payload"))
		return
	}
	resp, err := h.service.RequestExport(c.Request.Context(), req, actor, requestid.Value(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, resp, nil)
}

// Status godoc
// @Summary Content export status
// @Tags ContentExports
// @Produce json
// @Param id path string true "Export ID"
// @Success 200 {object} response.Envelope
// @Router /content-exports/{id} [get]
func (h *ContentExportHandler) Status(c *gin.Context) {
	actor := actorFromContext(c)
	if actor == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	resp, cacheHit, err := h.service.GetStatus(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetProgressSource(c, cacheHit)
	response.JSON(c, http.StatusOK, resp, nil, middleware.ExtractMeta(c))
}

// Retry godoc
// @Summary Retry an errored content export
// @Tags ContentExports
// @Produce json
// @Param id path string true "Export ID"
// @Success 202 {object} response.Envelope
// @Router /content-exports/{id}/retry [post]
func (h *ContentExportHandler) Retry(c *gin.Context) {
	actor := actorFromContext(c)
	if actor == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	resp, err := h.service.Retry(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, resp, nil)
}

// DownloadURL godoc
// @Summary Signed download URL for a zipped export
// @Tags ContentExports
// @Produce json
// @Param id path string true "Export ID"
// @Success 200 {object} response.Envelope
// @Router /content-exports/{id}/download-url [get]
func (h *ContentExportHandler) DownloadURL(c *gin.Context) {
	actor := actorFromContext(c)
	if actor == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	resp, err := h.service.GetDownloadURL(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, nil)
}

// Download godoc
// @Summary Download a zipped export via signed token
// @Tags ContentExports
// @Produce application/zip
// @Param token path string true "Signed token"
// @Success 200 {file} binary
// @Router /content-exports/download/{token} [get]
func (h *ContentExportHandler) Download(c *gin.Context) {
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	result, err := h.service.ResolveDownload(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer result.File.Close() //nolint:errcheck

	size := result.SizeBytes
	if size <= 0 {
		if info, err := result.File.Stat(); err == nil {
			size = info.Size()
		}
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, size, "application/zip", result.File, nil)
}

// Recover godoc
// @Summary Requeue pending content exports
// @Tags ContentExports
// @Produce json
// @Success 202 {object} response.Envelope
// @Router /content-exports/maintenance/recover [post]
func (h *ContentExportHandler) Recover(c *gin.Context) {
	h.service.RecoverPending(c.Request.Context())
	response.JSON(c, http.StatusAccepted, gin.H{"status": "requeued"}, nil)
}

// Cleanup godoc
// @Summary Purge expired content export archives
// @Tags ContentExports
// @Produce json
// @Success 202 {object} response.Envelope
// @Router /content-exports/maintenance/cleanup [post]
func (h *ContentExportHandler) Cleanup(c *gin.Context) {
	h.service.CleanupExpired(c.Request.Context())
	response.JSON(c, http.StatusAccepted, gin.H{"status": "cleaned"}, nil)
}
