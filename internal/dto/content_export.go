package dto

import (
	"time"

	"github.com/noah-isme/sma-adp-archiver/internal/models"
)

// ContentExportRequest captures POST /content-exports payload.
type ContentExportRequest struct {
	ContextType models.ContentExportContext `json:"contextType" validate:"required,oneof=assignment eportfolio folder"`
	ContextID   string                      `json:"contextId" validate:"required"`
	Manifest    string                      `json:"manifest,omitempty" validate:"omitempty,oneof=csv pdf"`
}

// ContentExportResponse exposes export progress metadata.
type ContentExportResponse struct {
	ID            string                      `json:"id"`
	ContextType   models.ContentExportContext `json:"contextType,omitempty"`
	ContextID     string                      `json:"contextId,omitempty"`
	WorkflowState models.ContentExportState   `json:"workflowState"`
	Progress      int                         `json:"progress"`
	Attempts      int                         `json:"attempts,omitempty"`
	Filename      *string                     `json:"filename,omitempty"`
	SizeBytes     *int64                      `json:"sizeBytes,omitempty"`
	Checksum      *string                     `json:"checksum,omitempty"`
	Error         *string                     `json:"error,omitempty"`
	CreatedAt     *time.Time                  `json:"createdAt,omitempty"`
	FinishedAt    *time.Time                  `json:"finishedAt,omitempty"`
}

// ContentExportDownloadURLResponse carries a signed download link.
type ContentExportDownloadURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// NewContentExportResponse maps a persisted export.
func NewContentExportResponse(export *models.ContentExport) *ContentExportResponse {
	created := export.CreatedAt
	resp := &ContentExportResponse{
		ID:            export.ID,
		ContextType:   export.ContextType,
		ContextID:     export.ContextID,
		WorkflowState: export.WorkflowState,
		Progress:      export.Progress,
		Attempts:      export.Attempts,
		Filename:      export.Filename,
		SizeBytes:     export.SizeBytes,
		Checksum:      export.Checksum,
		CreatedAt:     &created,
		FinishedAt:    export.FinishedAt,
	}
	if export.ErrorMessage != nil && *export.ErrorMessage != "" {
		resp.Error = export.ErrorMessage
	}
	return resp
}
