package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ContentExportContext names the kind of content an export archives.
type ContentExportContext string

const (
	ContentExportAssignment ContentExportContext = "assignment"
	ContentExportEportfolio ContentExportContext = "eportfolio"
	ContentExportFolder     ContentExportContext = "folder"
)

// Valid reports whether c is a supported context type.
func (c ContentExportContext) Valid() bool {
	switch c {
	case ContentExportAssignment, ContentExportEportfolio, ContentExportFolder:
		return true
	}
	return false
}

// ContentExportState captures the export workflow.
type ContentExportState string

const (
	ContentExportPending ContentExportState = "pending"
	ContentExportZipping ContentExportState = "zipping"
	ContentExportZipped  ContentExportState = "zipped"
	ContentExportErrored ContentExportState = "errored"
)

// Terminal reports whether no further automatic transitions happen from s.
func (s ContentExportState) Terminal() bool {
	return s == ContentExportZipped || s == ContentExportErrored
}

// ContentExport is one asynchronous archive job persisted in content_exports.
// A nil UserID means the run is unrestricted.
type ContentExport struct {
	ID            string               `db:"id" json:"id"`
	ContextType   ContentExportContext `db:"context_type" json:"contextType"`
	ContextID     string               `db:"context_id" json:"contextId"`
	UserID        *string              `db:"user_id" json:"userId,omitempty"`
	WorkflowState ContentExportState   `db:"workflow_state" json:"workflowState"`
	Progress      int                  `db:"progress" json:"progress"`
	Attempts      int                  `db:"attempts" json:"attempts"`
	Options       ContentExportOptions `db:"options" json:"options"`
	FilePath      *string              `db:"file_path" json:"-"`
	Filename      *string              `db:"filename" json:"filename,omitempty"`
	SizeBytes     *int64               `db:"size_bytes" json:"sizeBytes,omitempty"`
	Checksum      *string              `db:"checksum" json:"checksum,omitempty"`
	ErrorMessage  *string              `db:"error_message" json:"errorMessage,omitempty"`
	CreatedAt     time.Time            `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time            `db:"updated_at" json:"updatedAt"`
	FinishedAt    *time.Time           `db:"finished_at" json:"finishedAt,omitempty"`
}

// ContentExportOptions stores request-scoped options persisted as JSONB.
type ContentExportOptions struct {
	Manifest  string `json:"manifest,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// Value marshals options to JSON for persistence.
func (o ContentExportOptions) Value() (driver.Value, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("marshal content export options: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the options struct.
func (o *ContentExportOptions) Scan(value interface{}) error {
	if value == nil {
		*o = ContentExportOptions{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for ContentExportOptions", value)
	}
	if len(data) == 0 {
		*o = ContentExportOptions{}
		return nil
	}
	if err := json.Unmarshal(data, o); err != nil {
		return fmt.Errorf("unmarshal content export options: %w", err)
	}
	return nil
}

// ContentExportProgress is the lightweight snapshot served to pollers.
type ContentExportProgress struct {
	ID            string             `json:"id"`
	UserID        *string            `json:"userId,omitempty"`
	WorkflowState ContentExportState `json:"workflowState"`
	Progress      int                `json:"progress"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}
