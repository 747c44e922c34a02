package models

import "time"

// FileState mirrors the file_state column of attachments.
type FileState string

const (
	FileAvailable FileState = "available"
	FileHidden    FileState = "hidden"
	FileDeleted   FileState = "deleted"
)

// Attachment is a stored file owned by a course folder, submission or portfolio entry.
type Attachment struct {
	ID          string    `db:"id" json:"id"`
	CourseID    *string   `db:"course_id" json:"courseId,omitempty"`
	FolderID    *string   `db:"folder_id" json:"folderId,omitempty"`
	DisplayName string    `db:"display_name" json:"displayName"`
	Filename    string    `db:"filename" json:"filename"`
	ContentType string    `db:"content_type" json:"contentType"`
	StorageKey  string    `db:"storage_key" json:"-"`
	SizeBytes   int64     `db:"size_bytes" json:"sizeBytes"`
	Hidden      bool      `db:"hidden" json:"hidden"`
	Locked      bool      `db:"locked" json:"locked"`
	FileState   FileState `db:"file_state" json:"fileState"`
	UUID        string    `db:"uuid" json:"uuid"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// Active reports whether the attachment has not been deleted.
func (a Attachment) Active() bool {
	return a.FileState != FileDeleted
}

// Visible reports whether students may see the attachment.
func (a Attachment) Visible() bool {
	return !a.Hidden && a.FileState == FileAvailable
}
