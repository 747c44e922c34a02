package models

import "time"

// SubmissionType mirrors the submission_type column.
type SubmissionType string

const (
	SubmissionOnlineUpload    SubmissionType = "online_upload"
	SubmissionOnlineURL       SubmissionType = "online_url"
	SubmissionOnlineTextEntry SubmissionType = "online_text_entry"
)

// Assignment is graded course work collecting submissions.
type Assignment struct {
	ID        string     `db:"id" json:"id"`
	CourseID  string     `db:"course_id" json:"courseId"`
	Title     string     `db:"title" json:"title"`
	DueAt     *time.Time `db:"due_at" json:"dueAt,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
}

// Submission is one student's latest attempt at an assignment, joined with
// the student's name so archive entries can be labelled.
type Submission struct {
	ID              string          `db:"id" json:"id"`
	AssignmentID    string          `db:"assignment_id" json:"assignmentId"`
	AssignmentTitle string          `db:"assignment_title" json:"assignmentTitle"`
	UserID          string          `db:"user_id" json:"userId"`
	SubmissionType  *SubmissionType `db:"submission_type" json:"submissionType,omitempty"`
	URL             *string         `db:"url" json:"url,omitempty"`
	Body            *string         `db:"body" json:"body,omitempty"`
	Late            bool            `db:"late" json:"late"`
	SubmittedAt     *time.Time      `db:"submitted_at" json:"submittedAt,omitempty"`
	FirstName       string          `db:"first_name" json:"firstName"`
	LastName        string          `db:"last_name" json:"lastName"`
}

// LastNameFirst renders "Last, First", falling back to whichever part exists.
func (s Submission) LastNameFirst() string {
	switch {
	case s.LastName != "" && s.FirstName != "":
		return s.LastName + ", " + s.FirstName
	case s.LastName != "":
		return s.LastName
	default:
		return s.FirstName
	}
}
