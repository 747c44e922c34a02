package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-adp-archiver/internal/models"
)

const (
	attachmentColumns = `a.id, a.course_id, a.folder_id, a.display_name, a.filename, a.content_type, a.storage_key, a.size_bytes, a.hidden, a.locked, a.file_state, a.uuid, a.created_at`
	folderColumns     = `id, course_id, parent_id, name, hidden, locked, position, created_at`
	submissionColumns = `s.id, s.assignment_id, asg.title AS assignment_title, s.user_id, s.submission_type, s.url, s.body, s.late, s.submitted_at, u.first_name, u.last_name`
)

// CourseContentRepository reads the course content archived by exports.
// Every list is ordered so repeated runs see the same sequence.
type CourseContentRepository struct {
	db *sqlx.DB
}

// NewCourseContentRepository constructs the repository.
func NewCourseContentRepository(db *sqlx.DB) *CourseContentRepository {
	return &CourseContentRepository{db: db}
}

// GetCourse loads a course by id.
func (r *CourseContentRepository) GetCourse(ctx context.Context, id string) (*models.Course, error) {
	const query = `SELECT id, name, short_name, created_at FROM courses WHERE id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, fmt.Errorf("get course: %w", err)
	}
	return &course, nil
}

// GetAssignment loads an assignment by id.
func (r *CourseContentRepository) GetAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	const query = `SELECT id, course_id, title, due_at, created_at FROM assignments WHERE id = $1 AND deleted_at IS NULL`
	var assignment models.Assignment
	if err := r.db.GetContext(ctx, &assignment, query, id); err != nil {
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	return &assignment, nil
}

// ListSubmissions returns every submission of an assignment with the student's name.
func (r *CourseContentRepository) ListSubmissions(ctx context.Context, assignmentID string) ([]models.Submission, error) {
	query := `SELECT ` + submissionColumns + `
FROM submissions s
JOIN assignments asg ON asg.id = s.assignment_id
JOIN users u ON u.id = s.user_id
WHERE s.assignment_id = $1
ORDER BY u.last_name ASC, u.first_name ASC, s.id ASC`
	var submissions []models.Submission
	if err := r.db.SelectContext(ctx, &submissions, query, assignmentID); err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	return submissions, nil
}

// ListSubmissionAttachments returns the files uploaded with a submission.
func (r *CourseContentRepository) ListSubmissionAttachments(ctx context.Context, submissionID string) ([]models.Attachment, error) {
	query := `SELECT ` + attachmentColumns + `
FROM submission_attachments sa
JOIN attachments a ON a.id = sa.attachment_id
WHERE sa.submission_id = $1 AND a.file_state <> 'deleted'
ORDER BY sa.position ASC, a.id ASC`
	var attachments []models.Attachment
	if err := r.db.SelectContext(ctx, &attachments, query, submissionID); err != nil {
		return nil, fmt.Errorf("list submission attachments: %w", err)
	}
	return attachments, nil
}

// GetPortfolio loads a portfolio by id.
func (r *CourseContentRepository) GetPortfolio(ctx context.Context, id string) (*models.Portfolio, error) {
	const query = `SELECT id, user_id, name, created_at FROM eportfolios WHERE id = $1 AND deleted_at IS NULL`
	var portfolio models.Portfolio
	if err := r.db.GetContext(ctx, &portfolio, query, id); err != nil {
		return nil, fmt.Errorf("get portfolio: %w", err)
	}
	return &portfolio, nil
}

// ListPortfolioEntries returns the pages of a portfolio.
func (r *CourseContentRepository) ListPortfolioEntries(ctx context.Context, portfolioID string) ([]models.PortfolioEntry, error) {
	const query = `SELECT id, portfolio_id, name, full_slug, content, position
FROM eportfolio_entries WHERE portfolio_id = $1 ORDER BY position ASC, id ASC`
	var entries []models.PortfolioEntry
	if err := r.db.SelectContext(ctx, &entries, query, portfolioID); err != nil {
		return nil, fmt.Errorf("list portfolio entries: %w", err)
	}
	return entries, nil
}

// ListEntryAttachments returns files embedded directly in a portfolio entry.
func (r *CourseContentRepository) ListEntryAttachments(ctx context.Context, entryID string) ([]models.Attachment, error) {
	query := `SELECT ` + attachmentColumns + `
FROM eportfolio_entry_attachments ea
JOIN attachments a ON a.id = ea.attachment_id
WHERE ea.entry_id = $1 AND a.file_state <> 'deleted'
ORDER BY ea.position ASC, a.id ASC`
	var attachments []models.Attachment
	if err := r.db.SelectContext(ctx, &attachments, query, entryID); err != nil {
		return nil, fmt.Errorf("list entry attachments: %w", err)
	}
	return attachments, nil
}

// ListEntrySubmissions returns submissions showcased by a portfolio entry.
func (r *CourseContentRepository) ListEntrySubmissions(ctx context.Context, entryID string) ([]models.Submission, error) {
	query := `SELECT ` + submissionColumns + `
FROM eportfolio_entry_submissions es
JOIN submissions s ON s.id = es.submission_id
JOIN assignments asg ON asg.id = s.assignment_id
JOIN users u ON u.id = s.user_id
WHERE es.entry_id = $1
ORDER BY es.position ASC, s.id ASC`
	var submissions []models.Submission
	if err := r.db.SelectContext(ctx, &submissions, query, entryID); err != nil {
		return nil, fmt.Errorf("list entry submissions: %w", err)
	}
	return submissions, nil
}

// GetFolder loads a folder by id.
func (r *CourseContentRepository) GetFolder(ctx context.Context, id string) (*models.Folder, error) {
	query := `SELECT ` + folderColumns + ` FROM folders WHERE id = $1 AND deleted_at IS NULL`
	var folder models.Folder
	if err := r.db.GetContext(ctx, &folder, query, id); err != nil {
		return nil, fmt.Errorf("get folder: %w", err)
	}
	return &folder, nil
}

// ListFolderAttachments returns the active (not deleted) files of a folder.
func (r *CourseContentRepository) ListFolderAttachments(ctx context.Context, folderID string) ([]models.Attachment, error) {
	query := `SELECT ` + attachmentColumns + `
FROM attachments a
WHERE a.folder_id = $1 AND a.file_state <> 'deleted'
ORDER BY a.display_name ASC, a.id ASC`
	var attachments []models.Attachment
	if err := r.db.SelectContext(ctx, &attachments, query, folderID); err != nil {
		return nil, fmt.Errorf("list folder attachments: %w", err)
	}
	return attachments, nil
}

// ListSubFolders returns the active children of a folder.
func (r *CourseContentRepository) ListSubFolders(ctx context.Context, folderID string) ([]models.Folder, error) {
	query := `SELECT ` + folderColumns + ` FROM folders
WHERE parent_id = $1 AND deleted_at IS NULL
ORDER BY position ASC, name ASC, id ASC`
	var folders []models.Folder
	if err := r.db.SelectContext(ctx, &folders, query, folderID); err != nil {
		return nil, fmt.Errorf("list sub folders: %w", err)
	}
	return folders, nil
}

// GetAttachment loads a single attachment.
func (r *CourseContentRepository) GetAttachment(ctx context.Context, id string) (*models.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM attachments a WHERE a.id = $1`
	var attachment models.Attachment
	if err := r.db.GetContext(ctx, &attachment, query, id); err != nil {
		return nil, fmt.Errorf("get attachment: %w", err)
	}
	return &attachment, nil
}
