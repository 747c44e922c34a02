package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-adp-archiver/internal/models"
)

// MembershipRepository answers course enrollment lookups.
type MembershipRepository struct {
	db *sqlx.DB
}

// NewMembershipRepository constructs the repository.
func NewMembershipRepository(db *sqlx.DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

// CourseRoles returns the active enrollment roles of userID in courseID.
// An empty slice means the user is not enrolled.
func (r *MembershipRepository) CourseRoles(ctx context.Context, courseID, userID string) ([]models.EnrollmentRole, error) {
	const query = `SELECT DISTINCT role FROM enrollments
WHERE course_id = $1 AND user_id = $2 AND workflow_state = 'active'
ORDER BY role ASC`
	var roles []models.EnrollmentRole
	if err := r.db.SelectContext(ctx, &roles, query, courseID, userID); err != nil {
		return nil, fmt.Errorf("list course roles: %w", err)
	}
	return roles, nil
}
