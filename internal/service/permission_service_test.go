package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-adp-archiver/internal/models"
)

// membershipStub keys roles by "course|user".
type membershipStub map[string][]models.EnrollmentRole

func (m membershipStub) CourseRoles(ctx context.Context, courseID, userID string) ([]models.EnrollmentRole, error) {
	return m[courseID+"|"+userID], nil
}

type countingMembership struct {
	roles []models.EnrollmentRole
	err   error
	calls int
}

func (c *countingMembership) CourseRoles(ctx context.Context, courseID, userID string) ([]models.EnrollmentRole, error) {
	c.calls++
	return c.roles, c.err
}

func TestPermissionServiceGrants(t *testing.T) {
	members := membershipStub{
		"c1|teacher": {models.EnrollmentTeacher},
		"c1|student": {models.EnrollmentStudent},
	}
	svc := NewPermissionService(members, PermissionServiceConfig{}, zap.NewNop())
	ctx := context.Background()

	teacher := &models.User{ID: "teacher", Role: models.RoleTeacher}
	student := &models.User{ID: "student", Role: models.RoleStudent}
	outsider := &models.User{ID: "outsider", Role: models.RoleStudent}
	admin := &models.User{ID: "admin", Role: models.RoleAdmin}

	course := &models.Course{ID: "c1"}
	assignment := &models.Assignment{ID: "as1", CourseID: "c1"}
	hiddenFolder := &models.Folder{ID: "f1", CourseID: "c1", Hidden: true}
	openFolder := &models.Folder{ID: "f2", CourseID: "c1"}
	c1 := "c1"
	hiddenFile := &models.Attachment{ID: "a1", CourseID: &c1, FileState: models.FileAvailable, Hidden: true}
	lockedFile := &models.Attachment{ID: "a2", CourseID: &c1, FileState: models.FileAvailable, Locked: true}
	openFile := &models.Attachment{ID: "a3", CourseID: &c1, FileState: models.FileAvailable}
	orphanFile := &models.Attachment{ID: "a4", FileState: models.FileAvailable}
	portfolio := &models.Portfolio{ID: "p1", UserID: "student"}

	tests := []struct {
		name       string
		user       *models.User
		resource   any
		capability models.Capability
		want       bool
	}{
		{"system run", nil, hiddenFolder, models.CapReadContents, true},
		{"admin bypass", admin, hiddenFolder, models.CapManageFiles, true},
		{"teacher manages files", teacher, course, models.CapManageFiles, true},
		{"student cannot manage files", student, course, models.CapManageFiles, false},
		{"teacher grades", teacher, assignment, models.CapManageGrades, true},
		{"student cannot grade", student, assignment, models.CapManageGrades, false},
		{"student participates", student, course, models.CapParticipateAsStudent, true},
		{"teacher reads hidden folder", teacher, hiddenFolder, models.CapReadContents, true},
		{"student blocked from hidden folder", student, hiddenFolder, models.CapReadContents, false},
		{"student reads open folder", student, openFolder, models.CapReadContents, true},
		{"outsider blocked from open folder", outsider, openFolder, models.CapReadContents, false},
		{"student blocked from hidden file", student, hiddenFile, models.CapDownload, false},
		{"student blocked from locked file", student, lockedFile, models.CapDownload, false},
		{"student downloads open file", student, openFile, models.CapDownload, true},
		{"teacher downloads hidden file", teacher, hiddenFile, models.CapDownload, true},
		{"file outside a course", teacher, orphanFile, models.CapDownload, false},
		{"owner reads portfolio", student, portfolio, models.CapReadContents, true},
		{"teacher cannot read foreign portfolio", teacher, portfolio, models.CapReadContents, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := svc.Grants(ctx, tc.user, tc.resource, tc.capability)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestPermissionServiceRejectsUnknownResource(t *testing.T) {
	svc := NewPermissionService(membershipStub{}, PermissionServiceConfig{}, nil)
	_, err := svc.Grants(context.Background(), &models.User{ID: "u1", Role: models.RoleStudent}, "course", models.CapDownload)
	require.Error(t, err)
}

func TestPermissionServiceCachesMemberships(t *testing.T) {
	members := &countingMembership{roles: []models.EnrollmentRole{models.EnrollmentStudent}}
	svc := NewPermissionService(members, PermissionServiceConfig{CacheSize: 8}, zap.NewNop())
	user := &models.User{ID: "u1", Role: models.RoleStudent}
	course := &models.Course{ID: "c1"}

	for i := 0; i < 3; i++ {
		ok, err := svc.Grants(context.Background(), user, course, models.CapReadContents)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 1, members.calls)

	_, err := svc.Grants(context.Background(), user, &models.Course{ID: "c2"}, models.CapReadContents)
	require.NoError(t, err)
	assert.Equal(t, 2, members.calls)
}

func TestPermissionServicePropagatesLookupErrors(t *testing.T) {
	members := &countingMembership{err: errors.New("db down")}
	svc := NewPermissionService(members, PermissionServiceConfig{}, zap.NewNop())

	_, err := svc.Grants(context.Background(), &models.User{ID: "u1", Role: models.RoleStudent}, &models.Course{ID: "c1"}, models.CapReadContents)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")

	_, err = svc.Grants(context.Background(), &models.User{ID: "u1", Role: models.RoleStudent}, &models.Course{ID: "c1"}, models.CapReadContents)
	require.Error(t, err)
	assert.Equal(t, 2, members.calls)
}
