package models

import "time"

// Folder is a node in a course's file tree.
type Folder struct {
	ID        string    `db:"id" json:"id"`
	CourseID  string    `db:"course_id" json:"courseId"`
	ParentID  *string   `db:"parent_id" json:"parentId,omitempty"`
	Name      string    `db:"name" json:"name"`
	Hidden    bool      `db:"hidden" json:"hidden"`
	Locked    bool      `db:"locked" json:"locked"`
	Position  int       `db:"position" json:"position"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Restricted reports whether the folder is hidden or locked.
func (f Folder) Restricted() bool {
	return f.Hidden || f.Locked
}
