package models

import "time"

// Course owns assignments, folders and their files.
type Course struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	ShortName string    `db:"short_name" json:"shortName"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// EnrollmentRole is a user's role inside one course.
type EnrollmentRole string

const (
	EnrollmentTeacher EnrollmentRole = "teacher"
	EnrollmentTA      EnrollmentRole = "ta"
	EnrollmentStudent EnrollmentRole = "student"
)
