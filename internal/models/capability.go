package models

// Capability is a named permission checked against a user and a resource.
type Capability string

const (
	CapManageFiles          Capability = "manage_files"
	CapDownload             Capability = "download"
	CapReadContents         Capability = "read_contents"
	CapManageGrades         Capability = "manage_grades"
	CapParticipateAsStudent Capability = "participate_as_student"
)
