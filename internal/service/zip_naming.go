package service

import (
	"regexp"
	"strings"
)

var (
	nonArchiveNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)
	nonWordChars        = regexp.MustCompile(`[^A-Za-z0-9_]`)
	whitespace          = regexp.MustCompile(`\s`)
)

// archiveName turns a human title into a zip base name: whitespace becomes
// underscores and anything outside [A-Za-z0-9_-] is dropped.
func archiveName(title, fallback string) string {
	name := whitespace.ReplaceAllString(title, "_")
	name = nonArchiveNameChars.ReplaceAllString(name, "")
	if strings.Trim(name, "_-") == "" {
		return fallback
	}
	return name
}

// submissionPrefix labels every entry of one student's submission.
func submissionPrefix(lastNameFirst string, late bool, userID string) string {
	sep := " "
	if late {
		sep = " LATE "
	}
	prefix := strings.ReplaceAll(lastNameFirst+sep+userID, " ", "_")
	return strings.ToLower(nonWordChars.ReplaceAllString(prefix, ""))
}

// pathSegment keeps a user supplied name from introducing directories.
func pathSegment(name string) string {
	name = strings.NewReplacer("/", "_", `\`, "_").Replace(strings.TrimSpace(name))
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}
