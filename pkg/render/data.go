package render

import (
	"html/template"
	"time"
)

// RedirectData feeds RedirectPage.
type RedirectData struct {
	Title       string
	StudentName string
	URL         string
	Late        bool
}

// TextEntryData feeds TextEntryPage. Body is trusted submission HTML.
type TextEntryData struct {
	Title       string
	StudentName string
	Body        template.HTML
	Late        bool
	SubmittedAt time.Time
}

// Link is a relative hyperlink inside the archive.
type Link struct {
	Name    string
	Href    string
	Current bool
}

// FileLink points at an attachment stored in the archive.
type FileLink struct {
	DisplayName string
	Href        string
}

// PortfolioSubmission is a submission embedded in a portfolio page.
type PortfolioSubmission struct {
	AssignmentTitle string
	URL             string
	Body            template.HTML
	Attachments     []FileLink
}

// PortfolioPageData feeds EportfolioPage.
type PortfolioPageData struct {
	PortfolioName string
	EntryName     string
	Content       template.HTML
	Pages         []Link
	Attachments   []FileLink
	Submissions   []PortfolioSubmission
}
