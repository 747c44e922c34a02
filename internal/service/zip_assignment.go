package service

import (
	"context"
	"fmt"
	"html/template"
	"strings"

	"github.com/noah-isme/sma-adp-archiver/internal/models"
	"github.com/noah-isme/sma-adp-archiver/pkg/render"
)

// submissionKind is the closed set of submission shapes the zipper understands.
type submissionKind int

const (
	unhandledSubmission submissionKind = iota
	uploadSubmission
	urlSubmission
	textSubmission
)

func classifySubmission(s models.Submission) submissionKind {
	if s.SubmissionType == nil {
		return unhandledSubmission
	}
	switch *s.SubmissionType {
	case models.SubmissionOnlineUpload:
		return uploadSubmission
	case models.SubmissionOnlineURL:
		return urlSubmission
	case models.SubmissionOnlineTextEntry:
		return textSubmission
	default:
		return unhandledSubmission
	}
}

type submissionResolver func(ctx context.Context, z *ContentZipper, s models.Submission, prefix string) ([]ContentEntry, error)

var submissionResolvers = map[submissionKind]submissionResolver{
	uploadSubmission:    resolveUploadSubmission,
	urlSubmission:       resolveURLSubmission,
	textSubmission:      resolveTextSubmission,
	unhandledSubmission: resolveUnhandledSubmission,
}

func resolveUnhandledSubmission(context.Context, *ContentZipper, models.Submission, string) ([]ContentEntry, error) {
	return nil, nil
}

func resolveUploadSubmission(ctx context.Context, z *ContentZipper, s models.Submission, prefix string) ([]ContentEntry, error) {
	attachments, err := z.deps.Content.ListSubmissionAttachments(ctx, s.ID)
	if err != nil {
		return nil, fmt.Errorf("list attachments of submission %s: %w", s.ID, err)
	}
	entries := make([]ContentEntry, 0, len(attachments))
	for _, a := range attachments {
		if !a.Active() {
			continue
		}
		name := fmt.Sprintf("%s_%s_%s", prefix, a.ID, pathSegment(a.DisplayName))
		entries = append(entries, attachmentEntry(z.deps.Blobs, name, a))
	}
	return entries, nil
}

func resolveURLSubmission(_ context.Context, z *ContentZipper, s models.Submission, prefix string) ([]ContentEntry, error) {
	if s.URL == nil || strings.TrimSpace(*s.URL) == "" {
		return nil, nil
	}
	return []ContentEntry{{
		Name: prefix + "_link.html",
		Source: renderedSource{
			renderer: z.deps.Renderer,
			template: render.RedirectPage,
			data: render.RedirectData{
				Title:       s.AssignmentTitle,
				StudentName: s.LastNameFirst(),
				URL:         *s.URL,
				Late:        s.Late,
			},
		},
		Origin: "submission:" + s.ID,
	}}, nil
}

func resolveTextSubmission(_ context.Context, z *ContentZipper, s models.Submission, prefix string) ([]ContentEntry, error) {
	if s.Body == nil || strings.TrimSpace(*s.Body) == "" {
		return nil, nil
	}
	data := render.TextEntryData{
		Title:       s.AssignmentTitle,
		StudentName: s.LastNameFirst(),
		Body:        template.HTML(*s.Body), //nolint:gosec // stored submission HTML is sanitised on write
		Late:        s.Late,
	}
	if s.SubmittedAt != nil {
		data.SubmittedAt = *s.SubmittedAt
	}
	return []ContentEntry{{
		Name:   prefix + "_text.html",
		Source: renderedSource{renderer: z.deps.Renderer, template: render.TextEntryPage, data: data},
		Origin: "submission:" + s.ID,
	}}, nil
}

func (z *ContentZipper) planAssignment(ctx context.Context, job *models.ContentExport, progress *ProgressReporter) (*archivePlan, error) {
	assignment, err := z.deps.Content.GetAssignment(ctx, job.ContextID)
	if err != nil {
		return nil, fmt.Errorf("load assignment: %w", err)
	}
	course, err := z.deps.Content.GetCourse(ctx, assignment.CourseID)
	if err != nil {
		return nil, fmt.Errorf("load course: %w", err)
	}

	title := fmt.Sprintf("%s-%s submissions", course.ShortName, assignment.Title)
	return &archivePlan{
		name:  archiveName(title, "content-export-"+job.ID),
		title: title,
		produce: func(ctx context.Context, emit emitFunc) error {
			return z.zipAssignment(ctx, assignment, progress, emit)
		},
	}, nil
}

func (z *ContentZipper) zipAssignment(ctx context.Context, assignment *models.Assignment, progress *ProgressReporter, emit emitFunc) error {
	submissions, err := z.deps.Content.ListSubmissions(ctx, assignment.ID)
	if err != nil {
		return fmt.Errorf("list submissions: %w", err)
	}

	total := len(submissions)
	for i, s := range submissions {
		if s.AssignmentTitle == "" {
			s.AssignmentTitle = assignment.Title
		}
		prefix := submissionPrefix(s.LastNameFirst(), s.Late, s.UserID)
		entries, err := submissionResolvers[classifySubmission(s)](ctx, z, s, prefix)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if _, err := emit(entry); err != nil {
				return err
			}
		}
		progress.Report(ctx, (i+1)*100/total)
	}
	return nil
}
