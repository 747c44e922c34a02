package service

import (
	"context"
	"fmt"
	"html/template"
	"io/fs"

	"github.com/noah-isme/sma-adp-archiver/internal/models"
	"github.com/noah-isme/sma-adp-archiver/pkg/render"
)

// staticAssets maps bundled files to their archive names.
var staticAssets = []struct {
	path string
	name string
}{
	{path: "stylesheets/static/eportfolio_static.css", name: "eportfolio.css"},
	{path: "images/logo.png", name: "logo.png"},
}

type portfolioEntryContent struct {
	entry       models.PortfolioEntry
	attachments []models.Attachment
	submissions []portfolioSubmission
}

type portfolioSubmission struct {
	submission  models.Submission
	attachments []models.Attachment
}

func (z *ContentZipper) planPortfolio(ctx context.Context, job *models.ContentExport, progress *ProgressReporter) (*archivePlan, error) {
	portfolio, err := z.deps.Content.GetPortfolio(ctx, job.ContextID)
	if err != nil {
		return nil, fmt.Errorf("load portfolio: %w", err)
	}
	return &archivePlan{
		name:  archiveName(portfolio.Name, "content-export-"+job.ID),
		title: portfolio.Name,
		produce: func(ctx context.Context, emit emitFunc) error {
			return z.zipPortfolio(ctx, portfolio, progress, emit)
		},
	}, nil
}

func (z *ContentZipper) zipPortfolio(ctx context.Context, portfolio *models.Portfolio, progress *ProgressReporter, emit emitFunc) error {
	contents, err := z.loadPortfolioContents(ctx, portfolio)
	if err != nil {
		return err
	}

	// Entry attachments first, then submission uploads; first occurrence of an ID wins.
	var ordered []models.Attachment
	numbered := map[string]string{}
	add := func(a models.Attachment) {
		if _, seen := numbered[a.ID]; seen || !a.Active() {
			return
		}
		numbered[a.ID] = fmt.Sprintf("%d_%s", len(ordered)+1, pathSegment(a.Filename))
		ordered = append(ordered, a)
	}
	for _, c := range contents {
		for _, a := range c.attachments {
			add(a)
		}
	}
	for _, c := range contents {
		for _, s := range c.submissions {
			for _, a := range s.attachments {
				add(a)
			}
		}
	}

	progress.SetTotal(len(ordered) + 2)

	pages := make([]render.Link, 0, len(contents))
	for _, c := range contents {
		pages = append(pages, render.Link{Name: c.entry.Name, Href: pageName(c.entry)})
	}
	for i, c := range contents {
		data := render.PortfolioPageData{
			PortfolioName: portfolio.Name,
			EntryName:     c.entry.Name,
			Content:       template.HTML(c.entry.Content), //nolint:gosec // entry content is sanitised on save
			Pages:         make([]render.Link, len(pages)),
			Attachments:   fileLinks(c.attachments, numbered),
		}
		copy(data.Pages, pages)
		data.Pages[i].Current = true
		for _, s := range c.submissions {
			ps := render.PortfolioSubmission{
				AssignmentTitle: s.submission.AssignmentTitle,
				Attachments:     fileLinks(s.attachments, numbered),
			}
			if s.submission.URL != nil {
				ps.URL = *s.submission.URL
			}
			if s.submission.Body != nil {
				ps.Body = template.HTML(*s.submission.Body) //nolint:gosec
			}
			data.Submissions = append(data.Submissions, ps)
		}

		entry := ContentEntry{
			Name:   pageName(c.entry),
			Source: renderedSource{renderer: z.deps.Renderer, template: render.EportfolioPage, data: data},
			Origin: "portfolio_entry:" + c.entry.ID,
		}
		if _, err := emit(entry); err != nil {
			return err
		}
	}
	progress.Advance(ctx)

	for _, a := range ordered {
		if _, err := emit(attachmentEntry(z.deps.Blobs, numbered[a.ID], a)); err != nil {
			return err
		}
		progress.Advance(ctx)
	}

	if z.cfg.StaticAssets != nil {
		for _, asset := range staticAssets {
			if _, err := fs.Stat(z.cfg.StaticAssets, asset.path); err != nil {
				continue
			}
			entry := ContentEntry{
				Name:   asset.name,
				Source: staticFileSource{fsys: z.cfg.StaticAssets, name: asset.path},
				Origin: "static:" + asset.path,
			}
			if _, err := emit(entry); err != nil {
				return err
			}
		}
	}
	progress.Advance(ctx)
	return nil
}

func (z *ContentZipper) loadPortfolioContents(ctx context.Context, portfolio *models.Portfolio) ([]portfolioEntryContent, error) {
	entries, err := z.deps.Content.ListPortfolioEntries(ctx, portfolio.ID)
	if err != nil {
		return nil, fmt.Errorf("list portfolio entries: %w", err)
	}

	contents := make([]portfolioEntryContent, 0, len(entries))
	for _, entry := range entries {
		c := portfolioEntryContent{entry: entry}
		if c.attachments, err = z.deps.Content.ListEntryAttachments(ctx, entry.ID); err != nil {
			return nil, fmt.Errorf("list attachments of entry %s: %w", entry.ID, err)
		}
		submissions, err := z.deps.Content.ListEntrySubmissions(ctx, entry.ID)
		if err != nil {
			return nil, fmt.Errorf("list submissions of entry %s: %w", entry.ID, err)
		}
		for _, s := range submissions {
			ps := portfolioSubmission{submission: s}
			if classifySubmission(s) == uploadSubmission {
				if ps.attachments, err = z.deps.Content.ListSubmissionAttachments(ctx, s.ID); err != nil {
					return nil, fmt.Errorf("list attachments of submission %s: %w", s.ID, err)
				}
			}
			c.submissions = append(c.submissions, ps)
		}
		contents = append(contents, c)
	}
	return contents, nil
}

func pageName(entry models.PortfolioEntry) string {
	return pathSegment(entry.FullSlug) + ".html"
}

func fileLinks(attachments []models.Attachment, numbered map[string]string) []render.FileLink {
	links := make([]render.FileLink, 0, len(attachments))
	for _, a := range attachments {
		name, ok := numbered[a.ID]
		if !ok {
			continue
		}
		links = append(links, render.FileLink{DisplayName: a.DisplayName, Href: name})
	}
	return links
}
