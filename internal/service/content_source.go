package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"

	"github.com/noah-isme/sma-adp-archiver/internal/models"
)

// ContentSource opens the bytes of one archive entry.
type ContentSource interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// ContentEntry is one logical file destined for an archive.
type ContentEntry struct {
	Name   string
	Source ContentSource
	Origin string
}

type blobOpener interface {
	Reader(ctx context.Context, key string) (io.ReadCloser, error)
}

type templateRenderer interface {
	Render(name string, data any) ([]byte, error)
}

// fileSource streams a stored attachment.
type fileSource struct {
	blobs      blobOpener
	attachment models.Attachment
}

func (s fileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	rc, err := s.blobs.Reader(ctx, s.attachment.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("open attachment %s: %w", s.attachment.ID, err)
	}
	return rc, nil
}

// renderedSource materialises a template into memory when opened.
type renderedSource struct {
	renderer templateRenderer
	template string
	data     any
}

func (s renderedSource) Open(context.Context) (io.ReadCloser, error) {
	body, err := s.renderer.Render(s.template, s.data)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

// staticFileSource reads a bundled asset.
type staticFileSource struct {
	fsys fs.FS
	name string
}

func (s staticFileSource) Open(context.Context) (io.ReadCloser, error) {
	return s.fsys.Open(s.name)
}

func attachmentEntry(blobs blobOpener, name string, a models.Attachment) ContentEntry {
	return ContentEntry{
		Name:   name,
		Source: fileSource{blobs: blobs, attachment: a},
		Origin: "attachment:" + a.ID,
	}
}

// bytesSource serves an in-memory payload such as a rendered manifest.
type bytesSource []byte

func (s bytesSource) Open(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s)), nil
}
