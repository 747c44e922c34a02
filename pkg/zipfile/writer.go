package zipfile

import (
	"archive/zip"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
)

// ErrInvalidName is returned for entry names that would escape the archive root.
var ErrInvalidName = errors.New("invalid archive entry name")

// SourceError reports that an entry's content could not be read. The archive
// itself is still usable and the entry was not added.
type SourceError struct {
	Name string
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("read entry %q: %v", e.Name, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// IsSourceError reports whether err only affects a single entry.
func IsSourceError(err error) bool {
	var se *SourceError
	return errors.As(err, &se)
}

// Entry describes one file written to the archive.
type Entry struct {
	Name           string
	Size           int64
	CompressedSize int64
	CRC32          uint32
	Modified       time.Time
}

// Option customises a Writer.
type Option func(*Writer)

// WithLevel sets the deflate level (0-9). Out of range values fall back to the default.
func WithLevel(level int) Option {
	return func(w *Writer) {
		if level >= flate.NoCompression && level <= flate.BestCompression {
			w.level = level
		}
	}
}

// WithClock overrides the modification timestamp source.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) {
		if now != nil {
			w.now = now
		}
	}
}

// Writer streams entries into a zip archive inside a private directory.
// Each entry is compressed into a spool file first so a source failing
// mid-stream never leaves a partial entry behind.
type Writer struct {
	dir     string
	path    string
	file    *os.File
	zw      *zip.Writer
	level   int
	now     func() time.Time
	entries []Entry
	closed  bool
}

// Create opens dir/name for writing. name must not contain path separators.
func Create(dir, name string, opts ...Option) (*Writer, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("create archive: %w", ErrInvalidName)
	}
	full := filepath.Join(dir, name)
	f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}

	w := &Writer{
		dir:   dir,
		path:  full,
		file:  f,
		zw:    zip.NewWriter(f),
		level: flate.DefaultCompression,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Entries returns the entries written so far in order.
func (w *Writer) Entries() []Entry {
	out := make([]Entry, len(w.entries))
	copy(out, w.entries)
	return out
}

// Len reports how many entries were written.
func (w *Writer) Len() int { return len(w.entries) }

// Write adds one entry read from src and returns its uncompressed size.
// A *SourceError means only this entry was dropped; any other error leaves
// the archive unusable.
func (w *Writer) Write(name string, src io.Reader) (int64, error) {
	if w.closed {
		return 0, errors.New("write to closed archive")
	}
	clean, ok := cleanName(name)
	if !ok {
		return 0, &SourceError{Name: name, Err: ErrInvalidName}
	}

	spool, err := os.CreateTemp(w.dir, ".entry-*")
	if err != nil {
		return 0, fmt.Errorf("create spool: %w", err)
	}
	defer func() {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
	}()

	fw, err := flate.NewWriter(spool, w.level)
	if err != nil {
		return 0, fmt.Errorf("init deflate: %w", err)
	}

	crc := crc32.NewIEEE()
	tr := &trackingReader{r: io.TeeReader(src, crc)}
	size, err := io.Copy(fw, tr)
	if tr.err != nil {
		return 0, &SourceError{Name: clean, Err: tr.err}
	}
	if err != nil {
		return 0, fmt.Errorf("spool entry %q: %w", clean, err)
	}
	if err := fw.Close(); err != nil {
		return 0, fmt.Errorf("flush entry %q: %w", clean, err)
	}

	compressed, err := spool.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("measure entry %q: %w", clean, err)
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewind entry %q: %w", clean, err)
	}

	modified := w.now()
	header := &zip.FileHeader{
		Name:               clean,
		Method:             zip.Deflate,
		CRC32:              crc.Sum32(),
		CompressedSize64:   uint64(compressed),
		UncompressedSize64: uint64(size),
		Modified:           modified,
	}
	header.SetMode(0o644)

	dst, err := w.zw.CreateRaw(header)
	if err != nil {
		return 0, fmt.Errorf("add entry %q: %w", clean, err)
	}
	if _, err := io.Copy(dst, spool); err != nil {
		return 0, fmt.Errorf("copy entry %q: %w", clean, err)
	}

	w.entries = append(w.entries, Entry{
		Name:           clean,
		Size:           size,
		CompressedSize: compressed,
		CRC32:          header.CRC32,
		Modified:       modified,
	})
	return size, nil
}

// Close finalises the central directory and returns the archive path.
func (w *Writer) Close() (string, error) {
	if w.closed {
		return w.path, nil
	}
	w.closed = true
	if err := w.zw.Close(); err != nil {
		_ = w.file.Close()
		return "", fmt.Errorf("finalize archive: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		_ = w.file.Close()
		return "", fmt.Errorf("sync archive: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return "", fmt.Errorf("close archive: %w", err)
	}
	return w.path, nil
}

// Abort releases the file handle without finalising the archive.
func (w *Writer) Abort() {
	if w.closed {
		return
	}
	w.closed = true
	_ = w.file.Close()
}

type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}

func cleanName(name string) (string, bool) {
	name = strings.ReplaceAll(name, `\`, "/")
	if name == "" || strings.HasPrefix(name, "/") {
		return "", false
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return "", false
		}
	}
	clean := path.Clean(name)
	if clean == "." || clean == "" {
		return "", false
	}
	return clean, true
}
