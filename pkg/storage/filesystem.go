package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// ErrInvalidKey is returned for keys that resolve outside the storage root.
var ErrInvalidKey = errors.New("invalid storage key")

// LocalStorage persists files on disk under a base directory.
type LocalStorage struct {
	baseDir string
}

// PublishResult describes an archive handed over to storage.
type PublishResult struct {
	Path     string
	Size     int64
	Checksum string
}

// NewLocalStorage ensures the base directory exists and returns a handle.
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if strings.TrimSpace(baseDir) == "" {
		baseDir = "./content_exports"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &LocalStorage{baseDir: filepath.Clean(baseDir)}, nil
}

// Publish copies the finished file at localPath to relPath. The destination
// only appears once fully written and synced.
func (s *LocalStorage) Publish(ctx context.Context, localPath, relPath string) (*PublishResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dest, err := s.resolve(relPath)
	if err != nil {
		return nil, err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer src.Close() //nolint:errcheck

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("prepare publish directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	hasher := blake3.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), src)
	if err != nil {
		return nil, fmt.Errorf("copy archive: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("fsync archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return nil, fmt.Errorf("chmod archive: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return nil, fmt.Errorf("rename archive: %w", err)
	}
	committed = true
	_ = syncDir(dir)

	return &PublishResult{
		Path:     filepath.ToSlash(relPath),
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open returns a read-only handle for the stored file.
func (s *LocalStorage) Open(key string) (*os.File, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open stored file: %w", err)
	}
	return file, nil
}

// Reader opens a stored blob for streaming.
func (s *LocalStorage) Reader(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Open(key)
}

// Delete removes a stored file and its directory when that becomes empty.
func (s *LocalStorage) Delete(key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete stored file: %w", err)
	}
	if dir := filepath.Dir(path); dir != s.baseDir {
		_ = os.Remove(dir)
	}
	return nil
}

func (s *LocalStorage) resolve(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || filepath.IsAbs(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	full := filepath.Join(s.baseDir, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.baseDir, full)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return full, nil
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck
	return f.Sync()
}
