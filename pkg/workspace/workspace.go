package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const dirPrefix = "export-"

// Manager hands out private scratch directories for archive runs.
type Manager struct {
	baseDir string
	now     func() time.Time
}

// Workspace is a scratch directory owned by exactly one run.
type Workspace struct {
	JobID string
	Dir   string

	once sync.Once
	err  error
}

// CleanupReport summarises a Cleanup pass.
type CleanupReport struct {
	DeletedDirs int
}

// NewManager roots workspaces at baseDir, falling back to the OS temp dir.
func NewManager(baseDir string) (*Manager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		trimmed = filepath.Join(os.TempDir(), "content-exports")
	}
	if err := os.MkdirAll(trimmed, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace base directory: %w", err)
	}
	return &Manager{baseDir: filepath.Clean(trimmed), now: time.Now}, nil
}

// BaseDir returns the directory workspaces are created in.
func (m *Manager) BaseDir() string { return m.baseDir }

// Acquire creates a fresh workspace for jobID. Callers must Release it.
func (m *Manager) Acquire(ctx context.Context, jobID string) (*Workspace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateJobID(jobID); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(m.baseDir, dirPrefix+jobID+"-")
	if err != nil {
		return nil, fmt.Errorf("create workspace for job %q: %w", jobID, err)
	}
	return &Workspace{JobID: jobID, Dir: dir}, nil
}

// Release removes the directory and everything in it. Safe to call more than once.
func (w *Workspace) Release() error {
	if w == nil {
		return nil
	}
	w.once.Do(func() {
		if err := os.RemoveAll(w.Dir); err != nil {
			w.err = fmt.Errorf("remove workspace %q: %w", w.Dir, err)
		}
	})
	return w.err
}

// Cleanup removes workspaces left behind by crashed runs, based on mtime.
func (m *Manager) Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error) {
	if err := ctx.Err(); err != nil {
		return CleanupReport{}, err
	}
	if olderThan <= 0 {
		return CleanupReport{}, fmt.Errorf("olderThan must be positive")
	}

	entries, err := os.ReadDir(m.baseDir)
	if os.IsNotExist(err) {
		return CleanupReport{}, nil
	}
	if err != nil {
		return CleanupReport{}, fmt.Errorf("read workspace base directory: %w", err)
	}

	cutoff := m.now().Add(-olderThan)
	report := CleanupReport{}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), dirPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return report, fmt.Errorf("read workspace entry info %q: %w", entry.Name(), err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.baseDir, entry.Name())); err != nil {
			return report, fmt.Errorf("remove workspace %q: %w", entry.Name(), err)
		}
		report.DeletedDirs++
	}
	return report, nil
}

func validateJobID(jobID string) error {
	if strings.TrimSpace(jobID) == "" {
		return fmt.Errorf("job ID is empty")
	}
	if strings.ContainsAny(jobID, `/\`) || strings.Contains(jobID, "..") {
		return fmt.Errorf("job ID %q contains path characters", jobID)
	}
	return nil
}
