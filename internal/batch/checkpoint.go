package batch

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"
)

// Checkpoint records which documents a batch has already finished so that a
// rerun can skip them.
type Checkpoint struct {
	ProcessedFiles []string  `json:"processed_files"`
	Runs           int       `json:"runs"`
	LastRunID      string    `json:"last_run_id,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`

	path string
	done map[string]bool
}

// LoadCheckpoint reads the checkpoint at path. A missing file yields an
// empty checkpoint; an unreadable one is logged and ignored.
func LoadCheckpoint(path string, logger *slog.Logger) *Checkpoint {
	cp := newCheckpoint(path)
	if path == "" {
		return cp
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("batch.checkpoint.unreadable", "path", path, "error", err)
		}
		return cp
	}
	if err := json.Unmarshal(data, cp); err != nil {
		logger.Warn("batch.checkpoint.corrupt", "path", path, "error", err)
		return newCheckpoint(path)
	}
	for _, f := range cp.ProcessedFiles {
		cp.done[f] = true
	}
	return cp
}

func newCheckpoint(path string) *Checkpoint {
	return &Checkpoint{path: path, done: make(map[string]bool)}
}

// Done reports whether file was finished by an earlier run.
func (c *Checkpoint) Done(file string) bool {
	return c.done[file]
}

// Mark records file as finished.
func (c *Checkpoint) Mark(file string) {
	if c.done[file] {
		return
	}
	c.done[file] = true
	c.ProcessedFiles = append(c.ProcessedFiles, file)
}

// Save writes the checkpoint atomically. It is a no-op without a path.
func (c *Checkpoint) Save() error {
	if c.path == "" {
		return nil
	}
	c.UpdatedAt = time.Now().UTC()
	slices.Sort(c.ProcessedFiles)
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(c.path, data)
}

// Reset removes the checkpoint and error files from dir.
func Reset(dir, checkpoint string) error {
	var errs []error
	for _, name := range []string{checkpoint, errorsJSON, errorsCSV} {
		if name == "" {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}
