package batch

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MeKo-Tech/tabscan/internal/jobs"
	"github.com/MeKo-Tech/tabscan/internal/sink"
)

// Config holds all configuration for one batch run.
type Config struct {
	OutputDir string
	// Format is the workbook format, "xlsx" or "csv".
	Format string
	// Combined writes every document into one workbook instead of one per file.
	Combined bool
	// WriteManifest adds a YAML manifest next to each per-file workbook.
	WriteManifest bool
	Sink          sink.Options

	// Discovery
	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string

	// Checkpoint is the checkpoint file name inside OutputDir. Empty disables
	// checkpointing.
	Checkpoint string
	// Resume skips documents recorded in an existing checkpoint.
	Resume          bool
	ContinueOnError bool
	// Workers bounds the documents in flight at once.
	Workers int

	// Request carries the per-job overrides applied to every document.
	Request jobs.Request

	ShowProgress     bool
	Quiet            bool
	ProgressInterval time.Duration
}

// DefaultConfig returns the batch defaults.
func DefaultConfig() Config {
	return Config{
		OutputDir:        "output",
		Format:           "xlsx",
		Sink:             sink.DefaultOptions(),
		Recursive:        true,
		IncludePatterns:  []string{"*.pdf"},
		Checkpoint:       ".tabscan-checkpoint.json",
		Resume:           true,
		ContinueOnError:  true,
		Workers:          2,
		ShowProgress:     true,
		ProgressInterval: 100 * time.Millisecond,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.OutputDir) == "" {
		return errors.New("output directory is required")
	}
	switch strings.ToLower(c.Format) {
	case "xlsx", "csv":
	default:
		return fmt.Errorf("unsupported output format %q", c.Format)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if err := c.Sink.Validate(); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	return nil
}
