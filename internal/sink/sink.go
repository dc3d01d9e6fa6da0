// Package sink writes assembled tables to spreadsheet artifacts.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/MeKo-Tech/tabscan/internal/apperr"
	"github.com/MeKo-Tech/tabscan/internal/model"
)

// TableSink persists a finished table at dest.
type TableSink interface {
	Write(ctx context.Context, table model.Table, manifest model.Manifest, dest string) error
}

// Encoder streams a table in one output format.
type Encoder interface {
	Encode(w io.Writer, table model.Table, manifest model.Manifest) error
	ContentType() string
	Extension() string
}

// Options shared by all sinks.
type Options struct {
	// ConfidenceFloor marks rows for verification when any cell falls below it.
	ConfidenceFloor float64 `mapstructure:"confidence_floor" yaml:"confidence_floor" json:"confidence_floor"`
	CSVDelimiter    string  `mapstructure:"csv_delimiter" yaml:"csv_delimiter" json:"csv_delimiter"`
	SheetName       string  `mapstructure:"sheet_name" yaml:"sheet_name" json:"sheet_name"`
	// IncludeManifest adds a per-page manifest sheet to workbooks.
	IncludeManifest bool `mapstructure:"include_manifest" yaml:"include_manifest" json:"include_manifest"`
}

// DefaultOptions returns the output defaults.
func DefaultOptions() Options {
	return Options{
		ConfidenceFloor: 0.6,
		CSVDelimiter:    ";",
		SheetName:       "Records",
		IncludeManifest: true,
	}
}

// Validate checks the option values.
func (o Options) Validate() error {
	if o.ConfidenceFloor < 0 || o.ConfidenceFloor > 1 {
		return fmt.Errorf("confidence floor must be in [0,1], got %v", o.ConfidenceFloor)
	}
	if utf8.RuneCountInString(o.CSVDelimiter) != 1 {
		return fmt.Errorf("csv delimiter must be a single character, got %q", o.CSVDelimiter)
	}
	if r, _ := utf8.DecodeRuneInString(o.CSVDelimiter); r == '"' || r == '\r' || r == '\n' {
		return fmt.Errorf("csv delimiter %q is not allowed", o.CSVDelimiter)
	}
	if strings.TrimSpace(o.SheetName) == "" {
		return errors.New("sheet name is required")
	}
	if utf8.RuneCountInString(o.SheetName) > 31 {
		return errors.New("sheet name must be at most 31 characters")
	}
	return nil
}

func (o Options) delimiter() rune {
	r, _ := utf8.DecodeRuneInString(o.CSVDelimiter)
	if r == utf8.RuneError {
		return ';'
	}
	return r
}

// ForFormat returns the encoder for a format name ("xlsx" or "csv").
func ForFormat(format string, opts Options, logger *slog.Logger) (Encoder, error) {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "xlsx":
		return NewXLSX(opts, logger), nil
	case "csv":
		return NewCSV(opts, logger), nil
	default:
		return nil, fmt.Errorf("%w: unsupported output format %q", apperr.ErrInvalidRequest, format)
	}
}

// ForPath picks a sink from the destination file extension.
func ForPath(dest string, opts Options, logger *slog.Logger) (TableSink, error) {
	enc, err := ForFormat(filepath.Ext(dest), opts, logger)
	if err != nil {
		return nil, err
	}
	return enc.(TableSink), nil
}

// writeFile writes through a temporary sibling and renames it into place, so
// an interrupted write never leaves a truncated artifact at dest.
func writeFile(ctx context.Context, dest string, fn func(io.Writer) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := fn(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("rename into %s: %w", dest, err)
	}
	return nil
}
