package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"

	"github.com/MeKo-Tech/tabscan/internal/model"
)

// CSV writes delimited text with the same columns as the workbook's records
// sheet.
type CSV struct {
	opts   Options
	logger *slog.Logger
}

// NewCSV creates a CSV sink.
func NewCSV(opts Options, logger *slog.Logger) *CSV {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSV{opts: opts, logger: logger}
}

func (c *CSV) ContentType() string { return "text/csv; charset=utf-8" }
func (c *CSV) Extension() string   { return ".csv" }

// Write saves the table at dest.
func (c *CSV) Write(ctx context.Context, table model.Table, manifest model.Manifest, dest string) error {
	err := writeFile(ctx, dest, func(w io.Writer) error {
		return c.Encode(w, table, manifest)
	})
	if err != nil {
		return fmt.Errorf("csv write: %w", err)
	}
	c.logger.Info("sink.csv.ok", "dest", dest, "rows", len(table.Rows), "columns", table.Columns)
	return nil
}

// Encode writes the table to w. The manifest is not part of the CSV output.
func (c *CSV) Encode(w io.Writer, table model.Table, _ model.Manifest) error {
	cw := csv.NewWriter(w)
	cw.Comma = c.opts.delimiter()
	source := hasSource(table.Rows)
	if err := cw.Write(header(table.Columns, source)); err != nil {
		return err
	}
	for _, r := range table.Rows {
		if err := cw.Write(record(r, table.Columns, c.opts.ConfidenceFloor, source)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
