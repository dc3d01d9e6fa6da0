package sink

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/MeKo-Tech/tabscan/internal/model"
)

const manifestSheet = "Manifest"

// XLSX writes Excel workbooks.
type XLSX struct {
	opts   Options
	logger *slog.Logger
}

// NewXLSX creates an XLSX sink.
func NewXLSX(opts Options, logger *slog.Logger) *XLSX {
	if logger == nil {
		logger = slog.Default()
	}
	return &XLSX{opts: opts, logger: logger}
}

func (x *XLSX) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

func (x *XLSX) Extension() string { return ".xlsx" }

// Write saves the workbook at dest.
func (x *XLSX) Write(ctx context.Context, table model.Table, manifest model.Manifest, dest string) error {
	start := time.Now()
	err := writeFile(ctx, dest, func(w io.Writer) error {
		return x.Encode(w, table, manifest)
	})
	if err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	x.logger.Info("sink.xlsx.ok", "dest", dest, "rows", len(table.Rows),
		"columns", table.Columns, "elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

// Encode streams the workbook to w.
func (x *XLSX) Encode(w io.Writer, table model.Table, manifest model.Manifest) error {
	f, err := x.build(table, manifest)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return f.Write(w)
}

func (x *XLSX) build(table model.Table, manifest model.Manifest) (*excelize.File, error) {
	f := excelize.NewFile()
	sheet := x.opts.SheetName
	if sheet == "" {
		sheet = DefaultOptions().SheetName
	}
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	weak, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"FFF2CC"}},
	})
	if err != nil {
		return nil, err
	}

	source := hasSource(table.Rows)
	cols := header(table.Columns, source)
	if err := setRow(f, sheet, 1, toAny(cols)); err != nil {
		return nil, err
	}
	last, _ := excelize.CoordinatesToCellName(len(cols), 1)
	_ = f.SetCellStyle(sheet, "A1", last, bold)

	for i, r := range table.Rows {
		n := i + 2
		rec := record(r, table.Columns, x.opts.ConfidenceFloor, source)
		values := toAny(rec)
		values[0] = r.PageIndex + 1
		values[1] = round2(r.Confidence)
		if err := setRow(f, sheet, n, values); err != nil {
			return nil, err
		}
		for c, cell := range r.Cells {
			if cell.Empty() || cell.Confidence >= x.opts.ConfidenceFloor {
				continue
			}
			ref, _ := excelize.CoordinatesToCellName(c+3, n)
			_ = f.SetCellStyle(sheet, ref, ref, weak)
		}
	}

	_ = f.SetColWidth(sheet, "A", "B", 14)
	if table.Columns > 0 {
		from, _ := excelize.ColumnNumberToName(3)
		to, _ := excelize.ColumnNumberToName(table.Columns + 2)
		_ = f.SetColWidth(sheet, from, to, 22)
	}
	notes, _ := excelize.ColumnNumberToName(table.Columns + 4)
	_ = f.SetColWidth(sheet, notes, notes, 40)
	if source {
		src, _ := excelize.ColumnNumberToName(table.Columns + 5)
		_ = f.SetColWidth(sheet, src, src, 30)
	}
	_ = f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	if x.opts.IncludeManifest {
		if err := writeManifestSheet(f, manifest, bold); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func writeManifestSheet(f *excelize.File, m model.Manifest, bold int) error {
	if _, err := f.NewSheet(manifestSheet); err != nil {
		return err
	}
	source := slices.ContainsFunc(m.Pages, func(p model.PageOutcome) bool { return p.Source != "" })
	head := []any{"Page", "Status", "Rows", "Fragments", "Mean Confidence", "Duration (ms)", "Reason"}
	if source {
		head = append(head, "Source")
	}
	if err := setRow(f, manifestSheet, 1, head); err != nil {
		return err
	}
	last, _ := excelize.CoordinatesToCellName(len(head), 1)
	_ = f.SetCellStyle(manifestSheet, "A1", last, bold)
	for i, p := range m.Pages {
		row := []any{p.Page + 1, string(p.Status), p.Rows, p.Fragments,
			round2(p.MeanConfidence), p.Duration.Milliseconds(), p.Reason}
		if source {
			row = append(row, p.Source)
		}
		if err := setRow(f, manifestSheet, i+2, row); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(manifestSheet, "G", "G", 60)
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func toAny(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
