package sink

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/tabscan/internal/apperr"
	"github.com/MeKo-Tech/tabscan/internal/model"
)

func sampleTable() (model.Table, model.Manifest) {
	table := model.Table{
		Columns: 3,
		Rows: []model.Row{
			{PageIndex: 0, Confidence: 0.95, Cells: []model.Cell{{"1", 0.97}, {"Popescu Ion", 0.93}, {"12,50", 0.95}}},
			{PageIndex: 1, Confidence: 0.6, Cells: []model.Cell{{"2", 0.9}, {"Ionescu; Ana", 0.4}, {"", 0}}},
		},
	}
	manifest := model.Manifest{Pages: []model.PageOutcome{
		{Page: 0, Status: model.PageSuccess, Rows: 1, Fragments: 3, MeanConfidence: 0.95, Duration: 1500 * time.Millisecond},
		{Page: 1, Status: model.PageDegraded, Rows: 1, Fragments: 2, MeanConfidence: 0.65, Reason: "1 of 2 cells below confidence floor 0.60"},
	}}
	return table, manifest
}

func TestValidateRow(t *testing.T) {
	tests := []struct {
		name   string
		row    model.Row
		want   Validation
		noteIn string
	}{
		{"all strong", model.Row{Cells: []model.Cell{{"a", 0.9}, {"b", 0.8}}}, ValidationOK, ""},
		{"weak cell", model.Row{Cells: []model.Cell{{"a", 0.9}, {"b", 0.2}, {"c", 0.1}}}, ValidationVerify, "Col 2, Col 3"},
		{"empty weak cell ignored", model.Row{Cells: []model.Cell{{"a", 0.9}, {"", 0}}}, ValidationOK, ""},
		{"empty row", model.Row{Cells: []model.Cell{{"", 0}}}, ValidationVerify, "empty row"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, note := ValidateRow(tt.row, 0.6)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, note, tt.noteIn)
		})
	}
}

func TestCSVEncode(t *testing.T) {
	table, manifest := sampleTable()
	var buf bytes.Buffer
	require.NoError(t, NewCSV(DefaultOptions(), nil).Encode(&buf, table, manifest))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Page;Row Confidence;Col 1;Col 2;Col 3;Status;Notes", lines[0])
	assert.Equal(t, "1;0.95;1;Popescu Ion;12,50;OK;", lines[1])
	assert.Equal(t, `2;0.60;2;"Ionescu; Ana";;VERIFY;low confidence: Col 2`, lines[2])
}

func TestCSVCustomDelimiter(t *testing.T) {
	table, manifest := sampleTable()
	opts := DefaultOptions()
	opts.CSVDelimiter = ","
	var buf bytes.Buffer
	require.NoError(t, NewCSV(opts, nil).Encode(&buf, table, manifest))
	assert.True(t, strings.HasPrefix(buf.String(), "Page,Row Confidence,Col 1"))
}

func TestSourceColumn(t *testing.T) {
	table, manifest := sampleTable()
	table.Rows[0].Source = "a.pdf"
	table.Rows[1].Source = "b.pdf"
	manifest.Pages[1].Source = "b.pdf"

	var buf bytes.Buffer
	require.NoError(t, NewCSV(DefaultOptions(), nil).Encode(&buf, table, manifest))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, "Page;Row Confidence;Col 1;Col 2;Col 3;Status;Notes;Source", lines[0])
	assert.True(t, strings.HasSuffix(lines[1], ";OK;;a.pdf"), lines[1])

	buf.Reset()
	require.NoError(t, NewXLSX(DefaultOptions(), nil).Encode(&buf, table, manifest))
	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows("Records")
	require.NoError(t, err)
	assert.Equal(t, "Source", rows[0][7])
	assert.Equal(t, "b.pdf", rows[2][7])

	pages, err := f.GetRows("Manifest")
	require.NoError(t, err)
	assert.Equal(t, "Source", pages[0][7])
	assert.Equal(t, "b.pdf", pages[2][7])
}

func TestXLSXWrite(t *testing.T) {
	table, manifest := sampleTable()
	dest := filepath.Join(t.TempDir(), "out", "result.xlsx")

	require.NoError(t, NewXLSX(DefaultOptions(), nil).Write(context.Background(), table, manifest, dest))

	f, err := excelize.OpenFile(dest)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.Equal(t, []string{"Records", "Manifest"}, f.GetSheetList())

	rows, err := f.GetRows("Records")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Page", "Row Confidence", "Col 1", "Col 2", "Col 3", "Status", "Notes"}, rows[0])
	assert.Equal(t, []string{"1", "0.95", "1", "Popescu Ion", "12,50", "OK"}, rows[1])
	assert.Equal(t, "Ionescu; Ana", rows[2][3])
	assert.Equal(t, "VERIFY", rows[2][5])

	weak, err := f.GetCellStyle("Records", "D3")
	require.NoError(t, err)
	strong, err := f.GetCellStyle("Records", "D2")
	require.NoError(t, err)
	assert.NotEqual(t, strong, weak)

	mrows, err := f.GetRows("Manifest")
	require.NoError(t, err)
	require.Len(t, mrows, 3)
	assert.Equal(t, "degraded", mrows[2][1])
	assert.Equal(t, "1500", mrows[1][5])
}

func TestXLSXWithoutManifest(t *testing.T) {
	table, manifest := sampleTable()
	opts := DefaultOptions()
	opts.IncludeManifest = false
	opts.SheetName = "Date"

	var buf bytes.Buffer
	require.NoError(t, NewXLSX(opts, nil).Encode(&buf, table, manifest))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	assert.Equal(t, []string{"Date"}, f.GetSheetList())
}

func TestXLSXEmptyTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewXLSX(DefaultOptions(), nil).Encode(&buf, model.Table{}, model.Manifest{}))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := f.GetRows("Records")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Page", "Row Confidence", "Status", "Notes"}}, rows)
}

func TestWriteCancelledLeavesNoFile(t *testing.T) {
	table, manifest := sampleTable()
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewCSV(DefaultOptions(), nil).Write(ctx, table, manifest, filepath.Join(dir, "x.csv"))
	require.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestForPath(t *testing.T) {
	s, err := ForPath("a/b/out.XLSX", DefaultOptions(), nil)
	require.NoError(t, err)
	assert.IsType(t, &XLSX{}, s)

	s, err = ForPath("out.csv", DefaultOptions(), nil)
	require.NoError(t, err)
	assert.IsType(t, &CSV{}, s)

	_, err = ForPath("out.ods", DefaultOptions(), nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr bool
	}{
		{"defaults", func(*Options) {}, false},
		{"tab delimiter", func(o *Options) { o.CSVDelimiter = "\t" }, false},
		{"long delimiter", func(o *Options) { o.CSVDelimiter = ";;" }, true},
		{"quote delimiter", func(o *Options) { o.CSVDelimiter = `"` }, true},
		{"floor", func(o *Options) { o.ConfidenceFloor = 2 }, true},
		{"no sheet", func(o *Options) { o.SheetName = " " }, true},
		{"long sheet", func(o *Options) { o.SheetName = strings.Repeat("x", 32) }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultOptions()
			tt.mutate(&o)
			if tt.wantErr {
				assert.Error(t, o.Validate())
			} else {
				assert.NoError(t, o.Validate())
			}
		})
	}
}

func TestEncodeManifest(t *testing.T) {
	table, manifest := sampleTable()
	res := &model.JobResult{DocumentID: "scan.pdf", Status: model.StatusPartial, Table: table, Manifest: manifest}

	var buf bytes.Buffer
	require.NoError(t, EncodeManifest(&buf, res))

	var got map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "scan.pdf", got["document"])
	assert.Equal(t, "partial", got["status"])
	assert.Equal(t, 2, got["rows"])
	pages, ok := got["pages"].([]any)
	require.True(t, ok)
	assert.Len(t, pages, 2)
}

func TestClassifyFailure(t *testing.T) {
	failed := &model.JobResult{Manifest: model.Manifest{Pages: []model.PageOutcome{
		{Page: 0, Status: model.PageFailed, Reason: "page 0: recognize: recognition failed: engine"},
	}}}
	noRows := &model.JobResult{Manifest: model.Manifest{Pages: []model.PageOutcome{{Page: 0, Status: model.PageSuccess}}}}
	withRows, _ := sampleTable()

	tests := []struct {
		name     string
		res      *model.JobResult
		err      error
		reported bool
		kind     ErrorKind
	}{
		{"rows present", &model.JobResult{Table: withRows}, nil, false, ""},
		{"no pages", &model.JobResult{}, nil, true, ErrorEmptyPDF},
		{"all pages failed", failed, nil, true, ErrorOCRFailed},
		{"pages without rows", noRows, nil, true, ErrorParse},
		{"open error", &model.JobResult{}, apperr.ErrUnreadableDocument, true, ErrorException},
		{"error with rows", &model.JobResult{Table: withRows}, errors.New("late"), false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, ok := ClassifyFailure("a.pdf", tt.res, tt.err)
			assert.Equal(t, tt.reported, ok)
			if ok {
				assert.Equal(t, "a.pdf", entry.File)
				assert.Equal(t, tt.kind, entry.Type)
				assert.NotEmpty(t, entry.Details)
			}
		})
	}
}

func TestWriteErrorReport(t *testing.T) {
	var buf bytes.Buffer
	entries := []ErrorEntry{
		{File: "a.pdf", Type: ErrorEmptyPDF, Details: "document has no pages"},
		{File: "b.pdf", Type: ErrorException, Details: truncate(strings.Repeat("x", 300), maxDetails)},
	}
	require.NoError(t, WriteErrorReport(&buf, entries, ';'))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "file;type;details", lines[0])
	assert.Equal(t, "a.pdf;EMPTY_PDF;document has no pages", lines[1])
	assert.Len(t, []rune(strings.TrimPrefix(lines[2], "b.pdf;EXCEPTION;")), maxDetails)
}
