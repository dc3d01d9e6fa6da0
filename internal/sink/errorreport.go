package sink

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"unicode/utf8"

	"github.com/MeKo-Tech/tabscan/internal/apperr"
	"github.com/MeKo-Tech/tabscan/internal/model"
)

// ErrorKind classifies a document that produced no usable table.
type ErrorKind string

const (
	ErrorEmptyPDF  ErrorKind = "EMPTY_PDF"
	ErrorOCRFailed ErrorKind = "OCR_FAILED"
	ErrorParse     ErrorKind = "PARSE_ERROR"
	ErrorException ErrorKind = "EXCEPTION"
)

const maxDetails = 200

// ErrorEntry is one line of the batch error report.
type ErrorEntry struct {
	File    string    `json:"file"`
	Type    ErrorKind `json:"type"`
	Details string    `json:"details"`
}

// ClassifyFailure reports whether a processed document belongs in the error
// report and why. Documents that yielded at least one row are not reported.
func ClassifyFailure(file string, res *model.JobResult, err error) (ErrorEntry, bool) {
	entry := ErrorEntry{File: file}
	switch {
	case err != nil && !errors.Is(err, apperr.ErrTimedOut) && (res == nil || len(res.Table.Rows) == 0):
		entry.Type, entry.Details = ErrorException, err.Error()
	case res == nil:
		return entry, false
	case len(res.Table.Rows) > 0:
		return entry, false
	case len(res.Manifest.Pages) == 0:
		entry.Type, entry.Details = ErrorEmptyPDF, "document has no pages"
	case res.Manifest.Count(model.PageFailed) == len(res.Manifest.Pages):
		entry.Type, entry.Details = ErrorOCRFailed, firstReason(res.Manifest)
	default:
		entry.Type, entry.Details = ErrorParse, "no table rows recognized"
	}
	entry.Details = truncate(entry.Details, maxDetails)
	return entry, true
}

func firstReason(m model.Manifest) string {
	for _, p := range m.Pages {
		if p.Reason != "" {
			return p.Reason
		}
	}
	return "no readable text"
}

// WriteErrorReport writes entries as delimited text under a
// file/type/details header.
func WriteErrorReport(w io.Writer, entries []ErrorEntry, delimiter rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = delimiter
	if err := cw.Write([]string{"file", "type", "details"}); err != nil {
		return err
	}
	for _, e := range entries {
		if err := cw.Write([]string{e.File, string(e.Type), e.Details}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteErrorReportFile saves the report at dest.
func WriteErrorReportFile(ctx context.Context, entries []ErrorEntry, opts Options, dest string) error {
	return writeFile(ctx, dest, func(w io.Writer) error {
		return WriteErrorReport(w, entries, opts.delimiter())
	})
}

func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
