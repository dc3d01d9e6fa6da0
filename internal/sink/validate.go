package sink

import (
	"fmt"
	"strings"

	"github.com/MeKo-Tech/tabscan/internal/model"
)

// Validation is the per-row review verdict written next to the data.
type Validation string

const (
	ValidationOK     Validation = "OK"
	ValidationVerify Validation = "VERIFY"
)

// ValidateRow flags rows with any non-empty cell below floor, naming the
// affected columns in the returned note.
func ValidateRow(r model.Row, floor float64) (Validation, string) {
	if r.NonEmpty() == 0 {
		return ValidationVerify, "empty row"
	}
	var weak []string
	for i, c := range r.Cells {
		if !c.Empty() && c.Confidence < floor {
			weak = append(weak, columnName(i))
		}
	}
	if len(weak) == 0 {
		return ValidationOK, ""
	}
	return ValidationVerify, "low confidence: " + strings.Join(weak, ", ")
}

func columnName(i int) string {
	return fmt.Sprintf("Col %d", i+1)
}

// header names the output columns. Tables merged across documents get a
// trailing Source column.
func header(columns int, source bool) []string {
	h := make([]string, 0, columns+5)
	h = append(h, "Page", "Row Confidence")
	for i := range columns {
		h = append(h, columnName(i))
	}
	h = append(h, "Status", "Notes")
	if source {
		h = append(h, "Source")
	}
	return h
}

func hasSource(rows []model.Row) bool {
	for _, r := range rows {
		if r.Source != "" {
			return true
		}
	}
	return false
}

func record(r model.Row, columns int, floor float64, source bool) []string {
	status, note := ValidateRow(r, floor)
	rec := make([]string, 0, columns+5)
	rec = append(rec, fmt.Sprint(r.PageIndex+1), fmt.Sprintf("%.2f", r.Confidence))
	for i := range columns {
		if i < len(r.Cells) {
			rec = append(rec, r.Cells[i].Text)
		} else {
			rec = append(rec, "")
		}
	}
	rec = append(rec, string(status), note)
	if source {
		rec = append(rec, r.Source)
	}
	return rec
}
