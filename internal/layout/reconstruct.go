package layout

import (
	"cmp"
	"slices"
	"strings"

	"github.com/MeKo-Tech/tabscan/internal/model"
)

// Reconstructor turns a page's fragments into rows.
type Reconstructor struct {
	opts Options
}

// New returns a Reconstructor. Invalid options are replaced by the defaults.
func New(opts Options) *Reconstructor {
	if err := opts.Validate(); err != nil {
		opts = DefaultOptions()
	}
	return &Reconstructor{opts: opts}
}

// Options returns the options in effect.
func (r *Reconstructor) Options() Options { return r.opts }

// Reconstruct clusters the fragments of one page into bands and columns and
// returns one row per band, top to bottom. Every row on the page carries one
// cell per discovered column; rows from different pages may differ in width.
// An empty fragment set yields no rows.
func (r *Reconstructor) Reconstruct(page int, fragments []model.TextFragment) []model.Row {
	if len(fragments) == 0 {
		return nil
	}

	bands := buildBands(canonicalOrder(fragments), r.opts.BandOverlap)
	for _, b := range bands {
		mergePhrases(b, r.opts.MergeGapRatio)
	}

	tol := r.opts.ColumnTolerance
	if tol == 0 {
		tol = max(r.opts.ToleranceHeightRatio*medianHeight(bands), minSpan)
	}
	cols := clusterColumns(bands, tol, r.opts.MinColumnSupport)

	rows := make([]model.Row, 0, len(bands))
	for _, b := range bands {
		slots := make([][]piece, len(cols))
		for _, p := range b.pieces {
			i := nearestColumn(cols, p.box.X)
			slots[i] = append(slots[i], p)
		}

		cells := make([]model.Cell, len(cols))
		for i, s := range slots {
			cells[i] = r.fillCell(s)
		}
		rows = append(rows, model.Row{
			Cells:      cells,
			Confidence: rowConfidence(cells),
			PageIndex:  page,
		})
	}
	return rows
}

// fillCell combines the pieces sharing one slot. Pieces whose boxes overlap
// horizontally compete: the most confident one leads and the rest follow it
// after the delimiter. Disjoint pieces are joined left to right with a space.
func (r *Reconstructor) fillCell(pieces []piece) model.Cell {
	if len(pieces) == 0 {
		return model.Cell{}
	}

	var groups [][]piece
	var groupRight float64
	for _, p := range pieces {
		if n := len(groups); n > 0 && p.box.X < groupRight {
			groups[n-1] = append(groups[n-1], p)
			groupRight = max(groupRight, p.box.Right())
			continue
		}
		groups = append(groups, []piece{p})
		groupRight = p.box.Right()
	}

	var parts []string
	var confSum float64
	var confN int
	for _, g := range groups {
		slices.SortStableFunc(g, func(a, b piece) int {
			return cmp.Or(cmp.Compare(b.conf, a.conf), cmp.Compare(a.box.X, b.box.X), cmp.Compare(a.seq, b.seq))
		})
		var texts []string
		for _, p := range g {
			if p.text != "" {
				texts = append(texts, p.text)
			}
		}
		if len(texts) == 0 {
			continue
		}
		parts = append(parts, strings.Join(texts, r.opts.OverlapDelimiter))
		confSum += g[0].conf
		confN++
	}
	if confN == 0 {
		return model.Cell{}
	}
	return model.Cell{Text: strings.Join(parts, " "), Confidence: confSum / float64(confN)}
}

// rowConfidence is the mean confidence of the non-empty cells.
func rowConfidence(cells []model.Cell) float64 {
	var sum float64
	var n int
	for _, c := range cells {
		if c.Empty() {
			continue
		}
		sum += c.Confidence
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
