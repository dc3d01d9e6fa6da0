package layout

import (
	"cmp"
	"slices"
	"strings"

	"github.com/MeKo-Tech/tabscan/internal/model"
)

// piece is a fragment or a merged phrase inside one band.
type piece struct {
	text string
	box  model.BBox
	conf float64
	// seq is the position in the canonical fragment order, used as the final tie-break.
	seq int
}

type band struct {
	top, bottom float64
	pieces      []piece
}

// minSpan keeps zero-height boxes from producing undefined overlap ratios.
const minSpan = 1.0

// canonicalOrder sorts fragments by position and content so that the same
// fragment set always yields the same bands regardless of input order.
func canonicalOrder(fragments []model.TextFragment) []piece {
	sorted := slices.Clone(fragments)
	slices.SortStableFunc(sorted, func(a, b model.TextFragment) int {
		return cmp.Or(
			cmp.Compare(a.Box.Y, b.Box.Y),
			cmp.Compare(a.Box.X, b.Box.X),
			cmp.Compare(a.Box.Height, b.Box.Height),
			cmp.Compare(a.Box.Width, b.Box.Width),
			strings.Compare(a.Text, b.Text),
			cmp.Compare(b.Confidence, a.Confidence),
		)
	})

	out := make([]piece, len(sorted))
	for i, f := range sorted {
		box := f.Box
		if box.Height < minSpan {
			box.Height = minSpan
		}
		if box.Width < 0 {
			box.Width = 0
		}
		out[i] = piece{
			text: strings.TrimSpace(f.Text),
			box:  box,
			conf: clamp01(f.Confidence),
			seq:  i,
		}
	}
	return out
}

// verticalOverlap returns the shared vertical extent as a fraction of the
// shorter of the two spans.
func verticalOverlap(top1, bottom1, top2, bottom2 float64) float64 {
	shared := min(bottom1, bottom2) - max(top1, top2)
	if shared <= 0 {
		return 0
	}
	shorter := max(min(bottom1-top1, bottom2-top2), minSpan)
	return shared / shorter
}

// buildBands assigns each piece to the band it overlaps most, or opens a new
// band. Ties go to the band that was opened first.
func buildBands(pieces []piece, threshold float64) []*band {
	var bands []*band
	for _, p := range pieces {
		best := -1
		bestRatio := threshold
		for i, b := range bands {
			r := verticalOverlap(p.box.Y, p.box.Bottom(), b.top, b.bottom)
			if r > bestRatio {
				best, bestRatio = i, r
			}
		}
		if best < 0 {
			bands = append(bands, &band{top: p.box.Y, bottom: p.box.Bottom(), pieces: []piece{p}})
			continue
		}
		b := bands[best]
		b.pieces = append(b.pieces, p)
		b.top = min(b.top, p.box.Y)
		b.bottom = max(b.bottom, p.box.Bottom())
	}

	for _, b := range bands {
		slices.SortStableFunc(b.pieces, func(x, y piece) int {
			return cmp.Or(cmp.Compare(x.box.X, y.box.X), cmp.Compare(x.seq, y.seq))
		})
	}
	slices.SortStableFunc(bands, func(x, y *band) int {
		return cmp.Or(cmp.Compare(x.top, y.top), cmp.Compare(x.pieces[0].seq, y.pieces[0].seq))
	})
	return bands
}

// mergePhrases joins words in a band whose horizontal gap is small relative
// to their height. Overlapping boxes are never merged here; they are resolved
// when cells are filled.
func mergePhrases(b *band, ratio float64) {
	if ratio <= 0 || len(b.pieces) < 2 {
		return
	}
	merged := make([]piece, 0, len(b.pieces))
	cur := b.pieces[0]
	n := 1
	for _, p := range b.pieces[1:] {
		gap := p.box.X - cur.box.Right()
		h := max(cur.box.Height, p.box.Height)
		if gap >= 0 && gap <= ratio*h && cur.text != "" && p.text != "" {
			cur.text = cur.text + " " + p.text
			cur.box = cur.box.Union(p.box)
			cur.conf = (cur.conf*float64(n) + p.conf) / float64(n+1)
			n++
			continue
		}
		merged = append(merged, cur)
		cur, n = p, 1
	}
	merged = append(merged, cur)
	b.pieces = merged
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
