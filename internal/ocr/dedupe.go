package ocr

import (
	"cmp"
	"slices"

	"github.com/tidwall/rtree"

	"github.com/MeKo-Tech/tabscan/internal/model"
)

// dedupe drops fragments whose box overlaps an already kept fragment by at
// least iou. Fragments are considered in descending confidence, so the most
// confident reading of a word survives; equal confidences keep the fragment
// that appeared first. The survivors are returned in their input order.
func dedupe(frags []model.TextFragment, iou float64) []model.TextFragment {
	if len(frags) < 2 {
		return frags
	}

	order := make([]int, len(frags))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(frags[b].Confidence, frags[a].Confidence)
	})

	var tr rtree.RTreeG[int]
	kept := make([]int, 0, len(frags))
	for _, i := range order {
		lo, hi := bounds(frags[i].Box)
		dup := false
		tr.Search(lo, hi, func(_, _ [2]float64, j int) bool {
			if frags[j].Box.IoU(frags[i].Box) >= iou {
				dup = true
				return false
			}
			return true
		})
		if dup {
			continue
		}
		tr.Insert(lo, hi, i)
		kept = append(kept, i)
	}

	slices.Sort(kept)
	out := make([]model.TextFragment, len(kept))
	for k, i := range kept {
		out[k] = frags[i]
	}
	return out
}

func bounds(b model.BBox) (lo, hi [2]float64) {
	return [2]float64{b.X, b.Y}, [2]float64{b.Right(), b.Bottom()}
}
