package layout

import (
	"math"
	"slices"
)

// column is a recurring left-edge position range on the page.
type column struct {
	lo, hi float64
	center float64
	count  int
	bands  map[int]struct{}
}

type edge struct {
	x    float64
	band int
}

// clusterColumns groups the left edges of every piece on the page. Edges are
// swept in ascending order and averaged into the running cluster center
// while they stay within tolerance of it.
func clusterColumns(bands []*band, tolerance float64, minSupport int) []column {
	var edges []edge
	for bi, b := range bands {
		for _, p := range b.pieces {
			edges = append(edges, edge{x: p.box.X, band: bi})
		}
	}
	if len(edges) == 0 {
		return nil
	}
	slices.SortStableFunc(edges, func(a, b edge) int {
		switch {
		case a.x < b.x:
			return -1
		case a.x > b.x:
			return 1
		default:
			return a.band - b.band
		}
	})

	var clusters []column
	for _, e := range edges {
		if n := len(clusters); n > 0 && e.x-clusters[n-1].center <= tolerance {
			c := &clusters[n-1]
			c.count++
			c.center += (e.x - c.center) / float64(c.count)
			c.hi = e.x
			c.bands[e.band] = struct{}{}
			continue
		}
		clusters = append(clusters, column{
			lo: e.x, hi: e.x, center: e.x, count: 1,
			bands: map[int]struct{}{e.band: {}},
		})
	}

	supported := make([]column, 0, len(clusters))
	for _, c := range clusters {
		if len(c.bands) >= minSupport {
			supported = append(supported, c)
		}
	}
	// A page with too few bands to reach the support threshold still keeps
	// every position it saw.
	if len(supported) == 0 {
		return clusters
	}
	return supported
}

// nearestColumn returns the column whose range contains x, otherwise the one
// with the smallest distance to its range. Ties go to the lower index.
func nearestColumn(cols []column, x float64) int {
	best := 0
	bestDist := math.Inf(1)
	for i, c := range cols {
		var d float64
		switch {
		case x < c.lo:
			d = c.lo - x
		case x > c.hi:
			d = x - c.hi
		}
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func medianHeight(bands []*band) float64 {
	var hs []float64
	for _, b := range bands {
		for _, p := range b.pieces {
			hs = append(hs, p.box.Height)
		}
	}
	if len(hs) == 0 {
		return 0
	}
	slices.Sort(hs)
	mid := len(hs) / 2
	if len(hs)%2 == 1 {
		return hs[mid]
	}
	return (hs[mid-1] + hs[mid]) / 2
}
