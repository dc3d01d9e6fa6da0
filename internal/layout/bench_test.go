package layout

import (
	"fmt"
	"testing"

	"github.com/MeKo-Tech/tabscan/internal/testutil"
)

func benchGrid(rows, cols int) [][]string {
	grid := make([][]string, rows)
	for r := range grid {
		grid[r] = make([]string, cols)
		for c := range grid[r] {
			grid[r][c] = fmt.Sprintf("r%dc%d", r, c)
		}
	}
	return grid
}

func BenchmarkReconstruct(b *testing.B) {
	for _, size := range []struct{ rows, cols int }{{10, 4}, {60, 8}, {200, 12}} {
		frags := testutil.GridFragments(benchGrid(size.rows, size.cols), 0.9)
		b.Run(fmt.Sprintf("%dx%d", size.rows, size.cols), func(b *testing.B) {
			r := New(DefaultOptions())
			b.ReportAllocs()
			b.ResetTimer()
			for range b.N {
				if rows := r.Reconstruct(0, frags); len(rows) != size.rows {
					b.Fatalf("got %d rows, want %d", len(rows), size.rows)
				}
			}
		})
	}
}
