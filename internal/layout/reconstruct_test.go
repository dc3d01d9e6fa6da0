package layout

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/tabscan/internal/model"
)

func frag(text string, x, y, w, h, conf float64) model.TextFragment {
	return model.TextFragment{
		Text:       text,
		Box:        model.BBox{X: x, Y: y, Width: w, Height: h},
		Confidence: conf,
	}
}

func values(rows []model.Row) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = r.Values()
	}
	return out
}

func gridFragments() []model.TextFragment {
	return []model.TextFragment{
		frag("C2", 400, 141, 60, 20, 0.9),
		frag("A1", 50, 100, 60, 20, 0.9),
		frag("B3", 202, 180, 60, 20, 0.9),
		frag("A3", 51, 178, 60, 20, 0.9),
		frag("B1", 200, 103, 60, 20, 0.9),
		frag("C1", 398, 98, 60, 20, 0.9),
		frag("A2", 49, 140, 60, 20, 0.9),
		frag("C3", 401, 182, 60, 20, 0.9),
		frag("B2", 199, 139, 60, 20, 0.9),
	}
}

func TestReconstructEmpty(t *testing.T) {
	r := New(DefaultOptions())
	assert.Empty(t, r.Reconstruct(0, nil))
	assert.Empty(t, r.Reconstruct(3, []model.TextFragment{}))
}

func TestReconstructGrid(t *testing.T) {
	r := New(DefaultOptions())
	rows := r.Reconstruct(2, gridFragments())

	require.Len(t, rows, 3)
	assert.Equal(t, [][]string{
		{"A1", "B1", "C1"},
		{"A2", "B2", "C2"},
		{"A3", "B3", "C3"},
	}, values(rows))
	for _, row := range rows {
		assert.Equal(t, 2, row.PageIndex)
		assert.InDelta(t, 0.9, row.Confidence, 1e-9)
	}
}

func TestReconstructDeterministic(t *testing.T) {
	r := New(DefaultOptions())
	input := gridFragments()
	input = append(input,
		frag("note", 300, 220, 40, 20, 0.7),
		frag("x", 300, 220, 40, 20, 0.5),
	)
	want := values(r.Reconstruct(0, input))

	rng := rand.New(rand.NewPCG(1, 2))
	for range 20 {
		shuffled := slices.Clone(input)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		assert.Equal(t, want, values(r.Reconstruct(0, shuffled)))
	}
}

func TestReconstructUnalignedFragmentGoesToNearestColumn(t *testing.T) {
	r := New(DefaultOptions())
	input := []model.TextFragment{
		frag("A1", 50, 100, 60, 20, 0.9),
		frag("B1", 200, 100, 60, 20, 0.9),
		frag("C1", 400, 100, 60, 20, 0.9),
		frag("A2", 50, 140, 60, 20, 0.9),
		frag("B2", 200, 140, 60, 20, 0.9),
		frag("X", 330, 140, 40, 20, 0.9),
		frag("C3", 400, 180, 60, 20, 0.9),
	}
	rows := r.Reconstruct(0, input)

	assert.Equal(t, [][]string{
		{"A1", "B1", "C1"},
		{"A2", "B2", "X"},
		{"", "", "C3"},
	}, values(rows))
}

func TestReconstructOverlapHigherConfidenceWins(t *testing.T) {
	r := New(DefaultOptions())
	input := []model.TextFragment{
		frag("A1", 50, 100, 60, 20, 0.8),
		frag("5O0", 200, 100, 60, 20, 0.4),
		frag("500", 205, 101, 55, 20, 0.9),
		frag("A2", 50, 140, 60, 20, 0.8),
		frag("B2", 200, 140, 60, 20, 0.8),
	}
	rows := r.Reconstruct(0, input)

	require.Len(t, rows, 2)
	assert.Equal(t, []string{"A1", "500 | 5O0"}, rows[0].Values())
	assert.InDelta(t, 0.9, rows[0].Cells[1].Confidence, 1e-9)
	assert.InDelta(t, (0.8+0.9)/2, rows[0].Confidence, 1e-9)
}

func TestReconstructMergesPhrases(t *testing.T) {
	input := []model.TextFragment{
		frag("Ion", 50, 100, 30, 20, 0.8),
		frag("Popescu", 85, 100, 70, 20, 0.6),
		frag("12", 300, 100, 20, 20, 0.9),
		frag("Maria", 50, 140, 50, 20, 0.9),
		frag("Ionescu", 105, 140, 70, 20, 0.9),
		frag("7", 300, 140, 10, 20, 0.9),
	}
	want := [][]string{{"Ion Popescu", "12"}, {"Maria Ionescu", "7"}}

	rows := New(DefaultOptions()).Reconstruct(0, input)
	assert.Equal(t, want, values(rows))
	assert.InDelta(t, 0.7, rows[0].Cells[0].Confidence, 1e-9)

	noMerge := DefaultOptions()
	noMerge.MergeGapRatio = 0
	assert.Equal(t, want, values(New(noMerge).Reconstruct(0, input)))
}

func TestReconstructSingleBandKeepsAllPositions(t *testing.T) {
	r := New(DefaultOptions())
	rows := r.Reconstruct(0, []model.TextFragment{
		frag("Nr.", 50, 100, 30, 20, 0.9),
		frag("Nume", 200, 100, 50, 20, 0.9),
		frag("Suprafata", 400, 100, 90, 20, 0.9),
	})
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"Nr.", "Nume", "Suprafata"}, rows[0].Values())
}

func TestReconstructKeepsEmptyRows(t *testing.T) {
	r := New(DefaultOptions())
	input := append(gridFragments(), frag("  ", 50, 300, 60, 20, 0.5))
	rows := r.Reconstruct(0, input)

	require.Len(t, rows, 4)
	assert.Equal(t, []string{"", "", ""}, rows[3].Values())
	assert.Zero(t, rows[3].Confidence)
}

func TestReconstructToleratesBaselineJitter(t *testing.T) {
	r := New(DefaultOptions())
	rows := r.Reconstruct(0, []model.TextFragment{
		frag("a", 50, 100, 40, 20, 0.9),
		frag("b", 200, 108, 40, 20, 0.9),
		frag("c", 50, 140, 40, 20, 0.9),
		frag("d", 200, 133, 40, 20, 0.9),
	})
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}}, values(rows))
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr bool
	}{
		{"defaults", func(*Options) {}, false},
		{"overlap too high", func(o *Options) { o.BandOverlap = 1 }, true},
		{"negative tolerance", func(o *Options) { o.ColumnTolerance = -1 }, true},
		{"zero ratio derived", func(o *Options) { o.ToleranceHeightRatio = 0 }, true},
		{"zero ratio explicit", func(o *Options) { o.ToleranceHeightRatio = 0; o.ColumnTolerance = 10 }, false},
		{"support", func(o *Options) { o.MinColumnSupport = 0 }, true},
		{"merge", func(o *Options) { o.MergeGapRatio = -0.1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultOptions()
			tt.mutate(&o)
			err := o.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVerticalOverlap(t *testing.T) {
	assert.InDelta(t, 1.0, verticalOverlap(0, 10, 0, 20), 1e-9)
	assert.InDelta(t, 0.5, verticalOverlap(0, 10, 5, 15), 1e-9)
	assert.Zero(t, verticalOverlap(0, 10, 10, 20))
}

func TestNearestColumnTieGoesLow(t *testing.T) {
	cols := []column{{lo: 100, hi: 100}, {lo: 300, hi: 300}}
	assert.Equal(t, 0, nearestColumn(cols, 200))
	assert.Equal(t, 1, nearestColumn(cols, 201))
	assert.Equal(t, 1, nearestColumn(cols, 300))
}
