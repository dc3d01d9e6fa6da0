// Package layout rebuilds rows and columns from the unordered text fragments
// of a single page. Everything here is pure computation over immutable
// fragment geometry, so a Reconstructor may be shared between goroutines.
package layout

import (
	"errors"
	"fmt"
)

// Options tunes the reconstruction heuristics.
type Options struct {
	// BandOverlap is the fraction of the shorter vertical span two boxes
	// must share to land in the same band. Must be in [0,1).
	BandOverlap float64
	// ColumnTolerance is the pixel distance within which left edges are
	// clustered into one column. Zero derives it from the median phrase
	// height on the page.
	ColumnTolerance float64
	// ToleranceHeightRatio scales the median height when ColumnTolerance is zero.
	ToleranceHeightRatio float64
	// MinColumnSupport is the number of distinct bands a column must appear in.
	MinColumnSupport int
	// MergeGapRatio merges neighbouring words in a band into a phrase when
	// their horizontal gap is at most ratio × height. Zero disables merging.
	MergeGapRatio float64
	// OverlapDelimiter separates overlapping fragments sharing one cell.
	OverlapDelimiter string
}

// DefaultOptions returns tuned defaults for 300 dpi scans.
func DefaultOptions() Options {
	return Options{
		BandOverlap:          0.5,
		ToleranceHeightRatio: 0.75,
		MinColumnSupport:     2,
		MergeGapRatio:        0.6,
		OverlapDelimiter:     " | ",
	}
}

// Validate checks the option ranges.
func (o Options) Validate() error {
	if o.BandOverlap < 0 || o.BandOverlap >= 1 {
		return fmt.Errorf("band overlap must be in [0,1), got %v", o.BandOverlap)
	}
	if o.ColumnTolerance < 0 {
		return errors.New("column tolerance must be non-negative")
	}
	if o.ColumnTolerance == 0 && o.ToleranceHeightRatio <= 0 {
		return errors.New("tolerance height ratio must be positive when column tolerance is derived")
	}
	if o.MinColumnSupport < 1 {
		return fmt.Errorf("min column support must be at least 1, got %d", o.MinColumnSupport)
	}
	if o.MergeGapRatio < 0 {
		return errors.New("merge gap ratio must be non-negative")
	}
	return nil
}
