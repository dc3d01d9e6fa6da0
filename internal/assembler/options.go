package assembler

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/MeKo-Tech/tabscan/internal/layout"
	"github.com/MeKo-Tech/tabscan/internal/raster"
)

// Options controls one assembly run.
type Options struct {
	Languages []string
	// MaxPages is the number of pages processed concurrently (0 = NumCPU).
	MaxPages int
	// PageTimeout bounds rendering plus recognition of a single page (0 = none).
	PageTimeout time.Duration
	// ConfidenceFloor is the cell confidence below which a cell counts as weak.
	ConfidenceFloor float64
	// DegradedFraction is the share of weak cells above which a page is degraded.
	DegradedFraction float64
	Raster           raster.Options
	Layout           layout.Options
}

// DefaultOptions returns the defaults used by the CLI and server.
func DefaultOptions() Options {
	return Options{
		Languages:        []string{"ron"},
		MaxPages:         2,
		PageTimeout:      2 * time.Minute,
		ConfidenceFloor:  0.6,
		DegradedFraction: 0.5,
		Raster:           raster.DefaultOptions(),
		Layout:           layout.DefaultOptions(),
	}
}

// Validate checks the option ranges.
func (o Options) Validate() error {
	if o.MaxPages < 0 {
		return errors.New("max concurrent pages must be non-negative")
	}
	if o.PageTimeout < 0 {
		return errors.New("page timeout must be non-negative")
	}
	if o.ConfidenceFloor < 0 || o.ConfidenceFloor > 1 {
		return fmt.Errorf("confidence floor must be in [0,1], got %v", o.ConfidenceFloor)
	}
	if o.DegradedFraction < 0 || o.DegradedFraction > 1 {
		return fmt.Errorf("degraded fraction must be in [0,1], got %v", o.DegradedFraction)
	}
	if err := o.Raster.Validate(); err != nil {
		return fmt.Errorf("raster: %w", err)
	}
	if err := o.Layout.Validate(); err != nil {
		return fmt.Errorf("layout: %w", err)
	}
	return nil
}

func (o Options) workers() int {
	if o.MaxPages > 0 {
		return o.MaxPages
	}
	return runtime.NumCPU()
}
