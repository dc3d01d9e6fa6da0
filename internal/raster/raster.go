// Package raster renders the pages of scanned PDF documents into images at a
// fixed target resolution.
package raster

import (
	"context"
	"errors"
	"iter"

	"github.com/MeKo-Tech/tabscan/internal/model"
)

// Rasterizer opens documents for rendering.
type Rasterizer interface {
	// Open parses the source. It fails with apperr.ErrUnreadableDocument
	// when the source is not a readable paginated document.
	Open(ctx context.Context, source string, opts Options) (Document, error)
}

// Document is an opened source whose pages can be rendered on demand.
// Rendering the same index twice yields equivalent pages; a rendered Page
// is owned by the caller and must be released.
type Document interface {
	ID() string
	PageCount() int
	// Render rasterizes a single page. Failures are page-scoped render errors.
	Render(ctx context.Context, index int) (*model.Page, error)
	// Pages renders every page in order. Each call starts a fresh sequence.
	Pages(ctx context.Context) iter.Seq2[*model.Page, error]
	Close() error
}

// Options controls rendering.
type Options struct {
	// DPI is the target resolution pages are resampled to.
	DPI int `mapstructure:"dpi" yaml:"dpi" json:"dpi"`
	// Grayscale converts rendered pages to 8-bit gray.
	Grayscale bool `mapstructure:"grayscale" yaml:"grayscale" json:"grayscale"`
	// MaxPages limits rendering to the leading pages. Zero renders all.
	MaxPages int `mapstructure:"max_pages" yaml:"max_pages" json:"max_pages"`
	// Password unlocks encrypted documents.
	Password string `mapstructure:"password" yaml:"password" json:"-"`
	// ScratchDir is the parent for temporary page storage. Empty uses os.TempDir.
	ScratchDir string `mapstructure:"scratch_dir" yaml:"scratch_dir" json:"scratch_dir"`
}

// DefaultOptions renders grayscale pages at 300 dpi.
func DefaultOptions() Options {
	return Options{DPI: 300, Grayscale: true}
}

// Validate checks option ranges.
func (o Options) Validate() error {
	if o.DPI < 50 || o.DPI > 1200 {
		return errors.New("dpi must be between 50 and 1200")
	}
	if o.MaxPages < 0 {
		return errors.New("max pages must be non-negative")
	}
	return nil
}

// pageSeq renders pages of d one after another until the consumer stops or
// ctx is done.
func pageSeq(ctx context.Context, d Document) iter.Seq2[*model.Page, error] {
	return func(yield func(*model.Page, error) bool) {
		for i := range d.PageCount() {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			p, err := d.Render(ctx, i)
			if !yield(p, err) {
				return
			}
		}
	}
}
