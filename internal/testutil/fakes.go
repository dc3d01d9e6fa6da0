// Package testutil provides fixtures and fake adapters for pipeline tests.
package testutil

import (
	"context"
	"fmt"
	"image"
	"iter"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/tabscan/internal/apperr"
	"github.com/MeKo-Tech/tabscan/internal/model"
	"github.com/MeKo-Tech/tabscan/internal/raster"
)

// PageScript describes how one fake page behaves.
type PageScript struct {
	Fragments      []model.TextFragment
	RenderErr      error
	RecognizeErr   error
	RenderDelay    time.Duration
	RecognizeDelay time.Duration
}

// Pipeline is a scripted rasterizer and recognizer pair. Documents are
// registered by source name; each rendered page remembers its script so the
// recognizer can answer for it.
type Pipeline struct {
	mu   sync.Mutex
	docs map[string][]PageScript
	live map[*image.Gray]PageScript

	Opened     atomic.Int64
	Rendered   atomic.Int64
	Released   atomic.Int64
	Recognized atomic.Int64
	// MaxInFlight is the highest number of pages rendering at once.
	MaxInFlight atomic.Int64
	inFlight    atomic.Int64
}

// NewPipeline returns an empty fake pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{
		docs: make(map[string][]PageScript),
		live: make(map[*image.Gray]PageScript),
	}
}

// AddDocument registers a document under source. Sources opened by full
// path also match on their base name.
func (p *Pipeline) AddDocument(source string, pages ...PageScript) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.docs[source] = pages
}

// Outstanding returns rendered pages that were not released yet.
func (p *Pipeline) Outstanding() int64 {
	return p.Rendered.Load() - p.Released.Load()
}

// Open implements raster.Rasterizer.
func (p *Pipeline) Open(ctx context.Context, source string, opts raster.Options) (raster.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	pages, ok := p.docs[source]
	if !ok {
		pages, ok = p.docs[filepath.Base(source)]
	}
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s: not a pdf", apperr.ErrUnreadableDocument, source)
	}
	if opts.MaxPages > 0 && opts.MaxPages < len(pages) {
		pages = pages[:opts.MaxPages]
	}
	p.Opened.Add(1)
	return &fakeDocument{p: p, id: source, pages: pages, dpi: opts.DPI}, nil
}

// Recognize implements the assembler's recognizer contract.
func (p *Pipeline) Recognize(ctx context.Context, page *model.Page, _ []string) ([]model.TextFragment, error) {
	gray, _ := page.Image.(*image.Gray)
	p.mu.Lock()
	script, ok := p.live[gray]
	p.mu.Unlock()
	if !ok {
		return nil, apperr.NewRecognitionError(page.Index, fmt.Errorf("unknown raster"))
	}
	if err := sleep(ctx, script.RecognizeDelay); err != nil {
		return nil, apperr.NewRecognitionError(page.Index, err)
	}
	if script.RecognizeErr != nil {
		return nil, apperr.NewRecognitionError(page.Index, script.RecognizeErr)
	}
	p.Recognized.Add(1)

	out := make([]model.TextFragment, len(script.Fragments))
	for i, f := range script.Fragments {
		f.PageIndex = page.Index
		out[i] = f
	}
	return out, nil
}

type fakeDocument struct {
	p     *Pipeline
	id    string
	pages []PageScript
	dpi   int
}

func (d *fakeDocument) ID() string     { return d.id }
func (d *fakeDocument) PageCount() int { return len(d.pages) }
func (d *fakeDocument) Close() error   { return nil }

func (d *fakeDocument) Pages(ctx context.Context) iter.Seq2[*model.Page, error] {
	return func(yield func(*model.Page, error) bool) {
		for i := range d.pages {
			if !yield(d.Render(ctx, i)) {
				return
			}
		}
	}
}

func (d *fakeDocument) Render(ctx context.Context, index int) (*model.Page, error) {
	if index < 0 || index >= len(d.pages) {
		return nil, apperr.NewRenderError(index, fmt.Errorf("out of range"))
	}
	script := d.pages[index]
	n := d.p.inFlight.Add(1)
	defer d.p.inFlight.Add(-1)
	for {
		m := d.p.MaxInFlight.Load()
		if n <= m || d.p.MaxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	if err := sleep(ctx, script.RenderDelay); err != nil {
		return nil, apperr.NewRenderError(index, err)
	}
	if script.RenderErr != nil {
		return nil, apperr.NewRenderError(index, script.RenderErr)
	}

	img := BlankPage(8, 8)
	d.p.mu.Lock()
	d.p.live[img] = script
	d.p.mu.Unlock()
	d.p.Rendered.Add(1)

	return model.NewPage(index, img, d.dpi, func() {
		d.p.mu.Lock()
		delete(d.p.live, img)
		d.p.mu.Unlock()
		d.p.Released.Add(1)
	}), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// GridFragments lays out cells on a regular grid: columns 200px apart and
// rows 40px apart, every fragment 20px high.
func GridFragments(rows [][]string, conf float64) []model.TextFragment {
	var out []model.TextFragment
	for r, row := range rows {
		for c, text := range row {
			if text == "" {
				continue
			}
			out = append(out, model.TextFragment{
				Text:       text,
				Box:        model.BBox{X: float64(50 + 200*c), Y: float64(100 + 40*r), Width: 60, Height: 20},
				Confidence: conf,
			})
		}
	}
	return out
}
