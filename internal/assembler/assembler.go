// Package assembler drives rasterization, recognition and layout
// reconstruction for every page of a document and merges the per-page rows
// into a single table with a per-page outcome manifest.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MeKo-Tech/tabscan/internal/apperr"
	"github.com/MeKo-Tech/tabscan/internal/layout"
	"github.com/MeKo-Tech/tabscan/internal/model"
	"github.com/MeKo-Tech/tabscan/internal/raster"
)

// Recognizer extracts text fragments from a rendered page.
type Recognizer interface {
	Recognize(ctx context.Context, page *model.Page, languages []string) ([]model.TextFragment, error)
}

// Assembler turns documents into tables. It is safe for concurrent use.
type Assembler struct {
	rasterizer raster.Rasterizer
	recognizer Recognizer
	logger     *slog.Logger
}

// New creates an Assembler. A nil logger uses slog.Default().
func New(r raster.Rasterizer, rec Recognizer, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{rasterizer: r, recognizer: rec, logger: logger}
}

// pageResult is handed from a page worker to the merger and never mutated
// after the handoff.
type pageResult struct {
	outcome model.PageOutcome
	rows    []model.Row
}

// Assemble processes the document at source.
//
// The returned result is never nil. The error is non-nil only when the
// document could not be opened (wrapping apperr.ErrUnreadableDocument) or
// when ctx ended before every page finished; in the latter case the result
// holds the rows of the pages that did finish and the unfinished pages are
// marked failed in the manifest.
func (a *Assembler) Assemble(ctx context.Context, source string, opts Options, progress Progress) (*model.JobResult, error) {
	start := time.Now()
	if progress == nil {
		progress = NoOpProgress{}
	}

	doc, err := a.rasterizer.Open(ctx, source, opts.Raster)
	if err != nil {
		if !errors.Is(err, apperr.ErrUnreadableDocument) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", apperr.ErrUnreadableDocument, err)
		}
		a.logger.Warn("assemble.open.failed", "source", source, "error", err)
		res := &model.JobResult{
			DocumentID: source,
			Status:     model.StatusFailed,
			Reason:     err.Error(),
			Duration:   time.Since(start),
		}
		progress.OnComplete(res)
		return res, err
	}
	defer func() { _ = doc.Close() }()

	total := doc.PageCount()
	progress.OnStart(total)
	a.logger.Info("assemble.start", "document", doc.ID(), "pages", total, "workers", opts.workers())

	// Buffered to the page count so late workers never block after an
	// interrupted merge has stopped reading.
	results := make(chan pageResult, total)
	go func() {
		var g errgroup.Group
		g.SetLimit(opts.workers())
		for i := range total {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				results <- a.processPage(ctx, doc, i, opts)
				return nil
			})
		}
		_ = g.Wait()
	}()

	finished := make([]*pageResult, total)
	done := 0
loop:
	for done < total {
		select {
		case r := <-results:
			finished[r.outcome.Page] = &r
			done++
			progress.OnPage(r.outcome, done, total)
		case <-ctx.Done():
			break loop
		}
	}

	var cause error
	if done < total {
		cause = context.Cause(ctx)
	}
	res := merge(doc.ID(), finished, cause)
	res.Duration = time.Since(start)
	a.logger.Info("assemble.done", "document", doc.ID(), "status", res.Status,
		"rows", len(res.Table.Rows), "columns", res.Table.Columns,
		"failed_pages", res.Manifest.Count(model.PageFailed),
		"degraded_pages", res.Manifest.Count(model.PageDegraded),
		"duration", res.Duration)
	progress.OnComplete(res)

	return res, cause
}

// processPage renders and recognizes one page, then rebuilds its rows. The
// raster is released as soon as the recognizer returns, even when the page
// deadline has already passed.
func (a *Assembler) processPage(ctx context.Context, doc raster.Document, index int, opts Options) pageResult {
	start := time.Now()
	if opts.PageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.PageTimeout)
		defer cancel()
	}

	fail := func(err error) pageResult {
		a.logger.Warn("assemble.page.failed", "document", doc.ID(), "page", index, "error", err)
		return pageResult{outcome: model.PageOutcome{
			Page:     index,
			Status:   model.PageFailed,
			Reason:   err.Error(),
			Duration: time.Since(start),
		}}
	}

	page, err := within(ctx, func() (*model.Page, error) { return doc.Render(ctx, index) }, (*model.Page).Release)
	if err != nil {
		if !errors.Is(err, apperr.ErrPageRender) {
			err = apperr.NewRenderError(index, err)
		}
		return fail(err)
	}

	frags, err := within(ctx, func() ([]model.TextFragment, error) {
		defer page.Release()
		return a.recognizer.Recognize(ctx, page, opts.Languages)
	}, nil)
	if err != nil {
		if !errors.Is(err, apperr.ErrRecognition) {
			err = apperr.NewRecognitionError(index, err)
		}
		return fail(err)
	}

	rows := layout.New(opts.Layout).Reconstruct(index, frags)
	outcome := classify(index, rows, opts)
	outcome.Fragments = len(frags)
	outcome.Duration = time.Since(start)
	a.logger.Debug("assemble.page.ok", "document", doc.ID(), "page", index,
		"status", outcome.Status, "fragments", len(frags), "rows", len(rows))
	return pageResult{outcome: outcome, rows: rows}
}

// within runs fn but stops waiting for it once ctx is done, so that an
// engine ignoring cancellation cannot hold the page past its deadline. A
// value produced after the deadline is passed to discard.
func within[T any](ctx context.Context, fn func() (T, error), discard func(T)) (T, error) {
	type out struct {
		v   T
		err error
	}
	ch := make(chan out, 1)
	go func() {
		v, err := fn()
		ch <- out{v, err}
	}()

	select {
	case o := <-ch:
		return o.v, o.err
	case <-ctx.Done():
		go func() {
			o := <-ch
			if o.err == nil && discard != nil {
				discard(o.v)
			}
		}()
		var zero T
		return zero, context.Cause(ctx)
	}
}

// classify derives the page outcome from its rows.
func classify(index int, rows []model.Row, opts Options) model.PageOutcome {
	var cells, weak int
	var sum float64
	for _, r := range rows {
		for _, c := range r.Cells {
			if c.Empty() {
				continue
			}
			cells++
			sum += c.Confidence
			if c.Confidence < opts.ConfidenceFloor {
				weak++
			}
		}
	}

	o := model.PageOutcome{Page: index, Status: model.PageSuccess, Rows: len(rows)}
	if cells == 0 {
		return o
	}
	o.MeanConfidence = sum / float64(cells)
	if float64(weak)/float64(cells) > opts.DegradedFraction {
		o.Status = model.PageDegraded
		o.Reason = fmt.Sprintf("%d of %d cells below confidence floor %.2f", weak, cells, opts.ConfidenceFloor)
	}
	return o
}

// merge concatenates page rows in page order and pads every row to the
// widest row in the document. Pages without a result are recorded as failed
// with the interruption cause.
func merge(docID string, pages []*pageResult, cause error) *model.JobResult {
	res := &model.JobResult{DocumentID: docID}
	width := 0
	for i, p := range pages {
		if p == nil {
			reason := "not processed"
			if cause != nil {
				reason = "abandoned: " + cause.Error()
			}
			res.Manifest.Pages = append(res.Manifest.Pages, model.PageOutcome{
				Page: i, Status: model.PageFailed, Reason: reason,
			})
			continue
		}
		res.Manifest.Pages = append(res.Manifest.Pages, p.outcome)
		for _, r := range p.rows {
			width = max(width, len(r.Cells))
			res.Table.Rows = append(res.Table.Rows, r)
		}
	}

	for i, r := range res.Table.Rows {
		if n := len(r.Cells); n < width {
			cells := make([]model.Cell, width)
			copy(cells, r.Cells)
			res.Table.Rows[i].Cells = cells
		}
	}
	res.Table.Columns = width
	res.Status = model.ClassifyStatus(res.Manifest)
	if cause != nil {
		res.Reason = cause.Error()
	}
	return res
}
