package raster

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/MeKo-Tech/tabscan/internal/apperr"
	"github.com/MeKo-Tech/tabscan/internal/model"
)

// PDFRasterizer renders scanned PDFs by extracting the embedded page images
// with pdfcpu and resampling them to the target resolution.
type PDFRasterizer struct {
	logger *slog.Logger
}

// NewPDFRasterizer creates a rasterizer. A nil logger uses slog.Default().
func NewPDFRasterizer(logger *slog.Logger) *PDFRasterizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &PDFRasterizer{logger: logger}
}

// Open implements Rasterizer.
func (r *PDFRasterizer) Open(ctx context.Context, source string, opts Options) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.DPI <= 0 {
		opts.DPI = DefaultOptions().DPI
	}
	if _, err := os.Stat(source); err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrUnreadableDocument, err)
	}

	scratch, err := os.MkdirTemp(opts.ScratchDir, "tabscan-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	doc := &pdfDocument{
		id:      filepath.Base(source),
		path:    source,
		opts:    opts,
		scratch: scratch,
		logger:  r.logger,
	}

	total, err := api.PageCountFile(source)
	if err != nil && isPasswordError(err) && opts.Password != "" {
		var decrypted string
		decrypted, err = decrypt(source, scratch, opts.Password)
		if err == nil {
			doc.path = decrypted
			total, err = api.PageCountFile(decrypted)
		}
	}
	if err != nil {
		_ = doc.Close()
		return nil, fmt.Errorf("%w: %s: %w", apperr.ErrUnreadableDocument, doc.id, err)
	}

	doc.pages = total
	if opts.MaxPages > 0 && opts.MaxPages < total {
		doc.pages = opts.MaxPages
	}

	// Page sizes are optional; without them the embedded resolution is kept.
	if dims, derr := api.PageDimsFile(doc.path); derr == nil {
		doc.dims = dims
	} else {
		r.logger.Debug("raster.dims.unavailable", "document", doc.id, "error", derr)
	}

	r.logger.Debug("raster.open.ok", "document", doc.id, "pages", total, "rendered", doc.pages)
	return doc, nil
}

type pdfDocument struct {
	id      string
	path    string
	opts    Options
	scratch string
	pages   int
	dims    []types.Dim
	logger  *slog.Logger
}

func (d *pdfDocument) ID() string     { return d.id }
func (d *pdfDocument) PageCount() int { return d.pages }

func (d *pdfDocument) Pages(ctx context.Context) iter.Seq2[*model.Page, error] {
	return pageSeq(ctx, d)
}

// Render extracts the images of one page into its own scratch directory and
// builds the page raster from the largest of them. The directory lives until
// the returned page is released.
func (d *pdfDocument) Render(ctx context.Context, index int) (*model.Page, error) {
	if index < 0 || index >= d.pages {
		return nil, apperr.NewRenderError(index, fmt.Errorf("page index out of range [0,%d)", d.pages))
	}
	if err := ctx.Err(); err != nil {
		return nil, apperr.NewRenderError(index, err)
	}

	dir, err := os.MkdirTemp(d.scratch, "page-"+strconv.Itoa(index+1)+"-*")
	if err != nil {
		return nil, apperr.NewRenderError(index, fmt.Errorf("create page scratch: %w", err))
	}
	release := func() { _ = os.RemoveAll(dir) }

	conf := pdfmodel.NewDefaultConfiguration()
	if err := api.ExtractImagesFile(d.path, dir, []string{strconv.Itoa(index + 1)}, conf); err != nil {
		release()
		return nil, apperr.NewRenderError(index, fmt.Errorf("extract images: %w", err))
	}

	img, err := largestImage(dir)
	if err != nil {
		release()
		return nil, apperr.NewRenderError(index, err)
	}

	var dim *types.Dim
	if index < len(d.dims) {
		dim = &d.dims[index]
	}
	img, dpi := resample(img, dim, d.opts.DPI)
	if d.opts.Grayscale {
		img = toGray(img)
	}
	if err := ctx.Err(); err != nil {
		release()
		return nil, apperr.NewRenderError(index, err)
	}

	b := img.Bounds()
	d.logger.Debug("raster.page.ok", "document", d.id, "page", index, "width", b.Dx(), "height", b.Dy(), "dpi", dpi)
	return model.NewPage(index, img, dpi, release), nil
}

// Close removes all scratch storage, including pages not yet released.
func (d *pdfDocument) Close() error {
	return os.RemoveAll(d.scratch)
}
