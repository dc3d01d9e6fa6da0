// Package model holds the data types shared by the extraction pipeline:
// recognized fragments, reconstructed rows and tables, and job results.
package model

import (
	"image"
	"time"
)

// BBox is an axis-aligned box in raster pixel space.
type BBox struct {
	X      float64 `json:"x" yaml:"x"`
	Y      float64 `json:"y" yaml:"y"`
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// Right returns the x coordinate of the right edge.
func (b BBox) Right() float64 { return b.X + b.Width }

// Bottom returns the y coordinate of the bottom edge.
func (b BBox) Bottom() float64 { return b.Y + b.Height }

// CenterX returns the horizontal center.
func (b BBox) CenterX() float64 { return b.X + b.Width/2 }

// Area returns the box area, zero for degenerate boxes.
func (b BBox) Area() float64 {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// Union returns the smallest box containing both b and o.
func (b BBox) Union(o BBox) BBox {
	x0 := min(b.X, o.X)
	y0 := min(b.Y, o.Y)
	x1 := max(b.Right(), o.Right())
	y1 := max(b.Bottom(), o.Bottom())
	return BBox{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// Intersection returns the overlapping area of b and o.
func (b BBox) Intersection(o BBox) float64 {
	w := min(b.Right(), o.Right()) - max(b.X, o.X)
	h := min(b.Bottom(), o.Bottom()) - max(b.Y, o.Y)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// IoU returns intersection over union of two boxes.
func (b BBox) IoU(o BBox) float64 {
	inter := b.Intersection(o)
	if inter == 0 {
		return 0
	}
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// TextFragment is one recognized string with its geometry. Fragments are
// never mutated after the recognizer returns them.
type TextFragment struct {
	Text       string  `json:"text"`
	Box        BBox    `json:"box"`
	Confidence float64 `json:"confidence"`
	PageIndex  int     `json:"page_index"`
	Language   string  `json:"language,omitempty"`
}

// Cell is a single table value. An empty Text is a valid value.
type Cell struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Empty reports whether the cell holds no text.
func (c Cell) Empty() bool { return c.Text == "" }

// Row is one reconstructed table row from a single page.
type Row struct {
	Cells      []Cell  `json:"cells"`
	Confidence float64 `json:"confidence"`
	PageIndex  int     `json:"page_index"`
	// Source names the document the row came from in tables merged across
	// documents.
	Source string `json:"source,omitempty"`
}

// Values returns the row's cell texts.
func (r Row) Values() []string {
	out := make([]string, len(r.Cells))
	for i, c := range r.Cells {
		out[i] = c.Text
	}
	return out
}

// NonEmpty returns the number of cells holding text.
func (r Row) NonEmpty() int {
	n := 0
	for _, c := range r.Cells {
		if !c.Empty() {
			n++
		}
	}
	return n
}

// Table is an ordered list of rows sharing one column count.
type Table struct {
	Columns int   `json:"columns"`
	Rows    []Row `json:"rows"`
}

// Page is a rendered raster owned by the assembler while it is processed.
type Page struct {
	Index int
	Image image.Image
	DPI   int

	release func()
}

// NewPage builds a page whose Release calls release once.
func NewPage(index int, img image.Image, dpi int, release func()) *Page {
	return &Page{Index: index, Image: img, DPI: dpi, release: release}
}

// Release frees the page's scratch storage. Safe to call more than once.
func (p *Page) Release() {
	if p == nil {
		return
	}
	if p.release != nil {
		p.release()
		p.release = nil
	}
	p.Image = nil
}

// PageStatus classifies how a page fared in the pipeline.
type PageStatus string

const (
	PageSuccess  PageStatus = "success"
	PageDegraded PageStatus = "degraded"
	PageFailed   PageStatus = "failed"
)

// PageOutcome is one manifest entry.
type PageOutcome struct {
	Page           int           `json:"page" yaml:"page"`
	Status         PageStatus    `json:"status" yaml:"status"`
	Reason         string        `json:"reason,omitempty" yaml:"reason,omitempty"`
	Rows           int           `json:"rows" yaml:"rows"`
	Fragments      int           `json:"fragments" yaml:"fragments"`
	MeanConfidence float64       `json:"mean_confidence" yaml:"mean_confidence"`
	Duration       time.Duration `json:"duration" yaml:"duration"`
	Source         string        `json:"source,omitempty" yaml:"source,omitempty"`
}

// Manifest lists the outcome of every page in page order.
type Manifest struct {
	Pages []PageOutcome `json:"pages" yaml:"pages"`
}

// Count returns how many pages have the given status.
func (m Manifest) Count(s PageStatus) int {
	n := 0
	for _, p := range m.Pages {
		if p.Status == s {
			n++
		}
	}
	return n
}

// Status is the overall result classification of a job.
type Status string

const (
	StatusComplete  Status = "complete"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
	StatusCancelled Status = "cancelled"
)

// JobResult always carries a table (possibly empty) and a manifest.
type JobResult struct {
	DocumentID string        `json:"document_id"`
	Status     Status        `json:"status"`
	Table      Table         `json:"table"`
	Manifest   Manifest      `json:"manifest"`
	Reason     string        `json:"reason,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// ClassifyStatus derives the overall status from a manifest.
func ClassifyStatus(m Manifest) Status {
	if len(m.Pages) == 0 {
		return StatusComplete
	}
	failed := m.Count(PageFailed)
	switch {
	case failed == len(m.Pages):
		return StatusFailed
	case m.Count(PageSuccess) == len(m.Pages):
		return StatusComplete
	default:
		return StatusPartial
	}
}
