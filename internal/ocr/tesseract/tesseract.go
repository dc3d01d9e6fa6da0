// Package tesseract implements ocr.Engine on top of the Tesseract library
// via gosseract. Building it requires libtesseract and leptonica headers;
// language packs are looked up in TESSDATA_PREFIX or the configured path.
package tesseract

import (
	"context"
	"fmt"
	"strconv"

	"github.com/otiai10/gosseract/v2"

	"github.com/MeKo-Tech/tabscan/internal/model"
	"github.com/MeKo-Tech/tabscan/internal/ocr"
)

// Options configures the engine.
type Options struct {
	// PageSegMode is the Tesseract page segmentation mode. 6 assumes a
	// single uniform block of text, which suits ruled registers.
	PageSegMode int
	// TessdataPrefix overrides the language pack directory.
	TessdataPrefix string
	// Variables are passed to Tesseract verbatim.
	Variables map[string]string
}

// DefaultOptions returns PSM 6 with no extra variables.
func DefaultOptions() Options {
	return Options{PageSegMode: int(gosseract.PSM_SINGLE_BLOCK)}
}

// Engine runs Tesseract. A fresh client is created per call so that
// concurrent pages never share native state.
type Engine struct {
	opts          Options
	clientFactory func() *gosseract.Client
}

// New returns a Tesseract engine.
func New(opts Options) *Engine {
	return &Engine{opts: opts, clientFactory: gosseract.NewClient}
}

// Name implements ocr.Engine.
func (e *Engine) Name() string { return "tesseract" }

// Recognize implements ocr.Engine. The native call cannot be interrupted, so
// ctx is only checked before work starts.
func (e *Engine) Recognize(ctx context.Context, in ocr.Input) ([]ocr.Word, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := e.clientFactory()
	defer func() { _ = c.Close() }()

	if e.opts.TessdataPrefix != "" {
		if err := c.SetTessdataPrefix(e.opts.TessdataPrefix); err != nil {
			return nil, fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if len(in.Languages) > 0 {
		if err := c.SetLanguage(in.Languages...); err != nil {
			return nil, fmt.Errorf("set languages: %w", err)
		}
	}
	if err := c.SetPageSegMode(gosseract.PageSegMode(e.opts.PageSegMode)); err != nil {
		return nil, fmt.Errorf("set page seg mode: %w", err)
	}
	if in.DPI > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), strconv.Itoa(in.DPI)); err != nil {
			return nil, fmt.Errorf("set dpi: %w", err)
		}
	}
	for k, v := range e.opts.Variables {
		if err := c.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			return nil, fmt.Errorf("set variable %s: %w", k, err)
		}
	}
	if err := c.SetImageFromBytes(in.Image); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("recognize words: %w", err)
	}

	words := make([]ocr.Word, 0, len(boxes))
	for _, b := range boxes {
		if b.Word == "" {
			continue
		}
		words = append(words, ocr.Word{
			Text: b.Word,
			Box: model.BBox{
				X:      float64(b.Box.Min.X),
				Y:      float64(b.Box.Min.Y),
				Width:  float64(b.Box.Dx()),
				Height: float64(b.Box.Dy()),
			},
			Confidence: b.Confidence / 100.0,
		})
	}
	return words, nil
}

// AvailableLanguages lists the installed language packs.
func AvailableLanguages() ([]string, error) {
	return gosseract.GetAvailableLanguages()
}
