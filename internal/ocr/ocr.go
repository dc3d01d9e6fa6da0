// Package ocr turns page rasters into positioned text fragments. The engine
// doing the actual recognition sits behind the Engine interface; see the
// tesseract subpackage for the production implementation.
package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"strings"

	"github.com/MeKo-Tech/tabscan/internal/apperr"
	"github.com/MeKo-Tech/tabscan/internal/model"
)

// Input is a single engine call.
type Input struct {
	Image     []byte // PNG encoded raster
	Languages []string
	DPI       int
}

// Word is a raw engine result in raster pixel space. Confidence is in [0,1].
type Word struct {
	Text       string
	Box        model.BBox
	Confidence float64
}

// Engine recognizes words in an image.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, in Input) ([]Word, error)
}

// Mode selects how multiple languages are handled.
type Mode string

const (
	// ModeCombined passes all languages to the engine in one call.
	ModeCombined Mode = "combined"
	// ModePerLanguage calls the engine once per language and removes duplicates.
	ModePerLanguage Mode = "per_language"
)

// Config configures a Recognizer.
type Config struct {
	Languages []string
	Mode      Mode
	// DedupIoU is the box overlap at which two fragments from different
	// language passes are considered the same word.
	DedupIoU float64
	Clean    CleanOptions
}

// DefaultConfig returns the configuration for Romanian registers.
func DefaultConfig() Config {
	return Config{
		Languages: []string{"ron"},
		Mode:      ModeCombined,
		DedupIoU:  0.5,
		Clean:     DefaultCleanOptions(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeCombined, ModePerLanguage, "":
	default:
		return fmt.Errorf("unknown ocr mode %q", c.Mode)
	}
	if c.DedupIoU <= 0 || c.DedupIoU > 1 {
		return fmt.Errorf("dedup IoU must be in (0,1], got %v", c.DedupIoU)
	}
	return nil
}

// Recognizer adapts an Engine to the pipeline: it encodes the raster,
// handles language selection, and cleans the recognized text.
type Recognizer struct {
	engine Engine
	cfg    Config
	logger *slog.Logger
}

// NewRecognizer creates a Recognizer. A nil logger uses slog.Default().
func NewRecognizer(engine Engine, cfg Config, logger *slog.Logger) *Recognizer {
	if cfg.Mode == "" {
		cfg.Mode = ModeCombined
	}
	if cfg.DedupIoU <= 0 {
		cfg.DedupIoU = DefaultConfig().DedupIoU
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recognizer{engine: engine, cfg: cfg, logger: logger}
}

// Recognize returns the fragments found on page. An empty result with a nil
// error means the page is blank. Engine failures are returned as recognition
// errors scoped to the page.
func (r *Recognizer) Recognize(ctx context.Context, page *model.Page, languages []string) ([]model.TextFragment, error) {
	if page == nil || page.Image == nil {
		return nil, apperr.NewRecognitionError(pageIndex(page), errors.New("page has no raster"))
	}
	langs := languages
	if len(langs) == 0 {
		langs = r.cfg.Languages
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, page.Image); err != nil {
		return nil, apperr.NewRecognitionError(page.Index, fmt.Errorf("encode raster: %w", err))
	}
	in := Input{Image: buf.Bytes(), Languages: langs, DPI: page.DPI}
	cleaner := NewCleaner(r.cfg.Clean, langs)

	if r.cfg.Mode == ModePerLanguage && len(langs) > 1 {
		var all []model.TextFragment
		for _, lang := range langs {
			in.Languages = []string{lang}
			words, err := r.engine.Recognize(ctx, in)
			if err != nil {
				return nil, apperr.NewRecognitionError(page.Index, fmt.Errorf("%s [%s]: %w", r.engine.Name(), lang, err))
			}
			all = append(all, toFragments(words, page.Index, lang, cleaner)...)
		}
		out := dedupe(all, r.cfg.DedupIoU)
		r.logger.Debug("ocr.page.ok", "page", page.Index, "mode", r.cfg.Mode,
			"fragments", len(out), "duplicates", len(all)-len(out))
		return out, nil
	}

	words, err := r.engine.Recognize(ctx, in)
	if err != nil {
		return nil, apperr.NewRecognitionError(page.Index, fmt.Errorf("%s: %w", r.engine.Name(), err))
	}
	out := toFragments(words, page.Index, strings.Join(langs, "+"), cleaner)
	r.logger.Debug("ocr.page.ok", "page", page.Index, "mode", r.cfg.Mode, "fragments", len(out))
	return out, nil
}

func toFragments(words []Word, page int, lang string, c *Cleaner) []model.TextFragment {
	out := make([]model.TextFragment, 0, len(words))
	for _, w := range words {
		text := c.Clean(w.Text)
		if text == "" {
			continue
		}
		conf := w.Confidence
		if conf < 0 {
			conf = 0
		} else if conf > 1 {
			conf = 1
		}
		out = append(out, model.TextFragment{
			Text:       text,
			Box:        w.Box,
			Confidence: conf,
			PageIndex:  page,
			Language:   lang,
		})
	}
	return out
}

func pageIndex(p *model.Page) int {
	if p == nil {
		return -1
	}
	return p.Index
}
