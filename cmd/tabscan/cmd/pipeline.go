package cmd

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/tabscan/internal/assembler"
	"github.com/MeKo-Tech/tabscan/internal/config"
	"github.com/MeKo-Tech/tabscan/internal/jobs"
	"github.com/MeKo-Tech/tabscan/internal/ocr"
	"github.com/MeKo-Tech/tabscan/internal/ocr/tesseract"
	"github.com/MeKo-Tech/tabscan/internal/raster"
)

// buildAssembler wires the PDF rasterizer and the Tesseract recognizer.
// Tests swap it for a scripted pipeline.
var buildAssembler = func(cfg *config.Config, log *slog.Logger) jobs.Assembler {
	engine := tesseract.New(cfg.ToTesseractOptions())
	rec := ocr.NewRecognizer(engine, cfg.ToOCRConfig(), log)
	return assembler.New(raster.NewPDFRasterizer(log), rec, log)
}

// newManager builds a job manager configured from cfg. Extra options are
// applied after the configured ones.
func newManager(cfg *config.Config, log *slog.Logger, extra ...jobs.Option) *jobs.Manager {
	asm := buildAssembler(cfg, log)
	opts := append(cfg.ToJobOptions(), jobs.WithLogger(log))
	opts = append(opts, extra...)
	return jobs.New(asm, cfg.ToAssemblerOptions(), opts...)
}

// addRequestFlags registers the per-document overrides shared by extract
// and batch.
func addRequestFlags(c *cobra.Command) {
	c.Flags().StringSliceP("languages", "l", nil, "Tesseract language packs, e.g. ron,eng (default from config)")
	c.Flags().Int("dpi", 0, "rendering resolution (default from config)")
	c.Flags().Float64("confidence-floor", -1, "cell confidence below which rows are flagged (0..1)")
	c.Flags().Duration("page-timeout", 0, "time budget per page (default from config)")
	c.Flags().Duration("job-timeout", 0, "time budget per document (default from config)")
}

// requestFromFlags builds the request overrides from the flags that were set.
func requestFromFlags(c *cobra.Command) (jobs.Request, error) {
	var req jobs.Request
	if c.Flags().Changed("languages") {
		langs, _ := c.Flags().GetStringSlice("languages")
		for _, l := range langs {
			if l = strings.TrimSpace(l); l != "" {
				req.Languages = append(req.Languages, l)
			}
		}
	}
	if c.Flags().Changed("dpi") {
		req.ResolutionDPI, _ = c.Flags().GetInt("dpi")
	}
	if c.Flags().Changed("confidence-floor") {
		floor, _ := c.Flags().GetFloat64("confidence-floor")
		if floor < 0 || floor > 1 {
			return req, fmt.Errorf("invalid confidence floor: %.2f (must be between 0.0 and 1.0)", floor)
		}
		req.ConfidenceFloor = &floor
	}
	durations := []struct {
		flag string
		dst  *time.Duration
	}{
		{"page-timeout", &req.PageTimeout},
		{"job-timeout", &req.JobTimeout},
	}
	for _, d := range durations {
		if !c.Flags().Changed(d.flag) {
			continue
		}
		v, _ := c.Flags().GetDuration(d.flag)
		if v < 0 {
			return req, fmt.Errorf("invalid %s: %v (must be non-negative)", d.flag, v)
		}
		*d.dst = v
	}
	return req, nil
}
