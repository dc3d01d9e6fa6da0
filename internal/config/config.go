package config

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/tabscan/internal/assembler"
	"github.com/MeKo-Tech/tabscan/internal/jobs"
	"github.com/MeKo-Tech/tabscan/internal/layout"
	"github.com/MeKo-Tech/tabscan/internal/ocr"
	"github.com/MeKo-Tech/tabscan/internal/ocr/tesseract"
	"github.com/MeKo-Tech/tabscan/internal/raster"
	"github.com/MeKo-Tech/tabscan/internal/sink"
)

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"json", "text"}
	validFormats    = []string{"xlsx", "csv", "json"}
	validOCRModes   = []string{string(ocr.ModeCombined), string(ocr.ModePerLanguage)}
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	ocrCfg := ocr.DefaultConfig()
	tess := tesseract.DefaultOptions()
	lay := layout.DefaultOptions()
	asm := assembler.DefaultOptions()

	return Config{
		Log:    LogConfig{Level: "info", Format: "json"},
		Raster: raster.DefaultOptions(),
		OCR: OCRConfig{
			Languages:     ocrCfg.Languages,
			Mode:          string(ocrCfg.Mode),
			DedupIoU:      ocrCfg.DedupIoU,
			NormalizeForm: ocrCfg.Clean.NormalizeForm,
			PageSegMode:   tess.PageSegMode,
		},
		Layout: LayoutConfig{
			BandOverlap:          lay.BandOverlap,
			ColumnTolerance:      lay.ColumnTolerance,
			ToleranceHeightRatio: lay.ToleranceHeightRatio,
			MinColumnSupport:     lay.MinColumnSupport,
			MergeGapRatio:        lay.MergeGapRatio,
			OverlapDelimiter:     lay.OverlapDelimiter,
		},
		Assembler: AssemblerConfig{
			MaxConcurrentPages: asm.MaxPages,
			PageTimeout:        asm.PageTimeout,
			ConfidenceFloor:    asm.ConfidenceFloor,
			DegradedFraction:   asm.DegradedFraction,
		},
		Jobs: JobsConfig{
			MaxConcurrentJobs: 2,
			QueueDepth:        8,
			JobTimeout:        30 * time.Minute,
			Retention:         time.Hour,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			ShutdownTimeout: 10 * time.Second,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 30,
				RequestsPerHour:   500,
				MaxRequestsPerDay: 2000,
				MaxDataPerDayMB:   2048,
			},
		},
		Output: OutputConfig{
			Options: sink.DefaultOptions(),
			Format:  "xlsx",
		},
		Batch: BatchConfig{
			OutputDir:       "output",
			Recursive:       true,
			Checkpoint:      ".tabscan-checkpoint.json",
			ContinueOnError: true,
		},
	}
}

// Validate validates the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if !slices.Contains(validLogLevels, c.Log.Level) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.Log.Level, strings.Join(validLogLevels, ", "))
	}
	if !slices.Contains(validLogFormats, c.Log.Format) {
		return fmt.Errorf("invalid log format: %s (must be one of: %s)", c.Log.Format, strings.Join(validLogFormats, ", "))
	}
	if !slices.Contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}
	if !slices.Contains(validOCRModes, c.OCR.Mode) {
		return fmt.Errorf("invalid ocr mode: %s (must be one of: %s)", c.OCR.Mode, strings.Join(validOCRModes, ", "))
	}
	if len(c.OCR.Languages) == 0 {
		return fmt.Errorf("ocr.languages must name at least one language pack")
	}
	if err := validateThreshold(c.OCR.DedupIoU, "ocr.dedup_iou"); err != nil {
		return err
	}

	if err := c.ToAssemblerOptions().Validate(); err != nil {
		return fmt.Errorf("invalid assembler settings: %w", err)
	}
	if err := c.Output.Options.Validate(); err != nil {
		return fmt.Errorf("invalid output settings: %w", err)
	}

	if c.Jobs.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("invalid max concurrent jobs: %d (must be positive)", c.Jobs.MaxConcurrentJobs)
	}
	if c.Jobs.QueueDepth < 0 {
		return fmt.Errorf("invalid queue depth: %d (must be non-negative)", c.Jobs.QueueDepth)
	}
	if c.Jobs.JobTimeout < 0 || c.Jobs.Retention < 0 {
		return fmt.Errorf("job timeout and retention must be non-negative")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	return nil
}

// SlogLevel maps the configured level onto slog.
func (c *Config) SlogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ToRasterOptions returns the rasterizer options.
func (c *Config) ToRasterOptions() raster.Options {
	return c.Raster
}

// ToOCRConfig converts to ocr.Config.
func (c *Config) ToOCRConfig() ocr.Config {
	cfg := ocr.DefaultConfig()
	cfg.Languages = slices.Clone(c.OCR.Languages)
	cfg.Mode = ocr.Mode(c.OCR.Mode)
	cfg.DedupIoU = c.OCR.DedupIoU
	if c.OCR.NormalizeForm != "" {
		cfg.Clean.NormalizeForm = c.OCR.NormalizeForm
	}
	cfg.Clean.Replace = c.OCR.Replace
	return cfg
}

// ToTesseractOptions converts to tesseract.Options.
func (c *Config) ToTesseractOptions() tesseract.Options {
	cfg := tesseract.DefaultOptions()
	if c.OCR.PageSegMode > 0 {
		cfg.PageSegMode = c.OCR.PageSegMode
	}
	cfg.TessdataPrefix = c.OCR.TessdataPrefix
	cfg.Variables = c.OCR.Variables
	return cfg
}

// ToLayoutOptions converts to layout.Options.
func (c *Config) ToLayoutOptions() layout.Options {
	return layout.Options{
		BandOverlap:          c.Layout.BandOverlap,
		ColumnTolerance:      c.Layout.ColumnTolerance,
		ToleranceHeightRatio: c.Layout.ToleranceHeightRatio,
		MinColumnSupport:     c.Layout.MinColumnSupport,
		MergeGapRatio:        c.Layout.MergeGapRatio,
		OverlapDelimiter:     c.Layout.OverlapDelimiter,
	}
}

// ToAssemblerOptions converts to assembler.Options, nesting the raster and
// layout settings.
func (c *Config) ToAssemblerOptions() assembler.Options {
	return assembler.Options{
		Languages:        slices.Clone(c.OCR.Languages),
		MaxPages:         c.Assembler.MaxConcurrentPages,
		PageTimeout:      c.Assembler.PageTimeout,
		ConfidenceFloor:  c.Assembler.ConfidenceFloor,
		DegradedFraction: c.Assembler.DegradedFraction,
		Raster:           c.ToRasterOptions(),
		Layout:           c.ToLayoutOptions(),
	}
}

// ToSinkOptions returns the sink options.
func (c *Config) ToSinkOptions() sink.Options {
	return c.Output.Options
}

// ToJobOptions converts the jobs section to manager options.
func (c *Config) ToJobOptions() []jobs.Option {
	return []jobs.Option{
		jobs.WithWorkers(c.Jobs.MaxConcurrentJobs),
		jobs.WithQueueDepth(c.Jobs.QueueDepth),
		jobs.WithJobTimeout(c.Jobs.JobTimeout),
		jobs.WithRetention(c.Jobs.Retention),
	}
}

// validateThreshold validates that a value is between 0.0 and 1.0.
func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}
