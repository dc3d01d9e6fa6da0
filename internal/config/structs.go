//nolint:lll
package config

import (
	"time"

	"github.com/MeKo-Tech/tabscan/internal/raster"
	"github.com/MeKo-Tech/tabscan/internal/sink"
)

// Config represents the complete configuration for tabscan.
// It covers every command (extract, batch, serve) and is loaded from
// configuration files, environment variables and command-line flags.
type Config struct {
	Log LogConfig `mapstructure:"log" yaml:"log" json:"log"`

	// Page rendering
	Raster raster.Options `mapstructure:"raster" yaml:"raster" json:"raster"`

	// Text recognition
	OCR OCRConfig `mapstructure:"ocr" yaml:"ocr" json:"ocr"`

	// Row and column reconstruction
	Layout LayoutConfig `mapstructure:"layout" yaml:"layout" json:"layout"`

	// Per-document page processing
	Assembler AssemblerConfig `mapstructure:"assembler" yaml:"assembler" json:"assembler"`

	// Job orchestration
	Jobs JobsConfig `mapstructure:"jobs" yaml:"jobs" json:"jobs"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	// Spreadsheet output
	Output OutputConfig `mapstructure:"output" yaml:"output" json:"output"`

	// Batch processing configuration
	Batch BatchConfig `mapstructure:"batch" yaml:"batch" json:"batch"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`
	Format string `mapstructure:"format" yaml:"format" json:"format"`
}

// OCRConfig contains text recognition settings.
type OCRConfig struct {
	Languages      []string          `mapstructure:"languages" yaml:"languages" json:"languages"`
	Mode           string            `mapstructure:"mode" yaml:"mode" json:"mode"`
	DedupIoU       float64           `mapstructure:"dedup_iou" yaml:"dedup_iou" json:"dedup_iou"`
	NormalizeForm  string            `mapstructure:"normalize_form" yaml:"normalize_form" json:"normalize_form"`
	Replace        map[string]string `mapstructure:"replace" yaml:"replace" json:"replace"`
	TessdataPrefix string            `mapstructure:"tessdata_prefix" yaml:"tessdata_prefix" json:"tessdata_prefix"`
	PageSegMode    int               `mapstructure:"page_seg_mode" yaml:"page_seg_mode" json:"page_seg_mode"`
	Variables      map[string]string `mapstructure:"variables" yaml:"variables" json:"variables"`
}

// LayoutConfig contains row and column reconstruction settings.
type LayoutConfig struct {
	BandOverlap          float64 `mapstructure:"band_overlap" yaml:"band_overlap" json:"band_overlap"`
	ColumnTolerance      float64 `mapstructure:"column_tolerance" yaml:"column_tolerance" json:"column_tolerance"`
	ToleranceHeightRatio float64 `mapstructure:"tolerance_height_ratio" yaml:"tolerance_height_ratio" json:"tolerance_height_ratio"`
	MinColumnSupport     int     `mapstructure:"min_column_support" yaml:"min_column_support" json:"min_column_support"`
	MergeGapRatio        float64 `mapstructure:"merge_gap_ratio" yaml:"merge_gap_ratio" json:"merge_gap_ratio"`
	OverlapDelimiter     string  `mapstructure:"overlap_delimiter" yaml:"overlap_delimiter" json:"overlap_delimiter"`
}

// AssemblerConfig contains per-document settings.
type AssemblerConfig struct {
	MaxConcurrentPages int           `mapstructure:"max_concurrent_pages" yaml:"max_concurrent_pages" json:"max_concurrent_pages"`
	PageTimeout        time.Duration `mapstructure:"page_timeout" yaml:"page_timeout" json:"page_timeout"`
	ConfidenceFloor    float64       `mapstructure:"confidence_floor" yaml:"confidence_floor" json:"confidence_floor"`
	DegradedFraction   float64       `mapstructure:"degraded_fraction" yaml:"degraded_fraction" json:"degraded_fraction"`
}

// JobsConfig contains orchestration settings.
type JobsConfig struct {
	MaxConcurrentJobs int           `mapstructure:"max_concurrent_jobs" yaml:"max_concurrent_jobs" json:"max_concurrent_jobs"`
	QueueDepth        int           `mapstructure:"queue_depth" yaml:"queue_depth" json:"queue_depth"`
	JobTimeout        time.Duration `mapstructure:"job_timeout" yaml:"job_timeout" json:"job_timeout"`
	Retention         time.Duration `mapstructure:"retention" yaml:"retention" json:"retention"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string          `mapstructure:"host" yaml:"host" json:"host"`
	Port            int             `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string          `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int             `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	UploadDir       string          `mapstructure:"upload_dir" yaml:"upload_dir" json:"upload_dir"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig contains per-client request limits. Zero disables a limit.
type RateLimitConfig struct {
	Enabled           bool  `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RequestsPerMinute int   `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int   `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxRequestsPerDay int   `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDayMB   int64 `mapstructure:"max_data_per_day_mb" yaml:"max_data_per_day_mb" json:"max_data_per_day_mb"`
}

// OutputConfig contains spreadsheet output settings.
type OutputConfig struct {
	sink.Options `mapstructure:",squash" yaml:",inline"`

	Format       string `mapstructure:"format" yaml:"format" json:"format"`
	WriteSummary bool   `mapstructure:"write_summary" yaml:"write_summary" json:"write_summary"`
}

// BatchConfig contains batch processing settings.
type BatchConfig struct {
	OutputDir       string `mapstructure:"output_dir" yaml:"output_dir" json:"output_dir"`
	Combined        bool   `mapstructure:"combined" yaml:"combined" json:"combined"`
	Recursive       bool   `mapstructure:"recursive" yaml:"recursive" json:"recursive"`
	Checkpoint      string `mapstructure:"checkpoint" yaml:"checkpoint" json:"checkpoint"`
	ContinueOnError bool   `mapstructure:"continue_on_error" yaml:"continue_on_error" json:"continue_on_error"`
}
