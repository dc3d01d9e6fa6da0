package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "tabscan"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "TABSCAN"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader over the global viper instance, so that flags
// bound by the root command take part in resolution.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWithViper creates a loader over v.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// Load searches the standard paths for a configuration file, layers
// environment variables and defaults underneath, and validates the result.
func (l *Loader) Load() (*Config, error) {
	return l.load("", true)
}

// LoadWithoutValidation is Load without the final validation step.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	return l.load("", false)
}

// LoadWithFile loads configuration from a specific file path. An empty path
// behaves like Load.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	return l.load(configFile, true)
}

func (l *Loader) load(configFile string, validate bool) (*Config, error) {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
	}

	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		// A missing file is fine when searching; defaults and env vars apply.
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if validate {
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}
	return &config, nil
}

// Set sets a value in the configuration.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance for advanced usage.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

// addConfigPaths adds the standard configuration search paths.
func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

// setupEnvironmentVariables configures environment variable handling.
func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	// TABSCAN_JOBS_JOB_TIMEOUT maps to jobs.job_timeout.
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults sets default values for all configuration options. Every key
// needs a default for AutomaticEnv to reach it during Unmarshal.
func (l *Loader) setDefaults() {
	d := DefaultConfig()

	l.v.SetDefault("log.level", d.Log.Level)
	l.v.SetDefault("log.format", d.Log.Format)

	l.v.SetDefault("raster.dpi", d.Raster.DPI)
	l.v.SetDefault("raster.grayscale", d.Raster.Grayscale)
	l.v.SetDefault("raster.max_pages", d.Raster.MaxPages)
	l.v.SetDefault("raster.password", d.Raster.Password)
	l.v.SetDefault("raster.scratch_dir", d.Raster.ScratchDir)

	l.v.SetDefault("ocr.languages", d.OCR.Languages)
	l.v.SetDefault("ocr.mode", d.OCR.Mode)
	l.v.SetDefault("ocr.dedup_iou", d.OCR.DedupIoU)
	l.v.SetDefault("ocr.normalize_form", d.OCR.NormalizeForm)
	l.v.SetDefault("ocr.tessdata_prefix", d.OCR.TessdataPrefix)
	l.v.SetDefault("ocr.page_seg_mode", d.OCR.PageSegMode)

	l.v.SetDefault("layout.band_overlap", d.Layout.BandOverlap)
	l.v.SetDefault("layout.column_tolerance", d.Layout.ColumnTolerance)
	l.v.SetDefault("layout.tolerance_height_ratio", d.Layout.ToleranceHeightRatio)
	l.v.SetDefault("layout.min_column_support", d.Layout.MinColumnSupport)
	l.v.SetDefault("layout.merge_gap_ratio", d.Layout.MergeGapRatio)
	l.v.SetDefault("layout.overlap_delimiter", d.Layout.OverlapDelimiter)

	l.v.SetDefault("assembler.max_concurrent_pages", d.Assembler.MaxConcurrentPages)
	l.v.SetDefault("assembler.page_timeout", d.Assembler.PageTimeout)
	l.v.SetDefault("assembler.confidence_floor", d.Assembler.ConfidenceFloor)
	l.v.SetDefault("assembler.degraded_fraction", d.Assembler.DegradedFraction)

	l.v.SetDefault("jobs.max_concurrent_jobs", d.Jobs.MaxConcurrentJobs)
	l.v.SetDefault("jobs.queue_depth", d.Jobs.QueueDepth)
	l.v.SetDefault("jobs.job_timeout", d.Jobs.JobTimeout)
	l.v.SetDefault("jobs.retention", d.Jobs.Retention)

	l.v.SetDefault("server.host", d.Server.Host)
	l.v.SetDefault("server.port", d.Server.Port)
	l.v.SetDefault("server.cors_origin", d.Server.CORSOrigin)
	l.v.SetDefault("server.max_upload_mb", d.Server.MaxUploadMB)
	l.v.SetDefault("server.upload_dir", d.Server.UploadDir)
	l.v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	l.v.SetDefault("server.rate_limit.enabled", d.Server.RateLimit.Enabled)
	l.v.SetDefault("server.rate_limit.requests_per_minute", d.Server.RateLimit.RequestsPerMinute)
	l.v.SetDefault("server.rate_limit.requests_per_hour", d.Server.RateLimit.RequestsPerHour)
	l.v.SetDefault("server.rate_limit.max_requests_per_day", d.Server.RateLimit.MaxRequestsPerDay)
	l.v.SetDefault("server.rate_limit.max_data_per_day_mb", d.Server.RateLimit.MaxDataPerDayMB)

	l.v.SetDefault("output.format", d.Output.Format)
	l.v.SetDefault("output.write_summary", d.Output.WriteSummary)
	l.v.SetDefault("output.confidence_floor", d.Output.ConfidenceFloor)
	l.v.SetDefault("output.csv_delimiter", d.Output.CSVDelimiter)
	l.v.SetDefault("output.sheet_name", d.Output.SheetName)
	l.v.SetDefault("output.include_manifest", d.Output.IncludeManifest)

	l.v.SetDefault("batch.output_dir", d.Batch.OutputDir)
	l.v.SetDefault("batch.combined", d.Batch.Combined)
	l.v.SetDefault("batch.recursive", d.Batch.Recursive)
	l.v.SetDefault("batch.checkpoint", d.Batch.Checkpoint)
	l.v.SetDefault("batch.continue_on_error", d.Batch.ContinueOnError)
}

// GetResolvedConfig returns the current resolved configuration for debugging.
func (l *Loader) GetResolvedConfig() map[string]any {
	return l.v.AllSettings()
}

// GenerateDefaultConfigFile writes every default to filename
// (tabscan.yaml when empty).
func GenerateDefaultConfigFile(filename string) error {
	loader := NewLoaderWithViper(viper.New())
	loader.setDefaults()
	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	return loader.v.WriteConfigAs(filename)
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}
	if configDir, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		paths = append(paths, filepath.Join(configDir, "tabscan"))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "tabscan"))
	}
	return append(paths, "/etc/tabscan")
}
