package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoader() *Loader {
	return NewLoaderWithViper(viper.New())
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "tabscan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadWithNoConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := newTestLoader().Load()
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Equal(t, def.Log, cfg.Log)
	assert.Equal(t, def.Server.Port, cfg.Server.Port)
	assert.Equal(t, def.Jobs, cfg.Jobs)
	assert.Equal(t, def.Output, cfg.Output)
}

func TestLoadWithFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
log:
  level: debug
raster:
  dpi: 200
  max_pages: 5
ocr:
  languages: [ron, eng]
  mode: per_language
assembler:
  page_timeout: 45s
  confidence_floor: 0.7
jobs:
  max_concurrent_jobs: 4
  queue_depth: 0
  job_timeout: 10m
output:
  format: csv
  csv_delimiter: ","
server:
  port: 9090
  rate_limit:
    enabled: true
    requests_per_minute: 5
`)

	l := newTestLoader()
	cfg, err := l.LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, l.GetConfigFileUsed())

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 200, cfg.Raster.DPI)
	assert.Equal(t, 5, cfg.Raster.MaxPages)
	assert.True(t, cfg.Raster.Grayscale)
	assert.Equal(t, []string{"ron", "eng"}, cfg.OCR.Languages)
	assert.Equal(t, "per_language", cfg.OCR.Mode)
	assert.Equal(t, 45*time.Second, cfg.Assembler.PageTimeout)
	assert.Equal(t, 0.7, cfg.Assembler.ConfidenceFloor)
	assert.Equal(t, 4, cfg.Jobs.MaxConcurrentJobs)
	assert.Equal(t, 0, cfg.Jobs.QueueDepth)
	assert.Equal(t, 10*time.Minute, cfg.Jobs.JobTimeout)
	assert.Equal(t, "csv", cfg.Output.Format)
	assert.Equal(t, ",", cfg.Output.CSVDelimiter)
	assert.Equal(t, "Records", cfg.Output.SheetName)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Server.RateLimit.Enabled)
	assert.Equal(t, 5, cfg.Server.RateLimit.RequestsPerMinute)
	assert.Equal(t, 500, cfg.Server.RateLimit.RequestsPerHour)
}

func TestLoadSearchesWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "jobs:\n  queue_depth: 3\n")
	t.Chdir(dir)

	cfg, err := newTestLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Jobs.QueueDepth)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TABSCAN_JOBS_JOB_TIMEOUT", "90s")
	t.Setenv("TABSCAN_ASSEMBLER_MAX_CONCURRENT_PAGES", "8")
	t.Setenv("TABSCAN_OCR_LANGUAGES", "ron,eng")
	t.Setenv("TABSCAN_OUTPUT_SHEET_NAME", "Date")

	cfg, err := newTestLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Jobs.JobTimeout)
	assert.Equal(t, 8, cfg.Assembler.MaxConcurrentPages)
	assert.Equal(t, []string{"ron", "eng"}, cfg.OCR.Languages)
	assert.Equal(t, "Date", cfg.Output.SheetName)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := newTestLoader().LoadWithFile(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "does not exist")

	bad := writeConfig(t, dir, "log: [unterminated\n")
	_, err = newTestLoader().LoadWithFile(bad)
	assert.ErrorContains(t, err, "error reading config file")

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("server:\n  port: -1\n"), 0o600))
	_, err = newTestLoader().LoadWithFile(invalid)
	assert.ErrorContains(t, err, "validation failed")
}

func TestLoadWithoutValidation(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "log:\n  level: chatty\n")
	t.Chdir(dir)

	cfg, err := newTestLoader().LoadWithoutValidation()
	require.NoError(t, err)
	assert.Equal(t, "chatty", cfg.Log.Level)
}

func TestGenerateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tabscan.yaml")
	require.NoError(t, GenerateDefaultConfigFile(path))

	cfg, err := newTestLoader().LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Jobs, cfg.Jobs)
	assert.Equal(t, DefaultConfig().Assembler, cfg.Assembler)
}

func TestGetConfigSearchPaths(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	paths := GetConfigSearchPaths()
	assert.Equal(t, ".", paths[0])
	assert.Contains(t, paths, filepath.Join(xdg, "tabscan"))
	assert.Equal(t, "/etc/tabscan", paths[len(paths)-1])
}
