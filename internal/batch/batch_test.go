package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/tabscan/internal/assembler"
	"github.com/MeKo-Tech/tabscan/internal/jobs"
	"github.com/MeKo-Tech/tabscan/internal/sink"
	"github.com/MeKo-Tech/tabscan/internal/testutil"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4\n"), 0o600))
	}
}

func page(cells ...string) testutil.PageScript {
	return testutil.PageScript{Fragments: testutil.GridFragments([][]string{cells}, 0.9)}
}

func newManager(t *testing.T, p *testutil.Pipeline) *jobs.Manager {
	t.Helper()
	m := jobs.New(assembler.New(p, p, nil), assembler.DefaultOptions(), jobs.WithWorkers(2))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

// fixture lays out four documents: one clean, one partially failing, one
// without pages and one the rasterizer cannot open.
func fixture(t *testing.T) (string, *testutil.Pipeline) {
	t.Helper()
	in := t.TempDir()
	touch(t, in, "good.pdf", "sub/partial.pdf", "empty.pdf", "broken.pdf", "._good.pdf", "notes.txt")

	p := testutil.NewPipeline()
	p.AddDocument("good.pdf", page("1", "Popescu"), page("2", "Ionescu"))
	p.AddDocument("partial.pdf", page("3", "Vasile"), testutil.PageScript{RenderErr: assert.AnError})
	p.AddDocument("empty.pdf")
	return in, p
}

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.OutputDir = filepath.Join(t.TempDir(), "out")
	cfg.ShowProgress = false
	return cfg
}

func TestProcessPerFile(t *testing.T) {
	in, p := fixture(t)
	cfg := testConfig(t)
	cfg.WriteManifest = true

	proc, err := New(newManager(t, p), cfg, nil)
	require.NoError(t, err)
	s, err := proc.Process(context.Background(), []string{in})
	require.NoError(t, err)

	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 4, s.Processed)
	assert.Equal(t, 0, s.Skipped)
	assert.Equal(t, 2, s.Failed)
	assert.Equal(t, 3, s.Rows)
	assert.False(t, s.Stopped)
	assert.NotEmpty(t, s.RunID)

	assert.ElementsMatch(t, []string{
		filepath.Join(cfg.OutputDir, "good.xlsx"),
		filepath.Join(cfg.OutputDir, "sub", "partial.xlsx"),
	}, s.Outputs)
	for _, o := range s.Outputs {
		assert.FileExists(t, o)
	}
	assert.FileExists(t, filepath.Join(cfg.OutputDir, "good.manifest.yaml"))

	kinds := map[string]sink.ErrorKind{}
	for _, e := range s.Errors {
		kinds[e.File] = e.Type
	}
	assert.Equal(t, map[string]sink.ErrorKind{
		"empty.pdf":  sink.ErrorEmptyPDF,
		"broken.pdf": sink.ErrorException,
	}, kinds)

	data, err := os.ReadFile(filepath.Join(cfg.OutputDir, errorsJSON))
	require.NoError(t, err)
	var saved []sink.ErrorEntry
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Len(t, saved, 2)

	report, err := os.ReadFile(filepath.Join(cfg.OutputDir, errorsCSV))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(report)), "\n")
	assert.Equal(t, "file;type;details", lines[0])
	assert.Len(t, lines, 3)

	cp := LoadCheckpoint(filepath.Join(cfg.OutputDir, cfg.Checkpoint), testLogger())
	assert.Len(t, cp.ProcessedFiles, 4)
}

func TestProcessResume(t *testing.T) {
	in, p := fixture(t)
	cfg := testConfig(t)
	m := newManager(t, p)

	proc, err := New(m, cfg, nil)
	require.NoError(t, err)
	_, err = proc.Process(context.Background(), []string{in})
	require.NoError(t, err)
	opened := p.Opened.Load()

	touch(t, in, "late.pdf")
	p.AddDocument("late.pdf", page("9", "Nou"))

	s, err := proc.Process(context.Background(), []string{in})
	require.NoError(t, err)
	assert.Equal(t, 4, s.Skipped)
	assert.Equal(t, 1, s.Processed)
	assert.Equal(t, opened+1, p.Opened.Load(), "checkpointed documents are not reopened")
	assert.Len(t, s.Errors, 2, "earlier errors are carried over")

	t.Run("without resume", func(t *testing.T) {
		cfg := cfg
		cfg.Resume = false
		proc, err := New(m, cfg, nil)
		require.NoError(t, err)
		s, err := proc.Process(context.Background(), []string{in})
		require.NoError(t, err)
		assert.Equal(t, 0, s.Skipped)
		assert.Equal(t, 5, s.Processed)
		assert.Len(t, s.Errors, 2)
	})
}

func TestProcessCombined(t *testing.T) {
	in, p := fixture(t)
	cfg := testConfig(t)
	cfg.Combined = true
	cfg.Format = "csv"

	proc, err := New(newManager(t, p), cfg, nil)
	require.NoError(t, err)
	s, err := proc.Process(context.Background(), []string{in})
	require.NoError(t, err)

	require.Len(t, s.Outputs, 1)
	assert.Equal(t, "combined-"+s.RunID[:8]+".csv", filepath.Base(s.Outputs[0]))
	assert.NoFileExists(t, filepath.Join(cfg.OutputDir, "good.csv"))

	data, err := os.ReadFile(s.Outputs[0])
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Page;Row Confidence;Col 1;Col 2;Status;Notes;Source", lines[0])
	assert.True(t, strings.HasSuffix(lines[1], ";good.pdf"), lines[1])
	assert.True(t, strings.HasSuffix(lines[2], ";good.pdf"), lines[2])
	assert.True(t, strings.HasSuffix(lines[3], ";sub/partial.pdf"), lines[3])
}

func TestProcessStopsOnFailure(t *testing.T) {
	in, p := fixture(t)
	cfg := testConfig(t)
	cfg.ContinueOnError = false
	cfg.Workers = 1

	proc, err := New(newManager(t, p), cfg, nil)
	require.NoError(t, err)
	s, err := proc.Process(context.Background(), []string{in})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.pdf")

	// broken.pdf sorts first.
	assert.Equal(t, 1, s.Processed)
	assert.Equal(t, 1, s.Failed)
	assert.True(t, s.Stopped)
}

func TestProcessInterrupted(t *testing.T) {
	in := t.TempDir()
	p := testutil.NewPipeline()
	for _, name := range []string{"a.pdf", "b.pdf", "c.pdf", "d.pdf", "e.pdf"} {
		touch(t, in, name)
		slow := page("x", name)
		slow.RenderDelay = 100 * time.Millisecond
		p.AddDocument(name, slow, slow, slow, slow)
	}
	cfg := testConfig(t)

	proc, err := New(newManager(t, p), cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 350*time.Millisecond)
	defer cancel()
	s, err := proc.Process(ctx, []string{in})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	assert.True(t, s.Stopped)
	assert.Less(t, s.Processed, 5)
	assert.Positive(t, s.Cancelled)

	cp := LoadCheckpoint(filepath.Join(cfg.OutputDir, cfg.Checkpoint), testLogger())
	assert.Len(t, cp.ProcessedFiles, s.Processed, "cancelled documents are not checkpointed")
	assert.FileExists(t, filepath.Join(cfg.OutputDir, errorsJSON))
}

func TestProcessNoDocuments(t *testing.T) {
	in := t.TempDir()
	touch(t, in, "._hidden.pdf", "readme.md")

	proc, err := New(newManager(t, testutil.NewPipeline()), testConfig(t), nil)
	require.NoError(t, err)
	_, err = proc.Process(context.Background(), []string{in})
	assert.ErrorIs(t, err, ErrNoDocuments)
}

func TestProcessProgress(t *testing.T) {
	in, p := fixture(t)
	var buf bytes.Buffer

	proc, err := New(newManager(t, p), testConfig(t), nil)
	require.NoError(t, err)
	proc.WithProgress(NewConsoleProgress(&buf, 0))
	_, err = proc.Process(context.Background(), []string{in})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Processing 4 documents")
	assert.Contains(t, out, "4/4 (100.0%)")
	assert.Contains(t, out, "Completed in")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"no output dir", func(c *Config) { c.OutputDir = " " }, "output directory"},
		{"bad format", func(c *Config) { c.Format = "ods" }, "unsupported output format"},
		{"no workers", func(c *Config) { c.Workers = 0 }, "workers"},
		{"bad sink", func(c *Config) { c.Sink.CSVDelimiter = ";;" }, "output:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
