// Package batch extracts tables from every PDF under a set of paths, with
// checkpointing so interrupted runs can resume, and an error report for the
// documents that yielded nothing.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MeKo-Tech/tabscan/internal/apperr"
	"github.com/MeKo-Tech/tabscan/internal/jobs"
	"github.com/MeKo-Tech/tabscan/internal/model"
	"github.com/MeKo-Tech/tabscan/internal/sink"
)

const (
	errorsJSON = "errors.json"
	errorsCSV  = "errors.csv"
)

// ErrNoDocuments is returned when discovery finds nothing to process.
var ErrNoDocuments = errors.New("no PDF documents found")

// Runner processes one document to completion.
type Runner interface {
	Run(ctx context.Context, req jobs.Request) (*model.JobResult, error)
}

// Summary describes a finished (or stopped) batch run.
type Summary struct {
	RunID     string            `json:"run_id"`
	Total     int               `json:"total"`
	Skipped   int               `json:"skipped"`
	Processed int               `json:"processed"`
	Failed    int               `json:"failed"`
	Cancelled int               `json:"cancelled"`
	Rows      int               `json:"rows"`
	Outputs   []string          `json:"outputs"`
	Errors    []sink.ErrorEntry `json:"errors"`
	Stopped   bool              `json:"stopped"`
	Duration  time.Duration     `json:"duration"`
}

// Processor runs batches through a Runner, normally a *jobs.Manager.
type Processor struct {
	runner   Runner
	cfg      Config
	logger   *slog.Logger
	progress Progress
}

// New validates cfg and returns a processor. A nil logger uses slog.Default().
func New(runner Runner, cfg Config, logger *slog.Logger) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{runner: runner, cfg: cfg, logger: logger, progress: noOpProgress{}}, nil
}

// WithProgress sets the progress reporter.
func (p *Processor) WithProgress(pr Progress) *Processor {
	if pr != nil {
		p.progress = pr
	}
	return p
}

// run holds the mutable state of one Process call.
type run struct {
	mu       sync.Mutex
	summary  *Summary
	cp       *Checkpoint
	combined []*model.JobResult
	names    []string
	done     int
	pending  int
}

// Process discovers documents under inputs and extracts each one. When ctx
// ends, no further documents are started, in-flight jobs are cancelled and
// not checkpointed, and the returned summary has Stopped set. Outputs and
// the error report cover every document that did finish.
func (p *Processor) Process(ctx context.Context, inputs []string) (*Summary, error) {
	start := time.Now()
	cfg := p.cfg

	docs, err := discoverDocuments(inputs, cfg.Recursive, cfg.IncludePatterns, cfg.ExcludePatterns)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	cpPath := ""
	if cfg.Checkpoint != "" {
		cpPath = filepath.Join(cfg.OutputDir, cfg.Checkpoint)
	}
	r := &run{summary: &Summary{RunID: uuid.NewString(), Total: len(docs)}}
	if cfg.Resume {
		r.cp = LoadCheckpoint(cpPath, p.logger)
		r.summary.Errors = p.loadErrors()
	} else {
		r.cp = newCheckpoint(cpPath)
	}
	r.cp.Runs++
	r.cp.LastRunID = r.summary.RunID

	var remaining []document
	for _, d := range docs {
		if r.cp.Done(d.Path) {
			r.summary.Skipped++
			continue
		}
		remaining = append(remaining, d)
	}
	r.pending = len(remaining)
	r.combined = make([]*model.JobResult, len(remaining))
	r.names = make([]string, len(remaining))

	p.logger.Info("batch.start", "run_id", r.summary.RunID, "documents", len(docs),
		"skipped", r.summary.Skipped, "workers", cfg.Workers, "combined", cfg.Combined)
	p.progress.OnStart(len(remaining), r.summary.Skipped)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i, d := range remaining {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			req := cfg.Request
			req.Source = d.Path
			req.Name = d.Rel
			res, err := p.runner.Run(gctx, req)
			return p.finish(gctx, r, i, d, res, err)
		})
	}
	runErr := g.Wait()

	// Outputs are written even when the run was interrupted.
	wctx := context.WithoutCancel(ctx)
	if cfg.Combined {
		if err := p.writeCombined(wctx, r); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}
	if err := p.saveState(wctx, r); err != nil {
		runErr = errors.Join(runErr, err)
	}

	s := r.summary
	s.Duration = time.Since(start)
	s.Stopped = ctx.Err() != nil || r.done < r.pending
	p.progress.OnComplete(s)
	p.logger.Info("batch.done", "run_id", s.RunID, "processed", s.Processed, "failed", s.Failed,
		"cancelled", s.Cancelled, "rows", s.Rows, "stopped", s.Stopped, "duration", s.Duration)

	if runErr == nil && ctx.Err() != nil {
		runErr = context.Cause(ctx)
	}
	return s, runErr
}

// finish records one document's outcome. It returns an error only to stop
// the batch after a failure when ContinueOnError is off.
func (p *Processor) finish(ctx context.Context, r *run, i int, d document, res *model.JobResult, err error) error {
	if isCancellation(ctx, err) {
		r.mu.Lock()
		r.summary.Cancelled++
		r.mu.Unlock()
		p.logger.Info("batch.document.cancelled", "name", d.Rel)
		return nil
	}

	if res == nil && err == nil {
		err = errors.New("no result")
	}
	state := stateOf(res, err)
	entry, failed := sink.ClassifyFailure(d.Rel, res, err)

	var output string
	if !failed && !p.cfg.Combined {
		var werr error
		if output, werr = p.writeDocument(ctx, d, res); werr != nil {
			entry, failed = sink.ErrorEntry{File: d.Rel, Type: sink.ErrorException, Details: werr.Error()}, true
			state = jobs.StateFailed
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.summary
	s.Processed++
	if res != nil {
		s.Rows += len(res.Table.Rows)
		if p.cfg.Combined && !failed {
			r.combined[i], r.names[i] = res, d.Rel
		}
	}
	if output != "" {
		s.Outputs = append(s.Outputs, output)
	}
	if failed {
		s.Failed++
		s.Errors = append(s.Errors, entry)
		p.logger.Warn("batch.document.failed", "name", d.Rel, "type", entry.Type, "details", entry.Details)
	}
	r.cp.Mark(d.Path)
	if err := r.cp.Save(); err != nil {
		p.logger.Error("batch.checkpoint.save.failed", "error", err)
	}
	r.done++
	p.progress.OnDocument(d.Rel, state, r.done, r.pending)

	if failed && !p.cfg.ContinueOnError {
		return fmt.Errorf("%s: %s: %s", d.Rel, entry.Type, entry.Details)
	}
	return nil
}

// isCancellation reports whether err means the job was stopped by the batch
// itself rather than failing on its own.
func isCancellation(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, apperr.ErrCancelled) || errors.Is(err, apperr.ErrShuttingDown) {
		return true
	}
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

func stateOf(res *model.JobResult, err error) jobs.State {
	switch {
	case res == nil:
		return jobs.StateFailed
	case res.Status == model.StatusTimedOut:
		return jobs.StateTimedOut
	case err != nil || res.Status == model.StatusFailed:
		return jobs.StateFailed
	case res.Status == model.StatusPartial:
		return jobs.StatePartiallyCompleted
	default:
		return jobs.StateCompleted
	}
}

func (p *Processor) extension() string {
	return "." + strings.ToLower(p.cfg.Format)
}

// writeDocument saves one document's workbook, mirroring its relative path
// under the output directory.
func (p *Processor) writeDocument(ctx context.Context, d document, res *model.JobResult) (string, error) {
	out, err := sink.ForFormat(p.cfg.Format, p.cfg.Sink, p.logger)
	if err != nil {
		return "", err
	}
	base := filepath.Join(p.cfg.OutputDir, filepath.FromSlash(strings.TrimSuffix(d.Rel, filepath.Ext(d.Rel))))
	dest := base + out.Extension()
	if err := out.(sink.TableSink).Write(ctx, res.Table, res.Manifest, dest); err != nil {
		return "", err
	}
	if p.cfg.WriteManifest {
		if err := sink.WriteManifest(ctx, res, base+".manifest.yaml"); err != nil {
			return "", err
		}
	}
	return dest, nil
}

// writeCombined merges the finished documents in discovery order into one
// workbook named after the run.
func (p *Processor) writeCombined(ctx context.Context, r *run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var table model.Table
	var manifest model.Manifest
	for i, res := range r.combined {
		if res == nil {
			continue
		}
		for _, row := range res.Table.Rows {
			row.Source = r.names[i]
			table.Rows = append(table.Rows, row)
			table.Columns = max(table.Columns, len(row.Cells))
		}
		for _, page := range res.Manifest.Pages {
			page.Source = r.names[i]
			manifest.Pages = append(manifest.Pages, page)
		}
	}
	if len(table.Rows) == 0 {
		return nil
	}
	for i, row := range table.Rows {
		if len(row.Cells) < table.Columns {
			cells := make([]model.Cell, table.Columns)
			copy(cells, row.Cells)
			table.Rows[i].Cells = cells
		}
	}

	dest := filepath.Join(p.cfg.OutputDir, "combined-"+r.summary.RunID[:8]+p.extension())
	out, err := sink.ForPath(dest, p.cfg.Sink, p.logger)
	if err != nil {
		return err
	}
	if err := out.Write(ctx, table, manifest, dest); err != nil {
		return err
	}
	r.summary.Outputs = append(r.summary.Outputs, dest)
	return nil
}

// saveState writes errors.json and the delimited error report.
func (p *Processor) saveState(ctx context.Context, r *run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.summary.Errors
	if entries == nil {
		entries = []sink.ErrorEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	if err := writeAtomic(filepath.Join(p.cfg.OutputDir, errorsJSON), data); err != nil {
		return fmt.Errorf("write %s: %w", errorsJSON, err)
	}
	return sink.WriteErrorReportFile(ctx, entries, p.cfg.Sink, filepath.Join(p.cfg.OutputDir, errorsCSV))
}

// loadErrors reads the error list left by an earlier run.
func (p *Processor) loadErrors() []sink.ErrorEntry {
	path := filepath.Join(p.cfg.OutputDir, errorsJSON)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			p.logger.Warn("batch.errors.unreadable", "path", path, "error", err)
		}
		return nil
	}
	var entries []sink.ErrorEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		p.logger.Warn("batch.errors.corrupt", "path", path, "error", err)
		return nil
	}
	return entries
}
