package batch

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/MeKo-Tech/tabscan/internal/jobs"
)

// Progress receives document-level notifications from a batch run. Calls
// are serialized by the processor.
type Progress interface {
	OnStart(total, skipped int)
	OnDocument(name string, state jobs.State, done, total int)
	OnComplete(summary *Summary)
}

type noOpProgress struct{}

func (noOpProgress) OnStart(int, int)                        {}
func (noOpProgress) OnDocument(string, jobs.State, int, int) {}
func (noOpProgress) OnComplete(*Summary)                     {}

// ConsoleProgress draws a progress bar with rate and ETA.
type ConsoleProgress struct {
	mu             sync.Mutex
	w              io.Writer
	width          int
	updateInterval time.Duration
	lastUpdate     time.Time
	start          time.Time
}

// NewConsoleProgress writes to w (stderr when nil).
func NewConsoleProgress(w io.Writer, updateInterval time.Duration) *ConsoleProgress {
	if w == nil {
		w = os.Stderr
	}
	return &ConsoleProgress{w: w, width: 40, updateInterval: updateInterval}
}

func (c *ConsoleProgress) OnStart(total, skipped int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = time.Now()
	c.lastUpdate = time.Time{}
	if skipped > 0 {
		_, _ = fmt.Fprintf(c.w, "Skipping %d documents from checkpoint\n", skipped)
	}
	_, _ = fmt.Fprintf(c.w, "Processing %d documents\n", total)
}

func (c *ConsoleProgress) OnDocument(name string, state jobs.State, done, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	failed := state == jobs.StateFailed || state == jobs.StateTimedOut
	if failed {
		_, _ = fmt.Fprintf(c.w, "\r%s: %s\n", name, state)
	} else if now.Sub(c.lastUpdate) < c.updateInterval && done < total {
		return
	}
	c.lastUpdate = now
	c.draw(done, total, now)
}

func (c *ConsoleProgress) OnComplete(s *Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	verb := "Completed"
	if s.Stopped {
		verb = "Stopped"
	}
	_, _ = fmt.Fprintf(c.w, "\n%s in %v\n", verb, s.Duration.Round(time.Millisecond))
}

func (c *ConsoleProgress) draw(done, total int, now time.Time) {
	if total == 0 {
		return
	}
	filled := c.width * done / total
	bar := strings.Repeat("█", filled) + strings.Repeat("░", c.width-filled)
	line := fmt.Sprintf("\r[%s] %d/%d (%.1f%%)", bar, done, total, float64(done)/float64(total)*100)

	if elapsed := now.Sub(c.start); elapsed > 0 && done > 0 {
		line += fmt.Sprintf(" %.2f docs/s", float64(done)/elapsed.Seconds())
		if done < total {
			eta := time.Duration(float64(elapsed) * float64(total-done) / float64(done))
			line += fmt.Sprintf(" ETA: %v", eta.Round(time.Second))
		}
	}
	_, _ = fmt.Fprint(c.w, line)
}

// LogProgress reports progress through slog, for non-interactive runs.
type LogProgress struct {
	logger *slog.Logger
}

// NewLogProgress logs to logger (slog.Default when nil).
func NewLogProgress(logger *slog.Logger) *LogProgress {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProgress{logger: logger}
}

func (l *LogProgress) OnStart(total, skipped int) {
	l.logger.Info("batch.start", "documents", total, "skipped", skipped)
}

func (l *LogProgress) OnDocument(name string, state jobs.State, done, total int) {
	l.logger.Info("batch.document", "name", name, "state", state, "done", done, "total", total)
}

func (l *LogProgress) OnComplete(s *Summary) {
	l.logger.Info("batch.done", "run_id", s.RunID, "processed", s.Processed, "failed", s.Failed,
		"cancelled", s.Cancelled, "rows", s.Rows, "stopped", s.Stopped, "duration", s.Duration)
}
