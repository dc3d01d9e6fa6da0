package batch

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// FormatSummary renders s as "text" or "json".
func FormatSummary(s *Summary, format string) (string, error) {
	switch format {
	case "json":
		b, err := json.MarshalIndent(s, "", "  ")
		return string(b), err
	case "", "text":
		return formatText(s), nil
	default:
		return "", fmt.Errorf("unsupported summary format %q", format)
	}
}

func formatText(s *Summary) string {
	var b strings.Builder
	status := "completed"
	if s.Stopped {
		status = "stopped"
	}
	fmt.Fprintf(&b, "Batch %s (%s)\n", s.RunID, status)
	fmt.Fprintf(&b, "  Documents: %d\n", s.Total)
	fmt.Fprintf(&b, "  Skipped:   %d\n", s.Skipped)
	fmt.Fprintf(&b, "  Processed: %d\n", s.Processed)
	fmt.Fprintf(&b, "  Failed:    %d\n", s.Failed)
	if s.Cancelled > 0 {
		fmt.Fprintf(&b, "  Cancelled: %d\n", s.Cancelled)
	}
	fmt.Fprintf(&b, "  Rows:      %d\n", s.Rows)
	fmt.Fprintf(&b, "  Duration:  %v\n", s.Duration.Round(time.Millisecond))
	if s.Processed > 0 && s.Duration > 0 {
		fmt.Fprintf(&b, "  Avg/doc:   %v\n", (s.Duration / time.Duration(s.Processed)).Round(time.Millisecond))
	}
	if len(s.Outputs) > 0 {
		b.WriteString("Outputs:\n")
		for _, o := range s.Outputs {
			fmt.Fprintf(&b, "  %s\n", o)
		}
	}
	if len(s.Errors) > 0 {
		b.WriteString("Errors:\n")
		for _, e := range s.Errors {
			fmt.Fprintf(&b, "  %s [%s] %s\n", e.File, e.Type, e.Details)
		}
	}
	return b.String()
}

// PrintSummary writes the text summary to w unless quiet.
func PrintSummary(w io.Writer, s *Summary, quiet bool) {
	if quiet {
		return
	}
	_, _ = io.WriteString(w, formatText(s))
}
