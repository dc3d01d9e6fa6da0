package batch

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/tabscan/internal/sink"
)

func sampleSummary() *Summary {
	return &Summary{
		RunID:     "run-1",
		Total:     3,
		Skipped:   1,
		Processed: 2,
		Failed:    1,
		Rows:      7,
		Outputs:   []string{"out/a.xlsx"},
		Errors:    []sink.ErrorEntry{{File: "b.pdf", Type: sink.ErrorOCRFailed, Details: "page 0: render: boom"}},
		Duration:  1500 * time.Millisecond,
	}
}

func TestFormatSummary(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		out, err := FormatSummary(sampleSummary(), "text")
		require.NoError(t, err)
		assert.Contains(t, out, "Batch run-1 (completed)")
		assert.Contains(t, out, "Processed: 2")
		assert.Contains(t, out, "Avg/doc:   750ms")
		assert.Contains(t, out, "out/a.xlsx")
		assert.Contains(t, out, "b.pdf [OCR_FAILED] page 0: render: boom")
		assert.NotContains(t, out, "Cancelled")
	})

	t.Run("stopped", func(t *testing.T) {
		s := sampleSummary()
		s.Stopped, s.Cancelled = true, 1
		out, err := FormatSummary(s, "")
		require.NoError(t, err)
		assert.Contains(t, out, "(stopped)")
		assert.Contains(t, out, "Cancelled: 1")
	})

	t.Run("json", func(t *testing.T) {
		out, err := FormatSummary(sampleSummary(), "json")
		require.NoError(t, err)
		var back Summary
		require.NoError(t, json.Unmarshal([]byte(out), &back))
		assert.Equal(t, 7, back.Rows)
		assert.Equal(t, sink.ErrorOCRFailed, back.Errors[0].Type)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := FormatSummary(sampleSummary(), "xml")
		assert.Error(t, err)
	})
}
