package assembler

import "github.com/MeKo-Tech/tabscan/internal/model"

// Progress receives page-level notifications during assembly. Calls are
// made from the merging goroutine only, never concurrently.
type Progress interface {
	// OnStart is called once the page count is known.
	OnStart(total int)
	// OnPage is called as each page finishes, in completion order.
	OnPage(outcome model.PageOutcome, done, total int)
	// OnComplete is called with the final result.
	OnComplete(result *model.JobResult)
}

// NoOpProgress ignores all notifications.
type NoOpProgress struct{}

func (NoOpProgress) OnStart(int)                        {}
func (NoOpProgress) OnPage(model.PageOutcome, int, int) {}
func (NoOpProgress) OnComplete(*model.JobResult)        {}
