// Package jobs runs document extractions under admission control, a
// wall-clock budget per job, and explicit cancellation.
package jobs

import (
	"sync"
	"time"

	"github.com/MeKo-Tech/tabscan/internal/model"
)

// State is a job lifecycle state.
type State string

const (
	StateSubmitted          State = "submitted"
	StateRunning            State = "running"
	StateCompleted          State = "completed"
	StatePartiallyCompleted State = "partially_completed"
	StateFailed             State = "failed"
	StateTimedOut           State = "timed_out"
	StateCancelled          State = "cancelled"
)

// Terminal reports whether no further transitions can happen from s.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StatePartiallyCompleted, StateFailed, StateTimedOut, StateCancelled:
		return true
	}
	return false
}

// Request describes one document to process. Zero-valued overrides fall
// back to the manager defaults.
type Request struct {
	Source string `json:"source"`
	// Name is a display name for the document, defaulting to the source path.
	Name            string        `json:"name,omitempty"`
	Languages       []string      `json:"languages,omitempty"`
	ResolutionDPI   int           `json:"resolution_dpi,omitempty"`
	ConfidenceFloor *float64      `json:"confidence_floor,omitempty"`
	PageTimeout     time.Duration `json:"page_timeout,omitempty"`
	JobTimeout      time.Duration `json:"job_timeout,omitempty"`
	// Output, when set, receives the table through the configured sink once
	// the job finishes with rows worth keeping.
	Output string `json:"output,omitempty"`
}

// Snapshot is a point-in-time copy of a job.
type Snapshot struct {
	ID          string           `json:"id"`
	State       State            `json:"state"`
	Source      string           `json:"source"`
	Name        string           `json:"name,omitempty"`
	SubmittedAt time.Time        `json:"submitted_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	FinishedAt  *time.Time       `json:"finished_at,omitempty"`
	PagesDone   int              `json:"pages_done"`
	PagesTotal  int              `json:"pages_total"`
	Error       string           `json:"error,omitempty"`
	Output      string           `json:"output,omitempty"`
	Result      *model.JobResult `json:"result,omitempty"`
}

type job struct {
	id  string
	req Request

	mu          sync.Mutex
	state       State
	submittedAt time.Time
	startedAt   time.Time
	finishedAt  time.Time
	pagesDone   int
	pagesTotal  int
	errMsg      string
	output      string
	result      *model.JobResult
	err         error
	cancel      func(error)
	subs        []chan Snapshot

	done chan struct{}
}

func newJob(id string, req Request, now time.Time) *job {
	if req.Name == "" {
		req.Name = req.Source
	}
	return &job{
		id:          id,
		req:         req,
		state:       StateSubmitted,
		submittedAt: now,
		done:        make(chan struct{}),
	}
}

// snapshotLocked must be called with j.mu held.
func (j *job) snapshotLocked() Snapshot {
	s := Snapshot{
		ID:          j.id,
		State:       j.state,
		Source:      j.req.Source,
		Name:        j.req.Name,
		SubmittedAt: j.submittedAt,
		PagesDone:   j.pagesDone,
		PagesTotal:  j.pagesTotal,
		Error:       j.errMsg,
		Output:      j.output,
		Result:      j.result,
	}
	if !j.startedAt.IsZero() {
		t := j.startedAt
		s.StartedAt = &t
	}
	if !j.finishedAt.IsZero() {
		t := j.finishedAt
		s.FinishedAt = &t
	}
	return s
}

func (j *job) snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshotLocked()
}

// publishLocked fans the current snapshot out to subscribers without
// blocking; a subscriber that falls behind misses intermediate updates but
// always receives the terminal one. Must be called with j.mu held.
func (j *job) publishLocked() {
	s := j.snapshotLocked()
	terminal := j.state.Terminal()
	for _, ch := range j.subs {
		if terminal {
			select {
			case <-ch:
			default:
			}
		}
		select {
		case ch <- s:
		default:
		}
		if terminal {
			close(ch)
		}
	}
	if terminal {
		j.subs = nil
	}
}

func (j *job) subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 16)
	j.mu.Lock()
	defer j.mu.Unlock()
	ch <- j.snapshotLocked()
	if j.state.Terminal() {
		close(ch)
		return ch, func() {}
	}
	j.subs = append(j.subs, ch)
	return ch, func() {
		j.mu.Lock()
		defer j.mu.Unlock()
		for i, c := range j.subs {
			if c == ch {
				j.subs = append(j.subs[:i], j.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
}
