package jobs

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/tabscan/internal/apperr"
	"github.com/MeKo-Tech/tabscan/internal/assembler"
	"github.com/MeKo-Tech/tabscan/internal/model"
	"github.com/MeKo-Tech/tabscan/internal/sink"
)

// ErrAlreadyFinished is returned when cancelling a job in a terminal state.
var ErrAlreadyFinished = errors.New("job already finished")

// Assembler is the document pipeline driven by the manager.
type Assembler interface {
	Assemble(ctx context.Context, source string, opts assembler.Options, progress assembler.Progress) (*model.JobResult, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithWorkers sets the number of jobs that may run at once.
func WithWorkers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithQueueDepth sets how many admitted jobs may wait for a worker. Zero
// rejects every submission that finds all workers busy.
func WithQueueDepth(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.depth = n
		}
	}
}

// WithJobTimeout sets the default wall-clock budget per job (0 = none).
func WithJobTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.jobTimeout = d
		}
	}
}

// WithRetention sets how long terminal jobs stay queryable (0 = forever).
func WithRetention(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.retention = d
		}
	}
}

// WithSink sets the sink used for requests carrying an output path.
func WithSink(s sink.TableSink) Option {
	return func(m *Manager) { m.sink = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// Stats describes current manager load.
type Stats struct {
	Workers    int `json:"workers"`
	QueueDepth int `json:"queue_depth"`
	Running    int `json:"running"`
	Queued     int `json:"queued"`
	Tracked    int `json:"tracked"`
}

// Manager owns a fixed worker pool and the jobs submitted to it.
type Manager struct {
	asm        Assembler
	defaults   assembler.Options
	logger     *slog.Logger
	sink       sink.TableSink
	workers    int
	depth      int
	jobTimeout time.Duration
	retention  time.Duration

	queue   chan *job
	running atomic.Int64

	mu       sync.Mutex
	jobs     map[string]*job
	admitted int
	closed   bool

	base context.Context
	stop context.CancelCauseFunc
	quit chan struct{}
	wg   sync.WaitGroup
}

// New starts a manager. defaults supply every option a request leaves unset.
func New(asm Assembler, defaults assembler.Options, opts ...Option) *Manager {
	m := &Manager{
		asm:        asm,
		defaults:   defaults,
		logger:     slog.Default(),
		workers:    2,
		depth:      8,
		jobTimeout: 30 * time.Minute,
		retention:  time.Hour,
		jobs:       make(map[string]*job),
		quit:       make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	// Admission keeps queued plus running jobs at or below this capacity,
	// so sends never block.
	m.queue = make(chan *job, m.workers+m.depth)
	m.base, m.stop = context.WithCancelCause(context.Background())

	for i := range m.workers {
		m.wg.Go(func() { m.worker(i + 1) })
	}
	if m.retention > 0 {
		go m.janitor()
	}
	return m
}

// Submit admits req for asynchronous processing and returns its job ID.
func (m *Manager) Submit(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.Source == "" {
		return "", fmt.Errorf("%w: source is required", apperr.ErrInvalidRequest)
	}
	if err := m.optionsFor(req).Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", apperr.ErrInvalidRequest, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", apperr.ErrShuttingDown
	}
	if m.admitted >= m.workers+m.depth {
		admitted := m.admitted
		m.mu.Unlock()
		jobsRejected.Inc()
		m.logger.Warn("job.rejected", "source", req.Source, "admitted", admitted,
			"workers", m.workers, "queue_depth", m.depth)
		return "", fmt.Errorf("%w: %d workers busy, queue depth %d", apperr.ErrAdmissionRejected, m.workers, m.depth)
	}
	m.admitted++
	j := newJob(uuid.NewString(), req, time.Now())
	m.jobs[j.id] = j
	m.queue <- j
	m.mu.Unlock()

	jobsSubmitted.Inc()
	jobsQueued.Inc()
	m.logger.Info("job.submitted", "job_id", j.id, "source", req.Source)
	return j.id, nil
}

// Run submits req and waits for it. If ctx ends first the job is cancelled.
// The result is returned for every terminal state; the error is non-nil for
// failed, timed out and cancelled jobs.
func (m *Manager) Run(ctx context.Context, req Request) (*model.JobResult, error) {
	id, err := m.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	j, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	select {
	case <-j.done:
	case <-ctx.Done():
		_ = m.Cancel(id)
		<-j.done
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.err
}

// Get returns a snapshot of the job.
func (m *Manager) Get(id string) (Snapshot, error) {
	j, err := m.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	return j.snapshot(), nil
}

// List returns snapshots of all tracked jobs, oldest first.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	jobs := make([]*job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	m.mu.Unlock()

	out := make([]Snapshot, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.snapshot())
	}
	slices.SortFunc(out, func(a, b Snapshot) int {
		return cmp.Or(a.SubmittedAt.Compare(b.SubmittedAt), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// Wait blocks until the job is terminal or ctx ends.
func (m *Manager) Wait(ctx context.Context, id string) (Snapshot, error) {
	j, err := m.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	select {
	case <-j.done:
		return j.snapshot(), nil
	case <-ctx.Done():
		return j.snapshot(), ctx.Err()
	}
}

// Subscribe streams snapshots of the job as it progresses. The channel is
// closed after the terminal snapshot; call the returned func to stop early.
func (m *Manager) Subscribe(id string) (<-chan Snapshot, func(), error) {
	j, err := m.lookup(id)
	if err != nil {
		return nil, nil, err
	}
	ch, unsubscribe := j.subscribe()
	return ch, unsubscribe, nil
}

// Cancel stops a queued or running job. Rows assembled so far are discarded.
func (m *Manager) Cancel(id string) error {
	j, err := m.lookup(id)
	if err != nil {
		return err
	}

	j.mu.Lock()
	switch {
	case j.state == StateSubmitted:
		j.result = &model.JobResult{DocumentID: j.req.Name, Status: model.StatusCancelled, Reason: apperr.ErrCancelled.Error()}
		j.err = apperr.ErrCancelled
		m.finishLocked(j, StateCancelled)
		j.mu.Unlock()
		m.logger.Info("job.cancelled", "job_id", id, "queued", true)
		return nil
	case j.state == StateRunning:
		cancel := j.cancel
		j.mu.Unlock()
		m.logger.Info("job.cancel.requested", "job_id", id)
		cancel(apperr.ErrCancelled)
		return nil
	default:
		j.mu.Unlock()
		return ErrAlreadyFinished
	}
}

// Stats reports the current load.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	running := int(m.running.Load())
	return Stats{
		Workers:    m.workers,
		QueueDepth: m.depth,
		Running:    running,
		Queued:     max(m.admitted-running, 0),
		Tracked:    len(m.jobs),
	}
}

// Shutdown stops admission and waits for admitted jobs to finish. When ctx
// ends first, the remaining jobs are cancelled and Shutdown returns once the
// workers have exited.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()
	close(m.quit)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.stop(apperr.ErrShuttingDown)
		m.logger.Info("jobs.shutdown.complete")
		return nil
	case <-ctx.Done():
		m.logger.Warn("jobs.shutdown.forced")
		m.stop(apperr.ErrShuttingDown)
		<-done
		return ctx.Err()
	}
}

func (m *Manager) lookup(id string) (*job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperr.ErrJobNotFound, id)
	}
	return j, nil
}

func (m *Manager) optionsFor(req Request) assembler.Options {
	opts := m.defaults
	if len(req.Languages) > 0 {
		opts.Languages = slices.Clone(req.Languages)
	}
	if req.ResolutionDPI > 0 {
		opts.Raster.DPI = req.ResolutionDPI
	}
	if req.ConfidenceFloor != nil {
		opts.ConfidenceFloor = *req.ConfidenceFloor
	}
	if req.PageTimeout > 0 {
		opts.PageTimeout = req.PageTimeout
	}
	return opts
}

func (m *Manager) worker(id int) {
	m.logger.Debug("jobs.worker.started", "worker_id", id)
	for j := range m.queue {
		jobsQueued.Dec()
		m.run(j)
		m.mu.Lock()
		m.admitted--
		m.mu.Unlock()
	}
	m.logger.Debug("jobs.worker.stopped", "worker_id", id)
}

func (m *Manager) run(j *job) {
	j.mu.Lock()
	if j.state != StateSubmitted {
		j.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancelCause(m.base)
	defer cancel(nil)
	if timeout := cmp.Or(j.req.JobTimeout, m.jobTimeout); timeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeoutCause(ctx, timeout, apperr.ErrTimedOut)
		defer stop()
	}
	j.cancel = cancel
	j.state = StateRunning
	j.startedAt = time.Now()
	j.publishLocked()
	j.mu.Unlock()

	m.running.Add(1)
	jobsRunning.Inc()
	defer func() {
		m.running.Add(-1)
		jobsRunning.Dec()
	}()
	m.logger.Info("job.started", "job_id", j.id, "source", j.req.Source)

	res, err := m.asm.Assemble(ctx, j.req.Source, m.optionsFor(j.req), &jobProgress{j: j})
	if err != nil && ctx.Err() != nil {
		err = context.Cause(ctx)
	}
	if res == nil {
		res = &model.JobResult{DocumentID: j.req.Name, Status: model.StatusFailed}
	}
	state := settle(res, err)

	var sinkErr error
	if j.req.Output != "" && m.sink != nil && keepsRows(state) {
		sinkErr = m.sink.Write(context.WithoutCancel(ctx), res.Table, res.Manifest, j.req.Output)
		if sinkErr != nil {
			m.logger.Error("job.sink.failed", "job_id", j.id, "output", j.req.Output, "error", sinkErr)
		}
	}

	j.mu.Lock()
	j.result = res
	j.err = err
	if sinkErr != nil {
		j.errMsg = "write output: " + sinkErr.Error()
	} else if j.req.Output != "" && m.sink != nil && keepsRows(state) {
		j.output = j.req.Output
	}
	m.finishLocked(j, state)
	j.mu.Unlock()

	for _, p := range res.Manifest.Pages {
		pageOutcomes.WithLabelValues(string(p.Status)).Inc()
	}
	tableRows.Observe(float64(len(res.Table.Rows)))
	m.logger.Info("job.finished", "job_id", j.id, "state", state, "rows", len(res.Table.Rows),
		"failed_pages", res.Manifest.Count(model.PageFailed), "duration", res.Duration)
}

// finishLocked moves j to a terminal state. Must be called with j.mu held.
func (m *Manager) finishLocked(j *job, state State) {
	j.state = state
	j.finishedAt = time.Now()
	if j.err != nil && j.errMsg == "" {
		j.errMsg = j.err.Error()
	}
	j.publishLocked()
	close(j.done)

	jobsFinished.WithLabelValues(string(state)).Inc()
	from := j.startedAt
	if from.IsZero() {
		from = j.submittedAt
	}
	jobDuration.WithLabelValues(string(state)).Observe(j.finishedAt.Sub(from).Seconds())
}

// settle maps the assembler outcome onto a terminal state. Cancelled jobs
// lose their rows; timed out jobs keep the rows of finished pages.
func settle(res *model.JobResult, err error) State {
	switch {
	case errors.Is(err, apperr.ErrCancelled), errors.Is(err, apperr.ErrShuttingDown):
		res.Table = model.Table{}
		res.Status = model.StatusCancelled
		return StateCancelled
	case errors.Is(err, apperr.ErrTimedOut):
		res.Status = model.StatusTimedOut
		return StateTimedOut
	case err != nil:
		res.Status = model.StatusFailed
		return StateFailed
	}
	switch res.Status {
	case model.StatusComplete:
		return StateCompleted
	case model.StatusPartial:
		return StatePartiallyCompleted
	default:
		return StateFailed
	}
}

func keepsRows(s State) bool {
	return s == StateCompleted || s == StatePartiallyCompleted || s == StateTimedOut
}

func (m *Manager) janitor() {
	t := time.NewTicker(max(m.retention/2, 10*time.Millisecond))
	defer t.Stop()
	for {
		select {
		case <-m.quit:
			return
		case now := <-t.C:
			m.evict(now)
		}
	}
}

func (m *Manager) evict(now time.Time) {
	cutoff := now.Add(-m.retention)
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, j := range m.jobs {
		j.mu.Lock()
		expired := j.state.Terminal() && j.finishedAt.Before(cutoff)
		j.mu.Unlock()
		if expired {
			delete(m.jobs, id)
			m.logger.Debug("job.evicted", "job_id", id)
		}
	}
}

type jobProgress struct {
	j *job
}

func (p *jobProgress) OnStart(total int) {
	p.j.mu.Lock()
	defer p.j.mu.Unlock()
	p.j.pagesTotal = total
	p.j.publishLocked()
}

func (p *jobProgress) OnPage(_ model.PageOutcome, done, _ int) {
	p.j.mu.Lock()
	defer p.j.mu.Unlock()
	p.j.pagesDone = done
	p.j.publishLocked()
}

func (p *jobProgress) OnComplete(*model.JobResult) {}
