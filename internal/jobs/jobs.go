// Package jobs runs long admin operations in the background.
//
// At most one job of each kind runs at a time. Starting a kind that is
// already running returns the running job instead of a new one. Stop
// cancels every job and waits for them to return.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/lostfits/pkg/logger"
	"github.com/okian/lostfits/pkg/metrics"
)

const defaultRetain = 100

// Status is a job lifecycle state.
type Status string

// Job states.
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Done reports whether s is terminal.
func (s Status) Done() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Job is a snapshot of a background operation.
type Job struct {
	ID         string     `json:"job_id"`
	Kind       string     `json:"kind"`
	Status     Status     `json:"status"`
	Message    string     `json:"message,omitempty"`
	Processed  int64      `json:"processed"`
	Progress   any        `json:"progress,omitempty"`
	Result     any        `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Reporter publishes progress from inside a running job.
type Reporter func(processed int64, detail any)

// Func is the body of a job. It must return promptly once ctx is done.
type Func func(ctx context.Context, report Reporter) (any, error)

// Manager tracks jobs.
type Manager struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	order   []string
	running map[string]string // kind -> job ID
	cancels map[string]context.CancelFunc

	base    context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	stopped bool

	retain int
	now    func() time.Time
	logger logger.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetain bounds how many finished jobs are remembered.
func WithRetain(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.retain = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a Manager.
func NewManager(opts ...Option) *Manager {
	base, stop := context.WithCancel(context.Background())
	m := &Manager{
		jobs:    make(map[string]*Job),
		running: make(map[string]string),
		cancels: make(map[string]context.CancelFunc),
		base:    base,
		stop:    stop,
		retain:  defaultRetain,
		now:     time.Now,
		logger:  logger.Get().Named("jobs"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start runs fn as a job of kind. When a job of kind is already queued or
// running, that job is returned with started false.
func (m *Manager) Start(kind, message string, fn Func) (Job, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return Job{}, false, ErrStopped
	}
	if id, ok := m.running[kind]; ok {
		return m.snapshot(m.jobs[id]), false, nil
	}

	j := &Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    StatusQueued,
		Message:   message,
		CreatedAt: m.now().UTC(),
	}
	ctx, cancel := context.WithCancel(m.base)
	m.jobs[j.ID] = j
	m.order = append(m.order, j.ID)
	m.running[kind] = j.ID
	m.cancels[j.ID] = cancel
	m.prune()

	metrics.RecordJobStarted(kind)
	m.wg.Add(1)
	go m.run(ctx, j.ID, fn)

	return m.snapshot(j), true, nil
}

func (m *Manager) run(ctx context.Context, id string, fn Func) {
	defer m.wg.Done()

	m.update(id, func(j *Job) {
		started := m.now().UTC()
		j.Status = StatusRunning
		j.StartedAt = &started
	})
	kind := m.kindOf(id)
	m.logger.Info(ctx, "job started", logger.String("job_id", id), logger.String("kind", kind))

	report := func(processed int64, detail any) {
		m.update(id, func(j *Job) {
			j.Processed = processed
			j.Progress = detail
		})
		metrics.UpdateJobProgress(kind, processed)
	}

	result, err := safeCall(ctx, fn, report)

	var status Status
	m.mu.Lock()
	if j, ok := m.jobs[id]; ok {
		finished := m.now().UTC()
		j.FinishedAt = &finished
		j.Result = result
		switch {
		case err == nil:
			j.Status = StatusSucceeded
		case errors.Is(err, context.Canceled):
			j.Status = StatusCancelled
			j.Error = err.Error()
		default:
			j.Status = StatusFailed
			j.Error = err.Error()
		}
		status = j.Status
	}
	if m.running[kind] == id {
		delete(m.running, kind)
	}
	if cancel, ok := m.cancels[id]; ok {
		cancel()
		delete(m.cancels, id)
	}
	m.mu.Unlock()

	metrics.RecordJobFinished(kind, string(status))
	if err != nil && status == StatusFailed {
		m.logger.Error(ctx, "job failed", logger.String("job_id", id), logger.String("kind", kind), logger.Error(err))
		return
	}
	m.logger.Info(ctx, "job finished", logger.String("job_id", id), logger.String("kind", kind), logger.String("status", string(status)))
}

func safeCall(ctx context.Context, fn Func, report Reporter) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return fn(ctx, report)
}

func (m *Manager) update(id string, fn func(*Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		fn(j)
	}
}

func (m *Manager) kindOf(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		return j.Kind
	}
	return ""
}

// prune drops the oldest finished jobs beyond the retention limit.
func (m *Manager) prune() {
	excess := len(m.order) - m.retain
	if excess <= 0 {
		return
	}
	kept := m.order[:0]
	for _, id := range m.order {
		if excess > 0 && m.jobs[id].Status.Done() {
			delete(m.jobs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
}

func (m *Manager) snapshot(j *Job) Job {
	return *j
}

// Get returns the job with id.
func (m *Manager) Get(id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return m.snapshot(j), nil
}

// List returns every remembered job, newest first.
func (m *Manager) List() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Job, 0, len(m.order))
	for _, id := range slices.Backward(m.order) {
		out = append(out, m.snapshot(m.jobs[id]))
	}
	return out
}

// Running returns the job of kind that is in flight, if any.
func (m *Manager) Running(kind string) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.running[kind]
	if !ok {
		return Job{}, false
	}
	return m.snapshot(m.jobs[id]), true
}

// Cancel cancels the job with id.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cancel, ok := m.cancels[id]
	if !ok {
		if _, known := m.jobs[id]; known {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cancel()
	return nil
}

// Stop cancels every job and waits for them to return or ctx to end.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	m.stop()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("jobs stop: %w", ctx.Err())
	}
}
