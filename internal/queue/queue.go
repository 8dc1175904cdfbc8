// Package queue holds the session's FIFO of workflow jobs and admits at most one of them to the
// execution endpoint at a time.
package queue

import (
	"sync"
	"time"

	"flow/internal/workflow"

	"github.com/rs/zerolog"
)

// Snapshotter produces an independent copy of the current workflow.
type Snapshotter interface {
	Snapshot() *workflow.Document
}

// Job is one snapshot-and-submit unit. Graph is owned by the job and must not be mutated.
type Job struct {
	ID       int
	Graph    *workflow.Document
	QueuedAt time.Time
}

// Dispatcher hands a started job to the execution endpoint. Dispatch is called without the
// queue lock held and must not block on the submission; failures are reported back through
// OnJobFailedToSubmit.
type Dispatcher interface {
	Dispatch(job Job)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(job Job)

func (f DispatcherFunc) Dispatch(job Job) { f(job) }

// Stats is a point-in-time view of the queue.
type Stats struct {
	Pending    []int `json:"pending"`
	Processing bool  `json:"processing"`
	InFlight   *int  `json:"inFlight,omitempty"`
}

// Option configures a Queue.
type Option func(*Queue)

// WithOnChange registers fn to be called, outside the lock, after every state change.
func WithOnChange(fn func(Stats)) Option {
	return func(q *Queue) { q.onChange = fn }
}

// WithClock overrides the time source used for QueuedAt.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// Queue is a strict FIFO with a single processing slot.
type Queue struct {
	mu         sync.Mutex
	pending    []Job
	inFlight   *Job
	processing bool
	nextJobID  int

	dispatcher Dispatcher
	onChange   func(Stats)
	now        func() time.Time
	logger     zerolog.Logger
}

func New(dispatcher Dispatcher, logger zerolog.Logger, opts ...Option) *Queue {
	q := &Queue{
		dispatcher: dispatcher,
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue snapshots src into a new job at the back of the queue and returns its id.
func (q *Queue) Enqueue(src Snapshotter) int {
	graph := src.Snapshot()

	q.mu.Lock()
	q.nextJobID++
	job := Job{ID: q.nextJobID, Graph: graph, QueuedAt: q.now()}
	q.pending = append(q.pending, job)
	stats := q.statsLocked()
	q.mu.Unlock()

	q.logger.Info().Int("jobId", job.ID).Int("queued", len(stats.Pending)).Msg("Added job to queue")
	q.notify(stats)
	return job.ID
}

// TryStartNext admits the head of the queue if the processing slot is free. It returns the
// started job, or false when nothing was started.
func (q *Queue) TryStartNext() (Job, bool) {
	q.mu.Lock()
	if q.processing || len(q.pending) == 0 {
		q.mu.Unlock()
		return Job{}, false
	}
	job := q.pending[0]
	q.pending = q.pending[1:]
	q.processing = true
	q.inFlight = &job
	stats := q.statsLocked()
	q.mu.Unlock()

	q.logger.Info().Int("jobId", job.ID).Msg("Processing job")
	q.notify(stats)
	if q.dispatcher != nil {
		q.dispatcher.Dispatch(job)
	}
	return job, true
}

// OnJobFailedToSubmit drops the in-flight job and moves on to the next one. The failed job is
// not requeued.
func (q *Queue) OnJobFailedToSubmit(jobID int) {
	q.mu.Lock()
	if q.inFlight == nil || q.inFlight.ID != jobID {
		q.mu.Unlock()
		q.logger.Warn().Int("jobId", jobID).Msg("Submission failure for a job that is not in flight, ignoring")
		return
	}
	q.inFlight = nil
	q.processing = false
	q.mu.Unlock()

	q.logger.Error().Int("jobId", jobID).Msg("Job failed to submit, dropping it")
	q.TryStartNext()
	q.notifyCurrent()
}

// OnJobCompleted frees the processing slot and starts the next job.
func (q *Queue) OnJobCompleted() {
	q.release("completed")
}

// OnJobInterrupted frees the processing slot and starts the next job.
func (q *Queue) OnJobInterrupted() {
	q.release("interrupted")
}

func (q *Queue) release(reason string) {
	q.mu.Lock()
	finished := q.inFlight
	q.inFlight = nil
	q.processing = false
	q.mu.Unlock()

	ev := q.logger.Info().Str("reason", reason)
	if finished != nil {
		ev = ev.Int("jobId", finished.ID)
	}
	ev.Msg("Job finished")

	if _, started := q.TryStartNext(); !started {
		q.notifyCurrent()
	}
}

// CancelMostRecentlyQueued removes the newest pending job when nothing is processing.
func (q *Queue) CancelMostRecentlyQueued() (Job, bool) {
	q.mu.Lock()
	if q.processing || len(q.pending) == 0 {
		q.mu.Unlock()
		return Job{}, false
	}
	last := len(q.pending) - 1
	job := q.pending[last]
	q.pending = q.pending[:last]
	stats := q.statsLocked()
	q.mu.Unlock()

	q.logger.Info().Int("jobId", job.ID).Int("remaining", len(stats.Pending)).Msg("Removed job from queue")
	q.notify(stats)
	return job, true
}

// Pending returns the queued jobs in submission order.
func (q *Queue) Pending() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, len(q.pending))
	copy(out, q.pending)
	return out
}

// Len returns the number of queued, not yet started jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Processing reports whether a job holds the processing slot.
func (q *Queue) Processing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing
}

// InFlight returns the job holding the processing slot.
func (q *Queue) InFlight() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inFlight == nil {
		return Job{}, false
	}
	return *q.inFlight, true
}

// Stats returns a point-in-time view of the queue.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statsLocked()
}

func (q *Queue) statsLocked() Stats {
	s := Stats{Pending: make([]int, 0, len(q.pending)), Processing: q.processing}
	for _, j := range q.pending {
		s.Pending = append(s.Pending, j.ID)
	}
	if q.inFlight != nil {
		id := q.inFlight.ID
		s.InFlight = &id
	}
	return s
}

func (q *Queue) notifyCurrent() {
	q.notify(q.Stats())
}

func (q *Queue) notify(s Stats) {
	if q.onChange != nil {
		q.onChange(s)
	}
}
