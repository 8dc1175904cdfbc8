package service

import (
	"context"
	"fmt"
	"sync"

	"flow/internal/comfy"
	"flow/internal/notify"
	"flow/internal/queue"
	"flow/internal/workflow"

	"github.com/rs/zerolog"
)

// Submitter is the part of the upstream client the execution path needs.
type Submitter interface {
	SubmitPrompt(ctx context.Context, prompt *workflow.Document, clientID string) (comfy.PromptResponse, error)
	Interrupt(ctx context.Context, clientID string) error
}

// Feed is where the session's user-visible state goes: the presenter effects of routed
// notifications plus queue changes.
type Feed interface {
	notify.Presenter
	UpdateQueue(stats queue.Stats)
}

// InterruptResult tells what an interrupt request did locally.
type InterruptResult struct {
	// Running is true when a job was in flight; the upstream was asked to stop it and the queue
	// waits for the resulting notification.
	Running bool `json:"running"`
	// Cancelled is the id of the queued job that was dropped instead, if any.
	Cancelled *int `json:"cancelled,omitempty"`
	// UpstreamError is set when the interrupt request itself failed.
	UpstreamError string `json:"upstreamError,omitempty"`
}

// ExecutionStatus is a point-in-time view of the execution side of the session.
type ExecutionStatus struct {
	ClientID string          `json:"clientId"`
	Queue    queue.Stats     `json:"queue"`
	Progress notify.Progress `json:"progress"`
	Status   string          `json:"status"`
}

// ExecutionService ties the job queue to the upstream: it submits started jobs and feeds the
// upstream's notifications back into the queue through the router.
type ExecutionService struct {
	ctx      context.Context
	client   Submitter
	feed     Feed
	queue    *queue.Queue
	router   *notify.Router
	clientID string
	wg       sync.WaitGroup
	logger   zerolog.Logger
}

// NewExecutionService wires a queue and a router around client. ctx bounds every submission.
func NewExecutionService(ctx context.Context, client Submitter, feed Feed, clientID string, logger zerolog.Logger, routerOpts ...notify.RouterOption) *ExecutionService {
	s := &ExecutionService{
		ctx:      ctx,
		client:   client,
		feed:     feed,
		clientID: clientID,
		logger:   logger.With().Str("clientId", clientID).Logger(),
	}
	s.queue = queue.New(s, s.logger, queue.WithOnChange(feed.UpdateQueue))
	s.router = notify.NewRouter(feed, s.queue, s.logger, routerOpts...)
	return s
}

// Router receives the upstream push-channel frames.
func (slf *ExecutionService) Router() *notify.Router {
	return slf.router
}

func (slf *ExecutionService) ClientID() string {
	return slf.clientID
}

// Queue snapshots src into a new job and starts it if nothing is running.
func (slf *ExecutionService) Queue(src queue.Snapshotter) int {
	id := slf.queue.Enqueue(src)
	slf.queue.TryStartNext()
	return id
}

// Dispatch submits a started job in the background. Failures drop the job and move on.
func (slf *ExecutionService) Dispatch(job queue.Job) {
	slf.router.UpdateNodeTitles(job.Graph)

	slf.wg.Add(1)
	go func() {
		defer slf.wg.Done()

		resp, err := slf.client.SubmitPrompt(slf.ctx, job.Graph, slf.clientID)
		if err != nil {
			slf.logger.Error().Err(err).Int("jobId", job.ID).Msg("Error processing job")
			slf.feed.UpdateStatus(fmt.Sprintf("Error: job %d could not be submitted", job.ID))
			slf.queue.OnJobFailedToSubmit(job.ID)
			return
		}
		slf.logger.Info().Int("jobId", job.ID).Str("promptId", resp.PromptID).Msg("Job submitted")
	}()
}

// Interrupt asks the upstream to stop the running job. When nothing is running, the most
// recently queued job is cancelled instead.
func (slf *ExecutionService) Interrupt(ctx context.Context) InterruptResult {
	var result InterruptResult
	if err := slf.client.Interrupt(ctx, slf.clientID); err != nil {
		slf.logger.Error().Err(err).Msg("Error during interrupt")
		result.UpstreamError = err.Error()
	}
	slf.feed.HideSpinner()

	if slf.queue.Processing() {
		slf.logger.Info().Msg("Interrupting current job")
		result.Running = true
		return result
	}
	if job, ok := slf.queue.CancelMostRecentlyQueued(); ok {
		result.Cancelled = &job.ID
		return result
	}
	slf.logger.Info().Msg("No jobs in queue to interrupt")
	return result
}

func (slf *ExecutionService) Status() ExecutionStatus {
	return ExecutionStatus{
		ClientID: slf.clientID,
		Queue:    slf.queue.Stats(),
		Progress: slf.router.Progress(),
		Status:   slf.router.Status(),
	}
}

// Wait blocks until every in-flight submission returned.
func (slf *ExecutionService) Wait() {
	slf.wg.Wait()
}
