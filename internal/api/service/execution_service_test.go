package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"flow/internal/comfy"
	"flow/internal/notify"
	"flow/internal/queue"
	"flow/internal/workflow"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubmitter struct {
	mu           sync.Mutex
	prompts      []*workflow.Document
	failNext     int
	interrupts   int
	interruptErr error
}

func (f *fakeSubmitter) SubmitPrompt(_ context.Context, prompt *workflow.Document, clientID string) (comfy.PromptResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.failNext > 0 {
		f.failNext--
		return comfy.PromptResponse{}, comfy.ErrSubmissionFailed
	}
	return comfy.PromptResponse{PromptID: clientID}, nil
}

func (f *fakeSubmitter) Interrupt(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupts++
	return f.interruptErr
}

func (f *fakeSubmitter) submitted() []*workflow.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*workflow.Document(nil), f.prompts...)
}

type recordingFeed struct {
	notify.NopPresenter
	mu       sync.Mutex
	statuses []string
	queues   []queue.Stats
	hides    int
}

func (f *recordingFeed) UpdateStatus(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, text)
}

func (f *recordingFeed) HideSpinner() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hides++
}

func (f *recordingFeed) UpdateQueue(stats queue.Stats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues = append(f.queues, stats)
}

func newTestExecution(t *testing.T) (*ExecutionService, *fakeSubmitter, *recordingFeed, *WorkflowService) {
	t.Helper()
	sub := &fakeSubmitter{}
	feed := &recordingFeed{}
	exec := NewExecutionService(context.Background(), sub, feed, "client-1", zerolog.Nop())
	wf, _ := newTestWorkflowService(t)
	return exec, sub, feed, wf
}

func seedOf(t *testing.T, doc *workflow.Document) any {
	t.Helper()
	n, err := doc.Node(3)
	require.NoError(t, err)
	return n.Inputs["seed"].Literal()
}

// ============ Queue Tests ============

func TestExecution_SubmitsOneAtATime(t *testing.T) {
	exec, sub, _, wf := newTestExecution(t)

	assert.Equal(t, 1, exec.Queue(wf))
	assert.Equal(t, 2, exec.Queue(wf))
	exec.Wait()

	require.Len(t, sub.submitted(), 1)
	status := exec.Status()
	assert.True(t, status.Queue.Processing)
	assert.Equal(t, []int{2}, status.Queue.Pending)

	exec.Router().HandleText([]byte(`{"type": "executed", "data": {"output": {"images": [{"filename": "a.png"}]}}}`))
	exec.Wait()

	require.Len(t, sub.submitted(), 2)
	assert.Empty(t, exec.Status().Queue.Pending)
}

func TestExecution_SnapshotTakenAtQueueTime(t *testing.T) {
	exec, sub, _, wf := newTestExecution(t)

	exec.Queue(wf)
	exec.Queue(wf)
	_, err := wf.SetInputs(3, map[string]any{"seed": 7})
	require.NoError(t, err)
	exec.Queue(wf)
	exec.Wait()

	exec.Router().HandleText([]byte(`{"type": "execution_interrupted", "data": {}}`))
	exec.Wait()
	exec.Router().HandleText([]byte(`{"type": "executed", "data": {}}`))
	exec.Wait()

	prompts := sub.submitted()
	require.Len(t, prompts, 3)
	assert.EqualValues(t, 42, seedOf(t, prompts[0]))
	assert.EqualValues(t, 42, seedOf(t, prompts[1]))
	assert.EqualValues(t, 7, seedOf(t, prompts[2]))
}

func TestExecution_FailedSubmissionMovesOn(t *testing.T) {
	exec, sub, feed, wf := newTestExecution(t)
	sub.failNext = 1

	exec.Queue(wf)
	exec.Queue(wf)
	exec.Wait()

	require.Len(t, sub.submitted(), 2)
	status := exec.Status()
	require.NotNil(t, status.Queue.InFlight)
	assert.Equal(t, 2, *status.Queue.InFlight)
	assert.Contains(t, feed.statuses, "Error: job 1 could not be submitted")
}

func TestExecution_QueueChangesReachFeed(t *testing.T) {
	exec, _, feed, wf := newTestExecution(t)

	exec.Queue(wf)
	exec.Wait()

	feed.mu.Lock()
	defer feed.mu.Unlock()
	require.NotEmpty(t, feed.queues)
	last := feed.queues[len(feed.queues)-1]
	assert.True(t, last.Processing)
}

// ============ Interrupt Tests ============

func TestExecution_InterruptWhileRunning(t *testing.T) {
	exec, sub, _, wf := newTestExecution(t)
	exec.Queue(wf)
	exec.Queue(wf)
	exec.Wait()

	result := exec.Interrupt(context.Background())

	assert.True(t, result.Running)
	assert.Nil(t, result.Cancelled)
	assert.Equal(t, 1, sub.interrupts)
	assert.Equal(t, []int{2}, exec.Status().Queue.Pending, "running jobs are only stopped by the upstream")
}

func TestExecution_InterruptWhileIdle(t *testing.T) {
	exec, sub, feed, wf := newTestExecution(t)
	sub.interruptErr = errors.New("connection refused")

	result := exec.Interrupt(context.Background())
	assert.False(t, result.Running)
	assert.Nil(t, result.Cancelled)
	assert.Equal(t, "connection refused", result.UpstreamError)
	assert.Equal(t, 1, feed.hides)

	exec.Queue(wf)
	exec.Wait()
	exec.Router().HandleText([]byte(`{"type": "execution_interrupted", "data": {}}`))
	assert.False(t, exec.Status().Queue.Processing)
}

func TestExecution_TitlesSeededOnSubmit(t *testing.T) {
	exec, _, feed, wf := newTestExecution(t)

	exec.Queue(wf)
	exec.Wait()
	exec.Router().HandleText([]byte(`{"type": "executing", "data": {"node": "4"}}`))

	assert.Contains(t, feed.statuses, "Processing: Load Checkpoint")
	assert.Equal(t, "client-1", exec.ClientID())
}
