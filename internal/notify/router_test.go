package notify

import (
	"encoding/binary"
	"sync"
	"testing"

	"flow/internal/workflow"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPresenter struct {
	mu           sync.Mutex
	progress     []Progress
	statuses     []string
	spinnerHides int
	outputs      map[string][][]string
	previews     []Preview
}

func newRecordingPresenter() *recordingPresenter {
	return &recordingPresenter{outputs: make(map[string][][]string)}
}

func (p *recordingPresenter) UpdateProgress(pr Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progress = append(p.progress, pr)
}

func (p *recordingPresenter) UpdateStatus(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, text)
}

func (p *recordingPresenter) HideSpinner() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.spinnerHides++
}

func (p *recordingPresenter) ShowOutputs(kind string, urls []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outputs[kind] = append(p.outputs[kind], urls)
}

func (p *recordingPresenter) ShowPreview(pr Preview) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.previews = append(p.previews, pr)
}

func (p *recordingPresenter) lastStatus() string {
	if len(p.statuses) == 0 {
		return ""
	}
	return p.statuses[len(p.statuses)-1]
}

type countingSignals struct {
	completed   int
	interrupted int
}

func (s *countingSignals) OnJobCompleted()   { s.completed++ }
func (s *countingSignals) OnJobInterrupted() { s.interrupted++ }

func newTestRouter() (*Router, *recordingPresenter, *countingSignals) {
	p := newRecordingPresenter()
	s := &countingSignals{}
	return NewRouter(p, s, zerolog.Nop()), p, s
}

// ============ Progress Tests ============

func TestRouter_ProgressHidesSpinnerOnce(t *testing.T) {
	r, p, _ := newTestRouter()

	r.HandleText([]byte(`{"type": "progress", "data": {"value": 1, "max": 20}}`))
	r.HandleText([]byte(`{"type": "progress", "data": {"value": 2, "max": 20}}`))

	assert.Equal(t, 1, p.spinnerHides)
	assert.True(t, r.SpinnerHidden())
	require.Len(t, p.progress, 2)
	assert.Equal(t, Progress{Value: 2, Max: 20}, r.Progress())
	assert.InDelta(t, 10.0, r.Progress().Percent(), 0.001)
}

// ============ Status Tests ============

func TestRouter_ExecutionStartRebuildsTitles(t *testing.T) {
	r, p, _ := newTestRouter()

	r.HandleText([]byte(`{"type": "execution_start", "data": {"prompt": {
		"4": {"class_type": "CheckpointLoaderSimple", "_meta": {"title": "Base Model"}},
		"3": {"class_type": "KSampler"},
		"9": {}
	}}}`))

	assert.Equal(t, "Starting execution...", p.lastStatus())
	assert.Equal(t, "Base Model", r.Title("4"))
	assert.Equal(t, "KSampler", r.Title("3"))
	assert.Equal(t, "Node 9", r.Title("9"))
}

func TestRouter_ExecutionStartWithoutPromptKeepsTitles(t *testing.T) {
	r, _, _ := newTestRouter()
	r.HandleText([]byte(`{"type": "execution_start", "data": {"prompt": {"3": {"class_type": "KSampler"}}}}`))

	r.HandleText([]byte(`{"type": "execution_start", "data": {"prompt_id": "abc"}}`))
	assert.Equal(t, "KSampler", r.Title("3"))
}

func TestRouter_Executing(t *testing.T) {
	r, p, _ := newTestRouter()
	r.HandleText([]byte(`{"type": "execution_start", "data": {"prompt": {"3": {"class_type": "KSampler", "_meta": {"title": "Sampler"}}}}}`))

	r.HandleText([]byte(`{"type": "executing", "data": {"node": "3"}}`))
	assert.Equal(t, "Processing: Sampler", p.lastStatus())

	r.HandleText([]byte(`{"type": "executing", "data": {"node": 12}}`))
	assert.Equal(t, "Processing: Node 12", p.lastStatus())

	r.HandleText([]byte(`{"type": "executing", "data": {"node": null}}`))
	assert.Equal(t, "", p.lastStatus())
	assert.Equal(t, "", r.Status())
}

func TestRouter_UpdateNodeTitles(t *testing.T) {
	r, p, _ := newTestRouter()
	doc, err := workflow.Parse([]byte(`{"5": {"class_type": "VAEDecode"}, "6": {"class_type": "SaveImage", "_meta": {"title": "Save"}}}`))
	require.NoError(t, err)

	r.UpdateNodeTitles(doc)
	r.HandleText([]byte(`{"type": "executing", "data": {"node": "6"}}`))

	assert.Equal(t, "Processing: Save", p.lastStatus())
	assert.Equal(t, "VAEDecode", r.Title("5"))
}

func TestRouter_ExecutionCached(t *testing.T) {
	r, p, _ := newTestRouter()

	r.HandleText([]byte(`{"type": "execution_cached", "data": {"nodes": ["1", "2", 3]}}`))
	assert.Equal(t, "Using 3 cached nodes...", p.lastStatus())

	r.HandleText([]byte(`{"type": "execution_cached", "data": {}}`))
	assert.Equal(t, "Using 0 cached nodes...", p.lastStatus())
}

func TestRouter_ExecutionError(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"exception message wins", `{"exception_message": "CUDA out of memory", "error": "other"}`, "Error: CUDA out of memory"},
		{"error fallback", `{"error": "bad input"}`, "Error: bad input"},
		{"default", `{}`, "Error: Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, p, s := newTestRouter()
			r.HandleText([]byte(`{"type": "execution_error", "data": ` + tt.data + `}`))

			assert.Equal(t, tt.want, p.lastStatus())
			assert.Equal(t, 1, p.spinnerHides)
			assert.Zero(t, s.completed)
		})
	}
}

func TestRouter_ProgressState(t *testing.T) {
	r, p, _ := newTestRouter()

	r.HandleText([]byte(`{"type": "progress_state", "data": {"message": "Loading model"}}`))
	r.HandleText([]byte(`{"type": "progress_state", "data": {"nodes": {}}}`))

	assert.Equal(t, []string{"Loading model"}, p.statuses)
}

// ============ Output Tests ============

func TestRouter_ExecutedBuildsURLs(t *testing.T) {
	r, p, s := newTestRouter()

	r.HandleText([]byte(`{"type": "executed", "data": {"node": "9", "output": {
		"images": [
			{"filename": "out 1.png", "subfolder": "", "type": "output"},
			{"filename": "ComfyUI_temp_abc.png", "type": "temp"}
		],
		"gifs": [{"filename": "clip.mp4", "subfolder": "vids", "type": "output"}]
	}}}`))

	assert.Equal(t, [][]string{{"/view?filename=out%201.png&type=output"}}, p.outputs[OutputImages])
	assert.Equal(t, [][]string{{"/view?filename=clip.mp4&subfolder=vids&type=output"}}, p.outputs[OutputGifs])
	assert.Equal(t, 1, p.spinnerHides)
	assert.Equal(t, 1, s.completed)
}

func TestRouter_ExecutedSkipsPreviousNames(t *testing.T) {
	r, p, s := newTestRouter()
	frame := []byte(`{"type": "executed", "data": {"output": {"images": [{"filename": "a.png"}, {"filename": "b.png"}]}}}`)

	r.HandleText(frame)
	r.HandleText(frame)
	r.HandleText([]byte(`{"type": "executed", "data": {"output": {"images": [{"filename": "b.png"}, {"filename": "c.png"}]}}}`))

	assert.Equal(t, [][]string{
		{"/view?filename=a.png", "/view?filename=b.png"},
		{"/view?filename=c.png"},
	}, p.outputs[OutputImages])
	assert.Equal(t, 3, s.completed, "every executed message completes the job")
}

func TestRouter_WithViewBase(t *testing.T) {
	p := newRecordingPresenter()
	r := NewRouter(p, nil, zerolog.Nop(), WithViewBase("http://127.0.0.1:8188/"))

	r.HandleText([]byte(`{"type": "executed", "data": {"output": {"images": [{"filename": "a.png"}]}}}`))

	assert.Equal(t, [][]string{{"http://127.0.0.1:8188/view?filename=a.png"}}, p.outputs[OutputImages])
}

func TestRouter_ExecutionInterrupted(t *testing.T) {
	r, p, s := newTestRouter()

	r.HandleText([]byte(`{"type": "execution_interrupted", "data": {"prompt_id": "x", "node_id": "3"}}`))

	assert.Equal(t, 1, s.interrupted)
	assert.Zero(t, s.completed)
	assert.Equal(t, 1, p.spinnerHides)
}

// ============ Forward Compatibility Tests ============

func TestRouter_UnknownMessageIsIgnored(t *testing.T) {
	r, p, s := newTestRouter()
	r.HandleText([]byte(`{"type": "progress", "data": {"value": 3, "max": 10}}`))
	before := r.Progress()
	statusBefore := r.Status()
	hidesBefore := p.spinnerHides

	assert.NotPanics(t, func() {
		r.HandleText([]byte(`{"type": "some_future_type", "data": {}}`))
	})

	assert.Equal(t, before, r.Progress())
	assert.Equal(t, statusBefore, r.Status())
	assert.Equal(t, hidesBefore, p.spinnerHides)
	assert.Zero(t, s.completed)
	assert.Zero(t, s.interrupted)
}

func TestRouter_QuietKinds(t *testing.T) {
	r, p, s := newTestRouter()

	r.HandleText([]byte(`{"type": "status", "data": {"status": {"exec_info": {"queue_remaining": 2}}, "sid": "abc"}}`))
	r.HandleText([]byte(`{"type": "execution_success", "data": {"prompt_id": "p"}}`))
	r.HandleText([]byte(`{"type": "crystools.monitor", "data": {"cpu_utilization": 12}}`))

	assert.Empty(t, p.statuses)
	assert.Zero(t, p.spinnerHides)
	assert.Zero(t, s.completed)
}

func TestRouter_MalformedFrameHidesSpinner(t *testing.T) {
	r, p, _ := newTestRouter()

	r.HandleText([]byte(`not json`))

	assert.Equal(t, 1, p.spinnerHides)
	assert.Empty(t, p.statuses)
}

// ============ Preview Tests ============

func previewFrame(payload []byte) []byte {
	frame := make([]byte, 8, 8+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], 1)
	binary.BigEndian.PutUint32(frame[4:8], 2)
	return append(frame, payload...)
}

func TestRouter_HandleBinary(t *testing.T) {
	r, p, _ := newTestRouter()

	r.HandleBinary(previewFrame([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A}))
	require.Len(t, p.previews, 1)
	assert.Equal(t, "image/png", p.previews[0].MIME)
	assert.Equal(t, uint32(1), p.previews[0].Event)

	r.HandleBinary(previewFrame([]byte{0x52, 0x49, 0x46, 0x46, 0x00}))
	assert.Len(t, p.previews, 1, "audio is not previewed")
	assert.Equal(t, 1, p.spinnerHides)

	r.HandleBinary([]byte{1, 2, 3})
	assert.Equal(t, 2, p.spinnerHides)
}
