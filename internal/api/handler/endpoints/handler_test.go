package endpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"flow/internal/api/handler/response"
	"flow/internal/api/service"
	"flow/internal/api/websocket"
	"flow/internal/comfy"
	"flow/internal/notify"
	"flow/internal/queue"
	"flow/internal/workflow"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWorkflow = `{
	"4": {"class_type": "CheckpointLoaderSimple", "_meta": {"title": "Load Checkpoint"}, "inputs": {"ckpt_name": "base.safetensors"}},
	"6": {"class_type": "CLIPTextEncode", "inputs": {"text": "a cat", "clip": ["4", 1]}},
	"3": {"class_type": "KSampler", "inputs": {"seed": 42, "model": ["4", 0], "positive": ["6", 0]}},
	"8": {"class_type": "VAEDecode", "inputs": {"samples": ["3", 0], "vae": ["4", 2]}}
}`

type fakeSubmitter struct {
	mu      sync.Mutex
	prompts int
}

func (f *fakeSubmitter) SubmitPrompt(_ context.Context, _ *workflow.Document, clientID string) (comfy.PromptResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts++
	return comfy.PromptResponse{PromptID: clientID}, nil
}

func (f *fakeSubmitter) Interrupt(context.Context, string) error {
	return errors.New("upstream offline")
}

type nopFeed struct{ notify.NopPresenter }

func (nopFeed) UpdateQueue(queue.Stats) {}

type upstreamUp bool

func (u upstreamUp) Connected() bool { return bool(u) }

type testAPI struct {
	router   *gin.Engine
	workflow *service.WorkflowService
	exec     *service.ExecutionService
}

func newTestAPI(t *testing.T, comfyURL string) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	doc, err := workflow.Parse([]byte(testWorkflow))
	require.NoError(t, err)
	wf := service.NewWorkflowService(doc, zerolog.Nop())
	exec := service.NewExecutionService(context.Background(), &fakeSubmitter{}, nopFeed{}, "session-1", zerolog.Nop())
	assets := service.NewAssetService(comfy.NewClient(comfyURL, zerolog.Nop()), nil, 0, zerolog.Nop())
	hub := websocket.NewHub(zerolog.Nop())

	router := gin.New()
	WorkflowHandler(router, wf, zerolog.Nop())
	ExecutionHandler(router, exec, wf, upstreamUp(true), zerolog.Nop())
	AssetHandler(router, assets, zerolog.Nop())
	WebSocketHandler(router, hub, nil, zerolog.Nop())

	return &testAPI{router: router, workflow: wf, exec: exec}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// ============ Workflow Tests ============

func TestWorkflow_GetReturnsAPIFormat(t *testing.T) {
	api := newTestAPI(t, "http://unused")

	w := api.do(t, http.MethodGet, "/api/v1/workflow", nil)

	require.Equal(t, http.StatusOK, w.Code)
	doc, err := workflow.Parse(w.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 4, doc.Len())
}

func TestWorkflow_AddAdapter(t *testing.T) {
	api := newTestAPI(t, "http://unused")

	w := api.do(t, http.MethodPost, "/api/v1/workflow/anchors/4/lora", nil)

	require.Equal(t, http.StatusCreated, w.Code)
	adapter := decode[response.Adapter](t, w)
	assert.Equal(t, 9, adapter.ID)
	assert.Equal(t, workflow.PlaceholderAsset, adapter.Asset)
	assert.Equal(t, 1.0, adapter.Strength)
	assert.Equal(t, &response.Link{Source: 4, Slot: 0}, adapter.Upstream)

	anchors := decode[[]response.Anchor](t, api.do(t, http.MethodGet, "/api/v1/workflow/anchors", nil))
	require.Len(t, anchors, 1)
	assert.Equal(t, "Load Checkpoint", anchors[0].Node.DisplayName)
	require.Len(t, anchors[0].Adapters, 1)
	assert.Equal(t, 9, anchors[0].Adapters[0].ID)
}

func TestWorkflow_AddAdapterErrors(t *testing.T) {
	api := newTestAPI(t, "http://unused")

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/workflow/anchors/99/lora", http.StatusNotFound},
		{"/api/v1/workflow/anchors/3/lora", http.StatusNotFound},
		{"/api/v1/workflow/anchors/abc/lora", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := api.do(t, http.MethodPost, tt.path, nil)
			assert.Equal(t, tt.want, w.Code)
			assert.NotEmpty(t, decode[response.APIError](t, w).Message)
		})
	}
}

func TestWorkflow_UpdateAdapter(t *testing.T) {
	api := newTestAPI(t, "http://unused")
	require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/api/v1/workflow/anchors/4/lora", nil).Code)

	tests := []struct {
		name string
		path string
		body map[string]any
		want int
	}{
		{"valid", "/api/v1/workflow/lora/9", map[string]any{"asset": "style.safetensors", "strength": 2.5}, http.StatusOK},
		{"strength too high", "/api/v1/workflow/lora/9", map[string]any{"strength": 7}, http.StatusBadRequest},
		{"negative strength", "/api/v1/workflow/lora/9", map[string]any{"strength": -1}, http.StatusBadRequest},
		{"not an adapter", "/api/v1/workflow/lora/3", map[string]any{"strength": 1}, http.StatusConflict},
		{"unknown node", "/api/v1/workflow/lora/99", map[string]any{"strength": 1}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(t, http.MethodPatch, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	n, err := api.workflow.Node(9)
	require.NoError(t, err)
	assert.Equal(t, "style.safetensors", n.Inputs[workflow.AssetInput].Literal())
	assert.Equal(t, 2.5, n.Inputs[workflow.StrengthInput].Literal())
}

func TestWorkflow_UpdateAdapterValidationDetails(t *testing.T) {
	api := newTestAPI(t, "http://unused")

	w := api.do(t, http.MethodPatch, "/api/v1/workflow/lora/9", map[string]any{"strength": 9})

	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[response.APIError](t, w)
	assert.Equal(t, []any{"strength: failed lte=5"}, body.Data)
}

func TestWorkflow_RemoveAdapter(t *testing.T) {
	api := newTestAPI(t, "http://unused")
	require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/api/v1/workflow/anchors/4/lora", nil).Code)

	assert.Equal(t, http.StatusConflict, api.do(t, http.MethodDelete, "/api/v1/workflow/lora/4", nil).Code)

	w := api.do(t, http.MethodDelete, "/api/v1/workflow/lora/9", nil)
	require.Equal(t, http.StatusOK, w.Code)
	removal := decode[response.Removal](t, w)
	assert.Equal(t, workflow.RemovalRewired, removal.Result.Outcome)

	n, err := api.workflow.Node(3)
	require.NoError(t, err)
	e, ok := n.Edge(workflow.ModelInput)
	require.True(t, ok)
	assert.Equal(t, workflow.NodeID(4), e.Source)

	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodDelete, "/api/v1/workflow/lora/9", nil).Code)
}

func TestWorkflow_Nodes(t *testing.T) {
	api := newTestAPI(t, "http://unused")

	w := api.do(t, http.MethodGet, "/api/v1/workflow/nodes/6", nil)
	require.Equal(t, http.StatusOK, w.Code)
	node := decode[response.Node](t, w)
	assert.Equal(t, "a cat", node.Inputs["text"].Value)
	assert.Equal(t, &response.Link{Source: 4, Slot: 1}, node.Inputs["clip"].Link)

	w = api.do(t, http.MethodPatch, "/api/v1/workflow/nodes/6/inputs", map[string]any{"inputs": map[string]any{"text": "a dog"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a dog", decode[response.Node](t, w).Inputs["text"].Value)

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"edge input", map[string]any{"inputs": map[string]any{"clip": "x"}}, http.StatusConflict},
		{"empty", map[string]any{"inputs": map[string]any{}}, http.StatusBadRequest},
		{"missing", map[string]any{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, api.do(t, http.MethodPatch, "/api/v1/workflow/nodes/6/inputs", tt.body).Code)
		})
	}
}

// ============ Execution Tests ============

func TestExecution_QueueAndStatus(t *testing.T) {
	api := newTestAPI(t, "http://unused")

	w := api.do(t, http.MethodPost, "/api/v1/queue", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, decode[response.Queued](t, w).JobID)
	w = api.do(t, http.MethodPost, "/api/v1/queue", nil)
	assert.Equal(t, 2, decode[response.Queued](t, w).JobID)
	api.exec.Wait()

	stats := decode[queue.Stats](t, api.do(t, http.MethodGet, "/api/v1/queue", nil))
	assert.True(t, stats.Processing)
	assert.Equal(t, []int{2}, stats.Pending)

	status := decode[map[string]any](t, api.do(t, http.MethodGet, "/api/v1/status", nil))
	assert.Equal(t, "session-1", status["clientId"])
	assert.Equal(t, true, status["upstreamConnected"])
}

func TestExecution_Interrupt(t *testing.T) {
	api := newTestAPI(t, "http://unused")
	api.do(t, http.MethodPost, "/api/v1/queue", nil)
	api.exec.Wait()

	w := api.do(t, http.MethodPost, "/api/v1/interrupt", nil)

	require.Equal(t, http.StatusOK, w.Code)
	result := decode[service.InterruptResult](t, w)
	assert.True(t, result.Running)
	assert.Equal(t, "upstream offline", result.UpstreamError)
}

// ============ Asset Tests ============

func TestAssets_AdapterList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"LoraLoaderModelOnly": {"input": {"required": {"lora_name": [["a.safetensors"]]}}}}`))
	}))
	defer srv.Close()
	api := newTestAPI(t, srv.URL)

	w := api.do(t, http.MethodGet, "/api/v1/assets/loras?refresh=true", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, response.Assets{NodeType: workflow.AdapterType, Assets: []string{"a.safetensors"}}, decode[response.Assets](t, w))
}

func TestAssets_UpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	api := newTestAPI(t, srv.URL)

	assert.Equal(t, http.StatusBadGateway, api.do(t, http.MethodGet, "/api/v1/assets/loras", nil).Code)
}

// ============ WebSocket Tests ============

func TestWebSocket_Stats(t *testing.T) {
	api := newTestAPI(t, "http://unused")

	w := api.do(t, http.MethodGet, "/api/v1/ws/stats", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"clients": 0}`, w.Body.String())
}
