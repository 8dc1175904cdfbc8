// Package comfy talks to the upstream node-graph server over its REST endpoints.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"flow/internal/workflow"

	"github.com/rs/zerolog"
)

// ErrSubmissionFailed wraps transport errors and non-2xx answers from the prompt endpoint.
var ErrSubmissionFailed = errors.New("submission failed")

// ErrUpstream wraps failures of the other endpoints.
var ErrUpstream = errors.New("upstream request failed")

const maxErrorBody = 2048

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(slf *Client) { slf.httpClient = c }
}

func NewClient(baseURL string, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the upstream address without a trailing slash.
func (slf *Client) BaseURL() string {
	return slf.baseURL
}

type promptRequest struct {
	Prompt   *workflow.Document `json:"prompt"`
	ClientID string             `json:"client_id"`
}

// PromptResponse is the upstream's acknowledgement of a queued prompt.
type PromptResponse struct {
	PromptID   string                     `json:"prompt_id"`
	Number     int                        `json:"number"`
	NodeErrors map[string]json.RawMessage `json:"node_errors,omitempty"`
}

// SubmitPrompt posts a graph for execution. Every failure wraps ErrSubmissionFailed.
func (slf *Client) SubmitPrompt(ctx context.Context, prompt *workflow.Document, clientID string) (PromptResponse, error) {
	var result PromptResponse

	body, status, err := slf.do(ctx, http.MethodPost, "/prompt", promptRequest{Prompt: prompt, ClientID: clientID})
	if err != nil {
		slf.logger.Error().Err(err).Msg("Error submitting prompt")
		return result, fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}
	if status < 200 || status > 299 {
		slf.logger.Error().Int("status", status).Str("body", string(body)).Msg("Prompt rejected")
		return result, fmt.Errorf("%w: status %d: %s", ErrSubmissionFailed, status, strings.TrimSpace(string(body)))
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &result); err != nil {
			slf.logger.Warn().Err(err).Msg("Unreadable prompt acknowledgement")
		}
	}
	return result, nil
}

// Interrupt asks the upstream to stop the running prompt for clientID.
func (slf *Client) Interrupt(ctx context.Context, clientID string) error {
	body, status, err := slf.do(ctx, http.MethodPost, "/interrupt", map[string]string{"client_id": clientID})
	if err != nil {
		return fmt.Errorf("%w: interrupt: %v", ErrUpstream, err)
	}
	if status < 200 || status > 299 {
		return fmt.Errorf("%w: interrupt: status %d: %s", ErrUpstream, status, strings.TrimSpace(string(body)))
	}
	return nil
}

// ListAdapterAssets returns the asset names the upstream offers for the adapter node type.
func (slf *Client) ListAdapterAssets(ctx context.Context) ([]string, error) {
	path := "/object_info/" + url.PathEscape(workflow.AdapterType)
	body, status, err := slf.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: object info: %v", ErrUpstream, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: object info: status %d", ErrUpstream, status)
	}
	return parseAssetOptions(body, workflow.AdapterType, workflow.AssetInput)
}

// PushURL returns the websocket address of the push channel for clientID.
func (slf *Client) PushURL(wsBase, clientID string) (string, error) {
	base := wsBase
	if base == "" {
		u, err := url.Parse(slf.baseURL)
		if err != nil {
			return "", err
		}
		switch u.Scheme {
		case "https":
			u.Scheme = "wss"
		default:
			u.Scheme = "ws"
		}
		base = u.String()
	}
	u, err := url.Parse(strings.TrimRight(base, "/") + "/ws")
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("clientId", clientID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (slf *Client) do(ctx context.Context, method, path string, payload any) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, slf.baseURL+path, reader)
	if err != nil {
		return nil, 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := slf.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	limit := int64(8 << 20)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		limit = maxErrorBody
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

// parseAssetOptions reads the combo values of input from an object_info document. Both the
// legacy [[values...], {...}] and the ["COMBO", {"options": [...]}] forms are accepted.
func parseAssetOptions(body []byte, nodeType, input string) ([]string, error) {
	var info map[string]struct {
		Input struct {
			Required map[string][]json.RawMessage `json:"required"`
			Optional map[string][]json.RawMessage `json:"optional"`
		} `json:"input"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("%w: object info: %v", ErrUpstream, err)
	}
	entry, ok := info[nodeType]
	if !ok {
		return nil, fmt.Errorf("%w: object info has no %s", ErrUpstream, nodeType)
	}
	def, ok := entry.Input.Required[input]
	if !ok {
		def, ok = entry.Input.Optional[input]
	}
	if !ok || len(def) == 0 {
		return nil, fmt.Errorf("%w: %s has no %s input", ErrUpstream, nodeType, input)
	}

	var values []string
	if err := json.Unmarshal(def[0], &values); err == nil {
		return values, nil
	}
	if len(def) > 1 {
		var opts struct {
			Options []string `json:"options"`
		}
		if err := json.Unmarshal(def[1], &opts); err == nil && opts.Options != nil {
			return opts.Options, nil
		}
	}
	return nil, fmt.Errorf("%w: %s.%s is not a combo input", ErrUpstream, nodeType, input)
}
