package notify

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"

	"flow/internal/workflow"

	"github.com/rs/zerolog"
)

// tempFileMarker identifies intermediate files the upstream writes for previews.
const tempFileMarker = "ComfyUI_temp"

// Output kinds reported by executed messages.
const (
	OutputImages = "images"
	OutputGifs   = "gifs"
)

// Presenter receives the user-visible effects of routed notifications.
type Presenter interface {
	UpdateProgress(p Progress)
	UpdateStatus(text string)
	HideSpinner()
	ShowOutputs(kind string, urls []string)
	ShowPreview(p Preview)
}

// Signals receives the job lifecycle events. *queue.Queue satisfies it.
type Signals interface {
	OnJobCompleted()
	OnJobInterrupted()
}

// NopPresenter discards everything.
type NopPresenter struct{}

func (NopPresenter) UpdateProgress(Progress)      {}
func (NopPresenter) UpdateStatus(string)          {}
func (NopPresenter) HideSpinner()                 {}
func (NopPresenter) ShowOutputs(string, []string) {}
func (NopPresenter) ShowPreview(Preview)          {}

type RouterOption func(*Router)

// WithViewBase prefixes output URLs with base, e.g. the upstream's public address.
func WithViewBase(base string) RouterOption {
	return func(r *Router) { r.viewBase = strings.TrimRight(base, "/") }
}

// Router applies decoded notifications to the session state and forwards their effects.
// Presenter and Signals are always called without the router lock held.
type Router struct {
	mu            sync.Mutex
	spinnerHidden bool
	titles        map[string]string
	lastOutputs   map[string][]string
	progress      Progress
	status        string

	presenter Presenter
	signals   Signals
	viewBase  string
	logger    zerolog.Logger
}

func NewRouter(presenter Presenter, signals Signals, logger zerolog.Logger, opts ...RouterOption) *Router {
	if presenter == nil {
		presenter = NopPresenter{}
	}
	r := &Router{
		titles:      make(map[string]string),
		lastOutputs: make(map[string][]string),
		presenter:   presenter,
		signals:     signals,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleText decodes and dispatches one text frame. Undecodable frames are logged and tear down
// the spinner.
func (r *Router) HandleText(frame []byte) {
	n, err := Decode(frame)
	if err != nil {
		r.logger.Error().Err(err).Msg("Error parsing push message")
		r.presenter.HideSpinner()
		return
	}
	r.Dispatch(n)
}

// HandleBinary decodes one binary preview frame and forwards it when it is an image or video.
func (r *Router) HandleBinary(frame []byte) {
	p, err := DecodePreview(frame)
	if err == nil && !p.IsVisual() {
		err = fmt.Errorf("unsupported preview type %s", p.MIME)
	}
	if err != nil {
		r.logger.Error().Err(err).Int("size", len(frame)).Msg("Error processing preview frame")
		r.presenter.HideSpinner()
		return
	}
	r.presenter.ShowPreview(p)
}

// Dispatch applies n. It never fails; unrecognized messages are logged and dropped.
func (r *Router) Dispatch(n Notification) {
	var effects []func()

	r.mu.Lock()
	switch m := n.(type) {
	case Progress:
		if !r.spinnerHidden {
			r.spinnerHidden = true
			effects = append(effects, r.presenter.HideSpinner)
		}
		r.progress = m
		effects = append(effects, func() { r.presenter.UpdateProgress(m) })

	case ExecutionStart:
		if m.Prompt != nil {
			r.titles = make(map[string]string, len(m.Prompt))
			for id, node := range m.Prompt {
				r.titles[id] = node.DisplayName(id)
			}
		}
		effects = append(effects, r.setStatusLocked("Starting execution..."))

	case Executing:
		if m.Node == nil {
			effects = append(effects, r.setStatusLocked(""))
			break
		}
		effects = append(effects, r.setStatusLocked("Processing: "+r.titleLocked(*m.Node)))

	case ExecutionCached:
		effects = append(effects, r.setStatusLocked(fmt.Sprintf("Using %d cached nodes...", len(m.Nodes))))

	case ExecutionError:
		r.logger.Warn().Str("node", m.NodeID).Str("nodeType", m.NodeType).Msg(m.Text())
		effects = append(effects, r.setStatusLocked("Error: "+m.Text()), r.presenter.HideSpinner)

	case Executed:
		if m.HasImages {
			effects = append(effects, r.outputsLocked(OutputImages, m.Images)...)
		}
		if m.HasGifs {
			effects = append(effects, r.outputsLocked(OutputGifs, m.Gifs)...)
		}
		effects = append(effects, r.presenter.HideSpinner)
		if r.signals != nil {
			effects = append(effects, r.signals.OnJobCompleted)
		}

	case ExecutionInterrupted:
		r.logger.Info().Str("prompt", m.PromptID).Msg("Execution interrupted")
		effects = append(effects, r.presenter.HideSpinner)
		if r.signals != nil {
			effects = append(effects, r.signals.OnJobInterrupted)
		}

	case ProgressState:
		if m.Message != "" {
			effects = append(effects, r.setStatusLocked(m.Message))
		}

	case Status:
		r.logger.Debug().Int("queueRemaining", m.QueueRemaining).Msg("Upstream status")

	case ExecutionSuccess:
		r.logger.Debug().Str("prompt", m.PromptID).Msg("Execution succeeded")

	case Monitor:
		r.logger.Debug().RawJSON("data", m.Data).Msg("Monitor data received")

	default:
		r.logger.Info().Str("type", n.Type()).Msg("Unhandled message type")
	}
	r.mu.Unlock()

	for _, fn := range effects {
		fn()
	}
}

// UpdateNodeTitles replaces the title map with the display names of doc.
func (r *Router) UpdateNodeTitles(doc *workflow.Document) {
	if doc == nil {
		return
	}
	titles := make(map[string]string, doc.Len())
	for _, id := range doc.IDs() {
		n, err := doc.Node(id)
		if err != nil {
			continue
		}
		titles[id.String()] = n.DisplayName()
	}

	r.mu.Lock()
	r.titles = titles
	r.mu.Unlock()
}

// Title returns the display name for a node id, or "Node <id>" when unmapped.
func (r *Router) Title(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.titleLocked(id)
}

func (r *Router) Progress() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

func (r *Router) Status() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Router) SpinnerHidden() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.spinnerHidden
}

func (r *Router) titleLocked(id string) string {
	if t, ok := r.titles[id]; ok {
		return t
	}
	return "Node " + id
}

func (r *Router) setStatusLocked(text string) func() {
	r.status = text
	return func() { r.presenter.UpdateStatus(text) }
}

// outputsLocked filters temp files and the names emitted by the previous call for the same kind.
func (r *Router) outputsLocked(kind string, files []OutputFile) []func() {
	previous := r.lastOutputs[kind]
	var names, urls []string
	for _, f := range files {
		if f.Filename == "" || strings.Contains(f.Filename, tempFileMarker) {
			continue
		}
		if slices.Contains(previous, f.Filename) {
			continue
		}
		names = append(names, f.Filename)
		urls = append(urls, r.viewURL(f))
	}
	if len(urls) == 0 {
		return nil
	}
	r.lastOutputs[kind] = names
	return []func(){func() { r.presenter.ShowOutputs(kind, urls) }}
}

func (r *Router) viewURL(f OutputFile) string {
	var b strings.Builder
	b.WriteString(r.viewBase)
	b.WriteString("/view?filename=")
	b.WriteString(escape(f.Filename))
	if f.Subfolder != "" {
		b.WriteString("&subfolder=")
		b.WriteString(escape(f.Subfolder))
	}
	if f.Type != "" {
		b.WriteString("&type=")
		b.WriteString(escape(f.Type))
	}
	return b.String()
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
