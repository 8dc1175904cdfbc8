package websocket

import (
	"flow/internal/notify"
	"flow/internal/queue"
	"flow/internal/workflow"

	"github.com/rs/zerolog"
)

// FeedPresenter renders the session's state as feed messages and hands them to every sink.
// It implements service.Feed and service.WorkflowListener.
type FeedPresenter struct {
	clientID string
	sinks    []Sink
	logger   zerolog.Logger
}

func NewFeedPresenter(clientID string, logger zerolog.Logger, sinks ...Sink) *FeedPresenter {
	return &FeedPresenter{clientID: clientID, sinks: sinks, logger: logger}
}

func (p *FeedPresenter) publish(t MessageType, data any) {
	msg := newMessage(t, p.clientID, data)
	for _, s := range p.sinks {
		s.Publish(msg)
	}
}

func (p *FeedPresenter) UpdateProgress(progress notify.Progress) {
	p.publish(MessageTypeProgress, ProgressPayload{
		Value:   progress.Value,
		Max:     progress.Max,
		Percent: progress.Percent(),
		Node:    progress.Node,
	})
}

func (p *FeedPresenter) UpdateStatus(text string) {
	p.publish(MessageTypeStatus, StatusPayload{Text: text})
}

func (p *FeedPresenter) HideSpinner() {
	p.publish(MessageTypeSpinner, struct{}{})
}

func (p *FeedPresenter) ShowOutputs(kind string, urls []string) {
	p.publish(MessageTypeOutputs, OutputsPayload{Kind: kind, URLs: urls})
}

func (p *FeedPresenter) ShowPreview(preview notify.Preview) {
	p.publish(MessageTypePreview, PreviewPayload{MIME: preview.MIME, DataURL: preview.DataURL()})
}

func (p *FeedPresenter) UpdateQueue(stats queue.Stats) {
	p.publish(MessageTypeQueue, stats)
}

// WorkflowChanged publishes the edited graph in API format.
func (p *FeedPresenter) WorkflowChanged(doc *workflow.Document) {
	p.publish(MessageTypeWorkflow, doc)
}

// UpstreamConnected reports push-channel state changes.
func (p *FeedPresenter) UpstreamConnected(connected bool) {
	p.logger.Debug().Bool("connected", connected).Msg("Upstream connection changed")
	p.publish(MessageTypeConnection, ConnectionPayload{Connected: connected})
}
