package websocket

import (
	"time"
)

// StatusPayload carries the current status line. An empty text clears it.
type StatusPayload struct {
	Text string `json:"text"`
}

// ProgressPayload is a progress step with its precomputed percentage.
type ProgressPayload struct {
	Value   int     `json:"value"`
	Max     int     `json:"max"`
	Percent float64 `json:"percent"`
	Node    *string `json:"node,omitempty"`
}

// OutputsPayload lists viewable URLs of finished outputs.
type OutputsPayload struct {
	Kind string   `json:"kind"`
	URLs []string `json:"urls"`
}

// PreviewPayload is an in-progress preview ready for use as a media source.
type PreviewPayload struct {
	MIME    string `json:"mime"`
	DataURL string `json:"dataUrl"`
}

// ConnectionPayload reports the state of the upstream push channel.
type ConnectionPayload struct {
	Connected bool `json:"connected"`
}

// ErrorMessage represents an error message
type ErrorMessage struct {
	Message string `json:"message"`
}

func newMessage(t MessageType, clientID string, data any) Message {
	return Message{
		Type:      t,
		ClientID:  clientID,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewErrorMessage creates a new error message
func NewErrorMessage(clientID string, text string) Message {
	return newMessage(MessageTypeError, clientID, ErrorMessage{Message: text})
}
