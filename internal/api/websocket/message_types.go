package websocket

import (
	"time"
)

type MessageType string

const (
	MessageTypeProgress   MessageType = "progress"
	MessageTypeStatus     MessageType = "status"
	MessageTypeSpinner    MessageType = "spinner.hide"
	MessageTypeOutputs    MessageType = "outputs"
	MessageTypePreview    MessageType = "preview"
	MessageTypeQueue      MessageType = "queue"
	MessageTypeWorkflow   MessageType = "workflow.updated"
	MessageTypeConnection MessageType = "upstream.connection"
	MessageTypeAck        MessageType = "ack"
	MessageTypeError      MessageType = "error"
)

// Message is the envelope sent to browsers.
// Data field uses 'any' to allow different payloads through channels
type Message struct {
	Type      MessageType `json:"type"`
	ClientID  string      `json:"clientId"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data"`
}

// retained reports whether late joiners should receive the latest message of this type.
func (t MessageType) retained() bool {
	switch t {
	case MessageTypeProgress, MessageTypeStatus, MessageTypeQueue, MessageTypeConnection:
		return true
	default:
		return false
	}
}
