// Package notify decodes the upstream push-channel messages and routes them to the presenter and
// the queue.
package notify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedMessage is returned by Decode for frames that are not a {type, data} envelope.
var ErrMalformedMessage = errors.New("malformed notification")

// Message type tags as they appear on the wire.
const (
	TypeProgress             = "progress"
	TypeExecutionStart       = "execution_start"
	TypeExecuting            = "executing"
	TypeExecutionCached      = "execution_cached"
	TypeExecutionError       = "execution_error"
	TypeExecuted             = "executed"
	TypeExecutionInterrupted = "execution_interrupted"
	TypeExecutionSuccess     = "execution_success"
	TypeStatus               = "status"
	TypeProgressState        = "progress_state"
	TypeMonitor              = "crystools.monitor"
)

// Notification is one decoded push-channel message. The set of implementations is closed; every
// tag Decode does not recognize becomes Unknown.
type Notification interface {
	Type() string
	notification()
}

type Progress struct {
	Value    int     `json:"value"`
	Max      int     `json:"max"`
	PromptID string  `json:"prompt_id,omitempty"`
	Node     *string `json:"node,omitempty"`
}

// Percent returns Value as a share of Max, clamped to 0..100.
func (p Progress) Percent() float64 {
	if p.Max <= 0 {
		return 0
	}
	pct := float64(p.Value) / float64(p.Max) * 100
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}

// PromptNode is the part of a submitted node that execution_start echoes back.
type PromptNode struct {
	ClassType string `json:"class_type"`
	Title     string `json:"title,omitempty"`
	Meta      struct {
		Title string `json:"title,omitempty"`
	} `json:"_meta"`
}

// DisplayName mirrors workflow.Node.DisplayName for an echoed node.
func (n PromptNode) DisplayName(id string) string {
	switch {
	case n.Meta.Title != "":
		return n.Meta.Title
	case n.Title != "":
		return n.Title
	case n.ClassType != "":
		return n.ClassType
	}
	return "Node " + id
}

type ExecutionStart struct {
	PromptID string
	// Prompt is nil when the message carries no graph.
	Prompt map[string]PromptNode
}

// Executing reports the node currently running. A nil Node means nothing is executing.
type Executing struct {
	Node     *string
	PromptID string
}

type ExecutionCached struct {
	Nodes    []string
	PromptID string
}

type ExecutionError struct {
	PromptID         string
	NodeID           string
	NodeType         string
	ExceptionMessage string
	Error            string
}

// Text returns the most specific error description available.
func (e ExecutionError) Text() string {
	switch {
	case e.ExceptionMessage != "":
		return e.ExceptionMessage
	case e.Error != "":
		return e.Error
	}
	return "Unknown error"
}

// OutputFile references one file the upstream wrote.
type OutputFile struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder,omitempty"`
	Type      string `json:"type,omitempty"`
}

// Executed carries a node's outputs. The Has flags distinguish an absent kind from an empty one.
type Executed struct {
	Node      string
	PromptID  string
	Images    []OutputFile
	Gifs      []OutputFile
	HasImages bool
	HasGifs   bool
}

type ExecutionInterrupted struct {
	PromptID string
	NodeID   string
}

type ExecutionSuccess struct {
	PromptID string
}

// Status is the upstream's periodic queue report.
type Status struct {
	QueueRemaining int
	SessionID      string
}

type ProgressState struct {
	Message string
}

// Monitor is a system resource report; the payload is kept opaque.
type Monitor struct {
	Data json.RawMessage
}

// Unknown is any message whose type tag is not recognized.
type Unknown struct {
	Tag  string
	Data json.RawMessage
}

func (Progress) Type() string             { return TypeProgress }
func (ExecutionStart) Type() string       { return TypeExecutionStart }
func (Executing) Type() string            { return TypeExecuting }
func (ExecutionCached) Type() string      { return TypeExecutionCached }
func (ExecutionError) Type() string       { return TypeExecutionError }
func (Executed) Type() string             { return TypeExecuted }
func (ExecutionInterrupted) Type() string { return TypeExecutionInterrupted }
func (ExecutionSuccess) Type() string     { return TypeExecutionSuccess }
func (Status) Type() string               { return TypeStatus }
func (ProgressState) Type() string        { return TypeProgressState }
func (Monitor) Type() string              { return TypeMonitor }
func (u Unknown) Type() string            { return u.Tag }

func (Progress) notification()             {}
func (ExecutionStart) notification()       {}
func (Executing) notification()            {}
func (ExecutionCached) notification()      {}
func (ExecutionError) notification()       {}
func (Executed) notification()             {}
func (ExecutionInterrupted) notification() {}
func (ExecutionSuccess) notification()     {}
func (Status) notification()               {}
func (ProgressState) notification()        {}
func (Monitor) notification()              {}
func (Unknown) notification()              {}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decode parses one text frame. Unrecognized type tags decode to Unknown without error.
func Decode(frame []byte) (Notification, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	data := env.Data
	if isNull(data) {
		data = json.RawMessage("{}")
	}

	n, err := decodeData(env.Type, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, env.Type, err)
	}
	return n, nil
}

func decodeData(tag string, data json.RawMessage) (Notification, error) {
	switch tag {
	case TypeProgress:
		var w struct {
			Value    int             `json:"value"`
			Max      int             `json:"max"`
			PromptID string          `json:"prompt_id"`
			Node     json.RawMessage `json:"node"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, err
		}
		node, err := optionalID(w.Node)
		if err != nil {
			return nil, err
		}
		return Progress{Value: w.Value, Max: w.Max, PromptID: w.PromptID, Node: node}, nil

	case TypeExecutionStart:
		var w struct {
			PromptID string                `json:"prompt_id"`
			Prompt   map[string]PromptNode `json:"prompt"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, err
		}
		return ExecutionStart{PromptID: w.PromptID, Prompt: w.Prompt}, nil

	case TypeExecuting:
		var w struct {
			Node     json.RawMessage `json:"node"`
			PromptID string          `json:"prompt_id"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, err
		}
		node, err := optionalID(w.Node)
		if err != nil {
			return nil, err
		}
		return Executing{Node: node, PromptID: w.PromptID}, nil

	case TypeExecutionCached:
		var w struct {
			Nodes    []json.RawMessage `json:"nodes"`
			PromptID string            `json:"prompt_id"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, err
		}
		out := ExecutionCached{PromptID: w.PromptID, Nodes: make([]string, 0, len(w.Nodes))}
		for _, raw := range w.Nodes {
			id, err := optionalID(raw)
			if err != nil {
				return nil, err
			}
			if id != nil {
				out.Nodes = append(out.Nodes, *id)
			}
		}
		return out, nil

	case TypeExecutionError:
		var w struct {
			PromptID         string          `json:"prompt_id"`
			NodeID           json.RawMessage `json:"node_id"`
			NodeType         string          `json:"node_type"`
			ExceptionMessage string          `json:"exception_message"`
			Error            json.RawMessage `json:"error"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, err
		}
		node, _ := optionalID(w.NodeID)
		out := ExecutionError{
			PromptID:         w.PromptID,
			NodeType:         w.NodeType,
			ExceptionMessage: w.ExceptionMessage,
			Error:            looseText(w.Error),
		}
		if node != nil {
			out.NodeID = *node
		}
		return out, nil

	case TypeExecuted:
		var w struct {
			Node     json.RawMessage            `json:"node"`
			PromptID string                     `json:"prompt_id"`
			Output   map[string]json.RawMessage `json:"output"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, err
		}
		out := Executed{PromptID: w.PromptID}
		if node, _ := optionalID(w.Node); node != nil {
			out.Node = *node
		}
		if raw, ok := w.Output["images"]; ok {
			out.HasImages = true
			if err := json.Unmarshal(raw, &out.Images); err != nil {
				return nil, fmt.Errorf("images: %w", err)
			}
		}
		if raw, ok := w.Output["gifs"]; ok {
			out.HasGifs = true
			if err := json.Unmarshal(raw, &out.Gifs); err != nil {
				return nil, fmt.Errorf("gifs: %w", err)
			}
		}
		return out, nil

	case TypeExecutionInterrupted:
		var w struct {
			PromptID string          `json:"prompt_id"`
			NodeID   json.RawMessage `json:"node_id"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, err
		}
		out := ExecutionInterrupted{PromptID: w.PromptID}
		if node, _ := optionalID(w.NodeID); node != nil {
			out.NodeID = *node
		}
		return out, nil

	case TypeExecutionSuccess:
		var w struct {
			PromptID string `json:"prompt_id"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, err
		}
		return ExecutionSuccess{PromptID: w.PromptID}, nil

	case TypeStatus:
		var w struct {
			Status struct {
				ExecInfo struct {
					QueueRemaining int `json:"queue_remaining"`
				} `json:"exec_info"`
			} `json:"status"`
			SID string `json:"sid"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, err
		}
		return Status{QueueRemaining: w.Status.ExecInfo.QueueRemaining, SessionID: w.SID}, nil

	case TypeProgressState:
		var w struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, err
		}
		return ProgressState{Message: w.Message}, nil

	case TypeMonitor:
		return Monitor{Data: data}, nil
	}
	return Unknown{Tag: tag, Data: data}, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// optionalID accepts a node id written as a string or a number.
func optionalID(raw json.RawMessage) (*string, error) {
	if isNull(raw) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil, nil
		}
		return &s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("node id %s is neither a string nor a number", raw)
	}
	s = n.String()
	return &s, nil
}

func looseText(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(bytes.TrimSpace(raw))
}
