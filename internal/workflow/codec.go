package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Wire format, one entry per node keyed by the stringified id:
//
//	{"4": {"inputs": {"model": ["3", 0], "seed": 42}, "class_type": "KSampler", "_meta": {"title": "Sampler"}}}
//
// Edge references are two-element arrays whose first element is the source id as a string and
// whose second element is an integer slot. Any other shape, including [512, 768], is a literal.
// Ids are converted here and nowhere else.

type wireMeta struct {
	Title string `json:"title,omitempty"`
}

const (
	keyInputs    = "inputs"
	keyClassType = "class_type"
	keyMeta      = "_meta"
)

// Parse decodes a raw workflow into a Document.
func Parse(data []byte) (*Document, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedGraph, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: workflow must be a JSON object", ErrMalformedGraph)
	}

	nodes := make(map[NodeID]*Node, len(raw))
	for key, body := range raw {
		id, err := ParseNodeID(key)
		if err != nil {
			return nil, err
		}
		if id.String() != key {
			return nil, fmt.Errorf("%w: node key %q is not canonical", ErrMalformedGraph, key)
		}
		n, err := decodeNode(id, body)
		if err != nil {
			return nil, err
		}
		nodes[id] = n
	}
	return New(nodes), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Document) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*d = *parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d *Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(d.nodes))
	for id, n := range d.nodes {
		body, err := encodeNode(n)
		if err != nil {
			return nil, fmt.Errorf("failed to encode node %d: %w", id, err)
		}
		out[id.String()] = body
	}
	return json.Marshal(out)
}

func decodeNode(id NodeID, body []byte) (*Node, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("%w: node %d is not an object", ErrMalformedGraph, id)
	}

	n := &Node{ID: id, Inputs: make(map[string]Input)}
	if ct, ok := fields[keyClassType]; ok {
		if err := json.Unmarshal(ct, &n.Type); err != nil {
			return nil, fmt.Errorf("%w: node %d class_type: %v", ErrMalformedGraph, id, err)
		}
	}
	if meta, ok := fields[keyMeta]; ok {
		var m wireMeta
		if err := json.Unmarshal(meta, &m); err == nil {
			n.Title = m.Title
		}
	}
	if inputs, ok := fields[keyInputs]; ok {
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(inputs, &raw); err != nil {
			return nil, fmt.Errorf("%w: node %d inputs: %v", ErrMalformedGraph, id, err)
		}
		for name, v := range raw {
			n.Inputs[name] = decodeInput(v)
		}
	}

	for k, v := range fields {
		switch k {
		case keyInputs, keyClassType, keyMeta:
			continue
		}
		if n.Extra == nil {
			n.Extra = make(map[string]json.RawMessage)
		}
		n.Extra[k] = bytes.Clone(v)
	}
	return n, nil
}

func decodeInput(raw json.RawMessage) Input {
	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err == nil && len(pair) == 2 {
		source, ok := decodeEdgeSource(pair[0])
		var slot int
		if ok && json.Unmarshal(pair[1], &slot) == nil {
			return EdgeInput(source, slot)
		}
	}
	return Input{Value: bytes.Clone(raw)}
}

func decodeEdgeSource(raw json.RawMessage) (NodeID, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	return NodeID(n), err == nil && n > 0
}

func encodeNode(n *Node) (json.RawMessage, error) {
	fields := make(map[string]any, len(n.Extra)+3)
	for k, v := range n.Extra {
		fields[k] = v
	}

	inputs := make(map[string]any, len(n.Inputs))
	for name, in := range n.Inputs {
		switch {
		case in.Edge != nil:
			inputs[name] = []any{in.Edge.Source.String(), in.Edge.Slot}
		case in.Value != nil:
			inputs[name] = in.Value
		default:
			inputs[name] = nil
		}
	}
	fields[keyInputs] = inputs
	fields[keyClassType] = n.Type
	if n.Title != "" {
		fields[keyMeta] = wireMeta{Title: n.Title}
	}
	return json.Marshal(fields)
}
