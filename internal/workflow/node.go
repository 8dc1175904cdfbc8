package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// NodeID is the numeric key of a node inside a Document.
type NodeID int

func (id NodeID) String() string {
	return strconv.Itoa(int(id))
}

// ParseNodeID converts the string form used on the wire into a NodeID.
func ParseNodeID(s string) (NodeID, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: invalid node id %q", ErrMalformedGraph, s)
	}
	return NodeID(n), nil
}

// EdgeRef points at output slot Slot of node Source.
type EdgeRef struct {
	Source NodeID
	Slot   int
}

// Input is either a literal JSON value or an edge reference, never both.
type Input struct {
	Edge  *EdgeRef
	Value json.RawMessage
}

// EdgeInput builds an input wired to (source, slot).
func EdgeInput(source NodeID, slot int) Input {
	return Input{Edge: &EdgeRef{Source: source, Slot: slot}}
}

// LiteralInput marshals v into a literal input.
func LiteralInput(v any) (Input, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Input{}, fmt.Errorf("failed to marshal literal: %w", err)
	}
	return Input{Value: raw}, nil
}

// IsEdge reports whether the input references another node.
func (in Input) IsEdge() bool {
	return in.Edge != nil
}

// Literal decodes the literal value. Edge inputs decode to nil.
func (in Input) Literal() any {
	if in.Edge != nil || in.Value == nil {
		return nil
	}
	var v any
	if err := json.Unmarshal(in.Value, &v); err != nil {
		return nil
	}
	return v
}

func (in Input) clone() Input {
	if in.Edge != nil {
		e := *in.Edge
		return Input{Edge: &e}
	}
	return Input{Value: bytes.Clone(in.Value)}
}

// Node is one unit of the workflow graph.
type Node struct {
	ID     NodeID
	Type   string
	Title  string
	Inputs map[string]Input

	// Extra keeps per-node keys this package does not interpret, so they survive a round trip.
	Extra map[string]json.RawMessage
}

// DisplayName returns the title, falling back to the type tag and then "Node <id>".
func (n *Node) DisplayName() string {
	if n.Title != "" {
		return n.Title
	}
	if n.Type != "" {
		return n.Type
	}
	return fmt.Sprintf("Node %d", n.ID)
}

// Edge returns the edge wired into the named input, if any.
func (n *Node) Edge(input string) (EdgeRef, bool) {
	in, ok := n.Inputs[input]
	if !ok || in.Edge == nil {
		return EdgeRef{}, false
	}
	return *in.Edge, true
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	out := &Node{
		ID:     n.ID,
		Type:   n.Type,
		Title:  n.Title,
		Inputs: make(map[string]Input, len(n.Inputs)),
	}
	for name, in := range n.Inputs {
		out.Inputs[name] = in.clone()
	}
	if n.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(n.Extra))
		for k, v := range n.Extra {
			out.Extra[k] = bytes.Clone(v)
		}
	}
	return out
}
