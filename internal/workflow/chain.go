package workflow

import (
	"fmt"
	"slices"

	"github.com/rs/zerolog"
)

const (
	// AdapterType is the class of the chainable LoRA loader node.
	AdapterType = "LoraLoaderModelOnly"

	ModelInput    = "model"
	AssetInput    = "lora_name"
	StrengthInput = "strength_model"

	// PlaceholderAsset is written into a freshly inserted adapter until the caller picks a file.
	PlaceholderAsset = "None"
	DefaultStrength  = 1.0
	MinStrength      = 0.0
	MaxStrength      = 5.0
)

// DefaultAnchorTypes are the node classes that originate a model reference chain.
var DefaultAnchorTypes = []string{
	"CheckpointLoaderSimple",
	"CheckpointLoader",
	"ImageOnlyCheckpointLoader",
	"unCLIPCheckpointLoader",
	"DiffusersLoader",
	"UNETLoader",
	"UnetLoaderGGUF",
}

// RemovalOutcome tells whether RemoveAdapter could repair the chain around the removed node.
type RemovalOutcome string

const (
	// RemovalRewired means every consumer now points at the removed node's upstream.
	RemovalRewired RemovalOutcome = "rewired"
	// RemovalOrphaned means the node had no model input and was deleted without rewiring.
	RemovalOrphaned RemovalOutcome = "orphaned"
)

// RemovalResult reports what RemoveAdapter did.
type RemovalResult struct {
	Outcome  RemovalOutcome `json:"outcome"`
	Upstream *EdgeRef       `json:"upstream,omitempty"`
	Rewired  []NodeID       `json:"rewired,omitempty"`
}

// AdapterParams are the user-facing settings of an adapter node. Nil fields are left unchanged.
type AdapterParams struct {
	Asset    *string
	Strength *float64
}

// ChainEditor inserts and removes adapter nodes between an anchor and its model consumers,
// keeping each anchor's adapters on a single unbranched path.
type ChainEditor struct {
	doc         *Document
	anchorTypes []string
	logger      zerolog.Logger
}

// NewChainEditor edits doc in place. With no anchorTypes, DefaultAnchorTypes is used.
func NewChainEditor(doc *Document, logger zerolog.Logger, anchorTypes ...string) *ChainEditor {
	if len(anchorTypes) == 0 {
		anchorTypes = DefaultAnchorTypes
	}
	return &ChainEditor{doc: doc, anchorTypes: anchorTypes, logger: logger}
}

func (e *ChainEditor) isAnchor(n *Node) bool {
	if !slices.Contains(e.anchorTypes, n.Type) {
		return false
	}
	_, hasModel := n.Inputs[ModelInput]
	return !hasModel
}

// IdentifyAnchors returns copies of every chain root, ordered by id.
func (e *ChainEditor) IdentifyAnchors() []*Node {
	var out []*Node
	for _, id := range e.doc.IDs() {
		if n := e.doc.nodes[id]; e.isAnchor(n) {
			out = append(out, n.Clone())
		}
	}
	return out
}

func (e *ChainEditor) anchor(id NodeID) (*Node, error) {
	n, err := e.doc.lookup(id)
	if err != nil {
		return nil, err
	}
	if !e.isAnchor(n) {
		return nil, fmt.Errorf("%w: node %d (%s) is not a model source", ErrNotFound, id, n.Type)
	}
	return n, nil
}

// walk follows adapters downstream from the anchor and returns the tail and the adapters passed.
func (e *ChainEditor) walk(anchor NodeID) (NodeID, []NodeID, error) {
	visited := map[NodeID]bool{anchor: true}
	cur := anchor
	var chain []NodeID
	for {
		var next []NodeID
		for _, id := range e.doc.consumersOf(cur, ModelInput) {
			if e.doc.nodes[id].Type == AdapterType {
				next = append(next, id)
			}
		}
		switch len(next) {
		case 0:
			return cur, chain, nil
		case 1:
			if visited[next[0]] {
				return 0, nil, fmt.Errorf("%w: adapter chain of node %d loops back at node %d", ErrInvalidState, anchor, next[0])
			}
			visited[next[0]] = true
			chain = append(chain, next[0])
			cur = next[0]
		default:
			return 0, nil, fmt.Errorf("%w: adapter chain of node %d branches at node %d (%v)", ErrInvalidState, anchor, cur, next)
		}
	}
}

// Chain returns the adapters attached to anchor, from the anchor towards the tail.
func (e *ChainEditor) Chain(anchor NodeID) ([]NodeID, error) {
	if _, err := e.anchor(anchor); err != nil {
		return nil, err
	}
	_, chain, err := e.walk(anchor)
	return chain, err
}

// Tail returns the last adapter of the anchor's chain, or the anchor itself.
func (e *ChainEditor) Tail(anchor NodeID) (NodeID, error) {
	if _, err := e.anchor(anchor); err != nil {
		return 0, err
	}
	tail, _, err := e.walk(anchor)
	return tail, err
}

// InsertAdapter appends a new adapter at the tail of the anchor's chain and moves every model
// consumer of the old tail onto it. On error the document is left untouched.
func (e *ChainEditor) InsertAdapter(anchor NodeID) (NodeID, error) {
	if _, err := e.anchor(anchor); err != nil {
		return 0, err
	}
	tail, _, err := e.walk(anchor)
	if err != nil {
		return 0, err
	}

	consumers := e.doc.consumersOf(tail, ModelInput)
	if len(consumers) == 0 {
		return 0, fmt.Errorf("%w: no nodes are directly connected to the model output of node %d", ErrInvalidState, tail)
	}
	slot := -1
	for _, cid := range consumers {
		edge, _ := e.doc.nodes[cid].Edge(ModelInput)
		if slot >= 0 && edge.Slot != slot {
			return 0, fmt.Errorf("%w: consumers of node %d read different output slots", ErrInvalidState, tail)
		}
		slot = edge.Slot
	}

	id := e.doc.AllocateID()
	e.doc.insert(&Node{
		ID:   id,
		Type: AdapterType,
		Inputs: map[string]Input{
			ModelInput:    EdgeInput(tail, slot),
			AssetInput:    mustLiteral(PlaceholderAsset),
			StrengthInput: mustLiteral(DefaultStrength),
		},
	})
	for _, cid := range consumers {
		e.doc.nodes[cid].Inputs[ModelInput] = EdgeInput(id, 0)
	}

	e.logger.Debug().
		Int("anchor", int(anchor)).
		Int("tail", int(tail)).
		Int("adapter", int(id)).
		Int("consumers", len(consumers)).
		Msg("Adapter inserted")
	return id, nil
}

// RemoveAdapter splices the node out of its chain. A node without a model input cannot be
// spliced; it is deleted anyway and the result says so.
func (e *ChainEditor) RemoveAdapter(id NodeID) (RemovalResult, error) {
	n, err := e.doc.lookup(id)
	if err != nil {
		return RemovalResult{}, err
	}

	upstream, ok := n.Edge(ModelInput)
	if !ok {
		e.logger.Warn().Int("node", int(id)).Msg("Node has no model input, deleting without reconnecting")
		delete(e.doc.nodes, id)
		return RemovalResult{Outcome: RemovalOrphaned}, nil
	}

	var rewired []NodeID
	for _, cid := range e.doc.IDs() {
		if cid == id {
			continue
		}
		c := e.doc.nodes[cid]
		changed := false
		for name, in := range c.Inputs {
			if in.Edge != nil && in.Edge.Source == id {
				c.Inputs[name] = EdgeInput(upstream.Source, upstream.Slot)
				changed = true
			}
		}
		if changed {
			rewired = append(rewired, cid)
		}
	}
	delete(e.doc.nodes, id)

	e.logger.Debug().
		Int("adapter", int(id)).
		Int("upstream", int(upstream.Source)).
		Int("rewired", len(rewired)).
		Msg("Adapter removed")
	return RemovalResult{Outcome: RemovalRewired, Upstream: &upstream, Rewired: rewired}, nil
}

// SetAdapterParams updates the asset and strength of an adapter node.
func (e *ChainEditor) SetAdapterParams(id NodeID, params AdapterParams) error {
	n, err := e.doc.lookup(id)
	if err != nil {
		return err
	}
	if n.Type != AdapterType {
		return fmt.Errorf("%w: node %d is a %s, not an adapter", ErrInvalidState, id, n.Type)
	}
	if params.Strength != nil && (*params.Strength < MinStrength || *params.Strength > MaxStrength) {
		return fmt.Errorf("%w: strength %.2f outside [%g, %g]", ErrInvalidState, *params.Strength, MinStrength, MaxStrength)
	}
	if params.Asset != nil {
		n.Inputs[AssetInput] = mustLiteral(*params.Asset)
	}
	if params.Strength != nil {
		n.Inputs[StrengthInput] = mustLiteral(*params.Strength)
	}
	return nil
}

func mustLiteral(v any) Input {
	in, err := LiteralInput(v)
	if err != nil {
		panic(err)
	}
	return in
}
