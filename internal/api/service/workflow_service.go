package service

import (
	"fmt"
	"os"
	"sync"

	"flow/internal/workflow"

	"github.com/rs/zerolog"
)

// WorkflowListener is told about every committed graph edit.
type WorkflowListener interface {
	WorkflowChanged(doc *workflow.Document)
}

// Anchor is a model source together with the adapters chained onto it. Err is set when the
// chain cannot be walked, e.g. because it branches.
type Anchor struct {
	Node     *workflow.Node
	Adapters []*workflow.Node
	Err      error
}

// WorkflowService owns the session's live workflow. All edits go through it so they are
// serialized and never observed half-applied.
type WorkflowService struct {
	mu       sync.RWMutex
	doc      *workflow.Document
	editor   *workflow.ChainEditor
	listener WorkflowListener
	logger   zerolog.Logger
}

func NewWorkflowService(doc *workflow.Document, logger zerolog.Logger, anchorTypes ...string) *WorkflowService {
	if doc == nil {
		doc = workflow.New(nil)
	}
	return &WorkflowService{
		doc:    doc,
		editor: workflow.NewChainEditor(doc, logger, anchorTypes...),
		logger: logger,
	}
}

// LoadWorkflowFile parses a workflow in API format. An empty path yields an empty document.
func LoadWorkflowFile(path string) (*workflow.Document, error) {
	if path == "" {
		return workflow.New(nil), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading workflow %s: %w", path, err)
	}
	doc, err := workflow.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("error parsing workflow %s: %w", path, err)
	}
	return doc, nil
}

// SetListener registers the single receiver of change events.
func (slf *WorkflowService) SetListener(l WorkflowListener) {
	slf.mu.Lock()
	defer slf.mu.Unlock()
	slf.listener = l
}

// Snapshot returns an independent copy of the live workflow.
func (slf *WorkflowService) Snapshot() *workflow.Document {
	slf.mu.RLock()
	defer slf.mu.RUnlock()
	return slf.doc.Snapshot()
}

// Anchors lists every model source with its current chain.
func (slf *WorkflowService) Anchors() []Anchor {
	slf.mu.RLock()
	defer slf.mu.RUnlock()

	var out []Anchor
	for _, n := range slf.editor.IdentifyAnchors() {
		a := Anchor{Node: n}
		chain, err := slf.editor.Chain(n.ID)
		if err != nil {
			slf.logger.Warn().Err(err).Int("anchor", int(n.ID)).Msg("Unreadable adapter chain")
			a.Err = err
		}
		for _, id := range chain {
			adapter, err := slf.doc.Node(id)
			if err != nil {
				continue
			}
			a.Adapters = append(a.Adapters, adapter)
		}
		out = append(out, a)
	}
	return out
}

// Node returns a copy of one node.
func (slf *WorkflowService) Node(id workflow.NodeID) (*workflow.Node, error) {
	slf.mu.RLock()
	defer slf.mu.RUnlock()
	return slf.doc.Node(id)
}

// InsertAdapter appends an adapter to the anchor's chain and returns the new node.
func (slf *WorkflowService) InsertAdapter(anchor workflow.NodeID) (*workflow.Node, error) {
	var created *workflow.Node
	err := slf.edit(func() error {
		id, err := slf.editor.InsertAdapter(anchor)
		if err != nil {
			return err
		}
		created, err = slf.doc.Node(id)
		return err
	})
	if err != nil {
		slf.logger.Error().Err(err).Int("anchor", int(anchor)).Msg("Error inserting adapter")
		return nil, err
	}
	slf.logger.Info().Int("anchor", int(anchor)).Int("adapter", int(created.ID)).Msg("Adapter added")
	return created, nil
}

// RemoveAdapter splices an adapter out of its chain.
func (slf *WorkflowService) RemoveAdapter(id workflow.NodeID) (workflow.RemovalResult, error) {
	var result workflow.RemovalResult
	err := slf.edit(func() error {
		n, err := slf.doc.Node(id)
		if err != nil {
			return err
		}
		if n.Type != workflow.AdapterType {
			return fmt.Errorf("%w: node %d is a %s, not an adapter", workflow.ErrInvalidState, id, n.Type)
		}
		result, err = slf.editor.RemoveAdapter(id)
		return err
	})
	if err != nil {
		slf.logger.Error().Err(err).Int("adapter", int(id)).Msg("Error removing adapter")
		return result, err
	}
	if result.Outcome == workflow.RemovalOrphaned {
		slf.logger.Warn().Int("adapter", int(id)).Msg("Adapter removed without reconnecting its consumers")
	}
	return result, nil
}

// UpdateAdapter changes the asset and strength of an adapter.
func (slf *WorkflowService) UpdateAdapter(id workflow.NodeID, params workflow.AdapterParams) (*workflow.Node, error) {
	var updated *workflow.Node
	err := slf.edit(func() error {
		if err := slf.editor.SetAdapterParams(id, params); err != nil {
			return err
		}
		var err error
		updated, err = slf.doc.Node(id)
		return err
	})
	if err != nil {
		slf.logger.Error().Err(err).Int("adapter", int(id)).Msg("Error updating adapter")
		return nil, err
	}
	return updated, nil
}

// SetInputs overwrites literal inputs of a node. Inputs that are currently edges cannot be
// replaced by literals. Either every value is applied or none is.
func (slf *WorkflowService) SetInputs(id workflow.NodeID, values map[string]any) (*workflow.Node, error) {
	var updated *workflow.Node
	err := slf.edit(func() error {
		n, err := slf.doc.Node(id)
		if err != nil {
			return err
		}
		for name, v := range values {
			if in, ok := n.Inputs[name]; ok && in.IsEdge() {
				return fmt.Errorf("%w: input %q of node %d is connected to another node", workflow.ErrInvalidState, name, id)
			}
			if _, err := workflow.LiteralInput(v); err != nil {
				return fmt.Errorf("%w: input %q: %v", workflow.ErrMalformedGraph, name, err)
			}
		}
		for name, v := range values {
			if err := slf.doc.SetLiteral(id, name, v); err != nil {
				return err
			}
		}
		updated, err = slf.doc.Node(id)
		return err
	})
	if err != nil {
		slf.logger.Error().Err(err).Int("node", int(id)).Msg("Error updating node inputs")
		return nil, err
	}
	return updated, nil
}

// edit runs fn under the write lock and notifies the listener when fn succeeds.
func (slf *WorkflowService) edit(fn func() error) error {
	slf.mu.Lock()
	if err := fn(); err != nil {
		slf.mu.Unlock()
		return err
	}
	listener := slf.listener
	var snap *workflow.Document
	if listener != nil {
		snap = slf.doc.Snapshot()
	}
	slf.mu.Unlock()

	if listener != nil {
		listener.WorkflowChanged(snap)
	}
	return nil
}
