package workflow

import (
	"fmt"
	"slices"
)

// Document is an in-memory workflow graph keyed by node id.
//
// Ids are allocated monotonically: once an id has been handed out (or loaded), no later
// allocation returns it again, even after the node is deleted. A Document is not safe for
// concurrent use; callers that share one serialize access themselves.
type Document struct {
	nodes     map[NodeID]*Node
	highestID NodeID
}

// DanglingEdge describes an input whose edge points at a node that does not exist.
type DanglingEdge struct {
	Node  NodeID
	Input string
	Ref   EdgeRef
}

// New deep-copies nodes into a fresh Document. The map key is authoritative for each node's id.
func New(nodes map[NodeID]*Node) *Document {
	doc := &Document{nodes: make(map[NodeID]*Node, len(nodes))}
	for id, n := range nodes {
		c := n.Clone()
		c.ID = id
		doc.nodes[id] = c
		if id > doc.highestID {
			doc.highestID = id
		}
	}
	return doc
}

// Len returns the number of live nodes.
func (d *Document) Len() int {
	return len(d.nodes)
}

// HighestID returns the largest id ever loaded or allocated.
func (d *Document) HighestID() NodeID {
	return d.highestID
}

// IDs returns the live node ids in ascending order.
func (d *Document) IDs() []NodeID {
	ids := make([]NodeID, 0, len(d.nodes))
	for id := range d.nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// AllocateID reserves and returns the next unused id.
func (d *Document) AllocateID() NodeID {
	d.highestID++
	return d.highestID
}

// Has reports whether id is a live node.
func (d *Document) Has(id NodeID) bool {
	_, ok := d.nodes[id]
	return ok
}

// Node returns a copy of the node with the given id.
func (d *Document) Node(id NodeID) (*Node, error) {
	n, err := d.lookup(id)
	if err != nil {
		return nil, err
	}
	return n.Clone(), nil
}

func (d *Document) lookup(id NodeID) (*Node, error) {
	n, ok := d.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return n, nil
}

// insert adds a node under an id obtained from AllocateID.
func (d *Document) insert(n *Node) {
	if n.Inputs == nil {
		n.Inputs = make(map[string]Input)
	}
	d.nodes[n.ID] = n
	if n.ID > d.highestID {
		d.highestID = n.ID
	}
}

// SetEdge wires input of target to output slot of source.
func (d *Document) SetEdge(target NodeID, input string, source NodeID, slot int) error {
	n, err := d.lookup(target)
	if err != nil {
		return err
	}
	if n.Inputs == nil {
		n.Inputs = make(map[string]Input)
	}
	n.Inputs[input] = EdgeInput(source, slot)
	return nil
}

// SetLiteral replaces input of target with a literal value.
func (d *Document) SetLiteral(target NodeID, input string, value any) error {
	n, err := d.lookup(target)
	if err != nil {
		return err
	}
	in, err := LiteralInput(value)
	if err != nil {
		return err
	}
	if n.Inputs == nil {
		n.Inputs = make(map[string]Input)
	}
	n.Inputs[input] = in
	return nil
}

// DeleteNode removes a node. The id is never handed out again.
func (d *Document) DeleteNode(id NodeID) error {
	if _, err := d.lookup(id); err != nil {
		return err
	}
	delete(d.nodes, id)
	return nil
}

// FindNodesByType returns copies of the nodes whose type is one of types, ordered by id.
func (d *Document) FindNodesByType(types ...string) []*Node {
	var out []*Node
	for _, id := range d.IDs() {
		n := d.nodes[id]
		if slices.Contains(types, n.Type) {
			out = append(out, n.Clone())
		}
	}
	return out
}

// FindConsumersOf returns copies of the nodes whose named input is an edge from id, ordered by id.
func (d *Document) FindConsumersOf(id NodeID, input string) []*Node {
	var out []*Node
	for _, cid := range d.consumersOf(id, input) {
		out = append(out, d.nodes[cid].Clone())
	}
	return out
}

func (d *Document) consumersOf(id NodeID, input string) []NodeID {
	var out []NodeID
	for _, cid := range d.IDs() {
		if e, ok := d.nodes[cid].Edge(input); ok && e.Source == id {
			out = append(out, cid)
		}
	}
	return out
}

// DanglingEdges lists every edge whose source node is missing, ordered by node id then input.
func (d *Document) DanglingEdges() []DanglingEdge {
	var out []DanglingEdge
	for _, id := range d.IDs() {
		n := d.nodes[id]
		names := make([]string, 0, len(n.Inputs))
		for name := range n.Inputs {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			e, ok := n.Edge(name)
			if ok && !d.Has(e.Source) {
				out = append(out, DanglingEdge{Node: id, Input: name, Ref: e})
			}
		}
	}
	return out
}

// Clone returns a deep copy that shares nothing with d, including the allocator position.
func (d *Document) Clone() *Document {
	out := New(d.nodes)
	out.highestID = d.highestID
	return out
}

// Snapshot returns a deep copy suitable for handing to a job.
func (d *Document) Snapshot() *Document {
	return d.Clone()
}
