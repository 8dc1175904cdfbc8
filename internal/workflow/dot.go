package workflow

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/awalterschulze/gographviz"
)

// ToDOT renders the document as a Graphviz digraph. Each edge is labelled with the consumer's
// input name and the source slot.
func (d *Document) ToDOT(name string) (string, error) {
	g := gographviz.NewGraph()
	if err := g.SetName(name); err != nil {
		return "", err
	}
	if err := g.SetDir(true); err != nil {
		return "", err
	}
	if err := g.AddAttr(name, "rankdir", "LR"); err != nil {
		return "", err
	}

	for _, id := range d.IDs() {
		n := d.nodes[id]
		attrs := map[string]string{
			"label": strconv.Quote(fmt.Sprintf("%d: %s", id, n.DisplayName())),
			"shape": "box",
		}
		if n.Type == AdapterType {
			attrs["style"] = "rounded"
		}
		if err := g.AddNode(name, dotNode(id), attrs); err != nil {
			return "", err
		}
	}

	for _, id := range d.IDs() {
		n := d.nodes[id]
		names := make([]string, 0, len(n.Inputs))
		for input := range n.Inputs {
			names = append(names, input)
		}
		slices.Sort(names)
		for _, input := range names {
			e, ok := n.Edge(input)
			if !ok || !d.Has(e.Source) {
				continue
			}
			attrs := map[string]string{"label": strconv.Quote(fmt.Sprintf("%s[%d]", input, e.Slot))}
			if err := g.AddEdge(dotNode(e.Source), dotNode(id), true, attrs); err != nil {
				return "", err
			}
		}
	}
	return g.String(), nil
}

func dotNode(id NodeID) string {
	return "n" + id.String()
}
