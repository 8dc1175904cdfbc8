package mapper

import (
	"flow/internal/api/handler/response"
	"flow/internal/api/service"
	"flow/internal/workflow"
)

func ToNodeResponse(n *workflow.Node) response.Node {
	resp := response.Node{
		ID:          int(n.ID),
		Type:        n.Type,
		Title:       n.Title,
		DisplayName: n.DisplayName(),
		Inputs:      make(map[string]response.Input, len(n.Inputs)),
	}
	for name, in := range n.Inputs {
		if in.IsEdge() {
			resp.Inputs[name] = response.Input{Link: toLink(*in.Edge)}
			continue
		}
		resp.Inputs[name] = response.Input{Value: in.Literal()}
	}
	return resp
}

// ToAdapterResponse reads the asset and strength inputs of an adapter node. Missing or
// mistyped values are reported as zero values.
func ToAdapterResponse(n *workflow.Node) response.Adapter {
	resp := response.Adapter{ID: int(n.ID)}
	if asset, ok := n.Inputs[workflow.AssetInput].Literal().(string); ok {
		resp.Asset = asset
	}
	if strength, ok := n.Inputs[workflow.StrengthInput].Literal().(float64); ok {
		resp.Strength = strength
	}
	if e, ok := n.Edge(workflow.ModelInput); ok {
		resp.Upstream = toLink(e)
	}
	return resp
}

func ToAnchorResponses(anchors []service.Anchor) []response.Anchor {
	out := make([]response.Anchor, 0, len(anchors))
	for _, a := range anchors {
		resp := response.Anchor{
			Node:     ToNodeResponse(a.Node),
			Adapters: make([]response.Adapter, 0, len(a.Adapters)),
		}
		for _, adapter := range a.Adapters {
			resp.Adapters = append(resp.Adapters, ToAdapterResponse(adapter))
		}
		if a.Err != nil {
			resp.Error = a.Err.Error()
		}
		out = append(out, resp)
	}
	return out
}

func toLink(e workflow.EdgeRef) *response.Link {
	return &response.Link{Source: int(e.Source), Slot: e.Slot}
}
