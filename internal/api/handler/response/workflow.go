package response

import "flow/internal/workflow"

// Link is an input wired to output Slot of node Source.
type Link struct {
	Source int `json:"source"`
	Slot   int `json:"slot"`
}

// Input holds either a literal value or a link.
type Input struct {
	Value any   `json:"value,omitempty"`
	Link  *Link `json:"link,omitempty"`
}

type Node struct {
	ID          int              `json:"id"`
	Type        string           `json:"type"`
	Title       string           `json:"title,omitempty"`
	DisplayName string           `json:"displayName"`
	Inputs      map[string]Input `json:"inputs"`
}

// Adapter is the user-facing view of a LoRA loader node.
type Adapter struct {
	ID       int     `json:"id"`
	Asset    string  `json:"asset"`
	Strength float64 `json:"strength"`
	Upstream *Link   `json:"upstream,omitempty"`
}

type Anchor struct {
	Node     Node      `json:"node"`
	Adapters []Adapter `json:"adapters"`
	Error    string    `json:"error,omitempty"`
}

type Removal struct {
	ID     int                    `json:"id"`
	Result workflow.RemovalResult `json:"result"`
}

type Queued struct {
	JobID int `json:"jobId"`
}

type Assets struct {
	NodeType string   `json:"nodeType"`
	Assets   []string `json:"assets"`
}
