package models

// GraphNode is a node of a whole-graph projection, keyed by external entity id.
type GraphNode struct {
	ID         string         `json:"id"`
	Labels     []string       `json:"labels,omitempty"`
	Type       string         `json:"type,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// GraphEdge is an edge of a whole-graph projection. Both endpoints are
// external entity ids present in the same GraphStructure.
type GraphEdge struct {
	ID         string         `json:"id"`
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
}

// GraphStructure is the active-entity graph of a single user.
type GraphStructure struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}
