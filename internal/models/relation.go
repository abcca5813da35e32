package models

// DefaultEdgeWeight is the weight reported for relationships without one.
const DefaultEdgeWeight = 1.0

// EdgeOrigin records which store a relationship came from.
type EdgeOrigin string

const (
	OriginRelational EdgeOrigin = "relational"
	OriginTraversal  EdgeOrigin = "traversal"
)

// EdgeKey is the natural identity of a relationship.
type EdgeKey struct {
	Source string
	Target string
	Type   string
}

func (k EdgeKey) String() string {
	return k.Source + "-" + k.Target + "-" + k.Type
}

// Relationship is a directed, typed edge between two entities.
// ID is empty when the store did not supply an explicit identifier.
type Relationship struct {
	ID       string         `json:"id,omitempty"`
	Source   string         `json:"source"`
	Target   string         `json:"target"`
	Type     string         `json:"type"`
	Weight   *float64       `json:"weight,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Origin   EdgeOrigin     `json:"-"`
}

// Key returns the (source, target, type) dedup key.
func (r Relationship) Key() EdgeKey {
	return EdgeKey{Source: r.Source, Target: r.Target, Type: r.Type}
}

// EffectiveWeight returns the weight, or DefaultEdgeWeight when unset.
func (r Relationship) EffectiveWeight() float64 {
	if r.Weight == nil {
		return DefaultEdgeWeight
	}
	return *r.Weight
}
