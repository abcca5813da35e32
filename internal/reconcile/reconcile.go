// Package reconcile maps graph-store internal identifiers to external entity
// ids and builds deduplicated node and edge collections from raw traversal
// records.
//
// Internal identifiers are only valid for the records of a single query and
// never leave this package: every node and edge in a Result is keyed by the
// entity's external id.
package reconcile

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/cosmos-go/internal/models"
)

// ExternalIDProperty is the node property holding the external entity id.
const ExternalIDProperty = "id"

// Properties never copied into node or edge attributes.
var droppedProperties = map[string]bool{
	"embedding": true,
	"user_id":   true,
}

// Node is a raw node as returned by a graph store.
type Node struct {
	InternalID any
	Labels     []string
	Props      map[string]any
}

// Relationship is a raw relationship as returned by a graph store.
type Relationship struct {
	InternalID any
	StartID    any
	EndID      any
	Type       string
	Props      map[string]any
}

// Record is one traversal row: a start node, an optional relationship and
// an optional end node.
type Record struct {
	Start *Node
	Rel   *Relationship
	End   *Node
}

// Result holds reconciled nodes and edges in first-seen order.
type Result struct {
	Nodes map[string]models.GraphNode
	Edges map[string]models.GraphEdge

	nodeOrder []string
	edgeOrder []string
	// explicit relationship ids by edge key, empty when none was stored
	explicitIDs map[string]string
	// unresolved counts relationships skipped because an endpoint was unknown
	unresolved int
}

// Reconcile runs both passes over records.
//
// Pass one registers every node's internal id and inserts the node under its
// external id; the first occurrence wins. Pass two resolves relationship
// endpoints through the map from pass one and skips relationships that
// cannot be resolved.
func Reconcile(records []Record) *Result {
	res := &Result{
		Nodes:       make(map[string]models.GraphNode),
		Edges:       make(map[string]models.GraphEdge),
		explicitIDs: make(map[string]string),
	}
	idMap := make(map[string]string)

	for _, rec := range records {
		res.register(idMap, rec.Start)
		res.register(idMap, rec.End)
	}

	for _, rec := range records {
		if rec.Rel == nil {
			continue
		}
		res.addEdge(idMap, rec.Rel)
	}

	return res
}

func (r *Result) register(idMap map[string]string, n *Node) {
	if n == nil {
		return
	}
	internal, ok := CanonicalID(n.InternalID)
	if !ok {
		return
	}
	external := externalID(n.Props)
	if external == "" {
		return
	}
	if _, seen := idMap[internal]; !seen {
		idMap[internal] = external
	}
	if _, exists := r.Nodes[external]; exists {
		return
	}

	props := cleanProps(n.Props)
	nodeType := ""
	if t, ok := props["type"].(string); ok && t != "" {
		nodeType = t
	} else if len(n.Labels) > 0 {
		nodeType = n.Labels[0]
	}

	r.Nodes[external] = models.GraphNode{
		ID:         external,
		Labels:     append([]string(nil), n.Labels...),
		Type:       nodeType,
		Properties: props,
	}
	r.nodeOrder = append(r.nodeOrder, external)
}

func (r *Result) addEdge(idMap map[string]string, rel *Relationship) {
	startInternal, ok1 := CanonicalID(rel.StartID)
	endInternal, ok2 := CanonicalID(rel.EndID)
	if !ok1 || !ok2 {
		r.unresolved++
		return
	}
	source, ok1 := idMap[startInternal]
	target, ok2 := idMap[endInternal]
	if !ok1 || !ok2 {
		r.unresolved++
		return
	}

	explicit := externalID(rel.Props)
	key := explicit
	if key == "" {
		key = models.EdgeKey{Source: source, Target: target, Type: rel.Type}.String()
	}
	if _, exists := r.Edges[key]; exists {
		return
	}

	r.Edges[key] = models.GraphEdge{
		ID:         key,
		Source:     source,
		Target:     target,
		Type:       rel.Type,
		Properties: cleanProps(rel.Props),
	}
	r.explicitIDs[key] = explicit
	r.edgeOrder = append(r.edgeOrder, key)
}

// Unresolved returns how many relationships were dropped because an endpoint
// could not be mapped to an external id.
func (r *Result) Unresolved() int {
	return r.unresolved
}

// OrderedNodes returns nodes in first-seen order.
func (r *Result) OrderedNodes() []models.GraphNode {
	out := make([]models.GraphNode, 0, len(r.nodeOrder))
	for _, id := range r.nodeOrder {
		out = append(out, r.Nodes[id])
	}
	return out
}

// OrderedEdges returns edges in first-seen order.
func (r *Result) OrderedEdges() []models.GraphEdge {
	out := make([]models.GraphEdge, 0, len(r.edgeOrder))
	for _, key := range r.edgeOrder {
		out = append(out, r.Edges[key])
	}
	return out
}

// Structure returns the result as a GraphStructure.
func (r *Result) Structure() *models.GraphStructure {
	return &models.GraphStructure{
		Nodes: r.OrderedNodes(),
		Edges: r.OrderedEdges(),
	}
}

// Relationships converts edges into traversal-origin relationships. The id is
// only set when the store carried an explicit one.
func (r *Result) Relationships() []models.Relationship {
	out := make([]models.Relationship, 0, len(r.edgeOrder))
	for _, key := range r.edgeOrder {
		e := r.Edges[key]
		props := e.Properties
		var weight *float64
		if w, ok := models.ToFloat(props["weight"]); ok && !math.IsNaN(w) && !math.IsInf(w, 0) {
			weight = &w
		}
		var meta map[string]any
		for k, v := range props {
			if k == "weight" || k == ExternalIDProperty {
				continue
			}
			if meta == nil {
				meta = make(map[string]any)
			}
			meta[k] = v
		}
		out = append(out, models.Relationship{
			ID:       r.explicitIDs[key],
			Source:   e.Source,
			Target:   e.Target,
			Type:     e.Type,
			Weight:   weight,
			Metadata: meta,
			Origin:   models.OriginTraversal,
		})
	}
	return out
}

// CanonicalID renders a store-internal identifier as a decimal string.
// Integers are formatted directly so 64-bit ids keep full precision.
func CanonicalID(v any) (string, bool) {
	switch id := v.(type) {
	case nil:
		return "", false
	case string:
		if id == "" {
			return "", false
		}
		return id, true
	case int64:
		return strconv.FormatInt(id, 10), true
	case int:
		return strconv.FormatInt(int64(id), 10), true
	case int32:
		return strconv.FormatInt(int64(id), 10), true
	case uint64:
		return strconv.FormatUint(id, 10), true
	case uint32:
		return strconv.FormatUint(uint64(id), 10), true
	case json.Number:
		s := strings.TrimSpace(id.String())
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return strconv.FormatInt(i, 10), true
		}
		if u, err := strconv.ParseUint(s, 10, 64); err == nil {
			return strconv.FormatUint(u, 10), true
		}
		return s, s != ""
	case float64:
		if math.IsNaN(id) || math.IsInf(id, 0) {
			return "", false
		}
		if id == math.Trunc(id) && math.Abs(id) < 1<<63 {
			return strconv.FormatInt(int64(id), 10), true
		}
		return strconv.FormatFloat(id, 'f', -1, 64), true
	}
	return "", false
}

func externalID(props map[string]any) string {
	switch v := props[ExternalIDProperty].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		s, _ := CanonicalID(v)
		return s
	}
}

func cleanProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		if droppedProperties[k] || v == nil {
			continue
		}
		out[k] = cleanValue(v)
	}
	return out
}

type timeLike interface {
	Time() time.Time
}

func cleanValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case timeLike:
		return t.Time().UTC().Format(time.RFC3339Nano)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cleanValue(item)
		}
		return out
	case map[string]any:
		return cleanProps(t)
	}
	return v
}
