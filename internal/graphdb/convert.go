package graphdb

import (
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/raphaelgruber/cosmos-go/internal/reconcile"
)

// toRecords converts driver rows into reconciliation records. Columns may be
// null for OPTIONAL MATCH rows.
func toRecords(rows []*neo4j.Record, start, rel, end string) ([]reconcile.Record, error) {
	out := make([]reconcile.Record, 0, len(rows))
	for _, row := range rows {
		var rec reconcile.Record

		if v, ok := row.Get(start); ok && v != nil {
			n, ok := v.(neo4j.Node)
			if !ok {
				return nil, fmt.Errorf("column %s: unexpected type %T", start, v)
			}
			rec.Start = toNode(n)
		}
		if v, ok := row.Get(rel); ok && v != nil {
			r, ok := v.(neo4j.Relationship)
			if !ok {
				return nil, fmt.Errorf("column %s: unexpected type %T", rel, v)
			}
			rec.Rel = toRelationship(r)
		}
		if v, ok := row.Get(end); ok && v != nil {
			n, ok := v.(neo4j.Node)
			if !ok {
				return nil, fmt.Errorf("column %s: unexpected type %T", end, v)
			}
			rec.End = toNode(n)
		}

		out = append(out, rec)
	}
	return out, nil
}

func toNode(n neo4j.Node) *reconcile.Node {
	return &reconcile.Node{
		InternalID: internalID(n.ElementId, n.Id),
		Labels:     n.Labels,
		Props:      n.Props,
	}
}

func toRelationship(r neo4j.Relationship) *reconcile.Relationship {
	return &reconcile.Relationship{
		InternalID: internalID(r.ElementId, r.Id),
		StartID:    internalID(r.StartElementId, r.StartId),
		EndID:      internalID(r.EndElementId, r.EndId),
		Type:       r.Type,
		Props:      r.Props,
	}
}

// internalID prefers the element id; legacy servers only send the numeric id.
func internalID(elementID string, legacy int64) any {
	if elementID != "" {
		return elementID
	}
	return legacy
}

// quoteIdent backtick-quotes a label or relationship type.
func quoteIdent(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}
