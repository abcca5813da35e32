package graphdb

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/raphaelgruber/cosmos-go/internal/reconcile"
)

// activeFilter matches nodes without a status or with status "active".
const activeFilter = `(%[1]s.status IS NULL OR %[1]s.status = 'active')`

func active(v string) string {
	return fmt.Sprintf(activeFilter, v)
}

// ActiveGraph returns one record per active node of the user together with
// each outgoing relationship to another active node of the same user.
func (c *Client) ActiveGraph(ctx context.Context, userID string) ([]reconcile.Record, error) {
	query := fmt.Sprintf(`
		MATCH (n)
		WHERE n.user_id = $userId AND n.id IS NOT NULL AND %s
		OPTIONAL MATCH (n)-[r]->(m)
		WHERE m.user_id = $userId AND m.id IS NOT NULL AND %s
		RETURN n, r, m
		ORDER BY n.id, type(r), m.id
	`, active("n"), active("m"))

	records, err := c.run(ctx, query, map[string]any{"userId": userID})
	if err != nil {
		return nil, fmt.Errorf("active graph: %w", err)
	}
	return toRecords(records, "n", "r", "m")
}

// Neighbors returns distinct ids of active nodes within hops of any seed,
// nearest first and at most perSeedLimit per seed. Seeds are excluded and
// every node on a path must belong to the user.
func (c *Client) Neighbors(ctx context.Context, userID string, seedIDs []string, hops, perSeedLimit int) ([]string, error) {
	if len(seedIDs) == 0 {
		return []string{}, nil
	}

	// Variable-length bounds cannot be parameters.
	query := fmt.Sprintf(`
		UNWIND $seedIds AS sid
		CALL {
			WITH sid
			MATCH p = (s {id: sid})-[*1..%d]-(n)
			WHERE s.user_id = $userId
			  AND n.id IS NOT NULL
			  AND NOT n.id IN $seedIds
			  AND %s
			  AND ALL(x IN nodes(p) WHERE x.user_id = $userId)
			WITH n.id AS nid, min(length(p)) AS depth
			ORDER BY depth, nid
			LIMIT $perSeed
			RETURN nid, depth
		}
		RETURN sid, nid
	`, hops, active("n"))

	records, err := c.run(ctx, query, map[string]any{
		"userId":  userID,
		"seedIds": seedIDs,
		"perSeed": int64(perSeedLimit),
	})
	if err != nil {
		return nil, fmt.Errorf("neighbors: %w", err)
	}

	seen := make(map[string]bool, len(records))
	out := make([]string, 0, len(records))
	for _, rec := range records {
		id, _, err := neo4j.GetRecordValue[string](rec, "nid")
		if err != nil || id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

// RelationshipsAmong returns every directed relationship between two nodes
// of ids.
func (c *Client) RelationshipsAmong(ctx context.Context, userID string, ids []string) ([]reconcile.Record, error) {
	if len(ids) == 0 {
		return []reconcile.Record{}, nil
	}

	query := `
		MATCH (a)-[r]->(b)
		WHERE a.user_id = $userId AND b.user_id = $userId
		  AND a.id IN $ids AND b.id IN $ids
		RETURN a, r, b
		ORDER BY a.id, type(r), b.id
	`
	records, err := c.run(ctx, query, map[string]any{"userId": userID, "ids": ids})
	if err != nil {
		return nil, fmt.Errorf("relationships among: %w", err)
	}
	return toRecords(records, "a", "r", "b")
}

// UpsertEntity creates or updates an entity node. Used to seed graphs.
func (c *Client) UpsertEntity(ctx context.Context, userID, entityID, label string, props map[string]any) error {
	if label == "" {
		label = "Entity"
	}
	query := fmt.Sprintf(`
		MERGE (n:%s {id: $id, user_id: $userId})
		SET n += $props
	`, quoteIdent(label))
	if props == nil {
		props = map[string]any{}
	}
	if err := c.write(ctx, query, map[string]any{"id": entityID, "userId": userID, "props": props}); err != nil {
		return fmt.Errorf("upsert entity: %w", err)
	}
	return nil
}

// Relate creates a directed relationship between two entities of a user.
func (c *Client) Relate(ctx context.Context, userID, sourceID, targetID, relType string, props map[string]any) error {
	query := fmt.Sprintf(`
		MATCH (a {id: $source, user_id: $userId}), (b {id: $target, user_id: $userId})
		CREATE (a)-[r:%s]->(b)
		SET r += $props
	`, quoteIdent(relType))
	if props == nil {
		props = map[string]any{}
	}
	err := c.write(ctx, query, map[string]any{
		"source": sourceID,
		"target": targetID,
		"userId": userID,
		"props":  props,
	})
	if err != nil {
		return fmt.Errorf("relate: %w", err)
	}
	return nil
}

// DeleteUserGraph removes every node of a user. Use for testing only.
func (c *Client) DeleteUserGraph(ctx context.Context, userID string) error {
	if err := c.write(ctx, `MATCH (n {user_id: $userId}) DETACH DELETE n`, map[string]any{"userId": userID}); err != nil {
		return fmt.Errorf("delete user graph: %w", err)
	}
	return nil
}
