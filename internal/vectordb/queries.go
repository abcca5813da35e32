package vectordb

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/cosmos-go/internal/models"
)

type vectorRef struct {
	ID surrealmodels.RecordID `json:"id"`
}

type knnRow struct {
	EntityID string  `json:"entity_id"`
	Distance float64 `json:"distance"`
}

// recordKey extracts the string key of a vector record id.
func recordKey(id surrealmodels.RecordID) (string, error) {
	s, ok := id.ID.(string)
	if !ok {
		return "", fmt.Errorf("unexpected record key type: %T (expected string)", id.ID)
	}
	return s, nil
}

// ResolveVectorKey returns the record key of the entity's vector, or "" when
// the entity has none.
func (c *Client) ResolveVectorKey(ctx context.Context, userID, entityID string) (string, error) {
	sql := `SELECT id FROM entity_vector WHERE user_id = $user_id AND entity_id = $entity_id LIMIT 1`
	results, err := surrealdb.Query[[]vectorRef](ctx, c.db, sql, map[string]any{
		"user_id":   userID,
		"entity_id": entityID,
	})
	if err != nil {
		return "", fmt.Errorf("resolve vector key: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return "", nil
	}
	return recordKey((*results)[0].Result[0].ID)
}

// NearestByKey returns up to limit vectors nearest to the one stored under
// key, excluding it, ordered by ascending cosine distance then entity id.
func (c *Client) NearestByKey(ctx context.Context, userID, key string, limit int) ([]models.SimilarMatch, error) {
	if limit <= 0 {
		return nil, nil
	}

	embResults, err := surrealdb.Query[[][]float32](ctx, c.db,
		`SELECT VALUE embedding FROM type::record("entity_vector", $key)`,
		map[string]any{"key": key})
	if err != nil {
		return nil, fmt.Errorf("load seed embedding: %w", wrapQueryError(err))
	}
	if embResults == nil || len(*embResults) == 0 || len((*embResults)[0].Result) == 0 {
		return []models.SimilarMatch{}, nil
	}
	embedding := (*embResults)[0].Result[0]

	// HNSW with ef=40; one extra neighbour since the seed matches itself.
	sql := fmt.Sprintf(`
		SELECT entity_id, vector::distance::knn() AS distance
		FROM entity_vector
		WHERE user_id = $user_id
		  AND id != type::record("entity_vector", $key)
		  AND embedding <|%d,40|> $emb
		ORDER BY distance, entity_id
	`, limit+1)

	results, err := surrealdb.Query[[]knnRow](ctx, c.db, sql, map[string]any{
		"user_id": userID,
		"key":     key,
		"emb":     embedding,
	})
	if err != nil {
		return nil, fmt.Errorf("nearest neighbours: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return []models.SimilarMatch{}, nil
	}

	rows := (*results)[0].Result
	if len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]models.SimilarMatch, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.SimilarMatch{EntityID: r.EntityID, Distance: r.Distance})
	}
	return out, nil
}

// IndexEntity stores or replaces the embedding of an entity and returns the
// record key.
func (c *Client) IndexEntity(ctx context.Context, userID, entityID string, entityType models.EntityType, embedding []float32) (string, error) {
	if c.cfg.Dimension > 0 && len(embedding) != c.cfg.Dimension {
		return "", fmt.Errorf("%w: got %d, index expects %d", ErrDimensionMismatch, len(embedding), c.cfg.Dimension)
	}

	if _, err := c.DeleteEntity(ctx, userID, entityID); err != nil {
		return "", err
	}

	key := uuid.NewString()
	vars := map[string]any{
		"key":       key,
		"entity_id": entityID,
		"user_id":   userID,
		"embedding": embedding,
	}
	typeClause := ""
	if entityType != "" {
		typeClause = ", entity_type = $entity_type"
		vars["entity_type"] = string(entityType)
	}
	sql := fmt.Sprintf(`
		CREATE type::record("entity_vector", $key) SET
			entity_id = $entity_id,
			user_id = $user_id,
			embedding = $embedding%s
	`, typeClause)
	_, err := surrealdb.Query[any](ctx, c.db, sql, vars)
	if err != nil {
		return "", fmt.Errorf("index entity: %w", wrapQueryError(err))
	}
	return key, nil
}

// DeleteEntity removes the embedding of an entity. Returns true if one
// existed.
func (c *Client) DeleteEntity(ctx context.Context, userID, entityID string) (bool, error) {
	results, err := surrealdb.Query[[]vectorRef](ctx, c.db,
		`DELETE entity_vector WHERE user_id = $user_id AND entity_id = $entity_id RETURN BEFORE`,
		map[string]any{"user_id": userID, "entity_id": entityID})
	if err != nil {
		return false, fmt.Errorf("delete entity vector: %w", wrapQueryError(err))
	}
	return results != nil && len(*results) > 0 && len((*results)[0].Result) > 0, nil
}
