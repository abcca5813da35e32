package entitydb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/raphaelgruber/cosmos-go/internal/models"
)

// GetEntity returns a single entity of the user, or nil when it does not
// exist. Inactive entities are returned as-is; callers decide visibility.
func (c *Client) GetEntity(ctx context.Context, userID, entityID string) (*models.Entity, error) {
	var row entityRow
	err := c.db.NewSelect().
		Model(&row).
		Where("e.user_id = ?", userID).
		Where("e.entity_id = ?", entityID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entity %s: %w", entityID, err)
	}
	e := row.toEntity()
	return &e, nil
}

// GetEntities bulk-fetches the entities of ids that exist, in id order.
func (c *Client) GetEntities(ctx context.Context, userID string, ids []string) ([]models.Entity, error) {
	return c.GetEntitiesByStatus(ctx, userID, ids)
}

// GetEntitiesByStatus is GetEntities restricted to the given statuses. A NULL
// status counts as active. No statuses means no filter.
func (c *Client) GetEntitiesByStatus(ctx context.Context, userID string, ids []string, statuses ...models.Status) ([]models.Entity, error) {
	if len(ids) == 0 {
		return []models.Entity{}, nil
	}

	var rows []entityRow
	q := c.db.NewSelect().
		Model(&rows).
		Where("e.user_id = ?", userID).
		Where("e.entity_id IN (?)", bun.In(ids))
	if len(statuses) > 0 {
		q = q.Where("COALESCE(e.status, ?) IN (?)", string(models.StatusActive), bun.In(statusStrings(statuses)))
	}
	if err := q.OrderExpr("e.entity_id").Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get entities: %w", err)
	}

	out := make([]models.Entity, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toEntity())
	}
	return out, nil
}

// RelationshipsAmong returns the stored relationships whose endpoints are
// both in ids.
func (c *Client) RelationshipsAmong(ctx context.Context, userID string, ids []string) ([]models.Relationship, error) {
	if len(ids) == 0 {
		return []models.Relationship{}, nil
	}

	var rows []relationshipRow
	err := c.db.NewSelect().
		Model(&rows).
		Where("r.user_id = ?", userID).
		Where("r.source_entity_id IN (?)", bun.In(ids)).
		Where("r.target_entity_id IN (?)", bun.In(ids)).
		OrderExpr("r.source_entity_id, r.target_entity_id, r.relationship_type, r.relationship_id").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("relationships among: %w", err)
	}

	out := make([]models.Relationship, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toRelationship())
	}
	return out, nil
}

// SaveEntity upserts an entity. Ingestion owns writes; this exists for
// fixtures and local seeding.
func (c *Client) SaveEntity(ctx context.Context, e models.Entity) error {
	row := fromEntity(e)
	_, err := c.db.NewInsert().
		Model(&row).
		On("CONFLICT (entity_id) DO UPDATE").
		Set("user_id = EXCLUDED.user_id").
		Set("entity_type = EXCLUDED.entity_type").
		Set("title = EXCLUDED.title").
		Set("content = EXCLUDED.content").
		Set("importance_score = EXCLUDED.importance_score").
		Set("created_at = EXCLUDED.created_at").
		Set("updated_at = EXCLUDED.updated_at").
		Set("position = EXCLUDED.position").
		Set("metadata = EXCLUDED.metadata").
		Set("status = EXCLUDED.status").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("save entity %s: %w", e.ID, err)
	}
	return nil
}

// SaveRelationship inserts a relationship and returns its id, generating
// one when r.ID is empty.
func (c *Client) SaveRelationship(ctx context.Context, userID string, r models.Relationship) (string, error) {
	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	row := relationshipRow{
		ID:       id,
		UserID:   userID,
		SourceID: r.Source,
		TargetID: r.Target,
		Type:     r.Type,
		Weight:   r.Weight,
		Metadata: r.Metadata,
	}
	if _, err := c.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return "", fmt.Errorf("save relationship: %w", err)
	}
	return id, nil
}

// WipeUser deletes every entity and relationship of a user. Use for testing only.
func (c *Client) WipeUser(ctx context.Context, userID string) error {
	if _, err := c.db.NewDelete().Model((*relationshipRow)(nil)).Where("user_id = ?", userID).Exec(ctx); err != nil {
		return fmt.Errorf("wipe relationships: %w", err)
	}
	if _, err := c.db.NewDelete().Model((*entityRow)(nil)).Where("user_id = ?", userID).Exec(ctx); err != nil {
		return fmt.Errorf("wipe entities: %w", err)
	}
	return nil
}

func statusStrings(statuses []models.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
