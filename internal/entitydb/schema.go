package entitydb

import (
	"context"
	"fmt"
)

// CreateSchema creates the entities and relationships tables with their
// lookup indexes. Safe to run repeatedly.
func (c *Client) CreateSchema(ctx context.Context) error {
	for _, model := range []any{(*entityRow)(nil), (*relationshipRow)(nil)} {
		if _, err := c.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	indexes := []struct {
		model   any
		name    string
		columns []string
	}{
		{(*entityRow)(nil), "idx_entities_user", []string{"user_id", "entity_id"}},
		{(*relationshipRow)(nil), "idx_relationships_source", []string{"user_id", "source_entity_id"}},
		{(*relationshipRow)(nil), "idx_relationships_target", []string{"user_id", "target_entity_id"}},
	}
	for _, idx := range indexes {
		_, err := c.db.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			IfNotExists().
			Column(idx.columns...).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}

	c.logger.Info("relational schema ready")
	return nil
}
