package entitydb

import (
	"math"
	"time"

	"github.com/uptrace/bun"

	"github.com/raphaelgruber/cosmos-go/internal/models"
)

// entityRow mirrors the entities table. Timestamps are stored as text because
// upstream writers are not consistent about their format.
type entityRow struct {
	bun.BaseModel `bun:"table:entities,alias:e"`

	ID              string         `bun:"entity_id,pk"`
	UserID          string         `bun:"user_id,notnull"`
	Type            string         `bun:"entity_type,nullzero"`
	Title           string         `bun:"title,nullzero"`
	Content         string         `bun:"content,nullzero"`
	ImportanceScore *float64       `bun:"importance_score"`
	CreatedAt       string         `bun:"created_at,nullzero"`
	UpdatedAt       string         `bun:"updated_at,nullzero"`
	Position        any            `bun:"position,type:jsonb"`
	Metadata        map[string]any `bun:"metadata,type:jsonb"`
	Status          string         `bun:"status,nullzero"`
}

// relationshipRow mirrors the relationships table.
type relationshipRow struct {
	bun.BaseModel `bun:"table:relationships,alias:r"`

	ID       string         `bun:"relationship_id,pk"`
	UserID   string         `bun:"user_id,notnull"`
	SourceID string         `bun:"source_entity_id,notnull"`
	TargetID string         `bun:"target_entity_id,notnull"`
	Type     string         `bun:"relationship_type,notnull"`
	Weight   *float64       `bun:"weight"`
	Metadata map[string]any `bun:"metadata,type:jsonb"`
}

func (r entityRow) toEntity() models.Entity {
	return models.NormalizeEntity(models.RawEntity{
		ID:              r.ID,
		UserID:          r.UserID,
		Type:            r.Type,
		Title:           r.Title,
		Content:         r.Content,
		ImportanceScore: r.ImportanceScore,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		Position:        r.Position,
		Metadata:        r.Metadata,
		Status:          r.Status,
	})
}

func (r relationshipRow) toRelationship() models.Relationship {
	var weight *float64
	if r.Weight != nil && !math.IsNaN(*r.Weight) && !math.IsInf(*r.Weight, 0) {
		w := *r.Weight
		weight = &w
	}
	var meta map[string]any
	if len(r.Metadata) > 0 {
		meta = r.Metadata
	}
	return models.Relationship{
		ID:       r.ID,
		Source:   r.SourceID,
		Target:   r.TargetID,
		Type:     r.Type,
		Weight:   weight,
		Metadata: meta,
		Origin:   models.OriginRelational,
	}
}

func fromEntity(e models.Entity) entityRow {
	row := entityRow{
		ID:              e.ID,
		UserID:          e.UserID,
		Type:            string(e.Type),
		Title:           e.Title,
		Content:         e.Content,
		ImportanceScore: e.ImportanceScore,
		CreatedAt:       formatTime(e.CreatedAt),
		UpdatedAt:       formatTime(e.UpdatedAt),
		Metadata:        e.Metadata,
		Status:          string(e.Status),
	}
	if e.Position != nil {
		row.Position = map[string]any{"x": e.Position.X, "y": e.Position.Y, "z": e.Position.Z}
	}
	return row
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
