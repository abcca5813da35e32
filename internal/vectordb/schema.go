package vectordb

import "fmt"

const vectorTable = "entity_vector"

const schemaTemplate = `
    DEFINE TABLE IF NOT EXISTS entity_vector SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS entity_id ON entity_vector TYPE string;
    DEFINE FIELD IF NOT EXISTS user_id ON entity_vector TYPE string;
    DEFINE FIELD IF NOT EXISTS entity_type ON entity_vector TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS embedding ON entity_vector TYPE array<float>;
    DEFINE FIELD IF NOT EXISTS updated ON entity_vector TYPE datetime DEFAULT time::now();

    -- One vector per entity and user
    DEFINE INDEX IF NOT EXISTS entity_vector_key ON entity_vector FIELDS user_id, entity_id UNIQUE;
    DEFINE INDEX IF NOT EXISTS entity_vector_user ON entity_vector FIELDS user_id;
    DEFINE INDEX IF NOT EXISTS entity_vector_embedding ON entity_vector FIELDS embedding HNSW DIMENSION %d DIST COSINE TYPE F32;
`

// SchemaSQL renders the vector schema for an embedding dimension.
func SchemaSQL(dimension int) (string, error) {
	if dimension <= 0 {
		return "", fmt.Errorf("%w: dimension must be positive, got %d", ErrDimensionMismatch, dimension)
	}
	return fmt.Sprintf(schemaTemplate, dimension), nil
}
