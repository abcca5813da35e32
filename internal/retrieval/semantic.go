// Package retrieval implements the store-facing stages of a lookup:
// semantic similarity search, graph traversal expansion, whole-graph
// projection and relationship merging.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/raphaelgruber/cosmos-go/internal/models"
	"github.com/raphaelgruber/cosmos-go/internal/resilience"
)

// VectorStore is the vector similarity store.
type VectorStore interface {
	// ResolveVectorKey returns the store-internal key of the entity's vector,
	// or "" when the entity is not indexed.
	ResolveVectorKey(ctx context.Context, userID, entityID string) (string, error)
	// NearestByKey returns up to limit neighbours of the vector with the given
	// key, excluding that vector itself, ordered by ascending distance.
	NearestByKey(ctx context.Context, userID, key string, limit int) ([]models.SimilarMatch, error)
}

// SemanticSearch finds entities whose embeddings are close to a seed's.
type SemanticSearch struct {
	store  VectorStore
	guard  *resilience.Guard
	logger *slog.Logger
}

// NewSemanticSearch creates a semantic search over the given vector store.
func NewSemanticSearch(store VectorStore, guard *resilience.Guard, logger *slog.Logger) *SemanticSearch {
	if logger == nil {
		logger = slog.Default()
	}
	return &SemanticSearch{store: store, guard: guard, logger: logger.With("component", "semantic_search")}
}

// FindSimilar returns entities within threshold distance of the seed,
// nearest first, capped at limit. It returns ErrNotIndexed when the seed has
// no vector.
func (s *SemanticSearch) FindSimilar(ctx context.Context, userID, seedID string, threshold float64, limit int) ([]models.SimilarMatch, error) {
	if limit <= 0 {
		return nil, nil
	}

	key, err := resilience.Call(ctx, s.guard, "resolve_vector_key", func(ctx context.Context) (string, error) {
		return s.store.ResolveVectorKey(ctx, userID, seedID)
	})
	if err != nil {
		return nil, fmt.Errorf("resolve vector key: %w", err)
	}
	if key == "" {
		return nil, ErrNotIndexed
	}

	hits, err := resilience.Call(ctx, s.guard, "nearest", func(ctx context.Context) ([]models.SimilarMatch, error) {
		return s.store.NearestByKey(ctx, userID, key, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("nearest neighbours: %w", err)
	}

	matches := make([]models.SimilarMatch, 0, len(hits))
	seen := make(map[string]bool, len(hits))
	for _, h := range hits {
		if h.EntityID == "" || h.EntityID == seedID || seen[h.EntityID] {
			continue
		}
		if math.IsNaN(h.Distance) || math.IsInf(h.Distance, 0) {
			s.logger.Warn("dropping match with non-finite distance",
				"user_id", userID, "seed_id", seedID, "entity_id", h.EntityID)
			continue
		}
		if h.Distance > threshold {
			continue
		}
		seen[h.EntityID] = true
		matches = append(matches, h)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].EntityID < matches[j].EntityID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}

	s.logger.Debug("semantic search complete",
		"user_id", userID, "seed_id", seedID, "candidates", len(hits), "matches", len(matches))
	return matches, nil
}
