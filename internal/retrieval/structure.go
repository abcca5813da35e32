package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/cosmos-go/internal/models"
	"github.com/raphaelgruber/cosmos-go/internal/reconcile"
	"github.com/raphaelgruber/cosmos-go/internal/resilience"
)

// StructureSource provides the raw active graph of a user.
type StructureSource interface {
	ActiveGraph(ctx context.Context, userID string) ([]reconcile.Record, error)
}

// StructureAssembler builds a user's whole active-entity graph.
type StructureAssembler struct {
	source StructureSource
	guard  *resilience.Guard
	cache  *ProjectionCache
	logger *slog.Logger
}

// NewStructureAssembler creates an assembler. cache may be nil.
func NewStructureAssembler(source StructureSource, guard *resilience.Guard, cache *ProjectionCache, logger *slog.Logger) *StructureAssembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StructureAssembler{
		source: source,
		guard:  guard,
		cache:  cache,
		logger: logger.With("component", "structure_assembler"),
	}
}

// FetchGraphStructure returns the active graph for userID. Any store failure
// fails the whole call; a partial graph is never returned.
func (a *StructureAssembler) FetchGraphStructure(ctx context.Context, userID string) (*models.GraphStructure, error) {
	if g, ok := a.cache.Get(userID); ok {
		a.logger.Debug("projection cache hit", "user_id", userID)
		return g, nil
	}

	records, err := resilience.Call(ctx, a.guard, "active_graph", func(ctx context.Context) ([]reconcile.Record, error) {
		return a.source.ActiveGraph(ctx, userID)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch graph structure: %w", err)
	}

	res := reconcile.Reconcile(records)
	g := res.Structure()

	a.logger.Debug("graph structure assembled",
		"user_id", userID, "records", len(records), "nodes", len(g.Nodes),
		"edges", len(g.Edges), "unresolved", res.Unresolved())

	a.cache.Add(userID, g)
	return g, nil
}

// Invalidate drops the cached projection of a user.
func (a *StructureAssembler) Invalidate(userID string) bool {
	return a.cache.Invalidate(userID)
}
