package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/cosmos-go/internal/models"
	"github.com/raphaelgruber/cosmos-go/internal/reconcile"
	"github.com/raphaelgruber/cosmos-go/internal/resilience"
)

// Hop bounds for traversal.
const (
	MinHops = 1
	MaxHops = 3
)

// GraphStore is the graph relationship store.
type GraphStore interface {
	// Neighbors returns distinct ids of active entities within hops of each
	// seed, at most perSeedLimit per seed, seeds excluded.
	Neighbors(ctx context.Context, userID string, seedIDs []string, hops, perSeedLimit int) ([]string, error)
	// RelationshipsAmong returns traversal records for every directed
	// relationship whose endpoints are both in ids.
	RelationshipsAmong(ctx context.Context, userID string, ids []string) ([]reconcile.Record, error)
	// ActiveGraph returns one record per active node and outgoing relationship
	// of the user.
	ActiveGraph(ctx context.Context, userID string) ([]reconcile.Record, error)
}

// Expansion is the result of a traversal expansion.
type Expansion struct {
	ConnectedIDs  []string
	Relationships []models.Relationship
	// Unresolved counts relationships dropped during reconciliation.
	Unresolved int
}

// Expander discovers entities connected to a seed set.
type Expander struct {
	store  GraphStore
	guard  *resilience.Guard
	logger *slog.Logger
}

// NewExpander creates an expander over the given graph store.
func NewExpander(store GraphStore, guard *resilience.Guard, logger *slog.Logger) *Expander {
	if logger == nil {
		logger = slog.Default()
	}
	return &Expander{store: store, guard: guard, logger: logger.With("component", "expander")}
}

// ClampHops bounds hops to [MinHops, MaxHops].
func ClampHops(hops int) int {
	if hops < MinHops {
		return MinHops
	}
	if hops > MaxHops {
		return MaxHops
	}
	return hops
}

// Expand runs the two sequential traversal queries: neighbour discovery,
// then relationships strictly inside seeds ∪ neighbours. ConnectedIDs never
// contains a seed. Edge direction is kept as stored.
func (e *Expander) Expand(ctx context.Context, userID string, seedIDs []string, hops, perSeedLimit int) (*Expansion, error) {
	seeds := dedupe(seedIDs)
	if len(seeds) == 0 {
		return &Expansion{}, nil
	}
	hops = ClampHops(hops)

	neighbors, err := resilience.Call(ctx, e.guard, "neighbors", func(ctx context.Context) ([]string, error) {
		return e.store.Neighbors(ctx, userID, seeds, hops, perSeedLimit)
	})
	if err != nil {
		return nil, fmt.Errorf("discover neighbors: %w", err)
	}

	isSeed := make(map[string]bool, len(seeds))
	for _, id := range seeds {
		isSeed[id] = true
	}
	connected := make([]string, 0, len(neighbors))
	for _, id := range dedupe(neighbors) {
		if !isSeed[id] {
			connected = append(connected, id)
		}
	}

	members := append(append([]string(nil), seeds...), connected...)
	records, err := resilience.Call(ctx, e.guard, "relationships_among", func(ctx context.Context) ([]reconcile.Record, error) {
		return e.store.RelationshipsAmong(ctx, userID, members)
	})
	if err != nil {
		return nil, fmt.Errorf("discover relationships: %w", err)
	}

	res := reconcile.Reconcile(records)
	inside := make(map[string]bool, len(members))
	for _, id := range members {
		inside[id] = true
	}
	var rels []models.Relationship
	for _, r := range res.Relationships() {
		if inside[r.Source] && inside[r.Target] {
			rels = append(rels, r)
		}
	}

	if res.Unresolved() > 0 {
		e.logger.Debug("dropped unresolved relationships", "user_id", userID, "count", res.Unresolved())
	}

	return &Expansion{
		ConnectedIDs:  connected,
		Relationships: rels,
		Unresolved:    res.Unresolved(),
	}, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
