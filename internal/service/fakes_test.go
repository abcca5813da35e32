package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/raphaelgruber/cosmos-go/internal/metrics"
	"github.com/raphaelgruber/cosmos-go/internal/models"
	"github.com/raphaelgruber/cosmos-go/internal/reconcile"
	"github.com/raphaelgruber/cosmos-go/internal/resilience"
	"github.com/raphaelgruber/cosmos-go/internal/retrieval"
	"github.com/raphaelgruber/cosmos-go/internal/scoring"
)

var (
	testNow    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
)

func daysAgo(n int) *time.Time {
	t := testNow.AddDate(0, 0, -n)
	return &t
}

func importance(v float64) *float64 { return &v }

// blockUntilDone waits for ctx, simulating a store that never answers.
func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// fakeEntities is an in-memory relational store.
type fakeEntities struct {
	mu        sync.Mutex
	entities  map[string]models.Entity
	relations []models.Relationship

	getErr    error
	bulkErr   error
	relErr    error
	bulkBlock bool
	bulkCalls int
}

func (f *fakeEntities) GetEntity(ctx context.Context, userID, entityID string) (*models.Entity, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, ok := f.entities[entityID]
	if !ok || e.UserID != userID {
		return nil, nil
	}
	return &e, nil
}

func (f *fakeEntities) GetEntities(ctx context.Context, userID string, ids []string) ([]models.Entity, error) {
	f.mu.Lock()
	f.bulkCalls++
	f.mu.Unlock()
	if f.bulkBlock {
		return nil, blockUntilDone(ctx)
	}
	if f.bulkErr != nil {
		return nil, f.bulkErr
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	var out []models.Entity
	for _, id := range sorted {
		if e, ok := f.entities[id]; ok && e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEntities) RelationshipsAmong(ctx context.Context, userID string, ids []string) ([]models.Relationship, error) {
	if f.relErr != nil {
		return nil, f.relErr
	}
	in := map[string]bool{}
	for _, id := range ids {
		in[id] = true
	}
	var out []models.Relationship
	for _, r := range f.relations {
		if in[r.Source] && in[r.Target] {
			out = append(out, r)
		}
	}
	return out, nil
}

// fakeVectors holds precomputed neighbour lists keyed by entity id.
type fakeVectors struct {
	neighbors map[string][]models.SimilarMatch
	err       error
}

func (f *fakeVectors) ResolveVectorKey(ctx context.Context, userID, entityID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if _, ok := f.neighbors[entityID]; !ok {
		return "", nil
	}
	return "vec:" + entityID, nil
}

func (f *fakeVectors) NearestByKey(ctx context.Context, userID, key string, limit int) ([]models.SimilarMatch, error) {
	if f.err != nil {
		return nil, f.err
	}
	hits := f.neighbors[key[len("vec:"):]]
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

type fakeEdge struct {
	source, target, typ string
	props               map[string]any
}

// fakeGraph is an undirected-traversal, directed-edge graph store.
type fakeGraph struct {
	nodes        []string
	edges        []fakeEdge
	neighborsErr error
}

func (g *fakeGraph) internalID(ext string) string {
	return "4:graph:" + ext
}

func (g *fakeGraph) node(ext string) *reconcile.Node {
	return &reconcile.Node{
		InternalID: g.internalID(ext),
		Labels:     []string{"Concept"},
		Props:      map[string]any{"id": ext},
	}
}

func (g *fakeGraph) Neighbors(ctx context.Context, userID string, seedIDs []string, hops, perSeedLimit int) ([]string, error) {
	if g.neighborsErr != nil {
		return nil, g.neighborsErr
	}
	isSeed := map[string]bool{}
	for _, s := range seedIDs {
		isSeed[s] = true
	}
	seen := map[string]bool{}
	var out []string
	for _, seed := range seedIDs {
		visited := map[string]bool{seed: true}
		frontier := []string{seed}
		var found []string
		for d := 0; d < hops; d++ {
			var next []string
			for _, cur := range frontier {
				for _, e := range g.edges {
					other := ""
					if e.source == cur {
						other = e.target
					} else if e.target == cur {
						other = e.source
					}
					if other == "" || visited[other] {
						continue
					}
					visited[other] = true
					next = append(next, other)
					if !isSeed[other] {
						found = append(found, other)
					}
				}
			}
			frontier = next
		}
		sort.Strings(found)
		if len(found) > perSeedLimit {
			found = found[:perSeedLimit]
		}
		for _, id := range found {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out, nil
}

func (g *fakeGraph) RelationshipsAmong(ctx context.Context, userID string, ids []string) ([]reconcile.Record, error) {
	in := map[string]bool{}
	for _, id := range ids {
		in[id] = true
	}
	var recs []reconcile.Record
	for i, e := range g.edges {
		if !in[e.source] || !in[e.target] {
			continue
		}
		recs = append(recs, reconcile.Record{
			Start: g.node(e.source),
			Rel: &reconcile.Relationship{
				InternalID: int64(i),
				StartID:    g.internalID(e.source),
				EndID:      g.internalID(e.target),
				Type:       e.typ,
				Props:      e.props,
			},
			End: g.node(e.target),
		})
	}
	return recs, nil
}

func (g *fakeGraph) ActiveGraph(ctx context.Context, userID string) ([]reconcile.Record, error) {
	all := append([]string(nil), g.nodes...)
	recs := []reconcile.Record{}
	for _, n := range all {
		recs = append(recs, reconcile.Record{Start: g.node(n)})
	}
	rels, _ := g.RelationshipsAmong(ctx, userID, all)
	return append(recs, rels...), nil
}

type fixture struct {
	entities *fakeEntities
	vectors  *fakeVectors
	graph    *fakeGraph
	metrics  *metrics.Collector
}

func guard(store string, timeout time.Duration) *resilience.Guard {
	return resilience.NewGuard(store, timeout, resilience.DefaultBreakerConfig(), resilience.Hooks{}, testLogger)
}

func (f *fixture) service() *LookupService {
	return f.serviceWithTimeout(time.Second)
}

func (f *fixture) serviceWithTimeout(timeout time.Duration) *LookupService {
	return NewLookupService(LookupDeps{
		Entities:    f.entities,
		EntityGuard: guard("relational", timeout),
		Semantic:    retrieval.NewSemanticSearch(f.vectors, guard("vector", timeout), testLogger),
		Expander:    retrieval.NewExpander(f.graph, guard("graph", timeout), testLogger),
		Scorer: scoring.NewEngine(scoring.DefaultWeights(),
			scoring.WithClock(func() time.Time { return testNow }),
			scoring.WithLogger(testLogger)),
		Metrics: f.metrics,
		Logger:  testLogger,
	})
}

func entity(id string, created *time.Time, imp float64) models.Entity {
	return models.Entity{
		ID:              id,
		UserID:          "u1",
		Type:            models.EntityTypeConcept,
		Title:           "entity " + id,
		ImportanceScore: importance(imp),
		CreatedAt:       created,
		Status:          models.StatusActive,
	}
}

// scenarioFixture: E1 is the seed; E2 and E3 are semantically close; E4 is
// connected to E2 in the graph; E5 is a relational edge target only.
func scenarioFixture() *fixture {
	entities := map[string]models.Entity{
		"E1": entity("E1", daysAgo(2), 8),
		"E2": entity("E2", daysAgo(5), 5),
		"E3": entity("E3", daysAgo(5), 5),
		"E4": entity("E4", daysAgo(1), 3),
		"E5": entity("E5", daysAgo(1), 3),
	}
	return &fixture{
		entities: &fakeEntities{
			entities: entities,
			relations: []models.Relationship{
				{ID: "rel-12", Source: "E1", Target: "E2", Type: "related"},
				{ID: "rel-35", Source: "E3", Target: "E5", Type: "related"},
			},
		},
		vectors: &fakeVectors{neighbors: map[string][]models.SimilarMatch{
			"E1": {
				{EntityID: "E2", Distance: 0.1},
				{EntityID: "E3", Distance: 0.25},
				{EntityID: "E5", Distance: 0.6},
			},
		}},
		graph: &fakeGraph{
			nodes: []string{"E1", "E2", "E3", "E4", "E5"},
			edges: []fakeEdge{
				{source: "E2", target: "E4", typ: "causal", props: map[string]any{"weight": 0.4}},
				{source: "E1", target: "E2", typ: "related", props: map[string]any{"weight": 0.9}},
			},
		},
		metrics: metrics.NewCollector(),
	}
}

func scenarioConfig() models.LookupConfig {
	cfg := models.DefaultLookupConfig()
	cfg.SimilarityThreshold = 0.3
	cfg.GraphHops = 1
	return cfg
}
