package retrieval

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/raphaelgruber/cosmos-go/internal/models"
	"github.com/raphaelgruber/cosmos-go/internal/reconcile"
	"github.com/raphaelgruber/cosmos-go/internal/resilience"
)

func testGuard(store string) *resilience.Guard {
	return resilience.NewGuard(store, time.Second, resilience.DefaultBreakerConfig(), resilience.Hooks{}, nil)
}

// fakeVectors maps entity id -> internal key, and key -> neighbours.
// With overfetch set it ignores the limit, like a store returning extra rows.
type fakeVectors struct {
	keys      map[string]string
	neighbors map[string][]models.SimilarMatch
	err       error
	overfetch bool
}

func (f *fakeVectors) ResolveVectorKey(ctx context.Context, userID, entityID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.keys[entityID], nil
}

func (f *fakeVectors) NearestByKey(ctx context.Context, userID, key string, limit int) ([]models.SimilarMatch, error) {
	if f.err != nil {
		return nil, f.err
	}
	hits := f.neighbors[key]
	if !f.overfetch && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

type fakeEdge struct {
	id     int64
	source string
	target string
	typ    string
	props  map[string]any
}

// fakeGraph is an in-memory graph keyed by external id. Internal ids are
// assigned from the node's position so tests exercise reconciliation.
type fakeGraph struct {
	mu           sync.Mutex
	nodes        []string
	edges        []fakeEdge
	neighborsErr error
	relsErr      error
	calls        int
}

func (g *fakeGraph) internalID(ext string) int64 {
	for i, id := range g.nodes {
		if id == ext {
			return int64(1000 + i)
		}
	}
	return -1
}

func (g *fakeGraph) node(ext string) *reconcile.Node {
	return &reconcile.Node{
		InternalID: g.internalID(ext),
		Labels:     []string{"Concept"},
		Props:      map[string]any{"id": ext, "user_id": "u1"},
	}
}

func (g *fakeGraph) Neighbors(ctx context.Context, userID string, seedIDs []string, hops, perSeedLimit int) ([]string, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.neighborsErr != nil {
		return nil, g.neighborsErr
	}
	isSeed := map[string]bool{}
	for _, s := range seedIDs {
		isSeed[s] = true
	}
	var out []string
	seen := map[string]bool{}
	for _, seed := range seedIDs {
		frontier := []string{seed}
		visited := map[string]bool{seed: true}
		var found []string
		for depth := 0; depth < hops; depth++ {
			var next []string
			for _, cur := range frontier {
				for _, e := range g.edges {
					var other string
					switch cur {
					case e.source:
						other = e.target
					case e.target:
						other = e.source
					default:
						continue
					}
					if visited[other] {
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
		if perSeedLimit > 0 && len(found) > perSeedLimit {
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
	if g.relsErr != nil {
		return nil, g.relsErr
	}
	in := map[string]bool{}
	for _, id := range ids {
		in[id] = true
	}
	var recs []reconcile.Record
	for _, e := range g.edges {
		if in[e.source] && in[e.target] {
			recs = append(recs, g.record(e))
		}
	}
	return recs, nil
}

func (g *fakeGraph) ActiveGraph(ctx context.Context, userID string) ([]reconcile.Record, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.relsErr != nil {
		return nil, g.relsErr
	}
	var recs []reconcile.Record
	for _, n := range g.nodes {
		recs = append(recs, reconcile.Record{Start: g.node(n)})
	}
	for _, e := range g.edges {
		recs = append(recs, g.record(e))
	}
	return recs, nil
}

func (g *fakeGraph) record(e fakeEdge) reconcile.Record {
	return reconcile.Record{
		Start: g.node(e.source),
		Rel: &reconcile.Relationship{
			InternalID: e.id,
			StartID:    g.internalID(e.source),
			EndID:      g.internalID(e.target),
			Type:       e.typ,
			Props:      e.props,
		},
		End: g.node(e.target),
	}
}
