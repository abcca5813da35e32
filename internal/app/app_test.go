package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/cosmos-go/internal/config"
	"github.com/raphaelgruber/cosmos-go/internal/models"
	"github.com/raphaelgruber/cosmos-go/internal/reconcile"
	"github.com/raphaelgruber/cosmos-go/internal/resilience"
	"github.com/raphaelgruber/cosmos-go/internal/scoring"
)

type memEntities map[string]models.Entity

func (m memEntities) GetEntity(_ context.Context, userID, id string) (*models.Entity, error) {
	e, ok := m[id]
	if !ok || e.UserID != userID {
		return nil, nil
	}
	return &e, nil
}

func (m memEntities) GetEntities(_ context.Context, userID string, ids []string) ([]models.Entity, error) {
	var out []models.Entity
	for _, id := range ids {
		if e, ok := m[id]; ok && e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m memEntities) RelationshipsAmong(context.Context, string, []string) ([]models.Relationship, error) {
	return nil, nil
}

type memVectors struct {
	matches []models.SimilarMatch
	err     error
}

func (v memVectors) ResolveVectorKey(_ context.Context, _, entityID string) (string, error) {
	if v.err != nil {
		return "", v.err
	}
	return "vec:" + entityID, nil
}

func (v memVectors) NearestByKey(context.Context, string, string, int) ([]models.SimilarMatch, error) {
	return v.matches, v.err
}

type memGraph struct{}

func (memGraph) Neighbors(context.Context, string, []string, int, int) ([]string, error) {
	return []string{"e3"}, nil
}

func (memGraph) RelationshipsAmong(context.Context, string, []string) ([]reconcile.Record, error) {
	return []reconcile.Record{{
		Start: &reconcile.Node{InternalID: int64(1), Props: map[string]any{"id": "e2"}},
		Rel:   &reconcile.Relationship{InternalID: int64(9), StartID: int64(1), EndID: int64(2), Type: "related"},
		End:   &reconcile.Node{InternalID: int64(2), Props: map[string]any{"id": "e3"}},
	}}, nil
}

func (memGraph) ActiveGraph(ctx context.Context, userID string) ([]reconcile.Record, error) {
	return memGraph{}.RelationshipsAmong(ctx, userID, nil)
}

func testConfig() config.Config {
	return config.Config{
		RelationalTimeout:   time.Second,
		VectorTimeout:       time.Second,
		GraphTimeout:        time.Second,
		Breaker:             resilience.DefaultBreakerConfig(),
		Scoring:             scoring.DefaultWeights(),
		Lookup:              models.DefaultLookupConfig(),
		PerSeedLimit:        5,
		ProjectionCacheTTL:  time.Minute,
		ProjectionCacheSize: 8,
	}
}

func testStores(vectors memVectors) Stores {
	now := time.Now()
	return Stores{
		Entities: memEntities{
			"e1": {ID: "e1", UserID: "u1", Title: "seed", CreatedAt: &now},
			"e2": {ID: "e2", UserID: "u1", Title: "similar", CreatedAt: &now},
			"e3": {ID: "e3", UserID: "u1", Title: "connected", CreatedAt: &now},
		},
		Vectors: vectors,
		Graph:   memGraph{},
	}
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestServicesEndToEnd(t *testing.T) {
	cfg := testConfig()
	svc := NewServices(testStores(memVectors{matches: []models.SimilarMatch{{EntityID: "e2", Distance: 0.1}}}), cfg, quiet)
	h := svc.Handler(cfg, quiet)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/lookup/e1", nil)
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp models.LookupResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "e1", resp.FoundEntity.ID)
	assert.Equal(t, 3, resp.TotalEntities)
	require.Len(t, resp.Graph.Edges, 1)
	assert.Equal(t, "e2", resp.Graph.Edges[0].Source)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `cosmos_operations_total{op="lookup"} 1`)
	assert.Contains(t, body, `cosmos_breaker_state{store="graph"} 0`)
}

func TestServicesProjectionCache(t *testing.T) {
	cfg := testConfig()
	svc := NewServices(testStores(memVectors{}), cfg, quiet)
	ctx := context.Background()

	g, err := svc.Projection.Projection(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 2)
	assert.Equal(t, 1, svc.Cache.Len())
	assert.True(t, svc.Projection.Invalidate("u1"))
}

func TestServicesCacheDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.ProjectionCacheTTL = 0
	svc := NewServices(testStores(memVectors{}), cfg, quiet)
	assert.Nil(t, svc.Cache)
}

func TestServicesStoreUnavailable(t *testing.T) {
	cfg := testConfig()
	svc := NewServices(testStores(memVectors{err: errors.New("connection refused")}), cfg, quiet)

	_, err := svc.Lookup.Lookup(context.Background(), "u1", "e1", cfg.Lookup)
	var unavailable *resilience.StoreUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, StoreVector, unavailable.Store)
}
