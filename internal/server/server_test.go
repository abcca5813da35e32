package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/cosmos-go/internal/models"
	"github.com/raphaelgruber/cosmos-go/internal/resilience"
	"github.com/raphaelgruber/cosmos-go/internal/retrieval"
)

type lookupCall struct {
	userID, entityID string
	cfg              models.LookupConfig
}

type fakeLookup struct {
	mu    sync.Mutex
	calls []lookupCall
	err   error
	resp  *models.LookupResponse
}

func (f *fakeLookup) Lookup(_ context.Context, userID, entityID string, cfg models.LookupConfig) (*models.LookupResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, lookupCall{userID, entityID, cfg})
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &models.LookupResponse{
		FoundEntity:   models.Entity{ID: entityID, Title: "seed"},
		Graph:         models.LookupGraph{Nodes: []models.LookupNode{{Entity: models.Entity{ID: entityID}, IsSeed: true}}},
		TotalEntities: 1,
	}, nil
}

func (f *fakeLookup) last() lookupCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type fakeProjector struct {
	err         error
	invalidated []string
}

func (f *fakeProjector) Projection(_ context.Context, userID string) (*models.GraphStructure, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.GraphStructure{
		Nodes: []models.GraphNode{{ID: "e1"}, {ID: "e2"}},
		Edges: []models.GraphEdge{{ID: "1", Source: "e1", Target: "e2", Type: "related"}},
	}, nil
}

func (f *fakeProjector) Invalidate(userID string) bool {
	f.invalidated = append(f.invalidated, userID)
	return userID == "u1"
}

func testServer(l Lookuper, p Projector, mutate ...func(*Options)) http.Handler {
	opts := Options{
		Defaults: models.DefaultLookupConfig(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, m := range mutate {
		m(&opts)
	}
	return New(l, p, opts).Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestGetLookup(t *testing.T) {
	l := &fakeLookup{}
	h := testServer(l, &fakeProjector{})

	rec := do(t, h, http.MethodGet, "/api/v1/lookup/e1?graphHops=2&enableGraphHops=false&similarityThreshold=0.3", "", map[string]string{userHeader: "u1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp models.LookupResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "e1", resp.FoundEntity.ID)

	call := l.last()
	assert.Equal(t, "u1", call.userID)
	assert.Equal(t, "e1", call.entityID)
	assert.Equal(t, 2, call.cfg.GraphHops)
	assert.False(t, call.cfg.EnableGraphHops)
	assert.Equal(t, 0.3, call.cfg.SimilarityThreshold)
	assert.Equal(t, models.DefaultLookupConfig().TotalEntityLimit, call.cfg.TotalEntityLimit, "unset params keep defaults")
}

func TestGetLookupUserFromQuery(t *testing.T) {
	l := &fakeLookup{}
	h := testServer(l, &fakeProjector{})

	rec := do(t, h, http.MethodGet, "/api/v1/lookup/e1?userId=u2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u2", l.last().userID)

	rec = do(t, h, http.MethodGet, "/api/v1/lookup/e1?userId=u2", "", map[string]string{userHeader: "u9"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u9", l.last().userID, "header wins")
}

func TestPostLookup(t *testing.T) {
	l := &fakeLookup{}
	h := testServer(l, &fakeProjector{})

	body := `{"entityId":"e7","userId":"u1","config":{"totalEntityLimit":5}}`
	rec := do(t, h, http.MethodPost, "/api/v1/lookup", body, map[string]string{"Content-Type": "application/json"})
	require.Equal(t, http.StatusOK, rec.Code)

	call := l.last()
	assert.Equal(t, "e7", call.entityID)
	assert.Equal(t, 5, call.cfg.TotalEntityLimit)
	assert.Equal(t, models.DefaultLookupConfig().GraphHops, call.cfg.GraphHops)

	rec = do(t, h, http.MethodPost, "/api/v1/lookup", `{"entityId":"e7","userId":"u1","config":null}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.DefaultLookupConfig(), l.last().cfg)
}

func TestLookupBadRequests(t *testing.T) {
	h := testServer(&fakeLookup{}, &fakeProjector{})

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		code   string
	}{
		{"missing user", http.MethodGet, "/api/v1/lookup/e1", "", "missing_user"},
		{"bad int", http.MethodGet, "/api/v1/lookup/e1?userId=u1&graphHops=two", "", "invalid_parameter"},
		{"bad bool", http.MethodGet, "/api/v1/lookup/e1?userId=u1&enableGraphHops=maybe", "", "invalid_parameter"},
		{"bad float", http.MethodGet, "/api/v1/lookup/e1?userId=u1&similarityThreshold=x", "", "invalid_parameter"},
		{"bad body", http.MethodPost, "/api/v1/lookup", "{", "invalid_body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Error)
		})
	}
}

func TestLookupErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", fmt.Errorf("seed: %w", retrieval.ErrEntityNotFound), http.StatusNotFound, "entity_not_found"},
		{"no similar", retrieval.ErrNoSimilarEntities, http.StatusUnprocessableEntity, "no_similar_entities"},
		{"invalid config", fmt.Errorf("%w: graphHops must be at most 3", models.ErrInvalidConfig), http.StatusBadRequest, "invalid_config"},
		{"store down", &resilience.StoreUnavailableError{Store: "vector", Op: "find_similar", Err: errors.New("dial")}, http.StatusServiceUnavailable, "store_unavailable"},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := testServer(&fakeLookup{err: tt.err}, &fakeProjector{})
			rec := do(t, h, http.MethodGet, "/api/v1/lookup/e1", "", map[string]string{userHeader: "u1"})
			assert.Equal(t, tt.status, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tt.code, body.Error)
			if tt.code == "store_unavailable" {
				assert.Equal(t, "vector", body.Store)
			}
		})
	}
}

func TestLookupRateLimit(t *testing.T) {
	h := testServer(&fakeLookup{}, &fakeProjector{}, func(o *Options) {
		o.LookupRate = 0.001
		o.LookupBurst = 2
	})
	headers := map[string]string{userHeader: "u1"}

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/v1/lookup/e1", "", headers).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/v1/lookup/e1", "", headers).Code)

	rec := do(t, h, http.MethodGet, "/api/v1/lookup/e1", "", headers)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	other := do(t, h, http.MethodGet, "/api/v1/lookup/e1", "", map[string]string{userHeader: "u2"})
	assert.Equal(t, http.StatusOK, other.Code, "buckets are per user")
}

func TestLookupUnencodableResponse(t *testing.T) {
	l := &fakeLookup{resp: &models.LookupResponse{
		FoundEntity:     models.Entity{ID: "e1"},
		SimilarEntities: []models.SimilarEntity{{Entity: models.Entity{ID: "e2"}, Distance: math.NaN()}},
	}}
	h := testServer(l, &fakeProjector{})

	rec := do(t, h, http.MethodGet, "/api/v1/lookup/e1", "", map[string]string{userHeader: "u1"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal", decodeError(t, rec).Error)
}

func TestProjection(t *testing.T) {
	p := &fakeProjector{}
	h := testServer(&fakeLookup{}, p)

	rec := do(t, h, http.MethodGet, "/api/v1/projection/u1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var g models.GraphStructure
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &g))
	assert.Len(t, g.Nodes, 2)
	assert.Len(t, g.Edges, 1)

	rec = do(t, h, http.MethodDelete, "/api/v1/projection/u1/cache", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"invalidated":true}`, rec.Body.String())
	assert.Equal(t, []string{"u1"}, p.invalidated)
}

func TestProjectionStoreFailure(t *testing.T) {
	p := &fakeProjector{err: &resilience.StoreUnavailableError{Store: "graph", Op: "active_graph", Err: errors.New("down")}}
	h := testServer(&fakeLookup{}, p)

	rec := do(t, h, http.MethodGet, "/api/v1/projection/u1", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "graph", decodeError(t, rec).Store)
}

func TestHealthAndMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "cosmos_uptime_seconds 1\n")
	})
	h := testServer(&fakeLookup{}, &fakeProjector{}, func(o *Options) { o.Metrics = metrics })

	rec := do(t, h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cosmos_uptime_seconds")
}

func TestRequestID(t *testing.T) {
	h := testServer(&fakeLookup{}, &fakeProjector{})

	rec := do(t, h, http.MethodGet, "/health", "", nil)
	assert.Len(t, rec.Header().Get(requestIDHeader), 36)

	rec = do(t, h, http.MethodGet, "/health", "", map[string]string{requestIDHeader: "abc-123"})
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))
}

func TestCORSPreflight(t *testing.T) {
	h := testServer(&fakeLookup{}, &fakeProjector{}, func(o *Options) {
		o.CORSOrigins = []string{"http://ui.test"}
	})

	rec := do(t, h, http.MethodOptions, "/api/v1/lookup/e1", "", map[string]string{
		"Origin":                        "http://ui.test",
		"Access-Control-Request-Method": http.MethodGet,
	})
	assert.Equal(t, "http://ui.test", rec.Header().Get("Access-Control-Allow-Origin"))
}
