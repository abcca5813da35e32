// Package service provides the lookup and projection operations.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/cosmos-go/internal/assembler"
	"github.com/raphaelgruber/cosmos-go/internal/metrics"
	"github.com/raphaelgruber/cosmos-go/internal/models"
	"github.com/raphaelgruber/cosmos-go/internal/resilience"
	"github.com/raphaelgruber/cosmos-go/internal/retrieval"
	"github.com/raphaelgruber/cosmos-go/internal/scoring"
	"github.com/raphaelgruber/cosmos-go/internal/tracing"
)

// Warnings attached to degraded lookups.
const (
	WarnNotIndexed      = "seed entity has no embedding; results come from graph expansion only"
	WarnExpansionFailed = "graph expansion unavailable; results are semantic matches only"
	WarnHydrationFailed = "entity attributes unavailable; candidates carry identifiers only"
	WarnRelationalEdges = "relational edges unavailable; using traversal edges only"
)

// Degradation stages, as counted by the metrics collector.
const (
	stageExpansion        = "expansion"
	stageHydration        = "hydration"
	stageRelationalEdges  = "relational_edges"
	stageSemanticFallback = "semantic_not_indexed"
)

const defaultPerSeedLimit = 10

// EntityStore is the relational store of entity attributes and edges.
type EntityStore interface {
	// GetEntity returns the entity, or nil when it does not exist.
	GetEntity(ctx context.Context, userID, entityID string) (*models.Entity, error)
	// GetEntities returns the entities that exist among ids.
	GetEntities(ctx context.Context, userID string, ids []string) ([]models.Entity, error)
	// RelationshipsAmong returns relationships whose endpoints are both in ids.
	RelationshipsAmong(ctx context.Context, userID string, ids []string) ([]models.Relationship, error)
}

// LookupDeps are the collaborators of a LookupService.
type LookupDeps struct {
	Entities     EntityStore
	EntityGuard  *resilience.Guard
	Semantic     *retrieval.SemanticSearch
	Expander     *retrieval.Expander
	Scorer       *scoring.Engine
	Metrics      *metrics.Collector
	PerSeedLimit int
	Logger       *slog.Logger
}

// LookupService runs the retrieval pipeline for a seed entity.
type LookupService struct {
	entities     EntityStore
	guard        *resilience.Guard
	semantic     *retrieval.SemanticSearch
	expander     *retrieval.Expander
	scorer       *scoring.Engine
	metrics      *metrics.Collector
	perSeedLimit int
	logger       *slog.Logger
}

// NewLookupService creates a lookup service.
func NewLookupService(d LookupDeps) *LookupService {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := d.Metrics
	if m == nil {
		m = metrics.NewCollector()
	}
	scorer := d.Scorer
	if scorer == nil {
		scorer = scoring.NewEngine(scoring.DefaultWeights())
	}
	perSeed := d.PerSeedLimit
	if perSeed <= 0 {
		perSeed = defaultPerSeedLimit
	}
	return &LookupService{
		entities:     d.Entities,
		guard:        d.EntityGuard,
		semantic:     d.Semantic,
		expander:     d.Expander,
		scorer:       scorer,
		metrics:      m,
		perSeedLimit: perSeed,
		logger:       logger.With("component", "lookup"),
	}
}

// Lookup retrieves, scores and assembles the neighbourhood of a seed entity.
func (s *LookupService) Lookup(ctx context.Context, userID, entityID string, cfg models.LookupConfig) (*models.LookupResponse, error) {
	start := time.Now()
	res, err := s.Retrieve(ctx, userID, entityID, cfg)
	s.metrics.RecordResult(metrics.OpLookup, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return BuildResponse(res), nil
}

// Retrieve runs the pipeline up to ranking and returns the intermediate
// result without assembling the node/edge payload.
func (s *LookupService) Retrieve(ctx context.Context, userID, entityID string, cfg models.LookupConfig) (*models.LookupResult, error) {
	if userID == "" || entityID == "" {
		return nil, fmt.Errorf("%w: user id and entity id are required", models.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracing.Start(ctx, "lookup.retrieve",
		attribute.String("cosmos.user.id", userID),
		attribute.String("cosmos.entity.id", entityID),
		attribute.Int("cosmos.lookup.hops", cfg.GraphHops),
		attribute.Bool("cosmos.lookup.expand", cfg.EnableGraphHops),
	)
	defer span.End()

	res, err := s.retrieve(ctx, userID, entityID, cfg)
	if err != nil {
		tracing.Fail(span, err)
		s.logStoreError(err, userID, entityID)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("cosmos.lookup.candidates", len(res.ScoredCandidates)),
		attribute.Int("cosmos.lookup.warnings", len(res.Warnings)),
	)
	return res, nil
}

func (s *LookupService) retrieve(ctx context.Context, userID, entityID string, cfg models.LookupConfig) (*models.LookupResult, error) {
	start := time.Now()
	res := &models.LookupResult{}

	// Seed fetch and semantic search are independent.
	var (
		seed     *models.Entity
		matches  []models.SimilarMatch
		semErr   error
		semantic time.Duration
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		seed, err = s.fetchSeed(gctx, userID, entityID)
		return err
	})
	g.Go(func() error {
		t := time.Now()
		matches, semErr = s.findSimilar(gctx, userID, entityID, cfg)
		semantic = time.Since(t)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	res.Seed = *seed
	res.Stats.SemanticSearchMs = semantic.Milliseconds()

	expansionSeeds := make([]string, 0, len(matches))
	switch {
	case errors.Is(semErr, retrieval.ErrNotIndexed):
		if !cfg.EnableGraphHops {
			return nil, retrieval.ErrNoSimilarEntities
		}
		res.Warnings = append(res.Warnings, WarnNotIndexed)
		s.metrics.IncDegradation(stageSemanticFallback)
		expansionSeeds = append(expansionSeeds, seed.ID)
	case semErr != nil:
		return nil, semErr
	case len(matches) == 0:
		return nil, retrieval.ErrNoSimilarEntities
	default:
		for _, m := range matches {
			expansionSeeds = append(expansionSeeds, m.EntityID)
		}
	}

	expansion := &retrieval.Expansion{}
	if cfg.EnableGraphHops {
		t := time.Now()
		exp, err := s.expand(ctx, userID, expansionSeeds, cfg.GraphHops)
		res.Stats.ExpansionMs = time.Since(t).Milliseconds()
		switch {
		case err == nil:
			expansion = exp
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			s.logger.Warn("graph expansion failed, continuing without it",
				"user_id", userID, "seed_id", entityID, "stage", stageExpansion, "error", err)
			res.Warnings = append(res.Warnings, WarnExpansionFailed)
			s.metrics.IncDegradation(stageExpansion)
		}
	}

	union := unionIDs(seed.ID, matches, expansion.ConnectedIDs)
	if len(union) == 0 {
		return nil, retrieval.ErrNoSimilarEntities
	}

	t := time.Now()
	hydrated, err := s.hydrate(ctx, userID, seed.ID, union)
	res.Stats.HydrationMs = time.Since(t).Milliseconds()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("entity hydration failed, using identifiers only",
			"user_id", userID, "seed_id", entityID, "stage", stageHydration, "error", err)
		res.Warnings = append(res.Warnings, WarnHydrationFailed)
		s.metrics.IncDegradation(stageHydration)
		hydrated = stubs(userID, union)
	}

	isConnected := make(map[string]bool, len(expansion.ConnectedIDs))
	for _, id := range expansion.ConnectedIDs {
		isConnected[id] = true
	}
	distance := make(map[string]float64, len(matches))
	for _, m := range matches {
		distance[m.EntityID] = m.Distance
	}

	kept := make([]string, 0, len(union))
	inputs := make([]scoring.Input, 0, len(union))
	for _, id := range union {
		e, ok := hydrated[id]
		if !ok || !e.IsActive() {
			continue
		}
		kept = append(kept, id)
		in := scoring.Input{Entity: e, IsGraphConnected: isConnected[id]}
		if d, ok := distance[id]; ok {
			in.IsSemanticMatch = true
			in.SemanticScore = models.SimilarMatch{EntityID: id, Distance: d}.Similarity()
			res.SemanticMatches = append(res.SemanticMatches, models.SemanticMatch{Entity: e, Distance: d})
		} else {
			res.GraphConnected = append(res.GraphConnected, id)
		}
		inputs = append(inputs, in)
	}

	relational, err := s.relationalEdges(ctx, userID, append(kept, seed.ID))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("relational edges unavailable, using traversal edges only",
			"user_id", userID, "seed_id", entityID, "stage", stageRelationalEdges, "error", err)
		res.Warnings = append(res.Warnings, WarnRelationalEdges)
		s.metrics.IncDegradation(stageRelationalEdges)
		relational = nil
	}
	res.MergedEdges = retrieval.MergeRelationships(relational, expansion.Relationships)

	if limit := cfg.TotalEntityLimit - 1; limit > 0 {
		res.ScoredCandidates = s.scorer.Rank(inputs, limit)
	} else {
		res.ScoredCandidates = []models.ScoredCandidate{}
	}

	res.Stats.SemanticMatches = len(res.SemanticMatches)
	res.Stats.GraphConnected = len(res.GraphConnected)
	res.Stats.RelationalEdges = len(relational)
	res.Stats.TraversalEdges = len(expansion.Relationships)
	res.Stats.Candidates = len(res.ScoredCandidates)
	res.Stats.DurationMs = time.Since(start).Milliseconds()

	s.logger.Debug("lookup retrieved",
		"user_id", userID, "seed_id", entityID,
		"semantic", res.Stats.SemanticMatches, "connected", res.Stats.GraphConnected,
		"candidates", res.Stats.Candidates, "warnings", len(res.Warnings),
		"duration_ms", res.Stats.DurationMs)

	return res, nil
}

func (s *LookupService) fetchSeed(ctx context.Context, userID, entityID string) (*models.Entity, error) {
	ctx, span := tracing.Start(ctx, "lookup.fetch_seed")
	defer span.End()

	start := time.Now()
	seed, err := resilience.Call(ctx, s.guard, "get_entity", func(ctx context.Context) (*models.Entity, error) {
		return s.entities.GetEntity(ctx, userID, entityID)
	})
	s.metrics.RecordResult(metrics.OpRelationalFetch, time.Since(start), err)
	if err != nil {
		tracing.Fail(span, err)
		return nil, fmt.Errorf("fetch seed: %w", err)
	}
	if seed == nil || !seed.IsActive() {
		return nil, retrieval.ErrEntityNotFound
	}
	return seed, nil
}

func (s *LookupService) findSimilar(ctx context.Context, userID, entityID string, cfg models.LookupConfig) ([]models.SimilarMatch, error) {
	ctx, span := tracing.Start(ctx, "lookup.semantic_search",
		attribute.Float64("cosmos.lookup.threshold", cfg.SimilarityThreshold),
		attribute.Int("cosmos.lookup.limit", cfg.SemanticSimilarLimit),
	)
	defer span.End()

	start := time.Now()
	matches, err := s.semantic.FindSimilar(ctx, userID, entityID, cfg.SimilarityThreshold, cfg.SemanticSimilarLimit)
	s.metrics.RecordResult(metrics.OpVectorSearch, time.Since(start), ignoreNotIndexed(err))
	if err != nil && !errors.Is(err, retrieval.ErrNotIndexed) {
		tracing.Fail(span, err)
	}
	span.SetAttributes(attribute.Int("cosmos.lookup.matches", len(matches)))
	return matches, err
}

func (s *LookupService) expand(ctx context.Context, userID string, seeds []string, hops int) (*retrieval.Expansion, error) {
	ctx, span := tracing.Start(ctx, "lookup.graph_expansion",
		attribute.Int("cosmos.lookup.expansion_seeds", len(seeds)),
	)
	defer span.End()

	start := time.Now()
	exp, err := s.expander.Expand(ctx, userID, seeds, hops, s.perSeedLimit)
	s.metrics.RecordResult(metrics.OpGraphTraverse, time.Since(start), err)
	if err != nil {
		tracing.Fail(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("cosmos.lookup.connected", len(exp.ConnectedIDs)),
		attribute.Int("cosmos.lookup.traversal_edges", len(exp.Relationships)),
	)
	return exp, nil
}

func (s *LookupService) hydrate(ctx context.Context, userID, seedID string, union []string) (map[string]models.Entity, error) {
	ctx, span := tracing.Start(ctx, "lookup.hydrate", attribute.Int("cosmos.lookup.ids", len(union)+1))
	defer span.End()

	ids := append(append(make([]string, 0, len(union)+1), union...), seedID)
	start := time.Now()
	entities, err := resilience.Call(ctx, s.guard, "get_entities", func(ctx context.Context) ([]models.Entity, error) {
		return s.entities.GetEntities(ctx, userID, ids)
	})
	s.metrics.RecordResult(metrics.OpRelationalFetch, time.Since(start), err)
	if err != nil {
		tracing.Fail(span, err)
		return nil, err
	}

	byID := make(map[string]models.Entity, len(entities))
	for _, e := range entities {
		if _, dup := byID[e.ID]; !dup {
			byID[e.ID] = e
		}
	}
	return byID, nil
}

func (s *LookupService) relationalEdges(ctx context.Context, userID string, ids []string) ([]models.Relationship, error) {
	ctx, span := tracing.Start(ctx, "lookup.relational_edges")
	defer span.End()

	start := time.Now()
	rels, err := resilience.Call(ctx, s.guard, "relationships_among", func(ctx context.Context) ([]models.Relationship, error) {
		return s.entities.RelationshipsAmong(ctx, userID, ids)
	})
	s.metrics.RecordResult(metrics.OpRelationalFetch, time.Since(start), err)
	if err != nil {
		tracing.Fail(span, err)
		return nil, err
	}
	return rels, nil
}

func (s *LookupService) logStoreError(err error, userID, entityID string) {
	var unavailable *resilience.StoreUnavailableError
	if errors.As(err, &unavailable) {
		s.logger.Error("lookup failed: store unavailable",
			"user_id", userID, "seed_id", entityID,
			"store", unavailable.Store, "stage", unavailable.Op, "error", unavailable.Err)
	}
}

// BuildResponse assembles the outbound payload from a retrieval result.
func BuildResponse(res *models.LookupResult) *models.LookupResponse {
	graph := assembler.Assemble(res)

	similar := make([]models.SimilarEntity, 0, len(res.SemanticMatches))
	connected := make([]models.Entity, 0, len(res.GraphConnected))
	ranked := make(map[string]bool, len(res.ScoredCandidates))
	for _, c := range res.ScoredCandidates {
		ranked[c.Entity.ID] = true
		if c.IsGraphConnected && !c.IsSemanticMatch {
			connected = append(connected, c.Entity)
		}
	}
	for _, m := range res.SemanticMatches {
		if !ranked[m.Entity.ID] {
			continue
		}
		sm := models.SimilarMatch{EntityID: m.Entity.ID, Distance: m.Distance}
		similar = append(similar, models.SimilarEntity{
			Entity:     m.Entity,
			Similarity: sm.Similarity(),
			Distance:   m.Distance,
		})
	}

	return &models.LookupResponse{
		FoundEntity:       res.Seed,
		SimilarEntities:   similar,
		ConnectedEntities: connected,
		Graph:             graph,
		TotalEntities:     len(graph.Nodes),
		Warnings:          res.Warnings,
		Stats:             res.Stats,
	}
}

// unionIDs returns semantic ids then connected ids, deduplicated, without
// the seed.
func unionIDs(seedID string, matches []models.SimilarMatch, connected []string) []string {
	seen := map[string]bool{seedID: true}
	out := make([]string, 0, len(matches)+len(connected))
	for _, m := range matches {
		if !seen[m.EntityID] {
			seen[m.EntityID] = true
			out = append(out, m.EntityID)
		}
	}
	for _, id := range connected {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func stubs(userID string, ids []string) map[string]models.Entity {
	out := make(map[string]models.Entity, len(ids))
	for _, id := range ids {
		out[id] = models.Entity{ID: id, UserID: userID}
	}
	return out
}

func ignoreNotIndexed(err error) error {
	if errors.Is(err, retrieval.ErrNotIndexed) {
		return nil
	}
	return err
}
