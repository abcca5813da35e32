package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/raphaelgruber/cosmos-go/internal/metrics"
	"github.com/raphaelgruber/cosmos-go/internal/models"
	"github.com/raphaelgruber/cosmos-go/internal/retrieval"
	"github.com/raphaelgruber/cosmos-go/internal/tracing"
)

// ProjectionService serves whole-graph projections of a user's entities.
type ProjectionService struct {
	structure *retrieval.StructureAssembler
	metrics   *metrics.Collector
	logger    *slog.Logger
}

// NewProjectionService creates a projection service.
func NewProjectionService(structure *retrieval.StructureAssembler, m *metrics.Collector, logger *slog.Logger) *ProjectionService {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NewCollector()
	}
	return &ProjectionService{
		structure: structure,
		metrics:   m,
		logger:    logger.With("component", "projection"),
	}
}

// Projection returns the active graph of userID.
func (s *ProjectionService) Projection(ctx context.Context, userID string) (*models.GraphStructure, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", models.ErrInvalidConfig)
	}

	ctx, span := tracing.Start(ctx, "projection.fetch", attribute.String("cosmos.user.id", userID))
	defer span.End()

	start := time.Now()
	g, err := s.structure.FetchGraphStructure(ctx, userID)
	s.metrics.RecordResult(metrics.OpGraphStructure, time.Since(start), err)
	if err != nil {
		tracing.Fail(span, err)
		s.logger.Error("projection failed", "user_id", userID, "stage", "graph_structure", "error", err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("cosmos.projection.nodes", len(g.Nodes)),
		attribute.Int("cosmos.projection.edges", len(g.Edges)),
	)
	return g, nil
}

// Invalidate drops the cached projection of userID and reports whether one
// was cached.
func (s *ProjectionService) Invalidate(userID string) bool {
	dropped := s.structure.Invalidate(userID)
	s.logger.Debug("projection cache invalidated", "user_id", userID, "dropped", dropped)
	return dropped
}
