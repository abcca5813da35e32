package service

import (
	"context"
	"testing"
	"time"

	"github.com/raphaelgruber/cosmos-go/internal/metrics"
	"github.com/raphaelgruber/cosmos-go/internal/models"
	"github.com/raphaelgruber/cosmos-go/internal/retrieval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjection(t *testing.T) {
	f := scenarioFixture()
	cache := retrieval.NewProjectionCache(8, time.Minute)
	m := metrics.NewCollector()
	svc := NewProjectionService(
		retrieval.NewStructureAssembler(f.graph, guard("graph", time.Second), cache, testLogger),
		m, testLogger)

	g, err := svc.Projection(context.Background(), "u1")
	require.NoError(t, err)

	assert.Len(t, g.Nodes, 5)
	require.Len(t, g.Edges, 2)
	assert.Equal(t, "E2", g.Edges[0].Source)
	assert.Equal(t, "E4", g.Edges[0].Target)
	assert.Equal(t, int64(1), m.Snapshot().Operations[metrics.OpGraphStructure].Count)

	assert.True(t, svc.Invalidate("u1"))
	assert.False(t, svc.Invalidate("u1"))
}

func TestProjectionRequiresUser(t *testing.T) {
	f := scenarioFixture()
	svc := NewProjectionService(
		retrieval.NewStructureAssembler(f.graph, guard("graph", time.Second), nil, testLogger),
		nil, testLogger)

	_, err := svc.Projection(context.Background(), "")
	assert.ErrorIs(t, err, models.ErrInvalidConfig)
}
