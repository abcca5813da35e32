//go:build integration

package entitydb

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/raphaelgruber/cosmos-go/internal/models"
)

var testDB *Client

// TestMain starts one Postgres container for the package.
func TestMain(m *testing.M) {
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "cosmos",
				"POSTGRES_PASSWORD": "cosmos",
				"POSTGRES_DB":       "cosmos",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start Postgres container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	testDB, err = NewClient(ctx, Config{
		DSN: fmt.Sprintf("postgres://cosmos:cosmos@%s:%s/cosmos?sslmode=disable", host, port.Port()),
	}, nil)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	if err := testDB.CreateSchema(ctx); err != nil {
		log.Fatalf("Failed to create schema: %v", err)
	}

	code := m.Run()

	_ = testDB.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func seed(t *testing.T, ctx context.Context) {
	t.Helper()
	require.NoError(t, testDB.WipeUser(ctx, "u1"))
	require.NoError(t, testDB.WipeUser(ctx, "u2"))

	created := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	entities := []models.Entity{
		{ID: "e1", UserID: "u1", Type: models.EntityTypeConcept, Title: "one", CreatedAt: &created, Position: &models.Position{X: 1, Y: 2, Z: 3}},
		{ID: "e2", UserID: "u1", Type: models.EntityTypeMemoryUnit, Title: "two", Status: models.StatusActive},
		{ID: "e3", UserID: "u1", Type: models.EntityTypeConcept, Title: "three", Status: models.StatusMerged},
		{ID: "x1", UserID: "u2", Type: models.EntityTypeConcept, Title: "foreign"},
	}
	for _, e := range entities {
		require.NoError(t, testDB.SaveEntity(ctx, e))
	}

	w := 0.3
	rels := []models.Relationship{
		{ID: "r12", Source: "e1", Target: "e2", Type: "related", Weight: &w},
		{ID: "r23", Source: "e2", Target: "e3", Type: "causal"},
	}
	for _, r := range rels {
		_, err := testDB.SaveRelationship(ctx, "u1", r)
		require.NoError(t, err)
	}
}

func TestGetEntity(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	seed(t, ctx)

	e, err := testDB.GetEntity(ctx, "u1", "e1")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "one", e.Title)
	assert.Equal(t, &models.Position{X: 1, Y: 2, Z: 3}, e.Position)
	require.NotNil(t, e.CreatedAt)
	assert.True(t, e.IsActive())

	missing, err := testDB.GetEntity(ctx, "u1", "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	foreign, err := testDB.GetEntity(ctx, "u1", "x1")
	require.NoError(t, err)
	assert.Nil(t, foreign, "entities are user scoped")
}

func TestGetEntities(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	seed(t, ctx)

	all, err := testDB.GetEntities(ctx, "u1", []string{"e3", "e1", "e2", "x1", "missing"})
	require.NoError(t, err)
	ids := make([]string, 0, len(all))
	for _, e := range all {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"e1", "e2", "e3"}, ids)

	active, err := testDB.GetEntitiesByStatus(ctx, "u1", []string{"e1", "e2", "e3"}, models.StatusActive)
	require.NoError(t, err)
	assert.Len(t, active, 2, "null status counts as active")

	merged, err := testDB.GetEntitiesByStatus(ctx, "u1", []string{"e1", "e2", "e3"}, models.StatusMerged)
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Equal(t, "e3", merged[0].ID)

	empty, err := testDB.GetEntities(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRelationshipsAmong(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	seed(t, ctx)

	rels, err := testDB.RelationshipsAmong(ctx, "u1", []string{"e1", "e2"})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "r12", rels[0].ID)
	assert.Equal(t, 0.3, rels[0].EffectiveWeight())
	assert.Equal(t, models.OriginRelational, rels[0].Origin)

	rels, err = testDB.RelationshipsAmong(ctx, "u1", []string{"e1", "e2", "e3"})
	require.NoError(t, err)
	require.Len(t, rels, 2)
	assert.Nil(t, rels[1].Weight)
	assert.Equal(t, models.DefaultEdgeWeight, rels[1].EffectiveWeight())

	none, err := testDB.RelationshipsAmong(ctx, "u2", []string{"e1", "e2"})
	require.NoError(t, err)
	assert.Empty(t, none)
}
