package retrieval

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/raphaelgruber/cosmos-go/internal/models"
)

// ProjectionCache holds whole-graph projections per user. It is created once
// per process, passed to the components that need it, and only cleared by
// expiry or an explicit Invalidate/Purge. A nil cache is valid and caches
// nothing.
//
// Cached structures are shared; callers must not mutate them.
type ProjectionCache struct {
	lru *expirable.LRU[string, *models.GraphStructure]
}

// NewProjectionCache returns a cache of at most size users with the given
// TTL, or nil when size is not positive.
func NewProjectionCache(size int, ttl time.Duration) *ProjectionCache {
	if size <= 0 {
		return nil
	}
	return &ProjectionCache{lru: expirable.NewLRU[string, *models.GraphStructure](size, nil, ttl)}
}

// Get returns the cached projection for a user.
func (c *ProjectionCache) Get(userID string) (*models.GraphStructure, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(userID)
}

// Add stores a projection.
func (c *ProjectionCache) Add(userID string, g *models.GraphStructure) {
	if c == nil || g == nil {
		return
	}
	c.lru.Add(userID, g)
}

// Invalidate drops the projection of a single user. It reports whether an
// entry was present.
func (c *ProjectionCache) Invalidate(userID string) bool {
	if c == nil {
		return false
	}
	return c.lru.Remove(userID)
}

// Purge drops every cached projection.
func (c *ProjectionCache) Purge() {
	if c == nil {
		return
	}
	c.lru.Purge()
}

// Len returns the number of cached projections.
func (c *ProjectionCache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
