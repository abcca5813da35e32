package server

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	// limiterCapacity bounds how many user buckets are kept at once.
	limiterCapacity = 10_000
	// limiterIdleTTL drops a bucket once its user stops sending requests.
	limiterIdleTTL = 10 * time.Minute
)

// userLimiter holds one token bucket per user. Buckets live in an expiring
// LRU keyed by the client-supplied user id, so forged ids cannot grow it
// without bound. An evicted user starts again with a full bucket.
type userLimiter struct {
	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

func newUserLimiter(limit rate.Limit, burst, capacity int, idleTTL time.Duration) *userLimiter {
	return &userLimiter{
		limiters: expirable.NewLRU[string, *rate.Limiter](capacity, nil, idleTTL),
		limit:    limit,
		burst:    burst,
	}
}

// Allow reports whether the user may issue another request now.
func (l *userLimiter) Allow(userID string) bool {
	return l.get(userID).Allow()
}

// Len returns the number of retained buckets.
func (l *userLimiter) Len() int {
	return l.limiters.Len()
}

func (l *userLimiter) get(userID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters.Get(userID)
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
	}
	// Re-adding refreshes the expiry, which makes the TTL an idle timeout.
	l.limiters.Add(userID, limiter)
	return limiter
}
