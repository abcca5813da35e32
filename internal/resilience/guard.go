// Package resilience wraps backing-store calls with a per-call timeout, a
// single retry on timeout and a per-store circuit breaker.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// ErrTimeout marks a store call that exceeded its deadline on every attempt.
var ErrTimeout = errors.New("store call timed out")

// StoreUnavailableError reports a failing backing store.
type StoreUnavailableError struct {
	Store string
	Op    string
	Err   error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("%s store unavailable (%s): %v", e.Store, e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a store timeout after retry.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// BreakerConfig configures the circuit breaker of a single store.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	OpenTimeout      time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig trips after 60% failures over at least 5 requests.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         60 * time.Second,
		OpenTimeout:      30 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// Hooks receive guard events, typically for metrics.
type Hooks struct {
	OnRetry       func(store, op string)
	OnTimeout     func(store, op string)
	OnStateChange func(store string, to gobreaker.State)
}

// Guard protects calls to one backing store.
type Guard struct {
	store   string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	hooks   Hooks
	logger  *slog.Logger
}

// NewGuard creates a guard for the named store.
func NewGuard(store string, timeout time.Duration, cfg BreakerConfig, hooks Hooks, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("store", store)

	g := &Guard{
		store:   store,
		timeout: timeout,
		hooks:   hooks,
		logger:  logger,
	}

	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        store,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "from", from.String(), "to", to.String())
			if hooks.OnStateChange != nil {
				hooks.OnStateChange(name, to)
			}
		},
		IsSuccessful: func(err error) bool {
			// A caller going away says nothing about the store.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return g
}

// Store returns the guarded store's name.
func (g *Guard) Store() string {
	return g.store
}

// Do runs fn under the guard. fn receives a context bounded by the guard's
// timeout. A timeout is retried once unless ctx itself is done. Failures are
// returned as *StoreUnavailableError; cancellation of ctx is returned as is.
func (g *Guard) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = g.attempt(ctx, fn)
		if lastErr == nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !errors.Is(lastErr, context.DeadlineExceeded) {
			break
		}
		if attempt == 0 {
			g.logger.Warn("store call timed out, retrying", "op", op, "timeout", g.timeout)
			if g.hooks.OnRetry != nil {
				g.hooks.OnRetry(g.store, op)
			}
			continue
		}
		if g.hooks.OnTimeout != nil {
			g.hooks.OnTimeout(g.store, op)
		}
		lastErr = fmt.Errorf("%w after %s: %w", ErrTimeout, g.timeout, lastErr)
	}

	return &StoreUnavailableError{Store: g.store, Op: op, Err: lastErr}
}

func (g *Guard) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, fn(callCtx)
	})
	return err
}

// Call is Do for functions that return a value.
func Call[T any](ctx context.Context, g *Guard, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := g.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
