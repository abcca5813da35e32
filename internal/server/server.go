// Package server exposes lookup and projection over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/raphaelgruber/cosmos-go/internal/models"
)

// Lookuper runs seed-centric lookups.
type Lookuper interface {
	Lookup(ctx context.Context, userID, entityID string, cfg models.LookupConfig) (*models.LookupResponse, error)
}

// Projector serves whole-graph projections.
type Projector interface {
	Projection(ctx context.Context, userID string) (*models.GraphStructure, error)
	Invalidate(userID string) bool
}

// Options configures the HTTP surface.
type Options struct {
	// Defaults fill every lookup parameter the request leaves out.
	Defaults    models.LookupConfig
	CORSOrigins []string
	// LookupRate is the per-user lookup budget per second. Zero disables it.
	LookupRate  float64
	LookupBurst int
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Logger  *slog.Logger
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	lookup     Lookuper
	projection Projector
	opts       Options
	limiter    *userLimiter
	logger     *slog.Logger
}

// New creates a Server.
func New(lookup Lookuper, projection Projector, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		lookup:     lookup,
		projection: projection,
		opts:       opts,
		logger:     logger.With("component", "http"),
	}
	if opts.LookupRate > 0 {
		burst := opts.LookupBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = newUserLimiter(rate.Limit(opts.LookupRate), burst, limiterCapacity, limiterIdleTTL)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(LoggingMiddleware(s.logger))

	origins := s.opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", userHeader, requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/lookup", func(r chi.Router) {
			r.Post("/", s.postLookup)
			r.Get("/{entityID}", s.getLookup)
		})
		r.Get("/projection/{userID}", s.getProjection)
		r.Delete("/projection/{userID}/cache", s.invalidateProjection)
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
