package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/raphaelgruber/cosmos-go/internal/models"
	"github.com/raphaelgruber/cosmos-go/internal/resilience"
	"github.com/raphaelgruber/cosmos-go/internal/retrieval"
)

const userHeader = "X-User-ID"

// maxBodyBytes bounds POST lookup bodies.
const maxBodyBytes = 64 << 10

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Store   string `json:"store,omitempty"`
}

// lookupRequest is the POST /lookup body. Config fields left out keep the
// server defaults.
type lookupRequest struct {
	EntityID string               `json:"entityId"`
	UserID   string               `json:"userId"`
	Config   *models.LookupConfig `json:"config"`
}

func (s *Server) getLookup(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entityID")
	userID := userFrom(r, r.URL.Query().Get("userId"))

	cfg, err := s.configFromQuery(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}
	s.runLookup(w, r, userID, entityID, cfg)
}

func (s *Server) postLookup(w http.ResponseWriter, r *http.Request) {
	cfg := s.opts.Defaults
	req := lookupRequest{Config: &cfg}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid_body", "request body must be a JSON lookup request")
		return
	}
	if req.Config == nil {
		req.Config = &cfg
	}
	s.runLookup(w, r, userFrom(r, req.UserID), req.EntityID, *req.Config)
}

func (s *Server) runLookup(w http.ResponseWriter, r *http.Request, userID, entityID string, cfg models.LookupConfig) {
	if userID == "" {
		s.respondError(w, http.StatusBadRequest, "missing_user", "a user id is required via "+userHeader+" or userId")
		return
	}
	if s.limiter != nil && !s.limiter.Allow(userID) {
		w.Header().Set("Retry-After", "1")
		s.respondError(w, http.StatusTooManyRequests, "rate_limited", "too many lookups, slow down")
		return
	}

	resp, err := s.lookup.Lookup(r.Context(), userID, entityID, cfg)
	if err != nil {
		s.handleError(w, r, err, "user_id", userID, "entity_id", entityID)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) getProjection(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	g, err := s.projection.Projection(r.Context(), userID)
	if err != nil {
		s.handleError(w, r, err, "user_id", userID)
		return
	}
	s.respondJSON(w, http.StatusOK, g)
}

func (s *Server) invalidateProjection(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	s.respondJSON(w, http.StatusOK, map[string]bool{"invalidated": s.projection.Invalidate(userID)})
}

// configFromQuery overlays query parameters on the server defaults.
func (s *Server) configFromQuery(r *http.Request) (models.LookupConfig, error) {
	cfg := s.opts.Defaults
	q := r.URL.Query()

	if v := q.Get("similarityThreshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, fmt.Errorf("similarityThreshold: %q is not a number", v)
		}
		cfg.SimilarityThreshold = f
	}
	if v := q.Get("enableGraphHops"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("enableGraphHops: %q is not a boolean", v)
		}
		cfg.EnableGraphHops = b
	}
	ints := []struct {
		name string
		dst  *int
	}{
		{"graphHops", &cfg.GraphHops},
		{"semanticSimilarLimit", &cfg.SemanticSimilarLimit},
		{"totalEntityLimit", &cfg.TotalEntityLimit},
	}
	for _, p := range ints {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("%s: %q is not an integer", p.name, v)
		}
		*p.dst = n
	}
	return cfg, nil
}

// handleError maps service errors to status codes.
func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error, attrs ...any) {
	var unavailable *resilience.StoreUnavailableError

	switch {
	case errors.Is(err, models.ErrInvalidConfig):
		s.respondError(w, http.StatusBadRequest, "invalid_config", err.Error())
	case errors.Is(err, retrieval.ErrEntityNotFound):
		s.respondError(w, http.StatusNotFound, "entity_not_found", err.Error())
	case errors.Is(err, retrieval.ErrNoSimilarEntities):
		s.respondError(w, http.StatusUnprocessableEntity, "no_similar_entities", err.Error())
	case errors.As(err, &unavailable):
		s.logger.Error("store unavailable", append(attrs, "store", unavailable.Store, "error", err)...)
		s.respondJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error:   "store_unavailable",
			Message: fmt.Sprintf("%s store is unavailable", unavailable.Store),
			Store:   unavailable.Store,
		})
	case errors.Is(err, context.Canceled):
		// client went away; nothing useful to write
		s.logger.Debug("request cancelled", attrs...)
	case errors.Is(err, context.DeadlineExceeded):
		s.respondError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		s.logger.Error("request failed", append(attrs, "path", r.URL.Path, "error", err)...)
		s.respondError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

// respondJSON encodes before writing the status so an unencodable payload
// becomes a 500 instead of a 200 with a truncated body.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to encode response", "error", err)
		status = http.StatusInternalServerError
		body, _ = json.Marshal(errorResponse{Error: "internal", Message: "failed to encode response"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

func (s *Server) respondError(w http.ResponseWriter, status int, code, message string) {
	s.respondJSON(w, status, errorResponse{Error: code, Message: message})
}

// userFrom prefers the X-User-ID header over the fallback parameter.
func userFrom(r *http.Request, fallback string) string {
	if id := r.Header.Get(userHeader); id != "" {
		return id
	}
	return fallback
}
