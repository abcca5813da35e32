// Package client provides an HTTP client for the cosmos server.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/cosmos-go/internal/models"
)

// Client talks to the cosmos REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client.
// If baseURL is empty, uses COSMOS_SERVER_URL or defaults to localhost:8484.
// Timeout can be configured via COSMOS_CLIENT_TIMEOUT (default 30s).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("COSMOS_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8484"
	}

	timeout := 30 * time.Second
	if t := os.Getenv("COSMOS_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
	Store   string `json:"store,omitempty"`
}

func (e *APIError) Error() string {
	if e.Store != "" {
		return fmt.Sprintf("%s (%d): %s [store=%s]", e.Code, e.Status, e.Message, e.Store)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// LookupParams overrides server lookup defaults. Nil fields are not sent.
type LookupParams struct {
	SimilarityThreshold  *float64
	GraphHops            *int
	EnableGraphHops      *bool
	SemanticSimilarLimit *int
	TotalEntityLimit     *int
}

func (p LookupParams) query(userID string) url.Values {
	q := url.Values{}
	q.Set("userId", userID)
	if p.SimilarityThreshold != nil {
		q.Set("similarityThreshold", strconv.FormatFloat(*p.SimilarityThreshold, 'f', -1, 64))
	}
	if p.GraphHops != nil {
		q.Set("graphHops", strconv.Itoa(*p.GraphHops))
	}
	if p.EnableGraphHops != nil {
		q.Set("enableGraphHops", strconv.FormatBool(*p.EnableGraphHops))
	}
	if p.SemanticSimilarLimit != nil {
		q.Set("semanticSimilarLimit", strconv.Itoa(*p.SemanticSimilarLimit))
	}
	if p.TotalEntityLimit != nil {
		q.Set("totalEntityLimit", strconv.Itoa(*p.TotalEntityLimit))
	}
	return q
}

// Lookup runs a seed-centric lookup.
func (c *Client) Lookup(ctx context.Context, userID, entityID string, p LookupParams) (*models.LookupResponse, error) {
	path := "/api/v1/lookup/" + url.PathEscape(entityID) + "?" + p.query(userID).Encode()
	var out models.LookupResponse
	if err := c.do(ctx, http.MethodGet, path, userID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Projection fetches the active graph of a user.
func (c *Client) Projection(ctx context.Context, userID string) (*models.GraphStructure, error) {
	var out models.GraphStructure
	if err := c.do(ctx, http.MethodGet, "/api/v1/projection/"+url.PathEscape(userID), userID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// InvalidateProjection drops the cached projection of a user.
func (c *Client) InvalidateProjection(ctx context.Context, userID string) (bool, error) {
	var out struct {
		Invalidated bool `json:"invalidated"`
	}
	if err := c.do(ctx, http.MethodDelete, "/api/v1/projection/"+url.PathEscape(userID)+"/cache", userID, &out); err != nil {
		return false, err
	}
	return out.Invalidated, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", "", nil)
}

func (c *Client) do(ctx context.Context, method, path, userID string, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(body, apiErr) != nil || apiErr.Code == "" {
			apiErr.Code = "http_error"
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return apiErr
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
