// Package lattice is a Go client for the Lattice HTTP API.
package lattice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// APIError is a server-side error decoded from an RFC 7807 problem response.
type APIError struct {
	Status int
	Title  string
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("lattice: %s (%d): %s", e.Title, e.Status, e.Detail)
	}
	return fmt.Sprintf("lattice: %s (%d)", e.Title, e.Status)
}

// AmbiguityError is returned when the server declines to route an
// operation and asks the caller to pick a context.
type AmbiguityError struct {
	Reason     string
	Candidates []ContextScore
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("lattice: ambiguous routing: %s (%d candidates)", e.Reason, len(e.Candidates))
}

// Client talks to a Lattice server.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health checks server health. It does not require authentication.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var out HealthStatus
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Route submits an operation for routing. An empty contextName lets the
// server pick; a non-empty one bypasses scoring. When the server cannot
// decide, the error is an *AmbiguityError.
func (c *Client) Route(ctx context.Context, operation string, payload *Payload, contextName string) (*RouteResult, error) {
	body := map[string]any{
		"operation": operation,
		"payload":   payload,
	}
	if contextName != "" {
		body["context"] = contextName
	}

	var out RouteResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/route", body, &out); err != nil {
		return nil, err
	}
	if out.Ambiguity != nil {
		return nil, &AmbiguityError{
			Reason:     out.Ambiguity.Reason,
			Candidates: out.Ambiguity.Candidates,
		}
	}
	return &out, nil
}

// Search queries every context and returns merged, ranked matches.
func (c *Client) Search(ctx context.Context, query string) ([]SearchMatch, error) {
	var out struct {
		Matches []SearchMatch `json:"matches"`
	}
	path := "/api/v1/search?q=" + url.QueryEscape(query)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Matches, nil
}

// ListContexts returns every registered context.
func (c *Client) ListContexts(ctx context.Context) ([]ContextSummary, error) {
	var out struct {
		Contexts []ContextSummary `json:"contexts"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/contexts", nil, &out); err != nil {
		return nil, err
	}
	return out.Contexts, nil
}

// CreateContextParams configures a new context.
type CreateContextParams struct {
	Name        string   `json:"name"`
	Patterns    []string `json:"patterns,omitempty"`
	EntityTypes []string `json:"entityTypes,omitempty"`
	Description string   `json:"description,omitempty"`
}

// CreateContext registers a new context.
func (c *Client) CreateContext(ctx context.Context, params CreateContextParams) (*ContextSummary, error) {
	var out ContextSummary
	if err := c.do(ctx, http.MethodPost, "/api/v1/contexts", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateContextParams patches a context. Nil fields are left unchanged.
type UpdateContextParams struct {
	Patterns    *[]string `json:"patterns,omitempty"`
	EntityTypes *[]string `json:"entityTypes,omitempty"`
	Description *string   `json:"description,omitempty"`
}

// UpdateContext applies a partial update to a context.
func (c *Client) UpdateContext(ctx context.Context, name string, params UpdateContextParams) (*ContextSummary, error) {
	var out ContextSummary
	path := "/api/v1/contexts/" + url.PathEscape(name)
	if err := c.do(ctx, http.MethodPatch, path, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteContext deletes a context. Force deletes non-empty contexts.
func (c *Client) DeleteContext(ctx context.Context, name string, force bool) error {
	path := "/api/v1/contexts/" + url.PathEscape(name)
	if force {
		path += "?force=true"
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// SwitchContext makes the named context current.
func (c *Client) SwitchContext(ctx context.Context, name string) error {
	path := "/api/v1/contexts/" + url.PathEscape(name) + "/switch"
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// SnapshotContext asks the server to snapshot the named context and,
// when remote storage is configured, upload it. The returned snapshot
// carries a pre-signed download URL when one was minted.
func (c *Client) SnapshotContext(ctx context.Context, name string) (*Snapshot, error) {
	var out Snapshot
	path := "/api/v1/contexts/" + url.PathEscape(name) + "/snapshot"
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SnapshotDownloadURL fetches a pre-signed download URL for the newest
// uploaded snapshot of the named context.
func (c *Client) SnapshotDownloadURL(ctx context.Context, name string) (*Snapshot, error) {
	var out Snapshot
	path := "/api/v1/contexts/" + url.PathEscape(name) + "/snapshot"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PruneTransactions removes terminal transaction logs older than the
// given number of days and reports how many were removed.
func (c *Client) PruneTransactions(ctx context.Context, olderThanDays int) (int, error) {
	var out struct {
		Removed int `json:"removed"`
	}
	path := "/api/v1/resilience/transactions?olderThanDays=" + strconv.Itoa(olderThanDays)
	if err := c.do(ctx, http.MethodDelete, path, nil, &out); err != nil {
		return 0, err
	}
	return out.Removed, nil
}

// do sends an authenticated request and decodes the response into out.
// Non-2xx responses (other than 300) are decoded as problem documents.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// 300 Multiple Choices still carries a decodable route result.
	if resp.StatusCode >= 400 {
		return decodeProblem(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeProblem turns an RFC 7807 response into an *APIError.
func decodeProblem(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Title: http.StatusText(resp.StatusCode)}

	var problem struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&problem); err == nil {
		if problem.Title != "" {
			apiErr.Title = problem.Title
		}
		apiErr.Detail = problem.Detail
	}
	return apiErr
}
