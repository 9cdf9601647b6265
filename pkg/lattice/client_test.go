package lattice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-key")
}

func TestHealth(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %q, want /health", r.URL.Path)
		}
		json.NewEncoder(w).Encode(HealthStatus{Status: "healthy", Version: "1.0.0", Contexts: 2})
	})

	status, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if status.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", status.Status)
	}
	if status.Contexts != 2 {
		t.Errorf("Contexts = %d, want 2", status.Contexts)
	}
}

func TestRoute_SendsAuthAndBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q, want Bearer test-key", got)
		}
		var body struct {
			Operation string   `json:"operation"`
			Payload   *Payload `json:"payload"`
			Context   string   `json:"context"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Operation != "create_entities" {
			t.Errorf("operation = %q, want create_entities", body.Operation)
		}
		if body.Context != "work" {
			t.Errorf("context = %q, want work", body.Context)
		}
		json.NewEncoder(w).Encode(RouteResult{ResolvedContext: "work"})
	})

	payload := &Payload{Entities: []Entity{{Name: "Acme", EntityType: "organization"}}}
	result, err := c.Route(context.Background(), "create_entities", payload, "work")
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if result.ResolvedContext != "work" {
		t.Errorf("ResolvedContext = %q, want work", result.ResolvedContext)
	}
}

func TestRoute_AmbiguityError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMultipleChoices)
		json.NewEncoder(w).Encode(RouteResult{
			Ambiguity: &Ambiguity{
				Reason: "scores too close to call",
				Candidates: []ContextScore{
					{Context: "work", Confidence: 0.40},
					{Context: "personal", Confidence: 0.38},
				},
			},
		})
	})

	_, err := c.Route(context.Background(), "create_entities", &Payload{}, "")
	var ambErr *AmbiguityError
	if !errors.As(err, &ambErr) {
		t.Fatalf("Route() error = %v, want *AmbiguityError", err)
	}
	if len(ambErr.Candidates) != 2 {
		t.Errorf("Candidates = %d, want 2", len(ambErr.Candidates))
	}
	if ambErr.Reason != "scores too close to call" {
		t.Errorf("Reason = %q", ambErr.Reason)
	}
}

func TestSearch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "acme deadline" {
			t.Errorf("q = %q, want 'acme deadline'", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"matches": []SearchMatch{
				{Entity: Entity{Name: "Acme"}, Score: 2, Context: "work"},
			},
		})
	})

	matches, err := c.Search(context.Background(), "acme deadline")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 1 || matches[0].Context != "work" {
		t.Errorf("matches = %+v, want one match from work", matches)
	}
}

func TestListContexts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"contexts": []ContextSummary{
				{Name: "default", Current: true},
				{Name: "work", EntityCount: 3},
			},
		})
	})

	summaries, err := c.ListContexts(context.Background())
	if err != nil {
		t.Fatalf("ListContexts() error = %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("len = %d, want 2", len(summaries))
	}
	if !summaries[0].Current {
		t.Error("first summary should be current")
	}
}

func TestCreateContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		var params CreateContextParams
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if params.Name != "work" {
			t.Errorf("name = %q, want work", params.Name)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(ContextSummary{Name: params.Name})
	})

	summary, err := c.CreateContext(context.Background(), CreateContextParams{Name: "work"})
	if err != nil {
		t.Fatalf("CreateContext() error = %v", err)
	}
	if summary.Name != "work" {
		t.Errorf("Name = %q, want work", summary.Name)
	}
}

func TestDeleteContext_ForceQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %q, want DELETE", r.Method)
		}
		if got := r.URL.Query().Get("force"); got != "true" {
			t.Errorf("force = %q, want true", got)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := c.DeleteContext(context.Background(), "work", true); err != nil {
		t.Fatalf("DeleteContext() error = %v", err)
	}
}

func TestProblemDecoding(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{
			"type":   "https://lattice.dev/errors/not-found",
			"title":  "Not Found",
			"status": 404,
			"detail": `context "missing" not found`,
		})
	})

	_, err := c.ListContexts(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", apiErr.Status)
	}
	if apiErr.Detail == "" {
		t.Error("Detail should carry the problem detail")
	}
}

func TestSnapshotContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/contexts/work/snapshot" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Snapshot{
			Context:  "work",
			Uploaded: true,
			URL:      "https://s3.example.com/work/snapshots/x.db?sig=abc",
		})
	})

	snap, err := c.SnapshotContext(context.Background(), "work")
	if err != nil {
		t.Fatalf("SnapshotContext() error = %v", err)
	}
	if !snap.Uploaded || snap.URL == "" {
		t.Errorf("snapshot = %+v, want uploaded with url", snap)
	}
}

func TestPruneTransactions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("olderThanDays"); got != "7" {
			t.Errorf("olderThanDays = %q, want 7", got)
		}
		json.NewEncoder(w).Encode(map[string]int{"removed": 4})
	})

	removed, err := c.PruneTransactions(context.Background(), 7)
	if err != nil {
		t.Fatalf("PruneTransactions() error = %v", err)
	}
	if removed != 4 {
		t.Errorf("removed = %d, want 4", removed)
	}
}
