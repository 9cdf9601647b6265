package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/lattice/internal/contexts"
	"github.com/hyperengineering/lattice/internal/resilience"
	"github.com/hyperengineering/lattice/internal/snapshot"
	"github.com/hyperengineering/lattice/internal/types"
)

// Handler implements the API handlers.
type Handler struct {
	manager  *contexts.Manager
	guard    *resilience.Guard
	uploader snapshot.Uploader
	apiKey   string
	version  string
}

// NewHandler creates a new Handler.
func NewHandler(m *contexts.Manager, g *resilience.Guard, u snapshot.Uploader, apiKey, version string) *Handler {
	return &Handler{
		manager:  m,
		guard:    g,
		uploader: u,
		apiKey:   apiKey,
		version:  version,
	}
}

// Health returns the health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := types.HealthResponse{
		Status:   "healthy",
		Version:  h.version,
		Contexts: len(h.manager.ContextNames()),
	}
	writeJSON(w, http.StatusOK, resp)
}

// RouteRequest is the body of POST /api/v1/route.
type RouteRequest struct {
	Operation types.Operation `json:"operation"`
	Payload   *types.Payload  `json:"payload"`
	Context   string          `json:"context,omitempty"`
}

// RouteOperation handles POST /api/v1/route.
func (h *Handler) RouteOperation(w http.ResponseWriter, r *http.Request) {
	var req RouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}
	if req.Operation == "" {
		WriteProblem(w, r, http.StatusBadRequest, "operation is required")
		return
	}

	result, err := h.manager.Route(r.Context(), req.Operation, req.Payload, req.Context)
	if err != nil {
		slog.Error("route failed",
			"operation", string(req.Operation),
			"context", req.Context,
			"error", err,
		)
		MapDomainError(w, r, err)
		return
	}

	status := http.StatusOK
	if result.Ambiguity != nil {
		// The caller must resolve the ambiguity; nothing was executed.
		status = http.StatusMultipleChoices
	}
	writeJSON(w, status, result)
}

// ListContexts handles GET /api/v1/contexts.
func (h *Handler) ListContexts(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.manager.ListContexts(r.Context())
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contexts": summaries})
}

// CreateContextRequest is the body of POST /api/v1/contexts.
type CreateContextRequest struct {
	Name        string   `json:"name"`
	Patterns    []string `json:"patterns,omitempty"`
	EntityTypes []string `json:"entityTypes,omitempty"`
	Description string   `json:"description,omitempty"`
}

// CreateContext handles POST /api/v1/contexts.
func (h *Handler) CreateContext(w http.ResponseWriter, r *http.Request) {
	var req CreateContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	summary, err := h.manager.CreateContext(r.Context(), req.Name, contexts.ContextOptions{
		Patterns:    req.Patterns,
		EntityTypes: req.EntityTypes,
		Description: req.Description,
	})
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

// UpdateContextRequest is the body of PATCH /api/v1/contexts/{name}.
// Absent fields are left unchanged.
type UpdateContextRequest struct {
	Patterns    *[]string `json:"patterns,omitempty"`
	EntityTypes *[]string `json:"entityTypes,omitempty"`
	Description *string   `json:"description,omitempty"`
}

// UpdateContext handles PATCH /api/v1/contexts/{name}.
func (h *Handler) UpdateContext(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req UpdateContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	summary, err := h.manager.UpdateContext(r.Context(), name, contexts.ContextPatch{
		Patterns:    req.Patterns,
		EntityTypes: req.EntityTypes,
		Description: req.Description,
	})
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// DeleteContext handles DELETE /api/v1/contexts/{name}.
func (h *Handler) DeleteContext(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	force := r.URL.Query().Get("force") == "true"

	if err := h.manager.DeleteContext(r.Context(), name, force); err != nil {
		MapDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SwitchContext handles POST /api/v1/contexts/{name}/switch.
func (h *Handler) SwitchContext(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := h.manager.SwitchContext(name); err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"current": name})
}

// SnapshotResponse is the body returned by the snapshot endpoints.
type SnapshotResponse struct {
	Context   string     `json:"context"`
	Uploaded  bool       `json:"uploaded"`
	URL       string     `json:"url,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// SnapshotContext handles POST /api/v1/contexts/{name}/snapshot: it
// writes a fresh snapshot of the context's database and, when remote
// storage is configured, uploads it and returns a download URL.
func (h *Handler) SnapshotContext(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	path, err := h.manager.SnapshotContext(r.Context(), name)
	if err != nil {
		MapDomainError(w, r, err)
		return
	}

	if err := h.uploader.Upload(r.Context(), name, path); err != nil {
		slog.Error("snapshot upload failed", "context", name, "error", err)
		WriteProblem(w, r, http.StatusBadGateway, "Snapshot created but upload failed")
		return
	}

	resp := SnapshotResponse{Context: name}
	url, expiry, err := h.uploader.PresignedURL(r.Context(), name)
	switch {
	case errors.Is(err, snapshot.ErrNotConfigured):
		// Local-only deployment: the snapshot exists on disk.
	case err != nil:
		slog.Error("snapshot presign failed", "context", name, "error", err)
		WriteProblem(w, r, http.StatusBadGateway, "Snapshot uploaded but signing the download URL failed")
		return
	default:
		resp.Uploaded = true
		resp.URL = url
		resp.ExpiresAt = &expiry
	}
	writeJSON(w, http.StatusCreated, resp)
}

// SnapshotDownloadURL handles GET /api/v1/contexts/{name}/snapshot: a
// pre-signed URL for the newest uploaded snapshot.
func (h *Handler) SnapshotDownloadURL(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	url, expiry, err := h.uploader.PresignedURL(r.Context(), name)
	switch {
	case errors.Is(err, snapshot.ErrNotConfigured):
		WriteProblem(w, r, http.StatusConflict, "Snapshot storage is not configured")
		return
	case errors.Is(err, snapshot.ErrNoSnapshot):
		WriteProblem(w, r, http.StatusNotFound, fmt.Sprintf("No snapshot uploaded for context %q", name))
		return
	case err != nil:
		slog.Error("snapshot presign failed", "context", name, "error", err)
		WriteProblem(w, r, http.StatusBadGateway, "Signing the download URL failed")
		return
	}
	writeJSON(w, http.StatusOK, SnapshotResponse{
		Context:   name,
		Uploaded:  true,
		URL:       url,
		ExpiresAt: &expiry,
	})
}

// SearchAll handles GET /api/v1/search?q=...
func (h *Handler) SearchAll(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		WriteProblem(w, r, http.StatusBadRequest, "q is required")
		return
	}

	matches, err := h.manager.SearchAll(r.Context(), query)
	if err != nil {
		slog.Error("search-all failed", "error", err)
		MapDomainError(w, r, err)
		return
	}
	if matches == nil {
		matches = []types.SearchMatch{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

// ResilienceStats handles GET /api/v1/resilience/stats.
func (h *Handler) ResilienceStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"resilience": h.guard.Stats(),
		"caches":     h.manager.CacheStats(),
	})
}

// TransactionLogs handles GET /api/v1/resilience/transactions.
func (h *Handler) TransactionLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			WriteProblem(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	logs := h.guard.TransactionLogs(limit)
	if logs == nil {
		logs = []types.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": logs})
}

// RecoveryActions handles GET /api/v1/resilience/recovery-actions.
func (h *Handler) RecoveryActions(w http.ResponseWriter, r *http.Request) {
	actions := h.guard.RecoveryActions()
	if actions == nil {
		actions = []types.RecoveryAction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
}

// PruneTransactions handles DELETE /api/v1/resilience/transactions.
func (h *Handler) PruneTransactions(w http.ResponseWriter, r *http.Request) {
	days := 30
	if raw := r.URL.Query().Get("olderThanDays"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			WriteProblem(w, r, http.StatusBadRequest, "olderThanDays must be a non-negative integer")
			return
		}
		days = parsed
	}

	removed := h.guard.ClearOldLogs(days)
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
