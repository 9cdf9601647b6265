package lattice

import (
	"encoding/json"
	"time"
)

// Entity is a named node in the knowledge graph.
type Entity struct {
	Name         string   `json:"name"`
	EntityType   string   `json:"entityType"`
	Observations []string `json:"observations,omitempty"`
}

// Relation is a directed, typed edge between two entities.
type Relation struct {
	From         string `json:"from"`
	To           string `json:"to"`
	RelationType string `json:"relationType"`
}

// ObservationSet carries observations to attach to an existing entity.
type ObservationSet struct {
	EntityName string   `json:"entityName"`
	Contents   []string `json:"contents"`
}

// ObservationDeletion identifies observations to remove from an entity.
type ObservationDeletion struct {
	EntityName   string   `json:"entityName"`
	Observations []string `json:"observations"`
}

// KnowledgeGraph is the read view of a single context's graph.
type KnowledgeGraph struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
}

// Payload carries the operation-specific input for a routed operation.
type Payload struct {
	Entities     []Entity              `json:"entities,omitempty"`
	Relations    []Relation            `json:"relations,omitempty"`
	Observations []ObservationSet      `json:"observations,omitempty"`
	Deletions    []ObservationDeletion `json:"deletions,omitempty"`
	Names        []string              `json:"names,omitempty"`
	Query        string                `json:"query,omitempty"`
}

// ContextScore is the router's verdict for one candidate context.
type ContextScore struct {
	Context    string             `json:"context"`
	Confidence float64            `json:"confidence"`
	Breakdown  map[string]float64 `json:"breakdown"`
	Evidence   []string           `json:"evidence,omitempty"`
}

// Ambiguity explains why the router declined to pick a context.
type Ambiguity struct {
	Reason     string         `json:"reason"`
	Candidates []ContextScore `json:"candidates"`
}

// RouteResult is the outcome of routing one operation. Result is left
// raw because its shape depends on the operation.
type RouteResult struct {
	Result          json.RawMessage `json:"result,omitempty"`
	ResolvedContext string          `json:"resolvedContext,omitempty"`
	Confidence      float64         `json:"confidence,omitempty"`
	LowConfidence   bool            `json:"lowConfidence,omitempty"`
	Ambiguity       *Ambiguity      `json:"ambiguity,omitempty"`
}

// SearchMatch is one ranked hit from a text search, tagged with its
// source context.
type SearchMatch struct {
	Entity  Entity  `json:"entity"`
	Score   float64 `json:"score"`
	Context string  `json:"context,omitempty"`
}

// ContextSummary describes a registered context.
type ContextSummary struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Patterns    []string `json:"patterns,omitempty"`
	EntityTypes []string `json:"entityTypes,omitempty"`
	EntityCount int64    `json:"entityCount"`
	Current     bool     `json:"current"`
}

// Snapshot reports the outcome of a snapshot request. URL and
// ExpiresAt are set only when the server uploaded to remote storage.
type Snapshot struct {
	Context   string     `json:"context"`
	Uploaded  bool       `json:"uploaded"`
	URL       string     `json:"url,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// HealthStatus is the server health report.
type HealthStatus struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Contexts int    `json:"contexts"`
}
