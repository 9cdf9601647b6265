package types

import "time"

// Operation identifies a routed knowledge-graph operation.
type Operation string

const (
	OpCreateEntities     Operation = "create_entities"
	OpCreateRelations    Operation = "create_relations"
	OpAddObservations    Operation = "add_observations"
	OpSearchNodes        Operation = "search_nodes"
	OpOpenNodes          Operation = "open_nodes"
	OpReadGraph          Operation = "read_graph"
	OpDeleteEntities     Operation = "delete_entities"
	OpDeleteRelations    Operation = "delete_relations"
	OpDeleteObservations Operation = "delete_observations"
)

// OperationClass groups operations for fallback selection.
type OperationClass string

const (
	ClassCreate OperationClass = "create"
	ClassSearch OperationClass = "search"
	ClassUpdate OperationClass = "update"
	ClassDelete OperationClass = "delete"
)

// Class returns the operation class used to select a degradation fallback.
func (op Operation) Class() OperationClass {
	switch op {
	case OpCreateEntities, OpCreateRelations:
		return ClassCreate
	case OpSearchNodes, OpOpenNodes, OpReadGraph:
		return ClassSearch
	case OpAddObservations:
		return ClassUpdate
	case OpDeleteEntities, OpDeleteRelations, OpDeleteObservations:
		return ClassDelete
	default:
		return ClassSearch
	}
}

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

// SearchMatch is one ranked hit from a text search.
type SearchMatch struct {
	Entity  Entity  `json:"entity"`
	Score   float64 `json:"score"`
	Context string  `json:"context,omitempty"`
}

// Payload is the closed scoring/routing input: every routed operation is
// expressed as some subset of these fields. Each scorer signal extracts
// from it as a total function.
type Payload struct {
	Entities     []Entity              `json:"entities,omitempty"`
	Relations    []Relation            `json:"relations,omitempty"`
	Observations []ObservationSet      `json:"observations,omitempty"`
	Deletions    []ObservationDeletion `json:"deletions,omitempty"`
	Names        []string              `json:"names,omitempty"`
	Query        string                `json:"query,omitempty"`
}

// EntityNames returns every entity name referenced anywhere in the payload.
func (p *Payload) EntityNames() []string {
	var names []string
	for _, e := range p.Entities {
		names = append(names, e.Name)
	}
	for _, o := range p.Observations {
		names = append(names, o.EntityName)
	}
	for _, d := range p.Deletions {
		names = append(names, d.EntityName)
	}
	names = append(names, p.Names...)
	return names
}

// ContextScore is the scorer's verdict for one candidate context.
// Ephemeral: produced per scoring call, never persisted.
type ContextScore struct {
	Context    string             `json:"context"`
	Confidence float64            `json:"confidence"`
	Breakdown  map[string]float64 `json:"breakdown"`
	Evidence   []string           `json:"evidence,omitempty"`
}

// Ambiguity is returned instead of a routed result when confidence is too
// low or the top two candidates are too close to call.
type Ambiguity struct {
	Reason     string         `json:"reason"`
	Candidates []ContextScore `json:"candidates"`
}

// RouteResult is the outcome of routing one operation. Confidence and
// LowConfidence are set only when the scorer picked the context; a
// low-confidence route executed anyway, but the caller may want to
// surface the uncertainty.
type RouteResult struct {
	Result          any        `json:"result,omitempty"`
	ResolvedContext string     `json:"resolvedContext,omitempty"`
	Confidence      float64    `json:"confidence,omitempty"`
	LowConfidence   bool       `json:"lowConfidence,omitempty"`
	Ambiguity       *Ambiguity `json:"ambiguity,omitempty"`
}

// ContextSummary describes one registered context.
type ContextSummary struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Patterns    []string `json:"patterns,omitempty"`
	EntityTypes []string `json:"entityTypes,omitempty"`
	EntityCount int64    `json:"entityCount"`
	Current     bool     `json:"current"`
}

// TransactionStatus is the lifecycle state of a guarded transaction.
type TransactionStatus string

const (
	TxPending    TransactionStatus = "pending"
	TxCommitted  TransactionStatus = "committed"
	TxRolledBack TransactionStatus = "rolled_back"
)

// Terminal reports whether the status has no outgoing transitions.
func (s TransactionStatus) Terminal() bool {
	return s == TxCommitted || s == TxRolledBack
}

// Transaction records one guarded operation.
type Transaction struct {
	ID             string            `json:"id"`
	Operation      string            `json:"operation"`
	InputChecksum  string            `json:"inputChecksum"`
	ResultChecksum string            `json:"resultChecksum,omitempty"`
	Status         TransactionStatus `json:"status"`
	Reason         string            `json:"reason,omitempty"`
	StartedAt      time.Time         `json:"startedAt"`
	CompletedAt    *time.Time        `json:"completedAt,omitempty"`
}

// RecoveryActionType classifies a recovery event.
type RecoveryActionType string

const (
	RecoveryRollback RecoveryActionType = "rollback"
	RecoveryRepair   RecoveryActionType = "repair"
	RecoveryDegrade  RecoveryActionType = "degrade"
)

// RecoveryAction is an append-only audit record of a resilience event.
type RecoveryAction struct {
	Type          RecoveryActionType `json:"type"`
	TransactionID string             `json:"transactionId,omitempty"`
	Reason        string             `json:"reason"`
	Timestamp     time.Time          `json:"timestamp"`
}

// IntegrityResult is the outcome of a checksum validation.
type IntegrityResult struct {
	IsValid  bool     `json:"isValid"`
	Checksum string   `json:"checksum"`
	Issues   []string `json:"issues,omitempty"`
}

// ResilienceStats aggregates guard activity for the stats endpoint.
type ResilienceStats struct {
	TotalTransactions int64 `json:"totalTransactions"`
	Committed         int64 `json:"committed"`
	RolledBack        int64 `json:"rolledBack"`
	Pending           int64 `json:"pending"`
	Degradations      int64 `json:"degradations"`
	Repairs           int64 `json:"repairs"`
	Retries           int64 `json:"retries"`
}

// CacheStats aggregates one cache instance's counters.
type CacheStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
	Capacity  int   `json:"capacity"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Contexts int    `json:"contexts"`
}
