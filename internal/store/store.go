package store

import (
	"context"

	"github.com/hyperengineering/lattice/internal/types"
)

// Store defines the interface contract for one context's graph storage.
type Store interface {
	CreateEntities(ctx context.Context, entities []types.Entity) ([]types.Entity, error)
	CreateRelations(ctx context.Context, relations []types.Relation) ([]types.Relation, error)
	AddObservations(ctx context.Context, sets []types.ObservationSet) ([]types.ObservationSet, error)
	DeleteEntities(ctx context.Context, names []string) (int64, error)
	DeleteRelations(ctx context.Context, relations []types.Relation) (int64, error)
	DeleteObservations(ctx context.Context, deletions []types.ObservationDeletion) (int64, error)
	SearchNodes(ctx context.Context, query string) ([]types.SearchMatch, error)
	OpenNodes(ctx context.Context, names []string) (*types.KnowledgeGraph, error)
	ReadGraph(ctx context.Context) (*types.KnowledgeGraph, error)
	ExistsByName(ctx context.Context, name string) (bool, error)
	ListEntityNames(ctx context.Context) ([]string, error)
	FindDanglingRelations(ctx context.Context) ([]types.Relation, error)
	CountEntities(ctx context.Context) (int64, error)
	Snapshot(ctx context.Context, destPath string) error
	Close() error
}
