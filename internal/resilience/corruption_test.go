package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/hyperengineering/lattice/internal/types"
)

type fakeCorruptionStore struct {
	dangling   []types.Relation
	deleted    []types.Relation
	findErr    error
	deleteErr  error
	deleteCall int
}

func (f *fakeCorruptionStore) FindDanglingRelations(ctx context.Context) ([]types.Relation, error) {
	return f.dangling, f.findErr
}

func (f *fakeCorruptionStore) DeleteRelations(ctx context.Context, relations []types.Relation) (int64, error) {
	f.deleteCall++
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	f.deleted = append(f.deleted, relations...)
	return int64(len(relations)), nil
}

func TestDetectAndRepairCorruption_Clean(t *testing.T) {
	g := New()
	s := &fakeCorruptionStore{}

	taken, err := g.DetectAndRepairCorruption(context.Background(), "work", s)
	if err != nil {
		t.Fatalf("DetectAndRepairCorruption() error = %v", err)
	}
	if len(taken) != 0 {
		t.Errorf("got %d actions on a clean graph, want 0", len(taken))
	}
	if s.deleteCall != 0 {
		t.Error("nothing should be deleted on a clean graph")
	}
}

func TestDetectAndRepairCorruption_RemovesDangling(t *testing.T) {
	g := New()
	s := &fakeCorruptionStore{
		dangling: []types.Relation{
			{From: "alice", To: "ghost", RelationType: "knows"},
			{From: "ghost", To: "bob", RelationType: "manages"},
		},
	}

	taken, err := g.DetectAndRepairCorruption(context.Background(), "work", s)
	if err != nil {
		t.Fatalf("DetectAndRepairCorruption() error = %v", err)
	}
	if len(taken) != 2 {
		t.Fatalf("got %d actions, want 2", len(taken))
	}
	for _, a := range taken {
		if a.Type != types.RecoveryRepair {
			t.Errorf("action type = %s, want repair", a.Type)
		}
	}
	if len(s.deleted) != 2 {
		t.Errorf("deleted %d relations, want 2", len(s.deleted))
	}

	var repairs int
	for _, a := range g.RecoveryActions() {
		if a.Type == types.RecoveryRepair {
			repairs++
		}
	}
	if repairs != 2 {
		t.Errorf("guard recorded %d repair actions, want 2", repairs)
	}
	if g.Stats().Repairs != 2 {
		t.Errorf("stats repairs = %d, want 2", g.Stats().Repairs)
	}
}

func TestDetectAndRepairCorruption_DetectError(t *testing.T) {
	g := New()
	s := &fakeCorruptionStore{findErr: errors.New("disk I/O error")}

	if _, err := g.DetectAndRepairCorruption(context.Background(), "work", s); err == nil {
		t.Fatal("expected detection error to surface")
	}
}

func TestDetectAndRepairCorruption_RepairError(t *testing.T) {
	g := New()
	s := &fakeCorruptionStore{
		dangling:  []types.Relation{{From: "a", To: "b", RelationType: "r"}},
		deleteErr: errors.New("database is locked"),
	}

	taken, err := g.DetectAndRepairCorruption(context.Background(), "work", s)
	if err == nil {
		t.Fatal("expected repair failure to surface")
	}
	if len(taken) != 0 {
		t.Errorf("got %d actions despite failed repair, want 0", len(taken))
	}
}
