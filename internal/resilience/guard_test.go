package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/hyperengineering/lattice/internal/types"
)

func TestBegin_RecordsChecksum(t *testing.T) {
	g := New()

	id, err := g.Begin("create_entities", map[string]string{"name": "alice"})
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	logs := g.TransactionLogs(1)
	if len(logs) != 1 {
		t.Fatalf("got %d logs, want 1", len(logs))
	}
	if logs[0].ID != id {
		t.Errorf("log id = %s, want %s", logs[0].ID, id)
	}
	if logs[0].Status != types.TxPending {
		t.Errorf("status = %s, want pending", logs[0].Status)
	}
	if logs[0].InputChecksum == "" {
		t.Error("input checksum should be recorded at begin")
	}
}

func TestCommit_TerminalState(t *testing.T) {
	g := New()

	id, _ := g.Begin("op", "input")
	if err := g.Commit(id, "result"); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	logs := g.TransactionLogs(1)
	if logs[0].Status != types.TxCommitted {
		t.Errorf("status = %s, want committed", logs[0].Status)
	}
	if logs[0].CompletedAt == nil {
		t.Error("completedAt should be set")
	}
	if logs[0].ResultChecksum == "" {
		t.Error("result checksum should be recorded at commit")
	}
}

func TestCommit_AfterRollback_StateError(t *testing.T) {
	g := New()

	id, _ := g.Begin("op", "input")
	if err := g.Rollback(id, "test"); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	err := g.Commit(id, "result")
	var stateErr *TransactionStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("Commit after Rollback error = %v, want TransactionStateError", err)
	}
	if stateErr.Status != types.TxRolledBack {
		t.Errorf("error status = %s, want rolled_back", stateErr.Status)
	}
}

func TestCommit_UnknownID_StateError(t *testing.T) {
	g := New()

	err := g.Commit("01JUNKNOWNID0000000000000B", "result")
	var stateErr *TransactionStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("Commit(unknown) error = %v, want TransactionStateError", err)
	}
}

func TestRollback_Twice_StateError(t *testing.T) {
	g := New()

	id, _ := g.Begin("op", "input")
	g.Rollback(id, "first")

	err := g.Rollback(id, "second")
	var stateErr *TransactionStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("second Rollback error = %v, want TransactionStateError", err)
	}
}

// Commit records the result checksum but deliberately does not compare
// it against the input checksum: inputs and results differ for every
// mutating operation, so commit-time re-verification stays advisory.
func TestCommit_DoesNotReverifyInputChecksum(t *testing.T) {
	g := New()

	id, _ := g.Begin("op", "some input")
	if err := g.Commit(id, "entirely different result"); err != nil {
		t.Fatalf("Commit() with differing result error = %v", err)
	}

	logs := g.TransactionLogs(1)
	if logs[0].InputChecksum == logs[0].ResultChecksum {
		t.Error("input and result checksums should differ for this data")
	}
}

func TestRollback_AppendsRecoveryAction(t *testing.T) {
	g := New()

	id, _ := g.Begin("op", "input")
	g.Rollback(id, "integrity violation")

	actions := g.RecoveryActions()
	if len(actions) != 1 {
		t.Fatalf("got %d recovery actions, want 1", len(actions))
	}
	if actions[0].Type != types.RecoveryRollback {
		t.Errorf("action type = %s, want rollback", actions[0].Type)
	}
	if actions[0].TransactionID != id {
		t.Errorf("action tx id = %s, want %s", actions[0].TransactionID, id)
	}
}

func TestReapStale_RollsBackOnlyStalePending(t *testing.T) {
	g := New(WithStaleAfter(time.Minute))

	base := time.Now()
	g.now = func() time.Time { return base }

	staleID, _ := g.Begin("op", 1)
	committedID, _ := g.Begin("op", 2)
	g.Commit(committedID, "done")

	g.now = func() time.Time { return base.Add(2 * time.Minute) }
	freshID, _ := g.Begin("op", 3)

	if reaped := g.ReapStale(); reaped != 1 {
		t.Fatalf("ReapStale() = %d, want 1", reaped)
	}

	for _, tx := range g.TransactionLogs(0) {
		switch tx.ID {
		case staleID:
			if tx.Status != types.TxRolledBack {
				t.Errorf("stale tx status = %s, want rolled_back", tx.Status)
			}
		case freshID:
			if tx.Status != types.TxPending {
				t.Errorf("fresh tx status = %s, want pending", tx.Status)
			}
		case committedID:
			if tx.Status != types.TxCommitted {
				t.Errorf("committed tx status = %s, want committed", tx.Status)
			}
		}
	}
}

func TestShutdown_RollsBackAllPending(t *testing.T) {
	g := New()

	g.Begin("op", 1)
	g.Begin("op", 2)
	done, _ := g.Begin("op", 3)
	g.Commit(done, "x")

	if rolled := g.Shutdown(); rolled != 2 {
		t.Errorf("Shutdown() = %d, want 2", rolled)
	}

	stats := g.Stats()
	if stats.Pending != 0 {
		t.Errorf("pending after shutdown = %d, want 0", stats.Pending)
	}
	if stats.RolledBack != 2 {
		t.Errorf("rolled back = %d, want 2", stats.RolledBack)
	}
}

func TestTransactionLogs_LimitNewestFirst(t *testing.T) {
	g := New()

	var ids []string
	for i := 0; i < 5; i++ {
		id, _ := g.Begin("op", i)
		ids = append(ids, id)
	}

	logs := g.TransactionLogs(2)
	if len(logs) != 2 {
		t.Fatalf("got %d logs, want 2", len(logs))
	}
	if logs[0].ID != ids[4] || logs[1].ID != ids[3] {
		t.Error("logs should be newest first")
	}
}

func TestClearOldLogs_KeepsPendingAndRecent(t *testing.T) {
	g := New()

	base := time.Now()
	g.now = func() time.Time { return base.Add(-48 * time.Hour) }
	oldDone, _ := g.Begin("op", 1)
	g.Commit(oldDone, "x")
	oldPending, _ := g.Begin("op", 2)

	g.now = func() time.Time { return base }
	recentDone, _ := g.Begin("op", 3)
	g.Commit(recentDone, "y")

	removed := g.ClearOldLogs(1)
	if removed != 1 {
		t.Errorf("ClearOldLogs() = %d, want 1 (only the old committed tx)", removed)
	}

	remaining := g.TransactionLogs(0)
	if len(remaining) != 2 {
		t.Fatalf("got %d remaining, want 2", len(remaining))
	}
	for _, tx := range remaining {
		if tx.ID == oldDone {
			t.Error("old committed tx should have been pruned")
		}
		if tx.ID == oldPending && tx.Status != types.TxPending {
			t.Error("old pending tx must survive pruning")
		}
	}
}

func TestStats_Counts(t *testing.T) {
	g := New()

	a, _ := g.Begin("op", 1)
	g.Commit(a, "x")
	b, _ := g.Begin("op", 2)
	g.Rollback(b, "r")
	g.Begin("op", 3)

	stats := g.Stats()
	if stats.TotalTransactions != 3 {
		t.Errorf("total = %d, want 3", stats.TotalTransactions)
	}
	if stats.Committed != 1 || stats.RolledBack != 1 || stats.Pending != 1 {
		t.Errorf("stats = %+v", stats)
	}
}
