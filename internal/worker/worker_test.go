package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeReaper struct {
	calls atomic.Int64
}

func (f *fakeReaper) ReapStale() int {
	f.calls.Add(1)
	return 1
}

func TestReaperWorker_TicksAndStops(t *testing.T) {
	reaper := &fakeReaper{}
	w := NewReaperWorker(reaper, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for reaper.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("reaper did not tick in time")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}

type fakePruner struct {
	mu   sync.Mutex
	days []int
}

func (f *fakePruner) ClearOldLogs(olderThanDays int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.days = append(f.days, olderThanDays)
	return 0
}

func TestLogPruneWorker_PassesRetention(t *testing.T) {
	pruner := &fakePruner{}
	w := NewLogPruneWorker(pruner, 10*time.Millisecond, 7)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		pruner.mu.Lock()
		n := len(pruner.days)
		pruner.mu.Unlock()
		if n >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("pruner did not tick in time")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done

	pruner.mu.Lock()
	defer pruner.mu.Unlock()
	if pruner.days[0] != 7 {
		t.Errorf("retention = %d, want 7", pruner.days[0])
	}
}

type fakeEnumerator struct {
	mu        sync.Mutex
	names     []string
	snapshots []string
	failFor   string
}

func (f *fakeEnumerator) ContextNames() []string {
	return f.names
}

func (f *fakeEnumerator) SnapshotContext(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == f.failFor {
		return "", errors.New("disk full")
	}
	f.snapshots = append(f.snapshots, name)
	return "/tmp/" + name + "/snapshot/current.db", nil
}

type fakeUploader struct {
	mu       sync.Mutex
	uploaded []string
	err      error
}

func (f *fakeUploader) Upload(ctx context.Context, contextName, filePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.uploaded = append(f.uploaded, contextName)
	return nil
}

func (f *fakeUploader) PresignedURL(ctx context.Context, contextName string) (string, time.Time, error) {
	return "", time.Time{}, nil
}

func TestSnapshotCoordinator_SnapshotsAndUploads(t *testing.T) {
	enum := &fakeEnumerator{names: []string{"default", "work"}}
	up := &fakeUploader{}
	c := NewSnapshotCoordinator(enum, time.Hour, up)

	c.snapshotAll(context.Background())

	enum.mu.Lock()
	snaps := len(enum.snapshots)
	enum.mu.Unlock()
	if snaps != 2 {
		t.Errorf("got %d snapshots, want 2", snaps)
	}

	up.mu.Lock()
	defer up.mu.Unlock()
	if len(up.uploaded) != 2 {
		t.Errorf("got %d uploads, want 2", len(up.uploaded))
	}
}

func TestSnapshotCoordinator_ContinuesPastFailure(t *testing.T) {
	enum := &fakeEnumerator{names: []string{"bad", "good"}, failFor: "bad"}
	c := NewSnapshotCoordinator(enum, time.Hour, nil)

	c.snapshotAll(context.Background())

	enum.mu.Lock()
	defer enum.mu.Unlock()
	if len(enum.snapshots) != 1 || enum.snapshots[0] != "good" {
		t.Errorf("snapshots = %v, want just good", enum.snapshots)
	}
}

func TestSnapshotCoordinator_UploadFailureIsNonFatal(t *testing.T) {
	enum := &fakeEnumerator{names: []string{"default"}}
	up := &fakeUploader{err: errors.New("connection refused")}
	c := NewSnapshotCoordinator(enum, time.Hour, up)

	if ok := c.snapshotOne(context.Background(), "default"); !ok {
		t.Error("upload failure should not fail the snapshot")
	}
}
