package snapshot

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"testing"
	"time"

	"github.com/hyperengineering/lattice/internal/config"
)

func TestNoopUploader(t *testing.T) {
	u := &NoopUploader{}
	if err := u.Upload(context.Background(), "work", "/some/path"); err != nil {
		t.Errorf("Upload() error = %v, want nil", err)
	}
	_, _, err := u.PresignedURL(context.Background(), "work")
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("PresignedURL() error = %v, want ErrNotConfigured", err)
	}
}

func TestNewUploader_EmptyBucket_ReturnsNoopUploader(t *testing.T) {
	u, err := NewUploader(config.SnapshotStorageConfig{Bucket: ""})
	if err != nil {
		t.Fatalf("NewUploader() error = %v", err)
	}
	if _, ok := u.(*NoopUploader); !ok {
		t.Errorf("expected *NoopUploader, got %T", u)
	}
}

func TestNewUploader_WithBucket_ReturnsS3Uploader(t *testing.T) {
	useSSL := false
	cfg := config.SnapshotStorageConfig{
		Bucket:    "test-bucket",
		Endpoint:  "localhost:9000",
		Region:    "us-east-1",
		UseSSL:    &useSSL,
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		URLExpiry: config.Duration(15 * time.Minute),
	}

	u, err := NewUploader(cfg)
	if err != nil {
		t.Fatalf("NewUploader() error = %v", err)
	}
	s3u, ok := u.(*S3Uploader)
	if !ok {
		t.Fatalf("expected *S3Uploader, got %T", u)
	}
	if s3u.retain != DefaultRetain {
		t.Errorf("retain = %d, want default %d", s3u.retain, DefaultRetain)
	}
}

// fakeObjectStore is an in-memory s3Client: key -> uploaded file path.
type fakeObjectStore struct {
	objects    map[string]string
	listErr    error
	putErr     error
	presignErr error
	removed    []string
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string]string)}
}

func (f *fakeObjectStore) putFile(ctx context.Context, key, filePath string) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.objects[key] = filePath
	return nil
}

func (f *fakeObjectStore) presignGet(ctx context.Context, key string, expiry time.Duration) (*url.URL, error) {
	if f.presignErr != nil {
		return nil, f.presignErr
	}
	return url.Parse("https://s3.example.com/snapshots/" + key + "?sig=abc")
}

func (f *fakeObjectStore) listKeys(ctx context.Context, prefix string) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var keys []string
	for k := range f.objects {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *fakeObjectStore) removeKey(ctx context.Context, key string) error {
	delete(f.objects, key)
	f.removed = append(f.removed, key)
	return nil
}

func newTestUploader(store *fakeObjectStore, retain int) (*S3Uploader, *time.Time) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	u := &S3Uploader{
		client:    store,
		urlExpiry: 15 * time.Minute,
		retain:    retain,
		now:       func() time.Time { return clock },
	}
	return u, &clock
}

func TestS3Uploader_Upload_TimestampedKey(t *testing.T) {
	store := newFakeObjectStore()
	u, _ := newTestUploader(store, 5)

	if err := u.Upload(context.Background(), "work", "/data/work/lattice.db"); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	want := "work/snapshots/20260301T120000Z.db"
	if path, ok := store.objects[want]; !ok || path != "/data/work/lattice.db" {
		t.Errorf("objects = %v, want %s -> /data/work/lattice.db", store.objects, want)
	}
}

func TestS3Uploader_Upload_PrunesBeyondRetention(t *testing.T) {
	store := newFakeObjectStore()
	u, clock := newTestUploader(store, 2)

	for i := 0; i < 4; i++ {
		if err := u.Upload(context.Background(), "work", "/data/db"); err != nil {
			t.Fatalf("Upload() #%d error = %v", i, err)
		}
		*clock = clock.Add(time.Hour)
	}

	keys, err := store.listKeys(context.Background(), "work/snapshots/")
	if err != nil {
		t.Fatalf("listKeys() error = %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("kept %d snapshots, want 2: %v", len(keys), keys)
	}
	// The survivors must be the two newest uploads.
	if keys[0] != "work/snapshots/20260301T140000Z.db" || keys[1] != "work/snapshots/20260301T150000Z.db" {
		t.Errorf("kept keys = %v, want the two newest", keys)
	}
}

func TestS3Uploader_Upload_LeavesOtherContextsAlone(t *testing.T) {
	store := newFakeObjectStore()
	u, clock := newTestUploader(store, 1)

	if err := u.Upload(context.Background(), "personal", "/data/p.db"); err != nil {
		t.Fatalf("Upload(personal) error = %v", err)
	}
	*clock = clock.Add(time.Hour)
	for i := 0; i < 3; i++ {
		if err := u.Upload(context.Background(), "work", "/data/w.db"); err != nil {
			t.Fatalf("Upload(work) error = %v", err)
		}
		*clock = clock.Add(time.Hour)
	}

	personal, _ := store.listKeys(context.Background(), "personal/snapshots/")
	if len(personal) != 1 {
		t.Errorf("personal snapshots pruned by work uploads: %v", personal)
	}
}

func TestS3Uploader_Upload_WrapsError(t *testing.T) {
	store := newFakeObjectStore()
	store.putErr = errors.New("connection refused")
	u, _ := newTestUploader(store, 5)

	if err := u.Upload(context.Background(), "work", "/data/db"); err == nil {
		t.Error("Upload() should surface client errors")
	}
}

func TestS3Uploader_PresignedURL_NewestSnapshot(t *testing.T) {
	store := newFakeObjectStore()
	u, clock := newTestUploader(store, 5)

	for i := 0; i < 2; i++ {
		if err := u.Upload(context.Background(), "work", "/data/db"); err != nil {
			t.Fatalf("Upload() error = %v", err)
		}
		*clock = clock.Add(time.Hour)
	}

	got, expiry, err := u.PresignedURL(context.Background(), "work")
	if err != nil {
		t.Fatalf("PresignedURL() error = %v", err)
	}
	want := "https://s3.example.com/snapshots/work/snapshots/20260301T130000Z.db?sig=abc"
	if got != want {
		t.Errorf("url = %q, want %q", got, want)
	}
	if wantExpiry := clock.Add(15 * time.Minute); !expiry.Equal(wantExpiry) {
		t.Errorf("expiry = %v, want %v", expiry, wantExpiry)
	}
}

func TestS3Uploader_PresignedURL_NoSnapshot(t *testing.T) {
	store := newFakeObjectStore()
	u, _ := newTestUploader(store, 5)

	_, _, err := u.PresignedURL(context.Background(), "work")
	if !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("PresignedURL() error = %v, want ErrNoSnapshot", err)
	}
}
