// Package snapshot ships per-context database snapshots to
// S3-compatible storage. Each upload gets a timestamped object key and
// old snapshots beyond the retention count are pruned, so the bucket
// holds a short history rather than a single mutable object. With no
// bucket configured the NoopUploader keeps the system local-only.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hyperengineering/lattice/internal/config"
)

// ErrNotConfigured is returned when S3 snapshot storage is not configured.
var ErrNotConfigured = errors.New("snapshot storage not configured")

// ErrNoSnapshot is returned when the context has no uploaded snapshot yet.
var ErrNoSnapshot = errors.New("no snapshot uploaded")

// DefaultRetain is how many snapshots per context are kept when the
// configuration does not say otherwise.
const DefaultRetain = 5

// keyTimeFormat orders object keys chronologically when sorted as
// strings, which is what newestKey relies on.
const keyTimeFormat = "20060102T150405Z"

// Uploader ships snapshots to remote storage and mints download URLs.
type Uploader interface {
	// Upload stores the snapshot file under a fresh timestamped key and
	// prunes uploads beyond the retention count.
	Upload(ctx context.Context, contextName string, filePath string) error

	// PresignedURL returns a pre-signed GET URL for the newest uploaded
	// snapshot. Returns ErrNotConfigured without a bucket and
	// ErrNoSnapshot when nothing has been uploaded for the context.
	PresignedURL(ctx context.Context, contextName string) (url string, expiry time.Time, err error)
}

// s3Client is the slice of object storage the uploader needs. The
// bucket is fixed at construction so keys are the only addressing.
type s3Client interface {
	putFile(ctx context.Context, key, filePath string) error
	presignGet(ctx context.Context, key string, expiry time.Duration) (*url.URL, error)
	listKeys(ctx context.Context, prefix string) ([]string, error)
	removeKey(ctx context.Context, key string) error
}

// minioClient adapts *minio.Client to s3Client for one bucket.
type minioClient struct {
	client *minio.Client
	bucket string
}

func (c *minioClient) putFile(ctx context.Context, key, filePath string) error {
	_, err := c.client.FPutObject(ctx, c.bucket, key, filePath, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	return err
}

func (c *minioClient) presignGet(ctx context.Context, key string, expiry time.Duration) (*url.URL, error) {
	return c.client.PresignedGetObject(ctx, c.bucket, key, expiry, nil)
}

func (c *minioClient) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range c.client.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (c *minioClient) removeKey(ctx context.Context, key string) error {
	return c.client.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{})
}

// S3Uploader keeps a bounded history of snapshots per context in
// S3-compatible storage.
type S3Uploader struct {
	client    s3Client
	urlExpiry time.Duration
	retain    int
	now       func() time.Time
}

// Upload stores filePath under {context}/snapshots/{timestamp}.db and
// then drops the oldest uploads past the retention count. A prune
// failure is logged but does not fail the upload: the new snapshot is
// already safe.
func (u *S3Uploader) Upload(ctx context.Context, contextName string, filePath string) error {
	key := snapshotKey(contextName, u.now().UTC())
	if err := u.client.putFile(ctx, key, filePath); err != nil {
		return fmt.Errorf("upload snapshot: %w", err)
	}
	if err := u.prune(ctx, contextName); err != nil {
		slog.Warn("snapshot retention prune failed",
			"component", "snapshot",
			"context", contextName,
			"error", err,
		)
	}
	return nil
}

// PresignedURL mints a download URL for the newest snapshot.
func (u *S3Uploader) PresignedURL(ctx context.Context, contextName string) (string, time.Time, error) {
	key, err := u.newestKey(ctx, contextName)
	if err != nil {
		return "", time.Time{}, err
	}
	presigned, err := u.client.presignGet(ctx, key, u.urlExpiry)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("presign snapshot download: %w", err)
	}
	return presigned.String(), u.now().Add(u.urlExpiry), nil
}

// newestKey returns the lexicographically last key under the context's
// snapshot prefix; keyTimeFormat makes that the most recent upload.
func (u *S3Uploader) newestKey(ctx context.Context, contextName string) (string, error) {
	keys, err := u.client.listKeys(ctx, snapshotPrefix(contextName))
	if err != nil {
		return "", fmt.Errorf("list snapshots: %w", err)
	}
	if len(keys) == 0 {
		return "", fmt.Errorf("context %q: %w", contextName, ErrNoSnapshot)
	}
	sort.Strings(keys)
	return keys[len(keys)-1], nil
}

// prune removes the oldest snapshots beyond the retention count.
func (u *S3Uploader) prune(ctx context.Context, contextName string) error {
	keys, err := u.client.listKeys(ctx, snapshotPrefix(contextName))
	if err != nil {
		return err
	}
	excess := len(keys) - u.retain
	if excess <= 0 {
		return nil
	}
	sort.Strings(keys)
	for _, key := range keys[:excess] {
		if err := u.client.removeKey(ctx, key); err != nil {
			return fmt.Errorf("remove %s: %w", key, err)
		}
	}
	return nil
}

// NoopUploader is used when S3 storage is not configured. Upload is a
// no-op and PresignedURL reports the missing configuration.
type NoopUploader struct{}

func (u *NoopUploader) Upload(ctx context.Context, contextName string, filePath string) error {
	return nil
}

func (u *NoopUploader) PresignedURL(ctx context.Context, contextName string) (string, time.Time, error) {
	return "", time.Time{}, ErrNotConfigured
}

// NewUploader builds an Uploader from configuration: NoopUploader when
// no bucket is set, S3Uploader otherwise.
func NewUploader(cfg config.SnapshotStorageConfig) (Uploader, error) {
	if cfg.Bucket == "" {
		return &NoopUploader{}, nil
	}

	useSSL := true
	if cfg.UseSSL != nil {
		useSSL = *cfg.UseSSL
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	retain := cfg.Retain
	if retain <= 0 {
		retain = DefaultRetain
	}

	return &S3Uploader{
		client:    &minioClient{client: client, bucket: cfg.Bucket},
		urlExpiry: time.Duration(cfg.URLExpiry),
		retain:    retain,
		now:       time.Now,
	}, nil
}

// snapshotPrefix is the key prefix holding one context's snapshot
// history.
func snapshotPrefix(contextName string) string {
	return contextName + "/snapshots/"
}

// snapshotKey builds the timestamped object key for one upload.
func snapshotKey(contextName string, at time.Time) string {
	return snapshotPrefix(contextName) + at.Format(keyTimeFormat) + ".db"
}
