// GCP Cloud Storage backend.
//
// Listing uses an object query with a "/" delimiter, paged through
// iterator.NewPager; synthetic prefixes come back as sub-prefix entries.
// GCS has no batch delete, so Remove deletes objects individually with a
// bounded number of concurrent calls. Deleting a missing object is not an
// error.
//
// Credentials are resolved via Application Default Credentials
// (GOOGLE_APPLICATION_CREDENTIALS, gcloud auth, metadata server).
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	gcs "cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// gcsDeleteConcurrency bounds concurrent object deletes within one Remove call.
const gcsDeleteConcurrency = 16

// GCSEntry is a single listing result: an object name or a synthetic prefix.
type GCSEntry struct {
	Name   string
	Prefix string
}

// GCSAPI defines the subset of the GCS client interface that the backend
// uses. This allows mocking in tests.
type GCSAPI interface {
	// ListPage returns one page of delimiter listing results and the token
	// for the next page (empty when done).
	ListPage(ctx context.Context, bucket, prefix, pageToken string, pageSize int) ([]GCSEntry, string, error)
	// Delete deletes the given GCS object.
	Delete(ctx context.Context, bucket, object string) error
	// BucketExists checks the bucket is reachable.
	BucketExists(ctx context.Context, bucket string) error
}

// realGCSClient wraps the official GCS client to satisfy GCSAPI.
type realGCSClient struct {
	client *gcs.Client
}

func (c *realGCSClient) ListPage(ctx context.Context, bucket, prefix, pageToken string, pageSize int) ([]GCSEntry, string, error) {
	it := c.client.Bucket(bucket).Objects(ctx, &gcs.Query{Prefix: prefix, Delimiter: "/"})
	var attrs []*gcs.ObjectAttrs
	next, err := iterator.NewPager(it, pageSize, pageToken).NextPage(&attrs)
	if err != nil {
		return nil, "", err
	}
	entries := make([]GCSEntry, 0, len(attrs))
	for _, a := range attrs {
		entries = append(entries, GCSEntry{Name: a.Name, Prefix: a.Prefix})
	}
	return entries, next, nil
}

func (c *realGCSClient) Delete(ctx context.Context, bucket, object string) error {
	return c.client.Bucket(bucket).Object(object).Delete(ctx)
}

func (c *realGCSClient) BucketExists(ctx context.Context, bucket string) error {
	_, err := c.client.Bucket(bucket).Attrs(ctx)
	return err
}

// GCPBackend implements ObjectStore against Google Cloud Storage.
type GCPBackend struct {
	// Project is the GCP project ID.
	Project string
	// healthBucket is checked by HealthCheck when set.
	healthBucket string
	// client is the GCS client (satisfying GCSAPI interface).
	client GCSAPI
}

// NewGCPBackend creates a GCPBackend using Application Default Credentials,
// or the given service account key file when credentialsFile is set.
func NewGCPBackend(ctx context.Context, project, credentialsFile, healthBucket string) (*GCPBackend, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}

	slog.Info("GCP storage backend initialized", "project", project)
	return &GCPBackend{
		Project:      project,
		healthBucket: healthBucket,
		client:       &realGCSClient{client: client},
	}, nil
}

// NewGCPBackendWithClient creates a GCPBackend with a pre-configured GCS
// client. This is primarily used for testing with mock clients.
func NewGCPBackendWithClient(project, healthBucket string, client GCSAPI) *GCPBackend {
	return &GCPBackend{
		Project:      project,
		healthBucket: healthBucket,
		client:       client,
	}
}

// List returns one page of the delimiter listing for prefix.
func (b *GCPBackend) List(ctx context.Context, bucket, prefix, pageToken string, pageSize int) (*ListPage, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	results, next, err := b.client.ListPage(ctx, bucket, prefix, pageToken, pageSize)
	if err != nil {
		return nil, fmt.Errorf("listing gs://%s/%s: %w", bucket, prefix, err)
	}

	page := &ListPage{NextPageToken: next}
	for _, r := range results {
		switch {
		case r.Prefix != "":
			if r.Prefix != prefix {
				page.Entries = append(page.Entries, Entry{Path: r.Prefix, IsPrefix: true})
			}
		case r.Name != "" && !strings.HasSuffix(r.Name, "/"):
			page.Entries = append(page.Entries, Entry{Path: r.Name})
		}
	}
	return page, nil
}

// Remove deletes each path individually. Not-found deletes are skipped
// without counting as removed. The first hard failure stops further deletes
// and is returned together with what was removed so far.
func (b *GCPBackend) Remove(ctx context.Context, bucket string, paths []string) ([]string, error) {
	var (
		mu      sync.Mutex
		removed []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(gcsDeleteConcurrency)
	for _, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := b.client.Delete(gctx, bucket, p); err != nil {
				if isGCSNotFound(err) {
					return nil
				}
				return fmt.Errorf("deleting gs://%s/%s: %w", bucket, p, err)
			}
			mu.Lock()
			removed = append(removed, p)
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	return removed, err
}

// HealthCheck verifies the configured health bucket is accessible.
func (b *GCPBackend) HealthCheck(ctx context.Context) error {
	if b.healthBucket == "" {
		return nil
	}
	return b.client.BucketExists(ctx, b.healthBucket)
}

// isGCSNotFound checks if a GCS error is a 404/not-found error.
func isGCSNotFound(err error) bool {
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return true
	}
	if errors.Is(err, gcs.ErrBucketNotExist) {
		return true
	}
	if err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "not found") || strings.Contains(msg, "404") {
			return true
		}
	}
	return false
}

// Ensure GCPBackend implements ObjectStore at compile time.
var _ ObjectStore = (*GCPBackend)(nil)
