// Azure Blob Storage backend.
//
// Sweep bucket names are Azure container names. Listing uses the blob
// hierarchy pager with a "/" delimiter so virtual directories come back as
// BlobPrefixes; removal deletes blobs one at a time with bounded
// concurrency. Deleting a missing blob is not an error.
//
// Credentials are resolved via connection string, managed identity or
// DefaultAzureCredential (env vars, Azure CLI, etc.).
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// azureDeleteConcurrency bounds concurrent blob deletes within one Remove call.
const azureDeleteConcurrency = 16

// AzureListResult is one page of a hierarchy listing.
type AzureListResult struct {
	Blobs      []string
	Prefixes   []string
	NextMarker string
}

// AzureBlobAPI defines the subset of the Azure Blob Storage client interface
// that the backend uses. This allows mocking in tests.
type AzureBlobAPI interface {
	// ListHierarchy lists blobs and virtual directories directly under prefix.
	ListHierarchy(ctx context.Context, containerName, prefix, marker string, maxResults int) (*AzureListResult, error)
	// DeleteBlob deletes a blob. Returns an error if the blob does not exist.
	DeleteBlob(ctx context.Context, containerName, blobName string) error
	// ContainerExists checks that a container is reachable.
	ContainerExists(ctx context.Context, containerName string) error
}

// AzureBackend implements ObjectStore against Azure Blob Storage.
type AzureBackend struct {
	// AccountURL is the Azure storage account URL (e.g. https://account.blob.core.windows.net).
	AccountURL string
	// healthContainer is checked by HealthCheck when set.
	healthContainer string
	// client is the Azure Blob client (satisfying AzureBlobAPI interface).
	client AzureBlobAPI
}

// AzureOptions configures the Azure Blob client.
type AzureOptions struct {
	AccountURL         string
	ConnectionString   string
	UseManagedIdentity bool
	HealthContainer    string
}

// NewAzureBackend creates an AzureBackend for the given storage account.
func NewAzureBackend(ctx context.Context, opts AzureOptions) (*AzureBackend, error) {
	client, err := newRealAzureClient(opts.AccountURL, opts.ConnectionString, opts.UseManagedIdentity)
	if err != nil {
		return nil, fmt.Errorf("creating Azure client: %w", err)
	}

	slog.Info("Azure storage backend initialized", "account", opts.AccountURL)
	return &AzureBackend{
		AccountURL:      opts.AccountURL,
		healthContainer: opts.HealthContainer,
		client:          client,
	}, nil
}

// NewAzureBackendWithClient creates an AzureBackend with a pre-configured
// Azure client. This is primarily used for testing with mock clients.
func NewAzureBackendWithClient(accountURL, healthContainer string, client AzureBlobAPI) *AzureBackend {
	return &AzureBackend{
		AccountURL:      accountURL,
		healthContainer: healthContainer,
		client:          client,
	}
}

// List returns one page of the hierarchy listing for prefix.
func (b *AzureBackend) List(ctx context.Context, bucket, prefix, pageToken string, pageSize int) (*ListPage, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	res, err := b.client.ListHierarchy(ctx, bucket, prefix, pageToken, pageSize)
	if err != nil {
		return nil, fmt.Errorf("listing azure container %s/%s: %w", bucket, prefix, err)
	}

	page := &ListPage{NextPageToken: res.NextMarker}
	for _, name := range res.Blobs {
		if name == "" || strings.HasSuffix(name, "/") {
			continue
		}
		page.Entries = append(page.Entries, Entry{Path: name})
	}
	for _, p := range res.Prefixes {
		if p == "" || p == prefix {
			continue
		}
		page.Entries = append(page.Entries, Entry{Path: p, IsPrefix: true})
	}
	return page, nil
}

// Remove deletes each blob individually. Not-found deletes are skipped
// without counting as removed.
func (b *AzureBackend) Remove(ctx context.Context, bucket string, paths []string) ([]string, error) {
	var (
		mu      sync.Mutex
		removed []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(azureDeleteConcurrency)
	for _, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := b.client.DeleteBlob(gctx, bucket, p); err != nil {
				if isAzureNotFound(err) {
					return nil
				}
				return fmt.Errorf("deleting azure blob %s/%s: %w", bucket, p, err)
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

// HealthCheck verifies the configured health container is accessible.
func (b *AzureBackend) HealthCheck(ctx context.Context) error {
	if b.healthContainer == "" {
		return nil
	}
	return b.client.ContainerExists(ctx, b.healthContainer)
}

// isAzureNotFound checks if an Azure error is a not-found error.
func isAzureNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "not found") || strings.Contains(msg, "404") ||
		strings.Contains(msg, "blobnotfound") ||
		strings.Contains(msg, "the specified blob does not exist") {
		return true
	}
	return false
}

// Ensure AzureBackend implements ObjectStore at compile time.
var _ ObjectStore = (*AzureBackend)(nil)
