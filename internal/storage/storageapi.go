// Storage API backend.
//
// Talks to a Supabase-style storage REST service: listing is
// POST /object/list/{bucket} with {prefix, limit, offset, sortBy} and
// returns the direct children of the prefix; an entry with a null id is a
// folder. Removal is DELETE /object/{bucket} with {prefixes: [...]} and
// returns the removed objects. Requests authenticate with the service key.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// StorageAPIOptions configures the Storage API client.
type StorageAPIOptions struct {
	// URL is the base URL of the storage service, e.g.
	// https://project.supabase.co/storage/v1.
	URL string
	// ServiceKey is sent as bearer token and apikey header.
	ServiceKey string
	// Timeout bounds each HTTP request. Zero means 30s.
	Timeout time.Duration
	// HTTPClient overrides the client used for requests (tests).
	HTTPClient *http.Client
}

// StorageAPIBackend implements ObjectStore over the storage REST API.
type StorageAPIBackend struct {
	baseURL    string
	serviceKey string
	client     *http.Client
}

type storageAPIListRequest struct {
	Prefix string                `json:"prefix"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
	SortBy storageAPIListSorting `json:"sortBy"`
}

type storageAPIListSorting struct {
	Column string `json:"column"`
	Order  string `json:"order"`
}

type storageAPIObject struct {
	Name string  `json:"name"`
	ID   *string `json:"id"`
}

type storageAPIRemoveRequest struct {
	Prefixes []string `json:"prefixes"`
}

type storageAPIErrorBody struct {
	StatusCode string `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// NewStorageAPIBackend creates a StorageAPIBackend for the given service URL.
func NewStorageAPIBackend(opts StorageAPIOptions) (*StorageAPIBackend, error) {
	u, err := url.Parse(opts.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid storage API url %q", opts.URL)
	}
	if opts.ServiceKey == "" {
		return nil, fmt.Errorf("storage API service key is required")
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	slog.Info("Storage API backend initialized", "url", u.Redacted())
	return &StorageAPIBackend{
		baseURL:    strings.TrimRight(opts.URL, "/"),
		serviceKey: opts.ServiceKey,
		client:     client,
	}, nil
}

// List returns one page of the direct children of prefix. The page token is
// the row offset; a short page ends the listing.
func (b *StorageAPIBackend) List(ctx context.Context, bucket, prefix, pageToken string, pageSize int) (*ListPage, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	offset := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid page token %q", pageToken)
		}
		offset = n
	}

	body := storageAPIListRequest{
		Prefix: strings.TrimSuffix(prefix, "/"),
		Limit:  pageSize,
		Offset: offset,
		SortBy: storageAPIListSorting{Column: "name", Order: "asc"},
	}
	var objects []storageAPIObject
	if err := b.do(ctx, http.MethodPost, "/object/list/"+url.PathEscape(bucket), body, &objects); err != nil {
		return nil, fmt.Errorf("listing %s/%s: %w", bucket, prefix, err)
	}

	page := &ListPage{}
	for _, o := range objects {
		if o.Name == "" || o.Name == ".emptyFolderPlaceholder" {
			continue
		}
		if o.ID == nil {
			page.Entries = append(page.Entries, Entry{Path: prefix + o.Name + "/", IsPrefix: true})
			continue
		}
		page.Entries = append(page.Entries, Entry{Path: prefix + o.Name})
	}
	if len(objects) == pageSize {
		page.NextPageToken = strconv.Itoa(offset + len(objects))
	}
	return page, nil
}

// Remove deletes paths in one request. The service reports the objects it
// removed; absent paths are simply missing from the response.
func (b *StorageAPIBackend) Remove(ctx context.Context, bucket string, paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	var objects []storageAPIObject
	if err := b.do(ctx, http.MethodDelete, "/object/"+url.PathEscape(bucket), storageAPIRemoveRequest{Prefixes: paths}, &objects); err != nil {
		return nil, fmt.Errorf("removing from %s: %w", bucket, err)
	}
	removed := make([]string, 0, len(objects))
	for _, o := range objects {
		removed = append(removed, o.Name)
	}
	return removed, nil
}

// HealthCheck lists buckets to verify the service and key are usable.
func (b *StorageAPIBackend) HealthCheck(ctx context.Context) error {
	var buckets []json.RawMessage
	return b.do(ctx, http.MethodGet, "/bucket", nil, &buckets)
}

func (b *StorageAPIBackend) do(ctx context.Context, method, path string, in, out any) error {
	var reader io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+b.serviceKey)
	req.Header.Set("apikey", b.serviceKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var eb storageAPIErrorBody
		if json.Unmarshal(data, &eb) == nil && (eb.Message != "" || eb.Error != "") {
			return fmt.Errorf("storage API %s %s: %d %s: %s", method, path, resp.StatusCode, eb.Error, eb.Message)
		}
		return fmt.Errorf("storage API %s %s: %d", method, path, resp.StatusCode)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// Ensure StorageAPIBackend implements ObjectStore at compile time.
var _ ObjectStore = (*StorageAPIBackend)(nil)
