// Package storage defines the object store interface that the sweep engine
// lists and deletes through, plus its implementations (memory, local
// filesystem, AWS S3, GCS, Azure Blob and Storage API over HTTP).
package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DefaultPageSize is the listing page size used when a caller passes zero.
const DefaultPageSize = 1000

// Entry is one item of a listing page: either a file (full object path) or
// a sub-prefix (directory-like grouping, always ending in "/").
type Entry struct {
	Path     string
	IsPrefix bool
}

// ListPage is a single page of a delimiter listing. An empty NextPageToken
// marks the last page.
type ListPage struct {
	Entries       []Entry
	NextPageToken string
}

// ObjectStore is the subset of blob storage the sweep engine needs.
// Implementations must be safe for concurrent use.
type ObjectStore interface {
	// List returns the direct children (files and sub-prefixes) of prefix in
	// bucket. prefix is either empty or ends in "/". pageToken is empty for
	// the first page.
	List(ctx context.Context, bucket, prefix, pageToken string, pageSize int) (*ListPage, error)

	// Remove deletes the given paths from bucket and returns the paths the
	// store confirms removed. Paths that are already absent are not an
	// error. On error, the returned slice holds whatever was removed before
	// the failure.
	Remove(ctx context.Context, bucket string, paths []string) ([]string, error)

	// HealthCheck verifies that the store is reachable.
	HealthCheck(ctx context.Context) error
}

// NormalizePrefix strips leading slashes and guarantees a trailing slash on
// non-empty prefixes, so "meals/generated" and "/meals/generated/" list the
// same namespace.
func NormalizePrefix(prefix string) string {
	p := strings.TrimLeft(strings.TrimSpace(prefix), "/")
	if p == "" {
		return ""
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// childEntries collapses a set of full keys into the direct children of
// prefix: keys with no further "/" become files, the rest become their
// first-level sub-prefix. The result is sorted by path.
func childEntries(keys []string, prefix string) []Entry {
	seen := make(map[string]struct{})
	var entries []Entry
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := key[len(prefix):]
		if rest == "" {
			continue
		}
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			sub := prefix + rest[:idx+1]
			if _, ok := seen[sub]; ok {
				continue
			}
			seen[sub] = struct{}{}
			entries = append(entries, Entry{Path: sub, IsPrefix: true})
			continue
		}
		entries = append(entries, Entry{Path: key})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})
	return entries
}

// paginate slices entries using an offset page token. A next token is only
// issued when the page is full.
func paginate(entries []Entry, pageToken string, pageSize int) (*ListPage, error) {
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
	if offset >= len(entries) {
		return &ListPage{}, nil
	}
	end := offset + pageSize
	if end > len(entries) {
		end = len(entries)
	}
	page := &ListPage{Entries: append([]Entry(nil), entries[offset:end]...)}
	if end-offset == pageSize && end < len(entries) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}
