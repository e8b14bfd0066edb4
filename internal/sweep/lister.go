package sweep

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bleepstore/bleepsweep/internal/metrics"
	"github.com/bleepstore/bleepsweep/internal/storage"
)

// Root is one (bucket, prefix) listing root.
type Root struct {
	Bucket string
	Prefix string
}

// Lister recursively enumerates objects through an ObjectStore.
type Lister struct {
	store       storage.ObjectStore
	pageSize    int
	maxDepth    int
	concurrency int
}

// NewLister creates a Lister. Zero values fall back to the engine defaults.
func NewLister(store storage.ObjectStore, pageSize, maxDepth, concurrency int) *Lister {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if concurrency <= 0 {
		concurrency = DefaultListConcurrency
	}
	return &Lister{store: store, pageSize: pageSize, maxDepth: maxDepth, concurrency: concurrency}
}

// List returns every object path under prefix in bucket. The prefix is
// normalized first.
func (l *Lister) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	var out []string
	if err := l.walk(ctx, bucket, storage.NormalizePrefix(prefix), 0, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Lister) walk(ctx context.Context, bucket, prefix string, depth int, out *[]string) error {
	if depth > l.maxDepth {
		return fmt.Errorf("listing %s/%s: exceeded max depth %d", bucket, prefix, l.maxDepth)
	}

	seen := make(map[string]struct{})
	token := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := l.store.List(ctx, bucket, prefix, token, l.pageSize)
		if err != nil {
			return err
		}
		metrics.ListPagesTotal.WithLabelValues(bucket).Inc()

		for _, e := range page.Entries {
			if !strings.HasPrefix(e.Path, prefix) || e.Path == prefix {
				continue
			}
			if e.IsPrefix {
				if err := l.walk(ctx, bucket, storage.NormalizePrefix(e.Path), depth+1, out); err != nil {
					return err
				}
				continue
			}
			*out = append(*out, e.Path)
		}

		if page.NextPageToken == "" {
			return nil
		}
		if _, dup := seen[page.NextPageToken]; dup {
			return fmt.Errorf("listing %s/%s: page token %q repeated", bucket, prefix, page.NextPageToken)
		}
		seen[page.NextPageToken] = struct{}{}
		token = page.NextPageToken
	}
}

// ListRoots lists every root with bounded concurrency and groups the paths
// by bucket. The first failure cancels the remaining roots.
func (l *Lister) ListRoots(ctx context.Context, roots []Root) (map[string][]string, error) {
	var (
		mu  sync.Mutex
		out = make(map[string][]string)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for _, r := range roots {
		g.Go(func() error {
			paths, err := l.List(gctx, r.Bucket, r.Prefix)
			if err != nil {
				return err
			}
			mu.Lock()
			out[r.Bucket] = append(out[r.Bucket], paths...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, r := range roots {
		if _, ok := out[r.Bucket]; !ok {
			out[r.Bucket] = nil
		}
	}
	return out, nil
}
