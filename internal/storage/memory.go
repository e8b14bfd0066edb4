package storage

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend implements ObjectStore using in-memory maps. It backs tests
// and local dry runs; data does not survive a restart.
type MemoryBackend struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte // bucket -> path -> data
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		buckets: make(map[string]map[string][]byte),
	}
}

// Put stores data at bucket/path, creating the bucket on first use.
func (b *MemoryBackend) Put(bucket, path string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	objs, ok := b.buckets[bucket]
	if !ok {
		objs = make(map[string][]byte)
		b.buckets[bucket] = objs
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	objs[path] = cp
}

// Exists reports whether bucket/path is stored.
func (b *MemoryBackend) Exists(bucket, path string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, ok := b.buckets[bucket][path]
	return ok
}

// Paths returns the sorted paths stored in bucket.
func (b *MemoryBackend) Paths(bucket string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	paths := make([]string, 0, len(b.buckets[bucket]))
	for p := range b.buckets[bucket] {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// List returns the direct children of prefix, paginated by offset.
func (b *MemoryBackend) List(ctx context.Context, bucket, prefix, pageToken string, pageSize int) (*ListPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	keys := make([]string, 0, len(b.buckets[bucket]))
	for k := range b.buckets[bucket] {
		keys = append(keys, k)
	}
	b.mu.RUnlock()

	return paginate(childEntries(keys, prefix), pageToken, pageSize)
}

// Remove deletes the given paths. Only paths that existed are reported as
// removed; absent paths are skipped silently.
func (b *MemoryBackend) Remove(ctx context.Context, bucket string, paths []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	objs := b.buckets[bucket]
	var removed []string
	for _, p := range paths {
		if _, ok := objs[p]; ok {
			delete(objs, p)
			removed = append(removed, p)
		}
	}
	return removed, nil
}

// HealthCheck always succeeds for the in-memory backend.
func (b *MemoryBackend) HealthCheck(ctx context.Context) error {
	return nil
}

// Ensure MemoryBackend implements ObjectStore at compile time.
var _ ObjectStore = (*MemoryBackend)(nil)
