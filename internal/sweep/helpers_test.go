package sweep

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/bleepstore/bleepsweep/internal/storage"
)

var errInjected = errors.New("injected failure")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingStore wraps a MemoryBackend, records Remove calls and can fail
// chosen chunks or listings.
type recordingStore struct {
	*storage.MemoryBackend

	mu          sync.Mutex
	removeCalls [][]string
	// failRemove fails a Remove call when it returns true for the chunk.
	failRemove func(chunk []string) bool
	// partial makes failing calls still remove the first n paths.
	partial int
	// failList fails listings of this prefix.
	failList string
	// onRemove runs after a successful Remove.
	onRemove func()
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryBackend: storage.NewMemoryBackend()}
}

func (s *recordingStore) seed(bucket string, paths ...string) {
	for _, p := range paths {
		s.Put(bucket, p, []byte("x"))
	}
}

func (s *recordingStore) List(ctx context.Context, bucket, prefix, pageToken string, pageSize int) (*storage.ListPage, error) {
	if s.failList != "" && prefix == s.failList {
		return nil, errInjected
	}
	return s.MemoryBackend.List(ctx, bucket, prefix, pageToken, pageSize)
}

func (s *recordingStore) Remove(ctx context.Context, bucket string, paths []string) ([]string, error) {
	s.mu.Lock()
	s.removeCalls = append(s.removeCalls, append([]string(nil), paths...))
	fail := s.failRemove != nil && s.failRemove(paths)
	s.mu.Unlock()

	if fail {
		n := s.partial
		if n > len(paths) {
			n = len(paths)
		}
		removed, _ := s.MemoryBackend.Remove(ctx, bucket, paths[:n])
		return removed, errInjected
	}
	removed, err := s.MemoryBackend.Remove(ctx, bucket, paths)
	if s.onRemove != nil {
		s.onRemove()
	}
	return removed, err
}

func (s *recordingStore) calls() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.removeCalls...)
}

// pagedStore serves scripted pages keyed by prefix and token.
type pagedStore struct {
	pages map[string]*storage.ListPage
}

func pageKey(prefix, token string) string { return prefix + "|" + token }

func (s *pagedStore) List(ctx context.Context, bucket, prefix, pageToken string, pageSize int) (*storage.ListPage, error) {
	page, ok := s.pages[pageKey(prefix, pageToken)]
	if !ok {
		return &storage.ListPage{}, nil
	}
	return page, nil
}

func (s *pagedStore) Remove(ctx context.Context, bucket string, paths []string) ([]string, error) {
	return paths, nil
}

func (s *pagedStore) HealthCheck(ctx context.Context) error { return nil }

func intPtr(v int) *int { return &v }
