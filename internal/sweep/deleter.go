package sweep

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/bleepstore/bleepsweep/internal/metrics"
	"github.com/bleepstore/bleepsweep/internal/storage"
)

// DeleteOutcome is what the deleter achieved for one bucket.
type DeleteOutcome struct {
	Removed int
	Failed  []string
	// Cancelled is set when a chunk was never issued, because ctx was done
	// or the rate limiter could not grant a slot before the deadline.
	Cancelled bool
}

// Deleter removes candidates in chunks with bounded concurrency and an
// optional request rate limit. A failed chunk does not stop the others and
// is not retried; its unconfirmed paths are reported as failed.
type Deleter struct {
	store       storage.ObjectStore
	chunkSize   int
	concurrency int
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// NewDeleter creates a Deleter. rps <= 0 disables rate limiting.
func NewDeleter(store storage.ObjectStore, chunkSize, concurrency int, rps float64, logger *slog.Logger) *Deleter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkSize > MaxChunkSize {
		chunkSize = MaxChunkSize
	}
	if concurrency <= 0 {
		concurrency = DefaultDeleteConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Deleter{store: store, chunkSize: chunkSize, concurrency: concurrency, logger: logger}
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return d
}

// Chunks splits paths into groups of at most the chunk size.
func (d *Deleter) Chunks(paths []string) [][]string {
	var chunks [][]string
	for start := 0; start < len(paths); start += d.chunkSize {
		end := start + d.chunkSize
		if end > len(paths) {
			end = len(paths)
		}
		chunks = append(chunks, paths[start:end])
	}
	return chunks
}

// Delete removes paths from bucket. Once ctx is done no further chunk is
// issued and an incomplete outcome is marked cancelled.
func (d *Deleter) Delete(ctx context.Context, bucket string, paths []string) DeleteOutcome {
	var (
		mu           sync.Mutex
		outcome      DeleteOutcome
		notAttempted atomic.Bool
	)

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, chunk := range d.Chunks(paths) {
		if ctx.Err() != nil {
			notAttempted.Store(true)
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				notAttempted.Store(true)
				return nil
			}
			if d.limiter != nil {
				if err := d.limiter.Wait(ctx); err != nil {
					d.logger.Warn("Delete chunk not issued", "bucket", bucket, "chunk", i,
						"size", len(chunk), "error", err)
					notAttempted.Store(true)
					return nil
				}
			}

			removed, err := d.store.Remove(ctx, bucket, chunk)
			confirmed := confirmedIn(chunk, removed)
			var failed []string
			if err != nil {
				failed = unconfirmed(chunk, removed)
				d.logger.Warn("Delete chunk failed", "bucket", bucket, "chunk", i,
					"size", len(chunk), "removed", confirmed, "error", err)
				metrics.DeleteFailuresTotal.WithLabelValues(bucket).Add(float64(len(failed)))
			}
			metrics.ObjectsRemovedTotal.WithLabelValues(bucket).Add(float64(confirmed))

			mu.Lock()
			outcome.Removed += confirmed
			outcome.Failed = append(outcome.Failed, failed...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if (notAttempted.Load() || ctx.Err() != nil) && outcome.Removed < len(paths) {
		outcome.Cancelled = true
	}
	sort.Strings(outcome.Failed)
	return outcome
}

// confirmedIn counts removed paths that belong to chunk, once each.
func confirmedIn(chunk, removed []string) int {
	want := make(map[string]struct{}, len(chunk))
	for _, p := range chunk {
		want[p] = struct{}{}
	}
	n := 0
	for _, p := range removed {
		if _, ok := want[p]; ok {
			n++
			delete(want, p)
		}
	}
	return n
}

// unconfirmed returns the chunk paths missing from removed.
func unconfirmed(chunk, removed []string) []string {
	done := make(map[string]struct{}, len(removed))
	for _, p := range removed {
		done[p] = struct{}{}
	}
	var out []string
	for _, p := range chunk {
		if _, ok := done[p]; !ok {
			out = append(out, p)
		}
	}
	return out
}
