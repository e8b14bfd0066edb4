package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	sweeperrors "github.com/bleepstore/bleepsweep/internal/errors"
	"github.com/bleepstore/bleepsweep/internal/metadata"
	"github.com/bleepstore/bleepsweep/internal/metrics"
)

// maxUnrecognizedSamples caps the raw values kept per taint target.
const maxUnrecognizedSamples = 10

// taint records unrecognized values attributed to one bucket (or to all).
type taint struct {
	count   int
	samples []string
}

func (t *taint) add(raw string) {
	t.count++
	if len(t.samples) < maxUnrecognizedSamples {
		t.samples = append(t.samples, raw)
	}
}

func (t *taint) merge(other *taint) {
	t.count += other.count
	for _, s := range other.samples {
		if len(t.samples) >= maxUnrecognizedSamples {
			break
		}
		t.samples = append(t.samples, s)
	}
}

// ReferenceIndex is the set of live paths per bucket plus the unrecognized
// values that may belong to each bucket. It is built fresh per sweep.
type ReferenceIndex struct {
	paths map[string]map[string]struct{}
	// tainted holds unrecognized values attributed to a bucket hint.
	tainted map[string]*taint
	// unhinted holds unrecognized values from descriptors without a hint;
	// they taint every swept bucket.
	unhinted *taint
	external int
}

// NewReferenceIndex creates an empty index.
func NewReferenceIndex() *ReferenceIndex {
	return &ReferenceIndex{
		paths:    make(map[string]map[string]struct{}),
		tainted:  make(map[string]*taint),
		unhinted: &taint{},
	}
}

// Add marks ref as live.
func (ix *ReferenceIndex) Add(ref StorageRef) {
	set, ok := ix.paths[ref.Bucket]
	if !ok {
		set = make(map[string]struct{})
		ix.paths[ref.Bucket] = set
	}
	set[ref.Path] = struct{}{}
}

// Contains reports whether bucket/path is referenced.
func (ix *ReferenceIndex) Contains(bucket, path string) bool {
	_, ok := ix.paths[bucket][path]
	return ok
}

// Len returns the number of distinct referenced objects.
func (ix *ReferenceIndex) Len() int {
	n := 0
	for _, set := range ix.paths {
		n += len(set)
	}
	return n
}

// Taint attributes an unrecognized value to bucket, or to every bucket when
// bucket is empty.
func (ix *ReferenceIndex) Taint(bucket, raw string) {
	if bucket == "" {
		ix.unhinted.add(raw)
		return
	}
	t, ok := ix.tainted[bucket]
	if !ok {
		t = &taint{}
		ix.tainted[bucket] = t
	}
	t.add(raw)
}

// Tainted reports whether bucket has any unrecognized value that could
// belong to it.
func (ix *ReferenceIndex) Tainted(bucket string) bool {
	if ix.unhinted.count > 0 {
		return true
	}
	t, ok := ix.tainted[bucket]
	return ok && t.count > 0
}

// UnrecognizedCount returns the number of unrecognized values seen.
func (ix *ReferenceIndex) UnrecognizedCount() int {
	n := ix.unhinted.count
	for _, t := range ix.tainted {
		n += t.count
	}
	return n
}

// UnrecognizedSamples returns up to limit raw values relevant to buckets,
// sorted.
func (ix *ReferenceIndex) UnrecognizedSamples(buckets []string, limit int) []string {
	seen := make(map[string]struct{})
	collect := func(t *taint) {
		if t == nil {
			return
		}
		for _, s := range t.samples {
			seen[s] = struct{}{}
		}
	}
	collect(ix.unhinted)
	for _, b := range buckets {
		collect(ix.tainted[b])
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// merge folds other into ix.
func (ix *ReferenceIndex) merge(other *ReferenceIndex) {
	for bucket, set := range other.paths {
		for p := range set {
			ix.Add(StorageRef{Bucket: bucket, Path: p})
		}
	}
	for bucket, t := range other.tainted {
		dst, ok := ix.tainted[bucket]
		if !ok {
			dst = &taint{}
			ix.tainted[bucket] = dst
		}
		dst.merge(t)
	}
	ix.unhinted.merge(other.unhinted)
	ix.external += other.external
}

// Collector builds a ReferenceIndex from every configured descriptor.
type Collector struct {
	source      metadata.ReferenceSource
	descriptors []metadata.Descriptor
	parser      *RefParser
	concurrency int
	logger      *slog.Logger
}

// NewCollector creates a Collector. concurrency bounds the descriptors
// scanned at once.
func NewCollector(src metadata.ReferenceSource, descriptors []metadata.Descriptor, parser *RefParser, concurrency int, logger *slog.Logger) *Collector {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		source:      src,
		descriptors: descriptors,
		parser:      parser,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Collect scans every descriptor and unions the results. The first scan
// error cancels the remaining scans.
func (c *Collector) Collect(ctx context.Context) (*ReferenceIndex, error) {
	var (
		mu    sync.Mutex
		index = NewReferenceIndex()
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, d := range c.descriptors {
		g.Go(func() error {
			local := NewReferenceIndex()
			err := c.source.Values(gctx, d, func(v metadata.Value) error {
				c.record(local, d, v)
				return nil
			})
			if err != nil {
				return sweeperrors.ErrReferenceScan.Wrap(fmt.Errorf("scanning %s: %w", d, err))
			}
			c.logger.Debug("Collected references", "descriptor", d.String(),
				"refs", local.Len(), "unrecognized", local.UnrecognizedCount())

			mu.Lock()
			index.merge(local)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return index, nil
}

func (c *Collector) record(ix *ReferenceIndex, d metadata.Descriptor, value metadata.Value) {
	if value.Opaque {
		metrics.UnrecognizedRefsTotal.Inc()
		ix.Taint(d.BucketHint, value.Raw)
		return
	}
	parsed := c.parser.Parse(value.Raw, d.BucketHint)
	switch parsed.Kind {
	case RefRecognized:
		ix.Add(parsed.Ref)
	case RefExternal:
		ix.external++
	case RefUnrecognized:
		metrics.UnrecognizedRefsTotal.Inc()
		ix.Taint(d.BucketHint, parsed.Raw)
	}
}
