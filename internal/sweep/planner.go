package sweep

import (
	"context"
	"sort"

	sweeperrors "github.com/bleepstore/bleepsweep/internal/errors"
	"github.com/bleepstore/bleepsweep/internal/metadata"
	"github.com/bleepstore/bleepsweep/internal/metrics"
	"github.com/bleepstore/bleepsweep/internal/storage"
)

// knownBuckets are the bucket names the reference parser accepts as
// shorthand prefixes.
func (e *Engine) knownBuckets(extra []string) []string {
	known := append([]string(nil), e.cfg.Buckets...)
	for _, d := range e.cfg.References {
		if d.BucketHint != "" {
			known = append(known, d.BucketHint)
		}
	}
	return dedupeStrings(append(known, extra...))
}

// resolveBuckets returns the request buckets or the configured defaults.
func (e *Engine) resolveBuckets(req SweepRequest) ([]string, error) {
	buckets := dedupeStrings(req.Buckets)
	if len(buckets) == 0 {
		buckets = dedupeStrings(e.cfg.Buckets)
	}
	if len(buckets) == 0 {
		return nil, sweeperrors.ErrNoBuckets
	}
	sort.Strings(buckets)
	return buckets, nil
}

// resolvePrefixes returns the normalized request prefixes, or the
// configured defaults when the request names none.
func (e *Engine) resolvePrefixes(req SweepRequest) []string {
	raw := req.Prefixes
	if raw == nil {
		raw = e.cfg.Prefixes
	}
	seen := make(map[string]struct{})
	var out []string
	for _, p := range raw {
		n := storage.NormalizePrefix(p)
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Plan computes the unfiltered candidate set for req.
func (e *Engine) Plan(ctx context.Context, req SweepRequest) (*SweepPlan, error) {
	if e.store == nil {
		return nil, sweeperrors.ErrNoAdminCreds
	}
	buckets, err := e.resolveBuckets(req)
	if err != nil {
		return nil, err
	}

	switch req.Mode {
	case ModePrefix:
		return e.planPrefix(ctx, buckets, e.resolvePrefixes(req))
	case ModeOrphan:
		return e.planOrphan(ctx, buckets, e.resolvePrefixes(req))
	case ModeTargeted:
		return e.planTargeted(ctx, buckets, req)
	}
	return nil, sweeperrors.ErrInvalidMode.WithMessage("unknown purge mode %q", req.Mode)
}

func (e *Engine) planPrefix(ctx context.Context, buckets, prefixes []string) (*SweepPlan, error) {
	var nonEmpty []string
	for _, p := range prefixes {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	if len(nonEmpty) == 0 {
		return nil, sweeperrors.ErrEmptyPrefix
	}

	listed, err := e.lister.ListRoots(ctx, roots(buckets, nonEmpty))
	if err != nil {
		return nil, sweeperrors.ErrListFailed.Wrap(err)
	}
	return newPlan(ModePrefix, listed, nil), nil
}

func (e *Engine) planOrphan(ctx context.Context, buckets, prefixes []string) (*SweepPlan, error) {
	if e.refs == nil {
		return nil, sweeperrors.ErrNoReferenceSource
	}
	if len(e.cfg.References) == 0 {
		return nil, sweeperrors.ErrNoReferenceSource.WithMessage("no reference descriptors are configured")
	}
	if len(prefixes) == 0 {
		prefixes = []string{""}
	}

	parser := NewRefParser(e.knownBuckets(buckets), e.cfg.StorageHosts)
	collector := NewCollector(e.refs, e.cfg.References, parser, e.cfg.CollectConcurrency, e.logger)
	index, err := collector.Collect(ctx)
	if err != nil {
		return nil, err
	}

	skipped := make(map[string]string)
	blocked := ""
	var sweepable []string
	for _, b := range buckets {
		if !index.Tainted(b) {
			sweepable = append(sweepable, b)
			continue
		}
		switch e.cfg.UnrecognizedPolicy {
		case PolicyIgnore:
			sweepable = append(sweepable, b)
		case PolicyAbort:
			blocked = ReasonUnrecognizedRefs
			skipped[b] = ReasonUnrecognizedRefs
		default:
			skipped[b] = ReasonUnrecognizedRefs
		}
	}
	unrecognized := index.UnrecognizedSamples(buckets, e.cfg.SampleSize)
	if len(unrecognized) > 0 {
		e.logger.Warn("Unrecognized reference values",
			"count", index.UnrecognizedCount(), "policy", string(e.cfg.UnrecognizedPolicy),
			"skipped_buckets", len(skipped), "sample", unrecognized)
	}

	candidates := make(map[string][]string)
	if blocked == "" {
		listed, err := e.lister.ListRoots(ctx, roots(sweepable, prefixes))
		if err != nil {
			return nil, sweeperrors.ErrListFailed.Wrap(err)
		}
		for bucket, paths := range listed {
			orphans := make([]string, 0, len(paths))
			for _, p := range paths {
				if !index.Contains(bucket, p) {
					orphans = append(orphans, p)
				}
			}
			candidates[bucket] = orphans
		}
	}

	plan := newPlan(ModeOrphan, candidates, skipped)
	plan.Unrecognized = unrecognized
	plan.Blocked = blocked
	return plan, nil
}

func (e *Engine) planTargeted(ctx context.Context, buckets []string, req SweepRequest) (*SweepPlan, error) {
	if len(req.Items) == 0 && len(req.Owners) == 0 {
		return nil, sweeperrors.ErrInvalidRequest.WithMessage("targeted mode requires items or owners")
	}

	allowed := make(map[string]struct{}, len(buckets))
	candidates := make(map[string][]string, len(buckets))
	for _, b := range buckets {
		allowed[b] = struct{}{}
		candidates[b] = nil
	}
	skipped := make(map[string]string)
	add := func(ref StorageRef) {
		if _, ok := allowed[ref.Bucket]; !ok {
			skipped[ref.Bucket] = ReasonOutsideAllowList
			return
		}
		candidates[ref.Bucket] = append(candidates[ref.Bucket], ref.Path)
	}

	for _, item := range req.Items {
		path, ok := cleanPath(item.Path)
		if !ok || item.Bucket == "" {
			continue
		}
		add(StorageRef{Bucket: item.Bucket, Path: path})
	}

	var unrecognized []string
	if len(req.Owners) > 0 {
		if e.scope == nil {
			return nil, sweeperrors.ErrNoReferenceSource
		}
		parser := NewRefParser(e.knownBuckets(buckets), e.cfg.StorageHosts)
		err := e.scope.Resolve(ctx, dedupeStrings(req.Owners), func(sv metadata.ScopedValue) error {
			if sv.Opaque {
				metrics.UnrecognizedRefsTotal.Inc()
				unrecognized = append(unrecognized, sv.Value)
				return nil
			}
			parsed := parser.Parse(sv.Value, sv.Descriptor.BucketHint)
			switch parsed.Kind {
			case RefRecognized:
				add(parsed.Ref)
			case RefUnrecognized:
				metrics.UnrecognizedRefsTotal.Inc()
				unrecognized = append(unrecognized, parsed.Raw)
			}
			return nil
		})
		if err != nil {
			return nil, sweeperrors.ErrReferenceScan.Wrap(err)
		}
	}

	plan := newPlan(ModeTargeted, candidates, skipped)
	plan.Unrecognized = sample(dedupeSorted(unrecognized), e.cfg.SampleSize)
	return plan, nil
}

func roots(buckets, prefixes []string) []Root {
	out := make([]Root, 0, len(buckets)*len(prefixes))
	for _, b := range buckets {
		for _, p := range prefixes {
			out = append(out, Root{Bucket: b, Prefix: p})
		}
	}
	return out
}

