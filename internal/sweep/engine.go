package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sweeperrors "github.com/bleepstore/bleepsweep/internal/errors"
	"github.com/bleepstore/bleepsweep/internal/metadata"
	"github.com/bleepstore/bleepsweep/internal/metrics"
	"github.com/bleepstore/bleepsweep/internal/storage"
	"github.com/bleepstore/bleepsweep/internal/uid"
)

// Engine defaults.
const (
	DefaultChunkSize          = 900
	MaxChunkSize              = 1000
	DefaultPageSize           = storage.DefaultPageSize
	DefaultSampleSize         = 10
	DefaultListConcurrency    = 4
	DefaultCollectConcurrency = 4
	DefaultDeleteConcurrency  = 4
	DefaultMaxDepth           = 64
)

// UnrecognizedPolicy decides what an orphan sweep does with buckets that
// have unrecognized reference values.
type UnrecognizedPolicy string

const (
	// PolicySkipBucket excludes tainted buckets from the sweep.
	PolicySkipBucket UnrecognizedPolicy = "skip_bucket"
	// PolicyAbort aborts the whole sweep.
	PolicyAbort UnrecognizedPolicy = "abort"
	// PolicyIgnore drops unrecognized values and sweeps anyway.
	PolicyIgnore UnrecognizedPolicy = "ignore"
)

// ParsePolicy validates a policy name; empty selects PolicySkipBucket.
func ParsePolicy(s string) (UnrecognizedPolicy, error) {
	switch UnrecognizedPolicy(s) {
	case "", PolicySkipBucket:
		return PolicySkipBucket, nil
	case PolicyAbort, PolicyIgnore:
		return UnrecognizedPolicy(s), nil
	}
	return "", fmt.Errorf("unknown unrecognized_policy %q", s)
}

// EngineConfig is built once at startup and injected into the engine.
type EngineConfig struct {
	// Buckets and Prefixes are used when a request names none.
	Buckets  []string `json:"buckets"`
	Prefixes []string `json:"prefixes"`
	// References are the descriptors scanned for live references.
	References []metadata.Descriptor `json:"references"`
	// StorageHosts are the hostnames of the object store; absolute URLs on
	// other hosts are external references.
	StorageHosts []string `json:"storageHosts,omitempty"`
	// MaxDeletes is the default cap; nil means no cap.
	MaxDeletes         *int               `json:"maxDeletes"`
	ChunkSize          int                `json:"chunkSize"`
	PageSize           int                `json:"pageSize"`
	SampleSize         int                `json:"sampleSize"`
	ListConcurrency    int                `json:"listConcurrency"`
	CollectConcurrency int                `json:"collectConcurrency"`
	DeleteConcurrency  int                `json:"deleteConcurrency"`
	DeleteRPS          float64            `json:"deleteRps,omitempty"`
	MaxDepth           int                `json:"maxDepth"`
	UnrecognizedPolicy UnrecognizedPolicy `json:"unrecognizedPolicy"`
}

// withDefaults returns a copy with zero values replaced by defaults.
func (c EngineConfig) withDefaults() EngineConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ChunkSize > MaxChunkSize {
		c.ChunkSize = MaxChunkSize
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.SampleSize <= 0 {
		c.SampleSize = DefaultSampleSize
	}
	if c.ListConcurrency <= 0 {
		c.ListConcurrency = DefaultListConcurrency
	}
	if c.CollectConcurrency <= 0 {
		c.CollectConcurrency = DefaultCollectConcurrency
	}
	if c.DeleteConcurrency <= 0 {
		c.DeleteConcurrency = DefaultDeleteConcurrency
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	if c.UnrecognizedPolicy == "" {
		c.UnrecognizedPolicy = PolicySkipBucket
	}
	c.Buckets = append([]string(nil), c.Buckets...)
	c.Prefixes = append([]string(nil), c.Prefixes...)
	c.References = append([]metadata.Descriptor(nil), c.References...)
	c.StorageHosts = append([]string(nil), c.StorageHosts...)
	if c.MaxDeletes != nil {
		v := *c.MaxDeletes
		c.MaxDeletes = &v
	}
	return c
}

// ScopeResolver returns the reference values owned by a set of owner ids.
type ScopeResolver interface {
	Resolve(ctx context.Context, owners []string, fn func(metadata.ScopedValue) error) error
}

// Engine plans, guards and executes sweeps.
type Engine struct {
	cfg     EngineConfig
	store   storage.ObjectStore
	refs    metadata.ReferenceSource
	scope   ScopeResolver
	lister  *Lister
	deleter *Deleter
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithReferenceSource sets the metadata store used by orphan sweeps. Unless
// WithScopeResolver is also given, it also backs owner-scoped sweeps.
func WithReferenceSource(src metadata.ReferenceSource) Option {
	return func(e *Engine) {
		e.refs = src
	}
}

// WithScopeResolver sets the resolver used by owner-scoped targeted sweeps.
func WithScopeResolver(r ScopeResolver) Option {
	return func(e *Engine) {
		e.scope = r
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine creates an Engine. store may be nil, in which case every sweep
// fails with ErrNoAdminCreds.
func NewEngine(cfg EngineConfig, store storage.ObjectStore, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg.withDefaults(),
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.scope == nil && e.refs != nil {
		e.scope = metadata.NewScopeResolver(e.refs, e.cfg.References)
	}
	e.lister = NewLister(store, e.cfg.PageSize, e.cfg.MaxDepth, e.cfg.ListConcurrency)
	e.deleter = NewDeleter(store, e.cfg.ChunkSize, e.cfg.DeleteConcurrency, e.cfg.DeleteRPS, e.logger)
	return e
}

// Config returns the resolved engine configuration.
func (e *Engine) Config() EngineConfig {
	return e.cfg.withDefaults()
}

// report builds the result skeleton shared by previews, aborts and
// executed runs.
func (e *Engine) report(plan *SweepPlan, id string, dryRun bool) *SweepResult {
	res := &SweepResult{
		OK:           true,
		Mode:         ResultDeleted,
		SweepID:      id,
		Purge:        plan.Mode,
		DryRun:       dryRun,
		Tried:        plan.TotalCandidates,
		PerBucket:    []BucketResult{},
		Unrecognized: append([]string(nil), plan.Unrecognized...),
	}
	if dryRun {
		res.Mode = ResultPreview
	}
	for _, b := range plan.Buckets() {
		br := BucketResult{Bucket: b, Sample: []string{}}
		if reason, ok := plan.Skipped[b]; ok {
			br.Skipped = true
			br.SkipReason = reason
		}
		paths := plan.CandidatesByBucket[b]
		br.Tried = len(paths)
		br.Sample = sample(paths, e.cfg.SampleSize)
		res.PerBucket = append(res.PerBucket, br)
	}
	return res
}

// Preview reports what executing a guarded plan would do, without deleting.
func (e *Engine) Preview(g *GuardedPlan, id string) *SweepResult {
	return e.report(g.plan, id, true)
}

// Aborted reports a guard abort. Nothing is deleted.
func (e *Engine) Aborted(a *Abort, id string, dryRun bool) *SweepResult {
	res := e.report(a.Plan, id, dryRun)
	res.Aborted = true
	res.Reason = a.Reason
	if a.Limit != nil {
		limit := *a.Limit
		res.Limit = &limit
	}
	return res
}

// Execute deletes the candidates of a guarded plan bucket by bucket. Once
// ctx is done no further chunk is issued and the result is marked
// cancelled.
func (e *Engine) Execute(ctx context.Context, g *GuardedPlan, id string) *SweepResult {
	res := e.report(g.plan, id, false)
	for i := range res.PerBucket {
		br := &res.PerBucket[i]
		paths := g.plan.CandidatesByBucket[br.Bucket]
		if len(paths) == 0 {
			continue
		}
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}
		out := e.deleter.Delete(ctx, br.Bucket, paths)
		br.Removed = out.Removed
		br.Failed = out.Failed
		res.Removed += out.Removed
		e.logger.Info("Bucket swept", "sweep_id", id, "mode", string(g.plan.Mode), "bucket", br.Bucket,
			"tried", br.Tried, "removed", br.Removed, "failed", len(br.Failed))
		if out.Cancelled {
			res.Cancelled = true
			break
		}
	}
	if res.Cancelled {
		res.OK = false
		res.Reason = ReasonCancelled
	}
	return res
}

// Run composes Plan, filter, Guard and, unless req.DryRun, Execute.
func (e *Engine) Run(ctx context.Context, req SweepRequest) (*SweepResult, error) {
	start := e.now()
	mode := string(req.Mode)

	res, err := e.run(ctx, req, uid.SweepID(start))
	if err != nil {
		metrics.SweepsTotal.WithLabelValues(mode, "error").Inc()
		e.logger.Error("Sweep failed", "mode", mode, "error", err)
		return nil, err
	}

	metrics.SweepsTotal.WithLabelValues(mode, outcome(res)).Inc()
	metrics.SweepDuration.WithLabelValues(mode).Observe(e.now().Sub(start).Seconds())
	e.logger.Info("Sweep finished", "sweep_id", res.SweepID, "mode", mode, "dry_run", res.DryRun,
		"tried", res.Tried, "removed", res.Removed, "aborted", res.Aborted, "reason", res.Reason,
		"duration", e.now().Sub(start))
	return res, nil
}

func (e *Engine) run(ctx context.Context, req SweepRequest, id string) (*SweepResult, error) {
	filter := CompileFilter(req.Filter)
	if filter.State() == FilterInvalid {
		return nil, sweeperrors.ErrInvalidFilter.Wrap(filter.Err())
	}

	e.logger.Info("Sweep started", "sweep_id", id, "mode", string(req.Mode), "dry_run", req.DryRun,
		"buckets", strings.Join(req.Buckets, ","), "filter", filter.State().String())

	plan, err := e.Plan(ctx, req)
	if err != nil {
		return nil, err
	}
	filtered := filter.Apply(plan)
	metrics.Candidates.WithLabelValues(string(req.Mode)).Observe(float64(filtered.TotalCandidates))

	maxDeletes := req.MaxDeletes
	if maxDeletes == nil {
		maxDeletes = e.cfg.MaxDeletes
	}
	guarded, abort := Guard(filtered, maxDeletes)
	switch {
	case abort != nil:
		e.logger.Warn("Sweep aborted by guard", "sweep_id", id, "mode", string(req.Mode),
			"reason", abort.Reason, "candidates", filtered.TotalCandidates)
		return e.Aborted(abort, id, req.DryRun), nil
	case req.DryRun:
		return e.Preview(guarded, id), nil
	default:
		return e.Execute(ctx, guarded, id), nil
	}
}

func outcome(res *SweepResult) string {
	switch {
	case res.Aborted:
		return "aborted"
	case res.Cancelled:
		return "cancelled"
	case res.DryRun:
		return ResultPreview
	default:
		return ResultDeleted
	}
}
