// Package sweep implements the reference-aware purge engine: it plans a set
// of deletion candidates (by prefix, by orphan detection against live
// references, or by owner scope), narrows them with a safe-mode filter,
// guards against oversized runs and deletes the survivors in chunks.
package sweep

import (
	"sort"
	"strings"

	sweeperrors "github.com/bleepstore/bleepsweep/internal/errors"
)

// Mode selects how candidates are computed.
type Mode string

const (
	// ModePrefix deletes everything under the prefixes.
	ModePrefix Mode = "prefix"
	// ModeOrphan deletes objects under the prefixes that no reference points to.
	ModeOrphan Mode = "orphan"
	// ModeTargeted deletes an explicit or owner-scoped set of references.
	ModeTargeted Mode = "targeted"
)

// ParseMode accepts the mode names used by callers, including the plural
// "orphans".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "prefix":
		return ModePrefix, nil
	case "orphan", "orphans":
		return ModeOrphan, nil
	case "targeted":
		return ModeTargeted, nil
	}
	return "", sweeperrors.ErrInvalidMode.WithMessage("unknown purge mode %q", s)
}

// Result modes.
const (
	ResultPreview = "preview"
	ResultDeleted = "deleted"
)

// Abort reasons.
const (
	ReasonExceedsMaxDeletes = "exceeds maxDeletes"
	ReasonUnrecognizedRefs  = "unrecognized references"
	ReasonCancelled         = "context canceled"
	ReasonOutsideAllowList  = "not in bucket allow-list"
)

// StorageRef addresses one object. Paths carry no leading slash.
type StorageRef struct {
	Bucket string `json:"bucket"`
	Path   string `json:"path"`
}

// String renders the ref as bucket/path.
func (r StorageRef) String() string {
	return r.Bucket + "/" + r.Path
}

// SweepRequest is one purge invocation.
type SweepRequest struct {
	Mode     Mode
	Buckets  []string
	Prefixes []string
	Filter   FilterSpec
	// MaxDeletes caps the candidate count; nil falls back to the engine
	// default, which may itself be unset.
	MaxDeletes *int
	// Items are explicit candidates for targeted mode.
	Items []StorageRef
	// Owners scope targeted mode to the rows these owner ids hold.
	Owners []string
	DryRun bool
}

// SweepPlan is an immutable snapshot of candidates per bucket. Each stage
// derives a new plan.
type SweepPlan struct {
	Mode               Mode
	CandidatesByBucket map[string][]string
	TotalCandidates    int
	// Skipped maps buckets excluded from the sweep to the reason.
	Skipped map[string]string
	// Unrecognized holds up to the sample size of raw reference values the
	// parser could not classify.
	Unrecognized []string
	// Blocked, when set, makes the guard abort with this reason.
	Blocked string
}

// newPlan builds a plan from raw candidates, deduplicating and sorting the
// paths of each bucket.
func newPlan(mode Mode, candidates map[string][]string, skipped map[string]string) *SweepPlan {
	p := &SweepPlan{
		Mode:               mode,
		CandidatesByBucket: make(map[string][]string, len(candidates)),
		Skipped:            make(map[string]string, len(skipped)),
	}
	for bucket, paths := range candidates {
		uniq := dedupeSorted(paths)
		p.CandidatesByBucket[bucket] = uniq
		p.TotalCandidates += len(uniq)
	}
	for bucket, reason := range skipped {
		p.Skipped[bucket] = reason
	}
	return p
}

// derive copies the plan metadata onto a new plan with other candidates.
func (p *SweepPlan) derive(candidates map[string][]string) *SweepPlan {
	np := newPlan(p.Mode, candidates, p.Skipped)
	np.Unrecognized = append([]string(nil), p.Unrecognized...)
	np.Blocked = p.Blocked
	return np
}

// Buckets returns every bucket in the plan, candidates or skipped, sorted.
func (p *SweepPlan) Buckets() []string {
	seen := make(map[string]struct{})
	for b := range p.CandidatesByBucket {
		seen[b] = struct{}{}
	}
	for b := range p.Skipped {
		seen[b] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for b := range seen {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

// BucketResult is the per-bucket part of a SweepResult.
type BucketResult struct {
	Bucket  string   `json:"bucket"`
	Tried   int      `json:"tried"`
	Removed int      `json:"removed"`
	Sample  []string `json:"sample"`
	// Failed lists paths whose delete chunk errored.
	Failed     []string `json:"failed,omitempty"`
	Skipped    bool     `json:"skipped,omitempty"`
	SkipReason string   `json:"skipReason,omitempty"`
}

// SweepResult is the record returned for every sweep, with the same shape
// for previews and executed runs.
type SweepResult struct {
	OK      bool   `json:"ok"`
	Mode    string `json:"mode"`
	SweepID string `json:"sweepId"`
	Purge   Mode   `json:"purgeMode"`
	DryRun  bool   `json:"dryRun"`
	Removed int    `json:"removed"`
	Tried   int    `json:"tried"`
	// Aborted reports the guard verdict. In a preview it is the verdict an
	// execute run would reach.
	Aborted   bool           `json:"aborted"`
	Reason    string         `json:"reason,omitempty"`
	Limit     *int           `json:"limit,omitempty"`
	Cancelled bool           `json:"cancelled,omitempty"`
	PerBucket []BucketResult `json:"perBucket"`
	// Unrecognized echoes raw reference values that could not be parsed.
	Unrecognized []string `json:"unrecognized,omitempty"`
}

func dedupeSorted(paths []string) []string {
	if len(paths) == 0 {
		return []string{}
	}
	cp := append([]string(nil), paths...)
	sort.Strings(cp)
	out := cp[:1]
	for _, p := range cp[1:] {
		if p != out[len(out)-1] {
			out = append(out, p)
		}
	}
	return out
}

func sample(paths []string, n int) []string {
	if n > len(paths) {
		n = len(paths)
	}
	return append([]string{}, paths[:n]...)
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
