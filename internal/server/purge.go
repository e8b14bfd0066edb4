package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	sweeperrors "github.com/bleepstore/bleepsweep/internal/errors"
	"github.com/bleepstore/bleepsweep/internal/storage"
	"github.com/bleepstore/bleepsweep/internal/sweep"
)

// defaultPurgeMode is used when a request names no mode.
const defaultPurgeMode = "orphans"

// PurgeQueryInput is the GET /purge query string.
type PurgeQueryInput struct {
	DryRun          bool     `query:"dryRun" default:"true" doc:"Preview only; nothing is deleted"`
	PurgeMode       string   `query:"purgeMode" doc:"prefix, targeted, orphans or orphan (default orphans)"`
	Buckets         []string `query:"buckets" doc:"Buckets to sweep (default from configuration)"`
	ExtraPrefixes   []string `query:"extraPrefixes" doc:"Prefixes added to the sweep"`
	IncludeDefaults bool     `query:"includeDefaults" default:"true" doc:"Include the configured default prefixes"`
	SafeMode        bool     `query:"safeMode" doc:"Enable the filename filter"`
	FilenamePattern string   `query:"filenamePattern" doc:"Glob or regex filter pattern"`
	PatternMode     string   `query:"patternMode" doc:"glob or regex"`
	MatchScope      string   `query:"matchScope" doc:"basename or path"`
	CaseInsensitive bool     `query:"caseInsensitive" doc:"Case-insensitive matching"`
	MaxDeletes      string   `query:"maxDeletes" doc:"Candidate cap; empty or null uses the configured default"`
	Owners          []string `query:"owners" doc:"Owner ids for targeted mode"`
}

// PurgeBody is the POST /purge JSON body.
type PurgeBody struct {
	DryRun          *bool              `json:"dryRun,omitempty" doc:"Preview only (default true)"`
	PurgeMode       string             `json:"purgeMode,omitempty" doc:"prefix, targeted, orphans or orphan (default orphans)"`
	Buckets         []string           `json:"buckets,omitempty" doc:"Buckets to sweep (default from configuration)"`
	ExtraPrefixes   []string           `json:"extraPrefixes,omitempty" doc:"Prefixes added to the sweep"`
	IncludeDefaults *bool              `json:"includeDefaults,omitempty" doc:"Include the configured default prefixes (default true)"`
	SafeMode        bool               `json:"safeMode,omitempty" doc:"Enable the filename filter"`
	FilenamePattern *string            `json:"filenamePattern,omitempty" nullable:"true" doc:"Glob or regex filter pattern"`
	PatternMode     string             `json:"patternMode,omitempty" doc:"glob or regex"`
	MatchScope      string             `json:"matchScope,omitempty" doc:"basename or path"`
	CaseInsensitive bool               `json:"caseInsensitive,omitempty" doc:"Case-insensitive matching"`
	MaxDeletes      *int               `json:"maxDeletes,omitempty" nullable:"true" doc:"Candidate cap; null uses the configured default"`
	Items           []sweep.StorageRef `json:"items,omitempty" doc:"Explicit candidates for targeted mode"`
	Owners          []string           `json:"owners,omitempty" doc:"Owner ids for targeted mode"`
}

// PurgeBodyInput is the Huma input struct for POST /purge.
type PurgeBodyInput struct {
	Body PurgeBody
}

// ResolvedConfig echoes the effective parameters of a purge.
type ResolvedConfig struct {
	PurgeMode      sweep.Mode       `json:"purgeMode"`
	DryRun         bool             `json:"dryRun"`
	Buckets        []string         `json:"buckets"`
	Prefixes       []string         `json:"prefixes"`
	Filter         sweep.FilterSpec `json:"filter"`
	MaxDeletes     *int             `json:"maxDeletes"`
	StorageBackend string           `json:"storageBackend"`
	MetadataEngine string           `json:"metadataEngine"`
}

// PurgeResponse is the body of a completed or aborted purge.
type PurgeResponse struct {
	OK   bool   `json:"ok"`
	Mode string `json:"mode" doc:"preview or deleted"`
	// Aborted is true only when an execute run was refused by the guard.
	Aborted bool `json:"aborted"`
	// WouldAbort is the guard verdict, reported for previews too.
	WouldAbort bool               `json:"wouldAbort"`
	Reason     string             `json:"reason,omitempty"`
	Storage    *sweep.SweepResult `json:"storage"`
	Config     ResolvedConfig     `json:"config"`
}

// PurgeOutput is the Huma output struct for both purge routes.
type PurgeOutput struct {
	Body PurgeResponse
}

// PurgeError is the JSON error body of a rejected or failed purge. The
// code is carried as both error and reason.
type PurgeError struct {
	OK      bool   `json:"ok"`
	Code    string `json:"error"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
	status  int
}

// Error implements the error interface.
func (e *PurgeError) Error() string { return e.Code + ": " + e.Message }

// GetStatus implements huma.StatusError.
func (e *PurgeError) GetStatus() int { return e.status }

// purgeParams is the transport-neutral form of both purge inputs.
type purgeParams struct {
	dryRun          bool
	purgeMode       string
	buckets         []string
	extraPrefixes   []string
	includeDefaults bool
	filter          sweep.FilterSpec
	maxDeletes      *int
	items           []sweep.StorageRef
	owners          []string
}

func (s *Server) registerPurge() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-purge",
		Method:      http.MethodGet,
		Path:        "/purge",
		Summary:     "Run a purge from query parameters",
		Description: "Plans, guards and optionally executes a sweep. dryRun defaults to true.",
		Tags:        []string{"Purge"},
	}, func(ctx context.Context, in *PurgeQueryInput) (*PurgeOutput, error) {
		p, err := paramsFromQuery(in)
		if err != nil {
			return nil, toPurgeError(err)
		}
		return s.purge(ctx, p)
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "post-purge",
		Method:      http.MethodPost,
		Path:        "/purge",
		Summary:     "Run a purge from a JSON body",
		Description: "Plans, guards and optionally executes a sweep. dryRun defaults to true.",
		Tags:        []string{"Purge"},
	}, func(ctx context.Context, in *PurgeBodyInput) (*PurgeOutput, error) {
		p, err := paramsFromBody(&in.Body)
		if err != nil {
			return nil, toPurgeError(err)
		}
		return s.purge(ctx, p)
	})
}

func paramsFromQuery(in *PurgeQueryInput) (purgeParams, error) {
	maxDeletes, err := parseMaxDeletes(in.MaxDeletes)
	if err != nil {
		return purgeParams{}, err
	}
	return purgeParams{
		dryRun:          in.DryRun,
		purgeMode:       in.PurgeMode,
		buckets:         splitList(in.Buckets),
		extraPrefixes:   splitList(in.ExtraPrefixes),
		includeDefaults: in.IncludeDefaults,
		filter: sweep.FilterSpec{
			Enabled:         in.SafeMode,
			Pattern:         in.FilenamePattern,
			PatternMode:     sweep.PatternMode(in.PatternMode),
			MatchScope:      sweep.MatchScope(in.MatchScope),
			CaseInsensitive: in.CaseInsensitive,
		},
		maxDeletes: maxDeletes,
		owners:     splitList(in.Owners),
	}, nil
}

func paramsFromBody(b *PurgeBody) (purgeParams, error) {
	if b.MaxDeletes != nil && *b.MaxDeletes < 0 {
		return purgeParams{}, sweeperrors.ErrInvalidRequest.WithMessage("maxDeletes must be a non-negative integer or null, got %d", *b.MaxDeletes)
	}
	p := purgeParams{
		dryRun:          true,
		purgeMode:       b.PurgeMode,
		buckets:         b.Buckets,
		extraPrefixes:   b.ExtraPrefixes,
		includeDefaults: true,
		filter: sweep.FilterSpec{
			Enabled:         b.SafeMode,
			PatternMode:     sweep.PatternMode(b.PatternMode),
			MatchScope:      sweep.MatchScope(b.MatchScope),
			CaseInsensitive: b.CaseInsensitive,
		},
		maxDeletes: b.MaxDeletes,
		items:      b.Items,
		owners:     b.Owners,
	}
	if b.DryRun != nil {
		p.dryRun = *b.DryRun
	}
	if b.IncludeDefaults != nil {
		p.includeDefaults = *b.IncludeDefaults
	}
	if b.FilenamePattern != nil {
		p.filter.Pattern = *b.FilenamePattern
	}
	return p, nil
}

// parseMaxDeletes reads the query form of maxDeletes. Empty and "null"
// mean unset.
func parseMaxDeletes(raw string) (*int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "null") {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return nil, sweeperrors.ErrInvalidRequest.WithMessage("maxDeletes must be a non-negative integer or null, got %q", raw)
	}
	return &n, nil
}

// splitList flattens comma-separated query values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// toRequest resolves purge parameters against the engine defaults.
func (s *Server) toRequest(p purgeParams) (sweep.SweepRequest, ResolvedConfig, error) {
	modeName := p.purgeMode
	if modeName == "" {
		modeName = defaultPurgeMode
	}
	mode, err := sweep.ParseMode(modeName)
	if err != nil {
		return sweep.SweepRequest{}, ResolvedConfig{}, err
	}

	ec := s.engine.Config()
	buckets := p.buckets
	if len(buckets) == 0 {
		buckets = ec.Buckets
	}
	// An explicit non-nil slice keeps the engine from re-adding defaults.
	prefixes := []string{}
	var raw []string
	if p.includeDefaults {
		raw = append(raw, ec.Prefixes...)
	}
	for _, prefix := range append(raw, p.extraPrefixes...) {
		prefixes = append(prefixes, storage.NormalizePrefix(prefix))
	}

	maxDeletes := p.maxDeletes
	if maxDeletes == nil {
		maxDeletes = ec.MaxDeletes
	}

	req := sweep.SweepRequest{
		Mode:       mode,
		Buckets:    buckets,
		Prefixes:   prefixes,
		Filter:     p.filter,
		MaxDeletes: maxDeletes,
		Items:      p.items,
		Owners:     p.owners,
		DryRun:     p.dryRun,
	}
	resolved := ResolvedConfig{
		PurgeMode:      mode,
		DryRun:         p.dryRun,
		Buckets:        append([]string{}, buckets...),
		Prefixes:       prefixes,
		Filter:         p.filter,
		MaxDeletes:     maxDeletes,
		StorageBackend: s.cfg.Storage.Backend,
		MetadataEngine: s.cfg.Metadata.Engine,
	}
	return req, resolved, nil
}

func (s *Server) purge(ctx context.Context, p purgeParams) (*PurgeOutput, error) {
	req, resolved, err := s.toRequest(p)
	if err != nil {
		return nil, toPurgeError(err)
	}

	if timeout := s.cfg.SweepTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := s.engine.Run(ctx, req)
	if err != nil {
		return nil, toPurgeError(err)
	}

	return &PurgeOutput{Body: PurgeResponse{
		OK:         res.OK,
		Mode:       res.Mode,
		Aborted:    res.Aborted && !res.DryRun,
		WouldAbort: res.Aborted,
		Reason:     res.Reason,
		Storage:    res,
		Config:     resolved,
	}}, nil
}

// toPurgeError maps engine errors to their HTTP status and code.
func toPurgeError(err error) *PurgeError {
	code := sweeperrors.Code(err)
	pe := &PurgeError{
		Code:    code,
		Reason:  code,
		Message: err.Error(),
		status:  sweeperrors.Status(err),
	}
	if se, ok := sweeperrors.As(err); ok {
		pe.Message = se.Message
		if cause := errors.Unwrap(se); cause != nil {
			pe.Message += ": " + cause.Error()
		}
	}
	if pe.status >= http.StatusInternalServerError {
		slog.Error("Purge failed", "code", pe.Code, "error", err)
	}
	return pe
}
