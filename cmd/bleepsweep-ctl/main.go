// Package main is the entry point for bleepsweep-ctl, the one-shot sweep tool.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/bleepstore/bleepsweep/internal/config"
	"github.com/bleepstore/bleepsweep/internal/logging"
	"github.com/bleepstore/bleepsweep/internal/serialization"
	"github.com/bleepstore/bleepsweep/internal/sweep"
)

const usage = "Usage: bleepsweep-ctl <preview|execute|export> [flags]"

// Exit codes.
const (
	exitOK      = 0
	exitError   = 1
	exitAborted = 2
	exitPartial = 3
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	rc := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(rc)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, usage)
		return exitError
	}
	switch args[0] {
	case "preview":
		return runSweep(ctx, "preview", args[1:], stdout, stderr)
	case "execute":
		return runSweep(ctx, "execute", args[1:], stdout, stderr)
	case "export":
		return runExport(ctx, args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n%s\n", args[0], usage)
		return exitError
	}
}

// listFlag collects a comma-separated or repeated flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*l = append(*l, part)
		}
	}
	return nil
}

func loadConfig(path, logLevel string, stderr io.Writer) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, stderr)
	return cfg, nil
}

func runSweep(ctx context.Context, command string, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "bleepsweep.yaml", "Config file path")
	logLevel := fs.String("log-level", "", "Log level override")
	mode := fs.String("mode", "orphans", "Purge mode: prefix, targeted, orphans")
	var buckets, prefixes, owners, items listFlag
	fs.Var(&buckets, "buckets", "Buckets to sweep (default from config)")
	fs.Var(&prefixes, "prefixes", "Extra prefixes to sweep")
	fs.Var(&owners, "owners", "Owner ids for targeted mode")
	fs.Var(&items, "items", "bucket/path candidates for targeted mode")
	includeDefaults := fs.Bool("include-defaults", true, "Include the configured default prefixes")
	pattern := fs.String("pattern", "", "Safe-mode filename pattern; empty disables the filter")
	patternMode := fs.String("pattern-mode", "glob", "Pattern mode: glob or regex")
	matchScope := fs.String("match-scope", "basename", "Match scope: basename or path")
	caseInsensitive := fs.Bool("i", false, "Case-insensitive pattern")
	maxDeletes := fs.String("max-deletes", "", "Candidate cap (default from config; null or none disables it)")
	timeout := fs.Duration("timeout", 0, "Overall deadline, e.g. 10m")
	yes := fs.Bool("yes", false, "Confirm deletion (execute only)")
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	dryRun := command == "preview"
	if !dryRun && !*yes {
		fmt.Fprintln(stderr, "Error: execute deletes objects; pass -yes to confirm")
		return exitError
	}

	cfg, err := loadConfig(*configPath, *logLevel, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return exitError
	}

	parsedMode, err := sweep.ParseMode(*mode)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	ec := cfg.Engine()
	req := sweep.SweepRequest{
		Mode:    parsedMode,
		Buckets: buckets,
		Filter: sweep.FilterSpec{
			Enabled:         *pattern != "",
			Pattern:         *pattern,
			PatternMode:     sweep.PatternMode(*patternMode),
			MatchScope:      sweep.MatchScope(*matchScope),
			CaseInsensitive: *caseInsensitive,
		},
		MaxDeletes: ec.MaxDeletes,
		Owners:     owners,
		DryRun:     dryRun,
	}
	req.Prefixes = []string{}
	if *includeDefaults {
		req.Prefixes = append(req.Prefixes, ec.Prefixes...)
	}
	req.Prefixes = append(req.Prefixes, prefixes...)

	switch v := strings.TrimSpace(*maxDeletes); {
	case v == "":
	case strings.EqualFold(v, "null"), strings.EqualFold(v, "none"):
		// The engine falls back to its own cap for a nil request cap.
		ec.MaxDeletes = nil
		req.MaxDeletes = nil
	default:
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			fmt.Fprintf(stderr, "Error: invalid -max-deletes %q\n", v)
			return exitError
		}
		req.MaxDeletes = &n
	}

	for _, item := range items {
		bucket, path, ok := strings.Cut(item, "/")
		if !ok || bucket == "" || path == "" {
			fmt.Fprintf(stderr, "Error: invalid item %q, want bucket/path\n", item)
			return exitError
		}
		req.Items = append(req.Items, sweep.StorageRef{Bucket: bucket, Path: path})
	}

	store, err := cfg.OpenObjectStore(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening object store: %v\n", err)
		return exitError
	}
	refs, err := cfg.OpenReferenceSource(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening reference source: %v\n", err)
		return exitError
	}

	var opts []sweep.Option
	if refs != nil {
		defer refs.Close()
		opts = append(opts, sweep.WithReferenceSource(refs))
	}
	if cfg.Metadata.Engine == "local" {
		if m, err := serialization.ReadManifest(cfg.Metadata.Local.Dir); err == nil {
			slog.Info("Using reference snapshot", "exported_at", m.ExportedAt, "source", m.Source)
		}
	}

	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	engine := sweep.NewEngine(ec, store, opts...)
	res, err := engine.Run(ctx, req)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		fmt.Fprintf(stderr, "Error writing result: %v\n", err)
		return exitError
	}

	switch {
	case res.Aborted && res.DryRun:
		fmt.Fprintf(stderr, "Execute would abort: %s\n", res.Reason)
	case res.Aborted:
		fmt.Fprintf(stderr, "Aborted: %s\n", res.Reason)
		return exitAborted
	case res.Cancelled || hasFailures(res):
		return exitPartial
	}
	return exitOK
}

func hasFailures(res *sweep.SweepResult) bool {
	for _, b := range res.PerBucket {
		if len(b.Failed) > 0 {
			return true
		}
	}
	return false
}

func runExport(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "bleepsweep.yaml", "Config file path")
	logLevel := fs.String("log-level", "", "Log level override")
	output := fs.String("output", "", "Snapshot directory")
	timeout := fs.Duration("timeout", 0, "Overall deadline, e.g. 10m")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if *output == "" {
		fmt.Fprintln(stderr, "Error: -output is required")
		return exitError
	}

	cfg, err := loadConfig(*configPath, *logLevel, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return exitError
	}
	refs, err := cfg.OpenReferenceSource(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening reference source: %v\n", err)
		return exitError
	}
	if refs == nil {
		fmt.Fprintln(stderr, "Error: metadata.engine is none; nothing to export")
		return exitError
	}
	defer refs.Close()

	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	start := time.Now()
	m, err := serialization.ExportReferences(ctx, refs, cfg.References, *output, cfg.Metadata.Engine)
	if err != nil {
		fmt.Fprintf(stderr, "Error exporting: %v\n", err)
		return exitError
	}
	for table, n := range m.Tables {
		fmt.Fprintf(stderr, "  %s: %d values\n", table, n)
	}
	fmt.Fprintf(stderr, "Exported to %s in %s\n", *output, time.Since(start).Round(time.Millisecond))

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "Error encoding manifest: %v\n", err)
		return exitError
	}
	fmt.Fprintln(stdout, string(data))
	return exitOK
}
