package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/Auditware/radar/internal/cache"
	"github.com/Auditware/radar/internal/config"
	"github.com/Auditware/radar/internal/engine"
	"github.com/Auditware/radar/internal/model"
	"github.com/Auditware/radar/internal/project"
	"github.com/Auditware/radar/internal/report"
	"github.com/Auditware/radar/internal/rules"
	"github.com/Auditware/radar/internal/storage"
	"github.com/Auditware/radar/internal/tui"
)

type scanFlags struct {
	format        string
	output        string
	failOn        string
	minSeverity   string
	ignore        []string
	only          []string
	exclude       []string
	baseline      string
	writeBaseline string
	dialect       string
	workers       int
	timeout       time.Duration
	useTUI        bool
	history       string
	noCorroborate bool
	cacheDir      string
	noCache       bool
}

// apply lets explicitly set flags override the loaded configuration.
func (o *scanFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("fail-on") {
		cfg.SeverityThreshold = o.failOn
	}
	if f.Changed("min-severity") {
		cfg.MinSeverity = o.minSeverity
	}
	cfg.IgnoreSeverities = append(cfg.IgnoreSeverities, o.ignore...)
	cfg.Exclude = append(cfg.Exclude, o.exclude...)
	if f.Changed("baseline") {
		cfg.Baseline = o.baseline
	}
	if f.Changed("dialect") {
		cfg.Dialect = o.dialect
	}
	if f.Changed("workers") {
		cfg.Workers = o.workers
	}
	if f.Changed("timeout") {
		cfg.TimeoutMs = int(o.timeout / time.Millisecond)
	}
	if f.Changed("history") {
		cfg.History.Path = o.history
	}
	if o.noCorroborate {
		cfg.Aggregation.Corroborate = false
	}
	if f.Changed("cache-dir") {
		cfg.Cache.Enabled = true
		cfg.Cache.Dir = o.cacheDir
	}
	if o.noCache {
		cfg.Cache.Enabled = false
	}
	return cfg.Validate()
}

func newScanCmd(g *globals) *cobra.Command {
	o := &scanFlags{}
	cmd := &cobra.Command{
		Use:   "scan [path]",
		Short: "Scan Anchor or Stylus sources for vulnerabilities",
		Long: `Scan a Rust file or directory. Exit status is 1 when a finding reaches
the --fail-on threshold, 2 when a file failed to parse, 3 on usage errors.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "."
			if len(args) > 0 {
				target = args[0]
			}
			return runScan(cmd, g, o, target)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.format, "format", "f", "table", "Output format: table|json|sarif|md")
	f.StringVarP(&o.output, "output", "o", "", "Write the report to a file instead of stdout")
	f.StringVar(&o.failOn, "fail-on", "", "Exit 1 when a finding is at or above this severity (default from config: medium)")
	f.StringVar(&o.minSeverity, "min-severity", "", "Leave findings below this severity out of the report")
	f.StringSliceVar(&o.ignore, "ignore", nil, "Drop findings of these severities, e.g. --ignore low,info")
	f.StringSliceVar(&o.only, "rules", nil, "Only report these rule ids")
	f.StringSliceVar(&o.exclude, "exclude", nil, "Additional path patterns to skip")
	f.StringVar(&o.baseline, "baseline", "", "Drop findings whose fingerprint is in this baseline file")
	f.StringVar(&o.writeBaseline, "write-baseline", "", "Write the fingerprints of all current findings to this file")
	f.StringVar(&o.dialect, "dialect", "", "Force the dialect: anchor|stylus (default: detect per file)")
	f.IntVar(&o.workers, "workers", 0, "Files analyzed in parallel (default: number of CPUs)")
	f.DurationVar(&o.timeout, "timeout", 0, "Scan deadline, e.g. 30s; files not finished in time are skipped")
	f.BoolVar(&o.useTUI, "tui", false, "Browse findings interactively instead of printing a report")
	f.StringVar(&o.history, "history", "", "Record the scan in this SQLite history database")
	f.BoolVar(&o.noCorroborate, "no-corroborate", false, "Do not raise findings that several rule categories agree on")
	f.StringVar(&o.cacheDir, "cache-dir", "", "Cache normalized IR in this directory")
	f.BoolVar(&o.noCache, "no-cache", false, "Disable the IR cache even if configured")
	return cmd
}

func runScan(cmd *cobra.Command, g *globals, o *scanFlags, target string) error {
	cfg, cfgPath, err := g.load(target)
	if err != nil {
		return usageError(err)
	}
	if err := o.apply(cmd, &cfg); err != nil {
		return usageError(err)
	}
	logger := g.logger(cfg, cmd.ErrOrStderr())
	log := logger.Named("cli")
	if cfgPath != "" {
		log.Debug("loaded config", "path", cfgPath)
	}

	format, err := report.ParseFormat(o.format)
	if err != nil {
		return usageError(err)
	}
	threshold, _ := model.LookupSeverity(cfg.SeverityThreshold)
	minSeverity, _ := model.LookupSeverity(cfg.MinSeverity)
	var drop []model.Severity
	for _, s := range cfg.IgnoreSeverities {
		sev, _ := model.LookupSeverity(s)
		drop = append(drop, sev)
	}
	var dialect model.Dialect
	if cfg.Dialect != "" {
		dialect, _ = model.ParseDialect(cfg.Dialect)
	}

	catalog, err := rules.NewCatalog(cfg.RuleOptions())
	if err != nil {
		return usageError(err)
	}
	baseline, err := engine.LoadBaseline(cfg.Baseline)
	if err != nil {
		return usageError(err)
	}

	units, readErrs, err := project.Discover(target, project.Options{
		Dialect: dialect,
		Exclude: cfg.Exclude,
		Logger:  logger.Named("project"),
	})
	if err != nil {
		return usageError(err)
	}
	if len(units) == 0 && len(readErrs) == 0 {
		return usageError(fmt.Errorf("%s: %w", target, project.ErrNoSources))
	}

	var irCache *cache.Cache
	if cfg.Cache.Enabled {
		if irCache, err = cache.Open(cfg.Cache.Dir); err != nil {
			log.Warn("IR cache disabled", "error", err)
			irCache = nil
		}
	}

	res, err := engine.Scan(cmd.Context(), units, catalog, engine.Options{
		Workers:              cfg.Workers,
		Timeout:              cfg.Timeout(),
		DisableCorroboration: !cfg.Aggregation.Corroborate,
		Ignore:               cfg.Ignore,
		ReadErrors:           readErrs,
		Cache:                irCache,
		Logger:               logger,
	})
	if err != nil {
		return usageError(err)
	}

	if o.writeBaseline != "" {
		if err := engine.WriteBaseline(o.writeBaseline, res.Findings); err != nil {
			return usageError(fmt.Errorf("write baseline: %w", err))
		}
		log.Info("baseline written", "path", o.writeBaseline, "findings", len(res.Findings))
	}
	res.Findings = engine.FilterByBaseline(res.Findings, baseline)
	res.Findings = engine.FilterBySeverity(res.Findings, "", drop)
	res.Findings = engine.FilterByRules(res.Findings, o.only)

	if cfg.History.Path != "" {
		recordHistory(cmd, cfg.History.Path, target, res, log)
	}

	reported := *res
	reported.Findings = engine.FilterBySeverity(res.Findings, minSeverity, nil)
	if o.useTUI {
		if err := tui.Run(&reported); err != nil {
			return usageError(err)
		}
	} else if err := writeReport(cmd.OutOrStdout(), o.output, format, &reported, catalog.Metas()); err != nil {
		return usageError(err)
	}

	if n := res.CountAtOrAbove(threshold); n > 0 {
		return &ExitError{Code: ExitFindings, Err: fmt.Errorf("%d finding(s) at or above %s", n, threshold)}
	}
	if res.HasParseErrors() {
		return &ExitError{Code: ExitParseError, Err: errors.New("some files failed to parse")}
	}
	return nil
}

func writeReport(stdout io.Writer, path string, format report.Format, res *model.ScanResult, metas []model.RuleMeta) error {
	if path == "" {
		return report.Write(stdout, format, res, metas)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := report.Write(f, format, res, metas); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// recordHistory stores the scan; failures are logged, not fatal.
func recordHistory(cmd *cobra.Command, path, target string, res *model.ScanResult, log hclog.Logger) {
	db, err := storage.Open(path)
	if err != nil {
		log.Warn("history unavailable", "path", path, "error", err)
		return
	}
	defer db.Close()
	root, err := filepath.Abs(target)
	if err != nil {
		root = target
	}
	if err := db.SaveScan(cmd.Context(), root, res); err != nil {
		log.Warn("history not recorded", "path", path, "error", err)
	}
}
