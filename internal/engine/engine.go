package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/Auditware/radar/internal/cache"
	"github.com/Auditware/radar/internal/config"
	"github.com/Auditware/radar/internal/ir"
	"github.com/Auditware/radar/internal/model"
	"github.com/Auditware/radar/internal/normalize"
	"github.com/Auditware/radar/internal/rules"
	"github.com/Auditware/radar/internal/syntax"
	"github.com/Auditware/radar/internal/util"
)

type Options struct {
	// Workers bounds concurrent files; zero means runtime.NumCPU().
	Workers int
	// Timeout aborts unfinished files; zero disables the deadline.
	Timeout time.Duration
	// DisableCorroboration turns off the severity raise for findings that
	// several rule categories agree on.
	DisableCorroboration bool
	// Ignore holds config-level suppressions.
	Ignore []config.IgnoreRule
	// ReadErrors are discovery failures reported alongside scan errors.
	ReadErrors []model.ScanError
	// Cache stores normalized IR by content; nil disables it.
	Cache    *cache.Cache
	Frontend syntax.Frontend
	Logger   hclog.Logger
	// Now is used for ignore-entry expiry.
	Now func() time.Time
}

// fileResult is everything one worker learned about one SourceUnit.
type fileResult struct {
	index    int
	findings []model.Finding
	errors   []model.ScanError
}

type scanner struct {
	catalog    *rules.Catalog
	frontend   syntax.Frontend
	normalizer *normalize.Normalizer
	cache      *cache.Cache
	ignore     []config.IgnoreRule
	logger     hclog.Logger
}

// Scan evaluates every enabled rule against every handler of every unit.
// File-scoped failures are recorded in the result; the returned error is
// an *model.AggregationInvariantViolation or a setup failure.
func Scan(ctx context.Context, units []model.SourceUnit, catalog *rules.Catalog, opts Options) (*model.ScanResult, error) {
	if catalog == nil {
		return nil, errors.New("engine: nil rule catalog")
	}
	start := time.Now()
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("engine")
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	s := &scanner{
		catalog:    catalog,
		frontend:   opts.Frontend,
		normalizer: normalize.New(logger.Named("normalize")),
		cache:      opts.Cache,
		ignore:     activeIgnores(opts.Ignore, now()),
		logger:     logger,
	}
	if s.frontend == nil {
		s.frontend = syntax.NewRustFrontend()
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	results := make(chan fileResult)
	agg := newAggregator(!opts.DisableCorroboration)
	aggDone := make(chan struct{})
	go func() {
		defer close(aggDone)
		for r := range results {
			agg.add(r)
		}
	}()

	var g errgroup.Group
	g.SetLimit(workers)
	for i := range units {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			r, err := s.scanFile(ctx, i, units[i])
			if err != nil {
				logger.Debug("file abandoned", "file", units[i].Path, "error", err)
				return nil
			}
			results <- r
			return nil
		})
	}
	_ = g.Wait()
	close(results)
	<-aggDone

	res := &model.ScanResult{
		ID:      uuid.NewString(),
		Files:   len(units),
		Started: start,
	}
	for i, u := range units {
		if !agg.done[i] {
			res.Skipped = append(res.Skipped, u.Path)
		}
	}
	sort.Strings(res.Skipped)

	findings, err := agg.finish()
	if err != nil {
		logger.Error("aggregation aborted", "error", err)
		return nil, err
	}
	res.Findings = findings
	res.Errors = append(append([]model.ScanError{}, opts.ReadErrors...), agg.errors...)
	sortErrors(res.Errors)

	switch {
	case len(res.Skipped) > 0:
		res.Status = model.StatusPartial
	case len(res.Errors) > 0:
		res.Status = model.StatusCompletedWithErrors
	default:
		res.Status = model.StatusCompleted
	}
	res.Elapsed = time.Since(start)
	logger.Info("scan finished", "id", res.ID, "status", res.Status, "files", res.Files,
		"findings", len(res.Findings), "errors", len(res.Errors), "skipped", len(res.Skipped), "elapsed", res.Elapsed)
	return res, nil
}

// scanFile returns an error only when ctx ended before the file finished.
func (s *scanner) scanFile(ctx context.Context, index int, su model.SourceUnit) (fileResult, error) {
	r := fileResult{index: index}
	lines := util.NewLineIndex(su.Text)

	lowered, perr := s.lower(ctx, su)
	if ctx.Err() != nil {
		return r, ctx.Err()
	}
	if perr != nil {
		var pe *model.ParseError
		var ne *model.NormalizationError
		switch {
		case errors.As(perr, &pe):
			line, _ := lines.Position(pe.Span.Start)
			r.errors = append(r.errors, model.ScanError{Kind: model.ErrorKindParse, File: su.Path, Message: pe.Message, Span: pe.Span, Line: line})
		case errors.As(perr, &ne):
			lowered = &normalize.Result{Failures: []*model.NormalizationError{ne}}
		default:
			r.errors = append(r.errors, model.ScanError{Kind: model.ErrorKindParse, File: su.Path, Message: perr.Error()})
		}
		if lowered == nil {
			s.logger.Debug("file failed", "file", su.Path, "error", perr)
			return r, nil
		}
	}

	b := builder{su: su, lines: lines}
	for _, nf := range lowered.Failures {
		line, _ := lines.Position(nf.Span.Start)
		r.errors = append(r.errors, model.ScanError{Kind: model.ErrorKindNormalization, File: su.Path, Handler: nf.Handler, Message: nf.Message, Span: nf.Span, Line: line})
		meta, _ := s.catalog.Meta(rules.UnanalyzableID)
		msg := "could not be analyzed: " + nf.Message
		if nf.Handler != "" {
			msg = fmt.Sprintf("handler %s could not be analyzed: %s", nf.Handler, nf.Message)
		}
		r.findings = append(r.findings, b.finding(meta, nf.Handler, rules.Match{
			Message:    msg,
			Anchor:     nf.Span,
			Confidence: rules.UnanalyzableConfidence,
		}))
	}
	for _, h := range lowered.Handlers {
		// a handler is evaluated completely or not at all
		if ctx.Err() != nil {
			return r, ctx.Err()
		}
		r.findings = append(r.findings, s.evaluate(&b, h)...)
	}
	r.findings = s.suppress(su, lines, r.findings)
	return r, nil
}

// lower parses and normalizes su, going through the IR cache when one is set.
func (s *scanner) lower(ctx context.Context, su model.SourceUnit) (*normalize.Result, error) {
	key := ""
	if s.cache != nil {
		key = cache.Key(util.ContentHash(su.Text), string(su.Dialect), ir.Version, su.Path)
		var cached normalize.Result
		if s.cache.LoadJSON(key, &cached) {
			s.logger.Trace("ir cache hit", "file", su.Path)
			return &cached, nil
		}
	}
	tree, err := s.frontend.Parse(ctx, su.Text)
	if err != nil {
		var pe *model.ParseError
		if errors.As(err, &pe) && pe.File == "" {
			pe.File = su.Path
		}
		return nil, err
	}
	res, err := s.normalizer.Normalize(tree, su)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.StoreJSON(key, res); err != nil {
			s.logger.Warn("ir cache store failed", "file", su.Path, "error", err)
		}
	}
	return res, nil
}

// evaluate runs every applicable rule on h. A panicking rule yields a
// fault finding for that (rule, handler) pair only.
func (s *scanner) evaluate(b *builder, h *ir.Handler) []model.Finding {
	var out []model.Finding
	for _, e := range s.catalog.Entries() {
		if !rules.Applies(e.Meta, h.Dialect) {
			continue
		}
		matches, fault := check(e, h)
		if fault != nil {
			s.logger.Warn("rule faulted", "rule", fault.RuleID, "file", fault.File, "handler", fault.Handler, "cause", fault.Cause)
			meta, _ := s.catalog.Meta(rules.RuleFaultID)
			out = append(out, b.finding(meta, h.Name, rules.Match{
				Message:    fault.Error(),
				Anchor:     model.Span{Start: h.Span.Start, End: h.Span.Start},
				Confidence: rules.RuleFaultConfidence,
			}))
			continue
		}
		for _, m := range matches {
			out = append(out, b.finding(e.Meta, h.Name, m))
		}
	}
	return out
}

func check(e rules.Entry, h *ir.Handler) (matches []rules.Match, fault *model.RuleEvaluationFault) {
	defer func() {
		if r := recover(); r != nil {
			matches = nil
			fault = &model.RuleEvaluationFault{RuleID: e.Meta.ID, File: h.File, Handler: h.Name, Cause: r}
		}
	}()
	return e.Rule.Check(h), nil
}

// builder turns matches into findings for one source unit.
type builder struct {
	su    model.SourceUnit
	lines *util.LineIndex
}

func (b *builder) finding(meta model.RuleMeta, handler string, m rules.Match) model.Finding {
	span := m.Anchor
	sl, sc := b.lines.Position(span.Start)
	end := span.End
	if end > span.Start {
		end-- // last byte of the span, so a span ending at a newline stays on its line
	}
	el, ec := b.lines.Position(end)
	if span.End > span.Start {
		ec++
	}
	evidence := util.ExtractSnippet(string(b.su.Text), sl, el, 8)
	return model.Finding{
		RuleID:      meta.ID,
		Category:    meta.Category,
		Severity:    meta.Severity,
		Confidence:  rules.ConfidenceOf(m),
		File:        b.su.Path,
		Span:        span,
		StartLine:   sl,
		StartColumn: sc,
		EndLine:     el,
		EndColumn:   ec,
		Handler:     handler,
		Message:     m.Message,
		Rationale:   b.rationale(meta, span, m.Evidence),
		Remediation: meta.Remediation,
		Evidence:    evidence,
		References:  meta.References,
		Fingerprint: util.Fingerprint(meta.ID, b.su.Path, span.Start, span.End, evidence),
	}
}

// rationale names the rule and the other lines its evidence points at.
func (b *builder) rationale(meta model.RuleMeta, anchor model.Span, evidence []model.Span) string {
	var related []string
	seen := map[int]bool{}
	al, _ := b.lines.Position(anchor.Start)
	seen[al] = true
	for _, sp := range evidence {
		l, _ := b.lines.Position(sp.Start)
		if seen[l] {
			continue
		}
		seen[l] = true
		related = append(related, fmt.Sprintf("%d", l))
	}
	if len(related) == 0 {
		return meta.Title
	}
	return fmt.Sprintf("%s (see also line %s)", meta.Title, strings.Join(related, ", "))
}

func sortErrors(errs []model.ScanError) {
	sort.SliceStable(errs, func(i, j int) bool {
		a, b := errs[i], errs[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Span.Start != b.Span.Start {
			return a.Span.Start < b.Span.Start
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Handler != b.Handler {
			return a.Handler < b.Handler
		}
		return a.Message < b.Message
	})
}
