package rules

import (
	"fmt"
	"sort"

	"github.com/Auditware/radar/internal/ir"
	"github.com/Auditware/radar/internal/model"
)

// Categories shared by the catalog and the fixture corpus.
const (
	CategoryMissingAuthority  = "missing-authority-check"
	CategoryReinitialization  = "missing-reinitialization-guard"
	CategoryPrecreation       = "precreation-without-existence-check"
	CategoryArbitraryCall     = "unsafe-arbitrary-call-target"
	CategoryUncheckedMath     = "unchecked-arithmetic"
	CategoryDivBeforeMul      = "division-before-multiplication"
	CategoryUnboundedPercent  = "unbounded-discount-fee"
	CategoryReentrancy        = "reentrancy-ordering"
	CategoryImproperClose     = "improper-close"
	CategoryDuplicateMutable  = "duplicate-mutable-aliasing"
	CategoryNonCanonicalBump  = "non-canonical-bump"
	CategoryTypeConfusion     = "type-confusion-on-deserialize"
	CategoryUnvalidatedSysvar = "unvalidated-sysvar-source"
	CategoryOffByOne          = "off-by-one-boundary"
	CategoryRentExemption     = "resource-exemption-violation"
	CategoryMissingSigner     = "missing-signer-check"
	CategoryUncheckedResult   = "unchecked-call-result"
	CategoryDivByZero         = "division-by-zero"
	CategoryUnvalidatedFee    = "unvalidated-fee-assignment"
	CategoryUnusedParameter   = "unused-parameter"
	CategoryDiagnostic        = "diagnostic"
)

// Diagnostic pseudo-rule ids.
const (
	UnanalyzableID = "RADAR-UNANALYZABLE"
	RuleFaultID    = "RADAR-RULE-FAULT"
)

const (
	defaultConfidence      = 0.6
	UnanalyzableConfidence = 0.2
	RuleFaultConfidence    = 0.1
)

// Match is one rule hit inside a handler. Anchor is the implicated site and
// is what corroboration groups on.
type Match struct {
	Message    string
	Anchor     model.Span
	Evidence   []model.Span
	Confidence float64
}

// Rule is a pure predicate over one handler's IR.
type Rule interface {
	Meta() model.RuleMeta
	Check(h *ir.Handler) []Match
}

// Applies reports whether a rule targets the given dialect.
func Applies(meta model.RuleMeta, d model.Dialect) bool {
	if len(meta.Dialects) == 0 {
		return true
	}
	for _, x := range meta.Dialects {
		if x == string(d) {
			return true
		}
	}
	return false
}

// ConfidenceOf fills in the default confidence for matches that left it unset.
func ConfidenceOf(m Match) float64 {
	if m.Confidence <= 0 {
		return defaultConfidence
	}
	return m.Confidence
}

// Entry pairs a rule with its effective metadata after overrides.
type Entry struct {
	Meta model.RuleMeta
	Rule Rule
}

// Options configure a catalog. A nil Boundaries uses the embedded catalog.
type Options struct {
	Disabled   []string
	Severities map[string]string
	Boundaries []Boundary
	// Extra rules run after the built-in ones. Their ids must be unique.
	Extra []Rule
}

// Catalog is built once per scan and shared read-only by all workers.
type Catalog struct {
	entries []Entry
	metas   map[string]model.RuleMeta
}

// Builtin returns every rule in catalog order.
func Builtin(boundaries []Boundary) []Rule {
	return []Rule{
		&missingAuthority{},
		&reinitialization{},
		&precreation{},
		&arbitraryCall{},
		&uncheckedMath{},
		&divBeforeMul{},
		&unboundedPercent{},
		&reentrancyOrder{},
		&improperClose{},
		&duplicateMutable{},
		&nonCanonicalBump{},
		&typeConfusion{},
		&unvalidatedSysvar{},
		&offByOne{boundaries: boundaries},
		&rentExemption{},
		&missingSigner{},
		&uncheckedResult{},
		&divByZero{},
		&unvalidatedFee{},
		&unusedParam{},
	}
}

// Diagnostics are the pseudo-rules the engine emits for its own failures.
func Diagnostics() []model.RuleMeta {
	return []model.RuleMeta{
		{
			ID:          UnanalyzableID,
			Title:       "Handler could not be analyzed",
			Category:    CategoryDiagnostic,
			Severity:    model.SeverityInfo,
			Remediation: "Simplify the handler or report the construct; no rule ran over it.",
		},
		{
			ID:          RuleFaultID,
			Title:       "Rule evaluation failed",
			Category:    CategoryDiagnostic,
			Severity:    model.SeverityInfo,
			Remediation: "The rule aborted on this handler; other rules were unaffected.",
		},
	}
}

func NewCatalog(opts Options) (*Catalog, error) {
	boundaries := opts.Boundaries
	if boundaries == nil {
		var err error
		if boundaries, err = DefaultBoundaries(); err != nil {
			return nil, err
		}
	}
	c := &Catalog{metas: map[string]model.RuleMeta{}}
	for _, m := range Diagnostics() {
		c.metas[m.ID] = m
	}
	for _, r := range append(Builtin(boundaries), opts.Extra...) {
		m := r.Meta()
		if _, dup := c.metas[m.ID]; dup {
			return nil, fmt.Errorf("duplicate rule id %q", m.ID)
		}
		c.metas[m.ID] = m
		c.entries = append(c.entries, Entry{Meta: m, Rule: r})
	}
	disabled := map[string]bool{}
	for _, id := range opts.Disabled {
		if _, ok := c.metas[id]; !ok {
			return nil, fmt.Errorf("disable: unknown rule %q", id)
		}
		disabled[id] = true
	}
	for id, s := range opts.Severities {
		sev, ok := model.LookupSeverity(s)
		if !ok {
			return nil, fmt.Errorf("severity override for %s: unknown severity %q", id, s)
		}
		m, ok := c.metas[id]
		if !ok {
			return nil, fmt.Errorf("severity override: unknown rule %q", id)
		}
		m.Severity = sev
		c.metas[id] = m
	}
	kept := c.entries[:0]
	for _, e := range c.entries {
		if disabled[e.Meta.ID] {
			continue
		}
		e.Meta = c.metas[e.Meta.ID]
		kept = append(kept, e)
	}
	c.entries = kept
	return c, nil
}

// Entries returns the enabled rules in catalog order.
func (c *Catalog) Entries() []Entry { return c.entries }

func (c *Catalog) Meta(id string) (model.RuleMeta, bool) {
	m, ok := c.metas[id]
	return m, ok
}

// Metas lists every known rule, disabled ones included, sorted by id.
func (c *Catalog) Metas() []model.RuleMeta {
	out := make([]model.RuleMeta, 0, len(c.metas))
	for _, m := range c.metas {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Enabled reports whether id is an active rule.
func (c *Catalog) Enabled(id string) bool {
	for _, e := range c.entries {
		if e.Meta.ID == id {
			return true
		}
	}
	return false
}
