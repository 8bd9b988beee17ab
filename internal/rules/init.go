package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Auditware/radar/internal/ir"
	"github.com/Auditware/radar/internal/model"
)

var (
	initField = regexp.MustCompile(`(?i)initiali[sz]ed|is_init|owner|admin|authority`)
	ownerMap  = regexp.MustCompile(`(?i)owner|creator|registrant|holder|controller|claimer`)
)

// reinitialization flags initialization writes that can run a second time.
type reinitialization struct{}

func (r *reinitialization) Meta() model.RuleMeta {
	return model.RuleMeta{
		ID:          "INIT-REINITIALIZATION",
		Title:       "Initialization can be replayed",
		Category:    CategoryReinitialization,
		Severity:    model.SeverityHigh,
		Remediation: "Check an initialized flag (or that the owner is unset) before writing, or create the account with `init` so it cannot already exist.",
	}
}

func (r *reinitialization) Check(h *ir.Handler) []Match {
	initLike := strings.Contains(lower(h.Name), "init")
	var hits []ir.AccessSite
	for _, w := range writeSites(h) {
		leaf := lower(w.Target.Leaf())
		if !initField.MatchString(leaf) {
			continue
		}
		if !initLike && !strings.Contains(leaf, "initiali") {
			continue
		}
		switch h.Dialect {
		case model.DialectAnchor:
			p, ok := h.Param(w.Target.Root)
			if !ok || p.Caps.Has(ir.CapInit) || w.Target.Kind == ir.TargetLamports {
				continue
			}
		case model.DialectStylus:
			if w.Target.Kind != ir.TargetStorage {
				continue
			}
		}
		if guardedBy(h, w.Span.Start, func(n string) bool {
			l := lower(n)
			return strings.Contains(l, "init") || l == leaf
		}) {
			continue
		}
		hits = append(hits, w)
	}
	if len(hits) == 0 {
		return nil
	}
	return []Match{{
		Message:    fmt.Sprintf("%s sets %s without checking whether it was already initialized", h.Name, hits[0].Target),
		Anchor:     hits[0].Span,
		Evidence:   spans(hits),
		Confidence: 0.7,
	}}
}

// precreation flags ownership claims and account creation that never look
// at whether the slot already exists.
type precreation struct{}

func (r *precreation) Meta() model.RuleMeta {
	return model.RuleMeta{
		ID:          "INIT-PRECREATION",
		Title:       "Creation without existence check",
		Category:    CategoryPrecreation,
		Severity:    model.SeverityMedium,
		Remediation: "Check the slot is still unset (zero address / zero lamports / empty data) before claiming or creating it.",
	}
}

func (r *precreation) Check(h *ir.Handler) []Match {
	var out []Match
	switch h.Dialect {
	case model.DialectStylus:
		for _, w := range writeSites(h) {
			if w.Target.Kind != ir.TargetMapEntry || w.Value == ir.NoExpr || h.Authorized(w.Span.Start) {
				continue
			}
			if !h.ContainsIdentity(w.Value) && !ownerMap.MatchString(w.Target.Root) {
				continue
			}
			if h.ContainsIdentity(w.Target.Key) || h.IsZero(w.Value) {
				continue
			}
			if guardedBy(h, w.Span.Start, nameIn(w.Target.Root)) {
				continue
			}
			out = append(out, Match{
				Message:  fmt.Sprintf("%s claims %s without checking it is unset", h.Name, w.Target),
				Anchor:   w.Span,
				Evidence: []model.Span{w.Span},
			})
		}
	case model.DialectAnchor:
		for i, e := range h.Exprs {
			if e.Kind != ir.ExprCall || !strings.HasSuffix(e.Name, "create_account") {
				continue
			}
			if guardedBy(h, e.Span.Start, func(n string) bool {
				l := lower(n)
				return strings.Contains(l, "lamports") || l == "data_is_empty" || l == "data_len" || l == "is_empty"
			}) {
				continue
			}
			out = append(out, Match{
				Message: fmt.Sprintf("%s creates an account with %s without handling an address that was already funded", h.Name, h.Text(ir.ExprID(i))),
				Anchor:  e.Span,
			})
		}
	}
	return out
}
