package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Auditware/radar/internal/ir"
	"github.com/Auditware/radar/internal/model"
)

var feeField = regexp.MustCompile(`(?i)fee|rate|bps|commission|percent|basis_points`)

type unvalidatedFee struct{}

func (r *unvalidatedFee) Meta() model.RuleMeta {
	return model.RuleMeta{
		ID:          "FEE-UNVALIDATED-ASSIGNMENT",
		Title:       "Fee set from unvalidated input",
		Category:    CategoryUnvalidatedFee,
		Severity:    model.SeverityMedium,
		Remediation: "Bound the new fee (e.g. require!(fee_bps <= MAX_FEE_BPS)) before storing it.",
	}
}

func (r *unvalidatedFee) Check(h *ir.Handler) []Match {
	var out []Match
	for _, w := range writeSites(h) {
		if w.Value == ir.NoExpr || !feeField.MatchString(w.Target.Leaf()) {
			continue
		}
		if len(rootsOfKind(h, w.Value, ir.RootParam)) == 0 || clamped(h, w.Value) {
			continue
		}
		if comparedBefore(h, w.Span.Start, valueNames(h, w.Value), orderingOps) {
			continue
		}
		out = append(out, Match{
			Message:    fmt.Sprintf("%s stores caller input %s into %s without a range check", h.Name, h.Text(w.Value), w.Target),
			Anchor:     w.Span,
			Confidence: 0.7,
		})
	}
	return out
}

type unusedParam struct{}

func (r *unusedParam) Meta() model.RuleMeta {
	return model.RuleMeta{
		ID:          "PARAM-UNUSED",
		Title:       "Unused handler parameter",
		Category:    CategoryUnusedParameter,
		Severity:    model.SeverityInfo,
		Remediation: "Remove the parameter or prefix it with `_` if it is kept for interface compatibility.",
	}
}

func (r *unusedParam) Check(h *ir.Handler) []Match {
	used := map[string]bool{}
	for _, w := range ir.Words(h.TextSpan(h.Body)) {
		used[w] = true
	}
	for _, p := range h.Params {
		for _, w := range ir.Words(p.Constraints.Text()) {
			used[w] = true
		}
		for _, w := range ir.Words(p.Constraints.Bump + " " + p.Constraints.Realloc + " " + p.Constraints.Owner) {
			used[w] = true
		}
	}
	var out []Match
	for _, p := range h.Params {
		if !p.Caps.Has(ir.CapValue) || p.Caps.Has(ir.CapAccount) || p.Caps.Has(ir.CapContext) {
			continue
		}
		if strings.HasPrefix(p.Name, "_") || used[p.Name] {
			continue
		}
		out = append(out, Match{
			Message:    fmt.Sprintf("parameter %s of %s is never used", p.Name, h.Name),
			Anchor:     p.Span,
			Confidence: 0.9,
		})
	}
	return out
}
