package rules

import (
	"fmt"
	"strings"

	"github.com/Auditware/radar/internal/ir"
	"github.com/Auditware/radar/internal/model"
)

// unvalidatedSysvar flags runtime and oracle values read from a source the
// handler never pins to a known address.
type unvalidatedSysvar struct{}

func (r *unvalidatedSysvar) Meta() model.RuleMeta {
	return model.RuleMeta{
		ID:          "SYSVAR-UNVALIDATED-SOURCE",
		Title:       "Sysvar or oracle read from an unvalidated source",
		Category:    CategoryUnvalidatedSysvar,
		Severity:    model.SeverityMedium,
		Remediation: "Use the typed Sysvar<'info, T> / Sysvar::get(), or check the source account's key against the expected address before reading it.",
	}
}

func (r *unvalidatedSysvar) Check(h *ir.Handler) []Match {
	var out []Match
	for _, rd := range h.Reads {
		var ok bool
		switch h.Dialect {
		case model.DialectAnchor:
			ok = anchorSourceValidated(h, rd)
		case model.DialectStylus:
			ok = trustedComparison(h, rd)
		}
		if ok {
			continue
		}
		src := rd.Source
		if src == "" {
			src = h.Text(rd.Expr)
		}
		out = append(out, Match{
			Message: fmt.Sprintf("%s uses %s data from %s without validating the source", h.Name, rd.Kind, src),
			Anchor:  rd.Span,
		})
	}
	return out
}

func anchorSourceValidated(h *ir.Handler, rd ir.TrustedRead) bool {
	if rd.Source == "" {
		return true
	}
	if e := h.Expr(rd.Expr); e != nil && strings.Contains(e.Name, "_checked") {
		return true
	}
	p, ok := h.Param(rd.Source)
	if !ok || !p.Caps.Has(ir.CapAccount) {
		return true
	}
	if p.Caps.Has(ir.CapSysvar) || p.Constraints.Address != "" || p.Constraints.Owner != "" {
		return true
	}
	for _, q := range h.Params {
		for _, one := range q.Constraints.HasOne {
			if one == p.Name {
				return true
			}
		}
	}
	return comparedBefore(h, rd.Span.Start, []string{p.Name}, equalityOps)
}

// trustedComparison reports a dominating equality check that pins an address
// argument to state or a constant. Reads with a known source need the check
// to mention that source. Caller identity checks do not count.
func trustedComparison(h *ir.Handler, rd ir.TrustedRead) bool {
	for _, g := range h.Protecting(rd.Span.Start) {
		if g.Cond == ir.NoExpr {
			continue
		}
		for _, c := range h.ComparisonsIn(g.Cond) {
			if !equalityOps[c.Op] || !mentionsSource(h, rd, c) {
				continue
			}
			if pinned(h, c.Left, c.Right) || pinned(h, c.Right, c.Left) {
				return true
			}
		}
	}
	return false
}

func mentionsSource(h *ir.Handler, rd ir.TrustedRead, c ir.Comparison) bool {
	if rd.Source == "" && rd.SourceExpr == ir.NoExpr {
		return true
	}
	var names []string
	if rd.Source != "" {
		names = append(names, rd.Source)
	}
	if rd.SourceExpr != ir.NoExpr {
		for _, r := range h.Roots(rd.SourceExpr) {
			names = append(names, r.Name)
		}
	}
	match := nameIn(names...)
	return h.Mentions(c.Left, true, match) || h.Mentions(c.Right, true, match)
}

func pinned(h *ir.Handler, input, trusted ir.ExprID) bool {
	if h.ContainsIdentity(input) {
		return false
	}
	addr := false
	for _, name := range rootsOfKind(h, input, ir.RootParam) {
		if p, ok := h.Param(name); ok && p.Caps.Has(ir.CapAddress) {
			addr = true
		}
	}
	if !addr {
		return false
	}
	roots := h.Roots(trusted)
	if len(roots) == 0 {
		return false
	}
	for _, r := range roots {
		switch r.Kind {
		case ir.RootState, ir.RootConst, ir.RootLiteral:
		default:
			return false
		}
	}
	return true
}
