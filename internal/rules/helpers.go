package rules

import (
	"regexp"
	"strings"

	"github.com/Auditware/radar/internal/ir"
	"github.com/Auditware/radar/internal/model"
)

var (
	privilegedField = regexp.MustCompile(`(?i)owner|admin|authority|governance|governor|operator|minter|manager|controller|paused|treasury|oracle|implementation|fee|whitelist|allowlist|blacklist|signer|config`)
	authorityName   = regexp.MustCompile(`(?i)authority|admin|owner|signer|payer|creator|manager|operator|governor|^user$`)
	formatMacros    = map[string]bool{"msg": true, "format": true, "println": true, "print": true, "eprintln": true, "write": true, "writeln": true, "panic": true, "log": true, "debug": true, "emit": true}
	orderingOps     = map[string]bool{"<": true, "<=": true, ">": true, ">=": true}
	equalityOps     = map[string]bool{"==": true, "!=": true}
)

func writeSites(h *ir.Handler) []ir.AccessSite {
	var out []ir.AccessSite
	for _, a := range h.Accesses {
		if a.Write {
			out = append(out, a)
		}
	}
	return out
}

func readSites(h *ir.Handler) []ir.AccessSite {
	var out []ir.AccessSite
	for _, a := range h.Accesses {
		if !a.Write {
			out = append(out, a)
		}
	}
	return out
}

func spans(sites []ir.AccessSite) []model.Span {
	out := make([]model.Span, 0, len(sites))
	for _, s := range sites {
		out = append(out, s.Span)
	}
	return out
}

// peel strips borrows, `?`, derefs, conversion methods and local bindings
// to reach the expression a value was computed by.
func peel(h *ir.Handler, id ir.ExprID) ir.ExprID {
	seen := map[ir.ExprID]bool{}
	for !seen[id] {
		seen[id] = true
		e := h.Expr(id)
		if e == nil {
			return id
		}
		switch e.Kind {
		case ir.ExprRef, ir.ExprTry:
			id = e.Args[0]
		case ir.ExprUnary:
			if e.Op != "*" {
				return id
			}
			id = e.Args[0]
		case ir.ExprMethod:
			switch e.Name {
			case "unwrap", "expect", "into", "clone", "to_owned", "ok_or", "ok_or_else", "unwrap_or_default":
				id = e.Args[0]
			default:
				return id
			}
		case ir.ExprIdent:
			l, ok := h.LocalAt(e.Name, e.Span.Start)
			if !ok || l.Destructured || l.Value == ir.NoExpr {
				return id
			}
			id = l.Value
		default:
			return id
		}
	}
	return id
}

// isAddition matches `a + b` and the checked/saturating/wrapping add family.
func isAddition(h *ir.Handler, id ir.ExprID) bool {
	e := h.Expr(peel(h, id))
	if e == nil {
		return false
	}
	switch e.Kind {
	case ir.ExprBinary:
		return e.Op == "+"
	case ir.ExprMethod:
		return strings.HasSuffix(e.Name, "_add") || e.Name == "add"
	}
	return false
}

func isSubtraction(h *ir.Handler, id ir.ExprID) bool {
	e := h.Expr(peel(h, id))
	if e == nil {
		return false
	}
	switch e.Kind {
	case ir.ExprBinary:
		return e.Op == "-"
	case ir.ExprMethod:
		return strings.HasSuffix(e.Name, "_sub") || e.Name == "sub"
	}
	return false
}

// isCredit reports writes that only increase a balance.
func isCredit(h *ir.Handler, w ir.AccessSite) bool {
	switch w.Op {
	case "+=", "add_lamports":
		return true
	case "-=", "sub_lamports":
		return false
	}
	return w.Value != ir.NoExpr && isAddition(h, w.Value)
}

// isDebit reports writes that decrease a balance.
func isDebit(h *ir.Handler, w ir.AccessSite) bool {
	switch w.Op {
	case "-=", "sub_lamports":
		return true
	case "+=", "add_lamports":
		return false
	}
	return w.Value != ir.NoExpr && isSubtraction(h, w.Value)
}

func rootsOfKind(h *ir.Handler, id ir.ExprID, kind ir.RootKind) []string {
	if id == ir.NoExpr {
		return nil
	}
	var out []string
	for _, r := range h.Roots(id) {
		if r.Kind == kind {
			out = append(out, r.Name)
		}
	}
	return out
}

func nameIn(names ...string) func(string) bool {
	return func(s string) bool {
		for _, n := range names {
			if s == n {
				return true
			}
		}
		return false
	}
}

// inMacro reports whether id sits inside one of the named macros.
func inMacro(h *ir.Handler, id ir.ExprID, names map[string]bool) bool {
	for cur := id; cur != ir.NoExpr; {
		e := h.Expr(cur)
		if e == nil {
			return false
		}
		if e.Kind == ir.ExprMacro && names[e.Name] {
			return true
		}
		cur = e.Parent
	}
	return false
}

// comparedBefore reports whether a guard dominating pos compares one of names
// using an operator from ops.
func comparedBefore(h *ir.Handler, pos int, names []string, ops map[string]bool) bool {
	if len(names) == 0 {
		return false
	}
	match := nameIn(names...)
	for _, g := range h.Protecting(pos) {
		if g.Cond == ir.NoExpr {
			if !textHasOp(g.Text, ops) {
				continue
			}
			for _, w := range ir.Words(g.Text) {
				if match(w) {
					return true
				}
			}
			continue
		}
		for _, c := range h.ComparisonsIn(g.Cond) {
			if !ops[c.Op] {
				continue
			}
			if h.Mentions(c.Left, true, match) || h.Mentions(c.Right, true, match) {
				return true
			}
		}
	}
	return false
}

func textHasOp(text string, ops map[string]bool) bool {
	for op := range ops {
		if strings.Contains(text, op) {
			return true
		}
	}
	return false
}

// guardedBy reports whether any guard dominating pos mentions a name matching match.
func guardedBy(h *ir.Handler, pos int, match func(string) bool) bool {
	for _, g := range h.Protecting(pos) {
		if h.GuardMentions(g, true, match) {
			return true
		}
	}
	return false
}

func hasSigner(h *ir.Handler) bool {
	for _, p := range h.Params {
		if p.Caps.Has(ir.CapSigner) {
			return true
		}
	}
	return false
}

func lower(s string) string { return strings.ToLower(s) }
