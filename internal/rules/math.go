package rules

import (
	"fmt"
	"strings"

	"github.com/Auditware/radar/internal/ir"
	"github.com/Auditware/radar/internal/model"
)

var (
	overflowOps = map[string]bool{"+": true, "-": true, "*": true, "**": true}
	narrowTypes = map[string]bool{"u8": true, "u16": true, "u32": true, "u64": true, "i8": true, "i16": true, "i32": true, "i64": true}
	clampNames  = map[string]bool{"min": true, "max": true, "clamp": true}
)

// walkFollow walks id and the values of the locals it reads.
func walkFollow(h *ir.Handler, id ir.ExprID, fn func(ir.ExprID, *ir.Expr)) {
	visited := map[ir.ExprID]bool{}
	work := []ir.ExprID{id}
	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]
		h.Walk(cur, func(eid ir.ExprID, e *ir.Expr) bool {
			fn(eid, e)
			if e.Kind == ir.ExprIdent {
				if l, ok := h.LocalAt(e.Name, e.Span.Start); ok && l.Value != ir.NoExpr && !visited[l.Value] {
					visited[l.Value] = true
					work = append(work, l.Value)
				}
			}
			return true
		})
	}
}

// operands returns the two sides of a binary op or an `a.op(b)` method.
func operands(e *ir.Expr) (ir.ExprID, ir.ExprID, bool) {
	if (e.Kind == ir.ExprBinary || e.Kind == ir.ExprMethod) && len(e.Args) == 2 {
		return e.Args[0], e.Args[1], true
	}
	return ir.NoExpr, ir.NoExpr, false
}

func isDivision(e *ir.Expr) bool {
	switch e.Kind {
	case ir.ExprBinary:
		return e.Op == "/"
	case ir.ExprMethod:
		return strings.HasSuffix(e.Name, "_div") || e.Name == "div"
	}
	return false
}

func isMultiplication(e *ir.Expr) bool {
	switch e.Kind {
	case ir.ExprBinary:
		return e.Op == "*"
	case ir.ExprMethod:
		return strings.HasSuffix(e.Name, "_mul") || e.Name == "mul"
	}
	return false
}

func isFloat(h *ir.Handler, id ir.ExprID) bool {
	e := h.Expr(id)
	return e != nil && e.Kind == ir.ExprLit && e.Op == "float"
}

// valueNames are the params, state fields and locals a value is built from.
func valueNames(h *ir.Handler, id ir.ExprID) []string {
	var out []string
	for _, r := range h.Roots(id) {
		switch r.Kind {
		case ir.RootParam, ir.RootState, ir.RootAccount:
			out = append(out, r.Name)
		}
	}
	h.Walk(id, func(_ ir.ExprID, e *ir.Expr) bool {
		if e.Kind == ir.ExprIdent && e.Name != "self" {
			out = append(out, e.Name)
		}
		return true
	})
	return out
}

func clamped(h *ir.Handler, id ir.ExprID) bool {
	for _, n := range h.Names(id, true) {
		if clampNames[n] {
			return true
		}
	}
	return false
}

type uncheckedMath struct{}

func (r *uncheckedMath) Meta() model.RuleMeta {
	return model.RuleMeta{
		ID:          "MATH-UNCHECKED",
		Title:       "Unchecked arithmetic",
		Category:    CategoryUncheckedMath,
		Severity:    model.SeverityMedium,
		Remediation: "Use checked_* (or saturating_*) arithmetic and handle the None case; use try_from for narrowing casts.",
		References:  []string{"https://swcregistry.io/docs/SWC-101"},
	}
}

func (r *uncheckedMath) Check(h *ir.Handler) []Match {
	var out []Match
	for _, a := range h.Arith {
		if a.Mode != ir.ArithRaw || !overflowOps[a.Op] || a.Constant {
			continue
		}
		if inMacro(h, a.Expr, formatMacros) || isFloat(h, a.Left) || isFloat(h, a.Right) {
			continue
		}
		if a.Op == "-" && comparedBefore(h, a.Span.Start, valueNames(h, a.Right), orderingOps) {
			continue
		}
		out = append(out, Match{
			Message: fmt.Sprintf("unchecked %q in %s can overflow: %s", a.Op, h.Name, h.TextSpan(a.Span)),
			Anchor:  a.Span,
		})
	}
	for _, c := range h.Casts {
		if !narrowTypes[c.Type] || inMacro(h, c.Expr, formatMacros) {
			continue
		}
		product := false
		walkFollow(h, c.Operand, func(_ ir.ExprID, e *ir.Expr) {
			product = product || (e.Kind == ir.ExprBinary && e.Op == "*")
		})
		if !product {
			continue
		}
		out = append(out, Match{
			Message: fmt.Sprintf("product truncated by `as %s` in %s: %s", c.Type, h.Name, h.TextSpan(c.Span)),
			Anchor:  c.Span,
		})
	}
	return out
}

type divBeforeMul struct{}

func (r *divBeforeMul) Meta() model.RuleMeta {
	return model.RuleMeta{
		ID:          "MATH-DIV-BEFORE-MUL",
		Title:       "Division before multiplication",
		Category:    CategoryDivBeforeMul,
		Severity:    model.SeverityMedium,
		Remediation: "Multiply first and divide last so integer division truncates only once.",
	}
}

func (r *divBeforeMul) Check(h *ir.Handler) []Match {
	var out []Match
	for _, a := range h.Arith {
		if a.Op != "*" || a.Constant {
			continue
		}
		for _, side := range []ir.ExprID{a.Left, a.Right} {
			if side == ir.NoExpr {
				continue
			}
			div := ir.NoExpr
			walkFollow(h, side, func(id ir.ExprID, e *ir.Expr) {
				if div == ir.NoExpr && isDivision(e) {
					div = id
				}
			})
			if div == ir.NoExpr {
				continue
			}
			out = append(out, Match{
				Message:  fmt.Sprintf("%s multiplies the truncated quotient %s", h.Name, h.Text(div)),
				Anchor:   a.Span,
				Evidence: []model.Span{h.Expr(div).Span, a.Span},
			})
			break
		}
	}
	return out
}

// unboundedPercent flags `base - base * pct / D` where pct comes from the
// caller and is never bounded by the denominator.
type unboundedPercent struct{}

func (r *unboundedPercent) Meta() model.RuleMeta {
	return model.RuleMeta{
		ID:          "MATH-UNBOUNDED-PERCENT",
		Title:       "Unbounded discount or fee percentage",
		Category:    CategoryUnboundedPercent,
		Severity:    model.SeverityHigh,
		Remediation: "Reject percentages above the denominator (e.g. require!(pct <= 100)) before applying them.",
	}
}

func (r *unboundedPercent) Check(h *ir.Handler) []Match {
	var out []Match
	for _, a := range h.Arith {
		if a.Op != "-" || a.Left == ir.NoExpr || a.Right == ir.NoExpr {
			continue
		}
		pct := percentOf(h, a.Left, a.Right)
		if pct == ir.NoExpr || len(rootsOfKind(h, pct, ir.RootParam)) == 0 || clamped(h, pct) {
			continue
		}
		if comparedBefore(h, a.Span.Start, valueNames(h, pct), orderingOps) {
			continue
		}
		out = append(out, Match{
			Message:  fmt.Sprintf("%s subtracts a share of %s scaled by %s, which is never bounded by its denominator", h.Name, h.Text(a.Left), h.Text(pct)),
			Anchor:   a.Span,
			Evidence: []model.Span{h.Expr(pct).Span, a.Span},
		})
	}
	return out
}

// percentOf finds pct in share = base * pct / CONST, looking through locals.
func percentOf(h *ir.Handler, base, share ir.ExprID) ir.ExprID {
	pct := ir.NoExpr
	walkFollow(h, share, func(_ ir.ExprID, e *ir.Expr) {
		if pct != ir.NoExpr || !isDivision(e) {
			return
		}
		num, den, ok := operands(e)
		if !ok || !h.IsConstant(peel(h, den)) {
			return
		}
		walkFollow(h, num, func(_ ir.ExprID, m *ir.Expr) {
			if pct != ir.NoExpr || !isMultiplication(m) {
				return
			}
			x, y, ok := operands(m)
			if !ok {
				return
			}
			switch {
			case sameValue(h, x, base):
				pct = y
			case sameValue(h, y, base):
				pct = x
			}
		})
	})
	return pct
}

func sameValue(h *ir.Handler, x, y ir.ExprID) bool {
	if h.Text(x) == h.Text(y) {
		return true
	}
	return h.Text(peel(h, x)) == h.Text(peel(h, y))
}

type divByZero struct{}

func (r *divByZero) Meta() model.RuleMeta {
	return model.RuleMeta{
		ID:          "MATH-DIV-BY-ZERO",
		Title:       "Division by a possibly zero value",
		Category:    CategoryDivByZero,
		Severity:    model.SeverityMedium,
		Remediation: "Reject a zero divisor before dividing, or use checked_div and handle None.",
	}
}

func (r *divByZero) Check(h *ir.Handler) []Match {
	var out []Match
	for _, a := range h.Arith {
		if a.Mode != ir.ArithRaw || (a.Op != "/" && a.Op != "%") || a.Right == ir.NoExpr {
			continue
		}
		if h.IsConstant(peel(h, a.Right)) || clamped(h, a.Right) {
			continue
		}
		names := valueNames(h, a.Right)
		if len(rootsOfKind(h, a.Right, ir.RootParam)) == 0 && len(rootsOfKind(h, a.Right, ir.RootState)) == 0 && len(rootsOfKind(h, a.Right, ir.RootAccount)) == 0 {
			continue
		}
		if comparedBefore(h, a.Span.Start, names, orderingOps) || comparedBefore(h, a.Span.Start, names, equalityOps) {
			continue
		}
		out = append(out, Match{
			Message: fmt.Sprintf("%s divides by %s without ruling out zero", h.Name, h.Text(a.Right)),
			Anchor:  a.Span,
		})
	}
	return out
}
