package rules

import (
	"fmt"
	"strings"

	"github.com/Auditware/radar/internal/ir"
	"github.com/Auditware/radar/internal/model"
)

// offByOne flags strict comparisons against limit-like fields whose bound is
// meant to be inclusive.
type offByOne struct {
	boundaries []Boundary
}

func (r *offByOne) Meta() model.RuleMeta {
	return model.RuleMeta{
		ID:          "CMP-OFF-BY-ONE",
		Title:       "Strict comparison against an inclusive boundary",
		Category:    CategoryOffByOne,
		Severity:    model.SeverityLow,
		Remediation: "Use <= / >= when the boundary value itself is allowed.",
	}
}

func (r *offByOne) Check(h *ir.Handler) []Match {
	var out []Match
	for _, c := range h.Comparisons {
		if (c.Op != "<" && c.Op != ">") || inLoopCondition(h, c) {
			continue
		}
		for i, side := range []ir.ExprID{c.Left, c.Right} {
			field := boundaryName(h, side)
			want, ok := lookupBoundary(r.boundaries, field)
			if !ok {
				continue
			}
			strict := (c.Op == "<" && want == "<=") || (c.Op == ">" && want == ">=")
			if i == 0 {
				strict = (c.Op == ">" && want == "<=") || (c.Op == "<" && want == ">=")
			}
			if !strict {
				continue
			}
			out = append(out, Match{
				Message:    fmt.Sprintf("%s compares against %s with %q, excluding the boundary value; expected %s", h.Name, field, c.Op, inclusive(c.Op)),
				Anchor:     c.Span,
				Confidence: 0.5,
			})
			break
		}
	}
	return out
}

func inclusive(op string) string {
	return op + "="
}

func inLoopCondition(h *ir.Handler, c ir.Comparison) bool {
	for _, g := range h.Guards {
		if g.Kind == ir.GuardWhile && g.Cond != ir.NoExpr && h.Within(c.Expr, g.Cond) {
			return true
		}
	}
	return false
}

// boundaryName names the field a comparison operand reads: self.max.get()
// and a local bound to it both give "max".
func boundaryName(h *ir.Handler, id ir.ExprID) string {
	for steps := 0; steps < 16; steps++ {
		id = peel(h, id)
		e := h.Expr(id)
		if e == nil {
			return ""
		}
		switch e.Kind {
		case ir.ExprMethod:
			switch e.Name {
			case "get", "getter", "load", "borrow":
				id = e.Args[0]
				continue
			}
			return ""
		case ir.ExprField, ir.ExprIdent:
			return strings.ToLower(e.Name)
		case ir.ExprPath:
			name := e.Name
			if i := strings.LastIndex(name, "::"); i >= 0 {
				name = name[i+2:]
			}
			return strings.ToLower(name)
		default:
			return ""
		}
	}
	return ""
}
