package ir

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/Auditware/radar/internal/model"
)

func (h *Handler) Expr(id ExprID) *Expr {
	if id < 0 || int(id) >= len(h.Exprs) {
		return nil
	}
	return &h.Exprs[id]
}

func (h *Handler) TextSpan(s model.Span) string {
	start, end := s.Start-h.Span.Start, s.End-h.Span.Start
	if start < 0 || end > len(h.Src) || start > end {
		return ""
	}
	return h.Src[start:end]
}

func (h *Handler) Text(id ExprID) string {
	e := h.Expr(id)
	if e == nil {
		return ""
	}
	return h.TextSpan(e.Span)
}

func (h *Handler) Param(name string) (*Param, bool) {
	for i := range h.Params {
		if h.Params[i].Name == name {
			return &h.Params[i], true
		}
	}
	return nil, false
}

func (h *Handler) StateField(name string) (*StateField, bool) {
	for i := range h.State {
		if h.State[i].Name == name {
			return &h.State[i], true
		}
	}
	return nil, false
}

// Walk visits the subtree rooted at id in pre-order; returning false skips children.
func (h *Handler) Walk(id ExprID, fn func(ExprID, *Expr) bool) {
	if h.Expr(id) == nil {
		return
	}
	stack := []ExprID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		e := h.Expr(cur)
		if e == nil || !fn(cur, e) {
			continue
		}
		for i := len(e.Args) - 1; i >= 0; i-- {
			stack = append(stack, e.Args[i])
		}
	}
}

func (h *Handler) Contains(id ExprID, pred func(ExprID, *Expr) bool) bool {
	found := false
	h.Walk(id, func(cur ExprID, e *Expr) bool {
		if found {
			return false
		}
		if pred(cur, e) {
			found = true
			return false
		}
		return true
	})
	return found
}

// Within reports whether inner is id or one of its descendants.
func (h *Handler) Within(inner, id ExprID) bool {
	for cur := inner; cur != NoExpr; {
		if cur == id {
			return true
		}
		e := h.Expr(cur)
		if e == nil {
			return false
		}
		cur = e.Parent
	}
	return false
}

// LocalAt returns the binding of name visible at pos, if any.
func (h *Handler) LocalAt(name string, pos int) (Local, bool) {
	var best Local
	ok := false
	for _, l := range h.Locals {
		if l.Name != name || l.Span.End > pos {
			continue
		}
		if !ok || l.Span.Start >= best.Span.Start {
			best, ok = l, true
		}
	}
	return best, ok
}

func (h *Handler) IsIdentity(id ExprID) bool {
	for _, x := range h.Identities {
		if x == id {
			return true
		}
	}
	return false
}

// ContainsIdentity reports whether id mentions the caller identity, following locals.
func (h *Handler) ContainsIdentity(id ExprID) bool {
	for _, r := range h.Roots(id) {
		if r.Kind == RootIdentity {
			return true
		}
	}
	return false
}

type RootKind string

const (
	RootParam    RootKind = "param"
	RootAccount  RootKind = "account"
	RootState    RootKind = "state"
	RootIdentity RootKind = "identity"
	RootConst    RootKind = "const"
	RootLiteral  RootKind = "literal"
	RootUnknown  RootKind = "unknown"
)

// Root is a value source an expression derives from.
type Root struct {
	Kind RootKind
	Name string
}

// Roots returns the sources id derives from, following local bindings
// visible at the expression. Results are sorted for stable output.
func (h *Handler) Roots(id ExprID) []Root {
	seen := map[Root]bool{}
	visitedLocals := map[ExprID]bool{}
	var out []Root
	add := func(r Root) {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	work := []ExprID{id}
	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]
		h.Walk(cur, func(eid ExprID, e *Expr) bool {
			if h.IsIdentity(eid) {
				add(Root{RootIdentity, h.Text(eid)})
				return false
			}
			switch e.Kind {
			case ExprIdent:
				switch {
				case e.Name == "self":
				case h.bindsLocal(e.Name, e.Span.Start):
					l, _ := h.LocalAt(e.Name, e.Span.Start)
					if !visitedLocals[l.Value] && l.Value != NoExpr {
						visitedLocals[l.Value] = true
						work = append(work, l.Value)
					}
				case h.isParam(e.Name):
					p, _ := h.Param(e.Name)
					if p.Caps.Has(CapAccount) {
						add(Root{RootAccount, e.Name})
					} else {
						add(Root{RootParam, e.Name})
					}
				case IsConstName(e.Name):
					add(Root{RootConst, e.Name})
				default:
					add(Root{RootUnknown, e.Name})
				}
				return false
			case ExprField:
				if root, kind, ok := h.fieldRoot(eid); ok {
					add(Root{kind, root})
					return false
				}
			case ExprPath:
				add(Root{RootConst, e.Name})
				return false
			case ExprLit:
				add(Root{RootLiteral, e.Name})
				return false
			case ExprMacro:
				if e.Name == "address" {
					add(Root{RootConst, h.Text(eid)})
					return false
				}
			case ExprStruct:
				return true
			}
			return true
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (h *Handler) bindsLocal(name string, pos int) bool {
	_, ok := h.LocalAt(name, pos)
	return ok
}

func (h *Handler) isParam(name string) bool {
	_, ok := h.Param(name)
	return ok
}

// fieldRoot resolves self.F and ctx.accounts.X chains.
func (h *Handler) fieldRoot(id ExprID) (string, RootKind, bool) {
	chain := h.FieldChain(id)
	if len(chain) < 2 {
		return "", "", false
	}
	switch {
	case chain[0] == "self":
		return chain[1], RootState, true
	case len(chain) >= 3 && chain[1] == "accounts":
		if p, ok := h.Param(chain[0]); ok && p.Caps.Has(CapContext) {
			return chain[2], RootAccount, true
		}
	}
	return "", "", false
}

// FieldChain flattens a.b.c into [a b c]; nil if the base is not an identifier.
func (h *Handler) FieldChain(id ExprID) []string {
	var rev []string
	cur := id
	for {
		e := h.Expr(cur)
		if e == nil {
			return nil
		}
		if e.Kind == ExprIdent {
			rev = append(rev, e.Name)
			break
		}
		if e.Kind != ExprField {
			return nil
		}
		rev = append(rev, e.Name)
		cur = e.Args[0]
	}
	out := make([]string, len(rev))
	for i := range rev {
		out[i] = rev[len(rev)-1-i]
	}
	return out
}

// Names collects identifiers, fields, methods, callees and paths under id.
// With follow set, local bindings are expanded.
func (h *Handler) Names(id ExprID, follow bool) []string {
	var out []string
	visited := map[ExprID]bool{}
	work := []ExprID{id}
	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]
		h.Walk(cur, func(eid ExprID, e *Expr) bool {
			switch e.Kind {
			case ExprIdent, ExprField, ExprMethod, ExprCall, ExprPath, ExprMacro:
				out = append(out, e.Name)
			}
			if follow && e.Kind == ExprIdent {
				if l, ok := h.LocalAt(e.Name, e.Span.Start); ok && l.Value != NoExpr && !visited[l.Value] {
					visited[l.Value] = true
					work = append(work, l.Value)
				}
			}
			return true
		})
	}
	return out
}

// Mentions reports whether any name under id satisfies match.
func (h *Handler) Mentions(id ExprID, follow bool, match func(string) bool) bool {
	for _, n := range h.Names(id, follow) {
		if match(n) {
			return true
		}
	}
	return false
}

// GuardMentions checks a guard's condition, or its declarative text.
func (h *Handler) GuardMentions(g Guard, follow bool, match func(string) bool) bool {
	if g.Cond != NoExpr {
		return h.Mentions(g.Cond, follow, match)
	}
	for _, w := range Words(g.Text) {
		if match(w) {
			return true
		}
	}
	return false
}

// Protecting returns the guards that dominate pos.
func (h *Handler) Protecting(pos int) []Guard {
	var out []Guard
	for _, g := range h.Guards {
		if g.Protects(pos) {
			out = append(out, g)
		}
	}
	return out
}

func (h *Handler) Authorized(pos int) bool {
	for _, a := range h.Authority {
		if a.Protects(pos) {
			return true
		}
	}
	return false
}

// ComparisonsIn returns comparisons nested in id.
func (h *Handler) ComparisonsIn(id ExprID) []Comparison {
	var out []Comparison
	for _, c := range h.Comparisons {
		if h.Within(c.Expr, id) {
			out = append(out, c)
		}
	}
	return out
}

var zeroLiteral = regexp.MustCompile(`^(0x)?0+([ui](8|16|32|64|128|size))?$`)

// IsZero recognises literal zero and zero-valued constants.
func (h *Handler) IsZero(id ExprID) bool {
	e := h.Expr(id)
	if e == nil {
		return false
	}
	switch e.Kind {
	case ExprLit:
		if e.Op == "int" {
			return zeroLiteral.MatchString(strings.ReplaceAll(e.Name, "_", ""))
		}
		return e.Name == "false"
	case ExprPath:
		return strings.HasSuffix(e.Name, "::ZERO") || strings.HasSuffix(e.Name, "::zero")
	case ExprCall:
		if strings.HasSuffix(e.Name, "::default") || strings.HasSuffix(e.Name, "::zero") {
			return true
		}
		if strings.HasSuffix(e.Name, "::from") && len(e.Args) == 1 {
			return h.IsZero(e.Args[0])
		}
	case ExprRef, ExprTry:
		return h.IsZero(e.Args[0])
	}
	return false
}

// IsConstant reports literal or named-constant operands.
func (h *Handler) IsConstant(id ExprID) bool {
	e := h.Expr(id)
	if e == nil {
		return false
	}
	switch e.Kind {
	case ExprLit:
		return true
	case ExprIdent:
		return IsConstName(e.Name)
	case ExprPath:
		return true
	case ExprCall:
		if strings.Contains(e.Name, "size_of") {
			return true
		}
		if strings.HasSuffix(e.Name, "::from") && len(e.Args) == 1 {
			return h.IsConstant(e.Args[0])
		}
	case ExprBinary:
		return h.IsConstant(e.Args[0]) && h.IsConstant(e.Args[1])
	case ExprCast, ExprUnary:
		return h.IsConstant(e.Args[0])
	}
	return false
}

// IsConstName matches SCREAMING_CASE identifiers.
func IsConstName(name string) bool {
	if name == "" {
		return false
	}
	if i := strings.LastIndex(name, "::"); i >= 0 {
		name = name[i+2:]
	}
	hasLetter := false
	for _, r := range name {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsLetter(r) {
			hasLetter = true
		}
	}
	return hasLetter
}

// Words splits free text into identifier-like tokens.
func Words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
	})
}
