package normalize

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Auditware/radar/internal/ir"
	"github.com/Auditware/radar/internal/model"
	"github.com/Auditware/radar/internal/syntax"
)

var guardMacros = map[string]string{
	"require":          "",
	"require_eq":       "==",
	"require_neq":      "!=",
	"require_keys_eq":  "==",
	"require_keys_neq": "!=",
	"require_gt":       ">",
	"require_gte":      ">=",
	"assert":           "",
	"assert_eq":        "==",
	"assert_ne":        "!=",
	"ensure":           "",
}

var divergingMacros = map[string]bool{
	"panic":         true,
	"unreachable":   true,
	"revert":        true,
	"bail":          true,
	"todo":          true,
	"unimplemented": true,
}

var comparisonOps = map[string]bool{"<": true, "<=": true, ">": true, ">=": true, "==": true, "!=": true}

var arithmeticOps = map[string]bool{"+": true, "-": true, "*": true, "/": true, "%": true}

var methodArith = map[string]string{"add": "+", "sub": "-", "mul": "*", "div": "/", "rem": "%", "pow": "**"}

var arithModes = map[string]ir.ArithMode{
	"checked":     ir.ArithChecked,
	"saturating":  ir.ArithSaturating,
	"wrapping":    ir.ArithWrapping,
	"overflowing": ir.ArithOverflowing,
}

type builder struct {
	u    *unit
	d    *decl
	h    *ir.Handler
	body model.Span
	fail *model.NormalizationError
}

func newBuilder(u *unit, d *decl) *builder {
	span := u.tree.Span(d.fn)
	h := &ir.Handler{
		Name:     d.name,
		File:     u.file,
		Dialect:  u.dialect,
		Span:     span,
		Src:      u.text(d.fn),
		Params:   d.params,
		State:    d.state,
		Mutating: d.mutating,
	}
	return &builder{u: u, d: d, h: h}
}

func (b *builder) tree() *syntax.Tree { return b.u.tree }

func (b *builder) failf(n syntax.NodeID, format string, args ...any) {
	if b.fail != nil {
		return
	}
	b.fail = &model.NormalizationError{
		File:    b.u.file,
		Handler: b.d.name,
		Message: fmt.Sprintf(format, args...),
		Span:    b.tree().Span(n),
	}
}

func (b *builder) build() *model.NormalizationError {
	t := b.tree()
	body := t.ChildByField(b.d.fn, "body")
	if body == syntax.NoNode {
		return &model.NormalizationError{File: b.u.file, Handler: b.d.name, Message: "handler has no body", Span: t.Span(b.d.fn)}
	}
	b.body = t.Span(body)
	b.h.Body = b.body
	b.block(body, ir.NoExpr)
	return b.fail
}

func (b *builder) add(n syntax.NodeID, kind ir.ExprKind, parent ir.ExprID) ir.ExprID {
	id := ir.ExprID(len(b.h.Exprs))
	b.h.Exprs = append(b.h.Exprs, ir.Expr{Kind: kind, Parent: parent, Span: b.tree().Span(n)})
	return id
}

func (b *builder) e(id ir.ExprID) *ir.Expr { return &b.h.Exprs[id] }

func (b *builder) appendArg(id, arg ir.ExprID) {
	if arg != ir.NoExpr {
		b.h.Exprs[id].Args = append(b.h.Exprs[id].Args, arg)
	}
}

func compact(s string) string {
	return strings.Join(strings.Fields(s), "")
}

func isTrivia(kind string) bool {
	switch kind {
	case "line_comment", "block_comment", "attribute_item", "inner_attribute_item":
		return true
	}
	return false
}

func isItem(kind string) bool {
	switch kind {
	case "function_item", "const_item", "static_item", "use_declaration", "struct_item", "enum_item",
		"impl_item", "trait_item", "type_item", "mod_item", "macro_definition", "extern_crate_declaration",
		"union_item", "function_signature_item", "empty_statement":
		return true
	}
	return false
}

// block walks statements and returns the tail expression, if any.
func (b *builder) block(n syntax.NodeID, parent ir.ExprID) ir.ExprID {
	t := b.tree()
	tail := ir.NoExpr
	for _, c := range t.NamedChildren(n) {
		kind := t.Kind(c)
		switch {
		case isTrivia(kind), isItem(kind):
			continue
		case kind == "let_declaration":
			b.let(c)
			tail = ir.NoExpr
		case kind == "expression_statement":
			inner := firstNamed(t, c)
			if inner == syntax.NoNode {
				continue
			}
			id := b.expr(inner, ir.NoExpr)
			if id != ir.NoExpr {
				b.e(id).Discarded = true
			}
			tail = ir.NoExpr
		case kind == "block" || kind == "unsafe_block":
			tail = b.expr(c, parent)
		default:
			tail = b.expr(c, parent)
		}
	}
	return tail
}

func firstNamed(t *syntax.Tree, n syntax.NodeID) syntax.NodeID {
	for _, c := range t.NamedChildren(n) {
		if !isTrivia(t.Kind(c)) {
			return c
		}
	}
	return syntax.NoNode
}

func (b *builder) let(n syntax.NodeID) {
	t := b.tree()
	value := ir.NoExpr
	if v := t.ChildByField(n, "value"); v != syntax.NoNode {
		value = b.expr(v, ir.NoExpr)
	}
	pattern := t.ChildByField(n, "pattern")
	names := b.patternNames(pattern)
	if t.Text(pattern) == "_" && value != ir.NoExpr {
		b.e(value).Discarded = true
	}
	span := t.Span(n)
	for _, name := range names {
		b.h.Locals = append(b.h.Locals, ir.Local{Name: name, Value: value, Span: span, Destructured: len(names) > 1 || t.Kind(pattern) != "identifier"})
	}
	if alt := t.ChildByField(n, "alternative"); alt != syntax.NoNode {
		b.block(alt, ir.NoExpr)
		if value != ir.NoExpr {
			b.h.Guards = append(b.h.Guards, ir.Guard{
				Kind:     ir.GuardLetElse,
				Cond:     value,
				Span:     b.e(value).Span,
				Scope:    model.Span{Start: span.End, End: b.body.End},
				Diverges: true,
			})
		}
	}
}

// patternNames lists the identifiers a pattern binds.
func (b *builder) patternNames(p syntax.NodeID) []string {
	t := b.tree()
	if p == syntax.NoNode {
		return nil
	}
	var out []string
	t.Walk(p, func(id syntax.NodeID) bool {
		node := t.Nodes[id]
		switch node.Kind {
		case "scoped_identifier", "type_identifier", "scoped_type_identifier":
			return false
		case "identifier":
			if node.Field == "type" {
				return false
			}
			out = append(out, t.Text(id))
		}
		return true
	})
	return out
}

func (b *builder) expr(n syntax.NodeID, parent ir.ExprID) ir.ExprID {
	t := b.tree()
	kind := t.Kind(n)
	switch kind {
	case "identifier", "self", "crate", "super", "metavariable":
		id := b.add(n, ir.ExprIdent, parent)
		b.e(id).Name = t.Text(n)
		return id
	case "scoped_identifier", "scoped_type_identifier", "type_identifier", "generic_type", "primitive_type":
		id := b.add(n, ir.ExprPath, parent)
		b.e(id).Name = compact(t.Text(n))
		return id
	case "field_expression":
		id := b.add(n, ir.ExprField, parent)
		b.e(id).Name = t.Text(t.ChildByField(n, "field"))
		b.appendArg(id, b.expr(t.ChildByField(n, "value"), id))
		return id
	case "call_expression":
		return b.call(n, parent)
	case "generic_function":
		return b.expr(t.ChildByField(n, "function"), parent)
	case "binary_expression":
		id := b.add(n, ir.ExprBinary, parent)
		op := t.Text(t.ChildByField(n, "operator"))
		b.e(id).Op = op
		left := b.expr(t.ChildByField(n, "left"), id)
		right := b.expr(t.ChildByField(n, "right"), id)
		b.appendArg(id, left)
		b.appendArg(id, right)
		switch {
		case arithmeticOps[op]:
			b.h.Arith = append(b.h.Arith, ir.ArithmeticOp{Op: op, Mode: ir.ArithRaw, Left: left, Right: right, Expr: id, Span: b.e(id).Span})
		case comparisonOps[op]:
			b.h.Comparisons = append(b.h.Comparisons, ir.Comparison{Op: op, Left: left, Right: right, Expr: id, Span: b.e(id).Span})
		}
		return id
	case "unary_expression":
		id := b.add(n, ir.ExprUnary, parent)
		if kids := t.Children(n); len(kids) > 0 {
			b.e(id).Op = t.Text(kids[0])
		}
		b.appendArg(id, b.expr(firstNamed(t, n), id))
		return id
	case "reference_expression":
		id := b.add(n, ir.ExprRef, parent)
		b.e(id).Op = "&"
		if t.ChildOfKind(n, "mutable_specifier") != syntax.NoNode {
			b.e(id).Op = "&mut"
		}
		b.appendArg(id, b.expr(t.ChildByField(n, "value"), id))
		return id
	case "try_expression":
		id := b.add(n, ir.ExprTry, parent)
		b.appendArg(id, b.expr(firstNamed(t, n), id))
		return id
	case "type_cast_expression":
		id := b.add(n, ir.ExprCast, parent)
		b.e(id).Name = compact(t.Text(t.ChildByField(n, "type")))
		operand := b.expr(t.ChildByField(n, "value"), id)
		b.appendArg(id, operand)
		b.h.Casts = append(b.h.Casts, ir.Cast{Type: b.e(id).Name, Operand: operand, Expr: id, Span: b.e(id).Span})
		return id
	case "parenthesized_expression":
		return b.expr(firstNamed(t, n), parent)
	case "index_expression":
		id := b.add(n, ir.ExprIndex, parent)
		for _, c := range t.NamedChildren(n) {
			if !isTrivia(t.Kind(c)) {
				b.appendArg(id, b.expr(c, id))
			}
		}
		return id
	case "integer_literal", "float_literal", "string_literal", "raw_string_literal", "char_literal", "boolean_literal", "negative_literal", "unit_expression":
		id := b.add(n, ir.ExprLit, parent)
		b.e(id).Name = t.Text(n)
		b.e(id).Op = literalClass(kind)
		return id
	case "macro_invocation":
		return b.macro(n, parent)
	case "struct_expression":
		return b.structLit(n, parent)
	case "array_expression", "tuple_expression":
		k := ir.ExprArray
		if kind == "tuple_expression" {
			k = ir.ExprTuple
		}
		id := b.add(n, k, parent)
		for _, c := range t.NamedChildren(n) {
			if !isTrivia(t.Kind(c)) {
				b.appendArg(id, b.expr(c, id))
			}
		}
		return id
	case "assignment_expression", "compound_assignment_expr":
		id := b.add(n, ir.ExprAssign, parent)
		op := "="
		if kind == "compound_assignment_expr" {
			op = t.Text(t.ChildByField(n, "operator"))
		}
		b.e(id).Op = op
		left := b.expr(t.ChildByField(n, "left"), id)
		right := b.expr(t.ChildByField(n, "right"), id)
		b.appendArg(id, left)
		b.appendArg(id, right)
		if base := strings.TrimSuffix(op, "="); arithmeticOps[base] {
			b.h.Arith = append(b.h.Arith, ir.ArithmeticOp{Op: base, Mode: ir.ArithRaw, Compound: true, Left: left, Right: right, Expr: id, Span: b.e(id).Span})
		}
		return id
	case "if_expression":
		return b.ifExpr(n, parent)
	case "match_expression":
		return b.matchExpr(n, parent)
	case "while_expression":
		id := b.flow(n, "while", parent)
		cond := b.condition(t.ChildByField(n, "condition"), id)
		b.appendArg(id, cond)
		b.block(t.ChildByField(n, "body"), id)
		if cond != ir.NoExpr {
			b.h.Guards = append(b.h.Guards, ir.Guard{Kind: ir.GuardWhile, Cond: cond, Span: b.e(cond).Span, Scope: t.Span(t.ChildByField(n, "body"))})
		}
		return id
	case "loop_expression":
		id := b.flow(n, "loop", parent)
		b.block(t.ChildByField(n, "body"), id)
		return id
	case "for_expression":
		id := b.flow(n, "for", parent)
		value := b.expr(t.ChildByField(n, "value"), id)
		b.appendArg(id, value)
		span := t.Span(t.ChildByField(n, "pattern"))
		for _, name := range b.patternNames(t.ChildByField(n, "pattern")) {
			b.h.Locals = append(b.h.Locals, ir.Local{Name: name, Value: value, Span: span, Destructured: true})
		}
		b.block(t.ChildByField(n, "body"), id)
		return id
	case "block", "unsafe_block", "async_block", "const_block", "try_block":
		id := b.flow(n, "block", parent)
		inner := n
		if kind != "block" {
			if blk := t.ChildOfKind(n, "block"); blk != syntax.NoNode {
				inner = blk
			}
		}
		b.appendArg(id, b.block(inner, id))
		return id
	case "closure_expression":
		id := b.flow(n, "closure", parent)
		body := t.ChildByField(n, "body")
		if t.Kind(body) == "block" {
			b.appendArg(id, b.block(body, id))
		} else if body != syntax.NoNode {
			b.appendArg(id, b.expr(body, id))
		}
		return id
	case "return_expression", "break_expression", "continue_expression", "yield_expression", "await_expression":
		id := b.flow(n, strings.TrimSuffix(kind, "_expression"), parent)
		if c := firstNamed(t, n); c != syntax.NoNode && t.Kind(c) != "label" {
			b.appendArg(id, b.expr(c, id))
		}
		return id
	case "range_expression":
		id := b.add(n, ir.ExprOther, parent)
		b.e(id).Op = "range"
		for _, c := range t.NamedChildren(n) {
			b.appendArg(id, b.expr(c, id))
		}
		return id
	case "ERROR":
		b.failf(n, "syntax error inside handler")
		return ir.NoExpr
	case "":
		return ir.NoExpr
	}
	if t.Nodes[n].Named && (strings.HasSuffix(kind, "_expression") || strings.HasSuffix(kind, "_literal")) {
		id := b.add(n, ir.ExprOther, parent)
		b.e(id).Op = kind
		for _, c := range t.NamedChildren(n) {
			if !isTrivia(t.Kind(c)) {
				b.appendArg(id, b.expr(c, id))
			}
		}
		return id
	}
	b.failf(n, "unrecognized expression %s", kind)
	return ir.NoExpr
}

func literalClass(kind string) string {
	switch kind {
	case "integer_literal", "negative_literal":
		return "int"
	case "float_literal":
		return "float"
	case "boolean_literal":
		return "bool"
	case "char_literal":
		return "char"
	case "unit_expression":
		return "unit"
	}
	return "str"
}

func (b *builder) flow(n syntax.NodeID, op string, parent ir.ExprID) ir.ExprID {
	id := b.add(n, ir.ExprFlow, parent)
	b.e(id).Op = op
	return id
}

func (b *builder) call(n syntax.NodeID, parent ir.ExprID) ir.ExprID {
	t := b.tree()
	fn := t.ChildByField(n, "function")
	if t.Kind(fn) == "generic_function" {
		fn = t.ChildByField(fn, "function")
	}
	var id ir.ExprID
	if t.Kind(fn) == "field_expression" {
		id = b.add(n, ir.ExprMethod, parent)
		b.e(id).Name = t.Text(t.ChildByField(fn, "field"))
		b.appendArg(id, b.expr(t.ChildByField(fn, "value"), id))
	} else {
		id = b.add(n, ir.ExprCall, parent)
		b.e(id).Name = callName(t.Text(fn))
	}
	for _, a := range t.NamedChildren(t.ChildByField(n, "arguments")) {
		if isTrivia(t.Kind(a)) {
			continue
		}
		b.appendArg(id, b.expr(a, id))
	}
	e := b.e(id)
	if e.Kind == ir.ExprMethod && len(e.Args) == 2 {
		if i := strings.Index(e.Name, "_"); i > 0 {
			if mode, ok := arithModes[e.Name[:i]]; ok {
				if op, ok := methodArith[e.Name[i+1:]]; ok {
					b.h.Arith = append(b.h.Arith, ir.ArithmeticOp{Op: op, Mode: mode, Left: e.Args[0], Right: e.Args[1], Expr: id, Span: e.Span})
				}
			}
		}
		if e.Name == "pow" {
			b.h.Arith = append(b.h.Arith, ir.ArithmeticOp{Op: "**", Mode: ir.ArithRaw, Left: e.Args[0], Right: e.Args[1], Expr: id, Span: e.Span})
		}
	}
	return id
}

// callName strips turbofish arguments from a callee path.
func callName(s string) string {
	s = compact(s)
	for {
		i := strings.Index(s, "::<")
		if i < 0 {
			return s
		}
		depth, j := 0, i+2
		for ; j < len(s); j++ {
			if s[j] == '<' {
				depth++
			} else if s[j] == '>' {
				depth--
				if depth == 0 {
					break
				}
			}
		}
		if j >= len(s) {
			return s
		}
		s = s[:i] + s[j+1:]
	}
}

func (b *builder) macro(n syntax.NodeID, parent ir.ExprID) ir.ExprID {
	t := b.tree()
	id := b.add(n, ir.ExprMacro, parent)
	name := compact(t.Text(t.ChildByField(n, "macro")))
	if i := strings.LastIndex(name, "::"); i >= 0 {
		name = name[i+2:]
	}
	b.e(id).Name = name
	args := t.ChildByField(n, "arguments")
	if t.Kind(args) != syntax.MacroArgumentsKind {
		b.e(id).Op = "opaque"
		return id
	}
	for _, c := range t.NamedChildren(args) {
		if !isTrivia(t.Kind(c)) {
			b.appendArg(id, b.expr(c, id))
		}
	}
	op, isGuard := guardMacros[name]
	if !isGuard {
		return id
	}
	e := b.e(id)
	if op != "" && len(e.Args) >= 2 {
		b.h.Comparisons = append(b.h.Comparisons, ir.Comparison{Op: op, Left: e.Args[0], Right: e.Args[1], Expr: id, Span: e.Span})
	}
	b.h.Guards = append(b.h.Guards, ir.Guard{
		Kind:     ir.GuardMacro,
		Cond:     id,
		Span:     e.Span,
		Scope:    model.Span{Start: e.Span.End, End: b.body.End},
		Diverges: true,
	})
	return id
}

func (b *builder) structLit(n syntax.NodeID, parent ir.ExprID) ir.ExprID {
	t := b.tree()
	id := b.add(n, ir.ExprStruct, parent)
	b.e(id).Name = compact(t.Text(t.ChildByField(n, "name")))
	for _, c := range t.NamedChildren(t.ChildByField(n, "body")) {
		switch t.Kind(c) {
		case "field_initializer":
			field := t.Text(t.ChildByField(c, "field"))
			v := b.expr(t.ChildByField(c, "value"), id)
			if v != ir.NoExpr {
				b.e(id).Fields = append(b.e(id).Fields, field)
				b.appendArg(id, v)
			}
		case "shorthand_field_initializer":
			inner := firstNamed(t, c)
			v := b.expr(inner, id)
			if v != ir.NoExpr {
				b.e(id).Fields = append(b.e(id).Fields, t.Text(inner))
				b.appendArg(id, v)
			}
		case "base_field_initializer":
			v := b.expr(firstNamed(t, c), id)
			if v != ir.NoExpr {
				b.e(id).Fields = append(b.e(id).Fields, "..")
				b.appendArg(id, v)
			}
		}
	}
	return id
}

// condition converts an if/while condition, binding `if let` patterns.
func (b *builder) condition(n syntax.NodeID, parent ir.ExprID) ir.ExprID {
	t := b.tree()
	switch t.Kind(n) {
	case "let_condition":
		value := b.expr(t.ChildByField(n, "value"), parent)
		for _, name := range b.patternNames(t.ChildByField(n, "pattern")) {
			b.h.Locals = append(b.h.Locals, ir.Local{Name: name, Value: value, Span: t.Span(n), Destructured: true})
		}
		return value
	case "let_chain":
		id := b.add(n, ir.ExprOther, parent)
		b.e(id).Op = "let_chain"
		for _, c := range t.NamedChildren(n) {
			b.appendArg(id, b.condition(c, id))
		}
		return id
	case "":
		return ir.NoExpr
	}
	return b.expr(n, parent)
}

func (b *builder) ifExpr(n syntax.NodeID, parent ir.ExprID) ir.ExprID {
	t := b.tree()
	id := b.flow(n, "if", parent)
	condNode := t.ChildByField(n, "condition")
	cond := b.condition(condNode, id)
	b.appendArg(id, cond)
	cons := t.ChildByField(n, "consequence")
	b.appendArg(id, b.block(cons, id))
	diverges := b.diverges(cons)
	if alt := t.ChildByField(n, "alternative"); alt != syntax.NoNode {
		inner := firstNamed(t, alt)
		if t.Kind(inner) == "block" {
			b.appendArg(id, b.block(inner, id))
		} else if inner != syntax.NoNode {
			b.appendArg(id, b.expr(inner, id))
		}
		diverges = diverges || b.diverges(inner)
	}
	if cond != ir.NoExpr {
		condSpan := t.Span(condNode)
		scope := model.Span{Start: condSpan.End, End: t.Span(n).End}
		if diverges {
			scope.End = b.body.End
		}
		b.h.Guards = append(b.h.Guards, ir.Guard{Kind: ir.GuardIf, Cond: cond, Span: condSpan, Scope: scope, Diverges: diverges})
	}
	return id
}

func (b *builder) matchExpr(n syntax.NodeID, parent ir.ExprID) ir.ExprID {
	t := b.tree()
	id := b.flow(n, "match", parent)
	valueNode := t.ChildByField(n, "value")
	value := b.expr(valueNode, id)
	b.appendArg(id, value)
	diverges := false
	for _, arm := range t.NamedChildren(t.ChildByField(n, "body")) {
		if t.Kind(arm) != "match_arm" {
			continue
		}
		pat := t.ChildByField(arm, "pattern")
		for _, name := range b.patternNames(pat) {
			b.h.Locals = append(b.h.Locals, ir.Local{Name: name, Value: value, Span: t.Span(pat), Destructured: true})
		}
		armValue := t.ChildByField(arm, "value")
		if t.Kind(armValue) == "block" {
			b.appendArg(id, b.block(armValue, id))
		} else if armValue != syntax.NoNode {
			b.appendArg(id, b.expr(armValue, id))
		}
		diverges = diverges || b.diverges(armValue)
	}
	if value != ir.NoExpr {
		vs := t.Span(valueNode)
		scope := model.Span{Start: vs.End, End: t.Span(n).End}
		if diverges {
			scope.End = b.body.End
		}
		b.h.Guards = append(b.h.Guards, ir.Guard{Kind: ir.GuardMatch, Cond: value, Span: vs, Scope: scope, Diverges: diverges})
	}
	return id
}

// diverges reports whether a branch can leave the handler early.
func (b *builder) diverges(n syntax.NodeID) bool {
	t := b.tree()
	if n == syntax.NoNode {
		return false
	}
	found := false
	t.Walk(n, func(id syntax.NodeID) bool {
		if found {
			return false
		}
		switch t.Kind(id) {
		case "closure_expression":
			return false
		case "return_expression":
			found = true
		case "macro_invocation":
			name := t.Text(t.ChildByField(id, "macro"))
			if divergingMacros[name] {
				found = true
			}
		case "call_expression":
			if t.Text(t.ChildByField(id, "function")) == "Err" && isTail(t, id) {
				found = true
			}
		}
		return !found
	})
	return found
}

// isTail reports an expression in value position of its block or under `?`.
func isTail(t *syntax.Tree, id syntax.NodeID) bool {
	p := t.Parent(id)
	switch t.Kind(p) {
	case "try_expression":
		return true
	case "block":
		kids := t.NamedChildren(p)
		for i := len(kids) - 1; i >= 0; i-- {
			if isTrivia(t.Kind(kids[i])) {
				continue
			}
			return kids[i] == id
		}
	}
	return false
}

// finish derives authority checks, classifies call targets and orders every
// site by source position.
func (b *builder) finish(ad adapter) {
	h := b.h
	h.Guards = append(h.Guards, b.d.guards...)
	h.Derivations = append(h.Derivations, b.d.derivations...)
	for i := range h.Arith {
		a := &h.Arith[i]
		a.Constant = h.IsConstant(a.Left) && h.IsConstant(a.Right)
	}
	for i := range h.Calls {
		ad.classifyTarget(b, &h.Calls[i])
	}
	byStart := func(span func(int) model.Span) func(i, j int) bool {
		return func(i, j int) bool {
			si, sj := span(i), span(j)
			if si.Start != sj.Start {
				return si.Start < sj.Start
			}
			return si.End < sj.End
		}
	}
	sort.SliceStable(h.Guards, byStart(func(i int) model.Span { return h.Guards[i].Span }))
	sort.SliceStable(h.Accesses, byStart(func(i int) model.Span { return h.Accesses[i].Span }))
	sort.SliceStable(h.Arith, byStart(func(i int) model.Span { return h.Arith[i].Span }))
	sort.SliceStable(h.Casts, byStart(func(i int) model.Span { return h.Casts[i].Span }))
	sort.SliceStable(h.Calls, byStart(func(i int) model.Span { return h.Calls[i].Span }))
	sort.SliceStable(h.Derivations, byStart(func(i int) model.Span { return h.Derivations[i].Span }))
	sort.SliceStable(h.Reads, byStart(func(i int) model.Span { return h.Reads[i].Span }))
	sort.SliceStable(h.Decodes, byStart(func(i int) model.Span { return h.Decodes[i].Span }))
	sort.SliceStable(h.Comparisons, byStart(func(i int) model.Span { return h.Comparisons[i].Span }))
	sort.SliceStable(h.Locals, byStart(func(i int) model.Span { return h.Locals[i].Span }))

	for gi := range h.Guards {
		g := &h.Guards[gi]
		if g.Text == "" && g.Cond != ir.NoExpr {
			g.Text = h.Text(g.Cond)
		}
		h.Authority = append(h.Authority, b.authorityIn(gi, *g)...)
	}
	h.Authority = append(h.Authority, b.d.authority...)
	sort.SliceStable(h.Authority, byStart(func(i int) model.Span { return h.Authority[i].Span }))
	for _, a := range h.Accesses {
		if a.Write {
			h.Mutating = true
			break
		}
	}
}

var membershipWords = []string{"owner", "admin", "auth", "role", "contains", "allowed", "whitelist", "allowlist", "member", "operator", "minter"}

// authorityIn finds caller-identity comparisons inside a guard.
func (b *builder) authorityIn(gi int, g ir.Guard) []ir.AuthorityCheck {
	h := b.h
	if g.Kind == ir.GuardHelper {
		return []ir.AuthorityCheck{{Kind: "helper", Identity: "caller", Against: g.Text, Guard: gi, Span: g.Span, Scope: g.Scope}}
	}
	if g.Cond == ir.NoExpr {
		return nil
	}
	var out []ir.AuthorityCheck
	for _, c := range h.ComparisonsIn(g.Cond) {
		if c.Op != "==" && c.Op != "!=" {
			continue
		}
		li, ri := h.ContainsIdentity(c.Left), h.ContainsIdentity(c.Right)
		if li == ri {
			continue
		}
		id, other := c.Left, c.Right
		if ri {
			id, other = c.Right, c.Left
		}
		out = append(out, ir.AuthorityCheck{Kind: "compare", Identity: h.Text(id), Against: h.Text(other), Guard: gi, Span: g.Span, Scope: g.Scope})
	}
	if len(out) > 0 {
		return out
	}
	h.Walk(g.Cond, func(eid ir.ExprID, e *ir.Expr) bool {
		if e.Kind != ir.ExprMethod && e.Kind != ir.ExprCall {
			return true
		}
		lower := strings.ToLower(e.Name)
		matched := false
		for _, w := range membershipWords {
			if strings.Contains(lower, w) {
				matched = true
				break
			}
		}
		if !matched {
			return true
		}
		args := e.Args
		if e.Kind == ir.ExprMethod {
			args = args[1:]
		}
		for _, a := range args {
			if h.ContainsIdentity(a) {
				out = append(out, ir.AuthorityCheck{Kind: "membership", Identity: h.Text(a), Against: h.Text(eid), Guard: gi, Span: g.Span, Scope: g.Scope})
				return false
			}
		}
		return true
	})
	return out
}

// allowlisted reports whether a guard dominating pos compares the named
// value against something the caller does not control.
func (b *builder) allowlisted(root string, pos int) bool {
	h := b.h
	mentions := func(id ir.ExprID) bool {
		return h.Mentions(id, true, func(n string) bool { return n == root })
	}
	trusted := func(id ir.ExprID) bool {
		for _, r := range h.Roots(id) {
			switch r.Kind {
			case ir.RootParam, ir.RootIdentity, ir.RootUnknown:
				return false
			case ir.RootAccount:
				if r.Name == root {
					return false
				}
			}
		}
		return true
	}
	for _, g := range h.Protecting(pos) {
		if g.Cond == ir.NoExpr {
			if g.Kind == ir.GuardConstraint && strings.Contains(g.Text, "==") {
				for _, w := range ir.Words(g.Text) {
					if w == root {
						return true
					}
				}
			}
			continue
		}
		for _, c := range h.ComparisonsIn(g.Cond) {
			if c.Op != "==" && c.Op != "!=" {
				continue
			}
			if (mentions(c.Left) && !mentions(c.Right) && trusted(c.Right)) ||
				(mentions(c.Right) && !mentions(c.Left) && trusted(c.Left)) {
				return true
			}
		}
		found := h.Contains(g.Cond, func(_ ir.ExprID, e *ir.Expr) bool {
			if e.Kind != ir.ExprMethod || (e.Name != "contains" && e.Name != "contains_key") || len(e.Args) < 2 {
				return false
			}
			return trusted(e.Args[0]) && mentions(e.Args[1])
		})
		if found {
			return true
		}
	}
	return false
}

// boundLocal returns the local whose initializer contains id.
func (b *builder) boundLocal(id ir.ExprID) string {
	for _, l := range b.h.Locals {
		if l.Value != ir.NoExpr && b.h.Within(id, l.Value) {
			return l.Name
		}
	}
	return ""
}

// resolve follows plain local aliases to their initializer.
func (b *builder) resolve(id ir.ExprID) ir.ExprID {
	h := b.h
	seen := map[ir.ExprID]bool{}
	for {
		e := h.Expr(id)
		if e == nil || seen[id] {
			return id
		}
		seen[id] = true
		switch e.Kind {
		case ir.ExprRef, ir.ExprTry:
			id = e.Args[0]
			continue
		case ir.ExprUnary:
			if e.Op == "*" {
				id = e.Args[0]
				continue
			}
		case ir.ExprIdent:
			if l, ok := h.LocalAt(e.Name, e.Span.Start); ok && l.Value != ir.NoExpr && !l.Destructured {
				id = l.Value
				continue
			}
		}
		return id
	}
}

func (b *builder) write(t ir.Target, op string, value, id ir.ExprID) {
	b.h.Accesses = append(b.h.Accesses, ir.AccessSite{Target: t, Write: true, Op: op, Value: value, Expr: id, Span: b.h.Expr(id).Span})
}

func (b *builder) external(kind string, target ir.ExprID, args []ir.ExprID, value, id ir.ExprID) {
	b.h.Calls = append(b.h.Calls, ir.ExternalCall{
		Kind:       kind,
		Target:     target,
		Args:       append([]ir.ExprID(nil), args...),
		Value:      value,
		Expr:       id,
		Span:       b.h.Expr(id).Span,
		ResultUsed: b.resultUsed(id),
	})
}

func (b *builder) helperGuard(id ir.ExprID, name string) {
	span := b.h.Expr(id).Span
	b.h.Guards = append(b.h.Guards, ir.Guard{
		Kind:     ir.GuardHelper,
		Cond:     ir.NoExpr,
		Text:     name,
		Span:     span,
		Scope:    model.Span{Start: span.End, End: b.body.End},
		Diverges: true,
	})
}

// chainHas walks a receiver chain (method receivers, fields, locals) looking
// for an expression matching pred.
func (b *builder) chainHas(id ir.ExprID, pred func(*ir.Expr) bool) bool {
	return b.chainFind(id, pred) != ir.NoExpr
}

func (b *builder) chainFind(id ir.ExprID, pred func(*ir.Expr) bool) ir.ExprID {
	seen := map[ir.ExprID]bool{}
	cur := b.resolve(id)
	for cur != ir.NoExpr && !seen[cur] {
		seen[cur] = true
		e := b.h.Expr(cur)
		if e == nil {
			break
		}
		if pred(e) {
			return cur
		}
		if (e.Kind != ir.ExprMethod && e.Kind != ir.ExprField) || len(e.Args) == 0 {
			break
		}
		cur = b.resolve(e.Args[0])
	}
	return ir.NoExpr
}

// callValue finds the `.value(v)` attached to a call context.
func (b *builder) callValue(id ir.ExprID) ir.ExprID {
	found := b.chainFind(id, func(e *ir.Expr) bool { return e.Kind == ir.ExprMethod && e.Name == "value" && len(e.Args) == 2 })
	if found == ir.NoExpr {
		return ir.NoExpr
	}
	return b.h.Expr(found).Args[1]
}

// chained reports whether id is the receiver of a further storage handle.
func (b *builder) chained(id ir.ExprID) bool {
	p := b.h.Expr(b.h.Expr(id).Parent)
	if p == nil || len(p.Args) == 0 || p.Args[0] != id {
		return false
	}
	switch p.Kind {
	case ir.ExprField:
		return true
	case ir.ExprMethod:
		return storageHandles[p.Name] || p.Name == "set" || p.Name == "insert" || p.Name == "push" || storageErase[p.Name]
	}
	return false
}

// bytesParam names the byte-buffer parameter id derives from.
func (b *builder) bytesParam(id ir.ExprID) (string, bool) {
	for _, r := range b.h.Roots(id) {
		if r.Kind != ir.RootParam {
			continue
		}
		if p, ok := b.h.Param(r.Name); ok && p.Caps.Has(ir.CapBytes) {
			return r.Name, true
		}
	}
	return "", false
}

// resultUsed reports whether the value of id reaches a binding, a check or
// the handler result rather than being dropped.
func (b *builder) resultUsed(id ir.ExprID) bool {
	h := b.h
	cur := id
	for {
		e := h.Expr(cur)
		if e.Discarded {
			return false
		}
		p := h.Expr(e.Parent)
		if p == nil {
			return true
		}
		switch {
		case p.Kind == ir.ExprFlow && p.Op == "block" && len(p.Args) > 0 && p.Args[len(p.Args)-1] == cur:
			cur = e.Parent
		case p.Kind == ir.ExprMethod && p.Name == "ok" && p.Args[0] == cur:
			cur = e.Parent
		default:
			return true
		}
	}
}
