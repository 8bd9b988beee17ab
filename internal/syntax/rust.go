package syntax

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/rust"

	"github.com/Auditware/radar/internal/model"
)

// Frontend turns source text into a syntax tree.
type Frontend interface {
	Parse(ctx context.Context, src []byte) (*Tree, error)
}

// MacroArgumentsKind labels the grafted argument list of a macro invocation.
const MacroArgumentsKind = "macro_arguments"

const macroPrefix = "fn __m(){__m("

// opaqueMacros hold declarations rather than expression lists.
var opaqueMacros = map[string]bool{
	"sol_storage":   true,
	"sol_interface": true,
	"sol":           true,
	"declare_id":    true,
	"macro_rules":   true,
	"include_bytes": true,
	"include_str":   true,
}

// RustFrontend parses Rust with tree-sitter. Macro arguments that form a
// valid expression list are re-parsed and grafted below the invocation.
type RustFrontend struct{}

func NewRustFrontend() *RustFrontend { return &RustFrontend{} }

func (f *RustFrontend) Parse(ctx context.Context, src []byte) (*Tree, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(rust.GetLanguage())
	st, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter: %w", err)
	}
	root := st.RootNode()
	if root.HasError() {
		return nil, firstError(root, src)
	}
	t := NewTree(src)
	c := converter{ctx: ctx, parser: parser, tree: t}
	c.convert(root, 0, NoNode, "")
	return t, nil
}

func firstError(root *sitter.Node, src []byte) *model.ParseError {
	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.Type() == "ERROR" || n.IsMissing() {
			span := model.Span{Start: int(n.StartByte()), End: int(n.EndByte())}
			msg := "unexpected syntax"
			if n.IsMissing() {
				msg = fmt.Sprintf("missing %s", n.Type())
			} else if span.End > span.Start {
				text := string(src[span.Start:span.End])
				if len(text) > 40 {
					text = text[:40]
				}
				msg = fmt.Sprintf("unexpected syntax near %q", text)
			}
			return &model.ParseError{Message: msg, Span: span}
		}
		if !n.HasError() {
			continue
		}
		for i := int(n.ChildCount()) - 1; i >= 0; i-- {
			stack = append(stack, n.Child(i))
		}
	}
	return &model.ParseError{Message: "unexpected syntax", Span: model.Span{Start: 0, End: len(src)}}
}

type converter struct {
	ctx    context.Context
	parser *sitter.Parser
	tree   *Tree
}

type pending struct {
	node   *sitter.Node
	parent NodeID
	field  string
}

// convert copies the tree-sitter subtree into the arena. offset shifts spans
// of nodes parsed from a synthetic buffer back into the original source.
func (c *converter) convert(root *sitter.Node, offset int, parent NodeID, field string) NodeID {
	first := NoNode
	var macros []NodeID
	stack := []pending{{root, parent, field}}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := p.node
		id := c.tree.Add(p.parent, Node{
			Kind:  n.Type(),
			Field: p.field,
			Named: n.IsNamed(),
			Span:  model.Span{Start: int(n.StartByte()) + offset, End: int(n.EndByte()) + offset},
		})
		if first == NoNode {
			first = id
		}
		count := int(n.ChildCount())
		for i := count - 1; i >= 0; i-- {
			stack = append(stack, pending{n.Child(i), id, n.FieldNameForChild(i)})
		}
		if n.Type() == "macro_invocation" {
			macros = append(macros, id)
		}
	}
	for _, m := range macros {
		c.graftMacro(m)
	}
	return first
}

func (c *converter) graftMacro(id NodeID) {
	t := c.tree
	name := t.Text(t.ChildByField(id, "macro"))
	if i := strings.LastIndex(name, "::"); i >= 0 {
		name = name[i+2:]
	}
	if opaqueMacros[name] {
		return
	}
	switch t.Kind(t.Parent(id)) {
	case "source_file", "declaration_list":
		return
	}
	tt := t.ChildOfKind(id, "token_tree")
	if tt == NoNode {
		return
	}
	span := t.Span(tt)
	if span.Len() < 2 {
		return
	}
	inner := t.Source[span.Start+1 : span.End-1]
	buf := make([]byte, 0, len(macroPrefix)+len(inner)+5)
	buf = append(buf, macroPrefix...)
	buf = append(buf, inner...)
	buf = append(buf, "\n);}"...)
	st, err := c.parser.ParseCtx(c.ctx, nil, buf)
	if err != nil {
		return
	}
	root := st.RootNode()
	if root.HasError() {
		return
	}
	args := findArguments(root)
	if args == nil {
		return
	}
	offset := span.Start + 1 - len(macroPrefix)
	holder := t.Add(id, Node{
		Kind:  MacroArgumentsKind,
		Field: "arguments",
		Named: true,
		Span:  model.Span{Start: span.Start + 1, End: span.End - 1},
	})
	for i := 0; i < int(args.ChildCount()); i++ {
		ch := args.Child(i)
		if !ch.IsNamed() {
			continue
		}
		c.convert(ch, offset, holder, "")
	}
}

// findArguments locates the argument list of the synthetic __m(...) call.
func findArguments(root *sitter.Node) *sitter.Node {
	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.Type() == "call_expression" {
			return n.ChildByFieldName("arguments")
		}
		for i := int(n.ChildCount()) - 1; i >= 0; i-- {
			stack = append(stack, n.Child(i))
		}
	}
	return nil
}
