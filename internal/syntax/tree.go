package syntax

import (
	"fmt"
	"io"
	"strings"

	"github.com/Auditware/radar/internal/model"
)

// NodeID indexes Tree.Nodes.
type NodeID int32

const NoNode NodeID = -1

type Node struct {
	Kind     string
	Field    string
	Named    bool
	Span     model.Span
	Parent   NodeID
	Children []NodeID
}

// Tree is an arena of syntax nodes over one source buffer. Nodes never hold
// pointers to each other; parent and child links are indices.
type Tree struct {
	Source []byte
	Nodes  []Node
	Root   NodeID
}

func NewTree(src []byte) *Tree {
	return &Tree{Source: src, Root: NoNode}
}

// Add appends a node and links it under parent.
func (t *Tree) Add(parent NodeID, n Node) NodeID {
	id := NodeID(len(t.Nodes))
	n.Parent = parent
	t.Nodes = append(t.Nodes, n)
	if parent != NoNode {
		t.Nodes[parent].Children = append(t.Nodes[parent].Children, id)
	} else if t.Root == NoNode {
		t.Root = id
	}
	return id
}

func (t *Tree) Valid(id NodeID) bool { return id >= 0 && int(id) < len(t.Nodes) }

func (t *Tree) Kind(id NodeID) string {
	if !t.Valid(id) {
		return ""
	}
	return t.Nodes[id].Kind
}

func (t *Tree) Span(id NodeID) model.Span {
	if !t.Valid(id) {
		return model.Span{}
	}
	return t.Nodes[id].Span
}

func (t *Tree) Text(id NodeID) string {
	if !t.Valid(id) {
		return ""
	}
	s := t.Nodes[id].Span
	if s.Start < 0 || s.End > len(t.Source) || s.Start > s.End {
		return ""
	}
	return string(t.Source[s.Start:s.End])
}

func (t *Tree) Parent(id NodeID) NodeID {
	if !t.Valid(id) {
		return NoNode
	}
	return t.Nodes[id].Parent
}

func (t *Tree) Children(id NodeID) []NodeID {
	if !t.Valid(id) {
		return nil
	}
	return t.Nodes[id].Children
}

func (t *Tree) NamedChildren(id NodeID) []NodeID {
	var out []NodeID
	for _, c := range t.Children(id) {
		if t.Nodes[c].Named {
			out = append(out, c)
		}
	}
	return out
}

// ChildByField returns the first child attached under field, or NoNode.
func (t *Tree) ChildByField(id NodeID, field string) NodeID {
	for _, c := range t.Children(id) {
		if t.Nodes[c].Field == field {
			return c
		}
	}
	return NoNode
}

func (t *Tree) ChildOfKind(id NodeID, kinds ...string) NodeID {
	for _, c := range t.Children(id) {
		for _, k := range kinds {
			if t.Nodes[c].Kind == k {
				return c
			}
		}
	}
	return NoNode
}

// PrevSiblings returns the siblings before id, nearest first.
func (t *Tree) PrevSiblings(id NodeID) []NodeID {
	p := t.Parent(id)
	if p == NoNode {
		return nil
	}
	kids := t.Children(p)
	var out []NodeID
	for i := range kids {
		if kids[i] == id {
			for j := i - 1; j >= 0; j-- {
				out = append(out, kids[j])
			}
			break
		}
	}
	return out
}

// Walk visits the subtree rooted at id in pre-order. Returning false from fn
// skips the node's children.
func (t *Tree) Walk(id NodeID, fn func(NodeID) bool) {
	if !t.Valid(id) {
		return
	}
	stack := []NodeID{id}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(n) {
			continue
		}
		kids := t.Nodes[n].Children
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
	}
}

// Find returns every node of the given kinds under id, in source order.
func (t *Tree) Find(id NodeID, kinds ...string) []NodeID {
	var out []NodeID
	t.Walk(id, func(n NodeID) bool {
		k := t.Nodes[n].Kind
		for _, want := range kinds {
			if k == want {
				out = append(out, n)
				break
			}
		}
		return true
	})
	return out
}

// Dump writes an indented outline of the named nodes.
func (t *Tree) Dump(w io.Writer) error {
	type frame struct {
		id    NodeID
		depth int
	}
	stack := []frame{{t.Root, 0}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := t.Nodes[f.id]
		if !n.Named {
			continue
		}
		label := n.Kind
		if n.Field != "" {
			label = n.Field + ": " + label
		}
		line := fmt.Sprintf("%s%s [%d,%d)", strings.Repeat("  ", f.depth), label, n.Span.Start, n.Span.End)
		if len(t.NamedChildren(f.id)) == 0 {
			line += fmt.Sprintf(" %q", t.Text(f.id))
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{n.Children[i], f.depth + 1})
		}
	}
	return nil
}
