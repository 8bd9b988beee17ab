package normalize

import (
	"strings"

	"github.com/Auditware/radar/internal/ir"
	"github.com/Auditware/radar/internal/model"
	"github.com/Auditware/radar/internal/syntax"
)

// attributes returns the bodies of the outer attributes attached to an item,
// nearest first: `#[account(mut)]` yields "account(mut)".
func attributes(t *syntax.Tree, item syntax.NodeID) []string {
	var out []string
	for _, s := range t.PrevSiblings(item) {
		switch t.Kind(s) {
		case "attribute_item":
			text := strings.TrimSpace(t.Text(s))
			text = strings.TrimPrefix(text, "#")
			text = strings.TrimSpace(text)
			text = strings.TrimSuffix(strings.TrimPrefix(text, "["), "]")
			out = append(out, strings.TrimSpace(text))
		case "line_comment", "block_comment":
			continue
		default:
			return out
		}
	}
	return out
}

// attributeNodes is attributes but returns the nodes.
func attributeNodes(t *syntax.Tree, item syntax.NodeID) []syntax.NodeID {
	var out []syntax.NodeID
	for _, s := range t.PrevSiblings(item) {
		switch t.Kind(s) {
		case "attribute_item":
			out = append(out, s)
		case "line_comment", "block_comment":
			continue
		default:
			return out
		}
	}
	return out
}

func hasAttribute(attrs []string, names ...string) bool {
	for _, a := range attrs {
		head := a
		if i := strings.IndexAny(head, "(= "); i >= 0 {
			head = head[:i]
		}
		if i := strings.LastIndex(head, "::"); i >= 0 {
			head = head[i+2:]
		}
		for _, n := range names {
			if head == n {
				return true
			}
		}
	}
	return false
}

// attributeArgs returns the argument text of a named attribute, e.g. the
// "mut, has_one = owner" of `account(mut, has_one = owner)`.
func attributeArgs(attrs []string, name string) (string, bool) {
	for _, a := range attrs {
		if !strings.HasPrefix(a, name+"(") && !strings.HasPrefix(a, name+" (") {
			continue
		}
		open := strings.Index(a, "(")
		end := strings.LastIndex(a, ")")
		if end <= open {
			return "", true
		}
		return a[open+1 : end], true
	}
	return "", false
}

// splitTopLevel splits on sep outside brackets, braces, parens and strings.
func splitTopLevel(s string, sep byte) []string {
	var out []string
	depth, start := 0, 0
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inString:
			if c == '\\' {
				i++
			} else if c == '"' {
				inString = false
			}
		case c == '"':
			inString = true
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			if depth > 0 {
				depth--
			}
		case c == sep && depth == 0:
			out = append(out, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

// constraintFlags are the boolean entries of an account constraint list.
type constraintFlags struct {
	mut, init, signer, zero bool
	space                   string
}

// parseConstraints reads the `#[account(...)]` list of one accounts field.
func parseConstraints(args string, span model.Span) (ir.Constraints, constraintFlags) {
	var c ir.Constraints
	var f constraintFlags
	c.Span = span
	for _, part := range splitTopLevel(args, ',') {
		key, value := part, ""
		if i := strings.Index(part, "="); i >= 0 && !strings.HasPrefix(part[i:], "==") {
			key, value = strings.TrimSpace(part[:i]), strings.TrimSpace(part[i+1:])
		}
		// `@ ErrorCode::X` annotations name the error, not the check.
		if i := strings.Index(value, "@"); i >= 0 {
			value = strings.TrimSpace(value[:i])
		}
		if i := strings.Index(key, "@"); i >= 0 {
			key = strings.TrimSpace(key[:i])
		}
		switch key {
		case "mut":
			f.mut = true
		case "init":
			f.init = true
		case "init_if_needed":
			f.init = true
			c.InitIfNeeded = true
		case "signer":
			f.signer = true
		case "zero":
			f.zero = true
			f.mut = true
		case "close":
			c.Close = value
			f.mut = true
		case "has_one":
			c.HasOne = append(c.HasOne, value)
		case "constraint":
			c.Exprs = append(c.Exprs, value)
		case "seeds":
			c.HasSeeds = true
			inner := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(value), "["), "]")
			c.Seeds = splitTopLevel(inner, ',')
		case "bump":
			c.HasBump = true
			c.Bump = value
		case "address":
			c.Address = value
		case "owner":
			c.Owner = value
		case "payer":
			c.Payer = value
		case "space":
			f.space = value
		case "realloc":
			c.Realloc = value
			f.mut = true
		default:
			if strings.HasPrefix(key, "token::") || strings.HasPrefix(key, "associated_token::") || strings.HasPrefix(key, "mint::") {
				c.Exprs = append(c.Exprs, part)
			}
		}
	}
	return c, f
}
