package syntax

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Auditware/radar/internal/model"
)

func parse(t *testing.T, src string) *Tree {
	t.Helper()
	tr, err := NewRustFrontend().Parse(context.Background(), []byte(src))
	require.NoError(t, err)
	return tr
}

func TestRustFrontendBuildsArena(t *testing.T) {
	tr := parse(t, "fn main() { let x = a + b; }")
	require.Equal(t, "source_file", tr.Kind(tr.Root))

	fns := tr.Find(tr.Root, "function_item")
	require.Len(t, fns, 1)
	assert.Equal(t, "main", tr.Text(tr.ChildByField(fns[0], "name")))

	bins := tr.Find(tr.Root, "binary_expression")
	require.Len(t, bins, 1)
	assert.Equal(t, "a + b", tr.Text(bins[0]))
	assert.Equal(t, "a", tr.Text(tr.ChildByField(bins[0], "left")))
	assert.Equal(t, "+", tr.Text(tr.ChildByField(bins[0], "operator")))
}

func TestRustFrontendGraftsMacroArguments(t *testing.T) {
	src := "fn f() { require!(a == b, Err::Bad); }"
	tr := parse(t, src)

	holders := tr.Find(tr.Root, MacroArgumentsKind)
	require.Len(t, holders, 1)
	args := tr.NamedChildren(holders[0])
	require.Len(t, args, 2)
	assert.Equal(t, "binary_expression", tr.Kind(args[0]))
	assert.Equal(t, "a == b", tr.Text(args[0]))
	assert.Equal(t, "Err::Bad", tr.Text(args[1]))
}

func TestRustFrontendLeavesDeclarationMacros(t *testing.T) {
	src := `sol_storage! { pub struct Counter { uint256 number; } }
fn f() { msg!("hello {}", x); }`
	tr := parse(t, src)
	holders := tr.Find(tr.Root, MacroArgumentsKind)
	require.Len(t, holders, 1)
	assert.Equal(t, `"hello {}", x`, tr.Text(holders[0]))
}

func TestRustFrontendReportsParseError(t *testing.T) {
	_, err := NewRustFrontend().Parse(context.Background(), []byte("fn broken( {"))
	require.Error(t, err)
	var pe *model.ParseError
	require.True(t, errors.As(err, &pe))
	assert.NotEmpty(t, pe.Message)
}
