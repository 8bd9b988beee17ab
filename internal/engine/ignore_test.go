package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Auditware/radar/internal/config"
	"github.com/Auditware/radar/internal/model"
	"github.com/Auditware/radar/internal/util"
)

func TestInlineSuppressionWindow(t *testing.T) {
	text := []byte(`fn f() {
    // radar:ignore MATH-UNCHECKED audited in #42
    let a = x + 1;
    let b = 2;
    let c = 3;
    let d = 4;
    let e = 5;
    let g = y + 1;
}
`)
	lines := util.NewLineIndex(text)
	assert.True(t, hasInlineSuppression(text, lines, "MATH-UNCHECKED", 3))
	assert.True(t, hasInlineSuppression(text, lines, "math-unchecked", 2), "same line, case-insensitive")
	assert.True(t, hasInlineSuppression(text, lines, "MATH-UNCHECKED", 7))
	assert.False(t, hasInlineSuppression(text, lines, "MATH-UNCHECKED", 8), "more than five lines below")
	assert.False(t, hasInlineSuppression(text, lines, "MATH-DIV-BY-ZERO", 3))
	assert.False(t, hasInlineSuppression(text, lines, "MATH-UNCHECKED", 1), "marker below the finding")
}

func TestConfigIgnore(t *testing.T) {
	f := model.Finding{RuleID: "MATH-UNCHECKED", File: "programs/vault/src/lib.rs"}
	assert.True(t, isIgnored(f, []config.IgnoreRule{{Rule: "math-unchecked"}}))
	assert.True(t, isIgnored(f, []config.IgnoreRule{{Rule: "*", Path: "programs/vault"}}))
	assert.False(t, isIgnored(f, []config.IgnoreRule{{Rule: "*", Path: "programs/escrow"}}))
	assert.False(t, isIgnored(f, []config.IgnoreRule{{Rule: "MATH-DIV-BY-ZERO"}}))
}
