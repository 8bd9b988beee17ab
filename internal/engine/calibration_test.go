package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Auditware/radar/internal/model"
	"github.com/Auditware/radar/internal/rules"
)

func finding(rule, category string, sev model.Severity, start, end int) model.Finding {
	return model.Finding{
		RuleID:     rule,
		Category:   category,
		Severity:   sev,
		Confidence: 0.6,
		File:       "lib.rs",
		Span:       model.Span{Start: start, End: end},
		Message:    rule,
	}
}

func TestAggregatorOrdersRegardlessOfArrival(t *testing.T) {
	a := newAggregator(false)
	a.add(fileResult{index: 1, findings: []model.Finding{
		{RuleID: "B", File: "z.rs", Span: model.Span{Start: 1, End: 2}, Severity: model.SeverityLow},
	}})
	a.add(fileResult{index: 0, findings: []model.Finding{
		{RuleID: "B", File: "a.rs", Span: model.Span{Start: 9, End: 10}, Severity: model.SeverityLow},
		{RuleID: "A", File: "a.rs", Span: model.Span{Start: 9, End: 12}, Severity: model.SeverityLow},
		{RuleID: "C", File: "a.rs", Span: model.Span{Start: 3, End: 4}, Severity: model.SeverityLow},
	}})
	out, err := a.finish()
	require.NoError(t, err)
	var got []string
	for _, f := range out {
		got = append(got, f.File+":"+f.RuleID)
	}
	assert.Equal(t, []string{"a.rs:C", "a.rs:A", "a.rs:B", "z.rs:B"}, got)
	assert.True(t, a.done[0] && a.done[1])
}

func TestDedupeKeepsHighestConfidence(t *testing.T) {
	x := finding("MATH-UNCHECKED", rules.CategoryUncheckedMath, model.SeverityMedium, 10, 20)
	y := x
	y.Confidence = 0.8
	a := newAggregator(false)
	a.add(fileResult{findings: []model.Finding{x, y}})
	out, err := a.finish()
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.InDelta(t, 0.8, out[0].Confidence, 1e-9)
}

func TestConflictingSeverityAbortsAggregation(t *testing.T) {
	x := finding("MATH-UNCHECKED", rules.CategoryUncheckedMath, model.SeverityMedium, 10, 20)
	y := x
	y.Severity = model.SeverityHigh
	a := newAggregator(true)
	a.add(fileResult{findings: []model.Finding{x}})
	a.add(fileResult{index: 1, findings: []model.Finding{y}})
	_, err := a.finish()
	var violation *model.AggregationInvariantViolation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, "MATH-UNCHECKED", violation.RuleID)
	assert.Contains(t, err.Error(), "reported as both")
}

func TestCorroborationNeedsDistinctCategories(t *testing.T) {
	fs := []model.Finding{
		finding("MATH-UNCHECKED", rules.CategoryUncheckedMath, model.SeverityMedium, 10, 20),
		finding("MATH-DIV-BEFORE-MUL", rules.CategoryDivBeforeMul, model.SeverityCritical, 10, 20),
		finding("CMP-OFF-BY-ONE", rules.CategoryOffByOne, model.SeverityLow, 30, 40),
		finding(rules.UnanalyzableID, rules.CategoryDiagnostic, model.SeverityInfo, 30, 40),
	}
	calibrateFindings(fs)

	assert.Equal(t, model.SeverityHigh, fs[0].Severity)
	assert.Equal(t, model.SeverityCritical, fs[1].Severity, "saturates at critical")
	assert.InDelta(t, 0.7, fs[0].Confidence, 1e-9)
	assert.True(t, fs[0].Corroborated)

	assert.Equal(t, model.SeverityLow, fs[2].Severity, "diagnostics never corroborate")
	assert.False(t, fs[2].Corroborated)
	assert.Empty(t, fs[3].RelatedRules)
}

func TestDiagnosticsWithDistinctCausesSurviveDedupe(t *testing.T) {
	x := finding(rules.RuleFaultID, rules.CategoryDiagnostic, model.SeverityInfo, 0, 0)
	y := x
	x.Message = "rule A faulted"
	y.Message = "rule B faulted"
	a := newAggregator(true)
	a.add(fileResult{findings: []model.Finding{x, y}})
	out, err := a.finish()
	require.NoError(t, err)
	assert.Len(t, out, 2)
}
