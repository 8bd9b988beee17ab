package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Auditware/radar/internal/model"
)

func TestBaselineRoundTrip(t *testing.T) {
	findings := []model.Finding{
		{RuleID: "A", Fingerprint: "f1"},
		{RuleID: "B", Fingerprint: "f2"},
	}
	path := filepath.Join(t.TempDir(), "baseline.json")
	require.NoError(t, WriteBaseline(path, findings[:1]))

	b, err := LoadBaseline(path)
	require.NoError(t, err)
	assert.Equal(t, Baseline{"f1": true}, b)

	left := FilterByBaseline(findings, b)
	require.Len(t, left, 1)
	assert.Equal(t, "B", left[0].RuleID)
}

func TestBaselineFileIsReviewable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baseline.json")
	findings := []model.Finding{
		{RuleID: "B", File: "b.rs", StartLine: 3, Fingerprint: "f2"},
		{RuleID: "A", File: "a.rs", StartLine: 9, Fingerprint: "f1"},
		{RuleID: "A", File: "a.rs", StartLine: 9, Fingerprint: "f1"},
		{RuleID: "C", File: "c.rs"},
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, writeBaseline(path, findings, now))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"generatedAt": "2026-01-01T00:00:00Z",
		"entries": [
			{"fingerprint": "f1", "ruleId": "A", "file": "a.rs", "line": 9},
			{"fingerprint": "f2", "ruleId": "B", "file": "b.rs", "line": 3}
		]
	}`, string(data))
}

func TestBaselineLegacyFormats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baseline.json")
	for name, body := range map[string]string{
		"array":  `["f2"]`,
		"object": `{"generatedAt":"2026-01-01T00:00:00Z","fingerprints":{"f2":true}}`,
	} {
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		b, err := LoadBaseline(path)
		require.NoError(t, err, name)
		assert.Equal(t, Baseline{"f2": true}, b, name)
	}

	for _, bad := range []string{`not json`, `{}`} {
		require.NoError(t, os.WriteFile(path, []byte(bad), 0o644))
		_, err := LoadBaseline(path)
		assert.Error(t, err, bad)
	}
}

func TestEmptyBaselineKeepsEverything(t *testing.T) {
	b, err := LoadBaseline("")
	require.NoError(t, err)
	fs := []model.Finding{{RuleID: "A", Fingerprint: "f1"}}
	assert.Equal(t, fs, FilterByBaseline(fs, b))
}

func TestFilterBySeverity(t *testing.T) {
	fs := []model.Finding{
		{RuleID: "I", Severity: model.SeverityInfo},
		{RuleID: "L", Severity: model.SeverityLow},
		{RuleID: "M", Severity: model.SeverityMedium},
		{RuleID: "H", Severity: model.SeverityHigh},
	}
	ids := func(in []model.Finding) []string {
		var out []string
		for _, f := range in {
			out = append(out, f.RuleID)
		}
		return out
	}
	assert.Equal(t, []string{"M", "H"}, ids(FilterBySeverity(fs, model.SeverityMedium, nil)))
	assert.Equal(t, []string{"I", "H"}, ids(FilterBySeverity(fs, "", []model.Severity{model.SeverityLow, model.SeverityMedium})))
	assert.Equal(t, []string{"L"}, ids(FilterByRules(fs, []string{"L"})))
}
