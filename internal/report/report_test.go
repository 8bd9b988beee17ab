package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Auditware/radar/internal/model"
)

func sampleResult() *model.ScanResult {
	return &model.ScanResult{
		ID:     "scan-1",
		Status: model.StatusCompletedWithErrors,
		Files:  2,
		Findings: []model.Finding{{
			RuleID:       "MATH-UNCHECKED",
			Category:     "unchecked-math",
			Severity:     model.SeverityHigh,
			Confidence:   0.7,
			File:         "src/lib.rs",
			StartLine:    10,
			StartColumn:  9,
			EndLine:      10,
			EndColumn:    27,
			Handler:      "fee",
			Message:      "unchecked \"*\" in fee can overflow",
			Remediation:  "Use checked_mul.",
			Evidence:     "(amount / 100) * 3",
			Corroborated: true,
			RelatedRules: []string{"MATH-DIV-BEFORE-MUL"},
			Fingerprint:  "abc123",
		}},
		Errors: []model.ScanError{{Kind: model.ErrorKindParse, File: "src/bad.rs", Line: 3, Message: "syntax error"}},
		Elapsed: 1500 * time.Millisecond,
	}
}

var sampleMetas = []model.RuleMeta{{
	ID:          "MATH-UNCHECKED",
	Title:       "Unchecked arithmetic",
	Category:    "unchecked-math",
	Severity:    model.SeverityMedium,
	Remediation: "Use checked_* arithmetic.",
	References:  []string{"https://swcregistry.io/docs/SWC-101"},
}}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatTable, "JSON": FormatJSON, "sarif": FormatSARIF, "markdown": FormatMarkdown, "md": FormatMarkdown} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestJSONReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, sampleResult(), sampleMetas))

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "completed_with_errors", out["status"])
	assert.EqualValues(t, 1500, out["elapsedMs"])
	findings := out["findings"].([]any)
	require.Len(t, findings, 1)
	assert.Equal(t, "MATH-UNCHECKED", findings[0].(map[string]any)["ruleId"])
}

func TestJSONReportEmptyListsAreArrays(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, &model.ScanResult{Status: model.StatusCompleted}))
	assert.Contains(t, buf.String(), `"findings": []`)
	assert.Contains(t, buf.String(), `"errors": []`)
	assert.Contains(t, buf.String(), `"skipped": []`)
}

func TestSARIFReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatSARIF, sampleResult(), sampleMetas))

	var doc struct {
		Version string `json:"version"`
		Runs    []struct {
			Tool struct {
				Driver struct {
					Name  string `json:"name"`
					Rules []struct {
						ID         string         `json:"id"`
						Properties map[string]any `json:"properties"`
					} `json:"rules"`
				} `json:"driver"`
			} `json:"tool"`
			Results []struct {
				RuleID    string `json:"ruleId"`
				Level     string `json:"level"`
				Locations []struct {
					PhysicalLocation struct {
						ArtifactLocation struct {
							URI string `json:"uri"`
						} `json:"artifactLocation"`
						Region struct {
							StartLine   int `json:"startLine"`
							StartColumn int `json:"startColumn"`
							EndColumn   int `json:"endColumn"`
						} `json:"region"`
					} `json:"physicalLocation"`
				} `json:"locations"`
				Properties map[string]any `json:"properties"`
			} `json:"results"`
		} `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "2.1.0", doc.Version)
	require.Len(t, doc.Runs, 1)
	run := doc.Runs[0]
	assert.Equal(t, "radar", run.Tool.Driver.Name)
	require.Len(t, run.Tool.Driver.Rules, 1)
	assert.Equal(t, "5.0", run.Tool.Driver.Rules[0].Properties["security-severity"])

	require.Len(t, run.Results, 1)
	res := run.Results[0]
	assert.Equal(t, "MATH-UNCHECKED", res.RuleID)
	assert.Equal(t, "error", res.Level, "corroboration raised the finding to high")
	loc := res.Locations[0].PhysicalLocation
	assert.Equal(t, "src/lib.rs", loc.ArtifactLocation.URI)
	assert.Equal(t, 10, loc.Region.StartLine)
	assert.Equal(t, 9, loc.Region.StartColumn)
	assert.Equal(t, 27, loc.Region.EndColumn)
	assert.Equal(t, "abc123", res.Properties["fingerprint"])
}

func TestSARIFLevels(t *testing.T) {
	assert.Equal(t, "note", sarifLevel(model.SeverityInfo))
	assert.Equal(t, "note", sarifLevel(model.SeverityLow))
	assert.Equal(t, "warning", sarifLevel(model.SeverityMedium))
	assert.Equal(t, "error", sarifLevel(model.SeverityHigh))
	assert.Equal(t, "error", sarifLevel(model.SeverityCritical))
}

func TestMarkdownReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatMarkdown, sampleResult(), sampleMetas))
	out := buf.String()
	assert.Contains(t, out, "## Alert Summary")
	assert.Contains(t, out, "| HIGH | 1 |")
	assert.Contains(t, out, "| MEDIUM | 0 |")
	assert.Contains(t, out, "Unchecked arithmetic `MATH-UNCHECKED` (HIGH)")
	assert.Contains(t, out, "`src/lib.rs:10:9-27` in `fee`")
	assert.Contains(t, out, "```rust\n(amount / 100) * 3\n```")
	assert.Contains(t, out, "Corroborated by MATH-DIV-BEFORE-MUL.")
	assert.Contains(t, out, "- parse error in `src/bad.rs` line 3: syntax error")
}

func TestTableReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatTable, sampleResult(), nil))
	out := buf.String()
	assert.Contains(t, out, "MATH-UNCHECKED")
	assert.Contains(t, out, "src/lib.rs:10:9-27")
	assert.Contains(t, out, "parse error: src/bad.rs:3: syntax error")
	assert.True(t, strings.HasSuffix(out, "Status completed_with_errors, 2 file(s) in 1.5s\n"))
}

func TestTableReportNoFindings(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTable(&buf, &model.ScanResult{Status: model.StatusCompleted}))
	assert.True(t, strings.HasPrefix(buf.String(), "No findings."))
}

func TestLocationAcrossLines(t *testing.T) {
	f := model.Finding{File: "a.rs", StartLine: 2, StartColumn: 5, EndLine: 4, EndColumn: 1}
	assert.Equal(t, "a.rs:2:5-4:1", location(f))
}
