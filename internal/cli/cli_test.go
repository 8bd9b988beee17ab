package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const contract = `use stylus_sdk::prelude::*;

#[storage]
#[entrypoint]
pub struct Contract {}

#[public]
impl Contract {
    pub fn fee(&self, amount: u64) -> u64 {
        %s
    }
}
`

func writeSource(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(strings.Replace(contract, "%s", body, 1)), 0o644))
	return p
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := &cobra.Command{Use: "radar", SilenceUsage: true, SilenceErrors: true}
	AddCommands(root)
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestScanExitsOneOnThresholdFindings(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "fee.rs", "(amount / 100) * 3")

	out, err := run(t, "scan", dir, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFindings, ExitCode(err))

	var report struct {
		Status   string `json:"status"`
		Findings []struct {
			RuleID string `json:"ruleId"`
		} `json:"findings"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "completed", report.Status)
	var ids []string
	for _, f := range report.Findings {
		ids = append(ids, f.RuleID)
	}
	assert.Contains(t, ids, "MATH-DIV-BEFORE-MUL")
}

func TestScanCleanSourceExitsZero(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "fee.rs", "amount")

	out, err := run(t, "scan", dir)
	require.NoError(t, err)
	assert.Equal(t, ExitOK, ExitCode(err))
	assert.Contains(t, out, "No findings.")
}

func TestScanParseErrorExitsTwo(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "a.rs", "amount")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.rs"), []byte("use stylus_sdk::prelude::*;\npub fn broken( {\n"), 0o644))

	_, err := run(t, "scan", dir, "--dialect", "stylus")
	require.Error(t, err)
	assert.Equal(t, ExitParseError, ExitCode(err))
}

func TestScanThresholdAndReportFilters(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "fee.rs", "(amount / 100) * 3")

	_, err := run(t, "scan", dir, "--fail-on", "critical")
	assert.NoError(t, err, "nothing reaches critical")

	out, err := run(t, "scan", dir, "--ignore", "info,low,medium,high", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"findings": []`)
}

func TestScanBaselineRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "fee.rs", "(amount / 100) * 3")
	baseline := filepath.Join(t.TempDir(), "baseline.json")

	_, err := run(t, "scan", src, "--write-baseline", baseline)
	assert.Equal(t, ExitFindings, ExitCode(err))
	require.FileExists(t, baseline)

	_, err = run(t, "scan", src, "--baseline", baseline)
	assert.NoError(t, err, "every finding is accepted by the baseline")
}

func TestScanUsageErrors(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "fee.rs", "amount")

	for name, args := range map[string][]string{
		"format":   {"scan", dir, "--format", "xml"},
		"severity": {"scan", dir, "--fail-on", "urgent"},
		"missing":  {"scan", filepath.Join(dir, "nope")},
		"empty":    {"scan", t.TempDir()},
		"flag":     {"scan", dir, "--bogus"},
	} {
		_, err := run(t, args...)
		assert.Equal(t, ExitUsage, ExitCode(err), name)
	}
}

func TestScanWritesOutputFileAndHistory(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "fee.rs", "(amount / 100) * 3")
	work := t.TempDir()
	report := filepath.Join(work, "report.sarif")
	db := filepath.Join(work, "history.db")

	out, err := run(t, "scan", dir, "--format", "sarif", "-o", report, "--history", db)
	assert.Equal(t, ExitFindings, ExitCode(err))
	assert.Empty(t, out)
	b, err := os.ReadFile(report)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"version": "2.1.0"`)

	out, err = run(t, "history", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, dir)
}

func TestInitRefusesToOverwrite(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, "init", "--dir", dir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, ".radar.yaml"))

	_, err = run(t, "init", "--dir", dir)
	assert.Equal(t, ExitUsage, ExitCode(err))

	_, err = run(t, "init", "--dir", dir, "--force")
	assert.NoError(t, err)
}

func TestRulesList(t *testing.T) {
	out, err := run(t, "rules", "list", "--dialect", "anchor")
	require.NoError(t, err)
	assert.Contains(t, out, "MATH-UNCHECKED")
	assert.Contains(t, out, "ACCT-RENT-EXEMPTION")
	assert.NotContains(t, out, "CALL-REENTRANCY-ORDER")

	out, err = run(t, "rules", "show", "call-reentrancy-order")
	require.NoError(t, err)
	assert.Contains(t, out, "State updated after external call")

	_, err = run(t, "rules", "show", "NOPE")
	assert.Equal(t, ExitUsage, ExitCode(err))
}

func TestIRAndAST(t *testing.T) {
	src := writeSource(t, t.TempDir(), "fee.rs", "amount")

	out, err := run(t, "ir", src)
	require.NoError(t, err)
	var dump struct {
		Version  string `json:"version"`
		Dialect  string `json:"dialect"`
		Handlers []struct {
			Name string `json:"name"`
		} `json:"handlers"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &dump))
	assert.Equal(t, "radar-ir-v3", dump.Version)
	assert.Equal(t, "stylus", dump.Dialect)
	require.Len(t, dump.Handlers, 1)
	assert.Equal(t, "fee", dump.Handlers[0].Name)

	out, err = run(t, "ast", src)
	require.NoError(t, err)
	assert.Contains(t, out, "source_file")
	assert.Contains(t, out, "function_item")
}

func TestASTParseError(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bad.rs")
	require.NoError(t, os.WriteFile(p, []byte("pub fn broken( {"), 0o644))
	_, err := run(t, "ast", p, "--dialect", "stylus")
	assert.Equal(t, ExitParseError, ExitCode(err))
}
