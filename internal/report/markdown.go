package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/Auditware/radar/internal/model"
)

func WriteMarkdown(w io.Writer, res *model.ScanResult, metas []model.RuleMeta) error {
	index := metaIndex(metas)
	var b strings.Builder
	b.WriteString("# Radar Report\n\n")
	fmt.Fprintf(&b, "Scan `%s`: %d file(s), status **%s**.\n\n", res.ID, res.Files, res.Status)

	b.WriteString("## Alert Summary\n\n")
	b.WriteString("| Severity | Count |\n|---|---|\n")
	counts := severityCounts(res.Findings)
	for _, s := range severities {
		fmt.Fprintf(&b, "| %s | %d |\n", strings.ToUpper(string(s)), counts[s])
	}
	b.WriteString("\n")

	if len(res.Findings) == 0 {
		b.WriteString("No findings.\n")
	}
	for i, f := range res.Findings {
		title := f.RuleID
		if m, ok := index[f.RuleID]; ok && m.Title != "" {
			title = m.Title
		}
		fmt.Fprintf(&b, "## %d. %s `%s` (%s)\n\n", i+1, title, f.RuleID, strings.ToUpper(string(f.Severity)))
		fmt.Fprintf(&b, "**Location:** `%s`", location(f))
		if f.Handler != "" {
			fmt.Fprintf(&b, " in `%s`", f.Handler)
		}
		b.WriteString("\n\n")
		fmt.Fprintf(&b, "%s\n\n", f.Message)
		if f.Corroborated {
			fmt.Fprintf(&b, "Corroborated by %s.\n\n", strings.Join(f.RelatedRules, ", "))
		}
		if f.Remediation != "" {
			fmt.Fprintf(&b, "**Remediation:** %s\n\n", f.Remediation)
		}
		if f.Evidence != "" {
			fmt.Fprintf(&b, "```rust\n%s\n```\n\n", f.Evidence)
		}
	}

	if len(res.Errors) > 0 {
		b.WriteString("## Errors\n\n")
		for _, e := range res.Errors {
			fmt.Fprintf(&b, "- %s error in `%s`", e.Kind, e.File)
			if e.Line > 0 {
				fmt.Fprintf(&b, " line %d", e.Line)
			}
			fmt.Fprintf(&b, ": %s\n", e.Message)
		}
		b.WriteString("\n")
	}
	if len(res.Skipped) > 0 {
		fmt.Fprintf(&b, "Skipped after the scan deadline: %s\n", strings.Join(res.Skipped, ", "))
	}
	_, err := io.WriteString(w, b.String())
	return err
}
