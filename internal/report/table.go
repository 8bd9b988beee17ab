package report

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/Auditware/radar/internal/model"
)

// WriteTable prints a terminal summary: one row per finding, then errors.
func WriteTable(w io.Writer, res *model.ScanResult) error {
	var buf bytes.Buffer
	if len(res.Findings) == 0 {
		buf.WriteString("No findings.\n")
	} else {
		table := tablewriter.NewWriter(&buf)
		table.SetHeader([]string{"Severity", "Rule", "Location", "Message"})
		table.SetBorder(false)
		table.SetCenterSeparator("")
		table.SetAutoWrapText(true)
		table.SetColWidth(60)
		table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT})
		for _, f := range res.Findings {
			sev := strings.ToUpper(string(f.Severity))
			if f.Corroborated {
				sev += "*"
			}
			table.Append([]string{sev, f.RuleID, location(f), f.Message})
		}
		counts := severityCounts(res.Findings)
		var parts []string
		for _, s := range severities {
			if counts[s] > 0 {
				parts = append(parts, fmt.Sprintf("%d %s", counts[s], s))
			}
		}
		table.SetFooter([]string{fmt.Sprintf("Total %d", len(res.Findings)), "", "", strings.Join(parts, ", ")})
		table.Render()
	}
	for _, e := range res.Errors {
		fmt.Fprintf(&buf, "%s error: %s", e.Kind, e.File)
		if e.Line > 0 {
			fmt.Fprintf(&buf, ":%d", e.Line)
		}
		fmt.Fprintf(&buf, ": %s\n", e.Message)
	}
	for _, s := range res.Skipped {
		fmt.Fprintf(&buf, "skipped: %s\n", s)
	}
	fmt.Fprintf(&buf, "\nStatus %s, %d file(s) in %s\n", res.Status, res.Files, res.Elapsed.Round(time.Millisecond))
	_, err := w.Write(buf.Bytes())
	return err
}
