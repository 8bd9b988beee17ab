package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/Auditware/radar/internal/model"
)

type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatSARIF    Format = "sarif"
	FormatMarkdown Format = "md"
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "table", "text":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "sarif":
		return FormatSARIF, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("unknown format %q (want table, json, sarif or md)", s)
}

// Write renders res in the given format. metas describe every rule that
// may appear in res; the SARIF and markdown reports draw titles from them.
func Write(w io.Writer, format Format, res *model.ScanResult, metas []model.RuleMeta) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, res)
	case FormatSARIF:
		return WriteSARIF(w, res, metas)
	case FormatMarkdown:
		return WriteMarkdown(w, res, metas)
	case FormatTable, "":
		return WriteTable(w, res)
	}
	return fmt.Errorf("unknown format %q", format)
}

func metaIndex(metas []model.RuleMeta) map[string]model.RuleMeta {
	out := make(map[string]model.RuleMeta, len(metas))
	for _, m := range metas {
		out[m.ID] = m
	}
	return out
}

// location renders file:line:col-col, or file:line:col-line:col across lines.
func location(f model.Finding) string {
	if f.StartLine == f.EndLine {
		return fmt.Sprintf("%s:%d:%d-%d", f.File, f.StartLine, f.StartColumn, f.EndColumn)
	}
	return fmt.Sprintf("%s:%d:%d-%d:%d", f.File, f.StartLine, f.StartColumn, f.EndLine, f.EndColumn)
}

var severities = []model.Severity{
	model.SeverityCritical,
	model.SeverityHigh,
	model.SeverityMedium,
	model.SeverityLow,
	model.SeverityInfo,
}

func severityCounts(fs []model.Finding) map[model.Severity]int {
	out := map[model.Severity]int{}
	for _, f := range fs {
		out[f.Severity]++
	}
	return out
}
