package engine

import (
	"github.com/Auditware/radar/internal/model"
)

// FilterBySeverity removes findings below min and findings whose severity
// is listed in drop. An empty min keeps every level.
func FilterBySeverity(findings []model.Finding, min model.Severity, drop []model.Severity) []model.Finding {
	dropped := map[model.Severity]bool{}
	for _, s := range drop {
		dropped[s] = true
	}
	var out []model.Finding
	for _, f := range findings {
		if dropped[f.Severity] {
			continue
		}
		if min != "" && !model.SeverityGTE(f.Severity, min) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// FilterByRules keeps only findings whose RuleID is listed when the list is non-empty.
func FilterByRules(findings []model.Finding, ids []string) []model.Finding {
	if len(ids) == 0 {
		return findings
	}
	allowed := map[string]struct{}{}
	for _, id := range ids {
		allowed[id] = struct{}{}
	}
	var out []model.Finding
	for _, f := range findings {
		if _, ok := allowed[f.RuleID]; ok {
			out = append(out, f)
		}
	}
	return out
}
