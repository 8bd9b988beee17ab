package engine

import (
	"sort"

	"github.com/Auditware/radar/internal/model"
	"github.com/Auditware/radar/internal/rules"
)

// aggregator is the only state spanning a scan: the findings and errors
// submitted by workers, bounded by the size of the input.
type aggregator struct {
	corroborate bool
	findings    []model.Finding
	errors      []model.ScanError
	done        map[int]bool
}

func newAggregator(corroborate bool) *aggregator {
	return &aggregator{corroborate: corroborate, done: map[int]bool{}}
}

func (a *aggregator) add(r fileResult) {
	a.done[r.index] = true
	a.findings = append(a.findings, r.findings...)
	a.errors = append(a.errors, r.errors...)
}

// finish deduplicates, corroborates and orders the collected findings.
func (a *aggregator) finish() ([]model.Finding, error) {
	out := append([]model.Finding(nil), a.findings...)
	sortFindings(out)
	out, err := dedupe(out)
	if err != nil {
		return nil, err
	}
	if a.corroborate {
		calibrateFindings(out)
	}
	return out, nil
}

func sortFindings(fs []model.Finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		a, b := fs[i], fs[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Span.Start != b.Span.Start {
			return a.Span.Start < b.Span.Start
		}
		if a.RuleID != b.RuleID {
			return a.RuleID < b.RuleID
		}
		if a.Span.End != b.Span.End {
			return a.Span.End < b.Span.End
		}
		return a.Message < b.Message
	})
}

type identity struct {
	rule string
	file string
	span model.Span
	// diagnostics from different causes share a rule id and anchor
	detail string
}

func identityOf(f model.Finding) identity {
	id := identity{rule: f.RuleID, file: f.File, span: f.Span}
	if f.Category == rules.CategoryDiagnostic {
		id.detail = f.Message
	}
	return id
}

// dedupe keeps the first of each (rule, file, span) group in sorted input
// and the highest confidence the group reported. Disagreeing severities
// mean the catalog is corrupt.
func dedupe(sorted []model.Finding) ([]model.Finding, error) {
	out := sorted[:0]
	index := map[identity]int{}
	for _, f := range sorted {
		id := identityOf(f)
		i, ok := index[id]
		if !ok {
			index[id] = len(out)
			out = append(out, f)
			continue
		}
		kept := &out[i]
		if kept.Severity != f.Severity {
			return nil, &model.AggregationInvariantViolation{
				RuleID: f.RuleID,
				File:   f.File,
				Span:   f.Span,
				First:  kept.Severity,
				Second: f.Severity,
			}
		}
		if f.Confidence > kept.Confidence {
			kept.Confidence = f.Confidence
		}
	}
	return out, nil
}

// calibrateFindings raises severity one level and confidence by 0.1 when
// rules from two or more categories implicate the same anchor span.
func calibrateFindings(fs []model.Finding) {
	type anchor struct {
		file string
		span model.Span
	}
	groups := map[anchor][]int{}
	for i, f := range fs {
		if f.Category == rules.CategoryDiagnostic {
			continue
		}
		k := anchor{file: f.File, span: f.Span}
		groups[k] = append(groups[k], i)
	}
	for _, idx := range groups {
		categories := map[string]bool{}
		for _, i := range idx {
			categories[fs[i].Category] = true
		}
		if len(categories) < 2 {
			continue
		}
		for _, i := range idx {
			f := &fs[i]
			f.Severity = f.Severity.Raise()
			f.Confidence += 0.1
			if f.Confidence > 0.99 {
				f.Confidence = 0.99
			}
			f.Corroborated = true
			f.RelatedRules = nil
			for _, j := range idx {
				if j != i && fs[j].RuleID != f.RuleID {
					f.RelatedRules = append(f.RelatedRules, fs[j].RuleID)
				}
			}
			sort.Strings(f.RelatedRules)
		}
	}
}
