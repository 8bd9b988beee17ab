package report

import (
	"io"
	"path/filepath"

	"github.com/owenrumney/go-sarif/v2/sarif"

	"github.com/Auditware/radar/internal/model"
)

const informationURI = "https://github.com/Auditware/radar"

func sarifLevel(s model.Severity) string {
	switch s {
	case model.SeverityMedium:
		return "warning"
	case model.SeverityHigh, model.SeverityCritical:
		return "error"
	}
	return "note"
}

// securitySeverity is the numeric score code-scanning dashboards sort by.
func securitySeverity(s model.Severity) string {
	switch s {
	case model.SeverityCritical:
		return "9.5"
	case model.SeverityHigh:
		return "8.0"
	case model.SeverityMedium:
		return "5.0"
	case model.SeverityLow:
		return "3.0"
	}
	return "1.0"
}

// BuildSARIF converts a scan into a SARIF 2.1.0 report with one run.
func BuildSARIF(res *model.ScanResult, metas []model.RuleMeta) (*sarif.Report, error) {
	report, err := sarif.New(sarif.Version210)
	if err != nil {
		return nil, err
	}
	run := sarif.NewRunWithInformationURI("radar", informationURI)
	index := metaIndex(metas)
	for _, meta := range metas {
		addRule(run, meta)
	}
	for _, f := range res.Findings {
		if _, ok := index[f.RuleID]; !ok {
			meta := model.RuleMeta{ID: f.RuleID, Title: f.RuleID, Category: f.Category, Severity: f.Severity}
			index[f.RuleID] = meta
			addRule(run, meta)
		}
		region := sarif.NewRegion().
			WithStartLine(f.StartLine).
			WithStartColumn(f.StartColumn).
			WithEndLine(f.EndLine).
			WithEndColumn(f.EndColumn)
		location := sarif.NewLocation().WithPhysicalLocation(
			sarif.NewPhysicalLocation().
				WithArtifactLocation(sarif.NewArtifactLocation().WithUri(filepath.ToSlash(f.File))).
				WithRegion(region),
		)
		result := sarif.NewRuleResult(f.RuleID).
			WithMessage(sarif.NewTextMessage(f.Message)).
			WithLevel(sarifLevel(f.Severity)).
			WithLocations([]*sarif.Location{location})
		result.Properties = sarif.Properties{
			"confidence":  f.Confidence,
			"fingerprint": f.Fingerprint,
			"category":    f.Category,
		}
		if f.Corroborated {
			result.Properties["relatedRules"] = f.RelatedRules
		}
		run.AddResult(result)
	}
	report.AddRun(run)
	return report, nil
}

func addRule(run *sarif.Run, meta model.RuleMeta) {
	rule := run.AddRule(meta.ID).
		WithDescription(meta.Title).
		WithDefaultConfiguration(&sarif.ReportingConfiguration{
			Level: sarifLevel(meta.Severity),
		}).
		WithProperties(sarif.Properties{
			"security-severity": securitySeverity(meta.Severity),
			"tags":              []string{"security", meta.Category},
		})
	if meta.Remediation == "" {
		return
	}
	text := meta.Remediation
	markdown := "**Remediation:** " + meta.Remediation
	for _, ref := range meta.References {
		markdown += "\n\n- " + ref
	}
	rule.Help = &sarif.MultiformatMessageString{Text: &text, Markdown: &markdown}
}

func WriteSARIF(w io.Writer, res *model.ScanResult, metas []model.RuleMeta) error {
	report, err := BuildSARIF(res, metas)
	if err != nil {
		return err
	}
	return report.PrettyWrite(w)
}
