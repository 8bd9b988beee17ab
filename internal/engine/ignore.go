package engine

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/Auditware/radar/internal/config"
	"github.com/Auditware/radar/internal/model"
	"github.com/Auditware/radar/internal/util"
)

// suppressionWindow is how many lines above a finding an inline marker reaches.
const suppressionWindow = 5

// Format: // radar:ignore RULE-ID[,RULE-ID] [reason]   or   // radar:ignore all
var inlineMarker = regexp.MustCompile(`radar:ignore\s+([A-Za-z0-9_*,\- ]+)`)

func activeIgnores(in []config.IgnoreRule, now time.Time) []config.IgnoreRule {
	var out []config.IgnoreRule
	for _, ig := range in {
		if ig.Expired(now) {
			continue
		}
		out = append(out, ig)
	}
	return out
}

// suppress filters findings based on config ignore rules and inline suppression markers
func (s *scanner) suppress(su model.SourceUnit, lines *util.LineIndex, findings []model.Finding) []model.Finding {
	var out []model.Finding
	for _, f := range findings {
		if isIgnored(f, s.ignore) || hasInlineSuppression(su.Text, lines, f.RuleID, f.StartLine) {
			s.logger.Trace("finding suppressed", "rule", f.RuleID, "file", f.File, "line", f.StartLine)
			continue
		}
		out = append(out, f)
	}
	return out
}

func isIgnored(f model.Finding, ignore []config.IgnoreRule) bool {
	for _, ig := range ignore {
		if ig.Rule != "*" && !strings.EqualFold(ig.Rule, f.RuleID) {
			continue
		}
		if ig.Path != "" {
			if !strings.HasPrefix(filepath.ToSlash(f.File), filepath.ToSlash(ig.Path)) {
				continue
			}
		}
		return true
	}
	return false
}

// hasInlineSuppression looks at the finding's line and the lines above it
// for a marker naming ruleID or "all".
func hasInlineSuppression(text []byte, lines *util.LineIndex, ruleID string, startLine int) bool {
	from := startLine - suppressionWindow
	if from < 1 {
		from = 1
	}
	for l := from; l <= startLine && l <= lines.Lines(); l++ {
		s, e := lines.LineBounds(l)
		m := inlineMarker.FindSubmatch(text[s:e])
		if m == nil {
			continue
		}
		for _, id := range strings.FieldsFunc(string(m[1]), func(r rune) bool { return r == ',' || r == ' ' }) {
			if strings.EqualFold(id, ruleID) || strings.EqualFold(id, "all") {
				return true
			}
		}
	}
	return false
}
