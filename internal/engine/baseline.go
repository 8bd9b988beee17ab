package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/Auditware/radar/internal/model"
)

// BaselineEntry is one accepted finding. Only Fingerprint is matched; the
// rest makes the file reviewable.
type BaselineEntry struct {
	Fingerprint string `json:"fingerprint"`
	RuleID      string `json:"ruleId,omitempty"`
	File        string `json:"file,omitempty"`
	Line        int    `json:"line,omitempty"`
}

type baselineFile struct {
	GeneratedAt  time.Time       `json:"generatedAt"`
	Entries      []BaselineEntry `json:"entries"`
	Fingerprints map[string]bool `json:"fingerprints,omitempty"`
}

// Baseline is the set of accepted fingerprints.
type Baseline map[string]bool

// LoadBaseline reads a baseline written by WriteBaseline. A bare JSON array
// of fingerprints and the older {"fingerprints": {...}} object are accepted
// too. An empty path yields an empty baseline.
func LoadBaseline(path string) (Baseline, error) {
	b := Baseline{}
	if path == "" {
		return b, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return b, err
	}
	var bare []string
	if err := json.Unmarshal(data, &bare); err == nil {
		for _, fp := range bare {
			b[fp] = true
		}
		return b, nil
	}
	var f baselineFile
	if err := json.Unmarshal(data, &f); err != nil {
		return b, fmt.Errorf("baseline %s: %w", path, err)
	}
	if f.Entries == nil && f.Fingerprints == nil {
		return b, fmt.Errorf("baseline %s: no entries", path)
	}
	for _, e := range f.Entries {
		if e.Fingerprint != "" {
			b[e.Fingerprint] = true
		}
	}
	for fp, ok := range f.Fingerprints {
		if ok {
			b[fp] = true
		}
	}
	return b, nil
}

// FilterByBaseline drops findings already accepted in b.
func FilterByBaseline(findings []model.Finding, b Baseline) []model.Finding {
	if len(b) == 0 {
		return findings
	}
	var out []model.Finding
	for _, f := range findings {
		if f.Fingerprint != "" && b[f.Fingerprint] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// WriteBaseline accepts every fingerprinted finding, one entry per
// fingerprint, ordered by file, line and rule.
func WriteBaseline(path string, findings []model.Finding) error {
	return writeBaseline(path, findings, time.Now().UTC())
}

func writeBaseline(path string, findings []model.Finding, now time.Time) error {
	seen := map[string]bool{}
	f := baselineFile{GeneratedAt: now, Entries: []BaselineEntry{}}
	for _, x := range findings {
		if x.Fingerprint == "" || seen[x.Fingerprint] {
			continue
		}
		seen[x.Fingerprint] = true
		f.Entries = append(f.Entries, BaselineEntry{Fingerprint: x.Fingerprint, RuleID: x.RuleID, File: x.File, Line: x.StartLine})
	}
	sort.Slice(f.Entries, func(i, j int) bool {
		a, b := f.Entries[i], f.Entries[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.RuleID != b.RuleID {
			return a.RuleID < b.RuleID
		}
		return a.Fingerprint < b.Fingerprint
	})
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
