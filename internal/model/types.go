package model

import (
	"strings"
	"time"
)

// Dialect selects the on-chain execution model a source file is written against.
type Dialect string

const (
	// DialectAnchor is the explicit account-passing model (Solana programs built with Anchor).
	DialectAnchor Dialect = "anchor"
	// DialectStylus is the contract-storage model (Arbitrum Stylus contracts).
	DialectStylus Dialect = "stylus"
)

func ParseDialect(s string) (Dialect, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "anchor", "solana", "a":
		return DialectAnchor, true
	case "stylus", "arbitrum", "b":
		return DialectStylus, true
	}
	return "", false
}

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityOrder = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

var severityByRank = []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// ParseSeverity maps a user string to a Severity, falling back to low.
func ParseSeverity(s string) Severity {
	if sev, ok := LookupSeverity(s); ok {
		return sev
	}
	return SeverityLow
}

func LookupSeverity(s string) (Severity, bool) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := severityOrder[sev]; ok {
		return sev, true
	}
	return "", false
}

func (s Severity) Rank() int { return severityOrder[s] }

// Raise returns the next severity level, saturating at critical.
func (s Severity) Raise() Severity {
	r := s.Rank() + 1
	if r >= len(severityByRank) {
		return SeverityCritical
	}
	return severityByRank[r]
}

func SeverityGTE(a, b Severity) bool {
	return a.Rank() >= b.Rank()
}

// Span is a half-open byte range [Start, End) into a source file.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (s Span) Len() int { return s.End - s.Start }

// Before reports whether s ends at or before o starts.
func (s Span) Before(o Span) bool { return s.End <= o.Start }

func (s Span) Contains(o Span) bool { return s.Start <= o.Start && o.End <= s.End }

func (s Span) IsZero() bool { return s.Start == 0 && s.End == 0 }

type RuleMeta struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Category    string   `json:"category"`
	Severity    Severity `json:"severity"`
	Dialects    []string `json:"dialects,omitempty"`
	Remediation string   `json:"remediation"`
	References  []string `json:"references,omitempty"`
}

type Finding struct {
	RuleID       string   `json:"ruleId"`
	Category     string   `json:"category"`
	Severity     Severity `json:"severity"`
	Confidence   float64  `json:"confidence"`
	File         string   `json:"file"`
	Span         Span     `json:"span"`
	StartLine    int      `json:"startLine"`
	StartColumn  int      `json:"startColumn"`
	EndLine      int      `json:"endLine"`
	EndColumn    int      `json:"endColumn"`
	Handler      string   `json:"handler,omitempty"`
	Message      string   `json:"message"`
	Rationale    string   `json:"rationale,omitempty"`
	Remediation  string   `json:"remediation,omitempty"`
	Evidence     string   `json:"evidence"`
	References   []string `json:"references,omitempty"`
	Corroborated bool     `json:"corroborated,omitempty"`
	RelatedRules []string `json:"relatedRules,omitempty"`
	Fingerprint  string   `json:"fingerprint"`
}

// SourceUnit is one contract source file handed to the engine.
type SourceUnit struct {
	Path    string  `json:"path"`
	Dialect Dialect `json:"dialect"`
	Text    []byte  `json:"-"`
	// Program is the crate name from the nearest manifest, if any.
	Program string `json:"program,omitempty"`
}

type ScanStatus string

const (
	StatusCompleted           ScanStatus = "completed"
	StatusCompletedWithErrors ScanStatus = "completed_with_errors"
	StatusPartial             ScanStatus = "partial"
)

type ErrorKind string

const (
	ErrorKindParse         ErrorKind = "parse"
	ErrorKindNormalization ErrorKind = "normalization"
	ErrorKindRead          ErrorKind = "read"
)

// ScanError is the serializable record of a file or handler scoped failure.
type ScanError struct {
	Kind    ErrorKind `json:"kind"`
	File    string    `json:"file"`
	Handler string    `json:"handler,omitempty"`
	Message string    `json:"message"`
	Span    Span      `json:"span"`
	Line    int       `json:"line,omitempty"`
}

type ScanResult struct {
	ID       string        `json:"id"`
	Status   ScanStatus    `json:"status"`
	Files    int           `json:"files"`
	Findings []Finding     `json:"findings"`
	Errors   []ScanError   `json:"errors"`
	Skipped  []string      `json:"skipped,omitempty"`
	Started  time.Time     `json:"started"`
	Elapsed  time.Duration `json:"elapsed"`
}

// HasParseErrors reports whether any requested file failed to parse.
func (r *ScanResult) HasParseErrors() bool {
	for _, e := range r.Errors {
		if e.Kind == ErrorKindParse {
			return true
		}
	}
	return false
}

func (r *ScanResult) CountAtOrAbove(threshold Severity) int {
	n := 0
	for _, f := range r.Findings {
		if SeverityGTE(f.Severity, threshold) {
			n++
		}
	}
	return n
}
