package model

import (
	"fmt"
	"strings"
)

// ParseError is returned by a syntax frontend that could not produce a tree.
// It is fatal for its file only.
type ParseError struct {
	File    string
	Message string
	Span    Span
}

func (e *ParseError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("parse %s: %s at byte %d", e.File, e.Message, e.Span.Start)
	}
	return fmt.Sprintf("parse: %s at byte %d", e.Message, e.Span.Start)
}

// NormalizationError marks a tree shape the IR layer does not recognize.
// Handler is empty when the whole file could not be normalized.
type NormalizationError struct {
	File    string
	Handler string
	Message string
	Span    Span
}

func (e *NormalizationError) Error() string {
	var b strings.Builder
	b.WriteString("normalize")
	if e.File != "" {
		b.WriteString(" " + e.File)
	}
	if e.Handler != "" {
		b.WriteString(" handler " + e.Handler)
	}
	b.WriteString(": " + e.Message)
	return b.String()
}

// RuleEvaluationFault is a predicate failure recovered for one rule on one handler.
type RuleEvaluationFault struct {
	RuleID  string
	File    string
	Handler string
	Cause   any
}

func (e *RuleEvaluationFault) Error() string {
	return fmt.Sprintf("rule %s faulted on %s:%s: %v", e.RuleID, e.File, e.Handler, e.Cause)
}

// AggregationInvariantViolation aborts a scan: two findings share an identity
// but disagree on severity.
type AggregationInvariantViolation struct {
	RuleID string
	File   string
	Span   Span
	First  Severity
	Second Severity
}

func (e *AggregationInvariantViolation) Error() string {
	return fmt.Sprintf("aggregation invariant violated: %s at %s[%d:%d] reported as both %s and %s",
		e.RuleID, e.File, e.Span.Start, e.Span.End, e.First, e.Second)
}
