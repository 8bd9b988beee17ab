package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Auditware/radar/internal/ir"
	"github.com/Auditware/radar/internal/model"
)

type arbitraryCall struct{}

func (r *arbitraryCall) Meta() model.RuleMeta {
	return model.RuleMeta{
		ID:          "CALL-ARBITRARY-TARGET",
		Title:       "External call to a caller-chosen target",
		Category:    CategoryArbitraryCall,
		Severity:    model.SeverityCritical,
		Remediation: "Pin the callee: compare the program id / contract address to a known constant or stored allowlist before invoking it.",
		References:  []string{"https://swcregistry.io/docs/SWC-112"},
	}
}

func (r *arbitraryCall) Check(h *ir.Handler) []Match {
	var out []Match
	for _, c := range h.Calls {
		if c.TargetClass != ir.TargetDynamic || c.Kind == "transfer" || valueOnly(h, c) {
			continue
		}
		out = append(out, Match{
			Message:    fmt.Sprintf("%s performs a %s to %s, which the caller controls through %s", h.Name, c.Kind, c.TargetText, c.TargetRoot),
			Anchor:     c.Span,
			Confidence: 0.8,
		})
	}
	return out
}

// valueOnly matches calls that only move value: a call value and empty calldata.
func valueOnly(h *ir.Handler, c ir.ExternalCall) bool {
	if c.Value == ir.NoExpr || len(c.Args) != 1 {
		return false
	}
	e := h.Expr(peel(h, c.Args[0]))
	return e != nil && e.Kind == ir.ExprArray && len(e.Args) == 0
}

var lockWord = regexp.MustCompile(`(?i)^(lock|locked|entered|mutex|nonreentrant|reentran\w*)$`)

// reentrancyLock matches names built from lock words: `locked`,
// `reentrancy_guard`, `self.entered`. `block` and `unlock_time` do not.
func reentrancyLock(name string) bool {
	for _, w := range ir.Words(name) {
		for _, part := range strings.Split(w, "_") {
			if lockWord.MatchString(part) {
				return true
			}
		}
	}
	return false
}

// locked reports a lock guard that covers pos.
func locked(h *ir.Handler, pos int) bool {
	for _, g := range h.Protecting(pos) {
		if h.GuardMentions(g, true, reentrancyLock) {
			return true
		}
	}
	return false
}

// reentrancyOrder flags state finalized after an external call that the
// callee could observe stale. The Solana runtime rejects reentrant CPI into
// the calling program, so only contract-storage dialects are checked.
type reentrancyOrder struct{}

func (r *reentrancyOrder) Meta() model.RuleMeta {
	return model.RuleMeta{
		ID:          "CALL-REENTRANCY-ORDER",
		Title:       "State updated after external call",
		Category:    CategoryReentrancy,
		Severity:    model.SeverityHigh,
		Dialects:    []string{string(model.DialectStylus)},
		Remediation: "Apply checks-effects-interactions: write the state before the external call, or hold a reentrancy lock across it.",
		References:  []string{"https://swcregistry.io/docs/SWC-107"},
	}
}

func (r *reentrancyOrder) Check(h *ir.Handler) []Match {
	var out []Match
	flagged := map[model.Span]bool{}
	for _, c := range h.Calls {
		if locked(h, c.Span.Start) {
			continue
		}
		for _, w := range writeSites(h) {
			if w.Span.Start < c.Span.End || flagged[w.Span] {
				continue
			}
			if !staleAfter(h, c, w) {
				continue
			}
			flagged[w.Span] = true
			out = append(out, Match{
				Message:  fmt.Sprintf("%s writes %s after the external %s to %s", h.Name, w.Target, c.Kind, c.TargetText),
				Anchor:   w.Span,
				Evidence: []model.Span{c.Span, w.Span},
			})
		}
	}
	return out
}

// staleAfter: the written cell was read before the call, or the call was
// handed values the write depends on.
func staleAfter(h *ir.Handler, c ir.ExternalCall, w ir.AccessSite) bool {
	for _, rd := range readSites(h) {
		if rd.Span.End > c.Span.Start || !rd.Target.SameState(w.Target) {
			continue
		}
		if rd.Target.KeyText == "" || w.Target.KeyText == "" || rd.Target.KeyText == w.Target.KeyText {
			return true
		}
	}
	passed := map[ir.Root]bool{}
	for _, a := range append(append([]ir.ExprID{}, c.Args...), c.Value) {
		if a == ir.NoExpr {
			continue
		}
		for _, root := range h.Roots(a) {
			if root.Kind == ir.RootParam || root.Kind == ir.RootState {
				passed[root] = true
			}
		}
	}
	for _, id := range []ir.ExprID{w.Target.Key, w.Value} {
		if id == ir.NoExpr {
			continue
		}
		for _, root := range h.Roots(id) {
			if passed[root] {
				return true
			}
		}
	}
	return false
}

type uncheckedResult struct{}

func (r *uncheckedResult) Meta() model.RuleMeta {
	return model.RuleMeta{
		ID:          "CALL-UNCHECKED-RESULT",
		Title:       "External call result ignored",
		Category:    CategoryUncheckedResult,
		Severity:    model.SeverityMedium,
		Remediation: "Propagate the call's Result with `?` or handle the error explicitly.",
		References:  []string{"https://swcregistry.io/docs/SWC-104"},
	}
}

func (r *uncheckedResult) Check(h *ir.Handler) []Match {
	var out []Match
	for _, c := range h.Calls {
		if c.ResultUsed {
			continue
		}
		out = append(out, Match{
			Message:    fmt.Sprintf("%s discards the result of the %s to %s", h.Name, c.Kind, c.TargetText),
			Anchor:     c.Span,
			Confidence: 0.75,
		})
	}
	return out
}
