package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Auditware/radar/internal/ir"
	"github.com/Auditware/radar/internal/model"
)

// missingAuthority flags writes to caller-scoped state that no authority
// check dominates. One match per handler, anchored at the first such write.
type missingAuthority struct{}

func (r *missingAuthority) Meta() model.RuleMeta {
	return model.RuleMeta{
		ID:          "AUTH-MISSING-CHECK",
		Title:       "State write without caller authority check",
		Category:    CategoryMissingAuthority,
		Severity:    model.SeverityHigh,
		Remediation: "Compare the caller or signer against the owner of the state before writing it (has_one / require_keys_eq! / msg::sender() == owner).",
		References:  []string{"https://swcregistry.io/docs/SWC-105"},
	}
}

func (r *missingAuthority) Check(h *ir.Handler) []Match {
	var hits []ir.AccessSite
	for _, w := range writeSites(h) {
		if h.Authorized(w.Span.Start) || balancedCredit(h, w) {
			continue
		}
		scoped := false
		switch h.Dialect {
		case model.DialectStylus:
			scoped = stylusScoped(h, w)
		case model.DialectAnchor:
			scoped = anchorScoped(h, w)
		}
		if scoped {
			hits = append(hits, w)
		}
	}
	if len(hits) == 0 {
		return nil
	}
	return []Match{{
		Message:    fmt.Sprintf("%s writes %s without a preceding check that the caller is allowed to", h.Name, hits[0].Target),
		Anchor:     hits[0].Span,
		Evidence:   spans(hits),
		Confidence: 0.7,
	}}
}

// balancedCredit matches the receiving half of a transfer: a credit paid for
// by a debit the handler makes elsewhere. In Stylus the debit must hit the
// same map under the caller's own key, so mints and bare credits to a
// caller-chosen key stay in scope, as do scalars like a total supply.
func balancedCredit(h *ir.Handler, w ir.AccessSite) bool {
	if !isCredit(h, w) {
		return false
	}
	switch h.Dialect {
	case model.DialectStylus:
		if w.Target.Kind != ir.TargetMapEntry {
			return false
		}
		for _, d := range writeSites(h) {
			if d.Target.Kind == ir.TargetMapEntry && d.Target.SameState(w.Target) && isDebit(h, d) && h.ContainsIdentity(d.Target.Key) {
				return true
			}
		}
		return false
	case model.DialectAnchor:
		if w.Target.Kind == ir.TargetLamports {
			return true
		}
		for _, d := range writeSites(h) {
			if isDebit(h, d) {
				return true
			}
		}
	}
	return false
}

// stylusScoped: map entries keyed by a caller-chosen argument, privileged
// fields, and scalars set straight from an argument. Writes that store the
// caller itself are claims, covered by the initialization rules.
func stylusScoped(h *ir.Handler, w ir.AccessSite) bool {
	if w.Value != ir.NoExpr && h.ContainsIdentity(w.Value) {
		return false
	}
	if w.Target.Kind == ir.TargetMapEntry {
		if h.ContainsIdentity(w.Target.Key) {
			return false
		}
		if len(rootsOfKind(h, w.Target.Key, ir.RootParam)) > 0 {
			return true
		}
	}
	if privilegedField.MatchString(w.Target.Root) || privilegedField.MatchString(w.Target.Leaf()) {
		return true
	}
	if constantField.MatchString(w.Target.Leaf()) && !setsUp(h) {
		return true
	}
	return w.Target.Kind == ir.TargetStorage && !isDebit(h, w) && len(rootsOfKind(h, w.Value, ir.RootParam)) > 0
}

var constantField = regexp.MustCompile(`(?i)(^|_)(const|constant|immutable)(_|$)`)

// setsUp matches constructors and initializers, the one place a
// constant-named field is expected to be written.
func setsUp(h *ir.Handler) bool {
	n := lower(h.Name)
	return n == "constructor" || n == "new" || strings.Contains(n, "init")
}

func anchorScoped(h *ir.Handler, w ir.AccessSite) bool {
	p, ok := h.Param(w.Target.Root)
	if !ok || !p.Caps.Has(ir.CapAccount) {
		return false
	}
	if p.Caps.Has(ir.CapSigner) || p.Caps.Has(ir.CapInit) || !p.Caps.Has(ir.CapMutable) {
		return false
	}
	if w.Value != ir.NoExpr && h.ContainsIdentity(w.Value) {
		return false
	}
	return hasSigner(h) || privilegedField.MatchString(w.Target.Leaf())
}

// missingSigner flags authority-named accounts or caller arguments that are
// never proven to have signed.
type missingSigner struct{}

func (r *missingSigner) Meta() model.RuleMeta {
	return model.RuleMeta{
		ID:          "AUTH-MISSING-SIGNER",
		Title:       "Authority is not required to sign",
		Category:    CategoryMissingSigner,
		Severity:    model.SeverityHigh,
		Remediation: "Declare the authority as Signer<'info> (or check is_signer); in Stylus derive the caller from msg::sender() instead of taking it as an argument.",
	}
}

func (r *missingSigner) Check(h *ir.Handler) []Match {
	var out []Match
	switch h.Dialect {
	case model.DialectAnchor:
		for _, p := range h.Params {
			if !p.Caps.Has(ir.CapAccount) || !p.Caps.Has(ir.CapRaw) || p.Caps.Has(ir.CapSigner) {
				continue
			}
			if !authorityName.MatchString(p.Name) || signerChecked(h, p.Name) {
				continue
			}
			out = append(out, Match{
				Message:    fmt.Sprintf("account %s is named as an authority but %s never requires it to sign", p.Name, h.Name),
				Anchor:     p.Span,
				Confidence: 0.65,
			})
		}
	case model.DialectStylus:
		if len(h.Identities) > 0 {
			return nil
		}
		for _, p := range h.Params {
			if !p.Caps.Has(ir.CapValue) || !callerArgument(h, p.Name) {
				continue
			}
			out = append(out, Match{
				Message:    fmt.Sprintf("%s trusts argument %s as the caller without consulting msg::sender()", h.Name, p.Name),
				Anchor:     p.Span,
				Confidence: 0.65,
			})
		}
	}
	return out
}

func signerChecked(h *ir.Handler, name string) bool {
	for _, g := range h.Guards {
		if h.GuardMentions(g, true, nameIn("is_signer")) && h.GuardMentions(g, true, nameIn(name)) {
			return true
		}
	}
	for _, e := range h.Exprs {
		if e.Kind == ir.ExprField && e.Name == "is_signer" {
			if chain := h.FieldChain(e.Args[0]); len(chain) > 0 && chain[len(chain)-1] == name {
				if c := h.Expr(e.Parent); c != nil && (c.Kind == ir.ExprUnary || c.Kind == ir.ExprBinary || c.Kind == ir.ExprMacro) {
					return true
				}
			}
		}
	}
	return false
}

var callerNames = map[string]bool{"caller": true, "sender": true, "signer": true, "msg_sender": true, "origin": true}

// callerArgument matches caller-named params, and `from` when it keys a debit.
func callerArgument(h *ir.Handler, name string) bool {
	if callerNames[lower(name)] {
		return true
	}
	if lower(name) != "from" {
		return false
	}
	for _, w := range writeSites(h) {
		if w.Target.Kind != ir.TargetMapEntry {
			continue
		}
		keyed := false
		for _, p := range rootsOfKind(h, w.Target.Key, ir.RootParam) {
			keyed = keyed || p == name
		}
		if keyed && (isDebit(h, w) || w.Value == ir.NoExpr) {
			return true
		}
	}
	return false
}
