package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Auditware/radar/internal/ir"
	"github.com/Auditware/radar/internal/model"
)

var (
	closingHandler = regexp.MustCompile(`(?i)close|delete|remove|destroy|deactivate|terminate|shutdown`)
	closeMarker    = regexp.MustCompile(`(?i)closed|deleted|active|status|terminated|removed|discriminator`)
	tagName        = regexp.MustCompile(`(?i)discriminator|type_id|account_type|type_tag|expected_type|kind|magic|^tag$|^ty$`)
	rentName       = regexp.MustCompile(`(?i)minimum_balance|is_exempt|rent_exempt`)
	eraseOps       = map[string]bool{"delete": true, "erase": true, "clear": true, "remove": true, "pop": true}
	closeOps       = map[string]bool{"close": true, "assign": true, "realloc": true, "resize": true, "fill": true, "copy_from_slice": true, "serialize": true, "try_serialize": true, "pack": true, "pack_into_slice": true}
)

// drainsSelf reports a lamports debit that removes the account's whole balance.
func drainsSelf(h *ir.Handler, w ir.AccessSite) bool {
	if w.Value == ir.NoExpr || !h.Mentions(w.Value, true, nameIn("lamports", "get_lamports")) {
		return false
	}
	for _, r := range h.Roots(w.Value) {
		if r.Name == w.Target.Root {
			return true
		}
	}
	return false
}

type improperClose struct{}

func (r *improperClose) Meta() model.RuleMeta {
	return model.RuleMeta{
		ID:          "ACCT-IMPROPER-CLOSE",
		Title:       "Account closed without invalidating its data",
		Category:    CategoryImproperClose,
		Severity:    model.SeverityHigh,
		Remediation: "Close through the framework (`close = destination`) or zero the data and write a closed marker alongside draining the balance.",
	}
}

func (r *improperClose) Check(h *ir.Handler) []Match {
	var zeroing []ir.AccessSite
	switch h.Dialect {
	case model.DialectAnchor:
		for _, w := range writeSites(h) {
			if w.Target.Kind != ir.TargetLamports {
				continue
			}
			drained := ((w.Op == "=" || w.Op == "set_lamports") && h.IsZero(w.Value)) ||
				((w.Op == "-=" || w.Op == "sub_lamports") && drainsSelf(h, w))
			if !drained {
				continue
			}
			if p, ok := h.Param(w.Target.Root); ok && p.Constraints.Close != "" {
				continue
			}
			if anchorCloseMarked(h, w.Target.Root) {
				continue
			}
			zeroing = append(zeroing, w)
		}
	case model.DialectStylus:
		if !closingHandler.MatchString(h.Name) {
			return nil
		}
		for _, w := range writeSites(h) {
			if closeMarker.MatchString(w.Target.Root) || closeMarker.MatchString(w.Target.Leaf()) {
				return nil
			}
		}
		for _, w := range writeSites(h) {
			if eraseOps[w.Op] || (w.Value != ir.NoExpr && h.IsZero(w.Value)) {
				zeroing = append(zeroing, w)
			}
		}
	}
	if len(zeroing) == 0 {
		return nil
	}
	return []Match{{
		Message:  fmt.Sprintf("%s empties %s but leaves no closed marker, so the record can be revived", h.Name, zeroing[0].Target),
		Anchor:   zeroing[0].Span,
		Evidence: spans(zeroing),
	}}
}

func anchorCloseMarked(h *ir.Handler, root string) bool {
	for _, w := range writeSites(h) {
		if w.Target.Root != root || w.Target.Kind == ir.TargetLamports {
			continue
		}
		if closeOps[w.Op] || closeMarker.MatchString(w.Target.Leaf()) {
			return true
		}
	}
	return false
}

// duplicateMutable flags two writable views that may alias the same cell
// with nothing proving them distinct.
type duplicateMutable struct{}

func (r *duplicateMutable) Meta() model.RuleMeta {
	return model.RuleMeta{
		ID:          "ACCT-DUPLICATE-MUTABLE",
		Title:       "Possibly aliased mutable accounts",
		Category:    CategoryDuplicateMutable,
		Severity:    model.SeverityHigh,
		Remediation: "Reject equal keys before moving value between them (require_keys_neq! / `if from == to { return Err(..) }`).",
	}
}

func (r *duplicateMutable) Check(h *ir.Handler) []Match {
	if h.Dialect == model.DialectAnchor {
		return r.accounts(h)
	}
	var out []Match
	ws := writeSites(h)
	for i, a := range ws {
		if a.Target.Kind != ir.TargetMapEntry || !isDebit(h, a) {
			continue
		}
		for _, b := range ws[i+1:] {
			if b.Target.Kind != ir.TargetMapEntry || !isCredit(h, b) {
				continue
			}
			ka := rootsOfKind(h, a.Target.Key, ir.RootParam)
			kb := rootsOfKind(h, b.Target.Key, ir.RootParam)
			if len(ka) == 0 || len(kb) == 0 {
				continue
			}
			switch {
			case a.Target.Root != b.Target.Root && a.Target.KeyText == b.Target.KeyText:
				out = append(out, Match{
					Message:  fmt.Sprintf("%s debits %s and credits %s for the same key %s; the two balances are not proven to be distinct accounts", h.Name, a.Target.Root, b.Target.Root, a.Target.KeyText),
					Anchor:   b.Span,
					Evidence: []model.Span{a.Span, b.Span},
				})
			case a.Target.Root == b.Target.Root && ka[0] != kb[0]:
				if pairCompared(h, b.Span.Start, ka[0], kb[0]) {
					continue
				}
				out = append(out, Match{
					Message:  fmt.Sprintf("%s moves %s from %s to %s without rejecting %s == %s", h.Name, a.Target.Root, ka[0], kb[0], ka[0], kb[0]),
					Anchor:   b.Span,
					Evidence: []model.Span{a.Span, b.Span},
				})
			}
		}
	}
	return out
}

func (r *duplicateMutable) accounts(h *ir.Handler) []Match {
	written := map[string]model.Span{}
	var order []string
	for _, w := range writeSites(h) {
		if _, ok := written[w.Target.Root]; !ok {
			order = append(order, w.Target.Root)
		}
		written[w.Target.Root] = w.Span
	}
	var out []Match
	for i, a := range order {
		pa, ok := h.Param(a)
		if !ok || !pa.Caps.Has(ir.CapAccount|ir.CapMutable) || pa.Inner == "" || pa.Caps.Has(ir.CapInit) {
			continue
		}
		for _, b := range order[i+1:] {
			pb, ok := h.Param(b)
			if !ok || !pb.Caps.Has(ir.CapAccount|ir.CapMutable) || pb.Inner != pa.Inner || pb.Caps.Has(ir.CapInit) {
				continue
			}
			if pa.Constraints.HasSeeds && pb.Constraints.HasSeeds {
				continue
			}
			last := written[b]
			if written[a].Start > last.Start {
				last = written[a]
			}
			if pairCompared(h, last.Start, a, b) {
				continue
			}
			out = append(out, Match{
				Message:  fmt.Sprintf("%s writes %s and %s, both mutable %s accounts, without checking they differ", h.Name, a, b, pa.Inner),
				Anchor:   last,
				Evidence: []model.Span{pa.Span, pb.Span, written[a], written[b]},
			})
		}
	}
	return out
}

// pairCompared reports an equality check between a and b dominating pos.
func pairCompared(h *ir.Handler, pos int, a, b string) bool {
	for _, g := range h.Protecting(pos) {
		if g.Cond == ir.NoExpr {
			if !textHasOp(g.Text, equalityOps) {
				continue
			}
			words := ir.Words(g.Text)
			if nameIn(words...)(a) && nameIn(words...)(b) {
				return true
			}
			continue
		}
		for _, c := range h.ComparisonsIn(g.Cond) {
			if !equalityOps[c.Op] {
				continue
			}
			l, r := h.Mentions(c.Left, true, nameIn(a)), h.Mentions(c.Right, true, nameIn(b))
			l2, r2 := h.Mentions(c.Left, true, nameIn(b)), h.Mentions(c.Right, true, nameIn(a))
			if (l && r) || (l2 && r2) {
				return true
			}
		}
	}
	return false
}

type typeConfusion struct{}

func (r *typeConfusion) Meta() model.RuleMeta {
	return model.RuleMeta{
		ID:          "ACCT-TYPE-CONFUSION",
		Title:       "Deserialization without type discriminator",
		Category:    CategoryTypeConfusion,
		Severity:    model.SeverityHigh,
		Remediation: "Compare the leading discriminator / type id against the expected value before trusting decoded bytes, or use a typed Account<'info, T>.",
	}
}

func (r *typeConfusion) Check(h *ir.Handler) []Match {
	var out []Match
	for _, d := range h.Decodes {
		if tagChecked(h, d) {
			continue
		}
		out = append(out, Match{
			Message: fmt.Sprintf("%s decodes %s with %s without checking a type discriminator", h.Name, d.Source, d.Func),
			Anchor:  d.Span,
		})
	}
	return out
}

func tagChecked(h *ir.Handler, d ir.RawDecode) bool {
	if guardedBy(h, d.Span.Start, tagName.MatchString) {
		return true
	}
	if d.Bound == "" {
		return false
	}
	for _, g := range h.Guards {
		if g.Span.Start < d.Span.End {
			continue
		}
		if h.GuardMentions(g, false, nameIn(d.Bound)) && h.GuardMentions(g, false, tagName.MatchString) {
			return true
		}
	}
	return false
}

// rentExemption flags balance reductions that may leave an account below
// its rent-exempt minimum.
type rentExemption struct{}

func (r *rentExemption) Meta() model.RuleMeta {
	return model.RuleMeta{
		ID:          "ACCT-RENT-EXEMPTION",
		Title:       "Balance may drop below rent exemption",
		Category:    CategoryRentExemption,
		Severity:    model.SeverityMedium,
		Dialects:    []string{string(model.DialectAnchor)},
		Remediation: "Compare the remaining lamports against Rent::minimum_balance(data_len) before withdrawing or resizing.",
	}
}

func (r *rentExemption) Check(h *ir.Handler) []Match {
	var out []Match
	flag := func(span model.Span, what string) {
		if guardedBy(h, span.Start, rentName.MatchString) {
			return
		}
		out = append(out, Match{
			Message: fmt.Sprintf("%s %s without checking the rent-exempt minimum", h.Name, what),
			Anchor:  span,
		})
	}
	for _, w := range writeSites(h) {
		switch {
		case w.Target.Kind == ir.TargetLamports && (w.Op == "-=" || w.Op == "sub_lamports"):
			if drainsSelf(h, w) || h.Mentions(w.Value, true, rentName.MatchString) {
				continue
			}
			flag(w.Span, "withdraws lamports from "+w.Target.Root)
		case w.Op == "realloc" || w.Op == "resize":
			if w.Value == ir.NoExpr || h.IsZero(w.Value) {
				continue
			}
			flag(w.Span, "resizes "+w.Target.Root)
		}
	}
	for _, e := range h.Exprs {
		if e.Kind != ir.ExprCall || !strings.HasSuffix(e.Name, "create_account") || len(e.Args) < 3 {
			continue
		}
		lamports := e.Args[2]
		if !h.IsConstant(peel(h, lamports)) || h.Mentions(lamports, true, rentName.MatchString) {
			continue
		}
		flag(e.Span, "funds a new account with a fixed "+h.Text(lamports)+" lamports")
	}
	return out
}
