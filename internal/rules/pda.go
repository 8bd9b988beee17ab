package rules

import (
	"fmt"

	"github.com/Auditware/radar/internal/ir"
	"github.com/Auditware/radar/internal/model"
)

type nonCanonicalBump struct{}

func (r *nonCanonicalBump) Meta() model.RuleMeta {
	return model.RuleMeta{
		ID:          "PDA-NONCANONICAL-BUMP",
		Title:       "Address derived with a non-canonical bump",
		Category:    CategoryNonCanonicalBump,
		Severity:    model.SeverityMedium,
		Remediation: "Derive with find_program_address (or `seeds, bump` without a value) and store the canonical bump; never accept the bump from the caller.",
	}
}

func (r *nonCanonicalBump) Check(h *ir.Handler) []Match {
	var out []Match
	for _, d := range h.Derivations {
		if !d.BumpSource.CallerSupplied() {
			continue
		}
		if d.Kind == "fixed-seed" {
			out = append(out, Match{
				Message:    fmt.Sprintf("%s derives an authority address from the fixed seed %s, which anyone can recompute", h.Name, d.BumpText),
				Anchor:     d.Span,
				Confidence: 0.6,
			})
			continue
		}
		what := "supplied by the caller"
		if d.BumpSource == ir.BumpLiteral {
			what = "hard-coded"
		}
		out = append(out, Match{
			Message:    fmt.Sprintf("%s derives an address with bump %s %s instead of the canonical bump", h.Name, d.BumpText, what),
			Anchor:     d.Span,
			Confidence: 0.7,
		})
	}
	return out
}
