package normalize

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-hclog"

	"github.com/Auditware/radar/internal/ir"
	"github.com/Auditware/radar/internal/model"
	"github.com/Auditware/radar/internal/syntax"
)

// Result is the IR of one source unit. Failures lists handlers that could
// not be normalized; their siblings are still present in Handlers.
type Result struct {
	Handlers []*ir.Handler               `json:"handlers"`
	Failures []*model.NormalizationError `json:"failures,omitempty"`
}

// adapter recovers dialect-specific structure from the syntax tree.
type adapter interface {
	// discover finds the externally callable handlers and their parameters.
	discover(u *unit) []*decl
	// classify records access sites, calls, derivations, trusted reads,
	// raw decodes and identities in a handler built by the shared walker.
	classify(b *builder)
	// classifyTarget decides whether a call target is static or dynamic.
	classifyTarget(b *builder, call *ir.ExternalCall)
}

type unit struct {
	tree    *syntax.Tree
	file    string
	dialect model.Dialect
}

func (u *unit) text(n syntax.NodeID) string { return u.tree.Text(n) }

// decl is a discovered handler before its body is walked.
type decl struct {
	name        string
	fn          syntax.NodeID
	params      []ir.Param
	state       []ir.StateField
	mutating    bool
	guards      []ir.Guard
	authority   []ir.AuthorityCheck
	derivations []ir.AddressDerivation
	// helpers are internal methods that enforce caller authority.
	helpers map[string]bool
	// interfaces are contract interfaces declared with sol_interface!.
	interfaces map[string]bool
	err        string
}

type Normalizer struct {
	logger hclog.Logger
}

func New(logger hclog.Logger) *Normalizer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Normalizer{logger: logger}
}

func adapterFor(d model.Dialect) (adapter, error) {
	switch d {
	case model.DialectAnchor:
		return anchorAdapter{}, nil
	case model.DialectStylus:
		return stylusAdapter{}, nil
	}
	return nil, fmt.Errorf("unsupported dialect %q", d)
}

// Normalize converts a parsed source unit into handler IR. A failure inside
// one handler is reported in Result.Failures and does not stop its siblings.
func (n *Normalizer) Normalize(tree *syntax.Tree, su model.SourceUnit) (*Result, error) {
	ad, err := adapterFor(su.Dialect)
	if err != nil {
		return nil, &model.NormalizationError{File: su.Path, Message: err.Error()}
	}
	u := &unit{tree: tree, file: su.Path, dialect: su.Dialect}
	res := &Result{}
	for _, d := range ad.discover(u) {
		h, nerr := n.handler(ad, u, d)
		if nerr != nil {
			n.logger.Debug("handler unanalyzable", "file", su.Path, "handler", d.name, "reason", nerr.Message)
			res.Failures = append(res.Failures, nerr)
			continue
		}
		res.Handlers = append(res.Handlers, h)
	}
	sort.SliceStable(res.Handlers, func(i, j int) bool { return res.Handlers[i].Span.Start < res.Handlers[j].Span.Start })
	n.logger.Trace("normalized", "file", su.Path, "handlers", len(res.Handlers), "failures", len(res.Failures))
	return res, nil
}

func (n *Normalizer) handler(ad adapter, u *unit, d *decl) (h *ir.Handler, nerr *model.NormalizationError) {
	span := u.tree.Span(d.fn)
	if d.err != "" {
		return nil, &model.NormalizationError{File: u.file, Handler: d.name, Message: d.err, Span: span}
	}
	defer func() {
		if r := recover(); r != nil {
			h = nil
			nerr = &model.NormalizationError{File: u.file, Handler: d.name, Message: fmt.Sprintf("internal: %v", r), Span: span}
		}
	}()
	b := newBuilder(u, d)
	if err := b.build(); err != nil {
		return nil, err
	}
	ad.classify(b)
	b.finish(ad)
	return b.h, nil
}
