package ir

import (
	"fmt"
	"strings"

	"github.com/Auditware/radar/internal/model"
)

// Version is bumped whenever the serialized shape of Handler changes.
const Version = "radar-ir-v3"

type ExprID int32

const NoExpr ExprID = -1

type ExprKind string

const (
	ExprIdent  ExprKind = "ident"
	ExprPath   ExprKind = "path"
	ExprField  ExprKind = "field"
	ExprCall   ExprKind = "call"
	ExprMethod ExprKind = "method"
	ExprBinary ExprKind = "binary"
	ExprUnary  ExprKind = "unary"
	ExprRef    ExprKind = "ref"
	ExprTry    ExprKind = "try"
	ExprCast   ExprKind = "cast"
	ExprIndex  ExprKind = "index"
	ExprLit    ExprKind = "literal"
	ExprMacro  ExprKind = "macro"
	ExprStruct ExprKind = "struct"
	ExprArray  ExprKind = "array"
	ExprTuple  ExprKind = "tuple"
	ExprAssign ExprKind = "assign"
	ExprFlow   ExprKind = "flow"
	ExprOther  ExprKind = "other"
)

// Expr is one node of a handler's expression arena.
//
// Args layout by kind: field [receiver]; call [arguments...]; method
// [receiver, arguments...]; binary and assign [left, right]; unary, ref, try,
// cast [operand]; index [value, index]; macro/struct/array/tuple/flow [items...].
type Expr struct {
	Kind ExprKind `json:"kind"`
	// Op holds the operator for binary, unary, assign and ref nodes, the
	// literal class for literals and the construct name for flow nodes.
	Op string `json:"op,omitempty"`
	// Name holds the identifier, path, field, method, callee, macro, cast
	// type or struct name.
	Name      string     `json:"name,omitempty"`
	Args      []ExprID   `json:"args,omitempty"`
	Fields    []string   `json:"fields,omitempty"`
	Parent    ExprID     `json:"parent"`
	Span      model.Span `json:"span"`
	Discarded bool       `json:"discarded,omitempty"`
}

// Capability flags describe what a handler parameter is allowed to be.
type Capability uint32

const (
	CapSigner Capability = 1 << iota
	CapMutable
	CapAccount
	CapAddress
	CapValue
	CapInit
	CapProgram
	CapSysvar
	CapRaw
	CapBytes
	CapContext
	CapInstruction
)

var capNames = []string{"signer", "mutable", "account", "address", "value", "init", "program", "sysvar", "raw", "bytes", "context", "instruction"}

func (c Capability) Has(f Capability) bool { return c&f == f }

func (c Capability) String() string {
	var parts []string
	for i, n := range capNames {
		if c&(1<<i) != 0 {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, "|")
}

// Constraints are declarative account checks (Anchor #[account(...)]).
type Constraints struct {
	HasOne       []string   `json:"hasOne,omitempty"`
	Exprs        []string   `json:"exprs,omitempty"`
	Seeds        []string   `json:"seeds,omitempty"`
	HasSeeds     bool       `json:"hasSeeds,omitempty"`
	Bump         string     `json:"bump,omitempty"`
	HasBump      bool       `json:"hasBump,omitempty"`
	Close        string     `json:"close,omitempty"`
	Address      string     `json:"address,omitempty"`
	Owner        string     `json:"owner,omitempty"`
	Payer        string     `json:"payer,omitempty"`
	Realloc      string     `json:"realloc,omitempty"`
	InitIfNeeded bool       `json:"initIfNeeded,omitempty"`
	Span         model.Span `json:"span"`
}

func (c Constraints) Text() string {
	parts := append([]string{}, c.Exprs...)
	parts = append(parts, c.HasOne...)
	parts = append(parts, c.Seeds...)
	if c.Address != "" {
		parts = append(parts, c.Address)
	}
	return strings.Join(parts, " ")
}

type Param struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Inner       string      `json:"inner,omitempty"`
	Caps        Capability  `json:"caps"`
	Span        model.Span  `json:"span"`
	Constraints Constraints `json:"constraints"`
	Doc         string      `json:"doc,omitempty"`
}

// StateField is a contract-level storage declaration.
type StateField struct {
	Name string     `json:"name"`
	Type string     `json:"type"`
	Span model.Span `json:"span"`
}

func (f StateField) IsMap() bool {
	return strings.Contains(f.Type, "Map") || strings.HasPrefix(f.Type, "mapping")
}

type Local struct {
	Name  string     `json:"name"`
	Value ExprID     `json:"value"`
	Span  model.Span `json:"span"`
	// Destructured bindings share Value with their siblings.
	Destructured bool `json:"destructured,omitempty"`
}

type TargetKind string

const (
	TargetStorage  TargetKind = "storage"
	TargetMapEntry TargetKind = "map"
	TargetAccount  TargetKind = "account"
	TargetLamports TargetKind = "lamports"
)

// Target is the symbolic identity of accessed state.
type Target struct {
	Kind    TargetKind `json:"kind"`
	Root    string     `json:"root"`
	Path    string     `json:"path,omitempty"`
	Key     ExprID     `json:"key"`
	KeyText string     `json:"keyText,omitempty"`
}

func (t Target) String() string {
	switch t.Kind {
	case TargetMapEntry:
		return fmt.Sprintf("storage field %s indexed by %s", t.Root, t.KeyText)
	case TargetStorage:
		if t.Path != "" {
			return fmt.Sprintf("storage field %s.%s", t.Root, t.Path)
		}
		return "storage field " + t.Root
	case TargetLamports:
		return fmt.Sprintf("lamports of account %s", t.Root)
	default:
		if t.Path != "" {
			return fmt.Sprintf("account %s.%s", t.Root, t.Path)
		}
		return "account " + t.Root
	}
}

// Leaf is the innermost named component of the target.
func (t Target) Leaf() string {
	if t.Path != "" {
		if i := strings.LastIndex(t.Path, "."); i >= 0 {
			return t.Path[i+1:]
		}
		return t.Path
	}
	return t.Root
}

// SameState reports whether two targets name the same state cell, ignoring keys.
func (t Target) SameState(o Target) bool {
	return t.Root == o.Root && (t.Kind == o.Kind || (t.Kind != TargetLamports && o.Kind != TargetLamports))
}

type AccessSite struct {
	Target Target     `json:"target"`
	Write  bool       `json:"write"`
	Op     string     `json:"op"`
	Value  ExprID     `json:"value"`
	Expr   ExprID     `json:"expr"`
	Span   model.Span `json:"span"`
}

type ArithMode string

const (
	ArithRaw         ArithMode = "raw"
	ArithChecked     ArithMode = "checked"
	ArithSaturating  ArithMode = "saturating"
	ArithWrapping    ArithMode = "wrapping"
	ArithOverflowing ArithMode = "overflowing"
)

type ArithmeticOp struct {
	Op       string     `json:"op"`
	Mode     ArithMode  `json:"mode"`
	Compound bool       `json:"compound,omitempty"`
	Left     ExprID     `json:"left"`
	Right    ExprID     `json:"right"`
	Expr     ExprID     `json:"expr"`
	Span     model.Span `json:"span"`
	// Constant is set when both operands are literals or named constants.
	Constant bool `json:"constant,omitempty"`
}

type Cast struct {
	Type    string     `json:"type"`
	Operand ExprID     `json:"operand"`
	Expr    ExprID     `json:"expr"`
	Span    model.Span `json:"span"`
}

type TargetClass string

const (
	TargetStatic  TargetClass = "static"
	TargetDynamic TargetClass = "dynamic"
	TargetUnknown TargetClass = "unknown"
)

type ExternalCall struct {
	Kind        string      `json:"kind"`
	Target      ExprID      `json:"target"`
	TargetText  string      `json:"targetText"`
	TargetClass TargetClass `json:"targetClass"`
	// TargetRoot names the parameter or account the target derives from.
	TargetRoot string     `json:"targetRoot,omitempty"`
	Args       []ExprID   `json:"args,omitempty"`
	Value      ExprID     `json:"value"`
	Expr       ExprID     `json:"expr"`
	Span       model.Span `json:"span"`
	ResultUsed bool       `json:"resultUsed"`
}

type GuardKind string

const (
	GuardIf         GuardKind = "if"
	GuardMatch      GuardKind = "match"
	GuardWhile      GuardKind = "while"
	GuardLetElse    GuardKind = "let_else"
	GuardMacro      GuardKind = "macro"
	GuardHelper     GuardKind = "helper"
	GuardConstraint GuardKind = "constraint"
)

// Guard is a condition that dominates part of a handler body. Scope is the
// byte range it protects; diverging guards protect the rest of the body.
type Guard struct {
	Kind     GuardKind  `json:"kind"`
	Cond     ExprID     `json:"cond"`
	Text     string     `json:"text"`
	Span     model.Span `json:"span"`
	Scope    model.Span `json:"scope"`
	Diverges bool       `json:"diverges,omitempty"`
	// Origin locates declarative guards declared outside the body.
	Origin model.Span `json:"origin"`
	// Subject names the account a declarative guard is attached to.
	Subject string `json:"subject,omitempty"`
}

// Protects reports whether the guard is evaluated before pos and covers it.
func (g Guard) Protects(pos int) bool {
	return g.Span.End <= pos && g.Scope.Start <= pos && pos < g.Scope.End
}

type AuthorityCheck struct {
	Kind     string     `json:"kind"`
	Identity string     `json:"identity"`
	Against  string     `json:"against"`
	Guard    int        `json:"guard"`
	Span     model.Span `json:"span"`
	Scope    model.Span `json:"scope"`
	// Subject is the account a declarative check binds to the signer.
	Subject string `json:"subject,omitempty"`
}

func (a AuthorityCheck) Protects(pos int) bool {
	return a.Span.End <= pos && a.Scope.Start <= pos && pos < a.Scope.End
}

type BumpSource string

const (
	BumpCaller    BumpSource = "caller"
	BumpLiteral   BumpSource = "literal"
	BumpCanonical BumpSource = "canonical"
	BumpStored    BumpSource = "stored"
	BumpUnknown   BumpSource = "unknown"
)

// CallerSupplied reports a bump the caller or author chose rather than searched.
func (b BumpSource) CallerSupplied() bool { return b == BumpCaller || b == BumpLiteral }

type AddressDerivation struct {
	Kind       string     `json:"kind"`
	Seeds      []string   `json:"seeds,omitempty"`
	Bump       ExprID     `json:"bump"`
	BumpText   string     `json:"bumpText,omitempty"`
	BumpSource BumpSource `json:"bumpSource"`
	Expr       ExprID     `json:"expr"`
	Span       model.Span `json:"span"`
}

type ReadKind string

const (
	ReadClock        ReadKind = "clock"
	ReadRent         ReadKind = "rent"
	ReadOracle       ReadKind = "oracle"
	ReadRandomness   ReadKind = "randomness"
	ReadInstructions ReadKind = "instructions"
)

// TrustedRead is a value taken from the runtime or an oracle account.
type TrustedRead struct {
	Kind ReadKind `json:"kind"`
	// Source is the account or parameter the value is read from; empty for
	// values the runtime supplies directly.
	Source     string     `json:"source,omitempty"`
	SourceExpr ExprID     `json:"sourceExpr"`
	Expr       ExprID     `json:"expr"`
	Span       model.Span `json:"span"`
}

// RawDecode is a typed value built from untyped bytes.
type RawDecode struct {
	Func       string     `json:"func"`
	Source     string     `json:"source"`
	SourceExpr ExprID     `json:"sourceExpr"`
	Bound      string     `json:"bound,omitempty"`
	Expr       ExprID     `json:"expr"`
	Span       model.Span `json:"span"`
}

type Comparison struct {
	Op    string     `json:"op"`
	Left  ExprID     `json:"left"`
	Right ExprID     `json:"right"`
	Expr  ExprID     `json:"expr"`
	Span  model.Span `json:"span"`
}

// Handler is the IR of one externally callable function.
type Handler struct {
	Name    string        `json:"name"`
	File    string        `json:"file"`
	Dialect model.Dialect `json:"dialect"`
	Span    model.Span    `json:"span"`
	Body    model.Span    `json:"body"`
	// Src is the text covered by Span.
	Src      string       `json:"src"`
	Mutating bool         `json:"mutating"`
	Params   []Param      `json:"params"`
	State    []StateField `json:"state,omitempty"`
	Exprs    []Expr       `json:"exprs"`
	Locals   []Local      `json:"locals,omitempty"`

	Accesses    []AccessSite        `json:"accesses,omitempty"`
	Arith       []ArithmeticOp      `json:"arith,omitempty"`
	Casts       []Cast              `json:"casts,omitempty"`
	Calls       []ExternalCall      `json:"calls,omitempty"`
	Guards      []Guard             `json:"guards,omitempty"`
	Authority   []AuthorityCheck    `json:"authority,omitempty"`
	Derivations []AddressDerivation `json:"derivations,omitempty"`
	Reads       []TrustedRead       `json:"reads,omitempty"`
	Decodes     []RawDecode         `json:"decodes,omitempty"`
	Comparisons []Comparison        `json:"comparisons,omitempty"`
	// Identities are expressions recognised as the caller or signer identity.
	Identities []ExprID `json:"identities,omitempty"`
}
