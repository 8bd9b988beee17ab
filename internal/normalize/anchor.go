package normalize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Auditware/radar/internal/ir"
	"github.com/Auditware/radar/internal/model"
	"github.com/Auditware/radar/internal/syntax"
)

// anchorAdapter understands Anchor programs: a #[program] module whose
// handlers take a Context over a #[derive(Accounts)] struct.
type anchorAdapter struct{}

var anchorDecoders = []string{"try_from_slice", "deserialize", "try_deserialize_unchecked", "from_bytes", "try_from_bytes", "pod_read_unaligned", "cast_ref", "from_slice"}

var oracleLoaders = regexp.MustCompile(`price_feed_from_account_info|account_info_to_feed|load_price_feed|get_price_unchecked|AggregatorAccountData::new|PriceUpdateV2`)

var signerNames = regexp.MustCompile(`\b(\w+)\.key\(\)|\b(\w+)\.key\b`)

type accountsField struct {
	param ir.Param
	flags constraintFlags
}

type accountsStruct struct {
	name   string
	fields []accountsField
	args   map[string]bool
}

func (anchorAdapter) discover(u *unit) []*decl {
	t := u.tree
	structs := map[string]*accountsStruct{}
	for _, s := range t.Find(t.Root, "struct_item") {
		attrs := attributes(t, s)
		derive, _ := attributeArgs(attrs, "derive")
		if !strings.Contains(derive, "Accounts") {
			continue
		}
		as := &accountsStruct{name: t.Text(t.ChildByField(s, "name")), args: map[string]bool{}}
		if args, ok := attributeArgs(attrs, "instruction"); ok {
			for _, a := range splitTopLevel(args, ',') {
				if i := strings.Index(a, ":"); i >= 0 {
					as.args[strings.TrimSpace(a[:i])] = true
				}
			}
		}
		for _, f := range t.NamedChildren(t.ChildByField(s, "body")) {
			if t.Kind(f) != "field_declaration" {
				continue
			}
			as.fields = append(as.fields, accountField(t, f))
		}
		structs[as.name] = as
	}

	var out []*decl
	for _, m := range t.Find(t.Root, "mod_item") {
		if !hasAttribute(attributes(t, m), "program") {
			continue
		}
		for _, fn := range t.NamedChildren(t.ChildByField(m, "body")) {
			if t.Kind(fn) != "function_item" || !isPublicFn(t, fn) {
				continue
			}
			out = append(out, anchorDecl(t, fn, structs))
		}
	}
	return out
}

func accountField(t *syntax.Tree, f syntax.NodeID) accountsField {
	attrs := attributes(t, f)
	var doc []string
	for _, s := range t.PrevSiblings(f) {
		k := t.Kind(s)
		if k == "line_comment" {
			doc = append([]string{strings.TrimSpace(strings.TrimLeft(t.Text(s), "/!"))}, doc...)
			continue
		}
		if k != "attribute_item" {
			break
		}
	}
	typ := compact(t.Text(t.ChildByField(f, "type")))
	p := ir.Param{
		Name: t.Text(t.ChildByField(f, "name")),
		Type: typ,
		Span: t.Span(f),
		Doc:  strings.Join(doc, " "),
	}
	var flags constraintFlags
	if args, ok := attributeArgs(attrs, "account"); ok {
		span := p.Span
		if nodes := attributeNodes(t, f); len(nodes) > 0 {
			span = t.Span(nodes[len(nodes)-1])
		}
		p.Constraints, flags = parseConstraints(args, span)
	}
	p.Caps, p.Inner = accountCaps(typ)
	if flags.signer {
		p.Caps |= ir.CapSigner
	}
	if flags.mut || flags.init {
		p.Caps |= ir.CapMutable
	}
	if (flags.init && !p.Constraints.InitIfNeeded) || flags.zero {
		p.Caps |= ir.CapInit
	}
	return accountsField{param: p, flags: flags}
}

// genericArgs splits the outermost generic argument list of a type.
func genericArgs(typ string) []string {
	open := strings.Index(typ, "<")
	end := strings.LastIndex(typ, ">")
	if open < 0 || end <= open {
		return nil
	}
	var out []string
	depth, start := 0, open+1
	for i := open + 1; i < end; i++ {
		switch typ[i] {
		case '<', '(', '[':
			depth++
		case '>', ')', ']':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, typ[start:i])
				start = i + 1
			}
		}
	}
	return append(out, typ[start:end])
}

// lastTypeArg drops lifetimes and returns the final generic argument.
func lastTypeArg(typ string) string {
	args := genericArgs(typ)
	for i := len(args) - 1; i >= 0; i-- {
		if !strings.HasPrefix(args[i], "'") {
			return args[i]
		}
	}
	return ""
}

func accountCaps(typ string) (ir.Capability, string) {
	outer := typeName(typ)
	if outer == "Box" {
		typ = lastTypeArg(typ)
		outer = typeName(typ)
	}
	inner := typeName(lastTypeArg(typ))
	switch outer {
	case "Signer":
		return ir.CapAccount | ir.CapSigner, ""
	case "Account", "AccountLoader", "InterfaceAccount", "Migration", "LazyAccount":
		return ir.CapAccount, inner
	case "AccountInfo", "UncheckedAccount":
		return ir.CapAccount | ir.CapRaw, ""
	case "Program", "Interface":
		return ir.CapAccount | ir.CapProgram, inner
	case "Sysvar":
		return ir.CapAccount | ir.CapSysvar, inner
	case "SystemAccount":
		return ir.CapAccount, "System"
	}
	return ir.CapAccount | ir.CapRaw, ""
}

func anchorDecl(t *syntax.Tree, fn syntax.NodeID, structs map[string]*accountsStruct) *decl {
	d := &decl{name: t.Text(t.ChildByField(fn, "name")), fn: fn}
	body := t.Span(t.ChildByField(fn, "body"))
	var accounts *accountsStruct
	for i, p := range t.NamedChildren(t.ChildByField(fn, "parameters")) {
		if t.Kind(p) != "parameter" {
			continue
		}
		name := strings.TrimPrefix(t.Text(t.ChildByField(p, "pattern")), "mut ")
		typ := compact(t.Text(t.ChildByField(p, "type")))
		if i == 0 && typeName(typ) == "Context" {
			inner := typeName(lastTypeArg(typ))
			d.params = append(d.params, ir.Param{Name: name, Type: typ, Inner: inner, Caps: ir.CapContext, Span: t.Span(p)})
			accounts = structs[inner]
			if accounts == nil {
				d.err = fmt.Sprintf("accounts struct %s not found", inner)
				return d
			}
			continue
		}
		caps := ir.CapValue
		switch {
		case strings.Contains(typ, "Pubkey"):
			caps |= ir.CapAddress
		case strings.Contains(typ, "Vec<u8>") || strings.Contains(typ, "[u8]"):
			caps |= ir.CapBytes
		}
		d.params = append(d.params, ir.Param{Name: name, Type: typ, Caps: caps, Span: t.Span(p)})
	}
	if accounts == nil {
		d.err = "handler takes no Context"
		return d
	}
	signers := map[string]bool{}
	for _, f := range accounts.fields {
		d.params = append(d.params, f.param)
		if f.param.Caps.Has(ir.CapSigner) {
			signers[f.param.Name] = true
		}
		if f.param.Caps.Has(ir.CapMutable) {
			d.mutating = true
		}
	}
	at := model.Span{Start: body.Start, End: body.Start}
	for _, f := range accounts.fields {
		d.declarative(f, at, body, signers, accounts.args)
	}
	return d
}

// declarative turns account constraints into guards, authority checks and
// address derivations that hold for the whole handler body.
func (d *decl) declarative(f accountsField, at, body model.Span, signers, args map[string]bool) {
	p := f.param
	c := p.Constraints
	guard := func(text string) {
		d.guards = append(d.guards, ir.Guard{Kind: ir.GuardConstraint, Cond: ir.NoExpr, Text: text, Span: at, Scope: body, Diverges: true, Origin: c.Span, Subject: p.Name})
	}
	authority := func(kind, identity, against string) {
		d.authority = append(d.authority, ir.AuthorityCheck{Kind: kind, Identity: identity, Against: against, Guard: -1, Span: at, Scope: body, Subject: p.Name})
	}
	for _, h := range c.HasOne {
		guard(fmt.Sprintf("%s.%s == %s.key()", p.Name, h, h))
		if signers[h] {
			authority("has_one", h, p.Name+"."+h)
		}
	}
	for _, x := range c.Exprs {
		guard(x)
		if !strings.Contains(x, "==") {
			continue
		}
		for _, m := range signerNames.FindAllStringSubmatch(x, -1) {
			name := m[1]
			if name == "" {
				name = m[2]
			}
			if signers[name] {
				authority("constraint", name, x)
				break
			}
		}
	}
	if c.Address != "" {
		guard(fmt.Sprintf("%s.key() == %s", p.Name, c.Address))
	}
	if c.Owner != "" {
		guard(fmt.Sprintf("%s.owner == %s", p.Name, c.Owner))
	}
	if c.HasSeeds {
		text := fmt.Sprintf("%s.key() == seeds [%s]", p.Name, strings.Join(c.Seeds, ", "))
		guard(text)
		for _, s := range c.Seeds {
			for _, w := range ir.Words(s) {
				if signers[w] {
					authority("seeds", w, text)
				}
			}
		}
		dv := ir.AddressDerivation{Kind: "seeds", Seeds: c.Seeds, Bump: ir.NoExpr, BumpText: c.Bump, Expr: ir.NoExpr, Span: c.Span}
		switch {
		case !c.HasBump:
			dv.BumpSource = ir.BumpUnknown
		case c.Bump == "" || f.flags.init:
			dv.BumpSource = ir.BumpCanonical
		case isNumber(c.Bump):
			dv.BumpSource = ir.BumpLiteral
		case args[c.Bump] || args[strings.SplitN(c.Bump, ".", 2)[0]]:
			dv.BumpSource = ir.BumpCaller
		case strings.Contains(c.Bump, "."):
			dv.BumpSource = ir.BumpStored
		default:
			dv.BumpSource = ir.BumpUnknown
		}
		d.derivations = append(d.derivations, dv)
	}
}

func isNumber(s string) bool {
	s = strings.TrimSuffix(strings.ReplaceAll(s, "_", ""), "u8")
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (a anchorAdapter) classify(b *builder) {
	h := b.h
	lhs := map[ir.ExprID]bool{}
	for i := range h.Exprs {
		e := &h.Exprs[i]
		if e.Kind == ir.ExprAssign {
			lhs[e.Args[0]] = true
		}
		if (e.Kind == ir.ExprMethod || e.Kind == ir.ExprField) && e.Name == "key" && len(e.Args) > 0 {
			if acct, ok := b.account(e.Args[0]); ok && acct.Caps.Has(ir.CapSigner) {
				h.Identities = append(h.Identities, ir.ExprID(i))
			}
		}
	}
	for i := range h.Exprs {
		id := ir.ExprID(i)
		e := &h.Exprs[i]
		switch e.Kind {
		case ir.ExprAssign:
			a.assign(b, id, e)
		case ir.ExprCall:
			a.call(b, id, e)
		case ir.ExprMethod:
			a.method(b, id, e)
		case ir.ExprField:
			if underAssign(h, id, lhs) || b.chained(id) {
				continue
			}
			if root, path, ok := b.accountPath(id); ok && len(path) > 0 && path[0] != "key" {
				t := ir.Target{Kind: ir.TargetAccount, Root: root, Path: strings.Join(path, "."), Key: ir.NoExpr}
				h.Accesses = append(h.Accesses, ir.AccessSite{Target: t, Op: "read", Value: ir.NoExpr, Expr: id, Span: e.Span})
			}
		}
	}
}

func underAssign(h *ir.Handler, id ir.ExprID, lhs map[ir.ExprID]bool) bool {
	for cur := id; cur != ir.NoExpr; cur = h.Expr(cur).Parent {
		if lhs[cur] {
			return true
		}
	}
	return false
}

// account resolves an expression naming an accounts-struct field.
func (b *builder) account(id ir.ExprID) (*ir.Param, bool) {
	h := b.h
	cur := id
	for steps := 0; steps < 16; steps++ {
		e := h.Expr(cur)
		if e == nil {
			return nil, false
		}
		switch e.Kind {
		case ir.ExprField:
			if e.Name == "key" {
				cur = e.Args[0]
				continue
			}
			chain := h.FieldChain(cur)
			if len(chain) == 3 && chain[1] == "accounts" {
				if ctx, ok := h.Param(chain[0]); ok && ctx.Caps.Has(ir.CapContext) {
					return h.Param(chain[2])
				}
			}
			return nil, false
		case ir.ExprIdent:
			if _, local := h.LocalAt(e.Name, e.Span.Start); !local {
				if p, ok := h.Param(e.Name); ok && p.Caps.Has(ir.CapAccount) {
					return p, true
				}
				return nil, false
			}
			next := b.resolve(cur)
			if next == cur {
				return nil, false
			}
			cur = next
		case ir.ExprRef, ir.ExprTry, ir.ExprUnary:
			cur = e.Args[0]
		case ir.ExprMethod:
			switch e.Name {
			case "key", "to_account_info", "as_ref", "clone", "as_mut", "deref", "deref_mut", "load_mut", "load", "load_init", "unwrap", "borrow", "borrow_mut", "into":
				cur = e.Args[0]
			default:
				return nil, false
			}
		default:
			return nil, false
		}
	}
	return nil, false
}

// accountPath splits an account-rooted field chain into the account and the
// field path below it.
func (b *builder) accountPath(id ir.ExprID) (string, []string, bool) {
	h := b.h
	var rev []string
	cur := id
	for steps := 0; steps < 32; steps++ {
		if p, ok := b.account(cur); ok {
			path := make([]string, len(rev))
			for i := range rev {
				path[i] = rev[len(rev)-1-i]
			}
			return p.Name, path, true
		}
		e := h.Expr(cur)
		if e == nil || len(e.Args) == 0 {
			return "", nil, false
		}
		switch e.Kind {
		case ir.ExprField:
			rev = append(rev, e.Name)
			cur = e.Args[0]
		case ir.ExprIndex, ir.ExprRef, ir.ExprTry, ir.ExprUnary:
			cur = e.Args[0]
		case ir.ExprIdent:
			next := b.resolve(cur)
			if next == cur {
				return "", nil, false
			}
			cur = next
		default:
			return "", nil, false
		}
	}
	return "", nil, false
}

// lamportsOf recognises `**acct.try_borrow_mut_lamports()?` and
// `**acct.lamports.borrow_mut()` places.
func (b *builder) lamportsOf(id ir.ExprID) (string, bool) {
	h := b.h
	cur := id
	for steps := 0; steps < 16; steps++ {
		e := h.Expr(cur)
		if e == nil {
			return "", false
		}
		switch e.Kind {
		case ir.ExprUnary, ir.ExprTry, ir.ExprRef:
			cur = e.Args[0]
			continue
		case ir.ExprIdent:
			next := b.resolve(cur)
			if next == cur {
				return "", false
			}
			cur = next
			continue
		case ir.ExprMethod:
			switch e.Name {
			case "try_borrow_mut_lamports", "try_borrow_lamports":
				if p, ok := b.account(e.Args[0]); ok {
					return p.Name, true
				}
			case "borrow_mut", "borrow":
				if f := h.Expr(e.Args[0]); f != nil && f.Kind == ir.ExprField && f.Name == "lamports" {
					if p, ok := b.account(f.Args[0]); ok {
						return p.Name, true
					}
				}
			}
		}
		return "", false
	}
	return "", false
}

func (a anchorAdapter) assign(b *builder, id ir.ExprID, e *ir.Expr) {
	if root, ok := b.lamportsOf(e.Args[0]); ok {
		b.write(ir.Target{Kind: ir.TargetLamports, Root: root, Key: ir.NoExpr}, e.Op, e.Args[1], id)
		return
	}
	if root, path, ok := b.accountPath(e.Args[0]); ok {
		b.write(ir.Target{Kind: ir.TargetAccount, Root: root, Path: strings.Join(path, "."), Key: ir.NoExpr}, e.Op, e.Args[1], id)
	}
}

var lamportMethods = map[string]bool{"set_lamports": true, "sub_lamports": true, "add_lamports": true}

func (a anchorAdapter) method(b *builder, id ir.ExprID, e *ir.Expr) {
	h := b.h
	recv := e.Args[0]
	switch {
	case lamportMethods[e.Name] && len(e.Args) == 2:
		if p, ok := b.account(recv); ok {
			b.write(ir.Target{Kind: ir.TargetLamports, Root: p.Name, Key: ir.NoExpr}, e.Name, e.Args[1], id)
		}
	case e.Name == "lamports" || e.Name == "get_lamports":
		if p, ok := b.account(recv); ok {
			h.Accesses = append(h.Accesses, ir.AccessSite{Target: ir.Target{Kind: ir.TargetLamports, Root: p.Name, Key: ir.NoExpr}, Op: "read", Value: ir.NoExpr, Expr: id, Span: e.Span})
		}
	case e.Name == "realloc" || e.Name == "resize" || e.Name == "close" || e.Name == "assign" || e.Name == "set_inner":
		if len(e.Args) < 2 {
			return
		}
		if p, ok := b.account(recv); ok {
			b.write(ir.Target{Kind: ir.TargetAccount, Root: p.Name, Key: ir.NoExpr}, e.Name, e.Args[1], id)
		}
	case e.Name == "fill" || e.Name == "copy_from_slice":
		if root, ok := b.dataOf(recv); ok {
			val := ir.NoExpr
			if len(e.Args) > 1 {
				val = e.Args[1]
			}
			b.write(ir.Target{Kind: ir.TargetAccount, Root: root, Path: "data", Key: ir.NoExpr}, e.Name, val, id)
		}
	case e.Name == "serialize" || e.Name == "try_serialize" || e.Name == "pack" || e.Name == "pack_into_slice":
		for _, arg := range e.Args[1:] {
			if root, ok := b.dataOf(arg); ok {
				b.write(ir.Target{Kind: ir.TargetAccount, Root: root, Path: "data", Key: ir.NoExpr}, e.Name, recv, id)
				return
			}
		}
	}
}

// dataOf finds the account whose data buffer id borrows.
func (b *builder) dataOf(id ir.ExprID) (string, bool) {
	found := ""
	b.h.Walk(b.resolve(id), func(cur ir.ExprID, e *ir.Expr) bool {
		if found != "" {
			return false
		}
		switch {
		case e.Kind == ir.ExprMethod && (e.Name == "try_borrow_mut_data" || e.Name == "try_borrow_data"):
			if p, ok := b.account(e.Args[0]); ok {
				found = p.Name
			}
			return false
		case e.Kind == ir.ExprField && e.Name == "data":
			if p, ok := b.account(e.Args[0]); ok {
				found = p.Name
			}
			return false
		case e.Kind == ir.ExprIdent:
			if next := b.resolve(cur); next != cur {
				if root, ok := b.dataOf(next); ok {
					found = root
				}
			}
		}
		return true
	})
	return found, found != ""
}

func (a anchorAdapter) call(b *builder, id ir.ExprID, e *ir.Expr) {
	h := b.h
	last := lastSegment(e.Name)
	switch {
	case (last == "invoke" || last == "invoke_signed" || last == "invoke_unchecked" || last == "invoke_signed_unchecked") && len(e.Args) >= 1:
		target := a.instructionProgram(b, e.Args[0])
		b.external(last, target, e.Args[1:], ir.NoExpr, id)
		if strings.HasPrefix(last, "invoke_signed") && len(e.Args) >= 3 {
			b.signerSeeds(e.Args[2])
		}
		return
	case last == "create_program_address" && len(e.Args) >= 1:
		bump := lastSeedByte(b, e.Args[0])
		h.Derivations = append(h.Derivations, ir.AddressDerivation{
			Kind: "create_program_address", Seeds: seedTexts(b, e.Args[0]), Bump: bump, BumpText: h.Text(bump),
			BumpSource: b.bumpSource(bump), Expr: id, Span: e.Span,
		})
		return
	case last == "find_program_address":
		h.Derivations = append(h.Derivations, ir.AddressDerivation{
			Kind: "find_program_address", Seeds: seedTexts(b, firstArg(e)), Bump: ir.NoExpr,
			BumpSource: ir.BumpCanonical, Expr: id, Span: e.Span,
		})
		return
	case last == "from_account_info" && len(e.Args) == 1:
		kind := ir.ReadClock
		switch {
		case strings.Contains(e.Name, "Rent"):
			kind = ir.ReadRent
		case strings.Contains(e.Name, "SlotHashes") || strings.Contains(e.Name, "RecentBlockhashes"):
			kind = ir.ReadRandomness
		case strings.Contains(e.Name, "Instructions"):
			kind = ir.ReadInstructions
		}
		b.trustedRead(kind, e.Args[0], id)
		return
	case e.Name == "Clock::get" || e.Name == "Rent::get":
		kind := ir.ReadClock
		if e.Name == "Rent::get" {
			kind = ir.ReadRent
		}
		h.Reads = append(h.Reads, ir.TrustedRead{Kind: kind, SourceExpr: ir.NoExpr, Expr: id, Span: e.Span})
		return
	case (last == "load_instruction_at_checked" || last == "load_current_index_checked" || last == "get_instruction_relative") && len(e.Args) >= 1:
		b.trustedRead(ir.ReadInstructions, e.Args[len(e.Args)-1], id)
		return
	case oracleLoaders.MatchString(e.Name) && len(e.Args) >= 1:
		b.trustedRead(ir.ReadOracle, e.Args[0], id)
		return
	}
	for _, dec := range anchorDecoders {
		if last != dec || len(e.Args) == 0 || !strings.Contains(e.Name, "::") {
			continue
		}
		if src, ok := b.rawSource(e.Args[0]); ok {
			h.Decodes = append(h.Decodes, ir.RawDecode{Func: e.Name, Source: src, SourceExpr: e.Args[0], Bound: b.boundLocal(id), Expr: id, Span: e.Span})
		}
		return
	}
	if len(e.Args) >= 1 {
		if cpi := a.cpiContext(b, e.Args[0]); cpi != ir.NoExpr {
			ctx := h.Expr(cpi)
			value := ir.NoExpr
			if len(e.Args) >= 2 {
				value = e.Args[1]
			}
			b.external("cpi", ctx.Args[0], e.Args[1:], value, id)
			if strings.HasSuffix(ctx.Name, "new_with_signer") && len(ctx.Args) >= 3 {
				b.signerSeeds(ctx.Args[2])
			}
		}
	}
}

func firstArg(e *ir.Expr) ir.ExprID {
	if len(e.Args) == 0 {
		return ir.NoExpr
	}
	return e.Args[0]
}

func (b *builder) trustedRead(kind ir.ReadKind, src, id ir.ExprID) {
	name := ""
	if p, ok := b.account(src); ok {
		name = p.Name
	} else if roots := b.h.Roots(src); len(roots) > 0 {
		name = roots[0].Name
	}
	b.h.Reads = append(b.h.Reads, ir.TrustedRead{Kind: kind, Source: name, SourceExpr: src, Expr: id, Span: b.h.Expr(id).Span})
}

// rawSource names the unchecked account or byte parameter a decode reads.
func (b *builder) rawSource(id ir.ExprID) (string, bool) {
	if root, ok := b.dataOf(id); ok {
		if p, ok := b.h.Param(root); ok && p.Caps.Has(ir.CapRaw) {
			return root, true
		}
		return "", false
	}
	return b.bytesParam(id)
}

// cpiContext returns the CpiContext constructor the argument derives from.
func (a anchorAdapter) cpiContext(b *builder, id ir.ExprID) ir.ExprID {
	return b.chainFind(id, func(e *ir.Expr) bool {
		return e.Kind == ir.ExprCall && (strings.HasSuffix(e.Name, "CpiContext::new") || strings.HasSuffix(e.Name, "CpiContext::new_with_signer")) && len(e.Args) >= 1
	})
}

// instructionProgram finds the program id an Instruction value is built with.
func (a anchorAdapter) instructionProgram(b *builder, id ir.ExprID) ir.ExprID {
	h := b.h
	ix := b.resolve(id)
	e := h.Expr(ix)
	if e == nil {
		return id
	}
	switch e.Kind {
	case ir.ExprStruct:
		for i, f := range e.Fields {
			if f == "program_id" {
				return e.Args[i]
			}
		}
	case ir.ExprCall:
		switch {
		case strings.Contains(e.Name, "system_instruction::"):
			return ix
		case strings.Contains(e.Name, "Instruction::new") && len(e.Args) > 0:
			return e.Args[0]
		case strings.Contains(e.Name, "::instruction::") && len(e.Args) > 0:
			return e.Args[0]
		}
	}
	return ix
}

// signerSeeds records the PDA seeds passed to a signed invocation.
func (b *builder) signerSeeds(id ir.ExprID) {
	h := b.h
	seen := map[ir.ExprID]bool{}
	var visit func(ir.ExprID)
	visit = func(cur ir.ExprID) {
		cur = b.resolve(cur)
		e := h.Expr(cur)
		if e == nil || seen[cur] {
			return
		}
		seen[cur] = true
		if e.Kind == ir.ExprIndex {
			visit(e.Args[0])
			return
		}
		if e.Kind != ir.ExprArray {
			return
		}
		if bump := lastSeedByte(b, cur); bump != ir.NoExpr {
			h.Derivations = append(h.Derivations, ir.AddressDerivation{
				Kind: "signer_seeds", Seeds: seedTexts(b, cur), Bump: bump, BumpText: h.Text(bump),
				BumpSource: b.bumpSource(bump), Expr: cur, Span: e.Span,
			})
			return
		}
		for _, a := range e.Args {
			visit(a)
		}
	}
	visit(id)
}

// lastSeedByte returns x for seed lists ending in `&[x]`.
func lastSeedByte(b *builder, id ir.ExprID) ir.ExprID {
	h := b.h
	e := h.Expr(b.resolve(id))
	if e == nil || e.Kind != ir.ExprArray || len(e.Args) == 0 {
		return ir.NoExpr
	}
	tail := h.Expr(b.resolve(e.Args[len(e.Args)-1]))
	if tail == nil || tail.Kind != ir.ExprArray || len(tail.Args) != 1 {
		return ir.NoExpr
	}
	if inner := h.Expr(tail.Args[0]); inner != nil && inner.Kind == ir.ExprArray {
		return ir.NoExpr
	}
	return tail.Args[0]
}

func seedTexts(b *builder, id ir.ExprID) []string {
	e := b.h.Expr(b.resolve(id))
	if e == nil || e.Kind != ir.ExprArray {
		return nil
	}
	out := make([]string, 0, len(e.Args))
	for _, a := range e.Args {
		out = append(out, compact(b.h.Text(a)))
	}
	return out
}

// bumpSource classifies where a PDA bump value comes from.
func (b *builder) bumpSource(id ir.ExprID) ir.BumpSource {
	h := b.h
	if h.Expr(id) == nil {
		return ir.BumpUnknown
	}
	canonical := h.Mentions(id, true, func(n string) bool {
		l := strings.ToLower(n)
		return n == "bumps" || strings.Contains(l, "find_program_address") || strings.Contains(l, "canonical") || strings.HasPrefix(lastSegment(l), "find")
	})
	if canonical {
		return ir.BumpCanonical
	}
	roots := h.Roots(id)
	if len(roots) == 0 {
		return ir.BumpUnknown
	}
	literal := true
	for _, r := range roots {
		switch r.Kind {
		case ir.RootParam:
			return ir.BumpCaller
		case ir.RootAccount:
			return ir.BumpStored
		case ir.RootLiteral, ir.RootConst:
		default:
			literal = false
		}
	}
	if literal {
		return ir.BumpLiteral
	}
	return ir.BumpUnknown
}

func (anchorAdapter) classifyTarget(b *builder, c *ir.ExternalCall) {
	h := b.h
	c.TargetText = h.Text(c.Target)
	c.TargetClass = ir.TargetUnknown
	if t := h.Expr(c.Target); t != nil && t.Kind == ir.ExprCall && strings.Contains(t.Name, "system_instruction::") {
		c.TargetClass = ir.TargetStatic
		return
	}
	if p, ok := b.account(c.Target); ok {
		c.TargetRoot = p.Name
		switch {
		case p.Caps.Has(ir.CapProgram), p.Constraints.Address != "":
			c.TargetClass = ir.TargetStatic
		case p.Caps.Has(ir.CapRaw), p.Caps.Has(ir.CapSigner):
			c.TargetClass = ir.TargetDynamic
			if b.allowlisted(p.Name, c.Span.Start) {
				c.TargetClass = ir.TargetStatic
			}
		default:
			c.TargetClass = ir.TargetStatic
		}
		return
	}
	roots := h.Roots(c.Target)
	static := len(roots) > 0
	for _, r := range roots {
		switch r.Kind {
		case ir.RootParam:
			c.TargetRoot = r.Name
			c.TargetClass = ir.TargetDynamic
			if b.allowlisted(r.Name, c.Span.Start) {
				c.TargetClass = ir.TargetStatic
			}
			return
		case ir.RootAccount:
			p, _ := h.Param(r.Name)
			if p != nil && p.Caps.Has(ir.CapRaw) && !p.Caps.Has(ir.CapProgram) {
				c.TargetRoot = r.Name
				c.TargetClass = ir.TargetDynamic
				if b.allowlisted(r.Name, c.Span.Start) {
					c.TargetClass = ir.TargetStatic
				}
				return
			}
		case ir.RootConst, ir.RootLiteral, ir.RootState:
		default:
			static = false
		}
	}
	if static {
		c.TargetClass = ir.TargetStatic
	}
}
