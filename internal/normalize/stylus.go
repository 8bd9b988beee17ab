package normalize

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Auditware/radar/internal/ir"
	"github.com/Auditware/radar/internal/model"
	"github.com/Auditware/radar/internal/syntax"
)

// stylusAdapter understands Arbitrum Stylus contracts: storage declared with
// #[storage] or sol_storage!, handlers in #[public] impl blocks.
type stylusAdapter struct{}

var (
	solField     = regexp.MustCompile(`(mapping\s*\([^;]*\)|[A-Za-z_][\w\[\]]*)\s+([A-Za-z_]\w*)\s*;`)
	solStruct    = regexp.MustCompile(`#\[entrypoint\][^{]*?struct\s+(\w+)`)
	solInterface = regexp.MustCompile(`interface\s+(\w+)`)
	ownerHelper  = regexp.MustCompile(`^_?(only|ensure|check|require|assert|verify|is)_(owner|admin|auth|authorized|authority|role|minter|operator|governance)`)
	senderUse    = regexp.MustCompile(`msg::sender\(\)|msg_sender\(\)`)
)

var stylusDecoders = []string{"try_from_be_slice", "from_be_slice", "from_be_bytes", "from_le_bytes", "abi_decode", "abi_decode_params", "decode", "try_from_slice"}

var oracleMethods = map[string]bool{
	"latest_round_data": true,
	"latestRoundData":   true,
	"latest_answer":     true,
	"latestAnswer":      true,
	"get_price":         true,
	"getPrice":          true,
	"read_price":        true,
}

// contract is what stylus discovery learns about the file.
type contract struct {
	entry      string
	state      []ir.StateField
	interfaces map[string]bool
	helpers    map[string]bool
}

func (stylusAdapter) discover(u *unit) []*decl {
	t := u.tree
	c := contract{interfaces: map[string]bool{}, helpers: map[string]bool{}}
	for _, m := range t.Find(t.Root, "macro_invocation") {
		name := t.Text(t.ChildByField(m, "macro"))
		text := t.Text(m)
		switch name {
		case "sol_storage":
			if s := solStruct.FindStringSubmatch(text); s != nil {
				c.entry = s[1]
			}
			for _, f := range solField.FindAllStringSubmatchIndex(text, -1) {
				base := t.Span(m).Start
				c.state = append(c.state, ir.StateField{
					Name: text[f[4]:f[5]],
					Type: strings.Join(strings.Fields(text[f[2]:f[3]]), " "),
					Span: model.Span{Start: base + f[0], End: base + f[1]},
				})
			}
		case "sol_interface":
			for _, s := range solInterface.FindAllStringSubmatch(text, -1) {
				c.interfaces[s[1]] = true
			}
		}
	}
	for _, s := range t.Find(t.Root, "struct_item") {
		attrs := attributes(t, s)
		if !hasAttribute(attrs, "storage", "solidity_storage", "entrypoint") {
			continue
		}
		name := t.Text(t.ChildByField(s, "name"))
		if hasAttribute(attrs, "entrypoint") || c.entry == "" {
			c.entry = name
		}
		for _, f := range t.Find(t.ChildByField(s, "body"), "field_declaration") {
			c.state = append(c.state, ir.StateField{
				Name: t.Text(t.ChildByField(f, "name")),
				Type: compact(t.Text(t.ChildByField(f, "type"))),
				Span: t.Span(f),
			})
		}
	}

	var public, fallback []syntax.NodeID
	for _, impl := range t.Find(t.Root, "impl_item") {
		if t.ChildByField(impl, "trait") != syntax.NoNode {
			continue
		}
		for _, fn := range t.Find(t.ChildByField(impl, "body"), "function_item") {
			body := t.Text(t.ChildByField(fn, "body"))
			name := t.Text(t.ChildByField(fn, "name"))
			if ownerHelper.MatchString(name) || (senderUse.MatchString(body) && (strings.Contains(body, "==") || strings.Contains(body, "!="))) {
				c.helpers[name] = true
			}
		}
		switch {
		case hasAttribute(attributes(t, impl), "public", "external"):
			public = append(public, impl)
		case c.entry != "" && typeName(t.Text(t.ChildByField(impl, "type"))) == c.entry:
			fallback = append(fallback, impl)
		}
	}
	if len(public) == 0 {
		public = fallback
	}

	var out []*decl
	for _, impl := range public {
		for _, fn := range t.NamedChildren(t.ChildByField(impl, "body")) {
			if t.Kind(fn) != "function_item" || !isPublicFn(t, fn) {
				continue
			}
			d := &decl{
				name:       t.Text(t.ChildByField(fn, "name")),
				fn:         fn,
				state:      c.state,
				helpers:    c.helpers,
				interfaces: c.interfaces,
			}
			d.params, d.mutating = stylusParams(t, fn)
			out = append(out, d)
		}
	}
	return out
}

func isPublicFn(t *syntax.Tree, fn syntax.NodeID) bool {
	return t.ChildOfKind(fn, "visibility_modifier") != syntax.NoNode
}

func typeName(s string) string {
	s = compact(s)
	if i := strings.Index(s, "<"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "::"); i >= 0 {
		s = s[i+2:]
	}
	return s
}

func stylusParams(t *syntax.Tree, fn syntax.NodeID) ([]ir.Param, bool) {
	var params []ir.Param
	mutating := false
	for _, p := range t.NamedChildren(t.ChildByField(fn, "parameters")) {
		switch t.Kind(p) {
		case "self_parameter":
			if strings.Contains(t.Text(p), "mut") {
				mutating = true
			}
		case "parameter":
			typ := compact(t.Text(t.ChildByField(p, "type")))
			caps := ir.CapValue
			switch {
			case strings.Contains(typ, "Address"):
				caps |= ir.CapAddress
			case strings.Contains(typ, "Vec<u8>") || strings.Contains(typ, "Bytes") || strings.Contains(typ, "[u8]"):
				caps |= ir.CapBytes
			}
			params = append(params, ir.Param{
				Name: strings.TrimPrefix(t.Text(t.ChildByField(p, "pattern")), "mut "),
				Type: typ,
				Caps: caps,
				Span: t.Span(p),
			})
		}
	}
	return params, mutating
}

var storageHandles = map[string]bool{
	"setter":     true,
	"getter":     true,
	"get":        true,
	"get_mut":    true,
	"at":         true,
	"at_mut":     true,
	"len":        true,
	"borrow":     true,
	"borrow_mut": true,
}

var storageReads = map[string]bool{"get": true, "getter": true, "len": true}

var storageErase = map[string]bool{"delete": true, "erase": true, "clear": true, "remove": true, "pop": true}

func (a stylusAdapter) classify(b *builder) {
	h := b.h
	for i := range h.Exprs {
		e := &h.Exprs[i]
		switch {
		case e.Kind == ir.ExprCall && (e.Name == "msg::sender" || strings.HasSuffix(e.Name, "::msg::sender")):
			h.Identities = append(h.Identities, ir.ExprID(i))
		case e.Kind == ir.ExprMethod && e.Name == "msg_sender":
			h.Identities = append(h.Identities, ir.ExprID(i))
		}
	}
	for i := range h.Exprs {
		id := ir.ExprID(i)
		e := &h.Exprs[i]
		switch e.Kind {
		case ir.ExprCall:
			a.call(b, id, e)
		case ir.ExprMethod:
			a.method(b, id, e)
		case ir.ExprAssign:
			if t, ok := a.target(b, e.Args[0]); ok {
				b.write(t, e.Op, e.Args[1], id)
			}
		}
	}
}

func lastSegment(name string) string {
	if i := strings.LastIndex(name, "::"); i >= 0 {
		return name[i+2:]
	}
	return name
}

func (a stylusAdapter) call(b *builder, id ir.ExprID, e *ir.Expr) {
	h := b.h
	last := lastSegment(e.Name)
	switch {
	case b.d.helpers[last] && (!strings.Contains(e.Name, "::") || strings.HasPrefix(e.Name, "Self::")):
		b.helperGuard(id, last)
	case (last == "call" || last == "delegate_call" || last == "static_call") && len(e.Args) >= 2:
		b.external(last, e.Args[1], e.Args[2:], b.callValue(e.Args[0]), id)
	case last == "transfer_eth" && len(e.Args) == 2:
		b.external("transfer", e.Args[0], nil, e.Args[1], id)
	case strings.HasSuffix(e.Name, "block::timestamp") || strings.HasSuffix(e.Name, "block::number") || strings.HasSuffix(e.Name, "block::basefee"):
		h.Reads = append(h.Reads, ir.TrustedRead{Kind: ir.ReadClock, SourceExpr: ir.NoExpr, Expr: id, Span: e.Span})
	case strings.HasSuffix(e.Name, "block::difficulty") || strings.HasSuffix(e.Name, "block::prevrandao"):
		h.Reads = append(h.Reads, ir.TrustedRead{Kind: ir.ReadRandomness, SourceExpr: ir.NoExpr, Expr: id, Span: e.Span})
	case hashFuncs[last]:
		b.hashedBumps(id)
		b.fixedSeed(id)
	case len(e.Args) >= 1 && strings.Contains(e.Name, "::"):
		for _, dec := range stylusDecoders {
			if last != dec {
				continue
			}
			if src, ok := b.bytesParam(e.Args[0]); ok {
				h.Decodes = append(h.Decodes, ir.RawDecode{Func: e.Name, Source: src, SourceExpr: e.Args[0], Bound: b.boundLocal(id), Expr: id, Span: e.Span})
			}
			return
		}
	}
}

func (a stylusAdapter) method(b *builder, id ir.ExprID, e *ir.Expr) {
	h := b.h
	recv := e.Args[0]
	if r := h.Expr(recv); r != nil && r.Kind == ir.ExprIdent && r.Name == "self" && b.d.helpers[e.Name] {
		b.helperGuard(id, e.Name)
		return
	}
	switch e.Name {
	case "call", "delegate_call", "static_call":
		if len(e.Args) >= 3 && b.chainHas(recv, func(c *ir.Expr) bool {
			return c.Kind == ir.ExprCall && (strings.HasSuffix(c.Name, "Call::new") || strings.HasSuffix(c.Name, "Call::new_in") || strings.Contains(c.Name, "RawCall::new"))
		}) {
			kind := "call"
			if b.chainHas(recv, func(c *ir.Expr) bool { return c.Kind == ir.ExprCall && strings.Contains(c.Name, "RawCall") }) {
				kind = "raw_call"
			}
			b.external(kind, e.Args[1], e.Args[2:], b.callValue(recv), id)
			return
		}
	case "transfer_eth":
		if len(e.Args) == 3 {
			b.external("transfer", e.Args[1], nil, e.Args[2], id)
			return
		}
	case "block_timestamp", "block_number", "block_basefee":
		h.Reads = append(h.Reads, ir.TrustedRead{Kind: ir.ReadClock, SourceExpr: ir.NoExpr, Expr: id, Span: e.Span})
		return
	case "set":
		if len(e.Args) == 2 {
			if t, ok := a.target(b, recv); ok {
				b.write(t, "set", e.Args[1], id)
			}
		}
		return
	case "insert":
		if len(e.Args) == 3 {
			if t, ok := a.target(b, recv); ok {
				t.Kind, t.Key, t.KeyText = ir.TargetMapEntry, e.Args[1], h.Text(e.Args[1])
				b.write(t, "insert", e.Args[2], id)
			}
		}
		return
	case "push":
		if len(e.Args) == 2 {
			if t, ok := a.target(b, recv); ok {
				b.write(t, "push", e.Args[1], id)
			}
		}
		return
	}
	if storageErase[e.Name] {
		if t, ok := a.target(b, recv); ok {
			if len(e.Args) == 2 {
				t.Kind, t.Key, t.KeyText = ir.TargetMapEntry, e.Args[1], h.Text(e.Args[1])
			}
			b.write(t, e.Name, ir.NoExpr, id)
		}
		return
	}
	if storageReads[e.Name] && !b.chained(id) {
		if t, ok := a.target(b, id); ok {
			h.Accesses = append(h.Accesses, ir.AccessSite{Target: t, Op: e.Name, Value: ir.NoExpr, Expr: id, Span: e.Span})
		}
		return
	}
	// interface calls: IToken::new(addr).method(...)
	if len(e.Args) == 0 || storageHandles[e.Name] {
		return
	}
	ctor := h.Expr(b.resolve(recv))
	if ctor == nil || ctor.Kind != ir.ExprCall || len(ctor.Args) != 1 || !strings.HasSuffix(ctor.Name, "::new") {
		return
	}
	iface := strings.TrimSuffix(ctor.Name, "::new")
	if !b.d.interfaces[iface] && !isInterfaceName(iface) {
		return
	}
	addr := ctor.Args[0]
	b.external("interface", addr, e.Args[1:], ir.NoExpr, id)
	if oracleMethods[e.Name] {
		src := ""
		if roots := h.Roots(addr); len(roots) > 0 {
			src = roots[0].Name
		}
		h.Reads = append(h.Reads, ir.TrustedRead{Kind: ir.ReadOracle, Source: src, SourceExpr: addr, Expr: id, Span: e.Span})
	}
}

// isInterfaceName matches the IFoo naming convention of generated interfaces.
func isInterfaceName(s string) bool {
	s = lastSegment(s)
	return len(s) >= 2 && s[0] == 'I' && s[1] >= 'A' && s[1] <= 'Z'
}

// target resolves a storage handle expression to the field it addresses.
func (a stylusAdapter) target(b *builder, id ir.ExprID) (ir.Target, bool) {
	h := b.h
	var path []string
	key := ir.NoExpr
	cur := b.resolve(id)
	for steps := 0; steps < 32; steps++ {
		e := h.Expr(cur)
		if e == nil || len(e.Args) == 0 {
			return ir.Target{}, false
		}
		switch e.Kind {
		case ir.ExprField:
			if r := h.Expr(e.Args[0]); r != nil && r.Kind == ir.ExprIdent && r.Name == "self" {
				t := ir.Target{Kind: ir.TargetStorage, Root: e.Name, Key: ir.NoExpr}
				if key != ir.NoExpr {
					t.Kind, t.Key, t.KeyText = ir.TargetMapEntry, key, h.Text(key)
				}
				for i := len(path) - 1; i >= 0; i-- {
					if t.Path != "" {
						t.Path += "."
					}
					t.Path += path[i]
				}
				return t, true
			}
			path = append(path, e.Name)
		case ir.ExprMethod:
			if !storageHandles[e.Name] {
				return ir.Target{}, false
			}
			if len(e.Args) == 2 && e.Name != "at" && e.Name != "at_mut" {
				key = e.Args[1]
			}
		case ir.ExprIndex:
			key = e.Args[len(e.Args)-1]
		default:
			return ir.Target{}, false
		}
		cur = b.resolve(e.Args[0])
	}
	return ir.Target{}, false
}

func (stylusAdapter) classifyTarget(b *builder, c *ir.ExternalCall) {
	h := b.h
	c.TargetText = h.Text(c.Target)
	c.TargetClass = ir.TargetUnknown
	if lit, ok := addressLiteral(h, b.resolve(c.Target)); ok {
		if common.IsHexAddress(lit) {
			c.TargetClass = ir.TargetStatic
		}
		return
	}
	roots := h.Roots(c.Target)
	static := len(roots) > 0
	for _, r := range roots {
		switch r.Kind {
		case ir.RootParam, ir.RootAccount:
			c.TargetRoot = r.Name
			c.TargetClass = ir.TargetDynamic
			if b.allowlisted(r.Name, c.Span.Start) {
				c.TargetClass = ir.TargetStatic
			}
			return
		case ir.RootState, ir.RootConst, ir.RootLiteral:
		default:
			static = false
		}
	}
	if static {
		c.TargetClass = ir.TargetStatic
	}
}

// addressLiteral extracts the text of an address!("0x..") literal.
func addressLiteral(h *ir.Handler, id ir.ExprID) (string, bool) {
	e := h.Expr(id)
	if e == nil || e.Kind != ir.ExprMacro || e.Name != "address" || len(e.Args) != 1 {
		return "", false
	}
	lit := h.Expr(e.Args[0])
	if lit == nil || lit.Kind != ir.ExprLit || lit.Op != "str" {
		return "", false
	}
	return strings.Trim(lit.Name, `"`), true
}

var hashFuncs = map[string]bool{"keccak256": true, "keccak": true, "sha256": true, "native_keccak256": true}

// hashedBumps records address derivations that mix a caller-supplied bump
// argument into a hash.
func (b *builder) hashedBumps(call ir.ExprID) {
	h := b.h
	for _, p := range h.Params {
		if !strings.Contains(strings.ToLower(p.Name), "bump") {
			continue
		}
		for i := range h.Exprs {
			use := &h.Exprs[i]
			if use.Kind != ir.ExprIdent || use.Name != p.Name || use.Span.Start > h.Expr(call).Span.Start {
				continue
			}
			h.Derivations = append(h.Derivations, ir.AddressDerivation{
				Kind: "hash", Bump: ir.ExprID(i), BumpText: p.Name,
				BumpSource: ir.BumpCaller, Expr: call, Span: use.Span,
			})
			break
		}
	}
}

// fixedSeed records an address cut from the hash of constant bytes. Anyone
// can recompute it, so it carries no authority.
func (b *builder) fixedSeed(call ir.ExprID) {
	h := b.h
	e := h.Expr(call)
	if len(e.Args) != 1 || !h.IsConstant(e.Args[0]) || !b.becomesAddress(call) {
		return
	}
	h.Derivations = append(h.Derivations, ir.AddressDerivation{
		Kind: "fixed-seed", Bump: e.Args[0], BumpText: h.Text(e.Args[0]),
		BumpSource: ir.BumpLiteral, Expr: call, Span: e.Span,
	})
}

// becomesAddress reports whether the value of id, directly or through a
// local, is converted with Address::from*.
func (b *builder) becomesAddress(id ir.ExprID) bool {
	h := b.h
	for i := range h.Exprs {
		c := &h.Exprs[i]
		if c.Kind != ir.ExprCall || !strings.Contains(c.Name, "Address::from") {
			continue
		}
		found := false
		for _, a := range c.Args {
			h.Walk(a, func(eid ir.ExprID, x *ir.Expr) bool {
				if eid == id {
					found = true
				} else if x.Kind == ir.ExprIdent {
					if l, ok := h.LocalAt(x.Name, x.Span.Start); ok && l.Value == id {
						found = true
					}
				}
				return !found
			})
		}
		if found {
			return true
		}
	}
	return false
}
