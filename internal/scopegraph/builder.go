package scopegraph

import (
	"sort"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/mlade/weft/internal/model"
)

// BuildGraph evaluates a rule set against a parse tree and assembles the
// scope graph. The result is deterministic for a given (tree, rule set)
// pair: rules run in declaration order and matches arrive in query order.
// Constructs no rule matches contribute nothing.
//
// The builder wires the parts together so rule sets stay declarative:
//
//   - a file scope spanning the whole file always exists;
//   - every scope gets an edge to its innermost enclosing scope, and the
//     file scope to the root node, so lookups climb outward;
//   - references and definitions attach to their innermost enclosing scope;
//   - define bodies become scopes reachable only through the definition.
func BuildGraph(rs *RuleSet, root *sitter.Node, src []byte) *Graph {
	b := &builder{g: NewGraph(), scopes: map[[2]uint32]int{}}

	fileSpan := nodeSpan(root)
	b.fileScope = b.scope(fileSpan)

	var decls []decl
	for ri := range rs.Rules {
		rule := &rs.Rules[ri]
		qc := sitter.NewQueryCursor()
		qc.Exec(rule.compiled, root)
		for {
			m, ok := qc.NextMatch()
			if !ok {
				break
			}
			m = qc.FilterPredicates(m, src)
			if len(m.Captures) == 0 {
				continue
			}
			caps := make(map[string]*sitter.Node, len(m.Captures))
			for _, c := range m.Captures {
				caps[rule.compiled.CaptureNameForId(c.Index)] = c.Node
			}
			decls = append(decls, b.collect(rule, caps, src)...)
		}
	}

	// Scopes exist before anything attaches to them.
	b.wireScopes()
	for _, d := range decls {
		d.emit(b)
	}
	return b.g
}

type builder struct {
	g         *Graph
	fileScope int
	scopes    map[[2]uint32]int // byte span -> scope node
	spans     []model.Span      // span of every scope, parallel to ids below
	scopeIDs  []int
}

// decl is a deferred graph contribution, emitted once all scopes exist.
type decl interface{ emit(b *builder) }

// scope returns the scope node for a span, creating it on first sight.
func (b *builder) scope(sp model.Span) int {
	key := [2]uint32{sp.StartByte, sp.EndByte}
	if id, ok := b.scopes[key]; ok {
		return id
	}
	id := b.g.AddNode(Node{Kind: KindScope, Span: sp})
	b.scopes[key] = id
	b.spans = append(b.spans, sp)
	b.scopeIDs = append(b.scopeIDs, id)
	return id
}

// collect resolves one rule match into deferred declarations, creating any
// scopes it mentions so parenting sees them.
func (b *builder) collect(rule *Rule, caps map[string]*sitter.Node, src []byte) []decl {
	var out []decl
	a := rule.Actions

	if a.Scope != "" {
		if n := capNode(caps, a.Scope); n != nil {
			b.scope(nodeSpan(n))
		}
	}
	if a.Define != nil {
		name := a.Define.Name.resolve(caps, src)
		n := caps["name"]
		if a.Define.Name.From != "" {
			n = capNode(caps, a.Define.Name.From)
		}
		if len(name) == 1 && n != nil {
			d := defineDecl{
				symbol:     name[0],
				span:       nodeSpan(n),
				precedence: a.Define.Precedence,
			}
			if a.Define.Body != "" {
				if body := capNode(caps, a.Define.Body); body != nil {
					sp := nodeSpan(body)
					b.scope(sp)
					d.body = &sp
				}
			}
			out = append(out, d)
		}
	}
	if a.Reference != nil {
		var parts []string
		for _, ps := range a.Reference.Parts {
			parts = append(parts, ps.resolve(caps, src)...)
		}
		n := refNode(caps, a.Reference.Parts)
		if a.Reference.Span != "" {
			if sn := capNode(caps, a.Reference.Span); sn != nil {
				n = sn
			}
		}
		if len(parts) > 0 && n != nil {
			out = append(out, referenceDecl{
				parts: parts,
				kind:  depKind(a.Reference.Kind),
				span:  nodeSpan(n),
			})
		}
	}
	if a.Export != nil {
		var syms []string
		for _, ss := range a.Export.Symbols {
			syms = append(syms, ss.resolve(caps, src)...)
		}
		if len(syms) > 0 {
			out = append(out, exportDecl{symbols: syms, scope: b.actionScope(a.Export.Scope, caps)})
		}
	}
	if a.Gateway != nil {
		var syms []string
		for _, ss := range a.Gateway.Symbols {
			syms = append(syms, ss.resolve(caps, src)...)
		}
		g := gatewayDecl{symbols: syms, scope: b.actionScope(a.Gateway.Scope, caps)}
		if a.Gateway.Alias != nil {
			alias := a.Gateway.Alias.resolve(caps, src)
			if len(alias) != 1 {
				return out
			}
			g.alias = alias[0]
		}
		if len(syms) > 0 {
			out = append(out, g)
		}
	}
	return out
}

// actionScope resolves an action's scope field: a capture span, or the file
// scope when empty or unmatched.
func (b *builder) actionScope(field string, caps map[string]*sitter.Node) int {
	if field != "" {
		if n := capNode(caps, field); n != nil {
			return b.scope(nodeSpan(n))
		}
	}
	return b.fileScope
}

// wireScopes connects every scope to its innermost strictly-containing
// scope, and the file scope to the root node.
func (b *builder) wireScopes() {
	for i, id := range b.scopeIDs {
		if id == b.fileScope {
			continue
		}
		b.g.AddEdge(id, b.enclosing(b.spans[i], true), 0)
	}
	b.g.AddEdge(b.fileScope, RootIndex, 0)
}

// enclosing finds the innermost scope containing sp. With strict set, scopes
// with the same span do not count as their own parent.
func (b *builder) enclosing(sp model.Span, strict bool) int {
	best := b.fileScope
	var bestSpan model.Span
	first := true
	for i, id := range b.scopeIDs {
		ssp := b.spans[i]
		if strict {
			if !ssp.ContainsStrictly(sp) {
				continue
			}
		} else if !ssp.Contains(sp) {
			continue
		}
		if first || bestSpan.Contains(ssp) {
			best, bestSpan, first = id, ssp, false
		}
	}
	return best
}

type defineDecl struct {
	symbol     string
	span       model.Span
	body       *model.Span
	precedence int
}

func (d defineDecl) emit(b *builder) {
	pop := b.g.AddNode(Node{Kind: KindPop, Symbol: d.symbol, IsDefinition: true, Span: d.span})
	b.g.AddEdge(b.enclosing(d.span, false), pop, d.precedence)
	if d.body != nil {
		b.g.AddEdge(pop, b.scopes[[2]uint32{d.body.StartByte, d.body.EndByte}], 0)
	}
}

type referenceDecl struct {
	parts []string
	kind  model.DepKind
	span  model.Span
}

func (d referenceDecl) emit(b *builder) {
	// Pushing the parts in reverse leaves the first-written part on top of
	// the stack, so it resolves first.
	prev := -1
	for i := len(d.parts) - 1; i >= 0; i-- {
		n := Node{Kind: KindPush, Symbol: d.parts[i], Span: d.span}
		if prev == -1 {
			n.IsReference = true
			n.DepKind = d.kind
		}
		id := b.g.AddNode(n)
		if prev != -1 {
			b.g.AddEdge(prev, id, 0)
		}
		prev = id
	}
	b.g.AddEdge(prev, b.enclosing(d.span, false), 0)
}

type exportDecl struct {
	symbols []string
	scope   int
}

func (d exportDecl) emit(b *builder) {
	prev := RootIndex
	for _, sym := range d.symbols {
		pop := b.g.AddNode(Node{Kind: KindPop, Symbol: sym})
		b.g.AddEdge(prev, pop, 0)
		prev = pop
	}
	b.g.AddEdge(prev, d.scope, 0)
}

type gatewayDecl struct {
	symbols []string
	alias   string
	scope   int
}

func (d gatewayDecl) emit(b *builder) {
	prev := d.scope
	if d.alias != "" {
		pop := b.g.AddNode(Node{Kind: KindPop, Symbol: d.alias})
		b.g.AddEdge(prev, pop, 0)
		prev = pop
	}
	// Reverse push order: the first symbol ends up on top of the stack.
	for i := len(d.symbols) - 1; i >= 0; i-- {
		push := b.g.AddNode(Node{Kind: KindPush, Symbol: d.symbols[i]})
		b.g.AddEdge(prev, push, 0)
		prev = push
	}
	b.g.AddEdge(prev, RootIndex, 0)
}

func capNode(caps map[string]*sitter.Node, name string) *sitter.Node {
	if len(name) > 0 && name[0] == '@' {
		name = name[1:]
	}
	return caps[name]
}

// refNode picks the node spanning the whole reference: the outermost capture
// among the parts.
func refNode(caps map[string]*sitter.Node, parts []SymbolSpec) *sitter.Node {
	var nodes []*sitter.Node
	for _, p := range parts {
		if p.From != "" {
			if n := capNode(caps, p.From); n != nil {
				nodes = append(nodes, n)
			}
		}
	}
	if len(nodes) == 0 {
		return nil
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].EndByte()-nodes[i].StartByte() > nodes[j].EndByte()-nodes[j].StartByte()
	})
	return nodes[0]
}

func nodeSpan(n *sitter.Node) model.Span {
	return model.Span{
		StartByte: n.StartByte(),
		EndByte:   n.EndByte(),
		StartRow:  n.StartPoint().Row,
		StartCol:  n.StartPoint().Column,
		EndRow:    n.EndPoint().Row,
		EndCol:    n.EndPoint().Column,
	}
}
