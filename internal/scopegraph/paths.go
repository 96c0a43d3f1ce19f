package scopegraph

// PathKind classifies partial paths.
type PathKind uint8

const (
	// PathComplete connects a reference to a definition inside one file.
	PathComplete PathKind = iota
	// PathPartial connects a reference to the file boundary with a residual
	// symbol stack still to resolve.
	PathPartial
	// PathExposed connects the file boundary to a definition, recording the
	// symbol sequence that reaches it.
	PathExposed
	// PathForward connects the file boundary back to itself, consuming one
	// symbol sequence and producing another (re-exports and aliases).
	PathForward
)

// PartialPath is one walk through a single file's graph, reduced to what
// stitching needs. Pre holds the symbols the path pops from its caller, in
// pop order. Post holds the symbols the path leaves pushed, bottom first
// (top of stack last). Start and End are node indices in the file's graph.
type PartialPath struct {
	Kind       PathKind `json:"kind"`
	Start      int      `json:"start"`
	End        int      `json:"end"`
	Pre        []string `json:"pre,omitempty"`
	Post       []string `json:"post,omitempty"`
	Precedence int      `json:"prec,omitempty"`
}

// Residual returns the unresolved symbols of a reference path in resolution
// order (stack top first).
func (p PartialPath) Residual() []string {
	out := make([]string, len(p.Post))
	for i, s := range p.Post {
		out[len(p.Post)-1-i] = s
	}
	return out
}

// ComputePaths derives the minimal partial path set of one graph: every
// reference walked to a definition or the boundary, and every boundary walk
// to the definitions and re-exports it exposes. The set is all stitching
// ever needs; the graph itself is not consulted again.
func ComputePaths(g *Graph) []PartialPath {
	w := &walker{g: g, visited: make([]bool, len(g.Nodes))}
	for i, n := range g.Nodes {
		if n.IsReference {
			w.walkRef(i, i, nil, 0)
		}
	}
	for _, e := range g.Edges[RootIndex] {
		w.walkRoot(e.To, nil, nil, e.Precedence)
	}
	return w.paths
}

type walker struct {
	g       *Graph
	visited []bool
	paths   []PartialPath
}

// walkRef explores from a reference. The stack holds pushed symbols, top
// last. Reaching a matching definition with an empty stack records a
// complete path; reaching the boundary records a partial path with the
// remaining stack.
func (w *walker) walkRef(start, at int, stack []string, prec int) {
	if w.visited[at] {
		return
	}
	w.visited[at] = true
	defer func() { w.visited[at] = false }()

	n := w.g.Nodes[at]
	switch n.Kind {
	case KindPush:
		stack = append(stack[:len(stack):len(stack)], n.Symbol)
	case KindPop:
		if len(stack) == 0 || stack[len(stack)-1] != n.Symbol {
			return
		}
		stack = stack[:len(stack)-1]
		if n.IsDefinition && len(stack) == 0 {
			w.paths = append(w.paths, PartialPath{
				Kind: PathComplete, Start: start, End: at, Precedence: prec,
			})
			return
		}
	case KindRoot, KindJump:
		if at != start && len(stack) > 0 {
			w.paths = append(w.paths, PartialPath{
				Kind: PathPartial, Start: start, End: at,
				Post: append([]string(nil), stack...), Precedence: prec,
			})
		}
		return
	}
	for _, e := range w.g.Edges[at] {
		w.walkRef(start, e.To, stack, prec+e.Precedence)
	}
}

// walkRoot explores inward from the boundary. Pops with an empty stack are
// consumed from the (unknown) caller and accumulate in pre; pushes stack up
// in post. Definitions reached with nothing left pushed are exposed;
// returning to the boundary with pushes pending is a forwarding path.
func (w *walker) walkRoot(at int, pre, post []string, prec int) {
	if w.visited[at] {
		return
	}
	w.visited[at] = true
	defer func() { w.visited[at] = false }()

	n := w.g.Nodes[at]
	switch n.Kind {
	case KindPush:
		post = append(post[:len(post):len(post)], n.Symbol)
	case KindPop:
		if len(post) > 0 {
			if post[len(post)-1] != n.Symbol {
				return
			}
			post = post[:len(post)-1]
		} else {
			pre = append(pre[:len(pre):len(pre)], n.Symbol)
		}
		if n.IsDefinition && len(post) == 0 && len(pre) > 0 {
			w.paths = append(w.paths, PartialPath{
				Kind: PathExposed, Start: RootIndex, End: at,
				Pre: append([]string(nil), pre...), Precedence: prec,
			})
		}
	case KindRoot, KindJump:
		if len(pre) > 0 && len(post) > 0 {
			w.paths = append(w.paths, PartialPath{
				Kind: PathForward, Start: RootIndex, End: at,
				Pre:        append([]string(nil), pre...),
				Post:       append([]string(nil), post...),
				Precedence: prec,
			})
		}
		return
	}
	for _, e := range w.g.Edges[at] {
		w.walkRoot(e.To, pre, post, prec+e.Precedence)
	}
}
