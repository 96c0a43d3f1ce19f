// Package scopegraph implements the rule-driven scope graph builder and the
// partial-path resolver. A graph is built per file from declarative rule
// sets; name resolution walks the graph into minimal partial path sets that
// are cached per file version and stitched across files without re-parsing.
package scopegraph

import "github.com/mlade/weft/internal/model"

// NodeKind enumerates the node kinds a graph can contain.
type NodeKind uint8

const (
	// KindRoot is the per-graph boundary to other files. Cross-file paths
	// pass through it.
	KindRoot NodeKind = iota
	// KindJump transfers resolution to a scope carried on the path. Rule
	// sets for the supported languages do not emit it, but walks treat it
	// as a boundary like the root so rule sets that do are not misresolved.
	KindJump
	// KindScope is a lexical scope.
	KindScope
	// KindPush pushes a symbol onto the path's symbol stack.
	KindPush
	// KindPop pops a matching symbol off the path's symbol stack.
	KindPop
)

// Sentinel node indices. Every graph has the root at 0 and the jump node at
// 1, so paths from different files can be stitched by index without any
// shared arena.
const (
	RootIndex = 0
	JumpIndex = 1
)

// Node is one scope graph node. Symbol is set for push and pop nodes.
// IsDefinition marks pop nodes introduced by define actions; IsReference and
// DepKind mark the head push node of a reference chain.
type Node struct {
	Kind         NodeKind      `json:"kind"`
	Symbol       string        `json:"symbol,omitempty"`
	IsDefinition bool          `json:"def,omitempty"`
	IsReference  bool          `json:"ref,omitempty"`
	DepKind      model.DepKind `json:"dep_kind,omitempty"`
	Span         model.Span    `json:"span"`
}

// Edge is a directed edge to another node in the same graph. Higher
// precedence wins when a resolution is otherwise ambiguous.
type Edge struct {
	To         int `json:"to"`
	Precedence int `json:"prec,omitempty"`
}

// Graph is an arena of nodes addressed by index, with per-node edge lists.
type Graph struct {
	Nodes []Node   `json:"nodes"`
	Edges [][]Edge `json:"edges"`
}

// NewGraph returns a graph holding only the two sentinel nodes.
func NewGraph() *Graph {
	g := &Graph{}
	g.AddNode(Node{Kind: KindRoot})
	g.AddNode(Node{Kind: KindJump})
	return g
}

// AddNode appends a node and returns its index.
func (g *Graph) AddNode(n Node) int {
	g.Nodes = append(g.Nodes, n)
	g.Edges = append(g.Edges, nil)
	return len(g.Nodes) - 1
}

// AddEdge adds a precedence-weighted edge. Duplicate edges are collapsed,
// keeping the higher precedence.
func (g *Graph) AddEdge(from, to, precedence int) {
	for i, e := range g.Edges[from] {
		if e.To == to {
			if precedence > e.Precedence {
				g.Edges[from][i].Precedence = precedence
			}
			return
		}
	}
	g.Edges[from] = append(g.Edges[from], Edge{To: to, Precedence: precedence})
}
