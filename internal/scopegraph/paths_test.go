package scopegraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlade/weft/internal/model"
)

// exportingGraph models a file that exposes definition X under symbol P:
// root -> pop P -> scope -> pop X(def).
func exportingGraph(defPrec int) *Graph {
	g := NewGraph()
	scope := g.AddNode(Node{Kind: KindScope})
	g.AddEdge(scope, RootIndex, 0)
	exp := g.AddNode(Node{Kind: KindPop, Symbol: "P"})
	g.AddEdge(RootIndex, exp, 0)
	g.AddEdge(exp, scope, 0)
	def := g.AddNode(Node{Kind: KindPop, Symbol: "X", IsDefinition: true, Span: model.Span{StartByte: 5, EndByte: 6}})
	g.AddEdge(scope, def, defPrec)
	return g
}

// referencingGraph models a file referencing P.X: the reference pushes X
// then P and climbs to the root.
func referencingGraph(first, second string) *Graph {
	g := NewGraph()
	scope := g.AddNode(Node{Kind: KindScope})
	g.AddEdge(scope, RootIndex, 0)
	head := g.AddNode(Node{Kind: KindPush, Symbol: second, IsReference: true, DepKind: model.DepUse, Span: model.Span{StartByte: 1, EndByte: 2}})
	tail := g.AddNode(Node{Kind: KindPush, Symbol: first})
	g.AddEdge(head, tail, 0)
	g.AddEdge(tail, scope, 0)
	return g
}

func pathsOfKind(paths []PartialPath, kind PathKind) []PartialPath {
	var out []PartialPath
	for _, p := range paths {
		if p.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}

func TestComputePathsExposed(t *testing.T) {
	t.Parallel()

	paths := ComputePaths(exportingGraph(0))
	exposed := pathsOfKind(paths, PathExposed)
	require.Len(t, exposed, 1)
	assert.Equal(t, []string{"P", "X"}, exposed[0].Pre)
	assert.Equal(t, RootIndex, exposed[0].Start)
}

func TestComputePathsPartialResidual(t *testing.T) {
	t.Parallel()

	paths := ComputePaths(referencingGraph("P", "X"))
	partial := pathsOfKind(paths, PathPartial)
	require.Len(t, partial, 1)
	// Post is bottom-first; the residual is in resolution order.
	assert.Equal(t, []string{"X", "P"}, partial[0].Post)
	assert.Equal(t, []string{"P", "X"}, partial[0].Residual())
}

func TestComputePathsCompleteWithinFile(t *testing.T) {
	t.Parallel()

	g := NewGraph()
	scope := g.AddNode(Node{Kind: KindScope})
	g.AddEdge(scope, RootIndex, 0)
	def := g.AddNode(Node{Kind: KindPop, Symbol: "f", IsDefinition: true})
	g.AddEdge(scope, def, 0)
	ref := g.AddNode(Node{Kind: KindPush, Symbol: "f", IsReference: true, DepKind: model.DepCall})
	g.AddEdge(ref, scope, 0)

	paths := ComputePaths(g)
	complete := pathsOfKind(paths, PathComplete)
	require.Len(t, complete, 1)
	assert.Equal(t, ref, complete[0].Start)
	assert.Equal(t, def, complete[0].End)
}

func TestComputePathsForwarding(t *testing.T) {
	t.Parallel()

	// root -> pop Q -> push P -> root: anything asked for as Q.* is
	// forwarded as P.*.
	g := NewGraph()
	pop := g.AddNode(Node{Kind: KindPop, Symbol: "Q"})
	g.AddEdge(RootIndex, pop, 0)
	push := g.AddNode(Node{Kind: KindPush, Symbol: "P"})
	g.AddEdge(pop, push, 0)
	g.AddEdge(push, RootIndex, 0)

	paths := ComputePaths(g)
	fwd := pathsOfKind(paths, PathForward)
	require.Len(t, fwd, 1)
	assert.Equal(t, []string{"Q"}, fwd[0].Pre)
	assert.Equal(t, []string{"P"}, fwd[0].Post)
}

func TestComputePathsDeterministic(t *testing.T) {
	t.Parallel()

	g := exportingGraph(0)
	first := ComputePaths(g)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ComputePaths(g))
	}
}

func TestComputePathsMismatchedPopDies(t *testing.T) {
	t.Parallel()

	// Reference to Y cannot pass a pop of X.
	g := NewGraph()
	scope := g.AddNode(Node{Kind: KindScope})
	g.AddEdge(scope, RootIndex, 0)
	alias := g.AddNode(Node{Kind: KindPop, Symbol: "X"})
	g.AddEdge(scope, alias, 0)
	ref := g.AddNode(Node{Kind: KindPush, Symbol: "Y", IsReference: true})
	g.AddEdge(ref, scope, 0)

	paths := ComputePaths(g)
	partial := pathsOfKind(paths, PathPartial)
	require.Len(t, partial, 1)
	assert.Equal(t, []string{"Y"}, partial[0].Residual())
	assert.Empty(t, pathsOfKind(paths, PathComplete))
}
