package scopegraph

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/mlade/weft/internal/model"
)

// maxStitchHops bounds forwarding hops per reference chain. Together with
// first-visit marking it guarantees termination on cyclic re-exports.
const maxStitchHops = 32

// FileGraph bundles one file's graph with its partial path set, the unit the
// cache stores and the stitcher consumes.
type FileGraph struct {
	File  string
	Graph *Graph
	Paths []PartialPath
}

// Resolution connects a reference node to the definition node it resolves
// to, possibly in another file.
type Resolution struct {
	File       string
	RefNode    int
	TargetFile string
	TargetNode int
	Kind       model.DepKind
}

// Stitch resolves every reference across the given file set by matching
// residual symbol stacks against the exposed and forwarding paths of all
// files. It works purely over the precomputed partial paths; no graph walk
// or parse happens here, so files can come straight from the cache.
//
// Ambiguous references yield one resolution per candidate unless a single
// candidate's accumulated precedence strictly dominates the rest.
func Stitch(ctx context.Context, files []*FileGraph, jobs int) ([]Resolution, error) {
	idx := newPathIndex(files)

	type job struct {
		fileIdx int
		path    PartialPath
	}
	var jobsList []job
	var complete []Resolution
	for fi, f := range files {
		for _, p := range f.Paths {
			switch p.Kind {
			case PathComplete:
				complete = append(complete, Resolution{
					File:       f.File,
					RefNode:    p.Start,
					TargetFile: f.File,
					TargetNode: p.End,
					Kind:       f.Graph.Nodes[p.Start].DepKind,
				})
			case PathPartial:
				jobsList = append(jobsList, job{fi, p})
			}
		}
	}

	results := make([][]Resolution, len(jobsList))
	g, gctx := errgroup.WithContext(ctx)
	if jobs > 0 {
		g.SetLimit(jobs)
	}
	for i, j := range jobsList {
		i, j := i, j
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			src := files[j.fileIdx]
			for _, c := range idx.resolve(j.path) {
				results[i] = append(results[i], Resolution{
					File:       src.File,
					RefNode:    j.path.Start,
					TargetFile: files[c.fileIdx].File,
					TargetNode: c.node,
					Kind:       src.Graph.Nodes[j.path.Start].DepKind,
				})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// A reference can reach the same definition along several paths (a
	// complete in-file path and a chain through the boundary, say); report
	// each (reference, definition) pair once.
	seen := make(map[Resolution]bool)
	out := make([]Resolution, 0, len(complete))
	for _, r := range complete {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	for _, rs := range results {
		for _, r := range rs {
			if !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
	}
	return out, nil
}

// pathIndex partitions every file's exposed and forwarding paths by their
// first precondition symbol.
type pathIndex struct {
	files []*FileGraph
	byPre []map[string][]int // per file: first pre symbol -> path indices
}

func newPathIndex(files []*FileGraph) *pathIndex {
	idx := &pathIndex{files: files, byPre: make([]map[string][]int, len(files))}
	for fi, f := range files {
		m := make(map[string][]int)
		for pi, p := range f.Paths {
			if (p.Kind == PathExposed || p.Kind == PathForward) && len(p.Pre) > 0 {
				m[p.Pre[0]] = append(m[p.Pre[0]], pi)
			}
		}
		idx.byPre[fi] = m
	}
	return idx
}

type candidate struct {
	fileIdx int
	node    int
	prec    int
}

// resolve runs one reference chain to its fixed point and applies precedence
// domination.
func (idx *pathIndex) resolve(ref PartialPath) []candidate {
	var cands []candidate
	visited := make(map[[2]int]bool)

	var explore func(residual []string, prec, hops int)
	explore = func(residual []string, prec, hops int) {
		if len(residual) == 0 {
			return
		}
		for fi := range idx.files {
			for _, pi := range idx.byPre[fi][residual[0]] {
				p := idx.files[fi].Paths[pi]
				switch p.Kind {
				case PathExposed:
					if symbolsEqual(p.Pre, residual) {
						cands = append(cands, candidate{fi, p.End, prec + p.Precedence})
					}
				case PathForward:
					if hops >= maxStitchHops || visited[[2]int{fi, pi}] {
						continue
					}
					if !symbolsPrefix(p.Pre, residual) {
						continue
					}
					visited[[2]int{fi, pi}] = true
					next := append(p.Residual(), residual[len(p.Pre):]...)
					explore(next, prec+p.Precedence, hops+1)
				}
			}
		}
	}
	explore(ref.Residual(), ref.Precedence, 0)

	// Deduplicate targets, keeping the best precedence for each.
	best := make(map[[2]int]int)
	var order [][2]int
	for _, c := range cands {
		k := [2]int{c.fileIdx, c.node}
		if p, ok := best[k]; !ok {
			best[k] = c.prec
			order = append(order, k)
		} else if c.prec > p {
			best[k] = c.prec
		}
	}
	uniq := make([]candidate, 0, len(order))
	for _, k := range order {
		uniq = append(uniq, candidate{k[0], k[1], best[k]})
	}

	if dom := dominant(uniq); dom != nil {
		return []candidate{*dom}
	}
	sort.Slice(uniq, func(i, j int) bool {
		if uniq[i].fileIdx != uniq[j].fileIdx {
			return uniq[i].fileIdx < uniq[j].fileIdx
		}
		return uniq[i].node < uniq[j].node
	})
	return uniq
}

// dominant returns the single candidate whose precedence strictly exceeds
// every other's, or nil.
func dominant(cands []candidate) *candidate {
	if len(cands) < 2 {
		if len(cands) == 1 {
			return &cands[0]
		}
		return nil
	}
	bi := 0
	for i := 1; i < len(cands); i++ {
		if cands[i].prec > cands[bi].prec {
			bi = i
		}
	}
	for i, c := range cands {
		if i != bi && c.prec == cands[bi].prec {
			return nil
		}
	}
	return &cands[bi]
}

func symbolsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	return symbolsPrefix(a, b)
}

func symbolsPrefix(prefix, full []string) bool {
	if len(prefix) > len(full) {
		return false
	}
	for i, s := range prefix {
		if full[i] != s {
			return false
		}
	}
	return true
}
