package model

import "sort"

// intervalTable maps half-open [start, end) ranges to small integer values
// with binary-search lookup. Inserting an interval that overlaps existing
// ones overrides the overlapped portion: the older intervals are trimmed to
// their uncovered remainders. Inserting parents before children therefore
// leaves the innermost entity owning every position.
type intervalTable struct {
	starts []uint32
	ends   []uint32
	vals   []int
}

// get returns the value covering pos, if any.
func (t *intervalTable) get(pos uint32) (int, bool) {
	// First interval with end > pos.
	i := sort.Search(len(t.ends), func(i int) bool { return t.ends[i] > pos })
	if i < len(t.starts) && t.starts[i] <= pos {
		return t.vals[i], true
	}
	return 0, false
}

// insert maps [start, end) to val, trimming or replacing anything it covers.
// Empty intervals are ignored.
func (t *intervalTable) insert(start, end uint32, val int) {
	if start >= end {
		return
	}
	// Overlapping window [i, j).
	i := sort.Search(len(t.ends), func(i int) bool { return t.ends[i] > start })
	j := sort.Search(len(t.starts), func(j int) bool { return t.starts[j] >= end })

	type iv struct {
		start, end uint32
		val        int
	}
	repl := make([]iv, 0, 3)
	if i < j && t.starts[i] < start {
		repl = append(repl, iv{t.starts[i], start, t.vals[i]})
	}
	repl = append(repl, iv{start, end, val})
	if i < j && t.ends[j-1] > end {
		repl = append(repl, iv{end, t.ends[j-1], t.vals[j-1]})
	}

	t.starts = spliceU32(t.starts, i, j, repl, func(v iv) uint32 { return v.start })
	t.ends = spliceU32(t.ends, i, j, repl, func(v iv) uint32 { return v.end })
	t.vals = spliceInt(t.vals, i, j, repl, func(v iv) int { return v.val })
}

func spliceU32[T any](s []uint32, i, j int, repl []T, f func(T) uint32) []uint32 {
	out := make([]uint32, 0, len(s)-(j-i)+len(repl))
	out = append(out, s[:i]...)
	for _, r := range repl {
		out = append(out, f(r))
	}
	return append(out, s[j:]...)
}

func spliceInt[T any](s []int, i, j int, repl []T, f func(T) int) []int {
	out := make([]int, 0, len(s)-(j-i)+len(repl))
	out = append(out, s[:i]...)
	for _, r := range repl {
		out = append(out, f(r))
	}
	return append(out, s[j:]...)
}
