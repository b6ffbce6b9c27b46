// Package rangetree implements the ordered, non-overlapping segment sets
// that back a metaslab's ms_allocatable and ms_trim trees (spec §3.2). It is
// a reference implementation of the "free range set" / "recently freed
// range set" collaborator contract; callers treat it as an abstract
// interval set and never depend on the underlying structure.
//
// No example repo in this module's corpus ships an interval/range-tree
// library, and the standard library has none either, so this is built from
// first principles as a sorted, merge-on-insert slice of half-open [Start,
// End) segments. Contains is a binary search, O(log n); Add and Remove
// rebuild the slice, O(n), which is more than adequate for the segment
// counts a metaslab produces.
package rangetree

import "sort"

// Segment is a half-open byte range [Start, End).
type Segment struct {
	Start int64
	End   int64
}

// Size returns the segment's length in bytes.
func (s Segment) Size() int64 {
	return s.End - s.Start
}

// Tree is an ordered, non-overlapping, non-adjacent set of Segments.
type Tree struct {
	segs []Segment
}

// New returns an empty Tree.
func New() *Tree {
	return &Tree{}
}

// Segments returns the tree's segments in ascending order. The slice is
// owned by the caller; mutating it does not affect the tree.
func (t *Tree) Segments() []Segment {
	out := make([]Segment, len(t.segs))
	copy(out, t.segs)
	return out
}

// IsEmpty reports whether the tree has no segments.
func (t *Tree) IsEmpty() bool {
	return len(t.segs) == 0
}

// Space returns the sum of every segment's length.
func (t *Tree) Space() int64 {
	var total int64
	for _, s := range t.segs {
		total += s.Size()
	}
	return total
}

func (t *Tree) search(offset int64) int {
	return sort.Search(len(t.segs), func(i int) bool {
		return t.segs[i].End >= offset
	})
}

// Add inserts [start, start+size) into the tree, merging with any
// overlapping or adjacent segments.
func (t *Tree) Add(start, size int64) {
	if size <= 0 {
		return
	}
	end := start + size
	i := t.search(start)

	j := i
	for j < len(t.segs) && t.segs[j].Start <= end {
		if t.segs[j].Start < start {
			start = t.segs[j].Start
		}
		if t.segs[j].End > end {
			end = t.segs[j].End
		}
		j++
	}

	merged := Segment{Start: start, End: end}
	t.segs = append(t.segs[:i], append([]Segment{merged}, t.segs[j:]...)...)
}

// Remove deletes [start, start+size) from the tree, splitting any segment
// that only partially overlaps it.
func (t *Tree) Remove(start, size int64) {
	if size <= 0 {
		return
	}
	end := start + size

	var out []Segment
	for _, s := range t.segs {
		if s.End <= start || s.Start >= end {
			out = append(out, s)
			continue
		}
		if s.Start < start {
			out = append(out, Segment{Start: s.Start, End: start})
		}
		if s.End > end {
			out = append(out, Segment{Start: end, End: s.End})
		}
	}
	t.segs = out
}

// Contains reports whether [start, start+size) is entirely covered by a
// single segment in the tree. Partial-trim containment (spec invariant #2,
// §8) is checked with this method.
func (t *Tree) Contains(start, size int64) bool {
	if size <= 0 {
		return true
	}
	end := start + size
	i := t.search(start)
	if i >= len(t.segs) {
		return false
	}
	return t.segs[i].Start <= start && t.segs[i].End >= end
}

// Clear empties the tree.
func (t *Tree) Clear() {
	t.segs = nil
}

// Swap atomically replaces the tree's contents with fresh and returns what
// was previously held. Used by automatic TRIM to swap out ms_trim so
// concurrently-freed blocks accumulate into a new tree while the old one is
// walked (spec §4.1.4 step 2). The caller is responsible for whatever
// external synchronization makes "atomic" true for their use case (e.g.
// holding the metaslab lock across the call).
func (t *Tree) Swap(fresh *Tree) *Tree {
	old := &Tree{segs: t.segs}
	if fresh == nil {
		t.segs = nil
	} else {
		t.segs = fresh.segs
	}
	return old
}

// Walk calls fn for every segment in ascending order. Iteration stops early
// if fn returns false.
func (t *Tree) Walk(fn func(Segment) bool) {
	for _, s := range t.segs {
		if !fn(s) {
			return
		}
	}
}
