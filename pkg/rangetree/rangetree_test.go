package rangetree

import "testing"

func TestAddMerge(t *testing.T) {
	tr := New()
	tr.Add(0, 100)
	tr.Add(200, 100)
	tr.Add(100, 100) // bridges the two into one [0,300)

	segs := tr.Segments()
	if len(segs) != 1 {
		t.Fatalf("expected 1 merged segment, got %d: %+v", len(segs), segs)
	}
	if segs[0] != (Segment{Start: 0, End: 300}) {
		t.Errorf("unexpected merged segment: %+v", segs[0])
	}
}

func TestRemoveSplits(t *testing.T) {
	tr := New()
	tr.Add(0, 1000)
	tr.Remove(400, 200) // carve [400,600) out of [0,1000)

	segs := tr.Segments()
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments after split, got %d: %+v", len(segs), segs)
	}
	if segs[0] != (Segment{Start: 0, End: 400}) || segs[1] != (Segment{Start: 600, End: 1000}) {
		t.Errorf("unexpected segments: %+v", segs)
	}
}

func TestContains(t *testing.T) {
	tr := New()
	tr.Add(1000, 500)

	if !tr.Contains(1000, 500) {
		t.Error("expected full containment to be true")
	}
	if !tr.Contains(1100, 100) {
		t.Error("expected partial containment to be true")
	}
	if tr.Contains(1400, 200) {
		t.Error("expected a range straddling the segment boundary to be false")
	}
	if tr.Contains(0, 10) {
		t.Error("expected a disjoint range to be false")
	}
}

func TestSwapIsolatesFreshTree(t *testing.T) {
	tr := New()
	tr.Add(0, 100)

	fresh := New()
	old := tr.Swap(fresh)

	if !old.Contains(0, 100) {
		t.Error("expected the swapped-out tree to retain the original contents")
	}
	if !tr.IsEmpty() {
		t.Error("expected the live tree to now hold the fresh tree's (empty) contents")
	}

	// Mutating the live tree must not leak back into the snapshot returned
	// by Swap — otherwise a concurrent free racing the walk of `old` could
	// corrupt the in-flight TRIM issue loop.
	tr.Add(5000, 10)
	if old.Contains(5000, 10) {
		t.Error("swapped-out snapshot must not observe later additions to the live tree")
	}
}

func TestSpace(t *testing.T) {
	tr := New()
	tr.Add(0, 100)
	tr.Add(1000, 250)
	if got := tr.Space(); got != 350 {
		t.Errorf("Space() = %d, want 350", got)
	}
}
