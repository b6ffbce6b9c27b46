package zvol

import (
	"testing"
	"time"

	"github.com/openzfs-go/storageengine/pkg/zerrors"
)

func TestCreateMinorsMatchesGlobPattern(t *testing.T) {
	tbl := NewTable()
	tbl.Insert(newTestState("tank/vol1"))
	tbl.Insert(newTestState("tank/vol2"))
	tbl.Insert(newTestState("other/vol1"))
	minors := NewMemMinors()

	created, err := CreateMinors(tbl, minors, "tank/*", false)
	if err != nil {
		t.Fatalf("CreateMinors: %v", err)
	}
	if created != 2 {
		t.Fatalf("expected 2 minors created, got %d", created)
	}
	if !minors.Exists(minorNodeName("tank/vol1")) || !minors.Exists(minorNodeName("tank/vol2")) {
		t.Fatalf("expected minors for tank/vol1 and tank/vol2")
	}
	if minors.Exists(minorNodeName("other/vol1")) {
		t.Fatalf("non-matching dataset should not have a minor")
	}
}

func TestCreateMinorsInhibitIsNoop(t *testing.T) {
	tbl := NewTable()
	tbl.Insert(newTestState("tank/vol1"))
	minors := NewMemMinors()

	created, err := CreateMinors(tbl, minors, "tank/*", true)
	if err != nil {
		t.Fatalf("CreateMinors: %v", err)
	}
	if created != 0 {
		t.Fatalf("inhibited create should create nothing, got %d", created)
	}
}

func TestCreateMinorsSkipsRemovingStates(t *testing.T) {
	tbl := NewTable()
	s := newTestState("tank/vol1")
	s.mu.Lock()
	s.removing = true
	s.mu.Unlock()
	tbl.Insert(s)
	minors := NewMemMinors()

	created, err := CreateMinors(tbl, minors, "tank/*", false)
	if err != nil {
		t.Fatalf("CreateMinors: %v", err)
	}
	if created != 0 {
		t.Fatalf("a removing state should not get a minor, got %d created", created)
	}
}

func TestRenameMinorsRenamesDescendants(t *testing.T) {
	tbl := NewTable()
	tbl.Insert(newTestState("tank/vol1"))
	tbl.Insert(newTestState("tank/vol1/child"))
	minors := NewMemMinors()
	if _, err := CreateMinors(tbl, minors, "tank/*", false); err != nil {
		t.Fatalf("CreateMinors: %v", err)
	}

	renamed, err := RenameMinors(tbl, minors, "tank/vol1", "tank/vol2")
	if err != nil {
		t.Fatalf("RenameMinors: %v", err)
	}
	if renamed != 2 {
		t.Fatalf("expected 2 renamed, got %d", renamed)
	}
	if !minors.Exists(minorNodeName("tank/vol2")) {
		t.Fatalf("expected a minor for the renamed dataset")
	}
	if minors.Exists(minorNodeName("tank/vol1")) {
		t.Fatalf("old minor name should be gone after rename")
	}
}

func TestRemoveMinorsReturnsNotFoundWhenNothingMatches(t *testing.T) {
	tbl := NewTable()
	tbl.Insert(newTestState("tank/vol1"))
	minors := NewMemMinors()

	err := RemoveMinors(tbl, minors, "nothere/*")
	if err != zerrors.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRemoveMinorsWaitsForOpenCountToDrain(t *testing.T) {
	tbl := NewTable()
	s := newTestState("tank/vol1")
	tbl.Insert(s)
	minors := NewMemMinors()
	if _, err := CreateMinors(tbl, minors, "tank/*", false); err != nil {
		t.Fatalf("CreateMinors: %v", err)
	}

	if err := s.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}

	removeDone := make(chan error, 1)
	go func() {
		removeDone <- RemoveMinors(tbl, minors, "tank/vol1")
	}()

	select {
	case err := <-removeDone:
		t.Fatalf("RemoveMinors returned early (err=%v) while open", err)
	case <-time.After(50 * time.Millisecond):
	}

	s.Close()

	select {
	case err := <-removeDone:
		if err != nil {
			t.Fatalf("RemoveMinors: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("RemoveMinors never returned after Close")
	}
	if minors.Exists(minorNodeName("tank/vol1")) {
		t.Fatalf("minor should be gone after RemoveMinors completes")
	}
	if _, err := tbl.FindByName("tank/vol1", LockNone); err == nil {
		t.Fatalf("state should be removed from the name table")
	}
}

func TestRemoveMinorsMarksRemovingDuringPhaseOne(t *testing.T) {
	tbl := NewTable()
	s := newTestState("tank/vol1")
	tbl.Insert(s)
	minors := NewMemMinors()

	if err := RemoveMinors(tbl, minors, "tank/vol1"); err != nil {
		t.Fatalf("RemoveMinors: %v", err)
	}
	if !s.Removing() {
		t.Fatalf("state should remain flagged removing once collected")
	}
}
