package zvol

import (
	"context"
	"testing"

	"github.com/openzfs-go/storageengine/pkg/zerrors"
)

func TestSetVolsizeRejectsZero(t *testing.T) {
	s := newTestState("tank/vol1")
	err := SetVolsize(context.Background(), s, 0)
	if err != zerrors.ErrInvalid {
		t.Fatalf("expected ErrInvalid for a zero size, got %v", err)
	}
}

func TestSetVolsizeRejectsNonBlockMultiple(t *testing.T) {
	s := newTestState("tank/vol1")
	err := SetVolsize(context.Background(), s, s.BlockSize+1)
	if err != zerrors.ErrInvalid {
		t.Fatalf("expected ErrInvalid for a non-block-multiple size, got %v", err)
	}
}

func TestSetVolsizeGrows(t *testing.T) {
	s := newTestState("tank/vol1")
	newSize := s.VolSize() + s.BlockSize
	if err := SetVolsize(context.Background(), s, newSize); err != nil {
		t.Fatalf("SetVolsize grow: %v", err)
	}
	if s.VolSize() != newSize {
		t.Fatalf("VolSize = %d, want %d", s.VolSize(), newSize)
	}
	if s.store.Size() != newSize {
		t.Fatalf("store Size = %d, want %d", s.store.Size(), newSize)
	}
}

func TestSetVolsizeShrinkFreesRange(t *testing.T) {
	s := newTestState("tank/vol1")
	if _, err := s.store.WriteAt(context.Background(), []byte{1, 2, 3, 4}, s.VolSize()-s.BlockSize); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	newSize := s.VolSize() - s.BlockSize
	if err := SetVolsize(context.Background(), s, newSize); err != nil {
		t.Fatalf("SetVolsize shrink: %v", err)
	}
	if s.VolSize() != newSize {
		t.Fatalf("VolSize = %d, want %d", s.VolSize(), newSize)
	}
	if s.store.Size() != newSize {
		t.Fatalf("store Size = %d, want %d", s.store.Size(), newSize)
	}
}

func TestSetVolsizeRejectsOnReadonly(t *testing.T) {
	s := newTestState("tank/vol1")
	s.mu.Lock()
	s.readonly = true
	s.mu.Unlock()

	err := SetVolsize(context.Background(), s, s.VolSize()+s.BlockSize)
	if err != zerrors.ErrReadOnly {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
}

func TestSetCommonUpdatesDescendants(t *testing.T) {
	tbl := NewTable()
	parent := newTestState("tank/vol1")
	child := newTestState("tank/vol1/child")
	other := newTestState("tank/vol2")
	tbl.Insert(parent)
	tbl.Insert(child)
	tbl.Insert(other)

	updated, err := SetCommon(tbl, "tank/vol1", "volmode", int(VolmodeNone), nil)
	if err != nil {
		t.Fatalf("SetCommon: %v", err)
	}
	if updated != 2 {
		t.Fatalf("expected 2 updated states, got %d", updated)
	}
	if parent.Volmode() != VolmodeNone || child.Volmode() != VolmodeNone {
		t.Fatalf("volmode not applied to parent/child")
	}
	if other.Volmode() == VolmodeNone {
		t.Fatalf("unrelated dataset should not be touched")
	}
}

func TestSetCommonRejectsUnknownProperty(t *testing.T) {
	tbl := NewTable()
	tbl.Insert(newTestState("tank/vol1"))

	_, err := SetCommon(tbl, "tank/vol1", "bogus", 0, nil)
	if err != zerrors.ErrInvalid {
		t.Fatalf("expected ErrInvalid for unknown property, got %v", err)
	}
}
