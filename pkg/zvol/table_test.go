package zvol

import (
	"testing"

	"github.com/google/uuid"

	"github.com/openzfs-go/storageengine/pkg/pool"
)

func newTestState(name string) *State {
	store := pool.NewMemObjectStore(1, 1<<20)
	return New(name, uuid.New(), 1<<20, 512, store)
}

func TestFindByNameReturnsInsertedState(t *testing.T) {
	tbl := NewTable()
	s := newTestState("tank/vol1")
	tbl.Insert(s)

	found, err := tbl.FindByName("tank/vol1", LockNone)
	if err != nil {
		t.Fatalf("FindByName: %v", err)
	}
	if found != s {
		t.Fatalf("FindByName returned a different state")
	}
	ReleaseFound(found, LockNone)
}

func TestFindByNameNotFoundForUnknownName(t *testing.T) {
	tbl := NewTable()
	tbl.Insert(newTestState("tank/vol1"))

	_, err := tbl.FindByName("tank/vol2", LockNone)
	if err == nil {
		t.Fatalf("expected an error for an unknown name")
	}
}

func TestFindByNameNotFoundAfterRemove(t *testing.T) {
	tbl := NewTable()
	s := newTestState("tank/vol1")
	tbl.Insert(s)
	tbl.Remove(s)

	_, err := tbl.FindByName("tank/vol1", LockNone)
	if err == nil {
		t.Fatalf("expected ENOENT after Remove")
	}
}

func TestFindByNameWriterLockExcludesReader(t *testing.T) {
	tbl := NewTable()
	s := newTestState("tank/vol1")
	tbl.Insert(s)

	found, err := tbl.FindByName("tank/vol1", LockWriter)
	if err != nil {
		t.Fatalf("FindByName: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		s2, err := tbl.FindByName("tank/vol1", LockReader)
		if err != nil {
			return
		}
		ReleaseFound(s2, LockReader)
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatalf("reader lock acquired while writer lock held")
	default:
	}

	ReleaseFound(found, LockWriter)
	<-acquired
}

func TestAllReturnsSnapshotCopy(t *testing.T) {
	tbl := NewTable()
	tbl.Insert(newTestState("tank/vol1"))
	tbl.Insert(newTestState("tank/vol2"))

	all := tbl.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 states, got %d", len(all))
	}

	tbl.Insert(newTestState("tank/vol3"))
	if len(all) != 2 {
		t.Fatalf("snapshot should not observe later inserts")
	}
}
