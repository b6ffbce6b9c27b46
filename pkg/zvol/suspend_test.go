package zvol

import (
	"testing"
)

func TestSuspendResumeRoundTrip(t *testing.T) {
	tbl := NewTable()
	s := newTestState("tank/vol1")
	tbl.Insert(s)

	suspended, err := Suspend(tbl, "tank/vol1")
	if err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if suspended.OpenCount() != 0 {
		t.Fatalf("open count should be untouched by suspend")
	}

	Resume(suspended)

	// A writer lock should be obtainable again after Resume released it.
	found, err := tbl.FindByName("tank/vol1", LockWriter)
	if err != nil {
		t.Fatalf("FindByName after resume: %v", err)
	}
	ReleaseFound(found, LockWriter)
}

func TestSuspendRejectsRemovingState(t *testing.T) {
	tbl := NewTable()
	s := newTestState("tank/vol1")
	tbl.Insert(s)

	s.mu.Lock()
	s.removing = true
	s.mu.Unlock()

	_, err := Suspend(tbl, "tank/vol1")
	if err == nil {
		t.Fatalf("expected an error suspending a removing state")
	}

	// The suspend lock must have been released on the error path, or a
	// subsequent writer lookup would hang.
	found, err := tbl.FindByName("tank/vol1", LockWriter)
	if err != nil {
		t.Fatalf("FindByName after failed suspend: %v", err)
	}
	ReleaseFound(found, LockWriter)
}

func TestSuspendTearsDownZILWhileOpen(t *testing.T) {
	tbl := NewTable()
	s := newTestState("tank/vol1")
	tbl.Insert(s)

	if err := s.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}

	s.mu.Lock()
	s.zil = newZIL(s)
	s.zil.LogTruncate(0, 1)
	s.mu.Unlock()

	suspended, err := Suspend(tbl, "tank/vol1")
	if err != nil {
		t.Fatalf("Suspend: %v", err)
	}

	suspended.mu.Lock()
	zil := suspended.zil
	suspended.mu.Unlock()
	if zil != nil {
		t.Fatalf("ZIL should be torn down by suspend while still open")
	}

	Resume(suspended)
	suspended.mu.Lock()
	zil = suspended.zil
	suspended.mu.Unlock()
	if zil == nil {
		t.Fatalf("Resume should reinitialize the ZIL handle")
	}
}
