package zvol

import (
	"testing"
	"time"
)

func TestRangeLockAllowsConcurrentReaders(t *testing.T) {
	rl := NewRangeLock()
	h1 := rl.Lock(0, 100, false)
	done := make(chan struct{})
	go func() {
		h2 := rl.Lock(50, 150, false)
		rl.Unlock(h2)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("overlapping readers should not block each other")
	}
	rl.Unlock(h1)
}

func TestRangeLockWriterExcludesReader(t *testing.T) {
	rl := NewRangeLock()
	w := rl.Lock(0, 100, true)

	acquired := make(chan struct{})
	go func() {
		h := rl.Lock(50, 60, false)
		rl.Unlock(h)
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatalf("reader acquired an overlapping range while a writer held it")
	case <-time.After(50 * time.Millisecond):
	}

	rl.Unlock(w)
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatalf("reader never unblocked after writer released")
	}
}

func TestRangeLockNonOverlappingRangesDoNotBlock(t *testing.T) {
	rl := NewRangeLock()
	w := rl.Lock(0, 50, true)
	done := make(chan struct{})
	go func() {
		h := rl.Lock(50, 100, true)
		rl.Unlock(h)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("disjoint ranges should not block each other")
	}
	rl.Unlock(w)
}

func TestLockOrderedIsDeadlockFreeBothDirections(t *testing.T) {
	a := newTestState("tank/a")
	b := newTestState("tank/b")

	done := make(chan struct{}, 2)
	go func() {
		sh, dh := LockOrdered(a, 0, b, 0, 512)
		time.Sleep(10 * time.Millisecond)
		a.ranges.Unlock(sh)
		b.ranges.Unlock(dh)
		done <- struct{}{}
	}()
	go func() {
		sh, dh := LockOrdered(b, 0, a, 0, 512)
		time.Sleep(10 * time.Millisecond)
		b.ranges.Unlock(sh)
		a.ranges.Unlock(dh)
		done <- struct{}{}
	}()

	timeout := time.After(2 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-timeout:
			t.Fatalf("two opposite-direction clones deadlocked")
		}
	}
}
