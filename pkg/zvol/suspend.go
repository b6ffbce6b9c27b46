package zvol

import (
	"github.com/openzfs-go/storageengine/pkg/zerrors"
)

// Suspend implements zvol_suspend (spec §4.2.3): takes the named
// volume's suspend lock as writer, waiting for any other suspend-lock
// holder, and returns with it held. Read, Write and Truncate do not take
// the suspend lock, so Suspend neither blocks new data I/O nor waits for
// in-flight data I/O. If the volume is open, the in-memory ZIL handle is
// torn down so a subsequent destructive operation (receive, rollback)
// sees no stale log state; the object-set handle itself stays live.
func Suspend(t *Table, name string) (*State, error) {
	s, err := t.FindByName(name, LockWriter)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if s.removing {
		s.suspendLock.Unlock()
		return nil, zerrors.ErrIO
	}

	s.suspendN++
	if s.openCnt > 0 {
		s.zil = nil // tear down in-memory ZIL handle; evict dirty buffers
	}
	// suspend lock stays held (writer) for the caller; state mutex is
	// released by the deferred Unlock above when Suspend returns, matching
	// "release state mutex, keep suspend lock held by caller."
	return s, nil
}

// Resume implements the other half of §4.2.3: re-initializes ZIL state,
// decrements the suspend refcount, and releases the suspend lock. If
// ZVOL_REMOVING was set while suspended, the removing condvar is
// broadcast so a blocked remove can proceed.
func Resume(s *State) {
	s.mu.Lock()
	if s.suspendN > 0 {
		s.suspendN--
	}
	s.zil = newZIL(s)
	if s.removing && s.suspendN == 0 && s.openCnt == 0 {
		s.removingCond.Broadcast()
	}
	s.mu.Unlock()
	s.suspendLock.Unlock()
}
