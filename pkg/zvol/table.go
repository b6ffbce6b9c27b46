package zvol

import (
	"sync"

	"github.com/openzfs-go/storageengine/pkg/zerrors"
)

// LockMode selects how FindByName acquires a matched state's suspend
// lock (spec §4.2.2).
type LockMode int

const (
	LockNone LockMode = iota
	LockReader
	LockWriter
)

const numBuckets = 256

// Table is the ZVOL name table (spec §3.3, §4.2.2): a list (slice) of
// every known state protected by a reader-writer lock, indexed by a
// fixed-size hash table keyed on the truncated name hash for O(1)
// average lookup.
type Table struct {
	mu      sync.RWMutex
	list    []*State
	buckets [numBuckets][]*State
}

// NewTable returns an empty name table.
func NewTable() *Table {
	return &Table{}
}

func bucketOf(hash uint64) uint64 { return hash % numBuckets }

// Insert adds a state to both indexes. Callers insert only states that
// have already been given a stable Name/Hash (spec §3.3 lifecycle:
// "created → inserted in name table → accepts I/O").
func (t *Table) Insert(s *State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.list = append(t.list, s)
	b := bucketOf(s.Hash)
	t.buckets[b] = append(t.buckets[b], s)
}

// Remove deletes a state from both indexes. Callers must only call this
// after the two-phase removal protocol (minors.go's RemoveMinors) has drained the
// state's open-count and suspend-count to zero.
func (t *Table) Remove(s *State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, e := range t.list {
		if e == s {
			t.list = append(t.list[:i], t.list[i+1:]...)
			break
		}
	}
	b := bucketOf(s.Hash)
	bucket := t.buckets[b]
	for i, e := range bucket {
		if e == s {
			t.buckets[b] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
}

// All returns a snapshot of every state currently inserted, for
// iteration by remove/rename/create-minors scans.
func (t *Table) All() []*State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*State, len(t.list))
	copy(out, t.list)
	return out
}

// FindByName implements find_by_name (spec §4.2.2): acquires the global
// lock for read, linearly scans the hash bucket, and on a name match
// takes the state's suspend lock per mode using the explicit two-step
// try-then-block sequence that avoids inverting the suspend→state
// acquisition order. On success it returns with the suspend lock (per
// mode) and the state mutex both held; the caller must release both
// (ReleaseFound) when done.
func (t *Table) FindByName(name string, mode LockMode) (*State, error) {
	hash := NameHash(name)

	t.mu.RLock()
	bucket := t.buckets[bucketOf(hash)]
	var found *State
	for _, s := range bucket {
		if s.Hash != hash || s.Name != name {
			continue
		}
		s.mu.Lock()
		found = s
		break
	}
	t.mu.RUnlock()

	if found == nil {
		return nil, zerrors.ErrNotFound
	}
	if mode == LockNone {
		return found, nil
	}

	if !trylockSuspend(found, mode) {
		found.mu.Unlock()
		lockSuspend(found, mode)
		found.mu.Lock()
	}
	return found, nil
}

func trylockSuspend(s *State, mode LockMode) bool {
	if mode == LockWriter {
		return s.suspendLock.TryLock()
	}
	return s.suspendLock.TryRLock()
}

func lockSuspend(s *State, mode LockMode) {
	if mode == LockWriter {
		s.suspendLock.Lock()
		return
	}
	s.suspendLock.RLock()
}

// ReleaseFound unlocks the state+suspend locks FindByName returned with,
// per the mode it was acquired under.
func ReleaseFound(s *State, mode LockMode) {
	s.mu.Unlock()
	if mode == LockNone {
		return
	}
	if mode == LockWriter {
		s.suspendLock.Unlock()
		return
	}
	s.suspendLock.RUnlock()
}
