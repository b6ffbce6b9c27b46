package zvol

import (
	"fmt"
	"sync"

	"github.com/gobwas/glob"
	"github.com/kennygrant/sanitize"

	"github.com/openzfs-go/storageengine/pkg/zerrors"
)

// MinorCreator is the OS-integration seam zvol_create_minors/
// remove_minors/rename_minors drive (spec §1 places "OS-specific
// device-node plumbing" out of scope). MemMinors below is a reference,
// in-process implementation used by tests and storagectl's demo mode.
type MinorCreator interface {
	Create(nodeName string) error
	Remove(nodeName string) error
	Rename(oldName, newName string) error
}

// MemMinors tracks created minor-node names in memory.
type MemMinors struct {
	mu    sync.Mutex
	nodes map[string]bool
}

// NewMemMinors returns an empty in-process minor tracker.
func NewMemMinors() *MemMinors {
	return &MemMinors{nodes: make(map[string]bool)}
}

func (m *MemMinors) Create(nodeName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[nodeName] = true
	return nil
}

func (m *MemMinors) Remove(nodeName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes, nodeName)
	return nil
}

func (m *MemMinors) Rename(oldName, newName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.nodes[oldName] {
		return zerrors.ErrNotFound
	}
	delete(m.nodes, oldName)
	m.nodes[newName] = true
	return nil
}

// Exists reports whether nodeName is currently tracked, the reference
// substitute for find_by_name("pool/vol") returning non-NULL against an
// OS device list.
func (m *MemMinors) Exists(nodeName string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nodes[nodeName]
}

// minorNodeName sanitizes a dataset name into an OS-visible minor node
// name using github.com/kennygrant/sanitize's path-safe basename rules.
func minorNodeName(datasetName string) string {
	return sanitize.BaseName(datasetName)
}

// CreateMinors implements zvol_create_minors (spec §4.2.1): scans the
// name table for every ZVOL under namePattern (an exact name or a glob)
// and, for each match (and its visible snapshots, represented here by
// the caller passing their own names through the same pattern), asks
// minors to create a node.
func CreateMinors(t *Table, minors MinorCreator, namePattern string, inhibit bool) (created int, err error) {
	if inhibit {
		return 0, nil
	}
	g, err := glob.Compile(namePattern)
	if err != nil {
		return 0, zerrors.ErrInvalid
	}
	for _, s := range t.All() {
		if !g.Match(s.Name) {
			continue
		}
		if s.Removing() {
			continue
		}
		if err := minors.Create(minorNodeName(s.Name)); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

// RenameMinors implements zvol_rename_minors (spec §4.2.1): renames the
// minor of the state named oldPrefix, and of every descendant dataset
// beneath it, to the name with oldPrefix replaced by newPrefix. Matching
// is by exact name and "/"-separated prefix; no glob is applied.
func RenameMinors(t *Table, minors MinorCreator, oldPrefix, newPrefix string) (renamed int, err error) {
	for _, s := range t.All() {
		if !isDescendantOrSelf(s.Name, oldPrefix) {
			continue
		}
		newName := newPrefix + s.Name[len(oldPrefix):]
		if err := minors.Rename(minorNodeName(s.Name), minorNodeName(newName)); err != nil {
			return renamed, err
		}
		renamed++
	}
	return renamed, nil
}

// RemoveMinors implements zvol_remove_minors's two-phase protocol (spec
// §4.2.4). namePattern may be "" to remove every minor on pool shutdown.
// It returns ENOENT if nothing matched.
func RemoveMinors(t *Table, minors MinorCreator, namePattern string) error {
	var g glob.Glob
	if namePattern != "" {
		compiled, err := glob.Compile(namePattern)
		if err != nil {
			return zerrors.ErrInvalid
		}
		g = compiled
	}

	// Phase 1: collect under the global lock, marking ZVOL_REMOVING
	// before releasing any lock, so a concurrent lookup either observes
	// the removing flag or never sees the state at all. The suspend
	// lock is acquired with the same try-then-block sequence
	// FindByName uses (table.go's trylockSuspend/lockSuspend): never
	// block on suspendLock while holding s.mu, since Suspend (via
	// FindByName(LockWriter)) acquires them in the opposite order and
	// the two would deadlock.
	var toRemove []*State
	for _, s := range t.All() {
		if namePattern != "" && !g.Match(s.Name) {
			continue
		}
		s.mu.Lock()
		if s.removing {
			s.mu.Unlock()
			continue
		}
		if !s.suspendLock.TryLock() {
			s.mu.Unlock()
			s.suspendLock.Lock()
			s.mu.Lock()
			if s.removing {
				s.mu.Unlock()
				s.suspendLock.Unlock()
				continue
			}
		}
		s.removing = true
		s.suspendLock.Unlock()
		s.mu.Unlock()
		toRemove = append(toRemove, s)
	}
	if len(toRemove) == 0 {
		return zerrors.ErrNotFound
	}

	// Phase 2: no locks held on the list itself. For each collected
	// state, wait for open-count and suspend-count to both reach zero,
	// tear down the OS-side minor, then remove from the table and free.
	for _, s := range toRemove {
		s.mu.Lock()
		for s.openCnt > 0 || s.suspendN > 0 {
			s.removingCond.Wait()
		}
		s.mu.Unlock()

		if err := minors.Remove(minorNodeName(s.Name)); err != nil {
			return fmt.Errorf("remove minor %s: %w", s.Name, err)
		}
		t.Remove(s)
	}
	return nil
}
