// Package pool declares the external collaborators the TRIM, ZVOL and
// block crypto/MAC engines consume but do not implement: the DMU/SPA pool
// substrate (metaslab load/enable/disable, per-leaf ZAP storage, txg sync)
// and a generic worker-pool (taskq) abstraction. Spec §1 explicitly places
// the metaslab allocator, the DMU transaction manager and the on-disk
// block-pointer format beyond these interfaces out of scope; this package
// is the seam.
//
// A reference, in-process implementation (MemSubstrate) is provided for
// tests and for the storagectl demo commands. It is not meant to be a real
// storage pool — there is no actual block device underneath it — but its
// behavior (load-before-enumerate, disable/enable nesting, atomic ms_trim
// swap, txg-gated persistence) matches the contract every engine in this
// module relies on.
package pool

import "context"

// Leaf is a single bottom-of-tree device that performs physical I/O.
type Leaf interface {
	GUID() uint64
	Ashift() uint
	Writable() bool
	Detached() bool
	Removing() bool
	TopLevel() TopLevelVdev

	// TrimZAP returns the per-leaf ZAP object TRIM state is persisted to
	// (spec §6.1). It is always non-nil; leaves that have never been
	// trimmed simply have no keys set yet.
	TrimZAP() ZAP

	// IssueTrim performs (or simulates) a physical TRIM I/O over
	// [offset, offset+length) and invokes done with the result once
	// complete. Implementations may complete synchronously or
	// asynchronously; callers never assume either.
	IssueTrim(ctx context.Context, offset, length int64, done func(err error))
}

// TopLevelVdev is a direct child of the pool's root vdev; it owns
// metaslabs and fans out to one or more leaves.
type TopLevelVdev interface {
	ID() int
	Metaslabs() []Metaslab
	Leaves() []Leaf
	Removing() bool
	Expanding() bool

	// Translate maps a logical segment of this top-level vdev onto the
	// physical byte ranges it occupies on leaf. For a single-disk or
	// striped vdev this is typically the identity (minus a fixed leaf
	// offset); for mirrored/raidz vdevs it fans out or re-stripes the
	// range. Returning a nil slice means "leaf does not participate in
	// this logical range."
	Translate(leaf Leaf, seg Segment) []Segment
}

// Segment is a half-open logical or physical byte range. It mirrors
// rangetree.Segment without importing it, so pool stays a leaf dependency
// with no upward imports.
type Segment struct {
	Start int64
	End   int64
}

// Metaslab is a contiguous allocation region of a top-level vdev (spec
// §3.2).
type Metaslab interface {
	ID() int
	Loaded() bool
	Load(ctx context.Context) error
	NeverWritten() bool

	// Disable/Enable implement the nested disabled counter: TRIM calls
	// Disable before enumerating a metaslab's free space and Enable once
	// every issued TRIM for that metaslab has drained. A non-zero
	// disabled count blocks new allocations in the real allocator; the
	// reference implementation only tracks the counter.
	Disable()
	Enable()
	DisabledCount() int32

	// Allocatable is the free range set (ms_allocatable); its contents
	// must only be read after Load has succeeded.
	Allocatable() RangeSet

	// SwapTrim atomically replaces the recently-freed range set
	// (ms_trim) with fresh and returns what was there before. Must be
	// called with the metaslab's lock held by the caller (Lock/Unlock
	// below).
	SwapTrim(fresh RangeSet) RangeSet

	Lock()
	Unlock()
}

// RangeSet is the minimal view of a rangetree.Tree that pool needs,
// expressed as an interface so pool does not import rangetree (and so a
// caller can swap in their own implementation in tests).
type RangeSet interface {
	Walk(fn func(start, end int64) bool)
	IsEmpty() bool
	Contains(start, size int64) bool
}

// ZAP is a small persistent key/value object, standing in for the pool's
// meta-object-set ZAP (spec §6.1, Glossary). Values are always uint64;
// that is sufficient for every key this module persists.
type ZAP interface {
	GetUint64(key string) (value uint64, ok bool, err error)
	SetUint64(key string, value uint64) error
}

// TxgSyncer gates persistence to the pool's transaction-group commit
// cadence. SyncTxg blocks until the next transaction group has been
// committed to stable storage; engines call it after scheduling a
// sync-time write (persisted TRIM progress, a ZIL commit) to know the
// write is now durable.
type TxgSyncer interface {
	CurrentTxg() uint64
	SyncTxg(ctx context.Context) error
}

// EventSink receives the one state-transition event + history-log line per
// transition that spec §6.3 requires of the TRIM and crypto engines.
type EventSink interface {
	Event(class string, fields map[string]interface{})
}

// BlockRef is an opaque reference to a physical block a clone operation
// can attach to a destination offset without copying bytes, standing in
// for a DMU block pointer (spec §1 places the on-disk block-pointer
// format out of scope; ZVOL only needs to pass these references through).
type BlockRef struct {
	Offset int64
	Length int64

	// opaque carries whatever the substrate needs to reattach this
	// physical block elsewhere; the ZVOL engine never inspects it.
	opaque interface{}
}

// ObjectStore is the opaque object-set + dnode handle spec §3.3 says a
// ZVOL state holds into the pool substrate: the data path a ZVOL reads,
// writes, truncates, prefetches and clones through.
type ObjectStore interface {
	GUID() uint64
	Size() int64

	// SetSize implements the grow/shrink half of zvol_set_volsize: growing
	// never touches existing bytes, shrinking frees everything beyond the
	// new size.
	SetSize(ctx context.Context, newSize int64) error

	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	WriteAt(ctx context.Context, p []byte, off int64) (int, error)

	// FreeRange releases the backing store for [off, off+length) without
	// changing Size; used by truncate-to-shorter and by delete (which also
	// triggers a TRIM in the ZVOL engine).
	FreeRange(ctx context.Context, off, length int64) error

	// Prefetch is the best-effort, fire-and-forget zvol_prefetch_bytes
	// call: it never blocks the caller and never surfaces an error.
	Prefetch(off, length int64)

	// DirtyInCurrentTxg reports whether any byte in [off, off+length) was
	// written in the transaction group that has not yet synced, the
	// signal zfs_bclone_wait_dirty checks (spec §4.2.6 step a).
	DirtyInCurrentTxg(off, length int64) bool

	// BlockRefsAt returns the physical block references backing
	// [off, off+length), for zvol_clone_range's source read.
	BlockRefsAt(ctx context.Context, off, length int64) ([]BlockRef, error)

	// CloneFrom attaches refs (previously obtained from another
	// ObjectStore's BlockRefsAt) at dstOff, implementing dmu_brt_clone: the
	// destination shares the source's physical blocks without copying.
	CloneFrom(ctx context.Context, dstOff int64, refs []BlockRef) error
}
