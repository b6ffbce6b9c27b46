// Package zvol implements the block-device personality layered over a
// pooled object store (spec §3.3, §4.2): a name table of exported
// volumes, suspend/resume for destructive dataset operations, two-phase
// minor-node teardown, ZIL-backed write/truncate/clone replay, and
// cross-device block cloning. It consumes pkg/pool's ObjectStore for
// data I/O and pkg/trim to TRIM the range freed when a volume shrinks.
// It does not use pkg/zcrypt: data is stored as the ObjectStore
// receives it.
package zvol

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openzfs-go/storageengine/pkg/pool"
	"github.com/openzfs-go/storageengine/pkg/trim"
	"github.com/openzfs-go/storageengine/pkg/zerrors"
)

// Volmode selects how (or whether) a ZVOL's OS-visible minor is created
// (§6.4 zvol_volmode).
type Volmode int

const (
	VolmodeDefault Volmode = iota
	VolmodeNone
	VolmodeGeom
	VolmodeDev
)

func (v Volmode) String() string {
	switch v {
	case VolmodeNone:
		return "none"
	case VolmodeGeom:
		return "geom"
	case VolmodeDev:
		return "dev"
	default:
		return "default"
	}
}

// Snapdev selects whether a ZVOL's snapshots get their own minor.
type Snapdev int

const (
	SnapdevHidden Snapdev = iota
	SnapdevVisible
)

// State is one exported volume (spec §3.3). The zero value is not
// usable; build one with New.
type State struct {
	Name      string
	Hash      uint64
	GUID      uuid.UUID
	BlockSize int64

	mu sync.Mutex // state lock: guards the fields below

	volSize  int64
	openCnt  int32
	suspendN int32
	removing bool
	readonly bool
	volmode  Volmode
	snapdev  Snapdev
	threaded bool

	suspendLock sync.RWMutex

	removingCond *sync.Cond
	ioDoneCond   *sync.Cond

	ranges *RangeLock
	zil    *ZIL
	store  pool.ObjectStore

	// TrimLeaves is the set of leaves backing this ZVOL's top-level vdev,
	// used by SetVolsize to issue a synchronous trim_simple over freed
	// space (spec §4.1.1); nil if there is no TRIM-capable vdev behind it.
	TrimLeaves []pool.Leaf

	hist *trim.History
}

// New builds a State for a freshly opened dataset and inserts no entry
// into any table; callers add it via Table.Insert.
func New(name string, guid uuid.UUID, volSize, blockSize int64, store pool.ObjectStore) *State {
	s := &State{
		Name:      name,
		Hash:      NameHash(name),
		GUID:      guid,
		BlockSize: blockSize,
		volSize:   volSize,
		ranges:    NewRangeLock(),
		store:     store,
		hist:      trim.NewHistory(64 * 1024),
	}
	s.removingCond = sync.NewCond(&s.mu)
	s.ioDoneCond = sync.NewCond(&s.mu)
	return s
}

// VolSize returns the current volume size in bytes.
func (s *State) VolSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volSize
}

// OpenCount returns the current open-reference count.
func (s *State) OpenCount() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openCnt
}

// Open increments the open-reference count, failing if the state is
// mid-removal.
func (s *State) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removing {
		return zerrors.ErrNoSuchDevice
	}
	s.openCnt++
	return nil
}

// Close decrements the open-reference count and, if a removal is
// waiting on it reaching zero, wakes it.
func (s *State) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openCnt > 0 {
		s.openCnt--
	}
	if s.openCnt == 0 && s.suspendN == 0 {
		s.removingCond.Broadcast()
	}
}

// Removing reports whether ZVOL_REMOVING is set.
func (s *State) Removing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removing
}

func (s *State) Readonly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readonly
}

func (s *State) Volmode() Volmode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volmode
}

func (s *State) Snapdev() Snapdev {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapdev
}

// Store returns the object-set/dnode handle this ZVOL reads and writes
// through.
func (s *State) Store() pool.ObjectStore { return s.store }

// record appends one history line and emits an event, mirroring the
// one-line-per-transition discipline pkg/trim uses for leaf state (§6.3).
func (s *State) record(events pool.EventSink, class string, fields map[string]interface{}) {
	if s.hist != nil {
		s.hist.Append(time.Now(), class)
	}
	if events != nil {
		events.Event(class, fields)
	}
}
