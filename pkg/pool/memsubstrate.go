package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/openzfs-go/storageengine/pkg/zerrors"
)

// MemSubstrate is a reference, in-process Pool Substrate. It backs the
// package's tests and the storagectl demo commands; it is not a real
// storage pool, but every engine in this module only ever talks to the
// interfaces above, so swapping in a real DMU/SPA binding later is a matter
// of implementing this file's counterpart against it.
type MemSubstrate struct {
	mu      sync.Mutex
	txg     uint64
	leaves  map[uint64]*MemLeaf
	tlvs    []*MemTopLevelVdev
	objSets []*MemObjectStore
}

// NewMemSubstrate returns an empty substrate. Callers build up leaves and
// top-level vdevs with AddTopLevelVdev / AddLeaf before handing the
// substrate to an engine.
func NewMemSubstrate() *MemSubstrate {
	return &MemSubstrate{
		leaves: make(map[uint64]*MemLeaf),
	}
}

// CurrentTxg implements TxgSyncer.
func (s *MemSubstrate) CurrentTxg() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txg
}

// SyncTxg implements TxgSyncer. The reference implementation treats every
// call as an immediate, synchronous commit: there is no real disk to wait
// on, so the only useful thing to model is the monotonic counter callers
// key their "has this been committed yet" checks against.
func (s *MemSubstrate) SyncTxg(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.txg++
	objSets := append([]*MemObjectStore(nil), s.objSets...)
	s.mu.Unlock()

	for _, o := range objSets {
		o.advanceEpoch()
	}
	return nil
}

// AddObjectStore registers an object store so its dirty-tracking epoch
// advances on every SyncTxg, the same way a real transaction-group sync
// clears a dnode's dirty-record list.
func (s *MemSubstrate) AddObjectStore(o *MemObjectStore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objSets = append(s.objSets, o)
}

// AddLeaf registers a leaf with the substrate.
func (s *MemSubstrate) AddLeaf(l *MemLeaf) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaves[l.guid] = l
}

// Leaf looks a leaf up by GUID.
func (s *MemSubstrate) Leaf(guid uint64) *MemLeaf {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaves[guid]
}

// AddTopLevelVdev registers a top-level vdev with the substrate, so
// autotrim demos can look it up by id rather than every caller threading
// its own reference through.
func (s *MemSubstrate) AddTopLevelVdev(t *MemTopLevelVdev) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tlvs = append(s.tlvs, t)
}

// TopLevelVdev looks a top-level vdev up by id.
func (s *MemSubstrate) TopLevelVdev(id int) *MemTopLevelVdev {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tlvs {
		if t.ID() == id {
			return t
		}
	}
	return nil
}

// MemZAP is a ZAP backed by an in-memory goleveldb instance: a real
// embedded key/value engine standing in for the pool's meta-object-set ZAP,
// without touching the filesystem in tests.
type MemZAP struct {
	mu     sync.Mutex
	prefix string
	db     *leveldb.DB
}

// NewMemZAP wraps db (see OpenMemLevelDB) as a ZAP. prefix namespaces
// keys so one *leveldb.DB can back several leaves' ZAP objects.
func NewMemZAP(db *leveldb.DB, prefix string) *MemZAP {
	return &MemZAP{prefix: prefix, db: db}
}

// OpenMemLevelDB opens a goleveldb instance against an in-memory storage
// backend, suitable for sharing across every ZAP a test or demo needs.
func OpenMemLevelDB() (*leveldb.DB, error) {
	return leveldb.Open(storage.NewMemStorage(), nil)
}

func (z *MemZAP) key(k string) []byte {
	return []byte(z.prefix + "/" + k)
}

// GetUint64 implements ZAP.
func (z *MemZAP) GetUint64(key string) (uint64, bool, error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	b, err := z.db.Get(z.key(key), nil)
	if err == leveldb.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return decodeUint64(b), true, nil
}

// SetUint64 implements ZAP.
func (z *MemZAP) SetUint64(key string, value uint64) error {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.db.Put(z.key(key), encodeUint64(value), nil)
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

func decodeUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8 && i < len(b); i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

// MemLeaf is a reference Leaf. IssueTrim simulates physical I/O with a
// short, cancellable sleep instead of a real device write.
type MemLeaf struct {
	guid      uint64
	ashift    uint
	writable  int32 // atomic bool
	detached  int32
	removing  int32
	zap       ZAP
	topLevel  *MemTopLevelVdev
	ioLatency time.Duration

	mu          sync.Mutex
	failNext    bool
	failForever bool
}

// NewMemLeaf builds a leaf with the given GUID and ashift, writable by
// default.
func NewMemLeaf(guid uint64, ashift uint, zap ZAP) *MemLeaf {
	l := &MemLeaf{guid: guid, ashift: ashift, zap: zap, ioLatency: time.Millisecond}
	atomic.StoreInt32(&l.writable, 1)
	return l
}

func (l *MemLeaf) GUID() uint64         { return l.guid }
func (l *MemLeaf) Ashift() uint         { return l.ashift }
func (l *MemLeaf) Writable() bool       { return atomic.LoadInt32(&l.writable) != 0 }
func (l *MemLeaf) Detached() bool       { return atomic.LoadInt32(&l.detached) != 0 }
func (l *MemLeaf) Removing() bool       { return atomic.LoadInt32(&l.removing) != 0 }
func (l *MemLeaf) TopLevel() TopLevelVdev {
	if l.topLevel == nil {
		return nil
	}
	return l.topLevel
}
func (l *MemLeaf) TrimZAP() ZAP { return l.zap }

// SetWritable flips the writability flag, simulating a device going away.
func (l *MemLeaf) SetWritable(w bool) {
	var v int32
	if w {
		v = 1
	}
	atomic.StoreInt32(&l.writable, v)
}

// SetDetached marks the leaf detached.
func (l *MemLeaf) SetDetached(d bool) {
	var v int32
	if d {
		v = 1
	}
	atomic.StoreInt32(&l.detached, v)
}

// SetIOLatency overrides the simulated per-I/O delay IssueTrim waits
// before completing; tests use this to widen or narrow the window during
// which a TRIM run is observably in flight.
func (l *MemLeaf) SetIOLatency(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ioLatency = d
}

// FailNextTrim causes the next IssueTrim call to complete with an error,
// modeling a transient device error (spec §4.1.5).
func (l *MemLeaf) FailNextTrim() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext = true
}

// IssueTrim implements Leaf.
func (l *MemLeaf) IssueTrim(ctx context.Context, offset, length int64, done func(err error)) {
	l.mu.Lock()
	fail := l.failNext || l.failForever
	l.failNext = false
	l.mu.Unlock()

	go func() {
		select {
		case <-time.After(l.ioLatency):
		case <-ctx.Done():
			done(ctx.Err())
			return
		}
		if !l.Writable() {
			done(context.Canceled)
			return
		}
		if fail {
			done(errIOSimulated)
			return
		}
		done(nil)
	}()
}

var errIOSimulated = &ioError{"simulated leaf I/O failure"}

type ioError struct{ msg string }

func (e *ioError) Error() string { return e.msg }

// MemMetaslab is a reference Metaslab.
type MemMetaslab struct {
	id           int
	mu           sync.Mutex
	loaded       bool
	neverWritten bool
	disabled     int32
	allocatable  RangeSet
	trim         RangeSet
}

// NewMemMetaslab builds a metaslab with the given free-space set. The
// trim set starts empty, as ms_trim does for a metaslab with no recent
// frees.
func NewMemMetaslab(id int, allocatable RangeSet, neverWritten bool) *MemMetaslab {
	return &MemMetaslab{id: id, allocatable: allocatable, neverWritten: neverWritten}
}

func (m *MemMetaslab) ID() int { return m.id }

func (m *MemMetaslab) Loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded
}

// Load marks the metaslab loaded. A real allocator would read the space
// map from disk here; the reference implementation has no disk, so this
// only flips the flag (after honoring context cancellation, since manual
// TRIM must be able to abort a load that's taking too long).
func (m *MemMetaslab) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded = true
	return nil
}

func (m *MemMetaslab) NeverWritten() bool { return m.neverWritten }

func (m *MemMetaslab) Disable() { atomic.AddInt32(&m.disabled, 1) }
func (m *MemMetaslab) Enable()  { atomic.AddInt32(&m.disabled, -1) }
func (m *MemMetaslab) DisabledCount() int32 {
	return atomic.LoadInt32(&m.disabled)
}

func (m *MemMetaslab) Allocatable() RangeSet { return m.allocatable }

func (m *MemMetaslab) SwapTrim(fresh RangeSet) RangeSet {
	old := m.trim
	m.trim = fresh
	return old
}

func (m *MemMetaslab) Lock()   { m.mu.Lock() }
func (m *MemMetaslab) Unlock() { m.mu.Unlock() }

// MemTopLevelVdev is a reference TopLevelVdev. Translate implements a
// single-leaf identity mapping when there is exactly one leaf, or an
// identical-on-every-leaf mirror mapping otherwise; that is enough to
// exercise the fan-out contract without modeling RAID-Z parity math.
type MemTopLevelVdev struct {
	id         int
	metaslabs  []Metaslab
	leaves     []Leaf
	removing   int32
	expanding  int32
	perLeafOff map[uint64]int64 // optional fixed offset (e.g. label reservation)
}

// NewMemTopLevelVdev builds a top-level vdev over the given leaves and
// metaslabs, wiring each leaf's topLevel back-reference.
func NewMemTopLevelVdev(id int, leaves []*MemLeaf, metaslabs []Metaslab) *MemTopLevelVdev {
	tlv := &MemTopLevelVdev{id: id, perLeafOff: make(map[uint64]int64)}
	for _, l := range leaves {
		l.topLevel = tlv
		tlv.leaves = append(tlv.leaves, l)
	}
	tlv.metaslabs = metaslabs
	return tlv
}

func (t *MemTopLevelVdev) ID() int                { return t.id }
func (t *MemTopLevelVdev) Metaslabs() []Metaslab  { return t.metaslabs }
func (t *MemTopLevelVdev) Leaves() []Leaf         { return t.leaves }
func (t *MemTopLevelVdev) Removing() bool         { return atomic.LoadInt32(&t.removing) != 0 }
func (t *MemTopLevelVdev) Expanding() bool        { return atomic.LoadInt32(&t.expanding) != 0 }

// SetRemoving flips the removing flag, signalling in-flight TRIM/autotrim
// workers to exit at their next check.
func (t *MemTopLevelVdev) SetRemoving(r bool) {
	var v int32
	if r {
		v = 1
	}
	atomic.StoreInt32(&t.removing, v)
}

// Translate maps a logical segment onto every leaf identically: the
// reference substrate models a mirror (or a single disk, the n=1 case)
// rather than striping or parity, since the mapping's shape is what
// exercises the TRIM fan-out contract, not the arithmetic.
func (t *MemTopLevelVdev) Translate(leaf Leaf, seg Segment) []Segment {
	for _, l := range t.leaves {
		if l == leaf {
			off := t.perLeafOff[l.GUID()]
			return []Segment{{Start: seg.Start + off, End: seg.End + off}}
		}
	}
	return nil
}

// dirtyRange is one byte range written since the last sync, tagged with
// the epoch (txg) it was written in.
type dirtyRange struct {
	start, end int64
	epoch      uint64
}

// MemObjectStore is a reference ObjectStore: a plain in-memory byte
// buffer standing in for a ZVOL's dnode/object-set handle. It tracks
// dirty ranges per epoch so DirtyInCurrentTxg can model
// zfs_bclone_wait_dirty. BlockRefsAt hands out slices of the backing
// array without copying, but CloneFrom copies those bytes into the
// destination buffer, so a clone does not share storage with its source
// the way dmu_brt_clone's block references do.
type MemObjectStore struct {
	guid uint64

	mu     sync.Mutex
	data   []byte
	dirty  []dirtyRange
	epoch  uint64
}

// NewMemObjectStore builds an object store of the given initial size
// (zero-filled), as a freshly created ZVOL's backing object would be.
func NewMemObjectStore(guid uint64, size int64) *MemObjectStore {
	return &MemObjectStore{guid: guid, data: make([]byte, size)}
}

func (o *MemObjectStore) GUID() uint64 { return o.guid }

func (o *MemObjectStore) Size() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return int64(len(o.data))
}

// SetSize implements ObjectStore.SetSize.
func (o *MemObjectStore) SetSize(ctx context.Context, newSize int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if newSize < 0 {
		return zerrors.ErrInvalid
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case newSize > int64(len(o.data)):
		grown := make([]byte, newSize)
		copy(grown, o.data)
		o.data = grown
	case newSize < int64(len(o.data)):
		o.data = o.data[:newSize]
	}
	return nil
}

func (o *MemObjectStore) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if off < 0 || off >= int64(len(o.data)) {
		return 0, zerrors.ErrInvalid
	}
	n := copy(p, o.data[off:])
	return n, nil
}

func (o *MemObjectStore) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	end := off + int64(len(p))
	if off < 0 || end > int64(len(o.data)) {
		return 0, zerrors.ErrInvalid
	}
	n := copy(o.data[off:end], p)
	o.dirty = append(o.dirty, dirtyRange{start: off, end: end, epoch: o.epoch})
	return n, nil
}

// FreeRange zero-fills [off, off+length) without changing Size.
func (o *MemObjectStore) FreeRange(ctx context.Context, off, length int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	end := off + length
	if off < 0 || end > int64(len(o.data)) {
		return zerrors.ErrInvalid
	}
	for i := off; i < end; i++ {
		o.data[i] = 0
	}
	return nil
}

// Prefetch is a no-op on the reference substrate: there is no real
// backing device latency to hide.
func (o *MemObjectStore) Prefetch(off, length int64) {}

// DirtyInCurrentTxg reports whether [off, off+length) overlaps a write
// from the current (not-yet-synced) epoch.
func (o *MemObjectStore) DirtyInCurrentTxg(off, length int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	end := off + length
	for _, d := range o.dirty {
		if d.epoch != o.epoch {
			continue
		}
		if d.start < end && off < d.end {
			return true
		}
	}
	return false
}

// BlockRefsAt returns one opaque reference per contiguous byte range of
// this store's backing array, by slicing it directly rather than
// copying — the reference implementation's stand-in for the source side
// of a zero-copy block clone.
func (o *MemObjectStore) BlockRefsAt(ctx context.Context, off, length int64) ([]BlockRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	end := off + length
	if off < 0 || end > int64(len(o.data)) {
		return nil, zerrors.ErrInvalid
	}
	return []BlockRef{{
		Offset: off,
		Length: length,
		opaque: o.data[off:end:end],
	}}, nil
}

// CloneFrom implements dmu_brt_clone for the reference substrate: each
// ref's shared backing slice is copied into dstOff onward. A real
// implementation would attach a block-reference-table entry instead of
// copying bytes; an in-memory stand-in has no separate physical layer to
// share, so it copies to keep read-after-clone semantics correct.
func (o *MemObjectStore) CloneFrom(ctx context.Context, dstOff int64, refs []BlockRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	off := dstOff
	for _, ref := range refs {
		src, ok := ref.opaque.([]byte)
		if !ok {
			return zerrors.ErrInvalid
		}
		if off+int64(len(src)) > int64(len(o.data)) {
			return zerrors.ErrInvalid
		}
		copy(o.data[off:off+int64(len(src))], src)
		off += int64(len(src))
	}
	return nil
}

// advanceEpoch is called by MemSubstrate.SyncTxg: writes from the epoch
// that just closed are no longer "dirty in current txg", and old entries
// are pruned so the dirty list does not grow without bound.
func (o *MemObjectStore) advanceEpoch() {
	o.mu.Lock()
	defer o.mu.Unlock()
	synced := o.epoch
	o.epoch++
	kept := o.dirty[:0]
	for _, d := range o.dirty {
		if d.epoch != synced {
			kept = append(kept, d)
		}
	}
	o.dirty = kept
}
