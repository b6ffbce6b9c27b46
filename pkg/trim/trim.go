// Package trim implements per-leaf-device reclamation of unused physical
// ranges: an operator-initiated ("manual") mode that walks metaslabs in
// index order, and an automatic mode that continuously trims recently
// freed ranges. Progress is persisted through a pool.ZAP so a manual TRIM
// survives export/import, and both modes cooperate with the metaslab
// allocator's disable/enable contract (pkg/pool).
//
// Progress and state transitions are reported through pkg/elog and logged
// structurally via logrus rather than a bespoke observability story.
package trim

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/openzfs-go/storageengine/pkg/elog"
	"github.com/openzfs-go/storageengine/pkg/pool"
)

// State is a leaf's TRIM lifecycle state.
type State int

const (
	StateNone State = iota
	StateActive
	StateSuspended
	StateCanceled
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StateActive:
		return "ACTIVE"
	case StateSuspended:
		return "SUSPENDED"
	case StateCanceled:
		return "CANCELED"
	case StateComplete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// Kind distinguishes the three I/O-issuing modes named in §4.1.1/§4.1.3:
// manual TRIM, automatic TRIM, and the synchronous trim_simple used by
// L2ARC.
type Kind int

const (
	KindManual Kind = iota
	KindAuto
	KindSimple
)

func (k Kind) String() string {
	switch k {
	case KindManual:
		return "manual"
	case KindAuto:
		return "auto"
	case KindSimple:
		return "simple"
	default:
		return "unknown"
	}
}

// Tunables is the subset of pkg/config.Tunables the TRIM engine consumes.
type Tunables struct {
	ExtentBytesMax uint64
	ExtentBytesMin uint64
	MetaslabSkip   bool
	TxgBatch       uint32
	QueueLimit     uint32
}

// Engine coordinates TRIM across every leaf and top-level vdev of a pool
// substrate. One Engine is created per pool.
type Engine struct {
	substrate pool.TxgSyncer
	events    pool.EventSink
	log       elog.View
	tunables  Tunables

	mu     sync.Mutex
	leaves map[uint64]*leafState
	tlvs   map[int]*tlvState
}

// New builds an Engine. log may be nil (as in tests), in which case
// transitions are logged through logrus directly; events may be nil, in
// which case transitions are only logged.
func New(substrate pool.TxgSyncer, events pool.EventSink, log elog.View, tunables Tunables) *Engine {
	return &Engine{
		substrate: substrate,
		events:    events,
		log:       log,
		tunables:  tunables,
		leaves:    make(map[uint64]*leafState),
		tlvs:      make(map[int]*tlvState),
	}
}

type leafState struct {
	mu sync.Mutex

	leaf pool.Leaf

	state      State
	lastOffset int64
	rate       uint64
	partial    bool
	secure     bool
	actionTime int64

	bytesDone      int64
	bytesEstimated int64
	progress       elog.Progress

	stats Iostats
	hist  *History

	inflightMu sync.Mutex
	inflight   int
	inflightCV *sync.Cond

	semOnce   sync.Once
	semaphore *semaphore.Weighted

	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
	stopWant State
}

type tlvState struct {
	mu      sync.Mutex
	tlv     pool.TopLevelVdev
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	kicks   chan struct{}
}

func (e *Engine) leafFor(l pool.Leaf) *leafState {
	e.mu.Lock()
	defer e.mu.Unlock()
	ls, ok := e.leaves[l.GUID()]
	if !ok {
		ls = &leafState{
			leaf:   l,
			hist:   NewHistory(64),
			stopCh: make(chan struct{}),
		}
		ls.inflightCV = sync.NewCond(&ls.inflightMu)
		e.leaves[l.GUID()] = ls
	}
	return ls
}

func (e *Engine) tlvFor(tlv pool.TopLevelVdev) *tlvState {
	e.mu.Lock()
	defer e.mu.Unlock()
	ts, ok := e.tlvs[tlv.ID()]
	if !ok {
		ts = &tlvState{tlv: tlv, kicks: make(chan struct{}, 1)}
		e.tlvs[tlv.ID()] = ts
	}
	return ts
}

// transition persists the new state to the leaf's ZAP and logs a single
// line per lifecycle edge (through log when set, otherwise a structured
// logrus line), plus a pool event when events is set.
func (e *Engine) transition(ls *leafState, from, to State) {
	ls.state = to
	ls.actionTime = time.Now().Unix()

	fields := map[string]interface{}{
		"leaf": ls.leaf.GUID(), "from": from.String(), "to": to.String(),
	}
	ls.hist.Append(time.Now(), "trim state "+from.String()+" -> "+to.String())
	if e.events != nil {
		e.events.Event("trim.state", fields)
	}
	if e.log != nil {
		e.log.Infof("leaf %d: trim %s -> %s", ls.leaf.GUID(), from, to)
	} else {
		logrus.WithFields(logrus.Fields(fields)).Info("trim state transition")
	}

	if err := e.persist(ls); err != nil && e.log != nil {
		e.log.Errorf("leaf %d: persist trim state: %v", ls.leaf.GUID(), err)
	}
}

// persist writes the six vdev_trim_* keys (§6.1) to the leaf's ZAP.
func (e *Engine) persist(ls *leafState) error {
	zap := ls.leaf.TrimZAP()
	kv := map[string]uint64{
		"vdev_trim_last_offset": uint64(ls.lastOffset),
		"vdev_trim_rate":        ls.rate,
		"vdev_trim_partial":     boolToU64(ls.partial),
		"vdev_trim_secure":      boolToU64(ls.secure),
		"vdev_trim_action_time": uint64(ls.actionTime),
		"vdev_trim_state":       uint64(ls.state),
	}
	for k, v := range kv {
		if err := zap.SetUint64(k, v); err != nil {
			return errors.Wrapf(err, "set %s", k)
		}
	}
	return nil
}

// restore reads the six vdev_trim_* keys back into ls, returning whether
// any were found (a never-trimmed leaf has no keys set, per §6.1).
func restore(zap pool.ZAP, ls *leafState) (bool, error) {
	var found bool
	get := func(key string) (uint64, error) {
		v, ok, err := zap.GetUint64(key)
		if err != nil {
			return 0, err
		}
		if ok {
			found = true
		}
		return v, nil
	}

	var err error
	var lastOffset, rate, partial, secure, actionTime, state uint64
	if lastOffset, err = get("vdev_trim_last_offset"); err != nil {
		return false, err
	}
	if rate, err = get("vdev_trim_rate"); err != nil {
		return false, err
	}
	if partial, err = get("vdev_trim_partial"); err != nil {
		return false, err
	}
	if secure, err = get("vdev_trim_secure"); err != nil {
		return false, err
	}
	if actionTime, err = get("vdev_trim_action_time"); err != nil {
		return false, err
	}
	if state, err = get("vdev_trim_state"); err != nil {
		return false, err
	}

	ls.lastOffset = int64(lastOffset)
	ls.rate = rate
	ls.partial = partial != 0
	ls.secure = secure != 0
	ls.actionTime = int64(actionTime)
	ls.state = State(state)
	return found, nil
}

func boolToU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// Iostats returns a copy of the leaf's per-I/O-type counters (§6.3).
func (e *Engine) Iostats(l pool.Leaf) Iostats {
	ls := e.leafFor(l)
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.stats
}

// History returns the leaf's recent state-transition history lines.
func (e *Engine) History(l pool.Leaf) []string {
	return e.leafFor(l).hist.Lines()
}

// State returns the leaf's current TRIM state.
func (e *Engine) State(l pool.Leaf) State {
	ls := e.leafFor(l)
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.state
}
