package trim

import (
	"context"
	"fmt"
	"time"

	"github.com/openzfs-go/storageengine/pkg/pool"
	"github.com/openzfs-go/storageengine/pkg/rangetree"
	"github.com/openzfs-go/storageengine/pkg/zerrors"
)

// Start transitions a leaf from {NONE, COMPLETE, CANCELED} to ACTIVE and
// spawns its manual TRIM worker (§4.1.1 trim_start, §4.1.2).
func (e *Engine) Start(ctx context.Context, l pool.Leaf, rate uint64, partial, secure bool) error {
	ls := e.leafFor(l)

	ls.mu.Lock()
	if ls.running {
		ls.mu.Unlock()
		return zerrors.ErrBusy
	}
	switch ls.state {
	case StateNone, StateComplete, StateCanceled:
	default:
		ls.mu.Unlock()
		return zerrors.ErrInvalid
	}
	from := ls.state
	ls.rate, ls.partial, ls.secure = rate, partial, secure
	ls.lastOffset = 0
	ls.bytesDone = 0
	ls.bytesEstimated = 0
	ls.running = true
	ls.stopCh = make(chan struct{})
	ls.doneCh = make(chan struct{})
	e.transition(ls, from, StateActive)
	ls.mu.Unlock()

	go e.runManual(ctx, ls)
	return nil
}

// Stop requests a transition to CANCELED or SUSPENDED (§4.1.1 trim_stop).
// If wait is non-nil the worker's doneCh is appended so a later
// StopWait can join it.
func (e *Engine) Stop(l pool.Leaf, target State, wait *[]<-chan struct{}) error {
	if target != StateCanceled && target != StateSuspended {
		return zerrors.ErrInvalid
	}
	ls := e.leafFor(l)
	ls.mu.Lock()
	if !ls.running {
		ls.mu.Unlock()
		return zerrors.ErrInvalid
	}
	ls.stopWant = target
	done := ls.doneCh
	close(ls.stopCh)
	ls.mu.Unlock()

	if wait != nil {
		*wait = append(*wait, done)
	}
	return nil
}

// StopWait joins every worker whose doneCh was collected by Stop.
func (e *Engine) StopWait(list []<-chan struct{}) {
	for _, d := range list {
		<-d
	}
}

// Restart reloads persisted state on pool import and resumes the worker
// if the persisted state was ACTIVE (§4.1.1 trim_restart).
func (e *Engine) Restart(ctx context.Context, l pool.Leaf) error {
	ls := e.leafFor(l)
	ls.mu.Lock()
	found, err := restore(l.TrimZAP(), ls)
	if err != nil {
		ls.mu.Unlock()
		return err
	}
	if !found || ls.state != StateActive {
		ls.mu.Unlock()
		return nil
	}
	ls.running = true
	ls.stopCh = make(chan struct{})
	ls.doneCh = make(chan struct{})
	ls.mu.Unlock()

	go e.runManual(ctx, ls)
	return nil
}

// runManual implements §4.1.2: iterate metaslabs of the containing
// top-level vdev in index order, walking ms_allocatable for each, and
// issuing trim_ranges over every qualifying physical sub-range.
func (e *Engine) runManual(ctx context.Context, ls *leafState) {
	defer close(ls.doneCh)
	start := time.Now()

	if e.log != nil {
		ls.mu.Lock()
		ls.progress = e.log.NewProgress(fmt.Sprintf("trim leaf %d", ls.leaf.GUID()), "KiB", 0)
		ls.mu.Unlock()
	}

	tlv := ls.leaf.TopLevel()
	final := StateComplete
	var runErr error

	if tlv == nil {
		final = StateCanceled
	} else {
		runErr = e.manualPass(ctx, ls, tlv, start)
		if runErr == zerrors.ErrInterrupted {
			ls.mu.Lock()
			want := ls.stopWant
			ls.mu.Unlock()
			if want == StateSuspended {
				final = StateSuspended
			} else {
				final = StateCanceled
			}
		} else if runErr != nil {
			final = StateCanceled
		}
	}

	ls.mu.Lock()
	from := ls.state
	ls.running = false
	e.transition(ls, from, final)
	if ls.progress != nil {
		ls.progress.Finish(final == StateComplete)
		ls.progress = nil
	}
	ls.mu.Unlock()

	// Wait for the next transaction-group to sync before exiting, so the
	// final state is durable (§4.1.2 step 4).
	e.substrate.SyncTxg(ctx)
}

func (e *Engine) manualPass(ctx context.Context, ls *leafState, tlv pool.TopLevelVdev, start time.Time) error {
	for _, ms := range tlv.Metaslabs() {
		if ls.stopRequested() || tlv.Removing() || tlv.Expanding() {
			return zerrors.ErrInterrupted
		}

		if e.tunables.MetaslabSkip && ms.NeverWritten() {
			continue
		}

		ms.Disable()
		if err := ms.Load(ctx); err != nil {
			ms.Enable()
			return err
		}

		if ls.partial && ms.NeverWritten() {
			ms.Enable()
			continue
		}

		tree := rangetree.New()
		ms.Lock()
		ms.Allocatable().Walk(func(start, end int64) bool {
			for _, phys := range tlv.Translate(ls.leaf, pool.Segment{Start: start, End: end}) {
				if phys.End <= ls.lastOffset {
					continue
				}
				s := phys.Start
				if s < ls.lastOffset {
					s = ls.lastOffset
				}
				tree.Add(s, phys.End-s)
			}
			return true
		})
		ms.Unlock()

		ls.mu.Lock()
		ls.bytesEstimated += tree.Space()
		ls.mu.Unlock()

		err := e.trimRanges(ctx, ls, KindManual, tree, start)
		ms.Enable()
		if err != nil {
			return err
		}
	}
	return nil
}
