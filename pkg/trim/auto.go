package trim

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openzfs-go/storageengine/pkg/pool"
	"github.com/openzfs-go/storageengine/pkg/rangetree"
)

// autoKickSlack is the fixed number of autotrim_kick waits (§4.1.4 step 6)
// made after a group is issued, standing in for "concurrent states + defer
// size" from the source without modeling the DMU's txg-defer machinery.
const autoKickSlack = 2

// AutotrimStart spawns the per-top-level-vdev automatic TRIM worker
// (§4.1.1 autotrim_start).
func (e *Engine) AutotrimStart(ctx context.Context, tlv pool.TopLevelVdev) {
	ts := e.tlvFor(tlv)
	ts.mu.Lock()
	if ts.running {
		ts.mu.Unlock()
		return
	}
	ts.running = true
	ts.stopCh = make(chan struct{})
	ts.doneCh = make(chan struct{})
	ts.mu.Unlock()

	go e.runAutotrim(ctx, ts)
}

// AutotrimStopWait signals the autotrim worker to exit and joins it,
// vacating every metaslab's ms_trim first (§4.1.4 closing paragraph).
func (e *Engine) AutotrimStopWait(tlv pool.TopLevelVdev) {
	ts := e.tlvFor(tlv)
	ts.mu.Lock()
	if !ts.running {
		ts.mu.Unlock()
		return
	}
	done := ts.doneCh
	close(ts.stopCh)
	ts.mu.Unlock()
	<-done
}

// AutotrimKick wakes the worker for one more interleaved-group pass
// (§4.1.1 autotrim_kick), corresponding to a txg sync landing.
func (e *Engine) AutotrimKick(tlv pool.TopLevelVdev) {
	ts := e.tlvFor(tlv)
	select {
	case ts.kicks <- struct{}{}:
	default:
	}
}

func (e *Engine) runAutotrim(ctx context.Context, ts *tlvState) {
	defer close(ts.doneCh)

	batch := int(e.tunables.TxgBatch)
	if batch <= 0 {
		batch = 32
	}
	group := 0

	for {
		select {
		case <-ts.stopCh:
			e.vacateAll(ts.tlv)
			return
		case <-ctx.Done():
			e.vacateAll(ts.tlv)
			return
		case <-ts.kicks:
		}

		if ts.tlv.Removing() || ts.tlv.Expanding() {
			e.vacateAll(ts.tlv)
			return
		}

		e.autotrimGroup(ctx, ts.tlv, group, batch)
		group = (group + 1) % batch
	}
}

// autotrimGroup processes metaslabs i, i+batch, i+2*batch, ... for group i
// (§4.1.4).
func (e *Engine) autotrimGroup(ctx context.Context, tlv pool.TopLevelVdev, group, batch int) {
	metaslabs := tlv.Metaslabs()
	var g errgroup.Group

	for i := group; i < len(metaslabs); i += batch {
		ms := metaslabs[i]
		g.Go(func() error {
			e.autotrimMetaslab(ctx, tlv, ms)
			return nil
		})
	}
	g.Wait()
}

func (e *Engine) autotrimMetaslab(ctx context.Context, tlv pool.TopLevelVdev, ms pool.Metaslab) {
	ms.Disable()
	defer ms.Enable()

	ms.Lock()
	if ms.NeverWritten() || ms.DisabledCount() > 1 {
		ms.Unlock()
		return
	}

	fresh := rangetree.New()
	swappedOut := ms.SwapTrim(rangeSetAdapter{fresh})
	ms.Unlock()

	if swappedOut == nil || swappedOut.IsEmpty() {
		return
	}

	perLeaf := make(map[uint64]*rangetree.Tree)
	swappedOut.Walk(func(start, end int64) bool {
		for _, leaf := range tlv.Leaves() {
			if leaf.Detached() || !leaf.Writable() {
				continue
			}
			if e.State(leaf) == StateActive {
				continue
			}
			for _, phys := range tlv.Translate(leaf, pool.Segment{Start: start, End: end}) {
				t, ok := perLeaf[leaf.GUID()]
				if !ok {
					t = rangetree.New()
					perLeaf[leaf.GUID()] = t
				}
				t.Add(phys.Start, phys.End-phys.Start)
			}
		}
		return true
	})

	start := time.Now()
	issued := false
	for _, leaf := range tlv.Leaves() {
		tree, ok := perLeaf[leaf.GUID()]
		if !ok {
			continue
		}
		ls := e.leafFor(leaf)
		e.trimRanges(ctx, ls, KindAuto, tree, start)
		issued = true
	}

	if issued {
		e.waitKicks(ctx, tlv, autoKickSlack)
	}
}

// waitKicks blocks until n autotrim_kick signals have landed, or the
// worker is asked to exit, implementing autotrim_wait_kick (§5).
func (e *Engine) waitKicks(ctx context.Context, tlv pool.TopLevelVdev, n int) {
	ts := e.tlvFor(tlv)
	for i := 0; i < n; i++ {
		select {
		case <-ts.kicks:
		case <-ts.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// vacateAll empties every metaslab's ms_trim, reclaiming memory when
// autotrim turns off mid-loop (§4.1.4 closing paragraph).
func (e *Engine) vacateAll(tlv pool.TopLevelVdev) {
	for _, ms := range tlv.Metaslabs() {
		ms.Lock()
		ms.SwapTrim(rangeSetAdapter{rangetree.New()})
		ms.Unlock()
	}
}

// rangeSetAdapter lets a *rangetree.Tree satisfy pool.RangeSet without
// rangetree importing pool (which would create an import cycle, since
// pool is the lower-level leaf package).
type rangeSetAdapter struct {
	t *rangetree.Tree
}

func (r rangeSetAdapter) Walk(fn func(start, end int64) bool) {
	r.t.Walk(func(s rangetree.Segment) bool { return fn(s.Start, s.End) })
}
func (r rangeSetAdapter) IsEmpty() bool                     { return r.t.IsEmpty() }
func (r rangeSetAdapter) Contains(start, size int64) bool   { return r.t.Contains(start, size) }
