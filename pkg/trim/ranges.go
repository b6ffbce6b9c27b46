package trim

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/openzfs-go/storageengine/pkg/rangetree"
	"github.com/openzfs-go/storageengine/pkg/zerrors"
)

// trimRanges is the issuing loop described in §4.1.3: it walks tree,
// skips segments smaller than extent_bytes_min (unless secure forces the
// minimum down to the device block size), chunks the rest to
// extent_bytes_max, and issues each chunk through the leaf with a
// per-mode completion handler.
func (e *Engine) trimRanges(ctx context.Context, ls *leafState, kind Kind, tree *rangetree.Tree, start time.Time) error {
	min := e.extentBytesMin(ls)
	max := int64(e.tunables.ExtentBytesMax)
	if max <= 0 {
		max = 128 * 1024 * 1024
	}

	sem := ls.sem(e.tunables.QueueLimit)

	var issueErr error
	tree.Walk(func(seg rangetree.Segment) bool {
		size := seg.Size()
		if size < min {
			ls.mu.Lock()
			ls.stats.forKind(kind).recordSkip(size)
			ls.mu.Unlock()
			return true
		}

		off := seg.Start
		remaining := size
		for remaining > 0 {
			chunk := remaining
			if chunk > max {
				chunk = max
			}

			if kind == KindManual {
				e.paceRate(ctx, ls, start)
			}

			if err := sem.Acquire(ctx, 1); err != nil {
				issueErr = zerrors.ErrInterrupted
				return false
			}

			if kind == KindManual {
				ls.mu.Lock()
				e.persist(ls)
				ls.mu.Unlock()
			}

			if !ls.leaf.Writable() || ls.stopRequested() {
				sem.Release(1)
				issueErr = zerrors.ErrInterrupted
				return false
			}

			ls.inflightMu.Lock()
			ls.inflight++
			ls.inflightMu.Unlock()

			chunkOff, chunkLen := off, chunk
			ls.leaf.IssueTrim(ctx, chunkOff, chunkLen, func(err error) {
				e.completeChunk(ls, kind, chunkOff, chunkLen, err)
				sem.Release(1)
			})

			off += chunk
			remaining -= chunk
		}
		return true
	})

	e.drain(ls)
	return issueErr
}

// extentBytesMin returns the effective minimum extent size: secure forces
// it down to the device block size (1<<ashift) so nothing is skipped.
func (e *Engine) extentBytesMin(ls *leafState) int64 {
	if ls.secure {
		return int64(1) << ls.leaf.Ashift()
	}
	min := int64(e.tunables.ExtentBytesMin)
	if min <= 0 {
		min = 32 * 1024
	}
	return min
}

// paceRate implements manual-only rate limiting: bytes_done*1000/(ms since
// start + 1) compared against the configured rate, sleeping briefly and
// re-checking while above it.
func (e *Engine) paceRate(ctx context.Context, ls *leafState, start time.Time) {
	if ls.rate == 0 {
		return
	}
	for {
		ls.mu.Lock()
		done := ls.bytesDone
		ls.mu.Unlock()

		elapsedMs := time.Since(start).Milliseconds() + 1
		rate := done * 1000 / elapsedMs
		if uint64(rate) <= ls.rate {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
		if ls.stopRequested() {
			return
		}
	}
}

func (ls *leafState) sem(limit uint32) *semaphore.Weighted {
	ls.semOnce.Do(func() {
		n := int64(limit)
		if n <= 0 {
			n = 10
		}
		ls.semaphore = semaphore.NewWeighted(n)
	})
	return ls.semaphore
}

func (ls *leafState) stopRequested() bool {
	select {
	case <-ls.stopCh:
		return true
	default:
		return false
	}
}

// completeChunk dispatches to the per-mode completion handler described in
// §4.1.3.
func (e *Engine) completeChunk(ls *leafState, kind Kind, offset, length int64, err error) {
	ls.mu.Lock()
	stats := ls.stats.forKind(kind)
	if err != nil {
		stats.recordFail()
		if kind == KindManual && !ls.leaf.Writable() {
			if offset < ls.lastOffset || ls.lastOffset == 0 {
				ls.lastOffset = offset
			}
		}
	} else {
		stats.recordIssue(length)
		ls.bytesDone += length
		if kind == KindManual && offset+length > ls.lastOffset {
			ls.lastOffset = offset + length
		}
		if ls.progress != nil {
			ls.progress.Increment(length)
		}
	}
	ls.mu.Unlock()

	ls.inflightMu.Lock()
	ls.inflight--
	if ls.inflight == 0 {
		ls.inflightCV.Broadcast()
	}
	ls.inflightMu.Unlock()
}

// drain waits until every in-flight TRIM I/O issued for ls has completed,
// so a metaslab can be safely re-enabled without a TRIM racing a
// subsequent allocation write (§4.1.3 closing paragraph).
func (e *Engine) drain(ls *leafState) {
	ls.inflightMu.Lock()
	for ls.inflight > 0 {
		ls.inflightCV.Wait()
	}
	ls.inflightMu.Unlock()
}
