package trim

import (
	"context"
	"time"

	"github.com/openzfs-go/storageengine/pkg/pool"
)

// Simple performs a synchronous TRIM of [offset, offset+length) on l,
// used by L2ARC's header wipe and whole-device cache TRIM (§4.1.1
// trim_simple). It shares the completion and stats bookkeeping of the
// other modes but blocks until the single I/O drains (§4.1.3, Simple
// completion callback).
func (e *Engine) Simple(ctx context.Context, l pool.Leaf, offset, length int64) error {
	ls := e.leafFor(l)

	done := make(chan error, 1)
	ls.inflightMu.Lock()
	ls.inflight++
	ls.inflightMu.Unlock()

	ls.leaf.IssueTrim(ctx, offset, length, func(err error) {
		ls.mu.Lock()
		stats := ls.stats.forKind(KindSimple)
		if err != nil {
			stats.recordFail()
		} else {
			stats.recordIssue(length)
		}
		ls.mu.Unlock()

		ls.inflightMu.Lock()
		ls.inflight--
		if ls.inflight == 0 {
			ls.inflightCV.Broadcast()
		}
		ls.inflightMu.Unlock()

		done <- err
	})

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return context.DeadlineExceeded
	}
}
