package zvol

import "context"

// noopCtx is used by call sites (replay, background minor lifecycle)
// that have no caller-supplied context to thread through but still need
// to satisfy ObjectStore's context-aware signatures.
func noopCtx() context.Context { return context.Background() }
