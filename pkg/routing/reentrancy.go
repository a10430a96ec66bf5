package routing

import (
	"sync"
	"sync/atomic"
)

// ReentrancyGuard is a thread-local-style counter consulted at the top
// of every interposed entry point (spec.md §4.2.2): if the guard is
// already set for the calling thread, the call must passthrough to the
// real libc entry without touching any routing state. Because Go does
// not expose a portable thread-local primitive to cgo callbacks, the
// guard is keyed by OS thread id, supplied by the cgo boundary
// (cmd/libinception) which already has it via pthread_self()/gettid().
type ReentrancyGuard struct {
	depth sync.Map // map[uint64]*int32, one counter per OS thread id
}

// NewReentrancyGuard builds an empty guard.
func NewReentrancyGuard() *ReentrancyGuard {
	return &ReentrancyGuard{}
}

// Enter increments the calling thread's depth counter and reports
// whether this call is reentrant (depth was already > 0 before this
// call). Callers that get reentrant=true must passthrough immediately
// without calling Route or touching the FD table.
func (g *ReentrancyGuard) Enter(threadID uint64) (reentrant bool) {
	v, _ := g.depth.LoadOrStore(threadID, new(int32))
	counter := v.(*int32)
	return atomic.AddInt32(counter, 1) > 1
}

// Exit decrements the calling thread's depth counter. Must be called
// exactly once per Enter, including on every early-return path.
func (g *ReentrancyGuard) Exit(threadID uint64) {
	v, ok := g.depth.Load(threadID)
	if !ok {
		return
	}
	atomic.AddInt32(v.(*int32), -1)
}
