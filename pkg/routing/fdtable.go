package routing

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cuemby/vrift/pkg/vnode"
)

// slot holds one FD's VNode snapshot. inUse is CAS'd to claim or
// release a slot; v is only valid while inUse is true. Both fields are
// plain atomics — spec.md §9 explicitly forbids a general-purpose
// read-write lock here (an earlier implementation deadlocked during
// dynamic-linker bootstrap because RWLock spawns thread-local storage).
type slot struct {
	inUse atomic.Bool
	v     atomic.Pointer[vnode.VNode]
}

// FDTable remembers which open file descriptors refer to a substituted
// CAS blob, so fstat/fstatat/close can synthesize the virtual path's
// metadata instead of the blob file's own (spec.md §4.2.6). Lookups
// never block; growth is the only operation that takes growMu, and it
// swaps in an entirely new slots slice rather than mutating in place so
// concurrent lookups never observe a torn resize.
type FDTable struct {
	growMu sync.Mutex
	slots  atomic.Pointer[[]*slot]
}

// NewFDTable builds a table with room for `initial` file descriptors,
// growing automatically as higher FD numbers are claimed.
func NewFDTable(initial int) *FDTable {
	s := make([]*slot, initial)
	for i := range s {
		s[i] = &slot{}
	}
	t := &FDTable{}
	t.slots.Store(&s)
	return t
}

// ensure grows the slots slice so index fd is valid, doubling capacity
// as needed. Safe to call concurrently; only the actual growth path
// takes growMu.
func (t *FDTable) ensure(fd int) []*slot {
	cur := *t.slots.Load()
	if fd < len(cur) {
		return cur
	}

	t.growMu.Lock()
	defer t.growMu.Unlock()

	cur = *t.slots.Load()
	if fd < len(cur) {
		return cur
	}

	newLen := len(cur)
	if newLen == 0 {
		newLen = 16
	}
	for fd >= newLen {
		newLen *= 2
	}
	grown := make([]*slot, newLen)
	copy(grown, cur)
	for i := len(cur); i < newLen; i++ {
		grown[i] = &slot{}
	}
	t.slots.Store(&grown)
	return grown
}

// Claim records that fd now refers to a substituted CAS blob backing v.
// It returns an error if fd is already claimed (the caller's own close
// path must Release before reusing a descriptor number, which matches
// real kernel FD-reuse semantics).
func (t *FDTable) Claim(fd int, v vnode.VNode) error {
	s := t.ensure(fd)[fd]
	if !s.inUse.CompareAndSwap(false, true) {
		return fmt.Errorf("routing: fd %d already claimed", fd)
	}
	cp := v
	s.v.Store(&cp)
	return nil
}

// Lookup returns the VNode snapshot for fd, if any is claimed.
func (t *FDTable) Lookup(fd int) (vnode.VNode, bool) {
	cur := *t.slots.Load()
	if fd < 0 || fd >= len(cur) {
		return vnode.VNode{}, false
	}
	s := cur[fd]
	if !s.inUse.Load() {
		return vnode.VNode{}, false
	}
	p := s.v.Load()
	if p == nil {
		return vnode.VNode{}, false
	}
	return *p, true
}

// Release forgets fd's mapping, returning the VNode it held (if any) so
// the caller can finish any close-time bookkeeping (spec.md §4.3.3
// step 4: "On ACK, forget the FD entry").
func (t *FDTable) Release(fd int) (vnode.VNode, bool) {
	cur := *t.slots.Load()
	if fd < 0 || fd >= len(cur) {
		return vnode.VNode{}, false
	}
	s := cur[fd]
	p := s.v.Load()
	if !s.inUse.CompareAndSwap(true, false) {
		return vnode.VNode{}, false
	}
	s.v.Store(nil)
	if p == nil {
		return vnode.VNode{}, true
	}
	return *p, true
}
