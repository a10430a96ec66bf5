package vdir

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/edsrzf/mmap-go"

	"github.com/cuemby/vrift/pkg/pathutil"
	"github.com/cuemby/vrift/pkg/vnode"
)

// MaxRetries bounds the torn-read retry loop before a client falls back
// to an RPC lookup (spec.md §4.1 "Bounded retry exhausted (N=4)").
const MaxRetries = 4

// ErrCorrupt is returned when the mapping's magic does not match, per
// spec.md §4.1 "Failure semantics": the client must enter fallback mode.
var ErrCorrupt = fmt.Errorf("vdir: mmap corrupt or wrong magic")

// ErrRetriesExhausted signals the caller should fall back to an RPC
// manifest_get(path) for this single call (spec.md §4.1 step 6).
var ErrRetriesExhausted = fmt.Errorf("vdir: torn-read retries exhausted")

// readerState is one immutable snapshot of a mapped VDir file. Remap
// builds a fresh snapshot and swaps it in atomically; Lookup/Readdir
// only ever read through a single atomically-loaded pointer, so the
// hot path stays lock-free end to end (spec.md §4.1: "Readers:
// wait-free ... No locks, no syscalls on the fast path").
type readerState struct {
	f    *os.File
	mm   mmap.MMap
	stat statTable
	bl   bloom
	dir  dirIndex
	cap  uint32
}

// Reader is a client-side, read-only view of a VDir mmap.
type Reader struct {
	path  string
	state atomic.Pointer[readerState]
}

func mapState(path string) (*readerState, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("vdir: open %s: %w", path, err)
	}
	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("vdir: mmap %s: %w", path, err)
	}
	h, err := decodeHeader(mm)
	if err != nil || h.Magic != Magic {
		mm.Unmap()
		f.Close()
		return nil, ErrCorrupt
	}

	return &readerState{
		f:    f,
		mm:   mm,
		stat: newStatTable(mm[h.StatTableOffset:h.StatTableOffset+h.StatTableCapacity*statEntrySize], h.StatTableCapacity),
		bl:   newBloomView(mm[h.BloomOffset : h.BloomOffset+h.BloomLen]),
		dir:  newDirIndex(mm, h),
		cap:  h.StatTableCapacity,
	}, nil
}

// Open maps the VDir file at path PROT_READ. It validates the magic and
// returns ErrCorrupt otherwise (the caller should enter fallback mode).
func Open(path string) (*Reader, error) {
	st, err := mapState(path)
	if err != nil {
		return nil, err
	}
	r := &Reader{path: path}
	r.state.Store(st)
	return r, nil
}

func generationOf(st *readerState) uint64 {
	return atomic.LoadUint64((*uint64)(unsafe.Pointer(&st.mm[8])))
}

// Capacity returns the stat table's current slot capacity, for metrics.
func (r *Reader) Capacity() uint32 {
	st := r.state.Load()
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&st.mm[32])))
}

// Lookup implements the client-side lookup protocol of spec.md §4.1:
// bloom pre-check, generation-bracketed linear probe, and torn-read
// retry. It does not remap; LookupWithRemap adds the remap-and-retry-once
// step on a detected resize. It takes no lock: the reader snapshot is loaded once via an atomic pointer, so a
// concurrent Remap never blocks or is blocked by a Lookup.
func (r *Reader) Lookup(p string) (vnode.VNode, bool, error) {
	h := pathutil.Hash(p)
	st := r.state.Load()

	if !st.bl.mayContain(h) {
		return vnode.VNode{}, false, nil
	}

	for attempt := 0; attempt < MaxRetries; attempt++ {
		g1 := generationOf(st)
		v, found := probeOnce(st, h)
		g2 := generationOf(st)
		if g1 == g2 {
			return v, found, nil
		}
		// torn-read guard tripped; retry
	}
	return vnode.VNode{}, false, ErrRetriesExhausted
}

// resized reports whether the file at r.path now refers to a different
// inode than the snapshot's open file — the only observable signal of a
// rename-into-place resize swap (spec.md §4.1 "Resize"). This single
// stat(2) call is paid only when retries are already exhausted, never on
// the hot path, preserving the no-syscall contract for ordinary lookups.
func (r *Reader) resized() bool {
	st := r.state.Load()
	cur, err := st.f.Stat()
	if err != nil {
		return false
	}
	onDisk, err := os.Stat(r.path)
	if err != nil {
		return false
	}
	return !os.SameFile(cur, onDisk)
}

func probeOnce(st *readerState, h uint64) (vnode.VNode, bool) {
	mask := st.stat.mask()
	start := h & mask
	for i := uint64(0); i < uint64(st.stat.capacity); i++ {
		idx := uint32((start + i) & mask)
		cur := st.stat.loadPathHash(idx) // acquire load
		if cur == 0 {
			return vnode.VNode{}, false
		}
		if cur == h {
			return st.stat.readBody(idx), true
		}
	}
	return vnode.VNode{}, false
}

// LookupWithRemap wraps Lookup, transparently remapping once if retries
// were exhausted because the daemon swapped in a resized mapping,
// matching spec.md §4.1 "Resize detected mid-lookup: remap and retry
// once; on failure, fall back." If the file was not resized, retries
// were exhausted for an unrelated reason and the caller should fall back
// to an RPC lookup instead (ErrRetriesExhausted is returned unchanged).
func (r *Reader) LookupWithRemap(p string) (vnode.VNode, bool, error) {
	v, found, err := r.Lookup(p)
	if err == ErrRetriesExhausted && r.resized() {
		if rerr := r.Remap(); rerr != nil {
			return vnode.VNode{}, false, rerr
		}
		return r.Lookup(p)
	}
	return v, found, err
}

// Remap reopens the underlying file (the daemon renames a new mapping
// into place on resize), builds a fresh immutable snapshot, and
// publishes it with a single atomic pointer store. Readers never
// observe a partially-updated snapshot: they either see the old one in
// full or the new one in full. The old mapping is released only after
// the swap, once no new Lookup can still be reading it.
func (r *Reader) Remap() error {
	st, err := mapState(r.path)
	if err != nil {
		return err
	}
	old := r.state.Swap(st)
	if old != nil {
		_ = old.mm.Unmap()
		_ = old.f.Close()
	}
	return nil
}

// Readdir enumerates the VDir-known children of a directory path, if the
// daemon has published an entry for it (spec.md §4.1 "Directory enumeration").
func (r *Reader) Readdir(path string) ([]Child, bool) {
	st := r.state.Load()
	return st.dir.Children(path)
}

// Close unmaps the reader's current view.
func (r *Reader) Close() error {
	st := r.state.Load()
	if st == nil {
		return nil
	}
	if err := st.mm.Unmap(); err != nil {
		return err
	}
	return st.f.Close()
}
