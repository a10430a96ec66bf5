package vdir

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/edsrzf/mmap-go"

	"github.com/cuemby/vrift/pkg/pathutil"
	"github.com/cuemby/vrift/pkg/vnode"
)

const maxLoadFactor = 0.7

// Writer is the daemon-side, read-write view of a VDir mmap. Only one
// Writer exists per project; it is the single mutator of the shared
// mapping (spec.md §4.1 "Concurrency contract").
type Writer struct {
	mu sync.Mutex // serializes the daemon's own updates; never touched by readers

	path string
	f    *os.File
	mm   mmap.MMap

	stat statTable
	bl   bloom
	dir  dirIndex

	// childCursor/stringCursor track the next free slot in the dir-index's
	// children pool and string pool respectively, across successive PutDir
	// calls (initial workspace scan writes one directory at a time).
	childCursor  uint32
	stringCursor uint32
}

// Create allocates a new VDir mmap file at path sized for statCapacity
// entries (rounded up to a power of two) and dirCapacity directories.
func Create(path string, statCapacity, dirCapacity, childrenCapacity uint32) (*Writer, error) {
	statCapacity = nextPow2(statCapacity)
	dirCapacity = nextPow2(dirCapacity)

	h, total := layoutSize(statCapacity, dirCapacity, childrenCapacity, 1<<20)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("vdir: create %s: %w", path, err)
	}
	if err := f.Truncate(int64(total)); err != nil {
		f.Close()
		return nil, fmt.Errorf("vdir: truncate %s: %w", path, err)
	}

	mm, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("vdir: mmap %s: %w", path, err)
	}

	h.encode(mm[0:headerSize])

	w := &Writer{
		path: path,
		f:    f,
		mm:   mm,
		stat: newStatTable(mm[h.StatTableOffset:h.StatTableOffset+statCapacity*statEntrySize], statCapacity),
		bl:   newBloomView(mm[h.BloomOffset : h.BloomOffset+h.BloomLen]),
		dir:  newDirIndex(mm, h),
	}
	return w, nil
}

func (w *Writer) header() header {
	h, _ := decodeHeader(w.mm[0:headerSize])
	return h
}

// Generation returns the current published generation counter.
func (w *Writer) Generation() uint64 {
	return atomic.LoadUint64((*uint64)(unsafe.Pointer(&w.mm[8])))
}

func (w *Writer) bumpGeneration() uint64 {
	return atomic.AddUint64((*uint64)(unsafe.Pointer(&w.mm[8])), 1)
}

// Put publishes VNode v for normalized path p, following the commit
// protocol in spec.md §4.1: write the slot body, release-publish
// path_hash, then release-bump generation. Returns the new generation.
func (w *Writer) Put(p string, v vnode.VNode) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.loadFactor() > maxLoadFactor {
		if err := w.resizeLocked(); err != nil {
			return 0, err
		}
	}

	h := pathutil.Hash(p)
	slot, found := w.probeLocked(h)
	if !found {
		return 0, fmt.Errorf("vdir: stat table full, could not place %q", p)
	}

	w.stat.writeBody(slot, v)
	w.stat.storePathHash(slot, h) // release publish
	w.bl.set(h)

	return w.bumpGeneration(), nil
}

// Remove tombstones the VNode for p (sets FlagDeleted, keeps content_hash
// available to in-flight readers until the next generation observes it).
func (w *Writer) Remove(p string) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	hHash := pathutil.Hash(p)
	slot, ok := w.findSlotLocked(hHash)
	if !ok {
		return 0, fmt.Errorf("vdir: remove: %q not present", p)
	}
	v := w.stat.readBody(slot)
	v.Flags |= vnode.FlagDeleted
	w.stat.writeBody(slot, v)
	return w.bumpGeneration(), nil
}

// SetDirty flips the DIRTY bit for p without disturbing content_hash,
// implementing the write-open / commit halves of spec.md §4.3.1/§4.3.3.
func (w *Writer) SetDirty(p string, dirty bool) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	hHash := pathutil.Hash(p)
	slot, ok := w.findSlotLocked(hHash)
	if !ok {
		return w.Generation(), nil // nothing to mark; caller treats as manifest-miss
	}
	v := w.stat.readBody(slot)
	if dirty {
		v.Flags |= vnode.FlagDirty
	} else {
		v.Flags &^= vnode.FlagDirty
	}
	w.stat.writeBody(slot, v)
	return w.bumpGeneration(), nil
}

// Rename moves the VNode at oldPath to newPath atomically from a reader's
// perspective: old path's slot is cleared only after new path's slot is
// published and a generation bump has occurred.
func (w *Writer) Rename(oldPath, newPath string) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	oldHash := pathutil.Hash(oldPath)
	slot, ok := w.findSlotLocked(oldHash)
	if !ok {
		return 0, fmt.Errorf("vdir: rename: %q not present", oldPath)
	}
	v := w.stat.readBody(slot)

	newHash := pathutil.Hash(newPath)
	newSlot, found := w.probeLocked(newHash)
	if !found {
		return 0, fmt.Errorf("vdir: stat table full during rename of %q", oldPath)
	}
	w.stat.writeBody(newSlot, v)
	w.stat.storePathHash(newSlot, newHash)
	w.bl.set(newHash)

	tomb := v
	tomb.Flags |= vnode.FlagDeleted
	w.stat.writeBody(slot, tomb)

	return w.bumpGeneration(), nil
}

// PutDir registers directory path's children in the dir-index, for
// readdir() enumeration (spec.md §4.2.3's "DirectoryMerge" decision).
// Called by the daemon's initial workspace scan and by incremental
// mkdir/rmdir/rename bookkeeping.
func (w *Writer) PutDir(path string, children []Child) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.dir.PutDir(path, children, &w.childCursor, &w.stringCursor); err != nil {
		return 0, err
	}
	return w.bumpGeneration(), nil
}

func (w *Writer) loadFactor() float64 {
	h := w.header()
	return float64(h.EntryCount) / float64(h.StatTableCapacity)
}

// probeLocked finds the slot path p's hash maps to, preferring an
// existing slot for the same hash (re-publish) and otherwise the first
// empty slot on the probe sequence. Must be called with mu held.
func (w *Writer) probeLocked(h uint64) (uint32, bool) {
	mask := w.stat.mask()
	start := h & mask
	for i := uint64(0); i < uint64(w.stat.capacity); i++ {
		idx := uint32((start + i) & mask)
		cur := w.stat.loadPathHash(idx)
		if cur == 0 || cur == h {
			if cur == 0 {
				hdr, _ := decodeHeader(w.mm[0:headerSize])
				hdr.EntryCount++
				hdr.encode(w.mm[0:headerSize])
			}
			return idx, true
		}
	}
	return 0, false
}

func (w *Writer) findSlotLocked(h uint64) (uint32, bool) {
	mask := w.stat.mask()
	start := h & mask
	for i := uint64(0); i < uint64(w.stat.capacity); i++ {
		idx := uint32((start + i) & mask)
		cur := w.stat.loadPathHash(idx)
		if cur == 0 {
			return 0, false
		}
		if cur == h {
			return idx, true
		}
	}
	return 0, false
}

// resizeLocked grows the stat table by allocating a new, larger mmap
// file, rehashing every live entry into it, and atomically renaming it
// into place (spec.md §4.1 "Resize"). Clients detect the swap because
// the header's generation and stat_table_capacity change together.
func (w *Writer) resizeLocked() error {
	oldCap := w.stat.capacity
	newCap := oldCap * 2

	tmpPath := w.path + ".resize.tmp"
	h, total := layoutSize(newCap, newCap/2, newCap*4, 1<<20)

	nf, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("vdir: resize create: %w", err)
	}
	if err := nf.Truncate(int64(total)); err != nil {
		nf.Close()
		return err
	}
	nmm, err := mmap.Map(nf, mmap.RDWR, 0)
	if err != nil {
		nf.Close()
		return err
	}
	h.encode(nmm[0:headerSize])

	newStat := newStatTable(nmm[h.StatTableOffset:h.StatTableOffset+newCap*statEntrySize], newCap)
	newBloom := newBloomView(nmm[h.BloomOffset : h.BloomOffset+h.BloomLen])

	var moved uint32
	for i := uint32(0); i < oldCap; i++ {
		ph := w.stat.loadPathHash(i)
		if ph == 0 {
			continue
		}
		v := w.stat.readBody(i)
		slot := ph & (uint64(newCap) - 1)
		for {
			if newStat.loadPathHash(uint32(slot)) == 0 {
				break
			}
			slot = (slot + 1) & (uint64(newCap) - 1)
		}
		newStat.writeBody(uint32(slot), v)
		newStat.storePathHash(uint32(slot), ph)
		newBloom.set(ph)
		moved++
	}
	h.EntryCount = moved
	h.Generation = w.Generation() + 1
	h.encode(nmm[0:headerSize])

	if err := nmm.Flush(); err != nil {
		nmm.Unmap()
		nf.Close()
		return err
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		nmm.Unmap()
		nf.Close()
		return err
	}

	oldMM, oldF := w.mm, w.f
	w.mm, w.f = nmm, nf
	w.stat = newStat
	w.bl = newBloom
	w.dir = newDirIndex(nmm, h)

	// Old mapping is unlinked-but-mapped from any reader still holding it;
	// we only need to release our own reference.
	_ = oldMM.Unmap()
	_ = oldF.Close()

	return nil
}

// Close flushes and unmaps the writer's mapping.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.mm.Flush(); err != nil {
		return err
	}
	if err := w.mm.Unmap(); err != nil {
		return err
	}
	return w.f.Close()
}
