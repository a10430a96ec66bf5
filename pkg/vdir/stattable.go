package vdir

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"

	"github.com/cuemby/vrift/pkg/vnode"
)

// statTable is a view over the mmap's stat-table region: an open-addressed,
// linearly-probed array of fixed-size slots keyed by fnv1a path hash
// (spec.md §4.1). A slot is empty iff its path_hash word is zero.
type statTable struct {
	buf      []byte // the table region only, len == capacity*statEntrySize
	capacity uint32
}

func newStatTable(buf []byte, capacity uint32) statTable {
	return statTable{buf: buf, capacity: capacity}
}

func (t statTable) slotOffset(i uint32) int {
	return int(i) * statEntrySize
}

// loadPathHash acquire-loads the path_hash word of slot i.
func (t statTable) loadPathHash(i uint32) uint64 {
	off := t.slotOffset(i)
	return atomic.LoadUint64((*uint64)(unsafe.Pointer(&t.buf[off])))
}

// storePathHash release-stores the path_hash word of slot i. This must be
// the last field written when publishing a slot (spec.md §4.1 step 3).
func (t statTable) storePathHash(i uint32, h uint64) {
	off := t.slotOffset(i)
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&t.buf[off])), h)
}

// writeBody writes every field of the slot except path_hash. Callers must
// call storePathHash afterwards to publish the slot (spec.md §4.1 step 2-3).
func (t statTable) writeBody(i uint32, v vnode.VNode) {
	off := t.slotOffset(i)
	body := v.MarshalBinary() // 64 bytes: hash(32) size(8) mtime_sec(8) mtime_nsec(8) mode(4) flags(4)
	// slot layout: path_hash(8) size(8) mtime_sec(8) mtime_nsec(8) mode(4) flags(4) content_hash(32)
	binary.LittleEndian.PutUint64(t.buf[off+8:off+16], v.Size)
	binary.LittleEndian.PutUint64(t.buf[off+16:off+24], uint64(v.MtimeSec))
	binary.LittleEndian.PutUint64(t.buf[off+24:off+32], uint64(v.MtimeNsec))
	binary.LittleEndian.PutUint32(t.buf[off+32:off+36], v.Mode)
	binary.LittleEndian.PutUint32(t.buf[off+36:off+40], uint32(v.Flags))
	copy(t.buf[off+40:off+72], body[0:32]) // content_hash
}

// readBody reads every field of the slot except path_hash. Callers should
// have already confirmed path_hash matched the query under an acquire load.
func (t statTable) readBody(i uint32) vnode.VNode {
	off := t.slotOffset(i)
	var v vnode.VNode
	v.Size = binary.LittleEndian.Uint64(t.buf[off+8 : off+16])
	v.MtimeSec = int64(binary.LittleEndian.Uint64(t.buf[off+16 : off+24]))
	v.MtimeNsec = int64(binary.LittleEndian.Uint64(t.buf[off+24 : off+32]))
	v.Mode = binary.LittleEndian.Uint32(t.buf[off+32 : off+36])
	v.Flags = vnode.Flags(binary.LittleEndian.Uint32(t.buf[off+36 : off+40]))
	copy(v.ContentHash[:], t.buf[off+40:off+72])
	return v
}

func (t statTable) mask() uint64 {
	return uint64(t.capacity) - 1
}
