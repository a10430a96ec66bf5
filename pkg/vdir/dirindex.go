package vdir

import (
	"encoding/binary"
	"errors"
	"sync/atomic"
	"unsafe"

	"github.com/cuemby/vrift/pkg/pathutil"
)

var errDirIndexFull = errors.New("vdir: dir-index table full")

// dirIndex is a view over the mmap's dir-index table, children pool, and
// string pool, implementing readdir() enumeration (spec.md §4.1
// "Directory enumeration"): parent path hash -> slice of children.
type dirIndex struct {
	mm          []byte
	dirOff      uint32
	dirCap      uint32
	childrenOff uint32
	childrenCap uint32
	stringOff   uint32
	stringLen   uint32
}

// Child describes one directory entry as stored in the children pool.
type Child struct {
	Name  string
	IsDir bool
}

func newDirIndex(mm []byte, h header) dirIndex {
	return dirIndex{
		mm:          mm,
		dirOff:      h.DirIndexOffset,
		dirCap:      h.DirIndexCapacity,
		childrenOff: h.ChildrenPoolOffset,
		childrenCap: (h.StringPoolOffset - h.ChildrenPoolOffset) / childRecordSize,
		stringOff:   h.StringPoolOffset,
		stringLen:   h.StringPoolLen,
	}
}

func (d dirIndex) dirSlotOffset(i uint32) uint32 {
	return d.dirOff + i*dirEntrySize
}

func (d dirIndex) loadParentHash(i uint32) uint64 {
	off := d.dirSlotOffset(i)
	return atomic.LoadUint64((*uint64)(unsafe.Pointer(&d.mm[off])))
}

func (d dirIndex) storeParentHash(i uint32, h uint64) {
	off := d.dirSlotOffset(i)
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&d.mm[off])), h)
}

func (d dirIndex) writeRange(i uint32, childOffset, count uint32) {
	off := d.dirSlotOffset(i)
	binary.LittleEndian.PutUint32(d.mm[off+8:off+12], childOffset)
	binary.LittleEndian.PutUint32(d.mm[off+12:off+16], count)
}

func (d dirIndex) readRange(i uint32) (childOffset, count uint32) {
	off := d.dirSlotOffset(i)
	childOffset = binary.LittleEndian.Uint32(d.mm[off+8 : off+12])
	count = binary.LittleEndian.Uint32(d.mm[off+12 : off+16])
	return
}

func (d dirIndex) probe(h uint64) (uint32, bool) {
	if d.dirCap == 0 {
		return 0, false
	}
	mask := uint64(d.dirCap) - 1
	start := h & mask
	for i := uint64(0); i < uint64(d.dirCap); i++ {
		idx := uint32((start + i) & mask)
		cur := d.loadParentHash(idx)
		if cur == 0 || cur == h {
			return idx, true
		}
	}
	return 0, false
}

func (d dirIndex) find(h uint64) (uint32, bool) {
	if d.dirCap == 0 {
		return 0, false
	}
	mask := uint64(d.dirCap) - 1
	start := h & mask
	for i := uint64(0); i < uint64(d.dirCap); i++ {
		idx := uint32((start + i) & mask)
		cur := d.loadParentHash(idx)
		if cur == 0 {
			return 0, false
		}
		if cur == h {
			return idx, true
		}
	}
	return 0, false
}

func (d dirIndex) childSlotOffset(i uint32) uint32 {
	return d.childrenOff + i*childRecordSize
}

func (d dirIndex) writeChild(i uint32, nameHash uint64, nameOffset uint32, nameLen uint16, isDir bool) {
	off := d.childSlotOffset(i)
	binary.LittleEndian.PutUint64(d.mm[off:off+8], nameHash)
	binary.LittleEndian.PutUint32(d.mm[off+8:off+12], nameOffset)
	binary.LittleEndian.PutUint16(d.mm[off+12:off+14], nameLen)
	if isDir {
		d.mm[off+14] = 1
	} else {
		d.mm[off+14] = 0
	}
}

func (d dirIndex) readChild(i uint32) (nameOffset uint32, nameLen uint16, isDir bool) {
	off := d.childSlotOffset(i)
	nameOffset = binary.LittleEndian.Uint32(d.mm[off+8 : off+12])
	nameLen = binary.LittleEndian.Uint16(d.mm[off+12 : off+14])
	isDir = d.mm[off+14] != 0
	return
}

// PutDir registers directory path with the given children, overwriting
// any previous entry. Only called by the daemon during ingest/commit.
func (d dirIndex) PutDir(path string, children []Child, childCursor, stringCursor *uint32) error {
	h := pathutil.Hash(path)
	slot, ok := d.probe(h)
	if !ok {
		return errDirIndexFull
	}

	base := *childCursor
	for i, c := range children {
		nameOff := *stringCursor
		n := copy(d.mm[d.stringOff+nameOff:d.stringOff+d.stringLen], c.Name)
		*stringCursor += uint32(n)
		d.writeChild(base+uint32(i), pathutil.Hash(c.Name), nameOff, uint16(n), c.IsDir)
	}
	*childCursor += uint32(len(children))

	d.writeRange(slot, base, uint32(len(children)))
	d.storeParentHash(slot, h)
	return nil
}

// Children returns the enumerated children of path, or (nil, false) if
// the directory is not present in the VDir (caller falls back to a real
// readdir() and merges by name, per spec.md §4.2.3).
func (d dirIndex) Children(path string) ([]Child, bool) {
	h := pathutil.Hash(path)
	slot, ok := d.find(h)
	if !ok {
		return nil, false
	}
	base, count := d.readRange(slot)
	out := make([]Child, 0, count)
	for i := uint32(0); i < count; i++ {
		nameOff, nameLen, isDir := d.readChild(base + i)
		name := string(d.mm[d.stringOff+nameOff : d.stringOff+nameOff+uint32(nameLen)])
		out = append(out, Child{Name: name, IsDir: isDir})
	}
	return out, true
}
