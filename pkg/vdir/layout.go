// Package vdir implements the shared-memory hash-table directory index
// described in spec.md §4.1: a single mmap file, written by one daemon
// and read wait-free by many client processes, with a release/acquire
// commit protocol guarded by a monotonic generation counter.
package vdir

import (
	"encoding/binary"
	"fmt"
)

const (
	// Magic identifies a valid VDir mmap file ("VMMP" little-endian).
	Magic uint32 = 0x504d4d56
	// Version is the on-disk layout version this package writes/reads.
	Version uint32 = 1

	headerSize = 64

	// statEntrySize is the fixed size of one StatEntry slot:
	// path_hash(8) size(8) mtime_sec(8) mtime_nsec(8) mode(4) flags(4) content_hash(32).
	statEntrySize = 72

	// dirEntrySize is the fixed size of one dir-index slot:
	// parent_hash(8) children_offset(4) children_count(4).
	dirEntrySize = 16

	// childRecordSize is the fixed size of one children-pool record:
	// name_hash(8) name_offset(4) name_len(2) is_dir(1) pad(1).
	childRecordSize = 16

	defaultBloomLen = 32 * 1024 // 32 KiB, per spec.md §4.1
)

// header mirrors the on-disk layout described in spec.md §4.1. All
// offsets are byte offsets from the start of the mapping and are kept
// 8-byte aligned so atomic load/store on the mapped bytes is valid.
type header struct {
	Magic              uint32
	Version            uint32
	Generation         uint64
	EntryCount         uint32
	BloomOffset        uint32
	BloomLen           uint32
	StatTableOffset    uint32
	StatTableCapacity  uint32
	DirIndexOffset     uint32
	DirIndexCapacity   uint32
	ChildrenPoolOffset uint32
	ChildrenCount      uint32
	StringPoolOffset   uint32
	StringPoolLen      uint32
}

func (h *header) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint64(buf[8:16], h.Generation)
	binary.LittleEndian.PutUint32(buf[16:20], h.EntryCount)
	binary.LittleEndian.PutUint32(buf[20:24], h.BloomOffset)
	binary.LittleEndian.PutUint32(buf[24:28], h.BloomLen)
	binary.LittleEndian.PutUint32(buf[28:32], h.StatTableOffset)
	binary.LittleEndian.PutUint32(buf[32:36], h.StatTableCapacity)
	binary.LittleEndian.PutUint32(buf[36:40], h.DirIndexOffset)
	binary.LittleEndian.PutUint32(buf[40:44], h.DirIndexCapacity)
	binary.LittleEndian.PutUint32(buf[44:48], h.ChildrenPoolOffset)
	binary.LittleEndian.PutUint32(buf[48:52], h.ChildrenCount)
	binary.LittleEndian.PutUint32(buf[52:56], h.StringPoolOffset)
	binary.LittleEndian.PutUint32(buf[56:60], h.StringPoolLen)
}

func decodeHeader(buf []byte) (header, error) {
	if len(buf) < headerSize {
		return header{}, fmt.Errorf("vdir: mapping shorter than header")
	}
	var h header
	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	h.Version = binary.LittleEndian.Uint32(buf[4:8])
	h.Generation = binary.LittleEndian.Uint64(buf[8:16])
	h.EntryCount = binary.LittleEndian.Uint32(buf[16:20])
	h.BloomOffset = binary.LittleEndian.Uint32(buf[20:24])
	h.BloomLen = binary.LittleEndian.Uint32(buf[24:28])
	h.StatTableOffset = binary.LittleEndian.Uint32(buf[28:32])
	h.StatTableCapacity = binary.LittleEndian.Uint32(buf[32:36])
	h.DirIndexOffset = binary.LittleEndian.Uint32(buf[36:40])
	h.DirIndexCapacity = binary.LittleEndian.Uint32(buf[40:44])
	h.ChildrenPoolOffset = binary.LittleEndian.Uint32(buf[44:48])
	h.ChildrenCount = binary.LittleEndian.Uint32(buf[48:52])
	h.StringPoolOffset = binary.LittleEndian.Uint32(buf[52:56])
	h.StringPoolLen = binary.LittleEndian.Uint32(buf[56:60])
	return h, nil
}

// layoutSize computes the total mapping size for a stat table of the
// given capacity (must be a power of two) and a string pool budget.
func layoutSize(statCapacity, dirCapacity, childrenCapacity, stringPoolLen uint32) (header, uint32) {
	h := header{
		Magic:             Magic,
		Version:           Version,
		BloomOffset:       headerSize,
		BloomLen:          defaultBloomLen,
		StatTableCapacity: statCapacity,
		DirIndexCapacity:  dirCapacity,
		ChildrenCount:     0,
		StringPoolLen:     stringPoolLen,
	}
	off := h.BloomOffset + h.BloomLen
	h.StatTableOffset = off
	off += statCapacity * statEntrySize
	h.DirIndexOffset = off
	off += dirCapacity * dirEntrySize
	h.ChildrenPoolOffset = off
	off += childrenCapacity * childRecordSize
	h.StringPoolOffset = off
	off += stringPoolLen
	return h, off
}

// nextPow2 returns the smallest power of two >= n (n >= 1).
func nextPow2(n uint32) uint32 {
	if n == 0 {
		return 1
	}
	p := uint32(1)
	for p < n {
		p <<= 1
	}
	return p
}
