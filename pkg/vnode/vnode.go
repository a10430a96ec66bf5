// Package vnode defines the per-file metadata record shared by the
// manifest, the VDir stat table, and the wire protocol (spec.md §3.1).
package vnode

import "fmt"

// HashSize is the length in bytes of a ContentHash (BLAKE3-256 digest).
const HashSize = 32

// EncodedSize is the fixed size in bytes of a marshaled VNode.
const EncodedSize = 64

// ContentHash is the 32-byte BLAKE3 digest of a blob's content.
type ContentHash [HashSize]byte

// String renders the hash as the lowercase hex string used in CAS blob
// paths and wire payloads. Uppercase output is a regressed defect
// (spec.md §9 note 1) and must never occur.
func (h ContentHash) String() string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, HashSize*2)
	for i, b := range h {
		buf[i*2] = hextable[b>>4]
		buf[i*2+1] = hextable[b&0x0f]
	}
	return string(buf)
}

// IsZero reports whether h is the all-zero hash (no content assigned yet).
func (h ContentHash) IsZero() bool {
	for _, b := range h {
		if b != 0 {
			return false
		}
	}
	return true
}

// Flags is a bitset of VNode status flags (spec.md §3.1).
type Flags uint32

const (
	// FlagDirty means a write is in progress; readers must consult the
	// staging area rather than trust this VNode's content_hash.
	FlagDirty Flags = 1 << iota
	// FlagDeleted marks a manifest tombstone.
	FlagDeleted
	// FlagSymlink marks the entry as a symbolic link (content_hash
	// refers to a blob holding the link target text).
	FlagSymlink
	// FlagDir marks the entry as a directory.
	FlagDir
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// VNode is the fixed-size metadata record stored in the manifest and
// mirrored into the VDir stat table (spec.md §3.1: 64 bytes, aligned).
type VNode struct {
	ContentHash ContentHash
	Size        uint64
	MtimeSec    int64
	MtimeNsec   int64
	Mode        uint32
	Flags       Flags
}

// MarshalBinary encodes the VNode into the fixed 64-byte wire/stat-table
// layout: content_hash(32) size(8) mtime_sec(8) mtime_nsec(8) mode(4)
// flags(4) = 64 bytes exactly.
func (v VNode) MarshalBinary() []byte {
	buf := make([]byte, EncodedSize)
	copy(buf[0:32], v.ContentHash[:])
	putU64(buf[32:40], v.Size)
	putU64(buf[40:48], uint64(v.MtimeSec))
	putU64(buf[48:56], uint64(v.MtimeNsec))
	putU32(buf[56:60], v.Mode)
	putU32(buf[60:64], uint32(v.Flags))
	return buf
}

// UnmarshalVNode decodes a 64-byte buffer produced by MarshalBinary.
func UnmarshalVNode(buf []byte) (VNode, error) {
	if len(buf) < EncodedSize {
		return VNode{}, fmt.Errorf("vnode: short buffer: %d bytes", len(buf))
	}
	var v VNode
	copy(v.ContentHash[:], buf[0:32])
	v.Size = getU64(buf[32:40])
	v.MtimeSec = int64(getU64(buf[40:48]))
	v.MtimeNsec = int64(getU64(buf[48:56]))
	v.Mode = getU32(buf[56:60])
	v.Flags = Flags(getU32(buf[60:64]))
	return v, nil
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func getU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

func putU32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func getU32(b []byte) uint32 {
	var v uint32
	for i := 0; i < 4; i++ {
		v |= uint32(b[i]) << (8 * i)
	}
	return v
}
