package manifest

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/cuemby/vrift/pkg/vnode"
)

// ErrBadMagic is returned when a WAL file's header does not match the
// expected magic/version.
var ErrBadMagic = errors.New("wal: bad magic or unsupported version")

// Recover opens the manifest database at manifestPath, replays any WAL
// records at walPath with a generation greater than the manifest's
// current generation, and returns the recovered, ready-to-use Store
// plus a fresh WAL appender positioned at end-of-file (spec.md §4.3.4
// "replay on startup with CRC verification and torn-tail detection").
func Recover(manifestPath, walPath string) (*Store, *WAL, error) {
	store, err := Open(manifestPath)
	if err != nil {
		return nil, nil, err
	}

	applied, err := replayInto(store, walPath)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	wal, err := CreateOrOpenWAL(walPath)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	_ = applied
	return store, wal, nil
}

// replayInto reads every well-formed record from the WAL at walPath and
// folds it into store, skipping records at or below the manifest's
// current generation (they were already durably applied before a prior
// crash). A truncated final record (a torn tail left by a crash
// mid-write) ends replay silently rather than returning an error.
func replayInto(store *Store, walPath string) (int, error) {
	f, err := os.Open(walPath)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("wal: open %s for replay: %w", walPath, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)

	var hdr [walHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, nil // empty or header-only file
		}
		return 0, fmt.Errorf("wal: read header: %w", err)
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != walMagic || binary.LittleEndian.Uint32(hdr[4:8]) != walVersion {
		return 0, ErrBadMagic
	}

	lastGen, err := store.Generation()
	if err != nil {
		return 0, err
	}

	applied := 0
	for {
		rec, ok, err := readRecord(r)
		if err != nil {
			return applied, fmt.Errorf("wal: replay: %w", err)
		}
		if !ok {
			break // clean EOF or torn tail; stop without error
		}
		if rec.Generation <= lastGen {
			continue
		}
		if err := applyRecord(store, rec); err != nil {
			return applied, fmt.Errorf("wal: apply generation %d: %w", rec.Generation, err)
		}
		applied++
	}
	return applied, nil
}

// readRecord reads one record from r. ok is false (with a nil error) on
// a clean EOF, any short read, or a CRC mismatch, so replay stops at the
// first invalid record; an error is returned only when a CRC-valid
// record's VNode payload fails to decode.
func readRecord(r *bufio.Reader) (Record, bool, error) {
	var fixed [8 + 1 + 2]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return Record{}, false, nil // EOF or torn tail before the fixed header
	}

	generation := binary.LittleEndian.Uint64(fixed[0:8])
	op := Op(fixed[8])
	pathLen := binary.LittleEndian.Uint16(fixed[9:11])

	path := make([]byte, pathLen)
	if _, err := io.ReadFull(r, path); err != nil {
		return Record{}, false, nil
	}

	var newPathLenBuf [2]byte
	if _, err := io.ReadFull(r, newPathLenBuf[:]); err != nil {
		return Record{}, false, nil
	}
	newPathLen := binary.LittleEndian.Uint16(newPathLenBuf[:])

	newPath := make([]byte, newPathLen)
	if _, err := io.ReadFull(r, newPath); err != nil {
		return Record{}, false, nil
	}

	vbuf := make([]byte, vnode.EncodedSize)
	if _, err := io.ReadFull(r, vbuf); err != nil {
		return Record{}, false, nil
	}

	var crcBuf [4]byte
	if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
		return Record{}, false, nil
	}
	wantCRC := binary.LittleEndian.Uint32(crcBuf[:])

	full := make([]byte, 0, len(fixed)+len(path)+len(newPathLenBuf)+len(newPath)+len(vbuf))
	full = append(full, fixed[:]...)
	full = append(full, path...)
	full = append(full, newPathLenBuf[:]...)
	full = append(full, newPath...)
	full = append(full, vbuf...)
	gotCRC := crc32.ChecksumIEEE(full)
	if gotCRC != wantCRC {
		return Record{}, false, nil // torn or corrupted tail
	}

	v, err := vnode.UnmarshalVNode(vbuf)
	if err != nil {
		return Record{}, false, err
	}

	return Record{
		Generation: generation,
		Op:         op,
		Path:       string(path),
		NewPath:    string(newPath),
		VNode:      v,
	}, true, nil
}

func applyRecord(store *Store, rec Record) error {
	switch rec.Op {
	case OpPut:
		return store.Put(rec.Path, rec.VNode, rec.Generation)
	case OpRemove:
		return store.Remove(rec.Path, rec.Generation)
	case OpRename:
		return store.Rename(rec.Path, rec.NewPath, rec.Generation)
	default:
		return fmt.Errorf("wal: unknown op %d", rec.Op)
	}
}
