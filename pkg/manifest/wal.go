package manifest

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
	"time"

	"github.com/cuemby/vrift/pkg/vnode"
)

// Op identifies the kind of mutation a WAL record represents.
type Op uint8

const (
	OpPut Op = iota + 1
	OpRemove
	OpRename
)

const (
	walMagic     uint32 = 0x4c57_5256 // "VRWL" little-endian
	walVersion   uint32 = 1
	walHeaderLen        = 8

	// flushInterval and flushBatch bound how long a committed record can
	// sit unflushed in the WAL (spec.md §3.1 "background flusher, 100ms
	// / 1000-record batches").
	flushInterval = 100 * time.Millisecond
	flushBatch    = 1000
)

// Record is one WAL entry: a single manifest mutation at a given
// generation (spec.md §3.1 "WAL record {magic, generation, path, vnode,
// crc32}").
type Record struct {
	Generation uint64
	Op         Op
	Path       string
	NewPath    string // only set for OpRename
	VNode      vnode.VNode
}

// WAL is an append-only log of manifest mutations, fsynced in batches.
type WAL struct {
	mu      sync.Mutex
	f       *os.File
	w       *bufio.Writer
	pending int

	stopCh chan struct{}
	doneCh chan struct{}
}

// CreateOrOpenWAL opens the WAL file at path, writing a fresh header if
// the file is new, and starts its background flusher goroutine.
func CreateOrOpenWAL(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() == 0 {
		var hdr [walHeaderLen]byte
		binary.LittleEndian.PutUint32(hdr[0:4], walMagic)
		binary.LittleEndian.PutUint32(hdr[4:8], walVersion)
		if _, err := f.Write(hdr[:]); err != nil {
			f.Close()
			return nil, err
		}
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, err
	}

	w := &WAL{
		f:      f,
		w:      bufio.NewWriter(f),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go w.flushLoop()
	return w, nil
}

func (w *WAL) flushLoop() {
	defer close(w.doneCh)
	t := time.NewTicker(flushInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			w.mu.Lock()
			if w.pending > 0 {
				_ = w.flushLocked()
			}
			w.mu.Unlock()
		case <-w.stopCh:
			return
		}
	}
}

// Append encodes rec and writes it to the buffered WAL, flushing
// immediately if flushBatch pending records have accumulated.
func (w *WAL) Append(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	buf := encodeRecord(rec)
	if _, err := w.w.Write(buf); err != nil {
		return fmt.Errorf("wal: append: %w", err)
	}
	w.pending++
	if w.pending >= flushBatch {
		return w.flushLocked()
	}
	return nil
}

// Flush forces any buffered records to disk immediately.
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *WAL) flushLocked() error {
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("wal: flush buffer: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("wal: fsync: %w", err)
	}
	w.pending = 0
	return nil
}

// Close stops the flusher, flushes any remaining records, and closes
// the file.
func (w *WAL) Close() error {
	close(w.stopCh)
	<-w.doneCh
	if err := w.Flush(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// encodeRecord serializes rec as:
// generation(8) op(1) pathLen(2) path newPathLen(2) newPath vnode(64) crc32(4)
func encodeRecord(rec Record) []byte {
	path := []byte(rec.Path)
	newPath := []byte(rec.NewPath)
	size := 8 + 1 + 2 + len(path) + 2 + len(newPath) + vnode.EncodedSize + 4

	buf := make([]byte, size)
	off := 0
	binary.LittleEndian.PutUint64(buf[off:off+8], rec.Generation)
	off += 8
	buf[off] = byte(rec.Op)
	off++
	binary.LittleEndian.PutUint16(buf[off:off+2], uint16(len(path)))
	off += 2
	off += copy(buf[off:], path)
	binary.LittleEndian.PutUint16(buf[off:off+2], uint16(len(newPath)))
	off += 2
	off += copy(buf[off:], newPath)
	copy(buf[off:off+vnode.EncodedSize], rec.VNode.MarshalBinary())
	off += vnode.EncodedSize

	sum := crc32.ChecksumIEEE(buf[:off])
	binary.LittleEndian.PutUint32(buf[off:off+4], sum)
	return buf
}
