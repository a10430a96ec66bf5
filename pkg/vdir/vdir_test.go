package vdir

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/vrift/pkg/vnode"
)

func mustVNode(t *testing.T, seed byte) vnode.VNode {
	t.Helper()
	var ch vnode.ContentHash
	for i := range ch {
		ch[i] = seed
	}
	return vnode.VNode{
		ContentHash: ch,
		Size:        1024,
		MtimeSec:    1700000000,
		MtimeNsec:   0,
		Mode:        0644,
	}
}

func TestWriterReaderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vdir.mmap")

	w, err := Create(path, 64, 16, 256)
	require.NoError(t, err)
	defer w.Close()

	v := mustVNode(t, 0xAB)
	gen, err := w.Put("/src/main.go", v)
	require.NoError(t, err)
	require.Equal(t, uint64(1), gen)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	got, found, err := r.Lookup("/src/main.go")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, v.ContentHash, got.ContentHash)
	require.Equal(t, v.Size, got.Size)

	_, found, err = r.Lookup("/src/missing.go")
	require.NoError(t, err)
	require.False(t, found)
}

func TestBloomFilterNegative(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vdir.mmap")

	w, err := Create(path, 64, 16, 256)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Put("/a/one.txt", mustVNode(t, 1))
	require.NoError(t, err)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	for _, p := range []string{"/nope", "/a/two.txt", "/never/seen"} {
		_, found, err := r.Lookup(p)
		require.NoError(t, err)
		require.False(t, found)
	}

	_, found, err := r.Lookup("/definitely/not/present")
	require.NoError(t, err)
	require.False(t, found)
}

func TestRemoveTombstone(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vdir.mmap")

	w, err := Create(path, 64, 16, 256)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Put("/f.txt", mustVNode(t, 2))
	require.NoError(t, err)
	_, err = w.Remove("/f.txt")
	require.NoError(t, err)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	got, found, err := r.Lookup("/f.txt")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, got.Flags.Has(vnode.FlagDeleted))
}

func TestRenamePublishesBeforeTombstoning(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vdir.mmap")

	w, err := Create(path, 64, 16, 256)
	require.NoError(t, err)
	defer w.Close()

	v := mustVNode(t, 3)
	_, err = w.Put("/old.txt", v)
	require.NoError(t, err)
	_, err = w.Rename("/old.txt", "/new.txt")
	require.NoError(t, err)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	got, found, err := r.Lookup("/new.txt")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, v.ContentHash, got.ContentHash)
	require.False(t, got.Flags.Has(vnode.FlagDeleted))

	oldV, found, err := r.Lookup("/old.txt")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, oldV.Flags.Has(vnode.FlagDeleted))
}

// TestTornReadGuard exercises spec.md §8 scenario S4: a writer publishing
// new generations concurrently with many readers must never let a reader
// observe a half-written slot body under a mismatched generation bracket.
func TestTornReadGuard(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vdir.mmap")

	w, err := Create(path, 1024, 16, 256)
	require.NoError(t, err)
	defer w.Close()

	const path1 = "/churn/file.txt"
	_, err = w.Put(path1, mustVNode(t, 0x10))
	require.NoError(t, err)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	var stop int32
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		seed := byte(0x10)
		for atomic.LoadInt32(&stop) == 0 {
			seed++
			_, err := w.Put(path1, mustVNode(t, seed))
			if err != nil {
				return
			}
		}
	}()

	errs := make(chan error, 8)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for atomic.LoadInt32(&stop) == 0 {
				v, found, err := r.Lookup(path1)
				if err != nil {
					// ErrRetriesExhausted is an acceptable outcome under
					// heavy contention; any other error is a bug.
					if err != ErrRetriesExhausted {
						errs <- err
						return
					}
					continue
				}
				if !found {
					errs <- fmt.Errorf("lost entry mid-churn")
					return
				}
				for _, b := range v.ContentHash {
					if b != v.ContentHash[0] {
						errs <- fmt.Errorf("torn read observed: %x", v.ContentHash)
						return
					}
				}
			}
		}()
	}

	time.Sleep(200 * time.Millisecond)
	atomic.StoreInt32(&stop, 1)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

// TestResizeAndRemap forces the load factor past maxLoadFactor so the
// daemon-side Writer resizes and renames a new mapping into place, then
// confirms a client using LookupWithRemap still finds every entry.
func TestResizeAndRemap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vdir.mmap")

	w, err := Create(path, 8, 4, 64)
	require.NoError(t, err)
	defer w.Close()

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	paths := make([]string, 0, 16)
	for i := 0; i < 16; i++ {
		p := fmt.Sprintf("/resize/f%02d.txt", i)
		paths = append(paths, p)
		_, err := w.Put(p, mustVNode(t, byte(i+1)))
		require.NoError(t, err)
	}

	for _, p := range paths {
		v, found, err := r.LookupWithRemap(p)
		require.NoErrorf(t, err, "lookup %s after resize", p)
		require.Truef(t, found, "missing %s after resize", p)
		require.NotZero(t, v.Size)
	}
}

func TestReadirEnumeration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vdir.mmap")

	w, err := Create(path, 64, 16, 256)
	require.NoError(t, err)
	defer w.Close()

	var childCursor, stringCursor uint32
	err = w.dir.PutDir("/pkg", []Child{
		{Name: "a.go", IsDir: false},
		{Name: "b.go", IsDir: false},
		{Name: "sub", IsDir: true},
	}, &childCursor, &stringCursor)
	require.NoError(t, err)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	children, ok := r.Readdir("/pkg")
	require.True(t, ok)
	require.Len(t, children, 3)
	require.Equal(t, "a.go", children[0].Name)
	require.True(t, children[2].IsDir)

	_, ok = r.Readdir("/unknown")
	require.False(t, ok)
}

func TestWriterPutDirExportedWrapper(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vdir.mmap")

	w, err := Create(path, 64, 16, 256)
	require.NoError(t, err)
	defer w.Close()

	gen, err := w.PutDir("/pkg", []Child{
		{Name: "a.go", IsDir: false},
		{Name: "sub", IsDir: true},
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1), gen)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	children, ok := r.Readdir("/pkg")
	require.True(t, ok)
	require.Len(t, children, 2)
}

func TestOpenRejectsCorruptMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vdir.mmap")

	w, err := Create(path, 8, 4, 64)
	require.NoError(t, err)
	w.Close()

	// Corrupt the magic in place.
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0, 0, 0, 0}, 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Open(path)
	require.ErrorIs(t, err, ErrCorrupt)
}
