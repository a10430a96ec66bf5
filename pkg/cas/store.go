// Package cas implements the content-addressed blob store described in
// spec.md §3.1/§4.3.3/§6.2: immutable blobs named by their BLAKE3 digest
// under <cas_root>/blake3/<hh>/<hash>_<size>.bin, promoted into place
// from a staging file via the reflink/hardlink/rename/copy_file_range
// fallback chain, and swept by mtime-based garbage collection.
package cas

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"lukechampine.com/blake3"

	"github.com/cuemby/vrift/pkg/vnode"
)

// Store is a single content-addressed blob directory rooted at Root.
// One Store serves one project's CAS (spec.md §6.2: "<project>/.vrift/cas/").
type Store struct {
	Root string
}

// Open returns a Store rooted at root, creating the blake3/ subdirectory
// if it does not already exist.
func Open(root string) (*Store, error) {
	algoDir := filepath.Join(root, "blake3")
	if err := os.MkdirAll(algoDir, 0700); err != nil {
		return nil, fmt.Errorf("cas: mkdir %s: %w", algoDir, err)
	}
	return &Store{Root: root}, nil
}

// BlobPath returns the path a blob of the given hash and size is stored
// at, per spec.md §3.1: blake3/<hh>/<hhhh...>_<size>.bin, lowercase hex
// mandatory (a regressed defect otherwise — spec.md §9 note 1).
func (s *Store) BlobPath(hash vnode.ContentHash, size uint64) string {
	hex := hash.String()
	return filepath.Join(s.Root, "blake3", hex[0:2], fmt.Sprintf("%s_%d.bin", hex, size))
}

// Exists reports whether the blob for hash/size is already present.
func (s *Store) Exists(hash vnode.ContentHash, size uint64) bool {
	_, err := os.Stat(s.BlobPath(hash, size))
	return err == nil
}

// OpenBlob opens an existing blob for reading.
func (s *Store) OpenBlob(hash vnode.ContentHash, size uint64) (*os.File, error) {
	return os.Open(s.BlobPath(hash, size))
}

// HashReader streams r through BLAKE3, returning the digest and byte
// count. This is the "hash the staging file" step of spec.md §4.3.3.
func HashReader(r io.Reader) (vnode.ContentHash, uint64, error) {
	h := blake3.New(32, nil)
	n, err := io.Copy(h, r)
	if err != nil {
		return vnode.ContentHash{}, 0, fmt.Errorf("cas: hash: %w", err)
	}
	var out vnode.ContentHash
	copy(out[:], h.Sum(nil))
	return out, uint64(n), nil
}

// HashFile hashes the file at path without loading it into memory.
func HashFile(path string) (vnode.ContentHash, uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return vnode.ContentHash{}, 0, fmt.Errorf("cas: open %s: %w", path, err)
	}
	defer f.Close()
	return HashReader(f)
}

// Ingest hashes stagingPath and promotes it into the store, returning the
// resulting hash and size. It is dedup-tolerant: if the blob already
// exists, the staging file is discarded and no error is returned
// (spec.md §4.3.5 "concurrent creation of the same blob is idempotent").
func (s *Store) Ingest(stagingPath string) (vnode.ContentHash, uint64, error) {
	hash, size, err := HashFile(stagingPath)
	if err != nil {
		return vnode.ContentHash{}, 0, err
	}

	dst := s.BlobPath(hash, size)
	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return vnode.ContentHash{}, 0, fmt.Errorf("cas: mkdir %s: %w", filepath.Dir(dst), err)
	}

	if err := promote(stagingPath, dst); err != nil {
		return vnode.ContentHash{}, 0, err
	}
	return hash, size, nil
}
