// Package manifest implements the persistent path -> VNode store described
// in spec.md §3.1/§4.3.3/§4.3.4: a monotonically generationed key-value
// mapping, backed by a write-ahead log for crash recovery and a bbolt
// database for durable, ordered storage.
package manifest

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/vrift/pkg/vnode"
)

var (
	bucketVNodes = []byte("vnodes")
	bucketMeta   = []byte("meta")

	metaKeyGeneration = []byte("generation")
)

// Store is the manifest's durable half: a single bbolt database holding
// one bucket of path -> VNode entries and a meta bucket tracking the
// monotonic generation counter (spec.md §6.2 names the directory
// manifest.lmdb/; this implementation keeps a single bbolt file at
// <project>/.vrift/manifest.db).
type Store struct {
	mu sync.RWMutex
	db *bolt.DB
}

// Open opens (creating if necessary) the manifest database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("manifest: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketVNodes); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("manifest: init buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Generation returns the last-applied generation counter, 0 if none.
func (s *Store) Generation() (uint64, error) {
	var gen uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta).Get(metaKeyGeneration)
		if b == nil {
			return nil
		}
		gen = binary.LittleEndian.Uint64(b)
		return nil
	})
	return gen, err
}

// Get returns the VNode stored for path, if any.
func (s *Store) Get(path string) (vnode.VNode, bool, error) {
	var v vnode.VNode
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketVNodes).Get([]byte(path))
		if raw == nil {
			return nil
		}
		decoded, err := vnode.UnmarshalVNode(raw)
		if err != nil {
			return fmt.Errorf("manifest: corrupt entry for %q: %w", path, err)
		}
		v = decoded
		found = true
		return nil
	})
	return v, found, err
}

// Put upserts the VNode for path and advances the generation counter to
// generation, which must be monotonically increasing across calls
// (enforced by the caller, the WAL replay loop and the daemon's commit
// path — spec.md §4.1 "monotonic generation counter").
func (s *Store) Put(path string, v vnode.VNode, generation uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketVNodes).Put([]byte(path), v.MarshalBinary()); err != nil {
			return err
		}
		return setGeneration(tx, generation)
	})
}

// Remove deletes the manifest entry for path and advances the generation.
func (s *Store) Remove(path string, generation uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketVNodes).Delete([]byte(path)); err != nil {
			return err
		}
		return setGeneration(tx, generation)
	})
}

// Rename moves the VNode at oldPath to newPath, advancing the generation.
func (s *Store) Rename(oldPath, newPath string, generation uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVNodes)
		raw := b.Get([]byte(oldPath))
		if raw == nil {
			return fmt.Errorf("manifest: rename: %q not present", oldPath)
		}
		cp := append([]byte(nil), raw...)
		if err := b.Put([]byte(newPath), cp); err != nil {
			return err
		}
		if err := b.Delete([]byte(oldPath)); err != nil {
			return err
		}
		return setGeneration(tx, generation)
	})
}

// ListDir returns every manifest path that is a direct child of dir,
// matching spec.md's ManifestListDir wire operation (§6.1). dir must be
// normalized (pkg/pathutil.Normalize) and without a trailing slash,
// except for the root "/".
func (s *Store) ListDir(dir string) ([]string, error) {
	prefix := dir
	if prefix != "/" {
		prefix += "/"
	}

	var out []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketVNodes).Cursor()
		for k, _ := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
			rest := strings.TrimPrefix(string(k), prefix)
			if rest == "" || strings.Contains(rest, "/") {
				continue // nested deeper than a direct child
			}
			out = append(out, string(k))
		}
		return nil
	})
	return out, err
}

// All returns every path -> VNode entry currently in the manifest, for
// rebuilding a derived structure (the VDir mmap) from the durable store
// at daemon startup.
func (s *Store) All() (map[string]vnode.VNode, error) {
	out := make(map[string]vnode.VNode)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketVNodes).Cursor()
		for k, raw := c.First(); k != nil; k, raw = c.Next() {
			v, err := vnode.UnmarshalVNode(raw)
			if err != nil {
				return fmt.Errorf("manifest: corrupt entry for %q: %w", k, err)
			}
			out[string(k)] = v
		}
		return nil
	})
	return out, err
}

func setGeneration(tx *bolt.Tx, generation uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], generation)
	return tx.Bucket(bucketMeta).Put(metaKeyGeneration, buf[:])
}
