package cas

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// SweepResult summarizes one GC pass over the CAS directory.
type SweepResult struct {
	Scanned int
	Stale   int
	Removed int
	Bytes   int64
}

// Sweep walks the blake3/ tree and classifies every blob as stale if
// its mtime is older than unusedFor (spec.md §6 "--unused-for <duration>
// sweep"). Reference counting is deliberately not used: blobs age out
// purely by staleness (spec.md §4.3.5 note 7). When remove is false the
// pass is a dry run: stale blobs are counted but not removed.
func (s *Store) Sweep(unusedFor time.Duration, remove bool) (SweepResult, error) {
	var res SweepResult
	root := filepath.Join(s.Root, "blake3")
	cutoff := time.Now().Add(-unusedFor)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		res.Scanned++

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("cas: stat %s: %w", path, err)
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		res.Stale++
		if !remove {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("cas: remove %s: %w", path, err)
		}
		res.Removed++
		res.Bytes += info.Size()
		return nil
	})
	if err != nil {
		return res, err
	}
	return res, nil
}
