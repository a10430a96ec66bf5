package cas

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// errUnsupported is returned by the platform-specific reflink/
// copy_file_range stubs on platforms where the kernel facility does not
// exist, signaling promote to fall through to the next strategy.
var errUnsupported = errors.New("cas: unsupported on this platform")

// promote moves src into dst following the fallback chain in spec.md
// §4.3.3: reflink (same-filesystem copy-on-write clone) -> hardlink ->
// rename -> copy_file_range -> byte copy. The first strategy that
// succeeds wins. EEXIST at any step is treated as success: the blob is
// already present (spec.md §4.3.5 "tolerates EEXIST").
func promote(src, dst string) error {
	if reflink(src, dst) == nil {
		return cleanupSource(src)
	}
	if err := os.Link(src, dst); err == nil || errors.Is(err, os.ErrExist) {
		return cleanupSource(src)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	} else if errors.Is(err, os.ErrExist) {
		return cleanupSource(src)
	}
	if copyFileRange(src, dst) == nil {
		return cleanupSource(src)
	}
	if err := byteCopy(src, dst); err != nil {
		return fmt.Errorf("cas: promote %s -> %s: %w", src, dst, err)
	}
	return cleanupSource(src)
}

// cleanupSource removes the staging file once its content has been
// promoted (or was already present under the target hash).
func cleanupSource(src string) error {
	if err := os.Remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("cas: cleanup staging %s: %w", src, err)
	}
	return nil
}

// byteCopy is the universal last resort: a plain user-space copy,
// always available regardless of filesystem or kernel support.
func byteCopy(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREAT|os.O_EXCL, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil
		}
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		os.Remove(dst)
		return err
	}
	return nil
}
