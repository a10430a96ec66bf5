//go:build !linux

package cas

// reflink and copy_file_range are Linux-specific kernel facilities; on
// other platforms both always fail so promote falls through to rename
// and, ultimately, byteCopy.

func reflink(src, dst string) error {
	return errUnsupported
}

func copyFileRange(src, dst string) error {
	return errUnsupported
}
