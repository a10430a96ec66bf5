//go:build linux

package daemon

import "golang.org/x/sys/unix"

type statfser struct {
	free uint64
}

func (s *statfser) diskFree(path string) error {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return err
	}
	s.free = st.Bavail * uint64(st.Bsize)
	return nil
}
