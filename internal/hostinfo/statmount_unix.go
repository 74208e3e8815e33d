//go:build !windows

package hostinfo

import "syscall"

func statMount(mount string) (total, avail uint64, fstype string, err error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(mount, &st); err != nil {
		return 0, 0, "", err
	}
	bsize := uint64(st.Bsize)
	return st.Blocks * bsize, st.Bavail * bsize, "", nil
}
