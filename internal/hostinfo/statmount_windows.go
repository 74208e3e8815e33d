//go:build windows

package hostinfo

import (
	"syscall"
	"unsafe"
)

func statMount(mount string) (total, avail uint64, fstype string, err error) {
	kernel32 := syscall.NewLazyDLL("kernel32.dll")
	proc := kernel32.NewProc("GetDiskFreeSpaceExW")
	pathPtr, err := syscall.UTF16PtrFromString(mount)
	if err != nil {
		return 0, 0, "", err
	}
	var freeAvail, totalBytes uint64
	_, _, callErr := proc.Call(
		uintptr(unsafe.Pointer(pathPtr)),
		uintptr(unsafe.Pointer(&freeAvail)),
		uintptr(unsafe.Pointer(&totalBytes)),
		0,
	)
	if totalBytes == 0 && callErr != syscall.Errno(0) {
		return 0, 0, "", callErr
	}
	return totalBytes, freeAvail, "", nil
}
