//go:build windows

package updater

import (
	"syscall"
	"unsafe"
)

func freeBytes(dir string) (uint64, error) {
	var freeBytesAvailable uint64
	kernel32 := syscall.NewLazyDLL("kernel32.dll")
	proc := kernel32.NewProc("GetDiskFreeSpaceExW")
	pathPtr, err := syscall.UTF16PtrFromString(dir)
	if err != nil {
		return 0, err
	}
	_, _, callErr := proc.Call(
		uintptr(unsafe.Pointer(pathPtr)),
		uintptr(unsafe.Pointer(&freeBytesAvailable)),
		0, 0,
	)
	if freeBytesAvailable == 0 && callErr != syscall.Errno(0) {
		return 0, callErr
	}
	return freeBytesAvailable, nil
}
