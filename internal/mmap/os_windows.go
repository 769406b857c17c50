//go:build windows

package mmap

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// PartialUnmapSupported reports whether UnmapTail can succeed.
const PartialUnmapSupported = false

// alignRetries bounds the reserve, release, re-reserve loop used to place an
// aligned mapping; another thread may claim the address in between.
const alignRetries = 8

func osMapAligned(size, align int) ([]byte, error) {
	if align <= PageSize {
		return osMapAt(0, size)
	}

	for range alignRetries {
		addr, err := windows.VirtualAlloc(0, uintptr(size+align), windows.MEM_RESERVE, windows.PAGE_NOACCESS)
		if err != nil {
			return nil, err
		}

		_ = windows.VirtualFree(addr, 0, windows.MEM_RELEASE)

		aligned := (addr + uintptr(align) - 1) &^ (uintptr(align) - 1)
		if data, err := osMapAt(aligned, size); err == nil {
			return data, nil
		}
	}

	return nil, ErrMapFailed
}

func osMapAt(addr uintptr, size int) ([]byte, error) {
	// VirtualAlloc with MEM_COMMIT uses demand paging, so untouched pages are
	// not backed by physical memory.
	got, err := windows.VirtualAlloc(addr, uintptr(size),
		windows.MEM_RESERVE|windows.MEM_COMMIT, windows.PAGE_READWRITE)
	if err != nil {
		return nil, err
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(got)), size), nil
}

func osUnmap(data []byte) error {
	// MEM_RELEASE frees the entire reservation.
	return windows.VirtualFree(Addr(data), 0, windows.MEM_RELEASE)
}

func osUnmapTail(data []byte, keep int) error {
	return ErrPartialUnmap
}

func osDecommit(data []byte) error {
	return windows.VirtualFree(Addr(data), uintptr(len(data)), windows.MEM_DECOMMIT)
}

func osCommit(data []byte) error {
	_, err := windows.VirtualAlloc(Addr(data), uintptr(len(data)), windows.MEM_COMMIT, windows.PAGE_READWRITE)
	return err
}

func osAdvise(data []byte, pattern AccessPattern) error {
	// Windows does not have a direct equivalent to madvise.
	_ = data
	_ = pattern
	return nil
}
