package mmap

import "unsafe"

// Map creates an anonymous read-write mapping of size bytes.
func Map(size int) ([]byte, error) {
	if size <= 0 || size%PageSize != 0 {
		return nil, ErrInvalidSize
	}

	return osMapAligned(size, PageSize)
}

// MapAligned creates an anonymous read-write mapping of size bytes whose
// address is a multiple of align.
func MapAligned(size, align int) ([]byte, error) {
	if size <= 0 || size%PageSize != 0 {
		return nil, ErrInvalidSize
	}

	if align < PageSize || align&(align-1) != 0 {
		return nil, ErrInvalidAlignment
	}

	return osMapAligned(size, align)
}

// Unmap releases a mapping returned by Map or MapAligned.
func Unmap(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	return osUnmap(data)
}

// UnmapTail releases the pages of data after the first keep bytes.
// keep must be a positive multiple of PageSize.
func UnmapTail(data []byte, keep int) error {
	if keep <= 0 || keep%PageSize != 0 || keep > len(data) {
		return ErrInvalidSize
	}

	if keep == len(data) {
		return nil
	}

	return osUnmapTail(data, keep)
}

// Decommit releases the physical pages backing data. The range stays mapped
// and reads as zero after Commit.
func Decommit(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	return osDecommit(data)
}

// Commit makes a decommitted range usable again.
func Commit(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	return osCommit(data)
}

// Advise provides hints to the kernel about how the memory will be accessed.
func Advise(data []byte, pattern AccessPattern) error {
	if len(data) == 0 {
		return nil
	}

	return osAdvise(data, pattern)
}

// Addr returns the address of the first byte of data.
func Addr(data []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(data)))
}
