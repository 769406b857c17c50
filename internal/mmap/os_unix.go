//go:build unix || linux || darwin || freebsd || openbsd || netbsd

package mmap

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// PartialUnmapSupported reports whether UnmapTail can succeed.
const PartialUnmapSupported = true

func osMapAligned(size, align int) ([]byte, error) {
	prot := unix.PROT_READ | unix.PROT_WRITE
	flags := unix.MAP_ANON | unix.MAP_PRIVATE

	// Over-allocate and trim so the result starts on an align boundary.
	total := size
	if align > PageSize {
		total += align
	}

	p, err := unix.MmapPtr(-1, 0, nil, uintptr(total), prot, flags)
	if err != nil {
		return nil, err
	}

	base := uintptr(p)
	pre := int(((base + uintptr(align) - 1) &^ (uintptr(align) - 1)) - base)
	post := total - pre - size

	if pre > 0 {
		if err := unix.MunmapPtr(p, uintptr(pre)); err != nil {
			_ = unix.MunmapPtr(p, uintptr(total))
			return nil, err
		}
	}

	start := unsafe.Add(p, pre)

	if post > 0 {
		if err := unix.MunmapPtr(unsafe.Add(start, size), uintptr(post)); err != nil {
			_ = unix.MunmapPtr(start, uintptr(size+post))
			return nil, err
		}
	}

	return unsafe.Slice((*byte)(start), size), nil
}

func osUnmap(data []byte) error {
	// unix.Munmap only accepts slices it returned itself, so aligned
	// mappings go through the pointer variant.
	return unix.MunmapPtr(unsafe.Pointer(unsafe.SliceData(data)), uintptr(len(data)))
}

func osUnmapTail(data []byte, keep int) error {
	tail := data[keep:]
	return unix.MunmapPtr(unsafe.Pointer(unsafe.SliceData(tail)), uintptr(len(tail)))
}

func osDecommit(data []byte) error {
	return osAdvise(data, AccessDontNeed)
}

func osCommit(data []byte) error {
	// Decommitted anonymous pages fault back in as zero pages on access.
	return osAdvise(data, AccessWillNeed)
}

func osAdvise(data []byte, pattern AccessPattern) error {
	if len(data) == 0 {
		return nil
	}

	var advice int
	switch pattern {
	case AccessSequential:
		advice = unix.MADV_SEQUENTIAL
	case AccessRandom:
		advice = unix.MADV_RANDOM
	case AccessWillNeed:
		advice = unix.MADV_WILLNEED
	case AccessDontNeed:
		advice = unix.MADV_DONTNEED
	default:
		advice = unix.MADV_NORMAL
	}

	// The hint is advisory; unaligned ranges are rejected with EINVAL on
	// Linux and ignored here.
	err := unix.Madvise(data, advice)
	if err == unix.EINVAL {
		return nil
	}
	return err
}
