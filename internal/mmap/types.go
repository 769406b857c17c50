package mmap

import "errors"

// AccessPattern provides hints to the kernel about how the data will be accessed.
type AccessPattern int

const (
	// AccessDefault is the default access pattern (no specific advice).
	AccessDefault AccessPattern = iota
	// AccessSequential expects data to be accessed sequentially.
	AccessSequential
	// AccessRandom expects data to be accessed randomly.
	AccessRandom
	// AccessWillNeed expects data to be accessed in the near future.
	AccessWillNeed
	// AccessDontNeed expects data to not be accessed in the near future.
	AccessDontNeed
)

// PageSize is the granularity of every mapping operation.
const PageSize = 4096

var (
	// ErrInvalidSize is returned when a size is not a positive multiple of PageSize.
	ErrInvalidSize = errors.New("mmap: invalid size")
	// ErrInvalidAlignment is returned when an alignment is not a power of two multiple of PageSize.
	ErrInvalidAlignment = errors.New("mmap: invalid alignment")
	// ErrPartialUnmap is returned on platforms that cannot unmap part of a mapping.
	ErrPartialUnmap = errors.New("mmap: partial unmap not supported")
	// ErrMapFailed is returned when an aligned mapping could not be placed.
	ErrMapFailed = errors.New("mmap: aligned mapping failed")
)
