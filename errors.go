package bufalloc

import (
	"errors"
	"fmt"

	"github.com/hupe1980/bufalloc/internal/sizeclass"
)

var (
	// ErrOutOfMemory is returned when the page allocator cannot supply memory.
	ErrOutOfMemory = errors.New("bufalloc: out of memory")
	// ErrInvalidSize is returned for allocation sizes that cannot be served.
	ErrInvalidSize = errors.New("bufalloc: invalid allocation size")
	// ErrInvalidState is returned when an operation is not valid in the
	// current collection state.
	ErrInvalidState = errors.New("bufalloc: invalid collection state")
	// ErrClosed is returned when using a closed allocator.
	ErrClosed = errors.New("bufalloc: allocator closed")
	// ErrBusy is returned by Close while a collection is in progress.
	ErrBusy = errors.New("bufalloc: collection in progress")
)

// AllocError describes a failed allocation.
//
// The underlying error can be accessed via errors.Unwrap; errors.Is reports
// ErrOutOfMemory for exhausted memory.
type AllocError struct {
	Tier  sizeclass.Kind
	Bytes int
	cause error
}

func (e *AllocError) Error() string {
	return fmt.Sprintf("bufalloc: %s allocation of %d bytes failed: %v", e.Tier, e.Bytes, e.cause)
}

func (e *AllocError) Unwrap() error { return e.cause }

// InvariantError reports heap corruption found by Verify.
type InvariantError struct {
	// Addr is the chunk or buffer the problem was found in.
	Addr uintptr
	Msg  string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("bufalloc: invariant violated at %#x: %s", e.Addr, e.Msg)
}
