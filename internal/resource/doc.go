// Package resource implements the Controller that allocators share to bound
// process-wide resources:
//
//   - Memory: bytes mapped for chunks and large buffers (fail-fast or blocking)
//   - Workers: concurrently running background sweeps
//   - Decommit: the rate at which sweeps return free pages to the OS
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────┐
//	│                         Controller                          │
//	├─────────────────┬─────────────────┬─────────────────────────┤
//	│  Memory         │  Workers        │  Decommit               │
//	│  (semaphore)    │  (semaphore)    │  (token bucket)         │
//	├─────────────────┼─────────────────┼─────────────────────────┤
//	│  AcquireMemory  │  AcquireBack-   │  AllowDecommit          │
//	│  WaitMemory     │  ground         │                         │
//	│  ReleaseMemory  │  TryAcquire...  │                         │
//	│                 │  ReleaseBack... │                         │
//	└─────────────────┴─────────────────┴─────────────────────────┘
//
// AcquireMemory never blocks; allocations that may not stall use it and fail
// with ErrMemoryLimitExceeded. WaitMemory blocks until another allocator
// releases memory:
//
//	rc := resource.NewController(resource.Config{MemoryLimitBytes: 1 << 30})
//	if err := rc.WaitMemory(ctx, 1<<20); err != nil {
//	    return err
//	}
//	defer rc.ReleaseMemory(1 << 20)
//
// A nil *Controller is valid: every method becomes a no-op that succeeds.
package resource
