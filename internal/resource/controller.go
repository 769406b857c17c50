package resource

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when a reservation does not fit the
// memory limit.
var ErrMemoryLimitExceeded = errors.New("memory limit exceeded")

// Config holds resource limits. Zero values mean unlimited, except
// MaxBackgroundWorkers which defaults to 1.
type Config struct {
	// MemoryLimitBytes bounds the memory mapped for chunks and large buffers.
	MemoryLimitBytes int64

	// MaxBackgroundWorkers bounds the sweeps running at the same time.
	MaxBackgroundWorkers int64

	// DecommitBytesPerSec bounds the rate at which sweeps return free pages
	// to the operating system.
	DecommitBytesPerSec int64
}

// Usage is a snapshot of a Controller.
type Usage struct {
	MemoryBytes     int64
	PeakMemoryBytes int64
	LimitBytes      int64
	BusyWorkers     int64
}

// Controller is shared by every allocator of a process. A nil *Controller
// is valid and imposes no limits.
type Controller struct {
	limit int64
	mem   *semaphore.Weighted // nil if unlimited
	used  atomic.Int64
	peak  atomic.Int64

	workers *semaphore.Weighted
	busy    atomic.Int64

	decommit *rate.Limiter // nil if unlimited
}

// NewController creates a Controller.
func NewController(cfg Config) *Controller {
	workers := cfg.MaxBackgroundWorkers
	if workers <= 0 {
		workers = 1
	}

	c := &Controller{
		limit:   cfg.MemoryLimitBytes,
		workers: semaphore.NewWeighted(workers),
	}

	if cfg.MemoryLimitBytes > 0 {
		c.mem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}

	if cfg.DecommitBytesPerSec > 0 {
		c.decommit = rate.NewLimiter(rate.Limit(cfg.DecommitBytesPerSec), int(cfg.DecommitBytesPerSec))
	}

	return c
}

func (c *Controller) charge(bytes int64) {
	used := c.used.Add(bytes)
	for {
		peak := c.peak.Load()
		if used <= peak || c.peak.CompareAndSwap(peak, used) {
			return
		}
	}
}

// AcquireMemory reserves bytes without blocking.
func (c *Controller) AcquireMemory(bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}

	if c.mem != nil && !c.mem.TryAcquire(bytes) {
		return ErrMemoryLimitExceeded
	}

	c.charge(bytes)

	return nil
}

// WaitMemory reserves bytes, blocking until other reservations are released
// or ctx is done. Reservations larger than the limit fail immediately.
func (c *Controller) WaitMemory(ctx context.Context, bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}

	if c.mem != nil {
		if bytes > c.limit {
			return ErrMemoryLimitExceeded
		}

		if err := c.mem.Acquire(ctx, bytes); err != nil {
			return err
		}
	}

	c.charge(bytes)

	return nil
}

// ReleaseMemory returns a reservation.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}

	if c.mem != nil {
		c.mem.Release(bytes)
	}

	c.used.Add(-bytes)
}

// MemoryUsage returns the reserved bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}

	return c.used.Load()
}

// MemoryLimit returns the memory limit, 0 if unlimited.
func (c *Controller) MemoryLimit() int64 {
	if c == nil {
		return 0
	}

	return c.limit
}

// AcquireBackground blocks until a worker slot is free or ctx is done.
func (c *Controller) AcquireBackground(ctx context.Context) error {
	if c == nil {
		return nil
	}

	if err := c.workers.Acquire(ctx, 1); err != nil {
		return err
	}

	c.busy.Add(1)

	return nil
}

// TryAcquireBackground takes a worker slot if one is free.
func (c *Controller) TryAcquireBackground() bool {
	if c == nil {
		return true
	}

	if !c.workers.TryAcquire(1) {
		return false
	}

	c.busy.Add(1)

	return true
}

// ReleaseBackground frees a worker slot.
func (c *Controller) ReleaseBackground() {
	if c == nil {
		return
	}

	c.busy.Add(-1)
	c.workers.Release(1)
}

// AllowDecommit reports whether bytes may be decommitted now. Sweeps skip
// decommitting a region instead of waiting for the limiter.
func (c *Controller) AllowDecommit(bytes int) bool {
	if c == nil || c.decommit == nil {
		return true
	}

	return c.decommit.AllowN(time.Now(), bytes)
}

// Usage returns a snapshot of the controller.
func (c *Controller) Usage() Usage {
	if c == nil {
		return Usage{}
	}

	return Usage{
		MemoryBytes:     c.used.Load(),
		PeakMemoryBytes: c.peak.Load(),
		LimitBytes:      c.limit,
		BusyWorkers:     c.busy.Load(),
	}
}
