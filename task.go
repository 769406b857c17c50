package bufalloc

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// SweepTask is a sweep running on its own goroutine.
type SweepTask struct {
	done chan struct{}
	err  error
}

// StartSweepTask runs the queued sweep of gen on a new goroutine once the
// resource controller grants a background slot. Major sweeps decommit when
// the allocator was created WithDecommit.
func (a *Allocator) StartSweepTask(ctx context.Context, gen Generation) *SweepTask {
	t := &SweepTask{done: make(chan struct{})}

	go func() {
		defer close(t.done)
		t.err = a.runSweep(ctx, gen)
	}()

	return t
}

// Wait blocks until the task has finished. It returns the context error when
// the task gave up waiting for a background slot.
func (t *SweepTask) Wait() error {
	<-t.done
	return t.err
}

func (a *Allocator) runSweep(ctx context.Context, gen Generation) error {
	if err := a.rc.AcquireBackground(ctx); err != nil {
		return err
	}
	defer a.rc.ReleaseBackground()

	if gen == Minor {
		a.SweepForMinorCollection()
	} else {
		a.SweepForMajorCollection(a.decommit)
	}

	return nil
}

// SweepZones runs the queued sweeps of gen for every zone in parallel, at
// most GOMAXPROCS at a time, and waits for them.
func SweepZones(ctx context.Context, gen Generation, zones ...*Allocator) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for _, z := range zones {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			return z.runSweep(ctx, gen)
		})
	}

	return g.Wait()
}
