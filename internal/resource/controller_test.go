package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_AcquireMemory(t *testing.T) {
	tests := []struct {
		name  string
		limit int64
		steps []int64 // positive acquires, negative releases
		fails []bool
		want  int64
	}{
		{"within limit", 100, []int64{50, 40}, []bool{false, false}, 90},
		{"over limit", 100, []int64{50, 40, 20}, []bool{false, false, true}, 90},
		{"after release", 100, []int64{50, 40, -50, 20}, []bool{false, false, false, false}, 60},
		{"unlimited", 0, []int64{1000, -500}, []bool{false, false}, 500},
		{"zero bytes", 10, []int64{0, 10, 0}, []bool{false, false, false}, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewController(Config{MemoryLimitBytes: tt.limit})

			for i, n := range tt.steps {
				if n < 0 {
					c.ReleaseMemory(-n)
					continue
				}

				err := c.AcquireMemory(n)
				if tt.fails[i] {
					assert.ErrorIs(t, err, ErrMemoryLimitExceeded)
				} else {
					assert.NoError(t, err)
				}
			}

			assert.Equal(t, tt.want, c.MemoryUsage())
			assert.Equal(t, tt.limit, c.MemoryLimit())
		})
	}
}

func TestController_WaitMemory(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})

	require.NoError(t, c.WaitMemory(t.Context(), 100))

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, c.WaitMemory(ctx, 1), context.DeadlineExceeded)
	assert.Equal(t, int64(100), c.MemoryUsage())

	done := make(chan error, 1)
	go func() { done <- c.WaitMemory(t.Context(), 10) }()

	c.ReleaseMemory(10)
	require.NoError(t, <-done)
	assert.Equal(t, int64(100), c.MemoryUsage())

	assert.ErrorIs(t, c.WaitMemory(t.Context(), 1000), ErrMemoryLimitExceeded)
}

func TestController_Background(t *testing.T) {
	c := NewController(Config{MaxBackgroundWorkers: 2})

	require.NoError(t, c.AcquireBackground(t.Context()))
	require.True(t, c.TryAcquireBackground())
	assert.False(t, c.TryAcquireBackground())

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	assert.ErrorIs(t, c.AcquireBackground(ctx), context.Canceled)

	c.ReleaseBackground()
	assert.True(t, c.TryAcquireBackground())

	assert.Equal(t, int64(2), c.Usage().BusyWorkers)

	t.Run("default", func(t *testing.T) {
		c := NewController(Config{})
		require.True(t, c.TryAcquireBackground())
		assert.False(t, c.TryAcquireBackground())
	})
}

func TestController_Decommit(t *testing.T) {
	c := NewController(Config{DecommitBytesPerSec: 4096})

	assert.True(t, c.AllowDecommit(4096))
	assert.False(t, c.AllowDecommit(4096))

	unlimited := NewController(Config{})
	assert.True(t, unlimited.AllowDecommit(1<<30))
}

func TestController_Usage(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100, MaxBackgroundWorkers: 2})

	require.NoError(t, c.AcquireMemory(60))
	require.NoError(t, c.AcquireMemory(30))
	c.ReleaseMemory(70)
	require.NoError(t, c.AcquireBackground(t.Context()))

	assert.Equal(t, Usage{
		MemoryBytes:     20,
		PeakMemoryBytes: 90,
		LimitBytes:      100,
		BusyWorkers:     1,
	}, c.Usage())

	c.ReleaseBackground()
	assert.Zero(t, c.Usage().BusyWorkers)
}

func TestController_Nil(t *testing.T) {
	var c *Controller

	require.NoError(t, c.AcquireMemory(10))
	require.NoError(t, c.WaitMemory(t.Context(), 10))
	c.ReleaseMemory(10)
	assert.Zero(t, c.MemoryUsage())
	assert.Zero(t, c.MemoryLimit())
	require.NoError(t, c.AcquireBackground(t.Context()))
	assert.True(t, c.TryAcquireBackground())
	c.ReleaseBackground()
	assert.True(t, c.AllowDecommit(1))
	assert.Equal(t, Usage{}, c.Usage())
}
