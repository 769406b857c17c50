package bufalloc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/bufalloc/internal/sizeclass"
	"github.com/hupe1980/bufalloc/internal/space"
)

func TestVerify(t *testing.T) {
	a := newTestAllocator(t)

	mustAlloc(t, a, 8192, false)
	mustAlloc(t, a, 64, false)
	large := mustAlloc(t, a, 2*sizeclass.ChunkSize, false)

	requireValid(t, a)

	c := a.chunkFor(mustAlloc(t, a, 4096, false))
	require.NotNil(t, c)
	b := a.lookupLarge(large)
	require.NotNil(t, b)

	var untracked *space.FreeRegion

	tests := []struct {
		name    string
		corrupt func()
		repair  func()
		want    string
	}{
		{
			name: "untracked gap",
			corrupt: func() {
				for r := range c.medium.FreeRegions() {
					untracked = r
					break
				}
				require.NotNil(t, untracked)
				c.medium.Untrack(untracked)
			},
			repair: func() { c.medium.Resize(untracked, untracked.Start, untracked.End) },
			want:   "untracked gap",
		},
		{
			name:    "nursery bit in tenured chunk",
			corrupt: func() { c.medium.SetNurseryOwned(sizeclass.FirstMediumAllocOffset, true) },
			repair:  func() { c.medium.SetNurseryOwned(sizeclass.FirstMediumAllocOffset, false) },
			want:    "not flagged mixed",
		},
		{
			name:    "large metadata ownership",
			corrupt: func() { b.isNurseryOwned = true },
			repair:  func() { b.isNurseryOwned = false },
			want:    "disagrees on nursery ownership",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.corrupt()

			err := a.Verify()
			require.Error(t, err)

			var ie *InvariantError
			require.True(t, errors.As(err, &ie))
			assert.Contains(t, err.Error(), tt.want)

			tt.repair()
			requireValid(t, a)
		})
	}
}
