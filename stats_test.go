package bufalloc

import (
	"bytes"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/bufalloc/internal/sizeclass"
)

func TestStats(t *testing.T) {
	a := newTestAllocator(t)

	assert.Equal(t, Stats{}, a.Stats())

	mustAlloc(t, a, 8192, false)

	s := a.Stats()
	assert.Equal(t, 8192, s.UsedBytes)
	assert.Equal(t, sizeclass.FirstMediumAllocOffset, s.AdminBytes)
	assert.Equal(t, sizeclass.ChunkSize, s.TotalBytes())
	assert.Equal(t, 1, s.TenuredChunks)
	assert.Equal(t, 1, s.FreeRegions)

	mustAlloc(t, a, 64, false)

	s = a.Stats()
	assert.Equal(t, 8192+64, s.UsedBytes)
	assert.Equal(t, sizeclass.ChunkSize, s.TotalBytes())
	assert.Equal(t, 1, s.TenuredSmallRegions)
	assert.Zero(t, s.MixedSmallRegions)
	assert.Equal(t, 3, s.FreeRegions)

	mustAlloc(t, a, 2*sizeclass.ChunkSize, false)

	s = a.Stats()
	assert.Equal(t, 8192+64+64+2*sizeclass.ChunkSize, s.UsedBytes)
	assert.Equal(t, sizeclass.FirstMediumAllocOffset+largeMetaSize, s.AdminBytes)
	assert.Equal(t, 1, s.LargeTenuredAllocs)

	used, free, admin := a.SizeOf()
	assert.Equal(t, s.UsedBytes, used)
	assert.Equal(t, s.FreeBytes, free)
	assert.Equal(t, s.AdminBytes, admin)

	str := s.String()
	assert.Contains(t, str, "chunks 1 (mixed 0, tenured 1, available 0/0)")
	assert.Contains(t, str, "large 0/1")
	assert.Contains(t, str, "MiB")

	c := a.Counters()
	assert.Equal(t, uint64(1), c.ChunksAllocated)
	assert.Equal(t, uint64(1), c.LargeMapped)
}

func TestNurseryBytes(t *testing.T) {
	a := newTestAllocator(t)

	mustAlloc(t, a, 8192, true)
	mustAlloc(t, a, 64, true)
	mustAlloc(t, a, 64, false)
	mustAlloc(t, a, 2*sizeclass.ChunkSize, true)

	// The large buffer's metadata is a nursery allocation too.
	assert.Equal(t, 8192+64+largeMetaSize+2*sizeclass.ChunkSize, a.NurseryBytes())

	s := a.Stats()
	assert.Equal(t, 1, s.MixedChunks)
	assert.Equal(t, 1, s.MixedSmallRegions)
	assert.Equal(t, 1, s.LargeNurseryAllocs)
}

func TestClearMarkStateAfterBarrierVerification(t *testing.T) {
	a := newTestAllocator(t)

	p := mustAlloc(t, a, 8192, false)

	a.StartMajorCollection()
	require.True(t, a.MarkTenuredAlloc(p))

	a.ClearMarkStateAfterBarrierVerification()
	assert.False(t, a.IsMarkedBlack(p))

	a.FinishMajorCollection()
}

func TestPrintStats(t *testing.T) {
	z1 := newTestAllocator(t, WithZone(1))
	z2 := newTestAllocator(t, WithZone(2))

	mustAlloc(t, z1, 8192, false)
	mustAlloc(t, z2, 64, true)

	var header, body bytes.Buffer
	require.NoError(t, PrintStatsHeader(&header))
	require.NoError(t, PrintStats(&body, "test", z1, z2))

	head := strings.TrimSuffix(header.String(), "\n")
	assert.True(t, strings.HasPrefix(head, "BufAllc: PID     Zone Timestamp  Reason"))
	assert.Len(t, strings.Fields(head), len(statsFields)+1)

	lines := strings.Split(strings.TrimSuffix(body.String(), "\n"), "\n")
	require.Len(t, lines, 2)

	for i, line := range lines {
		assert.Len(t, line, len(head))

		fields := strings.Fields(line)
		require.Len(t, fields, len(statsFields)+1)
		assert.Equal(t, "BufAllc:", fields[0])
		assert.Equal(t, strconv.Itoa(i+1), fields[2])
		assert.Equal(t, "test", fields[4])
		assert.Equal(t, "1024", fields[5])
		assert.Equal(t, "2", fields[8])
	}
}
