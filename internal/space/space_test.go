package space

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/bufalloc/internal/sizeclass"
)

const testBase = 0x10_0000_0000

func TestSpaceAllocBits(t *testing.T) {
	s := NewChunk(testBase)
	require.True(t, s.IsEmpty())

	s.SetAllocated(4096, 8192, true)
	s.SetAllocated(12288, 4096, false)
	s.SetAllocated(sizeclass.ChunkSize-4096, 4096, false)

	assert.True(t, s.IsAllocated(4096))
	assert.False(t, s.IsAllocated(8192))
	assert.Equal(t, 8192, s.AllocBytes(4096))
	assert.Equal(t, 4096, s.AllocBytes(12288))
	assert.Equal(t, 4096, s.AllocBytes(sizeclass.ChunkSize-4096))
	assert.True(t, s.IsNurseryOwned(4096))
	assert.False(t, s.IsNurseryOwned(12288))
	assert.True(t, s.HasNurseryOwned())
	assert.Equal(t, 3, s.AllocCount())
	assert.Equal(t, 16384, s.AllocatedBytes())

	assert.Equal(t, 4096, s.NextAllocated(0))
	assert.Equal(t, 12288, s.NextAllocated(4097))
	assert.Equal(t, 4096, s.PrevAllocated(12288))
	assert.Equal(t, -1, s.PrevAllocated(4096))

	s.UpdateEnd(12288, 4096, 8192)
	assert.Equal(t, 8192, s.AllocBytes(12288))

	assert.Equal(t, 8192, s.SetDeallocated(4096))
	assert.False(t, s.IsAllocated(4096))
	assert.False(t, s.HasNurseryOwned())
}

func TestSpaceMarks(t *testing.T) {
	s := NewSmallRegion(testBase)
	s.SetAllocated(0, 32, false)

	assert.True(t, s.SetMarked(0))
	assert.False(t, s.SetMarked(0))
	assert.True(t, s.IsMarked(0))
	assert.True(t, s.HasMarks())

	s.ClearMarks()
	assert.False(t, s.IsMarked(0))
	assert.False(t, s.HasMarks())

	s.SetMarked(0)
	s.SetDeallocated(0)
	assert.False(t, s.IsMarked(0))
}

func TestSpaceGaps(t *testing.T) {
	s := NewSmallRegion(testBase)
	s.SetAllocated(32, 32, false)
	s.SetAllocated(64, 48, false)
	s.SetAllocated(1024, 16, false)

	var got [][2]int
	for start, end := range s.Gaps() {
		got = append(got, [2]int{start, end})
	}

	assert.Equal(t, [][2]int{{0, 32}, {112, 1024}, {1040, sizeclass.SmallRegionSize}}, got)

	s.SetDeallocated(64)
	start, end := s.GapAround(64, 112)
	assert.Equal(t, 64, start)
	assert.Equal(t, 1024, end)

	t.Run("chunk header is reserved", func(t *testing.T) {
		c := NewChunk(testBase)
		start, end := c.GapAround(sizeclass.FirstMediumAllocOffset, sizeclass.FirstMediumAllocOffset)
		assert.Equal(t, sizeclass.FirstMediumAllocOffset, start)
		assert.Equal(t, sizeclass.ChunkSize, end)
	})
}

func TestSpaceAllocsIteration(t *testing.T) {
	s := NewSmallRegion(testBase)
	s.SetAllocated(0, 32, false)
	s.SetAllocated(32, 64, false)
	s.SetAllocated(sizeclass.SmallRegionSize-32, 32, false)

	var offs, sizes []int
	for off, bytes := range s.Allocs() {
		offs = append(offs, off)
		sizes = append(sizes, bytes)
	}

	assert.Equal(t, []int{0, 32, sizeclass.SmallRegionSize - 32}, offs)
	assert.Equal(t, []int{32, 64, 32}, sizes)
}

func TestSpaceAddressing(t *testing.T) {
	s := NewChunk(testBase)
	assert.Equal(t, uintptr(testBase+8192), s.Addr(8192))
	assert.Equal(t, 8192, s.Offset(testBase+8192))
	assert.True(t, s.Contains(testBase))
	assert.False(t, s.Contains(testBase+sizeclass.ChunkSize))
	assert.True(t, s.Aligned(8192))
	assert.False(t, s.Aligned(100))
	assert.Equal(t, sizeclass.MediumGranularity, s.Granularity())
}

func TestFreeRegions(t *testing.T) {
	s := NewChunk(testBase)

	r := s.Track(4096, sizeclass.ChunkSize)
	require.NotNil(t, r)
	assert.Equal(t, sizeclass.MaxMediumAllocSize, r.Size())
	assert.Equal(t, sizeclass.MaxMediumClass, r.Class())
	assert.Equal(t, r, s.RegionAt(4096))
	assert.Equal(t, s, r.Space())
	assert.Equal(t, uintptr(testBase+4096), r.Addr())

	assert.Nil(t, s.Track(0, 16))

	require.True(t, s.Resize(r, 8192, sizeclass.ChunkSize))
	assert.Nil(t, s.RegionAt(4096))
	assert.Equal(t, r, s.RegionAt(8192))
	assert.Equal(t, sizeclass.ChunkSize-8192, s.FreeBytes())

	r2 := s.Track(4096, 8192)
	var starts []int
	for fr := range s.FreeRegions() {
		starts = append(starts, fr.Start)
	}

	assert.Equal(t, []int{4096, 8192}, starts)

	s.Untrack(r2)
	assert.Equal(t, 1, s.FreeRegionCount())

	assert.False(t, s.Resize(r, 8192, 8192+16))
	assert.Equal(t, 0, s.FreeRegionCount())

	s.Track(4096, 8192)
	s.ClearFreeRegions()
	assert.Equal(t, 0, s.FreeRegionCount())
}

func TestFreeRegionLists(t *testing.T) {
	s := NewSmallRegion(testBase)

	var lists Lists
	a := s.Track(0, 64)
	b := s.Track(128, 4096)

	lists.PushFront(a.Class(), a)
	lists.PushFront(b.Class(), b)

	assert.True(t, a.InList())
	assert.Equal(t, 1, lists.FirstAvailable(0, sizeclass.MaxSmallClass))
	assert.Equal(t, 6, lists.LastAvailable(0, sizeclass.MaxSmallClass))

	lists.Remove(a)
	assert.False(t, a.InList())
}
