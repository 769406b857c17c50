package bufalloc

import (
	"fmt"
	"io"
	"iter"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hupe1980/bufalloc/internal/sizeclass"
	"github.com/hupe1980/bufalloc/internal/space"
)

// Counters tracks allocator activity since creation.
type Counters struct {
	ChunksAllocated uint64 // Historical: chunks obtained from the page allocator
	ChunksReleased  uint64 // Historical: chunks returned to the page allocator
	LargeMapped     uint64 // Historical: large buffers mapped
	LargeUnmapped   uint64 // Historical: large buffers unmapped
	MinorSweeps     uint64 // Historical: completed minor sweeps
	MajorSweeps     uint64 // Historical: completed major sweeps
	BytesSwept      uint64 // Historical: allocation bytes reclaimed by sweeps
	AllocFailures   uint64 // Historical: failed allocations
}

type atomicCounters struct {
	chunksAllocated atomic.Uint64
	chunksReleased  atomic.Uint64
	largeMapped     atomic.Uint64
	largeUnmapped   atomic.Uint64
	minorSweeps     atomic.Uint64
	majorSweeps     atomic.Uint64
	bytesSwept      atomic.Uint64
	allocFailures   atomic.Uint64
}

// Counters returns a snapshot of the activity counters. It is safe to call
// from any goroutine.
func (a *Allocator) Counters() Counters {
	return Counters{
		ChunksAllocated: a.counters.chunksAllocated.Load(),
		ChunksReleased:  a.counters.chunksReleased.Load(),
		LargeMapped:     a.counters.largeMapped.Load(),
		LargeUnmapped:   a.counters.largeUnmapped.Load(),
		MinorSweeps:     a.counters.minorSweeps.Load(),
		MajorSweeps:     a.counters.majorSweeps.Load(),
		BytesSwept:      a.counters.bytesSwept.Load(),
		AllocFailures:   a.counters.allocFailures.Load(),
	}
}

// Stats describes the memory held by the chunks and large buffers the owner
// currently controls. Chunks held by a running sweep are not included.
type Stats struct {
	UsedBytes  int
	FreeBytes  int
	AdminBytes int

	MixedSmallRegions   int
	TenuredSmallRegions int

	MixedChunks            int
	TenuredChunks          int
	AvailableMixedChunks   int
	AvailableTenuredChunks int

	FreeRegions int

	LargeNurseryAllocs int
	LargeTenuredAllocs int

	DecommittedBytes int
}

// TotalBytes is the memory mapped for chunks and large buffers.
func (s Stats) TotalBytes() int { return s.UsedBytes + s.FreeBytes + s.AdminBytes }

// Chunks is the number of chunks counted.
func (s Stats) Chunks() int {
	return s.MixedChunks + s.TenuredChunks + s.AvailableMixedChunks + s.AvailableTenuredChunks
}

func (s Stats) String() string {
	return fmt.Sprintf(
		"used %s, free %s, admin %s, chunks %d (mixed %d, tenured %d, available %d/%d), small regions %d/%d, free regions %d, large %d/%d, decommitted %s",
		humanize.IBytes(uint64(s.UsedBytes)), humanize.IBytes(uint64(s.FreeBytes)), humanize.IBytes(uint64(s.AdminBytes)),
		s.Chunks(), s.MixedChunks, s.TenuredChunks, s.AvailableMixedChunks, s.AvailableTenuredChunks,
		s.MixedSmallRegions, s.TenuredSmallRegions, s.FreeRegions,
		s.LargeNurseryAllocs, s.LargeTenuredAllocs, humanize.IBytes(uint64(s.DecommittedBytes)),
	)
}

// Stats merges finished sweep results and returns a snapshot of the memory
// the owner controls.
func (a *Allocator) Stats() Stats {
	a.mergeSweptData()

	var s Stats

	for home, c := range a.ownedChunks() {
		switch home {
		case homeMixed:
			s.MixedChunks++
		case homeTenured:
			s.TenuredChunks++
		case homeAvailableMixed:
			s.AvailableMixedChunks++
		default:
			s.AvailableTenuredChunks++
		}

		s.AdminBytes += sizeclass.FirstMediumAllocOffset
		s.UsedBytes += sizeclass.ChunkSize - sizeclass.FirstMediumAllocOffset

		for r := range c.smallRegions() {
			if r.space.HasNurseryOwned() {
				s.MixedSmallRegions++
			} else {
				s.TenuredSmallRegions++
			}
		}

		for r := range c.freeRegions() {
			s.FreeRegions++
			s.FreeBytes += r.Size()
			s.UsedBytes -= r.Size()
		}

		s.DecommittedBytes += c.decommittedBytes()
	}

	count := func(l *largeList) int {
		n := 0
		for b := range l.All() {
			n++
			s.UsedBytes += b.allocBytes()
			s.AdminBytes += largeMetaSize
		}

		return n
	}

	s.LargeNurseryAllocs = count(&a.largeNursery) + count(&a.largeNurseryToSweep)
	s.LargeTenuredAllocs = count(&a.largeTenured) + count(&a.largeTenuredToSweep)

	return s
}

// ownedChunks iterates the chunks the owner controls together with the home
// they are counted under. Chunks queued for a major sweep count as available
// tenured chunks until the sweep starts.
func (a *Allocator) ownedChunks() iter.Seq2[chunkHome, *bufferChunk] {
	return func(yield func(chunkHome, *bufferChunk) bool) {
		for _, l := range [...]struct {
			home chunkHome
			list *chunkList
		}{{homeMixed, &a.mixedChunks}, {homeTenured, &a.tenuredChunks}} {
			for c := range l.list.All() {
				if !yield(l.home, c) {
					return
				}
			}
		}

		for _, c := range a.availableMixed.All() {
			if !yield(homeAvailableMixed, c) {
				return
			}
		}

		for _, c := range a.availableTenured.All() {
			if !yield(homeAvailableTenured, c) {
				return
			}
		}

		if a.state.majorSweeping() {
			return
		}

		for c := range a.tenuredToSweep.All() {
			if !yield(homeMajorToSweep, c) {
				return
			}
		}
	}
}

// ResourceUsage returns a snapshot of the allocator's ResourceController.
// It is zero when the allocator has no controller.
func (a *Allocator) ResourceUsage() ResourceUsage { return a.rc.Usage() }

// SizeOf reports the used, free and administrative bytes of the allocator.
func (a *Allocator) SizeOf() (used, free, admin int) {
	s := a.Stats()
	return s.UsedBytes, s.FreeBytes, s.AdminBytes
}

// NurseryBytes returns the allocation bytes of nursery-owned buffers the
// owner controls.
func (a *Allocator) NurseryBytes() int {
	a.mergeSweptData()

	n := 0

	for _, c := range a.ownedChunks() {
		if !c.hasNurseryOwnedAllocs {
			continue
		}

		n += nurseryBytes(c.medium)
		for r := range c.smallRegions() {
			n += nurseryBytes(r.space)
		}
	}

	for _, l := range [...]*largeList{&a.largeNursery, &a.largeNurseryToSweep} {
		for b := range l.All() {
			n += b.allocBytes()
		}
	}

	return n
}

func nurseryBytes(sp *space.Space) int {
	n := 0
	for off, bytes := range sp.Allocs() {
		if sp.IsNurseryOwned(off) {
			n += bytes
		}
	}

	return n
}

// IsEmpty reports whether the allocator holds no chunks, no large buffers
// and no sweep in flight.
func (a *Allocator) IsEmpty() bool {
	a.mergeSweptData()

	a.largeMu.Lock()
	large := len(a.large)
	a.largeMu.Unlock()

	return len(a.chunks) == 0 && large == 0 && a.minorResults == nil && a.majorResults == nil
}

// ClearMarkStateAfterBarrierVerification clears every mark bit set by a
// verification pass of the write barrier.
func (a *Allocator) ClearMarkStateAfterBarrierVerification() {
	a.mergeSweptData()

	for _, c := range a.ownedChunks() {
		c.clearMarks()
	}
}

const statsPrefix = "BufAllc:"

type statsField struct {
	name  string
	width int
}

var statsFields = [...]statsField{
	{"PID", 7},
	{"Zone", 4},
	{"Timestamp", 10},
	{"Reason", 20},
	{"TotalKB", 8},
	{"UsedKB", 8},
	{"FreeKB", 8},
	{"Zs", 3},
	{"MixSRs", 6},
	{"TnrSRs", 6},
	{"MixCs", 6},
	{"TnrCs", 6},
	{"AMixCs", 6},
	{"ATnrCs", 6},
	{"FreeRs", 6},
	{"LNurAs", 6},
	{"LTnrAs", 6},
}

// PrintStatsHeader writes the column header for PrintStats.
func PrintStatsHeader(w io.Writer) error {
	var sb strings.Builder

	sb.WriteString(statsPrefix)
	for _, f := range statsFields {
		fmt.Fprintf(&sb, " %-*s", f.width, f.name)
	}
	sb.WriteByte('\n')

	_, err := io.WriteString(w, sb.String())

	return err
}

// PrintStats writes one fixed-width line per zone. The timestamp is the
// number of seconds since the zone was created.
func PrintStats(w io.Writer, reason string, zones ...*Allocator) error {
	pid := os.Getpid()

	var sb strings.Builder

	for _, z := range zones {
		s := z.Stats()
		kb := func(n int) int { return n / 1024 }

		values := [...]string{
			fmt.Sprint(pid),
			fmt.Sprint(z.zone),
			fmt.Sprintf("%.3f", time.Since(z.created).Seconds()),
			reason,
			fmt.Sprint(kb(s.TotalBytes())),
			fmt.Sprint(kb(s.UsedBytes)),
			fmt.Sprint(kb(s.FreeBytes)),
			fmt.Sprint(len(zones)),
			fmt.Sprint(s.MixedSmallRegions),
			fmt.Sprint(s.TenuredSmallRegions),
			fmt.Sprint(s.MixedChunks),
			fmt.Sprint(s.TenuredChunks),
			fmt.Sprint(s.AvailableMixedChunks),
			fmt.Sprint(s.AvailableTenuredChunks),
			fmt.Sprint(s.FreeRegions),
			fmt.Sprint(s.LargeNurseryAllocs),
			fmt.Sprint(s.LargeTenuredAllocs),
		}

		sb.WriteString(statsPrefix)
		for i, f := range statsFields {
			if f.name == "Reason" {
				fmt.Fprintf(&sb, " %-*s", f.width, values[i])
			} else {
				fmt.Fprintf(&sb, " %*s", f.width, values[i])
			}
		}
		sb.WriteByte('\n')
	}

	_, err := io.WriteString(w, sb.String())

	return err
}
