package bufalloc

import (
	"fmt"
	"testing"

	"github.com/hupe1980/bufalloc/internal/sizeclass"
)

func BenchmarkAllocFree(b *testing.B) {
	for _, size := range []int{64, sizeclass.MaxSmallAllocSize, 64 << 10, 2 * sizeclass.ChunkSize} {
		b.Run(fmt.Sprintf("%s/%d", sizeclass.Tier(size), size), func(b *testing.B) {
			a, err := New()
			if err != nil {
				b.Fatal(err)
			}
			defer a.Close()

			// Keep the chunk alive so a free never releases it.
			if _, err := a.Alloc(64, false); err != nil {
				b.Fatal(err)
			}

			b.ReportAllocs()

			for b.Loop() {
				p, err := a.Alloc(size, false)
				if err != nil {
					b.Fatal(err)
				}

				a.Free(p)
			}
		})
	}
}

func BenchmarkAllocBatch(b *testing.B) {
	const batch = 1024

	a, err := New()
	if err != nil {
		b.Fatal(err)
	}
	defer a.Close()

	ptrs := make([]Ptr, batch)

	b.ReportAllocs()

	for b.Loop() {
		for i := range ptrs {
			p, err := a.Alloc(32+(i%64)*16, false)
			if err != nil {
				b.Fatal(err)
			}

			ptrs[i] = p
		}

		for _, p := range ptrs {
			a.Free(p)
		}
	}
}

func BenchmarkMinorCollection(b *testing.B) {
	const batch = 4096

	a, err := New()
	if err != nil {
		b.Fatal(err)
	}
	defer a.Close()

	live := make([]Ptr, 0, batch/8)

	for b.Loop() {
		live = live[:0]

		for i := range batch {
			p, err := a.Alloc(64, true)
			if err != nil {
				b.Fatal(err)
			}

			if i%8 == 0 {
				live = append(live, p)
			}
		}

		a.StartMinorCollection()

		for i := range live {
			a.TraceEdge(tenuringTracer, tenuredOwner, &live[i])
		}

		if a.StartMinorSweeping() {
			a.SweepForMinorCollection()
		}

		a.mergeSweptData()

		for _, p := range live {
			a.Free(p)
		}
	}
}
