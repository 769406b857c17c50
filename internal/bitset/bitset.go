package bitset

import (
	"math/bits"
	"sync/atomic"
)

// Atomic is a fixed-length bit set backed by atomic words.
//
// Individual bit operations are atomic. Scans (NextSet, PrevSet, Count) see a
// consistent view of each word but not of the set as a whole.
type Atomic struct {
	words []atomic.Uint64
	n     int
}

// New creates an Atomic bit set holding n bits.
func New(n int) *Atomic {
	return &Atomic{
		words: make([]atomic.Uint64, (n+63)/64),
		n:     n,
	}
}

// Len returns the number of bits.
func (b *Atomic) Len() int { return b.n }

func (b *Atomic) inRange(i int) bool { return i >= 0 && i < b.n }

// Set sets bit i.
func (b *Atomic) Set(i int) {
	if !b.inRange(i) {
		return
	}

	b.words[i>>6].Or(1 << (uint(i) & 63))
}

// Unset clears bit i.
func (b *Atomic) Unset(i int) {
	if !b.inRange(i) {
		return
	}

	b.words[i>>6].And(^(uint64(1) << (uint(i) & 63)))
}

// SetTo sets bit i to v.
func (b *Atomic) SetTo(i int, v bool) {
	if v {
		b.Set(i)
	} else {
		b.Unset(i)
	}
}

// Test reports whether bit i is set.
func (b *Atomic) Test(i int) bool {
	if !b.inRange(i) {
		return false
	}

	return b.words[i>>6].Load()&(1<<(uint(i)&63)) != 0
}

// TestAndSet sets bit i and returns true if it was ALREADY set.
// Exactly one of any number of concurrent callers observes false.
func (b *Atomic) TestAndSet(i int) bool {
	if !b.inRange(i) {
		return false
	}

	mask := uint64(1) << (uint(i) & 63)
	old := b.words[i>>6].Or(mask)

	return old&mask != 0
}

// NextSet returns the index of the first set bit at or after from, or -1.
func (b *Atomic) NextSet(from int) int {
	if from < 0 {
		from = 0
	}

	if from >= b.n {
		return -1
	}

	w := from >> 6
	word := b.words[w].Load() >> (uint(from) & 63)

	if word != 0 {
		i := from + bits.TrailingZeros64(word)
		if i < b.n {
			return i
		}

		return -1
	}

	for w++; w < len(b.words); w++ {
		if word = b.words[w].Load(); word != 0 {
			i := w<<6 + bits.TrailingZeros64(word)
			if i < b.n {
				return i
			}

			return -1
		}
	}

	return -1
}

// PrevSet returns the index of the last set bit at or before from, or -1.
func (b *Atomic) PrevSet(from int) int {
	if from < 0 {
		return -1
	}

	if from >= b.n {
		from = b.n - 1
	}

	w := from >> 6
	shift := 63 - (uint(from) & 63)
	word := b.words[w].Load() << shift

	if word != 0 {
		return from - bits.LeadingZeros64(word)
	}

	for w--; w >= 0; w-- {
		if word = b.words[w].Load(); word != 0 {
			return w<<6 + 63 - bits.LeadingZeros64(word)
		}
	}

	return -1
}

// Count returns the number of set bits.
func (b *Atomic) Count() int {
	n := 0
	for i := range b.words {
		n += bits.OnesCount64(b.words[i].Load())
	}

	return n
}

// IsEmpty reports whether no bit is set.
func (b *Atomic) IsEmpty() bool {
	for i := range b.words {
		if b.words[i].Load() != 0 {
			return false
		}
	}

	return true
}

// ClearAll clears every bit.
func (b *Atomic) ClearAll() {
	for i := range b.words {
		b.words[i].Store(0)
	}
}

// ClearRange clears bits in [from, to).
func (b *Atomic) ClearRange(from, to int) {
	for i := b.NextSet(from); i >= 0 && i < to; i = b.NextSet(i + 1) {
		b.Unset(i)
	}
}
