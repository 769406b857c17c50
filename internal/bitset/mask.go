package bitset

import "math/bits"

// None is returned by Mask queries that find nothing.
const None = -1

// Mask is a set of up to 32 small integers, used for size classes.
type Mask uint32

// Has reports whether i is in the mask.
func (m Mask) Has(i int) bool { return m&(1<<uint(i)) != 0 }

// With returns m with i added.
func (m Mask) With(i int) Mask { return m | 1<<uint(i) }

// Without returns m with i removed.
func (m Mask) Without(i int) Mask { return m &^ (1 << uint(i)) }

// IsEmpty reports whether the mask has no members.
func (m Mask) IsEmpty() bool { return m == 0 }

// Count returns the number of members.
func (m Mask) Count() int { return bits.OnesCount32(uint32(m)) }

// Below returns the mask restricted to members <= i.
func (m Mask) Below(i int) Mask {
	if i >= 31 {
		return m
	}

	if i < 0 {
		return 0
	}

	return m & (1<<uint(i+1) - 1)
}

// Next returns the smallest member >= from, or None.
func (m Mask) Next(from int) int {
	if from < 0 {
		from = 0
	}

	if from >= 32 {
		return None
	}

	r := uint32(m) >> uint(from)
	if r == 0 {
		return None
	}

	return from + bits.TrailingZeros32(r)
}

// Prev returns the largest member <= from, or None.
func (m Mask) Prev(from int) int {
	r := uint32(m.Below(from))
	if r == 0 {
		return None
	}

	return 31 - bits.LeadingZeros32(r)
}
