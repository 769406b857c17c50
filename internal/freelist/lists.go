package freelist

import (
	"iter"

	"github.com/hupe1980/bufalloc/internal/bitset"
	"github.com/hupe1980/bufalloc/internal/sizeclass"
)

// None is returned by class queries that find nothing.
const None = bitset.None

// Lists is an array of lists indexed by size class with an availability mask.
// A class is available exactly when its list is non-empty.
type Lists[T any, P Elem[T]] struct {
	lists     [sizeclass.ListCount]List[T, P]
	available bitset.Mask
}

// Available returns the set of non-empty classes.
func (s *Lists[T, P]) Available() bitset.Mask { return s.available }

// IsEmpty reports whether every class is empty.
func (s *Lists[T, P]) IsEmpty() bool { return s.available.IsEmpty() }

// Has reports whether class c has at least one element.
func (s *Lists[T, P]) Has(c int) bool { return s.available.Has(c) }

// Len returns the number of elements in class c.
func (s *Lists[T, P]) Len(c int) int { return s.lists[c].Len() }

// Count returns the total number of elements.
func (s *Lists[T, P]) Count() int {
	n := 0
	for c := range s.lists {
		n += s.lists[c].Len()
	}

	return n
}

// FirstAvailable returns the smallest non-empty class in [lo, hi], or None.
func (s *Lists[T, P]) FirstAvailable(lo, hi int) int {
	c := s.available.Next(lo)
	if c == None || c > hi {
		return None
	}

	return c
}

// LastAvailable returns the largest non-empty class in [lo, hi], or None.
func (s *Lists[T, P]) LastAvailable(lo, hi int) int {
	c := s.available.Prev(hi)
	if c == None || c < lo {
		return None
	}

	return c
}

// First returns the first element of class c, or nil.
func (s *Lists[T, P]) First(c int) *T { return s.lists[c].Front() }

// PopFirst removes and returns the first element of class c, or nil.
func (s *Lists[T, P]) PopFirst(c int) *T {
	e := s.lists[c].Front()
	if e != nil {
		s.Remove(e)
	}

	return e
}

// PushFront files e at the front of class c.
func (s *Lists[T, P]) PushFront(c int, e *T) {
	s.lists[c].PushFront(e)
	link[T, P](e).class = int8(c)
	s.available = s.available.With(c)
}

// PushBack files e at the back of class c.
func (s *Lists[T, P]) PushBack(c int, e *T) {
	s.lists[c].PushBack(e)
	link[T, P](e).class = int8(c)
	s.available = s.available.With(c)
}

// Remove unlinks e from the class it is filed under.
func (s *Lists[T, P]) Remove(e *T) {
	c := int(link[T, P](e).class)
	s.lists[c].Remove(e)

	if s.lists[c].IsEmpty() {
		s.available = s.available.Without(c)
	}
}

// Append moves every element of other to the back of the matching class.
func (s *Lists[T, P]) Append(other *Lists[T, P]) {
	for c := range s.lists {
		s.lists[c].Append(&other.lists[c])
	}

	s.available |= other.available
	other.available = 0
}

// Prepend moves every element of other to the front of the matching class.
func (s *Lists[T, P]) Prepend(other *Lists[T, P]) {
	for c := range s.lists {
		s.lists[c].Prepend(&other.lists[c])
	}

	s.available |= other.available
	other.available = 0
}

// ExtractAll empties every class and returns the elements as one list,
// smallest class first.
func (s *Lists[T, P]) ExtractAll() List[T, P] {
	var out List[T, P]
	for c := range s.lists {
		out.Append(&s.lists[c])
	}

	s.available = 0

	return out
}

// Clear forgets every element. Elements are unlinked one by one so they can
// be reused.
func (s *Lists[T, P]) Clear() {
	for c := range s.lists {
		for s.lists[c].PopFront() != nil {
		}
	}

	s.available = 0
}

// All iterates every element with its class, smallest class first.
func (s *Lists[T, P]) All() iter.Seq2[int, *T] {
	return func(yield func(int, *T) bool) {
		for c := range s.lists {
			for e := range s.lists[c].All() {
				if !yield(c, e) {
					return
				}
			}
		}
	}
}

// Class returns the elements of class c.
func (s *Lists[T, P]) Class(c int) iter.Seq[*T] { return s.lists[c].All() }
