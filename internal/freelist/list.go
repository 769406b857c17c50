// Package freelist provides intrusive doubly linked lists and size-class
// indexed list arrays.
//
// Elements embed a Link and expose it through a Links method, so an element
// can be moved between lists without allocation. An element is in at most one
// list at a time.
package freelist

import "iter"

// Link is the list hook embedded in list elements.
type Link[T any] struct {
	prev, next *T
	class      int8
	linked     bool
}

// Linked reports whether the element is currently in a list.
func (l *Link[T]) Linked() bool { return l.linked }

// Class returns the class of the Lists entry the element is filed under.
// It is meaningless for elements of a plain List.
func (l *Link[T]) Class() int { return int(l.class) }

// Elem is the constraint satisfied by pointers to list elements.
type Elem[T any] interface {
	*T
	Links() *Link[T]
}

// List is an intrusive doubly linked list. The zero value is an empty list.
type List[T any, P Elem[T]] struct {
	head, tail *T
	n          int
}

func link[T any, P Elem[T]](e *T) *Link[T] { return P(e).Links() }

// Len returns the number of elements.
func (l *List[T, P]) Len() int { return l.n }

// IsEmpty reports whether the list has no elements.
func (l *List[T, P]) IsEmpty() bool { return l.head == nil }

// Front returns the first element or nil.
func (l *List[T, P]) Front() *T { return l.head }

// Back returns the last element or nil.
func (l *List[T, P]) Back() *T { return l.tail }

// Next returns the element after e or nil.
func (l *List[T, P]) Next(e *T) *T { return link[T, P](e).next }

// Contains reports whether e is in this list. It walks the list.
func (l *List[T, P]) Contains(e *T) bool {
	for x := l.head; x != nil; x = link[T, P](x).next {
		if x == e {
			return true
		}
	}

	return false
}

// PushFront inserts e at the front. e must not be in any list.
func (l *List[T, P]) PushFront(e *T) {
	le := link[T, P](e)
	if le.linked {
		panic("freelist: element already linked")
	}

	le.prev, le.next, le.linked = nil, l.head, true
	if l.head != nil {
		link[T, P](l.head).prev = e
	} else {
		l.tail = e
	}

	l.head = e
	l.n++
}

// PushBack inserts e at the back. e must not be in any list.
func (l *List[T, P]) PushBack(e *T) {
	le := link[T, P](e)
	if le.linked {
		panic("freelist: element already linked")
	}

	le.prev, le.next, le.linked = l.tail, nil, true
	if l.tail != nil {
		link[T, P](l.tail).next = e
	} else {
		l.head = e
	}

	l.tail = e
	l.n++
}

// Remove unlinks e, which must be in this list.
func (l *List[T, P]) Remove(e *T) {
	le := link[T, P](e)
	if !le.linked {
		panic("freelist: element not linked")
	}

	if le.prev != nil {
		link[T, P](le.prev).next = le.next
	} else {
		l.head = le.next
	}

	if le.next != nil {
		link[T, P](le.next).prev = le.prev
	} else {
		l.tail = le.prev
	}

	le.prev, le.next, le.linked = nil, nil, false
	l.n--
}

// PopFront removes and returns the first element, or nil.
func (l *List[T, P]) PopFront() *T {
	e := l.head
	if e != nil {
		l.Remove(e)
	}

	return e
}

// PopBack removes and returns the last element, or nil.
func (l *List[T, P]) PopBack() *T {
	e := l.tail
	if e != nil {
		l.Remove(e)
	}

	return e
}

// Append moves every element of other to the back of l.
func (l *List[T, P]) Append(other *List[T, P]) {
	if other == l || other.head == nil {
		return
	}

	if l.tail == nil {
		l.head = other.head
	} else {
		link[T, P](l.tail).next = other.head
		link[T, P](other.head).prev = l.tail
	}

	l.tail = other.tail
	l.n += other.n
	*other = List[T, P]{}
}

// Prepend moves every element of other to the front of l.
func (l *List[T, P]) Prepend(other *List[T, P]) {
	if other == l || other.head == nil {
		return
	}

	other.Append(l)
	*l = *other
	*other = List[T, P]{}
}

// Take empties l and returns its former contents.
func (l *List[T, P]) Take() List[T, P] {
	out := *l
	*l = List[T, P]{}

	return out
}

// All iterates front to back. The current element may be removed during
// iteration.
func (l *List[T, P]) All() iter.Seq[*T] {
	return func(yield func(*T) bool) {
		for e := l.head; e != nil; {
			next := link[T, P](e).next
			if !yield(e) {
				return
			}

			e = next
		}
	}
}
