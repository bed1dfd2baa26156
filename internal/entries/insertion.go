package entries

import (
	"container/list"
	"iter"
)

// InsertionOrdered keeps entries in arrival order.
type InsertionOrdered[K comparable, V any] struct {
	index map[K]*Entry[K, V]
	order *list.List
}

var _ Store[string, int] = (*InsertionOrdered[string, int])(nil)

func NewInsertionOrdered[K comparable, V any]() *InsertionOrdered[K, V] {
	return &InsertionOrdered[K, V]{
		index: make(map[K]*Entry[K, V]),
		order: list.New(),
	}
}

// Add appends key at the tail. An existing key is unlinked first, so
// re-adding moves it to the back of the order.
func (s *InsertionOrdered[K, V]) Add(key K, value V) *Entry[K, V] {
	if old, ok := s.index[key]; ok {
		s.order.Remove(old.elem)
		old.elem = nil
	}
	e := &Entry[K, V]{Key: key, Value: value}
	e.elem = s.order.PushBack(e)
	s.index[key] = e
	return e
}

func (s *InsertionOrdered[K, V]) Remove(key K) (*Entry[K, V], bool) {
	e, ok := s.index[key]
	if !ok {
		return nil, false
	}
	s.order.Remove(e.elem)
	e.elem = nil
	delete(s.index, key)
	return e, true
}

func (s *InsertionOrdered[K, V]) Peek() (*Entry[K, V], bool) {
	front := s.order.Front()
	if front == nil {
		return nil, false
	}
	return front.Value.(*Entry[K, V]), true
}

func (s *InsertionOrdered[K, V]) Get(key K) (*Entry[K, V], bool) {
	e, ok := s.index[key]
	return e, ok
}

func (s *InsertionOrdered[K, V]) All() iter.Seq[*Entry[K, V]] {
	return func(yield func(*Entry[K, V]) bool) {
		for el := s.order.Front(); el != nil; {
			// Grab next first so the caller may remove the yielded entry.
			next := el.Next()
			if !yield(el.Value.(*Entry[K, V])) {
				return
			}
			el = next
		}
	}
}

func (s *InsertionOrdered[K, V]) Len() int { return len(s.index) }
