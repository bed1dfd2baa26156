package entries

import (
	"iter"

	"github.com/google/btree"
)

// btreeDegree is the B-tree node fan-out. Small trees stay shallow either way.
const btreeDegree = 16

// Sorted keeps entries ascending by value. Entries with equal values keep
// their insertion order.
type Sorted[K comparable, V any] struct {
	cmp   func(a, b V) int
	tree  *btree.BTreeG[*Entry[K, V]]
	index map[K]*Entry[K, V]
	seq   uint64

	// head caches the minimum so Peek does not walk the tree; nil means
	// "unknown" and is refilled from the tree on demand.
	head *Entry[K, V]
}

var _ Store[string, int] = (*Sorted[string, int])(nil)

// NewSorted returns a store ordered by cmp, which reports a<b as negative,
// a==b as zero and a>b as positive (the cmp.Compare convention).
func NewSorted[K comparable, V any](cmp func(a, b V) int) *Sorted[K, V] {
	s := &Sorted[K, V]{
		cmp:   cmp,
		index: make(map[K]*Entry[K, V]),
	}
	s.tree = btree.NewG(btreeDegree, s.less)
	return s
}

func (s *Sorted[K, V]) less(a, b *Entry[K, V]) bool {
	if c := s.cmp(a.Value, b.Value); c != 0 {
		return c < 0
	}
	return a.seq < b.seq
}

func (s *Sorted[K, V]) Add(key K, value V) *Entry[K, V] {
	if old, ok := s.index[key]; ok {
		s.unlink(old)
	}
	s.seq++
	e := &Entry[K, V]{Key: key, Value: value, seq: s.seq}
	s.tree.ReplaceOrInsert(e)
	s.index[key] = e
	if s.head != nil && s.less(e, s.head) {
		s.head = e
	}
	return e
}

func (s *Sorted[K, V]) Remove(key K) (*Entry[K, V], bool) {
	e, ok := s.index[key]
	if !ok {
		return nil, false
	}
	s.unlink(e)
	return e, true
}

func (s *Sorted[K, V]) unlink(e *Entry[K, V]) {
	s.tree.Delete(e)
	delete(s.index, e.Key)
	if s.head == e {
		s.head = nil
	}
}

func (s *Sorted[K, V]) Peek() (*Entry[K, V], bool) {
	if s.head == nil {
		first, ok := s.tree.Min()
		if !ok {
			return nil, false
		}
		s.head = first
	}
	return s.head, true
}

func (s *Sorted[K, V]) Get(key K) (*Entry[K, V], bool) {
	e, ok := s.index[key]
	return e, ok
}

func (s *Sorted[K, V]) All() iter.Seq[*Entry[K, V]] {
	return func(yield func(*Entry[K, V]) bool) {
		s.tree.Ascend(func(e *Entry[K, V]) bool {
			return yield(e)
		})
	}
}

func (s *Sorted[K, V]) Len() int { return len(s.index) }
