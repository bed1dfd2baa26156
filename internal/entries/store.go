package entries

import (
	"container/list"
	"iter"
	"time"
)

// Entry is a key with its comparison value.
//
// Stores hand out *Entry pointers and never copy them, so pointer equality
// identifies "the same scheduled entry". Replacing a key creates a new Entry.
type Entry[K comparable, V any] struct {
	Key   K
	Value V

	seq  uint64        // insertion sequence, Sorted tie-break
	elem *list.Element // InsertionOrdered node
}

// Store is an ordered map from key to value.
//
// Implementations are not safe for concurrent use.
type Store[K comparable, V any] interface {
	// Add inserts key or replaces its entry. It returns the stored entry.
	Add(key K, value V) *Entry[K, V]
	// Remove deletes key. Removing an absent key is a no-op.
	Remove(key K) (*Entry[K, V], bool)
	// Peek returns the first entry in store order.
	Peek() (*Entry[K, V], bool)
	// Get returns the current entry for key.
	Get(key K) (*Entry[K, V], bool)
	// All yields every entry in store order. The sequence is one-shot and
	// must not be consumed while the store is mutated by another goroutine.
	All() iter.Seq[*Entry[K, V]]
	Len() int
}

// NewDeadlines returns a Sorted store ordered by ascending time.
func NewDeadlines[K comparable]() *Sorted[K, time.Time] {
	return NewSorted[K](time.Time.Compare)
}
