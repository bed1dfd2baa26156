// Package entriestest checks the behavior every entries.Store must share.
package entriestest

import (
	"fmt"
	"slices"
	"testing"

	"deadlined/internal/entries"
)

// Ordering names the order a store is expected to produce.
type Ordering int

const (
	// ByInsertion expects arrival order regardless of values.
	ByInsertion Ordering = iota
	// ByValue expects ascending values, equal values in arrival order.
	ByValue
)

// Factory returns a new empty store.
type Factory func() entries.Store[string, int]

type item struct {
	key   string
	value int
}

// values deliberately arrive out of order and contain ties.
var fixture = []item{
	{"a", 50}, {"b", 10}, {"c", 30}, {"d", 10}, {"e", 70},
	{"f", 20}, {"g", 30}, {"h", 0}, {"i", 90}, {"j", 10},
}

// Run executes the shared store checks against stores built by newStore.
func Run(t *testing.T, newStore Factory, ordering Ordering) {
	t.Helper()

	t.Run("empty", func(t *testing.T) {
		s := newStore()
		for e := range s.All() {
			t.Fatalf("empty store yielded %q", e.Key)
		}
		if e, ok := s.Peek(); ok || e != nil {
			t.Fatalf("Peek on empty store = (%s, %v), want (nil, false)", describe(e), ok)
		}
		if s.Len() != 0 {
			t.Fatalf("Len = %d, want 0", s.Len())
		}
	})

	t.Run("order", func(t *testing.T) {
		s := newStore()
		fill(s, fixture)
		assertOrder(t, s, expected(fixture, ordering))
	})

	t.Run("remove preserves order", func(t *testing.T) {
		positions := map[string]func(n int) int{
			"first":  func(int) int { return 0 },
			"middle": func(n int) int { return (n - 1) / 2 },
			"last":   func(n int) int { return n - 1 },
		}
		for name, pos := range positions {
			t.Run(name, func(t *testing.T) {
				s := newStore()
				fill(s, fixture)
				want := expected(fixture, ordering)
				i := pos(len(want))
				victim := want[i]
				want = slices.Delete(want, i, i+1)

				removed, ok := s.Remove(victim)
				if !ok || removed == nil || removed.Key != victim {
					t.Fatalf("Remove(%q) = (%s, %v)", victim, describe(removed), ok)
				}
				assertOrder(t, s, want)

				// Drain the rest from the front, checking order at every step.
				for len(want) > 0 {
					head, ok := s.Peek()
					if !ok || head.Key != want[0] {
						t.Fatalf("Peek = %s, want %q", describe(head), want[0])
					}
					s.Remove(head.Key)
					want = want[1:]
					assertOrder(t, s, want)
				}
			})
		}
	})

	t.Run("absent key is a no-op", func(t *testing.T) {
		s := newStore()
		fill(s, fixture[:3])
		if e, ok := s.Remove("missing"); ok || e != nil {
			t.Fatalf("Remove(missing) = (%s, %v), want (nil, false)", describe(e), ok)
		}
		first := fixture[0].key
		s.Remove(first)
		if _, ok := s.Remove(first); ok {
			t.Fatalf("second Remove(%q) reported a removal", first)
		}
		assertOrder(t, s, expected(fixture[1:3], ordering))
	})

	t.Run("identity", func(t *testing.T) {
		s := newStore()
		added := make(map[string]*entries.Entry[string, int], len(fixture))
		for _, it := range fixture {
			added[it.key] = s.Add(it.key, it.value)
		}
		for e := range s.All() {
			if added[e.Key] != e {
				t.Fatalf("All yielded a different *Entry for %q", e.Key)
			}
		}
		head, _ := s.Peek()
		if added[head.Key] != head {
			t.Fatalf("Peek returned a different *Entry for %q", head.Key)
		}
		if got, _ := s.Get("c"); got != added["c"] {
			t.Fatalf("Get returned a different *Entry for %q", "c")
		}
		if removed, _ := s.Remove("c"); removed != added["c"] {
			t.Fatalf("Remove returned a different *Entry for %q", "c")
		}
	})

	t.Run("replace", func(t *testing.T) {
		s := newStore()
		items := slices.Clone(fixture[:5])
		fill(s, items)
		old, _ := s.Get("b")
		repl := s.Add("b", 60)
		if repl == old {
			t.Fatal("replacement reused the old *Entry")
		}
		if s.Len() != len(items) {
			t.Fatalf("Len = %d after replace, want %d", s.Len(), len(items))
		}

		// Replacing behaves like remove-then-append.
		items = slices.DeleteFunc(items, func(it item) bool { return it.key == "b" })
		items = append(items, item{"b", 60})
		assertOrder(t, s, expected(items, ordering))
	})

	t.Run("peek tracks removals", func(t *testing.T) {
		s := newStore()
		fill(s, fixture)
		want := expected(fixture, ordering)
		for _, key := range want {
			if head, ok := s.Peek(); !ok || head.Key != key {
				t.Fatalf("Peek = %s, want %q", describe(head), key)
			}
			s.Remove(key)
		}
		if _, ok := s.Peek(); ok {
			t.Fatal("Peek after draining reported an entry")
		}
	})

	t.Run("early stop", func(t *testing.T) {
		s := newStore()
		fill(s, fixture)
		n := 0
		for range s.All() {
			n++
			if n == 3 {
				break
			}
		}
		if n != 3 {
			t.Fatalf("iterated %d entries, want 3", n)
		}
	})
}

func fill(s entries.Store[string, int], items []item) {
	for _, it := range items {
		s.Add(it.key, it.value)
	}
}

func expected(items []item, ordering Ordering) []string {
	sorted := slices.Clone(items)
	if ordering == ByValue {
		// Stable sort keeps arrival order among equal values.
		slices.SortStableFunc(sorted, func(a, b item) int { return a.value - b.value })
	}
	keys := make([]string, len(sorted))
	for i, it := range sorted {
		keys[i] = it.key
	}
	return keys
}

func assertOrder(t *testing.T, s entries.Store[string, int], want []string) {
	t.Helper()
	got := make([]string, 0, s.Len())
	for e := range s.All() {
		got = append(got, e.Key)
	}
	if !slices.Equal(got, want) {
		t.Fatalf("order mismatch:\n  got:  %v\n  want: %v", got, want)
	}
	if s.Len() != len(want) {
		t.Fatalf("Len = %d, want %d", s.Len(), len(want))
	}
	if len(want) > 0 {
		head, ok := s.Peek()
		if !ok || head.Key != want[0] {
			t.Fatalf("Peek = %s, want %q", describe(head), want[0])
		}
	}
}

func describe(e *entries.Entry[string, int]) string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%q=%d", e.Key, e.Value)
}
