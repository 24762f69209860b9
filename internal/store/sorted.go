package store

import (
	"slices"
	"strings"
)

// SearchResult reports the outcome of a binary search. When Found is false,
// Index is the sorted insertion point for the key, so callers can splice a
// new item in without a second scan.
type SearchResult[T any] struct {
	Found bool
	Index int
	Item  T
}

// Sorted is a slice kept in ascending key order, addressed through a
// caller-supplied key extractor and comparator. All operations are
// O(log n) search plus O(k) shift on insert/remove.
type Sorted[T any] struct {
	items []T
	keyOf func(T) string
	cmp   func(a, b string) int
}

// NewSorted returns an empty collection ordered by keyOf under the default
// string comparator.
func NewSorted[T any](keyOf func(T) string) *Sorted[T] {
	return NewSortedFunc(keyOf, strings.Compare)
}

// NewSortedFunc returns an empty collection ordered by keyOf under cmp.
func NewSortedFunc[T any](keyOf func(T) string, cmp func(a, b string) int) *Sorted[T] {
	return &Sorted[T]{keyOf: keyOf, cmp: cmp}
}

// Search binary-searches for key.
func (s *Sorted[T]) Search(key string) SearchResult[T] {
	idx, found := slices.BinarySearchFunc(s.items, key, func(item T, key string) int {
		return s.cmp(s.keyOf(item), key)
	})
	res := SearchResult[T]{Found: found, Index: idx}
	if found {
		res.Item = s.items[idx]
	}
	return res
}

// Get returns the item stored under key.
func (s *Sorted[T]) Get(key string) (T, bool) {
	res := s.Search(key)
	return res.Item, res.Found
}

// Upsert inserts item at its sorted position, replacing any existing item
// with the same key. It reports whether an existing item was replaced.
func (s *Sorted[T]) Upsert(item T) bool {
	res := s.Search(s.keyOf(item))
	if res.Found {
		s.items[res.Index] = item
		return true
	}
	s.items = slices.Insert(s.items, res.Index, item)
	return false
}

// Update applies fn to the item stored under key in place. It reports
// whether the key was present.
func (s *Sorted[T]) Update(key string, fn func(*T)) bool {
	res := s.Search(key)
	if !res.Found {
		return false
	}
	fn(&s.items[res.Index])
	return true
}

// Remove deletes the item stored under key, reporting whether it was present.
func (s *Sorted[T]) Remove(key string) bool {
	res := s.Search(key)
	if !res.Found {
		return false
	}
	s.items = slices.Delete(s.items, res.Index, res.Index+1)
	return true
}

// Len returns the number of items.
func (s *Sorted[T]) Len() int {
	return len(s.items)
}

// At returns the item at index i.
func (s *Sorted[T]) At(i int) T {
	return s.items[i]
}

// Items returns the backing slice in key order. Callers must not mutate it.
func (s *Sorted[T]) Items() []T {
	return s.items
}
