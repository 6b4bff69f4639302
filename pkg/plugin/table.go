package plugin

import (
	"sync"
	"sync/atomic"
)

// Table is an append-only list readable without locks. Writers serialize
// among themselves and publish a new slice on every append, so a reader
// holding an index obtained earlier always finds its element.
type Table[T any] struct {
	mu    sync.Mutex
	items atomic.Pointer[[]T]
}

// Append adds v and returns its index.
func (t *Table[T]) Append(v T) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	var old []T
	if p := t.items.Load(); p != nil {
		old = *p
	}
	next := make([]T, len(old), len(old)+1)
	copy(next, old)
	next = append(next, v)
	t.items.Store(&next)
	return len(next) - 1
}

// Get returns the element at i.
func (t *Table[T]) Get(i int) (T, bool) {
	var zero T
	p := t.items.Load()
	if p == nil || i < 0 || i >= len(*p) {
		return zero, false
	}
	return (*p)[i], true
}

// Len returns the number of elements.
func (t *Table[T]) Len() int {
	if p := t.items.Load(); p != nil {
		return len(*p)
	}
	return 0
}

// All returns the current elements. The slice must not be modified.
func (t *Table[T]) All() []T {
	if p := t.items.Load(); p != nil {
		return *p
	}
	return nil
}
