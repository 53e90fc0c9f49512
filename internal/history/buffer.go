// Package history holds the bounded telemetry log.
package history

import "sync"

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 2000

// Buffer is a thread-safe bounded FIFO. Once full, each Push evicts the
// oldest item. Readers get copies, never the live storage.
type Buffer[T any] struct {
	mu    sync.Mutex
	items []T
	head  int // index of the oldest item
	size  int
}

// New creates an empty buffer holding at most capacity items.
func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer[T]{
		items: make([]T, capacity),
	}
}

// Push appends items, evicting the oldest ones when the buffer is full.
func (b *Buffer[T]) Push(items ...T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, item := range items {
		if b.size < len(b.items) {
			b.items[(b.head+b.size)%len(b.items)] = item
			b.size++
			continue
		}
		b.items[b.head] = item
		b.head = (b.head + 1) % len(b.items)
	}
}

// Snapshot returns a copy of all items, oldest first.
func (b *Buffer[T]) Snapshot() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastLocked(b.size)
}

// Last returns a copy of the newest n items, oldest first.
func (b *Buffer[T]) Last(n int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > b.size {
		n = b.size
	}
	if n < 0 {
		n = 0
	}
	return b.lastLocked(n)
}

func (b *Buffer[T]) lastLocked(n int) []T {
	out := make([]T, n)
	start := b.head + b.size - n
	for i := 0; i < n; i++ {
		out[i] = b.items[(start+i)%len(b.items)]
	}
	return out
}

// Len returns the number of items held.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Cap returns the capacity.
func (b *Buffer[T]) Cap() int {
	return len(b.items)
}

// Clear removes all items.
func (b *Buffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	b.head = 0
	b.size = 0
}
