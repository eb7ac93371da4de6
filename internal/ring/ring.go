// Package ring implements a generic, thread-safe bounded FIFO buffer.
//
// Once the buffer holds capacity items, each Push evicts the oldest one.
// Push, Len and Reset are O(1); Items is O(n).
package ring

import "sync"

// Buffer is a fixed-capacity ring of V values.
type Buffer[V any] struct {
	mu       sync.Mutex
	capacity int
	items    []V
	start    int // index of the oldest item
	size     int
}

// New creates a buffer with the given capacity.
// Panics if capacity < 1.
func New[V any](capacity int) *Buffer[V] {
	if capacity < 1 {
		panic("ring: capacity must be >= 1")
	}
	return &Buffer[V]{
		capacity: capacity,
		items:    make([]V, capacity),
	}
}

// Push appends v. Returns the evicted value and true if the buffer was full.
func (b *Buffer[V]) Push(v V) (V, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size < b.capacity {
		b.items[(b.start+b.size)%b.capacity] = v
		b.size++
		var zero V
		return zero, false
	}

	evicted := b.items[b.start]
	b.items[b.start] = v
	b.start = (b.start + 1) % b.capacity
	return evicted, true
}

// Items returns a copy of the contents, oldest first.
func (b *Buffer[V]) Items() []V {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]V, 0, b.size)
	for i := 0; i < b.size; i++ {
		out = append(out, b.items[(b.start+i)%b.capacity])
	}
	return out
}

// Len returns the number of buffered items.
func (b *Buffer[V]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Cap returns the buffer capacity.
func (b *Buffer[V]) Cap() int {
	return b.capacity
}

// Reset drops every item.
func (b *Buffer[V]) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero V
	for i := range b.items {
		b.items[i] = zero
	}
	b.start = 0
	b.size = 0
}
