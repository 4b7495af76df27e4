// File: pool/bounded.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Capacity-bounded FIFO pool of long-lived objects.

package pool

import (
	"sync"

	"github.com/eapache/queue"
)

// Unbounded disables the capacity limit of a Bounded pool.
const Unbounded = -1

// Bounded is a mutex-guarded FIFO of idle objects. Objects offered beyond
// the capacity are handed to the discard callback instead of being kept.
type Bounded[T any] struct {
	mu        sync.Mutex
	q         *queue.Queue
	capacity  int
	onDiscard func(T)
}

// NewBounded creates a pool holding at most capacity idle objects;
// Unbounded (or any negative value) removes the limit.
func NewBounded[T any](capacity int, onDiscard func(T)) *Bounded[T] {
	return &Bounded[T]{
		q:         queue.New(),
		capacity:  capacity,
		onDiscard: onDiscard,
	}
}

// Offer returns obj to the pool. It reports false when obj was discarded.
func (b *Bounded[T]) Offer(obj T) bool {
	b.mu.Lock()
	if b.capacity >= 0 && b.q.Length() >= b.capacity {
		b.mu.Unlock()
		b.discard(obj)
		return false
	}
	b.q.Add(obj)
	b.mu.Unlock()
	return true
}

// Poll takes the oldest idle object.
func (b *Bounded[T]) Poll() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.q.Length() == 0 {
		var zero T
		return zero, false
	}
	return b.q.Remove().(T), true
}

// Len returns the number of idle objects.
func (b *Bounded[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.q.Length()
}

// Capacity returns the configured limit.
func (b *Bounded[T]) Capacity() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// SetCapacity changes the limit, discarding the oldest idle objects that
// no longer fit.
func (b *Bounded[T]) SetCapacity(capacity int) {
	b.mu.Lock()
	b.capacity = capacity
	var excess []T
	for capacity >= 0 && b.q.Length() > capacity {
		excess = append(excess, b.q.Remove().(T))
	}
	b.mu.Unlock()
	for _, obj := range excess {
		b.discard(obj)
	}
}

// Clear discards every idle object.
func (b *Bounded[T]) Clear() {
	b.mu.Lock()
	drained := make([]T, 0, b.q.Length())
	for b.q.Length() > 0 {
		drained = append(drained, b.q.Remove().(T))
	}
	b.mu.Unlock()
	for _, obj := range drained {
		b.discard(obj)
	}
}

func (b *Bounded[T]) discard(obj T) {
	if b.onDiscard != nil {
		b.onDiscard(obj)
	}
}
