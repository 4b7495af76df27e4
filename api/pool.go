// File: api/pool.go
// Author: momentics <momentics@gmail.com>
//
// Defines abstract pooling APIs for object reuse.

package api

// ObjectPool provides bounded pooling of long-lived objects such as
// processors.
type ObjectPool[T any] interface {
	// Offer returns obj to the pool; false means the pool is full and obj
	// was discarded.
	Offer(obj T) bool

	// Poll takes an idle instance, if any.
	Poll() (T, bool)

	// Len returns the number of idle instances.
	Len() int

	// Clear discards every idle instance.
	Clear()
}
