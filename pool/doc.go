// Package pool
// Author: momentics <momentics@gmail.com>
//
// Object pooling for long-lived connector state. Bounded keeps idle
// processors in FIFO order up to a capacity and hands the overflow to a
// discard callback so the owner can unregister them.
package pool
