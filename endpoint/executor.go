// File: endpoint/executor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Executor runs connection tasks on a fixed set of worker goroutines.
// Submit hands a task over only when a worker is free, so the acceptor stops
// pulling connections off the backlog once every worker is busy.

package endpoint

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/momentics/hioload-ajp/api"
)

// ErrExecutorClosed indicates the executor has been shut down.
var ErrExecutorClosed = errors.New("executor is closed")

var _ api.Executor = (*Executor)(nil)

// Executor manages a pool of worker goroutines.
type Executor struct {
	queue      chan func()
	closeCh    chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
	numWorkers int32
	busy       atomic.Int32
	log        *zap.Logger

	// statistics
	totalTasks     atomic.Int64
	completedTasks atomic.Int64
	panics         atomic.Int64
}

// NewExecutor starts numWorkers workers. If numWorkers <= 0, defaults to
// runtime.NumCPU().
func NewExecutor(numWorkers int, log *zap.Logger) *Executor {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if log == nil {
		log = zap.NewNop()
	}
	e := &Executor{
		queue:      make(chan func()),
		closeCh:    make(chan struct{}),
		numWorkers: int32(numWorkers),
		log:        log,
	}
	e.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go e.run(i)
	}
	return e
}

// Submit blocks until a worker accepts task, returning ErrExecutorClosed
// if the executor is closed first.
func (e *Executor) Submit(task func()) error {
	return e.SubmitContext(context.Background(), task)
}

// SubmitContext is Submit bounded by ctx.
func (e *Executor) SubmitContext(ctx context.Context, task func()) error {
	select {
	case <-e.closeCh:
		return ErrExecutorClosed
	default:
	}
	select {
	case e.queue <- task:
		e.totalTasks.Add(1)
		return nil
	case <-e.closeCh:
		return ErrExecutorClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NumWorkers returns the number of workers.
func (e *Executor) NumWorkers() int {
	return int(atomic.LoadInt32(&e.numWorkers))
}

// Busy returns the number of workers running a task.
func (e *Executor) Busy() int { return int(e.busy.Load()) }

// Close stops accepting tasks and waits for running tasks to return.
func (e *Executor) Close() {
	e.closeOnce.Do(func() { close(e.closeCh) })
	e.wg.Wait()
}

// Stats returns basic executor metrics.
func (e *Executor) Stats() map[string]int64 {
	return map[string]int64{
		"total_tasks":     e.totalTasks.Load(),
		"completed_tasks": e.completedTasks.Load(),
		"busy_workers":    int64(e.Busy()),
		"num_workers":     int64(e.NumWorkers()),
		"panics":          e.panics.Load(),
	}
}

func (e *Executor) run(id int) {
	defer e.wg.Done()
	for {
		select {
		case <-e.closeCh:
			return
		case task := <-e.queue:
			e.executeTask(id, task)
		}
	}
}

// executeTask runs the task and updates statistics, recovering from panics
// so the worker survives.
func (e *Executor) executeTask(id int, task func()) {
	e.busy.Add(1)
	defer func() {
		if r := recover(); r != nil {
			e.panics.Add(1)
			e.log.Error("executor task panic",
				zap.Int("worker", id),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
		e.busy.Add(-1)
		e.completedTasks.Add(1)
	}()
	task()
}
