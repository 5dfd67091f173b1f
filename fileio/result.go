package fileio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Result is the state of one file transfer.
type Result int32

const (
	// Initial is the state of a fresh or reset AsyncResult.
	Initial Result = iota
	// Pending means the transfer is queued for a worker.
	Pending
	// Running means a worker is transferring bytes.
	Running
	// Success means every byte was transferred.
	Success
	// Failure means the transfer stopped short.
	Failure
)

func (r Result) String() string {
	switch r {
	case Initial:
		return "initial"
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Success:
		return "success"
	case Failure:
		return "failure"
	default:
		return fmt.Sprintf("Result(%d)", int32(r))
	}
}

// Done reports whether r is a terminal state.
func (r Result) Done() bool { return r == Success || r == Failure }

// AsyncResult tracks the progress of one asynchronous transfer.
//
// The zero value is ready to use. An AsyncResult may be reused after Reset
// once its transfer has completed.
type AsyncResult struct {
	result         atomic.Int32
	workRemaining  atomic.Int64
	bytesProcessed atomic.Int64

	mu   sync.Mutex
	done chan struct{}
}

// Result returns the current state.
func (a *AsyncResult) Result() Result { return Result(a.result.Load()) }

// WorkRemaining returns the number of bytes not yet transferred.
func (a *AsyncResult) WorkRemaining() int64 { return a.workRemaining.Load() }

// BytesProcessed returns the number of bytes transferred so far.
func (a *AsyncResult) BytesProcessed() int64 { return a.bytesProcessed.Load() }

// Wait blocks until the transfer reaches Success or Failure.
// An AsyncResult that was never submitted returns Initial immediately.
func (a *AsyncResult) Wait(ctx context.Context) (Result, error) {
	a.mu.Lock()
	done := a.done
	a.mu.Unlock()

	if done == nil {
		return a.Result(), nil
	}

	select {
	case <-done:
		return a.Result(), nil
	case <-ctx.Done():
		return a.Result(), ctx.Err()
	}
}

// Reset returns a completed AsyncResult to Initial.
func (a *AsyncResult) Reset() {
	if r := a.Result(); r == Pending || r == Running {
		panic(fmt.Sprintf("fileio: reset of in-flight AsyncResult (%s)", r))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.result.Store(int32(Initial))
	a.workRemaining.Store(0)
	a.bytesProcessed.Store(0)
	a.done = nil
}

func (a *AsyncResult) transition(from, to Result) {
	if !a.result.CompareAndSwap(int32(from), int32(to)) {
		panic(fmt.Sprintf("fileio: invalid AsyncResult transition %s -> %s (state %s)", from, to, a.Result()))
	}
}

// submit moves Initial to Pending and books size bytes of work.
func (a *AsyncResult) submit(size int) {
	a.mu.Lock()
	a.done = make(chan struct{})
	a.mu.Unlock()

	a.transition(Initial, Pending)
	a.workRemaining.Add(int64(size))
}

func (a *AsyncResult) start() {
	if a == nil {
		return
	}
	a.transition(Pending, Running)
}

func (a *AsyncResult) progress(n int) {
	if a == nil || n <= 0 {
		return
	}
	a.workRemaining.Add(-int64(n))
	a.bytesProcessed.Add(int64(n))
}

func (a *AsyncResult) finish(r Result) {
	if a == nil {
		return
	}
	a.transition(Running, r)

	a.mu.Lock()
	close(a.done)
	a.mu.Unlock()
}
