// Package queue provides the bounded multi-producer/multi-consumer ring buffer
// used to hand file transfers to the I/O workers.
package queue

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// cell is one ring slot. seq tells producers and consumers whose turn it is:
// seq == pos means free for the producer at pos, seq == pos+1 means filled for
// the consumer at pos.
type cell[T any] struct {
	seq  atomic.Uint64
	data T
}

// MPMC is a fixed-capacity lock-free FIFO (Vyukov's bounded MPMC algorithm).
// Enqueue and Dequeue never block.
type MPMC[T any] struct {
	_      cpu.CacheLinePad
	buffer []cell[T]
	mask   uint64
	_      cpu.CacheLinePad
	enqPos atomic.Uint64
	_      cpu.CacheLinePad
	deqPos atomic.Uint64
	_      cpu.CacheLinePad
}

// NewMPMC creates a queue holding up to capacity items.
// capacity must be a power of two and at least 2.
func NewMPMC[T any](capacity int) *MPMC[T] {
	if capacity < 2 || capacity&(capacity-1) != 0 {
		panic(fmt.Sprintf("queue: capacity %d is not a power of two >= 2", capacity))
	}

	q := &MPMC[T]{
		buffer: make([]cell[T], capacity),
		mask:   uint64(capacity - 1),
	}
	for i := range q.buffer {
		q.buffer[i].seq.Store(uint64(i))
	}
	return q
}

// Enqueue appends v. It returns false if the queue is full.
func (q *MPMC[T]) Enqueue(v T) bool {
	pos := q.enqPos.Load()
	for {
		c := &q.buffer[pos&q.mask]
		dif := int64(c.seq.Load()) - int64(pos)

		switch {
		case dif == 0:
			if q.enqPos.CompareAndSwap(pos, pos+1) {
				c.data = v
				c.seq.Store(pos + 1)
				return true
			}
			pos = q.enqPos.Load()
		case dif < 0:
			return false
		default:
			pos = q.enqPos.Load()
		}
	}
}

// Dequeue removes the oldest item. ok is false if the queue is empty.
func (q *MPMC[T]) Dequeue() (v T, ok bool) {
	pos := q.deqPos.Load()
	for {
		c := &q.buffer[pos&q.mask]
		dif := int64(c.seq.Load()) - int64(pos+1)

		switch {
		case dif == 0:
			if q.deqPos.CompareAndSwap(pos, pos+1) {
				v = c.data
				var zero T
				c.data = zero // drop the reference for GC
				c.seq.Store(pos + q.mask + 1)
				return v, true
			}
			pos = q.deqPos.Load()
		case dif < 0:
			return v, false
		default:
			pos = q.deqPos.Load()
		}
	}
}

// Cap returns the fixed capacity.
func (q *MPMC[T]) Cap() int { return len(q.buffer) }

// Len returns an approximate item count. It is only exact when no producer
// or consumer is running concurrently.
func (q *MPMC[T]) Len() int {
	n := int64(q.enqPos.Load()) - int64(q.deqPos.Load())
	if n < 0 {
		return 0
	}
	if n > int64(len(q.buffer)) {
		return len(q.buffer)
	}
	return int(n)
}
