package job

import (
	"context"
	"fmt"
	"sync"
)

var settled = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Counter counts outstanding jobs. The zero value is ready to use.
//
// A Counter settles each time its value returns to zero; waiters blocked in
// Wait or on Settled are released at that moment.
type Counter struct {
	mu sync.Mutex
	n  int64
	ch chan struct{}
}

// Add adds delta to the counter. The counter going negative panics.
func (c *Counter) Add(delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.n == 0 && delta > 0 {
		c.ch = make(chan struct{})
	}
	c.n += delta
	if c.n < 0 {
		panic(fmt.Sprintf("job: negative counter %d", c.n))
	}
	if c.n == 0 && c.ch != nil {
		close(c.ch)
		c.ch = nil
	}
}

// Done decrements the counter by one.
func (c *Counter) Done() { c.Add(-1) }

// Value returns the current count.
func (c *Counter) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Settled returns a channel that is closed once the counter is zero.
// For a counter that is already zero the channel is closed.
func (c *Counter) Settled() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == 0 {
		return settled
	}
	return c.ch
}

// Wait blocks until the counter is zero or ctx is done.
func (c *Counter) Wait(ctx context.Context) error {
	select {
	case <-c.Settled():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
