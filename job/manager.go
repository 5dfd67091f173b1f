package job

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/rescache/internal/resource"
)

// ErrClosed is returned when scheduling on a closed Manager.
var ErrClosed = errors.New("job: manager closed")

// Func is a unit of background work.
type Func func(ctx context.Context)

// Scheduler runs jobs and signals their completion through a Counter.
type Scheduler interface {
	// Run schedules fn. If c is non-nil it is incremented before Run returns
	// and decremented when fn returns.
	Run(fn Func, c *Counter) error
	// RunN schedules fn n times with indices 0..n-1.
	RunN(n int, fn func(ctx context.Context, i int), c *Counter) error
	// Yield gives other goroutines a chance to run.
	Yield()
}

// Manager is the goroutine-backed Scheduler.
//
// Every job gets its own goroutine, which then waits for one of the
// Controller's background slots. Run therefore never blocks, and a job may
// schedule further jobs without deadlocking on its own slot.
type Manager struct {
	rc     *resource.Controller
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	wg       sync.WaitGroup
	closed   atomic.Bool
	submitMu sync.RWMutex
	panics   atomic.Int64
	onPanic  func(v any)
}

var _ Scheduler = (*Manager)(nil)

// Option configures a Manager.
type Option func(*Manager)

// WithPanicHandler sets the function that receives the value of a panicking
// job after it was logged. Without a handler the panic is re-raised and
// terminates the process.
func WithPanicHandler(fn func(v any)) Option {
	return func(m *Manager) {
		m.onPanic = fn
	}
}

// NewManager creates a Manager. rc limits concurrency; a nil rc allows one
// job at a time. logger may be nil.
func NewManager(rc *resource.Controller, logger *slog.Logger, optFns ...Option) *Manager {
	if rc == nil {
		rc = resource.NewController(resource.Config{})
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		rc:     rc,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, fn := range optFns {
		fn(m)
	}
	return m
}

// Run implements Scheduler.
func (m *Manager) Run(fn Func, c *Counter) error {
	m.submitMu.RLock()
	defer m.submitMu.RUnlock()

	if m.closed.Load() {
		return ErrClosed
	}

	if c != nil {
		c.Add(1)
	}
	m.wg.Add(1)
	go m.exec(fn, c)
	return nil
}

// RunN implements Scheduler.
func (m *Manager) RunN(n int, fn func(ctx context.Context, i int), c *Counter) error {
	m.submitMu.RLock()
	defer m.submitMu.RUnlock()

	if m.closed.Load() {
		return ErrClosed
	}

	if c != nil {
		c.Add(int64(n))
	}
	m.wg.Add(n)
	for i := 0; i < n; i++ {
		go m.exec(func(ctx context.Context) { fn(ctx, i) }, c)
	}
	return nil
}

// Yield implements Scheduler.
func (m *Manager) Yield() { runtime.Gosched() }

// Panics returns the number of jobs that panicked and were handled.
func (m *Manager) Panics() int64 { return m.panics.Load() }

func (m *Manager) exec(fn Func, c *Counter) {
	defer m.wg.Done()
	if c != nil {
		defer c.Done()
	}
	defer func() {
		if r := recover(); r != nil {
			m.panics.Add(1)
			m.logger.Error("panic in job", "panic", r, "stack", string(debug.Stack()))
			if m.onPanic == nil {
				panic(r)
			}
			m.onPanic(r)
		}
	}()

	if err := m.rc.AcquireBackground(m.ctx); err != nil {
		return
	}
	defer m.rc.ReleaseBackground()

	fn(m.ctx)
}

// Close stops accepting jobs and waits for scheduled jobs to finish.
// Jobs scheduled from running jobs during Close get ErrClosed.
func (m *Manager) Close() error {
	m.submitMu.Lock()
	if !m.closed.CompareAndSwap(false, true) {
		m.submitMu.Unlock()
		return nil
	}
	m.submitMu.Unlock()

	m.wg.Wait()
	m.cancel()
	return nil
}
