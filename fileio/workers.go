package fileio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/rescache/internal/conv"
	"github.com/hupe1980/rescache/internal/queue"
	"github.com/hupe1980/rescache/internal/resource"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrClosed is returned when submitting to closed Workers.
	ErrClosed = errors.New("fileio: workers closed")
	// ErrShortTransfer is returned when fewer bytes than requested were transferred.
	ErrShortTransfer = errors.New("fileio: short transfer")
)

const (
	// DefaultQueueCapacity is the number of queued jobs per worker.
	DefaultQueueCapacity = 128
	// DefaultChunkSize is the transfer granularity used for progress reporting.
	DefaultChunkSize = 8 * 1024 * 1024
)

// Config configures the I/O workers.
type Config struct {
	// QueueCapacity is the ring size of each worker. Must be a power of two.
	// Defaults to DefaultQueueCapacity.
	QueueCapacity int
	// ChunkSize is the number of bytes moved per read/write call.
	// Defaults to DefaultChunkSize.
	ChunkSize int
}

func (c Config) withDefaults() Config {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	return c
}

// Workers runs one goroutine for reads and one for writes.
//
// Each worker owns a bounded MPMC ring and a counting semaphore. Producers
// enqueue a Job and signal once; the worker waits on the semaphore and then
// drains every available job.
type Workers struct {
	read  *worker
	write *worker

	closed   atomic.Bool
	submitMu sync.RWMutex
}

// New starts the read and write workers.
// rc may be nil (no IO rate limit); logger may be nil.
func New(cfg Config, rc *resource.Controller, logger *slog.Logger) *Workers {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	w := &Workers{}
	w.read = newWorker("read", cfg, rc, logger, transferRead)
	w.write = newWorker("write", cfg, rc, logger, transferWrite)
	return w
}

// ReadAt reads len(buf) bytes from r at off into buf.
//
// With a nil res the read runs on the calling goroutine and the final Result
// is returned. Otherwise the read is queued, res moves to Pending and Pending
// is returned; observe completion through res.
func (w *Workers) ReadAt(ctx context.Context, r io.ReaderAt, off int64, buf []byte, res *AsyncResult) (Result, error) {
	if r == nil {
		panic("fileio: ReadAt with nil reader")
	}
	if off < 0 {
		panic(fmt.Sprintf("fileio: negative read offset %d", off))
	}
	return w.submit(w.read, Job{Reader: r, Offset: off, Buf: buf, Result: res, ctx: ctx})
}

// Write writes buf to wr. See ReadAt for the meaning of res.
func (w *Workers) Write(ctx context.Context, wr io.Writer, buf []byte, res *AsyncResult) (Result, error) {
	if wr == nil {
		panic("fileio: Write with nil writer")
	}
	return w.submit(w.write, Job{Writer: wr, Buf: buf, Result: res, ctx: ctx})
}

// ReadAll reads size bytes from r through the read worker and waits for completion.
func (w *Workers) ReadAll(ctx context.Context, r io.ReaderAt, size int64) ([]byte, error) {
	n, err := conv.Int64ToInt(size)
	if err != nil {
		return nil, fmt.Errorf("fileio: read size: %w", err)
	}
	buf := make([]byte, n)
	var res AsyncResult
	if _, err := w.ReadAt(ctx, r, 0, buf, &res); err != nil {
		return nil, err
	}
	if err := wait(ctx, &res); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteAll writes data to wr through the write worker and waits for completion.
func (w *Workers) WriteAll(ctx context.Context, wr io.Writer, data []byte) error {
	var res AsyncResult
	if _, err := w.Write(ctx, wr, data, &res); err != nil {
		return err
	}
	return wait(ctx, &res)
}

func wait(ctx context.Context, res *AsyncResult) error {
	r, err := res.Wait(ctx)
	if err != nil {
		return err
	}
	if r != Success {
		return fmt.Errorf("%w: %d bytes remaining", ErrShortTransfer, res.WorkRemaining())
	}
	return nil
}

func (w *Workers) submit(wk *worker, j Job) (Result, error) {
	w.submitMu.RLock()
	defer w.submitMu.RUnlock()

	if w.closed.Load() {
		return Failure, ErrClosed
	}

	if j.Result == nil {
		return wk.do(j), nil
	}

	j.Result.submit(len(j.Buf))
	if !wk.jobs.Enqueue(j) {
		// Ring full: run on the caller rather than block it.
		wk.logger.Debug("io queue full, running inline", "worker", wk.name, "bytes", len(j.Buf))
		wk.do(j)
		return Pending, nil
	}
	wk.signal()
	return Pending, nil
}

// Close stops both workers after they finish every job queued before Close.
// It is idempotent.
func (w *Workers) Close() error {
	w.submitMu.Lock()
	if !w.closed.CompareAndSwap(false, true) {
		w.submitMu.Unlock()
		return nil
	}
	w.submitMu.Unlock()

	w.read.stop()
	w.write.stop()
	return nil
}

type transferFunc func(wk *worker, j Job) Result

type worker struct {
	name      string
	jobs      *queue.MPMC[Job]
	chunkSize int
	rc        *resource.Controller
	logger    *slog.Logger
	transfer  transferFunc

	// sem counts wake-ups. It starts fully acquired; signal releases one unit
	// and the worker acquires one per wake. pending caps outstanding signals
	// at maxSignals, extra signals are dropped since a woken worker drains
	// the whole ring anyway.
	sem        *semaphore.Weighted
	pending    atomic.Int64
	maxSignals int64

	wg sync.WaitGroup
}

func newWorker(name string, cfg Config, rc *resource.Controller, logger *slog.Logger, fn transferFunc) *worker {
	maxSignals := int64(cfg.QueueCapacity) + 1
	wk := &worker{
		name:       name,
		jobs:       queue.NewMPMC[Job](cfg.QueueCapacity),
		chunkSize:  cfg.ChunkSize,
		rc:         rc,
		logger:     logger,
		transfer:   fn,
		sem:        semaphore.NewWeighted(maxSignals + 1),
		maxSignals: maxSignals,
	}
	// One unit above the cap is reserved for the shutdown sentinel.
	if !wk.sem.TryAcquire(maxSignals + 1) {
		panic("fileio: fresh semaphore not acquirable")
	}

	wk.wg.Add(1)
	go wk.run()
	return wk
}

func (wk *worker) signal() {
	for {
		n := wk.pending.Load()
		if n >= wk.maxSignals {
			return
		}
		if wk.pending.CompareAndSwap(n, n+1) {
			wk.sem.Release(1)
			return
		}
	}
}

func (wk *worker) run() {
	defer wk.wg.Done()

	for {
		if err := wk.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		wk.pending.Add(-1)

		for {
			j, ok := wk.jobs.Dequeue()
			if !ok {
				break
			}
			if j.sentinel() {
				return
			}
			wk.do(j)
		}
	}
}

func (wk *worker) stop() {
	for !wk.jobs.Enqueue(Job{}) {
		runtime.Gosched()
	}
	wk.sem.Release(1)
	wk.wg.Wait()
}

func (wk *worker) do(j Job) Result {
	j.Result.start()
	r := wk.transfer(wk, j)
	j.Result.finish(r)
	return r
}

// transferRead reads j.Buf in chunks. Any chunk that comes back short ends
// the transfer with Failure.
func transferRead(wk *worker, j Job) Result {
	ctx := j.context()
	dst := j.Buf
	off := j.Offset

	for len(dst) > 0 {
		n := min(wk.chunkSize, len(dst))
		if err := wk.rc.AcquireIO(ctx, n); err != nil {
			wk.logger.Debug("io read aborted", "error", err)
			return Failure
		}

		got, err := j.Reader.ReadAt(dst[:n], off)
		j.Result.progress(got)
		dst = dst[got:]
		off += int64(got)

		if got < n {
			wk.logger.Debug("short read", "offset", off, "remaining", len(dst), "error", err)
			return Failure
		}
	}
	return Success
}

func transferWrite(wk *worker, j Job) Result {
	ctx := j.context()
	src := j.Buf

	for len(src) > 0 {
		n := min(wk.chunkSize, len(src))
		if err := wk.rc.AcquireIO(ctx, n); err != nil {
			wk.logger.Debug("io write aborted", "error", err)
			return Failure
		}

		wrote, err := j.Writer.Write(src[:n])
		j.Result.progress(wrote)
		src = src[wrote:]

		if wrote < n || err != nil {
			wk.logger.Debug("short write", "remaining", len(src), "error", err)
			return Failure
		}
	}
	return Success
}
