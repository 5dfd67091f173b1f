package rescache

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/rescache/blobstore"
	"github.com/hupe1980/rescache/fileio"
	"github.com/hupe1980/rescache/internal/cache"
	"github.com/hupe1980/rescache/internal/resource"
	"github.com/hupe1980/rescache/job"
)

// Manager is the resource cache. It owns the registry, the I/O workers and
// the hot-reload monitor; every operation goes through it.
type Manager struct {
	store    blobstore.Store
	resolver *blobstore.PathResolver
	opts     options
	logger   *Logger
	metrics  MetricsCollector

	rc         *resource.Controller
	sched      job.Scheduler
	jobs       *job.Manager // nil if the scheduler was supplied
	workers    *fileio.Workers
	artifacts  cache.ByteCache
	blockCache cache.ByteCache

	factoryMu sync.RWMutex
	factories map[Type]factory

	registry   *registry
	reloadLock sync.RWMutex
	// chains counts chains in flight across all entries.
	chains  job.Counter
	monitor *monitor

	closeOnce sync.Once
	closed    atomic.Bool
	stats     stats
}

type stats struct {
	conversions      atomic.Int64
	loads            atomic.Int64
	reloads          atomic.Int64
	failures         atomic.Int64
	destroyed        atomic.Int64
	reloadsDetected  atomic.Int64
	reloadsScheduled atomic.Int64
}

// Stats is a snapshot of the Manager's state.
type Stats struct {
	Live     int
	Released int
	// Pending is the number of chains in flight.
	Pending     int64
	Conversions int64
	Loads       int64
	Reloads     int64
	Failures    int64
	Destroyed   int64
	// StaleDetected counts entries the hot-reload monitor found stale.
	StaleDetected int64
	// ReloadsScheduled counts conversions the hot-reload monitor started.
	ReloadsScheduled    int64
	ArtifactCacheHits   int64
	ArtifactCacheMisses int64
	MemoryUsage         int64
}

// New creates a Manager on top of store.
func New(store blobstore.Store, optFns ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("rescache: nil store")
	}
	opts := applyOptions(optFns)

	maxJobs := opts.maxBackgroundJobs
	if maxJobs <= 0 {
		maxJobs = int64(runtime.GOMAXPROCS(0))
	}
	rc := resource.NewController(resource.Config{
		MemoryLimitBytes:     opts.memoryLimit,
		MaxBackgroundWorkers: maxJobs,
		IOLimitBytesPerSec:   opts.ioLimit,
	})

	m := &Manager{
		opts:      opts,
		logger:    opts.logger,
		metrics:   opts.metricsCollector,
		rc:        rc,
		factories: make(map[Type]factory),
		registry:  newRegistry(),
	}

	if opts.blockCacheSize > 0 {
		m.blockCache = cache.NewShardedLRU(opts.blockCacheSize, rc)
		store = blobstore.NewCachingStore(store, m.blockCache, blobstore.DefaultBlockSize)
	}
	m.store = store

	m.resolver = blobstore.NewPathResolver(store)
	for _, dir := range opts.searchPaths {
		m.resolver.AddPath(dir)
	}

	if opts.artifactCacheSize > 0 {
		m.artifacts = cache.NewShardedLRU(opts.artifactCacheSize, rc)
	}

	m.workers = fileio.New(opts.ioConfig, rc, m.logger.Logger)

	m.sched = opts.scheduler
	if m.sched == nil {
		m.jobs = job.NewManager(rc, m.logger.Logger)
		m.sched = m.jobs
	}

	if opts.hotReload {
		m.monitor = newMonitor(m, opts.pollInterval, opts.debounce)
		m.monitor.start()
	}

	return m, nil
}

// PathResolver returns the resolver of logical names.
func (m *Manager) PathResolver() *blobstore.PathResolver { return m.resolver }

// Request returns a handle to the resource name of type typ.
//
// The first request of a (name, type) pair creates the entry and schedules
// either a convert→load chain, when the artifact is missing or older than its
// source, or a load-only chain. Later requests share that entry. Request
// never waits for the chain; use Handle.Wait or Manager.WaitForResource.
//
// Requesting typ with another Go type than its factory creates panics.
func Request[T any](ctx context.Context, m *Manager, typ Type, name string) (*Handle[T], error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	name = blobstore.CleanName(name)
	key := entryKey{id: NameID(name), typ: typ}

	e, created, err := m.acquire(key, name, reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}

	m.metrics.RecordRequest(typ, created)
	m.logger.LogRequest(ctx, name, typ, created)

	if created {
		m.startChain(&chain{e: e, mode: chainAuto})
	}
	res, _ := e.resource.(T)
	return &Handle[T]{handleBase: handleBase{m: m, e: e}, res: res}, nil
}

// acquire finds or creates the entry of key. A created entry has its first
// chain reserved.
func (m *Manager) acquire(key entryKey, name string, want reflect.Type) (*entry, bool, error) {
	m.factoryMu.RLock()
	defer m.factoryMu.RUnlock()

	f, err := m.lookupFactory(key.typ, want)
	if err != nil {
		return nil, false, err
	}
	e, created := m.registry.acquire(key, func() *entry {
		e := newEntry(key, name, f, ArtifactPath(m.opts.outputDir, name))
		e.resource = f.create(name)
		e.pending.Add(1)
		return e
	})
	return e, created, nil
}

// Release drops the reference r. It is equivalent to r.Release().
func (m *Manager) Release(r Ref) {
	if r.base().m != m {
		panic("rescache: releasing a handle of another manager")
	}
	r.Release()
}

func (m *Manager) release(e *entry) {
	n := e.refCount.Add(-1)
	if n < 0 {
		panic(fmt.Sprintf("rescache: negative reference count for %s", e.name))
	}
	if n == 0 && m.registry.release(e) {
		m.metrics.RecordRelease(e.key.typ)
	}
}

// ProcessReleasedResources destroys released entries and returns how many
// were destroyed. Entries with a chain in flight are kept for a later call.
// It must not be called from a job.
func (m *Manager) ProcessReleasedResources(ctx context.Context) int {
	idle, busy := m.registry.takeReleased()
	if len(idle) == 0 {
		return 0
	}

	var (
		destroyed atomic.Int64
		mu        sync.Mutex
		skipped   []*entry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(int(m.rc.MaxBackgroundWorkers()))
	for _, e := range idle {
		g.Go(func() error {
			if gctx.Err() != nil {
				mu.Lock()
				skipped = append(skipped, e)
				mu.Unlock()
				return nil
			}
			m.destroy(e)
			destroyed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	if len(skipped) > 0 {
		m.registry.requeue(skipped)
	}
	n := int(destroyed.Load())
	m.logger.LogDestroy(ctx, n, busy+len(skipped))
	return n
}

func (m *Manager) destroy(e *entry) {
	e.factory.destroy(e.resource)
	m.stats.destroyed.Add(1)
	m.metrics.RecordDestroy(e.key.typ)
}

// IsResourceReady reports whether r has been loaded at least once.
func (m *Manager) IsResourceReady(r Ref) bool { return r.IsReady() }

// WaitForResource blocks until r is ready. See Handle.Wait.
func (m *Manager) WaitForResource(ctx context.Context, r Ref) error {
	return r.Wait(ctx)
}

func (m *Manager) wait(ctx context.Context, e *entry) error {
	for {
		settled := e.pending.Settled()
		select {
		case <-e.ready:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-settled:
		}
		if e.isReady() {
			return nil
		}
		// A new chain may have started since the counter settled.
		if e.pending.Value() == 0 {
			if err := e.err(); err != nil {
				return err
			}
			return &LoadError{Name: e.name, Type: e.key.typ, Stage: StageLoad}
		}
	}
}

// Convert converts name for typ and returns a counter that settles when the
// conversion, and the load of a live entry, has finished.
//
// With a live entry the new artifact is loaded into it; without one only the
// artifact and its sidecar are written. It fails with
// ErrConversionInProgress while the entry is converting.
func (m *Manager) Convert(ctx context.Context, name string, typ Type) (*job.Counter, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	name = blobstore.CleanName(name)
	key := entryKey{id: NameID(name), typ: typ}

	c := &chain{mode: chainConvert, done: new(job.Counter)}
	if e := m.registry.find(key); e != nil {
		c.e = e
	} else {
		m.factoryMu.RLock()
		_, ok := m.factories[typ]
		m.factoryMu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownType, typ)
		}
		c.e = newEntry(key, name, nil, ArtifactPath(m.opts.outputDir, name))
		c.e.pending.Add(1)
		c.mode = chainConvertOnly
	}

	if !c.e.converting.CompareAndSwap(false, true) {
		c.e.pending.Done()
		return nil, fmt.Errorf("%w: %s", ErrConversionInProgress, name)
	}

	m.logger.DebugContext(ctx, "conversion requested", "name", name, "type", string(typ))
	m.startChain(c)
	return c.done, nil
}

// RLockReload takes the Reload Lock in shared mode. Reloads wait until every
// shared holder has called RUnlockReload.
func (m *Manager) RLockReload() { m.reloadLock.RLock() }

// RUnlockReload releases the shared Reload Lock.
func (m *Manager) RUnlockReload() { m.reloadLock.RUnlock() }

// ReadFile reads a store file through the read worker.
func (m *Manager) ReadFile(ctx context.Context, name string) ([]byte, error) {
	return m.readFile(ctx, blobstore.CleanName(name))
}

// WriteFile writes a store file through the write worker.
func (m *Manager) WriteFile(ctx context.Context, name string, data []byte) error {
	return m.writeFile(ctx, blobstore.CleanName(name), data)
}

// ReadFileAt reads len(buf) bytes of r at off. With a nil res it reads
// synchronously; otherwise it returns fileio.Pending and res tracks progress.
func (m *Manager) ReadFileAt(ctx context.Context, r blobstore.Blob, off int64, buf []byte, res *fileio.AsyncResult) (fileio.Result, error) {
	return m.workers.ReadAt(ctx, r, off, buf, res)
}

// WriteFileData writes buf to w. With a nil res it writes synchronously;
// otherwise it returns fileio.Pending and res tracks progress.
func (m *Manager) WriteFileData(ctx context.Context, w blobstore.WritableBlob, buf []byte, res *fileio.AsyncResult) (fileio.Result, error) {
	return m.workers.Write(ctx, w, buf, res)
}

// Stats returns a snapshot of the Manager's counters.
func (m *Manager) Stats() Stats {
	live, released := m.registry.counts()
	s := Stats{
		Live:             live,
		Released:         released,
		Pending:          m.chains.Value(),
		Conversions:      m.stats.conversions.Load(),
		Loads:            m.stats.loads.Load(),
		Reloads:          m.stats.reloads.Load(),
		Failures:         m.stats.failures.Load(),
		Destroyed:        m.stats.destroyed.Load(),
		StaleDetected:    m.stats.reloadsDetected.Load(),
		ReloadsScheduled: m.stats.reloadsScheduled.Load(),
		MemoryUsage:      m.rc.MemoryUsage(),
	}
	if m.artifacts != nil {
		s.ArtifactCacheHits, s.ArtifactCacheMisses = m.artifacts.Stats()
	}
	return s
}

// Close stops the hot-reload monitor, waits for chains in flight and
// destroys every remaining entry. Handles must not be used afterwards.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		if m.monitor != nil {
			m.monitor.stop()
		}

		<-m.chains.Settled()

		if m.jobs != nil {
			err = m.jobs.Close()
		}

		live, released := m.registry.drain()
		if len(live) > 0 {
			m.logger.Warn("destroying resources that are still referenced", "count", len(live))
		}
		for _, e := range append(released, live...) {
			m.destroy(e)
		}

		err = errors.Join(err, m.workers.Close())
		if m.artifacts != nil {
			err = errors.Join(err, m.artifacts.Close())
		}
		if m.blockCache != nil {
			err = errors.Join(err, m.blockCache.Close())
		}
	})
	return err
}
