package rescache

import (
	"context"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/rescache/job"
)

// monitor is the hot-reload loop. Each poll is a job that checks one live
// entry and re-arms a timer for the next poll when it completes.
type monitor struct {
	m        *Manager
	interval time.Duration
	debounce time.Duration

	// running counts polls in flight.
	running job.Counter

	mu      sync.Mutex
	active  bool
	timer   *time.Timer
	cursor  int
	queued  *roaring.Bitmap // serials of entries in list
	list    []*entry
	lastHit time.Time
}

func newMonitor(m *Manager, interval, debounce time.Duration) *monitor {
	return &monitor{
		m:        m,
		interval: interval,
		debounce: debounce,
		queued:   roaring.New(),
	}
}

func (mo *monitor) start() {
	mo.mu.Lock()
	defer mo.mu.Unlock()
	mo.active = true
	mo.timer = time.AfterFunc(mo.interval, mo.fire)
}

// stop ends the loop and waits for a poll in flight.
func (mo *monitor) stop() {
	mo.mu.Lock()
	mo.active = false
	if mo.timer != nil {
		mo.timer.Stop()
	}
	mo.mu.Unlock()

	<-mo.running.Settled()
}

func (mo *monitor) fire() {
	mo.mu.Lock()
	defer mo.mu.Unlock()
	if !mo.active {
		return
	}
	if err := mo.m.sched.Run(mo.poll, &mo.running); err != nil {
		mo.active = false
	}
}

func (mo *monitor) rearm() {
	mo.mu.Lock()
	defer mo.mu.Unlock()
	if mo.active {
		mo.timer.Reset(mo.interval)
	}
}

func (mo *monitor) poll(ctx context.Context) {
	defer mo.rearm()

	mo.mu.Lock()
	i := mo.cursor
	mo.cursor++
	mo.mu.Unlock()

	if e := mo.m.registry.liveAt(i); e != nil {
		stale, err := mo.m.needsConvert(ctx, e)
		if err != nil {
			mo.m.logger.DebugContext(ctx, "hot reload check failed", "name", e.name, "error", err)
		} else if stale {
			mo.enqueue(e)
		}
	}

	mo.flush(ctx)
}

// enqueue adds e to the accumulation list and restarts the debounce window.
// Entries already queued are ignored.
func (mo *monitor) enqueue(e *entry) {
	mo.mu.Lock()
	defer mo.mu.Unlock()

	if !mo.queued.CheckedAdd(e.serial) {
		return
	}
	mo.list = append(mo.list, e)
	mo.lastHit = time.Now()
	mo.m.stats.reloadsDetected.Add(1)
}

// flush schedules a conversion for every queued entry once the debounce
// window has passed. Entries with a chain in flight stay queued.
func (mo *monitor) flush(ctx context.Context) {
	mo.mu.Lock()
	if len(mo.list) == 0 || time.Since(mo.lastHit) < mo.debounce {
		mo.mu.Unlock()
		return
	}
	batch := mo.list
	mo.list = nil
	mo.queued.Clear()
	mo.mu.Unlock()

	var deferred []*entry
	scheduled := 0
	for _, e := range batch {
		if e.refCount.Load() == 0 {
			continue
		}
		if e.converting.Load() || e.pending.Value() > 0 {
			deferred = append(deferred, e)
			continue
		}
		// The chain that was in flight may already have caught up.
		stale, err := mo.m.needsConvert(ctx, e)
		if err != nil || !stale {
			continue
		}
		if !mo.m.registry.pin(e) {
			continue
		}
		if !e.converting.CompareAndSwap(false, true) {
			e.pending.Done()
			deferred = append(deferred, e)
			continue
		}
		mo.m.startChain(&chain{e: e, mode: chainConvert})
		scheduled++
	}

	if len(deferred) > 0 {
		mo.mu.Lock()
		for _, e := range deferred {
			if mo.queued.CheckedAdd(e.serial) {
				mo.list = append(mo.list, e)
			}
		}
		mo.mu.Unlock()
	}

	mo.m.stats.reloadsScheduled.Add(int64(scheduled))
	if scheduled > 0 || len(deferred) > 0 {
		mo.m.logger.LogReloadBatch(ctx, scheduled, len(deferred))
	}
}
