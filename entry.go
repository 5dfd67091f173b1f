package rescache

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/rescache/job"
)

type entryKey struct {
	id  uuid.UUID
	typ Type
}

// entry is one cached resource.
type entry struct {
	key           entryKey
	name          string
	serial        uint32
	factory       factory
	resource      any
	convertedFile string

	converting atomic.Bool
	loaded     atomic.Bool
	refCount   atomic.Int32

	ready     chan struct{}
	readyOnce sync.Once
	// pending counts chains in flight. The entry is not destroyed before it settles.
	pending job.Counter
	// loadMu serializes Factory.Load calls of this entry.
	loadMu sync.Mutex
	// loadedVersion is the modification time of the loaded artifact. Guarded by loadMu.
	loadedVersion time.Time

	mu         sync.Mutex
	sourceFile string
	lastErr    error
	// failed holds the source version of the last failed conversion.
	failed        bool
	failedVersion time.Time
	// convertedVersion is the source version of the last successful conversion.
	convertedVersion time.Time
}

func newEntry(key entryKey, name string, f factory, convertedFile string) *entry {
	return &entry{
		key:           key,
		name:          name,
		factory:       f,
		convertedFile: convertedFile,
		ready:         make(chan struct{}),
	}
}

func (e *entry) markReady() {
	e.readyOnce.Do(func() { close(e.ready) })
}

func (e *entry) isReady() bool {
	select {
	case <-e.ready:
		return true
	default:
		return false
	}
}

func (e *entry) source() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sourceFile
}

func (e *entry) setSource(s string) {
	e.mu.Lock()
	e.sourceFile = s
	e.mu.Unlock()
}

// setConverted records the outcome of a conversion of the source version.
func (e *entry) setConverted(version time.Time, failed bool) {
	e.mu.Lock()
	e.failed = failed
	if failed {
		e.failedVersion = version
	} else {
		e.convertedVersion = version
	}
	e.mu.Unlock()
}

// convertedBefore reports whether the last successful conversion saw an
// older source than version.
func (e *entry) convertedBefore(version time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.convertedVersion.IsZero() && version.After(e.convertedVersion)
}

func (e *entry) failedAt(version time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failed && e.failedVersion.Equal(version)
}

func (e *entry) err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

func (e *entry) setErr(err error) {
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
}

// registry is the cache table. Every structural change happens under mu.
type registry struct {
	mu         sync.RWMutex
	entries    map[entryKey]*entry
	live       []*entry
	released   []*entry
	nextSerial uint32
}

func newRegistry() *registry {
	return &registry{entries: make(map[entryKey]*entry)}
}

// acquire returns the live entry of key with its reference count
// incremented, creating it with create if absent.
func (r *registry) acquire(key entryKey, create func() *entry) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok {
		e.refCount.Add(1)
		return e, false
	}

	e := create()
	e.serial = r.nextSerial
	r.nextSerial++
	e.refCount.Store(1)
	r.entries[key] = e
	r.live = append(r.live, e)
	return e, true
}

// release moves e to the released list if its count is still zero.
// It reports whether e was moved.
func (r *registry) release(e *entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	// A request may have revived e between the decrement and the lock.
	if e.refCount.Load() != 0 || r.entries[e.key] != e {
		return false
	}
	delete(r.entries, e.key)
	if i := slices.Index(r.live, e); i >= 0 {
		last := len(r.live) - 1
		r.live[i] = r.live[last]
		r.live[last] = nil
		r.live = r.live[:last]
	}
	r.released = append(r.released, e)
	return true
}

// pin reserves a chain on e if it is still live.
func (r *registry) pin(e *entry) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.entries[e.key] != e {
		return false
	}
	e.pending.Add(1)
	return true
}

// find returns the live entry of key and reserves a chain on it.
func (r *registry) find(key entryKey) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[key]
	if !ok {
		return nil
	}
	e.pending.Add(1)
	return e
}

// liveAt returns the live entry at position i modulo the live count.
func (r *registry) liveAt(i int) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.live) == 0 {
		return nil
	}
	return r.live[i%len(r.live)]
}

// takeReleased removes and returns the released entries without chains in
// flight. The others stay on the list.
func (r *registry) takeReleased() (idle []*entry, busy int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.released[:0]
	for _, e := range r.released {
		if e.pending.Value() == 0 {
			idle = append(idle, e)
		} else {
			kept = append(kept, e)
		}
	}
	clear(r.released[len(kept):])
	r.released = kept
	return idle, len(kept)
}

// requeue puts entries back on the released list.
func (r *registry) requeue(entries []*entry) {
	r.mu.Lock()
	r.released = append(r.released, entries...)
	r.mu.Unlock()
}

// drain removes every entry.
func (r *registry) drain() (live, released []*entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	live, released = r.live, r.released
	r.live, r.released = nil, nil
	clear(r.entries)
	return live, released
}

func (r *registry) countType(typ Type) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, e := range r.live {
		if e.key.typ == typ {
			n++
		}
	}
	for _, e := range r.released {
		if e.key.typ == typ {
			n++
		}
	}
	return n
}

func (r *registry) counts() (live, released int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live), len(r.released)
}
