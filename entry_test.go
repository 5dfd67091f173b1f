package rescache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntry(name string) func() *entry {
	return func() *entry {
		return newEntry(entryKey{id: NameID(name), typ: "T"}, name, nil, ArtifactPath(DefaultOutputDir, name))
	}
}

func TestRegistry_AcquireRelease(t *testing.T) {
	r := newRegistry()
	key := entryKey{id: NameID("a"), typ: "T"}

	e1, created := r.acquire(key, testEntry("a"))
	require.True(t, created)
	e2, created := r.acquire(key, testEntry("a"))
	require.False(t, created)
	assert.Same(t, e1, e2)
	assert.Equal(t, int32(2), e1.refCount.Load())

	other, _ := r.acquire(entryKey{id: NameID("a"), typ: "U"}, testEntry("a"))
	assert.NotSame(t, e1, other, "types are separate keys")
	assert.NotEqual(t, e1.serial, other.serial)

	e1.refCount.Add(-1)
	assert.False(t, r.release(e1), "still referenced")

	e1.refCount.Add(-1)
	assert.True(t, r.release(e1))
	assert.False(t, r.release(e1), "moved once")

	live, released := r.counts()
	assert.Equal(t, 1, live)
	assert.Equal(t, 1, released)
	assert.Equal(t, 1, r.countType("T"))
	assert.False(t, r.pin(e1))
	assert.Nil(t, r.find(key))
}

func TestRegistry_RevivedBeforeMove(t *testing.T) {
	r := newRegistry()
	key := entryKey{id: NameID("a"), typ: "T"}
	e, _ := r.acquire(key, testEntry("a"))

	// The count drops to zero, then a request revives the entry before
	// release takes the lock.
	e.refCount.Add(-1)
	revived, created := r.acquire(key, testEntry("a"))
	require.False(t, created)
	require.Same(t, e, revived)

	assert.False(t, r.release(e))
	live, released := r.counts()
	assert.Equal(t, 1, live)
	assert.Equal(t, 0, released)
}

func TestRegistry_TakeReleasedDefersBusy(t *testing.T) {
	r := newRegistry()
	busy, _ := r.acquire(entryKey{id: NameID("busy"), typ: "T"}, testEntry("busy"))
	idle, _ := r.acquire(entryKey{id: NameID("idle"), typ: "T"}, testEntry("idle"))

	busy.pending.Add(1)
	for _, e := range []*entry{busy, idle} {
		e.refCount.Add(-1)
		require.True(t, r.release(e))
	}

	got, deferred := r.takeReleased()
	assert.Equal(t, []*entry{idle}, got)
	assert.Equal(t, 1, deferred)

	busy.pending.Done()
	got, deferred = r.takeReleased()
	assert.Equal(t, []*entry{busy}, got)
	assert.Equal(t, 0, deferred)

	_, released := r.counts()
	assert.Equal(t, 0, released)
}

func TestRegistry_LiveAtRoundRobin(t *testing.T) {
	r := newRegistry()
	assert.Nil(t, r.liveAt(0))

	a, _ := r.acquire(entryKey{id: NameID("a"), typ: "T"}, testEntry("a"))
	b, _ := r.acquire(entryKey{id: NameID("b"), typ: "T"}, testEntry("b"))

	assert.Same(t, a, r.liveAt(0))
	assert.Same(t, b, r.liveAt(1))
	assert.Same(t, a, r.liveAt(2))
}

func TestNameID(t *testing.T) {
	assert.Equal(t, NameID("models/a.test"), NameID("/models/./a.test"))
	assert.Equal(t, NameID("models/a.test"), NameID(`models\a.test`))
	assert.NotEqual(t, NameID("a.test"), NameID("b.test"))
	assert.Equal(t, "converter_output/models/a.test.converted", ArtifactPath(DefaultOutputDir, "/models/a.test"))
	assert.Equal(t, "src/a.test.metadata", MetadataPath("src/a.test"))
	assert.Equal(t, "test", fileType("dir/a.test"))
	assert.Equal(t, "", fileType("noext"))
}

func TestEntry_ConvertedVersion(t *testing.T) {
	e := testEntry("v")()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.False(t, e.convertedBefore(t0), "never converted")

	e.setConverted(t0, false)
	assert.False(t, e.convertedBefore(t0))
	assert.True(t, e.convertedBefore(t0.Add(time.Second)))

	e.setConverted(t0.Add(time.Second), true)
	assert.True(t, e.failedAt(t0.Add(time.Second)))
	assert.True(t, e.convertedBefore(t0.Add(time.Second)), "a failure keeps the last good version")

	e.setConverted(t0.Add(2*time.Second), false)
	assert.False(t, e.failedAt(t0.Add(time.Second)))
	assert.False(t, e.convertedBefore(t0.Add(2*time.Second)))
}
