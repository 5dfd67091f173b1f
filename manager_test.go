package rescache_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/rescache"
	"github.com/hupe1980/rescache/artifact"
	"github.com/hupe1980/rescache/blobstore"
	"github.com/hupe1980/rescache/codec"
)

const textType rescache.Type = "Test.Text"

type text struct {
	mu   sync.Mutex
	name string
	body string
}

func (t *text) Body() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.body
}

type textFactory struct {
	created   atomic.Int32
	loads     atomic.Int32
	destroyed atomic.Int32
	failLoad  atomic.Bool
	// gate, if set, blocks reloads until closed. reloading receives a
	// value once a blocked reload has started.
	gate      chan struct{}
	reloading chan struct{}
}

func (f *textFactory) Create(name string) *text {
	f.created.Add(1)
	return &text{name: name}
}

func (f *textFactory) Load(_ context.Context, res *text, _ string, data []byte) error {
	if f.failLoad.Load() {
		return errors.New("bad artifact")
	}
	if f.gate != nil && res.Body() != "" {
		f.reloading <- struct{}{}
		<-f.gate
	}
	res.mu.Lock()
	res.body = string(data)
	res.mu.Unlock()
	f.loads.Add(1)
	return nil
}

func (f *textFactory) Destroy(*text) { f.destroyed.Add(1) }

// upperConverter upper-cases ".test" files. Sources starting with "fail"
// are rejected.
type upperConverter struct {
	calls   atomic.Int32
	started chan struct{}
	gate    chan struct{}
}

func (c *upperConverter) SupportsFileType(ext string, _ rescache.Type) bool { return ext == "test" }

func (c *upperConverter) Convert(cc rescache.ConverterContext, source, dest string) error {
	c.calls.Add(1)
	if c.started != nil {
		c.started <- struct{}{}
	}
	if c.gate != nil {
		<-c.gate
	}

	ctx := cc.Context()
	data, err := cc.ReadFile(ctx, source)
	if err != nil {
		cc.AddError(source, 0, "read: %v", err)
		return err
	}
	if bytes.HasPrefix(data, []byte("fail")) {
		cc.AddError(source, 1, "unexpected %q", "fail")
		return errors.New("invalid source")
	}

	cc.AddDependency(source)
	cc.AddDependency(source)
	if err := cc.SetMetadata(map[string]any{"upper": true}); err != nil {
		return err
	}
	return cc.WriteFile(ctx, dest, bytes.ToUpper(data))
}

type fixture struct {
	m       *rescache.Manager
	store   *blobstore.MemoryStore
	factory *textFactory
	conv    *upperConverter
	metrics *rescache.BasicMetricsCollector
}

func newFixture(t *testing.T, opts ...rescache.Option) *fixture {
	t.Helper()

	f := &fixture{
		store:   blobstore.NewMemoryStore(),
		factory: &textFactory{},
		conv:    &upperConverter{},
		metrics: &rescache.BasicMetricsCollector{},
	}
	opts = append([]rescache.Option{
		rescache.WithConverters(f.conv),
		rescache.WithMetricsCollector(f.metrics),
	}, opts...)

	m, err := rescache.New(f.store, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	f.m = m

	require.NoError(t, rescache.RegisterFactory[*text](m, textType, f.factory))
	return f
}

func (f *fixture) put(t *testing.T, name, body string) {
	t.Helper()
	require.NoError(t, f.store.Put(context.Background(), name, []byte(body)))
}

// idle waits until no chain is in flight.
func (f *fixture) idle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.m.Stats().Pending == 0
	}, 2*time.Second, time.Millisecond)
}

func (f *fixture) request(t *testing.T, name string) *rescache.Handle[*text] {
	t.Helper()
	h, err := rescache.Request[*text](t.Context(), f.m, textType, name)
	require.NoError(t, err)
	return h
}

func TestRequest_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	f.put(t, "foo.test", "hello")

	h := f.request(t, "foo.test")
	assert.Equal(t, "foo.test", h.Name())
	assert.Equal(t, textType, h.Type())
	assert.Equal(t, rescache.NameID("foo.test"), h.ID())

	require.NoError(t, f.m.WaitForResource(ctx, h))
	assert.True(t, f.m.IsResourceReady(h))
	assert.Equal(t, "HELLO", h.Get().Body())
	assert.Equal(t, int32(1), f.conv.calls.Load())

	raw, err := f.m.ReadFile(ctx, "converter_output/foo.test.converted")
	require.NoError(t, err)
	assert.True(t, artifact.IsContainer(raw))

	sidecar, err := f.m.ReadFile(ctx, "foo.test.metadata")
	require.NoError(t, err)
	sc, err := codec.DecodeSidecar(codec.Default, sidecar)
	require.NoError(t, err)
	assert.Equal(t, []string{"foo.test"}, sc.Internal.Dependencies)
	assert.Equal(t, []string{"converter_output/foo.test.converted"}, sc.Internal.Outputs)
	assert.JSONEq(t, "true", string(sc.Fields["upper"]))

	f.idle(t)
	f.m.Release(h)
	stats := f.m.Stats()
	assert.Equal(t, 0, stats.Live)
	assert.Equal(t, 1, stats.Released)
	assert.Equal(t, int64(1), stats.Conversions)
	assert.Equal(t, int64(1), stats.Loads)

	assert.Equal(t, 1, f.m.ProcessReleasedResources(ctx))
	assert.Equal(t, 0, f.m.ProcessReleasedResources(ctx))
	assert.Equal(t, int32(1), f.factory.destroyed.Load())

	ms := f.metrics.GetStats()
	assert.Equal(t, int64(1), ms.RequestCount)
	assert.Equal(t, int64(1), ms.ConvertCount)
	assert.Equal(t, int64(1), ms.LoadCount)
	assert.Equal(t, int64(1), ms.ReleaseCount)
	assert.Equal(t, int64(1), ms.DestroyCount)
}

func TestRequest_Coalescing(t *testing.T) {
	f := newFixture(t)
	f.conv.gate = make(chan struct{})
	f.put(t, "shared.test", "x")

	const callers = 16
	handles := make([]*rescache.Handle[*text], callers)
	var g errgroup.Group
	for i := range callers {
		g.Go(func() error {
			h, err := rescache.Request[*text](context.Background(), f.m, textType, "./shared.test")
			handles[i] = h
			return err
		})
	}
	require.NoError(t, g.Wait())
	close(f.conv.gate)

	for _, h := range handles {
		require.NoError(t, h.Wait(t.Context()))
		assert.Same(t, handles[0].Get(), h.Get())
	}
	assert.Equal(t, int32(1), f.conv.calls.Load())
	assert.Equal(t, int32(1), f.factory.created.Load())
	assert.Equal(t, int32(1), f.factory.loads.Load())
	assert.Equal(t, 1, f.m.Stats().Live)

	f.idle(t)
	for _, h := range handles {
		h.Release()
	}
	assert.Equal(t, 1, f.m.ProcessReleasedResources(t.Context()))
	assert.Equal(t, int32(1), f.factory.destroyed.Load())
}

func TestRelease_RefCount(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	f.put(t, "rc.test", "x")

	h1 := f.request(t, "rc.test")
	h2 := f.request(t, "rc.test")
	h3 := f.request(t, "rc.test")
	require.NoError(t, h1.Wait(ctx))

	h1.Release()
	h2.Release()
	assert.Equal(t, 0, f.m.ProcessReleasedResources(ctx))
	assert.Equal(t, 1, f.m.Stats().Live)
	assert.Equal(t, int32(0), f.factory.destroyed.Load())

	assert.Panics(t, h1.Release, "double release")

	f.idle(t)
	h3.Release()
	assert.Equal(t, 1, f.m.ProcessReleasedResources(ctx))
	assert.Equal(t, int32(1), f.factory.destroyed.Load())

	// A new request after destruction creates a fresh entry.
	h4 := f.request(t, "rc.test")
	require.NoError(t, h4.Wait(ctx))
	assert.NotSame(t, h3.Get(), h4.Get())
	assert.Equal(t, int32(2), f.factory.created.Load())
}

func TestRelease_DeferredWhileChainInFlight(t *testing.T) {
	f := newFixture(t)
	f.conv.started = make(chan struct{}, 1)
	f.conv.gate = make(chan struct{})
	f.put(t, "slow.test", "x")

	h := f.request(t, "slow.test")
	<-f.conv.started
	h.Release()

	assert.Equal(t, 0, f.m.ProcessReleasedResources(t.Context()))
	assert.Equal(t, 1, f.m.Stats().Released)

	close(f.conv.gate)
	f.idle(t)
	assert.Equal(t, 1, f.m.ProcessReleasedResources(t.Context()))
	assert.Equal(t, int32(1), f.factory.destroyed.Load())
}

func TestRequest_StalenessSkip(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		sidecarAge  time.Duration // relative to the source, 0 means missing
		artifactAge time.Duration
		wantConvert bool
	}{
		{name: "artifact and sidecar newer", sidecarAge: time.Second, artifactAge: time.Second, wantConvert: false},
		{name: "sidecar older", sidecarAge: -time.Second, artifactAge: time.Second, wantConvert: true},
		{name: "artifact older", sidecarAge: time.Second, artifactAge: -time.Second, wantConvert: true},
		{name: "sidecar missing", artifactAge: time.Second, wantConvert: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.put(t, "asset.test", "fresh")
			f.put(t, "converter_output/asset.test.converted", "PREBUILT")
			require.NoError(t, f.store.SetModTime(ctx, "asset.test", base))
			require.NoError(t, f.store.SetModTime(ctx, "converter_output/asset.test.converted", base.Add(tt.artifactAge)))
			if tt.sidecarAge != 0 {
				f.put(t, "asset.test.metadata", `{"internal":{"dependencies":[],"outputs":[]}}`)
				require.NoError(t, f.store.SetModTime(ctx, "asset.test.metadata", base.Add(tt.sidecarAge)))
			}

			h := f.request(t, "asset.test")
			require.NoError(t, h.Wait(t.Context()))

			if tt.wantConvert {
				assert.Equal(t, int32(1), f.conv.calls.Load())
				assert.Equal(t, "FRESH", h.Get().Body())
			} else {
				assert.Equal(t, int32(0), f.conv.calls.Load())
				assert.Equal(t, "PREBUILT", h.Get().Body())
			}
		})
	}
}

func TestRequest_PrebuiltWithoutSource(t *testing.T) {
	f := newFixture(t)
	f.put(t, "converter_output/shipped.test.converted", "SHIPPED")

	h := f.request(t, "shipped.test")
	require.NoError(t, h.Wait(t.Context()))
	assert.Equal(t, "SHIPPED", h.Get().Body())
	assert.Equal(t, int32(0), f.conv.calls.Load())
}

func TestRequest_Failures(t *testing.T) {
	t.Run("converter rejects source", func(t *testing.T) {
		f := newFixture(t)
		f.put(t, "bad.test", "failure")

		h := f.request(t, "bad.test")
		err := h.Wait(t.Context())
		require.ErrorIs(t, err, rescache.ErrLoadFailed)

		var le *rescache.LoadError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, rescache.StageConvert, le.Stage)
		require.Len(t, le.Diagnostics, 1)
		assert.Equal(t, rescache.ConvertError{File: "bad.test", Line: 1, Message: `unexpected "fail"`}, le.Diagnostics[0])
		assert.False(t, h.IsReady())
		assert.Equal(t, int64(1), f.m.Stats().Failures)
	})

	t.Run("no converter", func(t *testing.T) {
		f := newFixture(t)
		f.put(t, "model.obj", "v 0 0 0")

		h := f.request(t, "model.obj")
		err := h.Wait(t.Context())
		assert.ErrorIs(t, err, rescache.ErrNoConverter)
		assert.ErrorIs(t, err, rescache.ErrLoadFailed)
	})

	t.Run("missing source", func(t *testing.T) {
		f := newFixture(t)
		h := f.request(t, "missing.test")
		assert.ErrorIs(t, h.Wait(t.Context()), blobstore.ErrNotFound)
	})

	t.Run("load fails", func(t *testing.T) {
		f := newFixture(t)
		f.factory.failLoad.Store(true)
		f.put(t, "x.test", "x")

		h := f.request(t, "x.test")
		err := h.Wait(t.Context())
		var le *rescache.LoadError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, rescache.StageLoad, le.Stage)
		assert.False(t, h.IsReady())
		assert.Equal(t, int64(1), f.metrics.GetStats().LoadErrors)
	})
}

func TestRequest_WaitCanceled(t *testing.T) {
	f := newFixture(t)
	f.conv.gate = make(chan struct{})
	defer close(f.conv.gate)
	f.put(t, "wait.test", "x")

	h := f.request(t, "wait.test")
	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.Wait(ctx), context.DeadlineExceeded)
}

func TestFactoryRegistration(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	err := rescache.RegisterFactory[*text](f.m, textType, &textFactory{})
	assert.ErrorIs(t, err, rescache.ErrFactoryExists)

	_, err = rescache.Request[*text](ctx, f.m, "Test.Unknown", "a.test")
	assert.ErrorIs(t, err, rescache.ErrUnknownType)

	assert.Panics(t, func() {
		_, _ = rescache.Request[string](ctx, f.m, textType, "a.test")
	})

	f.put(t, "a.test", "a")
	h := f.request(t, "a.test")
	assert.ErrorIs(t, f.m.UnregisterFactory(textType), rescache.ErrFactoryInUse)

	require.NoError(t, h.Wait(ctx))
	h.Release()
	assert.ErrorIs(t, f.m.UnregisterFactory(textType), rescache.ErrFactoryInUse, "released but not destroyed")

	f.idle(t)
	assert.Equal(t, 1, f.m.ProcessReleasedResources(ctx))
	require.NoError(t, f.m.UnregisterFactory(textType))
	assert.ErrorIs(t, f.m.UnregisterFactory(textType), rescache.ErrUnknownType)
}

func TestFactoryFuncs(t *testing.T) {
	store := blobstore.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), "converter_output/n.num.converted", []byte("42")))

	m, err := rescache.New(store)
	require.NoError(t, err)
	defer m.Close()

	var destroyed atomic.Bool
	require.NoError(t, rescache.RegisterFactory[*int](m, "Test.Number", rescache.FactoryFuncs[*int]{
		CreateFunc: func(string) *int { return new(int) },
		LoadFunc: func(_ context.Context, res *int, _ string, data []byte) error {
			_, err := fmt.Sscan(string(data), res)
			return err
		},
		DestroyFunc: func(*int) { destroyed.Store(true) },
	}))

	h, err := rescache.Request[*int](t.Context(), m, "Test.Number", "n.num")
	require.NoError(t, err)
	require.NoError(t, h.Wait(t.Context()))
	assert.Equal(t, 42, *h.Get())

	require.Eventually(t, func() bool { return m.Stats().Pending == 0 }, 2*time.Second, time.Millisecond)
	h.Release()
	assert.Equal(t, 1, m.ProcessReleasedResources(t.Context()))
	assert.True(t, destroyed.Load())
}

func TestConvert(t *testing.T) {
	t.Run("without live entry", func(t *testing.T) {
		f := newFixture(t)
		f.put(t, "tool.test", "offline")

		c, err := f.m.Convert(t.Context(), "tool.test", textType)
		require.NoError(t, err)
		require.NoError(t, c.Wait(t.Context()))

		assert.Equal(t, int32(1), f.conv.calls.Load())
		assert.Equal(t, int32(0), f.factory.created.Load())
		ok, err := blobstore.Exists(t.Context(), f.store, "converter_output/tool.test.converted")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("reloads live entry", func(t *testing.T) {
		f := newFixture(t)
		f.put(t, "live.test", "one")

		h := f.request(t, "live.test")
		require.NoError(t, h.Wait(t.Context()))

		f.put(t, "live.test", "two")
		c, err := f.m.Convert(t.Context(), "live.test", textType)
		require.NoError(t, err)
		require.NoError(t, c.Wait(t.Context()))

		assert.Equal(t, "TWO", h.Get().Body(), "counter settles after the load")
		assert.Equal(t, int64(1), f.m.Stats().Reloads)
		assert.Equal(t, int64(1), f.metrics.GetStats().ReloadCount)
	})

	t.Run("in progress", func(t *testing.T) {
		f := newFixture(t)
		f.conv.started = make(chan struct{}, 1)
		f.conv.gate = make(chan struct{})
		f.put(t, "busy.test", "x")

		h := f.request(t, "busy.test")
		<-f.conv.started

		_, err := f.m.Convert(t.Context(), "busy.test", textType)
		assert.ErrorIs(t, err, rescache.ErrConversionInProgress)

		close(f.conv.gate)
		require.NoError(t, h.Wait(t.Context()))
	})

	t.Run("unknown type", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.m.Convert(t.Context(), "x.test", "Test.Unknown")
		assert.ErrorIs(t, err, rescache.ErrUnknownType)
	})
}

func TestReload_Exclusive(t *testing.T) {
	t.Run("reload waits for shared holders", func(t *testing.T) {
		f := newFixture(t)
		f.put(t, "r.test", "old")
		h := f.request(t, "r.test")
		require.NoError(t, h.Wait(t.Context()))

		f.m.RLockReload()
		f.put(t, "r.test", "new")
		c, err := f.m.Convert(t.Context(), "r.test", textType)
		require.NoError(t, err)

		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, "OLD", h.Get().Body())
		assert.Equal(t, int32(1), f.factory.loads.Load())

		f.m.RUnlockReload()
		require.NoError(t, c.Wait(t.Context()))
		assert.Equal(t, "NEW", h.Get().Body())
	})

	t.Run("readers wait for the swap", func(t *testing.T) {
		f := newFixture(t)
		f.factory.gate = make(chan struct{})
		f.factory.reloading = make(chan struct{}, 1)
		f.put(t, "r.test", "old")
		h := f.request(t, "r.test")
		require.NoError(t, h.Wait(t.Context()))

		f.put(t, "r.test", "new")
		c, err := f.m.Convert(t.Context(), "r.test", textType)
		require.NoError(t, err)

		// Load runs while the reload holds the lock.
		<-f.factory.reloading

		var read atomic.Bool
		go func() {
			f.m.RLockReload()
			read.Store(true)
			f.m.RUnlockReload()
		}()

		time.Sleep(50 * time.Millisecond)
		assert.False(t, read.Load(), "reader entered during the swap")

		close(f.factory.gate)
		require.NoError(t, c.Wait(t.Context()))
		assert.Eventually(t, read.Load, 2*time.Second, time.Millisecond)
		assert.Equal(t, "NEW", h.Get().Body())
	})
}

func TestManager_Close(t *testing.T) {
	f := newFixture(t)
	f.put(t, "c.test", "x")
	h := f.request(t, "c.test")
	require.NoError(t, h.Wait(t.Context()))

	require.NoError(t, f.m.Close())
	require.NoError(t, f.m.Close())
	assert.Equal(t, int32(1), f.factory.destroyed.Load())

	_, err := rescache.Request[*text](t.Context(), f.m, textType, "c.test")
	assert.ErrorIs(t, err, rescache.ErrClosed)
	_, err = f.m.Convert(t.Context(), "c.test", textType)
	assert.ErrorIs(t, err, rescache.ErrClosed)
}

func TestManager_LocalStore(t *testing.T) {
	dir := t.TempDir()
	store := blobstore.NewLocalStore(dir)
	conv := &upperConverter{}

	m, err := rescache.New(store,
		rescache.WithConverters(conv),
		rescache.WithSearchPaths("src"),
		rescache.WithCompression(artifact.CompressionZSTD),
		rescache.WithBlockCache(1<<20),
		rescache.WithIOLimit(64<<20),
		rescache.WithLogger(rescache.NoopLogger()),
	)
	require.NoError(t, err)
	defer m.Close()

	factory := &textFactory{}
	require.NoError(t, rescache.RegisterFactory[*text](m, textType, factory))

	body := strings.Repeat("tile ", 4096)
	require.NoError(t, m.WriteFile(t.Context(), "src/maps/level.test", []byte(body)))

	h, err := rescache.Request[*text](t.Context(), m, textType, "maps/level.test")
	require.NoError(t, err)
	require.NoError(t, h.Wait(t.Context()))
	assert.Equal(t, strings.ToUpper(body), h.Get().Body())

	info, err := store.Stat(t.Context(), "converter_output/maps/level.test.converted")
	require.NoError(t, err)
	assert.Less(t, info.Size, int64(len(body)), "artifact is compressed")

	ok, err := blobstore.Exists(t.Context(), store, "src/maps/level.test.metadata")
	require.NoError(t, err)
	assert.True(t, ok)

	// A second manager finds the artifact current and only loads it.
	h.Release()
	require.NoError(t, m.Close())

	m2, err := rescache.New(store, rescache.WithConverters(conv), rescache.WithSearchPaths("src"))
	require.NoError(t, err)
	defer m2.Close()
	require.NoError(t, rescache.RegisterFactory[*text](m2, textType, &textFactory{}))

	h2, err := rescache.Request[*text](t.Context(), m2, textType, "maps/level.test")
	require.NoError(t, err)
	require.NoError(t, h2.Wait(t.Context()))
	assert.Equal(t, int32(1), conv.calls.Load())
	assert.Equal(t, strings.ToUpper(body), h2.Get().Body())
}

func TestNew_NilStore(t *testing.T) {
	_, err := rescache.New(nil)
	assert.Error(t, err)
}

// gatedStore holds the first read of name open until release is closed.
type gatedStore struct {
	*blobstore.MemoryStore
	name    string
	once    sync.Once
	reached chan struct{}
	release chan struct{}
}

type gatedBlob struct {
	blobstore.Blob
	s *gatedStore
}

func (b gatedBlob) Close() error {
	b.s.once.Do(func() {
		close(b.s.reached)
		<-b.s.release
	})
	return b.Blob.Close()
}

func (s *gatedStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	b, err := s.MemoryStore.Open(ctx, name)
	if err != nil || name != s.name {
		return b, err
	}
	return gatedBlob{Blob: b, s: s}, nil
}

func TestLoad_StaleReadDoesNotOverwriteNewerArtifact(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	artifactPath := "converter_output/race.test.converted"

	mem := blobstore.NewMemoryStore()
	require.NoError(t, mem.Put(ctx, "race.test", []byte("old")))
	require.NoError(t, mem.Put(ctx, artifactPath, []byte("OLD")))
	require.NoError(t, mem.Put(ctx, "race.test.metadata", []byte(`{"internal":{"dependencies":[],"outputs":[]}}`)))
	require.NoError(t, mem.SetModTime(ctx, "race.test", base))
	require.NoError(t, mem.SetModTime(ctx, artifactPath, base.Add(time.Second)))
	require.NoError(t, mem.SetModTime(ctx, "race.test.metadata", base.Add(time.Second)))

	store := &gatedStore{
		MemoryStore: mem,
		name:        artifactPath,
		reached:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	conv := &upperConverter{}
	m, err := rescache.New(store, rescache.WithConverters(conv))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	require.NoError(t, rescache.RegisterFactory[*text](m, textType, &textFactory{}))

	h, err := rescache.Request[*text](t.Context(), m, textType, "race.test")
	require.NoError(t, err)
	<-store.reached // the load-only chain holds "OLD"

	require.NoError(t, mem.Put(ctx, "race.test", []byte("new")))
	c, err := m.Convert(t.Context(), "race.test", textType)
	require.NoError(t, err)
	require.NoError(t, c.Wait(t.Context()))
	assert.Equal(t, "NEW", h.Get().Body())

	close(store.release)
	require.Eventually(t, func() bool { return m.Stats().Pending == 0 }, 2*time.Second, time.Millisecond)

	assert.Equal(t, "NEW", h.Get().Body())
	assert.Equal(t, int32(1), conv.calls.Load())
	assert.Equal(t, int64(1), m.Stats().Loads)
	assert.Equal(t, int64(0), m.Stats().Reloads)
}
