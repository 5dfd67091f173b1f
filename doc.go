// Package rescache is an asynchronous, hot-reloadable resource cache.
//
// A Manager turns a logical resource name into a shared, reference-counted
// object. The first request of a (name, type) pair creates the resource
// through the type's Factory and schedules a chain of jobs: a convert stage
// that compiles the source file into an artifact with the first matching
// Converter, and a load stage that reads the artifact through the I/O
// workers and hands its bytes to the Factory. Later requests share the
// entry; nothing is converted or loaded twice.
//
// # Quick Start
//
//	store := blobstore.NewLocalStore("./assets")
//	m, _ := rescache.New(store,
//	    rescache.WithConverters(textureConverter{}),
//	    rescache.WithHotReload(0, 0),
//	)
//	defer m.Close()
//
//	_ = rescache.RegisterFactory[*Texture](m, "Graphics.Texture", textureFactory{})
//
//	h, _ := rescache.Request[*Texture](ctx, m, "Graphics.Texture", "textures/wall.png")
//	if err := h.Wait(ctx); err != nil {
//	    return err
//	}
//	tex := h.Get()
//	h.Release()
//	m.ProcessReleasedResources(ctx)
//
// # Layout
//
// Artifacts are written to converter_output/<name>.converted. Next to each
// resolved source file a metadata sidecar <source>.metadata holds the
// converter's settings and the dependencies and outputs of the last
// conversion. An artifact is stale when it is missing, or when the source is
// newer than the artifact or the sidecar.
//
// # Lifetime
//
// Releasing the last handle moves the entry to a released list. Entries are
// destroyed only by ProcessReleasedResources, never by Release itself, and
// never while one of their chains is in flight.
//
// # Hot Reload
//
// With WithHotReload a background job checks one live entry per poll. Stale
// entries are collected until no new one has been found for the debounce
// window, then each is converted and reloaded once. A reload runs
// Factory.Load on the existing resource while holding the Reload Lock
// exclusively; code that reads resources takes it in shared mode with
// RLockReload.
package rescache
