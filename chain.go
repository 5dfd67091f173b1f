package rescache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/rescache/artifact"
	"github.com/hupe1980/rescache/blobstore"
	"github.com/hupe1980/rescache/internal/cache"
	"github.com/hupe1980/rescache/job"
)

type chainMode uint8

const (
	// chainAuto decides between convert-then-load and load-only.
	chainAuto chainMode = iota
	// chainConvert converts, then loads. The entry is already claimed.
	chainConvert
	// chainConvertOnly converts without loading. The entry is already claimed.
	chainConvertOnly
)

// chain is one convert→load pipeline run. Each stage is a separate job; a
// stage hands over to the next by scheduling it, and only the last stage
// signals completion.
type chain struct {
	e    *entry
	mode chainMode
	done *job.Counter
}

// startChain schedules the first stage of c. The entry's pending count must
// already include c.
func (m *Manager) startChain(c *chain) {
	m.chains.Add(1)
	if c.done != nil {
		c.done.Add(1)
	}

	if c.mode == chainAuto {
		m.schedule(c, m.autoStage, false)
		return
	}
	m.schedule(c, m.convertStage, true)
}

// schedule runs stage as a job. claimed reports whether the chain holds the
// entry's converting flag.
func (m *Manager) schedule(c *chain, stage func(context.Context, *chain), claimed bool) {
	err := m.sched.Run(func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				m.finish(c, fmt.Errorf("panic: %v", r))
				panic(r)
			}
		}()
		stage(ctx, c)
	}, nil)
	if err != nil {
		if claimed {
			c.e.converting.Store(false)
		}
		m.finish(c, err)
	}
}

// finish records the outcome of c and signals its completion.
func (m *Manager) finish(c *chain, err error) {
	if err != nil {
		m.stats.failures.Add(1)
	}
	c.e.setErr(err)
	m.settle(c)
}

// settle signals the completion of c without recording an outcome.
func (m *Manager) settle(c *chain) {
	c.e.pending.Done()
	m.chains.Done()
	if c.done != nil {
		c.done.Done()
	}
}

func (m *Manager) autoStage(ctx context.Context, c *chain) {
	stale, err := m.needsConvert(ctx, c.e)
	if err != nil {
		m.finish(c, &LoadError{Name: c.e.name, Type: c.e.key.typ, Stage: StageLoad, cause: err})
		return
	}
	if stale {
		if !c.e.converting.CompareAndSwap(false, true) {
			// The chain holding the conversion loads its artifact.
			m.logger.DebugContext(ctx, "load skipped, conversion in flight", "name", c.e.name)
			m.settle(c)
			return
		}
		c.mode = chainConvert
		m.convertStage(ctx, c)
		return
	}
	m.loadStage(ctx, c)
}

func (m *Manager) convertStage(ctx context.Context, c *chain) {
	e := c.e
	if !e.converting.Load() {
		panic("rescache: convert stage of " + e.name + " without the converting flag")
	}

	start := time.Now()
	diags, version, err := func() ([]ConvertError, time.Time, error) {
		defer e.converting.Store(false)
		return m.convert(ctx, e)
	}()
	e.setConverted(version, err != nil)

	d := time.Since(start)
	m.metrics.RecordConvert(e.key.typ, d, err)
	m.logger.LogConvert(ctx, e.name, e.convertedFile, d, err)

	if err != nil {
		m.finish(c, &LoadError{Name: e.name, Type: e.key.typ, Stage: StageConvert, Diagnostics: diags, cause: err})
		return
	}
	m.stats.conversions.Add(1)

	if c.mode == chainConvertOnly {
		m.finish(c, nil)
		return
	}
	m.schedule(c, m.loadStage, false)
}

func (m *Manager) loadStage(ctx context.Context, c *chain) {
	e := c.e

	start := time.Now()
	data, version, err := m.readArtifact(ctx, e.convertedFile)
	reload := e.loaded.Load()
	applied := false
	if err == nil {
		reload, applied, err = m.swap(ctx, e, data, version)
	}
	if err == nil && !applied {
		m.logger.DebugContext(ctx, "load skipped, newer artifact already loaded",
			"name", e.name,
			"version", version,
		)
		m.finish(c, nil)
		return
	}

	m.metrics.RecordLoad(e.key.typ, reload, time.Since(start), err)
	m.logger.LogLoad(ctx, e.name, reload, len(data), err)

	if err != nil {
		m.finish(c, &LoadError{Name: e.name, Type: e.key.typ, Stage: StageLoad, cause: err})
		return
	}
	if reload {
		m.stats.reloads.Add(1)
	} else {
		m.stats.loads.Add(1)
		e.markReady()
	}
	m.finish(c, nil)
}

// swap runs Factory.Load with the artifact of the given version. Reloads
// hold the Reload Lock exclusively. An artifact older than the loaded one is
// not applied. The caller marks a first load ready.
func (m *Manager) swap(ctx context.Context, e *entry, data []byte, version time.Time) (reload, applied bool, err error) {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	if e.loaded.Load() {
		if version.Before(e.loadedVersion) {
			return true, false, nil
		}
		m.reloadLock.Lock()
		defer m.reloadLock.Unlock()
		if err := e.factory.load(ctx, e.resource, e.name, data); err != nil {
			return true, false, err
		}
		e.loadedVersion = version
		return true, true, nil
	}

	if err := e.factory.load(ctx, e.resource, e.name, data); err != nil {
		return false, false, err
	}
	e.loadedVersion = version
	e.loaded.Store(true)
	return false, true, nil
}

// convert runs the first matching converter on the source of e and rewrites
// the metadata sidecar. It returns the modification time of the converted
// source, which is zero if the source could not be found.
func (m *Manager) convert(ctx context.Context, e *entry) ([]ConvertError, time.Time, error) {
	source, err := m.resolver.ResolvePath(ctx, e.name)
	if err != nil {
		return nil, time.Time{}, err
	}
	e.setSource(source)

	info, err := m.store.Stat(ctx, source)
	if err != nil {
		return nil, time.Time{}, err
	}

	conv, _, err := m.findConverter(e.name, e.key.typ)
	if err != nil {
		return nil, info.ModTime, err
	}
	defer closeConverter(conv)

	cc := newConverterContext(ctx, m, e.name, source, e.convertedFile)
	if err := conv.Convert(cc, e.name, e.convertedFile); err != nil {
		return cc.diagnostics(), info.ModTime, err
	}
	if err := cc.writeMetadata(ctx); err != nil {
		return cc.diagnostics(), info.ModTime, err
	}
	if m.artifacts != nil {
		m.artifacts.Invalidate(cache.ForPath(e.convertedFile))
	}
	return cc.diagnostics(), info.ModTime, nil
}

// needsConvert reports whether the artifact of e is missing or older than
// its source. A missing or older sidecar also counts as stale, as does a
// source that changed after the last conversion of e read it. A source
// version whose conversion already failed is not stale again until the
// source changes.
func (m *Manager) needsConvert(ctx context.Context, e *entry) (bool, error) {
	art, err := m.store.Stat(ctx, e.convertedFile)
	missing := errors.Is(err, blobstore.ErrNotFound)
	if err != nil && !missing {
		return false, err
	}

	source, err := m.resolver.ResolvePath(ctx, e.name)
	if errors.Is(err, blobstore.ErrNotFound) {
		// Without a source only a missing artifact is stale.
		return missing && !e.failedAt(time.Time{}), nil
	}
	if err != nil {
		return false, err
	}
	e.setSource(source)

	src, err := m.store.Stat(ctx, source)
	if err != nil {
		return false, err
	}
	if e.failedAt(src.ModTime) {
		return false, nil
	}
	if missing || e.convertedBefore(src.ModTime) {
		return true, nil
	}
	side, err := m.store.Stat(ctx, MetadataPath(source))
	if errors.Is(err, blobstore.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return src.NewerThan(side) || src.NewerThan(art), nil
}

// readArtifact returns the decoded artifact and its modification time, from
// the cache when possible.
func (m *Manager) readArtifact(ctx context.Context, name string) ([]byte, time.Time, error) {
	info, err := m.store.Stat(ctx, name)
	if err != nil {
		return nil, time.Time{}, err
	}
	key := cache.Key{Kind: cache.KindArtifact, Path: name, Version: info.ModTime.UnixNano()}
	if m.artifacts != nil {
		if data, ok := m.artifacts.Get(ctx, key); ok {
			return data, info.ModTime, nil
		}
	}

	raw, err := m.readFile(ctx, name)
	if err != nil {
		return nil, time.Time{}, err
	}
	data, err := artifact.Decode(raw)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("decode %s: %w", name, err)
	}
	if m.artifacts != nil {
		m.artifacts.Set(ctx, key, data)
	}
	return data, info.ModTime, nil
}

// readFile reads a store file through the read worker.
func (m *Manager) readFile(ctx context.Context, name string) ([]byte, error) {
	b, err := m.store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer b.Close()
	return m.workers.ReadAll(ctx, b, b.Size())
}

// writeFile writes a store file through the write worker.
func (m *Manager) writeFile(ctx context.Context, name string, data []byte) error {
	w, err := m.store.Create(ctx, name)
	if err != nil {
		return err
	}
	if err := m.workers.WriteAll(ctx, w, data); err != nil {
		_ = blobstore.Abort(w)
		return err
	}
	return w.Close()
}
