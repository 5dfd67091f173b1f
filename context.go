package rescache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/hupe1980/rescache/artifact"
	"github.com/hupe1980/rescache/blobstore"
	"github.com/hupe1980/rescache/codec"
	"github.com/hupe1980/rescache/datacache"
)

type converterContext struct {
	m        *Manager
	ctx      context.Context
	name     string
	dest     string
	metadata string

	mu      sync.Mutex
	deps    []string
	outputs []string
	errs    []ConvertError
	meta    any
}

var _ ConverterContext = (*converterContext)(nil)

func newConverterContext(ctx context.Context, m *Manager, name, source, dest string) *converterContext {
	return &converterContext{
		m:        m,
		ctx:      ctx,
		name:     name,
		dest:     dest,
		metadata: MetadataPath(source),
	}
}

func (cc *converterContext) Context() context.Context { return cc.ctx }

func (cc *converterContext) AddDependency(file string) {
	file = cc.logicalName(file)
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if !slices.Contains(cc.deps, file) {
		cc.deps = append(cc.deps, file)
	}
}

func (cc *converterContext) AddOutput(file string) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if !slices.Contains(cc.outputs, file) {
		cc.outputs = append(cc.outputs, file)
	}
}

func (cc *converterContext) AddError(file string, line int, format string, args ...any) {
	if file != "" {
		file = cc.logicalName(file)
	}
	ce := ConvertError{File: file, Line: line, Message: fmt.Sprintf(format, args...)}

	cc.mu.Lock()
	cc.errs = append(cc.errs, ce)
	cc.mu.Unlock()

	cc.m.logger.WarnContext(cc.ctx, "converter error",
		"name", cc.name,
		"file", ce.File,
		"line", ce.Line,
		"message", ce.Message,
	)
}

func (cc *converterContext) PathResolver() *blobstore.PathResolver { return cc.m.resolver }

func (cc *converterContext) DataCache() *datacache.Cache { return cc.m.opts.dataCache }

func (cc *converterContext) SetMetadata(v any) error {
	// Fail early on values that cannot become sidecar fields.
	if _, err := codec.EncodeSidecar(cc.m.opts.codec, v, codec.Internal{}); err != nil {
		return err
	}
	cc.mu.Lock()
	cc.meta = v
	cc.mu.Unlock()
	return nil
}

func (cc *converterContext) Metadata(v any) (bool, error) {
	data, err := cc.m.readFile(cc.ctx, cc.metadata)
	if errors.Is(err, blobstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := codec.DecodeFields(cc.m.opts.codec, data, v); err != nil {
		return false, err
	}
	return true, nil
}

func (cc *converterContext) ReadFile(ctx context.Context, name string) ([]byte, error) {
	resolved, err := cc.m.resolver.ResolvePath(ctx, name)
	if err != nil {
		return nil, err
	}
	return cc.m.readFile(ctx, resolved)
}

func (cc *converterContext) WriteFile(ctx context.Context, name string, data []byte) error {
	name = blobstore.CleanName(name)
	if name == cc.dest {
		enc, err := artifact.Encode(data, cc.m.opts.compression)
		if err != nil {
			return err
		}
		data = enc
	}
	if err := cc.m.writeFile(ctx, name, data); err != nil {
		return err
	}
	cc.AddOutput(name)
	return nil
}

// logicalName maps a resolved store name back to the name below its search
// path so sidecars and diagnostics stay valid when search paths change.
func (cc *converterContext) logicalName(file string) string {
	if orig, ok := cc.m.resolver.OriginalPath(file); ok {
		return orig
	}
	return file
}

func (cc *converterContext) diagnostics() []ConvertError {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return slices.Clone(cc.errs)
}

// writeMetadata rewrites the sidecar. Its modification time marks the
// conversion as current.
func (cc *converterContext) writeMetadata(ctx context.Context) error {
	cc.mu.Lock()
	meta := cc.meta
	internal := codec.Internal{
		Dependencies: slices.Clone(cc.deps),
		Outputs:      slices.Clone(cc.outputs),
	}
	cc.mu.Unlock()

	data, err := codec.EncodeSidecar(cc.m.opts.codec, meta, internal)
	if err != nil {
		return err
	}
	return cc.m.writeFile(ctx, cc.metadata, data)
}
