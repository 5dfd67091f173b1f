package rescache

import (
	"context"
	"fmt"
	"io"

	"github.com/hupe1980/rescache/blobstore"
	"github.com/hupe1980/rescache/datacache"
)

// ConverterCapability is the plugin capability of converters.
const ConverterCapability = "rescache.converter"

// Converter compiles source files into artifacts.
type Converter interface {
	// SupportsFileType reports whether the converter handles files with
	// extension ext (without the dot) for resources of typ.
	SupportsFileType(ext string, typ Type) bool
	// Convert compiles sourceFile into destPath. Files are accessed through
	// cc, which resolves sourceFile against the search paths.
	Convert(cc ConverterContext, sourceFile, destPath string) error
}

// ConverterContext is handed to a Converter for one conversion.
type ConverterContext interface {
	// Context returns the context of the conversion job.
	Context() context.Context
	// AddDependency records a file the artifact depends on. Names below a
	// search path are recorded without it. Duplicates are ignored.
	AddDependency(file string)
	// AddOutput records a file written by the conversion. Duplicates are ignored.
	AddOutput(file string)
	// AddError reports a diagnostic. file may be empty; a resolved name is
	// reported without its search path.
	AddError(file string, line int, format string, args ...any)
	// PathResolver returns the resolver for logical names.
	PathResolver() *blobstore.PathResolver
	// DataCache returns the content-addressed cache of the manager, or nil.
	DataCache() *datacache.Cache
	// SetMetadata stores v as the converter fields of the metadata sidecar.
	SetMetadata(v any) error
	// Metadata decodes the converter fields of the existing sidecar into v.
	// It returns false if there is no sidecar.
	Metadata(v any) (bool, error)
	// ReadFile reads a logical file, resolving it against the search paths.
	ReadFile(ctx context.Context, name string) ([]byte, error)
	// WriteFile writes a store file. Writing the destination path produces
	// an artifact container.
	WriteFile(ctx context.Context, name string, data []byte) error
}

// ConverterPlugin supplies converters.
type ConverterPlugin struct {
	Name       string
	Capability string
	// New returns a converter for one conversion. If the converter
	// implements io.Closer it is closed afterwards.
	New func() Converter
}

// PluginLoader enumerates plugins.
type PluginLoader interface {
	Plugins(capability string) []ConverterPlugin
}

// StaticPlugins is an in-process PluginLoader.
type StaticPlugins []ConverterPlugin

// Plugins implements PluginLoader.
func (s StaticPlugins) Plugins(capability string) []ConverterPlugin {
	var out []ConverterPlugin
	for _, p := range s {
		if p.Capability == capability {
			out = append(out, p)
		}
	}
	return out
}

// StaticConverters wraps converter instances as plugins. The instances are
// shared by all conversions and never closed.
func StaticConverters(converters ...Converter) StaticPlugins {
	out := make(StaticPlugins, 0, len(converters))
	for _, c := range converters {
		shared := sharedConverter{c}
		out = append(out, ConverterPlugin{
			Name:       fmt.Sprintf("%T", c),
			Capability: ConverterCapability,
			New:        func() Converter { return shared },
		})
	}
	return out
}

// sharedConverter hides Close of a shared instance.
type sharedConverter struct {
	c Converter
}

func (s sharedConverter) SupportsFileType(ext string, typ Type) bool {
	return s.c.SupportsFileType(ext, typ)
}

func (s sharedConverter) Convert(cc ConverterContext, sourceFile, destPath string) error {
	return s.c.Convert(cc, sourceFile, destPath)
}

// findConverter returns the first converter that supports name and typ.
// The caller must close it with closeConverter.
func (m *Manager) findConverter(name string, typ Type) (Converter, string, error) {
	ext := fileType(name)
	for _, l := range m.opts.loaders {
		for _, p := range l.Plugins(ConverterCapability) {
			if p.New == nil {
				continue
			}
			c := p.New()
			if c.SupportsFileType(ext, typ) {
				return c, p.Name, nil
			}
			closeConverter(c)
		}
	}
	return nil, "", fmt.Errorf("%w: %q (%s)", ErrNoConverter, name, typ)
}

func closeConverter(c Converter) {
	if cl, ok := c.(io.Closer); ok {
		_ = cl.Close()
	}
}
