package rescache

import (
	"log/slog"
	"time"

	"github.com/hupe1980/rescache/artifact"
	"github.com/hupe1980/rescache/codec"
	"github.com/hupe1980/rescache/datacache"
	"github.com/hupe1980/rescache/fileio"
	"github.com/hupe1980/rescache/job"
)

const (
	// DefaultOutputDir is the store directory that receives compiled artifacts.
	DefaultOutputDir = "converter_output"
	// DefaultArtifactCacheSize is the default byte budget of the decoded artifact cache.
	DefaultArtifactCacheSize = 64 << 20
	// DefaultPollInterval is the default delay between two hot-reload polls.
	DefaultPollInterval = 50 * time.Millisecond
	// DefaultDebounce is the default hot-reload debounce window.
	DefaultDebounce = 250 * time.Millisecond
)

type options struct {
	logger            *Logger
	metricsCollector  MetricsCollector
	codec             codec.Codec
	compression       artifact.Compression
	loaders           []PluginLoader
	scheduler         job.Scheduler
	ioConfig          fileio.Config
	maxBackgroundJobs int64
	ioLimit           int64
	memoryLimit       int64
	artifactCacheSize int64
	blockCacheSize    int64
	outputDir         string
	searchPaths       []string
	hotReload         bool
	pollInterval      time.Duration
	debounce          time.Duration
	dataCache         *datacache.Cache
}

// Option configures a Manager.
type Option func(*options)

// WithLogger configures structured logging.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := rescache.NewJSONLogger(slog.LevelInfo)
//	m, _ := rescache.New(store, rescache.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector.
// Pass nil to disable metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithCodec configures the codec of metadata sidecars.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithCompression sets the compression applied to artifacts that converters
// write through ConverterContext.WriteFile.
func WithCompression(c artifact.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithConverters registers in-process converters. They are consulted before
// converters of plugin loaders, in the given order.
func WithConverters(converters ...Converter) Option {
	return func(o *options) {
		o.loaders = append([]PluginLoader{StaticConverters(converters...)}, o.loaders...)
	}
}

// WithDataCache makes c available to converters through
// ConverterContext.DataCache.
func WithDataCache(c *datacache.Cache) Option {
	return func(o *options) {
		o.dataCache = c
	}
}

// WithPluginLoader adds a source of converter plugins.
func WithPluginLoader(l PluginLoader) Option {
	return func(o *options) {
		if l != nil {
			o.loaders = append(o.loaders, l)
		}
	}
}

// WithScheduler runs chains and hot-reload polls on s instead of an internal
// job.Manager. The Manager does not close s.
func WithScheduler(s job.Scheduler) Option {
	return func(o *options) {
		o.scheduler = s
	}
}

// WithIOConfig configures the I/O workers.
func WithIOConfig(cfg fileio.Config) Option {
	return func(o *options) {
		o.ioConfig = cfg
	}
}

// WithMaxBackgroundJobs limits how many jobs run at once. Defaults to GOMAXPROCS.
func WithMaxBackgroundJobs(n int) Option {
	return func(o *options) {
		o.maxBackgroundJobs = int64(n)
	}
}

// WithIOLimit limits I/O worker throughput in bytes per second. 0 means unlimited.
func WithIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.ioLimit = bytesPerSec
	}
}

// WithMemoryLimit bounds the bytes held by caches. 0 means unlimited.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.memoryLimit = bytes
	}
}

// WithArtifactCacheSize sets the byte budget of the decoded artifact cache.
// 0 disables the cache.
func WithArtifactCacheSize(bytes int64) Option {
	return func(o *options) {
		o.artifactCacheSize = bytes
	}
}

// WithBlockCache puts a block cache of the given size in front of the store.
// Useful for remote stores. 0 disables it.
func WithBlockCache(bytes int64) Option {
	return func(o *options) {
		o.blockCacheSize = bytes
	}
}

// WithOutputDir sets the store directory for compiled artifacts.
func WithOutputDir(dir string) Option {
	return func(o *options) {
		if dir != "" {
			o.outputDir = dir
		}
	}
}

// WithSearchPaths adds search paths to the path resolver.
func WithSearchPaths(dirs ...string) Option {
	return func(o *options) {
		o.searchPaths = append(o.searchPaths, dirs...)
	}
}

// WithHotReload enables the hot-reload monitor. Zero durations select
// DefaultPollInterval and DefaultDebounce.
func WithHotReload(pollInterval, debounce time.Duration) Option {
	return func(o *options) {
		if pollInterval <= 0 {
			pollInterval = DefaultPollInterval
		}
		if debounce <= 0 {
			debounce = DefaultDebounce
		}
		o.hotReload = true
		o.pollInterval = pollInterval
		o.debounce = debounce
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:            NoopLogger(),
		metricsCollector:  NoopMetricsCollector{},
		codec:             codec.Default,
		compression:       artifact.CompressionLZ4,
		artifactCacheSize: DefaultArtifactCacheSize,
		outputDir:         DefaultOutputDir,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	return o
}
