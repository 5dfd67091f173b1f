package rescache

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordRequest is called for every resource request. created reports
	// whether the request created a new entry.
	RecordRequest(typ Type, created bool)

	// RecordConvert is called after each conversion, err is nil if successful.
	RecordConvert(typ Type, duration time.Duration, err error)

	// RecordLoad is called after each load. reload is true if the resource
	// had been loaded before.
	RecordLoad(typ Type, reload bool, duration time.Duration, err error)

	// RecordRelease is called when the last reference to a resource is released.
	RecordRelease(typ Type)

	// RecordDestroy is called after a resource is destroyed.
	RecordDestroy(typ Type)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordRequest(Type, bool)                    {}
func (NoopMetricsCollector) RecordConvert(Type, time.Duration, error)    {}
func (NoopMetricsCollector) RecordLoad(Type, bool, time.Duration, error) {}
func (NoopMetricsCollector) RecordRelease(Type)                          {}
func (NoopMetricsCollector) RecordDestroy(Type)                          {}

// BasicMetricsCollector provides simple in-memory metrics collection.
type BasicMetricsCollector struct {
	RequestCount      atomic.Int64
	EntriesCreated    atomic.Int64
	ConvertCount      atomic.Int64
	ConvertErrors     atomic.Int64
	ConvertTotalNanos atomic.Int64
	LoadCount         atomic.Int64
	LoadErrors        atomic.Int64
	LoadTotalNanos    atomic.Int64
	ReloadCount       atomic.Int64
	ReleaseCount      atomic.Int64
	DestroyCount      atomic.Int64
}

// RecordRequest implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRequest(_ Type, created bool) {
	b.RequestCount.Add(1)
	if created {
		b.EntriesCreated.Add(1)
	}
}

// RecordConvert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordConvert(_ Type, duration time.Duration, err error) {
	b.ConvertCount.Add(1)
	b.ConvertTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.ConvertErrors.Add(1)
	}
}

// RecordLoad implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLoad(_ Type, reload bool, duration time.Duration, err error) {
	b.LoadCount.Add(1)
	b.LoadTotalNanos.Add(duration.Nanoseconds())
	if reload {
		b.ReloadCount.Add(1)
	}
	if err != nil {
		b.LoadErrors.Add(1)
	}
}

// RecordRelease implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRelease(Type) { b.ReleaseCount.Add(1) }

// RecordDestroy implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDestroy(Type) { b.DestroyCount.Add(1) }

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		RequestCount:    b.RequestCount.Load(),
		EntriesCreated:  b.EntriesCreated.Load(),
		ConvertCount:    b.ConvertCount.Load(),
		ConvertErrors:   b.ConvertErrors.Load(),
		ConvertAvgNanos: avg(b.ConvertTotalNanos.Load(), b.ConvertCount.Load()),
		LoadCount:       b.LoadCount.Load(),
		LoadErrors:      b.LoadErrors.Load(),
		LoadAvgNanos:    avg(b.LoadTotalNanos.Load(), b.LoadCount.Load()),
		ReloadCount:     b.ReloadCount.Load(),
		ReleaseCount:    b.ReleaseCount.Load(),
		DestroyCount:    b.DestroyCount.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	RequestCount    int64
	EntriesCreated  int64
	ConvertCount    int64
	ConvertErrors   int64
	ConvertAvgNanos int64
	LoadCount       int64
	LoadErrors      int64
	LoadAvgNanos    int64
	ReloadCount     int64
	ReleaseCount    int64
	DestroyCount    int64
}
