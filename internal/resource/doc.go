// Package resource implements the Controller for global limits shared by the
// resource cache's jobs and I/O workers.
//
// The Controller provides centralized management of three resource types:
//
//   - Concurrency: slots for convert, load and hot-reload jobs
//   - IO: token bucket applied to every chunk the I/O workers transfer
//   - Memory: accounting for compiled artifact bytes held in the artifact cache
//
// # Job Slots
//
//	rc := resource.NewController(resource.Config{
//	    MaxBackgroundWorkers: 4,
//	})
//
//	if err := rc.AcquireBackground(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseBackground()
//
// # IO Rate Limiting
//
//	rc := resource.NewController(resource.Config{
//	    IOLimitBytesPerSec: 100 * 1024 * 1024, // 100MB/s
//	})
//
//	if err := rc.AcquireIO(ctx, chunkSize); err != nil {
//	    return err
//	}
//
// # Memory
//
// TryAcquireMemory never blocks; the artifact cache simply skips caching when
// the limit is reached.
//
// # Nil Safety
//
// All methods accept a nil *Controller and behave as if no limit was set.
package resource
