// Package blobstore is the file abstraction of the resource cache.
//
// Source files, metadata sidecars and compiled artifacts are blobs in a
// [Store], addressed by slash-separated names. [Store.Stat] exposes the
// modification times the cache compares to detect stale artifacts.
//
// # Built-in Implementations
//
//   - [LocalStore]: a local directory; mmap reads, temp-file-and-rename writes
//   - [MemoryStore]: in-memory, with settable modification times for tests
//   - [CachingStore]: block cache in front of another Store
//   - minio.Store and s3.Store: object storage backends
//
// # Search Paths
//
// A [PathResolver] resolves logical names such as "textures/rock.png"
// against a list of search paths:
//
//	r := blobstore.NewPathResolver(store)
//	r.AddPath("data")
//	name, err := r.ResolvePath(ctx, "textures/rock.png") // "data/textures/rock.png"
package blobstore
