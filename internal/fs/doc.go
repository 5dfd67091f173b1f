// Package fs abstracts the file system operations of the local blob store
// so tests can inject I/O failures.
//
//   - [LocalFS]: the os package
//   - [FaultyFS]: wraps a FileSystem and fails writes, syncs, closes or
//     renames of matching files
//
// Production code uses fs.Default:
//
//	file, err := fs.Default.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
//
// Tests inject a FaultyFS:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule(".converted", fs.Fault{FailAfterBytes: 0})
//
// Operations take no context.Context. Local file system calls are not
// interruptible at the syscall level; remote stores carry context through
// the blobstore API instead.
package fs
