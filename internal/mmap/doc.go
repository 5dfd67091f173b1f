// Package mmap maps source files and compiled artifacts read-only into memory.
//
//	m, err := mmap.Open("data/model.obj")
//	if err != nil { ... }
//	defer m.Close()
//
//	m.AdviseSequential()
//	data := m.Bytes()
//
// Unix uses mmap(2) with madvise(2) hints; Windows uses
// CreateFileMapping/MapViewOfFile and ignores hints. Empty files produce an
// empty Mapping without a system mapping.
//
// A Mapping is safe for concurrent reads. Close is idempotent, but callers
// must not touch a slice from Bytes after Close returns.
package mmap
