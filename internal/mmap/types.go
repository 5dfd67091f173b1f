package mmap

import "errors"

var (
	// ErrClosed is returned when attempting to access a closed mapping.
	ErrClosed = errors.New("mmap: mapping is closed")
	// ErrInvalidSize is returned when the file size cannot be mapped.
	ErrInvalidSize = errors.New("mmap: invalid file size")
	// ErrInvalidOffset is returned for negative offsets.
	ErrInvalidOffset = errors.New("mmap: invalid offset")
	// ErrNotRegular is returned when the path is a directory.
	ErrNotRegular = errors.New("mmap: not a regular file")
)
