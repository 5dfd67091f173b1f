//go:build unix || linux || darwin || freebsd || openbsd || netbsd

package mmap

import (
	"os"

	"golang.org/x/sys/unix"
)

func osMap(f *os.File, size int) ([]byte, func([]byte) error, error) {
	prot := unix.PROT_READ
	flags := unix.MAP_SHARED

	// Use generic Mmap.
	// Note: Fd() returns uintptr, Mmap expects int on some platforms, but unix package handles it.
	data, err := unix.Mmap(int(f.Fd()), 0, size, prot, flags)
	if err != nil {
		return nil, nil, err
	}

	return data, unix.Munmap, nil
}

func osAdviseSequential(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	// madvise needs page-aligned addresses; the hint is advisory, so an
	// alignment error is ignored.
	err := unix.Madvise(data, unix.MADV_SEQUENTIAL)
	if err == unix.EINVAL {
		return nil
	}
	return err
}
