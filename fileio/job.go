package fileio

import (
	"context"
	"io"
)

// Job is one queued file transfer. Exactly one of Reader or Writer is set;
// a Job with neither is the shutdown sentinel.
type Job struct {
	// Reader is the source of a read transfer.
	Reader io.ReaderAt
	// Writer is the destination of a write transfer.
	Writer io.Writer
	// Offset is the byte offset of a read transfer.
	Offset int64
	// Buf is the destination (read) or source (write) buffer.
	Buf []byte
	// Result receives progress; nil for synchronous transfers.
	Result *AsyncResult

	ctx context.Context
}

func (j Job) sentinel() bool { return j.Reader == nil && j.Writer == nil }

func (j Job) context() context.Context {
	if j.ctx == nil {
		return context.Background()
	}
	return j.ctx
}
