package fileio

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hupe1980/rescache/internal/conv"
	"github.com/hupe1980/rescache/internal/fs"
	"github.com/hupe1980/rescache/internal/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkers(t *testing.T, cfg Config) *Workers {
	t.Helper()
	w := New(cfg, nil, nil)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestResult_String(t *testing.T) {
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "Result(42)", Result(42).String())
	assert.True(t, Success.Done())
	assert.True(t, Failure.Done())
	assert.False(t, Running.Done())
}

func TestAsyncResult_InvalidTransitionPanics(t *testing.T) {
	var res AsyncResult
	assert.Panics(t, func() { res.start() })

	res.submit(4)
	assert.Panics(t, func() { res.submit(4) })
	assert.Panics(t, func() { res.Reset() })
}

func TestAsyncResult_WaitUnsubmitted(t *testing.T) {
	var res AsyncResult
	r, err := res.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Initial, r)
}

func TestWorkers_SyncRead(t *testing.T) {
	w := newTestWorkers(t, Config{})
	src := bytes.NewReader([]byte("hello world"))

	buf := make([]byte, 5)
	r, err := w.ReadAt(context.Background(), src, 6, buf, nil)
	require.NoError(t, err)
	assert.Equal(t, Success, r)
	assert.Equal(t, "world", string(buf))
}

func TestWorkers_SyncShortRead(t *testing.T) {
	w := newTestWorkers(t, Config{})
	src := bytes.NewReader([]byte("abc"))

	r, err := w.ReadAt(context.Background(), src, 0, make([]byte, 10), nil)
	require.NoError(t, err)
	assert.Equal(t, Failure, r)
}

func TestWorkers_AsyncReadProgress(t *testing.T) {
	w := newTestWorkers(t, Config{ChunkSize: 4})
	data := bytes.Repeat([]byte("x"), 37)

	var res AsyncResult
	buf := make([]byte, len(data))
	r, err := w.ReadAt(context.Background(), bytes.NewReader(data), 0, buf, &res)
	require.NoError(t, err)
	assert.Equal(t, Pending, r)

	final, err := res.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Success, final)
	assert.Equal(t, int64(0), res.WorkRemaining())
	assert.Equal(t, int64(37), res.BytesProcessed())
	assert.Equal(t, data, buf)
}

func TestWorkers_AsyncShortRead(t *testing.T) {
	w := newTestWorkers(t, Config{ChunkSize: 2})

	var res AsyncResult
	_, err := w.ReadAt(context.Background(), bytes.NewReader([]byte("abcde")), 0, make([]byte, 8), &res)
	require.NoError(t, err)

	final, err := res.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Failure, final)
	assert.Equal(t, int64(5), res.BytesProcessed())
	assert.Equal(t, int64(3), res.WorkRemaining())
}

func TestWorkers_EmptyBuffer(t *testing.T) {
	w := newTestWorkers(t, Config{})

	var res AsyncResult
	_, err := w.ReadAt(context.Background(), bytes.NewReader(nil), 0, nil, &res)
	require.NoError(t, err)

	final, err := res.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Success, final)
}

func TestWorkers_ResetAndReuse(t *testing.T) {
	w := newTestWorkers(t, Config{})
	src := bytes.NewReader([]byte("0123456789"))

	var res AsyncResult
	for i := 0; i < 3; i++ {
		buf := make([]byte, 4)
		_, err := w.ReadAt(context.Background(), src, int64(i), buf, &res)
		require.NoError(t, err)

		final, err := res.Wait(context.Background())
		require.NoError(t, err)
		require.Equal(t, Success, final)
		assert.Equal(t, string([]byte("0123456789")[i:i+4]), string(buf))

		res.Reset()
		assert.Equal(t, Initial, res.Result())
	}
}

func TestWorkers_WriteAllToFile(t *testing.T) {
	w := newTestWorkers(t, Config{ChunkSize: 3})
	path := filepath.Join(t.TempDir(), "out.bin")

	f, err := fs.Default.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)

	require.NoError(t, w.WriteAll(context.Background(), f, []byte("payload")))
	require.NoError(t, f.Close())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}

func TestWorkers_WriteFault(t *testing.T) {
	w := newTestWorkers(t, Config{ChunkSize: 4})
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule("broken", fs.Fault{FailAfterBytes: 4})

	f, err := ffs.OpenFile(filepath.Join(t.TempDir(), "broken.bin"), os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close()

	err = w.WriteAll(context.Background(), f, []byte("0123456789"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrShortTransfer)
}

func TestWorkers_ReadAll(t *testing.T) {
	w := newTestWorkers(t, Config{ChunkSize: 1})

	got, err := w.ReadAll(context.Background(), bytes.NewReader([]byte("abc")), 3)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))

	_, err = w.ReadAll(context.Background(), bytes.NewReader([]byte("abc")), 5)
	assert.ErrorIs(t, err, ErrShortTransfer)
}

func TestWorkers_RateLimited(t *testing.T) {
	rc := resource.NewController(resource.Config{IOLimitBytesPerSec: 1 << 20})
	w := New(Config{ChunkSize: 64 * 1024}, rc, nil)
	defer w.Close()

	data := bytes.Repeat([]byte{7}, 256*1024)
	got, err := w.ReadAll(context.Background(), bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestWorkers_ConcurrentSubmitters(t *testing.T) {
	// Small ring forces the inline fallback path as well.
	w := newTestWorkers(t, Config{QueueCapacity: 2, ChunkSize: 8})
	data := bytes.Repeat([]byte("0123456789abcdef"), 64)

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				var res AsyncResult
				buf := make([]byte, 128)
				off := int64((i * 16) % (len(data) - 128))
				_, err := w.ReadAt(context.Background(), bytes.NewReader(data), off, buf, &res)
				if !assert.NoError(t, err) {
					return
				}
				r, err := res.Wait(context.Background())
				assert.NoError(t, err)
				assert.Equal(t, Success, r)
				assert.Equal(t, data[off:off+128], buf)
			}
		}()
	}
	wg.Wait()
}

func TestWorkers_CloseDrainsQueued(t *testing.T) {
	w := New(Config{}, nil, nil)

	results := make([]*AsyncResult, 32)
	for i := range results {
		results[i] = &AsyncResult{}
		_, err := w.ReadAt(context.Background(), bytes.NewReader([]byte("data")), 0, make([]byte, 4), results[i])
		require.NoError(t, err)
	}

	require.NoError(t, w.Close())
	for _, res := range results {
		assert.Equal(t, Success, res.Result())
	}

	_, err := w.ReadAt(context.Background(), bytes.NewReader(nil), 0, nil, nil)
	assert.True(t, errors.Is(err, ErrClosed))
	assert.NoError(t, w.Close())
}

func TestWorkers_CanceledContextFailsTransfer(t *testing.T) {
	rc := resource.NewController(resource.Config{IOLimitBytesPerSec: 1})
	w := New(Config{ChunkSize: 1}, rc, nil)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, err := w.ReadAt(ctx, bytes.NewReader([]byte("abc")), 0, make([]byte, 3), nil)
	require.NoError(t, err)
	assert.Equal(t, Failure, r)
}

func TestWorkers_ReadAllNegativeSize(t *testing.T) {
	w := newTestWorkers(t, Config{})
	_, err := w.ReadAll(context.Background(), bytes.NewReader(nil), -1)
	assert.ErrorIs(t, err, conv.ErrOverflow)
}
