// Package fileio moves file bytes on two dedicated goroutines, one for reads
// and one for writes.
//
// A caller hands a transfer to [Workers.ReadAt] or [Workers.Write]. Without an
// [AsyncResult] the transfer runs on the calling goroutine. With one, the job
// is queued on the worker's bounded ring, the result moves to Pending, and
// the caller returns at once:
//
//	var res fileio.AsyncResult
//	w.ReadAt(ctx, f, 0, buf, &res)
//	...
//	if r, _ := res.Wait(ctx); r != fileio.Success {
//	    // short read
//	}
//
// Progress is reported per chunk through [AsyncResult.WorkRemaining] and
// [AsyncResult.BytesProcessed]. A transfer that moves fewer bytes than asked
// ends in Failure; there is no partial success.
//
// # State Machine
//
//	Initial -> Pending -> Running -> Success | Failure
//
// Any other transition panics. [AsyncResult.Reset] returns a completed result
// to Initial for reuse.
//
// # Shutdown
//
// [Workers.Close] queues a sentinel behind every pending job, so jobs queued
// before Close still complete. Submissions after Close fail with [ErrClosed].
package fileio
