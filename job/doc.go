// Package job schedules background work for the resource cache.
//
// A [Manager] runs each job on its own goroutine behind the background slots
// of a resource Controller. Completion is tracked with a [Counter] rather than
// by polling:
//
//	var c job.Counter
//	_ = sched.Run(func(ctx context.Context) { convert(ctx) }, &c)
//	if err := c.Wait(ctx); err != nil {
//	    return err
//	}
//
// A job that hands work to a follow-up job passes the same Counter on before
// returning. The Counter then settles only after the last stage finishes.
package job
