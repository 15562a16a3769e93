// Package worker provides a generic, thread-safe worker pool.
//
// # Overview
//
// Pool[T] runs a fixed number of goroutines that take work items from a
// bounded queue:
//
//	pool := worker.NewPool(1, 1024, func(ctx context.Context, cmd *Command) error {
//	    return cmd.Run(ctx)
//	}, worker.WithLogger[*Command](logger))
//
//	if err := pool.Start(ctx); err != nil {
//	    return err
//	}
//	defer pool.Stop(5 * time.Second)
//
// A pool with one worker executes items strictly in submission order, which
// makes it a serial executor for state that must only be touched from one
// goroutine.
//
// # Submitting
//
// Submit never blocks and returns ErrQueueFull when the queue is at
// capacity. SubmitWait blocks until there is room or the context is done.
//
// # Failures
//
// A processor error marks the item failed. A processor panic is recovered,
// wrapped in ErrProcessorPanic, and handled the same way, so one bad item
// never takes a worker down. WithErrorHandler receives the item and error
// in both cases.
//
// # Shutdown
//
// Stop closes the queue, lets the workers finish the items already queued,
// and returns ErrStopTimeout if they do not finish in time. Cancelling the
// context passed to Start stops workers after their current item.
//
// # Observability
//
// Stats is always available. WithMetricsRegistry additionally registers
// Prometheus counters, a queue depth gauge and a processing time histogram
// under the given prefix.
package worker
