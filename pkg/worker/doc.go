// Package worker provides a generic, key-sharded worker pool.
//
// # Overview
//
// Each worker owns a bounded queue. Submit routes a work item to a worker by
// hashing its key, so every item with the same key is processed by the same
// goroutine in submission order while different keys proceed in parallel.
// The gateway keys byte chunks by origin: a stream is never reordered, and
// origins never contend with each other.
//
// Example:
//
//	pool := worker.NewPool[chunk](4, 256, func(ctx context.Context, c chunk) error {
//	    return handle(ctx, c)
//	})
//	if err := pool.Start(ctx); err != nil {
//	    return err
//	}
//	defer pool.Stop(5 * time.Second)
//
//	if err := pool.Submit(c.origin, c); errors.Is(err, worker.ErrQueueFull) {
//	    // shed load
//	}
//
// # Backpressure
//
// Submit never blocks. When the target worker's queue is full the item is
// dropped and ErrQueueFull returned, leaving the decision to retry or shed to
// the caller. SubmitWait blocks until there is room or the context ends.
//
// # Observability
//
// Statistics are always tracked with atomics (Stats). Prometheus metrics are
// registered only when WithMetricsRegistry is given.
//
// # Shutdown
//
// Stop closes every queue and waits for the workers to drain what was already
// accepted. Cancelling the context passed to Start abandons queued work.
package worker
