// Package worker provides a generic bounded worker pool.
//
// The rule engine uses it to persist debug events off the actor threads: the
// emitter submits an event and returns immediately, a full queue drops the
// event, and processor errors go to the ErrorHandler which only logs them.
//
//	pool := worker.NewPool("debug_events", 4, 10000, persist,
//	    worker.WithMetricsRegistry[Event](registry),
//	    worker.WithErrorHandler(func(ev Event, err error) {
//	        logger.Warn("Failed to persist debug event", "event_type", ev.Type(), "error", err)
//	    }),
//	)
//	if err := pool.Start(ctx); err != nil {
//	    return err
//	}
//	defer pool.Stop(5 * time.Second)
//
// Submit never blocks. Stop closes the queue and waits for queued items to be
// processed, bounded by the timeout. A panic inside the processor is recovered
// and reported as ErrProcessorPanic.
package worker
