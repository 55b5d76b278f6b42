// Package retry provides exponential backoff retry logic for transient failures.
//
// Do and DoWithResult run a function until it succeeds, the attempts are
// exhausted, the error is classified as not retryable, or the context ends.
//
// The debug event persister retries storage writes only for transient errors
// and logs each retry:
//
//	cfg := retry.DefaultConfig()
//	cfg.Retryable = errors.IsTransient
//	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
//	    logger.Debug("Retrying event save", "attempt", attempt, "delay", delay, "error", err)
//	}
//	err := retry.Do(ctx, cfg, func() error { return store.Save(ctx, event) })
//
// The NATS connection uses Quick() during startup.
//
// Wrapping an error with NonRetryable stops the loop immediately regardless of
// the Retryable classifier.
package retry
