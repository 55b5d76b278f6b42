package debug

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/rulecore/errors"
	"github.com/c360/rulecore/metric"
	"github.com/c360/rulecore/pkg/retry"
	"github.com/c360/rulecore/pkg/worker"
)

// EventService stores events
type EventService interface {
	SaveEvent(ctx context.Context, ev Event) error
}

// Task tracks one asynchronous save
type Task struct {
	event Event
	done  chan struct{}
	once  sync.Once
	err   error
}

func newTask(ev Event) *Task {
	return &Task{event: ev, done: make(chan struct{})}
}

func (t *Task) complete(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

// Event returns the event being saved
func (t *Task) Event() Event {
	if t == nil {
		return nil
	}
	return t.event
}

// Done is closed once the save finished or was abandoned
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task completes and returns its error. A nil task,
// returned for suppressed events, completes immediately.
func (t *Task) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PersisterConfig sizes the persistence executor
type PersisterConfig struct {
	Workers   int          `json:"workers"    yaml:"workers"`
	QueueSize int          `json:"queue_size" yaml:"queue_size"`
	Retry     retry.Config `json:"-"          yaml:"-"`
}

// DefaultPersisterConfig returns two workers, a queue of 10000 and three
// attempts for transient failures
func DefaultPersisterConfig() PersisterConfig {
	cfg := retry.DefaultConfig()
	cfg.Retryable = errors.IsTransient
	return PersisterConfig{Workers: 2, QueueSize: 10000, Retry: cfg}
}

// AsyncPersister saves events on a dedicated worker pool so callers never
// wait on storage. Failures are logged and swallowed.
type AsyncPersister struct {
	svc     EventService
	retry   retry.Config
	pool    *worker.Pool[*Task]
	logger  *slog.Logger
	metrics *metric.Metrics
}

// NewAsyncPersister creates a persister. Call Start before use.
func NewAsyncPersister(svc EventService, cfg PersisterConfig, logger *slog.Logger, registry *metric.MetricsRegistry) *AsyncPersister {
	def := DefaultPersisterConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = def.Retry
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = errors.IsTransient
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &AsyncPersister{
		svc:     svc,
		retry:   cfg.Retry,
		logger:  logger.With("component", "debug-persister"),
		metrics: registry.CoreMetrics(),
	}
	opts := []worker.Option[*Task]{worker.WithErrorHandler[*Task](p.onFailure)}
	if registry != nil {
		opts = append(opts, worker.WithMetricsRegistry[*Task](registry))
	}
	p.pool = worker.NewPool("debug_events", cfg.Workers, cfg.QueueSize, p.persist, opts...)
	return p
}

// Start launches the workers
func (p *AsyncPersister) Start(ctx context.Context) error {
	return p.pool.Start(ctx)
}

// Stop waits up to timeout for queued events
func (p *AsyncPersister) Stop(timeout time.Duration) error {
	return p.pool.Stop(timeout)
}

// PersistEventAsync validates ev and queues it. Invalid events and events
// that do not fit the queue are logged and dropped; the returned task then
// completes with the reason.
func (p *AsyncPersister) PersistEventAsync(ev Event) *Task {
	task := newTask(ev)

	if err := ev.Validate(); err != nil {
		p.logger.Warn("Dropping malformed event", "event_type", string(ev.Type()), "error", err)
		p.dropped("invalid")
		task.complete(err)
		return task
	}

	if err := p.pool.Submit(task); err != nil {
		p.logger.Warn("Dropping event, persistence queue unavailable",
			"event_type", string(ev.Type()), "error", err)
		p.dropped("queue_full")
		task.complete(errors.WrapTransient(err, "AsyncPersister", "PersistEventAsync", "queue event"))
	}
	return task
}

func (p *AsyncPersister) persist(ctx context.Context, task *Task) error {
	err := retry.Do(ctx, p.retry, func() error {
		return p.svc.SaveEvent(ctx, task.event)
	})
	if err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.RecordDebugEventPersisted(string(task.event.Type()))
	}
	task.complete(nil)
	return nil
}

// onFailure is the failure callback of the pool
func (p *AsyncPersister) onFailure(task *Task, err error) {
	h := task.event.Header()
	p.logger.Error("Failed to persist event",
		"event_type", string(task.event.Type()),
		"tenant_id", h.TenantID,
		"entity_id", h.EntityID,
		"error", err)
	p.dropped("save_failed")
	if p.metrics != nil {
		p.metrics.RecordError("debug", errors.Classify(err).String())
	}
	task.complete(err)
}

func (p *AsyncPersister) dropped(reason string) {
	if p.metrics != nil {
		p.metrics.RecordDebugEventDropped(reason)
	}
}
