// Package scheduler delivers actor messages after a delay, once or
// periodically.
//
// A single goroutine sleeps until the earliest pending delivery and then
// enqueues the message with Ref.Tell. It never runs actor code itself, so a
// slow actor cannot delay other deliveries.
//
//	s := scheduler.New(logger, metrics)
//	s.Start(ctx)
//	defer s.Stop()
//
//	s.ScheduleMsgWithDelay(ref, msg, 5*time.Second)
//	h := s.SchedulePeriodicMsgWithDelay(ref, tick, 0, time.Minute)
//	defer h.Cancel()
package scheduler

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/rulecore/actor"
	"github.com/c360/rulecore/metric"
)

// Handle controls a scheduled delivery
type Handle struct {
	s         *Scheduler
	cancelled atomic.Bool
}

// Cancel stops future deliveries. It is safe to call more than once.
func (h *Handle) Cancel() {
	if h == nil || !h.cancelled.CompareAndSwap(false, true) {
		return
	}
	if h.s != nil {
		h.s.cancel(h)
	}
}

// Cancelled reports whether Cancel was called
func (h *Handle) Cancelled() bool {
	return h != nil && h.cancelled.Load()
}

// Scheduler is a min-heap of pending deliveries served by one goroutine
type Scheduler struct {
	logger  *slog.Logger
	metrics *metric.Metrics

	mu       sync.Mutex
	h        minHeap
	byHandle map[*Handle]*item
	seq      uint64

	notify  chan struct{}
	done    chan struct{}
	started atomic.Bool
	wg      sync.WaitGroup
}

// New creates a Scheduler. Deliveries start after Start.
func New(logger *slog.Logger, registry *metric.MetricsRegistry) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	h := make(minHeap, 0, 64)
	heap.Init(&h)
	return &Scheduler{
		logger:   logger.With("component", "scheduler"),
		metrics:  registry.CoreMetrics(),
		h:        h,
		byHandle: make(map[*Handle]*item),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// ScheduleMsgWithDelay tells msg to ref after delay. A delay of zero or less
// tells it immediately without touching the heap.
func (s *Scheduler) ScheduleMsgWithDelay(ref actor.Ref, msg actor.Msg, delay time.Duration) *Handle {
	if delay <= 0 {
		ref.Tell(msg)
		h := &Handle{}
		h.cancelled.Store(true)
		return h
	}
	return s.schedule(ref, msg, delay, 0)
}

// SchedulePeriodicMsgWithDelay tells msg to ref after initialDelay and then
// every period after each delivery, until the handle is cancelled.
func (s *Scheduler) SchedulePeriodicMsgWithDelay(ref actor.Ref, msg actor.Msg, initialDelay, period time.Duration) *Handle {
	if period <= 0 {
		return s.ScheduleMsgWithDelay(ref, msg, initialDelay)
	}
	return s.schedule(ref, msg, initialDelay, period)
}

func (s *Scheduler) schedule(ref actor.Ref, msg actor.Msg, delay, period time.Duration) *Handle {
	h := &Handle{s: s}
	s.mu.Lock()
	s.push(&item{ref: ref, msg: msg, deliverAt: time.Now().Add(delay), period: period, handle: h})
	s.mu.Unlock()
	s.wake()
	return h
}

// push adds it to the heap. Callers hold s.mu.
func (s *Scheduler) push(it *item) {
	s.seq++
	it.seq = s.seq
	heap.Push(&s.h, it)
	s.byHandle[it.handle] = it
	s.recordPending()
}

func (s *Scheduler) cancel(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.byHandle[h]
	if !ok {
		return
	}
	delete(s.byHandle, h)
	if it.heapIdx >= 0 {
		s.h.remove(it.heapIdx)
	}
	s.recordPending()
}

func (s *Scheduler) recordPending() {
	if s.metrics != nil {
		s.metrics.RecordScheduledPending(len(s.h))
	}
}

func (s *Scheduler) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of pending deliveries
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.h)
}

// Start launches the delivery goroutine. Calls after the first are ignored.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop ends the delivery goroutine. Pending deliveries are dropped.
func (s *Scheduler) Stop() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.wg.Wait()

	s.mu.Lock()
	n := len(s.h)
	s.mu.Unlock()
	if n > 0 {
		s.logger.Debug("Scheduler stopped with pending deliveries", "pending", n)
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		due, wait := s.popDue(time.Now())
		for _, it := range due {
			it.ref.Tell(it.msg)
		}
		if len(due) > 0 {
			continue
		}

		var timerC <-chan time.Time
		if wait > 0 {
			timer.Reset(wait)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-s.notify:
			if !timer.Stop() && timerC != nil {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timerC:
		}
	}
}

// popDue removes every item due at now and re-arms periodic ones. wait is
// the time until the next item, or zero when the heap is empty.
func (s *Scheduler) popDue(now time.Time) (due []*item, wait time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.h) > 0 {
		root := s.h[0]
		if root.deliverAt.After(now) {
			return due, root.deliverAt.Sub(now)
		}
		heap.Pop(&s.h)
		delete(s.byHandle, root.handle)
		if root.handle.Cancelled() {
			continue
		}
		due = append(due, root)
		if root.period > 0 {
			next := *root
			next.deliverAt = now.Add(root.period)
			s.push(&next)
		}
	}
	s.recordPending()
	return due, 0
}
