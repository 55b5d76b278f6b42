package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rulecore"

// Metrics contains the engine-level metrics shared by all rule engine components
type Metrics struct {
	// Message flow
	MessagesReceived   *prometheus.CounterVec
	MessagesProcessed  *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	LoopsDetected      prometheus.Counter
	ErrorsTotal        *prometheus.CounterVec

	// Actor system
	ActorsActive  *prometheus.GaugeVec
	MailboxDepth  *prometheus.GaugeVec
	ActorFailures *prometheus.CounterVec

	// Scheduler
	ScheduledPending prometheus.Gauge

	// Debug events
	DebugEventsPersisted *prometheus.CounterVec
	DebugEventsDropped   *prometheus.CounterVec
	DebugRateLimited     prometheus.Counter

	// Rate limiting
	RateLimitRejected *prometheus.CounterVec

	// Partitioning
	PartitionsAssigned *prometheus.GaugeVec

	// NATS
	NATSConnected      prometheus.Gauge
	NATSRTT            prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all engine metrics
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Total number of messages accepted by the rule engine",
			},
			[]string{"queue", "type"},
		),

		MessagesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "processed_total",
				Help:      "Total number of messages whose callback completed",
			},
			[]string{"queue", "status"},
		),

		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "processing",
				Name:      "duration_seconds",
				Help:      "Rule node processing duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"node_type"},
		),

		LoopsDetected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "loops_detected_total",
				Help:      "Messages rejected for exceeding the rule node execution limit",
			},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"component", "class"},
		),

		ActorsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "actors",
				Name:      "active",
				Help:      "Number of live actors",
			},
			[]string{"dispatcher"},
		),

		MailboxDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "actors",
				Name:      "mailbox_depth",
				Help:      "Messages waiting in actor mailboxes",
			},
			[]string{"dispatcher", "priority"},
		),

		ActorFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "actors",
				Name:      "failures_total",
				Help:      "Actor init and process failures",
			},
			[]string{"dispatcher", "stage"},
		),

		ScheduledPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "pending",
				Help:      "Delayed messages waiting for delivery",
			},
		),

		DebugEventsPersisted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "debug",
				Name:      "events_persisted_total",
				Help:      "Debug events written to the event store",
			},
			[]string{"event_type"},
		),

		DebugEventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "debug",
				Name:      "events_dropped_total",
				Help:      "Debug events dropped before reaching the event store",
			},
			[]string{"reason"},
		),

		DebugRateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "debug",
				Name:      "rate_limited_total",
				Help:      "Debug events rejected by the per-tenant rate limit",
			},
		),

		RateLimitRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "rejected_total",
				Help:      "Events rejected by a rate limit, per limited API",
			},
			[]string{"api"},
		),

		PartitionsAssigned: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "partitions",
				Name:      "assigned",
				Help:      "Partitions owned by this node",
			},
			[]string{"queue"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSRTT: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "rtt_milliseconds",
				Help:      "NATS round-trip time in milliseconds",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),

		NATSCircuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "circuit_breaker",
				Help:      "NATS circuit breaker status (0=closed, 1=open)",
			},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.MessagesReceived,
		c.MessagesProcessed,
		c.ProcessingDuration,
		c.LoopsDetected,
		c.ErrorsTotal,
		c.ActorsActive,
		c.MailboxDepth,
		c.ActorFailures,
		c.ScheduledPending,
		c.DebugEventsPersisted,
		c.DebugEventsDropped,
		c.DebugRateLimited,
		c.RateLimitRejected,
		c.PartitionsAssigned,
		c.NATSConnected,
		c.NATSRTT,
		c.NATSReconnects,
		c.NATSCircuitBreaker,
	}
}

// RecordMessageReceived increments the received counter for a queue
func (c *Metrics) RecordMessageReceived(queue, msgType string) {
	c.MessagesReceived.WithLabelValues(queue, msgType).Inc()
}

// RecordMessageProcessed increments the processed counter with "success" or "failure"
func (c *Metrics) RecordMessageProcessed(queue, status string) {
	c.MessagesProcessed.WithLabelValues(queue, status).Inc()
}

// RecordProcessingDuration records time spent in a rule node
func (c *Metrics) RecordProcessingDuration(nodeType string, duration time.Duration) {
	c.ProcessingDuration.WithLabelValues(nodeType).Observe(duration.Seconds())
}

// RecordLoopDetected increments the loop detection counter
func (c *Metrics) RecordLoopDetected() {
	c.LoopsDetected.Inc()
}

// RecordError increments the error counter
func (c *Metrics) RecordError(component, class string) {
	c.ErrorsTotal.WithLabelValues(component, class).Inc()
}

// RecordActorStarted increments the live actor gauge
func (c *Metrics) RecordActorStarted(dispatcher string) {
	c.ActorsActive.WithLabelValues(dispatcher).Inc()
}

// RecordActorStopped decrements the live actor gauge
func (c *Metrics) RecordActorStopped(dispatcher string) {
	c.ActorsActive.WithLabelValues(dispatcher).Dec()
}

// RecordMailboxDepth adjusts the mailbox depth gauge by delta
func (c *Metrics) RecordMailboxDepth(dispatcher string, highPriority bool, delta int) {
	priority := "normal"
	if highPriority {
		priority = "high"
	}
	c.MailboxDepth.WithLabelValues(dispatcher, priority).Add(float64(delta))
}

// RecordActorFailure increments actor failures for "init" or "process"
func (c *Metrics) RecordActorFailure(dispatcher, stage string) {
	c.ActorFailures.WithLabelValues(dispatcher, stage).Inc()
}

// RecordScheduledPending sets the number of pending delayed messages
func (c *Metrics) RecordScheduledPending(n int) {
	c.ScheduledPending.Set(float64(n))
}

// RecordDebugEventPersisted increments persisted debug events by type
func (c *Metrics) RecordDebugEventPersisted(eventType string) {
	c.DebugEventsPersisted.WithLabelValues(eventType).Inc()
}

// RecordDebugEventDropped increments dropped debug events by reason
func (c *Metrics) RecordDebugEventDropped(reason string) {
	c.DebugEventsDropped.WithLabelValues(reason).Inc()
}

// RecordDebugRateLimited increments the rate limited counter
func (c *Metrics) RecordDebugRateLimited() {
	c.DebugRateLimited.Inc()
}

// RecordRateLimitRejected counts one rejection for a limited API
func (c *Metrics) RecordRateLimitRejected(api string) {
	c.RateLimitRejected.WithLabelValues(api).Inc()
}

// RecordPartitionsAssigned sets the number of partitions this node owns for a queue
func (c *Metrics) RecordPartitionsAssigned(queue string, n int) {
	c.PartitionsAssigned.WithLabelValues(queue).Set(float64(n))
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSRTT updates NATS round-trip time
func (c *Metrics) RecordNATSRTT(rtt time.Duration) {
	c.NATSRTT.Set(float64(rtt.Milliseconds()))
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

// RecordCircuitBreakerState updates circuit breaker status
func (c *Metrics) RecordCircuitBreakerState(state int) {
	c.NATSCircuitBreaker.Set(float64(state))
}
