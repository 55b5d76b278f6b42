package cluster

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/rulecore/errors"
	"github.com/c360/rulecore/natsclient"
	"github.com/c360/rulecore/partition"
)

// Transport moves encoded envelopes between nodes. Subjects are partition
// topics as returned by TopicPartitionInfo.FullTopicName.
type Transport interface {
	Start(ctx context.Context) error
	Publish(ctx context.Context, subject string, data []byte) error
	// Subscribe replaces any previous handler of subject. A handler error
	// requests redelivery.
	Subscribe(ctx context.Context, subject string, handler natsclient.Handler) error
	Unsubscribe(subject string)
	Close(ctx context.Context) error
}

// StreamSubjects returns one wildcard subject per system queue topic.
// Isolated tenant topics extend the system topic and are covered by it.
func StreamSubjects(queues []partition.QueueConfig) []string {
	subjects := make([]string, 0, len(queues))
	for _, q := range queues {
		subjects = append(subjects, q.Topic+".>")
	}
	slices.Sort(subjects)
	subjects = slices.Compact(subjects)

	// drop subjects nested under another one
	out := make([]string, 0, len(subjects))
	for _, s := range subjects {
		nested := false
		for _, other := range subjects {
			prefix := strings.TrimSuffix(other, ">")
			if other != s && strings.HasPrefix(s, prefix) {
				nested = true
				break
			}
		}
		if !nested {
			out = append(out, s)
		}
	}
	return out
}

// NATSTransport publishes to a JetStream work queue stream and consumes each
// partition through a durable consumer
type NATSTransport struct {
	client   *natsclient.Client
	stream   string
	subjects []string
	maxAge   time.Duration
	logger   *slog.Logger
}

// NewNATSTransport creates a transport on an existing client
func NewNATSTransport(client *natsclient.Client, stream string, subjects []string, maxAge time.Duration, logger *slog.Logger) *NATSTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSTransport{
		client:   client,
		stream:   stream,
		subjects: subjects,
		maxAge:   maxAge,
		logger:   logger.With("component", "cluster-transport", "stream", stream),
	}
}

// Start creates or updates the stream
func (t *NATSTransport) Start(ctx context.Context) error {
	if len(t.subjects) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "NATSTransport", "Start", "check stream subjects")
	}
	_, err := t.client.EnsureStream(ctx, jetstream.StreamConfig{
		Name:      t.stream,
		Subjects:  t.subjects,
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
		MaxAge:    t.maxAge,
	})
	if err != nil {
		return err
	}
	t.logger.Info("Cluster stream ready", "subjects", t.subjects)
	return nil
}

// Publish waits for the stream ack
func (t *NATSTransport) Publish(ctx context.Context, subject string, data []byte) error {
	return t.client.PublishToStream(ctx, subject, data)
}

// Subscribe starts a durable consumer for subject
func (t *NATSTransport) Subscribe(ctx context.Context, subject string, handler natsclient.Handler) error {
	return t.client.ConsumeStream(ctx, t.stream, subject, handler)
}

// Unsubscribe stops the consumer of subject. The durable consumer stays on
// the server so a node taking the partition over resumes where it stopped.
func (t *NATSTransport) Unsubscribe(subject string) {
	t.client.StopConsumer(t.stream, subject)
}

// Close is a no-op; the client owns the connection
func (t *NATSTransport) Close(context.Context) error {
	return nil
}

// LoopbackTransport delivers in process. Published data waits in a per
// subject queue until a handler takes it; failed deliveries are retried
// after RedeliveryDelay.
type LoopbackTransport struct {
	RedeliveryDelay time.Duration

	mu       sync.Mutex
	subjects map[string]*loopbackSubject
	closed   bool
}

type loopbackSubject struct {
	queue  [][]byte
	notify chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLoopbackTransport creates an empty loopback transport
func NewLoopbackTransport() *LoopbackTransport {
	return &LoopbackTransport{
		RedeliveryDelay: 100 * time.Millisecond,
		subjects:        make(map[string]*loopbackSubject),
	}
}

// Start does nothing
func (t *LoopbackTransport) Start(context.Context) error { return nil }

func (t *LoopbackTransport) subject(name string) *loopbackSubject {
	s, ok := t.subjects[name]
	if !ok {
		s = &loopbackSubject{notify: make(chan struct{}, 1)}
		t.subjects[name] = s
	}
	return s
}

// Publish queues data on subject
func (t *LoopbackTransport) Publish(_ context.Context, subject string, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.WrapFatal(errors.ErrShuttingDown, "LoopbackTransport", "Publish", "publish to "+subject)
	}
	s := t.subject(subject)
	s.queue = append(s.queue, slices.Clone(data))
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns the number of undelivered messages on subject
func (t *LoopbackTransport) Pending(subject string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.subjects[subject]; ok {
		return len(s.queue)
	}
	return 0
}

// Subscribe starts delivering subject to handler
func (t *LoopbackTransport) Subscribe(ctx context.Context, subject string, handler natsclient.Handler) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.WrapFatal(errors.ErrShuttingDown, "LoopbackTransport", "Subscribe", "subscribe "+subject)
	}
	s := t.subject(subject)
	prevCancel, prevDone := s.cancel, s.done
	subCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	t.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
		<-prevDone
	}

	go t.deliver(subCtx, subject, s, handler, done)
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

func (t *LoopbackTransport) deliver(ctx context.Context, subject string, s *loopbackSubject, handler natsclient.Handler, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.notify:
		}
		for {
			t.mu.Lock()
			if len(s.queue) == 0 || ctx.Err() != nil {
				t.mu.Unlock()
				break
			}
			data := s.queue[0]
			s.queue = s.queue[1:]
			t.mu.Unlock()

			if err := handler(ctx, data); err != nil {
				t.mu.Lock()
				s.queue = append([][]byte{data}, s.queue...)
				t.mu.Unlock()
				select {
				case <-ctx.Done():
					return
				case <-time.After(t.RedeliveryDelay):
				}
			}
		}
	}
}

// Unsubscribe stops delivery of subject. Queued messages are kept.
func (t *LoopbackTransport) Unsubscribe(subject string) {
	t.mu.Lock()
	s, ok := t.subjects[subject]
	if !ok || s.cancel == nil {
		t.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	t.mu.Unlock()

	cancel()
	<-done
}

// Close stops every subscription
func (t *LoopbackTransport) Close(context.Context) error {
	t.mu.Lock()
	t.closed = true
	names := make([]string, 0, len(t.subjects))
	for name := range t.subjects {
		names = append(names, name)
	}
	t.mu.Unlock()

	for _, name := range names {
		t.Unsubscribe(name)
	}
	return nil
}
