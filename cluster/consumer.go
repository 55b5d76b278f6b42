package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/rulecore/errors"
	"github.com/c360/rulecore/message"
	"github.com/c360/rulecore/metric"
	"github.com/c360/rulecore/partition"
)

// Consumer feeds the rule engine partitions owned by this node into the
// local sink. It follows ownership changes of the partition service.
//
// A delivery is acked once the message callback reports success. Timeouts
// and transient failures are redelivered. Other failures and undecodable
// envelopes are acked and logged, since redelivery cannot fix them.
type Consumer struct {
	partitions  *partition.HashPartitionService
	transport   Transport
	sink        LocalSink
	packTimeout time.Duration
	logger      *slog.Logger
	metrics     *metric.Metrics

	mu      sync.Mutex
	ctx     context.Context
	started bool
	active  map[partition.QueueKey]map[string]struct{}
}

// NewConsumer creates a consumer. packTimeout bounds how long one message
// may stay in the rule engine before it is redelivered.
func NewConsumer(
	partitions *partition.HashPartitionService, transport Transport, sink LocalSink,
	packTimeout time.Duration, logger *slog.Logger, registry *metric.MetricsRegistry,
) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if packTimeout <= 0 {
		packTimeout = 60 * time.Second
	}
	return &Consumer{
		partitions:  partitions,
		transport:   transport,
		sink:        sink,
		packTimeout: packTimeout,
		logger:      logger.With("component", "cluster-consumer"),
		metrics:     registry.CoreMetrics(),
		active:      make(map[partition.QueueKey]map[string]struct{}),
	}
}

// Start subscribes to the currently owned partitions and registers for
// ownership changes
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Consumer", "Start", "start consumer")
	}
	c.started = true
	c.ctx = ctx
	c.mu.Unlock()

	c.partitions.OnPartitionChange(func(ev partition.ChangeEvent) {
		if ev.Key.Type == partition.ServiceRuleEngine {
			c.apply(ev.Key, ev.Partitions)
		}
	})
	for _, key := range c.partitions.Queues() {
		if key.Type == partition.ServiceRuleEngine {
			c.apply(key, c.partitions.MyPartitions(key))
		}
	}
	return nil
}

// Subjects returns the subjects currently consumed
func (c *Consumer) Subjects() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, subjects := range c.active {
		for s := range subjects {
			out = append(out, s)
		}
	}
	return out
}

func (c *Consumer) apply(key partition.QueueKey, owned []partition.TopicPartitionInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started || c.ctx.Err() != nil {
		return
	}

	want := make(map[string]struct{}, len(owned))
	for _, tpi := range owned {
		want[tpi.FullTopicName()] = struct{}{}
	}
	current := c.active[key]
	if current == nil {
		current = make(map[string]struct{})
		c.active[key] = current
	}

	for subject := range current {
		if _, ok := want[subject]; !ok {
			c.transport.Unsubscribe(subject)
			delete(current, subject)
			c.logger.Info("Released partition", "subject", subject)
		}
	}
	for subject := range want {
		if _, ok := current[subject]; ok {
			continue
		}
		if err := c.transport.Subscribe(c.ctx, subject, c.handle); err != nil {
			c.logger.Error("Failed to consume partition", "subject", subject, "error", err)
			continue
		}
		current[subject] = struct{}{}
		c.logger.Info("Consuming partition", "subject", subject)
	}
}

func (c *Consumer) handle(ctx context.Context, data []byte) error {
	env, err := DecodeToRuleEngineMsg(data)
	if err != nil {
		c.logger.Warn("Dropping undecodable rule engine message", "error", err)
		c.recordError(err)
		return nil
	}

	pack := message.NewPack(ctx, c.packTimeout, 1)
	msg := env.Msg.WithCallback(pack.Callback(env.Msg.ID()))

	if err := c.sink.DeliverToRuleEngine(ctx, env.TenantID, msg, env.RelationTypes, env.FailureMessage); err != nil {
		pack.Cancel()
		c.recordError(err)
		if errors.IsTransient(err) {
			return err
		}
		c.logger.Warn("Rule engine rejected message", "msg_id", msg.ID(), "tenant_id", env.TenantID, "error", err)
		return nil
	}

	res := pack.Await(ctx)
	switch {
	case res.Success == 1:
		return nil
	case res.Timeout > 0:
		for id, info := range res.Pending {
			c.logger.Warn("Message processing timed out",
				"msg_id", id, "rule_node_id", info.RuleNodeID, "rule_node", info.RuleNodeName)
		}
		return errors.WrapTransient(fmt.Errorf("%w: message %s", errors.ErrConnectionTimeout, msg.ID()),
			"Consumer", "handle", "await rule engine")
	default:
		failure := res.Failures[msg.ID()]
		c.recordError(failure)
		if errors.IsTransient(failure) {
			return failure
		}
		c.logger.Warn("Message processing failed", "msg_id", msg.ID(), "error", failure)
		return nil
	}
}

func (c *Consumer) recordError(err error) {
	if c.metrics != nil {
		c.metrics.RecordError("cluster-consumer", errors.Classify(err).String())
	}
}

// Stop releases every partition
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, subjects := range c.active {
		for subject := range subjects {
			c.transport.Unsubscribe(subject)
		}
		delete(c.active, key)
	}
	c.started = false
}
