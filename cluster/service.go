package cluster

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/c360/rulecore/errors"
	"github.com/c360/rulecore/message"
	"github.com/c360/rulecore/partition"
)

// LocalSink accepts messages for partitions owned by this node. The rule
// engine implements it.
type LocalSink interface {
	DeliverToRuleEngine(ctx context.Context, tenantID uuid.UUID, msg *message.Msg, relationTypes []string, failureMessage string) error
}

// Service routes messages to the rule engine partition that owns them
type Service struct {
	partitions *partition.HashPartitionService
	transport  Transport
	logger     *slog.Logger

	mu   sync.RWMutex
	sink LocalSink
}

// NewService creates a router. transport may be nil on a single node, in
// which case only local partitions are reachable.
func NewService(partitions *partition.HashPartitionService, transport Transport, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		partitions: partitions,
		transport:  transport,
		logger:     logger.With("component", "cluster"),
	}
}

// SetLocalSink sets the receiver of local deliveries
func (s *Service) SetLocalSink(sink LocalSink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

func (s *Service) localSink() LocalSink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sink
}

// Partitions returns the partition service used for routing
func (s *Service) Partitions() *partition.HashPartitionService { return s.partitions }

// PushMsgToRuleEngine delivers msg to the partition tpi. Local partitions go
// straight to the sink. Remote ones are published, and the message callback
// completes once the transport has accepted the message.
func (s *Service) PushMsgToRuleEngine(
	ctx context.Context, tpi partition.TopicPartitionInfo, tenantID uuid.UUID,
	msg *message.Msg, relationTypes []string, failureMessage string,
) error {
	if tpi.MyPartition {
		sink := s.localSink()
		if sink == nil {
			err := errors.WrapTransient(errors.ErrNotStarted, "Service", "PushMsgToRuleEngine", "find local rule engine")
			msg.Callback().OnFailure(err)
			return err
		}
		return sink.DeliverToRuleEngine(ctx, tenantID, msg, relationTypes, failureMessage)
	}

	if s.transport == nil {
		err := errors.WrapTransient(errors.ErrNoConnection, "Service", "PushMsgToRuleEngine",
			"route to remote partition "+tpi.FullTopicName())
		msg.Callback().OnFailure(err)
		return err
	}

	data := ToRuleEngineMsg{
		TenantID:       tenantID,
		Msg:            msg,
		RelationTypes:  relationTypes,
		FailureMessage: failureMessage,
	}.Encode()

	if err := s.transport.Publish(ctx, tpi.FullTopicName(), data); err != nil {
		s.logger.Warn("Failed to publish message to rule engine partition",
			"topic", tpi.FullTopicName(), "msg_id", msg.ID(), "error", err)
		msg.Callback().OnFailure(err)
		return err
	}
	s.logger.Debug("Published message to remote partition", "topic", tpi.FullTopicName(), "msg_id", msg.ID())
	msg.Callback().OnSuccess()
	return nil
}

// PushMsgToRuleEngineForEntity resolves the partition of msg on its queue
// and pushes it there
func (s *Service) PushMsgToRuleEngineForEntity(ctx context.Context, tenantID uuid.UUID, msg *message.Msg) error {
	tpi, err := s.partitions.ResolveForMsg(partition.ServiceRuleEngine, tenantID, msg)
	if err != nil {
		msg.Callback().OnFailure(err)
		return err
	}
	return s.PushMsgToRuleEngine(ctx, tpi, tenantID, msg, nil, "")
}
