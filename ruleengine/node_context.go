package ruleengine

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c360/rulecore/actor"
	"github.com/c360/rulecore/errors"
	"github.com/c360/rulecore/message"
	"github.com/c360/rulecore/partition"
	"github.com/c360/rulecore/scheduler"
)

// enqueueTimeout bounds the wait for the ack of a push to another partition
const enqueueTimeout = 10 * time.Second

// nodeContext is the Context handed to the node running on a RuleNodeActor
type nodeContext struct {
	sys       *SystemContext
	self      actor.Ctx
	chainRef  actor.ID
	tenantID  uuid.UUID
	chainName string
	node      RuleNode
	logger    *slog.Logger
}

func newNodeContext(sys *SystemContext, self actor.Ctx, tenantID uuid.UUID, chainName string, node RuleNode) *nodeContext {
	chainRef, _ := self.Parent()
	return &nodeContext{
		sys:       sys,
		self:      self,
		chainRef:  chainRef,
		tenantID:  tenantID,
		chainName: chainName,
		node:      node,
		logger: sys.Logger.With(
			"rule_chain", chainName,
			"rule_node", node.Name,
			"rule_node_id", node.ID.String(),
		),
	}
}

func (c *nodeContext) TenantID() uuid.UUID          { return c.tenantID }
func (c *nodeContext) Self() RuleNode               { return c.node }
func (c *nodeContext) SelfID() message.EntityID     { return c.node.EntityID() }
func (c *nodeContext) RuleChainName() string        { return c.chainName }
func (c *nodeContext) ServiceID() string            { return c.sys.ServiceID }
func (c *nodeContext) Logger() *slog.Logger         { return c.logger }
func (c *nodeContext) TellSuccess(msg *message.Msg) { c.TellNext(msg, message.RelationSuccess) }

func (c *nodeContext) TellNext(msg *message.Msg, relationTypes ...string) {
	c.tellNext(msg, relationTypes, nil, "")
}

func (c *nodeContext) TellFailure(msg *message.Msg, err error) {
	failureMessage := "Unknown error"
	if err != nil {
		failureMessage = err.Error()
	}
	c.tellNext(msg, []string{message.RelationFailure}, err, failureMessage)
}

func (c *nodeContext) tellNext(msg *message.Msg, relationTypes []string, err error, failureMessage string) {
	for _, rel := range relationTypes {
		c.sys.PersistDebugOutput(c.tenantID, c.node, msg, rel, err, failureMessage)
	}
	msg.Callback().OnProcessingEnd(c.node.ID)
	c.tellChain(RuleNodeToRuleChainTellNextMsg{
		RuleChainID:    c.node.RuleChainID,
		OriginatorID:   c.node.ID,
		RelationTypes:  relationTypes,
		Msg:            msg,
		FailureMessage: failureMessage,
	}, msg)
}

func (c *nodeContext) tellChain(m actor.Msg, msg *message.Msg) {
	if err := c.self.TellActor(c.chainRef, m); err != nil {
		msg.Callback().OnFailure(errors.WrapTransient(err, "nodeContext", "tellChain", "tell rule chain"))
	}
}

func (c *nodeContext) TellSelf(msg *message.Msg, delay time.Duration) {
	c.sys.ScheduleMsgWithDelay(c.self, RuleNodeToSelfMsg{Msg: msg}, delay)
}

func (c *nodeContext) SchedulePeriodic(msg *message.Msg, initialDelay, period time.Duration) *scheduler.Handle {
	return c.sys.SchedulePeriodicMsgWithDelay(c.self, RuleNodeToSelfMsg{Msg: msg}, initialDelay, period)
}

// Input transforms msg into the entry of another chain and records this node
// as the frame the matching Output returns to.
func (c *nodeContext) Input(msg *message.Msg, ruleChainID uuid.UUID) {
	if !msg.IsValid() {
		return
	}
	target := msg.TransformToChain(ruleChainID)
	target.PushToStack(c.node.RuleChainID, c.node.ID)
	msg.Callback().OnProcessingEnd(c.node.ID)
	c.tellChain(RuleChainInputMsg{TargetChainID: ruleChainID, Msg: target}, msg)
}

// Output returns to the caller frame. A message with no frame left is
// acknowledged.
func (c *nodeContext) Output(msg *message.Msg, relationType string) {
	frame, ok := msg.PopFromStack()
	if !ok {
		c.Ack(msg)
		return
	}
	c.sys.PersistDebugOutput(c.tenantID, c.node, msg, relationType, nil, "")
	msg.Callback().OnProcessingEnd(c.node.ID)
	c.tellChain(RuleChainOutputMsg{
		TargetChainID: frame.ChainID,
		TargetNodeID:  frame.NodeID,
		RelationType:  relationType,
		Msg:           msg,
	}, msg)
}

func (c *nodeContext) Ack(msg *message.Msg) {
	c.sys.PersistDebugOutput(c.tenantID, c.node, msg, message.RelationACK, nil, "")
	msg.Callback().OnProcessingEnd(c.node.ID)
	msg.Callback().OnSuccess()
}

// Enqueue pushes msg to the partition of its originator as a new root
// message. Its own callback is not carried over. onSuccess or onFailure
// runs on this node once the partition answered.
func (c *nodeContext) Enqueue(msg *message.Msg, onSuccess func(), onFailure func(error)) {
	c.sys.EnqueueToRuleEngine(c.tenantID, msg.WithCallback(message.EmptyCallback), func(err error) {
		c.self.Tell(RuleNodeEnqueuedMsg{Msg: msg, Err: err, OnSuccess: onSuccess, OnFailure: onFailure})
	})
}

func (c *nodeContext) EnqueueForTellNext(msg *message.Msg, queueName, relationType string) {
	if queueName == "" {
		queueName = msg.QueueName()
	}
	next := msg.ForQueue(queueName, c.node.RuleChainID, c.node.ID).WithCallback(message.EmptyCallback)
	tpi, err := c.sys.Partitions.ResolveForMsg(partition.ServiceRuleEngine, c.tenantID, next)
	if err != nil {
		c.TellFailure(msg, err)
		return
	}
	c.sys.pushToPartition(tpi, c.tenantID, next, []string{relationType}, func(err error) {
		c.self.Tell(RuleNodeEnqueuedMsg{Msg: msg, RelationType: relationType, TellNext: true, Err: err})
	})
}

// onEnqueued completes Enqueue and EnqueueForTellNext on the node actor
func (c *nodeContext) onEnqueued(m RuleNodeEnqueuedMsg) {
	if m.TellNext {
		if m.Err != nil {
			c.TellFailure(m.Msg, m.Err)
			return
		}
		c.sys.PersistDebugOutput(c.tenantID, c.node, m.Msg, m.RelationType, nil, "")
		m.Msg.Callback().OnProcessingEnd(c.node.ID)
		m.Msg.Callback().OnSuccess()
		return
	}
	if m.Err != nil {
		c.logger.Debug("Enqueue failed", "msg_id", m.Msg.ID().String(), "error", m.Err)
		if m.OnFailure != nil {
			m.OnFailure(m.Err)
		}
		return
	}
	c.sys.PersistDebugOutput(c.tenantID, c.node, m.Msg, message.RelationToRootRuleChain, nil, "")
	if m.OnSuccess != nil {
		m.OnSuccess()
	}
}

func (c *nodeContext) NewMsg(queueName string, msgType message.InternalType, originator message.EntityID,
	metadata message.Metadata, data string,
) (*message.Msg, error) {
	return message.NewBuilder().
		QueueName(queueName).
		Type(msgType).
		Originator(originator).
		Metadata(metadata).
		Data(data).
		RuleChainID(c.node.RuleChainID).
		RuleNodeID(c.node.ID).
		Build()
}
