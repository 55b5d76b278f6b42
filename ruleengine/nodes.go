package ruleengine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/c360/rulecore/errors"
	"github.com/c360/rulecore/message"
	"github.com/c360/rulecore/scheduler"
)

// Built-in node types
const (
	NodeTypeFlow          = "flow"
	NodeTypeOutput        = "output"
	NodeTypeDelay         = "delay"
	NodeTypeLog           = "log"
	NodeTypeCheckpoint    = "checkpoint"
	NodeTypeMsgTypeSwitch = "msg_type_switch"
	NodeTypeGenerator     = "generator"
)

func builtinNodes() map[string]NodeFactory {
	return map[string]NodeFactory{
		NodeTypeFlow:          func() Node { return &flowNode{} },
		NodeTypeOutput:        func() Node { return &outputNode{} },
		NodeTypeDelay:         func() Node { return &delayNode{} },
		NodeTypeLog:           func() Node { return &logNode{} },
		NodeTypeCheckpoint:    func() Node { return &checkpointNode{} },
		NodeTypeMsgTypeSwitch: func() Node { return &msgTypeSwitchNode{} },
		NodeTypeGenerator:     func() Node { return &generatorNode{} },
	}
}

// flowNode calls into another rule chain
type flowNode struct {
	RuleChainID uuid.UUID `json:"ruleChainId"`
}

func (n *flowNode) Init(_ Context, cfg NodeConfig) error {
	if err := cfg.Decode(n); err != nil {
		return err
	}
	if n.RuleChainID == uuid.Nil {
		return errors.WrapInvalid(fmt.Errorf("%w: flow node %s has no target chain", errors.ErrMissingConfig, cfg.Node.ID),
			"flowNode", "Init", "validate configuration")
	}
	return nil
}

func (n *flowNode) OnMsg(ctx Context, msg *message.Msg) error {
	ctx.Input(msg, n.RuleChainID)
	return nil
}

func (n *flowNode) Destroy() {}

// outputNode returns to the calling chain over a relation named after the
// node
type outputNode struct{}

func (outputNode) Init(Context, NodeConfig) error { return nil }

func (outputNode) OnMsg(ctx Context, msg *message.Msg) error {
	ctx.Output(msg, ctx.Self().Name)
	return nil
}

func (outputNode) Destroy() {}

// delayNode holds messages for a fixed period before routing them over
// Success. Pending messages beyond the limit fail.
type delayNode struct {
	PeriodMs       int64 `json:"periodMs"`
	MaxPendingMsgs int   `json:"maxPendingMsgs"`

	pending map[string]*message.Msg
}

const delayMsgIDKey = "delayedMsgId"

func (n *delayNode) Init(_ Context, cfg NodeConfig) error {
	n.PeriodMs = 1000
	n.MaxPendingMsgs = 1000
	if err := cfg.Decode(n); err != nil {
		return err
	}
	if n.PeriodMs < 0 || n.MaxPendingMsgs <= 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: delay node %s: period %d, max pending %d",
			errors.ErrInvalidConfig, cfg.Node.ID, n.PeriodMs, n.MaxPendingMsgs),
			"delayNode", "Init", "validate configuration")
	}
	n.pending = make(map[string]*message.Msg)
	return nil
}

func (n *delayNode) OnMsg(ctx Context, msg *message.Msg) error {
	if msg.IsTypeOf(message.DelayTimeoutSelfMsg) {
		id := msg.Metadata().Value(delayMsgIDKey)
		if original, ok := n.pending[id]; ok {
			delete(n.pending, id)
			ctx.TellSuccess(original)
		}
		return nil
	}

	if len(n.pending) >= n.MaxPendingMsgs {
		return errors.WrapTransient(fmt.Errorf("%w: max limit of pending messages reached", errors.ErrResourceExhausted),
			"delayNode", "OnMsg", "delay message")
	}
	timeout, err := ctx.NewMsg("", message.DelayTimeoutSelfMsg, ctx.SelfID(),
		message.NewMetadata(map[string]string{delayMsgIDKey: msg.ID().String()}), "")
	if err != nil {
		return err
	}
	n.pending[msg.ID().String()] = msg
	ctx.TellSelf(timeout, time.Duration(n.PeriodMs)*time.Millisecond)
	return nil
}

func (n *delayNode) Destroy() {
	for id, msg := range n.pending {
		msg.Callback().OnFailure(errors.WrapTransient(errors.ErrActorStopped, "delayNode", "Destroy", "release delayed message"))
		delete(n.pending, id)
	}
}

// logNode logs each message and passes it on
type logNode struct{}

func (logNode) Init(Context, NodeConfig) error { return nil }

func (logNode) OnMsg(ctx Context, msg *message.Msg) error {
	ctx.Logger().Info("Rule node message",
		"msg_id", msg.ID(),
		"msg_type", msg.Type(),
		"originator", msg.Originator().String(),
		"metadata", msg.Metadata().Values(),
		"data", msg.Data())
	ctx.TellSuccess(msg)
	return nil
}

func (logNode) Destroy() {}

// checkpointNode moves processing onto another queue
type checkpointNode struct {
	QueueName string `json:"queueName"`
}

func (n *checkpointNode) Init(_ Context, cfg NodeConfig) error {
	return cfg.Decode(n)
}

func (n *checkpointNode) OnMsg(ctx Context, msg *message.Msg) error {
	ctx.EnqueueForTellNext(msg, n.QueueName, message.RelationSuccess)
	return nil
}

func (n *checkpointNode) Destroy() {}

// msgTypeSwitchNode routes over a relation named after the message type
type msgTypeSwitchNode struct{}

var msgTypeRelations = map[message.InternalType]string{
	message.PostTelemetryRequest:  "Post telemetry",
	message.PostAttributesRequest: "Post attributes",
	message.ToServerRPCRequest:    "RPC Request from Device",
	message.ActivityEvent:         "Activity Event",
	message.InactivityEvent:       "Inactivity Event",
	message.ConnectEvent:          "Connect Event",
	message.DisconnectEvent:       "Disconnect Event",
	message.EntityCreated:         "Entity Created",
	message.EntityUpdated:         "Entity Updated",
	message.EntityDeleted:         "Entity Deleted",
	message.AttributesUpdated:     "Attributes Updated",
	message.AttributesDeleted:     "Attributes Deleted",
	message.Alarm:                 "Alarm",
}

func (msgTypeSwitchNode) Init(Context, NodeConfig) error { return nil }

func (msgTypeSwitchNode) OnMsg(ctx Context, msg *message.Msg) error {
	relation, ok := msgTypeRelations[msg.InternalType()]
	if !ok {
		relation = message.RelationOther
	}
	ctx.TellNext(msg, relation)
	return nil
}

func (msgTypeSwitchNode) Destroy() {}

// generatorNode periodically creates messages and routes them over Success
// through the node's queue
type generatorNode struct {
	PeriodMs   int64             `json:"periodMs"`
	MsgCount   int               `json:"msgCount"`
	Data       string            `json:"data"`
	Metadata   map[string]string `json:"metadata"`
	Originator *uuid.UUID        `json:"originatorId"`

	sent   int
	handle *scheduler.Handle
}

func (n *generatorNode) Init(ctx Context, cfg NodeConfig) error {
	n.PeriodMs = 1000
	n.Data = "{}"
	if err := cfg.Decode(n); err != nil {
		return err
	}
	if n.PeriodMs <= 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: generator node %s: period must be positive",
			errors.ErrInvalidConfig, cfg.Node.ID), "generatorNode", "Init", "validate configuration")
	}
	tick, err := ctx.NewMsg("", message.GeneratorNodeSelfMsg, ctx.SelfID(), message.NewMetadata(nil), "")
	if err != nil {
		return err
	}
	period := time.Duration(n.PeriodMs) * time.Millisecond
	n.handle = ctx.SchedulePeriodic(tick, period, period)
	return nil
}

func (n *generatorNode) OnMsg(ctx Context, msg *message.Msg) error {
	if !msg.IsTypeOf(message.GeneratorNodeSelfMsg) {
		ctx.Ack(msg)
		return nil
	}
	if n.MsgCount > 0 && n.sent >= n.MsgCount {
		n.handle.Cancel()
		return nil
	}

	originator := ctx.SelfID()
	if n.Originator != nil {
		originator = message.NewEntityID(message.EntityDevice, *n.Originator)
	}
	out, err := ctx.NewMsg("", message.PostTelemetryRequest, originator, message.NewMetadata(n.Metadata), n.Data)
	if err != nil {
		return err
	}
	n.sent++
	ctx.EnqueueForTellNext(out, "", message.RelationSuccess)
	return nil
}

func (n *generatorNode) Destroy() {
	if n.handle != nil {
		n.handle.Cancel()
	}
}
