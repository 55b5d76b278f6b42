package ruleengine

import (
	"github.com/google/uuid"

	"github.com/c360/rulecore/actor"
	"github.com/c360/rulecore/errors"
	"github.com/c360/rulecore/message"
)

// Actor message types
const (
	MsgTypeQueueToRuleEngine       actor.MsgType = "QUEUE_TO_RULE_ENGINE_MSG"
	MsgTypeRuleChainToRuleNode     actor.MsgType = "RULE_CHAIN_TO_RULE_NODE_MSG"
	MsgTypeRuleNodeToRuleChainNext actor.MsgType = "RULE_NODE_TO_RULE_CHAIN_TELL_NEXT_MSG"
	MsgTypeRuleChainInput          actor.MsgType = "RULE_CHAIN_INPUT_MSG"
	MsgTypeRuleChainOutput         actor.MsgType = "RULE_CHAIN_OUTPUT_MSG"
	MsgTypeRuleNodeToSelf          actor.MsgType = "RULE_NODE_TO_SELF_MSG"
	MsgTypeRuleNodeEnqueued        actor.MsgType = "RULE_NODE_ENQUEUED_MSG"
	MsgTypeDeviceSession           actor.MsgType = "DEVICE_SESSION_MSG"
	MsgTypeDeviceTelemetry         actor.MsgType = "DEVICE_TELEMETRY_MSG"
	MsgTypeSessionTimeoutCheck     actor.MsgType = "SESSION_TIMEOUT_CHECK_MSG"
	MsgTypeComponentLifecycle      actor.MsgType = "COMPONENT_LIFECYCLE_MSG"
)

// failStopped fails the message callback of a message whose actor stopped
// before handling it. The failure is transient so queued deliveries retry.
func failStopped(msg *message.Msg, reason actor.StopReason) {
	msg.Callback().OnFailure(errors.WrapTransient(errors.ErrActorStopped, "ruleengine", "deliver",
		"deliver to actor stopped with "+reason.String()))
}

// QueueToRuleEngineMsg carries a message taken from a rule engine queue.
// RelationTypes are set when the message continues after a node of the
// chain instead of entering it.
type QueueToRuleEngineMsg struct {
	TenantID       uuid.UUID
	Msg            *message.Msg
	RelationTypes  []string
	FailureMessage string
}

func (QueueToRuleEngineMsg) MsgType() actor.MsgType { return MsgTypeQueueToRuleEngine }

func (m QueueToRuleEngineMsg) OnActorStopped(reason actor.StopReason) { failStopped(m.Msg, reason) }

// RuleChainToRuleNodeMsg hands a message to a node of the chain
type RuleChainToRuleNodeMsg struct {
	Msg          *message.Msg
	FromRelation string
}

func (RuleChainToRuleNodeMsg) MsgType() actor.MsgType { return MsgTypeRuleChainToRuleNode }

func (m RuleChainToRuleNodeMsg) OnActorStopped(reason actor.StopReason) { failStopped(m.Msg, reason) }

// RuleNodeToRuleChainTellNextMsg reports that a node finished with the
// given relation types
type RuleNodeToRuleChainTellNextMsg struct {
	RuleChainID    uuid.UUID
	OriginatorID   uuid.UUID
	RelationTypes  []string
	Msg            *message.Msg
	FailureMessage string
}

func (RuleNodeToRuleChainTellNextMsg) MsgType() actor.MsgType { return MsgTypeRuleNodeToRuleChainNext }

func (m RuleNodeToRuleChainTellNextMsg) OnActorStopped(reason actor.StopReason) {
	failStopped(m.Msg, reason)
}

// RuleChainInputMsg enters a chain at its first node
type RuleChainInputMsg struct {
	TargetChainID uuid.UUID
	Msg           *message.Msg
}

func (RuleChainInputMsg) MsgType() actor.MsgType { return MsgTypeRuleChainInput }

func (m RuleChainInputMsg) OnActorStopped(reason actor.StopReason) { failStopped(m.Msg, reason) }

// RuleChainOutputMsg returns from a nested chain to the caller frame
type RuleChainOutputMsg struct {
	TargetChainID uuid.UUID
	TargetNodeID  uuid.UUID
	RelationType  string
	Msg           *message.Msg
}

func (RuleChainOutputMsg) MsgType() actor.MsgType { return MsgTypeRuleChainOutput }

func (m RuleChainOutputMsg) OnActorStopped(reason actor.StopReason) { failStopped(m.Msg, reason) }

// RuleNodeToSelfMsg is a delayed message a node sent to itself
type RuleNodeToSelfMsg struct {
	Msg *message.Msg
}

func (RuleNodeToSelfMsg) MsgType() actor.MsgType { return MsgTypeRuleNodeToSelf }

// RuleNodeEnqueuedMsg resumes a node once a message it enqueued was accepted
// or refused by the owning partition. TellNext is set for
// EnqueueForTellNext, which then completes Msg over RelationType. Otherwise
// OnSuccess or OnFailure of Enqueue runs.
type RuleNodeEnqueuedMsg struct {
	Msg          *message.Msg
	RelationType string
	TellNext     bool
	Err          error
	OnSuccess    func()
	OnFailure    func(error)
}

func (RuleNodeEnqueuedMsg) MsgType() actor.MsgType { return MsgTypeRuleNodeEnqueued }

func (m RuleNodeEnqueuedMsg) OnActorStopped(reason actor.StopReason) {
	if m.TellNext {
		failStopped(m.Msg, reason)
		return
	}
	if m.OnFailure != nil {
		m.OnFailure(errors.WrapTransient(errors.ErrActorStopped, "RuleNodeActor", "enqueue",
			"resume node stopped with "+reason.String()))
	}
}

// SessionEvent is the kind of DeviceSessionMsg
type SessionEvent string

const (
	SessionOpen     SessionEvent = "OPEN"
	SessionClose    SessionEvent = "CLOSE"
	SessionActivity SessionEvent = "ACTIVITY"
)

// DeviceSessionMsg reports a transport session change of a device
type DeviceSessionMsg struct {
	TenantID  uuid.UUID
	DeviceID  uuid.UUID
	SessionID uuid.UUID
	Event     SessionEvent
}

func (DeviceSessionMsg) MsgType() actor.MsgType { return MsgTypeDeviceSession }

// DeviceTelemetryMsg carries telemetry posted by a device session
type DeviceTelemetryMsg struct {
	TenantID  uuid.UUID
	DeviceID  uuid.UUID
	SessionID uuid.UUID
	Data      string
	Metadata  map[string]string
	// Callback completes once the telemetry message left the rule engine
	Callback message.Callback
}

func (DeviceTelemetryMsg) MsgType() actor.MsgType { return MsgTypeDeviceTelemetry }

func (m DeviceTelemetryMsg) OnActorStopped(actor.StopReason) {
	if m.Callback != nil {
		m.Callback.OnFailure(errors.WrapTransient(errors.ErrActorStopped, "DeviceActor", "telemetry", "deliver telemetry"))
	}
}

// SessionTimeoutCheckMsg is the periodic inactivity check of a device actor
type SessionTimeoutCheckMsg struct{}

func (SessionTimeoutCheckMsg) MsgType() actor.MsgType { return MsgTypeSessionTimeoutCheck }

// LifecycleEvent is a component state change
type LifecycleEvent string

const (
	LifecycleCreated LifecycleEvent = "CREATED"
	LifecycleUpdated LifecycleEvent = "UPDATED"
	LifecycleDeleted LifecycleEvent = "DELETED"
)

// ComponentLifecycleMsg tells actors that a tenant or rule chain changed
type ComponentLifecycleMsg struct {
	TenantID uuid.UUID
	Entity   message.EntityID
	Event    LifecycleEvent
}

func (ComponentLifecycleMsg) MsgType() actor.MsgType { return MsgTypeComponentLifecycle }
