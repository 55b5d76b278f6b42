package debug

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/c360/rulecore/errors"
	"github.com/c360/rulecore/message"
)

// EventType names a persisted event kind
type EventType string

const (
	TypeDebugRuleNode        EventType = "DEBUG_RULE_NODE"
	TypeDebugRuleChain       EventType = "DEBUG_RULE_CHAIN"
	TypeDebugCalculatedField EventType = "DEBUG_CALCULATED_FIELD"
	TypeLifecycle            EventType = "LC_EVENT"
	TypeError                EventType = "ERROR"
)

// Rule node debug directions
const (
	DirectionIn  = "IN"
	DirectionOut = "OUT"
)

// MaxDataSize bounds payload fields of debug events
const MaxDataSize = 256 * 1024

// Event is a debug or lifecycle record persisted by an EventService
type Event interface {
	Type() EventType
	Header() *EventBase
	Validate() error
}

// EventBase holds the fields common to every event
type EventBase struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	EntityID  uuid.UUID `json:"entity_id"`
	ServiceID string    `json:"service_id"`
	TS        int64     `json:"ts"`
}

func newBase(tenantID, entityID uuid.UUID, serviceID string, now time.Time) EventBase {
	return EventBase{
		ID:        uuid.New(),
		TenantID:  tenantID,
		EntityID:  entityID,
		ServiceID: serviceID,
		TS:        now.UnixMilli(),
	}
}

// Header returns the common fields
func (b *EventBase) Header() *EventBase { return b }

func (b *EventBase) validate(t EventType) error {
	switch {
	case b.ID == uuid.Nil:
		return invalidEvent(t, "event id is required")
	case b.TenantID == uuid.Nil:
		return invalidEvent(t, "tenant id is required")
	case b.EntityID == uuid.Nil:
		return invalidEvent(t, "entity id is required")
	case b.ServiceID == "":
		return invalidEvent(t, "service id is required")
	case b.TS <= 0:
		return invalidEvent(t, "timestamp must be positive")
	}
	return nil
}

func invalidEvent(t EventType, format string, args ...any) error {
	err := fmt.Errorf("%w: %s: %s", errors.ErrInvalidData, t, fmt.Sprintf(format, args...))
	return errors.WrapInvalid(err, "Event", "Validate", "validate event")
}

func checkSize(t EventType, field, value string) error {
	if len(value) > MaxDataSize {
		return invalidEvent(t, "%s exceeds %d bytes", field, MaxDataSize)
	}
	return nil
}

// RuleNodeDebugEvent records a message entering or leaving a rule node
type RuleNodeDebugEvent struct {
	EventBase
	Direction    string           `json:"e_type"`
	EventEntity  message.EntityID `json:"e_entity"`
	MsgID        uuid.UUID        `json:"e_msg_id"`
	MsgType      string           `json:"e_msg_type"`
	DataType     string           `json:"e_data_type"`
	RelationType string           `json:"e_relation_type,omitempty"`
	Data         string           `json:"e_data,omitempty"`
	Metadata     string           `json:"e_metadata,omitempty"`
	Error        string           `json:"e_error,omitempty"`
}

func (*RuleNodeDebugEvent) Type() EventType { return TypeDebugRuleNode }

// Validate checks required fields and that Metadata is a JSON object
func (e *RuleNodeDebugEvent) Validate() error {
	if err := e.EventBase.validate(TypeDebugRuleNode); err != nil {
		return err
	}
	if e.Direction != DirectionIn && e.Direction != DirectionOut {
		return invalidEvent(TypeDebugRuleNode, "direction %q is not IN or OUT", e.Direction)
	}
	if e.MsgID == uuid.Nil {
		return invalidEvent(TypeDebugRuleNode, "message id is required")
	}
	if e.Metadata != "" {
		var md map[string]string
		if err := json.Unmarshal([]byte(e.Metadata), &md); err != nil {
			return invalidEvent(TypeDebugRuleNode, "metadata is not a JSON object: %v", err)
		}
	}
	if err := checkSize(TypeDebugRuleNode, "data", e.Data); err != nil {
		return err
	}
	return checkSize(TypeDebugRuleNode, "metadata", e.Metadata)
}

// RuleChainDebugEvent is a chain level notice, such as reaching the debug
// rate limit
type RuleChainDebugEvent struct {
	EventBase
	Message string `json:"e_message"`
	Error   string `json:"e_error,omitempty"`
}

func (*RuleChainDebugEvent) Type() EventType { return TypeDebugRuleChain }

func (e *RuleChainDebugEvent) Validate() error {
	if err := e.EventBase.validate(TypeDebugRuleChain); err != nil {
		return err
	}
	if e.Message == "" {
		return invalidEvent(TypeDebugRuleChain, "message is required")
	}
	return nil
}

// CalculatedFieldDebugEvent records one evaluation of a calculated field
type CalculatedFieldDebugEvent struct {
	EventBase
	EventEntity message.EntityID `json:"e_entity"`
	MsgID       uuid.UUID        `json:"e_msg_id,omitempty"`
	MsgType     string           `json:"e_msg_type,omitempty"`
	Arguments   string           `json:"e_args,omitempty"`
	Result      string           `json:"e_result,omitempty"`
	Error       string           `json:"e_error,omitempty"`
}

func (*CalculatedFieldDebugEvent) Type() EventType { return TypeDebugCalculatedField }

func (e *CalculatedFieldDebugEvent) Validate() error {
	if err := e.EventBase.validate(TypeDebugCalculatedField); err != nil {
		return err
	}
	if e.EventEntity.IsZero() {
		return invalidEvent(TypeDebugCalculatedField, "target entity is required")
	}
	if e.Arguments != "" && !json.Valid([]byte(e.Arguments)) {
		return invalidEvent(TypeDebugCalculatedField, "arguments are not valid JSON")
	}
	if err := checkSize(TypeDebugCalculatedField, "arguments", e.Arguments); err != nil {
		return err
	}
	return checkSize(TypeDebugCalculatedField, "result", e.Result)
}

// LifecycleEvent records a component start, update or stop
type LifecycleEvent struct {
	EventBase
	LifecycleType string `json:"e_type"`
	Success       bool   `json:"e_success"`
	Error         string `json:"e_error,omitempty"`
}

func (*LifecycleEvent) Type() EventType { return TypeLifecycle }

func (e *LifecycleEvent) Validate() error {
	if err := e.EventBase.validate(TypeLifecycle); err != nil {
		return err
	}
	if e.LifecycleType == "" {
		return invalidEvent(TypeLifecycle, "lifecycle type is required")
	}
	return nil
}

// ErrorEvent records a failure of a component method
type ErrorEvent struct {
	EventBase
	Method string `json:"e_method"`
	Error  string `json:"e_error"`
}

func (*ErrorEvent) Type() EventType { return TypeError }

func (e *ErrorEvent) Validate() error {
	if err := e.EventBase.validate(TypeError); err != nil {
		return err
	}
	if e.Method == "" {
		return invalidEvent(TypeError, "method is required")
	}
	return nil
}

// DecodeEvent restores an event from its JSON form
func DecodeEvent(t EventType, data []byte) (Event, error) {
	var ev Event
	switch t {
	case TypeDebugRuleNode:
		ev = &RuleNodeDebugEvent{}
	case TypeDebugRuleChain:
		ev = &RuleChainDebugEvent{}
	case TypeDebugCalculatedField:
		ev = &CalculatedFieldDebugEvent{}
	case TypeLifecycle:
		ev = &LifecycleEvent{}
	case TypeError:
		ev = &ErrorEvent{}
	default:
		return nil, errors.WrapInvalid(fmt.Errorf("%w: unknown event type %q", errors.ErrInvalidData, t),
			"Event", "Decode", "select event type")
	}
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"Event", "Decode", "unmarshal event")
	}
	return ev, nil
}
