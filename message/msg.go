package message

import (
	"time"

	"github.com/google/uuid"
)

// Msg is the envelope routed through rule chains. It is immutable from the
// outside: every change goes through Copy or Transform and yields a new Msg.
// uuid.Nil marks an absent optional reference.
type Msg struct {
	queueName     string
	id            uuid.UUID
	ts            int64
	msgType       string
	internalType  InternalType
	originator    EntityID
	customerID    uuid.UUID
	metadata      Metadata
	dataType      DataType
	data          string
	ruleChainID   uuid.UUID
	ruleNodeID    uuid.UUID
	correlationID uuid.UUID
	partition     int32
	cfIDs         []uuid.UUID
	ctx           *ProcessingCtx
	callback      Callback
}

// ID returns the message id
func (m *Msg) ID() uuid.UUID { return m.id }

// TS returns the creation time in Unix milliseconds
func (m *Msg) TS() int64 { return m.ts }

// Time returns the creation time
func (m *Msg) Time() time.Time { return time.UnixMilli(m.ts) }

// Type returns the message type name
func (m *Msg) Type() string { return m.msgType }

// InternalType returns the enumerated type, NA for custom type names
func (m *Msg) InternalType() InternalType { return m.internalType }

// IsTypeOf reports whether the message has the given enumerated type
func (m *Msg) IsTypeOf(t InternalType) bool { return m.internalType == t }

// IsTypeOneOf reports whether the message has any of the given types
func (m *Msg) IsTypeOneOf(types ...InternalType) bool {
	for _, t := range types {
		if m.internalType == t {
			return true
		}
	}
	return false
}

// Originator returns the entity the message is about
func (m *Msg) Originator() EntityID { return m.originator }

// CustomerID returns the owning customer or uuid.Nil
func (m *Msg) CustomerID() uuid.UUID { return m.customerID }

// Metadata returns the message metadata
func (m *Msg) Metadata() Metadata { return m.metadata }

// DataType returns the payload encoding
func (m *Msg) DataType() DataType { return m.dataType }

// Data returns the payload
func (m *Msg) Data() string { return m.data }

// RuleChainID returns the chain currently processing the message or uuid.Nil
func (m *Msg) RuleChainID() uuid.UUID { return m.ruleChainID }

// RuleNodeID returns the node currently processing the message or uuid.Nil
func (m *Msg) RuleNodeID() uuid.UUID { return m.ruleNodeID }

// CorrelationID returns the request correlation id or uuid.Nil
func (m *Msg) CorrelationID() uuid.UUID { return m.correlationID }

// Partition returns the partition of the correlated request. ok is false
// when the message carries no correlation id.
func (m *Msg) Partition() (partition int32, ok bool) {
	if m.correlationID == uuid.Nil {
		return 0, false
	}
	return m.partition, true
}

// PreviousCalculatedFieldIDs returns the calculated fields this message already passed through
func (m *Msg) PreviousCalculatedFieldIDs() []uuid.UUID {
	return append([]uuid.UUID(nil), m.cfIDs...)
}

// QueueName returns the rule engine queue the message belongs to
func (m *Msg) QueueName() string { return m.queueName }

// Ctx returns the processing context
func (m *Msg) Ctx() *ProcessingCtx { return m.ctx }

// Callback returns the completion callback
func (m *Msg) Callback() Callback { return m.callback }

// IsValid reports whether processing should continue
func (m *Msg) IsValid() bool { return m.callback.IsMsgValid() }

// GetAndIncrementRuleNodeCounter records one rule node visit and returns the
// count before it. Callers compare it against the execution limit.
func (m *Msg) GetAndIncrementRuleNodeCounter() int32 {
	return m.ctx.GetAndIncrementRuleNodeCounter()
}

// PushToStack records the caller frame before the message enters a nested chain
func (m *Msg) PushToStack(chainID, nodeID uuid.UUID) {
	m.ctx.Push(chainID, nodeID)
}

// PopFromStack returns the caller frame. ok is false for a top-level message.
func (m *Msg) PopFromStack() (StackItem, bool) {
	return m.ctx.Pop()
}

// Copy returns a builder holding every field of m, including the shared
// processing context, under a new id.
func (m *Msg) Copy() *Builder {
	b := m.toBuilder()
	b.id = uuid.New()
	return b
}

// Transform returns a builder for handing the message to another chain or
// node. See AsTransform for the rules it applies.
func (m *Msg) Transform() *Builder {
	return AsTransform(m.toBuilder())
}

// TransformToChain moves the message to the entry of another chain
func (m *Msg) TransformToChain(chainID uuid.UUID) *Msg {
	return m.Transform().RuleChainID(chainID).build()
}

// WithRuleNode points the message at a node of a chain
func (m *Msg) WithRuleNode(chainID, nodeID uuid.UUID) *Msg {
	return m.Transform().RuleChainID(chainID).RuleNodeID(nodeID).build()
}

// ForQueue creates a new message for another rule engine queue, starting at
// the given chain and node. The id is regenerated.
func (m *Msg) ForQueue(queueName string, chainID, nodeID uuid.UUID) *Msg {
	return m.Transform().
		ID(uuid.New()).
		QueueName(queueName).
		RuleChainID(chainID).
		RuleNodeID(nodeID).
		build()
}

// WithCallback returns a shallow copy with another callback. The id and
// processing context are kept.
func (m *Msg) WithCallback(cb Callback) *Msg {
	return m.toBuilder().Callback(cb).build()
}

// AppendCalculatedFieldID returns a copy that also records cfID
func (m *Msg) AppendCalculatedFieldID(cfID uuid.UUID) *Msg {
	b := m.toBuilder()
	b.cfIDs = append(append(make([]uuid.UUID, 0, len(m.cfIDs)+1), m.cfIDs...), cfID)
	return b.build()
}

func (m *Msg) toBuilder() *Builder {
	return &Builder{
		queueName:     m.queueName,
		id:            m.id,
		ts:            m.ts,
		msgType:       m.msgType,
		internalType:  m.internalType,
		originator:    m.originator,
		customerID:    m.customerID,
		metadata:      m.metadata,
		dataType:      m.dataType,
		data:          m.data,
		ruleChainID:   m.ruleChainID,
		ruleNodeID:    m.ruleNodeID,
		correlationID: m.correlationID,
		partition:     m.partition,
		cfIDs:         m.cfIDs,
		ctx:           m.ctx,
		callback:      m.callback,
	}
}
