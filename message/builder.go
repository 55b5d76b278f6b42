package message

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/c360/rulecore/errors"
)

// Builder assembles a Msg. The zero value is not usable; start from
// NewBuilder, Msg.Copy or Msg.Transform.
type Builder struct {
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

	transform bool
}

// NewBuilder starts a new message of JSON data type
func NewBuilder() *Builder {
	return &Builder{dataType: DataTypeJSON}
}

// AsTransform switches b to transform mode, used whenever a message crosses
// a rule chain boundary:
//   - metadata is deep-copied, both the current value and any later Metadata call
//   - RuleChainID clears the rule node id, a new chain starts at its entry
//   - Build deep-copies the processing context
func AsTransform(b *Builder) *Builder {
	b.transform = true
	b.metadata = b.metadata.Copy()
	return b
}

// ID sets the message id
func (b *Builder) ID(id uuid.UUID) *Builder {
	b.id = id
	return b
}

// TS sets the creation time in Unix milliseconds; values <= 0 mean now
func (b *Builder) TS(ts int64) *Builder {
	b.ts = ts
	return b
}

// Time sets the creation time
func (b *Builder) Time(t time.Time) *Builder {
	b.ts = t.UnixMilli()
	return b
}

// Type sets the enumerated type and its name
func (b *Builder) Type(t InternalType) *Builder {
	b.internalType = t
	b.msgType = t.String()
	return b
}

// TypeString sets a type name directly.
//
// Deprecated: use Type. The name is not validated; the enumerated type is NA
// unless the name matches a known type.
func (b *Builder) TypeString(name string) *Builder {
	b.msgType = name
	b.internalType = ParseInternalType(name)
	return b
}

// Originator sets the entity the message is about
func (b *Builder) Originator(id EntityID) *Builder {
	b.originator = id
	return b
}

// CustomerID sets the owning customer
func (b *Builder) CustomerID(id uuid.UUID) *Builder {
	b.customerID = id
	return b
}

// Metadata assigns md without copying. In transform mode it is deep-copied.
func (b *Builder) Metadata(md Metadata) *Builder {
	if b.transform {
		md = md.Copy()
	}
	b.metadata = md
	return b
}

// CopyMetadata assigns a deep copy of md
func (b *Builder) CopyMetadata(md Metadata) *Builder {
	b.metadata = md.Copy()
	return b
}

// DataType sets the payload encoding
func (b *Builder) DataType(d DataType) *Builder {
	b.dataType = d
	return b
}

// Data sets the payload
func (b *Builder) Data(data string) *Builder {
	b.data = data
	return b
}

// RuleChainID sets the current chain. In transform mode the rule node id is cleared.
func (b *Builder) RuleChainID(id uuid.UUID) *Builder {
	b.ruleChainID = id
	if b.transform {
		b.ruleNodeID = uuid.Nil
	}
	return b
}

// RuleNodeID sets the current node
func (b *Builder) RuleNodeID(id uuid.UUID) *Builder {
	b.ruleNodeID = id
	return b
}

// ResetRuleNodeID clears the current node
func (b *Builder) ResetRuleNodeID() *Builder {
	b.ruleNodeID = uuid.Nil
	return b
}

// CorrelationID sets the request correlation id
func (b *Builder) CorrelationID(id uuid.UUID) *Builder {
	b.correlationID = id
	return b
}

// Partition sets the partition of the correlated request
func (b *Builder) Partition(p int32) *Builder {
	b.partition = p
	return b
}

// PreviousCalculatedFieldIDs replaces the calculated field history with a copy of ids
func (b *Builder) PreviousCalculatedFieldIDs(ids []uuid.UUID) *Builder {
	b.cfIDs = append([]uuid.UUID(nil), ids...)
	return b
}

// Ctx sets the processing context
func (b *Builder) Ctx(ctx *ProcessingCtx) *Builder {
	b.ctx = ctx
	return b
}

// Callback sets the completion callback
func (b *Builder) Callback(cb Callback) *Builder {
	b.callback = cb
	return b
}

// QueueName sets the rule engine queue
func (b *Builder) QueueName(name string) *Builder {
	b.queueName = name
	return b
}

// Build validates the fields and creates the message
func (b *Builder) Build() (*Msg, error) {
	if b.originator.IsZero() {
		return nil, errors.WrapInvalid(fmt.Errorf("originator is required"), "Builder", "Build", "validate message")
	}
	if b.originator.Type == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("originator %s has no entity type", b.originator.ID),
			"Builder", "Build", "validate message")
	}
	if !b.dataType.Valid() {
		return nil, errors.WrapInvalid(fmt.Errorf("unknown data type %d", int(b.dataType)),
			"Builder", "Build", "validate message")
	}
	if b.msgType == "" && b.internalType == NA {
		return nil, errors.WrapInvalid(fmt.Errorf("message type is required"), "Builder", "Build", "validate message")
	}
	return b.build(), nil
}

func (b *Builder) build() *Msg {
	m := &Msg{
		queueName:     b.queueName,
		id:            b.id,
		ts:            b.ts,
		msgType:       b.msgType,
		internalType:  b.internalType,
		originator:    b.originator,
		customerID:    b.customerID,
		metadata:      b.metadata,
		dataType:      b.dataType,
		data:          b.data,
		ruleChainID:   b.ruleChainID,
		ruleNodeID:    b.ruleNodeID,
		correlationID: b.correlationID,
		partition:     b.partition,
		cfIDs:         b.cfIDs,
		ctx:           b.ctx,
		callback:      b.callback,
	}

	if m.id == uuid.Nil {
		m.id = uuid.New()
	}
	if m.ts <= 0 {
		m.ts = time.Now().UnixMilli()
	}
	if m.msgType == "" {
		m.msgType = m.internalType.String()
	}
	if m.metadata.values == nil {
		m.metadata = NewMetadata(nil)
	}
	if m.customerID == uuid.Nil && m.originator.Type == EntityCustomer {
		m.customerID = m.originator.ID
	}
	if m.ctx == nil {
		m.ctx = NewProcessingCtx(0)
	} else if b.transform {
		m.ctx = m.ctx.Copy()
	}
	if m.callback == nil {
		m.callback = EmptyCallback
	}
	return m
}
