package message

import (
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/c360/rulecore/errors"
)

// Field numbers of the Msg protobuf mapping. Optional references are pairs
// of int64 fields; an all-zero pair means the reference is absent.
const (
	fieldID                = 1
	fieldType              = 2
	fieldEntityType        = 3
	fieldEntityIDMSB       = 4
	fieldEntityIDLSB       = 5
	fieldRuleChainIDMSB    = 6
	fieldRuleChainIDLSB    = 7
	fieldRuleNodeIDMSB     = 8
	fieldRuleNodeIDLSB     = 9
	fieldMetadata          = 11
	fieldDataType          = 12
	fieldData              = 13
	fieldTS                = 14
	fieldCustomerIDMSB     = 16
	fieldCustomerIDLSB     = 17
	fieldCtx               = 18
	fieldCorrelationIDMSB  = 19
	fieldCorrelationIDLSB  = 20
	fieldPartition         = 21
	fieldCalculatedFieldID = 22
	fieldQueueName         = 23

	// metadata entries
	fieldMetadataEntry = 1
	fieldEntryKey      = 1
	fieldEntryValue    = 2

	// processing context
	fieldCtxCounter = 1
	fieldCtxStack   = 2

	// stack item
	fieldItemChainMSB = 1
	fieldItemChainLSB = 2
	fieldItemNodeMSB  = 3
	fieldItemNodeLSB  = 4

	// calculated field id
	fieldCFMSB = 1
	fieldCFLSB = 2
)

// ToWire encodes m in its protobuf form
func ToWire(m *Msg) []byte {
	var b []byte
	b = appendString(b, fieldID, m.id.String())
	b = appendString(b, fieldType, m.msgType)
	b = appendString(b, fieldEntityType, string(m.originator.Type))
	b = appendUUID(b, fieldEntityIDMSB, fieldEntityIDLSB, m.originator.ID)
	b = appendUUID(b, fieldRuleChainIDMSB, fieldRuleChainIDLSB, m.ruleChainID)
	b = appendUUID(b, fieldRuleNodeIDMSB, fieldRuleNodeIDLSB, m.ruleNodeID)

	if m.metadata.Len() > 0 {
		var md []byte
		for _, k := range m.metadata.Keys() {
			var entry []byte
			entry = appendString(entry, fieldEntryKey, k)
			entry = appendString(entry, fieldEntryValue, m.metadata.Value(k))
			md = protowire.AppendTag(md, fieldMetadataEntry, protowire.BytesType)
			md = protowire.AppendBytes(md, entry)
		}
		b = protowire.AppendTag(b, fieldMetadata, protowire.BytesType)
		b = protowire.AppendBytes(b, md)
	}

	b = appendVarint(b, fieldDataType, int64(m.dataType))
	b = appendString(b, fieldData, m.data)
	b = appendVarint(b, fieldTS, m.ts)
	b = appendUUID(b, fieldCustomerIDMSB, fieldCustomerIDLSB, m.customerID)

	var ctx []byte
	ctx = appendVarint(ctx, fieldCtxCounter, int64(m.ctx.Counter()))
	for _, item := range m.ctx.Frames() {
		var frame []byte
		frame = appendUUID(frame, fieldItemChainMSB, fieldItemChainLSB, item.ChainID)
		frame = appendUUID(frame, fieldItemNodeMSB, fieldItemNodeLSB, item.NodeID)
		ctx = protowire.AppendTag(ctx, fieldCtxStack, protowire.BytesType)
		ctx = protowire.AppendBytes(ctx, frame)
	}
	b = protowire.AppendTag(b, fieldCtx, protowire.BytesType)
	b = protowire.AppendBytes(b, ctx)

	if m.correlationID != uuid.Nil {
		b = appendUUID(b, fieldCorrelationIDMSB, fieldCorrelationIDLSB, m.correlationID)
		b = protowire.AppendTag(b, fieldPartition, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(m.partition)))
	}

	for _, id := range m.cfIDs {
		var cf []byte
		cf = appendUUID(cf, fieldCFMSB, fieldCFLSB, id)
		b = protowire.AppendTag(b, fieldCalculatedFieldID, protowire.BytesType)
		b = protowire.AppendBytes(b, cf)
	}

	b = appendString(b, fieldQueueName, m.queueName)
	return b
}

// FromWire decodes a message produced by ToWire. The decoded message gets
// EmptyCallback.
func FromWire(data []byte) (*Msg, error) {
	var (
		b                        = NewBuilder()
		idStr                    string
		entityMSB, entityLSB     int64
		chainMSB, chainLSB       int64
		nodeMSB, nodeLSB         int64
		customerMSB, customerLSB int64
		corrMSB, corrLSB         int64
		partition                int64
		entityType               string
		msgType                  string
		md                       = make(map[string]string)
		cfIDs                    []uuid.UUID
		ctx                      *ProcessingCtx
	)

	err := consumeFields(data, func(num protowire.Number, _ protowire.Type, v []byte, n uint64) error {
		switch num {
		case fieldID:
			idStr = string(v)
		case fieldType:
			msgType = string(v)
		case fieldEntityType:
			entityType = string(v)
		case fieldEntityIDMSB:
			entityMSB = int64(n)
		case fieldEntityIDLSB:
			entityLSB = int64(n)
		case fieldRuleChainIDMSB:
			chainMSB = int64(n)
		case fieldRuleChainIDLSB:
			chainLSB = int64(n)
		case fieldRuleNodeIDMSB:
			nodeMSB = int64(n)
		case fieldRuleNodeIDLSB:
			nodeLSB = int64(n)
		case fieldMetadata:
			return decodeMetadata(v, md)
		case fieldDataType:
			b.DataType(DataType(int64(n)))
		case fieldData:
			b.Data(string(v))
		case fieldTS:
			b.TS(int64(n))
		case fieldCustomerIDMSB:
			customerMSB = int64(n)
		case fieldCustomerIDLSB:
			customerLSB = int64(n)
		case fieldCtx:
			c, err := decodeCtx(v)
			if err != nil {
				return err
			}
			ctx = c
		case fieldCorrelationIDMSB:
			corrMSB = int64(n)
		case fieldCorrelationIDLSB:
			corrLSB = int64(n)
		case fieldPartition:
			partition = int64(n)
		case fieldCalculatedFieldID:
			var msb, lsb int64
			err := consumeFields(v, func(num protowire.Number, _ protowire.Type, _ []byte, n uint64) error {
				switch num {
				case fieldCFMSB:
					msb = int64(n)
				case fieldCFLSB:
					lsb = int64(n)
				}
				return nil
			})
			if err != nil {
				return err
			}
			cfIDs = append(cfIDs, UUIDFromBits(msb, lsb))
		case fieldQueueName:
			b.QueueName(string(v))
		}
		return nil
	})
	if err != nil {
		return nil, errors.WrapInvalid(err, "Msg", "FromWire", "decode message")
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: message id %q", errors.ErrParsingFailed, idStr),
			"Msg", "FromWire", "decode message")
	}

	b.ID(id).
		TypeString(msgType).
		Originator(NewEntityID(EntityType(entityType), UUIDFromBits(entityMSB, entityLSB))).
		CustomerID(UUIDFromBits(customerMSB, customerLSB)).
		RuleChainID(UUIDFromBits(chainMSB, chainLSB)).
		RuleNodeID(UUIDFromBits(nodeMSB, nodeLSB)).
		Metadata(Metadata{values: md}).
		Ctx(ctx)

	if corr := UUIDFromBits(corrMSB, corrLSB); corr != uuid.Nil {
		b.CorrelationID(corr).Partition(int32(partition))
	}
	if len(cfIDs) > 0 {
		b.cfIDs = cfIDs
	}

	m, err := b.Build()
	if err != nil {
		return nil, errors.Wrap(err, "Msg", "FromWire", "build decoded message")
	}
	return m, nil
}

func decodeMetadata(data []byte, md map[string]string) error {
	return consumeFields(data, func(num protowire.Number, _ protowire.Type, v []byte, _ uint64) error {
		if num != fieldMetadataEntry {
			return nil
		}
		var key, value string
		err := consumeFields(v, func(num protowire.Number, _ protowire.Type, v []byte, _ uint64) error {
			switch num {
			case fieldEntryKey:
				key = string(v)
			case fieldEntryValue:
				value = string(v)
			}
			return nil
		})
		if err != nil {
			return err
		}
		md[key] = value
		return nil
	})
}

func decodeCtx(data []byte) (*ProcessingCtx, error) {
	var counter int64
	var frames []StackItem
	err := consumeFields(data, func(num protowire.Number, _ protowire.Type, v []byte, n uint64) error {
		switch num {
		case fieldCtxCounter:
			counter = int64(n)
		case fieldCtxStack:
			var cm, cl, nm, nl int64
			err := consumeFields(v, func(num protowire.Number, _ protowire.Type, _ []byte, n uint64) error {
				switch num {
				case fieldItemChainMSB:
					cm = int64(n)
				case fieldItemChainLSB:
					cl = int64(n)
				case fieldItemNodeMSB:
					nm = int64(n)
				case fieldItemNodeLSB:
					nl = int64(n)
				}
				return nil
			})
			if err != nil {
				return err
			}
			frames = append(frames, StackItem{ChainID: UUIDFromBits(cm, cl), NodeID: UUIDFromBits(nm, nl)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return newProcessingCtxWithStack(int32(counter), frames), nil
}

// consumeFields walks the top-level fields of data. Bytes fields are passed
// as v, varint and fixed fields as n. Other wire types are skipped.
func consumeFields(data []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error) error {
	for len(data) > 0 {
		num, typ, tagLen := protowire.ConsumeTag(data)
		if tagLen < 0 {
			return protowire.ParseError(tagLen)
		}
		data = data[tagLen:]

		var (
			v   []byte
			n   uint64
			adv int
		)
		switch typ {
		case protowire.VarintType:
			n, adv = protowire.ConsumeVarint(data)
		case protowire.Fixed64Type:
			n, adv = protowire.ConsumeFixed64(data)
		case protowire.Fixed32Type:
			var n32 uint32
			n32, adv = protowire.ConsumeFixed32(data)
			n = uint64(n32)
		case protowire.BytesType:
			v, adv = protowire.ConsumeBytes(data)
		default:
			adv = protowire.ConsumeFieldValue(num, typ, data)
			if adv < 0 {
				return protowire.ParseError(adv)
			}
			data = data[adv:]
			continue
		}
		if adv < 0 {
			return protowire.ParseError(adv)
		}
		data = data[adv:]

		if err := fn(num, typ, v, n); err != nil {
			return err
		}
	}
	return nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

// appendUUID writes id as an MSB/LSB pair; uuid.Nil writes nothing, which
// decodes back to the all-zero pair.
func appendUUID(b []byte, msbNum, lsbNum protowire.Number, id uuid.UUID) []byte {
	if id == uuid.Nil {
		return b
	}
	msb, lsb := UUIDBits(id)
	b = protowire.AppendTag(b, msbNum, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(msb))
	b = protowire.AppendTag(b, lsbNum, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(lsb))
}
