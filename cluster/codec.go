package cluster

import (
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/c360/rulecore/errors"
	"github.com/c360/rulecore/message"
)

// ToRuleEngineMsg field numbers
const (
	fieldTenantMSB      = 1
	fieldTenantLSB      = 2
	fieldMsg            = 3
	fieldRelationTypes  = 4
	fieldFailureMessage = 5
)

// ToRuleEngineMsg is the envelope published to a rule engine partition
type ToRuleEngineMsg struct {
	TenantID       uuid.UUID
	Msg            *message.Msg
	RelationTypes  []string
	FailureMessage string
}

// Encode returns the protobuf form of the envelope
func (m ToRuleEngineMsg) Encode() []byte {
	msb, lsb := message.UUIDBits(m.TenantID)
	var b []byte
	b = protowire.AppendTag(b, fieldTenantMSB, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(msb))
	b = protowire.AppendTag(b, fieldTenantLSB, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(lsb))
	b = protowire.AppendTag(b, fieldMsg, protowire.BytesType)
	b = protowire.AppendBytes(b, message.ToWire(m.Msg))
	for _, rel := range m.RelationTypes {
		b = protowire.AppendTag(b, fieldRelationTypes, protowire.BytesType)
		b = protowire.AppendString(b, rel)
	}
	if m.FailureMessage != "" {
		b = protowire.AppendTag(b, fieldFailureMessage, protowire.BytesType)
		b = protowire.AppendString(b, m.FailureMessage)
	}
	return b
}

// DecodeToRuleEngineMsg parses an envelope. The decoded Msg carries an empty
// callback.
func DecodeToRuleEngineMsg(data []byte) (ToRuleEngineMsg, error) {
	var (
		out      ToRuleEngineMsg
		msb, lsb int64
		msgBytes []byte
	)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return out, decodeErr(protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case typ == protowire.VarintType && (num == fieldTenantMSB || num == fieldTenantLSB):
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return out, decodeErr(protowire.ParseError(n))
			}
			data = data[n:]
			if num == fieldTenantMSB {
				msb = int64(v)
			} else {
				lsb = int64(v)
			}
		case typ == protowire.BytesType && (num == fieldMsg || num == fieldRelationTypes || num == fieldFailureMessage):
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return out, decodeErr(protowire.ParseError(n))
			}
			data = data[n:]
			switch num {
			case fieldMsg:
				msgBytes = v
			case fieldRelationTypes:
				out.RelationTypes = append(out.RelationTypes, string(v))
			case fieldFailureMessage:
				out.FailureMessage = string(v)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return out, decodeErr(protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	if msgBytes == nil {
		return out, decodeErr(fmt.Errorf("%w: envelope has no message", errors.ErrInvalidData))
	}
	msg, err := message.FromWire(msgBytes)
	if err != nil {
		return out, err
	}
	out.TenantID = message.UUIDFromBits(msb, lsb)
	out.Msg = msg
	return out, nil
}

func decodeErr(err error) error {
	return errors.WrapInvalid(err, "ToRuleEngineMsg", "Decode", "decode envelope")
}
