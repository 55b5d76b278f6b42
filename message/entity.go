package message

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// EntityType names the kind of entity an EntityID refers to
type EntityType string

// Entity types referenced by the rule engine
const (
	EntityTenant          EntityType = "TENANT"
	EntityCustomer        EntityType = "CUSTOMER"
	EntityUser            EntityType = "USER"
	EntityDevice          EntityType = "DEVICE"
	EntityDeviceProfile   EntityType = "DEVICE_PROFILE"
	EntityAsset           EntityType = "ASSET"
	EntityEntityView      EntityType = "ENTITY_VIEW"
	EntityRuleChain       EntityType = "RULE_CHAIN"
	EntityRuleNode        EntityType = "RULE_NODE"
	EntityCalculatedField EntityType = "CALCULATED_FIELD"
	EntityAlarm           EntityType = "ALARM"
)

// EntityID is a typed entity reference
type EntityID struct {
	Type EntityType `json:"entity_type"`
	ID   uuid.UUID  `json:"id"`
}

// NewEntityID creates a typed entity reference
func NewEntityID(entityType EntityType, id uuid.UUID) EntityID {
	return EntityID{Type: entityType, ID: id}
}

// IsZero reports whether the reference is unset
func (e EntityID) IsZero() bool {
	return e.ID == uuid.Nil
}

// String renders the reference as TYPE:uuid
func (e EntityID) String() string {
	return fmt.Sprintf("%s:%s", e.Type, e.ID)
}

// ParseEntityID parses the TYPE:uuid form produced by String
func ParseEntityID(s string) (EntityID, error) {
	typ, id, ok := strings.Cut(s, ":")
	if !ok || typ == "" {
		return EntityID{}, fmt.Errorf("entity id %q: expected TYPE:uuid", s)
	}
	u, err := uuid.Parse(id)
	if err != nil {
		return EntityID{}, fmt.Errorf("entity id %q: %w", s, err)
	}
	return EntityID{Type: EntityType(typ), ID: u}, nil
}

// UUIDBits splits an id into its most and least significant 64 bits
func UUIDBits(id uuid.UUID) (msb, lsb int64) {
	return int64(binary.BigEndian.Uint64(id[:8])), int64(binary.BigEndian.Uint64(id[8:]))
}

// UUIDFromBits rebuilds an id from its most and least significant 64 bits
func UUIDFromBits(msb, lsb int64) uuid.UUID {
	var id uuid.UUID
	binary.BigEndian.PutUint64(id[:8], uint64(msb))
	binary.BigEndian.PutUint64(id[8:], uint64(lsb))
	return id
}
