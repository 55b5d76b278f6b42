package actor

import (
	"github.com/c360/rulecore/message"
)

// ID identifies an actor. It is either backed by an entity (tenant, device,
// rule chain, rule node) or by a fixed name such as "APP".
type ID struct {
	entity message.EntityID
	name   string
}

// EntityActorID returns the id of the actor that owns an entity
func EntityActorID(e message.EntityID) ID {
	return ID{entity: e}
}

// NamedActorID returns an id that is not tied to an entity
func NamedActorID(name string) ID {
	return ID{name: name}
}

// EntityID returns the backing entity. ok is false for named ids.
func (id ID) EntityID() (e message.EntityID, ok bool) {
	return id.entity, !id.entity.IsZero()
}

// EntityType returns the backing entity type, or "" for named ids
func (id ID) EntityType() message.EntityType {
	return id.entity.Type
}

func (id ID) String() string {
	if id.name != "" {
		return id.name
	}
	return id.entity.String()
}
