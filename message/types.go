package message

import "fmt"

// InternalType is the enumerated message type understood by the rule engine
type InternalType int

// Known message types. NA marks a type string that matches none of them.
const (
	NA InternalType = iota
	PostTelemetryRequest
	PostAttributesRequest
	ConnectEvent
	DisconnectEvent
	ActivityEvent
	InactivityEvent
	EntityCreated
	EntityUpdated
	EntityDeleted
	AttributesUpdated
	AttributesDeleted
	Alarm
	ToServerRPCRequest
	RPCCallFromServerToDevice
	DelayTimeoutSelfMsg
	GeneratorNodeSelfMsg
	DeviceProfilePeriodicSelfMsg
)

var internalTypeNames = [...]string{
	NA:                           "NA",
	PostTelemetryRequest:         "POST_TELEMETRY_REQUEST",
	PostAttributesRequest:        "POST_ATTRIBUTES_REQUEST",
	ConnectEvent:                 "CONNECT_EVENT",
	DisconnectEvent:              "DISCONNECT_EVENT",
	ActivityEvent:                "ACTIVITY_EVENT",
	InactivityEvent:              "INACTIVITY_EVENT",
	EntityCreated:                "ENTITY_CREATED",
	EntityUpdated:                "ENTITY_UPDATED",
	EntityDeleted:                "ENTITY_DELETED",
	AttributesUpdated:            "ATTRIBUTES_UPDATED",
	AttributesDeleted:            "ATTRIBUTES_DELETED",
	Alarm:                        "ALARM",
	ToServerRPCRequest:           "TO_SERVER_RPC_REQUEST",
	RPCCallFromServerToDevice:    "RPC_CALL_FROM_SERVER_TO_DEVICE",
	DelayTimeoutSelfMsg:          "DELAY_TIMEOUT_SELF_MSG",
	GeneratorNodeSelfMsg:         "GENERATOR_NODE_SELF_MSG",
	DeviceProfilePeriodicSelfMsg: "DEVICE_PROFILE_PERIODIC_SELF_MSG",
}

var internalTypesByName = func() map[string]InternalType {
	m := make(map[string]InternalType, len(internalTypeNames))
	for i, name := range internalTypeNames {
		m[name] = InternalType(i)
	}
	return m
}()

// String returns the wire name of the type
func (t InternalType) String() string {
	if t < 0 || int(t) >= len(internalTypeNames) {
		return fmt.Sprintf("InternalType(%d)", int(t))
	}
	return internalTypeNames[t]
}

// Valid reports whether t is one of the enumerated types
func (t InternalType) Valid() bool {
	return t >= 0 && int(t) < len(internalTypeNames)
}

// ParseInternalType maps a type name to its InternalType, NA when unknown
func ParseInternalType(name string) InternalType {
	if t, ok := internalTypesByName[name]; ok {
		return t
	}
	return NA
}

// DataType describes how the payload string is encoded
type DataType int

// Payload encodings. The numeric value is the wire ordinal.
const (
	DataTypeJSON DataType = iota
	DataTypeText
	DataTypeBinary
)

// String returns the name of the data type
func (d DataType) String() string {
	switch d {
	case DataTypeJSON:
		return "JSON"
	case DataTypeText:
		return "TEXT"
	case DataTypeBinary:
		return "BINARY"
	default:
		return fmt.Sprintf("DataType(%d)", int(d))
	}
}

// Valid reports whether d is a known data type
func (d DataType) Valid() bool {
	return d >= DataTypeJSON && d <= DataTypeBinary
}

// Relation types used between rule nodes
const (
	RelationSuccess = "Success"
	RelationFailure = "Failure"
	RelationTrue    = "True"
	RelationFalse   = "False"
	RelationOther   = "Other"

	// debug-only relations for acknowledged and re-enqueued messages
	RelationACK             = "ACK"
	RelationToRootRuleChain = "TO_ROOT_RULE_CHAIN"
)
