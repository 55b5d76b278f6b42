package partition

import (
	"strconv"

	"github.com/google/uuid"
)

// ServiceType identifies the kind of service a queue feeds
type ServiceType string

const (
	ServiceCore       ServiceType = "TB_CORE"
	ServiceRuleEngine ServiceType = "TB_RULE_ENGINE"
	ServiceTransport  ServiceType = "TB_TRANSPORT"
	ServiceVCExecutor ServiceType = "TB_VC_EXECUTOR"
)

// MainQueueName is the fallback queue of every service type
const MainQueueName = "Main"

// QueueKey identifies a queue. TenantID is uuid.Nil for system queues shared
// by all non-isolated tenants.
type QueueKey struct {
	Type     ServiceType
	Queue    string
	TenantID uuid.UUID
}

func (k QueueKey) String() string {
	if k.TenantID == uuid.Nil {
		return string(k.Type) + "/" + k.Queue
	}
	return string(k.Type) + "/" + k.Queue + "/" + k.TenantID.String()
}

// TopicPartitionInfo is the resolved destination of a message
type TopicPartitionInfo struct {
	Topic string
	// TenantID is set only for isolated tenants
	TenantID uuid.UUID
	// Partition is -1 when the topic is not partitioned
	Partition   int
	MyPartition bool
}

// FullTopicName returns the topic suffixed with ".<partition>" when a
// partition is set
func (t TopicPartitionInfo) FullTopicName() string {
	if t.Partition < 0 {
		return t.Topic
	}
	return t.Topic + "." + strconv.Itoa(t.Partition)
}

// QueueConfig describes one partitioned queue
type QueueConfig struct {
	ServiceType ServiceType `json:"service_type" yaml:"service_type"`
	Name        string      `json:"name"         yaml:"name"`
	Topic       string      `json:"topic"        yaml:"topic"`
	Partitions  int         `json:"partitions"   yaml:"partitions"`
}

// Config configures a HashPartitionService
type Config struct {
	// HashFunction is one of "murmur3_128" (default), "murmur3_32" or "sha256"
	HashFunction string        `json:"hash_function" yaml:"hash_function"`
	Queues       []QueueConfig `json:"queues"        yaml:"queues"`
}

// DefaultConfig returns a single rule engine Main queue with ten partitions
func DefaultConfig() Config {
	return Config{
		HashFunction: HashMurmur3128,
		Queues: []QueueConfig{
			{ServiceType: ServiceRuleEngine, Name: MainQueueName, Topic: "tb_rule_engine.main", Partitions: 10},
			{ServiceType: ServiceCore, Name: MainQueueName, Topic: "tb_core", Partitions: 10},
		},
	}
}

// ChangeEvent reports the new set of partitions owned by this node for a queue
type ChangeEvent struct {
	Key        QueueKey
	Partitions []TopicPartitionInfo
}

// ChangeListener is notified when partition ownership changes
type ChangeListener func(ChangeEvent)
