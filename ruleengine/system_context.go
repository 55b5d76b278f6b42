package ruleengine

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c360/rulecore/actor"
	"github.com/c360/rulecore/cluster"
	"github.com/c360/rulecore/debug"
	"github.com/c360/rulecore/errors"
	"github.com/c360/rulecore/message"
	"github.com/c360/rulecore/metric"
	"github.com/c360/rulecore/partition"
	"github.com/c360/rulecore/scheduler"
)

// Dispatcher names
const (
	DispatcherApp       = "app-dispatcher"
	DispatcherTenant    = "tenant-dispatcher"
	DispatcherRuleChain = "rule-chain-dispatcher"
	DispatcherRuleNode  = "rule-node-dispatcher"
	DispatcherDevice    = "device-dispatcher"
)

// Settings configures rule engine actors
type Settings struct {
	// MaxRuleNodeExecutionsPerMessage bounds how many nodes one message may
	// visit. Zero disables the check.
	MaxRuleNodeExecutionsPerMessage int32 `json:"max_rule_node_executions_per_message" yaml:"max_rule_node_executions_per_message"`

	TenantDispatcherSize    int `json:"tenant_dispatcher_size"     yaml:"tenant_dispatcher_size"`
	RuleChainDispatcherSize int `json:"rule_chain_dispatcher_size" yaml:"rule_chain_dispatcher_size"`
	RuleNodeDispatcherSize  int `json:"rule_node_dispatcher_size"  yaml:"rule_node_dispatcher_size"`
	DeviceDispatcherSize    int `json:"device_dispatcher_size"     yaml:"device_dispatcher_size"`

	// PushWorkers publish messages to partitions owned by other nodes
	PushWorkers   int `json:"push_workers"    yaml:"push_workers"`
	PushQueueSize int `json:"push_queue_size" yaml:"push_queue_size"`

	// InitRetryDelay is the base delay between rule node init attempts
	InitRetryDelay time.Duration `json:"init_retry_delay" yaml:"init_retry_delay"`

	// SessionInactivityTimeout closes device sessions without activity
	SessionInactivityTimeout time.Duration `json:"session_inactivity_timeout" yaml:"session_inactivity_timeout"`
	// SessionCheckInterval is how often device actors look for idle sessions
	SessionCheckInterval time.Duration `json:"session_check_interval" yaml:"session_check_interval"`
}

// DefaultSettings returns the settings used for zero fields
func DefaultSettings() Settings {
	return Settings{
		MaxRuleNodeExecutionsPerMessage: 1000,
		TenantDispatcherSize:            2,
		RuleChainDispatcherSize:         4,
		RuleNodeDispatcherSize:          8,
		DeviceDispatcherSize:            4,
		PushWorkers:                     4,
		PushQueueSize:                   1000,
		InitRetryDelay:                  5 * time.Second,
		SessionInactivityTimeout:        10 * time.Minute,
		SessionCheckInterval:            time.Minute,
	}
}

func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if s.MaxRuleNodeExecutionsPerMessage < 0 {
		s.MaxRuleNodeExecutionsPerMessage = 0
	}
	if s.TenantDispatcherSize <= 0 {
		s.TenantDispatcherSize = def.TenantDispatcherSize
	}
	if s.RuleChainDispatcherSize <= 0 {
		s.RuleChainDispatcherSize = def.RuleChainDispatcherSize
	}
	if s.RuleNodeDispatcherSize <= 0 {
		s.RuleNodeDispatcherSize = def.RuleNodeDispatcherSize
	}
	if s.DeviceDispatcherSize <= 0 {
		s.DeviceDispatcherSize = def.DeviceDispatcherSize
	}
	if s.PushWorkers <= 0 {
		s.PushWorkers = def.PushWorkers
	}
	if s.PushQueueSize <= 0 {
		s.PushQueueSize = def.PushQueueSize
	}
	if s.InitRetryDelay <= 0 {
		s.InitRetryDelay = def.InitRetryDelay
	}
	if s.SessionInactivityTimeout <= 0 {
		s.SessionInactivityTimeout = def.SessionInactivityTimeout
	}
	if s.SessionCheckInterval <= 0 {
		s.SessionCheckInterval = def.SessionCheckInterval
	}
	return s
}

// SystemContext is shared by every rule engine actor
type SystemContext struct {
	Settings   Settings
	ServiceID  string
	Partitions *partition.HashPartitionService
	Cluster    *cluster.Service
	Scheduler  *scheduler.Scheduler
	// Emitter may be nil, which disables debug events
	Emitter *debug.Emitter
	Chains  *ChainRegistry
	Nodes   *NodeRegistry
	Logger  *slog.Logger
	Metrics *metric.Metrics

	// now is replaced in tests
	now func() time.Time
	// set by New
	publisher *publisher
}

func (s *SystemContext) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// Resolve returns the partition of an entity on a queue
func (s *SystemContext) Resolve(serviceType partition.ServiceType, queueName string, tenantID, entityID uuid.UUID) (partition.TopicPartitionInfo, error) {
	return s.Partitions.Resolve(serviceType, queueName, tenantID, entityID)
}

// ScheduleMsgWithDelay delivers msg to ref after delay
func (s *SystemContext) ScheduleMsgWithDelay(ref actor.Ref, msg actor.Msg, delay time.Duration) *scheduler.Handle {
	return s.Scheduler.ScheduleMsgWithDelay(ref, msg, delay)
}

// SchedulePeriodicMsgWithDelay delivers msg to ref every period
func (s *SystemContext) SchedulePeriodicMsgWithDelay(ref actor.Ref, msg actor.Msg, initialDelay, period time.Duration) *scheduler.Handle {
	return s.Scheduler.SchedulePeriodicMsgWithDelay(ref, msg, initialDelay, period)
}

// EnqueueToRuleEngine routes msg to the partition owning its originator
// without blocking. done may be nil; it runs once the partition accepted or
// refused msg, possibly on another goroutine.
func (s *SystemContext) EnqueueToRuleEngine(tenantID uuid.UUID, msg *message.Msg, done func(error)) {
	tpi, err := s.Partitions.ResolveForMsg(partition.ServiceRuleEngine, tenantID, msg)
	if err != nil {
		msg.Callback().OnFailure(err)
		finish(done, err)
		return
	}
	s.pushToPartition(tpi, tenantID, msg, nil, done)
}

func (s *SystemContext) pushToPartition(tpi partition.TopicPartitionInfo, tenantID uuid.UUID, msg *message.Msg,
	relationTypes []string, done func(error),
) {
	if s.publisher == nil {
		err := errors.WrapTransient(errors.ErrNotStarted, "SystemContext", "pushToPartition", "find publisher")
		msg.Callback().OnFailure(err)
		finish(done, err)
		return
	}
	s.publisher.push(tpi, tenantID, msg, relationTypes, done)
}

// shouldPersist applies the node debug settings
func (s *SystemContext) shouldPersist(node RuleNode, relationTypes ...string) bool {
	if s.Emitter == nil {
		return false
	}
	return s.Emitter.ShouldPersist(node.Debug, relationTypes)
}

// PersistDebugInput records msg arriving at node over relationType
func (s *SystemContext) PersistDebugInput(tenantID uuid.UUID, node RuleNode, msg *message.Msg, relationType string) {
	if s.shouldPersist(node, relationType) {
		s.Emitter.PersistDebugInput(tenantID, node.EntityID(), msg, relationType, nil, "")
	}
}

// PersistDebugOutput records msg leaving node over relationType
func (s *SystemContext) PersistDebugOutput(tenantID uuid.UUID, node RuleNode, msg *message.Msg, relationType string, err error, failureMessage string) {
	if s.shouldPersist(node, relationType) {
		s.Emitter.PersistDebugOutput(tenantID, node.EntityID(), msg, relationType, err, failureMessage)
	}
}

// PersistLifecycleEvent records a component lifecycle transition
func (s *SystemContext) PersistLifecycleEvent(tenantID uuid.UUID, entity message.EntityID, event string, err error) {
	if s.Emitter != nil {
		s.Emitter.PersistLifecycleEvent(tenantID, entity, event, err)
	}
}

// PersistError records a failed component method
func (s *SystemContext) PersistError(tenantID uuid.UUID, entity message.EntityID, method string, err error) {
	if s.Emitter != nil {
		s.Emitter.PersistError(tenantID, entity, method, err)
	}
}
