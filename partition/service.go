package partition

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/c360/rulecore/errors"
	"github.com/c360/rulecore/message"
	"github.com/c360/rulecore/metric"
)

// HashPartitionService resolves queue partitions by hashing the originator
// entity and tracks which partitions the local node owns.
type HashPartitionService struct {
	hash    hashFunc
	logger  *slog.Logger
	metrics *metric.Metrics

	mu       sync.RWMutex
	queues   map[QueueKey]QueueConfig
	isolated map[uuid.UUID]bool
	owned    map[QueueKey]map[int]bool
	self     string
	nodes    []string

	listenersMu sync.RWMutex
	listeners   []ChangeListener
}

// NewHashPartitionService creates a resolver for the configured queues
func NewHashPartitionService(cfg Config, logger *slog.Logger, registry *metric.MetricsRegistry) (*HashPartitionService, error) {
	hash, err := newHashFunc(cfg.HashFunction)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"HashPartitionService", "New", "select hash function")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &HashPartitionService{
		hash:     hash,
		logger:   logger.With("component", "partition"),
		metrics:  registry.CoreMetrics(),
		queues:   make(map[QueueKey]QueueConfig),
		isolated: make(map[uuid.UUID]bool),
		owned:    make(map[QueueKey]map[int]bool),
	}

	for _, q := range cfg.Queues {
		if err := validateQueue(q); err != nil {
			return nil, err
		}
		s.queues[QueueKey{Type: q.ServiceType, Queue: q.Name}] = q
	}
	return s, nil
}

func validateQueue(q QueueConfig) error {
	switch {
	case q.ServiceType == "":
		return errors.WrapInvalid(fmt.Errorf("%w: queue %q has no service type", errors.ErrInvalidConfig, q.Name),
			"HashPartitionService", "New", "validate queue")
	case q.Name == "":
		return errors.WrapInvalid(fmt.Errorf("%w: queue name is required", errors.ErrInvalidConfig),
			"HashPartitionService", "New", "validate queue")
	case q.Topic == "":
		return errors.WrapInvalid(fmt.Errorf("%w: queue %q has no topic", errors.ErrInvalidConfig, q.Name),
			"HashPartitionService", "New", "validate queue")
	case q.Partitions <= 0:
		return errors.WrapInvalid(fmt.Errorf("%w: queue %q needs at least one partition", errors.ErrInvalidConfig, q.Name),
			"HashPartitionService", "New", "validate queue")
	}
	return nil
}

// AddIsolatedTenant gives a tenant its own copies of the given queues. The
// isolated topics are prefixed with the tenant id so they never share
// partitions with system queues.
func (s *HashPartitionService) AddIsolatedTenant(tenantID uuid.UUID, queues []QueueConfig) error {
	if tenantID == uuid.Nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "HashPartitionService", "AddIsolatedTenant", "validate tenant")
	}
	for _, q := range queues {
		if err := validateQueue(q); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.isolated[tenantID] = true
	for _, q := range queues {
		q.Topic = q.Topic + ".isolated." + tenantID.String()
		s.queues[QueueKey{Type: q.ServiceType, Queue: q.Name, TenantID: tenantID}] = q
	}
	nodes, self := s.nodes, s.self
	s.mu.Unlock()

	s.logger.Info("Registered isolated tenant", "tenant_id", tenantID, "queues", len(queues))
	if self != "" {
		s.recalculate(self, nodes)
	}
	return nil
}

// RemoveIsolatedTenant drops a tenant's dedicated queues
func (s *HashPartitionService) RemoveIsolatedTenant(tenantID uuid.UUID) {
	s.mu.Lock()
	delete(s.isolated, tenantID)
	for key := range s.queues {
		if key.TenantID == tenantID {
			delete(s.queues, key)
			delete(s.owned, key)
		}
	}
	s.mu.Unlock()
}

// IsIsolated reports whether the tenant has dedicated queues
func (s *HashPartitionService) IsIsolated(tenantID uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isolated[tenantID]
}

// Resolve returns the topic partition for an entity on a queue
func (s *HashPartitionService) Resolve(serviceType ServiceType, queueName string, tenantID, entityID uuid.UUID) (TopicPartitionInfo, error) {
	return s.ResolveWithPartition(serviceType, queueName, tenantID, entityID, nil)
}

// ResolveWithPartition is Resolve with an optional explicit partition that
// overrides the hash. An explicit partition the queue does not have is
// rejected.
func (s *HashPartitionService) ResolveWithPartition(
	serviceType ServiceType, queueName string, tenantID, entityID uuid.UUID, explicit *int,
) (TopicPartitionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, q, ok := s.lookup(serviceType, queueName, tenantID)
	if !ok {
		return TopicPartitionInfo{}, errors.WrapInvalid(
			fmt.Errorf("%w: %s/%s", errors.ErrPartitionInfoMissing, serviceType, queueName),
			"HashPartitionService", "Resolve", "find queue")
	}

	p := 0
	if explicit != nil {
		p = *explicit
		if p < 0 || p >= q.Partitions {
			return TopicPartitionInfo{}, errors.WrapInvalid(
				fmt.Errorf("%w: partition %d out of range for %s with %d partitions",
					errors.ErrPartitionInfoMissing, p, q.Topic, q.Partitions),
				"HashPartitionService", "Resolve", "check explicit partition")
		}
	} else {
		p = partitionFor(s.hash(entityID), q.Partitions)
	}

	return TopicPartitionInfo{
		Topic:       q.Topic,
		TenantID:    key.TenantID,
		Partition:   p,
		MyPartition: s.owned[key][p],
	}, nil
}

// ResolveForMsg resolves the partition for a message on its own queue. A
// correlated response carries the partition of its request and is routed
// back to it.
func (s *HashPartitionService) ResolveForMsg(serviceType ServiceType, tenantID uuid.UUID, msg *message.Msg) (TopicPartitionInfo, error) {
	var explicit *int
	if p, ok := msg.Partition(); ok {
		v := int(p)
		explicit = &v
	}
	queue := msg.QueueName()
	if queue == "" {
		queue = MainQueueName
	}
	return s.ResolveWithPartition(serviceType, queue, tenantID, msg.Originator().ID, explicit)
}

// lookup finds the queue for a tenant, preferring isolated queues and
// falling back to Main. Callers hold s.mu.
func (s *HashPartitionService) lookup(serviceType ServiceType, queueName string, tenantID uuid.UUID) (QueueKey, QueueConfig, bool) {
	owner := uuid.Nil
	if s.isolated[tenantID] {
		owner = tenantID
	}
	for _, name := range []string{queueName, MainQueueName} {
		key := QueueKey{Type: serviceType, Queue: name, TenantID: owner}
		if q, ok := s.queues[key]; ok {
			return key, q, true
		}
	}
	return QueueKey{}, QueueConfig{}, false
}

// RecalculatePartitions assigns partitions across the live nodes and
// notifies listeners of every queue whose local ownership changed.
func (s *HashPartitionService) RecalculatePartitions(self string, others []string) {
	nodes := append([]string{self}, others...)
	slices.Sort(nodes)
	nodes = slices.Compact(nodes)
	s.recalculate(self, nodes)
}

func (s *HashPartitionService) recalculate(self string, nodes []string) {
	var events []ChangeEvent

	s.mu.Lock()
	s.self = self
	s.nodes = nodes
	for key, q := range s.queues {
		mine := make(map[int]bool)
		for p := 0; p < q.Partitions; p++ {
			if nodes[p%len(nodes)] == self {
				mine[p] = true
			}
		}
		if prev, seen := s.owned[key]; seen && sameSet(prev, mine) {
			continue
		}
		s.owned[key] = mine
		events = append(events, ChangeEvent{Key: key, Partitions: s.partitionsOf(key, q, mine)})
	}
	s.mu.Unlock()

	slices.SortFunc(events, func(a, b ChangeEvent) int {
		return cmp.Compare(a.Key.String(), b.Key.String())
	})

	for _, ev := range events {
		s.logger.Info("Partitions reassigned",
			"queue", ev.Key.String(), "owned", len(ev.Partitions), "nodes", len(nodes))
		if s.metrics != nil {
			s.metrics.RecordPartitionsAssigned(ev.Key.String(), len(ev.Partitions))
		}
		s.notify(ev)
	}
}

func (s *HashPartitionService) partitionsOf(key QueueKey, q QueueConfig, mine map[int]bool) []TopicPartitionInfo {
	out := make([]TopicPartitionInfo, 0, len(mine))
	for p := 0; p < q.Partitions; p++ {
		if mine[p] {
			out = append(out, TopicPartitionInfo{Topic: q.Topic, TenantID: key.TenantID, Partition: p, MyPartition: true})
		}
	}
	return out
}

func sameSet(a, b map[int]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

// IsMyPartition reports whether this node owns partition p of the queue
func (s *HashPartitionService) IsMyPartition(key QueueKey, p int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.owned[key][p]
}

// MyPartitions returns the partitions of a queue owned by this node, in order
func (s *HashPartitionService) MyPartitions(key QueueKey) []TopicPartitionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.queues[key]
	if !ok {
		return nil
	}
	return s.partitionsOf(key, q, s.owned[key])
}

// Queues returns the keys of all configured queues
func (s *HashPartitionService) Queues() []QueueKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]QueueKey, 0, len(s.queues))
	for k := range s.queues {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b QueueKey) int {
		return cmp.Compare(a.String(), b.String())
	})
	return keys
}

// OnPartitionChange registers a listener for ownership changes
func (s *HashPartitionService) OnPartitionChange(l ChangeListener) {
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, l)
	s.listenersMu.Unlock()
}

func (s *HashPartitionService) notify(ev ChangeEvent) {
	s.listenersMu.RLock()
	listeners := slices.Clone(s.listeners)
	s.listenersMu.RUnlock()
	for _, l := range listeners {
		l(ev)
	}
}
