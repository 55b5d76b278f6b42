package partition

import (
	"strconv"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/rulecore/errors"
	"github.com/c360/rulecore/message"
	"github.com/c360/rulecore/metric"
)

func testConfig(hash string) Config {
	return Config{
		HashFunction: hash,
		Queues: []QueueConfig{
			{ServiceType: ServiceRuleEngine, Name: MainQueueName, Topic: "tb_rule_engine.main", Partitions: 10},
			{ServiceType: ServiceRuleEngine, Name: "HighPriority", Topic: "tb_rule_engine.hp", Partitions: 12},
			{ServiceType: ServiceCore, Name: MainQueueName, Topic: "tb_core", Partitions: 10},
		},
	}
}

func newTestService(t *testing.T, hash string) *HashPartitionService {
	t.Helper()
	s, err := NewHashPartitionService(testConfig(hash), nil, nil)
	require.NoError(t, err)
	return s
}

func TestHashFunctions_KnownValues(t *testing.T) {
	tests := []struct {
		id        string
		murmur128 int32
		murmur32  int32
		sha       int32
	}{
		{"9f7c4d6a-1b2e-4c3d-8e5f-0a1b2c3d4e5f", 420775191, 1406594071, -411468134},
		{"00000000-0000-0000-0000-000000000001", -809152526, 223774489, -1626065763},
		{"c0ffee00-dead-beef-cafe-123456789abc", -1985064281, -1109762601, -238375081},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			id := uuid.MustParse(tt.id)
			assert.Equal(t, tt.murmur128, murmur3128(id))
			assert.Equal(t, tt.murmur32, murmur332(id))
			assert.Equal(t, tt.sha, sha256Hash(id))
		})
	}
}

func TestPartitionFor_Abs(t *testing.T) {
	assert.Equal(t, 6, partitionFor(-809152526, 10))
	assert.Equal(t, 1, partitionFor(420775191, 10))
	assert.Equal(t, 0, partitionFor(0, 7))
	assert.Equal(t, 8, partitionFor(-2147483648, 10))
}

func TestResolve_HashedPartition(t *testing.T) {
	tenant := uuid.New()

	tests := []struct {
		hash  string
		queue string
		id    string
		want  int
		topic string
	}{
		{HashMurmur3128, MainQueueName, "9f7c4d6a-1b2e-4c3d-8e5f-0a1b2c3d4e5f", 1, "tb_rule_engine.main"},
		{HashMurmur3128, MainQueueName, "00000000-0000-0000-0000-000000000001", 6, "tb_rule_engine.main"},
		{HashMurmur3128, "HighPriority", "c0ffee00-dead-beef-cafe-123456789abc", 5, "tb_rule_engine.hp"},
		{"", MainQueueName, "c0ffee00-dead-beef-cafe-123456789abc", 1, "tb_rule_engine.main"},
		{HashMurmur332, MainQueueName, "00000000-0000-0000-0000-000000000001", 9, "tb_rule_engine.main"},
		{HashSHA256, MainQueueName, "00000000-0000-0000-0000-000000000001", 3, "tb_rule_engine.main"},
	}

	for _, tt := range tests {
		t.Run(tt.hash+"/"+tt.queue+"/"+tt.id, func(t *testing.T) {
			s := newTestService(t, tt.hash)
			tpi, err := s.Resolve(ServiceRuleEngine, tt.queue, tenant, uuid.MustParse(tt.id))
			require.NoError(t, err)
			assert.Equal(t, tt.topic, tpi.Topic)
			assert.Equal(t, tt.want, tpi.Partition)
			assert.Equal(t, uuid.Nil, tpi.TenantID)
		})
	}
}

func TestResolve_SameEntitySamePartition(t *testing.T) {
	s := newTestService(t, HashMurmur3128)
	id := uuid.New()

	first, err := s.Resolve(ServiceRuleEngine, MainQueueName, uuid.New(), id)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := s.Resolve(ServiceRuleEngine, MainQueueName, uuid.New(), id)
		require.NoError(t, err)
		assert.Equal(t, first.Partition, again.Partition)
	}
}

func TestResolve_UnknownQueueFallsBackToMain(t *testing.T) {
	s := newTestService(t, HashMurmur3128)

	tpi, err := s.Resolve(ServiceRuleEngine, "DoesNotExist", uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, "tb_rule_engine.main", tpi.Topic)
}

func TestResolve_MissingServiceType(t *testing.T) {
	s := newTestService(t, HashMurmur3128)

	_, err := s.Resolve(ServiceTransport, MainQueueName, uuid.New(), uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPartitionInfoMissing)
}

func TestResolveWithPartition_ExplicitWins(t *testing.T) {
	s := newTestService(t, HashMurmur3128)

	p := 7
	tpi, err := s.ResolveWithPartition(ServiceRuleEngine, MainQueueName, uuid.New(),
		uuid.MustParse("9f7c4d6a-1b2e-4c3d-8e5f-0a1b2c3d4e5f"), &p)
	require.NoError(t, err)
	assert.Equal(t, 7, tpi.Partition)
	assert.Equal(t, "tb_rule_engine.main.7", tpi.FullTopicName())
}

func TestResolveWithPartition_OutOfRange(t *testing.T) {
	s := newTestService(t, HashMurmur3128)

	for _, p := range []int{-1, 10, 42} {
		t.Run(strconv.Itoa(p), func(t *testing.T) {
			_, err := s.ResolveWithPartition(ServiceRuleEngine, MainQueueName, uuid.New(), uuid.New(), &p)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrPartitionInfoMissing)
			assert.True(t, errors.IsInvalid(err))
		})
	}

	last := 9
	tpi, err := s.ResolveWithPartition(ServiceRuleEngine, MainQueueName, uuid.New(), uuid.New(), &last)
	require.NoError(t, err)
	assert.Equal(t, 9, tpi.Partition)
}

func TestResolveForMsg_PartitionOutOfRange(t *testing.T) {
	s := newTestService(t, HashMurmur3128)
	m, err := message.NewBuilder().
		Type(message.ToServerRPCRequest).
		Originator(message.NewEntityID(message.EntityDevice, uuid.New())).
		CorrelationID(uuid.New()).
		Partition(99).
		Build()
	require.NoError(t, err)

	_, err = s.ResolveForMsg(ServiceRuleEngine, uuid.New(), m)
	assert.ErrorIs(t, err, errors.ErrPartitionInfoMissing)
}

func TestResolveForMsg(t *testing.T) {
	s := newTestService(t, HashMurmur3128)
	device := message.NewEntityID(message.EntityDevice, uuid.MustParse("00000000-0000-0000-0000-000000000001"))

	t.Run("hashes originator", func(t *testing.T) {
		m, err := message.NewBuilder().Type(message.PostTelemetryRequest).Originator(device).Build()
		require.NoError(t, err)

		tpi, err := s.ResolveForMsg(ServiceRuleEngine, uuid.New(), m)
		require.NoError(t, err)
		assert.Equal(t, "tb_rule_engine.main.6", tpi.FullTopicName())
	})

	t.Run("correlated response keeps request partition", func(t *testing.T) {
		m, err := message.NewBuilder().
			Type(message.ToServerRPCRequest).
			Originator(device).
			QueueName("HighPriority").
			CorrelationID(uuid.New()).
			Partition(2).
			Build()
		require.NoError(t, err)

		tpi, err := s.ResolveForMsg(ServiceRuleEngine, uuid.New(), m)
		require.NoError(t, err)
		assert.Equal(t, "tb_rule_engine.hp.2", tpi.FullTopicName())
	})
}

func TestFullTopicName(t *testing.T) {
	assert.Equal(t, "tb_core", TopicPartitionInfo{Topic: "tb_core", Partition: -1}.FullTopicName())
	assert.Equal(t, "tb_core.0", TopicPartitionInfo{Topic: "tb_core", Partition: 0}.FullTopicName())
}

func TestNewHashPartitionService_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown hash", Config{HashFunction: "md5"}},
		{"zero partitions", Config{Queues: []QueueConfig{{ServiceType: ServiceCore, Name: "Main", Topic: "t"}}}},
		{"missing topic", Config{Queues: []QueueConfig{{ServiceType: ServiceCore, Name: "Main", Partitions: 1}}}},
		{"missing name", Config{Queues: []QueueConfig{{ServiceType: ServiceCore, Topic: "t", Partitions: 1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHashPartitionService(tt.cfg, nil, nil)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestIsolatedTenant(t *testing.T) {
	s := newTestService(t, HashMurmur3128)
	isolated, shared := uuid.New(), uuid.New()

	err := s.AddIsolatedTenant(isolated, []QueueConfig{
		{ServiceType: ServiceRuleEngine, Name: MainQueueName, Topic: "tb_rule_engine.main", Partitions: 3},
	})
	require.NoError(t, err)
	assert.True(t, s.IsIsolated(isolated))
	assert.False(t, s.IsIsolated(shared))

	tpi, err := s.Resolve(ServiceRuleEngine, "HighPriority", isolated, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, "tb_rule_engine.main.isolated."+isolated.String(), tpi.Topic)
	assert.Equal(t, isolated, tpi.TenantID)
	assert.Less(t, tpi.Partition, 3)

	tpi, err = s.Resolve(ServiceRuleEngine, MainQueueName, shared, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, "tb_rule_engine.main", tpi.Topic)

	_, err = s.Resolve(ServiceCore, MainQueueName, isolated, uuid.New())
	assert.ErrorIs(t, err, errors.ErrPartitionInfoMissing)

	s.RemoveIsolatedTenant(isolated)
	tpi, err = s.Resolve(ServiceRuleEngine, MainQueueName, isolated, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, "tb_rule_engine.main", tpi.Topic)

	assert.Error(t, s.AddIsolatedTenant(uuid.Nil, nil))
}

func TestRecalculatePartitions_Assignment(t *testing.T) {
	s := newTestService(t, HashMurmur3128)
	main := QueueKey{Type: ServiceRuleEngine, Queue: MainQueueName}

	s.RecalculatePartitions("node-b", []string{"node-c", "node-a"})

	var got []int
	for _, tpi := range s.MyPartitions(main) {
		assert.True(t, tpi.MyPartition)
		got = append(got, tpi.Partition)
	}
	// sorted nodes: a, b, c; node-b owns p % 3 == 1
	assert.Equal(t, []int{1, 4, 7}, got)
	assert.True(t, s.IsMyPartition(main, 4))
	assert.False(t, s.IsMyPartition(main, 0))

	p := 4
	tpi, err := s.ResolveWithPartition(ServiceRuleEngine, MainQueueName, uuid.New(), uuid.New(), &p)
	require.NoError(t, err)
	assert.True(t, tpi.MyPartition)
}

func TestRecalculatePartitions_SingleNodeOwnsAll(t *testing.T) {
	s := newTestService(t, HashMurmur3128)
	s.RecalculatePartitions("only", nil)

	assert.Len(t, s.MyPartitions(QueueKey{Type: ServiceRuleEngine, Queue: "HighPriority"}), 12)
	assert.Len(t, s.MyPartitions(QueueKey{Type: ServiceCore, Queue: MainQueueName}), 10)
	assert.Nil(t, s.MyPartitions(QueueKey{Type: ServiceTransport, Queue: MainQueueName}))
}

func TestOnPartitionChange(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	s, err := NewHashPartitionService(testConfig(""), nil, registry)
	require.NoError(t, err)

	var mu sync.Mutex
	events := map[QueueKey]int{}
	s.OnPartitionChange(func(ev ChangeEvent) {
		mu.Lock()
		events[ev.Key] = len(ev.Partitions)
		mu.Unlock()
	})

	s.RecalculatePartitions("a", nil)
	assert.Len(t, events, 3)
	main := QueueKey{Type: ServiceRuleEngine, Queue: MainQueueName}
	assert.Equal(t, 10, events[main])
	assert.Equal(t, float64(10),
		testutil.ToFloat64(registry.CoreMetrics().PartitionsAssigned.WithLabelValues(main.String())))

	// same membership, no events
	events = map[QueueKey]int{}
	s.RecalculatePartitions("a", []string{"a"})
	assert.Empty(t, events)

	s.RecalculatePartitions("a", []string{"b"})
	assert.Equal(t, 5, events[main])
	assert.Equal(t, 6, events[QueueKey{Type: ServiceRuleEngine, Queue: "HighPriority"}])
}
