// Package partition resolves which queue topic and partition a message
// belongs to, and which partitions the local node owns.
//
// A message is keyed by its queue (service type, queue name, tenant) and its
// originator entity. The originator UUID is hashed to pick a partition, so
// all messages of one entity land on the same partition and are processed in
// order by whichever node owns it:
//
//	svc, err := partition.NewHashPartitionService(partition.Config{
//		Queues: []partition.QueueConfig{
//			{ServiceType: partition.ServiceRuleEngine, Name: "Main", Topic: "tb_rule_engine.main", Partitions: 10},
//		},
//	}, logger, metrics)
//
//	tpi, err := svc.Resolve(partition.ServiceRuleEngine, "Main", tenantID, deviceID)
//	subject := tpi.FullTopicName() // "tb_rule_engine.main.7"
//
// Unknown queue names fall back to the Main queue of the same service type.
// Ownership is computed by RecalculatePartitions from the set of live nodes:
// partition p belongs to sorted(nodes)[p % len(nodes)].
package partition
