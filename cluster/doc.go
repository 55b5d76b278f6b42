// Package cluster routes rule engine messages between nodes.
//
// Every node has a persistent NodeIdentity. Discovery keeps the set of live
// nodes in a NATS KV bucket and recalculates partition ownership when it
// changes. Service.PushMsgToRuleEngine delivers a message to the partition
// that owns its originator: straight into the local rule engine when this
// node owns it, otherwise as a ToRuleEngineMsg published on the partition
// subject. Consumer subscribes to the owned partitions and feeds them into
// the local rule engine.
package cluster
