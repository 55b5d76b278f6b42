// Package ruleengine runs rule chains on the actor system.
//
// Actors form a fixed hierarchy:
//
//	AppActor
//	└── TenantActor (one per tenant)
//	    ├── RuleChainActor (one per rule chain)
//	    │   └── RuleNodeActor (one per rule node)
//	    └── DeviceActor (one per connected device)
//
// A message taken from a local partition enters through Engine, which is the
// cluster.LocalSink of the process. The tenant actor picks the target chain,
// the chain actor follows relations between nodes, and every node runs its
// Node implementation one message at a time.
//
// Nodes report results through Context. TellNext hands the message back to
// the chain actor, which resolves the relations leaving the node. When no
// relation matches, the message completes: Success acknowledges it and
// Failure fails its callback with a RuleEngineError.
//
// Calls into another chain use the message stack. The flow node pushes the
// caller frame and enters the target chain; an output node of the target
// pops the frame and continues at the caller over the relation named after
// the output node.
//
// Every message counts the rule nodes it visited. Past
// Settings.MaxRuleNodeExecutionsPerMessage it fails with ErrLoopDetected.
package ruleengine
