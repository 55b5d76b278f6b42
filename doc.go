// Package rulecore is the core of an IoT rule engine: messages from devices
// are routed to per-tenant rule chains and processed by graphs of rule
// nodes running as actors.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│           cmd/rulecore              │  Config, wiring,
//	│    (node lifecycle, health, HTTP)   │  graceful shutdown
//	└─────────────────────────────────────┘
//	           ↓ builds
//	┌─────────────────────────────────────┐
//	│           ruleengine                │  App → Tenant → RuleChain
//	│   (actor hierarchy, rule nodes)     │  → RuleNode actors
//	└─────────────────────────────────────┘
//	           ↓ runs on
//	┌─────────────────────────────────────┐
//	│             actor                   │  Dispatchers, mailboxes,
//	│  (mailboxes, supervision, init)     │  high priority lane
//	└─────────────────────────────────────┘
//
// A message enters through cluster.Service, which hashes its entity id to a
// partition of a rule engine queue. Partitions owned by this node are
// delivered to the local engine; the others are published to the owner
// over a JetStream stream and consumed there by cluster.Consumer.
//
// # Message Flow
//
//	device ─→ cluster.Service ─→ partition owner ─→ TenantActor
//	                                                   ↓
//	                        RuleChainActor ←─ root rule chain
//	                              ↓ tellNext(relation types)
//	                        RuleNodeActor ─→ Node.OnMsg ─→ ack / failure
//
// Every hop checks the per message rule node execution limit, so loops in
// rule chains are cut off and reported as failures.
//
// # Packages
//
// Engine:
//   - actor: Actor system with dispatchers, prioritized mailboxes and init retries
//   - ruleengine: Rule chain definitions, actors, built-in nodes and device sessions
//   - message: Rule engine message, callbacks and the binary queue codec
//   - scheduler: Delayed self messages for timeouts and periodic checks
//
// Cluster:
//   - partition: Consistent hashing of entities to queue partitions
//   - cluster: Node identity, discovery, routing, transport and consumer
//   - natsclient: NATS connection management, JetStream and KV helpers
//
// Debug events:
//   - debug: Debug event emission, per tenant limits and the async persister
//   - ratelimit: Token bucket limits keyed by tenant
//   - storage, storage/eventstore: Memory and bbolt event stores with retention
//
// Infrastructure:
//   - config: Layered JSON and YAML configuration, rule chain KV sync
//   - errors: Classified errors (transient, invalid, fatal)
//   - metric: Prometheus metrics and the HTTP endpoint
//   - health: Subsystem health aggregation served on /health
//   - pkg/retry, pkg/worker: Backoff and bounded worker pools
package rulecore
