// Package health tracks the health of the subsystems of a rulecore node.
//
// A node reports each subsystem (NATS connection, event store, cluster
// discovery, rule engine) to a Monitor, which aggregates them into one
// status served on the metrics server's /health endpoint.
//
// # Health States
//
//   - Healthy: operating normally
//   - Degraded: operating with reduced functionality
//   - Unhealthy: not functioning
//
// Aggregation takes the worst state of the subsystems.
//
// # Usage
//
//	monitor := health.NewMonitor()
//	monitor.UpdateHealthy("event_store", "memory store open")
//	monitor.Update("discovery", health.FromError("discovery", err, "heartbeating"))
//
//	server.SetHealthHandler(monitor.Handler("rulecore"))
//
// Error messages passed through FromError have URLs, paths, addresses and
// credentials replaced with placeholders before they are exposed.
package health
