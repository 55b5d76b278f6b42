// Package storage defines the persistence contract for debug and lifecycle
// events.
//
// # Overview
//
// An EventStore keeps events per (tenant, entity, event type) stream and lists
// them newest first. Implementations live in storage/eventstore:
//   - MemoryStore: bounded in-process store, the default for tests and single
//     node development
//   - BoltStore: durable single file store backed by bbolt
//
// EventStore satisfies debug.EventService, so any implementation can sit
// behind the asynchronous debug persister.
//
// # Error Handling
//
// Implementations classify failures with the errors package:
//   - errors.WrapInvalid: malformed events or queries
//   - errors.WrapTransient: temporary backend failures, retried by the persister
//   - errors.WrapFatal: closed store, corrupt records
//
// # Thread Safety
//
// All EventStore implementations must be safe for concurrent use.
package storage
