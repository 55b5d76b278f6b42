// Package debug persists rule engine debug and lifecycle events without
// slowing message processing down.
//
// The Emitter turns messages into events and applies two budgets. Rule node
// debug events draw from a per-tenant token bucket; the first time a
// tenant runs dry a single "Reached debug mode rate limit!" rule chain
// event is saved, and further rejections stay silent until ResetTenant.
// Calculated field events are limited through ratelimit.Service.
//
// Events are validated and then handed to an AsyncPersister, which saves
// them on its own worker pool and retries transient storage errors.
// Malformed events and save failures are logged and dropped; they never
// reach the caller.
//
// Settings decides per rule node which events are worth recording: nothing,
// only failures, or everything for a bounded time window.
package debug
