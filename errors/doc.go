// Package errors provides standardized error handling patterns for rulecore components.
//
// # Overview
//
// Errors fall into three classes: Transient (temporary, retryable), Invalid
// (bad input, non-retryable) and Fatal (unrecoverable, stop processing). The
// actor system, the debug event persister and the cluster transport all make
// their retry and escalation decisions from this classification instead of
// matching error strings.
//
// # Error Wrapping Pattern
//
// All wrapping follows the format:
//
//	"component.method: action failed: %w"
//
// Three wrapper functions attach a class while wrapping:
//
//	errors.WrapTransient(err, "EventStore", "Save", "write event")
//	errors.WrapInvalid(err, "Limits", "Parse", "parse rate limit")
//	errors.WrapFatal(err, "System", "CreateRootActor", "create app actor")
//
// The plain Wrap function adds context and leaves classification to the
// sentinel it wraps.
//
// # Rule Engine Errors
//
// Message processing failures reach the message callback as a RuleEngineError,
// which records the rule chain and rule node where processing stopped:
//
//	err := errors.NewRuleEngineError(errors.ErrLoopDetected, chainID, chainName, nodeID, nodeName)
//	msg.Callback().OnFailure(err)
//
// ErrLoopDetected is classified as Fatal: a message that exceeded the rule node
// execution limit is never retried.
//
// # Standard Error Variables
//
//   - Lifecycle: ErrAlreadyStarted, ErrNotStarted, ErrShuttingDown
//   - Connection: ErrNoConnection, ErrConnectionTimeout
//   - Storage: ErrStorageFull, ErrStorageUnavailable
//   - Rule engine: ErrLoopDetected, ErrMsgInvalid, ErrRuleChainNotFound, ErrRuleNodeNotFound
//   - Actors: ErrActorNotFound, ErrActorStopped, ErrActorAlreadyExists, ErrDispatcherNotFound
//   - Partitioning: ErrPartitionInfoMissing
//   - Rate limiting: ErrInvalidRateLimit
//
// Retries use pkg/retry with Config.Retryable set to IsTransient.
package errors
