// Package actor implements a small actor runtime: actors with private state,
// per-actor mailboxes and named dispatchers that bound how many actors run
// at once.
//
// Every actor owns a mailbox with a high and a normal priority queue. At most
// one goroutine runs an actor at a time. A turn processes up to Throughput
// messages and then yields the worker so other actors on the same dispatcher
// make progress. High priority messages are served first, but after
// HighPriorityBurst consecutive ones a waiting normal message is taken, so
// normal traffic is never starved.
//
// Init is the first task of every mailbox. Messages told before Init
// completes are queued. A failed Init is retried according to the actor's
// OnInitFailure strategy and the actor is stopped with StopReasonInitFailed
// when retries run out.
//
// Stopping an actor stops its children first. Messages still queued for a
// stopped actor, and messages told to it later, are released through
// Stoppable.OnActorStopped.
//
//	sys := actor.NewSystem(actor.DefaultSettings(), logger, metrics)
//	_ = sys.CreateDispatcher("app", 4)
//	ref, err := sys.CreateRootActor("app", actor.CreatorFunc{
//		ID:  actor.NamedActorID("APP"),
//		New: func() actor.Actor { return &appActor{} },
//	})
//	ref.Tell(msg)
package actor
