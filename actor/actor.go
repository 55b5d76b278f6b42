package actor

import (
	"time"

	"github.com/c360/rulecore/errors"
	"github.com/c360/rulecore/message"
)

// Ref is a handle used to send messages to an actor
type Ref interface {
	ID() ID
	Tell(msg Msg)
	TellWithHighPriority(msg Msg)
}

// Ctx is given to an actor on Init. It is the actor's own Ref plus access to
// its parent and children.
type Ctx interface {
	Ref
	Parent() (ID, bool)
	System() *System
	TellActor(target ID, msg Msg) error
	GetOrCreateChildActor(id ID, dispatcher string, creator func() Creator) (Ref, error)
	BroadcastToChildren(msg Msg, highPriority bool)
	BroadcastToChildrenByType(msg Msg, childType message.EntityType)
	FilterChildren(pred func(ID) bool) []ID
	Stop(target ID)
}

// Actor processes one message at a time. Process returns false when the
// message type is not handled.
type Actor interface {
	Init(ctx Ctx) error
	Process(msg Msg) bool
	Destroy(reason StopReason, cause error)
	OnInitFailure(attempt int, err error) InitFailureStrategy
	OnProcessFailure(msg Msg, err error) ProcessFailureStrategy
}

// Creator builds an actor for a known id
type Creator interface {
	ActorID() ID
	CreateActor() Actor
}

// CreatorFunc adapts a function to Creator
type CreatorFunc struct {
	ID  ID
	New func() Actor
}

func (c CreatorFunc) ActorID() ID        { return c.ID }
func (c CreatorFunc) CreateActor() Actor { return c.New() }

// InitFailureStrategy tells the mailbox whether to retry a failed Init
type InitFailureStrategy struct {
	Stop       bool
	RetryDelay time.Duration
}

// RetryInitWithDelay retries Init after d
func RetryInitWithDelay(d time.Duration) InitFailureStrategy {
	return InitFailureStrategy{RetryDelay: d}
}

// StopOnInitFailure gives up and stops the actor
func StopOnInitFailure() InitFailureStrategy {
	return InitFailureStrategy{Stop: true}
}

// ProcessFailureStrategy tells the mailbox whether to keep the actor running
// after Process failed
type ProcessFailureStrategy struct {
	Stop bool
}

var (
	// Resume keeps the actor running
	Resume = ProcessFailureStrategy{}
	// StopActor stops the actor and its children
	StopActor = ProcessFailureStrategy{Stop: true}
)

// BaseActor provides default lifecycle behavior. Embed it and implement
// Process.
type BaseActor struct {
	Ctx Ctx
}

// Init stores the context
func (a *BaseActor) Init(ctx Ctx) error {
	a.Ctx = ctx
	return nil
}

// Destroy does nothing
func (a *BaseActor) Destroy(StopReason, error) {}

// OnInitFailure retries with a linearly growing delay
func (a *BaseActor) OnInitFailure(attempt int, _ error) InitFailureStrategy {
	return RetryInitWithDelay(time.Duration(attempt) * 5 * time.Second)
}

// OnProcessFailure stops the actor on fatal errors and resumes otherwise
func (a *BaseActor) OnProcessFailure(_ Msg, err error) ProcessFailureStrategy {
	if errors.IsFatal(err) {
		return StopActor
	}
	return Resume
}
