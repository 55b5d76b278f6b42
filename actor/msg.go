package actor

// MsgType names an actor message kind
type MsgType string

// Msg is anything that can be delivered to an actor mailbox
type Msg interface {
	MsgType() MsgType
}

// Stoppable is implemented by messages that hold resources, such as a
// pending callback, which must be released when their target stops before
// processing them.
type Stoppable interface {
	OnActorStopped(reason StopReason)
}

// StopReason says why an actor was stopped
type StopReason int

const (
	StopReasonStopped StopReason = iota
	StopReasonInitFailed
)

func (r StopReason) String() string {
	switch r {
	case StopReasonStopped:
		return "STOPPED"
	case StopReasonInitFailed:
		return "INIT_FAILED"
	default:
		return "UNKNOWN"
	}
}

// MsgTypeChildFailed is the type of ChildFailedMsg
const MsgTypeChildFailed MsgType = "CHILD_FAILED"

// ChildFailedMsg is told to a parent, with high priority, when one of its
// children is stopped by a processing failure.
type ChildFailedMsg struct {
	Child ID
	Err   error
}

func (ChildFailedMsg) MsgType() MsgType { return MsgTypeChildFailed }
