package message

import "github.com/google/uuid"

// RuleNodeInfo identifies the rule node a message is entering
type RuleNodeInfo struct {
	RuleNodeID    uuid.UUID
	RuleChainName string
	RuleNodeName  string
}

// Callback is the side channel through which a message reports completion and
// learns whether it is still worth processing.
type Callback interface {
	OnSuccess()
	OnFailure(err error)
	OnProcessingStart(info RuleNodeInfo)
	OnProcessingEnd(ruleNodeID uuid.UUID)
	IsMsgValid() bool
}

type emptyCallback struct{}

func (emptyCallback) OnSuccess()                     {}
func (emptyCallback) OnFailure(error)                {}
func (emptyCallback) OnProcessingStart(RuleNodeInfo) {}
func (emptyCallback) OnProcessingEnd(uuid.UUID)      {}
func (emptyCallback) IsMsgValid() bool               { return true }

// EmptyCallback ignores every notification and is always valid
var EmptyCallback Callback = emptyCallback{}

// FuncCallback adapts plain functions to Callback. Nil fields are no-ops and
// a nil Valid reports the message as valid.
type FuncCallback struct {
	Success func()
	Failure func(error)
	Valid   func() bool
}

// OnSuccess implements Callback
func (f FuncCallback) OnSuccess() {
	if f.Success != nil {
		f.Success()
	}
}

// OnFailure implements Callback
func (f FuncCallback) OnFailure(err error) {
	if f.Failure != nil {
		f.Failure(err)
	}
}

// OnProcessingStart implements Callback
func (FuncCallback) OnProcessingStart(RuleNodeInfo) {}

// OnProcessingEnd implements Callback
func (FuncCallback) OnProcessingEnd(uuid.UUID) {}

// IsMsgValid implements Callback
func (f FuncCallback) IsMsgValid() bool {
	if f.Valid != nil {
		return f.Valid()
	}
	return true
}
