package ruleengine

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/c360/rulecore/message"
)

// fanOut completes a parent callback once every copy sent to a target of
// a node completed. The first failure fails the parent and later results
// are ignored.
type fanOut struct {
	parent  message.Callback
	pending atomic.Int32
	once    sync.Once
}

func newFanOut(parent message.Callback, n int) *fanOut {
	f := &fanOut{parent: parent}
	f.pending.Store(int32(n))
	return f
}

// member returns the callback given to one copy
func (f *fanOut) member() message.Callback { return fanOutMember{f} }

type fanOutMember struct{ f *fanOut }

func (m fanOutMember) OnSuccess() {
	if m.f.pending.Add(-1) == 0 {
		m.f.once.Do(m.f.parent.OnSuccess)
	}
}

func (m fanOutMember) OnFailure(err error) {
	m.f.once.Do(func() { m.f.parent.OnFailure(err) })
}

func (m fanOutMember) OnProcessingStart(info message.RuleNodeInfo) {
	m.f.parent.OnProcessingStart(info)
}

func (m fanOutMember) OnProcessingEnd(id uuid.UUID) { m.f.parent.OnProcessingEnd(id) }

func (m fanOutMember) IsMsgValid() bool { return m.f.parent.IsMsgValid() }
