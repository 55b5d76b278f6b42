package message

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// StackItem is one call frame: the chain and node that control returns to
type StackItem struct {
	ChainID uuid.UUID
	NodeID  uuid.UUID
}

// ProcessingCtx is the mutable per-message state: the rule node execution
// counter and the call/return stack used when a chain calls into another.
type ProcessingCtx struct {
	counter atomic.Int32

	mu    sync.Mutex
	stack []StackItem
}

// NewProcessingCtx creates a context with an empty stack
func NewProcessingCtx(counter int32) *ProcessingCtx {
	c := &ProcessingCtx{}
	c.counter.Store(counter)
	return c
}

func newProcessingCtxWithStack(counter int32, frames []StackItem) *ProcessingCtx {
	c := NewProcessingCtx(counter)
	if len(frames) > 0 {
		c.stack = append([]StackItem(nil), frames...)
	}
	return c
}

// GetAndIncrementRuleNodeCounter returns the counter value before incrementing it
func (c *ProcessingCtx) GetAndIncrementRuleNodeCounter() int32 {
	return c.counter.Add(1) - 1
}

// Counter returns the number of rule node visits recorded so far
func (c *ProcessingCtx) Counter() int32 {
	return c.counter.Load()
}

// Push records where control returns once a nested chain finishes
func (c *ProcessingCtx) Push(chainID, nodeID uuid.UUID) {
	c.mu.Lock()
	c.stack = append(c.stack, StackItem{ChainID: chainID, NodeID: nodeID})
	c.mu.Unlock()
}

// Pop removes the most recent frame. ok is false on an empty stack, meaning
// the message is running in a top-level chain with no caller.
func (c *ProcessingCtx) Pop() (item StackItem, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.stack)
	if n == 0 {
		return StackItem{}, false
	}
	item = c.stack[n-1]
	c.stack = c.stack[:n-1]
	return item, true
}

// Depth returns the number of frames on the stack
func (c *ProcessingCtx) Depth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stack)
}

// Frames returns a copy of the stack, oldest frame first
func (c *ProcessingCtx) Frames() []StackItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]StackItem(nil), c.stack...)
}

// Copy returns an independent context. An empty stack yields a counter-only
// context; otherwise the frames are copied so forks never share stack state.
func (c *ProcessingCtx) Copy() *ProcessingCtx {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.stack) == 0 {
		return NewProcessingCtx(c.counter.Load())
	}
	return newProcessingCtxWithStack(c.counter.Load(), c.stack)
}
