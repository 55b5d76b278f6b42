package message

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Pack tracks a batch of in-flight messages that share one deadline. Every
// member's callback reports invalid once the pack is cancelled or times out,
// which stops further rule node processing for the whole batch.
type Pack struct {
	ctx    context.Context
	cancel context.CancelFunc

	pending atomic.Int64
	success atomic.Int64
	failure atomic.Int64

	mu       sync.Mutex
	failures map[uuid.UUID]error
	current  map[uuid.UUID]RuleNodeInfo

	done     chan struct{}
	doneOnce sync.Once
}

// PackResult summarizes a finished or expired pack
type PackResult struct {
	Success  int
	Failure  int
	Timeout  int
	Failures map[uuid.UUID]error
	// Pending maps each unfinished message to the rule node it was last seen in
	Pending map[uuid.UUID]RuleNodeInfo
}

// NewPack creates a pack expecting size messages that must finish within timeout
func NewPack(parent context.Context, timeout time.Duration, size int) *Pack {
	ctx, cancel := context.WithTimeout(parent, timeout)
	p := &Pack{
		ctx:      ctx,
		cancel:   cancel,
		failures: make(map[uuid.UUID]error),
		current:  make(map[uuid.UUID]RuleNodeInfo),
		done:     make(chan struct{}),
	}
	p.pending.Store(int64(size))
	if size <= 0 {
		p.finish()
	}
	return p
}

// Callback returns the member callback for one message of the pack
func (p *Pack) Callback(msgID uuid.UUID) Callback {
	p.mu.Lock()
	p.current[msgID] = RuleNodeInfo{}
	p.mu.Unlock()
	return &packCallback{pack: p, msgID: msgID}
}

// Cancel invalidates every member that has not finished yet
func (p *Pack) Cancel() {
	p.cancel()
}

// Done is closed when every member has reported success or failure
func (p *Pack) Done() <-chan struct{} {
	return p.done
}

// Await blocks until the pack completes, the pack deadline passes or ctx ends
func (p *Pack) Await(ctx context.Context) PackResult {
	select {
	case <-p.done:
	case <-p.ctx.Done():
	case <-ctx.Done():
	}
	p.cancel()
	return p.result()
}

func (p *Pack) result() PackResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	res := PackResult{
		Success:  int(p.success.Load()),
		Failure:  int(p.failure.Load()),
		Timeout:  int(p.pending.Load()),
		Failures: make(map[uuid.UUID]error, len(p.failures)),
		Pending:  make(map[uuid.UUID]RuleNodeInfo, len(p.current)),
	}
	if res.Timeout < 0 {
		res.Timeout = 0
	}
	for id, err := range p.failures {
		res.Failures[id] = err
	}
	for id, info := range p.current {
		res.Pending[id] = info
	}
	return res
}

func (p *Pack) complete(msgID uuid.UUID, err error) {
	p.mu.Lock()
	delete(p.current, msgID)
	if err != nil {
		p.failures[msgID] = err
	}
	p.mu.Unlock()

	if err != nil {
		p.failure.Add(1)
	} else {
		p.success.Add(1)
	}
	if p.pending.Add(-1) == 0 {
		p.finish()
	}
}

func (p *Pack) finish() {
	p.doneOnce.Do(func() { close(p.done) })
}

type packCallback struct {
	pack     *Pack
	msgID    uuid.UUID
	finished atomic.Bool
}

func (c *packCallback) OnSuccess() {
	if c.finished.CompareAndSwap(false, true) {
		c.pack.complete(c.msgID, nil)
	}
}

func (c *packCallback) OnFailure(err error) {
	if c.finished.CompareAndSwap(false, true) {
		c.pack.complete(c.msgID, err)
	}
}

func (c *packCallback) OnProcessingStart(info RuleNodeInfo) {
	if c.finished.Load() {
		return
	}
	c.pack.mu.Lock()
	c.pack.current[c.msgID] = info
	c.pack.mu.Unlock()
}

func (c *packCallback) OnProcessingEnd(uuid.UUID) {}

func (c *packCallback) IsMsgValid() bool {
	return c.pack.ctx.Err() == nil
}
