package actor

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/rulecore/errors"
	"github.com/c360/rulecore/message"
)

// mailbox owns one actor: its two queues, its lifecycle and the guarantee
// that at most one goroutine runs the actor at a time.
type mailbox struct {
	system     *System
	id         ID
	parent     ID
	hasParent  bool
	dispatcher *dispatcher
	actor      Actor
	logger     *slog.Logger

	throughput int
	burst      int

	mu         sync.Mutex
	high       []Msg
	normal     []Msg
	highStreak int

	// turn serializes Process with Destroy
	turn sync.Mutex

	busy       atomic.Bool
	ready      atomic.Bool
	destroying atomic.Bool
}

func (mb *mailbox) ID() ID { return mb.id }

func (mb *mailbox) Tell(msg Msg) { mb.enqueue(msg, false) }

func (mb *mailbox) TellWithHighPriority(msg Msg) { mb.enqueue(msg, true) }

func (mb *mailbox) enqueue(msg Msg, highPriority bool) {
	mb.mu.Lock()
	if mb.destroying.Load() {
		mb.mu.Unlock()
		notifyStopped(msg, StopReasonStopped)
		return
	}
	if highPriority {
		mb.high = append(mb.high, msg)
	} else {
		mb.normal = append(mb.normal, msg)
	}
	mb.mu.Unlock()

	if m := mb.system.metrics; m != nil {
		m.RecordMailboxDepth(mb.dispatcher.name, highPriority, 1)
	}
	mb.tryProcessQueue(true)
}

func (mb *mailbox) tryProcessQueue(newMsg bool) {
	if !mb.ready.Load() || mb.destroying.Load() {
		return
	}
	if !newMsg && mb.empty() {
		return
	}
	if mb.busy.CompareAndSwap(false, true) {
		if !mb.dispatcher.submit(mb.processMailbox) {
			mb.busy.Store(false)
		}
	}
}

func (mb *mailbox) empty() bool {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.high) == 0 && len(mb.normal) == 0
}

// poll takes the next message. High priority messages go first, but after
// burst consecutive ones a waiting normal message is served.
func (mb *mailbox) poll() (Msg, bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if len(mb.high) > 0 && (mb.burst <= 0 || mb.highStreak < mb.burst || len(mb.normal) == 0) {
		msg := mb.high[0]
		mb.high[0] = nil
		mb.high = mb.high[1:]
		mb.highStreak++
		return msg, true
	}
	if len(mb.normal) > 0 {
		msg := mb.normal[0]
		mb.normal[0] = nil
		mb.normal = mb.normal[1:]
		mb.highStreak = 0
		return msg, false
	}
	return nil, false
}

// initActor runs Init as the first task of the mailbox
func (mb *mailbox) initActor() {
	mb.busy.Store(true)
	if !mb.dispatcher.submit(func() { mb.tryInit(1) }) {
		mb.busy.Store(false)
	}
}

func (mb *mailbox) tryInit(attempt int) {
	if mb.destroying.Load() {
		return
	}

	err := mb.safeInit()
	if err == nil {
		if !mb.destroying.Load() {
			mb.logger.Debug("Actor initialized", "actor_id", mb.id.String(), "attempt", attempt)
			mb.ready.Store(true)
			mb.busy.Store(false)
			mb.tryProcessQueue(false)
		}
		return
	}

	if m := mb.system.metrics; m != nil {
		m.RecordActorFailure(mb.dispatcher.name, "init")
	}
	strategy := mb.actor.OnInitFailure(attempt, err)
	if strategy.Stop || attempt >= mb.system.settings.MaxActorInitAttempts {
		mb.logger.Warn("Failed to init actor, stopping",
			"actor_id", mb.id.String(), "attempt", attempt, "error", err)
		mb.system.stop(mb.id, StopReasonInitFailed, err)
		return
	}

	mb.logger.Info("Failed to init actor, retrying",
		"actor_id", mb.id.String(), "attempt", attempt, "delay", strategy.RetryDelay, "error", err)
	time.AfterFunc(strategy.RetryDelay, func() {
		mb.dispatcher.submit(func() { mb.tryInit(attempt + 1) })
	})
}

func (mb *mailbox) safeInit() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.WrapFatal(panicError(r), "Actor", "Init", mb.id.String())
		}
	}()
	return mb.actor.Init(mb)
}

func (mb *mailbox) processMailbox() {
	mb.turn.Lock()
	drained := false
	for i := 0; i < mb.throughput; i++ {
		if mb.destroying.Load() {
			drained = true
			break
		}
		msg, high := mb.poll()
		if msg == nil {
			drained = true
			break
		}
		if m := mb.system.metrics; m != nil {
			m.RecordMailboxDepth(mb.dispatcher.name, high, -1)
		}
		if mb.process(msg) {
			drained = true
			break
		}
	}
	mb.turn.Unlock()

	if drained {
		mb.busy.Store(false)
		mb.tryProcessQueue(false)
		return
	}
	if !mb.dispatcher.submit(mb.processMailbox) {
		mb.busy.Store(false)
	}
}

// process runs one message and reports whether the actor was stopped
func (mb *mailbox) process(msg Msg) (stopped bool) {
	err := mb.safeProcess(msg)
	if err == nil {
		return false
	}

	if m := mb.system.metrics; m != nil {
		m.RecordActorFailure(mb.dispatcher.name, "process")
	}
	strategy := mb.actor.OnProcessFailure(msg, err)
	if !strategy.Stop {
		mb.logger.Debug("Actor failed to process message",
			"actor_id", mb.id.String(), "msg_type", string(msg.MsgType()), "error", err)
		return false
	}

	mb.logger.Warn("Stopping actor after processing failure",
		"actor_id", mb.id.String(), "msg_type", string(msg.MsgType()), "error", err)
	if mb.hasParent {
		_ = mb.system.TellWithHighPriority(mb.parent, ChildFailedMsg{Child: mb.id, Err: err})
	}
	mb.system.stop(mb.id, StopReasonStopped, err)
	return true
}

func (mb *mailbox) safeProcess(msg Msg) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.WrapFatal(panicError(r), "Actor", "Process", mb.id.String())
		}
	}()
	if !mb.actor.Process(msg) {
		mb.logger.Warn("Unprocessed message", "actor_id", mb.id.String(), "msg_type", string(msg.MsgType()))
	}
	return nil
}

// destroy stops the actor once. Queued messages are released with reason.
func (mb *mailbox) destroy(reason StopReason, cause error) {
	if !mb.destroying.CompareAndSwap(false, true) {
		return
	}
	task := func() {
		mb.turn.Lock()
		defer mb.turn.Unlock()

		mb.ready.Store(false)
		func() {
			defer func() {
				if r := recover(); r != nil {
					mb.logger.Error("Actor destroy panicked", "actor_id", mb.id.String(), "panic", r)
				}
			}()
			mb.actor.Destroy(reason, cause)
		}()

		mb.mu.Lock()
		high, normal := mb.high, mb.normal
		mb.high, mb.normal = nil, nil
		mb.mu.Unlock()

		for _, msg := range high {
			notifyStopped(msg, reason)
		}
		for _, msg := range normal {
			notifyStopped(msg, reason)
		}
		if m := mb.system.metrics; m != nil {
			m.RecordMailboxDepth(mb.dispatcher.name, true, -len(high))
			m.RecordMailboxDepth(mb.dispatcher.name, false, -len(normal))
			m.RecordActorStopped(mb.dispatcher.name)
		}
		mb.logger.Debug("Actor stopped", "actor_id", mb.id.String(), "reason", reason.String())
	}
	if !mb.dispatcher.submit(task) {
		go task()
	}
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}

func notifyStopped(msg Msg, reason StopReason) {
	if s, ok := msg.(Stoppable); ok {
		s.OnActorStopped(reason)
	}
}

// Ctx implementation

func (mb *mailbox) Parent() (ID, bool) { return mb.parent, mb.hasParent }

func (mb *mailbox) System() *System { return mb.system }

func (mb *mailbox) TellActor(target ID, msg Msg) error { return mb.system.Tell(target, msg) }

func (mb *mailbox) GetOrCreateChildActor(id ID, dispatcher string, creator func() Creator) (Ref, error) {
	if ref, ok := mb.system.GetActor(id); ok {
		return ref, nil
	}
	return mb.system.CreateChildActor(dispatcher, creator(), mb.id)
}

func (mb *mailbox) BroadcastToChildren(msg Msg, highPriority bool) {
	mb.system.BroadcastToChildren(mb.id, msg, highPriority)
}

func (mb *mailbox) BroadcastToChildrenByType(msg Msg, childType message.EntityType) {
	mb.system.BroadcastToChildrenByType(mb.id, childType, msg)
}

func (mb *mailbox) FilterChildren(pred func(ID) bool) []ID {
	return mb.system.FilterChildren(mb.id, pred)
}

func (mb *mailbox) Stop(target ID) { mb.system.StopActor(target) }
