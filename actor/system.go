package actor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/c360/rulecore/errors"
	"github.com/c360/rulecore/message"
	"github.com/c360/rulecore/metric"
)

// Settings configures mailbox behavior for every actor of a System
type Settings struct {
	// Throughput is the number of messages an actor handles per turn
	// before yielding its worker
	Throughput int `json:"throughput" yaml:"throughput"`
	// HighPriorityBurst is how many high priority messages may be served in
	// a row while normal messages wait. Zero means no limit.
	HighPriorityBurst int `json:"high_priority_burst" yaml:"high_priority_burst"`
	// MaxActorInitAttempts bounds Init retries
	MaxActorInitAttempts int `json:"max_actor_init_attempts" yaml:"max_actor_init_attempts"`
}

// DefaultSettings returns the settings used when a field is left zero
func DefaultSettings() Settings {
	return Settings{
		Throughput:           5,
		HighPriorityBurst:    100,
		MaxActorInitAttempts: 10,
	}
}

// System owns dispatchers and the actor hierarchy
type System struct {
	settings Settings
	logger   *slog.Logger
	metrics  *metric.Metrics

	mu          sync.RWMutex
	dispatchers map[string]*dispatcher
	actors      map[ID]*mailbox
	children    map[ID]map[ID]struct{}
	stopped     bool
}

// NewSystem creates an actor system without dispatchers
func NewSystem(settings Settings, logger *slog.Logger, registry *metric.MetricsRegistry) *System {
	def := DefaultSettings()
	if settings.Throughput <= 0 {
		settings.Throughput = def.Throughput
	}
	if settings.MaxActorInitAttempts <= 0 {
		settings.MaxActorInitAttempts = def.MaxActorInitAttempts
	}
	if settings.HighPriorityBurst < 0 {
		settings.HighPriorityBurst = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &System{
		settings:    settings,
		logger:      logger.With("component", "actor-system"),
		metrics:     registry.CoreMetrics(),
		dispatchers: make(map[string]*dispatcher),
		actors:      make(map[ID]*mailbox),
		children:    make(map[ID]map[ID]struct{}),
	}
}

// CreateDispatcher registers a named pool of workers goroutines
func (s *System) CreateDispatcher(name string, workers int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dispatchers[name]; ok {
		return errors.WrapInvalid(fmt.Errorf("dispatcher %q already exists", name),
			"System", "CreateDispatcher", "register dispatcher")
	}
	s.dispatchers[name] = newDispatcher(name, workers)
	s.logger.Debug("Created dispatcher", "dispatcher", name, "workers", workers)
	return nil
}

// CreateRootActor creates an actor without a parent
func (s *System) CreateRootActor(dispatcher string, creator Creator) (Ref, error) {
	return s.createActor(dispatcher, creator, nil)
}

// CreateChildActor creates an actor under parent. If the id is already
// registered under the same parent the existing actor is returned.
func (s *System) CreateChildActor(dispatcher string, creator Creator, parent ID) (Ref, error) {
	return s.createActor(dispatcher, creator, &parent)
}

func (s *System) createActor(dispatcherName string, creator Creator, parent *ID) (Ref, error) {
	id := creator.ActorID()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, errors.WrapFatal(errors.ErrShuttingDown, "System", "CreateActor", id.String())
	}
	d, ok := s.dispatchers[dispatcherName]
	if !ok {
		s.mu.Unlock()
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrDispatcherNotFound, dispatcherName),
			"System", "CreateActor", id.String())
	}
	if existing, ok := s.actors[id]; ok {
		s.mu.Unlock()
		if existing.hasParent == (parent != nil) && (parent == nil || existing.parent == *parent) {
			return existing, nil
		}
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrActorAlreadyExists, id),
			"System", "CreateActor", "register actor")
	}
	if parent != nil {
		if _, ok := s.actors[*parent]; !ok {
			s.mu.Unlock()
			return nil, errors.WrapInvalid(fmt.Errorf("%w: parent %s", errors.ErrActorNotFound, parent),
				"System", "CreateActor", id.String())
		}
	}

	mb := &mailbox{
		system:     s,
		id:         id,
		dispatcher: d,
		actor:      creator.CreateActor(),
		logger:     s.logger,
		throughput: s.settings.Throughput,
		burst:      s.settings.HighPriorityBurst,
	}
	if parent != nil {
		mb.parent, mb.hasParent = *parent, true
		kids := s.children[*parent]
		if kids == nil {
			kids = make(map[ID]struct{})
			s.children[*parent] = kids
		}
		kids[id] = struct{}{}
	}
	s.actors[id] = mb
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordActorStarted(dispatcherName)
	}
	mb.initActor()
	return mb, nil
}

// GetActor returns a registered actor
func (s *System) GetActor(id ID) (Ref, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mb, ok := s.actors[id]
	if !ok {
		return nil, false
	}
	return mb, true
}

// Tell enqueues msg for target
func (s *System) Tell(target ID, msg Msg) error {
	return s.tell(target, msg, false)
}

// TellWithHighPriority enqueues msg ahead of normal messages
func (s *System) TellWithHighPriority(target ID, msg Msg) error {
	return s.tell(target, msg, true)
}

func (s *System) tell(target ID, msg Msg, highPriority bool) error {
	s.mu.RLock()
	mb, ok := s.actors[target]
	s.mu.RUnlock()
	if !ok {
		return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrActorNotFound, target),
			"System", "Tell", string(msg.MsgType()))
	}
	mb.enqueue(msg, highPriority)
	return nil
}

// BroadcastToChildren tells msg to every child of parent
func (s *System) BroadcastToChildren(parent ID, msg Msg, highPriority bool) {
	s.broadcast(s.FilterChildren(parent, nil), msg, highPriority)
}

// BroadcastToChildrenByType tells msg to the children of parent backed by
// entities of childType
func (s *System) BroadcastToChildrenByType(parent ID, childType message.EntityType, msg Msg) {
	ids := s.FilterChildren(parent, func(id ID) bool { return id.EntityType() == childType })
	s.broadcast(ids, msg, false)
}

func (s *System) broadcast(ids []ID, msg Msg, highPriority bool) {
	for _, id := range ids {
		if err := s.tell(id, msg, highPriority); err != nil {
			s.logger.Debug("Skipping broadcast to stopped child", "actor_id", id.String())
		}
	}
}

// FilterChildren returns the children of parent accepted by pred. A nil
// pred accepts all.
func (s *System) FilterChildren(parent ID, pred func(ID) bool) []ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ID
	for id := range s.children[parent] {
		if pred == nil || pred(id) {
			out = append(out, id)
		}
	}
	return out
}

// StopActor stops an actor after stopping its children
func (s *System) StopActor(id ID) {
	s.stop(id, StopReasonStopped, nil)
}

func (s *System) stop(id ID, reason StopReason, cause error) {
	s.mu.Lock()
	kids := s.children[id]
	delete(s.children, id)
	s.mu.Unlock()

	for child := range kids {
		s.stop(child, StopReasonStopped, nil)
	}

	s.mu.Lock()
	mb, ok := s.actors[id]
	if ok {
		delete(s.actors, id)
		if mb.hasParent {
			delete(s.children[mb.parent], id)
		}
	}
	s.mu.Unlock()

	if ok {
		mb.destroy(reason, cause)
	}
}

// Len returns the number of registered actors
func (s *System) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.actors)
}

// Stop stops every actor and waits for all dispatchers to drain
func (s *System) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	var roots []ID
	for id, mb := range s.actors {
		if !mb.hasParent {
			roots = append(roots, id)
		}
	}
	dispatchers := make([]*dispatcher, 0, len(s.dispatchers))
	for _, d := range s.dispatchers {
		dispatchers = append(dispatchers, d)
	}
	s.mu.Unlock()

	for _, id := range roots {
		s.stop(id, StopReasonStopped, nil)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, d := range dispatchers {
		g.Go(func() error { return d.shutdown(gctx) })
	}
	err := g.Wait()
	if err != nil {
		s.logger.Warn("Actor system stopped with pending work", "error", err)
		return err
	}
	s.logger.Info("Actor system stopped")
	return nil
}
