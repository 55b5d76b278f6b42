package eventstore

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/rulecore/debug"
	"github.com/c360/rulecore/errors"
	"github.com/c360/rulecore/metric"
	"github.com/c360/rulecore/storage"
)

var _ storage.EventStore = (*MemoryStore)(nil)

type streamKey struct {
	tenantID  uuid.UUID
	entityID  uuid.UUID
	eventType debug.EventType
}

func streamOf(ev debug.Event) streamKey {
	h := ev.Header()
	return streamKey{tenantID: h.TenantID, entityID: h.EntityID, eventType: ev.Type()}
}

// MemoryStore keeps events in process. Each stream is bounded; saving into a
// full stream drops its oldest event.
type MemoryStore struct {
	mu      sync.RWMutex
	max     int
	streams map[streamKey][]debug.Event
	closed  bool
	metrics *storeMetrics
}

// NewMemoryStore creates a store holding at most maxPerEntity events per
// stream, unbounded when maxPerEntity is zero
func NewMemoryStore(maxPerEntity int, registry *metric.MetricsRegistry) (*MemoryStore, error) {
	m, err := newStoreMetrics(registry, BackendMemory)
	if err != nil {
		return nil, errors.Wrap(err, "MemoryStore", "New", "register metrics")
	}
	return &MemoryStore{
		max:     maxPerEntity,
		streams: make(map[streamKey][]debug.Event),
		metrics: m,
	}, nil
}

func errClosed(component, method string) error {
	return errors.WrapFatal(fmt.Errorf("%w: store closed", errors.ErrStorageUnavailable), component, method, "access store")
}

// SaveEvent inserts ev into its stream in timestamp order
func (s *MemoryStore) SaveEvent(ctx context.Context, ev debug.Event) error {
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "MemoryStore", "SaveEvent", "check context")
	}
	start := time.Now()
	key := streamOf(ev)
	ts := ev.Header().TS

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.metrics.recordError("save")
		return errClosed("MemoryStore", "SaveEvent")
	}
	stream := s.streams[key]
	// first position with a later timestamp keeps equal timestamps in arrival order
	i, _ := slices.BinarySearchFunc(stream, ts+1, func(e debug.Event, t int64) int {
		if e.Header().TS < t {
			return -1
		}
		return 1
	})
	stream = slices.Insert(stream, i, ev)
	if s.max > 0 && len(stream) > s.max {
		stream = slices.Delete(stream, 0, len(stream)-s.max)
	}
	s.streams[key] = stream
	s.mu.Unlock()

	s.metrics.recordWrite(string(ev.Type()), start)
	return nil
}

// Find returns the newest events of a stream first
func (s *MemoryStore) Find(ctx context.Context, tenantID, entityID uuid.UUID, eventType debug.EventType, limit int) ([]debug.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WrapTransient(err, "MemoryStore", "Find", "check context")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.metrics.recordError("find")
		return nil, errClosed("MemoryStore", "Find")
	}

	stream := s.streams[streamKey{tenantID: tenantID, entityID: entityID, eventType: eventType}]
	n := len(stream)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]debug.Event, 0, n)
	for i := len(stream) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, stream[i])
	}
	s.metrics.recordRead()
	return out, nil
}

// DeleteBefore drops events older than ts from every stream
func (s *MemoryStore) DeleteBefore(ctx context.Context, ts int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, errors.WrapTransient(err, "MemoryStore", "DeleteBefore", "check context")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errClosed("MemoryStore", "DeleteBefore")
	}

	removed := 0
	for key, stream := range s.streams {
		// streams are sorted, so expired events form a prefix
		i := 0
		for i < len(stream) && stream[i].Header().TS < ts {
			i++
		}
		if i == 0 {
			continue
		}
		removed += i
		if i == len(stream) {
			delete(s.streams, key)
			continue
		}
		s.streams[key] = slices.Clone(stream[i:])
	}
	s.metrics.recordDeleted(removed)
	return removed, nil
}

// Len returns the number of stored events
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, stream := range s.streams {
		n += len(stream)
	}
	return n
}

// Close discards all events
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.streams = nil
	return nil
}
