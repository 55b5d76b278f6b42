package debug

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/rulecore/errors"
	"github.com/c360/rulecore/message"
	"github.com/c360/rulecore/metric"
	"github.com/c360/rulecore/pkg/retry"
	"github.com/c360/rulecore/ratelimit"
)

type fakeStore struct {
	mu       sync.Mutex
	events   []Event
	calls    int
	failures int
	err      error
}

func (s *fakeStore) SaveEvent(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeStore) saved() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func (s *fakeStore) ofType(t EventType) []Event {
	var out []Event
	for _, ev := range s.saved() {
		if ev.Type() == t {
			out = append(out, ev)
		}
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func quickRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func newPersister(t *testing.T, store EventService, registry *metric.MetricsRegistry) *AsyncPersister {
	t.Helper()
	p := NewAsyncPersister(store, PersisterConfig{Workers: 1, QueueSize: 100, Retry: quickRetry()}, nil, registry)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { _ = p.Stop(time.Second) })
	return p
}

func wait(t *testing.T, task *Task) error {
	t.Helper()
	require.NotNil(t, task)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return task.Wait(ctx)
}

func testMsg(t *testing.T, chainID uuid.UUID) *message.Msg {
	t.Helper()
	m, err := message.NewBuilder().
		Type(message.PostTelemetryRequest).
		Originator(message.NewEntityID(message.EntityDevice, uuid.New())).
		Metadata(message.NewMetadata(map[string]string{"deviceName": "d1"})).
		Data(`{"temperature":21}`).
		RuleChainID(chainID).
		Build()
	require.NoError(t, err)
	return m
}

func validBase() EventBase {
	return newBase(uuid.New(), uuid.New(), "svc", time.Now())
}

func TestEvents_Validate(t *testing.T) {
	tests := []struct {
		name  string
		ev    Event
		valid bool
	}{
		{"rule node ok", &RuleNodeDebugEvent{EventBase: validBase(), Direction: DirectionIn, MsgID: uuid.New(), Metadata: `{"a":"b"}`}, true},
		{"rule node bad direction", &RuleNodeDebugEvent{EventBase: validBase(), Direction: "SIDEWAYS", MsgID: uuid.New()}, false},
		{"rule node missing msg id", &RuleNodeDebugEvent{EventBase: validBase(), Direction: DirectionOut}, false},
		{"rule node bad metadata", &RuleNodeDebugEvent{EventBase: validBase(), Direction: DirectionOut, MsgID: uuid.New(), Metadata: "{"}, false},
		{"rule node oversized data", &RuleNodeDebugEvent{EventBase: validBase(), Direction: DirectionOut, MsgID: uuid.New(), Data: string(make([]byte, MaxDataSize+1))}, false},
		{"missing tenant", &RuleChainDebugEvent{EventBase: EventBase{ID: uuid.New(), EntityID: uuid.New(), ServiceID: "s", TS: 1}, Message: "m"}, false},
		{"missing service", &RuleChainDebugEvent{EventBase: EventBase{ID: uuid.New(), TenantID: uuid.New(), EntityID: uuid.New(), TS: 1}, Message: "m"}, false},
		{"chain ok", &RuleChainDebugEvent{EventBase: validBase(), Message: "m"}, true},
		{"chain no message", &RuleChainDebugEvent{EventBase: validBase()}, false},
		{"cf ok", &CalculatedFieldDebugEvent{EventBase: validBase(), EventEntity: message.NewEntityID(message.EntityDevice, uuid.New()), Arguments: `{"x":"1"}`}, true},
		{"cf bad args", &CalculatedFieldDebugEvent{EventBase: validBase(), EventEntity: message.NewEntityID(message.EntityDevice, uuid.New()), Arguments: "nope"}, false},
		{"cf no entity", &CalculatedFieldDebugEvent{EventBase: validBase()}, false},
		{"lifecycle ok", &LifecycleEvent{EventBase: validBase(), LifecycleType: "STARTED", Success: true}, true},
		{"lifecycle no type", &LifecycleEvent{EventBase: validBase()}, false},
		{"error ok", &ErrorEvent{EventBase: validBase(), Method: "onMsg", Error: "x"}, true},
		{"error no method", &ErrorEvent{EventBase: validBase()}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ev.Validate()
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestDecodeEvent(t *testing.T) {
	original := &RuleNodeDebugEvent{
		EventBase:    validBase(),
		Direction:    DirectionOut,
		EventEntity:  message.NewEntityID(message.EntityDevice, uuid.New()),
		MsgID:        uuid.New(),
		MsgType:      "POST_TELEMETRY_REQUEST",
		DataType:     "JSON",
		RelationType: message.RelationSuccess,
		Data:         `{"t":1}`,
		Metadata:     `{"k":"v"}`,
	}
	data, err := json.Marshal(original)
	require.NoError(t, err)

	decoded, err := DecodeEvent(TypeDebugRuleNode, data)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)

	_, err = DecodeEvent("BOGUS", data)
	assert.True(t, errors.IsInvalid(err))
	_, err = DecodeEvent(TypeError, []byte("{"))
	assert.ErrorIs(t, err, errors.ErrParsingFailed)
}

func TestSettings_Strategy(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	max := 15 * time.Minute

	tests := []struct {
		name     string
		settings Settings
		want     Strategy
	}{
		{"zero", Settings{}, StrategyDisabled},
		{"failures", FailuresOnly(), StrategyOnlyFailureEvents},
		{"all fresh", Settings{AllEnabled: true, UpdatedAt: now.Add(-time.Minute).UnixMilli()}, StrategyAllEvents},
		{"all expired", Settings{AllEnabled: true, UpdatedAt: now.Add(-time.Hour).UnixMilli()}, StrategyOnlyFailureEvents},
		{"until future", AllUntil(now.Add(time.Minute)), StrategyAllEvents},
		{"until past", Settings{AllEnabledUntil: now.Add(-time.Minute).UnixMilli()}, StrategyOnlyFailureEvents},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.settings.Strategy(now, max))
		})
	}

	unbounded := Settings{AllEnabled: true, UpdatedAt: 1}
	assert.Equal(t, StrategyAllEvents, unbounded.Strategy(now, 0))
}

func TestSettings_ShouldPersist(t *testing.T) {
	now := time.Now()
	success := []string{message.RelationSuccess}
	failure := []string{message.RelationFailure}

	assert.False(t, Settings{}.ShouldPersist(failure, now, time.Minute))
	assert.False(t, FailuresOnly().ShouldPersist(success, now, time.Minute))
	assert.True(t, FailuresOnly().ShouldPersist(failure, now, time.Minute))
	assert.True(t, AllUntil(now.Add(time.Minute)).ShouldPersist(success, now, time.Minute))
}

func TestAsyncPersister_RetriesTransientFailures(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	store := &fakeStore{failures: 2, err: errors.WrapTransient(errors.ErrStorageUnavailable, "store", "Save", "write")}
	p := newPersister(t, store, registry)

	task := p.PersistEventAsync(&ErrorEvent{EventBase: validBase(), Method: "m"})
	require.NoError(t, wait(t, task))

	assert.Len(t, store.saved(), 1)
	assert.Equal(t, 3, store.calls)
	assert.Equal(t, float64(1), testutil.ToFloat64(
		registry.CoreMetrics().DebugEventsPersisted.WithLabelValues(string(TypeError))))
}

func TestAsyncPersister_FatalFailureIsSwallowed(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	store := &fakeStore{failures: 100, err: errors.WrapFatal(errors.ErrStorageFull, "store", "Save", "write")}
	p := newPersister(t, store, registry)

	err := wait(t, p.PersistEventAsync(&ErrorEvent{EventBase: validBase(), Method: "m"}))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrStorageFull)
	assert.Equal(t, 1, store.calls)
	assert.Equal(t, float64(1), testutil.ToFloat64(
		registry.CoreMetrics().DebugEventsDropped.WithLabelValues("save_failed")))
}

func TestAsyncPersister_DropsMalformed(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	store := &fakeStore{}
	p := newPersister(t, store, registry)

	err := wait(t, p.PersistEventAsync(&ErrorEvent{Method: "m"}))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Empty(t, store.saved())
	assert.Equal(t, float64(1), testutil.ToFloat64(
		registry.CoreMetrics().DebugEventsDropped.WithLabelValues("invalid")))
}

func TestAsyncPersister_NotStarted(t *testing.T) {
	p := NewAsyncPersister(&fakeStore{}, PersisterConfig{}, nil, nil)
	err := wait(t, p.PersistEventAsync(&ErrorEvent{EventBase: validBase(), Method: "m"}))
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func newEmitter(t *testing.T, cfg Config, clock *fakeClock) (*Emitter, *fakeStore) {
	t.Helper()
	store := &fakeStore{}
	p := newPersister(t, store, nil)
	rl := ratelimit.NewService(ratelimit.WithClock(clock.Now))
	return NewEmitter(cfg, p, rl, nil, nil, WithClock(clock.Now)), store
}

func TestEmitter_RateLimitNoticeOnce(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cfg := DefaultConfig()
	cfg.PerTenantLimits = "1:60"
	e, store := newEmitter(t, cfg, clock)

	tenant := uuid.New()
	chainID := uuid.New()
	node := message.NewEntityID(message.EntityRuleNode, uuid.New())
	msg := testMsg(t, chainID)

	require.NoError(t, wait(t, e.PersistDebugInput(tenant, node, msg, "", nil, "")))
	assert.Nil(t, e.PersistDebugOutput(tenant, node, msg, message.RelationSuccess, nil, ""))
	assert.Nil(t, e.PersistDebugInput(tenant, node, msg, "", nil, ""))

	require.Eventually(t, func() bool { return len(store.ofType(TypeDebugRuleChain)) == 1 },
		5*time.Second, 5*time.Millisecond)
	notice := store.ofType(TypeDebugRuleChain)[0].(*RuleChainDebugEvent)
	assert.Equal(t, RateLimitReachedMessage, notice.Message)
	assert.Equal(t, chainID, notice.EntityID)
	assert.Equal(t, tenant, notice.TenantID)

	// the bucket refills, but the notice is not repeated
	clock.Advance(60 * time.Second)
	require.NoError(t, wait(t, e.PersistDebugInput(tenant, node, msg, "", nil, "")))
	assert.Nil(t, e.PersistDebugInput(tenant, node, msg, "", nil, ""))

	// other tenants are unaffected
	require.NoError(t, wait(t, e.PersistDebugInput(uuid.New(), node, msg, "", nil, "")))

	e.ResetTenant(tenant)
	require.NoError(t, wait(t, e.PersistDebugInput(tenant, node, msg, "", nil, "")))
	assert.Nil(t, e.PersistDebugInput(tenant, node, msg, "", nil, ""))
	require.Eventually(t, func() bool { return len(store.ofType(TypeDebugRuleChain)) == 2 },
		5*time.Second, 5*time.Millisecond)

	assert.Len(t, store.ofType(TypeDebugRuleNode), 4)
}

func TestEmitter_DisabledNeverLimits(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cfg := DefaultConfig()
	cfg.PerTenantEnabled = false
	cfg.PerTenantLimits = "1:60"
	e, _ := newEmitter(t, cfg, clock)

	msg := testMsg(t, uuid.New())
	for i := 0; i < 10; i++ {
		assert.True(t, e.CheckLimits(uuid.New(), msg, nil))
	}
	tenant := uuid.New()
	for i := 0; i < 10; i++ {
		assert.True(t, e.CheckLimits(tenant, msg, nil))
	}
}

func TestEmitter_DebugEventFields(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	e, _ := newEmitter(t, DefaultConfig(), clock)

	tenant := uuid.New()
	node := message.NewEntityID(message.EntityRuleNode, uuid.New())
	msg := testMsg(t, uuid.New())

	task := e.PersistDebugOutput(tenant, node, msg, message.RelationFailure, errors.ErrLoopDetected, "ignored")
	require.NoError(t, wait(t, task))
	ev := task.Event().(*RuleNodeDebugEvent)
	assert.Equal(t, DirectionOut, ev.Direction)
	assert.Equal(t, node.ID, ev.EntityID)
	assert.Equal(t, msg.Originator(), ev.EventEntity)
	assert.Equal(t, msg.ID(), ev.MsgID)
	assert.Equal(t, "POST_TELEMETRY_REQUEST", ev.MsgType)
	assert.Equal(t, "JSON", ev.DataType)
	assert.Equal(t, message.RelationFailure, ev.RelationType)
	assert.JSONEq(t, `{"deviceName":"d1"}`, ev.Metadata)
	assert.Equal(t, errors.ErrLoopDetected.Error(), ev.Error)
	assert.Equal(t, "rulecore", ev.ServiceID)
	assert.Equal(t, clock.Now().UnixMilli(), ev.TS)

	task = e.PersistDebugInput(tenant, node, msg, "", nil, "bad payload")
	require.NoError(t, wait(t, task))
	assert.Equal(t, "bad payload", task.Event().(*RuleNodeDebugEvent).Error)
}

func TestEmitter_CalculatedFieldEventsRateLimited(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cfg := DefaultConfig()
	cfg.CalculatedFieldLimits = "2:60"
	e, store := newEmitter(t, cfg, clock)

	tenant := uuid.New()
	device := message.NewEntityID(message.EntityDevice, uuid.New())
	cf := uuid.New()

	task := e.PersistCalculatedFieldDebugEvent(tenant, cf, device, map[string]string{"t": "21"}, uuid.New(), "POST_TELEMETRY_REQUEST", `{"f":69.8}`, "")
	require.NoError(t, wait(t, task))
	assert.JSONEq(t, `{"t":"21"}`, task.Event().(*CalculatedFieldDebugEvent).Arguments)

	require.NoError(t, wait(t, e.PersistCalculatedFieldDebugEvent(tenant, cf, device, nil, uuid.Nil, "", "", "")))
	assert.Nil(t, e.PersistCalculatedFieldDebugEvent(tenant, cf, device, nil, uuid.Nil, "", "", ""))
	assert.Len(t, store.ofType(TypeDebugCalculatedField), 2)
}

func TestEmitter_LifecycleAndErrorEvents(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	e, _ := newEmitter(t, DefaultConfig(), clock)
	tenant := uuid.New()
	chain := message.NewEntityID(message.EntityRuleChain, uuid.New())

	task := e.PersistLifecycleEvent(tenant, chain, "STARTED", nil)
	require.NoError(t, wait(t, task))
	assert.True(t, task.Event().(*LifecycleEvent).Success)

	task = e.PersistLifecycleEvent(tenant, chain, "STARTED", errors.ErrRuleNodeNotFound)
	require.NoError(t, wait(t, task))
	lc := task.Event().(*LifecycleEvent)
	assert.False(t, lc.Success)
	assert.Equal(t, errors.ErrRuleNodeNotFound.Error(), lc.Error)

	task = e.PersistError(tenant, chain, "onMsg", errors.ErrMsgInvalid)
	require.NoError(t, wait(t, task))
	assert.Equal(t, "onMsg", task.Event().(*ErrorEvent).Method)
}

func TestEmitter_ShouldPersist(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	e, _ := newEmitter(t, DefaultConfig(), clock)

	settings := Settings{AllEnabled: true, UpdatedAt: clock.Now().UnixMilli()}
	assert.True(t, e.ShouldPersist(settings, []string{message.RelationSuccess}))

	clock.Advance(e.MaxDebugDuration() + time.Second)
	assert.False(t, e.ShouldPersist(settings, []string{message.RelationSuccess}))
	assert.True(t, e.ShouldPersist(settings, []string{message.RelationFailure}))
}
