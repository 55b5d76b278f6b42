package debug

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/rulecore/message"
	"github.com/c360/rulecore/metric"
	"github.com/c360/rulecore/ratelimit"
)

// RateLimitReachedMessage is the text of the notice saved when a tenant
// first exhausts its debug budget
const RateLimitReachedMessage = "Reached debug mode rate limit!"

// Config controls debug event emission
type Config struct {
	ServiceID string `json:"service_id" yaml:"service_id"`
	// PerTenantEnabled turns on the per-tenant rule node debug budget
	PerTenantEnabled bool `json:"per_tenant_enabled" yaml:"per_tenant_enabled"`
	// PerTenantLimits is the budget, as "capacity:seconds" pairs
	PerTenantLimits string `json:"per_tenant_limits" yaml:"per_tenant_limits"`
	// CalculatedFieldLimits is the per-tenant budget for calculated field events
	CalculatedFieldLimits string `json:"calculated_field_limits" yaml:"calculated_field_limits"`
	// MaxDebugDuration bounds full debug mode on a rule node
	MaxDebugDuration time.Duration `json:"max_debug_duration" yaml:"max_debug_duration"`
}

// DefaultConfig returns a 50000 per hour tenant budget and a 15 minute
// full debug window
func DefaultConfig() Config {
	return Config{
		ServiceID:             "rulecore",
		PerTenantEnabled:      true,
		PerTenantLimits:       "50000:3600",
		CalculatedFieldLimits: "50000:3600",
		MaxDebugDuration:      15 * time.Minute,
	}
}

// TenantDebugLimits is the debug budget of one tenant and whether the
// rate limit notice was already saved for it
type TenantDebugLimits struct {
	mu                  sync.Mutex
	limits              *ratelimit.Limits
	ruleChainEventSaved bool
}

const tenantShards = 16

type tenantShard struct {
	mu      sync.Mutex
	tenants map[uuid.UUID]*TenantDebugLimits
}

// Emitter builds debug events, applies the tenant budgets and hands the
// events to an AsyncPersister
type Emitter struct {
	cfg        Config
	persister  *AsyncPersister
	rateLimits *ratelimit.Service
	logger     *slog.Logger
	metrics    *metric.Metrics
	now        func() time.Time

	shards [tenantShards]tenantShard
}

// EmitterOption configures an Emitter
type EmitterOption func(*Emitter)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) EmitterOption {
	return func(e *Emitter) { e.now = now }
}

// NewEmitter creates an Emitter. rateLimits may be nil when calculated
// field events are not limited.
func NewEmitter(cfg Config, persister *AsyncPersister, rateLimits *ratelimit.Service,
	logger *slog.Logger, registry *metric.MetricsRegistry, opts ...EmitterOption,
) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Emitter{
		cfg:        cfg,
		persister:  persister,
		rateLimits: rateLimits,
		logger:     logger.With("component", "debug-emitter"),
		metrics:    registry.CoreMetrics(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	for i := range e.shards {
		e.shards[i].tenants = make(map[uuid.UUID]*TenantDebugLimits)
	}
	return e
}

// MaxDebugDuration returns the configured full debug window
func (e *Emitter) MaxDebugDuration() time.Duration {
	return e.cfg.MaxDebugDuration
}

// ShouldPersist applies node debug settings at the emitter's clock
func (e *Emitter) ShouldPersist(settings Settings, relationTypes []string) bool {
	return settings.ShouldPersist(relationTypes, e.now(), e.cfg.MaxDebugDuration)
}

func (e *Emitter) shard(tenantID uuid.UUID) *tenantShard {
	return &e.shards[tenantID[15]%tenantShards]
}

func (e *Emitter) tenantLimits(tenantID uuid.UUID) (*TenantDebugLimits, error) {
	sh := e.shard(tenantID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if tl, ok := sh.tenants[tenantID]; ok {
		return tl, nil
	}
	limits, err := ratelimit.NewLimitsWithClock(e.cfg.PerTenantLimits, e.now)
	if err != nil {
		return nil, err
	}
	tl := &TenantDebugLimits{limits: limits}
	sh.tenants[tenantID] = tl
	return tl, nil
}

// CheckLimits consumes one unit of the tenant's debug budget. When the
// budget is exhausted for the first time a single rule chain notice is
// saved for msg's rule chain; later rejections are silent until
// ResetTenant.
func (e *Emitter) CheckLimits(tenantID uuid.UUID, msg *message.Msg, err error) bool {
	if !e.cfg.PerTenantEnabled {
		return true
	}
	tl, lerr := e.tenantLimits(tenantID)
	if lerr != nil {
		e.logger.Warn("Invalid debug rate limit, not limiting", "tenant_id", tenantID, "error", lerr)
		return true
	}
	if tl.limits.TryConsume() {
		return true
	}

	if e.metrics != nil {
		e.metrics.RecordDebugRateLimited()
	}
	tl.mu.Lock()
	notify := !tl.ruleChainEventSaved
	tl.ruleChainEventSaved = true
	tl.mu.Unlock()

	if notify {
		e.persistRuleChainDebugModeEvent(tenantID, msg.RuleChainID(), err)
	}
	e.logger.Debug("Tenant reached debug rate limit", "tenant_id", tenantID, "msg_id", msg.ID())
	return false
}

// ResetTenant drops the tenant's budget and notice flag, as on a tenant
// profile update
func (e *Emitter) ResetTenant(tenantID uuid.UUID) {
	sh := e.shard(tenantID)
	sh.mu.Lock()
	delete(sh.tenants, tenantID)
	sh.mu.Unlock()
}

func (e *Emitter) persistRuleChainDebugModeEvent(tenantID, ruleChainID uuid.UUID, cause error) *Task {
	ev := &RuleChainDebugEvent{
		EventBase: newBase(tenantID, ruleChainID, e.cfg.ServiceID, e.now()),
		Message:   RateLimitReachedMessage,
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	return e.persister.PersistEventAsync(ev)
}

// PersistDebugInput records msg entering the rule node entity. It returns
// nil when the tenant budget suppressed the event.
func (e *Emitter) PersistDebugInput(tenantID uuid.UUID, entity message.EntityID, msg *message.Msg,
	relationType string, err error, failureMessage string,
) *Task {
	if !e.CheckLimits(tenantID, msg, err) {
		return nil
	}
	return e.persistDebug(tenantID, entity, DirectionIn, msg, relationType, err, failureMessage)
}

// PersistDebugOutput records msg leaving the rule node entity over
// relationType
func (e *Emitter) PersistDebugOutput(tenantID uuid.UUID, entity message.EntityID, msg *message.Msg,
	relationType string, err error, failureMessage string,
) *Task {
	if !e.CheckLimits(tenantID, msg, err) {
		return nil
	}
	return e.persistDebug(tenantID, entity, DirectionOut, msg, relationType, err, failureMessage)
}

func (e *Emitter) persistDebug(tenantID uuid.UUID, entity message.EntityID, direction string, msg *message.Msg,
	relationType string, err error, failureMessage string,
) *Task {
	md, _ := json.Marshal(msg.Metadata())
	ev := &RuleNodeDebugEvent{
		EventBase:    newBase(tenantID, entity.ID, e.cfg.ServiceID, e.now()),
		Direction:    direction,
		EventEntity:  msg.Originator(),
		MsgID:        msg.ID(),
		MsgType:      msg.Type(),
		DataType:     msg.DataType().String(),
		RelationType: relationType,
		Data:         msg.Data(),
		Metadata:     string(md),
	}
	switch {
	case err != nil:
		ev.Error = err.Error()
	case failureMessage != "":
		ev.Error = failureMessage
	}
	return e.persister.PersistEventAsync(ev)
}

// PersistCalculatedFieldDebugEvent records a calculated field evaluation
// against entity. Arguments are stored as a JSON object.
func (e *Emitter) PersistCalculatedFieldDebugEvent(tenantID, calculatedFieldID uuid.UUID, entity message.EntityID,
	arguments map[string]string, msgID uuid.UUID, msgType string, result string, errMsg string,
) *Task {
	if e.rateLimits != nil &&
		!e.rateLimits.CheckRateLimit(ratelimit.CalculatedFieldDebugEvents, tenantID.String(), e.cfg.CalculatedFieldLimits) {
		e.logger.Debug("Calculated field debug event rate limited", "tenant_id", tenantID, "cf_id", calculatedFieldID)
		return nil
	}

	ev := &CalculatedFieldDebugEvent{
		EventBase:   newBase(tenantID, calculatedFieldID, e.cfg.ServiceID, e.now()),
		EventEntity: entity,
		MsgID:       msgID,
		MsgType:     msgType,
		Result:      result,
		Error:       errMsg,
	}
	if len(arguments) > 0 {
		args, _ := json.Marshal(arguments)
		ev.Arguments = string(args)
	}
	return e.persister.PersistEventAsync(ev)
}

// PersistLifecycleEvent records a component lifecycle transition such as
// STARTED, UPDATED or STOPPED
func (e *Emitter) PersistLifecycleEvent(tenantID uuid.UUID, entity message.EntityID, lifecycleType string, err error) *Task {
	ev := &LifecycleEvent{
		EventBase:     newBase(tenantID, entity.ID, e.cfg.ServiceID, e.now()),
		LifecycleType: lifecycleType,
		Success:       err == nil,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return e.persister.PersistEventAsync(ev)
}

// PersistError records a failed component method
func (e *Emitter) PersistError(tenantID uuid.UUID, entity message.EntityID, method string, err error) *Task {
	ev := &ErrorEvent{
		EventBase: newBase(tenantID, entity.ID, e.cfg.ServiceID, e.now()),
		Method:    method,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return e.persister.PersistEventAsync(ev)
}
