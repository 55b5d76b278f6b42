package ratelimit

import (
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/rulecore/metric"
)

// LimitedAPI names a rate limited operation
type LimitedAPI string

const (
	RuleChainDebugEvents       LimitedAPI = "RULE_CHAIN_DEBUG_EVENTS"
	CalculatedFieldDebugEvents LimitedAPI = "CALCULATED_FIELD_DEBUG_EVENTS"
	TenantMessages             LimitedAPI = "TENANT_MESSAGES"
	DeviceMessages             LimitedAPI = "DEVICE_MESSAGES"
)

const shardCount = 32

type key struct {
	api LimitedAPI
	id  string
}

type entry struct {
	limits   *Limits
	lastSeen time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[key]*entry
}

// Service keeps one bucket set per API and key. Buckets are created lazily
// on first check.
type Service struct {
	shards  [shardCount]shard
	now     func() time.Time
	logger  *slog.Logger
	metrics *metric.Metrics
}

// Option configures a Service
type Option func(*Service)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger used for invalid limit strings
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics records rejections in the given registry
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(s *Service) { s.metrics = registry.CoreMetrics() }
}

// NewService creates an empty Service
func NewService(opts ...Option) *Service {
	s := &Service{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	for i := range s.shards {
		s.shards[i].entries = make(map[key]*entry)
	}
	return s
}

func (s *Service) shardFor(k key) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k.api))
	_, _ = h.Write([]byte(k.id))
	return &s.shards[h.Sum32()%shardCount]
}

// CheckRateLimit consumes one event for (api, id) under config. An empty
// config always admits. An unparsable config is logged and admits.
func (s *Service) CheckRateLimit(api LimitedAPI, id, config string) bool {
	if config == "" {
		return true
	}

	k := key{api: api, id: id}
	sh := s.shardFor(k)

	sh.mu.Lock()
	e, ok := sh.entries[k]
	if !ok || e.limits.Config() != config {
		limits, err := newLimits(config, s.now)
		if err != nil {
			sh.mu.Unlock()
			s.logger.Warn("Ignoring invalid rate limit", "api", api, "key", id, "error", err)
			return true
		}
		e = &entry{limits: limits}
		sh.entries[k] = e
	}
	e.lastSeen = s.now()
	limits := e.limits
	sh.mu.Unlock()

	allowed := limits.TryConsume()
	if !allowed && s.metrics != nil {
		s.metrics.RecordRateLimitRejected(string(api))
	}
	return allowed
}

// Reset drops the bucket for (api, id); the next check starts full
func (s *Service) Reset(api LimitedAPI, id string) {
	k := key{api: api, id: id}
	sh := s.shardFor(k)
	sh.mu.Lock()
	delete(sh.entries, k)
	sh.mu.Unlock()
}

// Cleanup evicts buckets unused for longer than idle and returns how many
// were removed
func (s *Service) Cleanup(idle time.Duration) int {
	cutoff := s.now().Add(-idle)
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k, e := range sh.entries {
			if e.lastSeen.Before(cutoff) {
				delete(sh.entries, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len returns the number of live buckets
func (s *Service) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}
