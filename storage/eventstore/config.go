package eventstore

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/rulecore/errors"
	"github.com/c360/rulecore/metric"
	"github.com/c360/rulecore/storage"
)

// Backend names
const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
)

// Config selects and sizes an event store
type Config struct {
	Store string `json:"store" yaml:"store"`
	// Path is the bbolt file, required for the bolt backend
	Path string `json:"path" yaml:"path"`
	// MaxEventsPerEntity bounds each in-memory stream; the oldest events are dropped
	MaxEventsPerEntity int `json:"max_events_per_entity" yaml:"max_events_per_entity"`
	// TTL removes older events periodically; zero keeps events forever
	TTL time.Duration `json:"ttl" yaml:"ttl"`
	// CleanupInterval is how often expired events are removed
	CleanupInterval time.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`
}

// DefaultConfig returns a memory store holding 1000 events per stream
func DefaultConfig() Config {
	return Config{
		Store:              BackendMemory,
		MaxEventsPerEntity: 1000,
		TTL:                7 * 24 * time.Hour,
		CleanupInterval:    time.Hour,
	}
}

// Validate checks the backend selection
func (c Config) Validate() error {
	switch c.Store {
	case BackendMemory:
		if c.MaxEventsPerEntity < 0 {
			return errors.WrapInvalid(fmt.Errorf("%w: max_events_per_entity must not be negative", errors.ErrInvalidConfig),
				"Config", "Validate", "check memory store")
		}
	case BackendBolt:
		if c.Path == "" {
			return errors.WrapInvalid(fmt.Errorf("%w: bolt store requires a path", errors.ErrMissingConfig),
				"Config", "Validate", "check bolt store")
		}
	default:
		return errors.WrapInvalid(fmt.Errorf("%w: unknown event store %q", errors.ErrInvalidConfig, c.Store),
			"Config", "Validate", "check store type")
	}
	if c.TTL < 0 || c.CleanupInterval < 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: ttl and cleanup_interval must not be negative", errors.ErrInvalidConfig),
			"Config", "Validate", "check retention")
	}
	return nil
}

// Open creates the configured store
func Open(cfg Config, logger *slog.Logger, registry *metric.MetricsRegistry) (storage.EventStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Store == BackendBolt {
		return OpenBolt(cfg.Path, logger, registry)
	}
	return NewMemoryStore(cfg.MaxEventsPerEntity, registry)
}
