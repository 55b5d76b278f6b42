package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/rulecore/actor"
	"github.com/c360/rulecore/debug"
	rcerrors "github.com/c360/rulecore/errors"
	"github.com/c360/rulecore/partition"
	"github.com/c360/rulecore/ruleengine"
	"github.com/c360/rulecore/storage/eventstore"
)

// DefaultEnvPrefix prefixes every environment override
const DefaultEnvPrefix = "RULECORE"

// Config is the complete process configuration
type Config struct {
	Version         string                `json:"version"          yaml:"version"`
	Node            NodeConfig            `json:"node"             yaml:"node"`
	NATS            NATSConfig            `json:"nats"             yaml:"nats"`
	Actors          actor.Settings        `json:"actors"           yaml:"actors"`
	RuleEngine      ruleengine.Settings   `json:"rule_engine"      yaml:"rule_engine"`
	Partitioning    partition.Config      `json:"partitioning"     yaml:"partitioning"`
	Debug           debug.Config          `json:"debug"            yaml:"debug"`
	Persister       debug.PersisterConfig `json:"persister"        yaml:"persister"`
	Events          eventstore.Config     `json:"events"           yaml:"events"`
	Metrics         MetricsConfig         `json:"metrics"          yaml:"metrics"`
	RuleChains      string                `json:"rule_chains"      yaml:"rule_chains"`
	ShutdownTimeout time.Duration         `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	// RateLimitIdle drops token buckets unused for this long
	RateLimitIdle time.Duration `json:"rate_limit_idle" yaml:"rate_limit_idle"`
}

// NodeConfig identifies this process in the cluster
type NodeConfig struct {
	// ID is a ULID, or "auto" to generate one and keep it in DataDir
	ID      string `json:"id"       yaml:"id"`
	DataDir string `json:"data_dir" yaml:"data_dir"`
}

// NATSConfig configures the cluster transport. With Enabled false the
// node runs standalone on an in-process transport.
type NATSConfig struct {
	Enabled       bool          `json:"enabled"             yaml:"enabled"`
	URLs          []string      `json:"urls"                yaml:"urls"`
	MaxReconnects int           `json:"max_reconnects"      yaml:"max_reconnects"`
	ReconnectWait time.Duration `json:"reconnect_wait"      yaml:"reconnect_wait"`
	Username      string        `json:"username,omitempty"  yaml:"username,omitempty"`
	Password      string        `json:"password,omitempty"  yaml:"password,omitempty"`
	Token         string        `json:"token,omitempty"     yaml:"token,omitempty"`
	TLS           NATSTLSConfig `json:"tls,omitempty"       yaml:"tls,omitempty"`

	// Stream is the JetStream work queue holding the partition topics
	Stream string        `json:"stream"  yaml:"stream"`
	MaxAge time.Duration `json:"max_age" yaml:"max_age"`
	// PackTimeout bounds one message in the rule engine before redelivery
	PackTimeout time.Duration `json:"pack_timeout" yaml:"pack_timeout"`

	// MembersBucket holds node heartbeats; entries expire after MembersTTL
	MembersBucket     string        `json:"members_bucket"     yaml:"members_bucket"`
	MembersTTL        time.Duration `json:"members_ttl"        yaml:"members_ttl"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval" yaml:"heartbeat_interval"`

	// ChainsBucket distributes rule chain definitions between nodes
	ChainsBucket string `json:"chains_bucket" yaml:"chains_bucket"`
}

// NATSTLSConfig holds client certificate files
type NATSTLSConfig struct {
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"  yaml:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty"   yaml:"ca_file,omitempty"`
}

// Enabled reports whether any TLS file is set
func (t NATSTLSConfig) Enabled() bool {
	return t.CertFile != "" || t.KeyFile != "" || t.CAFile != ""
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr"    yaml:"addr"`
	Path    string `json:"path"    yaml:"path"`
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe configuration wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{
		config: cfg,
	}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update validates and replaces the configuration
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}

	clone := *c
	clone.NATS.URLs = append([]string(nil), c.NATS.URLs...)
	clone.Partitioning.Queues = append([]partition.QueueConfig(nil), c.Partitioning.Queues...)
	return &clone
}

// Default returns a standalone node configuration
func Default() *Config {
	return &Config{
		Version: "1.0.0",
		Node: NodeConfig{
			ID:      "auto",
			DataDir: "./data",
		},
		NATS: NATSConfig{
			URLs:              []string{"nats://localhost:4222"},
			MaxReconnects:     -1,
			ReconnectWait:     2 * time.Second,
			Stream:            "RULECORE",
			MaxAge:            24 * time.Hour,
			PackTimeout:       60 * time.Second,
			MembersBucket:     "rulecore_members",
			MembersTTL:        30 * time.Second,
			HeartbeatInterval: 5 * time.Second,
			ChainsBucket:      "rulecore_chains",
		},
		Actors:          actor.DefaultSettings(),
		RuleEngine:      ruleengine.DefaultSettings(),
		Partitioning:    partition.DefaultConfig(),
		Debug:           debug.DefaultConfig(),
		Persister:       debug.DefaultPersisterConfig(),
		Events:          eventstore.DefaultConfig(),
		Metrics:         MetricsConfig{Enabled: true, Addr: ":9090", Path: "/metrics"},
		ShutdownTimeout: 30 * time.Second,
		RateLimitIdle:   time.Hour,
	}
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.Node.DataDir == "" {
		return invalid("node.data_dir is required")
	}
	if c.Actors.Throughput <= 0 {
		return invalid("actors.throughput must be positive")
	}
	if c.Actors.HighPriorityBurst < 0 {
		return invalid("actors.high_priority_burst must not be negative")
	}
	if c.RuleEngine.MaxRuleNodeExecutionsPerMessage < 0 {
		return invalid("rule_engine.max_rule_node_executions_per_message must not be negative")
	}
	if c.ShutdownTimeout <= 0 {
		return invalid("shutdown_timeout must be positive")
	}

	if err := c.validatePartitioning(); err != nil {
		return err
	}
	if err := c.Events.Validate(); err != nil {
		return err
	}
	if c.Persister.Workers <= 0 || c.Persister.QueueSize <= 0 {
		return invalid("persister.workers and persister.queue_size must be positive")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return invalid("metrics.addr is required when metrics are enabled")
	}
	if c.NATS.Enabled {
		if err := c.validateNATS(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validatePartitioning() error {
	switch c.Partitioning.HashFunction {
	case partition.HashMurmur3128, partition.HashMurmur332, partition.HashSHA256:
	default:
		return invalid(fmt.Sprintf("partitioning.hash_function %q is not supported", c.Partitioning.HashFunction))
	}
	if len(c.Partitioning.Queues) == 0 {
		return invalid("partitioning.queues must not be empty")
	}
	seen := make(map[partition.QueueKey]bool, len(c.Partitioning.Queues))
	for _, q := range c.Partitioning.Queues {
		if q.Name == "" || q.Topic == "" {
			return invalid("partitioning.queues entries need a name and a topic")
		}
		if q.Partitions <= 0 {
			return invalid(fmt.Sprintf("queue %s must have at least one partition", q.Name))
		}
		for _, part := range strings.Split(q.Topic, ".") {
			if !isValidNATSSubjectPart(part) {
				return invalid(fmt.Sprintf("queue %s topic %q is not a valid subject", q.Name, q.Topic))
			}
		}
		key := partition.QueueKey{Type: q.ServiceType, Queue: q.Name}
		if seen[key] {
			return invalid(fmt.Sprintf("queue %s is defined twice for %s", q.Name, q.ServiceType))
		}
		seen[key] = true
	}
	return nil
}

func (c *Config) validateNATS() error {
	if len(c.NATS.URLs) == 0 {
		return invalid("nats.urls must not be empty when nats is enabled")
	}
	for _, u := range c.NATS.URLs {
		if !strings.HasPrefix(u, "nats://") && !strings.HasPrefix(u, "tls://") {
			return invalid(fmt.Sprintf("nats url %q must use nats:// or tls://", u))
		}
	}
	if !isValidNATSSubjectPart(c.NATS.Stream) {
		return invalid(fmt.Sprintf("nats.stream %q is not a valid stream name", c.NATS.Stream))
	}
	if c.NATS.MembersBucket == "" || c.NATS.ChainsBucket == "" {
		return invalid("nats.members_bucket and nats.chains_bucket are required")
	}
	if c.NATS.HeartbeatInterval <= 0 || c.NATS.HeartbeatInterval >= c.NATS.MembersTTL {
		return invalid("nats.heartbeat_interval must be positive and below nats.members_ttl")
	}
	if (c.NATS.TLS.CertFile == "") != (c.NATS.TLS.KeyFile == "") {
		return invalid("nats.tls cert_file and key_file must be set together")
	}
	return nil
}

// isValidNATSSubjectPart checks one dot separated token
func isValidNATSSubjectPart(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r == ' ' || r == '.' || r == '*' || r == '>' || r < 0x20 {
			return false
		}
	}
	return true
}

func invalid(msg string) error {
	return rcerrors.WrapInvalid(fmt.Errorf("%w: %s", rcerrors.ErrInvalidConfig, msg), "Config", "Validate", "check configuration")
}

// Loader handles layered configuration loading
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	getenv     func(string) string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:     []string{},
		validation: true,
		envPrefix:  DefaultEnvPrefix,
		getenv:     os.Getenv,
	}
}

// AddLayer adds a configuration file; later layers override earlier ones
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads a single file over the defaults
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, every layer and the environment, then validates
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		cfg, err = l.mergeFromMap(cfg, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to merge %s: %w", path, err)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// loadRaw reads a JSON or YAML file as a generic map
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch configFormat(path) {
	case formatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, rcerrors.WrapInvalid(fmt.Errorf("%w: %v", rcerrors.ErrParsingFailed, err),
				"Loader", "loadRaw", "decode yaml")
		}
		// Depth is checked on the JSON form so both formats share one limit
		normalized, err := json.Marshal(raw)
		if err != nil {
			return nil, rcerrors.WrapInvalid(fmt.Errorf("%w: %v", rcerrors.ErrParsingFailed, err),
				"Loader", "loadRaw", "normalize yaml")
		}
		if err := checkJSONDepth(normalized); err != nil {
			return nil, rcerrors.WrapInvalid(err, "Loader", "loadRaw", "check yaml depth")
		}
	default:
		if err := checkJSONDepth(data); err != nil {
			return nil, rcerrors.WrapInvalid(err, "Loader", "loadRaw", "check json depth")
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, rcerrors.WrapInvalid(fmt.Errorf("%w: %v", rcerrors.ErrParsingFailed, err),
				"Loader", "loadRaw", "decode json")
		}
	}

	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// mergeFromMap overrides only the fields present in the map
func (l *Loader) mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if override == nil {
		return base, nil
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, rcerrors.WrapInvalid(fmt.Errorf("%w: %v", rcerrors.ErrInvalidConfig, err),
			"Loader", "mergeFromMap", "decode merged configuration")
	}
	// Fields hidden from JSON keep their values
	merged.Persister.Retry = base.Persister.Retry
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}

	return result
}

// durationFields lists every duration, by section, that files may write as
// a string such as "5s" or "7d"
var durationFields = map[string][]string{
	"":            {"shutdown_timeout", "rate_limit_idle"},
	"nats":        {"reconnect_wait", "max_age", "pack_timeout", "members_ttl", "heartbeat_interval"},
	"rule_engine": {"init_retry_delay", "session_inactivity_timeout", "session_check_interval"},
	"debug":       {"max_debug_duration"},
	"events":      {"ttl", "cleanup_interval"},
}

// parseDurations converts duration strings to nanoseconds for json unmarshaling
func parseDurations(data map[string]any) error {
	for section, keys := range durationFields {
		target := data
		if section != "" {
			m, ok := data[section].(map[string]any)
			if !ok {
				continue
			}
			target = m
		}
		for _, key := range keys {
			s, ok := target[key].(string)
			if !ok {
				continue
			}
			d, err := parseDurationWithDays(s)
			if err != nil {
				return rcerrors.WrapInvalid(fmt.Errorf("%w: %s.%s: %v", rcerrors.ErrInvalidConfig, section, key, err),
					"Loader", "parseDurations", "parse duration")
			}
			target[key] = d.Nanoseconds()
		}
	}
	return nil
}

// parseDurationWithDays accepts time.ParseDuration input plus whole days ("7d")
func parseDurationWithDays(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// applyEnvOverrides applies PREFIX_* variables over the loaded file
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	lookup := func(name string) (string, error) {
		key := l.envPrefix + "_" + name
		val := l.getenv(key)
		if err := checkEnvValue(key, val); err != nil {
			return "", rcerrors.WrapInvalid(err, "Loader", "applyEnvOverrides", "read "+key)
		}
		return val, nil
	}

	overrides := []struct {
		name  string
		apply func(string)
	}{
		{"NODE_ID", func(v string) { cfg.Node.ID = v }},
		{"DATA_DIR", func(v string) { cfg.Node.DataDir = v }},
		{"NATS_URL", func(v string) {
			cfg.NATS.URLs = strings.Split(v, ",")
			cfg.NATS.Enabled = true
		}},
		{"NATS_USERNAME", func(v string) { cfg.NATS.Username = v }},
		{"NATS_PASSWORD", func(v string) { cfg.NATS.Password = v }},
		{"NATS_TOKEN", func(v string) { cfg.NATS.Token = v }},
		{"RULE_CHAINS", func(v string) { cfg.RuleChains = v }},
		{"METRICS_ADDR", func(v string) { cfg.Metrics.Addr = v }},
	}
	for _, o := range overrides {
		val, err := lookup(o.name)
		if err != nil {
			return err
		}
		if val != "" {
			o.apply(val)
		}
	}
	return nil
}

// SaveToFile writes the configuration as JSON or YAML, by extension
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	if configFormat(path) == formatYAML {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}
	return writeConfigFile(path, data)
}

// String returns a JSON representation with secrets removed
func (c *Config) String() string {
	redacted := c.Clone()
	if redacted.NATS.Password != "" {
		redacted.NATS.Password = "***"
	}
	if redacted.NATS.Token != "" {
		redacted.NATS.Token = "***"
	}
	data, _ := json.MarshalIndent(redacted, "", "  ")
	return string(data)
}

// CompareVersions compares two semver version strings
// Returns:
//
//	-1 if v1 < v2
//	 0 if v1 == v2
//	 1 if v1 > v2
//	error if either version is invalid
func CompareVersions(v1, v2 string) (int, error) {
	a, err := parseSemVer(v1)
	if err != nil {
		return 0, fmt.Errorf("invalid version '%s': %w", v1, err)
	}
	b, err := parseSemVer(v2)
	if err != nil {
		return 0, fmt.Errorf("invalid version '%s': %w", v2, err)
	}

	for i := range a {
		if a[i] != b[i] {
			if a[i] > b[i] {
				return 1, nil
			}
			return -1, nil
		}
	}
	return 0, nil
}

// parseSemVer parses "major.minor.patch" with an optional v prefix
func parseSemVer(version string) ([3]int, error) {
	var out [3]int
	if version == "" {
		return out, errors.New("version cannot be empty")
	}

	parts := strings.Split(strings.TrimPrefix(version, "v"), ".")
	if len(parts) != 3 {
		return out, fmt.Errorf("version must be in format 'major.minor.patch', got '%s'", version)
	}
	names := [3]string{"major", "minor", "patch"}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return out, fmt.Errorf("invalid %s version '%s': %w", names[i], p, err)
		}
		out[i] = n
	}
	return out, nil
}
