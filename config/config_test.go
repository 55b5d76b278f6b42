package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rcerrors "github.com/c360/rulecore/errors"
	"github.com/c360/rulecore/partition"
	"github.com/c360/rulecore/storage/eventstore"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "auto", cfg.Node.ID)
	assert.False(t, cfg.NATS.Enabled)
	assert.Equal(t, partition.HashMurmur3128, cfg.Partitioning.HashFunction)
	assert.Equal(t, eventstore.BackendMemory, cfg.Events.Store)
}

func TestLoader_LoadJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"version": "1.2.0",
		"node": {"id": "auto", "data_dir": "/var/lib/rulecore"},
		"nats": {
			"enabled": true,
			"urls": ["nats://a:4222", "nats://b:4222"],
			"max_reconnects": 10,
			"reconnect_wait": "5s",
			"pack_timeout": "90s"
		},
		"rule_engine": {"max_rule_node_executions_per_message": 50, "init_retry_delay": "1s"},
		"debug": {"per_tenant_limits": "100:60", "max_debug_duration": "30m"},
		"events": {"store": "bolt", "path": "/var/lib/rulecore/events.db", "ttl": "7d"},
		"shutdown_timeout": "10s"
	}`)

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "1.2.0", cfg.Version)
	assert.Equal(t, "/var/lib/rulecore", cfg.Node.DataDir)
	assert.True(t, cfg.NATS.Enabled)
	assert.Len(t, cfg.NATS.URLs, 2)
	assert.Equal(t, 10, cfg.NATS.MaxReconnects)
	assert.Equal(t, 5*time.Second, cfg.NATS.ReconnectWait)
	assert.Equal(t, 90*time.Second, cfg.NATS.PackTimeout)
	assert.Equal(t, int32(50), cfg.RuleEngine.MaxRuleNodeExecutionsPerMessage)
	assert.Equal(t, time.Second, cfg.RuleEngine.InitRetryDelay)
	assert.Equal(t, "100:60", cfg.Debug.PerTenantLimits)
	assert.Equal(t, 30*time.Minute, cfg.Debug.MaxDebugDuration)
	assert.Equal(t, eventstore.BackendBolt, cfg.Events.Store)
	assert.Equal(t, 7*24*time.Hour, cfg.Events.TTL)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)

	// untouched sections keep their defaults
	assert.Equal(t, "RULECORE", cfg.NATS.Stream)
	assert.Equal(t, Default().Actors, cfg.Actors)
	assert.True(t, cfg.Debug.PerTenantEnabled)
}

func TestLoader_LoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
version: 1.0.1
node:
  data_dir: /tmp/rc
actors:
  throughput: 20
partitioning:
  hash_function: sha256
  queues:
    - service_type: TB_RULE_ENGINE
      name: Main
      topic: re.main
      partitions: 4
    - service_type: TB_RULE_ENGINE
      name: HighPriority
      topic: re.hp
      partitions: 2
events:
  cleanup_interval: 30m
`)

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "1.0.1", cfg.Version)
	assert.Equal(t, "/tmp/rc", cfg.Node.DataDir)
	assert.Equal(t, 20, cfg.Actors.Throughput)
	assert.Equal(t, Default().Actors.HighPriorityBurst, cfg.Actors.HighPriorityBurst)
	assert.Equal(t, partition.HashSHA256, cfg.Partitioning.HashFunction)
	require.Len(t, cfg.Partitioning.Queues, 2)
	assert.Equal(t, "HighPriority", cfg.Partitioning.Queues[1].Name)
	assert.Equal(t, 2, cfg.Partitioning.Queues[1].Partitions)
	assert.Equal(t, 30*time.Minute, cfg.Events.CleanupInterval)
}

func TestLoader_Layers(t *testing.T) {
	base := writeFile(t, "base.json", `{
		"node": {"data_dir": "/base"},
		"metrics": {"addr": ":9100"},
		"rule_chains": "/etc/rulecore/chains.json"
	}`)
	override := writeFile(t, "prod.yml", `
metrics:
  addr: ":9200"
`)

	loader := NewLoader()
	loader.AddLayer(base)
	loader.AddLayer(override)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "/base", cfg.Node.DataDir)
	assert.Equal(t, ":9200", cfg.Metrics.Addr)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "/etc/rulecore/chains.json", cfg.RuleChains)
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("RULECORE_NODE_ID", "01HZX3S0K4M1B2N3P4Q5R6S7T8")
	t.Setenv("RULECORE_DATA_DIR", "/env/data")
	t.Setenv("RULECORE_NATS_URL", "nats://n1:4222,nats://n2:4222")
	t.Setenv("RULECORE_NATS_PASSWORD", "secret")

	path := writeFile(t, "config.json", `{"node": {"data_dir": "/file/data"}}`)
	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "01HZX3S0K4M1B2N3P4Q5R6S7T8", cfg.Node.ID)
	assert.Equal(t, "/env/data", cfg.Node.DataDir)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, []string{"nats://n1:4222", "nats://n2:4222"}, cfg.NATS.URLs)
	assert.Equal(t, "secret", cfg.NATS.Password)
	assert.NotContains(t, cfg.String(), "secret")
}

func TestLoader_EnvOverrideRejectsNullByte(t *testing.T) {
	loader := NewLoader()
	loader.getenv = func(key string) string {
		if key == "RULECORE_DATA_DIR" {
			return "/data\x00/evil"
		}
		return ""
	}

	_, err := loader.Load()
	require.Error(t, err)
	assert.True(t, rcerrors.IsInvalid(err))
}

func TestLoader_Validation(t *testing.T) {
	tests := []struct {
		name   string
		config string
	}{
		{"empty data dir", `{"node": {"data_dir": ""}}`},
		{"zero throughput", `{"actors": {"throughput": 0}}`},
		{"negative loop limit", `{"rule_engine": {"max_rule_node_executions_per_message": -1}}`},
		{"unknown hash", `{"partitioning": {"hash_function": "md5"}}`},
		{"no queues", `{"partitioning": {"queues": []}}`},
		{"zero partitions", `{"partitioning": {"queues": [{"service_type": "TB_RULE_ENGINE", "name": "Main", "topic": "re", "partitions": 0}]}}`},
		{"bad topic", `{"partitioning": {"queues": [{"service_type": "TB_RULE_ENGINE", "name": "Main", "topic": "re.*", "partitions": 1}]}}`},
		{"duplicate queue", `{"partitioning": {"queues": [
			{"service_type": "TB_RULE_ENGINE", "name": "Main", "topic": "a", "partitions": 1},
			{"service_type": "TB_RULE_ENGINE", "name": "Main", "topic": "b", "partitions": 1}]}}`},
		{"unknown store", `{"events": {"store": "redis"}}`},
		{"bolt without path", `{"events": {"store": "bolt", "path": ""}}`},
		{"bad nats url", `{"nats": {"enabled": true, "urls": ["http://x"]}}`},
		{"heartbeat above ttl", `{"nats": {"enabled": true, "heartbeat_interval": "1m", "members_ttl": "30s"}}`},
		{"tls cert without key", `{"nats": {"enabled": true, "tls": {"cert_file": "/c.pem"}}}`},
		{"bad duration", `{"shutdown_timeout": "soon"}`},
		{"bad json", `{"node": `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "config.json", tt.config)
			_, err := NewLoader().LoadFile(path)
			assert.Error(t, err)
		})
	}
}

func TestLoader_ValidationDisabled(t *testing.T) {
	path := writeFile(t, "config.json", `{"actors": {"throughput": 0}}`)
	loader := NewLoader()
	loader.EnableValidation(false)
	cfg, err := loader.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Actors.Throughput)
}

func TestLoader_RejectsUnsupportedFiles(t *testing.T) {
	path := writeFile(t, "config.toml", `node = 1`)
	_, err := NewLoader().LoadFile(path)
	assert.Error(t, err)

	deep := writeFile(t, "deep.json", `{"a":`+nested(maxJSONDepth+1)+`}`)
	_, err = NewLoader().LoadFile(deep)
	assert.Error(t, err)
}

func nested(depth int) string {
	s := "1"
	for i := 0; i < depth; i++ {
		s = "[" + s + "]"
	}
	return s
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	for _, name := range []string{"saved.json", "saved.yaml"} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			cfg.Node.DataDir = "/saved"
			cfg.Debug.PerTenantLimits = "10:1"
			cfg.ShutdownTimeout = 3 * time.Second

			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, cfg.SaveToFile(path))

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

			loaded, err := NewLoader().LoadFile(path)
			require.NoError(t, err)
			assert.Equal(t, "/saved", loaded.Node.DataDir)
			assert.Equal(t, "10:1", loaded.Debug.PerTenantLimits)
			assert.Equal(t, 3*time.Second, loaded.ShutdownTimeout)
		})
	}
}

func TestConfig_StringIsJSON(t *testing.T) {
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(Default().String()), &out))
	assert.Contains(t, out, "rule_engine")
}

func TestParseDurationWithDays(t *testing.T) {
	d, err := parseDurationWithDays("3d")
	require.NoError(t, err)
	assert.Equal(t, 72*time.Hour, d)

	d, err = parseDurationWithDays("1h30m")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, d)

	_, err = parseDurationWithDays("xd")
	assert.Error(t, err)
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		v1, v2 string
		want   int
	}{
		{"1.0.0", "1.0.0", 0},
		{"v1.2.0", "1.1.9", 1},
		{"1.2.3", "1.10.0", -1},
		{"2.0.0", "1.99.99", 1},
	}
	for _, tt := range tests {
		got, err := CompareVersions(tt.v1, tt.v2)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s vs %s", tt.v1, tt.v2)
	}

	_, err := CompareVersions("1.0", "1.0.0")
	assert.Error(t, err)
	_, err = CompareVersions("", "1.0.0")
	assert.Error(t, err)
}
