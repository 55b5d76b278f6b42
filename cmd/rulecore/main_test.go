package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/rulecore/config"
)

func TestParseFlags(t *testing.T) {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	cfg, err := parseFlags(fs, []string{"-c", "rulecore.yaml", "--log-format=text", "--debug", "--shutdown-timeout=5s"})
	require.NoError(t, err)
	assert.Equal(t, "rulecore.yaml", cfg.ConfigPath)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
}

func TestParseFlags_EnvFallback(t *testing.T) {
	t.Setenv("RULECORE_LOG_LEVEL", "warn")
	t.Setenv("RULECORE_SHUTDOWN_TIMEOUT", "12s")

	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	cfg, err := parseFlags(fs, nil)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 12*time.Second, cfg.ShutdownTimeout)
	assert.Empty(t, cfg.ConfigPath)
}

func TestValidateFlags(t *testing.T) {
	existing := filepath.Join(t.TempDir(), "rulecore.json")
	require.NoError(t, os.WriteFile(existing, []byte("{}"), 0o600))

	tests := []struct {
		name    string
		cfg     CLIConfig
		wantErr bool
	}{
		{"defaults", CLIConfig{LogLevel: "info", LogFormat: "json"}, false},
		{"existing config", CLIConfig{ConfigPath: existing, LogLevel: "info", LogFormat: "text"}, false},
		{"missing config", CLIConfig{ConfigPath: "/nonexistent/rulecore.json", LogLevel: "info", LogFormat: "json"}, true},
		{"bad level", CLIConfig{LogLevel: "trace", LogFormat: "json"}, true},
		{"bad format", CLIConfig{LogLevel: "info", LogFormat: "xml"}, true},
		{"negative timeout", CLIConfig{LogLevel: "info", LogFormat: "json", ShutdownTimeout: -time.Second}, true},
		{"version skips checks", CLIConfig{ShowVersion: true, LogLevel: "trace"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFlags(&tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSetupLogger(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelInfo, parseLevel("unknown"))

	var buf bytes.Buffer
	logger := setupLogger(&buf, "info", "json")
	logger.Debug("hidden")
	logger.Info("shown", "key", "value")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, appName, entry["service"])
	assert.Equal(t, "value", entry["key"])
}

func TestLoadConfig_ShutdownOverride(t *testing.T) {
	cfg, err := loadConfig(&CLIConfig{ShutdownTimeout: 3 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.NATS.Enabled)
}

const standaloneChains = `{
  "ruleChains": [
    {
      "id": "8a0c4e2f-0000-4000-8000-000000000001",
      "tenantId": "8a0c4e2f-0000-4000-8000-0000000000aa",
      "name": "Root",
      "root": true,
      "firstNodeId": "8a0c4e2f-0000-4000-8000-000000000011",
      "nodes": [
        {"id": "8a0c4e2f-0000-4000-8000-000000000011", "type": "log", "name": "log"}
      ]
    }
  ]
}`

func standaloneConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	chains := filepath.Join(dir, "chains.json")
	require.NoError(t, os.WriteFile(chains, []byte(standaloneChains), 0o600))

	cfg := config.Default()
	cfg.Node.DataDir = dir
	cfg.Metrics.Enabled = false
	cfg.RuleChains = chains
	cfg.ShutdownTimeout = 5 * time.Second
	return cfg
}

func TestNode_StandaloneLifecycle(t *testing.T) {
	cfg := standaloneConfig(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	n, err := newNode(context.Background(), cfg, logger)
	require.NoError(t, err)
	assert.NotEmpty(t, n.id)
	assert.Nil(t, n.nats)
	assert.Nil(t, n.consumer)

	_, ok := n.chains.Root(uuid.MustParse("8a0c4e2f-0000-4000-8000-0000000000aa"))
	assert.True(t, ok)
	store, ok := n.monitor.Get("event_store")
	require.True(t, ok)
	assert.True(t, store.IsHealthy())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("node did not shut down")
	}

	assert.True(t, n.monitor.AggregateHealth(appName).IsUnhealthy())

	// the identity survives restarts
	again, err := newNode(context.Background(), cfg.Clone(), logger)
	require.NoError(t, err)
	assert.Equal(t, n.id, again.id)
	again.closeAll()
}

func TestNode_BadRuleChains(t *testing.T) {
	cfg := standaloneConfig(t)
	cfg.RuleChains = filepath.Join(cfg.Node.DataDir, "missing.json")

	_, err := newNode(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}
