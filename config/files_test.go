package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rcerrors "github.com/c360/rulecore/errors"
)

func TestConfigFormat(t *testing.T) {
	assert.Equal(t, formatJSON, configFormat("a/b/config.JSON"))
	assert.Equal(t, formatYAML, configFormat("config.yml"))
	assert.Equal(t, formatYAML, configFormat("config.yaml"))
	assert.Equal(t, formatUnknown, configFormat("config.toml"))
	assert.Equal(t, formatUnknown, configFormat("config"))
}

func TestReadConfigFile(t *testing.T) {
	dir := t.TempDir()

	ok := writeFile(t, "ok.json", `{"node": {}}`)
	data, err := readConfigFile(ok)
	require.NoError(t, err)
	assert.JSONEq(t, `{"node": {}}`, string(data))

	tests := []struct {
		name string
		path string
	}{
		{"unsupported extension", writeFile(t, "config.ini", "x=1")},
		{"missing", filepath.Join(dir, "missing.yaml")},
		{"directory", func() string {
			p := filepath.Join(dir, "dir.json")
			require.NoError(t, os.Mkdir(p, 0o700))
			return p
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readConfigFile(tt.path)
			require.Error(t, err)
			assert.True(t, rcerrors.IsInvalid(err))
			assert.ErrorIs(t, err, rcerrors.ErrInvalidConfig)
		})
	}
}

func TestWriteConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, writeConfigFile(path, []byte("node: {}\n")))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	assert.Error(t, writeConfigFile(filepath.Join(t.TempDir(), "out.txt"), nil))
	assert.Error(t, writeConfigFile(path, make([]byte, maxConfigSize+1)))
}

func TestCheckEnvValue(t *testing.T) {
	assert.NoError(t, checkEnvValue("RULECORE_NODE_ID", ""))
	assert.NoError(t, checkEnvValue("RULECORE_NODE_ID", "node-1"))
	assert.ErrorIs(t, checkEnvValue("RULECORE_NODE_ID", "a\x00b"), rcerrors.ErrInvalidConfig)
	assert.ErrorIs(t, checkEnvValue("RULECORE_NODE_ID", strings.Repeat("x", maxEnvVarLen+1)), rcerrors.ErrInvalidConfig)
}

func TestCheckJSONDepth(t *testing.T) {
	assert.NoError(t, checkJSONDepth([]byte(`{"a": [1, {"b": "]]]"}]}`)))
	assert.NoError(t, checkJSONDepth([]byte(nested(maxJSONDepth))))
	assert.ErrorIs(t, checkJSONDepth([]byte(nested(maxJSONDepth+1))), rcerrors.ErrInvalidData)
	assert.ErrorIs(t, checkJSONDepth([]byte(`{"a": [1, 2}`)), rcerrors.ErrParsingFailed)
}

func TestLoader_EnvOverrideRejected(t *testing.T) {
	loader := NewLoader()
	loader.getenv = func(key string) string {
		if key == "RULECORE_NODE_ID" {
			return "bad\x00id"
		}
		return ""
	}
	_, err := loader.LoadFile(writeFile(t, "config.json", `{}`))
	require.Error(t, err)
	assert.True(t, rcerrors.IsInvalid(err))
}
