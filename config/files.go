package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	rcerrors "github.com/c360/rulecore/errors"
)

// Limits on configuration input. Rule chains synced from the KV bucket
// share them with files.
const (
	maxConfigSize = 10 << 20
	maxJSONDepth  = 100
	maxEnvVarLen  = 10000
)

type fileFormat int

const (
	formatUnknown fileFormat = iota
	formatJSON
	formatYAML
)

// configFormat picks the decoder from the file extension
func configFormat(path string) fileFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON
	case ".yaml", ".yml":
		return formatYAML
	default:
		return formatUnknown
	}
}

func invalidFile(path, action string, err error) error {
	return rcerrors.WrapInvalid(fmt.Errorf("%w: %s: %v", rcerrors.ErrInvalidConfig, path, err),
		"Loader", "readConfigFile", action)
}

// readConfigFile reads a regular JSON or YAML file of at most maxConfigSize
func readConfigFile(path string) ([]byte, error) {
	if configFormat(path) == formatUnknown {
		return nil, invalidFile(path, "check format", fmt.Errorf("only .json, .yaml and .yml are supported"))
	}
	path = filepath.Clean(path)
	info, err := os.Stat(path)
	if err != nil {
		return nil, invalidFile(path, "stat file", err)
	}
	if !info.Mode().IsRegular() {
		return nil, invalidFile(path, "stat file", fmt.Errorf("not a regular file"))
	}
	if info.Size() > maxConfigSize {
		return nil, invalidFile(path, "stat file", fmt.Errorf("%d bytes exceeds %d", info.Size(), maxConfigSize))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rcerrors.WrapTransient(err, "Loader", "readConfigFile", "read file")
	}
	return data, nil
}

// writeConfigFile saves data readable by the owner only
func writeConfigFile(path string, data []byte) error {
	if configFormat(path) == formatUnknown {
		return invalidFile(path, "check format", fmt.Errorf("only .json, .yaml and .yml are supported"))
	}
	if len(data) > maxConfigSize {
		return invalidFile(path, "check size", fmt.Errorf("%d bytes exceeds %d", len(data), maxConfigSize))
	}
	return os.WriteFile(filepath.Clean(path), data, 0o600)
}

// checkEnvValue rejects override values no configuration field can hold
func checkEnvValue(key, value string) error {
	switch {
	case len(value) > maxEnvVarLen:
		return fmt.Errorf("%w: %s is %d bytes, limit %d", rcerrors.ErrInvalidConfig, key, len(value), maxEnvVarLen)
	case strings.ContainsRune(value, 0):
		return fmt.Errorf("%w: %s contains a NUL byte", rcerrors.ErrInvalidConfig, key)
	}
	return nil
}

// checkJSONDepth walks the tokens of data and fails on nesting deeper than
// maxJSONDepth or on malformed JSON
func checkJSONDepth(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", rcerrors.ErrParsingFailed, err)
		}
		switch tok {
		case json.Delim('{'), json.Delim('['):
			depth++
			if depth > maxJSONDepth {
				return fmt.Errorf("%w: nesting deeper than %d", rcerrors.ErrInvalidData, maxJSONDepth)
			}
		case json.Delim('}'), json.Delim(']'):
			depth--
		}
	}
}
