package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags_Defaults(t *testing.T) {
	t.Setenv("SENSINACT_LOG_LEVEL", "warn")

	cfg, err := parseFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, "", cfg.ConfigPath)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Zero(t, cfg.ShutdownTimeout)
	assert.NoError(t, validateFlags(cfg))
}

func TestParseFlags_DebugOverridesLevel(t *testing.T) {
	cfg, err := parseFlags([]string{"--debug", "--log-level=error", "--shutdown-timeout=3s"})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
}

func TestValidateFlags(t *testing.T) {
	tests := []struct {
		name    string
		cfg     CLIConfig
		wantErr bool
	}{
		{"valid", CLIConfig{LogLevel: "info", LogFormat: "text"}, false},
		{"bad level", CLIConfig{LogLevel: "trace", LogFormat: "json"}, true},
		{"bad format", CLIConfig{LogLevel: "info", LogFormat: "xml"}, true},
		{"missing file", CLIConfig{ConfigPath: "/does/not/exist.yaml", LogLevel: "info", LogFormat: "json"}, true},
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

func TestRun_Validate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notifier.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gateway:\n  name: test-gw\n"), 0o600))

	assert.NoError(t, run([]string{"--config", path, "--validate", "--log-format=text"}))
}

func TestInitializeConfiguration_EnvOverrides(t *testing.T) {
	t.Setenv("SENSINACT_GATEWAY_NAME", "from-env")

	cfg, err := initializeConfiguration(&CLIConfig{})
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Gateway.Name)
}

func TestSetupLogger(t *testing.T) {
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
