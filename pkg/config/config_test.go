package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 1100*time.Millisecond, cfg.ScanPeriod)
	assert.Equal(t, time.Duration(0), cfg.BetweenScanPeriod)
	assert.Equal(t, 10*time.Second, cfg.RegionExitPeriod)
	assert.Equal(t, 256, cfg.LoopCapacity)
	assert.Equal(t, 256, cfg.OutboxCapacity)
	assert.Equal(t, "WHEN_IN_USE", cfg.AuthorizationType)
	assert.Equal(t, 2*time.Second, cfg.StatePollInterval)
	assert.Equal(t, OutputAuto, cfg.OutputFormat)
	assert.Empty(t, cfg.SocketPath)
	assert.NoError(t, cfg.Validate(), "defaults MUST be valid")
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		expected logrus.Level
	}{
		{name: "creates logger with debug level", logLevel: "debug", expected: logrus.DebugLevel},
		{name: "creates logger with info level", logLevel: "info", expected: logrus.InfoLevel},
		{name: "creates logger with warn level", logLevel: "warn", expected: logrus.WarnLevel},
		{name: "falls back to info on garbage", logLevel: "loud", expected: logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.expected, logger.GetLevel())

			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "beaconscan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	// GOAL: Verify a YAML file overrides only the keys it names
	//
	// TEST SCENARIO: File sets scan period, socket and level → others keep defaults

	path := writeConfig(t, `
log_level: debug
scan_period: 500ms
region_exit_period: 30s
socket_path: /tmp/beaconscan.sock
authorization_type: always
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, logrus.DebugLevel, cfg.Level())
	assert.Equal(t, 500*time.Millisecond, cfg.ScanPeriod)
	assert.Equal(t, 30*time.Second, cfg.RegionExitPeriod)
	assert.Equal(t, "/tmp/beaconscan.sock", cfg.SocketPath)
	assert.Equal(t, "always", cfg.AuthorizationType)
	assert.Equal(t, 2*time.Second, cfg.StatePollInterval, "unset keys MUST keep their default")
	assert.Equal(t, 256, cfg.OutboxCapacity)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		message string
	}{
		{name: "unknown key", body: "scan_rate: 1s\n", message: "scan_rate"},
		{name: "bad duration", body: "scan_period: often\n", message: "failed to parse"},
		{name: "non-positive scan period", body: "scan_period: 0s\n", message: "scan_period must be positive"},
		{name: "negative between period", body: "between_scan_period: -1s\n", message: "between_scan_period"},
		{name: "bad level", body: "log_level: loud\n", message: "log_level"},
		{name: "bad authorization type", body: "authorization_type: never\n", message: "authorization_type"},
		{name: "bad output", body: "output_format: xml\n", message: "output_format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist, "missing file MUST surface the os error")
}
