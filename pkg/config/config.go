package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Output formats for the range and monitor commands.
const (
	OutputAuto  = "auto"
	OutputTable = "table"
	OutputJSON  = "json"
)

// Config holds application configuration
type Config struct {
	LogLevel string `json:"log_level" yaml:"log_level" default:"info"`

	// Radio duty cycle
	ScanPeriod        time.Duration `json:"scan_period" yaml:"scan_period" default:"1100ms"`
	BetweenScanPeriod time.Duration `json:"between_scan_period" yaml:"between_scan_period" default:"0s"`
	RegionExitPeriod  time.Duration `json:"region_exit_period" yaml:"region_exit_period" default:"10s"`

	// Host binding
	LoopCapacity   int    `json:"loop_capacity" yaml:"loop_capacity" default:"256"`
	OutboxCapacity int    `json:"outbox_capacity" yaml:"outbox_capacity" default:"256"`
	SocketPath     string `json:"socket_path,omitempty" yaml:"socket_path,omitempty"`
	MetricsAddr    string `json:"metrics_addr,omitempty" yaml:"metrics_addr,omitempty"`

	AuthorizationType string        `json:"authorization_type" yaml:"authorization_type" default:"WHEN_IN_USE"`
	StatePollInterval time.Duration `json:"state_poll_interval" yaml:"state_poll_interval" default:"2s"`

	OutputFormat string `json:"output_format" yaml:"output_format" default:"auto"` // auto, table, json
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. Keys the file omits keep their
// default; unknown keys are an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.ScanPeriod <= 0 {
		return fmt.Errorf("scan_period must be positive, got %v", c.ScanPeriod)
	}
	if c.BetweenScanPeriod < 0 {
		return fmt.Errorf("between_scan_period must not be negative, got %v", c.BetweenScanPeriod)
	}
	if c.RegionExitPeriod < 0 {
		return fmt.Errorf("region_exit_period must not be negative, got %v", c.RegionExitPeriod)
	}
	if c.LoopCapacity <= 0 || c.OutboxCapacity <= 0 {
		return fmt.Errorf("loop_capacity and outbox_capacity must be positive")
	}
	if c.StatePollInterval <= 0 {
		return fmt.Errorf("state_poll_interval must be positive, got %v", c.StatePollInterval)
	}
	switch strings.ToUpper(c.AuthorizationType) {
	case "ALWAYS", "WHEN_IN_USE":
	default:
		return fmt.Errorf("authorization_type must be ALWAYS or WHEN_IN_USE, got %q", c.AuthorizationType)
	}
	switch c.OutputFormat {
	case OutputAuto, OutputTable, OutputJSON:
	default:
		return fmt.Errorf("output_format must be auto, table or json, got %q", c.OutputFormat)
	}
	return nil
}

// Level returns the parsed log level, InfoLevel when unparsable.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
