package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel       string          `yaml:"log_level"` // empty keeps the CLI quiet
	TargetName     string          `yaml:"target_name" default:"CC1350 SensorTag"`
	ScanPeriod     time.Duration   `yaml:"scan_period" default:"3s"`
	MailboxSize    int             `yaml:"mailbox_size" default:"64"`
	ListenerBuffer int             `yaml:"listener_buffer" default:"32"`
	OutputFormat   string          `yaml:"output_format" default:"table"` // table, json
	Telemetry      TelemetryConfig `yaml:"telemetry"`
}

// TelemetryConfig controls periodic uploads. Uploads are off while URL is empty.
type TelemetryConfig struct {
	URL       string        `yaml:"url"`
	Latitude  float64       `yaml:"latitude"`
	Longitude float64       `yaml:"longitude"`
	Every     int           `yaml:"every" default:"1000"`
	Timeout   time.Duration `yaml:"timeout" default:"10s"`
	Buffer    uint32        `yaml:"buffer" default:"16"`
}

// Enabled reports whether an upload endpoint is configured.
func (t TelemetryConfig) Enabled() bool {
	return t.URL != ""
}

// DefaultConfigPath returns ~/.config/tagmon/config.yaml, or "" if the home
// directory is unknown.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "tagmon", "config.yaml")
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML config file over the defaults. A missing file yields the
// defaults; an empty path means DefaultConfigPath.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.TargetName == "" {
		return fmt.Errorf("target_name must not be empty")
	}
	if c.ScanPeriod <= 0 {
		return fmt.Errorf("scan_period must be > 0, got %s", c.ScanPeriod)
	}
	if c.MailboxSize <= 0 {
		return fmt.Errorf("mailbox_size must be > 0")
	}
	if c.ListenerBuffer <= 0 {
		return fmt.Errorf("listener_buffer must be > 0")
	}

	switch c.OutputFormat {
	case "table", "json":
	default:
		return fmt.Errorf("output_format must be \"table\" or \"json\", got %q", c.OutputFormat)
	}

	if c.Telemetry.Every <= 0 {
		return fmt.Errorf("telemetry.every must be > 0")
	}
	if c.Telemetry.Timeout <= 0 {
		return fmt.Errorf("telemetry.timeout must be > 0")
	}
	if c.Telemetry.Buffer == 0 {
		return fmt.Errorf("telemetry.buffer must be > 0")
	}
	if c.Telemetry.Latitude < -90 || c.Telemetry.Latitude > 90 {
		return fmt.Errorf("telemetry.latitude must be within [-90, 90], got %g", c.Telemetry.Latitude)
	}
	if c.Telemetry.Longitude < -180 || c.Telemetry.Longitude > 180 {
		return fmt.Errorf("telemetry.longitude must be within [-180, 180], got %g", c.Telemetry.Longitude)
	}
	return nil
}

// Level parses LogLevel. An empty level is PanicLevel, which silences
// everything short of a panic.
func (c *Config) Level() (logrus.Level, error) {
	if c.LogLevel == "" {
		return logrus.PanicLevel, nil
	}
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := c.Level()
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
