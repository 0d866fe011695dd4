package bridge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/germanamz/toybridge/pkg/binding"
	"github.com/germanamz/toybridge/pkg/buttplug"
	"github.com/germanamz/toybridge/pkg/connection"
)

// Config is the top-level bridge configuration.
type Config struct {
	Address     string                 `yaml:"address"`
	ClientName  string                 `yaml:"client_name"`
	ScanTimeout string                 `yaml:"scan_timeout"` // Duration string, e.g. "10s".
	SpeedCap    float64                `yaml:"speed_cap"`
	ComboFactor float64                `yaml:"combo_factor"`
	Motors      []binding.MotorBinding `yaml:"motors"` // Exactly binding.MotorCount entries.
	Log         LogConfig              `yaml:"log"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn or error.
	Format string `yaml:"format"` // text or json.
	File   string `yaml:"file"`   // Empty logs to stderr.
}

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() Config {
	s := binding.DefaultSettings()

	return Config{
		Address:     connection.DefaultAddress,
		ClientName:  buttplug.DefaultClientName,
		ScanTimeout: connection.DefaultScanTimeout.String(),
		SpeedCap:    s.SpeedCap,
		ComboFactor: s.ComboFactor,
		Motors:      s.Motors[:],
		Log:         LogConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig reads a YAML file over DefaultConfig. Environment variables
// referenced as ${VAR} or $VAR are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration
	if err != nil {
		return Config{}, fmt.Errorf("bridge: load config: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig is LoadConfig for in-memory YAML.
func ParseConfig(data []byte) (Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("bridge: parse config: %w", err)
	}

	return cfg, nil
}

// SaveConfig writes cfg as YAML to path, creating parent directories.
func SaveConfig(cfg Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("bridge: create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("bridge: marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // config file, not secret
		return fmt.Errorf("bridge: write config: %w", err)
	}

	return nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if !strings.HasPrefix(c.Address, "ws://") && !strings.HasPrefix(c.Address, "wss://") {
		return fmt.Errorf("bridge: config: address %q must be a ws:// or wss:// url", c.Address)
	}

	if _, err := c.scanTimeout(); err != nil {
		return err
	}

	if len(c.Motors) != binding.MotorCount {
		return fmt.Errorf("bridge: config: motors: want %d entries, got %d", binding.MotorCount, len(c.Motors))
	}

	if err := c.Settings().Validate(); err != nil {
		return fmt.Errorf("bridge: config: %w", err)
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("bridge: config: log format %q must be text or json", c.Log.Format)
	}

	return nil
}

// Settings converts the binding-related fields. Missing motors are left
// unbound and extra ones ignored; Validate reports both.
func (c Config) Settings() binding.Settings {
	s := binding.Settings{SpeedCap: c.SpeedCap, ComboFactor: c.ComboFactor}
	copy(s.Motors[:], c.Motors)

	return s
}

func (c Config) scanTimeout() (time.Duration, error) {
	if c.ScanTimeout == "" {
		return connection.DefaultScanTimeout, nil
	}

	d, err := time.ParseDuration(c.ScanTimeout)
	if err != nil {
		return 0, fmt.Errorf("bridge: config: scan_timeout: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("bridge: config: scan_timeout must be positive, got %s", d)
	}

	return d, nil
}
