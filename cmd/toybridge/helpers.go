package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/germanamz/toybridge/pkg/bridge"
	"github.com/germanamz/toybridge/pkg/toydir"
)

// loadDotEnv loads environment variables from path. A missing file is not an
// error.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// resolveEnvPath returns the .env file to load: the explicit flag, then
// .toybridge/.env when present, then .env in the working directory.
func resolveEnvPath(explicit, dirPath string) string {
	if explicit != "" {
		return explicit
	}

	path := toydir.New(dirPath).EnvPath()
	if _, err := os.Stat(path); err == nil {
		return path
	}

	return ".env"
}

// resolveConfigPath returns the config file to load: the explicit flag, then
// .toybridge/config.yaml. An empty result means built-in defaults.
func resolveConfigPath(explicit, dirPath string) string {
	if explicit != "" {
		return explicit
	}

	d := toydir.New(dirPath)
	if d.HasConfig() {
		return d.ConfigPath()
	}

	return ""
}

// loadConfig loads the resolved config and applies the address override.
func loadConfig(path, address string) (bridge.Config, error) {
	cfg := bridge.DefaultConfig()

	if path != "" {
		var err error
		if cfg, err = bridge.LoadConfig(path); err != nil {
			return bridge.Config{}, err
		}
	}

	if address != "" {
		cfg.Address = address
	}

	return cfg, nil
}

// openLogger builds the logger for cfg. When the terminal belongs to the
// monitor, logs go to cfg.File or, failing that, to the directory's log file.
// The returned closer is never nil.
func openLogger(cfg bridge.LogConfig, tui bool, d toydir.Dir) (*slog.Logger, io.Closer, error) {
	path := cfg.File
	if path == "" && tui {
		path = d.LogPath()
	}

	if path == "" {
		log, err := bridge.NewLogger(cfg, os.Stderr)
		return log, closerFunc(func() error { return nil }), err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec // path comes from config
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	log, err := bridge.NewLogger(cfg, f)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}

	return log, f, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// truncate shortens s to at most n runes, appending "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// speedBar renders speed in [0,1] as a bar of width cells.
func speedBar(speed float64, width int) string {
	if width <= 0 {
		return ""
	}

	filled := int(speed*float64(width) + 0.5)
	filled = max(0, min(width, filled))

	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
