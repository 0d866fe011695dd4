package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/germanamz/toybridge/pkg/bridge"
	"github.com/germanamz/toybridge/pkg/telemetry"
	"github.com/germanamz/toybridge/pkg/toydir"
)

// shutdownTimeout bounds the final stop-all and disconnect.
const shutdownTimeout = 5 * time.Second

type runOptions struct {
	configPath string
	dir        string
	address    string
	feed       string
	tui        bool
}

func run(opts runOptions) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d := toydir.New(opts.dir)
	cfgPath := resolveConfigPath(opts.configPath, opts.dir)

	cfg, err := loadConfig(cfgPath, opts.address)
	if err != nil {
		return err
	}

	log, logCloser, err := openLogger(cfg.Log, opts.tui, d)
	if err != nil {
		return err
	}
	defer func() { _ = logCloser.Close() }()

	feed, err := openFeed(opts.feed)
	if err != nil {
		return err
	}
	defer func() { _ = feed.Close() }()

	b, err := bridge.New(ctx, cfg, bridge.WithLogger(log))
	if err != nil {
		return err
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		if err := b.Close(sctx); err != nil {
			log.Warn("shutdown incomplete", "err", err)
		}
	}()

	b.Start()
	log.Info("toybridge started", "address", cfg.Address, "config", cfgPath)

	go reloadOnHangup(ctx, b, cfgPath, opts.address, log)

	fed := make(chan error, 1)
	go func() { fed <- feedTelemetry(ctx, feed, b, log) }()

	if opts.tui {
		return runMonitor(ctx, b, fed)
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-fed:
		return err
	}
}

// openFeed opens the telemetry source. "-" is stdin.
func openFeed(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}

	f, err := os.Open(path) //nolint:gosec // user-selected telemetry source
	if err != nil {
		return nil, fmt.Errorf("open feed: %w", err)
	}

	return f, nil
}

// feedTelemetry publishes samples from r until EOF or ctx ends. Malformed
// lines are logged and skipped.
func feedTelemetry(ctx context.Context, r io.Reader, b *bridge.Bridge, log *slog.Logger) error {
	dec := telemetry.NewDecoder(r)

	for ctx.Err() == nil {
		s, err := dec.Next()
		if errors.Is(err, io.EOF) {
			log.Info("telemetry feed ended")
			return nil
		}

		var lineErr *telemetry.LineError
		if errors.As(err, &lineErr) {
			log.Warn("skipping telemetry line", "err", err)
			continue
		}
		if err != nil {
			return err
		}

		if err := b.Publish(s); err != nil {
			log.Warn("dropping telemetry sample", "err", err)
		}
	}

	return nil
}

// reloadOnHangup re-reads the config file on SIGHUP.
func reloadOnHangup(ctx context.Context, b *bridge.Bridge, path, address string, log *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}

		if path == "" {
			log.Warn("reload requested but no config file is in use")
			continue
		}

		cfg, err := loadConfig(path, address)
		if err == nil {
			err = b.Reload(cfg)
		}
		if err != nil {
			log.Error("reload failed, keeping previous config", "err", err)
		}
	}
}

func runMonitor(ctx context.Context, b *bridge.Bridge, fed <-chan error) error {
	p := tea.NewProgram(newMonitorModel(ctx, b), tea.WithAltScreen(), tea.WithInputTTY())

	go func() {
		select {
		case <-ctx.Done():
		case err := <-fed:
			p.Send(feedDoneMsg{err: err})
			return
		}
		p.Quit()
	}()

	_, err := p.Run()
	return err
}
