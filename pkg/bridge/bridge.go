// Package bridge is the composition root. It assembles the device registry,
// connection manager, command dispatcher, binding engine and telemetry bus
// from a Config and exposes them through a frontend-agnostic API.
package bridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/germanamz/toybridge/pkg/binding"
	"github.com/germanamz/toybridge/pkg/connection"
	"github.com/germanamz/toybridge/pkg/devices"
	"github.com/germanamz/toybridge/pkg/dispatch"
	"github.com/germanamz/toybridge/pkg/telemetry"
)

// subscriptionBuffer is the engine's telemetry backlog.
const subscriptionBuffer = 64

// Option customizes a Bridge.
type Option func(*options)

type options struct {
	logger *slog.Logger
	dialer connection.Dialer
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithDialer replaces the websocket dialer, mainly for tests.
func WithDialer(d connection.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// Status is a point-in-time view of the bridge.
type Status struct {
	State    connection.State
	Address  string
	Attempts int
	Devices  []devices.Device
	Speeds   [binding.MotorCount]float64
	Playing  bool
	MaxCombo int
	Dropped  uint64 // Value samples discarded because the engine fell behind.
}

// Bridge wires telemetry to devices.
type Bridge struct {
	log        *slog.Logger
	registry   *devices.Registry
	manager    *connection.Manager
	dispatcher *dispatch.Dispatcher
	engine     *binding.Engine
	bus        *telemetry.Bus

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	cfg     Config
	sub     *telemetry.Subscription
	started bool
	closed  bool
}

// New validates cfg and builds every component. Nothing connects until
// Start.
func New(ctx context.Context, cfg Config, opts ...Option) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	scan, _ := cfg.scanTimeout()

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.dialer == nil {
		o.dialer = connection.WebsocketDialer{Name: cfg.ClientName, Logger: o.logger}
	}

	b := &Bridge{
		log:      o.logger,
		registry: &devices.Registry{},
		bus:      telemetry.NewBus(),
		cfg:      cfg,
	}
	b.ctx, b.cancel = context.WithCancel(ctx)

	b.manager = connection.NewManager(b.ctx, connection.Options{
		Dialer:      o.dialer,
		Registry:    b.registry,
		Address:     cfg.Address,
		ScanTimeout: scan,
		Logger:      o.logger,
	})
	b.dispatcher = dispatch.New(b.ctx, b.manager, b.registry, o.logger)
	b.engine = binding.NewEngine(b.dispatcher, cfg.Settings(), o.logger)

	return b, nil
}

// Start subscribes the binding engine to telemetry and begins connecting.
// Calling it again only retries the connection.
func (b *Bridge) Start() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if !b.started {
		b.started = true
		b.sub = b.bus.Subscribe(subscriptionBuffer)

		b.wg.Add(1)
		go func(sub *telemetry.Subscription) {
			defer b.wg.Done()
			b.engine.Run(b.ctx, sub.C)
		}(b.sub)
	}
	b.mu.Unlock()

	b.manager.EnsureConnected()
}

// Publish hands a telemetry sample to the engine. It never blocks on the
// network.
func (b *Bridge) Publish(s telemetry.Sample) error {
	if !s.Kind.Valid() {
		return fmt.Errorf("bridge: publish: unknown kind %q", s.Kind)
	}

	b.bus.Publish(s)
	return nil
}

// Config returns the active configuration.
func (b *Bridge) Config() Config {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

// Reload applies a new configuration. Bindings take effect for the next
// sample. An address change is recorded but a live link is kept until
// Reconnect. The connection is retried if it is down.
func (b *Bridge) Reload(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	prev := b.cfg
	b.cfg = cfg
	b.mu.Unlock()

	b.engine.SetSettings(cfg.Settings())
	if cfg.Address != prev.Address {
		b.manager.SetAddress(cfg.Address)
	}
	if cfg.ScanTimeout != prev.ScanTimeout || cfg.ClientName != prev.ClientName {
		b.log.Info("bridge: scan_timeout and client_name changes apply after restart")
	}

	b.log.Info("bridge: config reloaded")
	b.manager.EnsureConnected()

	return nil
}

// Reconnect drops the current link, if any, and connects to the configured
// address. A connect already in flight is replaced by a fresh one.
func (b *Bridge) Reconnect(ctx context.Context) {
	b.manager.Reconnect(ctx)
}

// Status reports connection, device and engine state.
func (b *Bridge) Status() Status {
	st := Status{
		State:    b.manager.State(),
		Address:  b.manager.Address(),
		Attempts: b.manager.Attempts(),
		Devices:  b.registry.List(),
		Speeds:   b.engine.Speeds(),
		Playing:  b.engine.Playing(),
		MaxCombo: b.engine.MaxCombo(),
	}

	b.mu.Lock()
	if b.sub != nil {
		st.Dropped = b.sub.Dropped()
	}
	b.mu.Unlock()

	return st
}

// Close stops the engine, stops all devices, disconnects and waits for
// outstanding commands. If ctx ends first, remaining sends are abandoned and
// ctx's error is returned. Teardown failures are logged, not returned.
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	sub := b.sub
	b.mu.Unlock()

	if sub != nil {
		b.bus.Unsubscribe(sub)
	}
	b.wg.Wait()

	b.manager.Close(ctx)

	done := make(chan struct{})
	go func() {
		b.dispatcher.Wait()
		close(done)
	}()

	defer b.cancel()

	select {
	case <-done:
		b.log.Info("bridge: closed")
		return nil
	case <-ctx.Done():
		b.log.Warn("bridge: close timed out, abandoning pending commands")
		return ctx.Err()
	}
}
