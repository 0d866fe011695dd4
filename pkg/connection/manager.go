// Package connection owns the single link to the control server. The Manager
// runs the connection state machine, turns discovery notifications into
// registry updates, and tears the link down on request or when it is lost.
//
//	Disconnected -> Connecting -> ScanningForDevices
//	Connecting -> Disconnected             (dial failed or abandoned)
//	ScanningForDevices -> Connected        (first device, timeout, or server finished)
//	Connected|ScanningForDevices -> Disconnected   (Disconnect or link loss)
//
// There is no background retry: a failed connect leaves the manager
// Disconnected until the next EnsureConnected.
package connection

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/germanamz/toybridge/pkg/buttplug"
	"github.com/germanamz/toybridge/pkg/devices"
	"github.com/germanamz/toybridge/pkg/dispatch"
)

const (
	// DefaultAddress is where Intiface Central listens out of the box.
	DefaultAddress = "ws://127.0.0.1:12345"

	DefaultScanTimeout = 10 * time.Second
	DefaultDialTimeout = 10 * time.Second
)

// Link is a live connection to the control server.
type Link interface {
	dispatch.Sender
	StartScanning(ctx context.Context) error
	StopScanning(ctx context.Context) error
	RequestDeviceList(ctx context.Context) ([]buttplug.DeviceInfo, error)
	// Events is closed when the link goes down.
	Events() <-chan buttplug.Event
	Close() error
}

// Dialer opens links.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Link, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, addr string) (Link, error)

func (f DialerFunc) Dial(ctx context.Context, addr string) (Link, error) { return f(ctx, addr) }

// WebsocketDialer dials a buttplug.Client.
type WebsocketDialer struct {
	Name   string
	Logger *slog.Logger
}

func (d WebsocketDialer) Dial(ctx context.Context, addr string) (Link, error) {
	c, err := buttplug.Dial(ctx, addr, buttplug.Options{Name: d.Name, Logger: d.Logger})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Options configures a Manager.
type Options struct {
	Dialer      Dialer            // Required.
	Registry    *devices.Registry // Required.
	Address     string            // Defaults to DefaultAddress.
	ScanTimeout time.Duration     // Defaults to DefaultScanTimeout.
	DialTimeout time.Duration     // Bounds dial plus handshake. Defaults to DefaultDialTimeout.
	Logger      *slog.Logger
}

// Manager drives the connection state machine. All methods are safe for
// concurrent use.
type Manager struct {
	dialer      Dialer
	registry    *devices.Registry
	log         *slog.Logger
	scanTimeout time.Duration
	dialTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	state     State
	addr      string
	link      Link
	abandon   bool
	redial    bool
	closed    bool
	scanTimer *time.Timer
	attempts  int
}

// NewManager creates a Disconnected manager. Background work runs until
// Close; ctx cancellation also stops it.
func NewManager(ctx context.Context, opts Options) *Manager {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	m := &Manager{
		dialer:      opts.Dialer,
		registry:    opts.Registry,
		log:         log,
		scanTimeout: opts.ScanTimeout,
		dialTimeout: opts.DialTimeout,
		addr:        opts.Address,
	}
	if m.addr == "" {
		m.addr = DefaultAddress
	}
	if m.scanTimeout <= 0 {
		m.scanTimeout = DefaultScanTimeout
	}
	if m.dialTimeout <= 0 {
		m.dialTimeout = DefaultDialTimeout
	}

	m.ctx, m.cancel = context.WithCancel(ctx)

	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Address returns the configured server address.
func (m *Manager) Address() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addr
}

// Attempts returns how many connect attempts were started.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// SetAddress changes the server address used by the next connect. A live
// link is left alone; reconnecting is up to the caller.
func (m *Manager) SetAddress(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if addr == m.addr {
		return
	}
	if m.state != Disconnected {
		m.log.Info("connection: address changed, disconnect and reconnect to apply",
			"current", m.addr, "next", addr)
	}
	m.addr = addr
}

// Link returns the live link, or nil when there is none.
func (m *Manager) Link() dispatch.Sender {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.link == nil {
		return nil
	}
	return m.link
}

// Connect dials addr (or the configured address when empty) and blocks until
// the handshake finishes. It is ignored unless the manager is Disconnected.
// A failure is logged, returned as a *buttplug.ConnectorError, and leaves the
// manager Disconnected.
func (m *Manager) Connect(ctx context.Context, addr string) error {
	m.mu.Lock()
	if m.closed || m.state != Disconnected {
		state := m.state
		m.mu.Unlock()
		m.log.Debug("connection: connect ignored", "state", state)
		return nil
	}
	if addr != "" {
		m.addr = addr
	}
	addr = m.addr
	m.beginLocked()
	m.mu.Unlock()

	return m.dial(ctx, addr)
}

// EnsureConnected starts a background connect if the manager is
// Disconnected and reports whether it did. Concurrent callers race for the
// Connecting state; exactly one wins.
func (m *Manager) EnsureConnected() bool {
	m.mu.Lock()
	if m.closed || m.state != Disconnected {
		m.mu.Unlock()
		return false
	}
	addr := m.addr
	m.beginLocked()
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		_ = m.dial(m.ctx, addr)
	}()

	return true
}

func (m *Manager) beginLocked() {
	m.state = Connecting
	m.abandon = false
	m.redial = false
	m.attempts++
}

func (m *Manager) dial(ctx context.Context, addr string) error {
	m.log.Info("connection: connecting", "addr", addr)

	dctx, cancel := context.WithTimeout(ctx, m.dialTimeout)
	defer cancel()

	link, err := m.dialer.Dial(dctx, addr)
	if err != nil {
		var ce *buttplug.ConnectorError
		if !errors.As(err, &ce) {
			err = &buttplug.ConnectorError{Addr: addr, Err: err}
		}

		m.log.Error("connection: connect failed", "addr", addr, "err", err)

		m.mu.Lock()
		if next, ok := m.redialLocked(); ok {
			m.mu.Unlock()
			return m.dial(ctx, next)
		}
		m.state = Disconnected
		m.abandon = false
		m.mu.Unlock()

		return err
	}

	m.mu.Lock()
	if m.abandon || m.closed {
		next, again := m.redialLocked()
		if !again {
			m.state = Disconnected
			m.abandon = false
		}
		m.mu.Unlock()

		m.log.Info("connection: connect abandoned", "addr", addr)
		if err := link.Close(); err != nil {
			m.log.Warn("connection: close abandoned link", "err", err)
		}

		if again {
			return m.dial(ctx, next)
		}
		return nil
	}
	m.link = link
	m.beginScanLocked(link)
	m.wg.Add(1)
	m.mu.Unlock()

	go m.pump(link)

	m.log.Info("connection: connected", "addr", addr)

	m.loadDevices(link)
	m.requestScan(link)

	return nil
}

// redialLocked starts the attempt queued by Reconnect, if any, and returns
// the address to dial.
func (m *Manager) redialLocked() (string, bool) {
	if !m.redial || m.closed {
		return "", false
	}
	m.beginLocked()
	m.log.Info("connection: reconnecting", "addr", m.addr)
	return m.addr, true
}

// Reconnect drops the current link and dials the configured address again.
// During Connecting the in-flight dial is abandoned and a fresh one follows
// as soon as it returns.
func (m *Manager) Reconnect(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.state == Connecting {
		m.abandon = true
		m.redial = true
		m.mu.Unlock()
		m.log.Info("connection: reconnect queued behind in-flight connect")
		return
	}
	m.mu.Unlock()

	m.Disconnect(ctx)
	m.EnsureConnected()
}

// Disconnect stops all devices and closes the link. Failures are logged, not
// returned. During Connecting it abandons the in-flight dial instead; the
// state stays Connecting until that dial returns.
func (m *Manager) Disconnect(ctx context.Context) {
	m.mu.Lock()
	if m.state == Connecting {
		m.abandon = true
		m.redial = false
		m.mu.Unlock()
		m.log.Info("connection: abandoning in-flight connect")
		return
	}

	link := m.link
	m.link = nil
	m.state = Disconnected
	m.stopTimerLocked()
	m.registry.Clear()
	m.mu.Unlock()

	if link == nil {
		return
	}

	if err := link.StopAllDevices(ctx); err != nil {
		m.log.Warn("connection: stop all devices on disconnect", "err", err)
	}
	if err := link.Close(); err != nil {
		m.log.Warn("connection: close link", "err", err)
	}

	m.log.Info("connection: disconnected")
}

// Close disconnects, stops background work, and waits for it to finish. The
// manager cannot be reconnected afterwards.
func (m *Manager) Close(ctx context.Context) {
	m.Disconnect(ctx)

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

// goAsync runs fn on a tracked goroutine unless the manager is closed.
func (m *Manager) goAsync(fn func(ctx context.Context)) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		fn(m.ctx)
	}()
}

// loadDevices registers devices the server already knows about.
func (m *Manager) loadDevices(link Link) {
	m.goAsync(func(ctx context.Context) {
		infos, err := link.RequestDeviceList(ctx)
		if err != nil {
			m.log.Warn("connection: request device list", "err", err)
			return
		}

		for _, info := range infos {
			m.addDevice(link, info)
		}
	})
}

// beginScanLocked moves a freshly installed link straight to
// ScanningForDevices and arms the scan timeout.
func (m *Manager) beginScanLocked(link Link) {
	m.state = ScanningForDevices
	m.scanTimer = time.AfterFunc(m.scanTimeout, func() {
		m.stopScanning(link, "timeout", true)
	})
}

// requestScan asks the server to start scanning.
func (m *Manager) requestScan(link Link) {
	m.log.Info("connection: scanning for devices", "timeout", m.scanTimeout)

	m.goAsync(func(ctx context.Context) {
		if err := link.StartScanning(ctx); err != nil {
			m.log.Warn("connection: start scanning", "err", err)
			m.stopScanning(link, "scan failed", false)
		}
	})
}

// stopScanning leaves ScanningForDevices for link, optionally telling the
// server to stop.
func (m *Manager) stopScanning(link Link, reason string, notify bool) {
	m.mu.Lock()
	if m.link != link || m.state != ScanningForDevices {
		m.mu.Unlock()
		return
	}
	m.state = Connected
	m.stopTimerLocked()
	m.mu.Unlock()

	m.log.Info("connection: scanning stopped", "reason", reason)

	if !notify {
		return
	}
	m.goAsync(func(ctx context.Context) {
		if err := link.StopScanning(ctx); err != nil {
			m.log.Warn("connection: stop scanning", "err", err)
		}
	})
}

func (m *Manager) stopTimerLocked() {
	if m.scanTimer != nil {
		m.scanTimer.Stop()
		m.scanTimer = nil
	}
}

// pump consumes link events until the link goes down.
func (m *Manager) pump(link Link) {
	defer m.wg.Done()

	for ev := range link.Events() {
		switch ev.Kind {
		case buttplug.EventDeviceAdded:
			if m.addDevice(link, ev.Device) {
				m.stopScanning(link, "device found", true)
			}
		case buttplug.EventDeviceRemoved:
			m.removeDevice(link, ev.Device.DeviceIndex)
		case buttplug.EventScanningFinished:
			m.stopScanning(link, "finished by server", false)
		case buttplug.EventError:
			m.log.Warn("connection: server reported error", "err", ev.Err)
		}
	}

	m.linkLost(link)
}

// addDevice registers info if link is still current.
func (m *Manager) addDevice(link Link, info buttplug.DeviceInfo) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.link != link {
		return false
	}

	dev := devices.FromInfo(info)
	m.registry.Add(dev)
	m.log.Info("connection: device added",
		"device", dev.ID, "name", dev.Name, "max_motor", dev.MaxVibrateMotorIndex)

	return true
}

func (m *Manager) removeDevice(link Link, id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.link != link {
		return
	}
	if m.registry.Remove(id) {
		m.log.Info("connection: device removed", "device", id)
	}
}

func (m *Manager) linkLost(link Link) {
	m.mu.Lock()
	if m.link != link {
		m.mu.Unlock()
		return
	}
	m.link = nil
	m.state = Disconnected
	m.stopTimerLocked()
	m.registry.Clear()
	addr := m.addr
	m.mu.Unlock()

	var cause error
	if e, ok := link.(interface{ Err() error }); ok {
		cause = e.Err()
	}
	m.log.Warn("connection: link lost", "addr", addr, "err", cause)
}
