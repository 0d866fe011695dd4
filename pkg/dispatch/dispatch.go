// Package dispatch fans motor speed commands out to every known device.
// Sends are fire-and-forget: each device gets its own goroutine, failures are
// logged per device and never reach the caller.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"

	"github.com/germanamz/toybridge/pkg/devices"
)

// Sender issues commands over the active control link.
type Sender interface {
	Vibrate(ctx context.Context, device uint32, speeds map[uint32]float64) error
	StopAllDevices(ctx context.Context) error
}

// LinkSource yields the current link, or nil while disconnected.
type LinkSource interface {
	Link() Sender
}

// DeviceLister yields a consistent snapshot of known devices.
type DeviceLister interface {
	List() []devices.Device
}

// CommandSendError reports a failed command to one device.
type CommandSendError struct {
	DeviceID   uint32
	DeviceName string
	Motor      int
	Speed      float64
	Err        error
}

func (e *CommandSendError) Error() string {
	return fmt.Sprintf("dispatch: device %d (%s) motor %d speed %.3f: %v",
		e.DeviceID, e.DeviceName, e.Motor, e.Speed, e.Err)
}

func (e *CommandSendError) Unwrap() error { return e.Err }

// Clamp limits v to [0, 1]. NaN becomes 0.
func Clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Dispatcher sends speed commands to devices. It is safe for concurrent use.
type Dispatcher struct {
	ctx     context.Context
	links   LinkSource
	devices DeviceLister
	log     *slog.Logger
	wg      sync.WaitGroup
}

// New creates a Dispatcher. ctx bounds every send; cancel it to abandon
// in-flight commands.
func New(ctx context.Context, links LinkSource, devs DeviceLister, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Dispatcher{ctx: ctx, links: links, devices: devs, log: log}
}

// Dispatch sets motor to speed on every device that has that motor. Devices
// without it are skipped silently. It returns the number of sends issued and
// never blocks on the network.
func (d *Dispatcher) Dispatch(motor int, speed float64) int {
	speed = Clamp(speed)

	link := d.links.Link()
	if link == nil {
		d.log.Debug("dispatch: no link, dropping command", "motor", motor, "speed", speed)
		return 0
	}

	sent := 0
	for _, dev := range d.devices.List() {
		if !dev.Supports(motor) {
			continue
		}

		sent++
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()

			err := link.Vibrate(d.ctx, dev.ID, map[uint32]float64{uint32(motor): speed})
			if err != nil {
				d.logSendError(&CommandSendError{
					DeviceID:   dev.ID,
					DeviceName: dev.Name,
					Motor:      motor,
					Speed:      speed,
					Err:        err,
				})
			}
		}()
	}

	return sent
}

// StopAll stops every motor on every device.
func (d *Dispatcher) StopAll() {
	link := d.links.Link()
	if link == nil {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		if err := link.StopAllDevices(d.ctx); err != nil {
			d.log.Error("dispatch: stop all devices failed", "err", err)
		}
	}()
}

// Wait blocks until every send issued so far has finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// logSendError logs each underlying failure on its own line, flattening
// errors.Join aggregates.
func (d *Dispatcher) logSendError(e *CommandSendError) {
	for _, err := range flatten(e.Err) {
		d.log.Error("dispatch: vibrate failed",
			"device", e.DeviceID,
			"device_name", e.DeviceName,
			"motor", e.Motor,
			"speed", e.Speed,
			"err", err)
	}
}

func flatten(err error) []error {
	var multi interface{ Unwrap() []error }
	if !errors.As(err, &multi) {
		return []error{err}
	}

	var out []error
	for _, inner := range multi.Unwrap() {
		out = append(out, flatten(inner)...)
	}
	return out
}
