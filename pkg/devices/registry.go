// Package devices tracks the actuator devices currently reachable through the
// control server. The Registry is written by the connection manager as
// discovery notifications arrive and read concurrently by the dispatcher.
package devices

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/germanamz/toybridge/pkg/buttplug"
)

// Device is a discovered actuator.
type Device struct {
	ID                   uint32
	Name                 string
	MaxVibrateMotorIndex int // -1 when the device has no vibration motor.
}

// FromInfo converts a server device description.
func FromInfo(info buttplug.DeviceInfo) Device {
	return Device{
		ID:                   info.DeviceIndex,
		Name:                 info.DeviceName,
		MaxVibrateMotorIndex: info.VibrateMotors() - 1,
	}
}

// Supports reports whether motor is addressable on the device.
func (d Device) Supports(motor int) bool {
	return motor >= 0 && motor <= d.MaxVibrateMotorIndex
}

// Registry is a copy-on-write set of devices. Readers get immutable snapshots
// and never block writers. The zero value is ready to use.
type Registry struct {
	mu   sync.Mutex // serializes writers
	list atomic.Pointer[[]Device]
}

// List returns a snapshot of the current devices. The slice must not be
// modified.
func (r *Registry) List() []Device {
	p := r.list.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Len returns the number of registered devices.
func (r *Registry) Len() int { return len(r.List()) }

// Get returns the device with the given id.
func (r *Registry) Get(id uint32) (Device, bool) {
	for _, d := range r.List() {
		if d.ID == id {
			return d, true
		}
	}
	return Device{}, false
}

// Add registers d, replacing any device with the same id. It reports whether
// the id was new.
func (r *Registry) Add(d Device) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.List()
	next := make([]Device, 0, len(cur)+1)
	added := true
	for _, old := range cur {
		if old.ID == d.ID {
			added = false
			continue
		}
		next = append(next, old)
	}
	next = append(next, d)
	slices.SortFunc(next, func(a, b Device) int { return cmp.Compare(a.ID, b.ID) })

	r.list.Store(&next)

	return added
}

// Remove unregisters the device with the given id and reports whether it was
// present.
func (r *Registry) Remove(id uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.List()
	idx := slices.IndexFunc(cur, func(d Device) bool { return d.ID == id })
	if idx < 0 {
		return false
	}

	next := make([]Device, 0, len(cur)-1)
	next = append(next, cur[:idx]...)
	next = append(next, cur[idx+1:]...)
	r.list.Store(&next)

	return true
}

// Clear forgets every device.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.list.Store(nil)
}
