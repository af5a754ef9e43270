package input

import (
	"errors"
	"fmt"
	"sort"
)

// ErrDeviceExists is returned when a device id is registered twice.
var ErrDeviceExists = errors.New("device already registered")

// DeviceRegistry resolves device ids. It always knows the AllDevices and
// AllMasterDevices pseudo devices.
type DeviceRegistry interface {
	Device(id DeviceID) (*Device, bool)
	// Devices lists the real devices in ascending id order.
	Devices() []*Device
}

// Devices is the in-memory DeviceRegistry.
type Devices struct {
	byID map[DeviceID]*Device
}

// NewDevices returns a registry holding only the two pseudo devices.
func NewDevices() *Devices {
	return &Devices{
		byID: map[DeviceID]*Device{
			AllDevices:       {ID: AllDevices, Name: "all-devices"},
			AllMasterDevices: {ID: AllMasterDevices, Name: "all-master-devices"},
		},
	}
}

// Add registers d.
func (r *Devices) Add(d *Device) error {
	if _, ok := r.byID[d.ID]; ok {
		return fmt.Errorf("add %s: %w", d, ErrDeviceExists)
	}
	r.byID[d.ID] = d
	return nil
}

// Remove unregisters the device with id. Pseudo devices stay.
func (r *Devices) Remove(id DeviceID) {
	if id == AllDevices || id == AllMasterDevices {
		return
	}
	delete(r.byID, id)
}

func (r *Devices) Device(id DeviceID) (*Device, bool) {
	d, ok := r.byID[id]
	return d, ok
}

func (r *Devices) Devices() []*Device {
	out := make([]*Device, 0, len(r.byID))
	for _, d := range r.byID {
		if d.IsPseudo() {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
