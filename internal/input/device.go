package input

import "fmt"

// DeviceID identifies an input device. The two lowest ids are pseudo
// devices used only as grab and selection targets.
type DeviceID uint16

const (
	AllDevices       DeviceID = 0
	AllMasterDevices DeviceID = 1
)

// Use is a device's role in the master/slave hierarchy.
type Use uint8

const (
	MasterPointer Use = iota + 1
	MasterKeyboard
	SlavePointer
	SlaveKeyboard
	FloatingSlave
)

func (u Use) String() string {
	switch u {
	case MasterPointer:
		return "master-pointer"
	case MasterKeyboard:
		return "master-keyboard"
	case SlavePointer:
		return "slave-pointer"
	case SlaveKeyboard:
		return "slave-keyboard"
	case FloatingSlave:
		return "floating"
	default:
		return fmt.Sprintf("Use(%d)", uint8(u))
	}
}

// TouchMode is the XI2 touch class mode.
type TouchMode uint8

const (
	DirectTouch    TouchMode = 1
	DependentTouch TouchMode = 2
)

// TouchClass describes a device able to report touches.
type TouchClass struct {
	Mode       TouchMode
	MaxTouches int
}

// Device is an input device as seen by the arbiter.
type Device struct {
	ID   DeviceID
	Name string
	Use  Use
	// Attached is the paired device for a master and the master a slave
	// is attached to. Floating slaves have none.
	Attached *Device

	Keys    bool
	Buttons bool
	Touch   *TouchClass
	Gesture bool
}

// IsPseudo reports whether d is AllDevices or AllMasterDevices.
func (d *Device) IsPseudo() bool {
	return d.ID == AllDevices || d.ID == AllMasterDevices
}

func (d *Device) IsMaster() bool {
	return d.Use == MasterPointer || d.Use == MasterKeyboard
}

func (d *Device) IsFloating() bool {
	return d.Use == FloatingSlave
}

// IsPointer reports whether d is a pointer device. Floating slaves count
// as pointers when they have buttons.
func (d *Device) IsPointer() bool {
	switch d.Use {
	case MasterPointer, SlavePointer:
		return true
	case FloatingSlave:
		return d.Buttons || d.Touch != nil
	}
	return false
}

func (d *Device) IsKeyboard() bool {
	switch d.Use {
	case MasterKeyboard, SlaveKeyboard:
		return true
	case FloatingSlave:
		return d.Keys && !d.Buttons
	}
	return false
}

// Master returns the master d is attached to, d itself for a master, or
// nil for floating and pseudo devices.
func (d *Device) Master() *Device {
	switch d.Use {
	case MasterPointer, MasterKeyboard:
		return d
	case SlavePointer, SlaveKeyboard:
		return d.Attached
	}
	return nil
}

// KeyboardOrFloat returns the keyboard whose modifier state applies to
// events from d. A floating device is its own keyboard.
func (d *Device) KeyboardOrFloat() *Device {
	m := d.Master()
	if m == nil {
		return d
	}
	if m.Use == MasterKeyboard {
		return m
	}
	if m.Attached != nil {
		return m.Attached
	}
	return m
}

func (d *Device) String() string {
	if d == nil {
		return "<nil device>"
	}
	if d.Name != "" {
		return fmt.Sprintf("%s(%d)", d.Name, d.ID)
	}
	return fmt.Sprintf("device(%d)", d.ID)
}
