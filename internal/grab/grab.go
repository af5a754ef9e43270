// Package grab owns grab records: creation and copying, the per-window
// passive grab lists, the per-device active grab slot, and the wildcard
// matching rules that decide when two grabs conflict.
package grab

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"github.com/bnema/grabarbiter/internal/input"
	"github.com/jezek/xgb/xproto"
)

const (
	// AnyModifier and AnyKey are the core and XI 1.x wildcards.
	AnyModifier uint32 = xproto.ModMaskAny
	AnyKey      uint32 = xproto.GrabAny

	// XIAnyModifier and XIAnyKeycode are the XI2 wildcards.
	XIAnyModifier uint32 = 1 << 31
	XIAnyKeycode  uint32 = 0

	// AllModifiersMask covers every real modifier bit.
	AllModifiersMask uint32 = 0xff

	// MaxDetail bounds the exact details and modifier states an exclusion
	// set can hold.
	MaxDetail uint32 = 256
)

// Mode is a grab's synchronization mode for the grabbed device and for
// the other devices.
type Mode uint8

const (
	ModeSync  Mode = xproto.GrabModeSync
	ModeAsync Mode = xproto.GrabModeAsync
	// ModeTouch is only valid for XI2 touch-begin grabs.
	ModeTouch Mode = 2
)

func (m Mode) String() string {
	switch m {
	case ModeSync:
		return "sync"
	case ModeAsync:
		return "async"
	case ModeTouch:
		return "touch"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// Detail is a grab criterion: an exact value, or the wildcard with an
// optional set of excluded values. Exclude is owned by the grab and is
// only consulted when Exact is the wildcard.
type Detail struct {
	Exact   uint32
	Exclude *bitset.BitSet
}

// Excluded lists the carved out values in ascending order.
func (d Detail) Excluded() []uint32 {
	if d.Exclude == nil {
		return nil
	}
	var out []uint32
	for i, ok := d.Exclude.NextSet(0); ok; i, ok = d.Exclude.NextSet(i + 1) {
		out = append(out, uint32(i))
	}
	return out
}

// Grab is a claim on future events from a device.
type Grab struct {
	Resource       input.XID
	Device         *input.Device
	ModifierDevice *input.Device

	Kind input.Level
	// Type is the event that activates a passive grab.
	Type      input.EventType
	Detail    Detail
	Modifiers Detail

	// EventMask is used by core and XI grabs, XI2Mask by XI2 grabs.
	EventMask uint32
	XI2Mask   *input.XI2Mask

	Window    *input.Window
	ConfineTo *input.Window
	Cursor    *input.Cursor

	OwnerEvents      bool
	ThisDeviceMode   Mode
	OtherDevicesMode Mode
}

// Params describes a grab to create.
type Params struct {
	Device         *input.Device
	ModifierDevice *input.Device
	Window         *input.Window
	ConfineTo      *input.Window
	Cursor         *input.Cursor

	Kind      input.Level
	Type      input.EventType
	Detail    uint32
	Modifiers uint32

	EventMask uint32
	XI2Mask   *input.XI2Mask

	OwnerEvents      bool
	ThisDeviceMode   Mode
	OtherDevicesMode Mode
}

// Template builds an unregistered grab from p for matching only. It
// borrows p's mask and cursor and must not be passed to Free.
func Template(id input.XID, p Params) *Grab {
	return &Grab{
		Resource:         id,
		Device:           p.Device,
		ModifierDevice:   p.ModifierDevice,
		Kind:             p.Kind,
		Type:             p.Type,
		Detail:           Detail{Exact: p.Detail},
		Modifiers:        Detail{Exact: p.Modifiers},
		EventMask:        p.EventMask,
		XI2Mask:          p.XI2Mask,
		Window:           p.Window,
		ConfineTo:        p.ConfineTo,
		Cursor:           p.Cursor,
		OwnerEvents:      p.OwnerEvents,
		ThisDeviceMode:   p.ThisDeviceMode,
		OtherDevicesMode: p.OtherDevicesMode,
	}
}

// Client returns the client owning g.
func (g *Grab) Client() input.ClientID {
	return g.Resource.Client()
}

// AnyModifier returns the modifier wildcard for g's kind.
func (g *Grab) AnyModifier() uint32 {
	return anyModifier(g.Kind)
}

func anyModifier(kind input.Level) uint32 {
	if kind == input.XI2 {
		return XIAnyModifier
	}
	return AnyModifier
}

// Bind points a core grab at the device that triggered it. Core grabs
// are requested on the client's pointer or keyboard but apply to
// whichever master device activates them.
func (g *Grab) Bind(dev *input.Device) {
	if g.Kind != input.Core {
		return
	}
	g.Device = dev
	g.ModifierDevice = dev.KeyboardOrFloat()
}

// Sync reports whether either mode freezes a device.
func (g *Grab) Sync() bool {
	return g.ThisDeviceMode == ModeSync || g.OtherDevicesMode == ModeSync
}

// IsKeyboardGrab reports whether g grabs a keyboard. Explicit grabs carry
// no type and follow the device.
func (g *Grab) IsKeyboardGrab() bool {
	switch g.Type {
	case input.KeyPress, input.KeyRelease, input.FocusIn:
		return true
	case 0:
		return g.Device != nil && g.Device.IsKeyboard()
	}
	return false
}

func (g *Grab) IsPointerGrab() bool {
	switch g.Type {
	case input.ButtonPress, input.ButtonRelease, input.Motion, input.Enter:
		return true
	case 0:
		return g.Device != nil && !g.Device.IsKeyboard()
	}
	return false
}

func (g *Grab) IsTouchGrab() bool {
	return g.Type == input.TouchBegin
}

func (g *Grab) IsGestureGrab() bool {
	return g.Type.IsGesture()
}

// Selects reports whether g would deliver t from dev. Core and XI grabs
// select through their event mask, XI2 grabs through the per-device mask.
func (g *Grab) Selects(dev *input.Device, t input.EventType) bool {
	if g.Kind == input.XI2 {
		return g.XI2Mask.IsSet(dev, t.XI2())
	}
	return g.EventMask&t.Filter() != 0
}

func (g *Grab) String() string {
	if g == nil {
		return "<nil grab>"
	}
	return fmt.Sprintf("grab(0x%x %s %s detail=%s mods=%s on %s)",
		uint32(g.Resource), g.Kind, g.Type,
		formatDetail(g.Detail, AnyKey), formatDetail(g.Modifiers, g.AnyModifier()), g.Window)
}

func formatDetail(d Detail, wildcard uint32) string {
	if d.Exact != wildcard {
		return fmt.Sprintf("%d", d.Exact)
	}
	if ex := d.Excluded(); len(ex) > 0 {
		return fmt.Sprintf("any-%v", ex)
	}
	return "any"
}
