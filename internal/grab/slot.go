package grab

import (
	"github.com/bnema/grabarbiter/internal/input"
)

// Origin records how an active grab came to be.
type Origin uint8

const (
	// Explicit grabs come from a client grab request.
	Explicit Origin = iota
	// Passive grabs were activated from a window's passive list.
	Passive
	// Implicit grabs are taken on button press when no grab applies.
	Implicit
)

func (o Origin) String() string {
	switch o {
	case Explicit:
		return "explicit"
	case Passive:
		return "passive"
	case Implicit:
		return "implicit"
	}
	return "unknown"
}

// SyncState is where a device stands in the sync grab freeze cycle.
type SyncState uint8

const (
	Thawed SyncState = iota
	// FreezeNextEvent and FreezeBothNextEvent freeze the device, or the
	// device and its pair, after the next grabbed press or release.
	FreezeNextEvent
	FreezeBothNextEvent
	FrozenNoEvent
	FrozenWithEvent
)

func (s SyncState) String() string {
	switch s {
	case Thawed:
		return "thawed"
	case FreezeNextEvent:
		return "freeze-next"
	case FreezeBothNextEvent:
		return "freeze-both-next"
	case FrozenNoEvent:
		return "frozen"
	case FrozenWithEvent:
		return "frozen-with-event"
	}
	return "unknown"
}

// Slot is a device's active grab state.
type Slot struct {
	Grab   *Grab
	Origin Origin
	Time   uint32
	// ActivatingKey is the keycode that activated a passive key grab.
	ActivatingKey uint32

	Sync SyncState
	// Other is a grab on the paired device that keeps this one frozen.
	Other *Grab
	// FrozenEvent is the event the device froze on, kept for a replay.
	FrozenEvent *input.Event
	// Queue holds events that arrived while the device was frozen.
	Queue []input.Event

	// Pointer state.
	Cursor    *input.Cursor
	ConfineTo *input.Window
	// Keyboard state.
	Focus *input.Window
}

// FromPassive reports whether the grab was not explicitly requested.
func (s *Slot) FromPassive() bool {
	return s.Origin != Explicit
}

// Frozen reports whether the device's events are held back, by its own
// sync grab or by a grab on its pair.
func (s *Slot) Frozen() bool {
	return s.Sync >= FrozenNoEvent || s.Other != nil
}

// Capture records ev as the event a device that has just been frozen by
// its grab froze on. It reports whether the device was waiting for one.
func (s *Slot) Capture(ev input.Event) bool {
	if s.Sync != FrozenNoEvent {
		return false
	}
	s.Sync = FrozenWithEvent
	s.FrozenEvent = &ev
	return true
}

// Activator applies and undoes the device-class side effects of an
// active grab.
type Activator interface {
	Activate(dev *input.Device, slot *Slot)
	Deactivate(dev *input.Device, slot *Slot)
}

// PointerActivator confines the sprite and shows the grab cursor.
type PointerActivator struct{}

func (PointerActivator) Activate(_ *input.Device, slot *Slot) {
	slot.ConfineTo = slot.Grab.ConfineTo
	slot.Cursor = slot.Grab.Cursor.Acquire()
}

func (PointerActivator) Deactivate(_ *input.Device, slot *Slot) {
	slot.ConfineTo = nil
	slot.Cursor.Release()
	slot.Cursor = nil
}

// KeyboardActivator redirects focus to the grab window.
type KeyboardActivator struct{}

func (KeyboardActivator) Activate(_ *input.Device, slot *Slot) {
	slot.Focus = slot.Grab.Window
}

func (KeyboardActivator) Deactivate(_ *input.Device, slot *Slot) {
	slot.Focus = nil
}

// ActivatorFor returns the activator for dev's class.
func ActivatorFor(dev *input.Device) Activator {
	if dev.IsKeyboard() {
		return KeyboardActivator{}
	}
	return PointerActivator{}
}

// Slot returns dev's active grab slot, creating it on first use.
func (s *Store) Slot(dev *input.Device) *Slot {
	slot, ok := s.slots[dev.ID]
	if !ok {
		slot = &Slot{}
		s.slots[dev.ID] = slot
	}
	return slot
}

// ActiveGrab returns dev's active grab, or nil.
func (s *Store) ActiveGrab(dev *input.Device) *Grab {
	if slot, ok := s.slots[dev.ID]; ok {
		return slot.Grab
	}
	return nil
}

// ActiveGrabs returns the device ids holding an active grab.
func (s *Store) ActiveGrabs() map[input.DeviceID]*Grab {
	out := make(map[input.DeviceID]*Grab)
	for id, slot := range s.slots {
		if slot.Grab != nil {
			out[id] = slot.Grab
		}
	}
	return out
}

// Activate makes a copy of g dev's active grab, replacing any grab
// already active.
func (s *Store) Activate(dev *input.Device, g *Grab, time uint32, origin Origin) (*Grab, error) {
	active, err := s.Alloc(g)
	if err != nil {
		return nil, err
	}
	slot := s.Slot(dev)
	if slot.Grab != nil {
		s.Deactivate(dev)
	}
	slot.Grab = active
	slot.Origin = origin
	slot.Time = time
	ActivatorFor(dev).Activate(dev, slot)
	s.checkSyncs(dev, slot, active)
	log.Debug("grab activated", "device", dev, "grab", active, "origin", origin, "sync", slot.Sync)
	for _, fn := range s.activated {
		fn(dev, active, origin)
	}
	return active, nil
}

// checkSyncs applies g's freeze modes to dev and, for a master, to its
// paired device. An async mode releases a freeze the same client put on.
func (s *Store) checkSyncs(dev *input.Device, slot *Slot, g *Grab) {
	if g.ThisDeviceMode == ModeSync {
		slot.Sync = FrozenNoEvent
	} else {
		slot.Sync = Thawed
		if slot.Other != nil && input.SameClient(slot.Other.Resource, g.Resource) {
			slot.Other = nil
		}
	}
	if !dev.IsMaster() || dev.Attached == nil {
		return
	}
	paired := s.Slot(dev.Attached)
	if g.OtherDevicesMode == ModeSync {
		paired.Other = g
	} else if paired.Other != nil && input.SameClient(paired.Other.Resource, g.Resource) {
		paired.Other = nil
	}
}

// Deactivate releases dev's active grab and thaws the device and any
// device the grab kept frozen. Queued events are left for the caller to
// replay.
func (s *Store) Deactivate(dev *input.Device) {
	slot, ok := s.slots[dev.ID]
	if !ok || slot.Grab == nil {
		return
	}
	g, origin := slot.Grab, slot.Origin
	ActivatorFor(dev).Deactivate(dev, slot)
	slot.Grab = nil
	slot.Origin = Explicit
	slot.ActivatingKey = 0
	slot.Sync = Thawed
	slot.FrozenEvent = nil
	for _, other := range s.slots {
		if other.Other == g {
			other.Other = nil
		}
	}
	log.Debug("grab deactivated", "device", dev, "grab", g)
	for _, fn := range s.deactivated {
		fn(dev, g, origin)
	}
	s.Free(g)
}

// Hook observes a change of a device's active grab. The grab is valid
// for the duration of the call.
type Hook func(dev *input.Device, g *Grab, origin Origin)

// OnActivate registers fn to run after any grab is activated.
func (s *Store) OnActivate(fn Hook) {
	s.activated = append(s.activated, fn)
}

// OnDeactivate registers fn to run when any active grab is released,
// after the device has thawed.
func (s *Store) OnDeactivate(fn Hook) {
	s.deactivated = append(s.deactivated, fn)
}
