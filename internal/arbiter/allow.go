package arbiter

import (
	"fmt"

	"github.com/bnema/grabarbiter/internal/grab"
	"github.com/bnema/grabarbiter/internal/input"
	"github.com/bnema/grabarbiter/internal/status"
)

// AllowMode is the mode of an allow-events request. The values are the
// XI2 ones; the core pointer and keyboard modes map onto the device
// modes and AsyncBoth and SyncBoth onto the pair modes.
type AllowMode uint8

const (
	AsyncDevice AllowMode = iota
	SyncDevice
	ReplayDevice
	AsyncPairedDevice
	AsyncPair
	SyncPair
)

func (m AllowMode) String() string {
	switch m {
	case AsyncDevice:
		return "async-device"
	case SyncDevice:
		return "sync-device"
	case ReplayDevice:
		return "replay-device"
	case AsyncPairedDevice:
		return "async-paired-device"
	case AsyncPair:
		return "async-pair"
	case SyncPair:
		return "sync-pair"
	}
	return fmt.Sprintf("AllowMode(%d)", uint8(m))
}

// ParseAllowMode is the inverse of String.
func ParseAllowMode(s string) (AllowMode, error) {
	for m := AsyncDevice; m <= SyncPair; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown allow mode %q", s)
}

// AllowEvents releases events held back by client's sync grabs. Requests
// from a client that neither holds a frozen grab on the device nor
// froze it through the paired device are ignored, as are requests timed
// before the grab.
func (e *Engine) AllowEvents(client input.ClientID, id input.DeviceID, mode AllowMode, time uint32) error {
	if mode > SyncPair {
		return status.WithValue(status.BadValue, uint32(mode))
	}
	dev, err := e.device(id)
	if err != nil {
		return err
	}

	e.InputLock()
	defer e.InputUnlock()

	slot := e.store.Slot(dev)
	thisGrabbed := slot.Grab != nil && slot.Grab.Client() == client
	thisSynced := false
	othersFrozen := false
	otherGrabbed := false
	grabTime := slot.Time
	for _, other := range e.devices.Devices() {
		if other.ID == dev.ID {
			continue
		}
		og := e.store.ActiveGrab(other)
		if og == nil || og.Client() != client {
			continue
		}
		oslot := e.store.Slot(other)
		if !(thisGrabbed || otherGrabbed) || oslot.Time > grabTime {
			grabTime = oslot.Time
		}
		otherGrabbed = true
		if slot.Other == og {
			thisSynced = true
		}
		if oslot.Sync >= grab.FrozenNoEvent {
			othersFrozen = true
		}
	}
	if !(thisGrabbed && slot.Sync >= grab.FrozenNoEvent) && !thisSynced {
		return nil
	}
	if time != 0 && time < grabTime {
		return nil
	}

	var held *input.Event
	if slot.Sync == grab.FrozenWithEvent {
		held = slot.FrozenEvent
	}
	log.Debug("allow events", "client", client, "device", dev, "mode", mode, "sync", slot.Sync)

	switch mode {
	case AsyncDevice:
		if thisGrabbed {
			thawSlot(slot, grab.Thawed)
		}
		if thisSynced {
			slot.Other = nil
		}
		e.computeFreezes(nil)
	case SyncDevice:
		if thisGrabbed {
			thawSlot(slot, grab.FreezeNextEvent)
			if thisSynced {
				slot.Other = nil
			}
			e.computeFreezes(nil)
		}
	case AsyncPair, SyncPair:
		if othersFrozen {
			next := grab.Thawed
			if mode == SyncPair {
				next = grab.FreezeBothNextEvent
			}
			e.thawClient(client, nil, next)
			e.computeFreezes(nil)
		}
	case AsyncPairedDevice:
		if othersFrozen {
			e.thawClient(client, dev, grab.Thawed)
			e.computeFreezes(nil)
		}
	case ReplayDevice:
		if thisGrabbed && held != nil {
			if thisSynced {
				slot.Other = nil
			}
			r := &replay{dev: dev, ev: *held, win: slot.Grab.Window}
			e.store.Deactivate(dev)
			e.computeFreezes(r)
		}
	}

	// A thawed grab on an emulating touch now owns the touch.
	if mode != ReplayDevice && held != nil && emulatedTouch(*held) {
		e.touches.AcceptAndEnd(dev, held.TouchID)
	}
	return nil
}

func thawSlot(slot *grab.Slot, next grab.SyncState) {
	slot.Sync = next
	slot.FrozenEvent = nil
}

// thawClient moves every device grabbed by client, except skip, to next
// and lifts the freezes client put on paired devices.
func (e *Engine) thawClient(client input.ClientID, skip *input.Device, next grab.SyncState) {
	for _, dev := range e.devices.Devices() {
		if skip != nil && dev.ID == skip.ID {
			continue
		}
		slot := e.store.Slot(dev)
		if slot.Grab != nil && slot.Grab.Client() == client {
			thawSlot(slot, next)
		}
		if slot.Other != nil && slot.Other.Client() == client {
			slot.Other = nil
		}
	}
}

// emulatedTouch reports whether ev is a pointer event emulated from a
// touch.
func emulatedTouch(ev input.Event) bool {
	return !ev.Type.IsTouch() && ev.Flags&input.PointerEmulated != 0
}

// replay is an event a released sync grab hands back for delivery as if
// the grab had never been there.
type replay struct {
	dev *input.Device
	ev  input.Event
	win *input.Window
}

// computeFreezes replays r, if any, then plays the events queued on
// devices that are no longer frozen, in device order.
func (e *Engine) computeFreezes(r *replay) {
	if e.playing {
		return
	}
	e.playing = true
	defer func() { e.playing = false }()
	e.thaw = false

	if r != nil {
		e.replayFrozen(r)
	}
	for _, dev := range e.devices.Devices() {
		slot := e.store.Slot(dev)
		for len(slot.Queue) > 0 && !slot.Frozen() {
			ev := slot.Queue[0]
			slot.Queue = slot.Queue[1:]
			if err := e.dispatch(dev, ev); err != nil {
				log.Warn("queued event dropped", "device", dev, "type", ev.Type, "error", err)
			}
		}
	}
}

// replayFrozen delivers the event a replayed grab froze on. Grabs below
// the grab window get a chance first. A touch the grab owned through
// pointer emulation passes to its next listener, and a gesture ends.
func (e *Engine) replayFrozen(r *replay) {
	switch {
	case emulatedTouch(r.ev):
		e.touches.RejectOwner(r.dev, r.ev.TouchID)
	case r.ev.Type.IsGesture():
		e.gestures.EndActiveGestures(r.dev)
	default:
		if e.checkDeviceGrabs(r.dev, r.ev, r.win) {
			return
		}
		e.deliverToWindows(r.dev, r.ev, nil)
	}
}
