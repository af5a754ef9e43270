package listener

import (
	"github.com/bnema/grabarbiter/internal/grab"
	"github.com/bnema/grabarbiter/internal/input"
	"github.com/bnema/grabarbiter/internal/resource"
)

// MaskFlags says through which selections an event is deliverable on a
// window.
type MaskFlags uint8

const (
	XI2Mask MaskFlags = 1 << iota
	XI1Mask
	CoreMask
	DontPropagate
)

// Resolver answers grab and selection questions for a window.
type Resolver struct {
	store   *grab.Store
	devices input.DeviceRegistry
}

func NewResolver(store *grab.Store, devices input.DeviceRegistry) *Resolver {
	return &Resolver{store: store, devices: devices}
}

// emulatedButton is the button a pointer-emulating touch presses.
const emulatedButton = 1

// PassiveGrab returns the first passive grab on win that would activate
// for ev from dev. XI2 grabs are tried first, then XI 1.x, then core grabs
// when checkCore is set. A pointer-emulating touch also tries the grabs
// for its emulated pointer event at each level.
func (r *Resolver) PassiveGrab(win *input.Window, dev *input.Device, ev *input.Event, checkCore bool) *grab.Grab {
	list := r.store.PassiveGrabs(win)
	if len(list) == 0 {
		return nil
	}

	emulated := ev.Type.IsTouch() && ev.Flags&input.PointerEmulated != 0
	pointerType := ev.Type.PointerEmulation()

	temp := grab.Template(0, grab.Params{
		Device:         dev,
		ModifierDevice: dev.KeyboardOrFloat(),
		Window:         win,
		Detail:         ev.Detail,
		Modifiers:      ev.Mods,
	})
	try := func(g *grab.Grab, kind input.Level, t input.EventType, ignoreDevice bool) bool {
		if t == 0 || !t.Valid(kind) {
			return false
		}
		temp.Kind = kind
		temp.Type = t
		temp.Detail.Exact = ev.Detail
		if t != ev.Type {
			temp.Detail.Exact = emulatedButton
		}
		return grab.Matches(temp, g, ignoreDevice)
	}

	for _, g := range list {
		matched := try(g, input.XI2, ev.Type, false) ||
			(emulated && try(g, input.XI2, pointerType, false)) ||
			try(g, input.XI, ev.Type, false) ||
			(emulated && try(g, input.XI, pointerType, false))
		if !matched && checkCore {
			matched = try(g, input.Core, ev.Type, true) ||
				(emulated && try(g, input.Core, pointerType, true))
		}
		if !matched {
			continue
		}
		if g.ConfineTo != nil && !g.ConfineTo.Realized {
			continue
		}
		if g.Kind == input.Core && r.coreGrabInterferes(dev, g) {
			continue
		}
		return g
	}
	return nil
}

// coreGrabInterferes reports whether g's client already holds a core
// grab on another device of the same class.
func (r *Resolver) coreGrabInterferes(dev *input.Device, g *grab.Grab) bool {
	for _, other := range r.devices.Devices() {
		if other.ID == dev.ID {
			continue
		}
		og := r.store.ActiveGrab(other)
		if og == nil || og.Kind != input.Core || og.Client() != g.Client() {
			continue
		}
		if (dev.IsPointer() && other.IsPointer()) || (dev.IsKeyboard() && other.IsKeyboard()) {
			return true
		}
	}
	return false
}

// Deliverable reports through which selections on win an event of type t
// from dev could be delivered.
func (r *Resolver) Deliverable(dev *input.Device, t input.EventType, win *input.Window) MaskFlags {
	var flags MaskFlags
	if xt := t.XI2(); xt != 0 && win.XI2Masks().IsSet(dev, xt) {
		flags |= XI2Mask
	}
	if filter := t.Filter(); filter != 0 {
		if win.XIMasks(dev.ID)&filter != 0 {
			flags |= XI1Mask
		}
		if (win.EventMask|win.OtherEventMasks())&filter != 0 {
			flags |= CoreMask
		}
		if win.DontPropagate&filter != 0 {
			flags |= DontPropagate
		}
	}
	return flags
}

// Selection returns the listener for the first client selecting t on
// win, in XI2, XI 1.x, window owner, other clients order. When the touch
// emulates the pointer and nobody selects t, the emulated pointer event
// is looked up instead. The second result reports whether the listener
// needs the sequence history to catch up once it becomes owner.
func (r *Resolver) Selection(dev *input.Device, win *input.Window, t input.EventType, emulate bool) (*Listener, bool) {
	typ := Regular
	evtype := t
	mask := r.Deliverable(dev, t, win)
	if mask&^DontPropagate == 0 && emulate {
		evtype = t.PointerEmulation()
		typ = PointerRegular
		mask = r.Deliverable(dev, evtype, win)
	}
	if mask&^DontPropagate == 0 {
		return nil, false
	}

	newListener := func(res input.XID, rt resource.Type, level input.Level, lt Type) *Listener {
		return &Listener{Resource: res, ResourceType: rt, Level: level, Type: lt, State: AwaitingBegin, Window: win}
	}

	if mask&XI2Mask != 0 {
		for _, ic := range win.InputClients {
			if !ic.XI2.IsSet(dev, evtype.XI2()) {
				continue
			}
			history := !ic.XI2.IsSet(dev, input.XITouchOwnership)
			return newListener(ic.Resource, resource.TypeInputClient, input.XI2, typ), history
		}
	}

	pointerType := t.PointerEmulation()
	if pointerType == 0 {
		pointerType = t
	}
	filter := pointerType.Filter()

	if mask&XI1Mask != 0 {
		for _, ic := range win.InputClients {
			if ic.Masks[dev.ID]&filter == 0 {
				continue
			}
			return newListener(ic.Resource, resource.TypeInputClient, input.XI, PointerRegular), true
		}
	}
	if mask&CoreMask != 0 {
		if dev.IsMaster() && win.EventMask&filter != 0 {
			return newListener(win.ID, resource.TypeWindow, input.Core, PointerRegular), true
		}
		for _, oc := range win.OtherClients {
			if oc.Mask&filter == 0 {
				continue
			}
			return newListener(oc.Resource, resource.TypeOtherClient, input.Core, PointerRegular), true
		}
	}
	return nil, false
}
