package arbiter

import (
	"github.com/bnema/grabarbiter/internal/grab"
	"github.com/bnema/grabarbiter/internal/input"
	"github.com/bnema/grabarbiter/internal/listener"
	"github.com/bnema/grabarbiter/internal/status"
	"github.com/jezek/xgb/xproto"
)

// ProcessEvent runs one device event through the arbiter. Touch events
// go to the touch manager and gesture events to the gesture manager.
// Key, button and motion events are delivered through the active grab,
// a passive grab they activate, or the selections under the sprite.
// Events for a frozen device are queued until it thaws.
func (e *Engine) ProcessEvent(ev input.Event) error {
	dev, err := e.device(ev.DeviceID)
	if err != nil {
		return err
	}

	switch {
	case ev.Type.IsTouch() || ev.Type == input.TouchOwnership:
		e.InputLock()
		defer e.InputUnlock()
		return e.touches.ProcessEvent(dev, &ev)
	case ev.Type.IsGesture():
		if !dev.Gesture {
			return status.WithValue(status.BadDevice, uint32(dev.ID))
		}
	case ev.Type.CoreType() != 0:
	default:
		return status.WithValue(status.BadValue, uint32(ev.Type))
	}

	e.InputLock()
	defer e.InputUnlock()

	slot := e.store.Slot(dev)
	if slot.Frozen() {
		slot.Queue = append(slot.Queue, ev)
		log.Debug("device frozen, event queued", "device", dev, "type", ev.Type, "queued", len(slot.Queue))
		return nil
	}
	return e.dispatch(dev, ev)
}

func (e *Engine) dispatch(dev *input.Device, ev input.Event) error {
	if ev.Type.IsGesture() {
		return e.gestures.ProcessEvent(dev, &ev)
	}
	e.processDeviceEvent(dev, ev)
	return nil
}

// processDeviceEvent delivers a key, button or motion event. A passive
// or implicit grab ends with the release of the last button, or of the
// key that activated it.
func (e *Engine) processDeviceEvent(dev *input.Device, ev input.Event) {
	switch ev.Type {
	case input.ButtonPress:
		e.pressed(dev).Set(uint(ev.Detail))
	case input.ButtonRelease:
		e.pressed(dev).Clear(uint(ev.Detail))
	}

	slot := e.store.Slot(dev)
	if slot.Grab == nil {
		if e.checkDeviceGrabs(dev, ev, nil) {
			return
		}
		e.deliverToWindows(dev, ev, nil)
		return
	}

	deactivate := false
	switch ev.Type {
	case input.ButtonRelease:
		deactivate = slot.FromPassive() && e.pressed(dev).None()
	case input.KeyRelease:
		deactivate = slot.FromPassive() && ev.Detail == slot.ActivatingKey
	}
	e.deliverGrabbed(dev, ev, deactivate)
	if deactivate {
		e.store.Deactivate(dev)
	}
}

// checkDeviceGrabs activates the first passive grab for ev along the
// sprite trace, root first. With ignore set, only windows below it are
// tried, and nothing is when ignore is not on the trace.
func (e *Engine) checkDeviceGrabs(dev *input.Device, ev input.Event, ignore *input.Window) bool {
	trace := e.tree.SpriteTrace(ev.RootX, ev.RootY)
	if ignore != nil {
		found := false
		for i, win := range trace {
			if win == ignore {
				trace, found = trace[i+1:], true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, win := range trace {
		g := e.resolver.PassiveGrab(win, dev, &ev, dev.IsMaster())
		if g == nil {
			continue
		}
		if err := e.activatePassiveGrab(dev, g, ev); err != nil {
			log.Warn("passive grab activation failed", "device", dev, "grab", g, "error", err)
			return false
		}
		return true
	}
	return false
}

// activatePassiveGrab makes a copy of g dev's active grab and delivers
// ev through it. A sync grab freezes the device on ev.
func (e *Engine) activatePassiveGrab(dev *input.Device, g *grab.Grab, ev input.Event) error {
	active, err := e.store.Activate(dev, g, ev.Time, grab.Passive)
	if err != nil {
		return err
	}
	active.Bind(dev)
	slot := e.store.Slot(dev)
	if ev.Type == input.KeyPress {
		slot.ActivatingKey = ev.Detail
	}
	e.deliverOneGrabbed(dev, active, ev)
	if slot.Capture(ev) {
		log.Debug("device frozen by passive grab", "device", dev, "grab", active)
	}
	return nil
}

// deliverGrabbed delivers ev through dev's active grab. With owner events
// the grabbing client gets ev as if it had no grab, falling back to the
// grab window. A press or release may freeze the device.
func (e *Engine) deliverGrabbed(dev *input.Device, ev input.Event, deactivate bool) bool {
	g := e.store.ActiveGrab(dev)
	if g == nil {
		return false
	}
	delivered := false
	if g.OwnerEvents {
		delivered = e.deliverToWindows(dev, ev, g)
	}
	if !delivered && (g.Kind != input.Core || dev.IsMaster()) {
		delivered = e.deliverOneGrabbed(dev, g, ev)
	}
	if delivered && !deactivate {
		switch ev.Type {
		case input.KeyPress, input.KeyRelease, input.ButtonPress, input.ButtonRelease:
			e.freezeIfNeeded(dev, ev)
		}
	}
	return delivered
}

func (e *Engine) deliverOneGrabbed(dev *input.Device, g *grab.Grab, ev input.Event) bool {
	if !g.Selects(dev, ev.Type) {
		return false
	}
	e.out.Deliver(input.Delivery{
		Client: g.Client(),
		Device: dev.ID,
		Window: g.Window.ID,
		Grab:   g.Resource,
		Level:  g.Kind,
		Event:  ev,
	})
	return true
}

// freezeIfNeeded freezes dev on ev after an allow-events sync request,
// and its pair as well after a sync-both request.
func (e *Engine) freezeIfNeeded(dev *input.Device, ev input.Event) {
	slot := e.store.Slot(dev)
	if slot.Grab == nil {
		return
	}
	switch slot.Sync {
	case grab.FreezeBothNextEvent:
		if other := paired(dev); other != nil {
			ps := e.store.Slot(other)
			if ps.Sync == grab.FreezeBothNextEvent && ps.Grab != nil && ps.Grab.Client() == slot.Grab.Client() {
				ps.Sync = grab.FrozenNoEvent
			} else {
				ps.Other = slot.Grab
			}
		}
		fallthrough
	case grab.FreezeNextEvent:
		slot.Sync = grab.FrozenWithEvent
		slot.FrozenEvent = &ev
		log.Debug("device frozen", "device", dev, "type", ev.Type)
	}
}

// target is one client an event can go to on a window.
type target struct {
	client input.ClientID
	level  input.Level
	mask   uint32
	xi2    *input.XI2Mask
}

// windowTargets lists the clients on win selecting t from dev at the
// first level with any: XI2, then XI 1.x, then core for masters.
func windowTargets(dev *input.Device, win *input.Window, t input.EventType, xi2Only bool) []target {
	var out []target
	if xt := t.XI2(); xt != 0 {
		for _, ic := range win.InputClients {
			if ic.XI2.IsSet(dev, xt) {
				out = append(out, target{client: ic.Resource.Client(), level: input.XI2, xi2: ic.XI2})
			}
		}
		if len(out) > 0 || xi2Only {
			return out
		}
	}
	filter := t.Filter()
	if filter == 0 {
		return nil
	}
	for _, ic := range win.InputClients {
		if m := ic.Masks[dev.ID]; m&filter != 0 {
			out = append(out, target{client: ic.Resource.Client(), level: input.XI, mask: m})
		}
	}
	if len(out) > 0 || !dev.IsMaster() {
		return out
	}
	if win.EventMask&filter != 0 {
		out = append(out, target{client: win.Owner(), level: input.Core, mask: win.EventMask})
	}
	for _, oc := range win.OtherClients {
		if oc.Mask&filter != 0 {
			out = append(out, target{client: oc.Resource.Client(), level: input.Core, mask: oc.Mask})
		}
	}
	return out
}

// deliverToWindows walks from the sprite window to the root and delivers
// ev to the first window with interested clients. A do-not-propagate
// mask stops core and XI 1.x propagation; XI2 keeps climbing. With owner
// set only its client is considered. A button press delivered without a
// grab starts an implicit grab.
func (e *Engine) deliverToWindows(dev *input.Device, ev input.Event, owner *grab.Grab) bool {
	trace := e.tree.SpriteTrace(ev.RootX, ev.RootY)
	xi2Only := false
	for i := len(trace) - 1; i >= 0; i-- {
		win := trace[i]
		targets := windowTargets(dev, win, ev.Type, xi2Only)
		if owner != nil {
			kept := targets[:0]
			for _, t := range targets {
				if t.client == owner.Client() {
					kept = append(kept, t)
				}
			}
			targets = kept
		}
		if len(targets) > 0 {
			for _, t := range targets {
				var via input.XID
				if owner != nil {
					via = owner.Resource
				}
				e.out.Deliver(input.Delivery{Client: t.client, Device: dev.ID, Window: win.ID, Grab: via, Level: t.level, Event: ev})
			}
			if owner == nil && ev.Type == input.ButtonPress {
				e.activateImplicitGrab(dev, win, ev, targets[0])
			}
			return true
		}
		if e.resolver.Deliverable(dev, ev.Type, win)&listener.DontPropagate != 0 {
			xi2Only = true
		}
	}
	return false
}

// activateImplicitGrab grabs dev for the client that got a button press
// with the mask it selected the press with.
func (e *Engine) activateImplicitGrab(dev *input.Device, win *input.Window, ev input.Event, t target) {
	if e.store.ActiveGrab(dev) != nil {
		return
	}
	p := grab.Params{
		Device:           dev,
		ModifierDevice:   dev.KeyboardOrFloat(),
		Window:           win,
		Kind:             t.level,
		Type:             input.ButtonPress,
		Detail:           ev.Detail,
		EventMask:        t.mask,
		ThisDeviceMode:   grab.ModeAsync,
		OtherDevicesMode: grab.ModeAsync,
	}
	switch t.level {
	case input.Core:
		p.OwnerEvents = t.mask&xproto.EventMaskOwnerGrabButton != 0
	case input.XI2:
		p.XI2Mask = t.xi2
	}
	tmp, err := e.store.Create(t.client, p)
	if err != nil {
		log.Warn("implicit grab failed", "device", dev, "window", win, "error", err)
		return
	}
	defer e.store.Free(tmp)
	if _, err := e.store.Activate(dev, tmp, ev.Time, grab.Implicit); err != nil {
		log.Warn("implicit grab failed", "device", dev, "window", win, "error", err)
	}
}

// pointerPath carries the pointer events emulated from touches. They are
// never queued: a frozen emulating touch is held by the ownership
// protocol instead.
type pointerPath struct{ e *Engine }

func (p pointerPath) ActivatePassiveGrab(dev *input.Device, g *grab.Grab, ev input.Event) error {
	return p.e.activatePassiveGrab(dev, g, ev)
}

func (p pointerPath) DeliverGrabbed(dev *input.Device, ev input.Event) bool {
	return p.e.deliverGrabbed(dev, ev, false)
}

func (p pointerPath) ProcessPointerEvent(dev *input.Device, ev input.Event) {
	if slot := p.e.store.Slot(dev); slot.Frozen() {
		slot.Queue = append(slot.Queue, ev)
		return
	}
	p.e.processDeviceEvent(dev, ev)
}

// freezer holds gesture devices back for sync gesture grabs.
type freezer struct{ e *Engine }

func (f freezer) FreezeIfSync(dev *input.Device, ev *input.Event) {
	if f.e.store.Slot(dev).Capture(*ev) {
		return
	}
	f.e.freezeIfNeeded(dev, *ev)
}
