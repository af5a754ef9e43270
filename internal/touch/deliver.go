package touch

import (
	"github.com/bnema/grabarbiter/internal/grab"
	"github.com/bnema/grabarbiter/internal/input"
	"github.com/bnema/grabarbiter/internal/listener"
)

// target is where a listener's events go.
type target struct {
	client input.ClientID
	win    *input.Window
	grab   *grab.Grab
	mask   *input.XI2Mask
}

func (t target) grabID() input.XID {
	if t.grab == nil {
		return 0
	}
	return t.grab.Resource
}

// targetFor resolves l's client and window. A selection listener whose
// client no longer selects the event is skipped.
func (m *Manager) targetFor(dev *input.Device, pt *Point, ev *input.Event, l *listener.Listener) (target, bool) {
	if l.Grab != nil {
		return target{client: l.Grab.Client(), win: l.Grab.Window, grab: l.Grab, mask: l.Grab.XI2Mask}, true
	}
	win := l.Window
	if win == nil {
		return target{}, false
	}
	client := l.Client()
	evtype := ev.Type
	if pt.EmulatePointer && l.Type == listener.PointerRegular {
		evtype = ev.Type.PointerEmulation()
	}

	switch l.Level {
	case input.XI2:
		ic := win.InputClient(client)
		if ic == nil || !ic.XI2.IsSet(dev, evtype.XI2()) {
			return target{}, false
		}
		return target{client: client, win: win, mask: ic.XI2}, true
	case input.XI:
		filter := evtype.Filter()
		ic := win.InputClient(client)
		if filter == 0 || ic == nil || ic.Masks[dev.ID]&filter == 0 {
			return target{}, false
		}
		return target{client: client, win: win}, true
	case input.Core:
		if evtype.Filter() == 0 {
			return target{}, false
		}
		return target{client: client, win: win}, true
	}
	return target{}, false
}

func (m *Manager) deliver(dev *input.Device, to target, level input.Level, ev *input.Event) {
	m.out.Deliver(input.Delivery{
		Client: to.client,
		Device: dev.ID,
		Window: to.win.ID,
		Grab:   to.grabID(),
		Level:  level,
		Event:  *ev,
	})
}

// deliverTouchEvents hands ev to every listener, or only to resource when
// it is set.
func (m *Manager) deliverTouchEvents(dev *input.Device, pt *Point, ev *input.Event, resource input.XID) {
	if ev.Type == input.TouchBegin && ev.Flags&(input.TouchClientID|input.TouchReplaying) == 0 {
		m.SetupListeners(dev, pt, ev)
	}
	pt.History.Push(ev, pt.ClientID)

	// Listeners can go away during delivery; the length is re-read on
	// every pass.
	for i := 0; i < len(pt.Listeners); i++ {
		l := pt.Listeners[i]
		if resource != 0 && l.Resource != resource {
			continue
		}
		to, ok := m.targetFor(dev, pt, ev, l)
		if !ok {
			continue
		}
		m.deliverTouchEvent(dev, pt, ev, l, to)
	}
}

func (m *Manager) deliverTouchEvent(dev *input.Device, pt *Point, ev *input.Event, l *listener.Listener, to target) {
	hasOwnership := to.mask.IsSet(dev, input.XITouchOwnership)

	switch ev.Type {
	case input.TouchOwnership:
		if !pt.IsOwner(l.Resource) {
			return
		}
		m.deliverOne(dev, pt, to, ev)
		l.State = listener.IsOwner
	case input.TouchBegin:
		m.deliverBegin(dev, pt, ev, l, to)
	case input.TouchUpdate:
		if l.IsPointer() {
			m.deliverEmulated(dev, pt, ev, l, to)
		} else if pt.IsOwner(l.Resource) || hasOwnership {
			m.deliverOne(dev, pt, to, ev)
		}
	case input.TouchEnd:
		m.deliverEnd(dev, pt, ev, l, to)
	}
}

// deliverOne sends a touch event to one listener. Selection clients that
// do not follow ownership see nothing while a grab may still claim the
// sequence; the delivery still counts as made.
func (m *Manager) deliverOne(dev *input.Device, pt *Point, to target, ev *input.Event) bool {
	if to.grab == nil && pt.NumGrabs != 0 && !wantsOwnership(to.client, dev, to.win) {
		return true
	}
	m.deliver(dev, to, input.XI2, ev)
	return true
}

func wantsOwnership(client input.ClientID, dev *input.Device, win *input.Window) bool {
	ic := win.InputClient(client)
	return ic != nil && ic.XI2.IsSet(dev, input.XITouchOwnership)
}

func (m *Manager) deliverBegin(dev *input.Device, pt *Point, ev *input.Event, l *listener.Listener, to target) {
	if l.IsPointer() {
		if !m.deliverEmulated(dev, pt, ev, l, to) {
			return
		}
		l.State = listener.IsOwner
		// An async pointer grab cannot replay, so it takes the touch now.
		slot := m.store.Slot(dev)
		if l.Type == listener.PointerGrab && slot.Grab != nil && slot.FromPassive() && slot.Grab.ThisDeviceMode == grab.ModeAsync {
			m.activateEarlyAccept(dev, pt)
		}
		return
	}

	hasOwnership := to.mask.IsSet(dev, input.XITouchOwnership)
	owner := pt.IsOwner(l.Resource)
	if owner || hasOwnership {
		m.deliverOne(dev, pt, to, ev)
	}
	switch {
	case !owner && hasOwnership:
		l.State = listener.AwaitingOwner
	case !owner:
		l.State = listener.AwaitingBegin
	default:
		if hasOwnership {
			m.sendOwnership(dev, pt, l)
		}
		if l.Type == listener.Regular {
			l.State = listener.HasAccepted
		} else {
			l.State = listener.IsOwner
		}
	}
}

func (m *Manager) deliverEnd(dev *input.Device, pt *Point, ev *input.Event, l *listener.Listener, to target) {
	if l.IsPointer() {
		if l.State != listener.HasEnd && m.deliverEmulated(dev, pt, ev, l, to) {
			l.State = listener.HasEnd
		}
		return
	}

	// A listener still waiting for the begin never sees an end.
	if l.State == listener.AwaitingBegin {
		l.State = listener.HasEnd
		return
	}

	owner := pt.IsOwner(l.Resource)
	switch {
	case ev.Flags&input.TouchReject != 0 || (ev.Flags&input.TouchAccept != 0 && !owner):
		if l.State != listener.HasEnd {
			m.deliverOne(dev, pt, to, ev)
		}
		l.State = listener.HasEnd
	case owner:
		normalEnd := ev.Flags&input.TouchAccept == 0
		if normalEnd && l.State != listener.HasEnd {
			m.deliverOne(dev, pt, to, ev)
		}
		// Until the owner accepts, the others only learn the touch is
		// about to end.
		undecided := len(pt.Listeners) > 1 || (pt.NumGrabs > 0 && l.State != listener.HasAccepted)
		if undecided && ev.Flags&(input.TouchAccept|input.TouchReject) == 0 {
			ev.Type = input.TouchUpdate
			ev.Flags |= input.TouchPendingEnd
			pt.PendingFinish = true
		}
		if normalEnd {
			l.State = listener.HasEnd
		}
	}
}

// sendOwnership tells l it now owns pt.
func (m *Manager) sendOwnership(dev *input.Device, pt *Point, l *listener.Listener) {
	m.processOwnership(dev, ownershipEvent(dev, pt, l.Resource, input.OwnershipGranted))
}

func ownershipEvent(dev *input.Device, pt *Point, resource input.XID, reason input.AcceptMode) *input.Event {
	flags := input.TouchClientID
	if pt.EmulatePointer {
		flags |= input.PointerEmulated
	}
	return &input.Event{
		Type:     input.TouchOwnership,
		DeviceID: dev.ID,
		SourceID: pt.SourceID,
		TouchID:  pt.ClientID,
		Flags:    flags,
		Resource: resource,
		Reason:   reason,
	}
}

// pointerEvent returns the pointer event emulated from touch event ev. The
// touch id stays so that a device frozen on the event can find the touch.
func pointerEvent(ev *input.Event, t input.EventType) input.Event {
	pev := *ev
	pev.Type = t
	pev.Flags = input.PointerEmulated
	pev.Resource = 0
	pev.Detail = 0
	if t == input.ButtonPress || t == input.ButtonRelease {
		pev.Detail = emulatedButton
	}
	return pev
}

const emulatedButton = 1

// deliverEmulated sends the pointer event emulated from ev to the owner
// l. It fails when l does not own the sequence, the touch does not drive
// the pointer, or no grab is there to take the event.
func (m *Manager) deliverEmulated(dev *input.Device, pt *Point, ev *input.Event, l *listener.Listener, to target) bool {
	if !pt.IsOwner(l.Resource) || !pt.EmulatePointer {
		return false
	}
	g := to.grab
	if g == nil {
		g = m.store.ActiveGrab(dev)
	}
	pev := pointerEvent(ev, ev.Type.PointerEmulation())

	if g != nil {
		active := m.store.ActiveGrab(dev)
		if ev.Type == input.TouchBegin && active == nil {
			if err := m.pointer.ActivatePassiveGrab(dev, g, pev); err != nil {
				log.Warn("failed to activate emulated pointer grab", "device", dev, "grab", g, "error", err)
				return false
			}
		} else {
			if active == nil {
				return false
			}
			delivered := m.pointer.DeliverGrabbed(dev, pev)
			if delivered && ev.Type != input.TouchBegin && ev.Flags&input.TouchClientID == 0 {
				m.listenerAcceptReject(dev, pt, 0, input.AcceptTouch)
			}
			if ev.Type == input.TouchEnd && len(pt.Listeners) == 1 {
				slot := m.store.Slot(dev)
				if slot.Grab != nil && slot.FromPassive() && slot.Grab.IsPointerGrab() {
					m.store.Deactivate(dev)
					m.checkOldest(dev)
					return true
				}
			}
		}
	} else {
		m.deliver(dev, to, l.Level, &pev)
	}
	return true
}

// deliverEmulatedMotion moves the pointer to the touch before the
// emulated press or release. With no listener yet, the motion takes the
// regular pointer path.
func (m *Manager) deliverEmulatedMotion(dev *input.Device, pt *Point, ev *input.Event) {
	if len(pt.Listeners) == 0 {
		m.pointer.ProcessPointerEvent(dev, pointerEvent(ev, input.Motion))
		return
	}
	l := pt.Listeners[0]
	if !l.IsPointer() {
		return
	}
	motion := *ev
	motion.Type = input.TouchUpdate
	motion.Detail = 0
	to, ok := m.targetFor(dev, pt, &motion, l)
	if !ok {
		return
	}
	m.deliverEmulated(dev, pt, &motion, l, to)
}
