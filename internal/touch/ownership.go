package touch

import (
	"math"

	"github.com/bnema/grabarbiter/internal/grab"
	"github.com/bnema/grabarbiter/internal/input"
	"github.com/bnema/grabarbiter/internal/listener"
	"github.com/bnema/grabarbiter/internal/resource"
	"github.com/bnema/grabarbiter/internal/status"
)

// AcceptReject handles a client's accept or reject of touch touchID on
// dev for the listener it holds on grabWindow.
func (m *Manager) AcceptReject(client input.ClientID, dev *input.Device, mode input.AcceptMode, touchID uint32, grabWindow input.XID) error {
	if dev.Touch == nil {
		return status.WithValue(status.BadDevice, uint32(dev.ID))
	}
	if mode != input.AcceptTouch && mode != input.RejectTouch {
		return status.WithValue(status.BadValue, uint32(mode))
	}
	pt := m.FindByClientID(dev, touchID)
	if pt == nil {
		return status.WithValue(status.BadValue, touchID)
	}
	for i, l := range pt.Listeners {
		if l.Client() == client && l.Window != nil && l.Window.ID == grabWindow {
			log.Debug("touch accept/reject", "device", dev, "touch", touchID, "client", client, "mode", mode, "index", i)
			m.listenerAcceptReject(dev, pt, i, mode)
			return nil
		}
	}
	return status.BadAccess
}

// listenerAcceptReject applies mode for the listener at index. The owner
// goes through an ownership event; a later listener rejects at once or
// records its early accept.
func (m *Manager) listenerAcceptReject(dev *input.Device, pt *Point, index int, mode input.AcceptMode) {
	if index < 0 || index >= len(pt.Listeners) {
		panic("touch: listener index out of range")
	}
	l := pt.Listeners[index]
	if index > 0 {
		if mode == input.RejectTouch {
			m.rejected(dev, pt, l.Resource, nil)
		} else {
			l.State = listener.EarlyAccept
		}
		return
	}
	m.processOwnership(dev, ownershipEvent(dev, pt, l.Resource, mode))
}

func (m *Manager) processOwnership(dev *input.Device, ev *input.Event) {
	pt := m.FindByClientID(dev, ev.TouchID)
	if pt == nil {
		log.Debug("ownership event for unknown touch", "device", dev, "touch", ev.TouchID)
		return
	}

	switch ev.Reason {
	case input.RejectTouch:
		m.rejected(dev, pt, ev.Resource, ev)
	case input.AcceptTouch:
		if len(pt.Listeners) == 0 {
			return
		}
		// An owner already past the end still goes through it so the
		// point is ended below.
		if pt.Listeners[0].State == listener.HasEnd {
			m.emitEnd(dev, pt, input.TouchAccept, pt.Listeners[0].Resource)
		}
		for i := 1; i < len(pt.Listeners); i++ {
			m.emitEnd(dev, pt, input.TouchAccept, pt.Listeners[i].Resource)
		}
		for len(pt.Listeners) > 1 {
			m.removeListener(pt, pt.Listeners[1].Resource)
		}
		if len(pt.Listeners) == 0 {
			return
		}
		owner := pt.Listeners[0]
		if owner.State == listener.HasEnd {
			m.EndTouch(dev, pt)
		} else {
			owner.State = listener.HasAccepted
		}
		log.Debug("touch accepted", "device", dev, "touch", pt.ClientID, "owner", owner)
	default:
		m.deliverTouchEvents(dev, pt, ev, ev.Resource)
	}
}

// rejected removes resource from pt's listeners and moves ownership on.
// ev is the ownership event that caused it, nil for a listener that was
// not the owner.
func (m *Manager) rejected(dev *input.Device, pt *Point, resource input.XID, ev *input.Event) {
	wasOwner := pt.IsOwner(resource)
	for _, l := range pt.Listeners {
		if l.Resource != resource {
			continue
		}
		if l.State != listener.HasEnd {
			m.emitEnd(dev, pt, input.TouchReject, resource)
		}
		break
	}
	m.removeListener(pt, resource)
	log.Debug("touch rejected", "device", dev, "touch", pt.ClientID, "resource", resource, "owner", wasOwner)

	switch {
	case len(pt.Listeners) == 0:
		m.EndTouch(dev, pt)
	case ev != nil && wasOwner:
		m.punt(dev, pt)
	}
	m.checkOldest(dev)
}

// punt makes the next listener owner, catching it up on the sequence.
func (m *Manager) punt(dev *input.Device, pt *Point) {
	if len(pt.Listeners) == 0 {
		return
	}
	l := pt.Listeners[0]
	early := l.State == listener.EarlyAccept

	switch l.State {
	case listener.AwaitingOwner, listener.EarlyAccept:
		m.deliverTouchEvents(dev, pt, ownershipEvent(dev, pt, l.Resource, input.OwnershipGranted), l.Resource)
	case listener.AwaitingBegin:
		// Only the oldest emulating touch drives the pointer.
		if l.IsPointer() && pt != m.oldestEmulated(dev) {
			return
		}
		m.replay(dev, pt, l.Resource)
	}

	if !pt.Active {
		return
	}
	if pt.PendingFinish {
		m.emitEnd(dev, pt, 0, 0)
		if !pt.Active {
			return
		}
		if len(pt.Listeners) == 1 && (pt.NumGrabs == 0 || l.Grab == nil || l.Grab.Kind != input.XI2 || !l.Grab.XI2Mask.IsSet(dev, input.XITouchBegin)) {
			m.EndTouch(dev, pt)
			return
		}
	}
	if early {
		m.activateEarlyAccept(dev, pt)
	}
}

// replay re-runs pt's history for resource.
func (m *Manager) replay(dev *input.Device, pt *Point, resource input.XID) {
	for _, ev := range pt.History.Events() {
		ev.Flags |= input.TouchReplaying
		ev.Resource = resource
		if err := m.ProcessEvent(dev, &ev); err != nil {
			log.Warn("touch replay failed", "device", dev, "touch", pt.ClientID, "error", err)
			return
		}
	}
}

// activateEarlyAccept accepts for an owner that accepted before it owned
// the sequence.
func (m *Manager) activateEarlyAccept(dev *input.Device, pt *Point) {
	l := pt.Owner()
	if l == nil || l.Grab == nil {
		return
	}
	if err := m.AcceptReject(l.Grab.Client(), dev, input.AcceptTouch, pt.ClientID, l.Window.ID); err != nil {
		log.Warn("early accept failed", "device", dev, "touch", pt.ClientID, "error", err)
	}
}

// oldestEmulated returns the oldest active touch driving the pointer
// through a pointer listener. Client ids wrap, so age is compared modulo
// 2^32.
func (m *Manager) oldestEmulated(dev *input.Device) *Point {
	var oldest *Point
	for _, pt := range m.table(dev).points {
		if !pt.Active || !pt.EmulatePointer || !pt.hasPointerListener() {
			continue
		}
		if oldest == nil || oldest.ClientID-pt.ClientID < math.MaxUint32/2 {
			oldest = pt
		}
	}
	return oldest
}

// checkOldest hands the pointer to the oldest emulating touch if its
// owner is still waiting for the begin.
func (m *Manager) checkOldest(dev *input.Device) {
	oldest := m.oldestEmulated(dev)
	if oldest != nil && oldest.Owner() != nil && oldest.Owner().State == listener.AwaitingBegin {
		m.punt(dev, oldest)
	}
}

// emitEnd sends an end for pt to resource, or to everyone. Nothing is
// sent while the device is frozen.
func (m *Manager) emitEnd(dev *input.Device, pt *Point, flags input.Flags, resource input.XID) {
	if m.store.Slot(dev).Frozen() {
		return
	}
	flags |= input.TouchClientID
	if pt.EmulatePointer {
		flags |= input.PointerEmulated
	}
	m.deliverTouchEvents(dev, pt, &input.Event{
		Type:     input.TouchEnd,
		DeviceID: dev.ID,
		SourceID: pt.SourceID,
		TouchID:  pt.ClientID,
		RootX:    pt.RootX,
		RootY:    pt.RootY,
		Flags:    flags,
	}, resource)
}

// AcceptAndEnd accepts touchID for its owner and ends it, as when a sync
// grab is thawed.
func (m *Manager) AcceptAndEnd(dev *input.Device, touchID uint32) {
	pt := m.FindByClientID(dev, touchID)
	if pt == nil {
		return
	}
	if len(pt.Listeners) > 0 {
		m.listenerAcceptReject(dev, pt, 0, input.AcceptTouch)
	}
	if !pt.Active {
		return
	}
	if pt.PendingFinish {
		m.emitEnd(dev, pt, 0, 0)
	}
	if len(pt.Listeners) <= 1 {
		m.EndTouch(dev, pt)
	}
}

// RejectOwner rejects touchID for its current owner, as when a sync grab
// is replayed.
func (m *Manager) RejectOwner(dev *input.Device, touchID uint32) {
	pt := m.FindByClientID(dev, touchID)
	if pt == nil || len(pt.Listeners) == 0 {
		return
	}
	m.listenerAcceptReject(dev, pt, 0, input.RejectTouch)
}

// ResourceIsOwner reports whether resource owns dev's touch touchID.
func (m *Manager) ResourceIsOwner(dev *input.Device, touchID uint32, resource input.XID) bool {
	pt := m.FindByClientID(dev, touchID)
	return pt != nil && pt.IsOwner(resource)
}

// ListenerGone rejects every touch on behalf of a departing client.
func (m *Manager) ListenerGone(client input.ClientID) {
	for _, dev := range m.devices() {
		for _, pt := range m.table(dev).points {
			if !pt.Active {
				continue
			}
			// Listeners behind the owner go first so ownership never
			// passes to another listener of the same client.
			for i := len(pt.Listeners) - 1; i >= 1 && pt.Active; i-- {
				if i < len(pt.Listeners) && pt.Listeners[i].Client() == client {
					m.rejected(dev, pt, pt.Listeners[i].Resource, nil)
				}
			}
			if pt.Active && len(pt.Listeners) > 0 && pt.Listeners[0].Client() == client {
				m.processOwnership(dev, ownershipEvent(dev, pt, pt.Listeners[0].Resource, input.RejectTouch))
			}
		}
	}
}

// grabActivated hands the touches a client owns over to the explicit
// grab it has just taken.
func (m *Manager) grabActivated(dev *input.Device, g *grab.Grab, origin grab.Origin) {
	if origin != grab.Explicit || dev.Touch == nil {
		return
	}
	t, ok := m.tables[dev.ID]
	if !ok {
		return
	}
	for _, pt := range t.points {
		if !pt.Active || len(pt.Listeners) == 0 || pt.Listeners[0].Client() != g.Client() {
			continue
		}
		typ := listener.Grab
		if g.Kind != input.XI2 || !g.XI2Mask.IsSet(dev, input.XITouchBegin) {
			typ = listener.PointerGrab
		}
		cp, err := m.store.Alloc(g)
		if err != nil {
			log.Warn("touch keeps its owner", "device", dev, "touch", pt.ClientID, "error", err)
			continue
		}
		l := pt.Listeners[0]
		if l.Grab != nil {
			m.store.Free(l.Grab)
		}
		*l = listener.Listener{
			Resource:     g.Resource,
			ResourceType: resource.TypePassiveGrab,
			Level:        g.Kind,
			Type:         typ,
			State:        listener.IsOwner,
			Window:       g.Window,
			Grab:         cp,
		}
		log.Debug("touch taken over by grab", "device", dev, "touch", pt.ClientID, "grab", g)
	}
}

// grabDeactivated lets go of touches owned by an explicit grab that was
// just released. Grabs that only saw emulated pointer events accept, so
// that no second release is emulated; the others reject.
func (m *Manager) grabDeactivated(dev *input.Device, g *grab.Grab, origin grab.Origin) {
	if origin != grab.Explicit || dev.Touch == nil || !dev.IsPointer() {
		return
	}
	t, ok := m.tables[dev.ID]
	if !ok {
		return
	}
	for _, pt := range t.points {
		if !pt.Active || !pt.IsOwner(g.Resource) {
			continue
		}
		mode := input.RejectTouch
		if g.Kind != input.XI2 || !g.XI2Mask.IsSet(dev, input.XITouchBegin) {
			mode = input.AcceptTouch
			pt.Listeners[0].State = listener.HasEnd
		}
		m.listenerAcceptReject(dev, pt, 0, mode)
	}
}
