package touch

import (
	"github.com/bnema/grabarbiter/internal/grab"
	"github.com/bnema/grabarbiter/internal/input"
	"github.com/bnema/grabarbiter/internal/listener"
	"github.com/bnema/grabarbiter/internal/resource"
)

// SetupListeners builds pt's listener chain for its begin event. An
// explicit grab on the device is the only listener. Otherwise the passive
// grabs along the sprite, root first, become listeners; when there are
// none, the deepest window selecting the event does.
func (m *Manager) SetupListeners(dev *input.Device, pt *Point, ev *input.Event) {
	slot := m.store.Slot(dev)
	if slot.Grab != nil && !slot.FromPassive() {
		m.addActiveGrabListener(dev, pt, slot.Grab)
		return
	}
	if ev.Type != input.TouchBegin {
		return
	}

	checkCore := dev.IsMaster() && pt.EmulatePointer
	for _, win := range pt.Sprite {
		if g := m.resolver.PassiveGrab(win, dev, ev, checkCore); g != nil {
			m.addGrabListener(dev, pt, g)
		}
	}
	if len(pt.Listeners) > 0 {
		log.Debug("touch listeners", "device", dev, "touch", pt.ClientID, "grabs", pt.NumGrabs)
		return
	}

	for i := len(pt.Sprite) - 1; i >= 0; i-- {
		l, history := m.resolver.Selection(dev, pt.Sprite[i], ev.Type, pt.EmulatePointer)
		if l == nil {
			continue
		}
		if history {
			m.ensureHistory(pt)
		}
		pt.Listeners = append(pt.Listeners, l)
		log.Debug("touch listener", "device", dev, "touch", pt.ClientID, "listener", l)
		return
	}
}

func (m *Manager) ensureHistory(pt *Point) {
	if pt.History == nil {
		pt.History = newHistory(m.opts.HistorySize)
	}
}

func (m *Manager) addActiveGrabListener(dev *input.Device, pt *Point, g *grab.Grab) {
	if !pt.EmulatePointer {
		if g.Kind != input.XI2 || !g.XI2Mask.IsSet(dev, input.XITouchBegin) {
			return
		}
	}
	m.addGrabListener(dev, pt, g)
}

// addGrabListener appends a listener holding its own copy of g. Grabs
// that will only see the sequence late keep a history.
func (m *Manager) addGrabListener(dev *input.Device, pt *Point, g *grab.Grab) {
	typ := listener.Grab
	if g.Kind == input.XI2 {
		if !g.XI2Mask.IsSet(dev, input.XITouchOwnership) {
			m.ensureHistory(pt)
		}
		if !g.XI2Mask.IsSet(dev, input.XITouchBegin) {
			typ = listener.PointerGrab
		}
	} else {
		m.ensureHistory(pt)
		typ = listener.PointerGrab
	}

	cp, err := m.store.Alloc(g)
	if err != nil {
		log.Warn("dropping grab listener", "device", dev, "grab", g, "error", err)
		return
	}
	cp.Bind(dev)
	pt.Listeners = append(pt.Listeners, &listener.Listener{
		Resource:     g.Resource,
		ResourceType: resource.TypePassiveGrab,
		Level:        g.Kind,
		Type:         typ,
		State:        listener.AwaitingBegin,
		Window:       g.Window,
		Grab:         cp,
	})
	pt.NumGrabs++
}
