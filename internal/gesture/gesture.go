// Package gesture tracks the single pinch or swipe gesture a device can
// run at a time and the one listener that receives it.
package gesture

import (
	"errors"
	"sort"

	"github.com/bnema/grabarbiter/internal/grab"
	"github.com/bnema/grabarbiter/internal/input"
	"github.com/bnema/grabarbiter/internal/listener"
	"github.com/bnema/grabarbiter/internal/logger"
	"github.com/bnema/grabarbiter/internal/resource"
	"github.com/bnema/grabarbiter/internal/status"
)

var log = logger.WithPrefix("gesture")

// ErrGestureActive is returned when a begin arrives while the device is
// still running a gesture.
var ErrGestureActive = errors.New("gesture already active")

// Info is a device's gesture slot.
type Info struct {
	Active     bool
	Type       input.EventType
	NumTouches uint32
	SourceID   input.DeviceID
	Sprite     []*input.Window
	// Listener is the owner, or nil when nobody grabbed the gesture.
	Listener *listener.Listener
}

// Freezer holds a device's events back once a sync grab got one.
type Freezer interface {
	FreezeIfSync(dev *input.Device, ev *input.Event)
}

// Manager owns every device's gesture slot.
type Manager struct {
	store    *grab.Store
	resolver *listener.Resolver
	tree     input.WindowTree
	out      input.Deliverer
	freezer  Freezer

	infos map[input.DeviceID]*Info
	devs  map[input.DeviceID]*input.Device
}

func NewManager(store *grab.Store, resolver *listener.Resolver, tree input.WindowTree, out input.Deliverer) *Manager {
	m := &Manager{
		store:    store,
		resolver: resolver,
		tree:     tree,
		out:      out,
		infos:    make(map[input.DeviceID]*Info),
		devs:     make(map[input.DeviceID]*input.Device),
	}
	store.OnActivate(m.grabActivated)
	store.OnDeactivate(m.grabDeactivated)
	return m
}

// grabActivated hands a gesture its owner's client holds over to the
// explicit grab the client has just taken.
func (m *Manager) grabActivated(dev *input.Device, g *grab.Grab, origin grab.Origin) {
	if origin != grab.Explicit || !dev.Gesture {
		return
	}
	gi := m.Info(dev)
	if !gi.Active || gi.Listener == nil || gi.Listener.Client() != g.Client() {
		return
	}
	if gi.Listener.Grab != nil {
		m.store.Free(gi.Listener.Grab)
		gi.Listener.Grab = nil
	}
	m.addGrabListener(dev, gi, g)
}

// grabDeactivated ends the gesture an explicit grab owned.
func (m *Manager) grabDeactivated(dev *input.Device, g *grab.Grab, origin grab.Origin) {
	if origin != grab.Explicit || !dev.Gesture {
		return
	}
	if m.ResourceIsOwner(dev, g.Resource) {
		m.EndActiveGestures(dev)
	}
}

// SetFreezer sets who freezes devices after a sync gesture grab.
func (m *Manager) SetFreezer(f Freezer) {
	m.freezer = f
}

// Info returns dev's gesture slot.
func (m *Manager) Info(dev *input.Device) *Info {
	gi, ok := m.infos[dev.ID]
	if !ok {
		gi = &Info{}
		m.infos[dev.ID] = gi
		m.devs[dev.ID] = dev
	}
	return gi
}

// Begin starts a gesture of ev's type on dev.
func (m *Manager) Begin(dev *input.Device, ev *input.Event) (*Info, error) {
	gi := m.Info(dev)
	if gi.Active {
		return nil, ErrGestureActive
	}
	sprite := m.tree.SpriteTrace(ev.RootX, ev.RootY)
	if len(sprite) == 0 {
		return nil, status.WithValue(status.BadWindow, 0)
	}
	*gi = Info{
		Active:     true,
		Type:       ev.Type,
		NumTouches: ev.NumTouches,
		SourceID:   ev.SourceID,
		Sprite:     sprite,
	}
	return gi, nil
}

// FindActive returns dev's gesture if one of t's family is running.
func (m *Manager) FindActive(dev *input.Device, t input.EventType) *Info {
	gi := m.Info(dev)
	if !gi.Active || gi.Type != t.GestureBegin() {
		return nil
	}
	return gi
}

// End finishes dev's gesture and frees the owner's grab copy.
func (m *Manager) End(dev *input.Device) {
	gi := m.Info(dev)
	if gi.Listener != nil && gi.Listener.Grab != nil {
		m.store.Free(gi.Listener.Grab)
	}
	*gi = Info{}
}

// SetupListener picks the gesture's owner. The device's active grab takes
// every gesture; otherwise the first passive grab along the sprite, root
// first, is activated. Plain selections never receive gestures.
func (m *Manager) SetupListener(dev *input.Device, gi *Info, ev *input.Event) {
	if active := m.store.ActiveGrab(dev); active != nil {
		m.addGrabListener(dev, gi, active)
		return
	}
	for _, win := range gi.Sprite {
		g := m.resolver.PassiveGrab(win, dev, ev, false)
		if g == nil {
			continue
		}
		active, err := m.store.Activate(dev, g, ev.Time, grab.Passive)
		if err != nil {
			log.Warn("failed to activate gesture grab", "device", dev, "grab", g, "error", err)
			return
		}
		m.addGrabListener(dev, gi, active)
		return
	}
}

func (m *Manager) addGrabListener(dev *input.Device, gi *Info, g *grab.Grab) {
	typ := listener.NonGestureGrab
	if g.Kind == input.XI2 && g.XI2Mask.IsSet(dev, gi.Type.XI2()) {
		typ = listener.Grab
	}
	cp, err := m.store.Alloc(g)
	if err != nil {
		log.Warn("dropping gesture listener", "device", dev, "grab", g, "error", err)
		return
	}
	gi.Listener = &listener.Listener{
		Resource:     g.Resource,
		ResourceType: resource.TypePassiveGrab,
		Level:        g.Kind,
		Type:         typ,
		State:        listener.IsOwner,
		Window:       g.Window,
		Grab:         cp,
	}
	log.Debug("gesture listener", "device", dev, "listener", gi.Listener)
}

// deliverToOwner sends ev to the owner if it selects it.
func (m *Manager) deliverToOwner(dev *input.Device, gi *Info, ev *input.Event) bool {
	l := gi.Listener
	if l == nil || l.Type == listener.NonGestureGrab || l.Grab == nil {
		return false
	}
	if !l.Grab.XI2Mask.IsSet(dev, ev.Type.XI2()) {
		return false
	}
	m.out.Deliver(input.Delivery{
		Client: l.Grab.Client(),
		Device: dev.ID,
		Window: l.Grab.Window.ID,
		Grab:   l.Resource,
		Level:  input.XI2,
		Event:  *ev,
	})
	return true
}

// ProcessEvent runs a gesture event through the arbiter. A master device
// ignores events from a second source while a gesture is running.
func (m *Manager) ProcessEvent(dev *input.Device, ev *input.Event) error {
	if !dev.Gesture {
		return status.WithValue(status.BadDevice, uint32(dev.ID))
	}
	if !ev.Type.IsGesture() {
		return status.WithValue(status.BadValue, uint32(ev.Type))
	}

	gi := m.Info(dev)
	if dev.IsMaster() && gi.Active && gi.SourceID != ev.SourceID {
		log.Debug("ignoring gesture from second source", "device", dev, "source", ev.SourceID)
		return nil
	}

	begin := ev.Type.IsGestureBegin()
	end := ev.Type.IsGestureEnd()
	if begin {
		var err error
		if gi, err = m.Begin(dev, ev); err != nil {
			log.Debug("gesture begin refused", "device", dev, "type", ev.Type, "error", err)
			return nil
		}
		m.SetupListener(dev, gi, ev)
	} else if gi = m.FindActive(dev, ev.Type); gi == nil {
		return nil
	}

	slot := m.store.Slot(dev)
	deactivate := end && slot.Grab != nil && slot.FromPassive() && slot.Grab.IsGestureGrab()

	delivered := m.deliverToOwner(dev, gi, ev)
	if delivered && !deactivate && (begin || end) && m.freezer != nil {
		m.freezer.FreezeIfSync(dev, ev)
	}
	if end {
		m.End(dev)
	}
	if deactivate {
		m.store.Deactivate(dev)
	}
	return nil
}

// ResourceIsOwner reports whether resource owns dev's gesture.
func (m *Manager) ResourceIsOwner(dev *input.Device, resource input.XID) bool {
	gi := m.Info(dev)
	return gi.Active && gi.Listener != nil && gi.Listener.Resource == resource
}

// EndActiveGestures sends the owner an end for dev's running gesture and
// finishes it.
func (m *Manager) EndActiveGestures(dev *input.Device) {
	gi := m.Info(dev)
	if !gi.Active {
		return
	}
	end := input.GesturePinchEnd
	if gi.Type == input.GestureSwipeBegin {
		end = input.GestureSwipeEnd
	}
	m.deliverToOwner(dev, gi, &input.Event{
		Type:       end,
		DeviceID:   dev.ID,
		SourceID:   gi.SourceID,
		NumTouches: gi.NumTouches,
	})
	m.End(dev)
}

// ListenerGone ends every gesture owned by client.
func (m *Manager) ListenerGone(client input.ClientID) {
	ids := make([]input.DeviceID, 0, len(m.infos))
	for id := range m.infos {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		gi := m.infos[id]
		if gi.Active && gi.Listener != nil && gi.Listener.Client() == client {
			log.Debug("gesture owner gone", "device", m.devs[id], "client", client)
			m.End(m.devs[id])
		}
	}
}
