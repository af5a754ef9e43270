// Package touch tracks touch sequences and arbitrates their ownership
// between the grabs and selections that compete for them.
package touch

import (
	"sort"

	"github.com/bnema/grabarbiter/internal/grab"
	"github.com/bnema/grabarbiter/internal/input"
	"github.com/bnema/grabarbiter/internal/listener"
	"github.com/bnema/grabarbiter/internal/logger"
	"github.com/bnema/grabarbiter/internal/status"
)

var log = logger.WithPrefix("touch")

// Options tunes the manager.
type Options struct {
	// PointerEmulation lets the first touch on a direct touch device
	// drive the pointer.
	PointerEmulation bool
	// HistorySize bounds the events kept for late owners.
	HistorySize int
	// InitialSlots is the number of points allocated per device.
	InitialSlots int
}

// DefaultOptions returns the server defaults.
func DefaultOptions() Options {
	return Options{
		PointerEmulation: true,
		HistorySize:      100,
		InitialSlots:     5,
	}
}

// Manager owns every device's touch points.
type Manager struct {
	opts     Options
	store    *grab.Store
	resolver *listener.Resolver
	tree     input.WindowTree
	out      input.Deliverer
	pointer  PointerPath

	tables map[input.DeviceID]*table
	nextID uint32
}

// NewManager returns a manager delivering through out. It follows the
// explicit grabs activated and released on store.
func NewManager(store *grab.Store, resolver *listener.Resolver, tree input.WindowTree, out input.Deliverer, opts Options) *Manager {
	if opts.HistorySize < 2 {
		opts.HistorySize = DefaultOptions().HistorySize
	}
	if opts.InitialSlots < 1 {
		opts.InitialSlots = DefaultOptions().InitialSlots
	}
	m := &Manager{
		opts:     opts,
		store:    store,
		resolver: resolver,
		tree:     tree,
		out:      out,
		tables:   make(map[input.DeviceID]*table),
		nextID:   1,
	}
	m.pointer = &directPointer{store: store, out: out}
	store.OnActivate(m.grabActivated)
	store.OnDeactivate(m.grabDeactivated)
	return m
}

// SetPointerPath replaces the path emulated pointer events take.
func (m *Manager) SetPointerPath(p PointerPath) {
	m.pointer = p
}

func (m *Manager) table(dev *input.Device) *table {
	t, ok := m.tables[dev.ID]
	if !ok {
		t = &table{dev: dev, points: make([]*Point, 0, m.opts.InitialSlots)}
		for i := 0; i < m.opts.InitialSlots; i++ {
			t.points = append(t.points, &Point{})
		}
		m.tables[dev.ID] = t
	}
	return t
}

// RemoveDevice drops dev's points without delivering anything.
func (m *Manager) RemoveDevice(dev *input.Device) {
	t, ok := m.tables[dev.ID]
	if !ok {
		return
	}
	for _, pt := range t.points {
		m.releaseListeners(pt)
	}
	delete(m.tables, dev.ID)
}

func (m *Manager) allocClientID() uint32 {
	id := m.nextID
	m.nextID++
	if m.nextID == 0 {
		m.nextID = 1
	}
	return id
}

// Begin claims a point for the driver touch ddxID. The first touch on a
// direct touch device emulates the pointer when nothing else is down.
func (m *Manager) Begin(dev *input.Device, ddxID uint32) (*Point, error) {
	if dev.Touch == nil {
		return nil, status.WithValue(status.BadDevice, uint32(dev.ID))
	}
	t := m.table(dev)
	if t.byDDXID(ddxID) != nil {
		return nil, status.WithValue(status.BadValue, ddxID)
	}

	emulate := m.opts.PointerEmulation && dev.Touch.Mode == input.DirectTouch
	var slot *Point
	for slot == nil {
		for _, p := range t.points {
			if p.Physical {
				emulate = false
			}
			if slot == nil && p.free() {
				slot = p
			}
		}
		if slot == nil {
			t.grow()
			log.Debug("touch table grown", "device", dev, "size", len(t.points))
		}
	}

	*slot = Point{
		DDXID:          ddxID,
		ClientID:       m.allocClientID(),
		Active:         true,
		Physical:       true,
		EmulatePointer: emulate,
	}
	return slot, nil
}

// FindByClientID returns dev's active point with the client-visible id.
func (m *Manager) FindByClientID(dev *input.Device, id uint32) *Point {
	return m.table(dev).byClientID(id)
}

// FindByDDXID returns dev's physically active point for the driver id.
func (m *Manager) FindByDDXID(dev *input.Device, id uint32) *Point {
	return m.table(dev).byDDXID(id)
}

// Points returns dev's active points.
func (m *Manager) Points(dev *input.Device) []*Point {
	var out []*Point
	if t, ok := m.tables[dev.ID]; ok {
		for _, p := range t.points {
			if p.Active {
				out = append(out, p)
			}
		}
	}
	return out
}

func (m *Manager) devices() []*input.Device {
	out := make([]*input.Device, 0, len(m.tables))
	for _, t := range m.tables {
		out = append(out, t.dev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) buildSprite(dev *input.Device, pt *Point, ev *input.Event) bool {
	pt.Sprite = nil
	if dev.Touch.Mode == input.DependentTouch {
		for _, other := range m.table(dev).points {
			if other != pt && other.Active && !other.PendingFinish && len(other.Sprite) > 0 {
				pt.Sprite = append([]*input.Window(nil), other.Sprite...)
				break
			}
		}
	}
	if len(pt.Sprite) == 0 {
		pt.Sprite = m.tree.SpriteTrace(ev.RootX, ev.RootY)
	}
	return len(pt.Sprite) > 0
}

// EndTouch finishes pt's sequence and frees its listeners. A passive
// pointer grab activated by an emulating touch is released once the
// finger is up.
func (m *Manager) EndTouch(dev *input.Device, pt *Point) {
	if !pt.Active {
		return
	}
	if pt.EmulatePointer && !pt.Physical {
		m.releaseEmulatedButton(dev)
	}
	m.releaseListeners(pt)
	pt.Active = false
	pt.PendingFinish = false
	pt.Sprite = nil
	pt.History = nil
	log.Debug("touch ended", "device", dev, "touch", pt.ClientID)
}

func (m *Manager) releaseListeners(pt *Point) {
	for len(pt.Listeners) > 0 {
		m.removeListener(pt, pt.Listeners[0].Resource)
	}
	pt.NumGrabs = 0
}

func (m *Manager) releaseEmulatedButton(dev *input.Device) {
	slot := m.store.Slot(dev)
	if slot.Grab != nil && slot.FromPassive() && slot.Grab.IsPointerGrab() {
		m.store.Deactivate(dev)
	}
}

func (m *Manager) removeListener(pt *Point, resource input.XID) bool {
	for i, l := range pt.Listeners {
		if l.Resource != resource {
			continue
		}
		if l.Grab != nil {
			m.store.Free(l.Grab)
			l.Grab = nil
			pt.NumGrabs--
		}
		pt.Listeners = append(pt.Listeners[:i], pt.Listeners[i+1:]...)
		return true
	}
	return false
}

// ProcessEvent runs a touch or ownership event through the arbiter.
// Driver events carry the driver's touch id; events flagged TouchClientID
// or TouchReplaying carry the client-visible id.
func (m *Manager) ProcessEvent(dev *input.Device, ev *input.Event) error {
	if dev.Touch == nil {
		return status.WithValue(status.BadDevice, uint32(dev.ID))
	}
	if ev.Type == input.TouchOwnership {
		m.processOwnership(dev, ev)
		return nil
	}
	if !ev.Type.IsTouch() {
		return status.WithValue(status.BadValue, uint32(ev.Type))
	}

	t := m.table(dev)
	var pt *Point
	switch {
	case ev.Flags&(input.TouchClientID|input.TouchReplaying) != 0:
		pt = t.byClientID(ev.TouchID)
	case ev.Type == input.TouchBegin:
		p, err := m.Begin(dev, ev.TouchID)
		if err != nil {
			return err
		}
		pt = p
		pt.SourceID = ev.SourceID
		ev.TouchID = pt.ClientID
		if pt.EmulatePointer {
			ev.Flags |= input.PointerEmulated
		}
	default:
		pt = t.byDDXID(ev.TouchID)
		if pt == nil {
			log.Debug("dropping event for unknown touch", "device", dev, "type", ev.Type, "ddx", ev.TouchID)
			return nil
		}
		ev.TouchID = pt.ClientID
		if pt.EmulatePointer {
			ev.Flags |= input.PointerEmulated
		}
		if ev.Type == input.TouchEnd {
			pt.Physical = false
		}
	}
	if pt == nil {
		log.Debug("dropping event for inactive touch", "device", dev, "type", ev.Type, "touch", ev.TouchID)
		return nil
	}
	emulate := ev.Flags&input.PointerEmulated != 0

	// An explicit pointer grab takes the emulated sequence over.
	if emulate && m.explicitPointerGrab(dev) {
		switch {
		case pt.Active && ev.Type == input.TouchEnd && len(pt.Listeners) > 0:
			m.listenerAcceptReject(dev, pt, 0, input.AcceptTouch)
		case !pt.Active && ev.Type != input.TouchBegin:
			pt.Active = true
			if !m.buildSprite(dev, pt, ev) {
				m.EndTouch(dev, pt)
				return nil
			}
			m.SetupListeners(dev, pt, ev)
		}
	}
	if !pt.Active {
		if ev.Type == input.TouchEnd && pt.EmulatePointer {
			m.releaseEmulatedButton(dev)
		}
		return nil
	}

	if emulate && (ev.Type == input.TouchBegin || (ev.Type == input.TouchEnd && len(pt.Listeners) > 0)) {
		m.deliverEmulatedMotion(dev, pt, ev)
	}

	if ev.Type == input.TouchBegin && ev.Flags&input.TouchReplaying == 0 {
		if !m.buildSprite(dev, pt, ev) {
			m.EndTouch(dev, pt)
			return nil
		}
	} else if ev.Type != input.TouchEnd && len(pt.Sprite) == 0 {
		return nil
	}
	if ev.Flags&input.TouchReplaying == 0 {
		pt.RootX, pt.RootY = ev.RootX, ev.RootY
	}

	m.deliverTouchEvents(dev, pt, ev, ev.Resource)
	if ev.Type == input.TouchEnd {
		m.EndTouch(dev, pt)
	}
	return nil
}

func (m *Manager) explicitPointerGrab(dev *input.Device) bool {
	slot := m.store.Slot(dev)
	g := slot.Grab
	if g == nil || slot.FromPassive() {
		return false
	}
	return g.Kind != input.XI2 || !g.XI2Mask.IsSet(dev, input.XITouchBegin)
}

// EndPhysicallyActiveTouches ends every touch still down on dev, as when
// the device is disabled.
func (m *Manager) EndPhysicallyActiveTouches(dev *input.Device) {
	t, ok := m.tables[dev.ID]
	if !ok {
		return
	}
	for _, pt := range t.points {
		if !pt.Physical {
			continue
		}
		ev := &input.Event{
			Type:     input.TouchEnd,
			DeviceID: dev.ID,
			SourceID: pt.SourceID,
			TouchID:  pt.DDXID,
			RootX:    pt.RootX,
			RootY:    pt.RootY,
		}
		if err := m.ProcessEvent(dev, ev); err != nil {
			log.Warn("failed to end touch", "device", dev, "touch", pt.ClientID, "error", err)
		}
	}
}
