package touch

import (
	"github.com/bnema/grabarbiter/internal/input"
	"github.com/bnema/grabarbiter/internal/listener"
)

// Point is one touch contact. A point is physically down from the
// driver's begin to its end, and active while the sequence is still being
// delivered; an owner that has not accepted yet keeps the point active
// after the finger lifts.
type Point struct {
	// DDXID is the driver's id, ClientID the id clients see.
	DDXID    uint32
	ClientID uint32
	SourceID input.DeviceID

	Active         bool
	Physical       bool
	EmulatePointer bool
	// PendingFinish is set when the end arrived before the owner accepted.
	PendingFinish bool

	// Sprite is the window path from the root to the window under the
	// touch-down point.
	Sprite    []*input.Window
	Listeners []*listener.Listener
	// NumGrabs counts the listeners holding a grab copy.
	NumGrabs int
	History  *History

	RootX, RootY float64
}

// Owner returns the current owner, or nil.
func (p *Point) Owner() *listener.Listener {
	if len(p.Listeners) == 0 {
		return nil
	}
	return p.Listeners[0]
}

// IsOwner reports whether resource is the current owner.
func (p *Point) IsOwner(resource input.XID) bool {
	owner := p.Owner()
	return owner != nil && owner.Resource == resource
}

func (p *Point) free() bool {
	return !p.Active && !p.Physical
}

func (p *Point) hasPointerListener() bool {
	for _, l := range p.Listeners {
		if l.IsPointer() {
			return true
		}
	}
	return false
}

// History buffers a sequence's begin and updates for listeners that may
// become owner after missing them.
type History struct {
	events []input.Event
	size   int
}

func newHistory(size int) *History {
	return &History{events: make([]input.Event, 0, size), size: size}
}

// Push stores ev. Only the first begin and the updates are kept; ends
// and events generated or replayed by the server are ignored. Once full,
// further events are dropped.
func (h *History) Push(ev *input.Event, clientID uint32) {
	if h == nil {
		return
	}
	switch ev.Type {
	case input.TouchBegin:
		if len(h.events) > 0 {
			return
		}
	case input.TouchUpdate:
	default:
		return
	}
	if ev.Flags&(input.TouchClientID|input.TouchReplaying) != 0 {
		return
	}
	if len(h.events) >= h.size-1 {
		log.Debug("touch history overflowing", "touch", clientID, "size", h.size)
		return
	}
	h.events = append(h.events, *ev)
}

// Events returns the buffered events, oldest first.
func (h *History) Events() []input.Event {
	if h == nil {
		return nil
	}
	out := make([]input.Event, len(h.events))
	copy(out, h.events)
	return out
}

func (h *History) Len() int {
	if h == nil {
		return 0
	}
	return len(h.events)
}

// table holds a device's touch points.
type table struct {
	dev    *input.Device
	points []*Point
}

func (t *table) grow() {
	size := len(t.points) + len(t.points)/2 + 1
	for len(t.points) < size {
		t.points = append(t.points, &Point{})
	}
}

func (t *table) byDDXID(id uint32) *Point {
	for _, p := range t.points {
		if p.Physical && p.DDXID == id {
			return p
		}
	}
	return nil
}

func (t *table) byClientID(id uint32) *Point {
	for _, p := range t.points {
		if p.Active && p.ClientID == id {
			return p
		}
	}
	return nil
}
