package input

import (
	"fmt"

	"github.com/jezek/xgb/xproto"
)

// Level is the protocol generation a grab or selection was made with.
type Level uint8

const (
	Core Level = iota + 1
	XI
	XI2
)

func (l Level) String() string {
	switch l {
	case Core:
		return "core"
	case XI:
		return "xi"
	case XI2:
		return "xi2"
	default:
		return fmt.Sprintf("Level(%d)", uint8(l))
	}
}

// EventType is the server-internal event type.
type EventType uint8

const (
	KeyPress EventType = iota + 1
	KeyRelease
	ButtonPress
	ButtonRelease
	Motion
	Enter
	FocusIn
	TouchBegin
	TouchUpdate
	TouchEnd
	TouchOwnership
	GesturePinchBegin
	GesturePinchUpdate
	GesturePinchEnd
	GestureSwipeBegin
	GestureSwipeUpdate
	GestureSwipeEnd
)

var eventNames = map[EventType]string{
	KeyPress:           "KeyPress",
	KeyRelease:         "KeyRelease",
	ButtonPress:        "ButtonPress",
	ButtonRelease:      "ButtonRelease",
	Motion:             "Motion",
	Enter:              "Enter",
	FocusIn:            "FocusIn",
	TouchBegin:         "TouchBegin",
	TouchUpdate:        "TouchUpdate",
	TouchEnd:           "TouchEnd",
	TouchOwnership:     "TouchOwnership",
	GesturePinchBegin:  "GesturePinchBegin",
	GesturePinchUpdate: "GesturePinchUpdate",
	GesturePinchEnd:    "GesturePinchEnd",
	GestureSwipeBegin:  "GestureSwipeBegin",
	GestureSwipeUpdate: "GestureSwipeUpdate",
	GestureSwipeEnd:    "GestureSwipeEnd",
}

func (t EventType) String() string {
	if name, ok := eventNames[t]; ok {
		return name
	}
	return fmt.Sprintf("EventType(%d)", uint8(t))
}

// ParseEventType is the inverse of String.
func ParseEventType(s string) (EventType, error) {
	for t, name := range eventNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown event type %q", s)
}

// XI2Type is an XI2 wire event type.
type XI2Type uint8

const (
	XIKeyPress           XI2Type = 2
	XIKeyRelease         XI2Type = 3
	XIButtonPress        XI2Type = 4
	XIButtonRelease      XI2Type = 5
	XIMotion             XI2Type = 6
	XIEnter              XI2Type = 7
	XIFocusIn            XI2Type = 9
	XITouchBegin         XI2Type = 18
	XITouchUpdate        XI2Type = 19
	XITouchEnd           XI2Type = 20
	XITouchOwnership     XI2Type = 21
	XIGesturePinchBegin  XI2Type = 27
	XIGesturePinchUpdate XI2Type = 28
	XIGesturePinchEnd    XI2Type = 29
	XIGestureSwipeBegin  XI2Type = 30
	XIGestureSwipeUpdate XI2Type = 31
	XIGestureSwipeEnd    XI2Type = 32

	// XILastEvent bounds the per-device XI2 mask.
	XILastEvent = XIGestureSwipeEnd
)

var xi2Types = map[EventType]XI2Type{
	KeyPress:           XIKeyPress,
	KeyRelease:         XIKeyRelease,
	ButtonPress:        XIButtonPress,
	ButtonRelease:      XIButtonRelease,
	Motion:             XIMotion,
	Enter:              XIEnter,
	FocusIn:            XIFocusIn,
	TouchBegin:         XITouchBegin,
	TouchUpdate:        XITouchUpdate,
	TouchEnd:           XITouchEnd,
	TouchOwnership:     XITouchOwnership,
	GesturePinchBegin:  XIGesturePinchBegin,
	GesturePinchUpdate: XIGesturePinchUpdate,
	GesturePinchEnd:    XIGesturePinchEnd,
	GestureSwipeBegin:  XIGestureSwipeBegin,
	GestureSwipeUpdate: XIGestureSwipeUpdate,
	GestureSwipeEnd:    XIGestureSwipeEnd,
}

// XI2 returns the XI2 wire type for t, or zero.
func (t EventType) XI2() XI2Type {
	return xi2Types[t]
}

// CoreType returns the core protocol event code for t, or zero when t has
// no core equivalent. XI 1.x events share the same set.
func (t EventType) CoreType() uint8 {
	switch t {
	case KeyPress:
		return xproto.KeyPress
	case KeyRelease:
		return xproto.KeyRelease
	case ButtonPress:
		return xproto.ButtonPress
	case ButtonRelease:
		return xproto.ButtonRelease
	case Motion:
		return xproto.MotionNotify
	}
	return 0
}

// Valid reports whether t exists at level l.
func (t EventType) Valid(l Level) bool {
	switch l {
	case XI2:
		return t.XI2() != 0
	case XI, Core:
		return t.CoreType() != 0
	}
	return false
}

// Filter returns the core event-mask bit selecting t. XI 1.x device masks
// use the same bit layout.
func (t EventType) Filter() uint32 {
	switch t {
	case KeyPress:
		return xproto.EventMaskKeyPress
	case KeyRelease:
		return xproto.EventMaskKeyRelease
	case ButtonPress:
		return xproto.EventMaskButtonPress
	case ButtonRelease:
		return xproto.EventMaskButtonRelease
	case Motion:
		return xproto.EventMaskPointerMotion
	}
	return 0
}

func (t EventType) IsTouch() bool {
	return t == TouchBegin || t == TouchUpdate || t == TouchEnd
}

func (t EventType) IsGesture() bool {
	return t >= GesturePinchBegin && t <= GestureSwipeEnd
}

func (t EventType) IsGestureBegin() bool {
	return t == GesturePinchBegin || t == GestureSwipeBegin
}

func (t EventType) IsGestureEnd() bool {
	return t == GesturePinchEnd || t == GestureSwipeEnd
}

// GestureBegin returns the begin type of t's gesture family.
func (t EventType) GestureBegin() EventType {
	switch t {
	case GesturePinchBegin, GesturePinchUpdate, GesturePinchEnd:
		return GesturePinchBegin
	case GestureSwipeBegin, GestureSwipeUpdate, GestureSwipeEnd:
		return GestureSwipeBegin
	}
	return 0
}

// PointerEmulation returns the pointer event emulated from touch type t, or
// zero for non-touch types.
func (t EventType) PointerEmulation() EventType {
	switch t {
	case TouchBegin:
		return ButtonPress
	case TouchUpdate:
		return Motion
	case TouchEnd:
		return ButtonRelease
	}
	return 0
}

// Flags are internal event flags.
type Flags uint32

const (
	// PointerEmulated marks a touch that drives pointer emulation, and a
	// pointer event emulated from a touch.
	PointerEmulated Flags = 1 << iota
	// TouchReplaying marks history replayed to a new owner.
	TouchReplaying
	// TouchClientID marks events generated by the server for an existing
	// touch, already carrying the client-visible touch id.
	TouchClientID
	// TouchPendingEnd marks an update standing in for an end that cannot
	// be delivered yet.
	TouchPendingEnd
	// TouchAccept and TouchReject mark ends caused by an ownership change.
	TouchAccept
	TouchReject
)

// AcceptMode is the reason carried by a TouchOwnership event and the mode
// of an accept/reject request.
type AcceptMode uint8

const (
	// OwnershipGranted is the reason for the first ownership event sent to
	// a listener that has just become owner.
	OwnershipGranted AcceptMode = 0
	AcceptTouch      AcceptMode = 6
	RejectTouch      AcceptMode = 7
)

func (m AcceptMode) String() string {
	switch m {
	case OwnershipGranted:
		return "granted"
	case AcceptTouch:
		return "accept"
	case RejectTouch:
		return "reject"
	default:
		return fmt.Sprintf("AcceptMode(%d)", uint8(m))
	}
}

// Event is an internal device event.
type Event struct {
	Type     EventType
	DeviceID DeviceID
	SourceID DeviceID
	// Detail is the keycode or button number. Touch events from a driver
	// carry the driver's touch id in TouchID.
	Detail  uint32
	TouchID uint32
	// Mods is the keyboard modifier state used for grab matching.
	Mods       uint32
	RootX      float64
	RootY      float64
	Time       uint32
	Flags      Flags
	NumTouches uint32

	// Resource names the listener an ownership event or a replay is meant
	// for. Zero means every listener.
	Resource XID
	Reason   AcceptMode
}

// Delivery is one event handed to one client.
type Delivery struct {
	Client ClientID
	Device DeviceID
	Window XID
	// Grab is the grab the event was delivered through, zero for a plain
	// selection.
	Grab  XID
	Level Level
	Event Event
}

// Deliverer sends events to clients.
type Deliverer interface {
	Deliver(d Delivery)
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(d Delivery)

func (f DelivererFunc) Deliver(d Delivery) { f(d) }
