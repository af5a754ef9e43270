// Package listener resolves which clients may receive a touch or gesture
// sequence: passive grabs that would activate on a window, and the event
// selections that make a window deliverable.
package listener

import (
	"fmt"

	"github.com/bnema/grabarbiter/internal/grab"
	"github.com/bnema/grabarbiter/internal/input"
	"github.com/bnema/grabarbiter/internal/resource"
)

// Type is how a listener receives a sequence.
type Type uint8

const (
	// Grab receives touch or gesture events through a grab.
	Grab Type = iota + 1
	// PointerGrab receives the emulated pointer events through a grab.
	PointerGrab
	// Regular receives touch events through a selection.
	Regular
	// PointerRegular receives emulated pointer events through a selection.
	PointerRegular
	// NonGestureGrab holds the device through a grab that does not select
	// gestures; it receives nothing.
	NonGestureGrab
)

func (t Type) String() string {
	switch t {
	case Grab:
		return "grab"
	case PointerGrab:
		return "pointer-grab"
	case Regular:
		return "regular"
	case PointerRegular:
		return "pointer-regular"
	case NonGestureGrab:
		return "non-gesture-grab"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// State is a listener's progress through a sequence.
type State uint8

const (
	// AwaitingBegin listeners have not been sent the begin event yet.
	AwaitingBegin State = iota
	// AwaitingOwner listeners saw the begin and wait for ownership.
	AwaitingOwner
	// EarlyAccept listeners accepted before becoming owner.
	EarlyAccept
	// IsOwner listeners own the sequence.
	IsOwner
	// HasAccepted owners have accepted the sequence.
	HasAccepted
	// HasEnd listeners were already sent the end event.
	HasEnd
	Rejected
)

func (s State) String() string {
	switch s {
	case AwaitingBegin:
		return "awaiting-begin"
	case AwaitingOwner:
		return "awaiting-owner"
	case EarlyAccept:
		return "early-accept"
	case IsOwner:
		return "owner"
	case HasAccepted:
		return "accepted"
	case HasEnd:
		return "has-end"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Listener is a candidate for, or the owner of, a sequence.
type Listener struct {
	// Resource is the grab id for grab listeners, otherwise the selecting
	// client's resource.
	Resource     input.XID
	ResourceType resource.Type
	Level        input.Level
	Type         Type
	State        State
	Window       *input.Window
	// Grab is the listener's own copy of the grab, nil for selections.
	Grab *grab.Grab
}

// Client returns the client behind the listener.
func (l *Listener) Client() input.ClientID {
	return l.Resource.Client()
}

func (l *Listener) IsGrab() bool {
	return l.Grab != nil
}

// IsPointer reports whether the listener takes emulated pointer events.
func (l *Listener) IsPointer() bool {
	return l.Type == PointerGrab || l.Type == PointerRegular
}

// XI2Mask returns the XI2 selection the listener receives through.
func (l *Listener) XI2Mask() *input.XI2Mask {
	if l.Grab != nil {
		return l.Grab.XI2Mask
	}
	if l.Level != input.XI2 || l.Window == nil {
		return nil
	}
	if ic := l.Window.InputClient(l.Client()); ic != nil {
		return ic.XI2
	}
	return nil
}

// SelectsOwnership reports whether the listener asked for ownership
// events and can follow a sequence it does not own yet.
func (l *Listener) SelectsOwnership(dev *input.Device) bool {
	if l.Level != input.XI2 {
		return false
	}
	return l.XI2Mask().IsSet(dev, input.XITouchOwnership)
}

func (l *Listener) String() string {
	return fmt.Sprintf("listener(0x%x %s %s %s on %s)", uint32(l.Resource), l.Level, l.Type, l.State, l.Window)
}
