package touch

import (
	"github.com/bnema/grabarbiter/internal/grab"
	"github.com/bnema/grabarbiter/internal/input"
)

// PointerPath carries the pointer events emulated from a touch.
type PointerPath interface {
	// ActivatePassiveGrab activates g on dev for the emulated press and
	// delivers it.
	ActivatePassiveGrab(dev *input.Device, g *grab.Grab, ev input.Event) error
	// DeliverGrabbed delivers ev through dev's active grab and reports
	// whether anyone got it.
	DeliverGrabbed(dev *input.Device, ev input.Event) bool
	// ProcessPointerEvent runs ev through regular pointer processing.
	ProcessPointerEvent(dev *input.Device, ev input.Event)
}

// directPointer delivers emulated events straight to the grabbing
// client, with no freezing or propagation.
type directPointer struct {
	store *grab.Store
	out   input.Deliverer
}

func (p *directPointer) ActivatePassiveGrab(dev *input.Device, g *grab.Grab, ev input.Event) error {
	active, err := p.store.Activate(dev, g, ev.Time, grab.Passive)
	if err != nil {
		return err
	}
	p.send(dev, active, ev)
	return nil
}

func (p *directPointer) DeliverGrabbed(dev *input.Device, ev input.Event) bool {
	active := p.store.ActiveGrab(dev)
	if active == nil {
		return false
	}
	p.send(dev, active, ev)
	return true
}

func (p *directPointer) ProcessPointerEvent(*input.Device, input.Event) {}

func (p *directPointer) send(dev *input.Device, g *grab.Grab, ev input.Event) {
	p.out.Deliver(input.Delivery{
		Client: g.Client(),
		Device: dev.ID,
		Window: g.Window.ID,
		Grab:   g.Resource,
		Level:  g.Kind,
		Event:  ev,
	})
}
