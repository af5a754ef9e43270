package arbiter

import (
	"fmt"

	"github.com/bnema/grabarbiter/internal/input"
	"github.com/bnema/grabarbiter/internal/resource"
	"github.com/bnema/grabarbiter/internal/status"
)

// Selections are registered as resources of the selecting client so
// that ClientGone takes them off their windows.

func dropSelection(value any, id input.XID) {
	if win, ok := value.(*input.Window); ok {
		win.RemoveClient(id.Client())
	}
}

func (e *Engine) trackSelection(client input.ClientID, typ resource.Type, win *input.Window) (input.XID, error) {
	id := e.resources.FakeClientID(client)
	if err := e.resources.Add(id, typ, win); err != nil {
		return 0, fmt.Errorf("register selection on %s: %w", win, err)
	}
	return id, nil
}

// SelectEvents sets client's core event mask on a window.
func (e *Engine) SelectEvents(client input.ClientID, winID input.XID, mask uint32) error {
	win, err := e.window(winID)
	if err != nil {
		return err
	}
	id, err := e.trackSelection(client, resource.TypeOtherClient, win)
	if err != nil {
		return err
	}
	win.SelectCore(id, mask)
	return nil
}

// SelectXIEvents sets client's XI 1.x mask for a device on a window.
func (e *Engine) SelectXIEvents(client input.ClientID, winID input.XID, dev input.DeviceID, mask uint32) error {
	win, err := e.window(winID)
	if err != nil {
		return err
	}
	if _, err := e.device(dev); err != nil {
		return err
	}
	id, err := e.trackSelection(client, resource.TypeInputClient, win)
	if err != nil {
		return err
	}
	win.SelectXI(id, dev, mask)
	return nil
}

// SelectXI2Events adds XI2 event types to client's selection on a window.
// Touch events must be selected together, as must the events of one
// gesture family.
func (e *Engine) SelectXI2Events(client input.ClientID, winID input.XID, dev input.DeviceID, types ...input.XI2Type) error {
	win, err := e.window(winID)
	if err != nil {
		return err
	}
	if _, err := e.device(dev); err != nil {
		return err
	}
	sel := input.NewXI2Mask()
	sel.Set(dev, types...)
	if err := checkXI2Families(sel, dev); err != nil {
		return err
	}
	id, err := e.trackSelection(client, resource.TypeInputClient, win)
	if err != nil {
		return err
	}
	win.SelectXI2(id, dev, types...)
	return nil
}

var xi2Families = [][]input.XI2Type{
	{input.XITouchBegin, input.XITouchUpdate, input.XITouchEnd},
	{input.XIGesturePinchBegin, input.XIGesturePinchUpdate, input.XIGesturePinchEnd},
	{input.XIGestureSwipeBegin, input.XIGestureSwipeUpdate, input.XIGestureSwipeEnd},
}

// checkXI2Families rejects a mask selecting part of a touch or gesture
// family for dev.
func checkXI2Families(m *input.XI2Mask, dev input.DeviceID) error {
	for _, family := range xi2Families {
		n := 0
		for _, t := range family {
			if m.Has(dev, t) {
				n++
			}
		}
		if n != 0 && n != len(family) {
			return status.WithValue(status.BadValue, uint32(family[0]))
		}
	}
	return nil
}
