package input

import "fmt"

// OtherClient is a core event selection made on a window by a client other
// than its creator.
type OtherClient struct {
	Resource XID
	Mask     uint32
}

// InputClient holds one client's XI 1.x and XI2 selections on a window.
type InputClient struct {
	Resource XID
	// Masks is the XI 1.x selection per device, using core mask bits.
	Masks map[DeviceID]uint32
	XI2   *XI2Mask
}

// Window is a node of the window tree with the selections made on it.
// Coordinates are relative to the root.
type Window struct {
	ID       XID
	Parent   *Window
	Children []*Window

	X, Y          int
	Width, Height int
	Realized      bool

	// EventMask is the creator's core selection.
	EventMask     uint32
	DontPropagate uint32
	OtherClients  []*OtherClient
	InputClients  []*InputClient
}

// Owner returns the client that created w.
func (w *Window) Owner() ClientID {
	return w.ID.Client()
}

func (w *Window) String() string {
	if w == nil {
		return "<nil window>"
	}
	return fmt.Sprintf("0x%x", uint32(w.ID))
}

// Contains reports whether the root coordinate lies inside w.
func (w *Window) Contains(x, y float64) bool {
	return x >= float64(w.X) && y >= float64(w.Y) &&
		x < float64(w.X+w.Width) && y < float64(w.Y+w.Height)
}

// Path returns the windows from the root down to w.
func (w *Window) Path() []*Window {
	var rev []*Window
	for cur := w; cur != nil; cur = cur.Parent {
		rev = append(rev, cur)
	}
	out := make([]*Window, len(rev))
	for i, win := range rev {
		out[len(rev)-1-i] = win
	}
	return out
}

// IsInferiorOf reports whether w is a strict descendant of ancestor.
func (w *Window) IsInferiorOf(ancestor *Window) bool {
	for cur := w.Parent; cur != nil; cur = cur.Parent {
		if cur == ancestor {
			return true
		}
	}
	return false
}

// SelectCore sets the core selection made through resource. The creator's
// selection lives in EventMask; other clients get an OtherClient entry. A
// zero mask removes the entry.
func (w *Window) SelectCore(resource XID, mask uint32) {
	if resource.Client() == w.Owner() {
		w.EventMask = mask
		return
	}
	for i, oc := range w.OtherClients {
		if !SameClient(oc.Resource, resource) {
			continue
		}
		if mask == 0 {
			w.OtherClients = append(w.OtherClients[:i], w.OtherClients[i+1:]...)
		} else {
			oc.Mask = mask
		}
		return
	}
	if mask != 0 {
		w.OtherClients = append(w.OtherClients, &OtherClient{Resource: resource, Mask: mask})
	}
}

// InputClient returns client's XI selection record on w, or nil.
func (w *Window) InputClient(client ClientID) *InputClient {
	for _, ic := range w.InputClients {
		if ic.Resource.Client() == client {
			return ic
		}
	}
	return nil
}

func (w *Window) inputClient(resource XID) *InputClient {
	if ic := w.InputClient(resource.Client()); ic != nil {
		return ic
	}
	ic := &InputClient{Resource: resource, Masks: make(map[DeviceID]uint32)}
	w.InputClients = append(w.InputClients, ic)
	return ic
}

// SelectXI sets the XI 1.x selection made through resource for dev.
func (w *Window) SelectXI(resource XID, dev DeviceID, mask uint32) {
	w.inputClient(resource).Masks[dev] = mask
}

// SelectXI2 adds XI2 types to the selection made through resource for dev.
func (w *Window) SelectXI2(resource XID, dev DeviceID, types ...XI2Type) {
	ic := w.inputClient(resource)
	if ic.XI2 == nil {
		ic.XI2 = NewXI2Mask()
	}
	ic.XI2.Set(dev, types...)
}

// RemoveClient drops every selection client made on w.
func (w *Window) RemoveClient(client ClientID) {
	if client == w.Owner() {
		w.EventMask = 0
	}
	others := w.OtherClients[:0]
	for _, oc := range w.OtherClients {
		if oc.Resource.Client() != client {
			others = append(others, oc)
		}
	}
	w.OtherClients = others
	inputs := w.InputClients[:0]
	for _, ic := range w.InputClients {
		if ic.Resource.Client() != client {
			inputs = append(inputs, ic)
		}
	}
	w.InputClients = inputs
}

// OtherEventMasks is the union of the other clients' core selections.
func (w *Window) OtherEventMasks() uint32 {
	var m uint32
	for _, oc := range w.OtherClients {
		m |= oc.Mask
	}
	return m
}

// XIMasks is the union of the XI 1.x selections for dev.
func (w *Window) XIMasks(dev DeviceID) uint32 {
	var m uint32
	for _, ic := range w.InputClients {
		m |= ic.Masks[dev]
	}
	return m
}

// XI2Masks is the union of the XI2 selections on w.
func (w *Window) XI2Masks() *XI2Mask {
	m := NewXI2Mask()
	for _, ic := range w.InputClients {
		m.Merge(ic.XI2)
	}
	return m
}
