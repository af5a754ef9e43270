package arbiter

import (
	"errors"
	"fmt"

	"github.com/bnema/grabarbiter/internal/grab"
	"github.com/bnema/grabarbiter/internal/input"
	"github.com/bnema/grabarbiter/internal/status"
)

// GrabRequest holds the decoded fields shared by the grab requests. Ids
// are resolved by the handlers. The modifier device is always the
// keyboard paired with Device.
type GrabRequest struct {
	Device    input.DeviceID
	Window    input.XID
	ConfineTo input.XID
	Cursor    *input.Cursor

	Kind      input.Level
	Detail    uint32
	Modifiers uint32

	EventMask uint32
	XI2Mask   *input.XI2Mask

	OwnerEvents      bool
	ThisDeviceMode   grab.Mode
	OtherDevicesMode grab.Mode
}

// UngrabRequest describes the passive grabs to remove.
type UngrabRequest struct {
	Device    input.DeviceID
	Window    input.XID
	Kind      input.Level
	Type      input.EventType
	Detail    uint32
	Modifiers uint32
}

// FailedModifier is one entry of an XI2 passive grab reply.
type FailedModifier struct {
	Modifiers uint32
	Status    status.Code
}

// CheckGrabValues validates a grab request of type t. A zero t is an
// active grab request and carries no detail or modifiers.
func CheckGrabValues(req GrabRequest, t input.EventType) error {
	switch req.Kind {
	case input.Core, input.XI, input.XI2:
	default:
		return status.WithValue(status.BadImplementation, uint32(req.Kind))
	}
	if t != 0 && !t.Valid(req.Kind) {
		return status.WithValue(status.BadValue, uint32(t))
	}

	if t == input.TouchBegin {
		if req.Detail != 0 || req.ThisDeviceMode != grab.ModeTouch {
			return fmt.Errorf("touch grab detail %d mode %s: %w", req.Detail, req.ThisDeviceMode, status.BadMatch)
		}
	} else if err := checkMode(req.ThisDeviceMode); err != nil {
		return err
	}
	if err := checkMode(req.OtherDevicesMode); err != nil {
		return err
	}
	if t == 0 {
		return nil
	}

	if req.Kind != input.XI2 {
		if req.Modifiers != grab.AnyModifier && req.Modifiers&^grab.AllModifiersMask != 0 {
			return status.WithValue(status.BadValue, req.Modifiers)
		}
		if req.Detail > 255 {
			return status.WithValue(status.BadValue, req.Detail)
		}
		if t == input.KeyPress && req.Detail != grab.AnyKey && req.Detail < minKeycode {
			return status.WithValue(status.BadValue, req.Detail)
		}
		return nil
	}

	if err := checkXI2Values(req.Detail, req.Modifiers); err != nil {
		return err
	}
	switch {
	case t == input.Enter || t == input.FocusIn:
		if req.Detail != 0 {
			return status.WithValue(status.BadValue, req.Detail)
		}
	case t == input.TouchBegin || t.IsGestureBegin():
		if err := checkXI2Families(req.XI2Mask, req.Device); err != nil {
			return err
		}
		if !req.XI2Mask.Has(req.Device, t.XI2()) {
			return status.WithValue(status.BadValue, uint32(t.XI2()))
		}
	}
	return nil
}

// minKeycode is the lowest keycode a core key grab may name.
const minKeycode = 8

// checkXI2Values bounds XI2 details and modifier states to what an
// exclusion set can hold.
func checkXI2Values(detail, modifiers uint32) error {
	if detail >= grab.MaxDetail {
		return status.WithValue(status.BadValue, detail)
	}
	if modifiers != grab.XIAnyModifier && modifiers >= grab.MaxDetail {
		return status.WithValue(status.BadValue, modifiers)
	}
	return nil
}

func checkMode(m grab.Mode) error {
	if m != grab.ModeSync && m != grab.ModeAsync {
		return status.WithValue(status.BadValue, uint32(m))
	}
	return nil
}

// CreateGrab validates req and builds an unregistered grab of type t for
// client. The caller owns the result: it goes to AddPassive or FreeGrab.
func (e *Engine) CreateGrab(client input.ClientID, req GrabRequest, t input.EventType) (*grab.Grab, error) {
	if err := CheckGrabValues(req, t); err != nil {
		return nil, err
	}
	dev, err := e.device(req.Device)
	if err != nil {
		return nil, err
	}
	win, err := e.window(req.Window)
	if err != nil {
		return nil, err
	}
	var confine *input.Window
	if req.ConfineTo != 0 {
		if confine, err = e.window(req.ConfineTo); err != nil {
			return nil, err
		}
	}
	return e.store.Create(client, grab.Params{
		Device:           dev,
		ModifierDevice:   dev.KeyboardOrFloat(),
		Window:           win,
		ConfineTo:        confine,
		Cursor:           req.Cursor,
		Kind:             req.Kind,
		Type:             t,
		Detail:           req.Detail,
		Modifiers:        req.Modifiers,
		EventMask:        req.EventMask,
		XI2Mask:          req.XI2Mask,
		OwnerEvents:      req.OwnerEvents,
		ThisDeviceMode:   req.ThisDeviceMode,
		OtherDevicesMode: req.OtherDevicesMode,
	})
}

// FreeGrab releases a grab from CreateGrab that was never registered.
func (e *Engine) FreeGrab(g *grab.Grab) {
	e.store.Free(g)
}

// passiveGrab adds a passive grab of type t. Button and key grabs always
// report their own press and release.
func (e *Engine) passiveGrab(client input.ClientID, req GrabRequest, t input.EventType) error {
	var release input.EventType
	switch t {
	case input.ButtonPress:
		release = input.ButtonRelease
	case input.KeyPress:
		release = input.KeyRelease
	}
	if release != 0 {
		if req.Kind == input.XI2 {
			req.XI2Mask = req.XI2Mask.Clone()
			req.XI2Mask.Set(req.Device, t.XI2(), release.XI2())
		} else {
			req.EventMask |= t.Filter() | release.Filter()
		}
	}

	e.InputLock()
	defer e.InputUnlock()

	g, err := e.CreateGrab(client, req, t)
	if err != nil {
		return err
	}
	return e.store.AddPassive(client, g)
}

// GrabButton adds a passive button grab.
func (e *Engine) GrabButton(client input.ClientID, req GrabRequest) error {
	if err := e.checkClass(req, (*input.Device).IsPointer); err != nil {
		return err
	}
	return e.passiveGrab(client, req, input.ButtonPress)
}

// GrabKey adds a passive key grab.
func (e *Engine) GrabKey(client input.ClientID, req GrabRequest) error {
	if err := e.checkClass(req, (*input.Device).IsKeyboard); err != nil {
		return err
	}
	return e.passiveGrab(client, req, input.KeyPress)
}

// GrabTouchOrGesture adds an XI2 passive grab on touch begin or on the
// begin of a gesture.
func (e *Engine) GrabTouchOrGesture(client input.ClientID, req GrabRequest, t input.EventType) error {
	if t != input.TouchBegin && !t.IsGestureBegin() {
		return status.WithValue(status.BadValue, uint32(t))
	}
	return e.passiveGrab(client, req, t)
}

// GrabEnterFocus adds an XI2 passive grab on enter or focus-in.
func (e *Engine) GrabEnterFocus(client input.ClientID, req GrabRequest, t input.EventType) error {
	if t != input.Enter && t != input.FocusIn {
		return status.WithValue(status.BadValue, uint32(t))
	}
	return e.passiveGrab(client, req, t)
}

// checkClass rejects core and XI 1.x grabs on a device of the wrong
// class. XI2 grabs may target any device.
func (e *Engine) checkClass(req GrabRequest, class func(*input.Device) bool) error {
	if req.Kind == input.XI2 {
		return nil
	}
	dev, err := e.device(req.Device)
	if err != nil {
		return err
	}
	if !class(dev) {
		return fmt.Errorf("grab on %s: %w", dev, status.BadMatch)
	}
	return nil
}

// XIPassiveGrab adds one XI2 passive grab of type t per modifier state.
// Modifier states that could not be grabbed are reported back; only an
// allocation failure fails the request.
func (e *Engine) XIPassiveGrab(client input.ClientID, req GrabRequest, t input.EventType, modifiers []uint32) ([]FailedModifier, error) {
	req.Kind = input.XI2
	var failed []FailedModifier
	for _, mods := range modifiers {
		req.Modifiers = mods
		var err error
		switch t {
		case input.ButtonPress:
			err = e.GrabButton(client, req)
		case input.KeyPress:
			err = e.GrabKey(client, req)
		case input.Enter, input.FocusIn:
			err = e.GrabEnterFocus(client, req, t)
		default:
			err = e.GrabTouchOrGesture(client, req, t)
		}
		if err == nil {
			continue
		}
		code := status.FromError(err)
		switch code {
		case status.BadAccess:
			failed = append(failed, FailedModifier{Modifiers: mods, Status: code})
		default:
			return failed, err
		}
	}
	log.Debug("xi2 passive grab", "client", client, "type", t, "modifiers", len(modifiers), "failed", len(failed))
	return failed, nil
}

// Ungrab removes the events req describes from client's passive grabs.
func (e *Engine) Ungrab(client input.ClientID, req UngrabRequest) error {
	dev, err := e.device(req.Device)
	if err != nil {
		return err
	}
	win, err := e.window(req.Window)
	if err != nil {
		return err
	}
	if req.Kind != input.XI2 {
		if req.Detail > 255 {
			return status.WithValue(status.BadValue, req.Detail)
		}
		if req.Modifiers != grab.AnyModifier && req.Modifiers&^grab.AllModifiersMask != 0 {
			return status.WithValue(status.BadValue, req.Modifiers)
		}
	} else if err := checkXI2Values(req.Detail, req.Modifiers); err != nil {
		return err
	}

	e.InputLock()
	defer e.InputUnlock()

	minuend := grab.Template(client.Base(), grab.Params{
		Device:         dev,
		ModifierDevice: dev.KeyboardOrFloat(),
		Window:         win,
		Kind:           req.Kind,
		Type:           req.Type,
		Detail:         req.Detail,
		Modifiers:      req.Modifiers,
	})
	return e.store.DeletePassive(minuend)
}

// ActivateGrab gives client an explicit active grab on the request's
// device. The returned error is a reply status from the Err values or a
// protocol error.
func (e *Engine) ActivateGrab(client input.ClientID, req GrabRequest, time uint32) error {
	if err := CheckGrabValues(req, 0); err != nil {
		return err
	}
	dev, err := e.device(req.Device)
	if err != nil {
		return err
	}
	win, err := e.window(req.Window)
	if err != nil {
		return err
	}
	if !win.Realized {
		return ErrNotViewable
	}
	if req.ConfineTo != 0 {
		confine, err := e.window(req.ConfineTo)
		if err != nil {
			return err
		}
		if !confine.Realized {
			return ErrNotViewable
		}
	}

	e.InputLock()
	defer e.InputUnlock()

	slot := e.store.Slot(dev)
	switch {
	case slot.Grab != nil && slot.Grab.Client() != client:
		return ErrAlreadyGrabbed
	case time != 0 && time < slot.Time:
		return ErrInvalidTime
	case slot.Other != nil && slot.Other.Client() != client:
		return ErrFrozen
	}

	g, err := e.CreateGrab(client, req, 0)
	if err != nil {
		return err
	}
	defer e.store.Free(g)
	if _, err := e.store.Activate(dev, g, time, grab.Explicit); err != nil {
		return err
	}
	return nil
}

// DeactivateGrab releases client's active grab on a device. Releasing a
// grab held by someone else is a no-op.
func (e *Engine) DeactivateGrab(client input.ClientID, id input.DeviceID) error {
	dev, err := e.device(id)
	if err != nil {
		return err
	}
	e.InputLock()
	defer e.InputUnlock()

	if g := e.store.ActiveGrab(dev); g != nil && g.Client() == client {
		e.store.Deactivate(dev)
	}
	return nil
}

// AcceptReject accepts or rejects a touch for the listener client holds
// on grabWindow. Clients must have negotiated XI 2.2.
func (e *Engine) AcceptReject(client input.ClientID, id input.DeviceID, touchID uint32, mode input.AcceptMode, grabWindow input.XID) error {
	if v, ok := e.versions[client]; !ok || !v.AtLeast(2, 2) {
		return fmt.Errorf("touch accept/reject needs XI 2.2: %w", status.BadMatch)
	}
	dev, err := e.device(id)
	if err != nil {
		return err
	}
	e.InputLock()
	defer e.InputUnlock()
	return e.touches.AcceptReject(client, dev, mode, touchID, grabWindow)
}

// IsReplyStatus reports whether err is one of the active grab reply
// statuses rather than a protocol error.
func IsReplyStatus(err error) bool {
	return errors.Is(err, ErrAlreadyGrabbed) || errors.Is(err, ErrFrozen) ||
		errors.Is(err, ErrInvalidTime) || errors.Is(err, ErrNotViewable)
}
