package scenario

import (
	"fmt"
	"slices"

	"github.com/bnema/grabarbiter/internal/arbiter"
	"github.com/bnema/grabarbiter/internal/grab"
	"github.com/bnema/grabarbiter/internal/input"
)

type action func(r *Run, st *Step) error

var actions = map[string]action{
	"select":          selectCore,
	"select-xi":       selectXI,
	"select-xi2":      selectXI2,
	"grab-button":     grabButton,
	"grab-key":        grabKey,
	"grab-touch":      grabTouch,
	"grab-gesture":    grabGesture,
	"grab-enter":      grabEnter,
	"xi-passive-grab": xiPassiveGrab,
	"ungrab":          ungrab,
	"grab-device":     grabDevice,
	"ungrab-device":   ungrabDevice,
	"allow":           allow,
	"accept":          acceptReject(input.AcceptTouch),
	"reject":          acceptReject(input.RejectTouch),
	"query-version":   queryVersion,
	"event":           event,
	"end-sequence":    endSequence,
	"client-gone":     clientGone,
	"window-gone":     windowGone,
	"disable-device":  disableDevice,
	"expect":          func(*Run, *Step) error { return nil },
}

func selectCore(r *Run, st *Step) error {
	mask, err := parseMask(st.Mask)
	if err != nil {
		return err
	}
	return r.engine.SelectEvents(st.Client, st.Window, mask)
}

func selectXI(r *Run, st *Step) error {
	mask, err := parseMask(st.Mask)
	if err != nil {
		return err
	}
	return r.engine.SelectXIEvents(st.Client, st.Window, st.Device, mask)
}

func selectXI2(r *Run, st *Step) error {
	types, err := parseXI2Types(st.Mask)
	if err != nil {
		return err
	}
	return r.engine.SelectXI2Events(st.Client, st.Window, st.Device, types...)
}

// grabRequest builds the request of a grab step. Kind and this-device
// mode default to the given values when the step leaves them out.
func grabRequest(st *Step, kind input.Level, this grab.Mode) (arbiter.GrabRequest, error) {
	if st.Kind != "" {
		k, ok := levels[st.Kind]
		if !ok {
			return arbiter.GrabRequest{}, fmt.Errorf("unknown grab kind %q", st.Kind)
		}
		kind = k
	}
	thisMode, err := parseMode(st.Mode, this)
	if err != nil {
		return arbiter.GrabRequest{}, err
	}
	otherMode, err := parseMode(st.OtherMode, grab.ModeAsync)
	if err != nil {
		return arbiter.GrabRequest{}, err
	}

	req := arbiter.GrabRequest{
		Device:           st.Device,
		Window:           st.Window,
		ConfineTo:        st.ConfineTo,
		Kind:             kind,
		OwnerEvents:      st.OwnerEvents,
		ThisDeviceMode:   thisMode,
		OtherDevicesMode: otherMode,
	}
	if kind == input.XI2 {
		req.Detail = st.Detail.resolve(grab.XIAnyKeycode)
		req.Modifiers = st.Modifiers.resolve(grab.XIAnyModifier)
		types, err := parseXI2Types(st.Mask)
		if err != nil {
			return arbiter.GrabRequest{}, err
		}
		req.XI2Mask = input.NewXI2Mask()
		req.XI2Mask.Set(st.Device, types...)
		return req, nil
	}
	req.Detail = st.Detail.resolve(grab.AnyKey)
	req.Modifiers = st.Modifiers.resolve(grab.AnyModifier)
	if req.EventMask, err = parseMask(st.Mask); err != nil {
		return arbiter.GrabRequest{}, err
	}
	return req, nil
}

func grabButton(r *Run, st *Step) error {
	req, err := grabRequest(st, input.Core, grab.ModeAsync)
	if err != nil {
		return err
	}
	return r.engine.GrabButton(st.Client, req)
}

func grabKey(r *Run, st *Step) error {
	req, err := grabRequest(st, input.Core, grab.ModeAsync)
	if err != nil {
		return err
	}
	return r.engine.GrabKey(st.Client, req)
}

func grabTouch(r *Run, st *Step) error {
	req, err := grabRequest(st, input.XI2, grab.ModeTouch)
	if err != nil {
		return err
	}
	return r.engine.GrabTouchOrGesture(st.Client, req, input.TouchBegin)
}

func grabGesture(r *Run, st *Step) error {
	t, err := input.ParseEventType(st.Type)
	if err != nil {
		return err
	}
	req, err := grabRequest(st, input.XI2, grab.ModeAsync)
	if err != nil {
		return err
	}
	return r.engine.GrabTouchOrGesture(st.Client, req, t)
}

func grabEnter(r *Run, st *Step) error {
	t, err := input.ParseEventType(st.Type)
	if err != nil {
		return err
	}
	req, err := grabRequest(st, input.XI2, grab.ModeAsync)
	if err != nil {
		return err
	}
	return r.engine.GrabEnterFocus(st.Client, req, t)
}

func xiPassiveGrab(r *Run, st *Step) error {
	t, err := input.ParseEventType(st.Type)
	if err != nil {
		return err
	}
	def := grab.ModeAsync
	if t == input.TouchBegin {
		def = grab.ModeTouch
	}
	req, err := grabRequest(st, input.XI2, def)
	if err != nil {
		return err
	}
	failed, err := r.engine.XIPassiveGrab(st.Client, req, t, st.ModifierList)
	if err != nil {
		return err
	}
	got := make([]uint32, 0, len(failed))
	for _, f := range failed {
		got = append(got, f.Modifiers)
	}
	if !slices.Equal(got, st.Failed) {
		return fmt.Errorf("failed modifiers %v, want %v", got, st.Failed)
	}
	return nil
}

func ungrab(r *Run, st *Step) error {
	kind := input.Core
	if st.Kind != "" {
		k, ok := levels[st.Kind]
		if !ok {
			return fmt.Errorf("unknown grab kind %q", st.Kind)
		}
		kind = k
	}
	t, err := input.ParseEventType(st.Type)
	if err != nil {
		return err
	}
	anyMod := grab.AnyModifier
	if kind == input.XI2 {
		anyMod = grab.XIAnyModifier
	}
	return r.engine.Ungrab(st.Client, arbiter.UngrabRequest{
		Device:    st.Device,
		Window:    st.Window,
		Kind:      kind,
		Type:      t,
		Detail:    st.Detail.resolve(grab.AnyKey),
		Modifiers: st.Modifiers.resolve(anyMod),
	})
}

func grabDevice(r *Run, st *Step) error {
	req, err := grabRequest(st, input.Core, grab.ModeAsync)
	if err != nil {
		return err
	}
	req.Detail, req.Modifiers = 0, 0
	return r.engine.ActivateGrab(st.Client, req, st.Time)
}

func ungrabDevice(r *Run, st *Step) error {
	return r.engine.DeactivateGrab(st.Client, st.Device)
}

func allow(r *Run, st *Step) error {
	mode, err := arbiter.ParseAllowMode(st.Allow)
	if err != nil {
		return err
	}
	return r.engine.AllowEvents(st.Client, st.Device, mode, st.Time)
}

func acceptReject(mode input.AcceptMode) action {
	return func(r *Run, st *Step) error {
		return r.engine.AcceptReject(st.Client, st.Device, st.Touch, mode, st.Window)
	}
}

func queryVersion(r *Run, st *Step) error {
	major, minor, err := parseVersion(st.Version)
	if err != nil {
		return err
	}
	r.engine.QueryVersion(st.Client, arbiter.Version{Major: major, Minor: minor})
	return nil
}

func event(r *Run, st *Step) error {
	t, err := input.ParseEventType(st.Type)
	if err != nil {
		return err
	}
	source := st.Source
	if source == 0 {
		source = st.Device
	}
	return r.engine.ProcessEvent(input.Event{
		Type:       t,
		DeviceID:   st.Device,
		SourceID:   source,
		Detail:     st.Detail.N,
		TouchID:    st.Touch,
		Mods:       st.Mods,
		RootX:      st.X,
		RootY:      st.Y,
		Time:       st.Time,
		NumTouches: st.Touches,
	})
}

func endSequence(r *Run, st *Step) error {
	return r.engine.EndSequence(st.Device, st.Touch)
}

func clientGone(r *Run, st *Step) error {
	r.engine.ClientGone(st.Client)
	return nil
}

// windowGone destroys a window and its subtree, deepest first.
func windowGone(r *Run, st *Step) error {
	if _, err := r.window(st.Window); err != nil {
		return err
	}
	for _, w := range r.tree.Remove(st.Window) {
		r.engine.WindowGone(w)
	}
	return nil
}

func disableDevice(r *Run, st *Step) error {
	return r.engine.DisableDevice(st.Device)
}
