package gesture

import (
	"testing"

	"github.com/bnema/grabarbiter/internal/grab"
	"github.com/bnema/grabarbiter/internal/input"
	"github.com/bnema/grabarbiter/internal/listener"
	"github.com/bnema/grabarbiter/internal/resource"
	"github.com/bnema/grabarbiter/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder []input.Delivery

func (r *recorder) Deliver(d input.Delivery) { *r = append(*r, d) }

func (r recorder) types() []input.EventType {
	var out []input.EventType
	for _, d := range r {
		out = append(out, d.Event.Type)
	}
	return out
}

type freezeLog []input.EventType

func (f *freezeLog) FreezeIfSync(_ *input.Device, ev *input.Event) { *f = append(*f, ev.Type) }

type fixture struct {
	store     *grab.Store
	pad, kbd  *input.Device
	root, mid *input.Window
	rec       *recorder
	frozen    *freezeLog
	m         *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tbl := resource.NewTable(0)
	store := grab.NewStore(tbl)
	tbl.OnDestroy(resource.TypePassiveGrab, store.DestroyPassive)

	devices := input.NewDevices()
	pad := &input.Device{ID: 2, Name: "pointer", Use: input.MasterPointer, Buttons: true, Gesture: true}
	kbd := &input.Device{ID: 3, Name: "keyboard", Use: input.MasterKeyboard, Keys: true, Attached: pad}
	pad.Attached = kbd
	require.NoError(t, devices.Add(pad))
	require.NoError(t, devices.Add(kbd))

	root := &input.Window{ID: 0x100, Width: 1000, Height: 1000, Realized: true}
	tree := input.NewTree(root)
	mid := &input.Window{ID: input.ClientID(1).Base() | 1, X: 100, Y: 100, Width: 500, Height: 500, Realized: true}
	require.NoError(t, tree.Add(root.ID, mid))

	rec := &recorder{}
	frozen := &freezeLog{}
	m := NewManager(store, listener.NewResolver(store, devices), tree, rec)
	m.SetFreezer(frozen)
	return &fixture{store: store, pad: pad, kbd: kbd, root: root, mid: mid, rec: rec, frozen: frozen, m: m}
}

func pinchMask(dev input.DeviceID) *input.XI2Mask {
	mask := input.NewXI2Mask()
	mask.Set(dev, input.XIGesturePinchBegin, input.XIGesturePinchUpdate, input.XIGesturePinchEnd)
	return mask
}

func (f *fixture) pinchGrab(t *testing.T, client input.ClientID, mode grab.Mode) *grab.Grab {
	t.Helper()
	g, err := f.store.Create(client, grab.Params{
		Device:           f.pad,
		ModifierDevice:   f.kbd,
		Window:           f.mid,
		Kind:             input.XI2,
		Type:             input.GesturePinchBegin,
		Modifiers:        grab.XIAnyModifier,
		XI2Mask:          pinchMask(f.pad.ID),
		ThisDeviceMode:   mode,
		OtherDevicesMode: grab.ModeAsync,
	})
	require.NoError(t, err)
	require.NoError(t, f.store.AddPassive(client, g))
	return g
}

func (f *fixture) send(t *testing.T, typ input.EventType, source input.DeviceID) {
	t.Helper()
	ev := &input.Event{Type: typ, DeviceID: f.pad.ID, SourceID: source, RootX: 250, RootY: 250, NumTouches: 2}
	require.NoError(t, f.m.ProcessEvent(f.pad, ev))
}

func TestPassiveGestureGrab(t *testing.T) {
	f := newFixture(t)
	g := f.pinchGrab(t, 3, grab.ModeSync)

	f.send(t, input.GesturePinchBegin, 10)
	gi := f.m.Info(f.pad)
	require.True(t, gi.Active)
	require.NotNil(t, gi.Listener)
	assert.Equal(t, listener.Grab, gi.Listener.Type)
	assert.Equal(t, g.Resource, gi.Listener.Resource)
	assert.True(t, f.m.ResourceIsOwner(f.pad, g.Resource))
	active := f.store.ActiveGrab(f.pad)
	require.NotNil(t, active)
	assert.Equal(t, g.Resource, active.Resource)

	f.send(t, input.GesturePinchUpdate, 10)
	f.send(t, input.GesturePinchEnd, 10)

	assert.Equal(t, []input.EventType{input.GesturePinchBegin, input.GesturePinchUpdate, input.GesturePinchEnd}, f.rec.types())
	for _, d := range *f.rec {
		assert.Equal(t, input.ClientID(3), d.Client)
		assert.Equal(t, f.mid.ID, d.Window)
	}
	assert.False(t, gi.Active)
	assert.Nil(t, f.store.ActiveGrab(f.pad), "end releases the passive grab")
	assert.Equal(t, 1, f.store.Live())
	assert.Equal(t, freezeLog{input.GesturePinchBegin}, *f.frozen, "no freeze for the end that releases the grab")
}

func TestGestureWithoutGrab(t *testing.T) {
	f := newFixture(t)
	f.mid.SelectXI2(input.ClientID(1).Base()|5, f.pad.ID, input.XIGesturePinchBegin, input.XIGesturePinchEnd)

	f.send(t, input.GesturePinchBegin, 10)
	assert.True(t, f.m.Info(f.pad).Active)
	assert.Nil(t, f.m.Info(f.pad).Listener)
	f.send(t, input.GesturePinchEnd, 10)
	assert.Empty(t, *f.rec, "selections never get gestures")
	assert.False(t, f.m.Info(f.pad).Active)
}

func TestExplicitGrab(t *testing.T) {
	t.Run("without gesture mask", func(t *testing.T) {
		f := newFixture(t)
		f.pinchGrab(t, 3, grab.ModeAsync)
		mask := input.NewXI2Mask()
		mask.Set(f.pad.ID, input.XIMotion)
		g, err := f.store.Create(4, grab.Params{Device: f.pad, ModifierDevice: f.kbd, Window: f.root, Kind: input.XI2, XI2Mask: mask,
			ThisDeviceMode: grab.ModeAsync, OtherDevicesMode: grab.ModeAsync})
		require.NoError(t, err)
		_, err = f.store.Activate(f.pad, g, 0, grab.Explicit)
		require.NoError(t, err)

		f.send(t, input.GesturePinchBegin, 10)
		gi := f.m.Info(f.pad)
		require.NotNil(t, gi.Listener)
		assert.Equal(t, listener.NonGestureGrab, gi.Listener.Type)
		f.send(t, input.GesturePinchEnd, 10)
		assert.Empty(t, *f.rec)
		assert.NotNil(t, f.store.ActiveGrab(f.pad), "explicit grabs outlive the gesture")
	})

	t.Run("selecting gestures", func(t *testing.T) {
		f := newFixture(t)
		g, err := f.store.Create(4, grab.Params{Device: f.pad, ModifierDevice: f.kbd, Window: f.root, Kind: input.XI2,
			XI2Mask: pinchMask(f.pad.ID), ThisDeviceMode: grab.ModeSync, OtherDevicesMode: grab.ModeAsync})
		require.NoError(t, err)
		_, err = f.store.Activate(f.pad, g, 0, grab.Explicit)
		require.NoError(t, err)

		f.send(t, input.GesturePinchBegin, 10)
		f.send(t, input.GesturePinchUpdate, 10)
		f.send(t, input.GesturePinchEnd, 10)
		assert.Len(t, *f.rec, 3)
		assert.Equal(t, freezeLog{input.GesturePinchBegin, input.GesturePinchEnd}, *f.frozen)
	})
}

func TestSingleSlot(t *testing.T) {
	t.Run("begin while active", func(t *testing.T) {
		f := newFixture(t)
		ev := &input.Event{Type: input.GesturePinchBegin, SourceID: 10, RootX: 250, RootY: 250}
		_, err := f.m.Begin(f.pad, ev)
		require.NoError(t, err)
		_, err = f.m.Begin(f.pad, &input.Event{Type: input.GestureSwipeBegin, SourceID: 10})
		assert.ErrorIs(t, err, ErrGestureActive)
	})

	t.Run("other family is ignored", func(t *testing.T) {
		f := newFixture(t)
		f.pinchGrab(t, 3, grab.ModeAsync)
		f.send(t, input.GesturePinchBegin, 10)
		f.send(t, input.GestureSwipeUpdate, 10)
		assert.Equal(t, []input.EventType{input.GesturePinchBegin}, f.rec.types())
		assert.Nil(t, f.m.FindActive(f.pad, input.GestureSwipeEnd))
		assert.NotNil(t, f.m.FindActive(f.pad, input.GesturePinchEnd))
	})

	t.Run("second source on master", func(t *testing.T) {
		f := newFixture(t)
		f.pinchGrab(t, 3, grab.ModeAsync)
		f.send(t, input.GesturePinchBegin, 10)
		f.send(t, input.GesturePinchUpdate, 11)
		f.send(t, input.GesturePinchEnd, 11)
		assert.Equal(t, []input.EventType{input.GesturePinchBegin}, f.rec.types())
		assert.True(t, f.m.Info(f.pad).Active)
	})
}

func TestListenerGone(t *testing.T) {
	f := newFixture(t)
	f.pinchGrab(t, 3, grab.ModeAsync)
	f.send(t, input.GesturePinchBegin, 10)
	require.Equal(t, 3, f.store.Live())

	f.m.ListenerGone(4)
	assert.True(t, f.m.Info(f.pad).Active)

	f.m.ListenerGone(3)
	assert.False(t, f.m.Info(f.pad).Active)
	assert.Equal(t, 2, f.store.Live(), "the listener copy is freed")
}

func TestEndActiveGestures(t *testing.T) {
	f := newFixture(t)
	f.pinchGrab(t, 3, grab.ModeAsync)
	f.send(t, input.GesturePinchBegin, 10)

	f.m.EndActiveGestures(f.pad)
	assert.Equal(t, []input.EventType{input.GesturePinchBegin, input.GesturePinchEnd}, f.rec.types())
	assert.False(t, f.m.Info(f.pad).Active)
}

func TestProcessEventErrors(t *testing.T) {
	f := newFixture(t)
	err := f.m.ProcessEvent(f.kbd, &input.Event{Type: input.GesturePinchBegin})
	assert.Equal(t, status.BadDevice, status.FromError(err))
	err = f.m.ProcessEvent(f.pad, &input.Event{Type: input.Motion})
	assert.Equal(t, status.BadValue, status.FromError(err))
}
