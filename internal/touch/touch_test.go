package touch

import (
	"math"
	"testing"

	"github.com/bnema/grabarbiter/internal/grab"
	"github.com/bnema/grabarbiter/internal/input"
	"github.com/bnema/grabarbiter/internal/listener"
	"github.com/bnema/grabarbiter/internal/resource"
	"github.com/bnema/grabarbiter/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	got []input.Delivery
}

func (r *recorder) Deliver(d input.Delivery) {
	r.got = append(r.got, d)
}

func (r *recorder) reset() {
	r.got = nil
}

// to returns the event types delivered to client, in order.
func (r *recorder) to(client input.ClientID) []input.EventType {
	var out []input.EventType
	for _, d := range r.got {
		if d.Client == client {
			out = append(out, d.Event.Type)
		}
	}
	return out
}

type fixture struct {
	store           *grab.Store
	ptr, kbd        *input.Device
	root, mid, leaf *input.Window
	rec             *recorder
	m               *Manager
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	tbl := resource.NewTable(0)
	store := grab.NewStore(tbl)
	tbl.OnDestroy(resource.TypePassiveGrab, store.DestroyPassive)

	devices := input.NewDevices()
	ptr := &input.Device{ID: 2, Name: "pointer", Use: input.MasterPointer, Buttons: true,
		Touch: &input.TouchClass{Mode: input.DirectTouch, MaxTouches: 10}}
	kbd := &input.Device{ID: 3, Name: "keyboard", Use: input.MasterKeyboard, Keys: true, Attached: ptr}
	ptr.Attached = kbd
	require.NoError(t, devices.Add(ptr))
	require.NoError(t, devices.Add(kbd))

	root := &input.Window{ID: 0x100, Width: 1000, Height: 1000, Realized: true}
	tree := input.NewTree(root)
	mid := &input.Window{ID: input.ClientID(1).Base() | 1, X: 100, Y: 100, Width: 500, Height: 500, Realized: true}
	leaf := &input.Window{ID: input.ClientID(2).Base() | 1, X: 200, Y: 200, Width: 100, Height: 100, Realized: true}
	require.NoError(t, tree.Add(root.ID, mid))
	require.NoError(t, tree.Add(mid.ID, leaf))

	rec := &recorder{}
	m := NewManager(store, listener.NewResolver(store, devices), tree, rec, opts)
	return &fixture{store: store, ptr: ptr, kbd: kbd, root: root, mid: mid, leaf: leaf, rec: rec, m: m}
}

func noEmulation() Options {
	opts := DefaultOptions()
	opts.PointerEmulation = false
	return opts
}

func (f *fixture) touchGrab(t *testing.T, client input.ClientID, win *input.Window, ownership bool) *grab.Grab {
	t.Helper()
	mask := input.NewXI2Mask()
	mask.Set(f.ptr.ID, input.XITouchBegin, input.XITouchUpdate, input.XITouchEnd)
	if ownership {
		mask.Set(f.ptr.ID, input.XITouchOwnership)
	}
	g, err := f.store.Create(client, grab.Params{
		Device:           f.ptr,
		ModifierDevice:   f.kbd,
		Window:           win,
		Kind:             input.XI2,
		Type:             input.TouchBegin,
		Modifiers:        grab.XIAnyModifier,
		XI2Mask:          mask,
		ThisDeviceMode:   grab.ModeTouch,
		OtherDevicesMode: grab.ModeAsync,
	})
	require.NoError(t, err)
	require.NoError(t, f.store.AddPassive(client, g))
	return g
}

func (f *fixture) send(t *testing.T, typ input.EventType, ddx uint32) {
	t.Helper()
	ev := &input.Event{Type: typ, DeviceID: f.ptr.ID, SourceID: f.ptr.ID, TouchID: ddx, RootX: 250, RootY: 250}
	require.NoError(t, f.m.ProcessEvent(f.ptr, ev))
}

func (f *fixture) point(t *testing.T) *Point {
	t.Helper()
	points := f.m.Points(f.ptr)
	require.Len(t, points, 1)
	return points[0]
}

func TestListenerPrecedence(t *testing.T) {
	f := newFixture(t, noEmulation())
	g := f.touchGrab(t, 3, f.mid, false)
	f.leaf.SelectXI2(input.ClientID(2).Base()|5, f.ptr.ID, input.XITouchBegin, input.XITouchUpdate, input.XITouchEnd)

	f.send(t, input.TouchBegin, 7)

	pt := f.point(t)
	require.Len(t, pt.Listeners, 1)
	l := pt.Listeners[0]
	assert.Equal(t, g.Resource, l.Resource)
	assert.Equal(t, f.mid, l.Window)
	assert.NotSame(t, g, l.Grab, "listener holds its own copy")
	assert.Equal(t, listener.IsOwner, l.State)
	assert.Equal(t, 1, pt.NumGrabs)

	require.Len(t, f.rec.got, 1)
	d := f.rec.got[0]
	assert.Equal(t, input.ClientID(3), d.Client)
	assert.Equal(t, g.Resource, d.Grab)
	assert.Equal(t, input.TouchBegin, d.Event.Type)
	assert.Equal(t, pt.ClientID, d.Event.TouchID)
	assert.Empty(t, f.rec.to(2))
}

func TestSelectionListener(t *testing.T) {
	t.Run("deepest selecting window wins", func(t *testing.T) {
		f := newFixture(t, noEmulation())
		f.mid.SelectXI2(input.ClientID(1).Base()|5, f.ptr.ID, input.XITouchBegin, input.XITouchEnd)
		f.leaf.SelectXI2(input.ClientID(2).Base()|5, f.ptr.ID, input.XITouchBegin, input.XITouchEnd)

		f.send(t, input.TouchBegin, 1)

		pt := f.point(t)
		require.Len(t, pt.Listeners, 1)
		assert.Equal(t, f.leaf, pt.Listeners[0].Window)
		assert.Equal(t, listener.HasAccepted, pt.Listeners[0].State)
		assert.Equal(t, []input.EventType{input.TouchBegin}, f.rec.to(2))
		assert.NotNil(t, pt.History, "a selection without ownership keeps history")
	})

	t.Run("end finishes the sequence", func(t *testing.T) {
		f := newFixture(t, noEmulation())
		f.leaf.SelectXI2(input.ClientID(2).Base()|5, f.ptr.ID, input.XITouchBegin, input.XITouchUpdate, input.XITouchEnd)

		f.send(t, input.TouchBegin, 1)
		f.send(t, input.TouchUpdate, 1)
		f.send(t, input.TouchEnd, 1)

		assert.Empty(t, f.m.Points(f.ptr))
		assert.Equal(t, []input.EventType{input.TouchBegin, input.TouchUpdate, input.TouchEnd}, f.rec.to(2))
	})

	t.Run("nobody selecting", func(t *testing.T) {
		f := newFixture(t, noEmulation())
		f.send(t, input.TouchBegin, 1)
		pt := f.point(t)
		assert.Empty(t, pt.Listeners)
		assert.Empty(t, f.rec.got)
	})
}

func TestOwnershipTransfer(t *testing.T) {
	t.Run("rejected grab replays history to selection", func(t *testing.T) {
		f := newFixture(t, noEmulation())
		f.touchGrab(t, 3, f.mid, false)
		selection := input.ClientID(2).Base() | 5
		f.leaf.SelectXI2(selection, f.ptr.ID, input.XITouchBegin, input.XITouchUpdate, input.XITouchEnd)

		f.send(t, input.TouchBegin, 1)
		pt := f.point(t)
		pt.Listeners = append(pt.Listeners, &listener.Listener{
			Resource:     selection,
			ResourceType: resource.TypeInputClient,
			Level:        input.XI2,
			Type:         listener.Regular,
			State:        listener.AwaitingBegin,
			Window:       f.leaf,
		})
		f.send(t, input.TouchUpdate, 1)
		assert.Equal(t, 2, pt.History.Len())
		assert.Empty(t, f.rec.to(2), "selection sees nothing while the grab owns the touch")

		f.rec.reset()
		require.NoError(t, f.m.AcceptReject(3, f.ptr, input.RejectTouch, pt.ClientID, f.mid.ID))

		require.Len(t, pt.Listeners, 1)
		assert.Equal(t, selection, pt.Listeners[0].Resource)
		assert.Equal(t, 0, pt.NumGrabs)

		require.Len(t, f.rec.got, 3)
		assert.Equal(t, input.ClientID(3), f.rec.got[0].Client)
		assert.Equal(t, input.TouchEnd, f.rec.got[0].Event.Type)
		assert.NotZero(t, f.rec.got[0].Event.Flags&input.TouchReject)
		for _, d := range f.rec.got[1:] {
			assert.Equal(t, input.ClientID(2), d.Client)
			assert.NotZero(t, d.Event.Flags&input.TouchReplaying)
		}
		assert.Equal(t, []input.EventType{input.TouchBegin, input.TouchUpdate}, f.rec.to(2))

		f.rec.reset()
		f.send(t, input.TouchUpdate, 1)
		require.Len(t, f.rec.got, 1)
		assert.Zero(t, f.rec.got[0].Event.Flags&input.TouchReplaying)
		assert.Equal(t, 3, pt.History.Len(), "replayed events are not buffered again")
	})

	t.Run("rejected grab hands ownership to waiting grab", func(t *testing.T) {
		f := newFixture(t, noEmulation())
		f.touchGrab(t, 3, f.mid, false)
		b := f.touchGrab(t, 4, f.leaf, true)

		f.send(t, input.TouchBegin, 1)
		pt := f.point(t)
		require.Len(t, pt.Listeners, 2)
		assert.Equal(t, listener.AwaitingOwner, pt.Listeners[1].State)
		f.send(t, input.TouchUpdate, 1)
		assert.Equal(t, []input.EventType{input.TouchBegin, input.TouchUpdate}, f.rec.to(4))

		f.rec.reset()
		require.NoError(t, f.m.AcceptReject(3, f.ptr, input.RejectTouch, pt.ClientID, f.mid.ID))

		require.Len(t, pt.Listeners, 1)
		assert.Equal(t, b.Resource, pt.Listeners[0].Resource)
		assert.Equal(t, listener.IsOwner, pt.Listeners[0].State)
		assert.Equal(t, []input.EventType{input.TouchOwnership}, f.rec.to(4))
		last := f.rec.got[len(f.rec.got)-1]
		assert.Equal(t, b.Resource, last.Event.Resource)
	})

	t.Run("owner accept ends the others", func(t *testing.T) {
		f := newFixture(t, noEmulation())
		f.touchGrab(t, 3, f.mid, false)
		f.touchGrab(t, 4, f.leaf, true)
		f.send(t, input.TouchBegin, 1)
		pt := f.point(t)
		assert.Equal(t, 4, f.store.Live())

		f.rec.reset()
		require.NoError(t, f.m.AcceptReject(3, f.ptr, input.AcceptTouch, pt.ClientID, f.mid.ID))
		require.Len(t, pt.Listeners, 1)
		assert.Equal(t, listener.HasAccepted, pt.Listeners[0].State)
		assert.Equal(t, []input.EventType{input.TouchEnd}, f.rec.to(4))
		assert.NotZero(t, f.rec.got[0].Event.Flags&input.TouchAccept)
		assert.Equal(t, 3, f.store.Live())

		f.send(t, input.TouchEnd, 1)
		assert.Empty(t, f.m.Points(f.ptr))
		assert.Equal(t, []input.EventType{input.TouchEnd}, f.rec.to(3))
		assert.Equal(t, 2, f.store.Live(), "listener copies are freed")
	})

	t.Run("early accept waits for ownership", func(t *testing.T) {
		f := newFixture(t, noEmulation())
		f.touchGrab(t, 3, f.mid, false)
		f.touchGrab(t, 4, f.leaf, true)
		f.send(t, input.TouchBegin, 1)
		pt := f.point(t)

		require.NoError(t, f.m.AcceptReject(4, f.ptr, input.AcceptTouch, pt.ClientID, f.leaf.ID))
		assert.Equal(t, listener.EarlyAccept, pt.Listeners[1].State)

		require.NoError(t, f.m.AcceptReject(3, f.ptr, input.RejectTouch, pt.ClientID, f.mid.ID))
		require.Len(t, pt.Listeners, 1)
		assert.Equal(t, listener.HasAccepted, pt.Listeners[0].State)
	})
}

func TestPendingEnd(t *testing.T) {
	f := newFixture(t, noEmulation())
	f.touchGrab(t, 3, f.mid, false)
	f.touchGrab(t, 4, f.leaf, true)
	f.send(t, input.TouchBegin, 1)
	pt := f.point(t)

	f.rec.reset()
	f.send(t, input.TouchEnd, 1)
	assert.True(t, pt.Active, "end waits for the owner to decide")
	assert.True(t, pt.PendingFinish)
	assert.False(t, pt.Physical)
	assert.Equal(t, []input.EventType{input.TouchEnd}, f.rec.to(3))
	require.Equal(t, []input.EventType{input.TouchUpdate}, f.rec.to(4))
	assert.NotZero(t, f.rec.got[1].Event.Flags&input.TouchPendingEnd)

	f.rec.reset()
	require.NoError(t, f.m.AcceptReject(3, f.ptr, input.RejectTouch, pt.ClientID, f.mid.ID))
	assert.Empty(t, f.rec.to(3), "owner already had its end")
	assert.Equal(t, []input.EventType{input.TouchOwnership, input.TouchEnd}, f.rec.to(4))
	assert.True(t, pt.Active, "a touch grab still has to accept")

	require.NoError(t, f.m.AcceptReject(4, f.ptr, input.AcceptTouch, pt.ClientID, f.leaf.ID))
	assert.False(t, pt.Active)
	assert.Equal(t, 2, f.store.Live())
}

func TestAcceptRejectErrors(t *testing.T) {
	f := newFixture(t, noEmulation())
	f.touchGrab(t, 3, f.mid, false)
	f.send(t, input.TouchBegin, 1)
	pt := f.point(t)

	t.Run("unknown touch", func(t *testing.T) {
		err := f.m.AcceptReject(3, f.ptr, input.AcceptTouch, pt.ClientID+100, f.mid.ID)
		assert.Equal(t, status.BadValue, status.FromError(err))
		v, ok := status.ValueOf(err)
		assert.True(t, ok)
		assert.Equal(t, pt.ClientID+100, v)
	})

	t.Run("not a listener", func(t *testing.T) {
		err := f.m.AcceptReject(5, f.ptr, input.AcceptTouch, pt.ClientID, f.mid.ID)
		assert.Equal(t, status.BadAccess, status.FromError(err))
		err = f.m.AcceptReject(3, f.ptr, input.AcceptTouch, pt.ClientID, f.leaf.ID)
		assert.Equal(t, status.BadAccess, status.FromError(err))
	})

	t.Run("device without touch", func(t *testing.T) {
		err := f.m.AcceptReject(3, f.kbd, input.AcceptTouch, pt.ClientID, f.mid.ID)
		assert.Equal(t, status.BadDevice, status.FromError(err))
	})

	t.Run("bad mode", func(t *testing.T) {
		err := f.m.AcceptReject(3, f.ptr, input.OwnershipGranted, pt.ClientID, f.mid.ID)
		assert.Equal(t, status.BadValue, status.FromError(err))
	})

	t.Run("listener index out of range panics", func(t *testing.T) {
		assert.Panics(t, func() { f.m.listenerAcceptReject(f.ptr, pt, 5, input.AcceptTouch) })
	})
}

func TestListenerGone(t *testing.T) {
	t.Run("single listener", func(t *testing.T) {
		f := newFixture(t, noEmulation())
		f.touchGrab(t, 3, f.mid, false)
		b := f.touchGrab(t, 4, f.leaf, true)
		f.send(t, input.TouchBegin, 1)
		pt := f.point(t)

		f.m.ListenerGone(3)
		require.Len(t, pt.Listeners, 1)
		assert.Equal(t, b.Resource, pt.Listeners[0].Resource)
		assert.Contains(t, f.rec.to(4), input.TouchOwnership)

		f.m.ListenerGone(4)
		assert.False(t, pt.Active)
		assert.Empty(t, f.m.Points(f.ptr))
	})

	t.Run("several listeners of one client", func(t *testing.T) {
		f := newFixture(t, noEmulation())
		f.touchGrab(t, 3, f.root, false)
		f.touchGrab(t, 3, f.mid, false)
		b := f.touchGrab(t, 4, f.leaf, true)
		f.send(t, input.TouchBegin, 1)
		pt := f.point(t)
		require.Len(t, pt.Listeners, 3)
		live := f.store.Live()
		f.rec.reset()

		f.m.ListenerGone(3)
		require.True(t, pt.Active)
		require.Len(t, pt.Listeners, 1)
		assert.Equal(t, b.Resource, pt.Listeners[0].Resource)
		assert.True(t, f.m.ResourceIsOwner(f.ptr, pt.ClientID, b.Resource))
		assert.Contains(t, f.rec.to(4), input.TouchOwnership)
		assert.NotContains(t, f.rec.to(3), input.TouchOwnership)
		assert.Equal(t, live-2, f.store.Live())
	})

	t.Run("client holding every listener", func(t *testing.T) {
		f := newFixture(t, noEmulation())
		f.touchGrab(t, 3, f.root, false)
		f.touchGrab(t, 3, f.mid, false)
		f.send(t, input.TouchBegin, 1)
		pt := f.point(t)

		f.m.ListenerGone(3)
		assert.False(t, pt.Active)
		assert.Empty(t, f.m.Points(f.ptr))
	})
}

func TestBegin(t *testing.T) {
	t.Run("duplicate driver id", func(t *testing.T) {
		f := newFixture(t, noEmulation())
		_, err := f.m.Begin(f.ptr, 9)
		require.NoError(t, err)
		_, err = f.m.Begin(f.ptr, 9)
		assert.Equal(t, status.BadValue, status.FromError(err))
	})

	t.Run("table grows", func(t *testing.T) {
		opts := noEmulation()
		opts.InitialSlots = 1
		f := newFixture(t, opts)
		var ids []uint32
		for ddx := uint32(1); ddx <= 4; ddx++ {
			pt, err := f.m.Begin(f.ptr, ddx)
			require.NoError(t, err)
			ids = append(ids, pt.ClientID)
		}
		assert.Equal(t, []uint32{1, 2, 3, 4}, ids)
		assert.Len(t, f.m.Points(f.ptr), 4)
		assert.GreaterOrEqual(t, len(f.m.table(f.ptr).points), 4)
	})

	t.Run("client ids skip zero", func(t *testing.T) {
		f := newFixture(t, noEmulation())
		f.m.nextID = math.MaxUint32
		a, err := f.m.Begin(f.ptr, 1)
		require.NoError(t, err)
		b, err := f.m.Begin(f.ptr, 2)
		require.NoError(t, err)
		assert.Equal(t, uint32(math.MaxUint32), a.ClientID)
		assert.Equal(t, uint32(1), b.ClientID)
	})

	t.Run("only the first touch emulates", func(t *testing.T) {
		f := newFixture(t, DefaultOptions())
		a, err := f.m.Begin(f.ptr, 1)
		require.NoError(t, err)
		b, err := f.m.Begin(f.ptr, 2)
		require.NoError(t, err)
		assert.True(t, a.EmulatePointer)
		assert.False(t, b.EmulatePointer)
	})

	t.Run("device without touch", func(t *testing.T) {
		f := newFixture(t, noEmulation())
		_, err := f.m.Begin(f.kbd, 1)
		assert.Equal(t, status.BadDevice, status.FromError(err))
	})
}

func TestHistory(t *testing.T) {
	t.Run("keeps the first begin and updates", func(t *testing.T) {
		h := newHistory(10)
		h.Push(&input.Event{Type: input.TouchBegin, Detail: 1}, 1)
		h.Push(&input.Event{Type: input.TouchBegin, Detail: 2}, 1)
		h.Push(&input.Event{Type: input.TouchUpdate}, 1)
		h.Push(&input.Event{Type: input.TouchEnd}, 1)
		h.Push(&input.Event{Type: input.TouchUpdate, Flags: input.TouchReplaying}, 1)
		h.Push(&input.Event{Type: input.TouchUpdate, Flags: input.TouchClientID}, 1)

		events := h.Events()
		require.Len(t, events, 2)
		assert.Equal(t, uint32(1), events[0].Detail)
		assert.Equal(t, input.TouchUpdate, events[1].Type)
	})

	t.Run("overflow drops new events", func(t *testing.T) {
		h := newHistory(4)
		h.Push(&input.Event{Type: input.TouchBegin}, 1)
		for i := 0; i < 10; i++ {
			h.Push(&input.Event{Type: input.TouchUpdate, Detail: uint32(i)}, 1)
		}
		events := h.Events()
		require.Len(t, events, 3)
		assert.Equal(t, uint32(1), events[2].Detail)
	})

	t.Run("nil history", func(t *testing.T) {
		var h *History
		h.Push(&input.Event{Type: input.TouchBegin}, 1)
		assert.Zero(t, h.Len())
		assert.Nil(t, h.Events())
	})
}

func TestOldestEmulated(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	pointerListener := func() []*listener.Listener {
		return []*listener.Listener{{Type: listener.PointerRegular, State: listener.IsOwner}}
	}
	tbl := f.m.table(f.ptr)
	tbl.points = []*Point{
		{ClientID: 5, Active: true, EmulatePointer: true, Listeners: pointerListener()},
		{ClientID: math.MaxUint32 - 1, Active: true, EmulatePointer: true, Listeners: pointerListener()},
		{ClientID: math.MaxUint32 - 5, Active: true, EmulatePointer: false, Listeners: pointerListener()},
	}
	assert.Same(t, tbl.points[1], f.m.oldestEmulated(f.ptr), "ids wrap")
}

func TestPointerEmulation(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	g, err := f.store.Create(3, grab.Params{
		Device:           f.ptr,
		ModifierDevice:   f.kbd,
		Window:           f.mid,
		Kind:             input.Core,
		Type:             input.ButtonPress,
		Detail:           1,
		Modifiers:        grab.AnyModifier,
		EventMask:        input.ButtonPress.Filter() | input.ButtonRelease.Filter() | input.Motion.Filter(),
		ThisDeviceMode:   grab.ModeAsync,
		OtherDevicesMode: grab.ModeAsync,
	})
	require.NoError(t, err)
	require.NoError(t, f.store.AddPassive(3, g))

	f.send(t, input.TouchBegin, 1)
	pt := f.point(t)
	assert.True(t, pt.EmulatePointer)
	require.Len(t, pt.Listeners, 1)
	assert.Equal(t, listener.PointerGrab, pt.Listeners[0].Type)
	assert.Equal(t, listener.HasAccepted, pt.Listeners[0].State, "async pointer grabs accept at once")
	active := f.store.ActiveGrab(f.ptr)
	require.NotNil(t, active)
	assert.Equal(t, g.Resource, active.Resource)
	assert.Equal(t, f.ptr, active.Device)

	f.send(t, input.TouchUpdate, 1)
	f.send(t, input.TouchEnd, 1)

	assert.Equal(t, []input.EventType{input.ButtonPress, input.Motion, input.Motion, input.ButtonRelease}, f.rec.to(3))
	for _, d := range f.rec.got {
		assert.Equal(t, input.Core, d.Level)
		assert.NotZero(t, d.Event.Flags&input.PointerEmulated)
	}
	assert.Nil(t, f.store.ActiveGrab(f.ptr), "release ends the passive grab")
	assert.Empty(t, f.m.Points(f.ptr))
	assert.Equal(t, 1, f.store.Live())
}

func TestEndPhysicallyActiveTouches(t *testing.T) {
	f := newFixture(t, noEmulation())
	f.leaf.SelectXI2(input.ClientID(2).Base()|5, f.ptr.ID, input.XITouchBegin, input.XITouchUpdate, input.XITouchEnd)
	f.send(t, input.TouchBegin, 1)
	f.send(t, input.TouchBegin, 2)
	require.Len(t, f.m.Points(f.ptr), 2)

	f.m.EndPhysicallyActiveTouches(f.ptr)
	assert.Empty(t, f.m.Points(f.ptr))
	assert.Equal(t, []input.EventType{input.TouchBegin, input.TouchBegin, input.TouchEnd, input.TouchEnd}, f.rec.to(2))
}
