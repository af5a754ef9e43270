// Package arbiter is the engine the rest of the server talks to. It owns
// the grab store and the touch and gesture managers, answers the grab,
// ungrab and allow-events requests, and runs device events through
// grabs and selections.
package arbiter

import (
	"errors"

	"github.com/bits-and-blooms/bitset"
	"github.com/bnema/grabarbiter/internal/gesture"
	"github.com/bnema/grabarbiter/internal/grab"
	"github.com/bnema/grabarbiter/internal/input"
	"github.com/bnema/grabarbiter/internal/listener"
	"github.com/bnema/grabarbiter/internal/logger"
	"github.com/bnema/grabarbiter/internal/resource"
	"github.com/bnema/grabarbiter/internal/status"
	"github.com/bnema/grabarbiter/internal/touch"
)

var log = logger.WithPrefix("arbiter")

// Reply statuses of the active grab requests. They are not protocol
// errors: the request succeeds and reports the status to the client.
var (
	ErrAlreadyGrabbed = errors.New("device already grabbed")
	ErrFrozen         = errors.New("device frozen by another client")
	ErrInvalidTime    = errors.New("grab time earlier than the current grab")
	ErrNotViewable    = errors.New("grab window not viewable")
)

// serverMajor is the XI major version the engine speaks.
const serverMajor = 2

// Options configures an engine.
type Options struct {
	Touch touch.Options
	// MaxResources caps the resource table. Zero means no limit.
	MaxResources int
	// XI2Minor is the highest XI 2.x minor version offered to clients.
	XI2Minor uint16

	Access    grab.AccessChecker
	Allocator grab.Allocator
}

// DefaultOptions returns the options of a stock server.
func DefaultOptions() Options {
	return Options{
		Touch:    touch.DefaultOptions(),
		XI2Minor: 4,
	}
}

// Version is a negotiated XI version.
type Version struct {
	Major uint16
	Minor uint16
}

// AtLeast reports whether v is major.minor or newer.
func (v Version) AtLeast(major, minor uint16) bool {
	return v.Major > major || (v.Major == major && v.Minor >= minor)
}

// Engine arbitrates input ownership between clients. It is not safe for
// concurrent use: every call must come from the event loop.
type Engine struct {
	opts    Options
	devices input.DeviceRegistry
	tree    input.WindowTree
	out     input.Deliverer

	resources *resource.Table
	store     *grab.Store
	resolver  *listener.Resolver
	touches   *touch.Manager
	gestures  *gesture.Manager

	versions map[input.ClientID]Version
	buttons  map[input.DeviceID]*bitset.BitSet

	locks   int
	thaw    bool
	playing bool
}

// New wires an engine around the server's devices and window tree.
// Events leave through out.
func New(devices input.DeviceRegistry, tree input.WindowTree, out input.Deliverer, opts Options) *Engine {
	res := resource.NewTable(opts.MaxResources)

	var storeOpts []grab.Option
	if opts.Access != nil {
		storeOpts = append(storeOpts, grab.WithAccessChecker(opts.Access))
	}
	if opts.Allocator != nil {
		storeOpts = append(storeOpts, grab.WithAllocator(opts.Allocator))
	}
	store := grab.NewStore(res, storeOpts...)
	res.OnDestroy(resource.TypePassiveGrab, store.DestroyPassive)
	res.OnDestroy(resource.TypeInputClient, dropSelection)
	res.OnDestroy(resource.TypeOtherClient, dropSelection)

	resolver := listener.NewResolver(store, devices)
	e := &Engine{
		opts:      opts,
		devices:   devices,
		tree:      tree,
		out:       out,
		resources: res,
		store:     store,
		resolver:  resolver,
		versions:  make(map[input.ClientID]Version),
		buttons:   make(map[input.DeviceID]*bitset.BitSet),
	}
	e.touches = touch.NewManager(store, resolver, tree, out, opts.Touch)
	e.touches.SetPointerPath(pointerPath{e})
	e.gestures = gesture.NewManager(store, resolver, tree, out)
	e.gestures.SetFreezer(freezer{e})
	store.OnDeactivate(func(*input.Device, *grab.Grab, grab.Origin) { e.thaw = true })
	return e
}

func (e *Engine) Store() *grab.Store            { return e.store }
func (e *Engine) Resources() *resource.Table    { return e.resources }
func (e *Engine) Touches() *touch.Manager       { return e.touches }
func (e *Engine) Gestures() *gesture.Manager    { return e.gestures }
func (e *Engine) Resolver() *listener.Resolver  { return e.resolver }
func (e *Engine) Devices() input.DeviceRegistry { return e.devices }

// InputLock marks the start of a section that must not be interleaved
// with event processing. Sections nest.
func (e *Engine) InputLock() {
	e.locks++
}

// InputUnlock ends the innermost section. Leaving the outermost section
// replays events held back by devices that thawed inside it.
func (e *Engine) InputUnlock() {
	if e.locks == 0 {
		panic("arbiter: InputUnlock without InputLock")
	}
	for e.locks == 1 && e.thaw && !e.playing {
		e.computeFreezes(nil)
	}
	e.locks--
}

// Locked reports whether an input section is open.
func (e *Engine) Locked() bool {
	return e.locks > 0
}

// QueryVersion records the XI version client supports and returns the
// version both sides will use.
func (e *Engine) QueryVersion(client input.ClientID, want Version) Version {
	got := Version{Major: serverMajor, Minor: e.opts.XI2Minor}
	if !want.AtLeast(got.Major, got.Minor) {
		got = want
	}
	e.versions[client] = got
	log.Debug("client version negotiated", "client", client, "version", got)
	return got
}

// ClientVersion returns the version negotiated with client.
func (e *Engine) ClientVersion(client input.ClientID) (Version, bool) {
	v, ok := e.versions[client]
	return v, ok
}

func (e *Engine) device(id input.DeviceID) (*input.Device, error) {
	dev, ok := e.devices.Device(id)
	if !ok {
		return nil, status.WithValue(status.BadDevice, uint32(id))
	}
	return dev, nil
}

func (e *Engine) window(id input.XID) (*input.Window, error) {
	win, ok := e.tree.Window(id)
	if !ok {
		return nil, status.WithValue(status.BadWindow, uint32(id))
	}
	return win, nil
}

func (e *Engine) pressed(dev *input.Device) *bitset.BitSet {
	b, ok := e.buttons[dev.ID]
	if !ok {
		b = bitset.New(256)
		e.buttons[dev.ID] = b
	}
	return b
}

// paired returns the device frozen along with dev by a both-devices
// freeze.
func paired(dev *input.Device) *input.Device {
	if dev.IsMaster() {
		return dev.Attached
	}
	return nil
}

// ClientGone releases everything client held: active grabs, touch and
// gesture listeners, then every resource it owns, which takes its
// passive grabs and selections with it.
func (e *Engine) ClientGone(client input.ClientID) {
	e.InputLock()
	defer e.InputUnlock()

	for _, dev := range e.devices.Devices() {
		if g := e.store.ActiveGrab(dev); g != nil && g.Client() == client {
			e.store.Deactivate(dev)
		}
	}
	e.touches.ListenerGone(client)
	e.gestures.ListenerGone(client)
	e.resources.FreeClient(client)
	delete(e.versions, client)
	log.Debug("client gone", "client", client, "live_grabs", e.store.Live())
}

// WindowGone drops the passive grabs on win and releases active grabs
// that were on it or confined to it.
func (e *Engine) WindowGone(win *input.Window) {
	e.InputLock()
	defer e.InputUnlock()

	for _, dev := range e.devices.Devices() {
		if g := e.store.ActiveGrab(dev); g != nil && (g.Window == win || g.ConfineTo == win) {
			e.store.Deactivate(dev)
		}
	}
	e.store.WindowGone(win)
	log.Debug("window gone", "window", win)
}

// DisableDevice ends dev's sequences and grabs before it goes away.
func (e *Engine) DisableDevice(id input.DeviceID) error {
	dev, err := e.device(id)
	if err != nil {
		return err
	}
	e.InputLock()
	defer e.InputUnlock()

	e.touches.EndPhysicallyActiveTouches(dev)
	e.gestures.EndActiveGestures(dev)
	if e.store.ActiveGrab(dev) != nil {
		e.store.Deactivate(dev)
	}
	e.touches.RemoveDevice(dev)
	e.store.Slot(dev).Queue = nil
	delete(e.buttons, dev.ID)
	return nil
}

// ResourceIsOwner reports whether resource owns dev's touch id, or dev's
// gesture when dev has no such touch.
func (e *Engine) ResourceIsOwner(id input.DeviceID, touchID uint32, res input.XID) bool {
	dev, err := e.device(id)
	if err != nil {
		return false
	}
	if dev.Touch != nil && e.touches.FindByClientID(dev, touchID) != nil {
		return e.touches.ResourceIsOwner(dev, touchID, res)
	}
	return e.gestures.ResourceIsOwner(dev, res)
}

// SetupListeners builds the listener chain of dev's touch touchID for ev.
func (e *Engine) SetupListeners(id input.DeviceID, touchID uint32, ev input.Event) error {
	dev, err := e.device(id)
	if err != nil {
		return err
	}
	pt := e.touches.FindByClientID(dev, touchID)
	if pt == nil {
		return status.WithValue(status.BadValue, touchID)
	}
	e.InputLock()
	defer e.InputUnlock()
	e.touches.SetupListeners(dev, pt, &ev)
	return nil
}

// EndSequence finishes dev's touch touchID, or dev's gesture when there
// is no such touch. Listeners get no further events.
func (e *Engine) EndSequence(id input.DeviceID, touchID uint32) error {
	dev, err := e.device(id)
	if err != nil {
		return err
	}
	e.InputLock()
	defer e.InputUnlock()

	if dev.Touch != nil {
		if pt := e.touches.FindByClientID(dev, touchID); pt != nil {
			e.touches.EndTouch(dev, pt)
			return nil
		}
	}
	if dev.Gesture && e.gestures.Info(dev).Active {
		e.gestures.End(dev)
		return nil
	}
	return status.WithValue(status.BadValue, touchID)
}
