package grab

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"github.com/bnema/grabarbiter/internal/input"
	"github.com/bnema/grabarbiter/internal/logger"
	"github.com/bnema/grabarbiter/internal/resource"
	"github.com/bnema/grabarbiter/internal/status"
)

var log = logger.WithPrefix("grab")

// Resources is the resource registry the store reports grabs to.
type Resources interface {
	FakeClientID(client input.ClientID) input.XID
	Add(id input.XID, typ resource.Type, value any) error
	Free(id input.XID, skip resource.Type)
}

// AccessMode is the device access a grab needs.
type AccessMode uint8

const (
	AccessGrab AccessMode = 1 << iota
	AccessFreeze
)

// AccessChecker decides whether client may grab dev.
type AccessChecker interface {
	CheckDeviceAccess(client input.ClientID, dev *input.Device, mode AccessMode) error
}

// AllowAll grants every access request.
type AllowAll struct{}

func (AllowAll) CheckDeviceAccess(input.ClientID, *input.Device, AccessMode) error { return nil }

// Store holds passive grab lists and active grab slots.
type Store struct {
	res    Resources
	alloc  Allocator
	access AccessChecker

	passive map[*input.Window][]*Grab
	slots   map[input.DeviceID]*Slot
	live    int

	activated   []Hook
	deactivated []Hook
}

type Option func(*Store)

func WithAllocator(a Allocator) Option {
	return func(s *Store) { s.alloc = a }
}

func WithAccessChecker(c AccessChecker) Option {
	return func(s *Store) { s.access = c }
}

func NewStore(res Resources, opts ...Option) *Store {
	s := &Store{
		res:     res,
		alloc:   heapAllocator{},
		access:  AllowAll{},
		passive: make(map[*input.Window][]*Grab),
		slots:   make(map[input.DeviceID]*Slot),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create allocates a grab for client from p. The grab gets a fresh
// server-side id but is not registered until AddPassive.
func (s *Store) Create(client input.ClientID, p Params) (*Grab, error) {
	g, err := s.Alloc(nil)
	if err != nil {
		return nil, err
	}
	*g = *Template(s.res.FakeClientID(client), p)
	if p.XI2Mask != nil {
		g.XI2Mask = p.XI2Mask.Clone()
	}
	g.Cursor = p.Cursor.Acquire()
	return g, nil
}

// PassiveGrabs returns a snapshot of win's passive grabs, newest first.
func (s *Store) PassiveGrabs(win *input.Window) []*Grab {
	list := s.passive[win]
	out := make([]*Grab, len(list))
	copy(out, list)
	return out
}

func (s *Store) prepend(g *Grab) {
	s.passive[g.Window] = append([]*Grab{g}, s.passive[g.Window]...)
}

func (s *Store) unlink(g *Grab) bool {
	list := s.passive[g.Window]
	for i, cur := range list {
		if cur != g {
			continue
		}
		list = append(list[:i:i], list[i+1:]...)
		if len(list) == 0 {
			delete(s.passive, g.Window)
		} else {
			s.passive[g.Window] = list
		}
		return true
	}
	return false
}

// AddPassive links g into its window's passive list. The store takes
// ownership of g: on failure g has been freed.
func (s *Store) AddPassive(client input.ClientID, g *Grab) error {
	for _, other := range s.passive[g.Window] {
		if Matches(g, other, g.Kind == input.Core) && !input.SameClient(g.Resource, other.Resource) {
			log.Debug("passive grab conflicts", "grab", g, "holder", other)
			s.Free(g)
			return fmt.Errorf("grab on %s held by client %d: %w", g.Window, other.Client(), status.BadAccess)
		}
	}

	mode := AccessGrab
	if g.Sync() {
		mode |= AccessFreeze
	}
	if err := s.access.CheckDeviceAccess(client, g.Device, mode); err != nil {
		s.Free(g)
		return fmt.Errorf("device access for %s: %w", g.Device, err)
	}

	for _, other := range s.passive[g.Window] {
		if Identical(g, other) {
			if err := s.DeletePassive(other); err != nil {
				s.Free(g)
				return err
			}
			break
		}
	}

	s.prepend(g)
	if err := s.res.Add(g.Resource, resource.TypePassiveGrab, g); err != nil {
		s.unlink(g)
		s.Free(g)
		return fmt.Errorf("register passive grab: %v: %w", err, status.BadAlloc)
	}
	log.Debug("passive grab added", "grab", g)
	return nil
}

// DestroyPassive is the registry destroy callback for passive grabs.
func (s *Store) DestroyPassive(value any, _ input.XID) {
	g, ok := value.(*Grab)
	if !ok {
		return
	}
	s.unlink(g)
	s.Free(g)
}

type update struct {
	target *Detail
	mask   *bitset.BitSet
}

// DeletePassive removes the events described by minuend from every
// matching passive grab of the same client on minuend's window. Grabs
// fully covered are deleted; partially covered ones are narrowed through
// their exclusion sets, splitting a double wildcard grab in two when
// minuend names a single detail and modifier pair.
//
// Every matching grab is evaluated against the list as it was on entry.
// Nothing changes unless every allocation succeeds; on failure the list
// is untouched and BadAlloc is returned. A minuend detail or modifier
// state that an exclusion set cannot hold gives BadValue the same way.
func (s *Store) DeletePassive(minuend *Grab) error {
	list := s.PassiveGrabs(minuend.Window)
	if len(list) == 0 {
		return nil
	}

	anyMod := minuend.AnyModifier()
	anyKey := AnyKey
	if minuend.Kind == input.XI2 {
		anyKey = XIAnyKeycode
	}

	var (
		deletes []*Grab
		adds    []*Grab
		updates []update
		err     error
	)
	carve := func(target *Detail, value uint32) bool {
		var m *bitset.BitSet
		if m, err = s.withoutDetail(target.Exclude, value); err != nil {
			return false
		}
		updates = append(updates, update{target: target, mask: m})
		return true
	}

	for _, g := range list {
		if !input.SameClient(g.Resource, minuend.Resource) || !Matches(g, minuend, g.Kind == input.Core) {
			continue
		}
		ok := true
		switch {
		case Supersedes(minuend, g):
			deletes = append(deletes, g)
		case g.Detail.Exact == anyKey && g.Modifiers.Exact != anyMod:
			ok = carve(&g.Detail, minuend.Detail.Exact)
		case g.Modifiers.Exact == anyMod && g.Detail.Exact != anyKey:
			ok = carve(&g.Modifiers, minuend.Modifiers.Exact)
		case minuend.Detail.Exact != anyKey && minuend.Modifiers.Exact != anyMod:
			if ok = carve(&g.Detail, minuend.Detail.Exact); !ok {
				break
			}
			var clone *Grab
			if clone, err = s.split(g, minuend); err != nil {
				ok = false
				break
			}
			adds = append(adds, clone)
		case minuend.Detail.Exact == anyKey:
			ok = carve(&g.Modifiers, minuend.Modifiers.Exact)
		default:
			ok = carve(&g.Detail, minuend.Detail.Exact)
		}
		if !ok {
			break
		}
	}

	if err != nil {
		for _, clone := range adds {
			s.res.Free(clone.Resource, resource.TypeNone)
		}
		log.Debug("passive grab removal rolled back", "minuend", minuend, "err", err)
		return fmt.Errorf("delete passive grab: %w", err)
	}

	for _, g := range deletes {
		s.res.Free(g.Resource, resource.TypeNone)
	}
	for _, clone := range adds {
		s.prepend(clone)
	}
	for _, u := range updates {
		u.target.Exclude = u.mask
	}
	log.Debug("passive grabs removed", "minuend", minuend,
		"deleted", len(deletes), "split", len(adds), "narrowed", len(updates))
	return nil
}

// split builds and registers the half of g that keeps minuend's detail
// with every modifier state except minuend's.
func (s *Store) split(g, minuend *Grab) (*Grab, error) {
	clone, err := s.Create(g.Client(), Params{
		Device:           g.Device,
		ModifierDevice:   g.ModifierDevice,
		Window:           g.Window,
		ConfineTo:        g.ConfineTo,
		Cursor:           g.Cursor,
		Kind:             g.Kind,
		Type:             g.Type,
		Detail:           minuend.Detail.Exact,
		Modifiers:        g.AnyModifier(),
		EventMask:        g.EventMask,
		XI2Mask:          g.XI2Mask,
		OwnerEvents:      g.OwnerEvents,
		ThisDeviceMode:   g.ThisDeviceMode,
		OtherDevicesMode: g.OtherDevicesMode,
	})
	if err != nil {
		return nil, err
	}
	if clone.Modifiers.Exclude, err = s.withoutDetail(g.Modifiers.Exclude, minuend.Modifiers.Exact); err != nil {
		s.Free(clone)
		return nil, err
	}
	if err := s.res.Add(clone.Resource, resource.TypePassiveGrab, clone); err != nil {
		s.Free(clone)
		return nil, allocFailed("split grab resource", err)
	}
	return clone, nil
}

// WindowGone frees every passive grab on win through the registry.
func (s *Store) WindowGone(win *input.Window) {
	for _, g := range s.PassiveGrabs(win) {
		s.res.Free(g.Resource, resource.TypeNone)
	}
	delete(s.passive, win)
}
