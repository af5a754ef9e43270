// Package resource is the resource registry the arbiter reports to: every
// grab, window and cursor is registered under an XID so that client and
// window teardown can find and free it.
package resource

import (
	"fmt"
	"sort"

	"github.com/bnema/grabarbiter/internal/input"
	"github.com/bnema/grabarbiter/internal/status"
)

// Type tags what a resource id refers to.
type Type uint8

const (
	// TypeNone is used as the "skip" argument to Free when every destroy
	// callback should run, and as the listener type of grab listeners.
	TypeNone Type = iota
	TypePassiveGrab
	TypeWindow
	TypeCursor
	TypeInputClient
	TypeOtherClient
)

func (t Type) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypePassiveGrab:
		return "passive-grab"
	case TypeWindow:
		return "window"
	case TypeCursor:
		return "cursor"
	case TypeInputClient:
		return "input-client"
	case TypeOtherClient:
		return "other-client"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// DestroyFunc releases a resource's value when it is freed.
type DestroyFunc func(value any, id input.XID)

type entry struct {
	typ   Type
	value any
}

// Table maps XIDs to values.
type Table struct {
	entries map[input.XID]entry
	destroy map[Type]DestroyFunc
	fake    map[input.ClientID]input.XID
	limit   int
}

// NewTable returns an empty table. A positive limit caps the number of
// live resources; Add fails with BadAlloc beyond it.
func NewTable(limit int) *Table {
	return &Table{
		entries: make(map[input.XID]entry),
		destroy: make(map[Type]DestroyFunc),
		fake:    make(map[input.ClientID]input.XID),
		limit:   limit,
	}
}

// OnDestroy installs the destroy callback for typ.
func (t *Table) OnDestroy(typ Type, fn DestroyFunc) {
	t.destroy[typ] = fn
}

// FakeClientID allocates a server-side id owned by client.
func (t *Table) FakeClientID(client input.ClientID) input.XID {
	next := t.fake[client]
	for {
		next = (next + 1) & (input.ServerBit - 1)
		id := client.Base() | input.ServerBit | next
		if _, used := t.entries[id]; !used {
			t.fake[client] = next
			return id
		}
	}
}

// Add registers value under id.
func (t *Table) Add(id input.XID, typ Type, value any) error {
	if _, ok := t.entries[id]; ok {
		return fmt.Errorf("resource 0x%x already registered: %w", uint32(id), status.BadIDChoice)
	}
	if t.limit > 0 && len(t.entries) >= t.limit {
		return fmt.Errorf("resource table full (%d): %w", t.limit, status.BadAlloc)
	}
	t.entries[id] = entry{typ: typ, value: value}
	return nil
}

// Lookup returns the value registered under id if it has type typ.
func (t *Table) Lookup(id input.XID, typ Type) (any, bool) {
	e, ok := t.entries[id]
	if !ok || e.typ != typ {
		return nil, false
	}
	return e.value, true
}

// Free unregisters id and runs its destroy callback unless its type is
// skip. Freeing an unknown id is a no-op.
func (t *Table) Free(id input.XID, skip Type) {
	e, ok := t.entries[id]
	if !ok {
		return
	}
	delete(t.entries, id)
	if skip != TypeNone && e.typ == skip {
		return
	}
	if fn := t.destroy[e.typ]; fn != nil {
		fn(e.value, id)
	}
}

// FreeClient frees every resource owned by client, in id order.
func (t *Table) FreeClient(client input.ClientID) {
	var ids []input.XID
	for id := range t.entries {
		if id.Client() == client {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		t.Free(id, TypeNone)
	}
	delete(t.fake, client)
}

// Len returns the number of live resources.
func (t *Table) Len() int {
	return len(t.entries)
}
