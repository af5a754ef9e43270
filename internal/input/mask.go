package input

import (
	"sort"

	"github.com/bits-and-blooms/bitset"
)

// XI2Mask is a set of XI2 event types per device. Entries for AllDevices
// and AllMasterDevices apply to every device and every master.
type XI2Mask struct {
	masks map[DeviceID]*bitset.BitSet
}

func NewXI2Mask() *XI2Mask {
	return &XI2Mask{masks: make(map[DeviceID]*bitset.BitSet)}
}

// Set selects types for dev.
func (m *XI2Mask) Set(dev DeviceID, types ...XI2Type) {
	b, ok := m.masks[dev]
	if !ok {
		b = bitset.New(uint(XILastEvent) + 1)
		m.masks[dev] = b
	}
	for _, t := range types {
		b.Set(uint(t))
	}
}

// Clear deselects t for dev.
func (m *XI2Mask) Clear(dev DeviceID, t XI2Type) {
	b, ok := m.masks[dev]
	if !ok {
		return
	}
	b.Clear(uint(t))
	if b.None() {
		delete(m.masks, dev)
	}
}

// Has reports whether t is selected on the entry for exactly dev.
func (m *XI2Mask) Has(dev DeviceID, t XI2Type) bool {
	if m == nil {
		return false
	}
	b, ok := m.masks[dev]
	return ok && b.Test(uint(t))
}

// IsSet reports whether t is selected for dev, honouring the AllDevices
// and AllMasterDevices entries.
func (m *XI2Mask) IsSet(dev *Device, t XI2Type) bool {
	if m == nil || dev == nil {
		return false
	}
	if m.Has(AllDevices, t) || m.Has(dev.ID, t) {
		return true
	}
	return dev.IsMaster() && m.Has(AllMasterDevices, t)
}

// Merge adds every selection in other to m.
func (m *XI2Mask) Merge(other *XI2Mask) {
	if other == nil {
		return
	}
	for dev, b := range other.masks {
		if cur, ok := m.masks[dev]; ok {
			cur.InPlaceUnion(b)
		} else {
			m.masks[dev] = b.Clone()
		}
	}
}

// Clone returns a deep copy. Cloning nil yields an empty mask.
func (m *XI2Mask) Clone() *XI2Mask {
	out := NewXI2Mask()
	out.Merge(m)
	return out
}

func (m *XI2Mask) Equal(other *XI2Mask) bool {
	return m.covers(other) && other.covers(m)
}

// covers reports whether every selection in other is also in m.
func (m *XI2Mask) covers(other *XI2Mask) bool {
	if other == nil {
		return true
	}
	for dev, ob := range other.masks {
		if ob.None() {
			continue
		}
		if m == nil {
			return false
		}
		b, ok := m.masks[dev]
		if !ok || !b.IsSuperSet(ob) {
			return false
		}
	}
	return true
}

func (m *XI2Mask) Empty() bool {
	if m == nil {
		return true
	}
	for _, b := range m.masks {
		if !b.None() {
			return false
		}
	}
	return true
}

// Devices lists the device entries in ascending order.
func (m *XI2Mask) Devices() []DeviceID {
	if m == nil {
		return nil
	}
	out := make([]DeviceID, 0, len(m.masks))
	for dev := range m.masks {
		out = append(out, dev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Types lists the types selected on the entry for exactly dev.
func (m *XI2Mask) Types(dev DeviceID) []XI2Type {
	if m == nil {
		return nil
	}
	b, ok := m.masks[dev]
	if !ok {
		return nil
	}
	var out []XI2Type
	for i, ok := b.NextSet(0); ok; i, ok = b.NextSet(i + 1) {
		out = append(out, XI2Type(i))
	}
	return out
}
