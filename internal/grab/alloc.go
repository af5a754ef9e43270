package grab

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"github.com/bnema/grabarbiter/internal/status"
)

// Allocator hands out grab records and exclusion sets. Every allocation
// the store performs goes through it so failures can be injected.
type Allocator interface {
	AllocGrab() (*Grab, error)
	// AllocMask returns a copy of src, or an empty set when src is nil.
	AllocMask(src *bitset.BitSet) (*bitset.BitSet, error)
}

type heapAllocator struct{}

func (heapAllocator) AllocGrab() (*Grab, error) {
	return &Grab{}, nil
}

func (heapAllocator) AllocMask(src *bitset.BitSet) (*bitset.BitSet, error) {
	if src == nil {
		return bitset.New(uint(AllModifiersMask) + 1), nil
	}
	return src.Clone(), nil
}

func allocFailed(what string, err error) error {
	return fmt.Errorf("allocate %s: %v: %w", what, err, status.BadAlloc)
}

// Alloc returns a new grab. With a source, the new grab is a deep copy:
// exclusion sets and the XI2 mask are duplicated and the cursor gains a
// reference. On failure nothing is retained.
func (s *Store) Alloc(src *Grab) (*Grab, error) {
	g, err := s.alloc.AllocGrab()
	if err != nil {
		return nil, allocFailed("grab", err)
	}
	if src == nil {
		s.live++
		return g, nil
	}

	*g = *src
	g.Detail.Exclude = nil
	g.Modifiers.Exclude = nil
	if src.Detail.Exclude != nil {
		if g.Detail.Exclude, err = s.alloc.AllocMask(src.Detail.Exclude); err != nil {
			return nil, allocFailed("detail mask", err)
		}
	}
	if src.Modifiers.Exclude != nil {
		if g.Modifiers.Exclude, err = s.alloc.AllocMask(src.Modifiers.Exclude); err != nil {
			return nil, allocFailed("modifier mask", err)
		}
	}
	if src.XI2Mask != nil {
		g.XI2Mask = src.XI2Mask.Clone()
	}
	g.Cursor = src.Cursor.Acquire()
	s.live++
	return g, nil
}

// Free releases g's masks and its cursor reference. g must not be nil.
func (s *Store) Free(g *Grab) {
	if g == nil {
		panic("grab: Free called with nil grab")
	}
	g.Detail.Exclude = nil
	g.Modifiers.Exclude = nil
	g.XI2Mask = nil
	g.Cursor.Release()
	g.Cursor = nil
	s.live--
}

// Live returns the number of allocated grabs not yet freed.
func (s *Store) Live() int {
	return s.live
}

// withoutDetail returns a copy of mask with value carved out. Exclusion
// sets only cover details below MaxDetail.
func (s *Store) withoutDetail(mask *bitset.BitSet, value uint32) (*bitset.BitSet, error) {
	if value >= MaxDetail {
		return nil, fmt.Errorf("exclude detail %d: %w", value, status.WithValue(status.BadValue, value))
	}
	out, err := s.alloc.AllocMask(mask)
	if err != nil {
		return nil, allocFailed("exclusion mask", err)
	}
	out.Set(uint(value))
	return out, nil
}
