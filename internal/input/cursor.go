package input

import "fmt"

// Cursor is a shared cursor handle. Every holder calls Acquire when it
// keeps the cursor and Release when it lets go.
type Cursor struct {
	ID   XID
	refs int
}

// NewCursor returns a cursor holding its creator's reference.
func NewCursor(id XID) *Cursor {
	return &Cursor{ID: id, refs: 1}
}

// Acquire adds a reference. It is nil-safe so grabs without a cursor can
// call it unconditionally.
func (c *Cursor) Acquire() *Cursor {
	if c != nil {
		c.refs++
	}
	return c
}

// Release drops a reference. Releasing an unreferenced cursor is a bug.
func (c *Cursor) Release() {
	if c == nil {
		return
	}
	if c.refs <= 0 {
		panic(fmt.Sprintf("cursor 0x%x released with no references", uint32(c.ID)))
	}
	c.refs--
}

// Refs returns the number of live references.
func (c *Cursor) Refs() int {
	if c == nil {
		return 0
	}
	return c.refs
}
