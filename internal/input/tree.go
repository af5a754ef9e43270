package input

import (
	"errors"
	"fmt"
)

var (
	// ErrWindowExists is returned when a window id is already in the tree.
	ErrWindowExists = errors.New("window already exists")
	// ErrNoSuchWindow is returned for unknown window ids.
	ErrNoSuchWindow = errors.New("no such window")
)

// WindowTree locates windows for the arbiter.
type WindowTree interface {
	Window(id XID) (*Window, bool)
	// SpriteTrace returns the realized windows under the root coordinate,
	// root first.
	SpriteTrace(x, y float64) []*Window
}

// Tree is the in-memory WindowTree.
type Tree struct {
	root *Window
	byID map[XID]*Window
}

// NewTree returns a tree holding only root.
func NewTree(root *Window) *Tree {
	return &Tree{root: root, byID: map[XID]*Window{root.ID: root}}
}

func (t *Tree) Root() *Window {
	return t.root
}

func (t *Tree) Window(id XID) (*Window, bool) {
	w, ok := t.byID[id]
	return w, ok
}

// Add inserts w as the topmost child of parent.
func (t *Tree) Add(parent XID, w *Window) error {
	if _, ok := t.byID[w.ID]; ok {
		return fmt.Errorf("add window %s: %w", w, ErrWindowExists)
	}
	p, ok := t.byID[parent]
	if !ok {
		return fmt.Errorf("add window %s under 0x%x: %w", w, uint32(parent), ErrNoSuchWindow)
	}
	w.Parent = p
	p.Children = append(p.Children, w)
	t.byID[w.ID] = w
	return nil
}

// Remove unlinks the subtree rooted at id and returns its windows, deepest
// first. The root cannot be removed.
func (t *Tree) Remove(id XID) []*Window {
	w, ok := t.byID[id]
	if !ok || w == t.root {
		return nil
	}
	if p := w.Parent; p != nil {
		for i, c := range p.Children {
			if c == w {
				p.Children = append(p.Children[:i], p.Children[i+1:]...)
				break
			}
		}
	}
	var gone []*Window
	var walk func(*Window)
	walk = func(cur *Window) {
		for _, c := range cur.Children {
			walk(c)
		}
		delete(t.byID, cur.ID)
		cur.Realized = false
		gone = append(gone, cur)
	}
	walk(w)
	return gone
}

func (t *Tree) SpriteTrace(x, y float64) []*Window {
	trace := []*Window{t.root}
	cur := t.root
	for {
		var next *Window
		for i := len(cur.Children) - 1; i >= 0; i-- {
			c := cur.Children[i]
			if c.Realized && c.Contains(x, y) {
				next = c
				break
			}
		}
		if next == nil {
			return trace
		}
		trace = append(trace, next)
		cur = next
	}
}
