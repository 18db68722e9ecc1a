// Package tree normalizes captured UI hierarchies into an element graph.
//
// A Tree owns every Element of one snapshot in a flat arena laid out in
// document (depth-first, pre-order) order. Parent links are arena indexes, so
// the graph is owned by the snapshot alone and cannot express cycles.
package tree

import "strconv"

// Point is a position in screen coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a width/height pair.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect is an element's frame.
type Rect struct {
	Origin Point `json:"origin"`
	Size   Size  `json:"size"`
}

// Center returns the center point of the rect.
func (r Rect) Center() Point {
	return Point{X: r.Origin.X + r.Size.Width/2, Y: r.Origin.Y + r.Size.Height/2}
}

// Contains reports whether the point lies inside the rect.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.Origin.X && p.X < r.Origin.X+r.Size.Width &&
		p.Y >= r.Origin.Y && p.Y < r.Origin.Y+r.Size.Height
}

// Element is one node of a snapshot.
type Element struct {
	ID         string            `json:"id"`    // "<type>:<index>", unique within the tree
	Type       string            `json:"type"`  // widget class
	Name       string            `json:"name"`  // accessibility identifier
	Label      string            `json:"label"` // accessibility label
	Value      string            `json:"value"` // current value
	Rect       Rect              `json:"rect"`
	Level      int               `json:"level"` // depth from the root, root = 0
	ParentID   string            `json:"parent,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`

	index    int
	parent   int
	children []int
	height   int
	snap     *snapshot
}

// Index returns the element's position in document order.
func (e *Element) Index() int {
	return e.index
}

// Parent returns the parent element, or nil for a root.
func (e *Element) Parent() *Element {
	if e.parent < 0 {
		return nil
	}
	return e.snap.elements[e.parent]
}

// Children returns the element's children in document order.
func (e *Element) Children() []*Element {
	out := make([]*Element, len(e.children))
	for i, idx := range e.children {
		out[i] = e.snap.elements[idx]
	}
	return out
}

// Height is the longest downward path to a leaf (0 for leaves).
func (e *Element) Height() int {
	return e.height
}

// IsRoot reports whether the element has no parent.
func (e *Element) IsRoot() bool {
	return e.parent < 0
}

// IsAncestorOf reports whether e is a proper ancestor of other.
func (e *Element) IsAncestorOf(other *Element) bool {
	if other == nil || other.snap != e.snap {
		return false
	}
	for p := other.parent; p >= 0; p = e.snap.elements[p].parent {
		if p == e.index {
			return true
		}
	}
	return false
}

// Attribute returns a named extra attribute.
func (e *Element) Attribute(key string) (string, bool) {
	v, ok := e.Attributes[key]
	return v, ok
}

// String returns the element id.
func (e *Element) String() string {
	return e.ID
}

// Describe returns a short human-readable description.
func (e *Element) Describe() string {
	switch {
	case e.Label != "":
		return e.ID + " \"" + e.Label + "\""
	case e.Name != "":
		return e.ID + " #" + e.Name
	case e.Value != "":
		return e.ID + " =" + strconv.Quote(e.Value)
	default:
		return e.ID
	}
}
