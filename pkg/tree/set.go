package tree

import "sort"

// ElementSet is an ordered, deduplicated sequence of elements from one
// snapshot. The zero value is an empty set.
type ElementSet struct {
	snap  *snapshot
	items []*Element
}

func newSet(snap *snapshot, items []*Element) ElementSet {
	return ElementSet{snap: snap, items: items}
}

// NewSet builds a set from elements of the universe's snapshot, restoring
// document order and dropping duplicates and foreign elements.
func NewSet(universe ElementSet, elems []*Element) ElementSet {
	snap := universe.snap
	if snap == nil {
		return ElementSet{}
	}
	seen := make(map[int]bool, len(elems))
	items := make([]*Element, 0, len(elems))
	for _, e := range elems {
		if e == nil || e.snap != snap || seen[e.index] {
			continue
		}
		seen[e.index] = true
		items = append(items, e)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].index < items[j].index })
	return newSet(snap, items)
}

// Len returns the number of elements.
func (s ElementSet) Len() int {
	return len(s.items)
}

// Empty reports whether the set has no elements.
func (s ElementSet) Empty() bool {
	return len(s.items) == 0
}

// At returns the i-th element in document order.
func (s ElementSet) At(i int) *Element {
	return s.items[i]
}

// First returns the first element in document order.
func (s ElementSet) First() (*Element, bool) {
	if len(s.items) == 0 {
		return nil, false
	}
	return s.items[0], true
}

// Elements returns a copy of the elements.
func (s ElementSet) Elements() []*Element {
	out := make([]*Element, len(s.items))
	copy(out, s.items)
	return out
}

// IDs returns element ids in order.
func (s ElementSet) IDs() []string {
	ids := make([]string, len(s.items))
	for i, e := range s.items {
		ids[i] = e.ID
	}
	return ids
}

// Contains reports whether e is in the set.
func (s ElementSet) Contains(e *Element) bool {
	if e == nil || e.snap != s.snap {
		return false
	}
	i := sort.Search(len(s.items), func(i int) bool { return s.items[i].index >= e.index })
	return i < len(s.items) && s.items[i] == e
}

// Universe returns every element of the set's snapshot.
func (s ElementSet) Universe() ElementSet {
	if s.snap == nil {
		return ElementSet{}
	}
	return newSet(s.snap, s.snap.elements)
}

// Lookup finds an element of the set's snapshot by id, whether or not it is
// a member of the set.
func (s ElementSet) Lookup(id string) (*Element, bool) {
	if s.snap == nil {
		return nil, false
	}
	idx, ok := s.snap.byID[id]
	if !ok {
		return nil, false
	}
	return s.snap.elements[idx], true
}

// Filter keeps the elements for which keep returns true.
func (s ElementSet) Filter(keep func(*Element) bool) ElementSet {
	var out []*Element
	for _, e := range s.items {
		if keep(e) {
			out = append(out, e)
		}
	}
	return newSet(s.snap, out)
}

// ByID narrows the set to the element with the given id.
func (s ElementSet) ByID(id string) ElementSet {
	e, ok := s.Lookup(id)
	if !ok || !s.Contains(e) {
		return newSet(s.snap, nil)
	}
	return newSet(s.snap, []*Element{e})
}

// ByName narrows the set to elements with the given name.
func (s ElementSet) ByName(name string) ElementSet {
	return s.Filter(func(e *Element) bool { return e.Name == name })
}

// ByLabel narrows the set to elements with the given label.
func (s ElementSet) ByLabel(label string) ElementSet {
	return s.Filter(func(e *Element) bool { return e.Label == label })
}

// ByValue narrows the set to elements with the given value.
func (s ElementSet) ByValue(value string) ElementSet {
	return s.Filter(func(e *Element) bool { return e.Value == value })
}

// ByType narrows the set to elements of the given type.
func (s ElementSet) ByType(typ string) ElementSet {
	return s.Filter(func(e *Element) bool { return e.Type == typ })
}

// Union merges two sets of the same snapshot.
func (s ElementSet) Union(o ElementSet) ElementSet {
	if s.snap == nil {
		return o
	}
	return NewSet(s, append(s.Elements(), o.items...))
}

// Intersect keeps the elements present in both sets.
func (s ElementSet) Intersect(o ElementSet) ElementSet {
	return s.Filter(o.Contains)
}
