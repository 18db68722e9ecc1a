package tree

// All returns every element in document order.
func (t *Tree) All() ElementSet {
	s := t.snap()
	return newSet(s, s.elements)
}

// Roots returns the top-level elements.
func (t *Tree) Roots() ElementSet {
	s := t.snap()
	items := make([]*Element, len(s.roots))
	for i, idx := range s.roots {
		items[i] = s.elements[idx]
	}
	return newSet(s, items)
}

// Element returns the element with the given id.
func (t *Tree) Element(id string) (*Element, bool) {
	return t.All().Lookup(id)
}

// ByID returns the element with the given id, or an empty set.
func (t *Tree) ByID(id string) ElementSet {
	return t.All().ByID(id)
}

// ByName returns elements whose name equals name.
func (t *Tree) ByName(name string) ElementSet {
	return t.All().ByName(name)
}

// ByLabel returns elements whose label equals label.
func (t *Tree) ByLabel(label string) ElementSet {
	return t.All().ByLabel(label)
}

// ByValue returns elements whose value equals value.
func (t *Tree) ByValue(value string) ElementSet {
	return t.All().ByValue(value)
}

// ByType returns elements of the given type.
func (t *Tree) ByType(typ string) ElementSet {
	return t.All().ByType(typ)
}

// AtLevel returns elements whose depth is exactly n.
func (t *Tree) AtLevel(n int) ElementSet {
	return t.All().Filter(func(e *Element) bool { return e.Level == n })
}

// AtDelta returns elements whose subtree height is at least n.
func (t *Tree) AtDelta(n int) ElementSet {
	return t.All().Filter(func(e *Element) bool { return e.height >= n })
}

// Export renders the snapshot back into the raw hierarchy shape accepted by
// Build. Ids are derived data and are not emitted.
func (t *Tree) Export() []any {
	s := t.snap()
	out := make([]any, 0, len(s.roots))
	for _, idx := range s.roots {
		out = append(out, exportNode(s.elements[idx]))
	}
	return out
}

func exportNode(e *Element) map[string]any {
	node := map[string]any{
		"type":  e.Type,
		"name":  e.Name,
		"label": e.Label,
		"value": e.Value,
		"rect": map[string]any{
			"origin": map[string]any{"x": e.Rect.Origin.X, "y": e.Rect.Origin.Y},
			"size":   map[string]any{"width": e.Rect.Size.Width, "height": e.Rect.Size.Height},
		},
	}
	for k, v := range e.Attributes {
		node[k] = v
	}
	if len(e.children) > 0 {
		children := make([]any, len(e.children))
		for i, c := range e.children {
			children[i] = exportNode(e.snap.elements[c])
		}
		node["children"] = children
	}
	return node
}
