package tree

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
)

// TreeParseError reports a malformed raw hierarchy.
type TreeParseError struct {
	Path   string // location of the offending node, "$" is the input root
	Reason string
}

func (e *TreeParseError) Error() string {
	return fmt.Sprintf("tree parse error at %s: %s", e.Path, e.Reason)
}

// snapshot is one immutable element arena.
type snapshot struct {
	elements  []*Element
	roots     []int
	byID      map[string]int
	hash      string
	maxHeight int
}

// Tree owns the element graph of one captured snapshot.
// Contents are only ever replaced wholesale through Update.
type Tree struct {
	cur atomic.Pointer[snapshot]
}

// Build converts a raw hierarchy (decoded JSON/YAML: maps, slices and
// scalars) into a Tree. The top level is a single node object or an array
// of root nodes.
func Build(raw any) (*Tree, error) {
	snap, err := buildSnapshot(raw)
	if err != nil {
		return nil, err
	}
	t := &Tree{}
	t.cur.Store(snap)
	return t, nil
}

// BuildJSON decodes JSON data and builds a Tree from it.
func BuildJSON(data []byte) (*Tree, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &TreeParseError{Path: "$", Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	return Build(raw)
}

// Update replaces the tree contents with a freshly built snapshot. On error
// the previous contents are kept.
func (t *Tree) Update(raw any) error {
	snap, err := buildSnapshot(raw)
	if err != nil {
		return err
	}
	t.cur.Store(snap)
	return nil
}

// Adopt takes over the current snapshot of o unless both trees already hold
// the same content. It reports whether the contents changed; when they did
// not, elements obtained earlier from t stay valid for the new capture.
func (t *Tree) Adopt(o *Tree) bool {
	next := o.snap()
	if t.snap().hash == next.hash {
		return false
	}
	t.cur.Store(next)
	return true
}

// Hash returns the content fingerprint of the current snapshot.
func (t *Tree) Hash() string {
	return t.snap().hash
}

// Len returns the number of elements.
func (t *Tree) Len() int {
	return len(t.snap().elements)
}

// MaxHeight returns the height of the tallest root.
func (t *Tree) MaxHeight() int {
	return t.snap().maxHeight
}

func (t *Tree) snap() *snapshot {
	if s := t.cur.Load(); s != nil {
		return s
	}
	return emptySnapshot
}

var emptySnapshot = &snapshot{byID: map[string]int{}, hash: hashLines(nil)}

type builder struct {
	snap     *snapshot
	counters map[string]int
}

func buildSnapshot(raw any) (*snapshot, error) {
	b := &builder{
		snap:     &snapshot{byID: make(map[string]int)},
		counters: make(map[string]int),
	}

	switch v := raw.(type) {
	case nil:
		return nil, &TreeParseError{Path: "$", Reason: "empty hierarchy"}
	case []any:
		if err := b.walkList(v, "$", -1, 0); err != nil {
			return nil, err
		}
	default:
		if _, err := b.walkNode(v, "$", -1, 0); err != nil {
			return nil, err
		}
	}

	s := b.snap
	lines := make([]string, len(s.elements))
	for i, e := range s.elements {
		lines[i] = canonicalLine(e)
		if e.parent < 0 && e.height > s.maxHeight {
			s.maxHeight = e.height
		}
	}
	s.hash = hashLines(lines)
	return s, nil
}

// walkList visits an array of nodes. Nested arrays are flattened in order.
func (b *builder) walkList(items []any, path string, parent, level int) error {
	for i, item := range items {
		p := fmt.Sprintf("%s[%d]", path, i)
		if nested, ok := item.([]any); ok {
			if err := b.walkList(nested, p, parent, level); err != nil {
				return err
			}
			continue
		}
		if _, err := b.walkNode(item, p, parent, level); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) walkNode(raw any, path string, parent, level int) (*Element, error) {
	obj, ok := asObject(raw)
	if !ok {
		return nil, &TreeParseError{Path: path, Reason: fmt.Sprintf("node is %s, not an object", kindOf(raw))}
	}

	rawType, present := obj["type"]
	if !present || rawType == nil {
		return nil, &TreeParseError{Path: path, Reason: "missing type"}
	}
	typ, ok := rawType.(string)
	if !ok || typ == "" {
		return nil, &TreeParseError{Path: path + ".type", Reason: "type must be a non-empty string"}
	}

	idx := len(b.snap.elements)
	e := &Element{
		ID:     typ + ":" + strconv.Itoa(b.counters[typ]),
		Type:   typ,
		Level:  level,
		index:  idx,
		parent: parent,
		snap:   b.snap,
	}
	b.counters[typ]++
	b.snap.elements = append(b.snap.elements, e)
	b.snap.byID[e.ID] = idx

	if parent < 0 {
		b.snap.roots = append(b.snap.roots, idx)
	} else {
		p := b.snap.elements[parent]
		e.ParentID = p.ID
		p.children = append(p.children, idx)
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var children any
	for _, k := range keys {
		v := obj[k]
		switch k {
		case "type":
		case "name":
			e.Name = scalarText(v)
		case "label":
			e.Label = scalarText(v)
		case "value":
			e.Value = scalarText(v)
		case "rect":
			r, err := parseRect(v, path+".rect")
			if err != nil {
				return nil, err
			}
			e.Rect = r
		case "children":
			children = v
		default:
			if isScalar(v) && v != nil {
				if e.Attributes == nil {
					e.Attributes = make(map[string]string)
				}
				e.Attributes[k] = scalarText(v)
			}
		}
	}

	if children != nil {
		list, ok := children.([]any)
		if !ok {
			return nil, &TreeParseError{Path: path + ".children", Reason: "children must be an array"}
		}
		if err := b.walkList(list, path+".children", idx, level+1); err != nil {
			return nil, err
		}
	}

	for _, c := range e.children {
		if h := b.snap.elements[c].height + 1; h > e.height {
			e.height = h
		}
	}
	return e, nil
}

func parseRect(raw any, path string) (Rect, error) {
	var r Rect
	if raw == nil {
		return r, nil
	}
	obj, ok := asObject(raw)
	if !ok {
		return r, &TreeParseError{Path: path, Reason: "rect must be an object"}
	}

	pair := func(key, a, b string) (float64, float64, error) {
		sub, present := obj[key]
		if !present || sub == nil {
			return 0, 0, nil
		}
		m, ok := asObject(sub)
		if !ok {
			return 0, 0, &TreeParseError{Path: path + "." + key, Reason: "must be an object"}
		}
		x, err := number(m[a], path+"."+key+"."+a)
		if err != nil {
			return 0, 0, err
		}
		y, err := number(m[b], path+"."+key+"."+b)
		if err != nil {
			return 0, 0, err
		}
		return x, y, nil
	}

	var err error
	if r.Origin.X, r.Origin.Y, err = pair("origin", "x", "y"); err != nil {
		return r, err
	}
	if r.Size.Width, r.Size.Height, err = pair("size", "width", "height"); err != nil {
		return r, err
	}
	return r, nil
}

func number(v any, path string) (float64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, &TreeParseError{Path: path, Reason: "not a number"}
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, &TreeParseError{Path: path, Reason: fmt.Sprintf("not a number: %q", n)}
		}
		return f, nil
	default:
		return 0, &TreeParseError{Path: path, Reason: fmt.Sprintf("not a number: %s", kindOf(v))}
	}
}

func asObject(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

func isScalar(v any) bool {
	switch v.(type) {
	case map[string]any, map[any]any, []any:
		return false
	}
	return true
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "an array"
	case string:
		return "a string"
	case bool:
		return "a boolean"
	case float64, float32, int, int64, uint64, json.Number:
		return "a number"
	}
	return fmt.Sprintf("%T", v)
}

// scalarText renders a scalar the way it reads in the source document.
func scalarText(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(s), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(s)
	}
	return fmt.Sprint(v)
}

func formatNum(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func canonicalLine(e *Element) string {
	fields := []string{
		e.ID, e.Type, e.Name, e.Label, e.Value,
		formatNum(e.Rect.Origin.X), formatNum(e.Rect.Origin.Y),
		formatNum(e.Rect.Size.Width), formatNum(e.Rect.Size.Height),
		strconv.Itoa(e.Level), e.ParentID,
	}
	for i, f := range fields {
		fields[i] = strconv.Quote(f)
	}
	return strings.Join(fields, ",")
}

func hashLines(lines []string) string {
	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
