// Package action turns action documents into dispatchable queues.
//
// A document is decoded into an ordered Node tree so that the pre-order walk
// sees object keys in authoring order. Object nodes whose wildcarded path
// matches a registered action path are resolved against the syntax registry
// and enqueued as Items.
package action

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Kind is the shape of a Node.
type Kind int

const (
	KindNull Kind = iota
	KindScalar
	KindObject
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindScalar:
		return "scalar"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	}
	return "unknown"
}

// Node is one value of an action document. Objects keep key order.
type Node struct {
	Kind   Kind
	Scalar any // string, int, float64 or bool when Kind is KindScalar
	Items  []*Node
	Line   int // source line, 0 when built in code

	keys   []string
	fields map[string]*Node
}

// NewObject returns an empty object node.
func NewObject() *Node {
	return &Node{Kind: KindObject, fields: make(map[string]*Node)}
}

// NewArray returns an array node holding items.
func NewArray(items ...*Node) *Node {
	return &Node{Kind: KindArray, Items: items}
}

// NewScalar wraps a scalar value. A nil value gives a null node.
func NewScalar(v any) *Node {
	if v == nil {
		return &Node{Kind: KindNull}
	}
	return &Node{Kind: KindScalar, Scalar: v}
}

// FromValue converts a generic decoded value into a Node. Map keys are
// sorted because Go maps carry no order.
func FromValue(v any) *Node {
	switch t := v.(type) {
	case *Node:
		return t.Clone()
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		n := NewObject()
		for _, k := range keys {
			n.Set(k, FromValue(t[k]))
		}
		return n
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = val
		}
		return FromValue(m)
	case []any:
		n := NewArray()
		for _, it := range t {
			n.Items = append(n.Items, FromValue(it))
		}
		return n
	case []string:
		n := NewArray()
		for _, it := range t {
			n.Items = append(n.Items, NewScalar(it))
		}
		return n
	default:
		return NewScalar(v)
	}
}

// Keys returns the object's keys in order.
func (n *Node) Keys() []string {
	if n == nil || n.Kind != KindObject {
		return nil
	}
	out := make([]string, len(n.keys))
	copy(out, n.keys)
	return out
}

// Len returns the number of object fields or array items.
func (n *Node) Len() int {
	switch {
	case n == nil:
		return 0
	case n.Kind == KindObject:
		return len(n.keys)
	case n.Kind == KindArray:
		return len(n.Items)
	}
	return 0
}

// Get returns the field value, or nil.
func (n *Node) Get(key string) *Node {
	if n == nil || n.Kind != KindObject {
		return nil
	}
	return n.fields[key]
}

// Has reports whether the object has key.
func (n *Node) Has(key string) bool {
	if n == nil || n.Kind != KindObject {
		return false
	}
	_, ok := n.fields[key]
	return ok
}

// Set adds or replaces a field. New keys go last.
func (n *Node) Set(key string, v *Node) {
	if _, ok := n.fields[key]; !ok {
		n.keys = append(n.keys, key)
	}
	n.fields[key] = v
}

// Delete removes a field.
func (n *Node) Delete(key string) {
	if !n.Has(key) {
		return
	}
	delete(n.fields, key)
	for i, k := range n.keys {
		if k == key {
			n.keys = append(n.keys[:i:i], n.keys[i+1:]...)
			break
		}
	}
}

// Text returns the scalar in string form.
func (n *Node) Text() (string, bool) {
	if n == nil || n.Kind != KindScalar {
		return "", false
	}
	switch v := n.Scalar.(type) {
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case int:
		return strconv.Itoa(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return fmt.Sprint(v), true
	}
}

// Strings returns a scalar as a one-element list, or the text of every
// scalar item of an array.
func (n *Node) Strings() []string {
	if s, ok := n.Text(); ok {
		return []string{s}
	}
	if n == nil || n.Kind != KindArray {
		return nil
	}
	var out []string
	for _, it := range n.Items {
		if s, ok := it.Text(); ok {
			out = append(out, s)
		}
	}
	return out
}

// Clone returns a deep copy.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := &Node{Kind: n.Kind, Scalar: n.Scalar, Line: n.Line}
	switch n.Kind {
	case KindObject:
		c.keys = make([]string, len(n.keys))
		copy(c.keys, n.keys)
		c.fields = make(map[string]*Node, len(n.fields))
		for k, v := range n.fields {
			c.fields[k] = v.Clone()
		}
	case KindArray:
		c.Items = make([]*Node, len(n.Items))
		for i, it := range n.Items {
			c.Items[i] = it.Clone()
		}
	}
	return c
}

// Value converts the node into plain Go values: map[string]any, []any and
// scalars.
func (n *Node) Value() any {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case KindScalar:
		return n.Scalar
	case KindObject:
		m := make(map[string]any, len(n.keys))
		for _, k := range n.keys {
			m[k] = n.fields[k].Value()
		}
		return m
	case KindArray:
		out := make([]any, len(n.Items))
		for i, it := range n.Items {
			out[i] = it.Value()
		}
		return out
	}
	return nil
}

// MarshalJSON encodes the node keeping object key order.
func (n *Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := n.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (n *Node) writeJSON(buf *bytes.Buffer) error {
	if n == nil || n.Kind == KindNull {
		buf.WriteString("null")
		return nil
	}
	switch n.Kind {
	case KindObject:
		buf.WriteByte('{')
		for i, k := range n.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, _ := json.Marshal(k)
			buf.Write(key)
			buf.WriteByte(':')
			if err := n.fields[k].writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case KindArray:
		buf.WriteByte('[')
		for i, it := range n.Items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := it.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		data, err := json.Marshal(n.Scalar)
		if err != nil {
			return err
		}
		buf.Write(data)
	}
	return nil
}

// fromYAML converts a decoded yaml.v3 node.
func fromYAML(y *yaml.Node) (*Node, error) {
	switch y.Kind {
	case yaml.DocumentNode:
		if len(y.Content) == 0 {
			return &Node{Kind: KindNull}, nil
		}
		return fromYAML(y.Content[0])
	case yaml.AliasNode:
		return fromYAML(y.Alias)
	case yaml.MappingNode:
		n := NewObject()
		n.Line = y.Line
		for i := 0; i+1 < len(y.Content); i += 2 {
			k, v := y.Content[i], y.Content[i+1]
			child, err := fromYAML(v)
			if err != nil {
				return nil, err
			}
			n.Set(k.Value, child)
		}
		return n, nil
	case yaml.SequenceNode:
		n := NewArray()
		n.Line = y.Line
		for _, it := range y.Content {
			child, err := fromYAML(it)
			if err != nil {
				return nil, err
			}
			n.Items = append(n.Items, child)
		}
		return n, nil
	case yaml.ScalarNode:
		var v any
		if err := y.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %w", y.Line, err)
		}
		n := NewScalar(v)
		n.Line = y.Line
		return n, nil
	}
	return nil, fmt.Errorf("line %d: unsupported yaml node kind %d", y.Line, y.Kind)
}
