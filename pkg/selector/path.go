package selector

import (
	"strconv"
	"strings"

	"github.com/devicelab-dev/action-runner/pkg/tree"
)

// Field is one resolvable element attribute.
type Field int

// Resolvable fields. FieldUnknown never matches.
const (
	FieldUnknown Field = iota
	FieldID
	FieldType
	FieldName
	FieldLabel
	FieldValue
	FieldLevel
	FieldDelta // subtree height
	FieldIndex // document position
	FieldRectX
	FieldRectY
	FieldRectWidth
	FieldRectHeight
	FieldAttribute // attributes.<key>
)

var fieldNames = map[string]Field{
	"id":               FieldID,
	"type":             FieldType,
	"name":             FieldName,
	"label":            FieldLabel,
	"value":            FieldValue,
	"level":            FieldLevel,
	"delta":            FieldDelta,
	"index":            FieldIndex,
	"rect.origin.x":    FieldRectX,
	"rect.origin.y":    FieldRectY,
	"rect.size.width":  FieldRectWidth,
	"rect.size.height": FieldRectHeight,
}

// Path is a dotted attribute path resolved against an element, such as
// "rect.origin.x" or "parent.parent.id".
type Path struct {
	Raw   string
	Ups   int // leading "parent." hops
	Field Field
	Key   string // attribute key for FieldAttribute
}

// ParsePath resolves a dotted path into the closed field set. Paths outside
// the set yield FieldUnknown.
func ParsePath(raw string) Path {
	p := Path{Raw: raw}
	rest := raw
	for strings.HasPrefix(rest, "parent.") {
		p.Ups++
		rest = strings.TrimPrefix(rest, "parent.")
	}

	if f, ok := fieldNames[rest]; ok {
		p.Field = f
		return p
	}
	if key, ok := strings.CutPrefix(rest, "attributes."); ok && key != "" {
		p.Field = FieldAttribute
		p.Key = key
	}
	return p
}

// Known reports whether the path resolves to a field.
func (p Path) Known() bool {
	return p.Field != FieldUnknown
}

// Resolve returns the path's value on e in string form. ok is false when the
// path is unknown, a parent hop runs past a root, or the attribute is absent.
func (p Path) Resolve(e *tree.Element) (string, bool) {
	for i := 0; i < p.Ups && e != nil; i++ {
		e = e.Parent()
	}
	if e == nil {
		return "", false
	}

	switch p.Field {
	case FieldID:
		return e.ID, true
	case FieldType:
		return e.Type, true
	case FieldName:
		return e.Name, true
	case FieldLabel:
		return e.Label, true
	case FieldValue:
		return e.Value, true
	case FieldLevel:
		return strconv.Itoa(e.Level), true
	case FieldDelta:
		return strconv.Itoa(e.Height()), true
	case FieldIndex:
		return strconv.Itoa(e.Index()), true
	case FieldRectX:
		return formatFloat(e.Rect.Origin.X), true
	case FieldRectY:
		return formatFloat(e.Rect.Origin.Y), true
	case FieldRectWidth:
		return formatFloat(e.Rect.Size.Width), true
	case FieldRectHeight:
		return formatFloat(e.Rect.Size.Height), true
	case FieldAttribute:
		return e.Attribute(p.Key)
	}
	return "", false
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
