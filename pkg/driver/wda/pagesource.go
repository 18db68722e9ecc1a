// Package wda normalizes WebDriverAgent page source into raw hierarchies.
package wda

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrEmptySource is returned when the page source holds no elements.
var ErrEmptySource = errors.New("wda: no elements found in page source")

const typePrefix = "XCUIElementType"

// state attributes kept as element attributes; defaults apply when absent
var stateDefaults = map[string]string{
	"enabled":  "true",
	"visible":  "true",
	"selected": "false",
	"focused":  "false",
}

// ParsePageSource converts iOS page source XML into the raw shape tree.Build
// accepts: one node object, or an array of them when the source has several
// top-level elements. The AppiumAUT wrapper is dropped, element types lose
// their XCUIElementType prefix and are lowercased, and x/y/width/height
// become a rect.
func ParsePageSource(xmlData string) (any, error) {
	decoder := xml.NewDecoder(strings.NewReader(xmlData))

	var roots []any
	var parseElement func() (map[string]any, error)

	parseElement = func() (map[string]any, error) {
		for {
			token, err := decoder.Token()
			if err != nil {
				return nil, err
			}

			switch t := token.(type) {
			case xml.StartElement:
				if t.Name.Local == "AppiumAUT" {
					continue
				}
				node := newNode(t)
				var children []any
				for {
					child, err := parseElement()
					if err != nil {
						return nil, err
					}
					if child == nil {
						break
					}
					children = append(children, child)
				}
				if len(children) > 0 {
					node["children"] = children
				}
				return node, nil

			case xml.EndElement:
				return nil, nil
			}
		}
	}

	for {
		node, err := parseElement()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("wda: parse page source: %w", err)
		}
		if node != nil {
			roots = append(roots, node)
		}
	}

	switch len(roots) {
	case 0:
		return nil, ErrEmptySource
	case 1:
		return roots[0], nil
	}
	return roots, nil
}

func newNode(t xml.StartElement) map[string]any {
	node := map[string]any{"type": normalizeType(t.Name.Local)}
	var x, y, w, h float64
	for k, v := range stateDefaults {
		node[k] = v
	}

	for _, attr := range t.Attr {
		switch attr.Name.Local {
		case "type":
			node["type"] = normalizeType(attr.Value)
		case "name", "label", "value":
			node[attr.Name.Local] = attr.Value
		case "x":
			x = number(attr.Value)
		case "y":
			y = number(attr.Value)
		case "width":
			w = number(attr.Value)
		case "height":
			h = number(attr.Value)
		case "index":
			// document position is recomputed by the tree
		default:
			node[attr.Name.Local] = attr.Value
		}
	}
	node["rect"] = map[string]any{
		"origin": map[string]any{"x": x, "y": y},
		"size":   map[string]any{"width": w, "height": h},
	}
	return node
}

// normalizeType maps XCUIElementTypeButton to button.
func normalizeType(s string) string {
	s = strings.TrimPrefix(s, typePrefix)
	if s == "" {
		return "other"
	}
	return strings.ToLower(s)
}

func number(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
