// Package uiautomator2 normalizes Android UI hierarchy dumps into raw
// hierarchies.
package uiautomator2

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrEmptySource is returned when the dump holds no elements.
var ErrEmptySource = errors.New("uiautomator2: no elements found in page source")

// ParsePageSource converts an Android hierarchy dump into the raw shape
// tree.Build accepts. Both the UIAutomator format (class names as tags) and
// the Appium format (<node> tags with a class attribute) are read.
//
// Field mapping: type is the last segment of the class lowercased
// (android.widget.Button -> button), name is resource-id, label is
// content-desc and value is text. Bounds "[x1,y1][x2,y2]" become a rect.
// Every other attribute is kept as an element attribute.
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
				if t.Name.Local == "hierarchy" {
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
			return nil, fmt.Errorf("uiautomator2: parse page source: %w", err)
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
	class := t.Name.Local
	node := map[string]any{}
	var rect map[string]any

	for _, attr := range t.Attr {
		switch attr.Name.Local {
		case "class":
			class = attr.Value
			node["class"] = attr.Value
		case "resource-id":
			node["name"] = attr.Value
		case "content-desc":
			node["label"] = attr.Value
		case "text":
			node["value"] = attr.Value
		case "bounds":
			rect = parseBounds(attr.Value)
		case "index":
			// document position is recomputed by the tree
		default:
			node[attr.Name.Local] = attr.Value
		}
	}
	node["type"] = shortClass(class)
	if rect != nil {
		node["rect"] = rect
	}
	return node
}

// shortClass maps android.widget.Button to button.
func shortClass(class string) string {
	if i := strings.LastIndexByte(class, '.'); i >= 0 {
		class = class[i+1:]
	}
	if class == "" || class == "node" {
		return "view"
	}
	return strings.ToLower(class)
}

// parseBounds parses "[x1,y1][x2,y2]" into a rect. Malformed bounds give nil.
func parseBounds(s string) map[string]any {
	s = strings.ReplaceAll(s, "][", ",")
	s = strings.Trim(s, "[]")
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil
	}

	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil
		}
		v[i] = f
	}

	return map[string]any{
		"origin": map[string]any{"x": v[0], "y": v[1]},
		"size":   map[string]any{"width": v[2] - v[0], "height": v[3] - v[1]},
	}
}
