package action

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrAssetNotFound is returned by Loader.Load when no file matches a name.
var ErrAssetNotFound = errors.New("asset not found")

// Asset is one parsed action document.
type Asset struct {
	Name   string // "name" field, or the file base name
	Source string // file path or caller-supplied label
	Root   *Node
}

// ParseError reports a document that could not be decoded.
type ParseError struct {
	Path    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ParseFile reads and parses an action document.
func ParseFile(path string) (*Asset, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path is a user-provided asset
	if err != nil {
		return nil, fmt.Errorf("failed to read asset: %w", err)
	}
	return Parse(data, path)
}

// Parse decodes a JSON or YAML action document.
func Parse(data []byte, source string) (*Asset, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{Path: source, Line: yamlErrorLine(err), Message: err.Error()}
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, &ParseError{Path: source, Line: 1, Message: "empty action document"}
	}

	root, err := fromYAML(&doc)
	if err != nil {
		return nil, &ParseError{Path: source, Message: err.Error()}
	}
	if root.Kind != KindObject && root.Kind != KindArray {
		return nil, &ParseError{Path: source, Line: root.Line, Message: "document root must be an object or an array"}
	}

	name, _ := root.Get("name").Text()
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	}
	return &Asset{Name: name, Source: source, Root: root}, nil
}

// yamlErrorLine extracts the line from yaml.v3 syntax errors.
func yamlErrorLine(err error) int {
	var line int
	if _, scanErr := fmt.Sscanf(err.Error(), "yaml: line %d:", &line); scanErr == nil {
		return line
	}
	return 0
}

var assetExtensions = []string{".json", ".yaml", ".yml"}

// Loader resolves asset names against a list of directories.
type Loader struct {
	Dirs []string
}

// NewLoader creates a loader searching dirs in order.
func NewLoader(dirs ...string) *Loader {
	return &Loader{Dirs: dirs}
}

// Resolve returns the file path for name. A name with a known extension is
// tried as given; otherwise each extension is tried in turn.
func (l *Loader) Resolve(name string) (string, error) {
	candidates := []string{name}
	if !hasAssetExt(name) {
		candidates = candidates[:0]
		for _, ext := range assetExtensions {
			candidates = append(candidates, name+ext)
		}
	}

	dirs := l.Dirs
	if len(dirs) == 0 || filepath.IsAbs(name) {
		dirs = []string{""}
	}
	for _, dir := range dirs {
		for _, c := range candidates {
			path := filepath.Join(dir, c)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s", ErrAssetNotFound, name)
}

// Load resolves and parses the asset called name.
func (l *Loader) Load(name string) (*Asset, error) {
	path, err := l.Resolve(name)
	if err != nil {
		return nil, err
	}
	return ParseFile(path)
}

func hasAssetExt(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range assetExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
