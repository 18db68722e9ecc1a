package action

import (
	"strings"

	"github.com/devicelab-dev/action-runner/pkg/core"
)

// Pattern matches wildcarded action paths. Segments are separated by dots;
// "*" matches exactly one segment and "**" matches any number, including none.
type Pattern struct {
	raw  string
	segs []string
}

// CompilePattern parses a path pattern. The empty pattern matches only the
// document root.
func CompilePattern(raw string) (*Pattern, error) {
	p := &Pattern{raw: raw}
	if raw == "" {
		return p, nil
	}
	for _, s := range strings.Split(raw, ".") {
		if s == "" {
			return nil, &core.InvalidArgumentsError{Op: "action.CompilePattern", Reason: "empty segment in " + raw}
		}
		p.segs = append(p.segs, s)
	}
	return p, nil
}

func (p *Pattern) String() string {
	return p.raw
}

// Match reports whether the wildcarded path matches.
func (p *Pattern) Match(path []string) bool {
	return matchSegments(p.segs, path)
}

func matchSegments(segs, path []string) bool {
	for len(segs) > 0 {
		switch segs[0] {
		case "**":
			for i := 0; i <= len(path); i++ {
				if matchSegments(segs[1:], path[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(path) == 0 {
				return false
			}
		default:
			if len(path) == 0 || path[0] != segs[0] {
				return false
			}
		}
		segs, path = segs[1:], path[1:]
	}
	return len(path) == 0
}

// JoinPath renders path segments the way Items report them.
func JoinPath(segs []string) string {
	return strings.Join(segs, ".")
}
