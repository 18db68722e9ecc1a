package selector

import (
	"strconv"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// regexTimeout bounds a single attribute regex match.
const regexTimeout = 500 * time.Millisecond

// Compile parses selector text into a pipeline. It never partially succeeds.
func Compile(text string) (*Compiled, error) {
	p := &parser{src: text}
	steps, err := p.parse()
	if err != nil {
		return nil, err
	}
	return &Compiled{text: text, steps: steps}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(text string) *Compiled {
	c, err := Compile(text)
	if err != nil {
		panic(err)
	}
	return c
}

type parser struct {
	src string
	pos int
}

func (p *parser) fail(offset int, reason string) error {
	return &InvalidSelectorError{Selector: p.src, Offset: offset, Reason: reason}
}

func (p *parser) eof() bool {
	return p.pos >= len(p.src)
}

func (p *parser) peek() byte {
	return p.src[p.pos]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// isRefStop reports characters that end a bareword reference.
func isRefStop(c byte) bool {
	return isSpace(c) || strings.IndexByte("#.@^*[]{}<>", c) >= 0
}

func (p *parser) skipSpace() {
	for !p.eof() && isSpace(p.peek()) {
		p.pos++
	}
}

func (p *parser) parse() ([]Step, error) {
	var steps []Step
	pending := CombinatorNone

	for {
		p.skipSpace()
		if p.eof() {
			break
		}

		if c := p.peek(); c == '>' || c == '<' {
			if p.pos > 0 && !isSpace(p.src[p.pos-1]) {
				return nil, p.fail(p.pos, "combinator '"+string(c)+"' must be preceded by whitespace")
			}
			if p.pos+1 < len(p.src) && !isSpace(p.src[p.pos+1]) {
				return nil, p.fail(p.pos, "combinator '"+string(c)+"' must be followed by whitespace")
			}
			if pending != CombinatorNone {
				return nil, p.fail(p.pos, "consecutive combinators")
			}
			pending = CombinatorChild
			if c == '<' {
				pending = CombinatorAscend
			}
			p.pos++
			continue
		}

		group, err := p.parseGroup()
		if err != nil {
			return nil, err
		}

		comb := pending
		if comb == CombinatorNone && len(steps) > 0 {
			comb = CombinatorDescendant
		}
		steps = append(steps, Step{Combinator: comb, Group: group})
		pending = CombinatorNone
	}

	if pending != CombinatorNone {
		// A trailing combinator applies an empty, match-all group.
		steps = append(steps, Step{Combinator: pending})
	}
	if len(steps) == 0 {
		return nil, p.fail(0, "empty selector")
	}
	return steps, nil
}

func (p *parser) parseGroup() (Group, error) {
	var g Group
	for !p.eof() && !isSpace(p.peek()) {
		start := p.pos
		c := p.peek()
		switch c {
		case '#', '.', '^', '@':
			p.pos++
			ref, err := p.parseRef(c)
			if err != nil {
				return g, err
			}
			g.Atoms = append(g.Atoms, Atom{Kind: sigilKind(c), Text: ref})
		case '*':
			p.pos++
			g.Atoms = append(g.Atoms, Atom{Kind: AtomWildcard})
		case '[':
			a, err := p.parseAttribute()
			if err != nil {
				return g, err
			}
			g.Atoms = append(g.Atoms, a)
		case '<', '>':
			return g, p.fail(start, "combinator '"+string(c)+"' must be surrounded by whitespace")
		default:
			return g, p.fail(start, "unexpected character "+strconv.QuoteRune(rune(c)))
		}
	}
	return g, nil
}

func sigilKind(c byte) AtomKind {
	switch c {
	case '#':
		return AtomID
	case '.':
		return AtomName
	case '^':
		return AtomLabel
	default:
		return AtomValue
	}
}

func (p *parser) parseRef(sigil byte) (string, error) {
	if !p.eof() && p.peek() == '{' {
		return p.parseBraced()
	}
	start := p.pos
	for !p.eof() && !isRefStop(p.peek()) {
		p.pos++
	}
	if p.pos == start {
		return "", p.fail(start, "expected reference after '"+string(sigil)+"'")
	}
	return p.src[start:p.pos], nil
}

// parseBraced reads "{text}" starting at the opening brace.
func (p *parser) parseBraced() (string, error) {
	open := p.pos
	p.pos++
	end := strings.IndexByte(p.src[p.pos:], '}')
	if end < 0 {
		return "", p.fail(open, "unterminated '{'")
	}
	text := p.src[p.pos : p.pos+end]
	p.pos += end + 1
	return text, nil
}

func (p *parser) parseQuoted() (string, error) {
	open := p.pos
	quote := p.peek()
	p.pos++
	var b strings.Builder
	for !p.eof() {
		c := p.peek()
		p.pos++
		switch {
		case c == '\\' && !p.eof():
			b.WriteByte(p.peek())
			p.pos++
		case c == quote:
			return b.String(), nil
		default:
			b.WriteByte(c)
		}
	}
	return "", p.fail(open, "unterminated quote")
}

func (p *parser) parseAttribute() (Atom, error) {
	open := p.pos
	p.pos++ // '['

	opAt := strings.IndexAny(p.src[p.pos:], "=~]")
	if opAt < 0 {
		return Atom{}, p.fail(open, "unterminated '['")
	}
	opAt += p.pos
	if p.src[opAt] == ']' {
		return Atom{}, p.fail(opAt, "missing operator in attribute predicate")
	}

	rawPath := strings.TrimSpace(p.src[p.pos:opAt])
	if rawPath == "" {
		return Atom{}, p.fail(p.pos, "missing attribute path")
	}
	op := OpEq
	if p.src[opAt] == '~' {
		op = OpMatch
	}
	p.pos = opAt + 1
	p.skipSpace()

	valueAt := p.pos
	var value string
	var literal bool
	var err error
	switch {
	case p.eof():
		return Atom{}, p.fail(open, "unterminated '['")
	case p.peek() == '{':
		value, err = p.parseBraced()
	case p.peek() == '"' || p.peek() == '\'':
		value, err = p.parseQuoted()
	case op == OpMatch && p.peek() == '/':
		value, err = p.parseRegexLiteral()
		literal = true
	default:
		end := strings.IndexByte(p.src[p.pos:], ']')
		if end < 0 {
			return Atom{}, p.fail(open, "unterminated '['")
		}
		value = strings.TrimSpace(p.src[p.pos : p.pos+end])
		p.pos += end
	}
	if err != nil {
		return Atom{}, err
	}

	p.skipSpace()
	if p.eof() || p.peek() != ']' {
		return Atom{}, p.fail(open, "unterminated '['")
	}
	p.pos++

	if rawPath == "nth" {
		if op != OpEq {
			return Atom{}, p.fail(opAt, "nth requires '='")
		}
		n, convErr := strconv.Atoi(value)
		if convErr != nil || n < 0 {
			return Atom{}, p.fail(valueAt, "nth must be a non-negative integer")
		}
		return Atom{Kind: AtomNth, N: n}, nil
	}

	a := Atom{Kind: AtomAttribute, Path: ParsePath(rawPath), Op: op, Text: value, Literal: literal}
	if op == OpMatch {
		re, reErr := compileRegex(value, a.Literal)
		if reErr != nil {
			return Atom{}, p.fail(valueAt, "invalid regular expression: "+reErr.Error())
		}
		a.re = re
	} else if f, convErr := strconv.ParseFloat(value, 64); convErr == nil {
		a.num, a.isNum = f, true
	}
	return a, nil
}

// parseRegexLiteral reads "/pattern/flags" and returns it verbatim.
func (p *parser) parseRegexLiteral() (string, error) {
	open := p.pos
	p.pos++
	for !p.eof() {
		c := p.peek()
		p.pos++
		if c == '\\' && !p.eof() {
			p.pos++
			continue
		}
		if c == '/' {
			for !p.eof() && isFlag(p.peek()) {
				p.pos++
			}
			return p.src[open:p.pos], nil
		}
	}
	return "", p.fail(open, "unterminated regular expression")
}

func isFlag(c byte) bool {
	return c >= 'a' && c <= 'z'
}

// compileRegex compiles value with ECMAScript semantics. When literal is set,
// value is a "/pattern/flags" literal; otherwise it is the bare pattern.
func compileRegex(value string, literal bool) (*regexp2.Regexp, error) {
	pattern := value
	opts := regexp2.RegexOptions(regexp2.ECMAScript)
	if literal {
		if end := strings.LastIndexByte(value, '/'); end > 0 {
			pattern = value[1:end]
			for _, f := range value[end+1:] {
				switch f {
				case 'i':
					opts |= regexp2.IgnoreCase
				case 'm':
					opts |= regexp2.Multiline
				case 'g', 'u':
					// no effect on a single test
				default:
					return nil, &flagError{flag: f}
				}
			}
		}
	}
	re, err := regexp2.Compile(pattern, opts)
	if err != nil {
		return nil, err
	}
	re.MatchTimeout = regexTimeout
	return re, nil
}

type flagError struct {
	flag rune
}

func (e *flagError) Error() string {
	return "unsupported flag " + strconv.QuoteRune(e.flag)
}
