package marker

// literal.go parses separator payloads written as Python literals, e.g.
//
//	{'item_id': 'A-1042', 'modifiers': {'lighting': 'dim', 'angle': 30}}
//
// Only literal syntax is accepted: dicts, lists, tuples, sets, strings,
// numbers, True/False/None. JSON spellings (true/false/null, double-quoted
// strings) are accepted as well. Nothing is ever evaluated.

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Value is a parsed literal: nil, bool, int64, *big.Int, float64, string,
// List, Tuple, Set or Dict.
type Value any

type (
	List  []Value
	Tuple []Value
	Set   []Value
	// Dict keeps insertion order so rendering matches the payload.
	Dict []Item
)

// Item is one key/value pair of a Dict.
type Item struct {
	Key   Value
	Value Value
}

// Get returns the value stored under a string key.
func (d Dict) Get(key string) (Value, bool) {
	for _, it := range d {
		if k, ok := it.Key.(string); ok && k == key {
			return it.Value, true
		}
	}
	return nil, false
}

var errTrailing = errors.New("unexpected trailing input")

// ParseLiteral parses one literal value. The whole input must be consumed.
func ParseLiteral(src string) (Value, error) {
	p := &literalParser{src: src}
	p.skipSpace()
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if !p.eof() {
		return nil, fmt.Errorf("%w at offset %d", errTrailing, p.pos)
	}
	return v, nil
}

type literalParser struct {
	src string
	pos int
}

func (p *literalParser) eof() bool { return p.pos >= len(p.src) }

func (p *literalParser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *literalParser) skipSpace() {
	for !p.eof() {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *literalParser) errorf(format string, args ...any) error {
	return fmt.Errorf("offset %d: %s", p.pos, fmt.Sprintf(format, args...))
}

func (p *literalParser) value() (Value, error) {
	if p.eof() {
		return nil, p.errorf("unexpected end of input")
	}
	c := p.peek()
	switch {
	case c == '{':
		return p.braced()
	case c == '[':
		p.pos++
		items, err := p.sequence(']')
		if err != nil {
			return nil, err
		}
		return List(items), nil
	case c == '(':
		return p.parenthesized()
	case c == '\'' || c == '"':
		return p.str(false)
	case c == '-' || c == '+':
		p.pos++
		p.skipSpace()
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		return negateIf(c == '-', v, p)
	case c == '.' || (c >= '0' && c <= '9'):
		return p.number()
	case isIdentStart(c):
		return p.identifier()
	}
	return nil, p.errorf("unexpected character %q", c)
}

func negateIf(neg bool, v Value, p *literalParser) (Value, error) {
	switch n := v.(type) {
	case int64:
		if neg {
			if n == math.MinInt64 {
				return new(big.Int).Neg(big.NewInt(n)), nil
			}
			return -n, nil
		}
		return n, nil
	case *big.Int:
		if neg {
			return new(big.Int).Neg(n), nil
		}
		return n, nil
	case float64:
		if neg {
			return -n, nil
		}
		return n, nil
	}
	return nil, p.errorf("unary sign applied to non-number")
}

// braced parses a dict or a set; "{}" is an empty dict.
func (p *literalParser) braced() (Value, error) {
	p.pos++ // '{'
	p.skipSpace()
	if p.peek() == '}' {
		p.pos++
		return Dict{}, nil
	}
	first, err := p.value()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.peek() != ':' {
		rest, err := p.sequenceAfter(first, '}')
		if err != nil {
			return nil, err
		}
		return Set(rest), nil
	}

	var dict Dict
	key := first
	for {
		if !hashable(key) {
			return nil, p.errorf("unhashable dict key")
		}
		p.skipSpace()
		if p.peek() != ':' {
			return nil, p.errorf("expected ':' in dict")
		}
		p.pos++
		p.skipSpace()
		val, err := p.value()
		if err != nil {
			return nil, err
		}
		dict = setItem(dict, key, val)

		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
			p.skipSpace()
			if p.peek() == '}' {
				p.pos++
				return dict, nil
			}
			key, err = p.value()
			if err != nil {
				return nil, err
			}
		case '}':
			p.pos++
			return dict, nil
		default:
			return nil, p.errorf("expected ',' or '}' in dict")
		}
	}
}

// setItem mirrors dict literal semantics: a repeated key keeps its first
// position and takes the last value.
func setItem(d Dict, key, val Value) Dict {
	for i := range d {
		if Repr(d[i].Key) == Repr(key) {
			d[i].Value = val
			return d
		}
	}
	return append(d, Item{Key: key, Value: val})
}

func hashable(v Value) bool {
	switch t := v.(type) {
	case List, Dict, Set:
		return false
	case Tuple:
		for _, e := range t {
			if !hashable(e) {
				return false
			}
		}
	}
	return true
}

func (p *literalParser) parenthesized() (Value, error) {
	p.pos++ // '('
	p.skipSpace()
	if p.peek() == ')' {
		p.pos++
		return Tuple{}, nil
	}
	first, err := p.value()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.peek() == ')' {
		// (x) is just x; a tuple needs a comma.
		p.pos++
		return first, nil
	}
	items, err := p.sequenceAfter(first, ')')
	if err != nil {
		return nil, err
	}
	return Tuple(items), nil
}

func (p *literalParser) sequence(closer byte) ([]Value, error) {
	p.skipSpace()
	if p.peek() == closer {
		p.pos++
		return []Value{}, nil
	}
	first, err := p.value()
	if err != nil {
		return nil, err
	}
	return p.sequenceAfter(first, closer)
}

func (p *literalParser) sequenceAfter(first Value, closer byte) ([]Value, error) {
	items := []Value{first}
	for {
		p.skipSpace()
		switch p.peek() {
		case closer:
			p.pos++
			return items, nil
		case ',':
			p.pos++
			p.skipSpace()
			if p.peek() == closer {
				p.pos++
				return items, nil
			}
			v, err := p.value()
			if err != nil {
				return nil, err
			}
			items = append(items, v)
		default:
			return nil, p.errorf("expected ',' or %q", closer)
		}
	}
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func (p *literalParser) identifier() (Value, error) {
	start := p.pos
	for !p.eof() && (isIdentStart(p.peek()) || (p.peek() >= '0' && p.peek() <= '9')) {
		p.pos++
	}
	word := p.src[start:p.pos]

	// String prefixes: u'..' and r'..'. Bytes literals are not supported.
	if c := p.peek(); c == '\'' || c == '"' {
		switch strings.ToLower(word) {
		case "u":
			return p.str(false)
		case "r":
			return p.str(true)
		}
		return nil, p.errorf("unsupported string prefix %q", word)
	}

	switch word {
	case "True", "true":
		return true, nil
	case "False", "false":
		return false, nil
	case "None", "null":
		return nil, nil
	}
	return nil, p.errorf("unsupported name %q", word)
}

func (p *literalParser) number() (Value, error) {
	start := p.pos
	for !p.eof() {
		c := p.peek()
		isDigitish := (c >= '0' && c <= '9') || c == '.' || c == '_' ||
			(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		isExpSign := (c == '+' || c == '-') && p.pos > start &&
			(p.src[p.pos-1] == 'e' || p.src[p.pos-1] == 'E') &&
			!strings.HasPrefix(strings.ToLower(p.src[start:p.pos]), "0x")
		if !isDigitish && !isExpSign {
			break
		}
		p.pos++
	}
	tok := strings.ReplaceAll(p.src[start:p.pos], "_", "")
	lower := strings.ToLower(tok)

	isHex := strings.HasPrefix(lower, "0x")
	if !isHex && strings.ContainsAny(lower, ".e") {
		f, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, p.errorf("invalid float %q", tok)
		}
		return f, nil
	}

	if n, err := strconv.ParseInt(tok, 0, 64); err == nil {
		return n, nil
	}
	b, ok := new(big.Int).SetString(tok, 0)
	if !ok {
		return nil, p.errorf("invalid integer %q", tok)
	}
	return b, nil
}

func (p *literalParser) str(raw bool) (Value, error) {
	quote := p.peek()
	p.pos++
	var sb strings.Builder
	for {
		if p.eof() {
			return nil, p.errorf("unterminated string")
		}
		c := p.peek()
		switch {
		case c == quote:
			p.pos++
			return sb.String(), nil
		case c == '\n':
			return nil, p.errorf("newline in string")
		case c == '\\' && raw:
			sb.WriteByte(c)
			p.pos++
			if !p.eof() {
				sb.WriteByte(p.peek())
				p.pos++
			}
		case c == '\\':
			p.pos++
			if err := p.escape(&sb); err != nil {
				return nil, err
			}
		default:
			sb.WriteByte(c)
			p.pos++
		}
	}
}

func (p *literalParser) escape(sb *strings.Builder) error {
	if p.eof() {
		return p.errorf("unterminated escape")
	}
	c := p.peek()
	p.pos++
	switch c {
	case '\n':
	case '\\', '\'', '"':
		sb.WriteByte(c)
	case 'n':
		sb.WriteByte('\n')
	case 't':
		sb.WriteByte('\t')
	case 'r':
		sb.WriteByte('\r')
	case 'a':
		sb.WriteByte('\a')
	case 'b':
		sb.WriteByte('\b')
	case 'f':
		sb.WriteByte('\f')
	case 'v':
		sb.WriteByte('\v')
	case 'x':
		return p.hexEscape(sb, 2)
	case 'u':
		return p.hexEscape(sb, 4)
	case 'U':
		return p.hexEscape(sb, 8)
	case '0', '1', '2', '3', '4', '5', '6', '7':
		n := int(c - '0')
		for i := 0; i < 2 && !p.eof() && p.peek() >= '0' && p.peek() <= '7'; i++ {
			n = n*8 + int(p.peek()-'0')
			p.pos++
		}
		sb.WriteRune(rune(n))
	default:
		sb.WriteByte('\\')
		sb.WriteByte(c)
	}
	return nil
}

func (p *literalParser) hexEscape(sb *strings.Builder, digits int) error {
	if p.pos+digits > len(p.src) {
		return p.errorf("truncated \\x escape")
	}
	n, err := strconv.ParseUint(p.src[p.pos:p.pos+digits], 16, 32)
	if err != nil || n > unicode.MaxRune {
		return p.errorf("invalid escape %q", p.src[p.pos:p.pos+digits])
	}
	p.pos += digits
	sb.WriteRune(rune(n))
	return nil
}

// Str renders a value the way Python's str() does: strings as-is, every
// other value in repr form.
func Str(v Value) string {
	if s, ok := v.(string); ok {
		return s
	}
	return Repr(v)
}

// Repr renders a value the way Python's repr() does.
func Repr(v Value) string {
	var sb strings.Builder
	writeRepr(&sb, v)
	return sb.String()
}

func writeRepr(sb *strings.Builder, v Value) {
	switch t := v.(type) {
	case nil:
		sb.WriteString("None")
	case bool:
		if t {
			sb.WriteString("True")
		} else {
			sb.WriteString("False")
		}
	case int64:
		sb.WriteString(strconv.FormatInt(t, 10))
	case *big.Int:
		sb.WriteString(t.String())
	case float64:
		sb.WriteString(reprFloat(t))
	case string:
		sb.WriteString(reprString(t))
	case List:
		writeSeq(sb, "[", "]", t)
	case Tuple:
		if len(t) == 1 {
			sb.WriteByte('(')
			writeRepr(sb, t[0])
			sb.WriteString(",)")
			return
		}
		writeSeq(sb, "(", ")", t)
	case Set:
		if len(t) == 0 {
			sb.WriteString("set()")
			return
		}
		writeSeq(sb, "{", "}", t)
	case Dict:
		sb.WriteByte('{')
		for i, it := range t {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeRepr(sb, it.Key)
			sb.WriteString(": ")
			writeRepr(sb, it.Value)
		}
		sb.WriteByte('}')
	default:
		fmt.Fprintf(sb, "%v", t)
	}
}

func writeSeq(sb *strings.Builder, open, close string, items []Value) {
	sb.WriteString(open)
	for i, it := range items {
		if i > 0 {
			sb.WriteString(", ")
		}
		writeRepr(sb, it)
	}
	sb.WriteString(close)
}

// reprFloat follows Python's float repr: shortest round-trip digits, fixed
// notation for exponents in [-4, 16), scientific otherwise.
func reprFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	sci := strconv.FormatFloat(f, 'e', -1, 64)
	exp, _ := strconv.Atoi(sci[strings.IndexByte(sci, 'e')+1:])
	if exp >= -4 && exp < 16 {
		s := strconv.FormatFloat(f, 'f', -1, 64)
		if !strings.ContainsRune(s, '.') {
			s += ".0"
		}
		return s
	}
	return sci
}

func reprString(s string) string {
	quote := byte('\'')
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		quote = '"'
	}
	var sb strings.Builder
	sb.WriteByte(quote)
	for _, r := range s {
		switch {
		case r == rune(quote) || r == '\\':
			sb.WriteByte('\\')
			sb.WriteRune(r)
		case r == '\n':
			sb.WriteString(`\n`)
		case r == '\r':
			sb.WriteString(`\r`)
		case r == '\t':
			sb.WriteString(`\t`)
		case r == utf8.RuneError:
			sb.WriteString(`�`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&sb, `\x%02x`, r)
		case !unicode.IsPrint(r):
			switch {
			case r <= 0xff:
				fmt.Fprintf(&sb, `\x%02x`, r)
			case r <= 0xffff:
				fmt.Fprintf(&sb, `\u%04x`, r)
			default:
				fmt.Fprintf(&sb, `\U%08x`, r)
			}
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte(quote)
	return sb.String()
}
