package llmjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxLiteralDepth = 256

// ParseLiteral is the permissive fallback for payloads that are not JSON:
// single-quoted strings, bare words, True/False/None, tuples and trailing
// commas. Like ParseStrict it only accepts an object or an array at the top
// level, and the whole input must be consumed.
func ParseLiteral(s string) (any, error) {
	p := &literalParser{src: s}
	v, err := p.value(0)
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return nil, fmt.Errorf("literal: unexpected %q at offset %d", p.src[p.pos], p.pos)
	}
	switch v.(type) {
	case *Object, []any:
		return v, nil
	default:
		return nil, errNotContainer
	}
}

type literalParser struct {
	src string
	pos int
}

func (p *literalParser) skipSpace() {
	for p.pos < len(p.src) {
		r, size := utf8.DecodeRuneInString(p.src[p.pos:])
		if !unicode.IsSpace(r) {
			return
		}
		p.pos += size
	}
}

func (p *literalParser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *literalParser) value(depth int) (any, error) {
	if depth > maxLiteralDepth {
		return nil, errors.New("literal: nesting too deep")
	}
	p.skipSpace()
	switch c := p.peek(); c {
	case 0:
		return nil, errors.New("literal: unexpected end of input")
	case '{':
		return p.object(depth)
	case '[':
		return p.sequence(depth, ']')
	case '(':
		return p.sequence(depth, ')')
	case '"', '\'':
		return p.quoted(c)
	default:
		return p.bare()
	}
}

func (p *literalParser) object(depth int) (any, error) {
	p.pos++ // {
	obj := NewObject()
	for {
		p.skipSpace()
		if p.peek() == '}' {
			p.pos++
			return obj, nil
		}
		key, err := p.value(depth + 1)
		if err != nil {
			return nil, err
		}
		keyText, err := literalKey(key)
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.peek() != ':' {
			return nil, fmt.Errorf("literal: expected ':' at offset %d", p.pos)
		}
		p.pos++
		val, err := p.value(depth + 1)
		if err != nil {
			return nil, err
		}
		obj.Set(keyText, val)
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case '}':
		default:
			return nil, fmt.Errorf("literal: expected ',' or '}' at offset %d", p.pos)
		}
	}
}

func (p *literalParser) sequence(depth int, closer byte) (any, error) {
	p.pos++ // [ or (
	arr := []any{}
	for {
		p.skipSpace()
		if p.peek() == closer {
			p.pos++
			return arr, nil
		}
		val, err := p.value(depth + 1)
		if err != nil {
			return nil, err
		}
		arr = append(arr, val)
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case closer:
		default:
			return nil, fmt.Errorf("literal: expected ',' or %q at offset %d", closer, p.pos)
		}
	}
}

func (p *literalParser) quoted(q byte) (any, error) {
	p.pos++
	var b strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == q:
			p.pos++
			return b.String(), nil
		case c == '\\':
			if p.pos+1 >= len(p.src) {
				return nil, errors.New("literal: dangling escape")
			}
			p.pos++
			if err := p.escape(&b); err != nil {
				return nil, err
			}
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return nil, errors.New("literal: unterminated string")
}

func (p *literalParser) escape(b *strings.Builder) error {
	c := p.src[p.pos]
	p.pos++
	switch c {
	case 'n':
		b.WriteByte('\n')
	case 't':
		b.WriteByte('\t')
	case 'r':
		b.WriteByte('\r')
	case 'b':
		b.WriteByte('\b')
	case 'f':
		b.WriteByte('\f')
	case 'u':
		if p.pos+4 > len(p.src) {
			return errors.New("literal: short unicode escape")
		}
		n, err := strconv.ParseUint(p.src[p.pos:p.pos+4], 16, 32)
		if err != nil {
			return fmt.Errorf("literal: bad unicode escape: %w", err)
		}
		p.pos += 4
		b.WriteRune(rune(n))
	default:
		b.WriteByte(c)
	}
	return nil
}

// bare reads an unquoted token up to the next structural character or line break.
func (p *literalParser) bare() (any, error) {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == ',' || c == ':' || c == '}' || c == ']' || c == ')' || c == '\n' || c == '{' || c == '[' {
			break
		}
		p.pos++
	}
	tok := strings.TrimSpace(p.src[start:p.pos])
	if tok == "" {
		return nil, fmt.Errorf("literal: unexpected %q at offset %d", p.peek(), p.pos)
	}
	switch tok {
	case "True", "true":
		return true, nil
	case "False", "false":
		return false, nil
	case "None", "null":
		return nil, nil
	}
	if json.Valid([]byte(tok)) {
		return json.Number(tok), nil
	}
	return tok, nil
}

func literalKey(v any) (string, error) {
	switch k := v.(type) {
	case string:
		return k, nil
	case json.Number:
		return k.String(), nil
	case bool:
		return strconv.FormatBool(k), nil
	case nil:
		return "null", nil
	default:
		return "", fmt.Errorf("literal: unhashable key %T", v)
	}
}
