package llmjson

import (
	"strings"
)

const fence = "```"

var quoteReplacer = strings.NewReplacer(
	"\u201c", `"`,
	"\u201d", `"`,
	"\u201e", `"`,
	"\u201f", `"`,
	"\u2018", "'",
	"\u2019", "'",
)

// ExtractBlob isolates the structured payload inside model output. It takes
// the last fenced block when fences are present, then slices from the first
// '{' to the last '}'. Output truncated after an opening brace is sliced to
// the end so Repair can close it.
func ExtractBlob(raw string) string {
	candidate := strings.TrimSpace(raw)
	if block, ok := lastFencedBlock(candidate); ok {
		candidate = strings.TrimSpace(block)
	}
	start := strings.IndexByte(candidate, '{')
	if start < 0 {
		return candidate
	}
	end := strings.LastIndexByte(candidate, '}')
	if end < start {
		return candidate[start:]
	}
	return candidate[start : end+1]
}

// lastFencedBlock pairs fences in order of appearance and returns the body of
// the last complete pair, minus its language tag.
func lastFencedBlock(s string) (string, bool) {
	var (
		body  string
		found bool
	)
	rest := s
	for {
		open := strings.Index(rest, fence)
		if open < 0 {
			break
		}
		after := rest[open+len(fence):]
		closeAt := strings.Index(after, fence)
		if closeAt < 0 {
			break
		}
		body = stripFenceTag(after[:closeAt])
		found = true
		rest = after[closeAt+len(fence):]
	}
	return body, found
}

func stripFenceTag(s string) string {
	i := 0
	for i < len(s) {
		c := s[i]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-' {
			i++
			continue
		}
		break
	}
	return strings.TrimLeft(s[i:], " \t\r\n")
}

// NormalizeQuotes replaces typographic quotes with their ASCII forms.
func NormalizeQuotes(s string) string {
	return quoteReplacer.Replace(s)
}

// Repair fixes the damage models most often do to JSON: commas before a
// closing bracket, a dangling key separator, an unterminated string, and
// unclosed objects or arrays. Text inside quoted strings, single or double, is
// left alone.
func Repair(s string) string {
	var (
		out     strings.Builder
		stack   []byte
		quote   byte
		escaped bool
	)
	out.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			out.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if n := len(stack); n > 0 && stack[n-1] == opener(c) {
				stack = stack[:n-1]
			}
		case ',':
			if next := nextSignificant(s, i+1); next == 0 || next == '}' || next == ']' {
				continue
			}
		}
		out.WriteByte(c)
	}

	repaired := out.String()
	if quote != 0 {
		if escaped {
			repaired = repaired[:len(repaired)-1]
		}
		repaired += string(quote)
	} else {
		repaired = strings.TrimRight(repaired, " \t\r\n")
		if strings.HasSuffix(repaired, ":") {
			repaired += "null"
		}
	}
	if len(stack) == 0 {
		return repaired
	}
	var tail strings.Builder
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			tail.WriteByte('}')
		} else {
			tail.WriteByte(']')
		}
	}
	return repaired + tail.String()
}

func opener(closer byte) byte {
	if closer == '}' {
		return '{'
	}
	return '['
}

// nextSignificant returns the next non-whitespace byte at or after i, or 0 at end of input.
func nextSignificant(s string, i int) byte {
	for ; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			return s[i]
		}
	}
	return 0
}
