package contractreview

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/joelkehle/contract-review/internal/llmjson"
)

// field returns the first value under keys that is present and not empty.
func field(o *llmjson.Object, keys ...string) any {
	for _, k := range keys {
		if v, ok := o.Get(k); ok && !isEmpty(v) {
			return v
		}
	}
	return nil
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case *llmjson.Object:
		return t.Len() == 0
	default:
		return false
	}
}

func asObject(v any) *llmjson.Object {
	if o, ok := v.(*llmjson.Object); ok {
		return o
	}
	return llmjson.NewObject()
}

// coerceString renders any parsed value as trimmed text. Objects become
// "key: value" pairs and lists are comma-joined.
func coerceString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return cleanString(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case *llmjson.Object:
		return joinObject(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := coerceString(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return ""
	}
}

func cleanString(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	return strings.TrimSpace(s)
}

func joinObject(o *llmjson.Object) string {
	parts := make([]string, 0, o.Len())
	for _, k := range o.Keys() {
		v, _ := o.Get(k)
		if s := coerceString(v); s != "" {
			parts = append(parts, k+": "+s)
		}
	}
	return strings.Join(parts, ", ")
}

// stringList normalizes a list-of-strings field. A bare string becomes a
// one-item list, mapping items are flattened to "key: value" text, and blank
// items are dropped.
func stringList(v any) []string {
	var items []any
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		items = t
	default:
		items = []any{t}
	}
	var out []string
	for _, item := range items {
		if s := coerceString(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// recordList normalizes a list of sub-records. Mapping items go through
// fromObject, anything else is rendered as text and goes through fromText.
func recordList[T any](v any, fromObject func(*llmjson.Object) (T, bool), fromText func(string) (T, bool)) []T {
	var items []any
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		items = t
	default:
		items = []any{t}
	}
	var out []T
	for _, item := range items {
		var (
			rec  T
			keep bool
		)
		if o, ok := item.(*llmjson.Object); ok {
			rec, keep = fromObject(o)
		} else {
			rec, keep = fromText(coerceString(item))
		}
		if keep {
			out = append(out, rec)
		}
	}
	return out
}
