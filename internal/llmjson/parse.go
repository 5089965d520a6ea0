package llmjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Stage names the recovery step that produced a value.
type Stage string

const (
	StageStrict   Stage = "strict"
	StageRepaired Stage = "repaired"
	StageLiteral  Stage = "literal"
	StageEmpty    Stage = "empty"
)

var errNotContainer = errors.New("top-level value is not an object or array")

// Parse runs the recovery chain over raw model output and returns an *Object
// or []any together with the stage that produced it. When nothing parses it
// returns an empty *Object and StageEmpty. Parse never panics.
func Parse(raw string) (any, Stage) {
	blob := NormalizeQuotes(ExtractBlob(raw))
	if strings.TrimSpace(blob) == "" {
		return NewObject(), StageEmpty
	}
	if v, err := ParseStrict(blob); err == nil {
		return v, StageStrict
	}
	repaired := Repair(blob)
	if v, err := ParseStrict(repaired); err == nil {
		return v, StageRepaired
	}
	if v, err := ParseLiteral(repaired); err == nil {
		return v, StageLiteral
	}
	if repaired != blob {
		if v, err := ParseLiteral(blob); err == nil {
			return v, StageLiteral
		}
	}
	return NewObject(), StageEmpty
}

// ParseStrict decodes standard JSON, keeping object key order and numbers as
// json.Number. Only objects and arrays are accepted at the top level.
func ParseStrict(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		if err == nil {
			return nil, errors.New("trailing data after top-level value")
		}
		return nil, err
	}
	switch v.(type) {
	case *Object, []any:
		return v, nil
	default:
		return nil, errNotContainer
	}
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch delim {
	case '{':
		obj := NewObject()
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := keyTok.(string)
			if !ok {
				return nil, fmt.Errorf("object key is %T", keyTok)
			}
			val, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			obj.Set(key, val)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return obj, nil
	case '[':
		arr := []any{}
		for dec.More() {
			val, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, val)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("unexpected delimiter %q", delim)
	}
}
