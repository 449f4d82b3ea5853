package protocol

import (
	"encoding/json"
	"strings"
)

// Kind is the JSON shape of a decoded value. Int and Float are told apart by
// the literal: anything with a fraction or exponent is a Float.
type Kind string

const (
	KindNull   Kind = "null"
	KindBool   Kind = "bool"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindString Kind = "string"
	KindArray  Kind = "array"
	KindObject Kind = "object"
)

// Number covers both numeric kinds.
var Number = []Kind{KindInt, KindFloat}

// KindOf classifies a value produced by DecodeAny. Plain float64 values
// (from a decoder without UseNumber) are reported as Float.
func KindOf(v any) Kind {
	switch x := v.(type) {
	case nil:
		return KindNull
	case bool:
		return KindBool
	case json.Number:
		if strings.ContainsAny(x.String(), ".eE") {
			return KindFloat
		}
		return KindInt
	case float64, float32:
		return KindFloat
	case int, int64, int32:
		return KindInt
	case string:
		return KindString
	case []any:
		return KindArray
	case map[string]any:
		return KindObject
	}
	return Kind("unknown")
}

// KindIn reports whether v has one of the accepted kinds.
func KindIn(v any, accepted ...Kind) bool {
	k := KindOf(v)
	for _, a := range accepted {
		if k == a {
			return true
		}
	}
	return false
}

// NumberValue returns the float64 value of a numeric kind.
func NumberValue(v any) (float64, bool) {
	switch x := v.(type) {
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}
