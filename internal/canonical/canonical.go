// Package canonical implements the daemon's deterministic serialization
// of JSON-like values: object keys are sorted lexicographically at every
// nesting level, array order is preserved, and byte slices are treated
// as opaque leaves rather than base64-re-encoded twice. This is the
// pre-image used both for Ed25519 signing (internal/signature) and for
// any content hash computed over structured data (e.g. FileManifest).
package canonical

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Marshal produces the canonical byte serialization of v. v must be a
// JSON-like value: nil, bool, string, a numeric type, []byte, a slice of
// such values, a map[string]any, or a struct (round-tripped through
// encoding/json to obtain its field representation first).
func Marshal(v any) ([]byte, error) {
	norm, err := normalize(v)
	if err != nil {
		return nil, err
	}
	var buf []byte
	buf, err = encode(buf, norm)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// normalize converts v into a tree of map[string]any / []any / scalar /
// []byte nodes that encode can walk without reflection surprises. Structs
// and non-string-keyed maps are routed through encoding/json first so
// that field tags (json:"...") are honored exactly like the rest of the
// daemon's wire format.
func normalize(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, string, []byte:
		return x, nil
	case float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return x, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			n, err := normalize(val)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			n, err := normalize(val)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("canonical: marshal %T: %w", v, err)
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return nil, fmt.Errorf("canonical: normalize %T: %w", v, err)
		}
		return normalize(generic)
	}
}

func encode(buf []byte, v any) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return append(buf, "null"...), nil
	case bool:
		if x {
			return append(buf, "true"...), nil
		}
		return append(buf, "false"...), nil
	case string:
		return appendJSONString(buf, x), nil
	case []byte:
		// Opaque leaf: encoded as a JSON string of its hex form so the
		// output stays valid JSON while treating the bytes as atomic.
		return appendJSONString(buf, fmt.Sprintf("%x", x)), nil
	case float64:
		return appendNumber(buf, x)
	case float32:
		return appendNumber(buf, float64(x))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Appendf(buf, "%d", x), nil
	case map[string]any:
		return encodeObject(buf, x)
	case []any:
		return encodeArray(buf, x)
	default:
		return nil, fmt.Errorf("canonical: unsupported normalized type %T", v)
	}
}

func appendNumber(buf []byte, f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("canonical: non-finite number %v", f)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.AppendInt(buf, int64(f), 10), nil
	}
	return strconv.AppendFloat(buf, f, 'g', -1, 64), nil
}

func encodeObject(buf []byte, m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf = append(buf, '{')
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = appendJSONString(buf, k)
		buf = append(buf, ':')
		var err error
		buf, err = encode(buf, m[k])
		if err != nil {
			return nil, err
		}
	}
	buf = append(buf, '}')
	return buf, nil
}

func encodeArray(buf []byte, a []any) ([]byte, error) {
	buf = append(buf, '[')
	for i, v := range a {
		if i > 0 {
			buf = append(buf, ',')
		}
		var err error
		buf, err = encode(buf, v)
		if err != nil {
			return nil, err
		}
	}
	buf = append(buf, ']')
	return buf, nil
}

func appendJSONString(buf []byte, s string) []byte {
	quoted, _ := json.Marshal(s)
	return append(buf, quoted...)
}
