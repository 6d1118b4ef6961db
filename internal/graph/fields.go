package graph

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Backends hand numbers back as int64, float64 or json.Number depending on
// their codec; the accessors below normalize that.

func (f Fields) String(key string) string {
	switch v := f[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func (f Fields) Int(key string) int {
	n, _ := toInt(f[key])
	return n
}

func (f Fields) Bool(key string) bool {
	switch v := f[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

func (f Fields) Strings(key string) []string {
	switch v := f[key].(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if strings.TrimSpace(v) == "" {
			return nil
		}
		var decoded []string
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			return decoded
		}
		return []string{v}
	default:
		return nil
	}
}

// Clone returns a shallow copy; nil stays nil.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

func (e Entity) String(key string) string    { return e.Fields.String(key) }
func (e Entity) Int(key string) int          { return e.Fields.Int(key) }
func (e Entity) Bool(key string) bool        { return e.Fields.Bool(key) }
func (e Entity) Strings(key string) []string { return e.Fields.Strings(key) }

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int8:
		return int(v), true
	case int16:
		return int(v), true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint:
		return int(v), true
	case uint8:
		return int(v), true
	case uint16:
		return int(v), true
	case uint32:
		return int(v), true
	case uint64:
		return int(v), true
	case float32:
		return int(math.Round(float64(v))), true
	case float64:
		return int(math.Round(v)), true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n), true
		}
		if f, err := v.Float64(); err == nil {
			return int(math.Round(f)), true
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n, true
		}
	}
	return 0, false
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		return 0, false
	}
	if n, ok := toInt(value); ok {
		return float64(n), true
	}
	return 0, false
}

// CanonicalJSON renders a payload so that equal JSON documents compare equal
// byte-for-byte regardless of how the backend decoded them.
func CanonicalJSON(value any) []byte {
	if raw, ok := value.(json.RawMessage); ok {
		value = []byte(raw)
	}
	if raw, ok := value.([]byte); ok {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return raw
		}
		value = decoded
	}
	first, err := json.Marshal(value)
	if err != nil {
		return []byte(fmt.Sprint(value))
	}
	var decoded any
	if err := json.Unmarshal(first, &decoded); err != nil {
		return first
	}
	out, err := json.Marshal(decoded)
	if err != nil {
		return first
	}
	return out
}

// ValuesEqual compares two field values the way a store compares them in a
// where clause: numbers by value, everything else by canonical JSON.
func ValuesEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		return ok && as == bs
	}
	return string(CanonicalJSON(a)) == string(CanonicalJSON(b))
}
