package module

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Type is the declared type of a variable. The set is closed: each member
// owns its handler in the handlers table below.
type Type uint8

const (
	// TypeInt holds an int.
	TypeInt Type = iota + 1
	// TypeString holds a string.
	TypeString
	// TypeBool holds a bool.
	TypeBool
	// TypeTable holds a JSON-shaped map[string]any or []any.
	TypeTable
	// TypeKey holds a KeyCode binding.
	TypeKey
)

// handler carries the per-type conversion functions.
type handler struct {
	name        string
	zero        func() any
	normalize   func(v any) (any, bool)
	serialize   func(v any) (string, error)
	deserialize func(s string) (any, error)
}

var handlers = map[Type]handler{
	TypeInt: {
		name:      "Int",
		zero:      func() any { return 0 },
		normalize: normalizeInt,
		serialize: func(v any) (string, error) {
			return strconv.Itoa(v.(int)), nil
		},
		deserialize: func(s string) (any, error) {
			return parseInt(s)
		},
	},
	TypeString: {
		name: "String",
		zero: func() any { return "" },
		normalize: func(v any) (any, bool) {
			s, ok := v.(string)
			if !ok || !utf8.ValidString(s) {
				return nil, false
			}
			return s, true
		},
		serialize: func(v any) (string, error) { return v.(string), nil },
		deserialize: func(s string) (any, error) {
			if !utf8.ValidString(s) {
				return nil, errors.New("invalid UTF-8 in string")
			}
			return s, nil
		},
	},
	TypeBool: {
		name: "Bool",
		zero: func() any { return false },
		normalize: func(v any) (any, bool) {
			b, ok := v.(bool)
			return b, ok
		},
		serialize: func(v any) (string, error) {
			return strconv.FormatBool(v.(bool)), nil
		},
		deserialize: parseBool,
	},
	TypeTable: {
		name:      "Table",
		zero:      func() any { return map[string]any{} },
		normalize: normalizeTable,
		serialize: func(v any) (string, error) {
			data, err := json.Marshal(v)
			if err != nil {
				return "", err
			}
			return string(data), nil
		},
		deserialize: func(s string) (any, error) {
			if !utf8.ValidString(s) {
				return nil, errors.New("invalid UTF-8 in table")
			}
			var v any
			if err := json.Unmarshal([]byte(s), &v); err != nil {
				return nil, err
			}
			switch v.(type) {
			case map[string]any, []any:
				return v, nil
			default:
				return nil, fmt.Errorf("table must be a JSON object or array, got %T", v)
			}
		},
	},
	TypeKey: {
		name:      "Key",
		zero:      func() any { return KeyNone },
		normalize: normalizeKey,
		serialize: func(v any) (string, error) {
			return strconv.Itoa(int(v.(KeyCode))), nil
		},
		deserialize: func(s string) (any, error) {
			n, err := parseInt(s)
			if err != nil {
				return nil, err
			}
			k, ok := normalizeKey(n)
			if !ok {
				return nil, fmt.Errorf("key code %d out of range", n)
			}
			return k, nil
		},
	},
}

// Types returns every type in declaration order.
func Types() []Type {
	return []Type{TypeInt, TypeString, TypeBool, TypeTable, TypeKey}
}

// ParseType resolves a type name such as "Int" or "bool".
func ParseType(name string) (Type, error) {
	for _, t := range Types() {
		if strings.EqualFold(handlers[t].name, strings.TrimSpace(name)) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown variable type %q", name)
}

// Valid reports whether t is a member of the closed set.
func (t Type) Valid() bool {
	_, ok := handlers[t]
	return ok
}

// String returns the type name.
func (t Type) String() string {
	if h, ok := handlers[t]; ok {
		return h.name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid type %d", t)
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Zero returns the type's zero value.
func (t Type) Zero() any {
	if h, ok := handlers[t]; ok {
		return h.zero()
	}
	return nil
}

// Normalize converts an accepted Go representation of v into the type's
// canonical form. ok is false when v is not a value of this type.
func (t Type) Normalize(v any) (any, bool) {
	h, ok := handlers[t]
	if !ok || v == nil {
		return nil, false
	}
	return h.normalize(v)
}

// Validate reports whether v is a value of this type.
func (t Type) Validate(v any) bool {
	_, ok := t.Normalize(v)
	return ok
}

// Serialize renders v as the string stored on disk and sent over the wire.
func (t Type) Serialize(v any) (string, error) {
	h, ok := handlers[t]
	if !ok {
		return "", fmt.Errorf("invalid type %d", t)
	}
	nv, ok := t.Normalize(v)
	if !ok {
		return "", fmt.Errorf("%w: %s cannot hold %T", ErrTypeMismatch, h.name, v)
	}
	return h.serialize(nv)
}

// Deserialize parses a serialized value back into its canonical form.
func (t Type) Deserialize(s string) (any, error) {
	h, ok := handlers[t]
	if !ok {
		return nil, fmt.Errorf("invalid type %d", t)
	}
	v, err := h.deserialize(s)
	if err != nil {
		return nil, fmt.Errorf("decoding %s value: %w", h.name, err)
	}
	return v, nil
}

func normalizeInt(v any) (any, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		if n < math.MinInt || n > math.MaxInt {
			return nil, false
		}
		return int(n), true
	case uint:
		if n > math.MaxInt {
			return nil, false
		}
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		if n > math.MaxInt {
			return nil, false
		}
		return int(n), true
	case float32:
		return normalizeInt(float64(n))
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) {
			return nil, false
		}
		if n < math.MinInt64 || n >= math.MaxInt64 {
			return nil, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return nil, false
		}
		return normalizeInt(i)
	default:
		return nil, false
	}
}

func parseInt(s string) (int, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	n, ok := normalizeInt(f)
	if !ok {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	return n.(int), nil
}

func parseBool(s string) (any, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	default:
		return nil, fmt.Errorf("invalid boolean %q", s)
	}
}

// normalizeTable accepts anything that encodes to a JSON object or array and
// returns it in decoded form, so a table always survives a serialize round
// trip unchanged (numbers become float64, structs become maps).
func normalizeTable(v any) (any, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return map[string]any{}, true
		}
	case reflect.Slice:
		if rv.IsNil() {
			return []any{}, true
		}
	case reflect.Array, reflect.Struct:
	default:
		return nil, false
	}
	// json.Marshal silently replaces invalid UTF-8, which would break the
	// round trip.
	if !validUTF8(rv) {
		return nil, false
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false
	}
	switch out.(type) {
	case map[string]any, []any:
		return out, true
	default:
		return nil, false
	}
}

// validUTF8 reports whether every string reachable from rv, map keys
// included, is valid UTF-8.
func validUTF8(rv reflect.Value) bool {
	switch rv.Kind() {
	case reflect.String:
		return utf8.ValidString(rv.String())
	case reflect.Interface, reflect.Pointer:
		return rv.IsNil() || validUTF8(rv.Elem())
	case reflect.Map:
		iter := rv.MapRange()
		for iter.Next() {
			if !validUTF8(iter.Key()) || !validUTF8(iter.Value()) {
				return false
			}
		}
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			// Byte slices encode as base64.
			return true
		}
		for i := 0; i < rv.Len(); i++ {
			if !validUTF8(rv.Index(i)) {
				return false
			}
		}
	case reflect.Struct:
		for i := 0; i < rv.NumField(); i++ {
			if rv.Type().Field(i).IsExported() && !validUTF8(rv.Field(i)) {
				return false
			}
		}
	}
	return true
}

// deepCopy copies a canonical table value so callers cannot mutate shared state.
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}

// valuesEqual compares two canonical values.
func valuesEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
