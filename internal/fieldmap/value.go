package fieldmap

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind enumerates the closed set of value shapes a field can hold.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBool
	KindList
	KindMap
)

// Value is one field value: a string, number, bool, list, or nested map.
// Keeping the set closed lets merge and comparison logic be exhaustive.
type Value struct {
	Kind Kind
	Str  string
	Num  float64
	Flag bool
	List []Value
	Map  map[string]Value
}

func String(s string) Value  { return Value{Kind: KindString, Str: s} }
func Number(n float64) Value { return Value{Kind: KindNumber, Num: n} }
func Bool(b bool) Value      { return Value{Kind: KindBool, Flag: b} }

func List(items ...Value) Value { return Value{Kind: KindList, List: items} }

func MapOf(m map[string]Value) Value { return Value{Kind: KindMap, Map: m} }

// IsZero reports whether the value carries no usable content.
func (v Value) IsZero() bool {
	switch v.Kind {
	case KindString:
		return strings.TrimSpace(v.Str) == ""
	case KindList:
		return len(v.List) == 0
	case KindMap:
		return len(v.Map) == 0
	default:
		return false
	}
}

// Equal compares two values structurally. String comparison is
// case-sensitive; callers wanting case-insensitive matching normalize first.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.Str == o.Str
	case KindNumber:
		return v.Num == o.Num
	case KindBool:
		return v.Flag == o.Flag
	case KindList:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(o.List[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.Map) != len(o.Map) {
			return false
		}
		for k, vv := range v.Map {
			ov, ok := o.Map[k]
			if !ok || !vv.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// AsNumber returns the numeric content, accepting numeric strings.
func (v Value) AsNumber() (float64, bool) {
	switch v.Kind {
	case KindNumber:
		return v.Num, true
	case KindString:
		var n float64
		if _, err := fmt.Sscanf(strings.TrimSpace(v.Str), "%g", &n); err == nil {
			return n, true
		}
	}
	return 0, false
}

// Text renders the value for display and prompt building.
func (v Value) Text() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		if v.Num == float64(int64(v.Num)) {
			return fmt.Sprintf("%d", int64(v.Num))
		}
		return fmt.Sprintf("%g", v.Num)
	case KindBool:
		if v.Flag {
			return "yes"
		}
		return "no"
	case KindList:
		parts := make([]string, 0, len(v.List))
		for _, item := range v.List {
			parts = append(parts, item.Text())
		}
		return strings.Join(parts, ", ")
	case KindMap:
		b, _ := json.Marshal(v)
		return string(b)
	}
	return ""
}

// FromAny converts a decoded-JSON value into a Value. Unsupported shapes
// (nil, channels via interface, etc.) report false.
func FromAny(raw any) (Value, bool) {
	switch t := raw.(type) {
	case string:
		return String(t), true
	case float64:
		return Number(t), true
	case int:
		return Number(float64(t)), true
	case int64:
		return Number(float64(t)), true
	case bool:
		return Bool(t), true
	case []any:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			v, ok := FromAny(item)
			if !ok {
				return Value{}, false
			}
			items = append(items, v)
		}
		return Value{Kind: KindList, List: items}, true
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			v, ok := FromAny(item)
			if !ok {
				return Value{}, false
			}
			m[k] = v
		}
		return Value{Kind: KindMap, Map: m}, true
	}
	return Value{}, false
}

// MarshalJSON encodes the value as plain JSON of the underlying kind.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindString:
		return json.Marshal(v.Str)
	case KindNumber:
		return json.Marshal(v.Num)
	case KindBool:
		return json.Marshal(v.Flag)
	case KindList:
		items := v.List
		if items == nil {
			items = []Value{}
		}
		return json.Marshal(items)
	case KindMap:
		m := v.Map
		if m == nil {
			m = map[string]Value{}
		}
		return json.Marshal(m)
	}
	return []byte("null"), nil
}

// UnmarshalJSON decodes plain JSON into the matching kind.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*v = Value{Kind: KindString}
		return nil
	}
	parsed, ok := FromAny(raw)
	if !ok {
		return fmt.Errorf("unsupported value shape %T", raw)
	}
	*v = parsed
	return nil
}
