package memory

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// ValueKind discriminates the closed set of value shapes that can
// appear in contexts, conditions, and recommendations.
type ValueKind int

const (
	// KindNumber is a float64 value.
	KindNumber ValueKind = iota

	// KindString is a categorical string value.
	KindString

	// KindBool is a boolean flag.
	KindBool

	// KindList is an ordered sequence of values.
	KindList

	// KindMap is a nested mapping.
	KindMap

	// KindRange is a {min,max} numeric interval produced when numeric
	// values disagree beyond tolerance during condition extraction.
	KindRange
)

// Value is a tagged union over the shapes allowed in context,
// condition, and recommendation mappings. Modelling these as a closed
// union lets merge and compare logic switch exhaustively instead of
// relying on runtime type inspection.
type Value struct {
	Kind ValueKind

	Num  float64
	Str  string
	Bool bool
	List []Value
	Map  Mapping

	// Min/Max are set only for KindRange.
	Min float64
	Max float64
}

// Mapping is a string-keyed collection of Values, used for contexts,
// conditions, and recommendations.
type Mapping map[string]Value

// Number constructs a numeric value.
func Number(n float64) Value { return Value{Kind: KindNumber, Num: n} }

// String constructs a categorical value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Bool constructs a boolean value.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// List constructs a sequence value.
func List(items ...Value) Value { return Value{Kind: KindList, List: items} }

// Nested constructs a nested-mapping value.
func Nested(m Mapping) Value { return Value{Kind: KindMap, Map: m} }

// Range constructs a {min,max} interval value.
func Range(min, max float64) Value {
	if min > max {
		min, max = max, min
	}
	return Value{Kind: KindRange, Min: min, Max: max}
}

// IsNumeric reports whether the value carries a number (point or range).
func (v Value) IsNumeric() bool {
	return v.Kind == KindNumber || v.Kind == KindRange
}

// Midpoint returns the representative number for a numeric value:
// the number itself, or the centre of a range.
func (v Value) Midpoint() float64 {
	switch v.Kind {
	case KindNumber:
		return v.Num
	case KindRange:
		return (v.Min + v.Max) / 2
	default:
		return 0
	}
}

// Equal reports deep equality between two values.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNumber:
		return v.Num == o.Num
	case KindString:
		return v.Str == o.Str
	case KindBool:
		return v.Bool == o.Bool
	case KindRange:
		return v.Min == o.Min && v.Max == o.Max
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
		return v.Map.Equal(o.Map)
	}
	return false
}

// Matches reports whether a condition value accepts a context value
// under the given numeric tolerance. Categorical values must match
// exactly; numbers match within tolerance (relative to the condition
// value); ranges match by containment.
func (v Value) Matches(ctx Value, tolerance float64) bool {
	switch v.Kind {
	case KindNumber:
		if !ctx.IsNumeric() {
			return false
		}
		return withinTolerance(v.Num, ctx.Midpoint(), tolerance)
	case KindRange:
		if !ctx.IsNumeric() {
			return false
		}
		n := ctx.Midpoint()
		return n >= v.Min && n <= v.Max
	default:
		return v.Equal(ctx)
	}
}

// withinTolerance reports |a-b| <= tolerance*|a|, with exact equality
// required when a is zero.
func withinTolerance(a, b, tolerance float64) bool {
	if a == 0 {
		return b == 0
	}
	return math.Abs(a-b) <= tolerance*math.Abs(a)
}

// Equal reports deep equality between two mappings.
func (m Mapping) Equal(o Mapping) bool {
	if len(m) != len(o) {
		return false
	}
	for k, v := range m {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the mapping.
func (m Mapping) Clone() Mapping {
	if m == nil {
		return nil
	}
	out := make(Mapping, len(m))
	for k, v := range m {
		out[k] = v.clone()
	}
	return out
}

func (v Value) clone() Value {
	switch v.Kind {
	case KindList:
		items := make([]Value, len(v.List))
		for i, e := range v.List {
			items[i] = e.clone()
		}
		return Value{Kind: KindList, List: items}
	case KindMap:
		return Value{Kind: KindMap, Map: v.Map.Clone()}
	default:
		return v
	}
}

// SortedKeys returns the mapping's keys in lexical order. Used to
// build stable condition hashes.
func (m Mapping) SortedKeys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ToInterface converts the mapping into the JSON-shaped form stored in
// the document store.
func (m Mapping) ToInterface() map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v.ToInterface()
	}
	return out
}

// ToInterface converts a value into its JSON-shaped form.
func (v Value) ToInterface() interface{} {
	switch v.Kind {
	case KindNumber:
		return v.Num
	case KindString:
		return v.Str
	case KindBool:
		return v.Bool
	case KindRange:
		return map[string]interface{}{"min": v.Min, "max": v.Max}
	case KindList:
		items := make([]interface{}, len(v.List))
		for i, e := range v.List {
			items[i] = e.ToInterface()
		}
		return items
	case KindMap:
		return v.Map.ToInterface()
	}
	return nil
}

// MappingFromInterface parses a JSON-shaped map into a Mapping.
func MappingFromInterface(raw map[string]interface{}) Mapping {
	if raw == nil {
		return nil
	}
	out := make(Mapping, len(raw))
	for k, v := range raw {
		out[k] = ValueFromInterface(v)
	}
	return out
}

// ValueFromInterface parses a JSON-shaped value. Two-key maps holding
// exactly "min" and "max" numbers decode as ranges; other maps decode
// as nested mappings.
func ValueFromInterface(raw interface{}) Value {
	switch t := raw.(type) {
	case float64:
		return Number(t)
	case float32:
		return Number(float64(t))
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case bool:
		return Bool(t)
	case string:
		return String(t)
	case []interface{}:
		items := make([]Value, len(t))
		for i, e := range t {
			items[i] = ValueFromInterface(e)
		}
		return Value{Kind: KindList, List: items}
	case map[string]interface{}:
		if len(t) == 2 {
			min, mok := asNumber(t["min"])
			max, xok := asNumber(t["max"])
			if mok && xok {
				return Range(min, max)
			}
		}
		return Nested(MappingFromInterface(t))
	}
	return String(fmt.Sprintf("%v", raw))
}

// MarshalJSON encodes the value in its JSON-shaped form, matching
// what the document store holds.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ToInterface())
}

// UnmarshalJSON decodes a JSON-shaped value.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = ValueFromInterface(raw)
	return nil
}

func asNumber(raw interface{}) (float64, bool) {
	switch t := raw.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}
