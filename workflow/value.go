package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies the JSON shape held by a Value.
type Kind uint8

const (
	// KindNull is the zero Value.
	KindNull Kind = iota
	// KindBool holds true or false.
	KindBool
	// KindNumber holds an IEEE-754 double. All numbers in workflow state are
	// doubles; the engine never reinterprets them as integers on the wire.
	KindNumber
	// KindString holds a UTF-8 string.
	KindString
	// KindArray holds an ordered list of Values.
	KindArray
	// KindObject holds string-keyed Values.
	KindObject
)

// Value is an immutable-by-convention tagged JSON tree. The zero Value is
// JSON null. Workflow context, activity payloads and results are all Values,
// which keeps number and key semantics identical across store backends.
//
// Values marshal canonically: object keys are emitted in sorted order so that
// equal trees produce identical bytes. The engine relies on this to keep
// bookkeeping subtrees stable across replays.
type Value struct {
	kind Kind
	b    bool
	num  float64
	str  string
	arr  []Value
	obj  map[string]Value
}

// Null returns the JSON null Value. Equivalent to the zero Value.
func Null() Value { return Value{} }

// Bool returns a boolean Value.
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// Number returns a numeric Value.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// Int returns a numeric Value from an integer.
func Int(n int) Value { return Number(float64(n)) }

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Array returns an array Value holding copies of the given elements.
func Array(elems ...Value) Value {
	arr := make([]Value, len(elems))
	copy(arr, elems)
	return Value{kind: KindArray, arr: arr}
}

// Object returns an object Value holding a copy of the given fields. A nil
// map yields the empty object.
func Object(fields map[string]Value) Value {
	obj := make(map[string]Value, len(fields))
	for k, v := range fields {
		obj[k] = v
	}
	return Value{kind: KindObject, obj: obj}
}

// Parse decodes a JSON document into a Value.
func Parse(data []byte) (Value, error) {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return Value{}, err
	}
	return v, nil
}

// MustParse decodes a JSON literal and panics on malformed input. Intended
// for tests and registration-time constants.
func MustParse(s string) Value {
	v, err := Parse([]byte(s))
	if err != nil {
		panic(fmt.Sprintf("workflow: parse value: %v", err))
	}
	return v
}

// FromGo converts a native Go value into a Value through its JSON encoding.
// Structs, maps, slices and scalars are all supported; integers become
// doubles like every other number.
func FromGo(v any) (Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Value{}, fmt.Errorf("converting value: %w", err)
	}
	return Parse(data)
}

// Kind reports the JSON shape of the Value.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the Value is JSON null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Bool returns the boolean payload, or false for non-booleans.
func (v Value) Bool() bool {
	if v.kind != KindBool {
		return false
	}
	return v.b
}

// Num returns the numeric payload, or 0 for non-numbers.
func (v Value) Num() float64 {
	if v.kind != KindNumber {
		return 0
	}
	return v.num
}

// Int returns the numeric payload truncated to an int.
func (v Value) Int() int { return int(v.Num()) }

// Str returns the string payload, or "" for non-strings.
func (v Value) Str() string {
	if v.kind != KindString {
		return ""
	}
	return v.str
}

// Len returns the number of elements for arrays, the number of fields for
// objects, and 0 otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.arr)
	case KindObject:
		return len(v.obj)
	default:
		return 0
	}
}

// At returns the i-th array element, or null when out of range or not an
// array.
func (v Value) At(i int) Value {
	if v.kind != KindArray || i < 0 || i >= len(v.arr) {
		return Value{}
	}
	return v.arr[i]
}

// Field returns the named object field and whether it exists.
func (v Value) Field(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	f, ok := v.obj[key]
	return f, ok
}

// Get returns the named object field, or null when absent.
func (v Value) Get(key string) Value {
	f, _ := v.Field(key)
	return f
}

// Fields returns the object's keys in sorted order. Deterministic iteration
// matters anywhere replay consumes object fields.
func (v Value) Fields() []string {
	if v.kind != KindObject {
		return nil
	}
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Items returns a copy of the array's elements.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	items := make([]Value, len(v.arr))
	copy(items, v.arr)
	return items
}

// Clone returns a deep copy. Mutating the copy (via SetPath) never affects
// the original.
func (v Value) Clone() Value {
	switch v.kind {
	case KindArray:
		arr := make([]Value, len(v.arr))
		for i, e := range v.arr {
			arr[i] = e.Clone()
		}
		return Value{kind: KindArray, arr: arr}
	case KindObject:
		obj := make(map[string]Value, len(v.obj))
		for k, e := range v.obj {
			obj[k] = e.Clone()
		}
		return Value{kind: KindObject, obj: obj}
	default:
		return v
	}
}

// Equal reports deep equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.num == o.num
	case KindString:
		return v.str == o.str
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, e := range v.obj {
			oe, ok := o.obj[k]
			if !ok || !e.Equal(oe) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// SetPath writes val at the dot-separated path, creating intermediate
// objects as needed. Numeric segments are object keys, never array indices.
// Non-object intermediates are replaced by fresh objects. The receiver must
// be an object; the write mutates its underlying fields in place.
func (v Value) SetPath(path string, val Value) error {
	if v.kind != KindObject {
		return fmt.Errorf("set %q: target is not an object", path)
	}
	if path == "" {
		return fmt.Errorf("set: empty path")
	}
	segs := strings.Split(path, ".")
	cur := v.obj
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg]
		if !ok || next.kind != KindObject {
			next = Value{kind: KindObject, obj: make(map[string]Value)}
			cur[seg] = next
		}
		cur = next.obj
	}
	cur[segs[len(segs)-1]] = val
	return nil
}

// GetPath reads the Value at the dot-separated path, reporting whether every
// segment resolved.
func (v Value) GetPath(path string) (Value, bool) {
	cur := v
	for _, seg := range strings.Split(path, ".") {
		next, ok := cur.Field(seg)
		if !ok {
			return Value{}, false
		}
		cur = next
	}
	return cur, true
}

// String renders the Value as compact JSON.
func (v Value) String() string {
	data, err := v.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<invalid value: %v>", err)
	}
	return string(data)
}

// MarshalJSON encodes the Value canonically: object keys sorted, numbers in
// the standard library's shortest float form.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return fmt.Errorf("encoding value: unsupported number %v", v.num)
		}
		data, err := json.Marshal(v.num)
		if err != nil {
			return err
		}
		buf.Write(data)
	case KindString:
		data, err := json.Marshal(v.str)
		if err != nil {
			return err
		}
		buf.Write(data)
	case KindArray:
		buf.WriteByte('[')
		for i, e := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := e.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, k := range v.Fields() {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := v.obj[k].encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("encoding value: unknown kind %d", v.kind)
	}
	return nil
}

// UnmarshalJSON decodes any JSON document. Numbers decode as doubles.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = fromRaw(raw)
	return nil
}

func fromRaw(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return Value{}
	case bool:
		return Value{kind: KindBool, b: t}
	case float64:
		return Value{kind: KindNumber, num: t}
	case string:
		return Value{kind: KindString, str: t}
	case []any:
		arr := make([]Value, len(t))
		for i, e := range t {
			arr[i] = fromRaw(e)
		}
		return Value{kind: KindArray, arr: arr}
	case map[string]any:
		obj := make(map[string]Value, len(t))
		for k, e := range t {
			obj[k] = fromRaw(e)
		}
		return Value{kind: KindObject, obj: obj}
	default:
		// json.Unmarshal into any never yields other types.
		return Value{}
	}
}
