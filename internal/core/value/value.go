// Package value implements the tagged, recursive data-interchange model every
// datasync message is built from. A Value is immutable once constructed and is
// shared by pointer; "updating" a value always means building a new one.
package value

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindNumber
	KindBool
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a null, number, bool, string, array or object. The zero Value and a
// nil *Value both behave as null.
type Value struct {
	kind Kind
	num  float64
	b    bool
	str  string
	arr  []*Value
	obj  map[string]*Value
}

var (
	null       = &Value{kind: KindNull}
	trueValue  = &Value{kind: KindBool, b: true}
	falseValue = &Value{kind: KindBool, b: false}
)

func Null() *Value {
	return null
}

func Number(n float64) *Value {
	return &Value{kind: KindNumber, num: n}
}

func Int(n int) *Value {
	return &Value{kind: KindNumber, num: float64(n)}
}

func Bool(b bool) *Value {
	if b {
		return trueValue
	}
	return falseValue
}

func String(s string) *Value {
	return &Value{kind: KindString, str: s}
}

// Array copies items; nil elements are stored as null.
func Array(items ...*Value) *Value {
	arr := make([]*Value, len(items))
	for i, item := range items {
		arr[i] = orNull(item)
	}
	return &Value{kind: KindArray, arr: arr}
}

// Object copies fields; nil values are stored as null.
func Object(fields map[string]*Value) *Value {
	obj := make(map[string]*Value, len(fields))
	for k, v := range fields {
		obj[k] = orNull(v)
	}
	return &Value{kind: KindObject, obj: obj}
}

func orNull(v *Value) *Value {
	if v == nil {
		return null
	}
	return v
}

func (v *Value) Kind() Kind {
	if v == nil {
		return KindNull
	}
	return v.kind
}

func (v *Value) IsNull() bool   { return v.Kind() == KindNull }
func (v *Value) IsNumber() bool { return v.Kind() == KindNumber }
func (v *Value) IsBool() bool   { return v.Kind() == KindBool }
func (v *Value) IsString() bool { return v.Kind() == KindString }
func (v *Value) IsArray() bool  { return v.Kind() == KindArray }
func (v *Value) IsObject() bool { return v.Kind() == KindObject }

func (v *Value) AsNumber() (float64, bool) {
	if v.Kind() != KindNumber {
		return 0, false
	}
	return v.num, true
}

// AsInt rounds half away from zero. Non-finite numbers and numbers outside the
// int64 range are reported as absent.
func (v *Value) AsInt() (int, bool) {
	if v.Kind() != KindNumber {
		return 0, false
	}
	r := math.Round(v.num)
	if math.IsNaN(r) || r >= math.MaxInt64 || r < math.MinInt64 {
		return 0, false
	}
	return int(r), true
}

// AsInteger is AsInt restricted to integral numbers; 1.5 is absent rather
// than rounded.
func (v *Value) AsInteger() (int, bool) {
	if v.Kind() != KindNumber || v.num != math.Trunc(v.num) {
		return 0, false
	}
	return v.AsInt()
}

func (v *Value) AsBool() (bool, bool) {
	if v.Kind() != KindBool {
		return false, false
	}
	return v.b, true
}

func (v *Value) AsString() (string, bool) {
	if v.Kind() != KindString {
		return "", false
	}
	return v.str, true
}

// AsArray returns a copy of the element slice; the elements themselves are shared.
func (v *Value) AsArray() ([]*Value, bool) {
	if v.Kind() != KindArray {
		return nil, false
	}
	out := make([]*Value, len(v.arr))
	copy(out, v.arr)
	return out, true
}

// AsObject returns a copy of the field map; the values themselves are shared.
func (v *Value) AsObject() (map[string]*Value, bool) {
	if v.Kind() != KindObject {
		return nil, false
	}
	out := make(map[string]*Value, len(v.obj))
	for k, f := range v.obj {
		out[k] = f
	}
	return out, true
}

func (v *Value) Index(i int) (*Value, bool) {
	if v.Kind() != KindArray || i < 0 || i >= len(v.arr) {
		return nil, false
	}
	return v.arr[i], true
}

func (v *Value) Key(k string) (*Value, bool) {
	if v.Kind() != KindObject {
		return nil, false
	}
	f, ok := v.obj[k]
	return f, ok
}

// Len is the number of elements of an array or fields of an object, 0 otherwise.
func (v *Value) Len() int {
	switch v.Kind() {
	case KindArray:
		return len(v.arr)
	case KindObject:
		return len(v.obj)
	default:
		return 0
	}
}

// Keys returns the object's keys in lexicographic order.
func (v *Value) Keys() []string {
	if v.Kind() != KindObject {
		return nil
	}
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal compares structurally. Numbers compare as float64, so an integral 5
// equals 5.0.
func (v *Value) Equal(other *Value) bool {
	if v.Kind() != other.Kind() {
		return false
	}

	switch v.Kind() {
	case KindNull:
		return true
	case KindNumber:
		return v.num == other.num
	case KindBool:
		return v.b == other.b
	case KindString:
		return v.str == other.str
	case KindArray:
		if len(v.arr) != len(other.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(other.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(other.obj) {
			return false
		}
		for k, f := range v.obj {
			o, ok := other.obj[k]
			if !ok || !f.Equal(o) {
				return false
			}
		}
		return true
	}
	return false
}

// DebugString renders v deterministically for tests and introspection. It is
// not a wire format: strings are written raw and object keys are sorted.
func (v *Value) DebugString() string {
	var sb strings.Builder
	v.writeDebug(&sb)
	return sb.String()
}

func (v *Value) String() string {
	return v.DebugString()
}

func (v *Value) writeDebug(sb *strings.Builder) {
	switch v.Kind() {
	case KindNull:
		sb.WriteString("null")
	case KindNumber:
		sb.WriteString(strconv.FormatFloat(v.num, 'f', 6, 64))
	case KindBool:
		if v.b {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case KindString:
		sb.WriteString(v.str)
	case KindArray:
		sb.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				sb.WriteString(", ")
			}
			item.writeDebug(sb)
		}
		sb.WriteByte(']')
	case KindObject:
		sb.WriteByte('{')
		for i, k := range v.Keys() {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteByte('"')
			sb.WriteString(k)
			sb.WriteString(`" : `)
			v.obj[k].writeDebug(sb)
		}
		sb.WriteByte('}')
	}
}
