package value

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var ErrUnsupportedType = errors.New("unsupported type")

// FromGo converts the generic shapes produced by encoding/json, yaml.v3 and
// msgpack decoders into a Value.
func FromGo(in any) (*Value, error) {
	switch x := in.(type) {
	case nil:
		return Null(), nil
	case *Value:
		return orNull(x), nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case []byte:
		return String(string(x)), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", x.String(), err)
		}
		return finite(f)
	case float64:
		return finite(x)
	case float32:
		return finite(float64(x))
	case int:
		return Number(float64(x)), nil
	case int8:
		return Number(float64(x)), nil
	case int16:
		return Number(float64(x)), nil
	case int32:
		return Number(float64(x)), nil
	case int64:
		return Number(float64(x)), nil
	case uint:
		return Number(float64(x)), nil
	case uint8:
		return Number(float64(x)), nil
	case uint16:
		return Number(float64(x)), nil
	case uint32:
		return Number(float64(x)), nil
	case uint64:
		return Number(float64(x)), nil
	case []any:
		items := make([]*Value, len(x))
		for i, item := range x {
			v, err := FromGo(item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			items[i] = v
		}
		return &Value{kind: KindArray, arr: items}, nil
	case []*Value:
		return Array(x...), nil
	case map[string]any:
		fields := make(map[string]*Value, len(x))
		for k, item := range x {
			v, err := FromGo(item)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			fields[k] = v
		}
		return &Value{kind: KindObject, obj: fields}, nil
	case map[any]any:
		fields := make(map[string]*Value, len(x))
		for rawKey, item := range x {
			k, ok := rawKey.(string)
			if !ok {
				return nil, fmt.Errorf("%w: non-string object key %T", ErrUnsupportedType, rawKey)
			}
			v, err := FromGo(item)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			fields[k] = v
		}
		return &Value{kind: KindObject, obj: fields}, nil
	case map[string]*Value:
		return Object(x), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, in)
	}
}

func finite(f float64) (*Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: non-finite number %v", ErrUnsupportedType, f)
	}
	return Number(f), nil
}

// MustFromGo is FromGo for literals in tests and examples.
func MustFromGo(in any) *Value {
	v, err := FromGo(in)
	if err != nil {
		panic(err)
	}
	return v
}

// ToGo converts v into nil, float64, bool, string, []any or map[string]any.
func (v *Value) ToGo() any {
	switch v.Kind() {
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindString:
		return v.str
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.ToGo()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, f := range v.obj {
			out[k] = f.ToGo()
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON lets a Value be embedded in JSON documents such as the inspector's
// status output.
func (v *Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ToGo())
}
