// Package telemetry resolves named telemetry values from a raw simulator
// sample, serving both passthrough fields and derived motion signals.
package telemetry

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind identifies which member of a Value is populated.
type Kind uint8

const (
	KindNone Kind = iota
	KindFloat
	KindBool
	KindInt
	KindFloatArray
	KindFloatArrayElem
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloatArray:
		return "float[]"
	case KindFloatArrayElem:
		return "float[i]"
	default:
		return "unknown"
	}
}

// Value is a tagged scalar or float array read from a sample.
// The zero Value is the absent value.
type Value struct {
	kind Kind
	f    float64
	i    int64
	b    bool
	arr  []float32
}

// Float returns a float Value.
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

// Bool returns a bool Value.
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// Int returns an int Value.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// FloatArray returns an array Value. The slice is not copied.
func FloatArray(v []float32) Value { return Value{kind: KindFloatArray, arr: v} }

// FloatArrayElem returns a Value holding one element taken from an array.
func FloatArrayElem(v float32) Value { return Value{kind: KindFloatArrayElem, f: float64(v)} }

// Kind returns the populated member.
func (v Value) Kind() Kind { return v.kind }

// IsZero reports whether v is the absent value.
func (v Value) IsZero() bool { return v.kind == KindNone }

// IsArray reports whether v holds a whole array.
func (v Value) IsArray() bool { return v.kind == KindFloatArray }

// Float converts v to float64. Bools map to 0/1; arrays and absent values
// yield 0.
func (v Value) Float() float64 {
	switch v.kind {
	case KindFloat, KindFloatArrayElem:
		return v.f
	case KindInt:
		return float64(v.i)
	case KindBool:
		if v.b {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// Int converts v to int64, truncating floats.
func (v Value) Int() int64 {
	switch v.kind {
	case KindInt:
		return v.i
	case KindFloat, KindFloatArrayElem:
		return int64(v.f)
	case KindBool:
		if v.b {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// Bool converts v to bool; numeric values are true when non-zero.
func (v Value) Bool() bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i != 0
	case KindFloat, KindFloatArrayElem:
		return v.f != 0
	default:
		return false
	}
}

// Array returns the array held by v, or nil.
func (v Value) Array() []float32 {
	if v.kind != KindFloatArray {
		return nil
	}
	return v.arr
}

// Len returns the array length, or 0 for scalars.
func (v Value) Len() int {
	return len(v.Array())
}

// Index selects element i of an array Value.
func (v Value) Index(i int) (Value, error) {
	if v.kind != KindFloatArray {
		return Value{}, fmt.Errorf("value of kind %s is not an array", v.kind)
	}
	if i < 0 || i >= len(v.arr) {
		return Value{}, fmt.Errorf("%w: index %d, length %d", ErrIndexOutOfRange, i, len(v.arr))
	}
	return FloatArrayElem(v.arr[i]), nil
}

// Interface returns the natural Go value (float64, bool, int64, []float32,
// float32) or nil when absent.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloatArray:
		return v.arr
	case KindFloatArrayElem:
		return float32(v.f)
	default:
		return nil
	}
}

// Equal reports whether two values hold the same kind and contents.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindFloatArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if v.arr[i] != o.arr[i] {
				return false
			}
		}
		return true
	default:
		return v.f == o.f && v.i == o.i && v.b == o.b
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindFloatArrayElem:
		return strconv.FormatFloat(v.f, 'f', -1, 32)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloatArray:
		return fmt.Sprint(v.arr)
	default:
		return "<none>"
	}
}

// MarshalJSON encodes the natural form; the absent value encodes as null.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// ValueOf converts a decoded JSON or Go scalar into a Value.
// Unsupported types return the absent value.
func ValueOf(x interface{}) Value {
	switch t := x.(type) {
	case nil:
		return Value{}
	case Value:
		return t
	case float64:
		return Float(t)
	case float32:
		return Float(float64(t))
	case int:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case uint32:
		return Int(int64(t))
	case bool:
		return Bool(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i)
		}
		if f, err := t.Float64(); err == nil {
			return Float(f)
		}
		return Value{}
	case []float32:
		return FloatArray(t)
	case []float64:
		arr := make([]float32, len(t))
		for i, f := range t {
			arr[i] = float32(f)
		}
		return FloatArray(arr)
	case []interface{}:
		arr := make([]float32, 0, len(t))
		for _, e := range t {
			ev := ValueOf(e)
			if ev.IsZero() || ev.IsArray() {
				return Value{}
			}
			arr = append(arr, float32(ev.Float()))
		}
		return FloatArray(arr)
	default:
		return Value{}
	}
}
