package telemetry

import (
	"errors"
	"fmt"
)

// ErrFieldNotFound is returned by a Sample for a name it does not carry.
var ErrFieldNotFound = errors.New("field not found")

// Sample is a read-only view of one instant of raw telemetry.
// Implementations may be reused by their source on the next poll, so a
// Sample must not be retained past the tick it was handed out for.
type Sample interface {
	HasField(name string) bool
	Field(name string) (Value, error)
}

// FieldDesc describes one raw field in a Registry.
type FieldDesc struct {
	Name   string
	Kind   Kind
	Count  int    // array length, 1 for scalars
	Unit   string // native unit reported by the source, may be empty
	Offset int    // slot in a Frame, assigned by the Registry
}

// Registry maps field names to descriptors. It is built once when a source
// learns its header layout and then shared read-only by every Frame.
type Registry struct {
	fields []FieldDesc
	byName map[string]int
}

// NewRegistry assigns offsets to the given descriptors in order.
// Later duplicates of a name are ignored.
func NewRegistry(descs ...FieldDesc) *Registry {
	r := &Registry{
		fields: make([]FieldDesc, 0, len(descs)),
		byName: make(map[string]int, len(descs)),
	}
	for _, d := range descs {
		if d.Name == "" {
			continue
		}
		if _, exists := r.byName[d.Name]; exists {
			continue
		}
		if d.Count < 1 {
			d.Count = 1
		}
		d.Offset = len(r.fields)
		r.byName[d.Name] = d.Offset
		r.fields = append(r.fields, d)
	}
	return r
}

// Lookup returns the descriptor for name.
func (r *Registry) Lookup(name string) (FieldDesc, bool) {
	if r == nil {
		return FieldDesc{}, false
	}
	idx, ok := r.byName[name]
	if !ok {
		return FieldDesc{}, false
	}
	return r.fields[idx], true
}

// Len returns the number of registered fields.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.fields)
}

// Names returns the field names in offset order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, len(r.fields))
	for i, f := range r.fields {
		names[i] = f.Name
	}
	return names
}

// Fields returns a copy of the descriptors in offset order.
func (r *Registry) Fields() []FieldDesc {
	if r == nil {
		return nil
	}
	out := make([]FieldDesc, len(r.fields))
	copy(out, r.fields)
	return out
}

// NewFrame allocates an empty frame laid out by r.
func (r *Registry) NewFrame() *Frame {
	return &Frame{reg: r, values: make([]Value, r.Len())}
}

// Frame holds the values of one sample in registry order.
type Frame struct {
	reg    *Registry
	values []Value
}

// Registry returns the layout of the frame.
func (f *Frame) Registry() *Registry { return f.reg }

// Set stores v under name. It returns false if name is not registered.
func (f *Frame) Set(name string, v Value) bool {
	d, ok := f.reg.Lookup(name)
	if !ok {
		return false
	}
	f.values[d.Offset] = v
	return true
}

// SetAt stores v at a registry offset.
func (f *Frame) SetAt(offset int, v Value) {
	if offset >= 0 && offset < len(f.values) {
		f.values[offset] = v
	}
}

// HasField reports whether name is part of the frame layout.
func (f *Frame) HasField(name string) bool {
	_, ok := f.reg.Lookup(name)
	return ok
}

// Field returns the value stored under name. A registered field that was
// never set yields the absent value and no error.
func (f *Frame) Field(name string) (Value, error) {
	d, ok := f.reg.Lookup(name)
	if !ok {
		return Value{}, fmt.Errorf("%w: %s", ErrFieldNotFound, name)
	}
	return f.values[d.Offset], nil
}

// Reset clears every value, keeping the layout.
func (f *Frame) Reset() {
	for i := range f.values {
		f.values[i] = Value{}
	}
}

// Clone returns an independent copy of the frame. Array values are copied.
func (f *Frame) Clone() *Frame {
	out := &Frame{reg: f.reg, values: make([]Value, len(f.values))}
	for i, v := range f.values {
		if v.IsArray() {
			arr := make([]float32, len(v.arr))
			copy(arr, v.arr)
			v = FloatArray(arr)
		}
		out.values[i] = v
	}
	return out
}

// FrameFromMap builds a registry and frame from a name/value map, as decoded
// from a JSON bridge message.
func FrameFromMap(values map[string]interface{}) *Frame {
	descs := make([]FieldDesc, 0, len(values))
	decoded := make([]Value, 0, len(values))
	for name, raw := range values {
		v := ValueOf(raw)
		if v.IsZero() {
			continue
		}
		descs = append(descs, FieldDesc{Name: name, Kind: v.Kind(), Count: max(v.Len(), 1)})
		decoded = append(decoded, v)
	}
	reg := NewRegistry(descs...)
	frame := reg.NewFrame()
	for i, d := range descs {
		frame.Set(d.Name, decoded[i])
	}
	return frame
}
