package telemetry

import (
	"sort"
	"time"
)

// Snapshot is an immutable copy of resolved values for one tick. Unlike a
// SampleContext it may be kept and handed to other goroutines.
type Snapshot struct {
	Source  string           `json:"source,omitempty"`
	Tick    int64            `json:"tick"`
	Time    time.Time        `json:"timestamp"`
	Values  []TelemetryValue `json:"values"`
	Missing []string         `json:"missing,omitempty"` // Requested names that did not resolve
}

// Capture resolves names against ctx and copies the results out.
func Capture(ctx *SampleContext, source string, names []string) *Snapshot {
	values, failed := ctx.Values(names)
	for i, tv := range values {
		if tv.Value.IsArray() {
			arr := make([]float32, tv.Value.Len())
			copy(arr, tv.Value.Array())
			values[i].Value = FloatArray(arr)
		}
	}

	snap := &Snapshot{
		Source: source,
		Tick:   ctx.Tick,
		Time:   ctx.Time,
		Values: values,
	}
	if len(failed) > 0 {
		snap.Missing = make([]string, 0, len(failed))
		for name := range failed {
			snap.Missing = append(snap.Missing, name)
		}
		sort.Strings(snap.Missing)
	}
	return snap
}

// Get returns the value captured under name.
func (s *Snapshot) Get(name string) (TelemetryValue, bool) {
	if s == nil {
		return TelemetryValue{}, false
	}
	for _, tv := range s.Values {
		if tv.Name == name {
			return tv, true
		}
	}
	return TelemetryValue{}, false
}

// Map returns the captured values keyed by name.
func (s *Snapshot) Map() map[string]interface{} {
	if s == nil {
		return nil
	}
	out := make(map[string]interface{}, len(s.Values))
	for _, tv := range s.Values {
		out[tv.Name] = tv.Value.Interface()
	}
	return out
}

// Changed returns the values that differ from prev, or all values when
// prev is nil.
func (s *Snapshot) Changed(prev *Snapshot) []TelemetryValue {
	if s == nil {
		return nil
	}
	if prev == nil {
		return append([]TelemetryValue(nil), s.Values...)
	}
	var out []TelemetryValue
	for _, tv := range s.Values {
		old, ok := prev.Get(tv.Name)
		if !ok || !old.Value.Equal(tv.Value) {
			out = append(out, tv)
		}
	}
	return out
}
