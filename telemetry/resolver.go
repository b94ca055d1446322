package telemetry

import (
	"errors"
	"sort"
	"sync"
)

// DerivedSignal is a named calculation over the raw sample.
// Commit, when set, records whatever the signal needs from the current tick
// into the state; it runs once per published tick.
type DerivedSignal struct {
	Name    string
	Unit    string
	Compute func(get Getter, state *State) float64
	Commit  func(get Getter, state *State)
}

// Resolver turns names into values for a SampleContext.
// It holds no per-tick state of its own; repeated calls within a tick
// return the same result.
type Resolver struct {
	profile Profile

	derived map[string]DerivedSignal
	order   []string

	mu    sync.RWMutex
	units map[string]string
}

// NewResolver returns a resolver with the built-in derived signals
// configured for the given vehicle profile.
func NewResolver(p Profile) *Resolver {
	if len(p.RumbleCorners) == 0 {
		p.RumbleCorners = DefaultProfile().RumbleCorners
	}
	r := &Resolver{
		profile: p,
		derived: make(map[string]DerivedSignal),
		units:   make(map[string]string),
	}
	for _, d := range builtinSignals(p) {
		r.Register(d)
	}
	return r
}

func builtinSignals(p Profile) []DerivedSignal {
	corners := append([]string(nil), p.RumbleCorners...)
	degrees := func(field string, unit string, sign float64) DerivedSignal {
		return DerivedSignal{
			Name: field,
			Unit: unit,
			Compute: func(get Getter, _ *State) float64 {
				return sign * Degrees(get(field))
			},
		}
	}
	return []DerivedSignal{
		{Name: "SlipAngle", Unit: "deg", Compute: func(get Getter, _ *State) float64 {
			return SlipAngle(get, p)
		}},
		{
			Name: "Rumble",
			Compute: func(get Getter, s *State) float64 {
				return Rumble(get, s, corners)
			},
			Commit: func(get Getter, s *State) {
				CommitRumble(get, s, corners)
			},
		},
		{Name: "RumbleHz", Unit: "Hz", Compute: func(get Getter, _ *State) float64 {
			return RumbleHz(get)
		}},
		{Name: "VertAccel", Unit: "g", Compute: func(get Getter, _ *State) float64 {
			return VertAccel(get)
		}},
		{Name: "LongAccel", Unit: "g", Compute: func(get Getter, _ *State) float64 {
			return LongAccel(get)
		}},
		{Name: "LatAccel", Unit: "g", Compute: func(get Getter, _ *State) float64 {
			return LatAccel(get)
		}},
		degrees("Pitch", "deg", -1),
		degrees("Roll", "deg", 1),
		degrees("Yaw", "deg", 1),
		degrees("PitchRate", "deg/s", 1),
		degrees("RollRate", "deg/s", 1),
		degrees("YawRate", "deg/s", 1),
	}
}

// Register adds or replaces a derived signal. It is meant for setup before
// the resolver is shared with a running provider.
func (r *Resolver) Register(d DerivedSignal) {
	if d.Name == "" || d.Compute == nil {
		return
	}
	if _, exists := r.derived[d.Name]; !exists {
		r.order = append(r.order, d.Name)
	}
	r.derived[d.Name] = d
}

// Profile returns the vehicle profile the resolver was built with.
func (r *Resolver) Profile() Profile { return r.profile }

// SetUnits replaces the configured unit table. Names absent from the table
// fall back to the derived signal's own unit, or none.
func (r *Resolver) SetUnits(units map[string]string) {
	m := make(map[string]string, len(units))
	for k, v := range units {
		m[k] = v
	}
	r.mu.Lock()
	r.units = m
	r.mu.Unlock()
}

// Unit returns the unit tag for a name.
func (r *Resolver) Unit(name string) string {
	r.mu.RLock()
	u, ok := r.units[name]
	r.mu.RUnlock()
	if ok {
		return u
	}
	base, _, _ := ParseFieldName(name)
	if base != name {
		r.mu.RLock()
		u, ok = r.units[base]
		r.mu.RUnlock()
		if ok {
			return u
		}
	}
	if d, ok := r.derived[base]; ok {
		return d.Unit
	}
	return ""
}

// IsDerived reports whether name is served by a derived calculator.
func (r *Resolver) IsDerived(name string) bool {
	base, _, _ := ParseFieldName(name)
	_, ok := r.derived[base]
	return ok
}

// Derived returns the derived signal names in registration order.
func (r *Resolver) Derived() []string {
	return append([]string(nil), r.order...)
}

// Names returns the supported name list: the fixed value list followed by
// any registered derived signal it does not already contain.
func (r *Resolver) Names() []string {
	names := ValueList()
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}
	var extra []string
	for _, n := range r.order {
		if !seen[n] {
			extra = append(extra, n)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

// Resolve returns the value of name for the tick described by ctx.
// Derived names win over raw fields of the same name. Any failure matches
// ErrUnknownTelemetryValue.
func (r *Resolver) Resolve(name string, ctx *SampleContext) (TelemetryValue, error) {
	if ctx == nil {
		return TelemetryValue{}, unknown(name, errors.New("no sample"))
	}
	base, index, hasIndex := ParseFieldName(name)

	var v Value
	if d, ok := r.derived[base]; ok {
		v = Float(d.Compute(ctx.Getter(), ctx.state))
	} else {
		s := ctx.sample
		if s == nil || !s.HasField(base) {
			return TelemetryValue{}, unknown(name, nil)
		}
		raw, err := s.Field(base)
		if err != nil {
			return TelemetryValue{}, unknown(name, err)
		}
		if hasIndex && raw.IsArray() {
			raw, err = raw.Index(index)
			if err != nil {
				return TelemetryValue{}, unknown(name, err)
			}
		}
		v = raw
	}

	if v.IsZero() {
		return TelemetryValue{}, unknown(name, nil)
	}
	return TelemetryValue{Name: name, Value: v, Unit: r.Unit(name)}, nil
}

// Commit runs the commit step of every stateful derived signal against the
// tick in ctx. The provider calls it once per published tick, after
// subscribers have been notified.
func (r *Resolver) Commit(ctx *SampleContext) {
	if ctx == nil || ctx.state == nil {
		return
	}
	get := ctx.Getter()
	for _, name := range r.order {
		if d := r.derived[name]; d.Commit != nil {
			d.Commit(get, ctx.state)
		}
	}
}
