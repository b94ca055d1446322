package telemetry

import (
	"fmt"
	"strings"
	"time"
)

// TelemetryValue is one resolved name with its value and unit tag.
type TelemetryValue struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
	Unit  string `json:"unit,omitempty"`
}

func (tv TelemetryValue) String() string {
	return strings.TrimSpace(fmt.Sprintf("%s %s", tv.Value, tv.Unit))
}

// SampleContext is what subscribers resolve names against for one fresh
// tick. It borrows the source's current sample and the loop's state and is
// only valid for the duration of the notification callback.
type SampleContext struct {
	Tick int64
	Time time.Time

	sample   Sample
	state    *State
	resolver *Resolver
}

// NewSampleContext bundles a sample with the state and resolver for a tick.
func NewSampleContext(tick int64, at time.Time, sample Sample, state *State, resolver *Resolver) *SampleContext {
	return &SampleContext{
		Tick:     tick,
		Time:     at,
		sample:   sample,
		state:    state,
		resolver: resolver,
	}
}

// Sample returns the raw sample of this tick.
func (c *SampleContext) Sample() Sample { return c.sample }

// State returns the inter-sample state as of the previous tick.
func (c *SampleContext) State() *State { return c.state }

// Value resolves name against this tick.
func (c *SampleContext) Value(name string) (TelemetryValue, error) {
	return c.resolver.Resolve(name, c)
}

// Values resolves each name in order, skipping names that fail.
// The failures are returned alongside.
func (c *SampleContext) Values(names []string) ([]TelemetryValue, map[string]error) {
	out := make([]TelemetryValue, 0, len(names))
	var failed map[string]error
	for _, name := range names {
		tv, err := c.Value(name)
		if err != nil {
			if failed == nil {
				failed = make(map[string]error)
			}
			failed[name] = err
			continue
		}
		out = append(out, tv)
	}
	return out, failed
}

// Getter returns a float accessor over the raw sample where missing or
// unreadable fields read as 0.
func (c *SampleContext) Getter() Getter {
	return SampleGetter(c.sample)
}

// SampleGetter adapts a Sample to a Getter.
func SampleGetter(s Sample) Getter {
	return func(name string) float64 {
		if s == nil || !s.HasField(name) {
			return 0
		}
		v, err := s.Field(name)
		if err != nil {
			return 0
		}
		return v.Float()
	}
}
