package telemetry

// State carries values from the previous published tick for derivations
// that compare against it. It is owned by the sampling loop goroutine and is
// not safe for concurrent use.
type State struct {
	values map[string]float64
}

// NewState returns an empty state.
func NewState() *State {
	return &State{values: make(map[string]float64)}
}

// Get returns the stored value for key, or 0 if none was stored.
func (s *State) Get(key string) float64 {
	if s == nil {
		return 0
	}
	return s.values[key]
}

// Lookup returns the stored value and whether key was present.
func (s *State) Lookup(key string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	v, ok := s.values[key]
	return v, ok
}

// Set stores v under key.
func (s *State) Set(key string, v float64) {
	s.values[key] = v
}

// Len returns the number of stored keys.
func (s *State) Len() int {
	if s == nil {
		return 0
	}
	return len(s.values)
}

// Reset forgets all stored values.
func (s *State) Reset() {
	for k := range s.values {
		delete(s.values, k)
	}
}
