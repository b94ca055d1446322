package telemetry

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTelemetryValue is matched by every resolution failure.
	ErrUnknownTelemetryValue = errors.New("unknown telemetry value")

	// ErrIndexOutOfRange is returned when an array index is past the end.
	ErrIndexOutOfRange = errors.New("array index out of range")
)

// UnknownValueError reports a name that is neither derived nor present in
// the sample, or that resolved to an absent value.
type UnknownValueError struct {
	Name  string
	Cause error
}

func (e *UnknownValueError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("unknown telemetry value %q: %v", e.Name, e.Cause)
	}
	return fmt.Sprintf("unknown telemetry value %q", e.Name)
}

func (e *UnknownValueError) Unwrap() error { return e.Cause }

// Is lets errors.Is match ErrUnknownTelemetryValue.
func (e *UnknownValueError) Is(target error) bool {
	return target == ErrUnknownTelemetryValue
}

func unknown(name string, cause error) error {
	return &UnknownValueError{Name: name, Cause: cause}
}
