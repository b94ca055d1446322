// Package source provides the raw telemetry sources sampled by the provider.
package source

import (
	"errors"
	"fmt"

	"simlink/telemetry"
)

// ErrSourceUnavailable is wrapped by every transport failure: the simulator
// is not running, the bridge broker is gone, the replay file is unreadable.
var ErrSourceUnavailable = errors.New("source unavailable")

// ErrFieldNotFound is returned by Field for a name the source does not carry.
var ErrFieldNotFound = telemetry.ErrFieldNotFound

// Source is the unified interface for all raw telemetry transports.
// A Source is polled by exactly one provider goroutine and need not be safe
// for concurrent use, except for IsConnected.
type Source interface {
	// Identification
	Name() string

	// Connection management. Connect and Disconnect are idempotent.
	IsConnected() bool
	Connect() error
	Disconnect() error

	// Field access for the current instant
	telemetry.Sample
}

// Poller is implemented by sources that latch a new sample once per loop
// iteration. Between two Poll calls the values returned by Field do not
// change.
type Poller interface {
	Poll() error
}

// Describer is implemented by sources that know their field layout.
type Describer interface {
	Fields() []telemetry.FieldDesc
}

// Unavailable wraps err so that it matches ErrSourceUnavailable.
func Unavailable(name string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", name, ErrSourceUnavailable)
	}
	if errors.Is(err, ErrSourceUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", name, ErrSourceUnavailable, err)
}
