package engine

import (
	"time"

	"simlink/provider"
	"simlink/telemetry"
)

// EventType identifies the kind of event emitted by the Engine.
type EventType int

const (
	// Provider events
	EventProviderStarted EventType = iota + 1
	EventProviderStopped
	EventProviderState
	EventSourceChanged
	EventSample

	// MQTT events
	EventMQTTCreated
	EventMQTTUpdated
	EventMQTTDeleted
	EventMQTTStarted
	EventMQTTStopped

	// Valkey events
	EventValkeyCreated
	EventValkeyUpdated
	EventValkeyDeleted
	EventValkeyStarted
	EventValkeyStopped

	// Kafka events
	EventKafkaCreated
	EventKafkaUpdated
	EventKafkaDeleted
	EventKafkaConnected
	EventKafkaDisconnected

	// System events
	EventNamespaceChanged
	EventSignalsChanged
	EventVehicleChanged
	EventAPIToggled
	EventMetricsToggled
	EventForcePublished
)

var eventNames = map[EventType]string{
	EventProviderStarted:   "provider.started",
	EventProviderStopped:   "provider.stopped",
	EventProviderState:     "provider.state",
	EventSourceChanged:     "provider.source",
	EventSample:            "sample",
	EventMQTTCreated:       "mqtt.created",
	EventMQTTUpdated:       "mqtt.updated",
	EventMQTTDeleted:       "mqtt.deleted",
	EventMQTTStarted:       "mqtt.started",
	EventMQTTStopped:       "mqtt.stopped",
	EventValkeyCreated:     "valkey.created",
	EventValkeyUpdated:     "valkey.updated",
	EventValkeyDeleted:     "valkey.deleted",
	EventValkeyStarted:     "valkey.started",
	EventValkeyStopped:     "valkey.stopped",
	EventKafkaCreated:      "kafka.created",
	EventKafkaUpdated:      "kafka.updated",
	EventKafkaDeleted:      "kafka.deleted",
	EventKafkaConnected:    "kafka.connected",
	EventKafkaDisconnected: "kafka.disconnected",
	EventNamespaceChanged:  "system.namespace",
	EventSignalsChanged:    "system.signals",
	EventVehicleChanged:    "system.vehicle",
	EventAPIToggled:        "system.api",
	EventMetricsToggled:    "system.metrics",
	EventForcePublished:    "system.force_publish",
}

// String returns the dotted event name used on the wire.
func (t EventType) String() string {
	if s, ok := eventNames[t]; ok {
		return s
	}
	return "unknown"
}

// Event is the envelope emitted by the Engine's EventBus.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   interface{}
}

// ProviderEvent is the payload for provider lifecycle and state events.
type ProviderEvent struct {
	Status provider.Status
}

// SampleEvent is the payload for EventSample. The snapshot is shared and
// must not be modified.
type SampleEvent struct {
	Snapshot *telemetry.Snapshot
}

// ServiceEvent is the payload for MQTT/Valkey/Kafka lifecycle events.
type ServiceEvent struct {
	Name string
}

// SystemEvent is the payload for system-level events.
type SystemEvent struct {
	Detail string
}
