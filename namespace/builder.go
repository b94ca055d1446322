// Package namespace provides utilities for constructing topic and key paths
// with consistent namespace prefixing across all sinks (MQTT, Valkey, Kafka).
package namespace

import "strings"

// Builder constructs namespace-prefixed topics and keys. The selector
// narrows telemetry paths to one rig or car; status paths ignore it.
type Builder struct {
	namespace string
	selector  string
}

// New creates a new namespace builder.
func New(namespace, selector string) *Builder {
	return &Builder{
		namespace: namespace,
		selector:  selector,
	}
}

// Namespace returns the namespace the builder was created with.
func (b *Builder) Namespace() string { return b.namespace }

// Selector returns the selector the builder was created with.
func (b *Builder) Selector() string { return b.selector }

// --- MQTT (delimiter: /) ---

// MQTTSnapshotTopic returns the topic for whole snapshots: {ns}[/{sel}]/telemetry
func (b *Builder) MQTTSnapshotTopic() string {
	return b.mqttBase() + "/telemetry"
}

// MQTTValueTopic returns the topic for a single value: {ns}[/{sel}]/telemetry/{name}
func (b *Builder) MQTTValueTopic(name string) string {
	return b.mqttBase() + "/telemetry/" + name
}

// MQTTStatusTopic returns the retained provider status topic: {ns}/status
func (b *Builder) MQTTStatusTopic() string {
	return b.namespace + "/status"
}

// MQTTBase returns the base topic: {ns}[/{sel}]
func (b *Builder) MQTTBase() string {
	return b.mqttBase()
}

func (b *Builder) mqttBase() string {
	if b.selector != "" {
		return b.namespace + "/" + b.selector
	}
	return b.namespace
}

// --- Valkey (delimiter: :) ---

// ValkeySnapshotKey returns the key holding the latest snapshot: {ns}[:{sel}]:telemetry
func (b *Builder) ValkeySnapshotKey() string {
	return JoinKey(b.namespace, b.selector, "telemetry")
}

// ValkeyValueKey returns the key holding one value: {ns}[:{sel}]:telemetry:{name}
func (b *Builder) ValkeyValueKey(name string) string {
	return JoinKey(b.namespace, b.selector, "telemetry", name)
}

// ValkeyChangesChannel returns the Pub/Sub channel for changes: {ns}[:{sel}]:telemetry:changes
func (b *Builder) ValkeyChangesChannel() string {
	return JoinKey(b.namespace, b.selector, "telemetry", "changes")
}

// ValkeyStatusKey returns the key holding provider status: {ns}:status
func (b *Builder) ValkeyStatusKey() string {
	return JoinKey(b.namespace, "status")
}

// JoinKey joins key segments with colons, trimming leading/trailing colons
// from each segment to avoid empty key parts (e.g., "foo::bar" or ":foo:bar:").
func JoinKey(segments ...string) string {
	var parts []string
	for _, s := range segments {
		s = strings.Trim(s, ":")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ":")
}

// --- Kafka (delimiter: - for topics, . for keys and status) ---

// KafkaTelemetryTopic returns the default snapshot topic: {ns}-telemetry
// The selector goes into the message key instead so one rig stays on one
// partition.
func (b *Builder) KafkaTelemetryTopic() string {
	return b.namespace + "-telemetry"
}

// KafkaStatusTopic returns the status topic for a snapshot topic: {topic}.status
func (b *Builder) KafkaStatusTopic(topic string) string {
	return topic + ".status"
}

// KafkaKey returns the message key: {ns}[.{sel}]
func (b *Builder) KafkaKey() string {
	if b.selector != "" {
		return b.namespace + "." + b.selector
	}
	return b.namespace
}
