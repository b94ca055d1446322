package engine

import "time"

// MQTTCreateRequest holds fields for creating an MQTT broker.
type MQTTCreateRequest struct {
	Name     string
	Broker   string
	Port     int
	ClientID string
	Username string
	Password string
	Selector string
	UseTLS   bool
	PerValue bool
	Enabled  bool
}

// MQTTUpdateRequest holds fields for updating an MQTT broker.
type MQTTUpdateRequest struct {
	Broker   string
	Port     int
	ClientID string
	Username string
	Password string
	Selector string
	UseTLS   bool
	PerValue bool
	Enabled  bool
}

// ValkeyCreateRequest holds fields for creating a Valkey server.
type ValkeyCreateRequest struct {
	Name           string
	Address        string
	Password       string
	Database       int
	Selector       string
	KeyTTL         time.Duration
	UseTLS         bool
	PublishChanges bool
	Enabled        bool
}

// ValkeyUpdateRequest holds fields for updating a Valkey server.
type ValkeyUpdateRequest struct {
	Address        string
	Password       string
	Database       int
	Selector       string
	KeyTTL         time.Duration
	UseTLS         bool
	PublishChanges bool
	Enabled        bool
}

// KafkaCreateRequest holds fields for creating a Kafka cluster.
type KafkaCreateRequest struct {
	Name             string
	Brokers          []string
	UseTLS           bool
	TLSSkipVerify    bool
	SASLMechanism    string
	Username         string
	Password         string
	Topic            string
	Selector         string
	AutoCreateTopics bool
	Enabled          bool
	RequiredAcks     int
	MaxRetries       int
	RetryBackoff     time.Duration
}

// KafkaUpdateRequest holds fields for updating a Kafka cluster.
type KafkaUpdateRequest struct {
	Brokers          []string
	UseTLS           bool
	TLSSkipVerify    bool
	SASLMechanism    string
	Username         string
	Password         string
	Topic            string
	Selector         string
	AutoCreateTopics bool
	Enabled          bool
	RequiredAcks     int
	MaxRetries       int
	RetryBackoff     time.Duration
}
