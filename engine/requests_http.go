package engine

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return 0
}

// ProviderHTTPRequest is the JSON-serializable form of provider settings.
type ProviderHTTPRequest struct {
	Source          string  `json:"source"`
	UpdateFrequency int     `json:"update_frequency"`
	IdleTimeout     string  `json:"idle_timeout"`
	ErrorBackoff    string  `json:"error_backoff"`
	TickField       string  `json:"tick_field"`
	ActiveField     *string `json:"active_field,omitempty"`
	ReplayPath      string  `json:"replay_path"`
	ReplayLoop      *bool   `json:"replay_loop,omitempty"`
	AutoStart       *bool   `json:"auto_start,omitempty"`
}

// ToSettingsRequest converts to an engine ProviderSettingsRequest.
func (r ProviderHTTPRequest) ToSettingsRequest() ProviderSettingsRequest {
	return ProviderSettingsRequest{
		Source: r.Source, UpdateFrequency: r.UpdateFrequency,
		IdleTimeout: parseDuration(r.IdleTimeout), ErrorBackoff: parseDuration(r.ErrorBackoff),
		TickField: r.TickField, ActiveField: r.ActiveField,
		ReplayPath: r.ReplayPath, ReplayLoop: r.ReplayLoop, AutoStart: r.AutoStart,
	}
}

// MQTTHTTPRequest is the JSON-serializable form of MQTT create/update fields.
type MQTTHTTPRequest struct {
	Name     string `json:"name"`
	Broker   string `json:"broker"`
	Port     int    `json:"port"`
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Password string `json:"password"`
	Selector string `json:"selector"`
	UseTLS   bool   `json:"use_tls"`
	PerValue bool   `json:"per_value"`
	Enabled  bool   `json:"enabled"`
}

// ToCreateRequest converts to an engine MQTTCreateRequest.
func (r MQTTHTTPRequest) ToCreateRequest() MQTTCreateRequest {
	return MQTTCreateRequest{
		Name: r.Name, Broker: r.Broker, Port: r.Port,
		ClientID: r.ClientID, Username: r.Username, Password: r.Password,
		Selector: r.Selector, UseTLS: r.UseTLS, PerValue: r.PerValue, Enabled: r.Enabled,
	}
}

// ToUpdateRequest converts to an engine MQTTUpdateRequest.
func (r MQTTHTTPRequest) ToUpdateRequest() MQTTUpdateRequest {
	return MQTTUpdateRequest{
		Broker: r.Broker, Port: r.Port,
		ClientID: r.ClientID, Username: r.Username, Password: r.Password,
		Selector: r.Selector, UseTLS: r.UseTLS, PerValue: r.PerValue, Enabled: r.Enabled,
	}
}

// ValkeyHTTPRequest is the JSON-serializable form of Valkey create/update fields.
type ValkeyHTTPRequest struct {
	Name           string `json:"name"`
	Address        string `json:"address"`
	Password       string `json:"password"`
	Database       int    `json:"database"`
	Selector       string `json:"selector"`
	KeyTTL         string `json:"key_ttl"`
	UseTLS         bool   `json:"use_tls"`
	PublishChanges bool   `json:"publish_changes"`
	Enabled        bool   `json:"enabled"`
}

// ToCreateRequest converts to an engine ValkeyCreateRequest.
func (r ValkeyHTTPRequest) ToCreateRequest() ValkeyCreateRequest {
	return ValkeyCreateRequest{
		Name: r.Name, Address: r.Address, Password: r.Password,
		Database: r.Database, Selector: r.Selector, KeyTTL: parseDuration(r.KeyTTL),
		UseTLS: r.UseTLS, PublishChanges: r.PublishChanges, Enabled: r.Enabled,
	}
}

// ToUpdateRequest converts to an engine ValkeyUpdateRequest.
func (r ValkeyHTTPRequest) ToUpdateRequest() ValkeyUpdateRequest {
	return ValkeyUpdateRequest{
		Address: r.Address, Password: r.Password,
		Database: r.Database, Selector: r.Selector, KeyTTL: parseDuration(r.KeyTTL),
		UseTLS: r.UseTLS, PublishChanges: r.PublishChanges, Enabled: r.Enabled,
	}
}

// KafkaHTTPRequest is the JSON-serializable form of Kafka create/update fields.
// Supports both comma-separated "brokers" string and "broker_list" array.
type KafkaHTTPRequest struct {
	Name             string   `json:"name"`
	Brokers          string   `json:"brokers"`               // comma-separated
	BrokerList       []string `json:"broker_list,omitempty"` // alternative to comma-separated
	UseTLS           bool     `json:"use_tls"`
	TLSSkipVerify    bool     `json:"tls_skip_verify"`
	SASLMechanism    string   `json:"sasl_mechanism"`
	Username         string   `json:"username"`
	Password         string   `json:"password"`
	Topic            string   `json:"topic"`
	Selector         string   `json:"selector"`
	AutoCreateTopics bool     `json:"auto_create_topics"`
	Enabled          bool     `json:"enabled"`
	RequiredAcks     int      `json:"required_acks"`
	MaxRetries       int      `json:"max_retries"`
	RetryBackoff     string   `json:"retry_backoff"`
}

// ParseBrokers returns the broker list, preferring BrokerList over comma-separated Brokers.
func (r KafkaHTTPRequest) ParseBrokers() []string {
	if len(r.BrokerList) > 0 {
		return r.BrokerList
	}
	if r.Brokers == "" {
		return nil
	}
	var brokers []string
	for _, b := range strings.Split(r.Brokers, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// ToCreateRequest converts to an engine KafkaCreateRequest.
func (r KafkaHTTPRequest) ToCreateRequest() KafkaCreateRequest {
	return KafkaCreateRequest{
		Name: r.Name, Brokers: r.ParseBrokers(), UseTLS: r.UseTLS,
		TLSSkipVerify: r.TLSSkipVerify, SASLMechanism: r.SASLMechanism,
		Username: r.Username, Password: r.Password, Topic: r.Topic, Selector: r.Selector,
		AutoCreateTopics: r.AutoCreateTopics, Enabled: r.Enabled,
		RequiredAcks: r.RequiredAcks, MaxRetries: r.MaxRetries,
		RetryBackoff: parseDuration(r.RetryBackoff),
	}
}

// ToUpdateRequest converts to an engine KafkaUpdateRequest.
func (r KafkaHTTPRequest) ToUpdateRequest() KafkaUpdateRequest {
	return KafkaUpdateRequest{
		Brokers: r.ParseBrokers(), UseTLS: r.UseTLS,
		TLSSkipVerify: r.TLSSkipVerify, SASLMechanism: r.SASLMechanism,
		Username: r.Username, Password: r.Password, Topic: r.Topic, Selector: r.Selector,
		AutoCreateTopics: r.AutoCreateTopics, Enabled: r.Enabled,
		RequiredAcks: r.RequiredAcks, MaxRetries: r.MaxRetries,
		RetryBackoff: parseDuration(r.RetryBackoff),
	}
}

// EngineHTTPStatus maps engine sentinel errors to HTTP status codes.
func EngineHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNoSample):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
