// Package config handles configuration persistence for the SimLink application.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigListenerID is a unique identifier for a config change listener.
type ConfigListenerID string

// Source kinds understood by the provider.
const (
	SourceMock   = "mock"
	SourceReplay = "replay"
	SourceBridge = "bridge"
)

// Config holds the complete application configuration.
type Config struct {
	Namespace string            `yaml:"namespace"` // Required: instance namespace for topic/key isolation
	Provider  ProviderConfig    `yaml:"provider"`
	Vehicle   VehicleConfig     `yaml:"vehicle"`
	Signals   []string          `yaml:"signals,omitempty"` // Names published each tick; empty means the full value list
	Units     map[string]string `yaml:"units,omitempty"`   // Name -> unit tag
	Web       WebConfig         `yaml:"web"`
	MQTT      []MQTTConfig      `yaml:"mqtt"`
	Valkey    []ValkeyConfig    `yaml:"valkey,omitempty"`
	Kafka     []KafkaConfig     `yaml:"kafka,omitempty"`
	UI        UIConfig          `yaml:"ui,omitempty"`

	// Data mutex protects all config fields against concurrent access.
	// Callers that modify config should Lock(), modify, then call UnlockAndSave().
	// Save() acquires the lock internally for callers that don't hold it.
	dataMu sync.Mutex `yaml:"-"`

	// Change listeners (not serialized)
	changeListeners map[ConfigListenerID]func() `yaml:"-"`
	listenersMu     sync.RWMutex                `yaml:"-"`
	listenerCounter uint64                      `yaml:"-"`
}

// ProviderConfig controls the sampling loop and its raw sample source.
type ProviderConfig struct {
	Source          string          `yaml:"source"`           // mock, replay, bridge
	UpdateFrequency int             `yaml:"update_frequency"` // Hz
	IdleTimeout     time.Duration   `yaml:"idle_timeout"`     // No fresh sample for this long => idle
	ErrorBackoff    time.Duration   `yaml:"error_backoff"`    // Sleep after a source error
	AutoStart       bool            `yaml:"auto_start"`
	Freshness       FreshnessConfig `yaml:"freshness"`
	Replay          ReplayConfig    `yaml:"replay,omitempty"`
	Bridge          BridgeConfig    `yaml:"bridge,omitempty"`
}

// FreshnessConfig names the fields used to decide whether a sample is new.
type FreshnessConfig struct {
	TickField   string `yaml:"tick_field"`   // Changes on every new sample
	ActiveField string `yaml:"active_field"` // Must be true for a sample to count; empty disables
}

// ReplayConfig holds settings for the CSV replay source.
type ReplayConfig struct {
	Path string `yaml:"path"`
	Loop bool   `yaml:"loop,omitempty"`
}

// BridgeConfig holds settings for the MQTT bridge source.
type BridgeConfig struct {
	Broker     string        `yaml:"broker"`
	Port       int           `yaml:"port"`
	Topic      string        `yaml:"topic"`
	ClientID   string        `yaml:"client_id,omitempty"`
	Username   string        `yaml:"username,omitempty"`
	Password   string        `yaml:"password,omitempty"`
	UseTLS     bool          `yaml:"use_tls,omitempty"`
	StaleAfter time.Duration `yaml:"stale_after,omitempty"` // No frame for this long => not connected
}

// VehicleConfig holds the per-vehicle constants used by derived signals.
type VehicleConfig struct {
	Name          string   `yaml:"name"`
	Wheelbase     float64  `yaml:"wheelbase"`   // metres
	TrackWidth    float64  `yaml:"track_width"` // metres
	RumbleCorners []string `yaml:"rumble_corners"`
}

// UIConfig stores user interface preferences.
type UIConfig struct {
	Theme           string        `yaml:"theme,omitempty"`      // Theme name: default, mono
	ASCIIMode       bool          `yaml:"ascii_mode,omitempty"` // Use ASCII characters for borders (for terminals without Unicode)
	RefreshInterval time.Duration `yaml:"refresh_interval,omitempty"`
}

// WebConfig holds unified web server configuration.
type WebConfig struct {
	Enabled bool          `yaml:"enabled"`
	Host    string        `yaml:"host"`
	Port    int           `yaml:"port"`
	API     WebAPIConfig  `yaml:"api"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// WebAPIConfig holds REST API settings.
type WebAPIConfig struct {
	Enabled bool      `yaml:"enabled"`
	Users   []WebUser `yaml:"users,omitempty"` // Empty disables authentication
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path,omitempty"`
}

// WebUser represents an API user checked with HTTP basic auth.
type WebUser struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"` // bcrypt
	Role         string `yaml:"role"`          // "admin" or "viewer"
}

// Web user roles
const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

// MQTTConfig holds MQTT publisher configuration.
type MQTTConfig struct {
	Name     string `yaml:"name"`
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	ClientID string `yaml:"client_id"`
	Selector string `yaml:"selector,omitempty"` // Optional sub-namespace
	UseTLS   bool   `yaml:"use_tls,omitempty"`
	PerValue bool   `yaml:"per_value,omitempty"` // Also publish each changed value to its own topic
}

// ValkeyConfig holds Valkey/Redis publisher configuration.
type ValkeyConfig struct {
	Name           string        `yaml:"name"`
	Enabled        bool          `yaml:"enabled"`
	Address        string        `yaml:"address"` // host:port format
	Password       string        `yaml:"password,omitempty"`
	Database       int           `yaml:"database"`           // Redis DB number (default 0)
	Selector       string        `yaml:"selector,omitempty"` // Optional sub-namespace
	UseTLS         bool          `yaml:"use_tls,omitempty"`
	KeyTTL         time.Duration `yaml:"key_ttl,omitempty"`         // TTL for keys (0 = no expiry)
	PublishChanges bool          `yaml:"publish_changes,omitempty"` // Publish to Pub/Sub on changes
}

// KafkaConfig holds Kafka cluster configuration for YAML persistence.
// Note: This struct uses pointer types (e.g., *bool) for optional fields to distinguish
// between "not set" (nil = use default) and "explicitly set to false".
// The kafka package has its own Config struct with non-pointer types for runtime use.
type KafkaConfig struct {
	Name          string        `yaml:"name"`
	Enabled       bool          `yaml:"enabled"`
	Brokers       []string      `yaml:"brokers"`
	UseTLS        bool          `yaml:"use_tls,omitempty"`
	TLSSkipVerify bool          `yaml:"tls_skip_verify,omitempty"`
	SASLMechanism string        `yaml:"sasl_mechanism,omitempty"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username      string        `yaml:"username,omitempty"`
	Password      string        `yaml:"password,omitempty"`
	RequiredAcks  int           `yaml:"required_acks,omitempty"` // -1=all, 0=none, 1=leader
	MaxRetries    int           `yaml:"max_retries,omitempty"`
	RetryBackoff  time.Duration `yaml:"retry_backoff,omitempty"`

	Topic            string `yaml:"topic,omitempty"`              // Default: <namespace>-telemetry
	Selector         string `yaml:"selector,omitempty"`           // Optional sub-namespace
	AutoCreateTopics *bool  `yaml:"auto_create_topics,omitempty"` // Auto-create topics if they don't exist (default true)
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			Source:          SourceMock,
			UpdateFrequency: 60,
			IdleTimeout:     500 * time.Millisecond,
			ErrorBackoff:    time.Second,
			AutoStart:       true,
			Freshness: FreshnessConfig{
				TickField:   "SessionTick",
				ActiveField: "IsOnTrack",
			},
			Bridge: BridgeConfig{
				Port:       1883,
				Topic:      "sim/telemetry",
				StaleAfter: 2 * time.Second,
			},
		},
		Vehicle: DefaultVehicle(),
		Web: WebConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			API: WebAPIConfig{
				Enabled: true,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
		MQTT:   []MQTTConfig{},
		Valkey: []ValkeyConfig{},
		Kafka:  []KafkaConfig{},
		UI: UIConfig{
			RefreshInterval: 250 * time.Millisecond,
		},
	}
}

// DefaultVehicle returns the stock vehicle profile.
func DefaultVehicle() VehicleConfig {
	return VehicleConfig{
		Name:          "default",
		Wheelbase:     2.456,
		TrackWidth:    1.980,
		RumbleCorners: []string{"LF", "RF", "LR", "RR"},
	}
}

// DefaultMQTTConfig returns an MQTT broker definition pointing at localhost.
func DefaultMQTTConfig(name string) MQTTConfig {
	return MQTTConfig{
		Name:     name,
		Broker:   "localhost",
		Port:     1883,
		ClientID: "simlink-" + name,
	}
}

// DefaultValkeyConfig returns a Valkey server definition pointing at localhost.
func DefaultValkeyConfig(name string) ValkeyConfig {
	return ValkeyConfig{
		Name:           name,
		Address:        "localhost:6379",
		PublishChanges: true,
	}
}

// DefaultKafkaConfig returns a Kafka cluster definition pointing at localhost.
func DefaultKafkaConfig(name string) KafkaConfig {
	return KafkaConfig{
		Name:         name,
		Brokers:      []string{"localhost:9092"},
		RequiredAcks: -1,
		MaxRetries:   3,
		RetryBackoff: 100 * time.Millisecond,
	}
}

// SamplePeriod returns the sleep between loop iterations.
func (p ProviderConfig) SamplePeriod() time.Duration {
	if p.UpdateFrequency <= 0 {
		return time.Second / 60
	}
	return time.Second / time.Duration(p.UpdateFrequency)
}

// FindMQTT returns the MQTT config with the given name, or nil if not found.
func (c *Config) FindMQTT(name string) *MQTTConfig {
	for i := range c.MQTT {
		if c.MQTT[i].Name == name {
			return &c.MQTT[i]
		}
	}
	return nil
}

// AddMQTT adds a new MQTT configuration.
func (c *Config) AddMQTT(mqtt MQTTConfig) {
	c.MQTT = append(c.MQTT, mqtt)
}

// RemoveMQTT removes an MQTT config by name.
func (c *Config) RemoveMQTT(name string) bool {
	for i, m := range c.MQTT {
		if m.Name == name {
			c.MQTT = append(c.MQTT[:i], c.MQTT[i+1:]...)
			return true
		}
	}
	return false
}

// UpdateMQTT updates an existing MQTT configuration.
func (c *Config) UpdateMQTT(name string, updated MQTTConfig) bool {
	for i, m := range c.MQTT {
		if m.Name == name {
			c.MQTT[i] = updated
			return true
		}
	}
	return false
}

// FindValkey returns the Valkey config with the given name, or nil if not found.
func (c *Config) FindValkey(name string) *ValkeyConfig {
	for i := range c.Valkey {
		if c.Valkey[i].Name == name {
			return &c.Valkey[i]
		}
	}
	return nil
}

// AddValkey adds a new Valkey configuration.
func (c *Config) AddValkey(valkey ValkeyConfig) {
	c.Valkey = append(c.Valkey, valkey)
}

// RemoveValkey removes a Valkey config by name.
func (c *Config) RemoveValkey(name string) bool {
	for i, v := range c.Valkey {
		if v.Name == name {
			c.Valkey = append(c.Valkey[:i], c.Valkey[i+1:]...)
			return true
		}
	}
	return false
}

// UpdateValkey updates an existing Valkey configuration.
func (c *Config) UpdateValkey(name string, updated ValkeyConfig) bool {
	for i, v := range c.Valkey {
		if v.Name == name {
			c.Valkey[i] = updated
			return true
		}
	}
	return false
}

// FindKafka returns the Kafka config with the given name, or nil if not found.
func (c *Config) FindKafka(name string) *KafkaConfig {
	for i := range c.Kafka {
		if c.Kafka[i].Name == name {
			return &c.Kafka[i]
		}
	}
	return nil
}

// AddKafka adds a new Kafka configuration.
func (c *Config) AddKafka(kafka KafkaConfig) {
	c.Kafka = append(c.Kafka, kafka)
}

// RemoveKafka removes a Kafka config by name.
func (c *Config) RemoveKafka(name string) bool {
	for i, k := range c.Kafka {
		if k.Name == name {
			c.Kafka = append(c.Kafka[:i], c.Kafka[i+1:]...)
			return true
		}
	}
	return false
}

// UpdateKafka updates an existing Kafka configuration.
func (c *Config) UpdateKafka(name string, updated KafkaConfig) bool {
	for i, k := range c.Kafka {
		if k.Name == name {
			c.Kafka[i] = updated
			return true
		}
	}
	return false
}

// FindWebUser returns the API user with the given username, or nil if not found.
func (c *Config) FindWebUser(username string) *WebUser {
	for i := range c.Web.API.Users {
		if c.Web.API.Users[i].Username == username {
			return &c.Web.API.Users[i]
		}
	}
	return nil
}

// AddWebUser adds a new API user.
func (c *Config) AddWebUser(user WebUser) {
	c.Web.API.Users = append(c.Web.API.Users, user)
}

// RemoveWebUser removes an API user by username.
func (c *Config) RemoveWebUser(username string) bool {
	for i, u := range c.Web.API.Users {
		if u.Username == username {
			c.Web.API.Users = append(c.Web.API.Users[:i], c.Web.API.Users[i+1:]...)
			return true
		}
	}
	return false
}

// DefaultPath returns the default configuration file path (~/.simlink/config.yaml).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".simlink", "config.yaml")
}

// Load reads configuration from a YAML file.
// A missing file yields the defaults, which are saved back best-effort.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	dirty := false

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		dirty = true
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	if cfg.applyDefaults() {
		dirty = true
	}

	if dirty {
		cfg.Save(path) // Best-effort save
	}

	return cfg, nil
}

// applyDefaults fills zero values that a hand-written file may leave out.
// It reports whether anything changed.
func (c *Config) applyDefaults() bool {
	def := DefaultConfig()
	changed := false
	if c.Provider.Source == "" {
		c.Provider.Source = def.Provider.Source
		changed = true
	}
	if c.Provider.UpdateFrequency <= 0 {
		c.Provider.UpdateFrequency = def.Provider.UpdateFrequency
		changed = true
	}
	if c.Provider.IdleTimeout <= 0 {
		c.Provider.IdleTimeout = def.Provider.IdleTimeout
		changed = true
	}
	if c.Provider.ErrorBackoff <= 0 {
		c.Provider.ErrorBackoff = def.Provider.ErrorBackoff
		changed = true
	}
	if c.Provider.Freshness.TickField == "" {
		c.Provider.Freshness.TickField = def.Provider.Freshness.TickField
		changed = true
	}
	if c.Vehicle.Wheelbase <= 0 || c.Vehicle.TrackWidth <= 0 {
		name := c.Vehicle.Name
		corners := c.Vehicle.RumbleCorners
		c.Vehicle = DefaultVehicle()
		if name != "" {
			c.Vehicle.Name = name
		}
		if len(corners) > 0 {
			c.Vehicle.RumbleCorners = corners
		}
		changed = true
	}
	if len(c.Vehicle.RumbleCorners) == 0 {
		c.Vehicle.RumbleCorners = def.Vehicle.RumbleCorners
		changed = true
	}
	return changed
}

// AddOnChangeListener registers a callback to be called when the config is saved.
// Returns an ID that can be used to remove the listener later.
func (c *Config) AddOnChangeListener(cb func()) ConfigListenerID {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	if c.changeListeners == nil {
		c.changeListeners = make(map[ConfigListenerID]func())
	}

	id := ConfigListenerID(fmt.Sprintf("listener-%d", atomic.AddUint64(&c.listenerCounter, 1)))
	c.changeListeners[id] = cb
	return id
}

// RemoveOnChangeListener removes a previously registered listener.
func (c *Config) RemoveOnChangeListener(id ConfigListenerID) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	delete(c.changeListeners, id)
}

// notifyChangeListeners calls all registered change listeners.
func (c *Config) notifyChangeListeners() {
	c.listenersMu.RLock()
	listeners := make([]func(), 0, len(c.changeListeners))
	for _, cb := range c.changeListeners {
		listeners = append(listeners, cb)
	}
	c.listenersMu.RUnlock()

	// Call listeners outside the lock to avoid deadlocks
	for _, cb := range listeners {
		go cb()
	}
}

// Lock acquires the config data mutex for exclusive access.
// Use this before modifying config fields, then call UnlockAndSave.
func (c *Config) Lock() { c.dataMu.Lock() }

// Unlock releases the config data mutex without saving.
// Prefer UnlockAndSave when modifications were made.
func (c *Config) Unlock() { c.dataMu.Unlock() }

// Save acquires the lock, marshals, writes, and notifies.
// Use this when the caller does not already hold the lock.
func (c *Config) Save(path string) error {
	c.dataMu.Lock()
	return c.saveLocked(path)
}

// UnlockAndSave marshals, releases the lock, writes, and notifies.
// The caller must already hold the lock via Lock().
func (c *Config) UnlockAndSave(path string) error {
	return c.saveLocked(path)
}

// saveLocked marshals config (lock must be held), unlocks, then writes and notifies.
func (c *Config) saveLocked(path string) error {
	data, err := yaml.Marshal(c)
	c.dataMu.Unlock() // Release lock after marshal, before I/O

	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}

	c.notifyChangeListeners()
	return nil
}

// Validate checks the configuration for errors.
// Note: Empty namespace is allowed here - the TUI will prompt for it interactively.
func (c *Config) Validate() error {
	if c.Namespace != "" && !IsValidNamespace(c.Namespace) {
		return fmt.Errorf("invalid namespace: must contain only alphanumeric characters, hyphens, and underscores")
	}
	switch c.Provider.Source {
	case SourceMock:
	case SourceReplay:
		if c.Provider.Replay.Path == "" {
			return fmt.Errorf("replay source requires provider.replay.path")
		}
	case SourceBridge:
		if c.Provider.Bridge.Broker == "" {
			return fmt.Errorf("bridge source requires provider.bridge.broker")
		}
		if c.Provider.Bridge.Topic == "" {
			return fmt.Errorf("bridge source requires provider.bridge.topic")
		}
	default:
		return fmt.Errorf("unknown source %q: must be one of mock, replay, bridge", c.Provider.Source)
	}
	if c.Provider.UpdateFrequency < 0 || c.Provider.UpdateFrequency > 1000 {
		return fmt.Errorf("update_frequency must be between 1 and 1000 Hz")
	}
	for _, corner := range c.Vehicle.RumbleCorners {
		if !IsValidCorner(corner) {
			return fmt.Errorf("invalid rumble corner %q: must be one of LF, RF, LR, RR, CF", corner)
		}
	}
	for _, u := range c.Web.API.Users {
		if u.Role != RoleAdmin && u.Role != RoleViewer {
			return fmt.Errorf("api user %q: role must be %q or %q", u.Username, RoleAdmin, RoleViewer)
		}
	}
	return nil
}

// IsValidCorner reports whether corner names a shock deflection sensor.
func IsValidCorner(corner string) bool {
	switch corner {
	case "LF", "RF", "LR", "RR", "CF":
		return true
	}
	return false
}

// IsValidNamespace returns true if the namespace is valid.
// Valid namespaces contain only alphanumeric characters, hyphens, underscores, and dots.
func IsValidNamespace(ns string) bool {
	if ns == "" {
		return false
	}
	for _, r := range ns {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.') {
			return false
		}
	}
	return true
}
