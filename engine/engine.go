package engine

import (
	"sync"

	"simlink/config"
	"simlink/kafka"
	"simlink/logging"
	"simlink/mqtt"
	"simlink/provider"
	"simlink/source"
	"simlink/telemetry"
	"simlink/valkey"
)

// LogFunc is the logging callback signature. Engine never imports the tui package.
type LogFunc = logging.LogFunc

// Config holds the parameters needed to create an Engine.
type Config struct {
	AppConfig  *config.Config
	ConfigPath string
	LogFunc    LogFunc

	// Observer receives loop measurements, typically the metrics collector.
	Observer provider.Observer

	// NewSource overrides source construction from the provider config.
	NewSource func(*config.ProviderConfig) (source.Source, error)
}

// Engine centralizes all business logic: config mutations, provider and
// sink orchestration, and callback wiring. TUI, web server and REST API
// are thin consumers.
type Engine struct {
	cfg        *config.Config
	configPath string
	logFn      LogFunc
	observer   provider.Observer
	newSource  func(*config.ProviderConfig) (source.Source, error)

	mu       sync.RWMutex
	prov     *provider.Provider
	signals  []string // nil means the provider's full value list
	latest   *telemetry.Snapshot
	buildErr error

	mqttMgr   *mqtt.Manager
	valkeyMgr *valkey.Manager
	kafkaMgr  *kafka.Manager

	Events *EventBus

	stopChan chan struct{}
}

// New creates a new Engine. Call Start() to build the provider and sinks.
func New(c Config) *Engine {
	logFn := c.LogFunc
	if logFn == nil {
		logFn = logging.Discard
	}
	newSource := c.NewSource
	if newSource == nil {
		newSource = source.Create
	}
	return &Engine{
		cfg:        c.AppConfig,
		configPath: c.ConfigPath,
		logFn:      logFn,
		observer:   c.Observer,
		newSource:  newSource,
		Events:     NewEventBus(),
		stopChan:   make(chan struct{}),
	}
}

// Start creates the provider and sink managers, wires callbacks, and
// auto-starts enabled services.
func (e *Engine) Start() {
	cfg := e.cfg

	mqttMgr := mqtt.NewManager()
	mqttMgr.LoadFromConfig(cfg.MQTT, cfg.Namespace)

	valkeyMgr := valkey.NewManager(cfg.Namespace)
	valkeyMgr.LoadFromConfig(cfg.Valkey)

	kafkaMgr := kafka.NewManager(cfg.Namespace)
	kafkaMgr.LoadFromConfig(cfg.Kafka)

	e.mu.Lock()
	e.mqttMgr, e.valkeyMgr, e.kafkaMgr = mqttMgr, valkeyMgr, kafkaMgr
	e.mu.Unlock()

	e.setSignals(cfg.Signals)

	if err := e.rebuildProvider(); err != nil {
		e.logFn("Provider not available: %v", err)
	} else if cfg.Provider.AutoStart {
		e.StartProvider()
	}

	// Auto-start enabled MQTT publishers
	go func() {
		if started := mqttMgr.StartAll(); started > 0 {
			e.publishStatusToSinks()
		}
	}()

	// Auto-start enabled Valkey publishers
	go func() {
		if started := valkeyMgr.StartAll(); started > 0 {
			e.publishStatusToSinks()
		}
	}()

	// Auto-connect enabled Kafka clusters
	go kafkaMgr.ConnectEnabled()
}

// Stop shuts down the provider and all sinks.
func (e *Engine) Stop() {
	select {
	case <-e.stopChan:
	default:
		close(e.stopChan)
	}

	e.mu.Lock()
	p := e.prov
	e.mu.Unlock()
	if p != nil {
		p.Stop()
	}

	if m := e.GetMQTTMgr(); m != nil {
		m.StopAll()
	}
	if m := e.GetValkeyMgr(); m != nil {
		m.StopAll()
	}
	if m := e.GetKafkaMgr(); m != nil {
		m.StopAll()
	}
}

// Managers provides access to shared backend managers.
// *Engine satisfies this interface via its accessor methods.
type Managers interface {
	GetConfig() *config.Config
	GetConfigPath() string
	GetProvider() *provider.Provider
	GetMQTTMgr() *mqtt.Manager
	GetValkeyMgr() *valkey.Manager
	GetKafkaMgr() *kafka.Manager
}

// Verify *Engine implements Managers at compile time.
var _ Managers = (*Engine)(nil)

func (e *Engine) GetConfig() *config.Config { return e.cfg }
func (e *Engine) GetConfigPath() string      { return e.configPath }

func (e *Engine) GetMQTTMgr() *mqtt.Manager {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mqttMgr
}

func (e *Engine) GetValkeyMgr() *valkey.Manager {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.valkeyMgr
}

func (e *Engine) GetKafkaMgr() *kafka.Manager {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.kafkaMgr
}

// GetProvider returns the current provider, or nil when the source could
// not be built.
func (e *Engine) GetProvider() *provider.Provider {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.prov
}

// ProviderError returns why the provider could not be built, if it could not.
func (e *Engine) ProviderError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.buildErr
}

// Latest returns the most recent snapshot, or nil before the first sample.
func (e *Engine) Latest() *telemetry.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.latest
}

// Signals returns the names captured each tick.
func (e *Engine) Signals() []string {
	e.mu.RLock()
	signals, p := e.signals, e.prov
	e.mu.RUnlock()

	if len(signals) > 0 {
		return append([]string(nil), signals...)
	}
	if p != nil {
		return p.ValueList()
	}
	return nil
}

// saveConfig is a helper that saves and unlocks a config locked by the caller.
func (e *Engine) saveConfig() error {
	return e.cfg.UnlockAndSave(e.configPath)
}

func (e *Engine) emit(t EventType, payload interface{}) {
	e.Events.Emit(Event{Type: t, Payload: payload})
}
