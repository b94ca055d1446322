package engine

import (
	"fmt"

	"simlink/config"
	"simlink/kafka"
	"simlink/mqtt"
	"simlink/valkey"
)

// SetNamespace updates the namespace in config, saves, and rebuilds the
// sinks so their topics and keys carry the new prefix.
func (e *Engine) SetNamespace(ns string) error {
	if !config.IsValidNamespace(ns) {
		return fmt.Errorf("%w: namespace %q", ErrInvalidInput, ns)
	}

	e.cfg.Lock()
	e.cfg.Namespace = ns
	if err := e.saveConfig(); err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}

	e.reloadSinks()

	e.emit(EventNamespaceChanged, SystemEvent{Detail: ns})
	return nil
}

// reloadSinks stops every sink and recreates the managers from config.
func (e *Engine) reloadSinks() {
	e.GetMQTTMgr().StopAll()
	e.GetValkeyMgr().StopAll()
	e.GetKafkaMgr().StopAll()

	e.cfg.Lock()
	ns := e.cfg.Namespace
	mqttCfgs := e.cfg.MQTT
	valkeyCfgs := e.cfg.Valkey
	kafkaCfgs := e.cfg.Kafka
	e.cfg.Unlock()

	mqttMgr := mqtt.NewManager()
	mqttMgr.LoadFromConfig(mqttCfgs, ns)
	valkeyMgr := valkey.NewManager(ns)
	valkeyMgr.LoadFromConfig(valkeyCfgs)
	kafkaMgr := kafka.NewManager(ns)
	kafkaMgr.LoadFromConfig(kafkaCfgs)

	e.mu.Lock()
	e.mqttMgr, e.valkeyMgr, e.kafkaMgr = mqttMgr, valkeyMgr, kafkaMgr
	e.mu.Unlock()

	go func() {
		if mqttMgr.StartAll()+valkeyMgr.StartAll() > 0 {
			e.afterSinkStart()
		}
	}()
	go kafkaMgr.ConnectEnabled()
}

// ToggleAPI toggles the REST API enabled state. Returns the new state.
func (e *Engine) ToggleAPI() (enabled bool, err error) {
	e.cfg.Lock()
	e.cfg.Web.API.Enabled = !e.cfg.Web.API.Enabled
	enabled = e.cfg.Web.API.Enabled
	if err := e.saveConfig(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}

	e.emit(EventAPIToggled, SystemEvent{Detail: fmt.Sprintf("enabled=%v", enabled)})
	return enabled, nil
}

// SetUITheme updates the UI theme in config and saves.
func (e *Engine) SetUITheme(theme string) error {
	e.cfg.Lock()
	e.cfg.UI.Theme = theme
	if err := e.saveConfig(); err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}
	return nil
}

// ToggleMetrics toggles the Prometheus endpoint. Returns the new state.
func (e *Engine) ToggleMetrics() (enabled bool, err error) {
	e.cfg.Lock()
	e.cfg.Web.Metrics.Enabled = !e.cfg.Web.Metrics.Enabled
	enabled = e.cfg.Web.Metrics.Enabled
	if err := e.saveConfig(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}

	e.emit(EventMetricsToggled, SystemEvent{Detail: fmt.Sprintf("enabled=%v", enabled)})
	return enabled, nil
}

// ForcePublishAll republishes the latest snapshot and the provider status
// to every sink, bypassing change detection.
func (e *Engine) ForcePublishAll() error {
	snap := e.Latest()
	if snap == nil {
		return ErrNoSample
	}
	e.GetMQTTMgr().Publish(snap, true)
	e.GetValkeyMgr().Publish(snap, true)
	e.GetKafkaMgr().Publish(snap, true)
	e.publishStatusToSinks()
	e.emit(EventForcePublished, SystemEvent{Detail: "all"})
	return nil
}

// ForcePublishToMQTT republishes the latest snapshot to MQTT brokers.
func (e *Engine) ForcePublishToMQTT() error {
	snap := e.Latest()
	if snap == nil {
		return ErrNoSample
	}
	e.GetMQTTMgr().Publish(snap, true)
	e.emit(EventForcePublished, SystemEvent{Detail: "mqtt"})
	return nil
}

// ForcePublishToValkey republishes the latest snapshot to Valkey servers.
func (e *Engine) ForcePublishToValkey() error {
	snap := e.Latest()
	if snap == nil {
		return ErrNoSample
	}
	e.GetValkeyMgr().Publish(snap, true)
	e.emit(EventForcePublished, SystemEvent{Detail: "valkey"})
	return nil
}

// ForcePublishToKafka republishes the latest snapshot to Kafka clusters.
func (e *Engine) ForcePublishToKafka() error {
	snap := e.Latest()
	if snap == nil {
		return ErrNoSample
	}
	e.GetKafkaMgr().Publish(snap, true)
	e.emit(EventForcePublished, SystemEvent{Detail: "kafka"})
	return nil
}

// afterSinkStart brings a freshly connected sink up to date.
func (e *Engine) afterSinkStart() {
	e.publishStatusToSinks()
	if snap := e.Latest(); snap != nil {
		e.GetMQTTMgr().Publish(snap, true)
		e.GetValkeyMgr().Publish(snap, true)
		e.GetKafkaMgr().Publish(snap, true)
	}
}

// SinkStatus summarizes one configured sink.
type SinkStatus struct {
	Kind    string `json:"kind"` // mqtt, valkey, kafka
	Name    string `json:"name"`
	Address string `json:"address"`
	Enabled bool   `json:"enabled"`
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

// SinkStatuses lists every configured sink in kind then name order.
func (e *Engine) SinkStatuses() []SinkStatus {
	var out []SinkStatus
	for _, pub := range e.GetMQTTMgr().List() {
		cfg := pub.Config()
		out = append(out, SinkStatus{
			Kind: "mqtt", Name: cfg.Name, Address: pub.Address(),
			Enabled: cfg.Enabled, Running: pub.IsRunning(),
		})
	}
	for _, pub := range e.GetValkeyMgr().List() {
		cfg := pub.Config()
		out = append(out, SinkStatus{
			Kind: "valkey", Name: cfg.Name, Address: pub.Address(),
			Enabled: cfg.Enabled, Running: pub.IsRunning(),
		})
	}
	for _, name := range e.GetKafkaMgr().ListClusters() {
		p := e.GetKafkaMgr().GetProducer(name)
		if p == nil {
			continue
		}
		cfg := p.Config()
		st := SinkStatus{
			Kind: "kafka", Name: name, Enabled: cfg.Enabled,
			Running: p.GetStatus() == kafka.StatusConnected,
		}
		if len(cfg.Brokers) > 0 {
			st.Address = cfg.Brokers[0]
		}
		if err := p.GetError(); err != nil {
			st.Error = err.Error()
		}
		out = append(out, st)
	}
	return out
}
