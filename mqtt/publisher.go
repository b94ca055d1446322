// Package mqtt publishes telemetry snapshots and provider status to MQTT
// brokers.
package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"simlink/config"
	"simlink/logging"
	"simlink/namespace"
	"simlink/provider"
	"simlink/telemetry"
)

func logMQTT(format string, args ...interface{}) {
	logging.DebugLog("mqtt", format, args...)
}

// MaxQueueSize is the maximum number of snapshots waiting to be published
// per broker. Snapshots beyond that are dropped.
const MaxQueueSize = 64

// Publisher handles one broker connection.
type Publisher struct {
	config    *config.MQTTConfig
	namespace string
	client    pahomqtt.Client
	running   bool
	mu        sync.RWMutex

	// Last published per-value payloads, for change detection.
	lastValues map[string]telemetry.Value
	lastMu     sync.Mutex

	queue    chan job
	wg       sync.WaitGroup
	stopChan chan struct{}

	published atomic.Uint64
	dropped   atomic.Uint64
}

type job struct {
	snap  *telemetry.Snapshot
	force bool
}

// TelemetryMessage is the JSON published to the snapshot topic.
type TelemetryMessage struct {
	Namespace string                 `json:"namespace"`
	Selector  string                 `json:"selector,omitempty"`
	Source    string                 `json:"source,omitempty"`
	Tick      int64                  `json:"tick"`
	Values    map[string]interface{} `json:"values"`
	Units     map[string]string      `json:"units,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

// ValueMessage is the JSON published to a per-value topic.
type ValueMessage struct {
	Name      string      `json:"name"`
	Value     interface{} `json:"value"`
	Unit      string      `json:"unit,omitempty"`
	Tick      int64       `json:"tick"`
	Timestamp string      `json:"timestamp"`
}

// NewPublisher creates a publisher for a single broker.
func NewPublisher(cfg *config.MQTTConfig, namespace string) *Publisher {
	return &Publisher{
		config:     cfg,
		namespace:  namespace,
		lastValues: make(map[string]telemetry.Value),
		queue:      make(chan job, MaxQueueSize),
		stopChan:   make(chan struct{}),
	}
}

// Name returns the publisher's name.
func (p *Publisher) Name() string {
	return p.config.Name
}

// Config returns the publisher's configuration.
func (p *Publisher) Config() *config.MQTTConfig {
	return p.config
}

// IsRunning returns whether the publisher is connected.
func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Address returns the broker address string.
func (p *Publisher) Address() string {
	if p.config.UseTLS {
		return fmt.Sprintf("ssl://%s:%d", p.config.Broker, p.config.Port)
	}
	return fmt.Sprintf("tcp://%s:%d", p.config.Broker, p.config.Port)
}

// Stats returns the number of snapshots published and dropped.
func (p *Publisher) Stats() (published, dropped uint64) {
	return p.published.Load(), p.dropped.Load()
}

func (p *Publisher) paths() *namespace.Builder {
	return namespace.New(p.namespace, p.config.Selector)
}

// SnapshotTopic returns the topic carrying one message per tick.
func (p *Publisher) SnapshotTopic() string {
	return p.paths().MQTTSnapshotTopic()
}

// ValueTopic returns the topic for a single value.
func (p *Publisher) ValueTopic(name string) string {
	return p.paths().MQTTValueTopic(name)
}

// StatusTopic returns the retained provider status topic.
func (p *Publisher) StatusTopic() string {
	return p.paths().MQTTStatusTopic()
}

// Start connects to the MQTT broker.
func (p *Publisher) Start() error {
	p.mu.RLock()
	if p.running {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	// Build options without holding the lock
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(p.Address())
	if p.config.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.SetClientID(p.config.ClientID)
	if p.config.Username != "" {
		opts.SetUsername(p.config.Username)
		opts.SetPassword(p.config.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	offline, _ := json.Marshal(map[string]interface{}{
		"namespace": p.namespace,
		"state":     "Offline",
		"connected": false,
		"running":   false,
	})
	opts.SetWill(p.StatusTopic(), string(offline), 1, true)

	client := pahomqtt.NewClient(opts)
	logMQTT("Attempting to connect to MQTT broker %s", p.Address())

	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		logMQTT("MQTT connection timeout")
		return fmt.Errorf("connection timeout")
	}
	if token.Error() != nil {
		logMQTT("MQTT connection error: %v", token.Error())
		return token.Error()
	}
	logMQTT("Connected to MQTT broker %s", p.Address())

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		client.Disconnect(100)
		return nil
	}
	p.client = client
	p.running = true
	stop := p.stopChan
	queue := p.queue
	p.mu.Unlock()

	// Force republish of every value after a reconnect
	p.lastMu.Lock()
	p.lastValues = make(map[string]telemetry.Value)
	p.lastMu.Unlock()

	p.wg.Add(1)
	go p.worker(client, queue, stop)
	return nil
}

// Stop disconnects from the MQTT broker.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running || p.client == nil {
		p.mu.Unlock()
		return
	}
	p.running = false
	client := p.client
	p.client = nil

	oldStop := p.stopChan
	p.stopChan = make(chan struct{})
	p.queue = make(chan job, MaxQueueSize)
	p.mu.Unlock()

	close(oldStop)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		logMQTT("Timeout waiting for %s publish worker to stop", p.Name())
	}

	client.Disconnect(500)
}

// Publish queues a snapshot. It never blocks the caller; when the queue is
// full the snapshot is dropped.
func (p *Publisher) Publish(snap *telemetry.Snapshot, force bool) bool {
	p.mu.RLock()
	running := p.running
	queue := p.queue
	p.mu.RUnlock()

	if !running || snap == nil {
		return false
	}
	select {
	case queue <- job{snap: snap, force: force}:
		return true
	default:
		if p.dropped.Add(1)%100 == 1 {
			logMQTT("%s: publish queue full, dropping snapshots", p.Name())
		}
		return false
	}
}

func (p *Publisher) worker(client pahomqtt.Client, queue <-chan job, stop <-chan struct{}) {
	defer p.wg.Done()
	for {
		select {
		case <-stop:
			return
		case j := <-queue:
			p.send(client, j.snap, j.force)
		}
	}
}

// outgoing is one MQTT message built from a snapshot.
type outgoing struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

func (p *Publisher) send(client pahomqtt.Client, snap *telemetry.Snapshot, force bool) {
	for _, msg := range p.messages(snap, force) {
		token := client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
		if !token.WaitTimeout(2 * time.Second) {
			logMQTT("Publish timeout on %s", msg.topic)
			continue
		}
		if err := token.Error(); err != nil {
			logMQTT("Publish error on %s: %v", msg.topic, err)
		}
	}
	p.published.Add(1)
}

// messages builds the snapshot message and, when enabled, one retained
// message per changed value. It updates the change-detection cache.
func (p *Publisher) messages(snap *telemetry.Snapshot, force bool) []outgoing {
	ts := snap.Time.UTC().Format(time.RFC3339Nano)

	msg := TelemetryMessage{
		Namespace: p.namespace,
		Selector:  p.config.Selector,
		Source:    snap.Source,
		Tick:      snap.Tick,
		Values:    snap.Map(),
		Timestamp: ts,
	}
	for _, tv := range snap.Values {
		if tv.Unit == "" {
			continue
		}
		if msg.Units == nil {
			msg.Units = make(map[string]string)
		}
		msg.Units[tv.Name] = tv.Unit
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		logMQTT("Marshal snapshot: %v", err)
		return nil
	}
	out := []outgoing{{topic: p.SnapshotTopic(), qos: 0, payload: payload}}

	if !p.config.PerValue {
		return out
	}

	p.lastMu.Lock()
	defer p.lastMu.Unlock()
	for _, tv := range snap.Values {
		last, exists := p.lastValues[tv.Name]
		if exists && !force && last.Equal(tv.Value) {
			continue
		}
		payload, err := json.Marshal(ValueMessage{
			Name:      tv.Name,
			Value:     tv.Value,
			Unit:      tv.Unit,
			Tick:      snap.Tick,
			Timestamp: ts,
		})
		if err != nil {
			continue
		}
		out = append(out, outgoing{topic: p.ValueTopic(tv.Name), qos: 1, retained: true, payload: payload})
		p.lastValues[tv.Name] = tv.Value
	}
	return out
}

// PublishStatus publishes the retained provider status message.
func (p *Publisher) PublishStatus(st provider.Status) bool {
	p.mu.RLock()
	running := p.running
	client := p.client
	p.mu.RUnlock()
	if !running || client == nil {
		return false
	}

	payload, err := json.Marshal(st.Message(p.namespace))
	if err != nil {
		return false
	}
	token := client.Publish(p.StatusTopic(), 1, true, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return false
	}
	return token.Error() == nil
}

// Manager manages multiple MQTT publishers.
type Manager struct {
	publishers map[string]*Publisher
	mu         sync.RWMutex
}

// NewManager creates a new MQTT manager.
func NewManager() *Manager {
	return &Manager{
		publishers: make(map[string]*Publisher),
	}
}

// Add adds a publisher to the manager.
func (m *Manager) Add(pub *Publisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishers[pub.Name()] = pub
}

// Remove stops and removes a publisher by name.
func (m *Manager) Remove(name string) {
	m.mu.Lock()
	pub, exists := m.publishers[name]
	if exists {
		delete(m.publishers, name)
	}
	m.mu.Unlock()

	if exists {
		pub.Stop()
	}
}

// Get returns a publisher by name.
func (m *Manager) Get(name string) *Publisher {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.publishers[name]
}

// List returns all publishers.
func (m *Manager) List() []*Publisher {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Publisher, 0, len(m.publishers))
	for _, pub := range m.publishers {
		result = append(result, pub)
	}
	return result
}

// StartAll starts all publishers that are configured as enabled.
// Returns the number of publishers successfully started.
func (m *Manager) StartAll() int {
	started := 0
	for _, pub := range m.List() {
		if pub.config.Enabled && !pub.IsRunning() {
			logMQTT("Auto-starting MQTT publisher: %s", pub.Name())
			if err := pub.Start(); err != nil {
				logMQTT("Failed to auto-start %s: %v", pub.Name(), err)
			} else {
				started++
			}
		}
	}
	return started
}

// StopAll stops all publishers.
func (m *Manager) StopAll() {
	for _, pub := range m.List() {
		pub.Stop()
	}
}

// Publish queues a snapshot on every running publisher.
func (m *Manager) Publish(snap *telemetry.Snapshot, force bool) {
	for _, pub := range m.List() {
		if pub.IsRunning() {
			pub.Publish(snap, force)
		}
	}
}

// PublishStatus publishes provider status on every running publisher.
func (m *Manager) PublishStatus(st provider.Status) {
	for _, pub := range m.List() {
		if pub.IsRunning() {
			pub.PublishStatus(st)
		}
	}
}

// AnyRunning returns true if any publisher is running.
func (m *Manager) AnyRunning() bool {
	for _, pub := range m.List() {
		if pub.IsRunning() {
			return true
		}
	}
	return false
}

// LoadFromConfig creates publishers from configuration.
func (m *Manager) LoadFromConfig(cfgs []config.MQTTConfig, namespace string) {
	for i := range cfgs {
		m.Add(NewPublisher(&cfgs[i], namespace))
	}
}
