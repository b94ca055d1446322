package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"simlink/config"
	"simlink/logging"
	"simlink/provider"
	"simlink/telemetry"
)

// Batching limits for the per-cluster publish worker.
const (
	MaxBatchSize       = 100
	BatchFlushInterval = 10 * time.Millisecond
	MaxBatchQueueSize  = 1000
)

func logKafka(format string, args ...interface{}) {
	logging.DebugLog("kafka", format, args...)
}

// TelemetryMessage is the JSON produced for each snapshot.
type TelemetryMessage struct {
	Namespace string                 `json:"namespace"`
	Source    string                 `json:"source,omitempty"`
	Tick      int64                  `json:"tick"`
	Values    map[string]interface{} `json:"values"`
	Units     map[string]string      `json:"units,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

// publishJob is one queued message.
type publishJob struct {
	topic   string
	key     []byte
	payload []byte
}

// cluster pairs a producer with its bounded queue and worker.
type cluster struct {
	producer *Producer
	queue    chan publishJob
	stop     chan struct{}
	done     chan struct{}
	dropped  int64
}

// Manager manages multiple Kafka producer connections.
type Manager struct {
	namespace string
	clusters  map[string]*cluster
	mu        sync.RWMutex

	// Last snapshot produced per cluster, for change detection.
	lastSnap map[string]*telemetry.Snapshot
	lastMu   sync.Mutex
}

// NewManager creates a new Kafka manager.
func NewManager(namespace string) *Manager {
	return &Manager{
		namespace: namespace,
		clusters:  make(map[string]*cluster),
		lastSnap:  make(map[string]*telemetry.Snapshot),
	}
}

// AddCluster adds a new Kafka cluster configuration.
func (m *Manager) AddCluster(cfg *Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.clusters[cfg.Name]; exists {
		return
	}
	m.clusters[cfg.Name] = &cluster{producer: NewProducer(cfg)}
}

// RemoveCluster removes a Kafka cluster and disconnects.
func (m *Manager) RemoveCluster(name string) {
	m.mu.Lock()
	c, exists := m.clusters[name]
	if exists {
		delete(m.clusters, name)
	}
	m.mu.Unlock()

	if exists {
		m.stopWorker(c)
		c.producer.Disconnect()
	}
}

// GetProducer returns the producer for the named cluster.
func (m *Manager) GetProducer(name string) *Producer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.clusters[name]; ok {
		return c.producer
	}
	return nil
}

// ListClusters returns all cluster names in sorted order.
func (m *Manager) ListClusters() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.clusters))
	for name := range m.clusters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Connect connects to the named Kafka cluster and starts its worker.
func (m *Manager) Connect(name string) error {
	m.mu.RLock()
	c, exists := m.clusters[name]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("kafka cluster not found: %s", name)
	}
	if err := c.producer.Connect(); err != nil {
		return err
	}
	m.startWorker(c)
	return nil
}

// Disconnect disconnects from the named Kafka cluster.
func (m *Manager) Disconnect(name string) {
	m.mu.RLock()
	c, exists := m.clusters[name]
	m.mu.RUnlock()

	if exists {
		m.stopWorker(c)
		c.producer.Disconnect()
	}
}

// ConnectEnabled connects to all enabled Kafka clusters in the background.
func (m *Manager) ConnectEnabled() {
	for _, name := range m.ListClusters() {
		p := m.GetProducer(name)
		if p != nil && p.config.Enabled {
			go func(name string) {
				if err := m.Connect(name); err != nil {
					logKafka("Failed to connect %s: %v", name, err)
				}
			}(name)
		}
	}
}

// StopAll stops every worker and disconnects all clusters.
func (m *Manager) StopAll() {
	for _, name := range m.ListClusters() {
		m.Disconnect(name)
	}
}

// GetClusterStatus returns the status of a specific cluster.
func (m *Manager) GetClusterStatus(name string) (ConnectionStatus, error) {
	p := m.GetProducer(name)
	if p == nil {
		return StatusDisconnected, fmt.Errorf("cluster not found")
	}
	return p.GetStatus(), p.GetError()
}

// LoadFromConfig creates clusters from the persisted configuration.
func (m *Manager) LoadFromConfig(cfgs []config.KafkaConfig) {
	for i := range cfgs {
		m.AddCluster(FromConfig(&cfgs[i], m.namespace))
	}
}

// AnyPublishing returns true if any cluster is connected.
func (m *Manager) AnyPublishing() bool {
	for _, name := range m.ListClusters() {
		if p := m.GetProducer(name); p != nil && p.GetStatus() == StatusConnected {
			return true
		}
	}
	return false
}

// Publish queues the snapshot on every connected cluster. A snapshot whose
// values equal the previous one for that cluster is skipped unless force.
func (m *Manager) Publish(snap *telemetry.Snapshot, force bool) {
	if snap == nil {
		return
	}
	for _, c := range m.connected() {
		cfg := c.producer.config
		if !m.shouldPublish(cfg.Name, snap, force) {
			continue
		}
		payload, err := json.Marshal(m.message(snap))
		if err != nil {
			continue
		}
		m.enqueue(c, publishJob{topic: cfg.Topic, key: []byte(cfg.Key), payload: payload})
	}
}

// PublishStatus queues the provider status on every connected cluster.
func (m *Manager) PublishStatus(st provider.Status) {
	payload, err := json.Marshal(st.Message(m.namespace))
	if err != nil {
		return
	}
	for _, c := range m.connected() {
		cfg := c.producer.config
		m.enqueue(c, publishJob{topic: cfg.StatusTopic(), key: []byte(cfg.Key), payload: payload})
	}
}

// ClearLastValues clears the change tracking cache, forcing republish.
func (m *Manager) ClearLastValues() {
	m.lastMu.Lock()
	m.lastSnap = make(map[string]*telemetry.Snapshot)
	m.lastMu.Unlock()
}

func (m *Manager) message(snap *telemetry.Snapshot) TelemetryMessage {
	msg := TelemetryMessage{
		Namespace: m.namespace,
		Source:    snap.Source,
		Tick:      snap.Tick,
		Values:    snap.Map(),
		Timestamp: snap.Time.UTC().Format(time.RFC3339Nano),
	}
	for _, tv := range snap.Values {
		if tv.Unit != "" {
			if msg.Units == nil {
				msg.Units = make(map[string]string)
			}
			msg.Units[tv.Name] = tv.Unit
		}
	}
	return msg
}

func (m *Manager) shouldPublish(clusterName string, snap *telemetry.Snapshot, force bool) bool {
	m.lastMu.Lock()
	defer m.lastMu.Unlock()

	prev := m.lastSnap[clusterName]
	m.lastSnap[clusterName] = snap
	if prev == nil || force {
		return true
	}
	return len(snap.Changed(prev)) > 0 || len(snap.Values) != len(prev.Values)
}

func (m *Manager) connected() []*cluster {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*cluster, 0, len(m.clusters))
	for _, c := range m.clusters {
		if c.queue != nil && c.producer.GetStatus() == StatusConnected {
			out = append(out, c)
		}
	}
	return out
}

func (m *Manager) enqueue(c *cluster, job publishJob) {
	m.mu.RLock()
	queue := c.queue
	m.mu.RUnlock()
	if queue == nil {
		return
	}
	select {
	case queue <- job:
	default:
		m.mu.Lock()
		c.dropped++
		dropped := c.dropped
		m.mu.Unlock()
		if dropped%100 == 1 {
			logKafka("Publish queue full for %s, dropping messages", c.producer.config.Name)
		}
	}
}

// Dropped returns the number of messages dropped for a full queue.
func (m *Manager) Dropped(name string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.clusters[name]; ok {
		return c.dropped
	}
	return 0
}

func (m *Manager) startWorker(c *cluster) {
	m.mu.Lock()
	if c.queue != nil {
		m.mu.Unlock()
		return
	}
	c.queue = make(chan publishJob, MaxBatchQueueSize)
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	queue, stop, done := c.queue, c.stop, c.done
	m.mu.Unlock()

	go m.worker(c.producer, queue, stop, done)
}

func (m *Manager) stopWorker(c *cluster) {
	m.mu.Lock()
	if c.queue == nil {
		m.mu.Unlock()
		return
	}
	stop, done := c.stop, c.done
	c.queue, c.stop, c.done = nil, nil, nil
	m.mu.Unlock()

	close(stop)
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		logKafka("Timeout waiting for %s publish worker to stop", c.producer.config.Name)
	}
}

// worker drains the queue in batches grouped by topic, preserving order
// within a topic.
func (m *Manager) worker(p *Producer, queue <-chan publishJob, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(BatchFlushInterval)
	defer ticker.Stop()

	var pending []publishJob
	flush := func() {
		if len(pending) == 0 {
			return
		}
		for topic, msgs := range groupByTopic(pending) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := p.ProduceBatch(ctx, topic, msgs); err != nil {
				logKafka("Failed to publish %d messages to %s: %v", len(msgs), topic, err)
			}
			cancel()
		}
		pending = pending[:0]
	}

	for {
		select {
		case <-stop:
			flush()
			return
		case job := <-queue:
			pending = append(pending, job)
			if len(pending) >= MaxBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func groupByTopic(jobs []publishJob) map[string][]kafka.Message {
	out := make(map[string][]kafka.Message)
	now := time.Now()
	for _, j := range jobs {
		out[j.topic] = append(out[j.topic], kafka.Message{Key: j.key, Value: j.payload, Time: now})
	}
	return out
}
