// Package valkey stores telemetry snapshots in Valkey/Redis and announces
// changes over Pub/Sub.
package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"simlink/config"
	"simlink/logging"
	"simlink/namespace"
	"simlink/provider"
	"simlink/telemetry"
)

// MaxQueueSize is the maximum number of snapshots waiting per server.
const MaxQueueSize = 64

func debugLog(format string, args ...interface{}) {
	logging.DebugLog("valkey", format, args...)
}

// ValueMessage is stored under each per-value key.
type ValueMessage struct {
	Namespace string          `json:"namespace"`
	Name      string          `json:"name"`
	Value     telemetry.Value `json:"value"`
	Unit      string          `json:"unit,omitempty"`
	Tick      int64           `json:"tick"`
	Timestamp time.Time       `json:"timestamp"`
}

// ChangeMessage is published on the changes channel once per snapshot that
// changed at least one value.
type ChangeMessage struct {
	Namespace string                     `json:"namespace"`
	Tick      int64                      `json:"tick"`
	Changed   []telemetry.TelemetryValue `json:"changed"`
	Timestamp time.Time                  `json:"timestamp"`
}

// SnapshotMessage is stored under the snapshot key.
type SnapshotMessage struct {
	Namespace string `json:"namespace"`
	*telemetry.Snapshot
}

// write is one SET; publish is one PUBLISH.
type write struct {
	key  string
	data []byte
}

type publish struct {
	channel string
	data    []byte
}

// Publisher handles publishing to a single Valkey server.
type Publisher struct {
	config    *config.ValkeyConfig
	namespace string
	client    *redis.Client
	running   bool
	mu        sync.RWMutex

	last   *telemetry.Snapshot // last snapshot written, for change detection
	lastMu sync.Mutex

	queue    chan job
	stopChan chan struct{}
	wg       sync.WaitGroup

	published atomic.Uint64
	dropped   atomic.Uint64
	errors    atomic.Uint64
}

type job struct {
	snap  *telemetry.Snapshot
	force bool
}

// NewPublisher creates a new Valkey publisher.
func NewPublisher(cfg *config.ValkeyConfig, namespace string) *Publisher {
	return &Publisher{
		config:    cfg,
		namespace: namespace,
		queue:     make(chan job, MaxQueueSize),
		stopChan:  make(chan struct{}),
	}
}

// Name returns the publisher's name.
func (p *Publisher) Name() string { return p.config.Name }

// Config returns the publisher's configuration.
func (p *Publisher) Config() *config.ValkeyConfig { return p.config }

// IsRunning returns whether the publisher is connected.
func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Address returns the server address.
func (p *Publisher) Address() string {
	scheme := "redis"
	if p.config.UseTLS {
		scheme = "rediss"
	}
	return fmt.Sprintf("%s://%s", scheme, p.config.Address)
}

// Stats returns snapshots written, dropped and failed.
func (p *Publisher) Stats() (published, dropped, errors uint64) {
	return p.published.Load(), p.dropped.Load(), p.errors.Load()
}

func (p *Publisher) paths() *namespace.Builder {
	return namespace.New(p.namespace, p.config.Selector)
}

// SnapshotKey is the key holding the latest snapshot.
func (p *Publisher) SnapshotKey() string { return p.paths().ValkeySnapshotKey() }

// ValueKey is the key holding the latest value of name.
func (p *Publisher) ValueKey(name string) string { return p.paths().ValkeyValueKey(name) }

// ChangesChannel is the Pub/Sub channel for change notifications.
func (p *Publisher) ChangesChannel() string { return p.paths().ValkeyChangesChannel() }

// StatusKey is the key holding the provider status.
func (p *Publisher) StatusKey() string { return p.paths().ValkeyStatusKey() }

// Start connects to the Valkey server.
func (p *Publisher) Start() error {
	p.mu.RLock()
	if p.running {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	opts := &redis.Options{
		Addr:         p.config.Address,
		Password:     p.config.Password,
		DB:           p.config.Database,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	}
	if p.config.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)
	debugLog("Attempting to connect to Valkey at %s (DB: %d, TLS: %v)",
		p.config.Address, p.config.Database, p.config.UseTLS)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		debugLog("Valkey connection failed: %v", err)
		client.Close()
		return fmt.Errorf("failed to connect to Valkey at %s: %w", p.config.Address, err)
	}
	debugLog("Connected to Valkey at %s", p.config.Address)

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		client.Close()
		return nil
	}
	p.client = client
	p.running = true
	p.stopChan = make(chan struct{})
	p.queue = make(chan job, MaxQueueSize)
	stop, queue := p.stopChan, p.queue
	p.mu.Unlock()

	p.lastMu.Lock()
	p.last = nil
	p.lastMu.Unlock()

	p.wg.Add(1)
	go p.worker(client, queue, stop)
	return nil
}

// Stop disconnects from the Valkey server.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopChan)
	client := p.client
	p.client = nil
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
	}

	if client != nil {
		return client.Close()
	}
	return nil
}

// Publish queues a snapshot without blocking.
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
		p.dropped.Add(1)
		return false
	}
}

func (p *Publisher) worker(client *redis.Client, queue <-chan job, stop <-chan struct{}) {
	defer p.wg.Done()
	for {
		select {
		case <-stop:
			return
		case j := <-queue:
			if err := p.send(client, j.snap, j.force); err != nil {
				if p.errors.Add(1)%100 == 1 {
					debugLog("Valkey publish error (%s): %v", p.Name(), err)
				}
				continue
			}
			p.published.Add(1)
		}
	}
}

func (p *Publisher) send(client *redis.Client, snap *telemetry.Snapshot, force bool) error {
	writes, pubs, err := p.commands(snap, force)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, w := range writes {
			pipe.Set(ctx, w.key, w.data, p.config.KeyTTL)
		}
		for _, m := range pubs {
			pipe.Publish(ctx, m.channel, m.data)
		}
		return nil
	})
	return err
}

// commands builds the SETs and PUBLISHes for one snapshot and advances the
// change-detection baseline.
func (p *Publisher) commands(snap *telemetry.Snapshot, force bool) ([]write, []publish, error) {
	data, err := json.Marshal(SnapshotMessage{Namespace: p.namespace, Snapshot: snap})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	writes := []write{{key: p.SnapshotKey(), data: data}}

	p.lastMu.Lock()
	prev := p.last
	p.last = snap
	p.lastMu.Unlock()

	changed := snap.Changed(prev)
	if force {
		changed = snap.Changed(nil)
	}
	for _, tv := range changed {
		data, err := json.Marshal(ValueMessage{
			Namespace: p.namespace,
			Name:      tv.Name,
			Value:     tv.Value,
			Unit:      tv.Unit,
			Tick:      snap.Tick,
			Timestamp: snap.Time.UTC(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal %s: %w", tv.Name, err)
		}
		writes = append(writes, write{key: p.ValueKey(tv.Name), data: data})
	}

	var pubs []publish
	if p.config.PublishChanges && len(changed) > 0 {
		data, err := json.Marshal(ChangeMessage{
			Namespace: p.namespace,
			Tick:      snap.Tick,
			Changed:   changed,
			Timestamp: snap.Time.UTC(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal changes: %w", err)
		}
		pubs = append(pubs, publish{channel: p.ChangesChannel(), data: data})
	}
	return writes, pubs, nil
}

// PublishStatus stores the provider status and announces it when change
// publishing is enabled.
func (p *Publisher) PublishStatus(st provider.Status) error {
	p.mu.RLock()
	if !p.running || p.client == nil {
		p.mu.RUnlock()
		return nil
	}
	client := p.client
	cfg := p.config
	p.mu.RUnlock()

	data, err := json.Marshal(st.Message(p.namespace))
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Status never expires; a stale status is still the last known one.
	if err := client.Set(ctx, p.StatusKey(), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set status key: %w", err)
	}
	if cfg.PublishChanges {
		client.Publish(ctx, p.StatusKey(), data)
	}
	return nil
}
