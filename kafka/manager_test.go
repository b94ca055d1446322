package kafka

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"simlink/config"
	"simlink/telemetry"
)

func testSnapshot(tick int64, speed float64) *telemetry.Snapshot {
	return &telemetry.Snapshot{
		Source: "bridge",
		Tick:   tick,
		Time:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Values: []telemetry.TelemetryValue{
			{Name: "Speed", Value: telemetry.Float(speed), Unit: "m/s"},
			{Name: "Gear", Value: telemetry.Int(2)},
		},
	}
}

// TestManager_ChangeDetection tests that identical snapshots are not republished.
func TestManager_ChangeDetection(t *testing.T) {
	t.Run("first snapshot publishes", func(t *testing.T) {
		m := NewManager("rig1")
		if !m.shouldPublish("c1", testSnapshot(1, 10), false) {
			t.Error("first snapshot should publish")
		}
	})

	t.Run("identical values should not republish", func(t *testing.T) {
		m := NewManager("rig1")
		m.shouldPublish("c1", testSnapshot(1, 10), false)
		if m.shouldPublish("c1", testSnapshot(2, 10), false) {
			t.Error("identical values should not republish")
		}
	})

	t.Run("different values should republish", func(t *testing.T) {
		m := NewManager("rig1")
		m.shouldPublish("c1", testSnapshot(1, 10), false)
		if !m.shouldPublish("c1", testSnapshot(2, 11), false) {
			t.Error("changed value should republish")
		}
	})

	t.Run("dropped value should republish", func(t *testing.T) {
		m := NewManager("rig1")
		m.shouldPublish("c1", testSnapshot(1, 10), false)
		snap := testSnapshot(2, 10)
		snap.Values = snap.Values[:1]
		if !m.shouldPublish("c1", snap, false) {
			t.Error("snapshot with fewer values should republish")
		}
	})

	t.Run("force flag should override change detection", func(t *testing.T) {
		m := NewManager("rig1")
		m.shouldPublish("c1", testSnapshot(1, 10), false)
		if !m.shouldPublish("c1", testSnapshot(2, 10), true) {
			t.Error("force flag should override change detection")
		}
	})

	t.Run("clusters are tracked separately", func(t *testing.T) {
		m := NewManager("rig1")
		m.shouldPublish("c1", testSnapshot(1, 10), false)
		if !m.shouldPublish("c2", testSnapshot(1, 10), false) {
			t.Error("different clusters should be tracked separately")
		}
	})
}

func TestManager_ClearLastValues(t *testing.T) {
	m := NewManager("rig1")
	m.shouldPublish("c1", testSnapshot(1, 10), false)
	m.ClearLastValues()
	if !m.shouldPublish("c1", testSnapshot(2, 10), false) {
		t.Error("snapshot should publish after cache clear")
	}
}

func TestTelemetryMessage(t *testing.T) {
	m := NewManager("rig1")
	data, err := json.Marshal(m.message(testSnapshot(9, 33.5)))
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	for _, field := range []string{"namespace", "source", "tick", "values", "units", "timestamp"} {
		if _, ok := decoded[field]; !ok {
			t.Errorf("missing field: %s", field)
		}
	}
	values := decoded["values"].(map[string]interface{})
	if values["Speed"] != 33.5 {
		t.Errorf("Speed = %v", values["Speed"])
	}
	if values["Gear"] != float64(2) {
		t.Errorf("Gear = %v", values["Gear"])
	}
	units := decoded["units"].(map[string]interface{})
	if units["Speed"] != "m/s" || units["Gear"] != nil {
		t.Errorf("units = %v", units)
	}
}

func TestFromConfig(t *testing.T) {
	off := false
	cfg := &config.KafkaConfig{
		Name:             "prod",
		Enabled:          true,
		Brokers:          []string{"k1:9092", "k2:9092"},
		SASLMechanism:    "SCRAM-SHA-256",
		Username:         "u",
		Password:         "p",
		Selector:         "car7",
		AutoCreateTopics: &off,
	}
	c := FromConfig(cfg, "rig1")

	if c.Topic != "rig1-telemetry" {
		t.Errorf("Topic = %q", c.Topic)
	}
	if c.StatusTopic() != "rig1-telemetry.status" {
		t.Errorf("StatusTopic() = %q", c.StatusTopic())
	}
	if c.Key != "rig1.car7" {
		t.Errorf("Key = %q", c.Key)
	}
	if c.RequiredAcks != -1 || c.MaxRetries != 3 || c.RetryBackoff != 100*time.Millisecond {
		t.Errorf("defaults not applied: %+v", c)
	}
	if c.AutoCreateTopics {
		t.Error("AutoCreateTopics should follow the explicit false")
	}
	if c.SASLMechanism != SASLSCRAMSHA256 {
		t.Errorf("SASLMechanism = %q", c.SASLMechanism)
	}

	cfg.Topic = "laps"
	cfg.AutoCreateTopics = nil
	c = FromConfig(cfg, "rig1")
	if c.Topic != "laps" || !c.AutoCreateTopics {
		t.Errorf("explicit topic or default auto-create lost: %+v", c)
	}
}

func TestSASLMechanism(t *testing.T) {
	tests := []struct {
		mech SASLMechanism
		user string
		want string
	}{
		{SASLNone, "u", ""},
		{SASLPlain, "", ""},
		{SASLPlain, "u", "PLAIN"},
		{SASLSCRAMSHA256, "u", "SCRAM-SHA-256"},
		{SASLSCRAMSHA512, "u", "SCRAM-SHA-512"},
	}
	for _, tt := range tests {
		p := NewProducer(&Config{Name: "c", SASLMechanism: tt.mech, Username: tt.user, Password: "p"})
		m := p.getSASLMechanism()
		got := ""
		if m != nil {
			got = m.Name()
		}
		if got != tt.want {
			t.Errorf("%q/%q: mechanism = %q, want %q", tt.mech, tt.user, got, tt.want)
		}
	}
}

func TestConnectionStatusString(t *testing.T) {
	tests := map[ConnectionStatus]string{
		StatusDisconnected:   "Disconnected",
		StatusConnecting:     "Connecting",
		StatusConnected:      "Connected",
		StatusError:          "Error",
		ConnectionStatus(42): "Unknown",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}

func TestManager_Clusters(t *testing.T) {
	m := NewManager("rig1")
	m.LoadFromConfig([]config.KafkaConfig{{Name: "b"}, {Name: "a"}})
	m.AddCluster(&Config{Name: "a"}) // duplicate ignored

	names := m.ListClusters()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("ListClusters() = %v", names)
	}
	if st, err := m.GetClusterStatus("a"); err != nil || st != StatusDisconnected {
		t.Errorf("GetClusterStatus(a) = %v, %v", st, err)
	}
	if _, err := m.GetClusterStatus("zzz"); err == nil {
		t.Error("expected error for unknown cluster")
	}
	if err := m.Connect("zzz"); err == nil {
		t.Error("expected error connecting unknown cluster")
	}
	if m.AnyPublishing() {
		t.Error("nothing should be publishing")
	}

	// Nothing is connected, so publishing is a no-op.
	m.Publish(testSnapshot(1, 1), false)
	if m.Dropped("a") != 0 {
		t.Error("no messages should be dropped")
	}

	m.RemoveCluster("a")
	if m.GetProducer("a") != nil {
		t.Error("cluster a should be removed")
	}
	m.StopAll()
}

func TestProducer_NotConnected(t *testing.T) {
	p := NewProducer(&Config{Name: "c", Brokers: []string{"localhost:9092"}})
	if _, err := p.getWriter("t"); err == nil {
		t.Error("getWriter should fail when not connected")
	}
	if err := NewProducer(&Config{Name: "empty"}).Connect(); err == nil {
		t.Error("Connect without brokers should fail")
	}
}

func TestManager_ConcurrentShouldPublish(t *testing.T) {
	m := NewManager("rig1")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.shouldPublish([]string{"c1", "c2"}[i%2], testSnapshot(int64(i), float64(i%5)), false)
		}(i)
	}
	wg.Wait()

	m.lastMu.Lock()
	defer m.lastMu.Unlock()
	if len(m.lastSnap) != 2 {
		t.Errorf("expected 2 tracked clusters, got %d", len(m.lastSnap))
	}
}

func TestBatchConfig(t *testing.T) {
	if MaxBatchSize <= 0 || MaxBatchSize > 1000 {
		t.Errorf("MaxBatchSize = %d", MaxBatchSize)
	}
	if BatchFlushInterval <= 0 || BatchFlushInterval > time.Second {
		t.Errorf("BatchFlushInterval = %v", BatchFlushInterval)
	}
	if MaxBatchQueueSize <= 0 {
		t.Errorf("MaxBatchQueueSize = %d", MaxBatchQueueSize)
	}

	jobs := []publishJob{
		{topic: "a", payload: []byte("1")},
		{topic: "b", payload: []byte("2")},
		{topic: "a", payload: []byte("3")},
	}
	grouped := groupByTopic(jobs)
	if len(grouped["a"]) != 2 || string(grouped["a"][1].Value) != "3" {
		t.Errorf("groupByTopic lost ordering: %v", grouped)
	}
}
