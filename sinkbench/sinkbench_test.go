package sinkbench

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simlink/config"
)

func TestGeneratorShape(t *testing.T) {
	g := newGenerator(3, 8)

	first := g.next()
	second := g.next()

	assert.Equal(t, int64(1), first.Tick)
	assert.Equal(t, int64(2), second.Tick)
	require.Len(t, first.Values, 4)
	assert.Equal(t, "Bench0", first.Values[0].Name)
	assert.Equal(t, "BenchArray", first.Values[3].Name)
	assert.True(t, first.Values[3].Value.IsArray())
	assert.Equal(t, 8, first.Values[3].Value.Len())
	assert.Equal(t, "bench", first.Source)
}

func TestGeneratorWithoutArray(t *testing.T) {
	snap := newGenerator(2, 0).next()
	require.Len(t, snap.Values, 2)
	for _, tv := range snap.Values {
		assert.False(t, tv.Value.IsArray())
	}
}

func TestCalculateLatencyStats(t *testing.T) {
	avg, _, _, _, max := calculateLatencyStats(nil)
	assert.Zero(t, avg)
	assert.Zero(t, max)

	latencies := make([]time.Duration, 100)
	for i := range latencies {
		latencies[len(latencies)-1-i] = time.Duration(i+1) * time.Millisecond
	}
	avg, p50, p95, p99, max := calculateLatencyStats(latencies)
	assert.Equal(t, 50500*time.Microsecond, avg)
	assert.Equal(t, 51*time.Millisecond, p50)
	assert.Equal(t, 96*time.Millisecond, p95)
	assert.Equal(t, 100*time.Millisecond, p99)
	assert.Equal(t, 100*time.Millisecond, max)
	assert.Equal(t, 100*time.Millisecond, latencies[0], "input must not be reordered")
}

func TestRunWithoutSinks(t *testing.T) {
	var out bytes.Buffer
	cfg := config.DefaultConfig()
	cfg.MQTT = []config.MQTTConfig{{Name: "off", Broker: "localhost", Port: 1883}}

	r := NewRunner(cfg, TestConfig{Duration: time.Millisecond, NumValues: 1}, &out)
	results := r.Run()

	assert.Empty(t, results)
	assert.Contains(t, out.String(), "SINK STRESS TEST")
	assert.Contains(t, out.String(), "No enabled sinks found")
}
