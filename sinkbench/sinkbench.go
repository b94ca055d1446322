// Package sinkbench provides stress testing for the configured publish sinks.
package sinkbench

import (
	"fmt"
	"io"
	"math/rand"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"simlink/config"
	"simlink/kafka"
	"simlink/mqtt"
	"simlink/provider"
	"simlink/telemetry"
	"simlink/valkey"
)

// Namespace isolates benchmark traffic from live telemetry.
const Namespace = "simlink-bench"

// TestConfig holds configuration for the sink stress test.
type TestConfig struct {
	// Duration is how long to run each test
	Duration time.Duration
	// NumValues is the number of values in each synthetic snapshot
	NumValues int
	// ArrayLen is the length of the array value included in each snapshot; 0 omits it
	ArrayLen int
}

// DefaultTestConfig returns sensible defaults for stress testing.
func DefaultTestConfig() TestConfig {
	return TestConfig{
		Duration:  10 * time.Second,
		NumValues: 40,
		ArrayLen:  64,
	}
}

// TestResult holds the results from one sink stress test.
type TestResult struct {
	SinkType     string
	SinkName     string
	Address      string
	Duration     time.Duration
	Snapshots    int64
	Delivered    int64
	Dropped      int64
	Errors       int64
	Throughput   float64 // snapshots per second
	AvgLatency   time.Duration
	P50Latency   time.Duration
	P95Latency   time.Duration
	P99Latency   time.Duration
	MaxLatency   time.Duration
	Success      bool
	Error        error
}

// Runner executes sink stress tests.
type Runner struct {
	cfg     *config.Config
	testCfg TestConfig
	out     io.Writer
	results []TestResult
	gen     *generator
}

// NewRunner creates a new stress test runner writing its report to out.
func NewRunner(cfg *config.Config, testCfg TestConfig, out io.Writer) *Runner {
	return &Runner{
		cfg:     cfg,
		testCfg: testCfg,
		out:     out,
		gen:     newGenerator(testCfg.NumValues, testCfg.ArrayLen),
	}
}

// Run executes stress tests for all enabled sinks.
func (r *Runner) Run() []TestResult {
	r.printHeader()

	for i := range r.cfg.Kafka {
		if c := r.cfg.Kafka[i]; c.Enabled {
			r.results = append(r.results, r.testKafka(kafka.FromConfig(&c, Namespace)))
		}
	}
	for i := range r.cfg.MQTT {
		if c := r.cfg.MQTT[i]; c.Enabled {
			r.results = append(r.results, r.testMQTT(c))
		}
	}
	for i := range r.cfg.Valkey {
		if c := r.cfg.Valkey[i]; c.Enabled {
			r.results = append(r.results, r.testValkey(c))
		}
	}

	r.printReport()
	return r.results
}

// Results returns the results of the last Run.
func (r *Runner) Results() []TestResult { return r.results }

func (r *Runner) printf(format string, args ...interface{}) {
	fmt.Fprintf(r.out, format, args...)
}

func (r *Runner) printHeader() {
	r.printf("\n")
	r.printf("╔══════════════════════════════════════════════════════════════════╗\n")
	r.printf("║                      SINK STRESS TEST                            ║\n")
	r.printf("╚══════════════════════════════════════════════════════════════════╝\n\n")
	r.printf("  Test Parameters:\n")
	r.printf("    Duration:        %v\n", r.testCfg.Duration)
	r.printf("    Values/snapshot: %d\n", r.testCfg.NumValues)
	r.printf("    Array length:    %d\n", r.testCfg.ArrayLen)
	r.printf("    Namespace:       %s\n\n", Namespace)
}

func (r *Runner) printTarget(kind, name, addr, dest string) {
	r.printf("─────────────────────────────────────────────────────────────────────\n")
	r.printf("  Testing: %s/%s\n", kind, name)
	r.printf("  Address: %s\n", addr)
	r.printf("  Target:  %s\n", dest)
	r.printf("─────────────────────────────────────────────────────────────────────\n")
}

func (r *Runner) printOutcome(result TestResult) {
	if result.Success {
		r.printf("DONE\n\n")
	} else {
		r.printf("FAILED\n\n")
	}
}

// testKafka runs the stress test against a Kafka cluster through the
// batching manager, the same path live telemetry takes.
func (r *Runner) testKafka(cfg *kafka.Config) TestResult {
	result := TestResult{
		SinkType: "Kafka",
		SinkName: cfg.Name,
		Address:  strings.Join(cfg.Brokers, ","),
	}
	r.printTarget("Kafka", cfg.Name, result.Address, cfg.Topic)

	cfg.AutoCreateTopics = true
	mgr := kafka.NewManager(Namespace)
	mgr.AddCluster(cfg)
	if err := mgr.Connect(cfg.Name); err != nil {
		result.Error = fmt.Errorf("connect failed: %w", err)
		r.printf("  Status: FAILED - %v\n\n", result.Error)
		return result
	}
	defer mgr.StopAll()

	r.printf("  Running... ")
	var sent int64
	result.Duration = r.drive(func(snap *telemetry.Snapshot) {
		mgr.Publish(snap, true)
		atomic.AddInt64(&sent, 1)
	})

	// Allow time for batches to flush
	time.Sleep(100 * time.Millisecond)

	result.Snapshots = sent
	result.Dropped = mgr.Dropped(cfg.Name)
	if producer := mgr.GetProducer(cfg.Name); producer != nil {
		delivered, errs, _ := producer.GetStats()
		result.Delivered = delivered
		result.Errors = errs
	}
	result.Throughput = float64(sent) / result.Duration.Seconds()
	result.Success = sent > 0 && result.Errors == 0

	r.printOutcome(result)
	return result
}

// testMQTT runs the stress test against an MQTT broker.
func (r *Runner) testMQTT(cfg config.MQTTConfig) TestResult {
	result := TestResult{
		SinkType: "MQTT",
		SinkName: cfg.Name,
		Address:  fmt.Sprintf("%s:%d", cfg.Broker, cfg.Port),
	}

	cfg.ClientID = fmt.Sprintf("%s-%d", Namespace, time.Now().UnixNano())
	pub := mqtt.NewPublisher(&cfg, Namespace)
	r.printTarget("MQTT", cfg.Name, result.Address, pub.SnapshotTopic())

	if err := pub.Start(); err != nil {
		result.Error = fmt.Errorf("connect failed: %w", err)
		r.printf("  Status: FAILED - %v\n\n", result.Error)
		return result
	}
	defer pub.Stop()

	r.printf("  Running... ")
	var sent, rejected int64
	result.Duration = r.drive(func(snap *telemetry.Snapshot) {
		if pub.Publish(snap, true) {
			atomic.AddInt64(&sent, 1)
		} else {
			atomic.AddInt64(&rejected, 1)
		}
	})

	published, dropped := pub.Stats()
	result.Snapshots = sent
	result.Delivered = int64(published)
	result.Dropped = int64(dropped) + rejected
	result.Throughput = float64(sent) / result.Duration.Seconds()
	result.Success = sent > 0 && rejected == 0

	r.printOutcome(result)
	return result
}

// testValkey runs the stress test against a Valkey/Redis server and
// measures round-trip latency of the status write alongside.
func (r *Runner) testValkey(cfg config.ValkeyConfig) TestResult {
	result := TestResult{
		SinkType: "Valkey",
		SinkName: cfg.Name,
		Address:  cfg.Address,
	}

	pub := valkey.NewPublisher(&cfg, Namespace)
	r.printTarget("Valkey", cfg.Name, cfg.Address, pub.SnapshotKey())

	if err := pub.Start(); err != nil {
		result.Error = fmt.Errorf("connect failed: %w", err)
		r.printf("  Status: FAILED - %v\n\n", result.Error)
		return result
	}
	defer pub.Stop()

	r.printf("  Running... ")
	var sent, statusErrors int64
	latencies := make([]time.Duration, 0, 1024)
	result.Duration = r.drive(func(snap *telemetry.Snapshot) {
		if pub.Publish(snap, true) {
			atomic.AddInt64(&sent, 1)
		}
		if snap.Tick%statusEvery == 0 {
			start := time.Now()
			if err := pub.PublishStatus(benchStatus(snap.Tick)); err != nil {
				statusErrors++
				return
			}
			latencies = append(latencies, time.Since(start))
		}
	})

	// Allow time for the queue to drain
	time.Sleep(100 * time.Millisecond)

	published, dropped, errs := pub.Stats()
	result.Snapshots = sent
	result.Delivered = int64(published)
	result.Dropped = int64(dropped)
	result.Errors = int64(errs) + statusErrors
	result.AvgLatency, result.P50Latency, result.P95Latency, result.P99Latency, result.MaxLatency = calculateLatencyStats(latencies)
	result.Throughput = float64(sent) / result.Duration.Seconds()
	result.Success = sent > 0 && result.Errors == 0

	r.printOutcome(result)
	return result
}

// statusEvery is how many snapshots pass between timed status writes.
const statusEvery = 100

func benchStatus(tick int64) provider.Status {
	return provider.Status{
		Source:    "bench",
		State:     provider.StateConnectedRunning,
		Connected: true,
		Running:   true,
		Tick:      tick,
	}
}

// drive feeds synthetic snapshots to publish until the test duration
// elapses and returns the elapsed time. Publishing is single-threaded, the
// same as the sampling loop.
func (r *Runner) drive(publish func(*telemetry.Snapshot)) time.Duration {
	stop := make(chan struct{})
	time.AfterFunc(r.testCfg.Duration, func() { close(stop) })

	start := time.Now()
	for {
		select {
		case <-stop:
			return time.Since(start)
		default:
			publish(r.gen.next())
		}
	}
}

// generator produces snapshots shaped like live telemetry with changing values.
type generator struct {
	tick     int64
	names    []string
	arrayLen int
	rng      *rand.Rand
}

func newGenerator(numValues, arrayLen int) *generator {
	names := make([]string, numValues)
	for i := range names {
		names[i] = fmt.Sprintf("Bench%d", i)
	}
	return &generator{
		names:    names,
		arrayLen: arrayLen,
		rng:      rand.New(rand.NewSource(1)),
	}
}

func (g *generator) next() *telemetry.Snapshot {
	g.tick++
	values := make([]telemetry.TelemetryValue, 0, len(g.names)+1)
	for _, name := range g.names {
		values = append(values, telemetry.TelemetryValue{
			Name:  name,
			Value: telemetry.Float(g.rng.Float64() * 100),
		})
	}
	if g.arrayLen > 0 {
		arr := make([]float32, g.arrayLen)
		for i := range arr {
			arr[i] = g.rng.Float32()
		}
		values = append(values, telemetry.TelemetryValue{Name: "BenchArray", Value: telemetry.FloatArray(arr)})
	}
	return &telemetry.Snapshot{
		Source: "bench",
		Tick:   g.tick,
		Time:   time.Now(),
		Values: values,
	}
}

// calculateLatencyStats computes avg, p50, p95, p99, and max latencies.
func calculateLatencyStats(latencies []time.Duration) (avg, p50, p95, p99, max time.Duration) {
	if len(latencies) == 0 {
		return
	}

	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, l := range sorted {
		total += l
	}
	avg = total / time.Duration(len(sorted))

	p50 = sorted[len(sorted)*50/100]
	p95 = sorted[len(sorted)*95/100]
	p99 = sorted[len(sorted)*99/100]
	max = sorted[len(sorted)-1]

	return
}

// printReport prints a formatted summary report.
func (r *Runner) printReport() {
	r.printf("\n")
	r.printf("╔══════════════════════════════════════════════════════════════════╗\n")
	r.printf("║                         TEST RESULTS                             ║\n")
	r.printf("╚══════════════════════════════════════════════════════════════════╝\n\n")

	if len(r.results) == 0 {
		r.printf("  No enabled sinks found in configuration.\n\n")
		r.printf("  To run tests, enable sinks in the config file:\n")
		r.printf("    - kafka[].enabled: true\n")
		r.printf("    - mqtt[].enabled: true\n")
		r.printf("    - valkey[].enabled: true\n\n")
		return
	}

	r.printf("  ┌─────────┬────────────────┬────────────────┬──────────────┬────────┐\n")
	r.printf("  │ Type    │ Name           │ Throughput     │ Snapshots    │ Status │\n")
	r.printf("  ├─────────┼────────────────┼────────────────┼──────────────┼────────┤\n")

	passed, failed := 0, 0
	for _, result := range r.results {
		status := "✓ PASS"
		if !result.Success {
			status = "✗ FAIL"
			failed++
		} else {
			passed++
		}

		name := result.SinkName
		if len(name) > 14 {
			name = name[:14]
		}
		r.printf("  │ %-7s │ %-14s │ %14s │ %12d │ %s │\n",
			result.SinkType, name, fmt.Sprintf("%.0f snap/s", result.Throughput), result.Snapshots, status)
	}
	r.printf("  └─────────┴────────────────┴────────────────┴──────────────┴────────┘\n\n")

	for _, result := range r.results {
		if result.Error != nil {
			continue
		}
		r.printf("  %s/%s:\n", result.SinkType, result.SinkName)
		r.printf("    Address:    %s\n", result.Address)
		r.printf("    Duration:   %v\n", result.Duration.Round(time.Millisecond))
		r.printf("    Snapshots:  %d queued, %d delivered, %d dropped, %d errors\n",
			result.Snapshots, result.Delivered, result.Dropped, result.Errors)
		r.printf("    Throughput: %.1f snap/s\n", result.Throughput)
		if result.AvgLatency > 0 {
			r.printf("    Latency:\n")
			r.printf("      avg: %v, p50: %v, p95: %v, p99: %v, max: %v\n",
				result.AvgLatency.Round(time.Microsecond),
				result.P50Latency.Round(time.Microsecond),
				result.P95Latency.Round(time.Microsecond),
				result.P99Latency.Round(time.Microsecond),
				result.MaxLatency.Round(time.Microsecond))
		}
		r.printf("\n")
	}

	r.printf("─────────────────────────────────────────────────────────────────────\n")
	r.printf("  Summary: %d passed, %d failed\n", passed, failed)

	if failed > 0 {
		r.printf("\n  FAILED TESTS:\n")
		for _, result := range r.results {
			if result.Success {
				continue
			}
			errMsg := "unknown error"
			if result.Error != nil {
				errMsg = result.Error.Error()
			} else if result.Errors > 0 {
				errMsg = fmt.Sprintf("%d publish errors", result.Errors)
			}
			r.printf("    - %s/%s: %s\n", result.SinkType, result.SinkName, errMsg)
		}
	}
	r.printf("\n")
}
