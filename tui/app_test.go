package tui

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"

	"simlink/config"
	"simlink/engine"
	"simlink/provider"
	"simlink/source"
	"simlink/telemetry"
)

func newTestApp(t *testing.T, mutate func(*config.Config)) *App {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Namespace = "rig1"
	cfg.Provider.UpdateFrequency = 200
	cfg.Provider.AutoStart = false
	cfg.Signals = []string{"Speed", "Gear", "Bogus"}
	cfg.Units = map[string]string{"Speed": "m/s"}
	if mutate != nil {
		mutate(cfg)
	}

	eng := engine.New(engine.Config{
		AppConfig:  cfg,
		ConfigPath: filepath.Join(t.TempDir(), "config.yaml"),
		NewSource: func(*config.ProviderConfig) (source.Source, error) {
			return source.NewMock(source.MockOptions{Rate: 200}), nil
		},
	})
	eng.Start()
	t.Cleanup(eng.Stop)

	screen := tcell.NewSimulationScreen("UTF-8")
	if err := screen.Init(); err != nil {
		t.Fatalf("screen init: %v", err)
	}
	t.Cleanup(screen.Fini)
	return NewAppWithScreen(eng, screen)
}

func TestStateIndicator(t *testing.T) {
	tests := []struct {
		state provider.ConnectionState
		want  string
	}{
		{provider.StateConnectedRunning, StatusIndicatorRunning + " Running"},
		{provider.StateConnectedIdle, StatusIndicatorIdle + " Idle"},
		{provider.StateConnecting, StatusIndicatorConnecting + " Connecting"},
		{provider.StateDisconnected, StatusIndicatorDisconnected + " Disconnected"},
	}
	for _, tt := range tests {
		if got := stateIndicator(tt.state); got != tt.want {
			t.Errorf("stateIndicator(%v) = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name string
		v    telemetry.Value
		want string
	}{
		{"float", telemetry.Float(12.34567), "12.346"},
		{"int", telemetry.Int(4), "4"},
		{"bool", telemetry.Bool(true), "true"},
		{"short array", telemetry.FloatArray([]float32{1, 2}), "[1 2]"},
		{"long array", telemetry.FloatArray([]float32{1, 2, 3, 4, 5, 6, 7, 8}), "[1 2 3 4 5 6 ... (8)]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatValue(tt.v); got != tt.want {
				t.Errorf("formatValue = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStripColorTags(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"[red]error[-]", "error"},
		{"[#ffd700::b]PROVIDER:[-::-] Running", "PROVIDER: Running"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := stripColorTags(tt.in); got != tt.want {
			t.Errorf("stripColorTags(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestThemes(t *testing.T) {
	defer SetTheme("default")

	if !SetTheme("mono") {
		t.Fatal("mono theme should exist")
	}
	if GetThemeName() != "mono" {
		t.Errorf("expected mono, got %s", GetThemeName())
	}
	if SetTheme("neon") {
		t.Error("unknown theme should be rejected")
	}
	if GetThemeName() != "mono" {
		t.Error("unknown theme should keep the current one")
	}
	if next := NextTheme(); next != "default" {
		t.Errorf("expected to cycle back to default, got %s", next)
	}
}

func TestTelemetryTabRefresh(t *testing.T) {
	a := newTestApp(t, nil)

	a.telemetryTab.Refresh()
	if got := a.telemetryTab.table.GetRowCount(); got != 1 {
		t.Fatalf("expected header row only before a sample, got %d rows", got)
	}

	if err := a.engine.StartProvider(); err != nil {
		t.Fatalf("StartProvider: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for a.engine.Latest() == nil {
		if time.Now().After(deadline) {
			t.Fatal("no sample within 2s")
		}
		time.Sleep(5 * time.Millisecond)
	}

	a.telemetryTab.Refresh()
	table := a.telemetryTab.table
	if got := table.GetRowCount(); got != 4 {
		t.Fatalf("expected header plus 3 rows, got %d", got)
	}
	if name := table.GetCell(1, 0).Text; name != "Speed" {
		t.Errorf("expected Speed in row 1, got %q", name)
	}
	if unit := table.GetCell(1, 2).Text; unit != "m/s" {
		t.Errorf("expected unit m/s, got %q", unit)
	}
	if missing := table.GetCell(3, 1).Text; missing != "unknown" {
		t.Errorf("expected Bogus to render as unknown, got %q", missing)
	}

	a.telemetryTab.filter.SetText("gea")
	if got := table.GetRowCount(); got != 2 {
		t.Errorf("expected filter to leave one row, got %d", got-1)
	}
}

func TestSinksTabRefresh(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) {
		c.MQTT = []config.MQTTConfig{{Name: "local", Broker: "127.0.0.1", Port: 1883}}
		c.Kafka = []config.KafkaConfig{{Name: "prod", Brokers: []string{"127.0.0.1:9092"}}}
	})

	a.sinksTab.Refresh()
	table := a.sinksTab.table
	if got := table.GetRowCount(); got != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", got)
	}
	if kind := table.GetCell(1, 1).Text; kind != "mqtt" {
		t.Errorf("expected mqtt first, got %q", kind)
	}
	if kind := table.GetCell(2, 1).Text; kind != "kafka" {
		t.Errorf("expected kafka second, got %q", kind)
	}
	if !strings.Contains(a.sinksTab.statusBar.GetText(false), "0 running") {
		t.Errorf("unexpected status: %q", a.sinksTab.statusBar.GetText(false))
	}
}

func TestDebugLog(t *testing.T) {
	a := newTestApp(t, nil)

	DebugLog("hello %s", "world")
	DebugLogError("bad %d", 7)
	a.debugTab.Refresh()

	text := a.debugTab.logView.GetText(true)
	if !strings.Contains(text, "hello world") {
		t.Errorf("log missing message: %q", text)
	}
	if !strings.Contains(text, "ERROR: bad 7") {
		t.Errorf("log missing error: %q", text)
	}

	a.debugTab.Clear()
	if len(a.debugTab.messages) != 0 {
		t.Error("Clear should drop all messages")
	}
}

func TestTabSwitching(t *testing.T) {
	a := newTestApp(t, nil)

	if a.tabNames[a.currentTab] != TabTelemetry {
		t.Fatalf("expected telemetry tab first")
	}
	a.handleGlobalKeys(tcell.NewEventKey(tcell.KeyBacktab, 0, tcell.ModShift))
	if a.tabNames[a.currentTab] != TabSinks {
		t.Errorf("expected sinks tab after Shift+Tab, got %s", a.tabNames[a.currentTab])
	}
	front, _ := a.pages.GetFrontPage()
	if front != TabSinks {
		t.Errorf("expected sinks page in front, got %s", front)
	}
}

func TestWebToggleKeys(t *testing.T) {
	a := newTestApp(t, nil)
	cfg := a.engine.GetConfig()

	a.handleGlobalKeys(tcell.NewEventKey(tcell.KeyF7, 0, tcell.ModNone))
	if cfg.Web.API.Enabled {
		t.Error("F7 should disable the REST API")
	}
	if got := a.statusBar.GetText(true); !strings.Contains(got, "REST API disabled") {
		t.Errorf("status bar = %q", got)
	}

	a.handleGlobalKeys(tcell.NewEventKey(tcell.KeyF8, 0, tcell.ModNone))
	if cfg.Web.Metrics.Enabled {
		t.Error("F8 should disable the metrics endpoint")
	}

	a.handleGlobalKeys(tcell.NewEventKey(tcell.KeyF7, 0, tcell.ModNone))
	if !cfg.Web.API.Enabled {
		t.Error("second F7 should enable the REST API")
	}
}
