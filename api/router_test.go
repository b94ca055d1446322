package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"simlink/config"
	"simlink/engine"
	"simlink/source"
	"simlink/telemetry"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) (*httptest.Server, *engine.Engine) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Namespace = "rig1"
	cfg.Provider.UpdateFrequency = 200
	cfg.Provider.AutoStart = false
	cfg.Signals = []string{"Speed", "RPM", "SlipAngle"}
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

	router, cleanup := NewRouter(eng)
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		cleanup()
		eng.Stop()
	})
	return srv, eng
}

func waitForSample(t *testing.T, eng *engine.Engine) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for eng.Latest() == nil {
		if time.Now().After(deadline) {
			t.Fatal("no sample within 2s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestStatus(t *testing.T) {
	srv, eng := newTestServer(t, nil)

	resp := do(t, http.MethodGet, srv.URL+"/status", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var st StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Namespace != "rig1" {
		t.Errorf("expected namespace rig1, got %q", st.Namespace)
	}
	if st.Active {
		t.Error("provider should not be active before start")
	}

	if err := eng.StartProvider(); err != nil {
		t.Fatalf("StartProvider: %v", err)
	}
	waitForSample(t, eng)

	resp = do(t, http.MethodGet, srv.URL+"/status", "")
	st = StatusResponse{}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !st.Active || !st.Connected {
		t.Errorf("expected active and connected, got %+v", st)
	}
	if st.Source != "mock" {
		t.Errorf("expected source mock, got %q", st.Source)
	}
	if st.Samples == 0 {
		t.Error("expected samples to be counted")
	}
}

func TestValues(t *testing.T) {
	srv, eng := newTestServer(t, nil)

	resp := do(t, http.MethodGet, srv.URL+"/values", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before first sample, got %d", resp.StatusCode)
	}

	if err := eng.StartProvider(); err != nil {
		t.Fatalf("StartProvider: %v", err)
	}
	waitForSample(t, eng)

	resp = do(t, http.MethodGet, srv.URL+"/values", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var snap struct {
		Tick   int64 `json:"tick"`
		Values []struct {
			Name string `json:"name"`
		} `json:"values"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snap.Values) != 3 {
		t.Fatalf("expected 3 values, got %d", len(snap.Values))
	}
	if snap.Values[0].Name != "Speed" {
		t.Errorf("expected Speed first, got %q", snap.Values[0].Name)
	}

	tests := []struct {
		name string
		path string
		want int
	}{
		{"raw value", "/values/Speed", http.StatusOK},
		{"derived value", "/values/SlipAngle", http.StatusOK},
		{"not captured", "/values/Gear", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodGet, srv.URL+tt.path, "")
			if resp.StatusCode != tt.want {
				t.Errorf("GET %s: expected %d, got %d", tt.path, tt.want, resp.StatusCode)
			}
		})
	}
}

func TestNamesAndFields(t *testing.T) {
	srv, eng := newTestServer(t, nil)

	var names []NameResponse
	resp := do(t, http.MethodGet, srv.URL+"/names", "")
	if err := json.NewDecoder(resp.Body).Decode(&names); err != nil {
		t.Fatalf("decode: %v", err)
	}
	derived := map[string]bool{}
	for _, n := range names {
		derived[n.Name] = n.Derived
	}
	if !derived["SlipAngle"] {
		t.Error("SlipAngle should be listed as derived")
	}
	if v, ok := derived["Speed"]; !ok || v {
		t.Error("Speed should be listed as raw")
	}

	if err := eng.StartProvider(); err != nil {
		t.Fatalf("StartProvider: %v", err)
	}
	waitForSample(t, eng)

	var fields []FieldResponse
	resp = do(t, http.MethodGet, srv.URL+"/fields", "")
	if err := json.NewDecoder(resp.Body).Decode(&fields); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(fields) == 0 {
		t.Fatal("expected fields once connected")
	}
}

func TestSignalsRoundTrip(t *testing.T) {
	srv, eng := newTestServer(t, nil)

	resp := do(t, http.MethodPut, srv.URL+"/signals", `{"signals":["RPM","Gear"]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var signals []string
	resp = do(t, http.MethodGet, srv.URL+"/signals", "")
	if err := json.NewDecoder(resp.Body).Decode(&signals); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if strings.Join(signals, ",") != "RPM,Gear" {
		t.Errorf("expected RPM,Gear, got %v", signals)
	}
	if got := eng.GetConfig().Signals; len(got) != 2 {
		t.Errorf("config not updated: %v", got)
	}

	resp = do(t, http.MethodPut, srv.URL+"/signals", `{not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad JSON, got %d", resp.StatusCode)
	}
}

func TestMQTTCrud(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"create", http.MethodPost, "/mqtt", `{"name":"local","broker":"127.0.0.1","port":1883}`, http.StatusCreated},
		{"duplicate", http.MethodPost, "/mqtt", `{"name":"local","broker":"127.0.0.1"}`, http.StatusConflict},
		{"update", http.MethodPut, "/mqtt/local", `{"broker":"10.0.0.5","port":1884}`, http.StatusOK},
		{"update missing", http.MethodPut, "/mqtt/nope", `{"broker":"10.0.0.5"}`, http.StatusNotFound},
		{"delete", http.MethodDelete, "/mqtt/local", "", http.StatusOK},
		{"delete again", http.MethodDelete, "/mqtt/local", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		resp := do(t, tt.method, srv.URL+tt.path, tt.body)
		if resp.StatusCode != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.name, tt.want, resp.StatusCode)
		}
	}
}

func TestSinks(t *testing.T) {
	srv, _ := newTestServer(t, func(c *config.Config) {
		c.Valkey = []config.ValkeyConfig{{Name: "cache", Address: "127.0.0.1:6379"}}
	})

	var sinks []engine.SinkStatus
	resp := do(t, http.MethodGet, srv.URL+"/sinks", "")
	if err := json.NewDecoder(resp.Body).Decode(&sinks); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(sinks) != 1 || sinks[0].Kind != "valkey" || sinks[0].Name != "cache" {
		t.Errorf("unexpected sinks: %+v", sinks)
	}
	if sinks[0].Running {
		t.Error("disabled sink should not be running")
	}
}

func TestForcePublish(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp := do(t, http.MethodPost, srv.URL+"/publish", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without a sample, got %d", resp.StatusCode)
	}
	resp = do(t, http.MethodPost, srv.URL+"/publish?sink=carrier-pigeon", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown sink, got %d", resp.StatusCode)
	}
}

func TestBasicAuth(t *testing.T) {
	adminHash, _ := bcrypt.GenerateFromPassword([]byte("admin"), bcrypt.MinCost)
	viewerHash, _ := bcrypt.GenerateFromPassword([]byte("viewer"), bcrypt.MinCost)

	srv, _ := newTestServer(t, func(c *config.Config) {
		c.Web.API.Users = []config.WebUser{
			{Username: "admin", PasswordHash: string(adminHash), Role: config.RoleAdmin},
			{Username: "viewer", PasswordHash: string(viewerHash), Role: config.RoleViewer},
		}
	})

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		pass   string
		want   int
	}{
		{"no credentials", http.MethodGet, "/status", "", "", http.StatusUnauthorized},
		{"wrong password", http.MethodGet, "/status", "admin", "nope", http.StatusUnauthorized},
		{"viewer reads", http.MethodGet, "/status", "viewer", "viewer", http.StatusOK},
		{"viewer cannot mutate", http.MethodPost, "/provider/stop", "viewer", "viewer", http.StatusForbidden},
		{"admin mutates", http.MethodPost, "/provider/stop", "admin", "admin", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, srv.URL+tt.path, nil)
			if tt.user != "" {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestStream(t *testing.T) {
	srv, eng := newTestServer(t, nil)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream?names=Speed"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var hello struct {
		Type string            `json:"type"`
		Data map[string]string `json:"data"`
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if hello.Type != msgConnected || hello.Data["id"] == "" {
		t.Fatalf("unexpected hello: %+v", hello)
	}

	if err := eng.StartProvider(); err != nil {
		t.Fatalf("StartProvider: %v", err)
	}

	for {
		var msg struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Type != msgSample {
			continue
		}
		var snap struct {
			Values []struct {
				Name string `json:"name"`
			} `json:"values"`
		}
		if err := json.Unmarshal(msg.Data, &snap); err != nil {
			t.Fatalf("decode sample: %v", err)
		}
		if len(snap.Values) != 1 || snap.Values[0].Name != "Speed" {
			t.Fatalf("expected only Speed, got %+v", snap.Values)
		}
		return
	}
}

func TestFilterSnapshot(t *testing.T) {
	snap := &telemetry.Snapshot{
		Tick: 7,
		Values: []telemetry.TelemetryValue{
			{Name: "Speed", Value: telemetry.Float(40)},
			{Name: "RPM", Value: telemetry.Float(6000)},
		},
		Missing: []string{"Bogus"},
	}

	if got := filterSnapshot(snap, nil); got != snap {
		t.Error("nil filter should return the snapshot unchanged")
	}

	got := filterSnapshot(snap, map[string]bool{"RPM": true, "Bogus": true})
	if got.Tick != 7 {
		t.Errorf("expected tick 7, got %d", got.Tick)
	}
	if len(got.Values) != 1 || got.Values[0].Name != "RPM" {
		t.Errorf("expected only RPM, got %+v", got.Values)
	}
	if len(got.Missing) != 1 || got.Missing[0] != "Bogus" {
		t.Errorf("expected Bogus missing, got %v", got.Missing)
	}
	if len(snap.Values) != 2 {
		t.Error("filter must not modify the source snapshot")
	}
}
