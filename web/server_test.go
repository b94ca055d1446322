package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"simlink/config"
	"simlink/engine"
	"simlink/metrics"
	"simlink/source"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Namespace = "rig1"
	cfg.Provider.AutoStart = false
	eng := engine.New(engine.Config{
		AppConfig:  cfg,
		ConfigPath: filepath.Join(t.TempDir(), "config.yaml"),
		NewSource: func(*config.ProviderConfig) (source.Source, error) {
			return source.NewMock(source.MockOptions{}), nil
		},
	})
	eng.Start()
	t.Cleanup(eng.Stop)
	return eng
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRoutes(t *testing.T) {
	eng := newTestEngine(t)
	cfg := eng.GetConfig().Web
	s := NewServer(&cfg, eng, metrics.New().Handler())
	defer s.Stop()

	tests := []struct {
		path string
		want int
		body string
	}{
		{"/healthz", http.StatusOK, "ok"},
		{"/api/status", http.StatusOK, `"namespace":"rig1"`},
		{"/metrics", http.StatusOK, "go_goroutines"},
		{"/nope", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		rec := get(t, s.Handler(), tt.path)
		if rec.Code != tt.want {
			t.Errorf("GET %s: expected %d, got %d", tt.path, tt.want, rec.Code)
		}
		if tt.body != "" && !strings.Contains(rec.Body.String(), tt.body) {
			t.Errorf("GET %s: body %q missing %q", tt.path, rec.Body.String(), tt.body)
		}
	}
}

func TestIndex(t *testing.T) {
	eng := newTestEngine(t)
	cfg := eng.GetConfig().Web
	s := NewServer(&cfg, eng, nil)
	defer s.Stop()

	var index map[string]interface{}
	if err := json.Unmarshal(get(t, s.Handler(), "/").Body.Bytes(), &index); err != nil {
		t.Fatalf("decode index: %v", err)
	}
	if index["api_path"] != "/api" {
		t.Errorf("expected api_path /api, got %v", index["api_path"])
	}
	if _, ok := index["metrics_path"]; ok {
		t.Error("metrics_path should be absent without a collector")
	}
}

func TestReloadDisablesAPI(t *testing.T) {
	eng := newTestEngine(t)
	cfg := eng.GetConfig().Web
	s := NewServer(&cfg, eng, nil)
	defer s.Stop()

	if rec := get(t, s.Handler(), "/api/status"); rec.Code != http.StatusOK {
		t.Fatalf("expected API enabled, got %d", rec.Code)
	}

	disabled := cfg
	disabled.API.Enabled = false
	s.Reload(&disabled)

	if rec := get(t, s.Handler(), "/api/status"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after disabling API, got %d", rec.Code)
	}
}

func TestCorsPreflight(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("preflight should not reach the handler")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/status", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing Access-Control-Allow-Origin header")
	}
}

func TestStartStop(t *testing.T) {
	eng := newTestEngine(t)
	cfg := eng.GetConfig().Web
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	s := NewServer(&cfg, eng, nil)

	if s.IsRunning() {
		t.Fatal("server should not be running initially")
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !s.IsRunning() {
		t.Error("server should be running after Start")
	}
	if err := s.Start(); err != nil {
		t.Errorf("second Start should not error: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if s.IsRunning() {
		t.Error("server should not be running after Stop")
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop should not error: %v", err)
	}
}

func TestDebugLogWriter(t *testing.T) {
	var w io.Writer = debugLogWriter("web")
	n, err := w.Write([]byte("hello"))
	if err != nil || n != 5 {
		t.Errorf("Write = %d, %v", n, err)
	}
}
