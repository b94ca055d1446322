// Package web provides the HTTP server hosting the REST API and the
// Prometheus endpoint.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"simlink/api"
	"simlink/config"
	"simlink/engine"
	"simlink/logging"
)

// Server is the unified HTTP server for the REST API and metrics.
type Server struct {
	config  *config.WebConfig
	engine  *engine.Engine
	metrics http.Handler
	server  *http.Server
	router  chi.Router
	running bool
	mu      sync.RWMutex

	// Cleanup for the API stream hub and its event subscription
	apiCleanup func()
}

// NewServer creates a new web server. metrics may be nil when no collector
// is installed.
func NewServer(cfg *config.WebConfig, eng *engine.Engine, metrics http.Handler) *Server {
	s := &Server{
		config:  cfg,
		engine:  eng,
		metrics: metrics,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures the chi router with all routes.
func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5, "application/json", "text/plain"))
	r.Use(corsMiddleware)

	r.Get("/", s.handleIndex)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "ok\n")
	})

	if s.config.API.Enabled {
		apiRouter, cleanup := api.NewRouter(s.engine)
		s.apiCleanup = cleanup
		r.Mount("/api", apiRouter)
	}

	if s.config.Metrics.Enabled && s.metrics != nil {
		r.Handle(s.metricsPath(), s.metrics)
	}

	s.router = r
}

func (s *Server) metricsPath() string {
	if s.config.Metrics.Path == "" {
		return "/metrics"
	}
	return s.config.Metrics.Path
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	index := map[string]interface{}{
		"namespace": s.engine.GetConfig().Namespace,
		"api":       s.config.API.Enabled,
	}
	if s.config.API.Enabled {
		index["api_path"] = "/api"
	}
	if s.config.Metrics.Enabled && s.metrics != nil {
		index["metrics_path"] = s.metricsPath()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(index)
}

// debugLogWriter adapts logging.DebugLog to an io.Writer for use with log.Logger.
type debugLogWriter string

func (tag debugLogWriter) Write(p []byte) (n int, err error) {
	logging.DebugLog(string(tag), "%s", string(p))
	return len(p), nil
}

// Verify debugLogWriter implements io.Writer.
var _ io.Writer = debugLogWriter("")

// corsMiddleware adds CORS headers for API access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Handler returns the current router.
func (s *Server) Handler() http.Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.router
}

// Start begins the HTTP server.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.New(debugLogWriter("web"), "", 0),
	}

	srv := s.server
	go func() {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logging.DebugLog("web", "server on %s exited: %v", addr, err)
			s.mu.Lock()
			if s.server == srv {
				s.running = false
			}
			s.mu.Unlock()
		}
	}()

	s.running = true
	return nil
}

// Stop halts the HTTP server gracefully.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.apiCleanup != nil {
		s.apiCleanup()
		s.apiCleanup = nil
	}

	if !s.running || s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(ctx)
	s.running = false
	s.server = nil
	return err
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Address returns the server address.
func (s *Server) Address() string {
	return fmt.Sprintf("http://%s:%d", s.config.Host, s.config.Port)
}

// Reload reconfigures routes with updated config.
// Call this after config changes that affect enabled state.
func (s *Server) Reload(cfg *config.WebConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.apiCleanup != nil {
		s.apiCleanup()
		s.apiCleanup = nil
	}

	s.config = cfg
	s.setupRoutes()
	if s.server != nil {
		s.server.Handler = s.router
	}
}
