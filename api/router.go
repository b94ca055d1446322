// Package api provides the REST and WebSocket API for telemetry data.
package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"simlink/engine"
	"simlink/provider"
	"simlink/telemetry"
)

// StatusResponse is the JSON response for the sampling loop state.
type StatusResponse struct {
	Namespace     string `json:"namespace"`
	Source        string `json:"source"`
	State         string `json:"state"`
	Connected     bool   `json:"connected"`
	Running       bool   `json:"running"`
	Active        bool   `json:"active"`
	Tick          int64  `json:"tick"`
	Iterations    uint64 `json:"iterations"`
	Samples       uint64 `json:"samples"`
	Errors        uint64 `json:"errors"`
	Reconnects    uint64 `json:"reconnects"`
	LastSample    string `json:"last_sample,omitempty"`
	LastError     string `json:"last_error,omitempty"`
	ProviderError string `json:"provider_error,omitempty"`
}

// FieldResponse is the JSON response for one raw source field.
type FieldResponse struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Count int    `json:"count"`
	Unit  string `json:"unit,omitempty"`
}

// NameResponse describes one resolvable value name.
type NameResponse struct {
	Name    string `json:"name"`
	Derived bool   `json:"derived"`
	Unit    string `json:"unit,omitempty"`
}

// handlers holds the API handler functions.
type handlers struct {
	engine *engine.Engine
	hub    *streamHub
	subID  engine.SubscriberID
}

// NewRouter creates the API router. The returned cleanup function stops
// the stream hub and detaches it from the engine's event bus.
func NewRouter(eng *engine.Engine) (chi.Router, func()) {
	h := &handlers{engine: eng, hub: newStreamHub()}
	cleanup := h.setupStream()

	r := chi.NewRouter()
	r.Use(h.authenticate)

	r.Get("/status", h.handleStatus)
	r.Get("/fields", h.handleFields)
	r.Get("/names", h.handleNames)
	r.Get("/signals", h.handleSignals)
	r.Get("/values", h.handleValues)
	r.Get("/values/*", h.handleSingleValue)
	r.Get("/sinks", h.handleSinks)
	r.Get("/stream", h.handleStream)

	r.Group(func(r chi.Router) {
		r.Use(requireAdmin)

		r.Put("/signals", h.handleSetSignals)
		r.Put("/vehicle", h.handleSetVehicle)
		r.Put("/provider", h.handleUpdateProvider)
		r.Post("/provider/start", h.handleStartProvider)
		r.Post("/provider/stop", h.handleStopProvider)
		r.Post("/publish", h.handleForcePublish)

		r.Post("/mqtt", h.handleCreateMQTT)
		r.Put("/mqtt/{name}", h.handleUpdateMQTT)
		r.Delete("/mqtt/{name}", h.handleDeleteMQTT)
		r.Post("/mqtt/{name}/start", h.handleStartMQTT)
		r.Post("/mqtt/{name}/stop", h.handleStopMQTT)

		r.Post("/valkey", h.handleCreateValkey)
		r.Put("/valkey/{name}", h.handleUpdateValkey)
		r.Delete("/valkey/{name}", h.handleDeleteValkey)
		r.Post("/valkey/{name}/start", h.handleStartValkey)
		r.Post("/valkey/{name}/stop", h.handleStopValkey)

		r.Post("/kafka", h.handleCreateKafka)
		r.Put("/kafka/{name}", h.handleUpdateKafka)
		r.Delete("/kafka/{name}", h.handleDeleteKafka)
		r.Post("/kafka/{name}/connect", h.handleConnectKafka)
		r.Post("/kafka/{name}/disconnect", h.handleDisconnectKafka)
	})

	return r, cleanup
}

func (h *handlers) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (h *handlers) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeEngineError maps engine sentinel errors to HTTP status codes.
func (h *handlers) writeEngineError(w http.ResponseWriter, err error) {
	h.writeError(w, engine.EngineHTTPStatus(err), err.Error())
}

func statusResponse(namespace string, st provider.Status) StatusResponse {
	resp := StatusResponse{
		Namespace:  namespace,
		Source:     st.Source,
		State:      st.State.String(),
		Connected:  st.Connected,
		Running:    st.Running,
		Tick:       st.Tick,
		Iterations: st.Stats.Iterations,
		Samples:    st.Stats.Samples,
		Errors:     st.Stats.Errors,
		Reconnects: st.Stats.Reconnects,
	}
	if !st.Stats.LastSample.IsZero() {
		resp.LastSample = st.Stats.LastSample.UTC().Format(time.RFC3339Nano)
	}
	if st.Stats.LastError != nil {
		resp.LastError = st.Stats.LastError.Error()
	}
	return resp
}

func (h *handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	namespace := h.engine.GetConfig().Namespace
	p := h.engine.GetProvider()
	if p == nil {
		resp := StatusResponse{
			Namespace: namespace,
			State:     provider.StateDisconnected.String(),
		}
		if err := h.engine.ProviderError(); err != nil {
			resp.ProviderError = err.Error()
		}
		h.writeJSON(w, resp)
		return
	}

	resp := statusResponse(namespace, p.Status())
	resp.Active = p.IsActive()
	h.writeJSON(w, resp)
}

func (h *handlers) handleFields(w http.ResponseWriter, r *http.Request) {
	response := []FieldResponse{}
	if p := h.engine.GetProvider(); p != nil {
		for _, f := range p.Fields() {
			response = append(response, FieldResponse{
				Name:  f.Name,
				Type:  f.Kind.String(),
				Count: f.Count,
				Unit:  f.Unit,
			})
		}
	}
	h.writeJSON(w, response)
}

func (h *handlers) handleNames(w http.ResponseWriter, r *http.Request) {
	p := h.engine.GetProvider()
	if p == nil {
		h.writeJSON(w, []NameResponse{})
		return
	}
	res := p.Resolver()
	names := p.ValueList()
	response := make([]NameResponse, 0, len(names))
	for _, name := range names {
		response = append(response, NameResponse{
			Name:    name,
			Derived: res.IsDerived(name),
			Unit:    res.Unit(name),
		})
	}
	h.writeJSON(w, response)
}

func (h *handlers) handleSignals(w http.ResponseWriter, r *http.Request) {
	signals := h.engine.Signals()
	if signals == nil {
		signals = []string{}
	}
	h.writeJSON(w, signals)
}

func (h *handlers) handleValues(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Latest()
	if snap == nil {
		h.writeEngineError(w, engine.ErrNoSample)
		return
	}
	h.writeJSON(w, snap)
}

func (h *handlers) handleSingleValue(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil || name == "" {
		h.writeError(w, http.StatusBadRequest, "invalid value name")
		return
	}

	snap := h.engine.Latest()
	if snap == nil {
		h.writeEngineError(w, engine.ErrNoSample)
		return
	}
	tv, ok := snap.Get(name)
	if !ok {
		h.writeError(w, http.StatusNotFound, "value not captured: "+name)
		return
	}
	h.writeJSON(w, valueResponse{TelemetryValue: tv, Tick: snap.Tick})
}

// valueResponse is a single captured value with its tick.
type valueResponse struct {
	telemetry.TelemetryValue
	Tick int64 `json:"tick"`
}

func (h *handlers) handleSinks(w http.ResponseWriter, r *http.Request) {
	sinks := h.engine.SinkStatuses()
	if sinks == nil {
		sinks = []engine.SinkStatus{}
	}
	h.writeJSON(w, sinks)
}
