package api

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"simlink/config"
	"simlink/engine"
)

func (h *handlers) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func nameParam(r *http.Request) string {
	name, _ := url.PathUnescape(chi.URLParam(r, "name"))
	return name
}

// --- Provider ---

type signalsRequest struct {
	Signals []string `json:"signals"`
}

func (h *handlers) handleSetSignals(w http.ResponseWriter, r *http.Request) {
	var req signalsRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.SetSignals(req.Signals); err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, map[string]string{"status": "updated"})
}

type vehicleRequest struct {
	Name          string   `json:"name"`
	Wheelbase     float64  `json:"wheelbase"`
	TrackWidth    float64  `json:"track_width"`
	RumbleCorners []string `json:"rumble_corners"`
}

func (h *handlers) handleSetVehicle(w http.ResponseWriter, r *http.Request) {
	var req vehicleRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.engine.SetVehicle(config.VehicleConfig{
		Name:          req.Name,
		Wheelbase:     req.Wheelbase,
		TrackWidth:    req.TrackWidth,
		RumbleCorners: req.RumbleCorners,
	})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, map[string]string{"status": "updated"})
}

func (h *handlers) handleUpdateProvider(w http.ResponseWriter, r *http.Request) {
	var req engine.ProviderHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.UpdateProvider(req.ToSettingsRequest()); err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, map[string]string{"status": "updated"})
}

func (h *handlers) handleStartProvider(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.StartProvider(); err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, map[string]string{"status": "started"})
}

func (h *handlers) handleStopProvider(w http.ResponseWriter, r *http.Request) {
	h.engine.StopProvider()
	h.writeJSON(w, map[string]string{"status": "stopped"})
}

func (h *handlers) handleForcePublish(w http.ResponseWriter, r *http.Request) {
	var err error
	switch r.URL.Query().Get("sink") {
	case "":
		err = h.engine.ForcePublishAll()
	case "mqtt":
		err = h.engine.ForcePublishToMQTT()
	case "valkey":
		err = h.engine.ForcePublishToValkey()
	case "kafka":
		err = h.engine.ForcePublishToKafka()
	default:
		h.writeError(w, http.StatusBadRequest, "unknown sink kind")
		return
	}
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, map[string]string{"status": "published"})
}

// --- MQTT ---

func (h *handlers) handleCreateMQTT(w http.ResponseWriter, r *http.Request) {
	var req engine.MQTTHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.CreateMQTT(req.ToCreateRequest()); err != nil {
		h.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	h.writeJSON(w, map[string]string{"status": "created"})
}

func (h *handlers) handleUpdateMQTT(w http.ResponseWriter, r *http.Request) {
	var req engine.MQTTHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.UpdateMQTT(nameParam(r), req.ToUpdateRequest()); err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, map[string]string{"status": "updated"})
}

func (h *handlers) handleDeleteMQTT(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteMQTT(nameParam(r)); err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, map[string]string{"status": "deleted"})
}

func (h *handlers) handleStartMQTT(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.StartMQTT(nameParam(r)); err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, map[string]string{"status": "started"})
}

func (h *handlers) handleStopMQTT(w http.ResponseWriter, r *http.Request) {
	h.engine.StopMQTT(nameParam(r))
	h.writeJSON(w, map[string]string{"status": "stopped"})
}

// --- Valkey ---

func (h *handlers) handleCreateValkey(w http.ResponseWriter, r *http.Request) {
	var req engine.ValkeyHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.CreateValkey(req.ToCreateRequest()); err != nil {
		h.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	h.writeJSON(w, map[string]string{"status": "created"})
}

func (h *handlers) handleUpdateValkey(w http.ResponseWriter, r *http.Request) {
	var req engine.ValkeyHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.UpdateValkey(nameParam(r), req.ToUpdateRequest()); err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, map[string]string{"status": "updated"})
}

func (h *handlers) handleDeleteValkey(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteValkey(nameParam(r)); err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, map[string]string{"status": "deleted"})
}

func (h *handlers) handleStartValkey(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.StartValkey(nameParam(r)); err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, map[string]string{"status": "started"})
}

func (h *handlers) handleStopValkey(w http.ResponseWriter, r *http.Request) {
	h.engine.StopValkey(nameParam(r))
	h.writeJSON(w, map[string]string{"status": "stopped"})
}

// --- Kafka ---

func (h *handlers) handleCreateKafka(w http.ResponseWriter, r *http.Request) {
	var req engine.KafkaHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.CreateKafka(req.ToCreateRequest()); err != nil {
		h.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	h.writeJSON(w, map[string]string{"status": "created"})
}

func (h *handlers) handleUpdateKafka(w http.ResponseWriter, r *http.Request) {
	var req engine.KafkaHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.UpdateKafka(nameParam(r), req.ToUpdateRequest()); err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, map[string]string{"status": "updated"})
}

func (h *handlers) handleDeleteKafka(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteKafka(nameParam(r)); err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, map[string]string{"status": "deleted"})
}

func (h *handlers) handleConnectKafka(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ConnectKafka(nameParam(r)); err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, map[string]string{"status": "connected"})
}

func (h *handlers) handleDisconnectKafka(w http.ResponseWriter, r *http.Request) {
	h.engine.DisconnectKafka(nameParam(r))
	h.writeJSON(w, map[string]string{"status": "disconnected"})
}
