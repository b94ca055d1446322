package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"simlink/engine"
	"simlink/logging"
	"simlink/telemetry"
)

// Stream message types.
const (
	msgConnected = "connected"
	msgSample    = "sample"
	msgStatus    = "status"
)

const (
	clientBuffer = 64
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
)

// streamMessage is the envelope written to stream clients.
type streamMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// streamEvent is what the hub fans out. Samples are filtered per client
// before encoding.
type streamEvent struct {
	Type     string
	Snapshot *telemetry.Snapshot
	Data     interface{}
}

// streamClient is one connected WebSocket client.
type streamClient struct {
	id     string
	names  map[string]bool // nil means every captured value
	events chan streamEvent
}

// streamHub tracks stream clients and broadcasts events to them.
type streamHub struct {
	clients    map[string]*streamClient
	register   chan *streamClient
	unregister chan *streamClient
	broadcast  chan streamEvent
	mu         sync.RWMutex
	done       chan struct{}
	stopOnce   sync.Once
}

func newStreamHub() *streamHub {
	hub := &streamHub{
		clients:    make(map[string]*streamClient),
		register:   make(chan *streamClient),
		unregister: make(chan *streamClient),
		broadcast:  make(chan streamEvent, 256),
		done:       make(chan struct{}),
	}
	go hub.run()
	return hub
}

func (h *streamHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.events)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.RLock()
			for _, client := range h.clients {
				select {
				case client.events <- event:
				default:
					logging.DebugLog("api", "stream client %s buffer full, dropping %s", client.id, event.Type)
				}
			}
			h.mu.RUnlock()

		case <-h.done:
			h.mu.Lock()
			for id, client := range h.clients {
				close(client.events)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Broadcast queues event for every client without blocking.
func (h *streamHub) Broadcast(event streamEvent) {
	select {
	case h.broadcast <- event:
	default:
		logging.DebugLog("api", "stream broadcast full, dropping %s", event.Type)
	}
}

// ClientCount returns the number of connected clients.
func (h *streamHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop closes every client and ends the hub goroutine.
func (h *streamHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *streamHub) add(c *streamClient) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *streamHub) remove(c *streamClient) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleStream upgrades to a WebSocket and streams samples and status
// changes. The optional names query parameter restricts sample values.
func (h *handlers) handleStream(w http.ResponseWriter, r *http.Request) {
	var names map[string]bool
	if q := r.URL.Query().Get("names"); q != "" {
		names = make(map[string]bool)
		for _, n := range strings.Split(q, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names[n] = true
			}
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.DebugLog("api", "stream upgrade failed: %v", err)
		return
	}

	client := &streamClient{
		id:     uuid.NewString(),
		names:  names,
		events: make(chan streamEvent, clientBuffer),
	}
	if !h.hub.add(client) {
		conn.Close()
		return
	}
	logging.DebugLog("api", "stream client %s connected from %s", client.id, r.RemoteAddr)

	go readPump(conn, func() { h.hub.remove(client) })
	h.writePump(conn, client)
}

// readPump discards client frames and unregisters the client when the
// connection drops.
func readPump(conn *websocket.Conn, onClose func()) {
	defer onClose()
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump owns all writes to conn.
func (h *handlers) writePump(conn *websocket.Conn, client *streamClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
		logging.DebugLog("api", "stream client %s closed", client.id)
	}()

	hello := streamMessage{Type: msgConnected, Data: map[string]string{"id": client.id}}
	if err := writeMessage(conn, hello); err != nil {
		return
	}
	if snap := h.engine.Latest(); snap != nil {
		if err := writeMessage(conn, streamMessage{Type: msgSample, Data: filterSnapshot(snap, client.names)}); err != nil {
			return
		}
	}

	for {
		select {
		case event, ok := <-client.events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				return
			}
			msg := streamMessage{Type: event.Type, Data: event.Data}
			if event.Snapshot != nil {
				msg.Data = filterSnapshot(event.Snapshot, client.names)
			}
			if err := writeMessage(conn, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeMessage(conn *websocket.Conn, msg streamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// filterSnapshot returns snap restricted to names.
func filterSnapshot(snap *telemetry.Snapshot, names map[string]bool) *telemetry.Snapshot {
	if names == nil {
		return snap
	}
	out := &telemetry.Snapshot{
		Source: snap.Source,
		Tick:   snap.Tick,
		Time:   snap.Time,
		Values: make([]telemetry.TelemetryValue, 0, len(names)),
	}
	for _, tv := range snap.Values {
		if names[tv.Name] {
			out.Values = append(out.Values, tv)
		}
	}
	for _, m := range snap.Missing {
		if names[m] {
			out.Missing = append(out.Missing, m)
		}
	}
	return out
}

// setupStream forwards engine sample and provider events to the hub.
// Returns a cleanup function that unsubscribes and stops the hub.
func (h *handlers) setupStream() func() {
	h.subID = h.engine.Events.SubscribeTypes(func(ev engine.Event) {
		if h.hub.ClientCount() == 0 {
			return
		}
		switch p := ev.Payload.(type) {
		case engine.SampleEvent:
			h.hub.Broadcast(streamEvent{Type: msgSample, Snapshot: p.Snapshot})
		case engine.ProviderEvent:
			h.hub.Broadcast(streamEvent{
				Type: msgStatus,
				Data: statusResponse(h.engine.GetConfig().Namespace, p.Status),
			})
		}
	}, engine.EventSample, engine.EventProviderState)

	return func() {
		h.engine.Events.Unsubscribe(h.subID)
		h.hub.Stop()
	}
}
