package source

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"simlink/logging"
	"simlink/telemetry"
)

// BridgeOptions configures the MQTT bridge source.
type BridgeOptions struct {
	Broker     string
	Port       int
	Topic      string
	ClientID   string
	Username   string
	Password   string
	UseTLS     bool
	StaleAfter time.Duration    // No frame for this long => not connected, default 2s
	TickName   string           // Field filled from the frame sequence number when absent
	Now        func() time.Time // Clock, default time.Now
}

// BridgeFrame is the JSON message published by a sim-side bridge. A message
// without a "values" object is treated as a flat name/value map.
type BridgeFrame struct {
	Seq    *int64                 `json:"seq,omitempty"`
	Values map[string]interface{} `json:"values"`
}

// Bridge receives telemetry frames from a sim-side process over MQTT.
type Bridge struct {
	opts   BridgeOptions
	client pahomqtt.Client

	mu        sync.RWMutex
	reg       *telemetry.Registry
	latest    *telemetry.Frame
	lastFrame time.Time
	frames    uint64
	dropped   uint64

	// current is the frame latched by Poll, read only by the loop goroutine.
	current *telemetry.Frame
}

// NewBridge creates a bridge source. The broker connection is made on Connect.
func NewBridge(opts BridgeOptions) *Bridge {
	if opts.Port == 0 {
		opts.Port = 1883
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 2 * time.Second
	}
	if opts.TickName == "" {
		opts.TickName = "SessionTick"
	}
	if opts.ClientID == "" {
		opts.ClientID = fmt.Sprintf("simlink-bridge-%d", time.Now().UnixNano())
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Bridge{opts: opts}
}

// Name returns the source name.
func (b *Bridge) Name() string { return "bridge" }

// Address returns the broker address string.
func (b *Bridge) Address() string {
	if b.opts.UseTLS {
		return fmt.Sprintf("ssl://%s:%d", b.opts.Broker, b.opts.Port)
	}
	return fmt.Sprintf("tcp://%s:%d", b.opts.Broker, b.opts.Port)
}

// IsConnected reports whether the broker session is up and a frame arrived
// within StaleAfter.
func (b *Bridge) IsConnected() bool {
	b.mu.RLock()
	client := b.client
	last := b.lastFrame
	b.mu.RUnlock()

	if client == nil || !client.IsConnectionOpen() {
		return false
	}
	return !last.IsZero() && b.opts.Now().Sub(last) <= b.opts.StaleAfter
}

// Connect opens the broker session and subscribes to the frame topic.
// Calling it again while the session is open only waits for frames.
func (b *Bridge) Connect() error {
	b.mu.RLock()
	client := b.client
	b.mu.RUnlock()
	if client != nil && client.IsConnectionOpen() {
		return nil
	}
	if client != nil {
		client.Disconnect(100)
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(b.Address())
	if b.opts.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.SetClientID(b.opts.ClientID)
	if b.opts.Username != "" {
		opts.SetUsername(b.opts.Username)
		opts.SetPassword(b.opts.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		// Resubscribe after an automatic reconnect.
		b.subscribe(c)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logging.DebugDisconnect("bridge", b.Address(), err.Error())
	})

	client = pahomqtt.NewClient(opts)
	logging.DebugConnect("bridge", b.Address())

	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		logging.DebugConnectError("bridge", b.Address(), fmt.Errorf("timeout"))
		return Unavailable(b.Name(), fmt.Errorf("connection timeout to %s", b.Address()))
	}
	if err := token.Error(); err != nil {
		logging.DebugConnectError("bridge", b.Address(), err)
		return Unavailable(b.Name(), err)
	}
	logging.DebugConnectSuccess("bridge", b.Address(), "topic "+b.opts.Topic)

	b.mu.Lock()
	b.client = client
	b.mu.Unlock()
	return nil
}

func (b *Bridge) subscribe(c pahomqtt.Client) {
	token := c.Subscribe(b.opts.Topic, 0, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		if err := b.HandleFrame(msg.Payload()); err != nil {
			logging.DebugError("bridge", "decode frame", err)
			logging.DebugRX("bridge", msg.Payload())
		}
	})
	if !token.WaitTimeout(2*time.Second) || token.Error() != nil {
		logging.DebugLog("bridge", "subscribe to %s failed: %v", b.opts.Topic, token.Error())
	}
}

// Disconnect closes the broker session and forgets the last frame.
func (b *Bridge) Disconnect() error {
	b.mu.Lock()
	client := b.client
	b.client = nil
	b.latest = nil
	b.lastFrame = time.Time{}
	b.mu.Unlock()
	b.current = nil

	if client != nil {
		client.Unsubscribe(b.opts.Topic)
		client.Disconnect(250)
	}
	return nil
}

// HandleFrame decodes one bridge message and makes it the latest frame.
func (b *Bridge) HandleFrame(payload []byte) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
		return fmt.Errorf("invalid frame: %w", err)
	}

	values := raw
	if v, ok := raw["values"].(map[string]interface{}); ok {
		values = v
		if _, has := values[b.opts.TickName]; !has {
			if seq, ok := raw["seq"]; ok {
				values[b.opts.TickName] = seq
			}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	frame := b.frameLocked(values)
	b.latest = frame
	b.lastFrame = b.opts.Now()
	b.frames++
	return nil
}

// frameLocked reuses the cached registry while the sender keeps the same
// field set.
func (b *Bridge) frameLocked(values map[string]interface{}) *telemetry.Frame {
	if b.reg != nil && b.reg.Len() == len(values) {
		frame := b.reg.NewFrame()
		same := true
		for name, v := range values {
			if !frame.Set(name, telemetry.ValueOf(v)) {
				same = false
				break
			}
		}
		if same {
			return frame
		}
	}
	frame := telemetry.FrameFromMap(values)
	b.reg = frame.Registry()
	logging.DebugLog("bridge", "field layout changed: %d fields", b.reg.Len())
	return frame
}

// Poll latches the latest received frame.
func (b *Bridge) Poll() error {
	b.mu.RLock()
	latest := b.latest
	b.mu.RUnlock()
	b.current = latest
	return nil
}

// Stats returns the number of frames received and dropped.
func (b *Bridge) Stats() (frames, dropped uint64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.frames, b.dropped
}

// Fields returns the layout of the latched frame.
func (b *Bridge) Fields() []telemetry.FieldDesc {
	if b.current == nil {
		return nil
	}
	return b.current.Registry().Fields()
}

// HasField reports whether the latched frame carries name.
func (b *Bridge) HasField(name string) bool {
	return b.current != nil && b.current.HasField(name)
}

// Field returns the value from the latched frame.
func (b *Bridge) Field(name string) (telemetry.Value, error) {
	if b.current == nil {
		return telemetry.Value{}, fmt.Errorf("%w: %s", ErrFieldNotFound, name)
	}
	return b.current.Field(name)
}
