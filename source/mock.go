package source

import (
	"math"
	"sync"
	"time"

	"simlink/logging"
	"simlink/telemetry"
)

// MockOptions configures the synthetic source.
type MockOptions struct {
	Rate int              // Samples per second produced by the simulated sim, default 60
	Now  func() time.Time // Clock, default time.Now
}

// Mock generates smooth on-track motion from sin/cos so the whole pipeline
// can run without a simulator.
type Mock struct {
	opts MockOptions
	reg  *telemetry.Registry

	frame    *telemetry.Frame
	start    time.Time
	lastTick int64

	mu        sync.RWMutex
	connected bool
	offline   bool
	onTrack   bool
}

// mockCorners are the shock sensors the mock drives, including the center.
var mockCorners = []string{"LF", "RF", "LR", "RR", "CF"}

// MockCarCount is the length of the per-car array field.
const MockCarCount = 8

// NewMock creates a mock source.
func NewMock(opts MockOptions) *Mock {
	if opts.Rate <= 0 {
		opts.Rate = 60
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	descs := []telemetry.FieldDesc{
		{Name: "SessionTick", Kind: telemetry.KindInt},
		{Name: "SessionTime", Kind: telemetry.KindFloat, Unit: "s"},
		{Name: "IsOnTrack", Kind: telemetry.KindBool},
		{Name: "OnPitRoad", Kind: telemetry.KindBool},
		{Name: "Speed", Kind: telemetry.KindFloat, Unit: "m/s"},
		{Name: "VelocityX", Kind: telemetry.KindFloat, Unit: "m/s"},
		{Name: "VelocityY", Kind: telemetry.KindFloat, Unit: "m/s"},
		{Name: "VelocityZ", Kind: telemetry.KindFloat, Unit: "m/s"},
		{Name: "Pitch", Kind: telemetry.KindFloat, Unit: "rad"},
		{Name: "Roll", Kind: telemetry.KindFloat, Unit: "rad"},
		{Name: "Yaw", Kind: telemetry.KindFloat, Unit: "rad"},
		{Name: "PitchRate", Kind: telemetry.KindFloat, Unit: "rad/s"},
		{Name: "RollRate", Kind: telemetry.KindFloat, Unit: "rad/s"},
		{Name: "YawRate", Kind: telemetry.KindFloat, Unit: "rad/s"},
		{Name: "VertAccel", Kind: telemetry.KindFloat, Unit: "m/s^2"},
		{Name: "LongAccel", Kind: telemetry.KindFloat, Unit: "m/s^2"},
		{Name: "LatAccel", Kind: telemetry.KindFloat, Unit: "m/s^2"},
		{Name: "RPM", Kind: telemetry.KindFloat, Unit: "revs/min"},
		{Name: "Gear", Kind: telemetry.KindInt},
		{Name: "Throttle", Kind: telemetry.KindFloat, Unit: "%"},
		{Name: "Brake", Kind: telemetry.KindFloat, Unit: "%"},
		{Name: "Clutch", Kind: telemetry.KindFloat, Unit: "%"},
		{Name: "SteeringWheelAngle", Kind: telemetry.KindFloat, Unit: "rad"},
		{Name: "FuelLevel", Kind: telemetry.KindFloat, Unit: "l"},
		{Name: "CarIdxLapDistPct", Kind: telemetry.KindFloatArray, Count: MockCarCount, Unit: "%"},
	}
	for _, c := range mockCorners {
		descs = append(descs,
			telemetry.FieldDesc{Name: c + "shockDefl", Kind: telemetry.KindFloat, Unit: "m"},
			telemetry.FieldDesc{Name: c + "shockVel", Kind: telemetry.KindFloat, Unit: "m/s"},
		)
	}
	for _, c := range mockCorners[:4] {
		descs = append(descs, telemetry.FieldDesc{Name: "Tire" + c + "_RumblePitch", Kind: telemetry.KindFloat, Unit: "Hz"})
	}

	reg := telemetry.NewRegistry(descs...)
	return &Mock{
		opts:     opts,
		reg:      reg,
		frame:    reg.NewFrame(),
		lastTick: -1,
		onTrack:  true,
	}
}

// Name returns the source name.
func (m *Mock) Name() string { return "mock" }

// IsConnected reports whether Connect succeeded and the mock is not offline.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected && !m.offline
}

// Connect starts the simulated session clock.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return Unavailable(m.Name(), nil)
	}
	if m.connected {
		return nil
	}
	m.connected = true
	m.start = m.opts.Now()
	m.lastTick = -1
	logging.DebugLog("mock", "session started at %d Hz", m.opts.Rate)
	return nil
}

// Disconnect ends the simulated session.
func (m *Mock) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.frame.Reset()
	return nil
}

// SetOffline simulates the simulator process going away (true) or coming
// back (false).
func (m *Mock) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
	if offline {
		m.connected = false
	}
}

// SetOnTrack simulates the driver leaving (false) or rejoining (true) the
// track. While off track the session tick keeps advancing.
func (m *Mock) SetOnTrack(onTrack bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTrack = onTrack
}

// Fields returns the mock's field layout.
func (m *Mock) Fields() []telemetry.FieldDesc { return m.reg.Fields() }

// HasField reports whether name is part of the layout.
func (m *Mock) HasField(name string) bool { return m.frame.HasField(name) }

// Field returns the value latched by the last Poll.
func (m *Mock) Field(name string) (telemetry.Value, error) { return m.frame.Field(name) }

// Poll regenerates the sample when the simulated tick advanced.
func (m *Mock) Poll() error {
	m.mu.RLock()
	connected := m.connected && !m.offline
	onTrack := m.onTrack
	start := m.start
	m.mu.RUnlock()

	if !connected {
		return Unavailable(m.Name(), nil)
	}

	elapsed := m.opts.Now().Sub(start)
	tick := int64(elapsed.Seconds() * float64(m.opts.Rate))
	if tick == m.lastTick {
		return nil
	}
	m.lastTick = tick
	m.generate(tick, float64(tick)/float64(m.opts.Rate), onTrack)
	return nil
}

func (m *Mock) generate(tick int64, t float64, onTrack bool) {
	f := m.frame
	set := func(name string, v float64) { f.Set(name, telemetry.Float(v)) }

	f.Set("SessionTick", telemetry.Int(tick))
	set("SessionTime", t)
	f.Set("IsOnTrack", telemetry.Bool(onTrack))
	f.Set("OnPitRoad", telemetry.Bool(!onTrack))

	speed := 30 + 15*math.Sin(0.2*t)
	if !onTrack {
		speed = 0
	}
	slip := 0.05 * math.Sin(0.7*t)
	yawRate := 0.3 * math.Sin(0.5*t)
	set("Speed", speed)
	set("VelocityX", speed*math.Cos(slip))
	set("VelocityY", speed*math.Sin(slip))
	set("VelocityZ", 0.2*math.Sin(3*t))

	set("Pitch", 0.02*math.Sin(1.3*t))
	set("Roll", 0.04*math.Sin(0.9*t))
	set("Yaw", math.Mod(0.1*t, 2*math.Pi)-math.Pi)
	set("PitchRate", 0.02*1.3*math.Cos(1.3*t))
	set("RollRate", 0.04*0.9*math.Cos(0.9*t))
	set("YawRate", yawRate)

	set("VertAccel", telemetry.G+1.5*math.Sin(7*t))
	set("LongAccel", 3*math.Cos(0.2*t))
	set("LatAccel", speed*yawRate)

	rpm := 3000 + 4000*(0.5+0.5*math.Sin(0.4*t))
	set("RPM", rpm)
	f.Set("Gear", telemetry.Int(int64(1+speed/12)))
	set("Throttle", 0.5+0.5*math.Sin(0.4*t))
	set("Brake", math.Max(0, -math.Sin(0.4*t)))
	set("Clutch", 0)
	set("SteeringWheelAngle", yawRate*2)
	set("FuelLevel", math.Max(0, 60-t*0.01))

	for i, c := range mockCorners {
		phase := float64(i) * math.Pi / 4
		set(c+"shockDefl", 0.05+0.01*math.Sin(9*t+phase))
		set(c+"shockVel", 0.09*math.Cos(9*t+phase))
	}

	kerb := 0.0
	if math.Sin(0.3*t) > 0.8 {
		kerb = 40 + 5*math.Sin(20*t)
	}
	for i, c := range mockCorners[:4] {
		v := kerb
		if i%2 == 1 {
			v *= 0.9
		}
		set("Tire"+c+"_RumblePitch", v)
	}

	pct := make([]float32, MockCarCount)
	for i := range pct {
		pct[i] = float32(math.Mod(t*0.01+float64(i)/MockCarCount, 1))
	}
	f.Set("CarIdxLapDistPct", telemetry.FloatArray(pct))
}
