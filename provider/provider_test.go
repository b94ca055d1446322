package provider

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simlink/source"
	"simlink/telemetry"
)

// fakeSource is a scriptable source. Tests set its fields between steps.
type fakeSource struct {
	mu          sync.Mutex
	connected   bool
	connectErr  error
	pollErr     error
	panicOnPoll bool
	frame       *telemetry.Frame
	connects    int
	disconnects int
	polls       int
}

func newFakeSource() *fakeSource {
	reg := telemetry.NewRegistry(
		telemetry.FieldDesc{Name: "SessionTick", Kind: telemetry.KindInt},
		telemetry.FieldDesc{Name: "IsOnTrack", Kind: telemetry.KindBool},
		telemetry.FieldDesc{Name: "Speed", Kind: telemetry.KindFloat},
		telemetry.FieldDesc{Name: "LFshockDefl", Kind: telemetry.KindFloat},
	)
	f := reg.NewFrame()
	f.Set("IsOnTrack", telemetry.Bool(true))
	f.Set("Speed", telemetry.Float(30))
	return &fakeSource{frame: f}
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSource) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	if s.connectErr != nil {
		return s.connectErr
	}
	s.connected = true
	return nil
}

func (s *fakeSource) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects++
	s.connected = false
	return nil
}

func (s *fakeSource) Poll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	if s.panicOnPoll {
		panic("sdk crashed")
	}
	return s.pollErr
}

func (s *fakeSource) Fields() []telemetry.FieldDesc { return s.frame.Registry().Fields() }

func (s *fakeSource) HasField(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame.HasField(name)
}

func (s *fakeSource) Field(name string) (telemetry.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame.Field(name)
}

func (s *fakeSource) set(name string, v telemetry.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame.Set(name, v)
}

func (s *fakeSource) setTick(n int64) { s.set("SessionTick", telemetry.Int(n)) }

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestProvider(src source.Source) (*Provider, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	opts := DefaultOptions()
	opts.Now = clock.Now
	return New(src, nil, opts), clock
}

func TestConnectionStateString(t *testing.T) {
	tests := []struct {
		s    ConnectionState
		want string
	}{
		{StateDisconnected, "Disconnected"},
		{StateConnecting, "Connecting"},
		{StateConnectedIdle, "Idle"},
		{StateConnectedRunning, "Running"},
		{ConnectionState(99), "Unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.s.String())
	}
	assert.True(t, StateConnectedIdle.IsConnected())
	assert.False(t, StateConnecting.IsConnected())
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Equal(t, 60, o.UpdateFrequency)
	assert.Equal(t, 500*time.Millisecond, o.IdleTimeout)
	assert.Equal(t, time.Second, o.ErrorBackoff)
	assert.Equal(t, time.Second/60, o.SamplePeriod())

	d := DefaultOptions()
	assert.Equal(t, "SessionTick", d.TickField)
	assert.Equal(t, "IsOnTrack", d.ActiveField)
}

func TestConnectThenRun(t *testing.T) {
	src := newFakeSource()
	p, clock := newTestProvider(src)

	assert.Equal(t, StateDisconnected, p.State())

	// First iteration issues the connect request.
	wait := p.step()
	assert.Equal(t, p.opts.SamplePeriod(), wait)
	assert.Equal(t, StateConnecting, p.State())
	assert.Equal(t, 1, src.connects)
	assert.Equal(t, 0, src.polls)

	// Connected but no tick yet: idle, fields captured.
	clock.Advance(16 * time.Millisecond)
	p.step()
	assert.Equal(t, StateConnectedIdle, p.State())
	assert.True(t, p.IsConnected())
	assert.False(t, p.IsRunning())
	assert.Len(t, p.Fields(), 4)

	src.setTick(1)
	clock.Advance(16 * time.Millisecond)
	p.step()
	assert.Equal(t, StateConnectedRunning, p.State())
	assert.True(t, p.IsRunning())
	assert.Equal(t, uint64(1), p.Stats().Samples)
}

func TestPublishOncePerTick(t *testing.T) {
	src := newFakeSource()
	p, clock := newTestProvider(src)

	var ticks []int64
	p.Subscribe(func(ctx *telemetry.SampleContext) {
		ticks = append(ticks, ctx.Tick)
		v, err := ctx.Value("Speed")
		require.NoError(t, err)
		assert.Equal(t, 30.0, v.Value.Float())
	})

	p.step() // connect
	for _, tick := range []int64{1, 1, 1, 2, 2, 3} {
		src.setTick(tick)
		clock.Advance(16 * time.Millisecond)
		p.step()
	}
	assert.Equal(t, []int64{1, 2, 3}, ticks)
}

func TestInactiveSampleNotPublished(t *testing.T) {
	src := newFakeSource()
	p, clock := newTestProvider(src)

	var calls int
	p.Subscribe(func(*telemetry.SampleContext) { calls++ })

	p.step()
	src.set("IsOnTrack", telemetry.Bool(false))
	src.setTick(1)
	clock.Advance(16 * time.Millisecond)
	p.step()
	src.setTick(2)
	p.step()
	assert.Equal(t, 0, calls)
	assert.Equal(t, StateConnectedIdle, p.State())

	src.set("IsOnTrack", telemetry.Bool(true))
	p.step()
	assert.Equal(t, 1, calls)
}

func TestMissingActiveFieldCountsAsActive(t *testing.T) {
	reg := telemetry.NewRegistry(telemetry.FieldDesc{Name: "SessionTick", Kind: telemetry.KindInt})
	src := newFakeSource()
	src.frame = reg.NewFrame()
	p, _ := newTestProvider(src)

	p.step()
	src.setTick(5)
	p.step()
	assert.Equal(t, StateConnectedRunning, p.State())
}

func TestIdleAfterTimeout(t *testing.T) {
	src := newFakeSource()
	p, clock := newTestProvider(src)

	p.step()
	src.setTick(1)
	p.step()
	require.Equal(t, StateConnectedRunning, p.State())

	// Stale but within the timeout.
	clock.Advance(400 * time.Millisecond)
	p.step()
	assert.Equal(t, StateConnectedRunning, p.State())

	clock.Advance(101 * time.Millisecond)
	p.step()
	assert.Equal(t, StateConnectedIdle, p.State())
	assert.True(t, p.IsConnected())

	// Fresh data resumes running.
	src.setTick(2)
	clock.Advance(16 * time.Millisecond)
	p.step()
	assert.Equal(t, StateConnectedRunning, p.State())
}

func TestSourceErrorBacksOff(t *testing.T) {
	src := newFakeSource()
	p, _ := newTestProvider(src)

	var states []ConnectionState
	p.SetOnStatusChange(func(s Status) { states = append(states, s.State) })

	p.step()
	src.setTick(1)
	p.step()
	require.True(t, p.IsRunning())

	src.pollErr = source.Unavailable("fake", errors.New("shared memory gone"))
	wait := p.step()
	assert.Equal(t, time.Second, wait)
	assert.Equal(t, StateDisconnected, p.State())
	assert.False(t, p.IsConnected())
	assert.False(t, p.IsRunning())

	st := p.Stats()
	assert.Equal(t, uint64(1), st.Errors)
	assert.ErrorIs(t, st.LastError, source.ErrSourceUnavailable)

	// Source still reports connected, so the next iteration reconnects.
	src.pollErr = nil
	src.setTick(2)
	p.step()
	assert.Equal(t, StateConnectedRunning, p.State())

	assert.Equal(t, []ConnectionState{
		StateConnecting, StateConnectedIdle, StateConnectedRunning,
		StateDisconnected,
		StateConnectedIdle, StateConnectedRunning,
	}, states)
}

func TestConnectErrorBacksOff(t *testing.T) {
	src := newFakeSource()
	src.connectErr = source.Unavailable("fake", nil)
	p, _ := newTestProvider(src)

	assert.Equal(t, time.Second, p.step())
	assert.Equal(t, StateDisconnected, p.State())
	assert.Equal(t, uint64(1), p.Stats().Reconnects)
}

func TestPanicRecovered(t *testing.T) {
	src := newFakeSource()
	p, _ := newTestProvider(src)

	p.step()
	src.panicOnPoll = true
	assert.Equal(t, time.Second, p.step())
	assert.Equal(t, StateDisconnected, p.State())
	assert.ErrorIs(t, p.Stats().LastError, source.ErrSourceUnavailable)
}

func TestLostSourceReconnects(t *testing.T) {
	src := newFakeSource()
	p, _ := newTestProvider(src)

	p.step()
	src.setTick(1)
	p.step()
	require.True(t, p.IsRunning())

	src.mu.Lock()
	src.connected = false
	src.mu.Unlock()

	p.step()
	assert.Equal(t, StateConnecting, p.State())
	assert.Equal(t, 2, src.connects)
}

func TestSubscriberPanicDoesNotStopDispatch(t *testing.T) {
	src := newFakeSource()
	p, _ := newTestProvider(src)

	var second int
	p.Subscribe(func(*telemetry.SampleContext) { panic("boom") })
	p.Subscribe(func(*telemetry.SampleContext) { second++ })

	p.step()
	src.setTick(1)
	p.step()
	assert.Equal(t, 1, second)
	assert.True(t, p.IsRunning())
}

func TestUnsubscribe(t *testing.T) {
	src := newFakeSource()
	p, _ := newTestProvider(src)

	var a, b int
	idA := p.Subscribe(func(*telemetry.SampleContext) { a++ })
	p.Subscribe(func(*telemetry.SampleContext) { b++ })

	p.step()
	src.setTick(1)
	p.step()
	p.Unsubscribe(idA)
	src.setTick(2)
	p.step()

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
}

func TestRumbleCommittedAfterSubscribers(t *testing.T) {
	src := newFakeSource()
	p, _ := newTestProvider(src)

	var rumble []float64
	p.Subscribe(func(ctx *telemetry.SampleContext) {
		// Resolving twice inside one tick must agree.
		v1, _ := ctx.Value("Rumble")
		v2, _ := ctx.Value("Rumble")
		assert.Equal(t, v1.Value.Float(), v2.Value.Float())
		rumble = append(rumble, v1.Value.Float())
	})

	p.step()
	src.set("LFshockDefl", telemetry.Float(0.01))
	src.setTick(1)
	p.step()
	src.set("LFshockDefl", telemetry.Float(0.02))
	src.setTick(2)
	p.step()
	src.setTick(3)
	p.step()

	require.Len(t, rumble, 3)
	assert.InDelta(t, 10.0, rumble[0], 1e-9)
	assert.InDelta(t, 10.0, rumble[1], 1e-9)
	assert.InDelta(t, 0.0, rumble[2], 1e-9)
}

func TestValueList(t *testing.T) {
	p, _ := newTestProvider(newFakeSource())
	names := p.ValueList()
	assert.Contains(t, names, "SlipAngle")
	assert.Contains(t, names, "Speed")
}

type countingObserver struct {
	iterations, samples, errors, reconnects atomic.Int64
}

func (o *countingObserver) ObserveIteration(ConnectionState) { o.iterations.Add(1) }
func (o *countingObserver) ObserveSample(time.Duration)      { o.samples.Add(1) }
func (o *countingObserver) ObserveError(error)               { o.errors.Add(1) }
func (o *countingObserver) ObserveReconnect()                { o.reconnects.Add(1) }

func TestObserver(t *testing.T) {
	src := newFakeSource()
	p, _ := newTestProvider(src)
	obs := &countingObserver{}
	p.SetObserver(obs)

	p.step()
	src.setTick(1)
	p.step()
	src.pollErr = errors.New("boom")
	p.step()

	assert.Equal(t, int64(3), obs.iterations.Load())
	assert.Equal(t, int64(1), obs.samples.Load())
	assert.Equal(t, int64(1), obs.errors.Load())
	assert.Equal(t, int64(1), obs.reconnects.Load())
}

func TestStartStop(t *testing.T) {
	src := newFakeSource()
	opts := DefaultOptions()
	opts.UpdateFrequency = 500
	p := New(src, nil, opts)

	var mu sync.Mutex
	var published int
	p.Subscribe(func(*telemetry.SampleContext) {
		mu.Lock()
		published++
		mu.Unlock()
	})

	var logs []string
	var logMu sync.Mutex
	p.SetOnLog(func(format string, args ...interface{}) {
		logMu.Lock()
		logs = append(logs, format)
		logMu.Unlock()
	})

	p.Start()
	p.Start() // no-op
	assert.True(t, p.IsActive())

	src.setTick(1)
	require.Eventually(t, p.IsRunning, 2*time.Second, 5*time.Millisecond)

	p.Stop()
	assert.False(t, p.IsActive())
	assert.Equal(t, StateDisconnected, p.State())
	assert.Equal(t, 1, src.disconnects)

	mu.Lock()
	assert.Equal(t, 1, published)
	mu.Unlock()

	// Stop twice is harmless and the provider can be restarted.
	p.Stop()
	p.Start()
	require.Eventually(t, p.IsConnected, 2*time.Second, 5*time.Millisecond)
	p.Stop()

	logMu.Lock()
	assert.NotEmpty(t, logs)
	logMu.Unlock()
}

func TestStatusMessage(t *testing.T) {
	st := Status{
		Source:    "mock",
		State:     StateConnectedRunning,
		Connected: true,
		Running:   true,
		Tick:      42,
		Stats:     Stats{Samples: 42, Errors: 1, LastError: errors.New("boom")},
	}
	msg := st.Message("rig1")
	assert.Equal(t, "rig1", msg.Namespace)
	assert.Equal(t, "Running", msg.State)
	assert.True(t, msg.Connected)
	assert.Equal(t, int64(42), msg.Tick)
	assert.Equal(t, "boom", msg.LastError)
	assert.NotEmpty(t, msg.Timestamp)
}
