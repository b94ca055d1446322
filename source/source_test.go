package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simlink/config"
	"simlink/telemetry"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestUnavailable(t *testing.T) {
	err := Unavailable("bridge", io.EOF)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.ErrorIs(t, err, io.EOF)
	assert.Contains(t, err.Error(), "bridge")

	again := Unavailable("bridge", err)
	assert.Equal(t, err, again)

	assert.ErrorIs(t, Unavailable("mock", nil), ErrSourceUnavailable)
}

func TestIsLikelyConnectionError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{io.EOF, true},
		{Unavailable("x", nil), true},
		{fmt.Errorf("open lap.csv: %w", os.ErrNotExist), true},
		{errors.New("read tcp: connection reset by peer"), true},
		{errors.New("field not found"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsLikelyConnectionError(tt.err), "%v", tt.err)
	}
}

func TestMockLifecycle(t *testing.T) {
	clock := newFakeClock()
	m := NewMock(MockOptions{Rate: 60, Now: clock.Now})

	assert.False(t, m.IsConnected())
	assert.ErrorIs(t, m.Poll(), ErrSourceUnavailable)

	require.NoError(t, m.Connect())
	require.NoError(t, m.Connect())
	assert.True(t, m.IsConnected())

	require.NoError(t, m.Poll())
	tick, err := m.Field("SessionTick")
	require.NoError(t, err)
	assert.Equal(t, int64(0), tick.Int())

	onTrack, err := m.Field("IsOnTrack")
	require.NoError(t, err)
	assert.True(t, onTrack.Bool())

	// Same instant: same tick.
	require.NoError(t, m.Poll())
	tick, _ = m.Field("SessionTick")
	assert.Equal(t, int64(0), tick.Int())

	clock.Advance(100 * time.Millisecond)
	require.NoError(t, m.Poll())
	tick, _ = m.Field("SessionTick")
	assert.Equal(t, int64(6), tick.Int())

	arr, err := m.Field("CarIdxLapDistPct")
	require.NoError(t, err)
	assert.Equal(t, MockCarCount, arr.Len())

	for _, c := range []string{"LF", "RF", "LR", "RR", "CF"} {
		assert.True(t, m.HasField(c+"shockDefl"), c)
	}

	m.SetOnTrack(false)
	clock.Advance(time.Second)
	require.NoError(t, m.Poll())
	onTrack, _ = m.Field("IsOnTrack")
	assert.False(t, onTrack.Bool())

	m.SetOffline(true)
	assert.False(t, m.IsConnected())
	assert.ErrorIs(t, m.Connect(), ErrSourceUnavailable)

	m.SetOffline(false)
	require.NoError(t, m.Connect())
	require.NoError(t, m.Disconnect())
	assert.False(t, m.IsConnected())
}

func TestMockFeedsResolver(t *testing.T) {
	clock := newFakeClock()
	m := NewMock(MockOptions{Now: clock.Now})
	require.NoError(t, m.Connect())
	clock.Advance(3 * time.Second)
	require.NoError(t, m.Poll())

	r := telemetry.NewResolver(telemetry.DefaultProfile())
	ctx := telemetry.NewSampleContext(1, clock.Now(), m, telemetry.NewState(), r)
	for _, name := range []string{"SlipAngle", "Rumble", "RumbleHz", "VertAccel", "LatAccel", "Pitch", "Speed", "CarIdxLapDistPct[3]"} {
		_, err := r.Resolve(name, ctx)
		assert.NoError(t, err, name)
	}
}

const replayCSV = `Speed,VelocityX,VelocityY,IsOnTrack,Wheel[0],Wheel[1],Wheel[2]
10,10,0,true,1,2,3
20,19,1,true,4,5,6
30,28,2,false,7,8,9
`

func TestLoadReplay(t *testing.T) {
	reg, rows, err := LoadReplay(strings.NewReader(replayCSV), "SessionTick")
	require.NoError(t, err)
	require.Len(t, rows, 3)

	d, ok := reg.Lookup("Wheel")
	require.True(t, ok)
	assert.Equal(t, telemetry.KindFloatArray, d.Kind)
	assert.Equal(t, 3, d.Count)

	d, ok = reg.Lookup("IsOnTrack")
	require.True(t, ok)
	assert.Equal(t, telemetry.KindBool, d.Kind)

	_, ok = reg.Lookup("SessionTick")
	assert.True(t, ok, "tick field should be synthesized")

	v, err := rows[1].Field("Speed")
	require.NoError(t, err)
	assert.Equal(t, 20.0, v.Float())

	v, err = rows[1].Field("Wheel")
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 5, 6}, v.Array())

	v, err = rows[2].Field("SessionTick")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.Int())

	v, err = rows[2].Field("IsOnTrack")
	require.NoError(t, err)
	assert.False(t, v.Bool())
}

func TestLoadReplayErrors(t *testing.T) {
	_, _, err := LoadReplay(strings.NewReader(""), "SessionTick")
	assert.Error(t, err)

	_, _, err = LoadReplay(strings.NewReader("A,A[0]\n1,2\n"), "SessionTick")
	assert.Error(t, err)
}

func writeReplay(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lap.csv")
	require.NoError(t, os.WriteFile(path, []byte(replayCSV), 0644))
	return path
}

func TestReplayPacing(t *testing.T) {
	clock := newFakeClock()
	r := NewReplay(ReplayOptions{Path: writeReplay(t), Rate: 10, Now: clock.Now})

	require.NoError(t, r.Connect())
	assert.Equal(t, 3, r.Rows())

	require.NoError(t, r.Poll())
	v, _ := r.Field("Speed")
	assert.Equal(t, 10.0, v.Float())

	clock.Advance(150 * time.Millisecond)
	require.NoError(t, r.Poll())
	v, _ = r.Field("Speed")
	assert.Equal(t, 20.0, v.Float())

	// Past the end without looping the last row is held.
	clock.Advance(time.Second)
	require.NoError(t, r.Poll())
	v, _ = r.Field("Speed")
	assert.Equal(t, 30.0, v.Float())
	assert.True(t, r.Ended())
	assert.True(t, r.IsConnected())
}

func TestReplayLoop(t *testing.T) {
	clock := newFakeClock()
	r := NewReplay(ReplayOptions{Path: writeReplay(t), Rate: 10, Loop: true, Now: clock.Now})
	require.NoError(t, r.Connect())

	clock.Advance(400 * time.Millisecond) // row 4 -> wraps to row 1
	require.NoError(t, r.Poll())
	v, _ := r.Field("Speed")
	assert.Equal(t, 20.0, v.Float())
	assert.False(t, r.Ended())
}

func TestReplayMissingFile(t *testing.T) {
	r := NewReplay(ReplayOptions{Path: filepath.Join(t.TempDir(), "missing.csv")})
	err := r.Connect()
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.False(t, r.IsConnected())
	assert.False(t, r.HasField("Speed"))
}

func TestBridgeHandleFrame(t *testing.T) {
	b := NewBridge(BridgeOptions{Broker: "localhost", Topic: "sim/telemetry"})

	assert.False(t, b.IsConnected(), "no broker session")
	assert.False(t, b.HasField("Speed"))

	require.NoError(t, b.HandleFrame([]byte(`{"seq": 41, "values": {"Speed": 12.5, "Gear": 3, "IsOnTrack": true, "Wheel": [1, 2]}}`)))

	// Not visible until latched.
	assert.False(t, b.HasField("Speed"))
	require.NoError(t, b.Poll())

	v, err := b.Field("Speed")
	require.NoError(t, err)
	assert.Equal(t, 12.5, v.Float())

	v, err = b.Field("Gear")
	require.NoError(t, err)
	assert.Equal(t, int64(3), v.Int())

	v, err = b.Field("SessionTick")
	require.NoError(t, err)
	assert.Equal(t, int64(41), v.Int())

	v, err = b.Field("Wheel")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, v.Array())

	_, err = b.Field("Nope")
	assert.ErrorIs(t, err, ErrFieldNotFound)

	// Same layout reuses the registry.
	reg := b.current.Registry()
	require.NoError(t, b.HandleFrame([]byte(`{"seq": 42, "values": {"Speed": 13, "Gear": 3, "IsOnTrack": true, "Wheel": [1, 2]}}`)))
	require.NoError(t, b.Poll())
	assert.Same(t, reg, b.current.Registry())

	// Flat frames are accepted too.
	require.NoError(t, b.HandleFrame([]byte(`{"Speed": 1, "SessionTick": 7}`)))
	require.NoError(t, b.Poll())
	v, err = b.Field("SessionTick")
	require.NoError(t, err)
	assert.Equal(t, int64(7), v.Int())

	assert.Error(t, b.HandleFrame([]byte(`not json`)))
	frames, dropped := b.Stats()
	assert.Equal(t, uint64(3), frames)
	assert.Equal(t, uint64(1), dropped)
}

func TestCreate(t *testing.T) {
	cfg := config.DefaultConfig().Provider

	src, err := Create(&cfg)
	require.NoError(t, err)
	assert.Equal(t, "mock", src.Name())

	cfg.Source = config.SourceReplay
	_, err = Create(&cfg)
	assert.Error(t, err)
	cfg.Replay.Path = "lap.csv"
	src, err = Create(&cfg)
	require.NoError(t, err)
	assert.Equal(t, "replay", src.Name())

	cfg.Source = config.SourceBridge
	cfg.Bridge.Broker = "sim.local"
	src, err = Create(&cfg)
	require.NoError(t, err)
	assert.Equal(t, "bridge", src.Name())

	cfg.Source = "shm"
	_, err = Create(&cfg)
	assert.Error(t, err)

	_, err = Create(nil)
	assert.Error(t, err)
}
