// Package provider runs the sampling loop: it tracks the source connection,
// detects fresh samples and hands them to subscribers.
package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"simlink/config"
	"simlink/logging"
	"simlink/source"
	"simlink/telemetry"
)

// ConnectionState represents the state of the sampling loop.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnectedIdle
	StateConnectedRunning
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnectedIdle:
		return "Idle"
	case StateConnectedRunning:
		return "Running"
	default:
		return "Unknown"
	}
}

// IsConnected reports whether s is one of the connected sub-states.
func (s ConnectionState) IsConnected() bool {
	return s == StateConnectedIdle || s == StateConnectedRunning
}

// Options tunes the loop timing and freshness detection.
type Options struct {
	UpdateFrequency int           // Hz
	IdleTimeout     time.Duration // No fresh sample for longer than this => idle
	ErrorBackoff    time.Duration // Sleep after a source error
	TickField       string        // Changes on every new sample
	ActiveField     string        // Must be true for a sample to count; empty disables

	Now func() time.Time // Clock, default time.Now
}

// DefaultOptions returns the stock 60 Hz timing.
func DefaultOptions() Options {
	return OptionsFromConfig(config.DefaultConfig().Provider)
}

// OptionsFromConfig converts the persisted provider section.
func OptionsFromConfig(cfg config.ProviderConfig) Options {
	return Options{
		UpdateFrequency: cfg.UpdateFrequency,
		IdleTimeout:     cfg.IdleTimeout,
		ErrorBackoff:    cfg.ErrorBackoff,
		TickField:       cfg.Freshness.TickField,
		ActiveField:     cfg.Freshness.ActiveField,
	}
}

func (o Options) withDefaults() Options {
	if o.UpdateFrequency <= 0 {
		o.UpdateFrequency = 60
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 500 * time.Millisecond
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// SamplePeriod returns the sleep between iterations.
func (o Options) SamplePeriod() time.Duration {
	if o.UpdateFrequency <= 0 {
		return time.Second / 60
	}
	return time.Second / time.Duration(o.UpdateFrequency)
}

// Stats tracks loop counters.
type Stats struct {
	Iterations uint64
	Samples    uint64 // Fresh samples published
	Errors     uint64
	Reconnects uint64 // Connect requests issued
	LastSample time.Time
	LastError  error
}

// Status is a consistent snapshot of the loop state.
type Status struct {
	Source    string
	State     ConnectionState
	Connected bool
	Running   bool
	Tick      int64 // Sequence number of the last published sample
	Stats     Stats
}

// StatusMessage is the wire form of a Status published by the sinks.
type StatusMessage struct {
	Namespace string `json:"namespace"`
	Source    string `json:"source"`
	State     string `json:"state"`
	Connected bool   `json:"connected"`
	Running   bool   `json:"running"`
	Tick      int64  `json:"tick"`
	Samples   uint64 `json:"samples"`
	Errors    uint64 `json:"errors"`
	LastError string `json:"last_error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Message converts s for publishing under namespace.
func (s Status) Message(namespace string) StatusMessage {
	msg := StatusMessage{
		Namespace: namespace,
		Source:    s.Source,
		State:     s.State.String(),
		Connected: s.Connected,
		Running:   s.Running,
		Tick:      s.Tick,
		Samples:   s.Stats.Samples,
		Errors:    s.Stats.Errors,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if s.Stats.LastError != nil {
		msg.LastError = s.Stats.LastError.Error()
	}
	return msg
}

// Subscriber receives each fresh sample on the loop goroutine. The context
// is only valid until the subscriber returns.
type Subscriber func(ctx *telemetry.SampleContext)

// SubscriptionID identifies a subscriber for Unsubscribe.
type SubscriptionID uint64

// Observer receives loop measurements. The metrics package implements it.
type Observer interface {
	ObserveIteration(state ConnectionState)
	ObserveSample(dispatch time.Duration)
	ObserveError(err error)
	ObserveReconnect()
}

type subscription struct {
	id SubscriptionID
	fn Subscriber
}

// Provider owns one source and polls it from a single goroutine.
type Provider struct {
	src      source.Source
	resolver *telemetry.Resolver
	opts     Options

	// Owned by the loop goroutine.
	state     *telemetry.State
	lastTick  telemetry.Value
	lastFresh time.Time

	mu        sync.RWMutex
	status    ConnectionState
	seq       int64
	stats     Stats
	fields    []telemetry.FieldDesc
	observer  Observer
	onStatus  func(Status)
	onLog     logging.LogFunc
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	runningMu sync.Mutex // serializes Start/Stop

	subMu  sync.RWMutex
	subs   []subscription
	nextID SubscriptionID
}

// New creates a provider for src. Nothing runs until Start.
func New(src source.Source, resolver *telemetry.Resolver, opts Options) *Provider {
	if resolver == nil {
		resolver = telemetry.NewResolver(telemetry.DefaultProfile())
	}
	return &Provider{
		src:      src,
		resolver: resolver,
		opts:     opts.withDefaults(),
		state:    telemetry.NewState(),
	}
}

// Source returns the polled source.
func (p *Provider) Source() source.Source { return p.src }

// Resolver returns the resolver handed to subscribers.
func (p *Provider) Resolver() *telemetry.Resolver { return p.resolver }

// Options returns the effective loop options.
func (p *Provider) Options() Options { return p.opts }

// SetOnStatusChange sets a callback that fires on the loop goroutine after
// every state transition.
func (p *Provider) SetOnStatusChange(fn func(Status)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onStatus = fn
}

// SetOnLog sets the callback for user-facing log lines.
func (p *Provider) SetOnLog(fn logging.LogFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onLog = fn
}

// SetObserver installs a measurement sink.
func (p *Provider) SetObserver(o Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observer = o
}

// Subscribe registers fn for fresh samples. Subscribers run in
// registration order.
func (p *Provider) Subscribe(fn Subscriber) SubscriptionID {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	p.nextID++
	p.subs = append(p.subs, subscription{id: p.nextID, fn: fn})
	return p.nextID
}

// Unsubscribe removes a subscriber.
func (p *Provider) Unsubscribe(id SubscriptionID) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for i, s := range p.subs {
		if s.id == id {
			p.subs = append(p.subs[:i:i], p.subs[i+1:]...)
			return
		}
	}
}

// ValueList returns the supported raw and derived names.
func (p *Provider) ValueList() []string {
	return p.resolver.Names()
}

// Fields returns the field layout the source reported on connect.
func (p *Provider) Fields() []telemetry.FieldDesc {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]telemetry.FieldDesc(nil), p.fields...)
}

// State returns the current loop state.
func (p *Provider) State() ConnectionState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// IsConnected reports whether the source is connected.
func (p *Provider) IsConnected() bool { return p.State().IsConnected() }

// IsRunning reports whether fresh samples are arriving.
func (p *Provider) IsRunning() bool { return p.State() == StateConnectedRunning }

// IsActive reports whether the loop goroutine is running.
func (p *Provider) IsActive() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ctx != nil
}

// Stats returns the loop counters.
func (p *Provider) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}

// Status returns a snapshot of the loop state.
func (p *Provider) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.statusLocked()
}

func (p *Provider) statusLocked() Status {
	return Status{
		Source:    p.src.Name(),
		State:     p.status,
		Connected: p.status.IsConnected(),
		Running:   p.status == StateConnectedRunning,
		Tick:      p.seq,
		Stats:     p.stats,
	}
}

// Start launches the loop goroutine. It is a no-op when already running.
func (p *Provider) Start() {
	p.runningMu.Lock()
	defer p.runningMu.Unlock()

	p.mu.Lock()
	if p.ctx != nil {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.ctx, p.cancel = ctx, cancel
	p.mu.Unlock()

	p.state = telemetry.NewState()
	p.lastTick = telemetry.Value{}
	p.lastFresh = time.Time{}

	p.log("Provider started (%s, %d Hz)", p.src.Name(), p.opts.UpdateFrequency)
	p.wg.Add(1)
	go p.run(ctx)
}

// Stop signals the loop and blocks until it has disconnected the source
// and exited.
func (p *Provider) Stop() {
	p.runningMu.Lock()
	defer p.runningMu.Unlock()

	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	p.wg.Wait()

	p.mu.Lock()
	p.ctx = nil
	p.cancel = nil
	p.mu.Unlock()
	p.log("Provider stopped")
}

func (p *Provider) run(ctx context.Context) {
	defer p.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.shutdown()
			return
		case <-timer.C:
		}

		// A stop requested during the sleep wins over another iteration.
		if ctx.Err() != nil {
			p.shutdown()
			return
		}
		timer.Reset(p.step())
	}
}

// step runs one iteration and returns how long to sleep before the next.
func (p *Provider) step() (wait time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			p.fail(source.Unavailable(p.src.Name(), fmt.Errorf("panic: %v", r)))
			wait = p.opts.ErrorBackoff
		}
	}()

	p.mu.Lock()
	p.stats.Iterations++
	obs := p.observer
	p.mu.Unlock()

	err := p.poll()
	if obs != nil {
		obs.ObserveIteration(p.State())
	}
	if err != nil {
		p.fail(err)
		return p.opts.ErrorBackoff
	}
	return p.opts.SamplePeriod()
}

func (p *Provider) poll() error {
	now := p.opts.Now()
	cur := p.State()

	if !p.src.IsConnected() {
		if cur.IsConnected() {
			p.log("Source %s disconnected", p.src.Name())
			p.setState(StateDisconnected)
		}
		p.mu.Lock()
		p.stats.Reconnects++
		obs := p.observer
		p.mu.Unlock()
		if obs != nil {
			obs.ObserveReconnect()
		}

		logging.DebugLog("provider", "connect %s (state %s)", p.src.Name(), cur)
		if err := p.src.Connect(); err != nil {
			return err
		}
		p.setState(StateConnecting)
		return nil
	}

	if !cur.IsConnected() {
		p.onConnected()
		cur = StateConnectedIdle
	}

	if poller, ok := p.src.(source.Poller); ok {
		if err := poller.Poll(); err != nil {
			return err
		}
	}

	fresh, tick, err := p.fresh()
	if err != nil {
		return err
	}
	if fresh {
		p.publish(now, tick)
		p.lastFresh = now
		if cur != StateConnectedRunning {
			p.setState(StateConnectedRunning)
		}
		return nil
	}

	if cur == StateConnectedRunning && now.Sub(p.lastFresh) > p.opts.IdleTimeout {
		logging.DebugLog("provider", "no fresh sample for %v, idle", now.Sub(p.lastFresh))
		p.setState(StateConnectedIdle)
	}
	return nil
}

func (p *Provider) onConnected() {
	var fields []telemetry.FieldDesc
	if d, ok := p.src.(source.Describer); ok {
		fields = d.Fields()
	}
	p.mu.Lock()
	p.fields = fields
	p.mu.Unlock()

	p.log("Source %s connected", p.src.Name())
	p.setState(StateConnectedIdle)
}

// fresh reports whether the source holds a sample not yet published. It
// only reads from the source.
func (p *Provider) fresh() (bool, telemetry.Value, error) {
	if f := p.opts.ActiveField; f != "" && p.src.HasField(f) {
		v, err := p.src.Field(f)
		if err != nil {
			return false, telemetry.Value{}, err
		}
		if !v.Bool() {
			return false, telemetry.Value{}, nil
		}
	}

	f := p.opts.TickField
	if f == "" || !p.src.HasField(f) {
		// Without a tick counter every active poll counts as new data.
		return true, telemetry.Value{}, nil
	}
	tick, err := p.src.Field(f)
	if err != nil {
		return false, telemetry.Value{}, err
	}
	if tick.IsZero() || tick.Equal(p.lastTick) {
		return false, tick, nil
	}
	return true, tick, nil
}

func (p *Provider) publish(now time.Time, tick telemetry.Value) {
	p.mu.Lock()
	p.seq++
	seq := p.seq
	obs := p.observer
	p.mu.Unlock()

	ctx := telemetry.NewSampleContext(seq, now, p.src, p.state, p.resolver)

	p.subMu.RLock()
	subs := make([]subscription, len(p.subs))
	copy(subs, p.subs)
	p.subMu.RUnlock()

	start := time.Now()
	for _, s := range subs {
		p.dispatch(s, ctx)
	}
	p.resolver.Commit(ctx)
	elapsed := time.Since(start)

	p.lastTick = tick

	p.mu.Lock()
	p.stats.Samples++
	p.stats.LastSample = now
	p.mu.Unlock()

	if obs != nil {
		obs.ObserveSample(elapsed)
	}
}

func (p *Provider) dispatch(s subscription, ctx *telemetry.SampleContext) {
	defer func() {
		if r := recover(); r != nil {
			logging.DebugLog("provider", "subscriber %d panicked: %v", s.id, r)
			p.log("Subscriber %d failed: %v", s.id, r)
		}
	}()
	s.fn(ctx)
}

func (p *Provider) fail(err error) {
	p.mu.Lock()
	p.stats.Errors++
	p.stats.LastError = err
	obs := p.observer
	p.mu.Unlock()

	if obs != nil {
		obs.ObserveError(err)
	}
	logging.DebugError("provider", p.src.Name(), err)
	p.log("Source %s error: %v (retrying in %v)", p.src.Name(), err, p.opts.ErrorBackoff)
	p.setState(StateDisconnected)
}

func (p *Provider) shutdown() {
	if err := p.src.Disconnect(); err != nil {
		logging.DebugError("provider", "disconnect", err)
	}
	p.setState(StateDisconnected)
	p.state.Reset()
	p.lastTick = telemetry.Value{}
}

func (p *Provider) setState(s ConnectionState) {
	p.mu.Lock()
	if p.status == s {
		p.mu.Unlock()
		return
	}
	prev := p.status
	p.status = s
	st := p.statusLocked()
	fn := p.onStatus
	p.mu.Unlock()

	logging.DebugLog("provider", "%s -> %s", prev, s)
	if fn != nil {
		fn(st)
	}
}

func (p *Provider) log(format string, args ...interface{}) {
	p.mu.RLock()
	fn := p.onLog
	p.mu.RUnlock()
	if fn != nil {
		fn(format, args...)
	}
}
