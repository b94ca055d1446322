package engine

import (
	"fmt"

	"simlink/config"
	"simlink/logging"
	"simlink/provider"
	"simlink/telemetry"
)

// newResolver builds a resolver for the configured vehicle and unit table.
func newResolver(cfg *config.Config) *telemetry.Resolver {
	r := telemetry.NewResolver(telemetry.Profile{
		Name:          cfg.Vehicle.Name,
		Wheelbase:     cfg.Vehicle.Wheelbase,
		TrackWidth:    cfg.Vehicle.TrackWidth,
		RumbleCorners: cfg.Vehicle.RumbleCorners,
	})
	r.SetUnits(cfg.Units)
	return r
}

// rebuildProvider replaces the provider with one built from the current
// config. A provider that was running is stopped first and the new one is
// started in its place.
func (e *Engine) rebuildProvider() error {
	e.mu.Lock()
	old := e.prov
	e.mu.Unlock()

	wasActive := false
	if old != nil {
		wasActive = old.IsActive()
		old.Stop()
	}

	e.cfg.Lock()
	pcfg := e.cfg.Provider
	resolver := newResolver(e.cfg)
	e.cfg.Unlock()

	src, err := e.newSource(&pcfg)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidInput, err)
		e.mu.Lock()
		e.prov = nil
		e.buildErr = err
		e.mu.Unlock()
		return err
	}

	p := provider.New(src, resolver, provider.OptionsFromConfig(pcfg))
	p.SetOnLog(e.logFn)
	if e.observer != nil {
		p.SetObserver(e.observer)
	}
	p.SetOnStatusChange(e.onStatusChange)
	p.Subscribe(e.onSample)

	e.mu.Lock()
	e.prov = p
	e.buildErr = nil
	e.latest = nil
	e.mu.Unlock()

	logging.DebugLog("engine", "Provider built: source=%s rate=%dHz", src.Name(), pcfg.UpdateFrequency)

	if wasActive {
		p.Start()
	}
	return nil
}

// onSample runs on the provider goroutine for every fresh sample. It copies
// the configured signals out of the context and hands the snapshot to the
// sinks, whose I/O happens on their own workers.
func (e *Engine) onSample(ctx *telemetry.SampleContext) {
	e.mu.RLock()
	p := e.prov
	names := e.signals
	e.mu.RUnlock()
	if p == nil {
		return
	}
	if len(names) == 0 {
		names = p.ValueList()
	}

	snap := telemetry.Capture(ctx, p.Source().Name(), names)

	e.mu.Lock()
	e.latest = snap
	e.mu.Unlock()

	e.GetMQTTMgr().Publish(snap, false)
	e.GetValkeyMgr().Publish(snap, false)
	e.GetKafkaMgr().Publish(snap, false)

	e.emit(EventSample, SampleEvent{Snapshot: snap})
}

// onStatusChange runs on the provider goroutine after each transition.
func (e *Engine) onStatusChange(st provider.Status) {
	logging.DebugLog("engine", "Provider state: %s (tick %d)", st.State, st.Tick)
	go e.publishStatus(st)
	e.emit(EventProviderState, ProviderEvent{Status: st})
}

// publishStatusToSinks republishes the current provider status, used when a
// sink (re)connects so it carries a retained status immediately.
func (e *Engine) publishStatusToSinks() {
	p := e.GetProvider()
	if p == nil {
		return
	}
	e.publishStatus(p.Status())
}

func (e *Engine) publishStatus(st provider.Status) {
	e.GetMQTTMgr().PublishStatus(st)
	e.GetValkeyMgr().PublishStatus(st)
	e.GetKafkaMgr().PublishStatus(st)
}

func (e *Engine) setSignals(signals []string) {
	var copied []string
	if len(signals) > 0 {
		copied = append([]string(nil), signals...)
	}
	e.mu.Lock()
	e.signals = copied
	e.mu.Unlock()
}
