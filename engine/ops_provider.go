package engine

import (
	"fmt"
	"strings"
	"time"

	"simlink/config"
)

// StartProvider starts the sampling loop.
func (e *Engine) StartProvider() error {
	p := e.GetProvider()
	if p == nil {
		if err := e.ProviderError(); err != nil {
			return err
		}
		return fmt.Errorf("%w: provider", ErrNotFound)
	}
	if p.IsActive() {
		return nil
	}
	p.Start()
	e.emit(EventProviderStarted, ProviderEvent{Status: p.Status()})
	return nil
}

// StopProvider stops the sampling loop and disconnects the source.
func (e *Engine) StopProvider() {
	p := e.GetProvider()
	if p == nil || !p.IsActive() {
		return
	}
	p.Stop()
	e.emit(EventProviderStopped, ProviderEvent{Status: p.Status()})
}

// ProviderSettingsRequest holds the provider fields that can change at runtime.
// Zero values leave the current setting unchanged.
type ProviderSettingsRequest struct {
	Source          string
	UpdateFrequency int
	IdleTimeout     time.Duration
	ErrorBackoff    time.Duration
	TickField       string
	ActiveField     *string
	ReplayPath      string
	ReplayLoop      *bool
	AutoStart       *bool
}

// UpdateProvider applies new provider settings, saves config and rebuilds
// the provider. A running loop is restarted on the new source.
func (e *Engine) UpdateProvider(req ProviderSettingsRequest) error {
	if req.UpdateFrequency < 0 || req.UpdateFrequency > 1000 {
		return fmt.Errorf("%w: update frequency must be between 1 and 1000 Hz", ErrInvalidInput)
	}
	switch req.Source {
	case "", config.SourceMock, config.SourceReplay, config.SourceBridge:
	default:
		return fmt.Errorf("%w: unknown source %q", ErrInvalidInput, req.Source)
	}

	e.cfg.Lock()
	prev := e.cfg.Provider
	pc := &e.cfg.Provider
	if req.Source != "" {
		pc.Source = req.Source
	}
	if req.UpdateFrequency > 0 {
		pc.UpdateFrequency = req.UpdateFrequency
	}
	if req.IdleTimeout > 0 {
		pc.IdleTimeout = req.IdleTimeout
	}
	if req.ErrorBackoff > 0 {
		pc.ErrorBackoff = req.ErrorBackoff
	}
	if req.TickField != "" {
		pc.Freshness.TickField = req.TickField
	}
	if req.ActiveField != nil {
		pc.Freshness.ActiveField = *req.ActiveField
	}
	if req.ReplayPath != "" {
		pc.Replay.Path = req.ReplayPath
	}
	if req.ReplayLoop != nil {
		pc.Replay.Loop = *req.ReplayLoop
	}
	if req.AutoStart != nil {
		pc.AutoStart = *req.AutoStart
	}
	if err := e.cfg.Validate(); err != nil {
		e.cfg.Provider = prev
		e.cfg.Unlock()
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	sourceChanged := pc.Source != prev.Source
	if err := e.saveConfig(); err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}

	if err := e.rebuildProvider(); err != nil {
		return err
	}
	if sourceChanged {
		e.emit(EventSourceChanged, SystemEvent{Detail: req.Source})
	}
	return nil
}

// SetSignals sets the names captured and published each tick. An empty
// list publishes the full value list.
func (e *Engine) SetSignals(signals []string) error {
	cleaned := make([]string, 0, len(signals))
	seen := make(map[string]bool, len(signals))
	for _, s := range signals {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		cleaned = append(cleaned, s)
	}

	e.cfg.Lock()
	e.cfg.Signals = cleaned
	if err := e.saveConfig(); err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}

	e.setSignals(cleaned)
	e.emit(EventSignalsChanged, SystemEvent{Detail: strings.Join(cleaned, ",")})
	return nil
}

// SetVehicle replaces the vehicle profile and rebuilds the provider so the
// derived signals use the new constants.
func (e *Engine) SetVehicle(v config.VehicleConfig) error {
	if v.Wheelbase <= 0 || v.TrackWidth <= 0 {
		return fmt.Errorf("%w: wheelbase and track width must be positive", ErrInvalidInput)
	}
	for _, c := range v.RumbleCorners {
		if !config.IsValidCorner(c) {
			return fmt.Errorf("%w: invalid rumble corner %q", ErrInvalidInput, c)
		}
	}
	if len(v.RumbleCorners) == 0 {
		v.RumbleCorners = config.DefaultVehicle().RumbleCorners
	}

	e.cfg.Lock()
	e.cfg.Vehicle = v
	if err := e.saveConfig(); err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}

	if err := e.rebuildProvider(); err != nil {
		return err
	}
	e.emit(EventVehicleChanged, SystemEvent{Detail: v.Name})
	return nil
}
