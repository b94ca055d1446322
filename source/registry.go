package source

import (
	"fmt"

	"simlink/config"
)

// Create creates a Source for the provider configuration.
// The connection is not established until Connect() is called on the returned source.
func Create(cfg *config.ProviderConfig) (Source, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}

	switch cfg.Source {
	case config.SourceMock, "":
		return NewMock(MockOptions{Rate: cfg.UpdateFrequency}), nil
	case config.SourceReplay:
		if cfg.Replay.Path == "" {
			return nil, fmt.Errorf("replay source requires a path")
		}
		return NewReplay(ReplayOptions{
			Path:     cfg.Replay.Path,
			Rate:     cfg.UpdateFrequency,
			Loop:     cfg.Replay.Loop,
			TickName: cfg.Freshness.TickField,
		}), nil
	case config.SourceBridge:
		b := cfg.Bridge
		if b.Broker == "" || b.Topic == "" {
			return nil, fmt.Errorf("bridge source requires broker and topic")
		}
		return NewBridge(BridgeOptions{
			Broker:     b.Broker,
			Port:       b.Port,
			Topic:      b.Topic,
			ClientID:   b.ClientID,
			Username:   b.Username,
			Password:   b.Password,
			UseTLS:     b.UseTLS,
			StaleAfter: b.StaleAfter,
			TickName:   cfg.Freshness.TickField,
		}), nil
	default:
		return nil, fmt.Errorf("unknown source %q", cfg.Source)
	}
}
