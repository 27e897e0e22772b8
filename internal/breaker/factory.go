package breaker

import (
	"sync"

	"github.com/vigil-ops/vigil/internal/events"
	"github.com/vigil-ops/vigil/pkg/logging"
)

// Factory is a registry mapping a dependency name to one circuit breaker.
// Creation is get-or-create: the first caller's config wins and later configs
// for the same name are ignored.
type Factory struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	defaults Config
	bus      *events.Bus
	logger   *logging.Logger
}

// NewFactory creates a breaker factory. The defaults are merged under any
// per-breaker config passed to Create.
func NewFactory(defaults Config, bus *events.Bus) *Factory {
	return &Factory{
		breakers: make(map[string]*Breaker),
		defaults: withDefaults(defaults),
		bus:      bus,
		logger:   logging.GetLogger(),
	}
}

// Create returns the breaker registered under name, creating it with the
// given config merged over the factory defaults if it does not exist yet.
func (f *Factory) Create(name string, cfg Config) *Breaker {
	f.mu.Lock()
	defer f.mu.Unlock()

	if b, ok := f.breakers[name]; ok {
		return b
	}

	merged := f.merge(cfg)
	b := New(name, merged, f.bus)
	f.breakers[name] = b

	f.logger.Info("Circuit breaker created",
		"name", name,
		"failure_threshold", merged.FailureThreshold,
		"recovery_timeout", merged.RecoveryTimeout.String(),
		"volume_threshold", merged.VolumeThreshold,
	)
	return b
}

// Get returns the breaker registered under name, if any.
func (f *Factory) Get(name string) (*Breaker, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.breakers[name]
	return b, ok
}

// Stats returns a snapshot of every registered breaker, keyed by name.
func (f *Factory) Stats() map[string]Stats {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]Stats, len(f.breakers))
	for name, b := range f.breakers {
		out[name] = b.Stats()
	}
	return out
}

// ResetAll forces every breaker back to CLOSED.
func (f *Factory) ResetAll() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, b := range f.breakers {
		b.Reset()
	}
}

// DestroyAll stops every breaker's monitor and empties the registry. Used in
// test teardown and process shutdown.
func (f *Factory) DestroyAll() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, b := range f.breakers {
		b.Destroy()
	}
	f.breakers = make(map[string]*Breaker)
}

// merge overlays non-zero fields of cfg onto the factory defaults.
func (f *Factory) merge(cfg Config) Config {
	merged := f.defaults
	if cfg.FailureThreshold > 0 {
		merged.FailureThreshold = cfg.FailureThreshold
	}
	if cfg.RecoveryTimeout > 0 {
		merged.RecoveryTimeout = cfg.RecoveryTimeout
	}
	if cfg.VolumeThreshold > 0 {
		merged.VolumeThreshold = cfg.VolumeThreshold
	}
	if cfg.MonitorInterval > 0 {
		merged.MonitorInterval = cfg.MonitorInterval
	}
	if cfg.IsFailure != nil {
		merged.IsFailure = cfg.IsFailure
	}
	return merged
}
