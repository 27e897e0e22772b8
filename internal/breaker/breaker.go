package breaker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/vigil-ops/vigil/internal/events"
	"github.com/vigil-ops/vigil/pkg/logging"
)

// State represents the state of the circuit breaker
type State int

const (
	// StateClosed - circuit is closed, requests are allowed
	StateClosed State = iota
	// StateOpen - circuit is open, requests are rejected
	StateOpen
	// StateHalfOpen - circuit is half-open, a probe request is allowed
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config holds configuration for a circuit breaker
type Config struct {
	// FailureThreshold is the number of classified failures that opens the
	// circuit once VolumeThreshold has been met.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before a half-open
	// probe is allowed through.
	RecoveryTimeout time.Duration
	// VolumeThreshold is the minimum number of requests in the current
	// closed window before the circuit may open at all.
	VolumeThreshold int
	// MonitorInterval is the cadence of stats events, independent of traffic.
	MonitorInterval time.Duration
	// IsFailure classifies which errors count toward the failure threshold.
	// Errors it rejects pass through to the caller without affecting circuit
	// health.
	IsFailure func(error) bool
}

// DefaultConfig returns the default breaker configuration
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		VolumeThreshold:  10,
		MonitorInterval:  10 * time.Second,
		IsFailure:        DefaultIsFailure,
	}
}

// DefaultIsFailure classifies infrastructure-level errors (timeouts,
// connection refused, DNS failures, deadline exceeded) as circuit failures.
// Anything else is treated as a business error and ignored by the breaker.
func DefaultIsFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// Stats is the externally visible snapshot of a breaker. It carries no timer
// state and round-trips through JSON.
type Stats struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	Failures        int       `json:"failures"`
	Successes       int       `json:"successes"`
	TotalRequests   int       `json:"total_requests"`
	LastFailureTime time.Time `json:"last_failure_time"`
	LastSuccessTime time.Time `json:"last_success_time"`
	NextAttemptTime time.Time `json:"next_attempt_time"`
}

// Breaker is a per-dependency state machine that fails fast when the guarded
// dependency keeps failing.
type Breaker struct {
	name string
	cfg  Config

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	total       int
	lastFailure time.Time
	lastSuccess time.Time
	nextAttempt time.Time
	probing     bool
	destroyed   bool

	bus    *events.Bus
	logger *logging.Logger
	clock  func() time.Time
	stop   chan struct{}
}

// New creates a circuit breaker and starts its stats monitor. Destroy must be
// called to release the monitor.
func New(name string, cfg Config, bus *events.Bus) *Breaker {
	cfg = withDefaults(cfg)

	b := &Breaker{
		name:   name,
		cfg:    cfg,
		state:  StateClosed,
		bus:    bus,
		logger: logging.GetLogger(),
		clock:  time.Now,
		stop:   make(chan struct{}),
	}

	go b.monitor()
	return b
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	if cfg.VolumeThreshold <= 0 {
		cfg.VolumeThreshold = def.VolumeThreshold
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = def.MonitorInterval
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = DefaultIsFailure
	}
	return cfg
}

// Name returns the breaker name
func (b *Breaker) Name() string {
	return b.name
}

// Execute runs op if the circuit accepts it. While open and before the next
// attempt time it fails fast with *OpenError and op is never invoked.
// Otherwise the operation's result and error are returned unchanged.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) (interface{}, error)) (interface{}, error) {
	if err := b.beforeRequest(); err != nil {
		return nil, err
	}

	result, err := op(ctx)
	b.afterRequest(err)
	return result, err
}

// Call is a convenience wrapper for operations that don't need a context.
func (b *Breaker) Call(fn func() (interface{}, error)) (interface{}, error) {
	return b.Execute(context.Background(), func(context.Context) (interface{}, error) {
		return fn()
	})
}

func (b *Breaker) beforeRequest() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	switch b.state {
	case StateOpen:
		if now.Before(b.nextAttempt) {
			b.publishRejected()
			return &OpenError{Name: b.name, RetryAt: b.nextAttempt}
		}
		// Recovery timeout elapsed, allow one probe through.
		b.setState(StateHalfOpen, now)
		b.probing = true
	case StateHalfOpen:
		if b.probing {
			// A probe is already in flight.
			b.publishRejected()
			return &OpenError{Name: b.name, RetryAt: b.nextAttempt}
		}
		b.probing = true
	}

	b.total++
	return nil
}

func (b *Breaker) afterRequest(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	if b.state == StateHalfOpen {
		b.probing = false
	}
	if err == nil {
		b.onSuccess(now)
		return
	}
	if !b.cfg.IsFailure(err) {
		// Business error: propagated to the caller, invisible to the circuit.
		return
	}
	b.onFailure(now, err)
}

func (b *Breaker) onSuccess(now time.Time) {
	b.successes++
	b.lastSuccess = now

	b.publish(events.KindBreakerSuccess, map[string]interface{}{
		"name":  b.name,
		"state": b.state.String(),
	})

	if b.state == StateHalfOpen {
		b.setState(StateClosed, now)
	}
}

func (b *Breaker) onFailure(now time.Time, err error) {
	b.failures++
	b.lastFailure = now

	b.publish(events.KindBreakerFailure, map[string]interface{}{
		"name":  b.name,
		"state": b.state.String(),
		"error": err.Error(),
	})

	switch b.state {
	case StateHalfOpen:
		// Probe failed, back to open with a fresh recovery window.
		b.setState(StateOpen, now)
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold && b.total >= b.cfg.VolumeThreshold {
			b.setState(StateOpen, now)
		}
	}
}

// setState transitions the state machine. Counters reset on entering CLOSED
// and on a failed probe re-opening the circuit; nextAttempt is only ever set
// while OPEN. Callers must hold the mutex.
func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}

	prev := b.state
	b.state = state
	b.probing = false

	switch state {
	case StateClosed:
		b.failures = 0
		b.successes = 0
		b.total = 0
		b.nextAttempt = time.Time{}
	case StateOpen:
		if prev == StateHalfOpen {
			b.failures = 0
			b.successes = 0
			b.total = 0
		}
		b.nextAttempt = now.Add(b.cfg.RecoveryTimeout)
	case StateHalfOpen:
		b.nextAttempt = time.Time{}
	}

	b.publish(events.KindBreakerStateChange, map[string]interface{}{
		"name": b.name,
		"from": prev.String(),
		"to":   state.String(),
	})

	b.logger.Info("Circuit breaker state changed",
		"name", b.name,
		"from", prev.String(),
		"to", state.String(),
		"failures", b.failures,
		"total_requests", b.total,
	)
}

// State returns the current state, resolving a lazily expired open window.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && !b.clock().Before(b.nextAttempt) {
		return StateHalfOpen
	}
	return b.state
}

// Stats returns a snapshot of the breaker's external view.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statsLocked()
}

func (b *Breaker) statsLocked() Stats {
	return Stats{
		Name:            b.name,
		State:           b.state.String(),
		Failures:        b.failures,
		Successes:       b.successes,
		TotalRequests:   b.total,
		LastFailureTime: b.lastFailure,
		LastSuccessTime: b.lastSuccess,
		NextAttemptTime: b.nextAttempt,
	}
}

// Reset forces the breaker back to CLOSED with zeroed counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.setState(StateClosed, b.clock())
	b.failures = 0
	b.successes = 0
	b.total = 0
}

// Destroy stops the stats monitor. The breaker remains usable but silent;
// it should be dropped after this call.
func (b *Breaker) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return
	}
	b.destroyed = true
	close(b.stop)
}

func (b *Breaker) monitor() {
	ticker := time.NewTicker(b.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.mu.Lock()
			stats := b.statsLocked()
			b.mu.Unlock()
			b.publish(events.KindBreakerStats, stats)
		}
	}
}

func (b *Breaker) publishRejected() {
	b.publish(events.KindBreakerRejected, map[string]interface{}{
		"name": b.name,
	})
}

func (b *Breaker) publish(kind events.Kind, payload interface{}) {
	if b.bus == nil {
		return
	}
	b.bus.Publish(events.Event{
		Kind:    kind,
		Source:  b.name,
		Payload: payload,
	})
}

// OpenError is returned when the circuit is open and the call was never
// attempted. Callers should treat it the same as the dependency being down.
type OpenError struct {
	Name    string
	RetryAt time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is open", e.Name)
}

// IsOpenError checks if an error is a circuit-open fast-fail
func IsOpenError(err error) bool {
	var openErr *OpenError
	return errors.As(err, &openErr)
}
