package health

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/vigil-ops/vigil/internal/breaker"
	"github.com/vigil-ops/vigil/pkg/logging"
)

// Probe checks one dependency and may contribute metrics to the snapshot.
type Probe interface {
	Name() string
	Check(ctx context.Context) error
	Metrics() map[string]float64
}

// CheckResult is the outcome of one probe run.
type CheckResult struct {
	Name     string        `json:"name"`
	Healthy  bool          `json:"healthy"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Snapshot is one full health evaluation.
type Snapshot struct {
	Healthy              bool                   `json:"healthy"`
	Timestamp            time.Time              `json:"timestamp"`
	Uptime               time.Duration          `json:"uptime"`
	Checks               map[string]CheckResult `json:"checks"`
	Metrics              map[string]float64     `json:"metrics"`
	ConsecutiveFailures  int                    `json:"consecutiveFailures"`
	ConsecutiveSuccesses int                    `json:"consecutiveSuccesses"`
}

// Config paces the health loop.
type Config struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
	// MinUptime is the grace period after start during which the service
	// reports unready.
	MinUptime time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:     30 * time.Second,
		ProbeTimeout: 5 * time.Second,
		MinUptime:    10 * time.Second,
	}
}

// Checker runs registered probes on an interval and hands each snapshot to
// the registered observers. Probe calls go through circuit breakers, so a
// dependency that is down stops being hammered by the health loop itself.
type Checker struct {
	mu        sync.RWMutex
	probes    []Probe
	observers []func(Snapshot)
	last      Snapshot

	cfg       Config
	factory   *breaker.Factory
	logger    *logging.Logger
	clock     func() time.Time
	startedAt time.Time

	failures  int
	successes int

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewChecker(cfg Config, factory *breaker.Factory, logger *logging.Logger) *Checker {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	return &Checker{
		cfg:     cfg,
		factory: factory,
		logger:  logger,
		clock:   time.Now,
		stop:    make(chan struct{}),
	}
}

// Register adds a probe. Probes registered after Start are picked up on the
// next tick.
func (c *Checker) Register(p Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes = append(c.probes, p)
}

// OnSnapshot registers an observer called with every completed snapshot.
func (c *Checker) OnSnapshot(fn func(Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Start begins the periodic health loop.
func (c *Checker) Start() {
	c.startedAt = c.clock()
	c.wg.Add(1)
	go c.loop()
}

// Stop halts the health loop.
func (c *Checker) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
}

func (c *Checker) loop() {
	defer c.wg.Done()

	// First evaluation immediately so readiness does not wait a full tick.
	c.RunChecks(context.Background())

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.RunChecks(context.Background())
		}
	}
}

// RunChecks runs every probe once and publishes the snapshot to observers.
func (c *Checker) RunChecks(ctx context.Context) Snapshot {
	c.mu.RLock()
	probes := make([]Probe, len(c.probes))
	copy(probes, c.probes)
	observers := make([]func(Snapshot), len(c.observers))
	copy(observers, c.observers)
	c.mu.RUnlock()

	now := c.clock()
	snap := Snapshot{
		Healthy:   true,
		Timestamp: now,
		Uptime:    now.Sub(c.startedAt),
		Checks:    make(map[string]CheckResult, len(probes)),
		Metrics:   make(map[string]float64),
	}

	for _, p := range probes {
		result := c.runProbe(ctx, p)
		snap.Checks[p.Name()] = result
		if !result.Healthy {
			snap.Healthy = false
		}
		for k, v := range p.Metrics() {
			snap.Metrics[k] = v
		}
	}

	c.mu.Lock()
	if snap.Healthy {
		c.successes++
		c.failures = 0
	} else {
		c.failures++
		c.successes = 0
	}
	snap.ConsecutiveFailures = c.failures
	snap.ConsecutiveSuccesses = c.successes
	c.last = snap
	c.mu.Unlock()

	if !snap.Healthy {
		c.logger.Warn("Health check failed",
			"consecutive_failures", snap.ConsecutiveFailures,
			"checks", len(snap.Checks))
	}

	for _, fn := range observers {
		fn(snap)
	}
	return snap
}

func (c *Checker) runProbe(ctx context.Context, p Probe) CheckResult {
	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	start := c.clock()
	var err error
	if c.factory != nil {
		br := c.factory.Create("health:"+p.Name(), breaker.Config{})
		_, err = br.Execute(probeCtx, func(ctx context.Context) (interface{}, error) {
			return nil, p.Check(ctx)
		})
	} else {
		err = p.Check(probeCtx)
	}
	elapsed := c.clock().Sub(start)

	result := CheckResult{Name: p.Name(), Healthy: err == nil, Duration: elapsed}
	if err != nil {
		result.Error = err.Error()
	}
	return result
}

// Last returns the most recent snapshot.
func (c *Checker) Last() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// Ready reports whether the service has been up past its grace period and
// the last evaluation was healthy.
func (c *Checker) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.clock().Sub(c.startedAt) < c.cfg.MinUptime {
		return false
	}
	return c.last.Healthy
}

// PingProbe adapts any ping-style dependency into a Probe.
type PingProbe struct {
	name string
	ping func(ctx context.Context) error
	// stats, when set, contributes dependency metrics to the snapshot.
	stats func() map[string]float64
}

func NewPingProbe(name string, ping func(ctx context.Context) error, stats func() map[string]float64) *PingProbe {
	return &PingProbe{name: name, ping: ping, stats: stats}
}

func (p *PingProbe) Name() string                    { return p.name }
func (p *PingProbe) Check(ctx context.Context) error { return p.ping(ctx) }

func (p *PingProbe) Metrics() map[string]float64 {
	if p.stats == nil {
		return nil
	}
	return p.stats()
}

// VitalsProbe reports process memory and goroutine vitals. It fails when
// heap usage crosses the configured percentage of the heap ceiling.
type VitalsProbe struct {
	heapLimitPercent float64
}

func NewVitalsProbe(heapLimitPercent float64) *VitalsProbe {
	if heapLimitPercent <= 0 {
		heapLimitPercent = 90
	}
	return &VitalsProbe{heapLimitPercent: heapLimitPercent}
}

func (v *VitalsProbe) Name() string { return "vitals" }

func (v *VitalsProbe) Check(ctx context.Context) error {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	if ms.HeapSys == 0 {
		return nil
	}
	usage := float64(ms.HeapInuse) / float64(ms.HeapSys) * 100
	if usage > v.heapLimitPercent {
		return fmt.Errorf("heap usage %.1f%% exceeds limit %.1f%%", usage, v.heapLimitPercent)
	}
	return nil
}

func (v *VitalsProbe) Metrics() map[string]float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	metrics := map[string]float64{
		"goroutines":        float64(runtime.NumGoroutine()),
		"heap_alloc_bytes":  float64(ms.HeapAlloc),
		"heap_sys_bytes":    float64(ms.HeapSys),
		"gc_pause_total_ms": float64(ms.PauseTotalNs) / 1e6,
		"num_gc":            float64(ms.NumGC),
	}
	if ms.HeapSys > 0 {
		metrics["memory_usage_percent"] = float64(ms.HeapInuse) / float64(ms.HeapSys) * 100
	}
	return metrics
}
