package scaling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vigil-ops/vigil/pkg/logging"
)

// Action is the outcome class of one scaling evaluation.
type Action string

const (
	ActionNone      Action = "none"
	ActionScaleUp   Action = "scale-up"
	ActionScaleDown Action = "scale-down"
)

// Decision records one scaling evaluation that produced an action.
type Decision struct {
	Action    Action    `json:"action"`
	Reason    string    `json:"reason"`
	From      int       `json:"from"`
	To        int       `json:"to"`
	Applied   bool      `json:"applied"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Config bounds and paces the scaling manager.
type Config struct {
	Service      string
	MinReplicas  int
	MaxReplicas  int
	CPUThreshold float64
	MemThreshold float64
	// ScaleUpCooldown and ScaleDownCooldown pace actions independently, so
	// a recent scale-up does not block an urgent scale-down.
	ScaleUpCooldown   time.Duration
	ScaleDownCooldown time.Duration
}

// DefaultConfig returns the production scaling policy.
func DefaultConfig() Config {
	return Config{
		Service:           "vigil",
		MinReplicas:       1,
		MaxReplicas:       10,
		CPUThreshold:      80,
		MemThreshold:      85,
		ScaleUpCooldown:   3 * time.Minute,
		ScaleDownCooldown: 5 * time.Minute,
	}
}

// Status is a read-only view of the manager's current state.
type Status struct {
	Service         string     `json:"service"`
	CurrentReplicas int        `json:"currentReplicas"`
	MinReplicas     int        `json:"minReplicas"`
	MaxReplicas     int        `json:"maxReplicas"`
	LastScaleUp     time.Time  `json:"lastScaleUp"`
	LastScaleDown   time.Time  `json:"lastScaleDown"`
	RecentDecisions []Decision `json:"recentDecisions"`
}

const decisionHistory = 50

// Manager evaluates load metrics and scales a service between its replica
// bounds. Scale-down uses half the scale-up thresholds, so replica counts do
// not oscillate around a single cutoff.
type Manager struct {
	mu sync.Mutex

	cfg      Config
	scaler   Scaler
	logger   *logging.Logger
	clock    func() time.Time
	replicas int

	lastScaleUp   time.Time
	lastScaleDown time.Time
	decisions     []Decision
}

func NewManager(cfg Config, scaler Scaler, logger *logging.Logger) *Manager {
	if cfg.MinReplicas < 1 {
		cfg.MinReplicas = 1
	}
	if cfg.MaxReplicas < cfg.MinReplicas {
		cfg.MaxReplicas = cfg.MinReplicas
	}
	if scaler == nil {
		scaler = NoopScaler{}
	}
	return &Manager{
		cfg:      cfg,
		scaler:   scaler,
		logger:   logger,
		clock:    time.Now,
		replicas: cfg.MinReplicas,
	}
}

// CheckScalingNeeds evaluates the metric snapshot and applies at most one
// scaling action. Metrics are read from the cpu_usage_percent and
// memory_usage_percent keys; a snapshot missing both is a no-op.
func (m *Manager) CheckScalingNeeds(ctx context.Context, snapshot map[string]float64) Decision {
	cpu, hasCPU := snapshot["cpu_usage_percent"]
	mem, hasMem := snapshot["memory_usage_percent"]
	if !hasCPU && !hasMem {
		return Decision{Action: ActionNone, Reason: "no load metrics in snapshot", Timestamp: m.clock()}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()

	scaleUp := (hasCPU && cpu > m.cfg.CPUThreshold) || (hasMem && mem > m.cfg.MemThreshold)
	scaleDown := (!hasCPU || cpu < m.cfg.CPUThreshold*0.5) && (!hasMem || mem < m.cfg.MemThreshold*0.5)

	switch {
	case scaleUp:
		if m.replicas >= m.cfg.MaxReplicas {
			return m.record(Decision{
				Action: ActionNone, From: m.replicas, To: m.replicas,
				Reason:    fmt.Sprintf("load high (cpu=%.1f mem=%.1f) but already at max replicas %d", cpu, mem, m.cfg.MaxReplicas),
				Timestamp: now,
			})
		}
		if since := now.Sub(m.lastScaleUp); !m.lastScaleUp.IsZero() && since < m.cfg.ScaleUpCooldown {
			return m.record(Decision{
				Action: ActionNone, From: m.replicas, To: m.replicas,
				Reason:    fmt.Sprintf("scale-up suppressed by cooldown, %s remaining", (m.cfg.ScaleUpCooldown - since).Round(time.Second)),
				Timestamp: now,
			})
		}
		return m.apply(ctx, ActionScaleUp, m.replicas+1,
			fmt.Sprintf("load high: cpu=%.1f%% (limit %.1f), mem=%.1f%% (limit %.1f)", cpu, m.cfg.CPUThreshold, mem, m.cfg.MemThreshold), now)

	case scaleDown:
		if m.replicas <= m.cfg.MinReplicas {
			return m.record(Decision{
				Action: ActionNone, From: m.replicas, To: m.replicas,
				Reason:    "load low but already at min replicas",
				Timestamp: now,
			})
		}
		if since := now.Sub(m.lastScaleDown); !m.lastScaleDown.IsZero() && since < m.cfg.ScaleDownCooldown {
			return m.record(Decision{
				Action: ActionNone, From: m.replicas, To: m.replicas,
				Reason:    fmt.Sprintf("scale-down suppressed by cooldown, %s remaining", (m.cfg.ScaleDownCooldown - since).Round(time.Second)),
				Timestamp: now,
			})
		}
		return m.apply(ctx, ActionScaleDown, m.replicas-1,
			fmt.Sprintf("load low: cpu=%.1f%%, mem=%.1f%%", cpu, mem), now)

	default:
		return Decision{Action: ActionNone, From: m.replicas, To: m.replicas,
			Reason: "load within bounds", Timestamp: now}
	}
}

// apply runs the scaler with m.mu held; scaler calls carry their own HTTP
// timeout so the hold is bounded.
func (m *Manager) apply(ctx context.Context, action Action, target int, reason string, now time.Time) Decision {
	d := Decision{
		Action:    action,
		Reason:    reason,
		From:      m.replicas,
		To:        target,
		Timestamp: now,
	}

	var err error
	if action == ActionScaleUp {
		err = m.scaler.ScaleUp(ctx, m.cfg.Service, target)
	} else {
		err = m.scaler.ScaleDown(ctx, m.cfg.Service, target)
	}

	if err != nil {
		d.Error = err.Error()
		m.logger.Error("Scaling action failed",
			"action", string(action),
			"service", m.cfg.Service,
			"target_replicas", target,
			"error", err)
		return m.record(d)
	}

	d.Applied = true
	m.replicas = target
	if action == ActionScaleUp {
		m.lastScaleUp = now
	} else {
		m.lastScaleDown = now
	}

	m.logger.Info("Scaling action applied",
		"action", string(action),
		"service", m.cfg.Service,
		"replicas", target,
		"reason", reason)
	return m.record(d)
}

func (m *Manager) record(d Decision) Decision {
	m.decisions = append(m.decisions, d)
	if len(m.decisions) > decisionHistory {
		m.decisions = m.decisions[len(m.decisions)-decisionHistory:]
	}
	return d
}

// Replicas returns the current replica count.
func (m *Manager) Replicas() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replicas
}

// Status returns the manager's current state and recent decisions.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	decisions := make([]Decision, len(m.decisions))
	copy(decisions, m.decisions)

	return Status{
		Service:         m.cfg.Service,
		CurrentReplicas: m.replicas,
		MinReplicas:     m.cfg.MinReplicas,
		MaxReplicas:     m.cfg.MaxReplicas,
		LastScaleUp:     m.lastScaleUp,
		LastScaleDown:   m.lastScaleDown,
		RecentDecisions: decisions,
	}
}
