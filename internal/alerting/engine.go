package alerting

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vigil-ops/vigil/internal/events"
	"github.com/vigil-ops/vigil/pkg/logging"
)

// Engine evaluates threshold rules against metric snapshots and manages the
// lifecycle of the alerts they raise. Alerts live in memory for the process
// lifetime; only the retention sweep removes them.
type Engine struct {
	mu     sync.RWMutex
	rules  map[string]*Rule
	alerts map[string]*Alert

	bus    *events.Bus
	logger *logging.Logger
	clock  func() time.Time
}

// NewEngine creates an engine preloaded with the default rule set.
func NewEngine(bus *events.Bus) *Engine {
	e := &Engine{
		rules:  make(map[string]*Rule),
		alerts: make(map[string]*Alert),
		bus:    bus,
		logger: logging.GetLogger(),
		clock:  time.Now,
	}

	for _, rule := range DefaultRules() {
		e.rules[rule.ID] = rule
	}

	return e
}

// AddRule registers or replaces a rule.
func (e *Engine) AddRule(rule *Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[rule.ID] = rule
}

// RemoveRule deletes a rule. Removing an unknown rule is a no-op.
func (e *Engine) RemoveRule(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.rules, id)
}

// Rules returns a copy of the registered rules.
func (e *Engine) Rules() []*Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*Rule, 0, len(e.rules))
	for _, r := range e.rules {
		cp := *r
		out = append(out, &cp)
	}
	return out
}

// EvaluateRules runs every enabled rule against the snapshot and returns the
// alerts that fired. A rule within its cooldown is skipped, as is a rule
// whose metric is absent from the snapshot.
func (e *Engine) EvaluateRules(snapshot map[string]float64) []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	var fired []*Alert

	for _, rule := range e.rules {
		if !rule.Enabled {
			continue
		}
		if !rule.LastTriggered.IsZero() && now.Sub(rule.LastTriggered) < rule.Cooldown {
			continue
		}

		value, ok := snapshot[rule.Condition.Metric]
		if !ok {
			continue
		}
		if !rule.Condition.Eval(value) {
			continue
		}

		alert := &Alert{
			ID:        uuid.New().String(),
			Type:      rule.Type,
			Severity:  rule.Severity,
			Title:     rule.Name,
			Message:   rule.Condition.String(),
			Timestamp: now,
			Metadata: map[string]interface{}{
				"rule_id":   rule.ID,
				"rule_name": rule.Name,
				"condition": rule.Condition.String(),
				"threshold": rule.Condition.Threshold,
				"value":     value,
				"snapshot":  copySnapshot(snapshot),
			},
		}

		e.alerts[alert.ID] = alert
		rule.LastTriggered = now
		fired = append(fired, alert)

		e.logger.Warn("Alert rule fired",
			"rule_id", rule.ID,
			"alert_id", alert.ID,
			"severity", string(alert.Severity),
			"metric", rule.Condition.Metric,
			"value", value,
			"threshold", rule.Condition.Threshold,
		)

		e.publish(events.KindAlert, *alert)
	}

	return fired
}

// CreateAlert stores a manually constructed alert with the same storage and
// event contract as rule-derived ones. Missing id/timestamp are filled in.
func (e *Engine) CreateAlert(alert Alert) *Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = e.clock()
	}
	if alert.Severity == "" {
		alert.Severity = SeverityMedium
	}

	stored := alert
	e.alerts[stored.ID] = &stored

	e.logger.Info("Alert created",
		"alert_id", stored.ID,
		"severity", string(stored.Severity),
		"title", stored.Title,
	)

	e.publish(events.KindAlert, stored)
	return &stored
}

// ResolveAlert marks an alert resolved. Returns false if the alert does not
// exist. Resolving does not clear the owning rule's cooldown.
func (e *Engine) ResolveAlert(id, by string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	alert, ok := e.alerts[id]
	if !ok {
		return false
	}

	now := e.clock()
	alert.Resolved = true
	alert.ResolvedAt = &now
	alert.ResolvedBy = by

	e.publish(events.KindAlertResolved, *alert)
	return true
}

// AcknowledgeAlert marks an alert acknowledged. Returns false if the alert
// does not exist.
func (e *Engine) AcknowledgeAlert(id, by string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	alert, ok := e.alerts[id]
	if !ok {
		return false
	}

	now := e.clock()
	alert.Acknowledged = true
	alert.AcknowledgedAt = &now
	alert.AcknowledgedBy = by

	e.publish(events.KindAlertAcknowledged, *alert)
	return true
}

// GetAlert returns a copy of the alert with the given id.
func (e *Engine) GetAlert(id string) (Alert, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	alert, ok := e.alerts[id]
	if !ok {
		return Alert{}, false
	}
	return *alert, true
}

// ActiveAlerts returns copies of all unresolved alerts.
func (e *Engine) ActiveAlerts() []Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []Alert
	for _, alert := range e.alerts {
		if !alert.Resolved {
			out = append(out, *alert)
		}
	}
	return out
}

// ClearOldAlerts purges resolved alerts whose resolution is older than
// daysOld days and returns the number removed. Unresolved alerts are never
// purged regardless of age.
func (e *Engine) ClearOldAlerts(daysOld int) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.clock().AddDate(0, 0, -daysOld)
	removed := 0

	for id, alert := range e.alerts {
		if !alert.Resolved || alert.ResolvedAt == nil {
			continue
		}
		if alert.ResolvedAt.Before(cutoff) {
			delete(e.alerts, id)
			removed++
		}
	}

	if removed > 0 {
		e.logger.Info("Old alerts cleared", "removed", removed, "days_old", daysOld)
	}
	return removed
}

func (e *Engine) publish(kind events.Kind, alert Alert) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.Event{
		Kind:    kind,
		Source:  "alert-engine",
		Payload: alert,
	})
}

func copySnapshot(snapshot map[string]float64) map[string]float64 {
	cp := make(map[string]float64, len(snapshot))
	for k, v := range snapshot {
		cp[k] = v
	}
	return cp
}
