package incident

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vigil-ops/vigil/internal/alerting"
	"github.com/vigil-ops/vigil/internal/events"
	"github.com/vigil-ops/vigil/internal/notify"
	apperrors "github.com/vigil-ops/vigil/pkg/errors"
	"github.com/vigil-ops/vigil/pkg/logging"
)

// Config controls incident escalation.
type Config struct {
	// EscalationWindow is how long an incident may sit unacknowledged at a
	// level before it escalates to the next one.
	EscalationWindow time.Duration
	// MaxEscalationLevel is the highest level an incident can reach.
	MaxEscalationLevel int
	// AutoEscalate raises the escalation level when a deadline expires.
	// Timeout notifications fire on every expired deadline either way.
	AutoEscalate bool
	// Channels are the notification channel names for incident events.
	Channels []string
	// CheckInterval is how often the scheduler sweeps deadlines.
	CheckInterval time.Duration
}

// DefaultConfig returns the production escalation policy.
func DefaultConfig() Config {
	return Config{
		EscalationWindow:   5 * time.Minute,
		MaxEscalationLevel: 3,
		AutoEscalate:       true,
		Channels:           []string{"log"},
		CheckInterval:      15 * time.Second,
	}
}

// Manager tracks incidents and drives time-based escalation. A single
// scheduler goroutine sweeps per-incident deadlines instead of arming one
// timer per incident.
type Manager struct {
	mu        sync.RWMutex
	incidents map[string]*Incident

	cfg        Config
	dispatcher *notify.Dispatcher
	bus        *events.Bus
	logger     *logging.Logger
	clock      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a manager and starts the escalation scheduler.
func NewManager(cfg Config, dispatcher *notify.Dispatcher, bus *events.Bus, logger *logging.Logger) *Manager {
	if cfg.EscalationWindow <= 0 {
		cfg.EscalationWindow = 5 * time.Minute
	}
	if cfg.MaxEscalationLevel < 1 {
		cfg.MaxEscalationLevel = 3
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 15 * time.Second
	}
	if len(cfg.Channels) == 0 {
		cfg.Channels = []string{"log"}
	}

	m := &Manager{
		incidents:  make(map[string]*Incident),
		cfg:        cfg,
		dispatcher: dispatcher,
		bus:        bus,
		logger:     logger,
		clock:      time.Now,
		stop:       make(chan struct{}),
	}

	m.wg.Add(1)
	go m.scheduler()
	return m
}

// CreateIncident opens a new incident at escalation level 1.
func (m *Manager) CreateIncident(title, description, severity string, metadata map[string]interface{}) *Incident {
	now := m.clock()
	inc := &Incident{
		ID:              uuid.New().String(),
		Title:           title,
		Description:     description,
		Severity:        severity,
		Status:          StatusOpen,
		EscalationLevel: 1,
		CreatedAt:       now,
		UpdatedAt:       now,
		Metadata:        metadata,
		escalateAt:      now.Add(m.cfg.EscalationWindow),
	}

	m.mu.Lock()
	m.incidents[inc.ID] = inc
	snapshot := *inc
	m.mu.Unlock()

	m.logger.Warn("Incident created",
		"incident_id", inc.ID,
		"title", title,
		"severity", severity)

	m.publish(events.KindIncidentCreated, snapshot)
	m.notifyAsync(TagCreated, snapshot)
	return &snapshot
}

// AcknowledgeIncident marks an incident acknowledged and halts its
// escalation.
func (m *Manager) AcknowledgeIncident(id, by string) error {
	m.mu.Lock()
	inc, ok := m.incidents[id]
	if !ok {
		m.mu.Unlock()
		return apperrors.NewNotFoundError(fmt.Sprintf("incident %s", id))
	}
	if inc.Status.Terminal() {
		m.mu.Unlock()
		return apperrors.NewValidationError(fmt.Sprintf("incident %s is already %s", id, inc.Status))
	}

	now := m.clock()
	inc.Status = StatusAcknowledged
	inc.Assignee = by
	inc.AcknowledgedAt = &now
	inc.AcknowledgedBy = by
	inc.UpdatedAt = now
	inc.escalateAt = time.Time{}
	snapshot := *inc
	m.mu.Unlock()

	m.logger.Info("Incident acknowledged", "incident_id", id, "acknowledged_by", by)

	m.publish(events.KindIncidentAcknowledged, snapshot)
	m.notifyAsync(TagAcknowledged, snapshot)
	return nil
}

// UpdateIncidentStatus transitions an incident to a new lifecycle state.
func (m *Manager) UpdateIncidentStatus(id string, status Status, by string) error {
	if !status.Valid() {
		return apperrors.NewValidationError(fmt.Sprintf("invalid incident status: %q", status))
	}

	m.mu.Lock()
	inc, ok := m.incidents[id]
	if !ok {
		m.mu.Unlock()
		return apperrors.NewNotFoundError(fmt.Sprintf("incident %s", id))
	}

	now := m.clock()
	inc.Status = status
	inc.UpdatedAt = now
	if status == StatusResolved {
		inc.ResolvedAt = &now
		inc.ResolvedBy = by
	}
	if status.Terminal() || status == StatusAcknowledged {
		inc.escalateAt = time.Time{}
	}
	snapshot := *inc
	m.mu.Unlock()

	m.logger.Info("Incident status updated", "incident_id", id, "status", string(status))

	m.publish(events.KindIncidentStatusUpdated, snapshot)
	m.notifyAsync(TagStatusUpdated, snapshot)
	return nil
}

// EscalateIncident raises an incident's escalation level by one. It is
// callable at any status; only escalating past the configured maximum is
// rejected.
func (m *Manager) EscalateIncident(id, by string) error {
	m.mu.Lock()
	inc, ok := m.incidents[id]
	if !ok {
		m.mu.Unlock()
		return apperrors.NewNotFoundError(fmt.Sprintf("incident %s", id))
	}
	if inc.EscalationLevel >= m.cfg.MaxEscalationLevel {
		m.mu.Unlock()
		return apperrors.NewInvariantError(fmt.Sprintf(
			"incident %s is already at maximum escalation level %d", id, m.cfg.MaxEscalationLevel))
	}

	now := m.clock()
	inc.EscalationLevel++
	inc.UpdatedAt = now
	if inc.Status == StatusOpen {
		inc.escalateAt = now.Add(m.cfg.EscalationWindow)
	}
	snapshot := *inc
	m.mu.Unlock()

	m.logger.Warn("Incident escalated",
		"incident_id", id,
		"escalated_by", by,
		"escalation_level", snapshot.EscalationLevel)

	m.publish(events.KindIncidentEscalated, snapshot)
	m.notifyAsync(TagEscalated, snapshot)
	return nil
}

// GetIncident returns a copy of the incident.
func (m *Manager) GetIncident(id string) (Incident, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inc, ok := m.incidents[id]
	if !ok {
		return Incident{}, false
	}
	return *inc, true
}

// ActiveIncidents returns copies of all incidents that have not resolved or
// closed.
func (m *Manager) ActiveIncidents() []Incident {
	m.mu.RLock()
	defer m.mu.RUnlock()

	active := make([]Incident, 0)
	for _, inc := range m.incidents {
		if !inc.Status.Terminal() {
			active = append(active, *inc)
		}
	}
	return active
}

// AllIncidents returns copies of every tracked incident.
func (m *Manager) AllIncidents() []Incident {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]Incident, 0, len(m.incidents))
	for _, inc := range m.incidents {
		all = append(all, *inc)
	}
	return all
}

// Shutdown stops the escalation scheduler and waits for in-flight
// notifications.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
}

func (m *Manager) scheduler() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweepDeadlines()
		}
	}
}

// sweepDeadlines handles every open incident whose deadline has passed. Each
// expired deadline sends a timeout notification and re-arms; when
// auto-escalation is on and the maximum level is not yet reached, the level
// is raised as well.
func (m *Manager) sweepDeadlines() {
	now := m.clock()

	type fired struct {
		tag      string
		snapshot Incident
	}

	m.mu.Lock()
	var due []fired
	for _, inc := range m.incidents {
		if inc.Status != StatusOpen || inc.escalateAt.IsZero() || now.Before(inc.escalateAt) {
			continue
		}
		inc.escalateAt = now.Add(m.cfg.EscalationWindow)
		due = append(due, fired{TagTimeout, *inc})

		if m.cfg.AutoEscalate && inc.EscalationLevel < m.cfg.MaxEscalationLevel {
			inc.EscalationLevel++
			inc.UpdatedAt = now
			due = append(due, fired{TagEscalated, *inc})
		}
	}
	m.mu.Unlock()

	for _, f := range due {
		switch f.tag {
		case TagEscalated:
			m.logger.Warn("Incident escalated",
				"incident_id", f.snapshot.ID,
				"escalation_level", f.snapshot.EscalationLevel)
			m.publish(events.KindIncidentEscalated, f.snapshot)
		case TagTimeout:
			m.logger.Warn("Incident unacknowledged past escalation window",
				"incident_id", f.snapshot.ID,
				"escalation_level", f.snapshot.EscalationLevel)
		}
		m.notifyAsync(f.tag, f.snapshot)
	}
}

func (m *Manager) publish(kind events.Kind, inc Incident) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.Event{
		Kind:    kind,
		Source:  "incident-manager",
		Time:    m.clock(),
		Payload: inc,
	})
}

func (m *Manager) notifyAsync(tag string, inc Incident) {
	if m.dispatcher == nil {
		return
	}

	subject, body, err := formatNotification(tag, &inc)
	if err != nil {
		m.logger.Error("Failed to format incident notification", "error", err, "incident_id", inc.ID)
		return
	}

	msg := notify.Message{
		Subject:  subject,
		Body:     body,
		Severity: inc.Severity,
		Tag:      tag,
		Metadata: map[string]interface{}{
			"incident_id":      inc.ID,
			"status":           string(inc.Status),
			"escalation_level": inc.EscalationLevel,
		},
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.dispatcher.Dispatch(context.Background(), m.cfg.Channels, msg)
	}()
}

// BridgeAlerts consumes alert events from the bus and opens incidents for
// high and critical alerts. It returns when the bus channel closes or ctx is
// cancelled.
func (m *Manager) BridgeAlerts(ctx context.Context) {
	ch := m.bus.Subscribe(events.KindAlert)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			alert, ok := ev.Payload.(alerting.Alert)
			if !ok {
				continue
			}
			if alert.Severity != alerting.SeverityHigh && alert.Severity != alerting.SeverityCritical {
				continue
			}
			m.CreateIncident(alert.Title, alert.Message, string(alert.Severity), map[string]interface{}{
				"alert_id":   alert.ID,
				"alert_type": alert.Type,
			})
		}
	}
}
