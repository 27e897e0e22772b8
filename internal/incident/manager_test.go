package incident

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vigil-ops/vigil/internal/notify"
	apperrors "github.com/vigil-ops/vigil/pkg/errors"
	"github.com/vigil-ops/vigil/pkg/logging"
)

func newTestManager(t *testing.T, cfg Config) (*Manager, *time.Time) {
	t.Helper()

	// Deadlines are driven manually through sweepDeadlines with a fixed
	// clock; the long check interval keeps the scheduler out of the way.
	cfg.CheckInterval = time.Hour
	m := NewManager(cfg, nil, nil, logging.GetLogger())
	t.Cleanup(m.Shutdown)

	now := time.Now()
	m.clock = func() time.Time { return now }
	return m, &now
}

func TestCreateIncident(t *testing.T) {
	m, now := newTestManager(t, DefaultConfig())

	inc := m.CreateIncident("API down", "All requests failing", "critical", map[string]interface{}{
		"region": "eu-west-1",
	})

	assert.NotEmpty(t, inc.ID)
	assert.Equal(t, StatusOpen, inc.Status)
	assert.Equal(t, 1, inc.EscalationLevel)
	assert.Equal(t, *now, inc.CreatedAt)
	assert.Equal(t, "eu-west-1", inc.Metadata["region"])

	stored, ok := m.GetIncident(inc.ID)
	require.True(t, ok)
	assert.Equal(t, "API down", stored.Title)
}

func TestAcknowledgeIncident(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig())

	inc := m.CreateIncident("DB latency", "", "high", nil)
	require.NoError(t, m.AcknowledgeIncident(inc.ID, "alice"))

	stored, _ := m.GetIncident(inc.ID)
	assert.Equal(t, StatusAcknowledged, stored.Status)
	assert.Equal(t, "alice", stored.AcknowledgedBy)
	assert.Equal(t, "alice", stored.Assignee)
	require.NotNil(t, stored.AcknowledgedAt)

	err := m.AcknowledgeIncident("no-such-incident", "alice")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestUpdateIncidentStatus(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig())

	inc := m.CreateIncident("Disk full", "", "high", nil)

	require.NoError(t, m.UpdateIncidentStatus(inc.ID, StatusInProgress, "bob"))
	stored, _ := m.GetIncident(inc.ID)
	assert.Equal(t, StatusInProgress, stored.Status)

	require.NoError(t, m.UpdateIncidentStatus(inc.ID, StatusResolved, "bob"))
	stored, _ = m.GetIncident(inc.ID)
	assert.Equal(t, StatusResolved, stored.Status)
	assert.Equal(t, "bob", stored.ResolvedBy)
	require.NotNil(t, stored.ResolvedAt)

	err := m.UpdateIncidentStatus(inc.ID, Status("ESCALATED_TO_MARS"), "bob")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	err = m.UpdateIncidentStatus("no-such-incident", StatusClosed, "bob")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestEscalateIncidentManually(t *testing.T) {
	m, _ := newTestManager(t, Config{MaxEscalationLevel: 3})

	inc := m.CreateIncident("Cache cluster degraded", "", "high", nil)

	require.NoError(t, m.EscalateIncident(inc.ID, "alice"))
	require.NoError(t, m.EscalateIncident(inc.ID, "alice"))

	stored, _ := m.GetIncident(inc.ID)
	assert.Equal(t, 3, stored.EscalationLevel)

	// At the maximum level further escalation is rejected, not clamped.
	err := m.EscalateIncident(inc.ID, "alice")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvariant))

	stored, _ = m.GetIncident(inc.ID)
	assert.Equal(t, 3, stored.EscalationLevel)

	err = m.EscalateIncident("no-such-incident", "alice")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestEscalateWorksAtAnyStatus(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig())

	inc := m.CreateIncident("Flaky DNS", "", "medium", nil)
	require.NoError(t, m.UpdateIncidentStatus(inc.ID, StatusResolved, "bob"))

	require.NoError(t, m.EscalateIncident(inc.ID, "alice"))
	stored, _ := m.GetIncident(inc.ID)
	assert.Equal(t, 2, stored.EscalationLevel)
}

func TestDeadlineEscalationChain(t *testing.T) {
	m, now := newTestManager(t, Config{
		EscalationWindow:   5 * time.Minute,
		MaxEscalationLevel: 3,
		AutoEscalate:       true,
	})

	inc := m.CreateIncident("Payments failing", "", "critical", nil)

	// Before the window: level unchanged.
	*now = now.Add(4 * time.Minute)
	m.sweepDeadlines()
	stored, _ := m.GetIncident(inc.ID)
	assert.Equal(t, 1, stored.EscalationLevel)

	// First window elapsed: level 2.
	*now = now.Add(2 * time.Minute)
	m.sweepDeadlines()
	stored, _ = m.GetIncident(inc.ID)
	assert.Equal(t, 2, stored.EscalationLevel)

	// Second window elapsed: level 3.
	*now = now.Add(6 * time.Minute)
	m.sweepDeadlines()
	stored, _ = m.GetIncident(inc.ID)
	assert.Equal(t, 3, stored.EscalationLevel)

	// At the maximum the sweep no longer raises the level.
	*now = now.Add(time.Hour)
	m.sweepDeadlines()
	m.sweepDeadlines()
	stored, _ = m.GetIncident(inc.ID)
	assert.Equal(t, 3, stored.EscalationLevel)
}

func TestSweepWithoutAutoEscalateKeepsLevel(t *testing.T) {
	m, now := newTestManager(t, Config{
		EscalationWindow:   5 * time.Minute,
		MaxEscalationLevel: 3,
		AutoEscalate:       false,
	})

	inc := m.CreateIncident("Noisy neighbor", "", "medium", nil)

	// Timeout deadlines keep firing but the level never moves on its own.
	for i := 0; i < 3; i++ {
		*now = now.Add(6 * time.Minute)
		m.sweepDeadlines()
	}

	stored, _ := m.GetIncident(inc.ID)
	assert.Equal(t, 1, stored.EscalationLevel)
}

func TestAcknowledgeStopsEscalation(t *testing.T) {
	m, now := newTestManager(t, Config{
		EscalationWindow:   5 * time.Minute,
		MaxEscalationLevel: 3,
		AutoEscalate:       true,
	})

	inc := m.CreateIncident("Queue backing up", "", "high", nil)
	require.NoError(t, m.AcknowledgeIncident(inc.ID, "bob"))

	*now = now.Add(time.Hour)
	m.sweepDeadlines()

	stored, _ := m.GetIncident(inc.ID)
	assert.Equal(t, 1, stored.EscalationLevel, "acknowledged incidents never escalate")
}

func TestActiveIncidentsExcludesTerminal(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig())

	open := m.CreateIncident("open", "", "low", nil)
	resolved := m.CreateIncident("resolved", "", "low", nil)
	closed := m.CreateIncident("closed", "", "low", nil)
	require.NoError(t, m.UpdateIncidentStatus(resolved.ID, StatusResolved, "bob"))
	require.NoError(t, m.UpdateIncidentStatus(closed.ID, StatusClosed, "bob"))

	active := m.ActiveIncidents()
	require.Len(t, active, 1)
	assert.Equal(t, open.ID, active[0].ID)

	assert.Len(t, m.AllIncidents(), 3)
}

type recordingChannel struct {
	mu   sync.Mutex
	err  error
	msgs []notify.Message
}

func (c *recordingChannel) Name() string { return "pager" }

func (c *recordingChannel) Send(_ context.Context, msg notify.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return c.err
}

func (c *recordingChannel) messages() []notify.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notify.Message(nil), c.msgs...)
}

func TestTimeoutNotificationSentWithoutAutoEscalate(t *testing.T) {
	ch := &recordingChannel{err: errors.New("pager unreachable")}
	dispatcher := notify.NewDispatcher(zap.NewNop(), time.Second)
	dispatcher.Register(ch)

	cfg := DefaultConfig()
	cfg.AutoEscalate = false
	cfg.Channels = []string{"pager"}
	cfg.CheckInterval = time.Hour
	m := NewManager(cfg, dispatcher, nil, logging.GetLogger())
	now := time.Now()
	m.clock = func() time.Time { return now }

	// The channel fails every send; creation must still succeed.
	inc := m.CreateIncident("disk full", "root volume at 98%", "high", nil)
	require.NotNil(t, inc)

	now = now.Add(cfg.EscalationWindow + time.Second)
	m.sweepDeadlines()
	m.Shutdown()

	var tags []string
	for _, msg := range ch.messages() {
		tags = append(tags, msg.Tag)
	}
	assert.ElementsMatch(t, []string{TagCreated, TagTimeout}, tags)

	for _, msg := range ch.messages() {
		if msg.Tag == TagTimeout {
			assert.Contains(t, msg.Subject, "unacknowledged")
		}
	}

	got, ok := m.GetIncident(inc.ID)
	require.True(t, ok)
	assert.Equal(t, 1, got.EscalationLevel)
}

func TestFormatNotificationCoversAllTags(t *testing.T) {
	inc := &Incident{
		ID:              "inc-1",
		Title:           "API down",
		Severity:        "critical",
		Status:          StatusOpen,
		EscalationLevel: 2,
		CreatedAt:       time.Now(),
		AcknowledgedBy:  "alice",
	}

	for _, tag := range []string{TagCreated, TagAcknowledged, TagEscalated, TagTimeout, TagStatusUpdated} {
		subject, body, err := formatNotification(tag, inc)
		require.NoError(t, err, "tag %s", tag)
		assert.NotEmpty(t, subject, "tag %s", tag)
		assert.NotEmpty(t, body, "tag %s", tag)
	}

	_, _, err := formatNotification("launched-into-space", inc)
	assert.Error(t, err)
}
