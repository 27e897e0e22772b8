package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/vigil-ops/vigil/internal/alerting"
	"github.com/vigil-ops/vigil/internal/events"
	"github.com/vigil-ops/vigil/internal/incident"
)

func publishAndDrain(t *testing.T, bus *events.Bus, r *Recorder, evs ...events.Event) {
	t.Helper()
	for _, ev := range evs {
		bus.Publish(ev)
	}
	bus.Close()
	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("recorder did not drain")
	}
}

func TestRecorderBreakerTransitions(t *testing.T) {
	m := New()
	bus := events.NewBus()
	r := NewRecorder(m, bus)

	publishAndDrain(t, bus, r, events.Event{
		Kind:   events.KindBreakerStateChange,
		Source: "payments",
		Payload: map[string]interface{}{
			"name": "payments",
			"from": "CLOSED",
			"to":   "OPEN",
		},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerTransitions.WithLabelValues("payments", "CLOSED", "OPEN")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("payments")))
}

func TestRecorderCountsBreakerRejections(t *testing.T) {
	m := New()
	bus := events.NewBus()
	r := NewRecorder(m, bus)

	publishAndDrain(t, bus, r,
		events.Event{Kind: events.KindBreakerRejected, Payload: map[string]interface{}{"name": "payments"}},
		events.Event{Kind: events.KindBreakerRejected, Payload: map[string]interface{}{"name": "payments"}},
	)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BreakerRejections.WithLabelValues("payments")))
}

func TestRecorderAlertCounters(t *testing.T) {
	m := New()
	bus := events.NewBus()
	r := NewRecorder(m, bus)

	publishAndDrain(t, bus, r,
		events.Event{Kind: events.KindAlert, Payload: alerting.Alert{ID: "a", Severity: alerting.SeverityHigh}},
		events.Event{Kind: events.KindAlert, Payload: alerting.Alert{ID: "b", Severity: alerting.SeverityHigh}},
		events.Event{Kind: events.KindAlertResolved, Payload: alerting.Alert{ID: "a"}},
	)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AlertsFired.WithLabelValues("high")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsResolved))
}

func TestRecorderIncidentGauge(t *testing.T) {
	m := New()
	bus := events.NewBus()
	r := NewRecorder(m, bus)

	publishAndDrain(t, bus, r,
		events.Event{Kind: events.KindIncidentCreated, Payload: incident.Incident{ID: "i1", Severity: "critical"}},
		events.Event{Kind: events.KindIncidentCreated, Payload: incident.Incident{ID: "i2", Severity: "high"}},
		events.Event{Kind: events.KindIncidentEscalated, Payload: incident.Incident{ID: "i1"}},
		events.Event{Kind: events.KindIncidentStatusUpdated, Payload: incident.Incident{ID: "i1", Status: incident.StatusResolved}},
		// A second terminal update for the same incident must not decrement
		// the gauge again.
		events.Event{Kind: events.KindIncidentStatusUpdated, Payload: incident.Incident{ID: "i1", Status: incident.StatusClosed}},
	)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.IncidentsOpened.WithLabelValues("critical")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IncidentsEscalated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveIncidents))
}

func TestRecorderIgnoresMalformedPayloads(t *testing.T) {
	m := New()
	bus := events.NewBus()
	r := NewRecorder(m, bus)

	publishAndDrain(t, bus, r,
		events.Event{Kind: events.KindBreakerStateChange, Payload: "not a map"},
		events.Event{Kind: events.KindAlert, Payload: 42},
		events.Event{Kind: events.KindIncidentCreated, Payload: nil},
	)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveIncidents))
}
