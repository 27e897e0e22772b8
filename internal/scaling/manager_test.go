package scaling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-ops/vigil/pkg/logging"
)

type fakeScaler struct {
	ups   []int
	downs []int
	err   error
}

func (f *fakeScaler) ScaleUp(ctx context.Context, service string, replicas int) error {
	if f.err != nil {
		return f.err
	}
	f.ups = append(f.ups, replicas)
	return nil
}

func (f *fakeScaler) ScaleDown(ctx context.Context, service string, replicas int) error {
	if f.err != nil {
		return f.err
	}
	f.downs = append(f.downs, replicas)
	return nil
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *fakeScaler, *time.Time) {
	t.Helper()

	scaler := &fakeScaler{}
	m := NewManager(cfg, scaler, logging.GetLogger())

	now := time.Now()
	m.clock = func() time.Time { return now }
	return m, scaler, &now
}

func defaultTestConfig() Config {
	return Config{
		Service:           "api",
		MinReplicas:       1,
		MaxReplicas:       5,
		CPUThreshold:      80,
		MemThreshold:      85,
		ScaleUpCooldown:   3 * time.Minute,
		ScaleDownCooldown: 5 * time.Minute,
	}
}

func TestScaleUpOnHighCPU(t *testing.T) {
	m, scaler, _ := newTestManager(t, defaultTestConfig())

	d := m.CheckScalingNeeds(context.Background(), map[string]float64{
		"cpu_usage_percent":    90,
		"memory_usage_percent": 40,
	})

	assert.Equal(t, ActionScaleUp, d.Action)
	assert.True(t, d.Applied)
	assert.Equal(t, 1, d.From)
	assert.Equal(t, 2, d.To)
	assert.Equal(t, []int{2}, scaler.ups)
	assert.Equal(t, 2, m.Replicas())
}

func TestScaleUpOnHighMemoryAlone(t *testing.T) {
	m, scaler, _ := newTestManager(t, defaultTestConfig())

	d := m.CheckScalingNeeds(context.Background(), map[string]float64{
		"cpu_usage_percent":    30,
		"memory_usage_percent": 95,
	})

	assert.Equal(t, ActionScaleUp, d.Action)
	assert.Equal(t, []int{2}, scaler.ups)
}

func TestScaleUpCooldown(t *testing.T) {
	m, scaler, now := newTestManager(t, defaultTestConfig())

	hot := map[string]float64{"cpu_usage_percent": 95, "memory_usage_percent": 40}
	require.True(t, m.CheckScalingNeeds(context.Background(), hot).Applied)

	// Within the cooldown the action is suppressed.
	*now = now.Add(2 * time.Minute)
	d := m.CheckScalingNeeds(context.Background(), hot)
	assert.Equal(t, ActionNone, d.Action)
	assert.Contains(t, d.Reason, "cooldown")

	// Past the cooldown it fires again.
	*now = now.Add(90 * time.Second)
	d = m.CheckScalingNeeds(context.Background(), hot)
	assert.Equal(t, ActionScaleUp, d.Action)
	assert.Equal(t, []int{2, 3}, scaler.ups)
}

func TestScaleUpStopsAtMax(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.MaxReplicas = 2
	m, scaler, now := newTestManager(t, cfg)

	hot := map[string]float64{"cpu_usage_percent": 95}
	require.True(t, m.CheckScalingNeeds(context.Background(), hot).Applied)

	*now = now.Add(time.Hour)
	d := m.CheckScalingNeeds(context.Background(), hot)
	assert.Equal(t, ActionNone, d.Action)
	assert.Contains(t, d.Reason, "max replicas")
	assert.Equal(t, []int{2}, scaler.ups)
	assert.Equal(t, 2, m.Replicas())
}

func TestScaleDownHysteresis(t *testing.T) {
	m, scaler, now := newTestManager(t, defaultTestConfig())

	// Get to 2 replicas first.
	require.True(t, m.CheckScalingNeeds(context.Background(), map[string]float64{
		"cpu_usage_percent": 95,
	}).Applied)
	*now = now.Add(time.Hour)

	// Below the scale-up threshold but above half of it: no action either
	// direction.
	d := m.CheckScalingNeeds(context.Background(), map[string]float64{
		"cpu_usage_percent":    60,
		"memory_usage_percent": 30,
	})
	assert.Equal(t, ActionNone, d.Action)
	assert.Equal(t, 2, m.Replicas())

	// Both metrics below half the thresholds: scale down.
	d = m.CheckScalingNeeds(context.Background(), map[string]float64{
		"cpu_usage_percent":    30,
		"memory_usage_percent": 30,
	})
	assert.Equal(t, ActionScaleDown, d.Action)
	assert.True(t, d.Applied)
	assert.Equal(t, []int{1}, scaler.downs)
	assert.Equal(t, 1, m.Replicas())
}

func TestScaleDownRequiresBothMetricsLow(t *testing.T) {
	m, _, now := newTestManager(t, defaultTestConfig())

	require.True(t, m.CheckScalingNeeds(context.Background(), map[string]float64{
		"cpu_usage_percent": 95,
	}).Applied)
	*now = now.Add(time.Hour)

	// CPU is low but memory is not: stay put.
	d := m.CheckScalingNeeds(context.Background(), map[string]float64{
		"cpu_usage_percent":    10,
		"memory_usage_percent": 70,
	})
	assert.Equal(t, ActionNone, d.Action)
	assert.Equal(t, 2, m.Replicas())
}

func TestScaleDownStopsAtMin(t *testing.T) {
	m, scaler, _ := newTestManager(t, defaultTestConfig())

	d := m.CheckScalingNeeds(context.Background(), map[string]float64{
		"cpu_usage_percent":    5,
		"memory_usage_percent": 5,
	})
	assert.Equal(t, ActionNone, d.Action)
	assert.Contains(t, d.Reason, "min replicas")
	assert.Empty(t, scaler.downs)
	assert.Equal(t, 1, m.Replicas())
}

func TestIndependentCooldowns(t *testing.T) {
	m, scaler, now := newTestManager(t, defaultTestConfig())

	// Scale up, then load collapses immediately. The scale-up cooldown must
	// not suppress the scale-down.
	require.True(t, m.CheckScalingNeeds(context.Background(), map[string]float64{
		"cpu_usage_percent": 95,
	}).Applied)

	*now = now.Add(time.Second)
	d := m.CheckScalingNeeds(context.Background(), map[string]float64{
		"cpu_usage_percent":    10,
		"memory_usage_percent": 10,
	})
	assert.Equal(t, ActionScaleDown, d.Action)
	assert.True(t, d.Applied)
	assert.Equal(t, []int{1}, scaler.downs)
}

func TestScalerFailureKeepsReplicaCount(t *testing.T) {
	m, scaler, _ := newTestManager(t, defaultTestConfig())
	scaler.err = errors.New("orchestrator unavailable")

	d := m.CheckScalingNeeds(context.Background(), map[string]float64{
		"cpu_usage_percent": 95,
	})

	assert.Equal(t, ActionScaleUp, d.Action)
	assert.False(t, d.Applied)
	assert.Contains(t, d.Error, "orchestrator unavailable")
	assert.Equal(t, 1, m.Replicas(), "failed actions do not change the replica count")
}

func TestNoMetricsIsNoOp(t *testing.T) {
	m, scaler, _ := newTestManager(t, defaultTestConfig())

	d := m.CheckScalingNeeds(context.Background(), map[string]float64{"goroutines": 42})
	assert.Equal(t, ActionNone, d.Action)
	assert.Empty(t, scaler.ups)
	assert.Empty(t, scaler.downs)
}

func TestStatusReportsDecisions(t *testing.T) {
	m, _, _ := newTestManager(t, defaultTestConfig())

	m.CheckScalingNeeds(context.Background(), map[string]float64{"cpu_usage_percent": 95})

	status := m.Status()
	assert.Equal(t, "api", status.Service)
	assert.Equal(t, 2, status.CurrentReplicas)
	assert.Equal(t, 1, status.MinReplicas)
	assert.Equal(t, 5, status.MaxReplicas)
	require.Len(t, status.RecentDecisions, 1)
	assert.Equal(t, ActionScaleUp, status.RecentDecisions[0].Action)
}

func TestDecisionHistoryBounded(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.MaxReplicas = 1
	m, _, now := newTestManager(t, cfg)

	for i := 0; i < decisionHistory*2; i++ {
		*now = now.Add(time.Minute)
		m.CheckScalingNeeds(context.Background(), map[string]float64{"cpu_usage_percent": 95})
	}

	assert.Len(t, m.Status().RecentDecisions, decisionHistory)
}
