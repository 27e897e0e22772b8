package alerting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCondition(t *testing.T) {
	cond, err := NewCondition("error_rate", ">", 5)
	require.NoError(t, err)
	assert.Equal(t, "error_rate", cond.Metric)
	assert.Equal(t, CompareGT, cond.Operator)
	assert.Equal(t, 5.0, cond.Threshold)
}

func TestNewConditionRejectsUnknownOperator(t *testing.T) {
	for _, op := range []string{"==", "!=", "=>", "gt", ""} {
		_, err := NewCondition("error_rate", op, 5)
		assert.Error(t, err, "operator %q must be rejected", op)
	}
}

func TestNewConditionRequiresMetric(t *testing.T) {
	_, err := NewCondition("", ">", 5)
	assert.Error(t, err)
}

func TestConditionEval(t *testing.T) {
	tests := []struct {
		op    Comparator
		value float64
		want  bool
	}{
		{CompareGT, 5.1, true},
		{CompareGT, 5.0, false},
		{CompareGTE, 5.0, true},
		{CompareGTE, 4.9, false},
		{CompareLT, 4.9, true},
		{CompareLT, 5.0, false},
		{CompareLTE, 5.0, true},
		{CompareLTE, 5.1, false},
	}

	for _, tt := range tests {
		cond := Condition{Metric: "m", Operator: tt.op, Threshold: 5}
		assert.Equal(t, tt.want, cond.Eval(tt.value), "%g %s 5", tt.value, tt.op)
	}
}

func TestConditionString(t *testing.T) {
	cond := Condition{Metric: "error_rate", Operator: CompareGT, Threshold: 5}
	assert.Equal(t, "error_rate > 5", cond.String())
}

func TestDefaultRulesAllEnabled(t *testing.T) {
	rules := DefaultRules()
	require.Len(t, rules, 4)

	seen := make(map[string]bool)
	for _, r := range rules {
		assert.True(t, r.Enabled, "rule %s", r.ID)
		assert.Positive(t, r.Cooldown, "rule %s", r.ID)
		assert.False(t, seen[r.ID], "duplicate rule id %s", r.ID)
		seen[r.ID] = true
	}
}
