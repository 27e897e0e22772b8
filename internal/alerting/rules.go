package alerting

import (
	"fmt"
	"time"
)

// Severity represents alert severity levels
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Comparator is the operator of a rule condition. The set is closed; an
// unknown operator string is rejected when the condition is constructed.
type Comparator int

const (
	CompareGT Comparator = iota
	CompareGTE
	CompareLT
	CompareLTE
)

func (c Comparator) String() string {
	switch c {
	case CompareGT:
		return ">"
	case CompareGTE:
		return ">="
	case CompareLT:
		return "<"
	case CompareLTE:
		return "<="
	default:
		return "?"
	}
}

// Condition is a structured threshold check against a named metric. Rules
// carry a Condition instead of a parsed string so an invalid operator is a
// construction-time error, not a silent runtime miss.
type Condition struct {
	Metric    string     `json:"metric"`
	Operator  Comparator `json:"operator"`
	Threshold float64    `json:"threshold"`
}

// NewCondition builds a condition from an operator string.
func NewCondition(metric, operator string, threshold float64) (Condition, error) {
	if metric == "" {
		return Condition{}, fmt.Errorf("condition metric is required")
	}

	var op Comparator
	switch operator {
	case ">":
		op = CompareGT
	case ">=":
		op = CompareGTE
	case "<":
		op = CompareLT
	case "<=":
		op = CompareLTE
	default:
		return Condition{}, fmt.Errorf("unsupported condition operator: %q", operator)
	}

	return Condition{Metric: metric, Operator: op, Threshold: threshold}, nil
}

// Eval reports whether the value breaches the condition.
func (c Condition) Eval(value float64) bool {
	switch c.Operator {
	case CompareGT:
		return value > c.Threshold
	case CompareGTE:
		return value >= c.Threshold
	case CompareLT:
		return value < c.Threshold
	case CompareLTE:
		return value <= c.Threshold
	default:
		return false
	}
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %g", c.Metric, c.Operator, c.Threshold)
}

// Rule is a threshold alerting rule. A rule that fired cannot fire again
// until Cooldown has elapsed since LastTriggered.
type Rule struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Type          string        `json:"type"`
	Severity      Severity      `json:"severity"`
	Condition     Condition     `json:"condition"`
	Enabled       bool          `json:"enabled"`
	Cooldown      time.Duration `json:"cooldown"`
	LastTriggered time.Time     `json:"last_triggered"`
}

// Alert is a raised alert. It is mutated only through resolve/acknowledge and
// removed only by the retention sweep.
type Alert struct {
	ID             string                 `json:"id"`
	Type           string                 `json:"type"`
	Severity       Severity               `json:"severity"`
	Title          string                 `json:"title"`
	Message        string                 `json:"message"`
	Timestamp      time.Time              `json:"timestamp"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Resolved       bool                   `json:"resolved"`
	ResolvedAt     *time.Time             `json:"resolved_at,omitempty"`
	ResolvedBy     string                 `json:"resolved_by,omitempty"`
	Acknowledged   bool                   `json:"acknowledged"`
	AcknowledgedAt *time.Time             `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string                 `json:"acknowledged_by,omitempty"`
}

// DefaultRules returns the built-in rule set. Callers can replace or extend
// it through the engine.
func DefaultRules() []*Rule {
	return []*Rule{
		{
			ID:        "high-error-rate",
			Name:      "High error rate",
			Type:      "error_rate",
			Severity:  SeverityHigh,
			Condition: Condition{Metric: "error_rate", Operator: CompareGT, Threshold: 5},
			Enabled:   true,
			Cooldown:  300 * time.Second,
		},
		{
			ID:        "high-latency",
			Name:      "High response latency",
			Type:      "latency",
			Severity:  SeverityMedium,
			Condition: Condition{Metric: "response_time_ms", Operator: CompareGT, Threshold: 2000},
			Enabled:   true,
			Cooldown:  180 * time.Second,
		},
		{
			ID:        "low-disk-space",
			Name:      "Low disk space",
			Type:      "disk",
			Severity:  SeverityHigh,
			Condition: Condition{Metric: "disk_usage_percent", Operator: CompareGT, Threshold: 85},
			Enabled:   true,
			Cooldown:  600 * time.Second,
		},
		{
			ID:        "low-memory",
			Name:      "Low memory",
			Type:      "memory",
			Severity:  SeverityHigh,
			Condition: Condition{Metric: "memory_usage_percent", Operator: CompareGT, Threshold: 90},
			Enabled:   true,
			Cooldown:  300 * time.Second,
		},
	}
}
