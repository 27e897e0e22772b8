package incident

import (
	"fmt"
	"time"
)

// Status is an incident lifecycle state.
type Status string

const (
	StatusOpen         Status = "OPEN"
	StatusAcknowledged Status = "ACKNOWLEDGED"
	StatusInProgress   Status = "IN_PROGRESS"
	StatusResolved     Status = "RESOLVED"
	StatusClosed       Status = "CLOSED"
)

// Valid reports whether s is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusAcknowledged, StatusInProgress, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// Terminal reports whether the incident has left the escalation path.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusClosed
}

// Incident is one tracked operational incident.
type Incident struct {
	ID              string                 `json:"id"`
	Title           string                 `json:"title"`
	Description     string                 `json:"description"`
	Severity        string                 `json:"severity"`
	Status          Status                 `json:"status"`
	EscalationLevel int                    `json:"escalationLevel"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
	Assignee        string                 `json:"assignee,omitempty"`
	AcknowledgedAt  *time.Time             `json:"acknowledgedAt,omitempty"`
	AcknowledgedBy  string                 `json:"acknowledgedBy,omitempty"`
	ResolvedAt      *time.Time             `json:"resolvedAt,omitempty"`
	ResolvedBy      string                 `json:"resolvedBy,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`

	// escalateAt is the next escalation deadline, zero once the incident
	// leaves the escalation path.
	escalateAt time.Time
}

// Notification tags. Every outbound incident notification carries exactly
// one of these.
const (
	TagCreated       = "created"
	TagAcknowledged  = "acknowledged"
	TagEscalated     = "escalated"
	TagTimeout       = "timeout"
	TagStatusUpdated = "status-updated"
)

// formatNotification renders the subject and body for one incident event.
// The tag switch is exhaustive; an unknown tag is a programming error and is
// reported instead of silently producing an empty message.
func formatNotification(tag string, inc *Incident) (subject, body string, err error) {
	switch tag {
	case TagCreated:
		return fmt.Sprintf("[%s] Incident opened: %s", inc.Severity, inc.Title),
			fmt.Sprintf("Incident %s opened at %s.\n\n%s",
				inc.ID, inc.CreatedAt.Format(time.RFC3339), inc.Description),
			nil
	case TagAcknowledged:
		return fmt.Sprintf("Incident acknowledged: %s", inc.Title),
			fmt.Sprintf("Incident %s acknowledged by %s.", inc.ID, inc.AcknowledgedBy),
			nil
	case TagEscalated:
		return fmt.Sprintf("[%s] Incident escalated to level %d: %s", inc.Severity, inc.EscalationLevel, inc.Title),
			fmt.Sprintf("Incident %s escalated to level %d after no acknowledgement.", inc.ID, inc.EscalationLevel),
			nil
	case TagTimeout:
		return fmt.Sprintf("[%s] Incident unacknowledged past escalation window: %s", inc.Severity, inc.Title),
			fmt.Sprintf("Incident %s is at escalation level %d and remains unacknowledged.", inc.ID, inc.EscalationLevel),
			nil
	case TagStatusUpdated:
		return fmt.Sprintf("Incident %s: %s", inc.Status, inc.Title),
			fmt.Sprintf("Incident %s moved to status %s.", inc.ID, inc.Status),
			nil
	default:
		return "", "", fmt.Errorf("unknown incident notification tag: %q", tag)
	}
}
