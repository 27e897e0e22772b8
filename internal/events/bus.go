package events

import (
	"sync"
	"time"

	"github.com/vigil-ops/vigil/pkg/logging"
)

// Kind identifies the event being published. The set is closed: these are the
// tags dashboards and listeners key on.
type Kind string

const (
	// Circuit breaker events
	KindBreakerSuccess     Kind = "success"
	KindBreakerFailure     Kind = "failure"
	KindBreakerStateChange Kind = "stateChange"
	KindBreakerRejected    Kind = "rejected"
	KindBreakerStats       Kind = "stats"

	// Alert engine events
	KindAlert             Kind = "alert"
	KindAlertResolved     Kind = "alertResolved"
	KindAlertAcknowledged Kind = "alertAcknowledged"

	// Incident events
	KindIncidentCreated       Kind = "incident-created"
	KindIncidentAcknowledged  Kind = "incident-acknowledged"
	KindIncidentStatusUpdated Kind = "incident-status-updated"
	KindIncidentEscalated     Kind = "incident-escalated"
)

// Event is the tagged union carried by the bus.
type Event struct {
	Kind    Kind        `json:"kind"`
	Source  string      `json:"source"`
	Time    time.Time   `json:"time"`
	Payload interface{} `json:"payload,omitempty"`
}

const subscriberBuffer = 64

type subscriber struct {
	ch    chan Event
	kinds map[Kind]bool // nil means all kinds
}

// Bus is a typed publish/subscribe fan-out. Publish never blocks: a
// subscriber whose buffer is full misses the event and a warning is logged.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscriber
	closed bool
	logger *logging.Logger
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		logger: logging.GetLogger(),
	}
}

// Subscribe returns a channel receiving events of the given kinds. With no
// kinds, the channel receives every event.
func (b *Bus) Subscribe(kinds ...Kind) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}

	if b.closed {
		close(sub.ch)
		return sub.ch
	}

	b.subs = append(b.subs, sub)
	return sub.ch
}

// Publish delivers the event to every matching subscriber without blocking.
func (b *Bus) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if sub.kinds != nil && !sub.kinds[event.Kind] {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.logger.Warn("Event subscriber buffer full, dropping event",
				"kind", string(event.Kind),
				"source", event.Source,
			)
		}
	}
}

// Close detaches every subscriber. Subsequent publishes are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
}
