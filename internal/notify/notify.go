package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Message is a rendered notification ready for delivery.
type Message struct {
	Subject  string                 `json:"subject"`
	Body     string                 `json:"body"`
	Severity string                 `json:"severity"`
	Tag      string                 `json:"tag"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Channel delivers messages to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Delivery is the settlement of one channel's send attempt.
type Delivery struct {
	Channel string
	Err     error
}

// Dispatcher resolves channel names and fans a message out to them.
// Channels are dispatched concurrently with an independent timeout each, so
// one hung channel cannot stall the rest. Failures are logged per channel and
// never propagated to the caller.
type Dispatcher struct {
	mu       sync.RWMutex
	channels map[string]Channel
	timeout  time.Duration
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher with the given per-channel send timeout.
func NewDispatcher(logger *zap.Logger, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		channels: make(map[string]Channel),
		timeout:  timeout,
		logger:   logger,
	}
}

// Register adds a channel. A channel registered under an existing name
// replaces it.
func (d *Dispatcher) Register(ch Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[ch.Name()] = ch
}

// Channels returns the registered channel names.
func (d *Dispatcher) Channels() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.channels))
	for name := range d.channels {
		names = append(names, name)
	}
	return names
}

// Dispatch sends msg to every named channel and collects each channel's
// settlement. Unknown channel names are logged and skipped, never an error.
func (d *Dispatcher) Dispatch(ctx context.Context, names []string, msg Message) []Delivery {
	d.mu.RLock()
	resolved := make([]Channel, 0, len(names))
	for _, name := range names {
		ch, ok := d.channels[name]
		if !ok {
			d.logger.Warn("Unknown notification channel, skipping",
				zap.String("channel", name),
				zap.String("subject", msg.Subject))
			continue
		}
		resolved = append(resolved, ch)
	}
	d.mu.RUnlock()

	results := make([]Delivery, len(resolved))
	var wg sync.WaitGroup

	for i, ch := range resolved {
		wg.Add(1)
		go func(i int, ch Channel) {
			defer wg.Done()

			sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()

			err := ch.Send(sendCtx, msg)
			results[i] = Delivery{Channel: ch.Name(), Err: err}

			if err != nil {
				d.logger.Error("Notification delivery failed",
					zap.String("channel", ch.Name()),
					zap.String("subject", msg.Subject),
					zap.Error(err))
			} else {
				d.logger.Info("Notification delivered",
					zap.String("channel", ch.Name()),
					zap.String("subject", msg.Subject))
			}
		}(i, ch)
	}

	wg.Wait()
	return results
}
