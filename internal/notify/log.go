package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogChannel writes notifications to the service log. It is the default
// channel and the fallback when no external channel is configured.
type LogChannel struct {
	logger *zap.Logger
}

func NewLogChannel(logger *zap.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (l *LogChannel) Name() string { return "log" }

func (l *LogChannel) Send(ctx context.Context, msg Message) error {
	l.logger.Info("NOTIFICATION",
		zap.String("subject", msg.Subject),
		zap.String("severity", msg.Severity),
		zap.String("tag", msg.Tag),
		zap.String("body", msg.Body))
	return nil
}
