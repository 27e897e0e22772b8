package notify

import (
	"context"

	"go.uber.org/zap"
)

// EmailChannel records outbound email notifications. Actual SMTP delivery is
// handled by the mail relay; this channel writes the message to the audit log
// for the relay's pickup worker.
type EmailChannel struct {
	recipients []string
	logger     *zap.Logger
}

func NewEmailChannel(recipients []string, logger *zap.Logger) *EmailChannel {
	return &EmailChannel{recipients: recipients, logger: logger}
}

func (e *EmailChannel) Name() string { return "email" }

func (e *EmailChannel) Send(ctx context.Context, msg Message) error {
	e.logger.Info("EMAIL NOTIFICATION",
		zap.Strings("recipients", e.recipients),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
		zap.String("severity", msg.Severity))
	return nil
}
