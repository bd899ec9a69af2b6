// Package mailer is the outbound email collaborator. The registration intake
// owns retry and backoff; senders here make exactly one delivery attempt.
package mailer

import (
	"context"
	"log/slog"
)

// Sender delivers a single email message.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogSender writes messages to the structured logger instead of delivering
// them. Development and test use only: the body carries verification codes.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender constructs a logging sender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send writes the message to the structured logger.
func (s *LogSender) Send(_ context.Context, to, subject, body string) error {
	if s == nil || s.logger == nil {
		return nil
	}
	s.logger.Info("email", "to", to, "subject", subject, "body", body)
	return nil
}
