package mail

import (
	"context"
	"log/slog"
)

// LogSender records messages in the log instead of delivering them. Used
// when no SMTP relay is configured. The body is not logged because it may
// carry a reset link.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.InfoContext(ctx, "mail delivery skipped: no smtp relay configured",
		"to", msg.To,
		"subject", msg.Subject,
	)
	return nil
}
