package transport

import (
	"context"
	"log/slog"
)

// LoggingEmailSender records the email instead of delivering it.
// TODO: replace with a real email provider once one is chosen.
type LoggingEmailSender struct {
	logger *slog.Logger
}

func NewLoggingEmailSender(logger *slog.Logger) *LoggingEmailSender {
	return &LoggingEmailSender{logger: logger.With("module", "email")}
}

func (s *LoggingEmailSender) SendEmail(ctx context.Context, to, subject, body string) error {
	s.logger.InfoContext(ctx, "Sending email", "to", to, "subject", subject, "body_length", len(body))

	return nil
}

// LoggingTelegramSender records the message instead of delivering it.
// TODO: wire the Telegram bot API once account linking lands.
type LoggingTelegramSender struct {
	logger *slog.Logger
}

func NewLoggingTelegramSender(logger *slog.Logger) *LoggingTelegramSender {
	return &LoggingTelegramSender{logger: logger.With("module", "telegram")}
}

func (s *LoggingTelegramSender) SendTelegram(ctx context.Context, phone, text string) error {
	s.logger.InfoContext(ctx, "Sending telegram message", "phone", phone, "text_length", len(text))

	return nil
}

// LoggingAgentAssigner records the assignment instead of flipping the chat
// over to an agent. The chat service owns the real implementation.
type LoggingAgentAssigner struct {
	logger *slog.Logger
}

func NewLoggingAgentAssigner(logger *slog.Logger) *LoggingAgentAssigner {
	return &LoggingAgentAssigner{logger: logger.With("module", "agent")}
}

func (s *LoggingAgentAssigner) AssignAgent(ctx context.Context, companyID, agentID, jid string) error {
	s.logger.InfoContext(ctx, "Assigning agent", "company_id", companyID, "agent_id", agentID, "jid", jid)

	return nil
}
