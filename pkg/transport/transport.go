// Package transport defines the outbound messaging contracts used by funnel
// actions and provides the concrete clients behind them.
package transport

import (
	"context"

	"github.com/nexusflow/funnel/pkg/models"
)

// Messenger delivers WhatsApp text messages through a company's messaging
// instance. The phone number must already be normalized to digits only.
type Messenger interface {
	SendText(ctx context.Context, instance *models.MessagingInstance, phone, text string) error
}

// EmailSender delivers email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// TelegramSender delivers Telegram messages addressed by phone number.
type TelegramSender interface {
	SendTelegram(ctx context.Context, phone, text string) error
}

// AgentAssigner activates an AI agent on a contact's chat. The jid is the
// WhatsApp address derived from the contact's phone.
type AgentAssigner interface {
	AssignAgent(ctx context.Context, companyID, agentID, jid string) error
}
