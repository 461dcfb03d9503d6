package web

import (
	"encoding/json"

	"github.com/nexusflow/funnel/pkg/models"
	"github.com/nexusflow/funnel/pkg/scheduler"
)

// InboundMessageRequest is a message received on a company's WhatsApp number,
// forwarded here by the messaging webhook bridge.
type InboundMessageRequest struct {
	ContactID string `json:"contact_id" validate:"required"`
	Text      string `json:"text"       validate:"required"`
}

// CRMEventRequest is a lead lifecycle notification from the CRM.
type CRMEventRequest struct {
	ContactID string              `json:"contact_id" validate:"required"`
	Event     models.TriggerEvent `json:"event"      validate:"required"`
	From      string              `json:"from,omitempty"`
	To        string              `json:"to,omitempty"`
	Tag       string              `json:"tag,omitempty"`
	Data      map[string]any      `json:"data,omitempty"`
}

func (r CRMEventRequest) toEvent() scheduler.CRMEvent {
	return scheduler.CRMEvent{
		Event: r.Event,
		From:  r.From,
		To:    r.To,
		Tag:   r.Tag,
		Data:  r.Data,
	}
}

// StartExecutionRequest starts a funnel manually for one contact.
type StartExecutionRequest struct {
	ContactID   string         `json:"contact_id" validate:"required"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
}

// CreateFunnelRequest carries a new or updated funnel definition. The graph
// stays raw here so its JSON shape can be schema-checked before decoding.
type CreateFunnelRequest struct {
	CompanyID   string          `json:"company_id"  validate:"required"`
	Name        string          `json:"name"        validate:"required,min=3"`
	Description string          `json:"description"`
	Active      bool            `json:"active"`
	Graph       json.RawMessage `json:"graph"       validate:"required"`
}
