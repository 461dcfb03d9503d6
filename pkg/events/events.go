// Package events defines event types and structures for funnel lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/nexusflow/funnel/pkg/models"
)

type EventType string

// Kafka topic for funnel lifecycle events.
const Topic = "nexusflow.funnel.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Execution lifecycle events.
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionWaitingEvent   EventType = "execution.waiting"
	ExecutionResumedEvent   EventType = "execution.resumed"

	// Node events.
	NodeExecutedEvent EventType = "node.executed"

	// Contact events.
	ContactRemovedEvent EventType = "contact.removed"

	// Inbound events pushed by the messaging bridge and the CRM.
	MessageReceivedEvent  EventType = "message.received"
	CRMEventReceivedEvent EventType = "crm.event_received"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	FunnelID  string         `json:"funnel_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID string         `json:"execution_id"`
	ContactID   string         `json:"contact_id"`
	TriggerType string         `json:"trigger_type"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	ContactID   string `json:"contact_id"`
	FinalNodeID string `json:"final_node_id"`
	DurationMs  int64  `json:"duration_ms"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	ContactID   string `json:"contact_id"`
	NodeID      string `json:"node_id"`
	Error       string `json:"error"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionWaiting struct {
	BaseEvent

	ExecutionID string    `json:"execution_id"`
	NodeID      string    `json:"node_id"`
	ResumeAfter time.Time `json:"resume_after"`
}

func (e ExecutionWaiting) GetType() EventType {
	return ExecutionWaitingEvent
}

type ExecutionResumed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	NodeID      string `json:"node_id"`
	WaitedMs    int64  `json:"waited_ms"`
}

func (e ExecutionResumed) GetType() EventType {
	return ExecutionResumedEvent
}

type NodeExecuted struct {
	BaseEvent

	ExecutionID string                 `json:"execution_id"`
	NodeID      string                 `json:"node_id"`
	NodeType    models.NodeType        `json:"node_type"`
	Status      models.ActionLogStatus `json:"status"`
	DurationMs  int64                  `json:"duration_ms"`
	Error       string                 `json:"error,omitempty"`
}

func (e NodeExecuted) GetType() EventType {
	return NodeExecutedEvent
}

type ContactRemoved struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	ContactID   string `json:"contact_id"`
	NodeID      string `json:"node_id"`
}

func (e ContactRemoved) GetType() EventType {
	return ContactRemovedEvent
}

// MessageReceived is an inbound WhatsApp message. The daemon routes it to the
// keyword and new-conversation matchers; FunnelID is empty until one matches.
type MessageReceived struct {
	BaseEvent

	CompanyID string `json:"company_id"`
	ContactID string `json:"contact_id"`
	Text      string `json:"text"`
}

func (e MessageReceived) GetType() EventType {
	return MessageReceivedEvent
}

// CRMEventReceived is a lead lifecycle notification from the CRM, routed to
// the trigger_crm matchers.
type CRMEventReceived struct {
	BaseEvent

	CompanyID string              `json:"company_id"`
	ContactID string              `json:"contact_id"`
	Event     models.TriggerEvent `json:"event"`
	From      string              `json:"from,omitempty"`
	To        string              `json:"to,omitempty"`
	Tag       string              `json:"tag,omitempty"`
	Data      map[string]any      `json:"data,omitempty"`
}

func (e CRMEventReceived) GetType() EventType {
	return CRMEventReceivedEvent
}

func NewBaseEvent(eventType EventType, funnelID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		FunnelID:  funnelID,
		Metadata:  make(map[string]any),
	}
}
