// Package scheduler drives time-based funnel behavior: resuming waiting
// executions, firing no-response triggers and matching inbound message and
// CRM events against funnel trigger nodes.
package scheduler

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nexusflow/funnel/pkg/engine"
	"github.com/nexusflow/funnel/pkg/models"
	"github.com/nexusflow/funnel/pkg/persistence"
)

const (
	waitPollSpec       = "@every 1m"
	noResponsePollSpec = "@every 5m"

	waitBatchLimit       = 100
	noResponseBatchLimit = 100

	// An active execution older than this is considered stuck and may be
	// released when a new trigger arrives for the same contact.
	staleExecutionAge = 5 * time.Minute

	// No-response triggers skip contacts whose last run of the same funnel
	// completed inside this window, so a silent contact is not re-entered
	// every poll.
	noResponseCooldown = 24 * time.Hour
)

const staleReleaseReason = "auto-released: execution stuck without progress"

// CRMEvent is a lead lifecycle notification matched against trigger_crm nodes.
type CRMEvent struct {
	Event models.TriggerEvent `json:"event" validate:"required"`
	From  string              `json:"from,omitempty"`
	To    string              `json:"to,omitempty"`
	Tag   string              `json:"tag,omitempty"`
	Data  map[string]any      `json:"data,omitempty"`
}

// Scheduler owns the periodic jobs and the trigger matchers. Start and Stop
// are idempotent.
type Scheduler struct {
	engine      *engine.Engine
	persistence persistence.Persistence
	logger      *slog.Logger
	cron        *cron.Cron
	now         func() time.Time

	mu      sync.Mutex
	running bool
}

func NewScheduler(eng *engine.Engine, p persistence.Persistence, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		engine:      eng,
		persistence: p,
		logger:      logger.With("module", "scheduler"),
		now:         time.Now,
	}
}

// WithClock overrides the scheduler's time source.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now

	return s
}

// Start runs both polling jobs immediately and then on their schedules:
// waiting executions every minute, no-response triggers every five minutes.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.WarnContext(ctx, "Scheduler already running")

		return nil
	}

	s.cron = cron.New()

	if _, err := s.cron.AddFunc(waitPollSpec, func() {
		s.ProcessWaitingExecutions(ctx)
	}); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(noResponsePollSpec, func() {
		s.CheckNoResponseTriggers(ctx)
	}); err != nil {
		return err
	}

	go s.ProcessWaitingExecutions(ctx)
	go s.CheckNoResponseTriggers(ctx)

	s.cron.Start()
	s.running = true

	s.logger.InfoContext(ctx, "Scheduler started",
		"wait_poll", waitPollSpec,
		"no_response_poll", noResponsePollSpec)

	return nil
}

// Stop halts the polling jobs. Jobs already in flight finish.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.cron.Stop()
	s.running = false

	s.logger.InfoContext(ctx, "Scheduler stopped")
}

// ProcessWaitingExecutions resumes waiting executions whose wait elapsed,
// oldest first. An execution parked on a non-wait node is flipped back to
// running without advancing, which lets the engine's normal flow recover it.
// Failures are isolated per execution.
func (s *Scheduler) ProcessWaitingExecutions(ctx context.Context) {
	executions, err := s.persistence.WaitingExecutions(ctx, waitBatchLimit)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list waiting executions", "error", err)

		return
	}

	if len(executions) == 0 {
		return
	}

	s.logger.DebugContext(ctx, "Checking waiting executions", "count", len(executions))

	for _, execution := range executions {
		if err := s.resumeIfElapsed(ctx, execution); err != nil {
			s.logger.ErrorContext(ctx, "Failed to process waiting execution",
				"execution_id", execution.ID, "error", err)
		}
	}
}

func (s *Scheduler) resumeIfElapsed(ctx context.Context, execution *models.Execution) error {
	funnel, err := s.persistence.FunnelByID(ctx, execution.FunnelID)
	if err != nil {
		return err
	}

	node := funnel.Graph.NodeByID(execution.CurrentNodeID)
	if node == nil {
		s.logger.WarnContext(ctx, "Current node no longer exists in funnel graph",
			"execution_id", execution.ID, "node_id", execution.CurrentNodeID)

		return nil
	}

	if node.Type != models.NodeTypeWait {
		// A waiting execution must sit on a wait node; anything else means a
		// past crash left it stuck. Flip it back to running so it can move.
		s.logger.WarnContext(ctx, "Waiting execution parked on non-wait node, releasing",
			"execution_id", execution.ID, "node_type", node.Type)

		execution.Status = models.ExecutionStatusRunning

		return s.persistence.UpdateExecution(ctx, execution)
	}

	required := models.ParseWaitConfig(node.Config).Duration()
	elapsed := s.now().Sub(*execution.LastActionAt)

	if elapsed < required {
		s.logger.DebugContext(ctx, "Execution still waiting",
			"execution_id", execution.ID,
			"remaining", required-elapsed)

		return nil
	}

	s.logger.InfoContext(ctx, "Wait elapsed, resuming execution",
		"execution_id", execution.ID,
		"node_id", node.ID,
		"elapsed", elapsed)

	return s.engine.ResumeExecution(ctx, execution)
}

// CheckAndTriggerFunnels matches an inbound message against the keyword and
// new-conversation triggers of a company's active funnels and starts every
// funnel that matches. Matching is case-insensitive on trimmed text.
func (s *Scheduler) CheckAndTriggerFunnels(ctx context.Context, companyID, contactID, messageText string) {
	normalized := strings.ToLower(strings.TrimSpace(messageText))
	if normalized == "" {
		return
	}

	funnels, err := s.persistence.ActiveFunnels(ctx, companyID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list active funnels", "company_id", companyID, "error", err)

		return
	}

	for _, funnel := range funnels {
		trigger := funnel.Graph.FirstTrigger()
		if trigger == nil {
			s.logger.DebugContext(ctx, "Funnel has no trigger node", "funnel_id", funnel.ID)

			continue
		}

		cfg := models.ParseTriggerConfig(trigger.Config)

		match, err := s.matchesMessageTrigger(ctx, cfg, contactID, normalized)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to evaluate trigger",
				"funnel_id", funnel.ID, "error", err)

			continue
		}

		if !match {
			continue
		}

		s.logger.InfoContext(ctx, "Message matched funnel trigger",
			"funnel_id", funnel.ID,
			"funnel_name", funnel.Name,
			"contact_id", contactID,
			"keyword", normalized)

		if !s.slotFree(ctx, funnel.ID, contactID) {
			continue
		}

		triggerData := map[string]any{
			"triggered_by": "keyword",
			"keyword":      normalized,
			"message_text": messageText,
		}

		if _, err := s.engine.StartFunnelForContact(ctx, funnel.ID, contactID, triggerData); err != nil {
			s.logger.ErrorContext(ctx, "Failed to start funnel",
				"funnel_id", funnel.ID, "contact_id", contactID, "error", err)
		}
	}
}

func (s *Scheduler) matchesMessageTrigger(ctx context.Context, cfg models.TriggerConfig, contactID, normalized string) (bool, error) {
	switch cfg.Event {
	case models.TriggerEventNewConversation:
		contact, err := s.persistence.ContactByID(ctx, contactID)
		if err != nil {
			return false, err
		}

		// First inbound message ever counts as a new conversation.
		return contact.LastInboundAt == nil, nil
	case models.TriggerEventReceivedKeyword:
		for _, keyword := range cfg.Keywords {
			keyword = strings.ToLower(strings.TrimSpace(keyword))
			if keyword == "" {
				continue
			}

			switch cfg.MatchType {
			case models.MatchExact:
				if normalized == keyword {
					return true, nil
				}
			case models.MatchContains:
				if strings.Contains(normalized, keyword) {
					return true, nil
				}
			}
		}

		return false, nil
	default:
		return false, nil
	}
}

// CheckNoResponseTriggers starts funnels whose trigger fires on contact
// silence. Contacts already in the funnel, or whose last run completed within
// the cooldown window, are excluded by the persistence query.
func (s *Scheduler) CheckNoResponseTriggers(ctx context.Context) {
	funnels, err := s.persistence.ActiveFunnels(ctx, "")
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list active funnels", "error", err)

		return
	}

	now := s.now()

	for _, funnel := range funnels {
		trigger := funnel.Graph.FirstTrigger()
		if trigger == nil {
			continue
		}

		cfg := models.ParseTriggerConfig(trigger.Config)
		if cfg.Event != models.TriggerEventNoResponse {
			continue
		}

		threshold := cfg.NoResponseThreshold()

		contacts, err := s.persistence.ContactsWithoutReply(ctx,
			funnel.ID,
			funnel.CompanyID,
			now.Add(-threshold),
			now.Add(-noResponseCooldown),
			noResponseBatchLimit)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to list silent contacts",
				"funnel_id", funnel.ID, "error", err)

			continue
		}

		if len(contacts) == 0 {
			continue
		}

		s.logger.InfoContext(ctx, "Silent contacts matched no-response trigger",
			"funnel_id", funnel.ID,
			"funnel_name", funnel.Name,
			"count", len(contacts))

		triggerData := map[string]any{
			"triggered_by": "no_response",
			"threshold":    threshold.String(),
		}

		for _, contact := range contacts {
			if _, err := s.engine.StartFunnelForContact(ctx, funnel.ID, contact.ID, triggerData); err != nil {
				s.logger.ErrorContext(ctx, "Failed to start funnel",
					"funnel_id", funnel.ID, "contact_id", contact.ID, "error", err)
			}
		}
	}
}

// CheckCRMTriggers matches a lead lifecycle event against the trigger_crm
// nodes of a company's active funnels. Temperature transitions accept "any"
// as a from-side wildcard; the to-side must match exactly.
func (s *Scheduler) CheckCRMTriggers(ctx context.Context, companyID, contactID string, event CRMEvent) {
	funnels, err := s.persistence.ActiveFunnels(ctx, companyID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list active funnels", "company_id", companyID, "error", err)

		return
	}

	for _, funnel := range funnels {
		var trigger *models.Node

		for _, node := range funnel.Graph.Nodes {
			if node.Type == models.NodeTypeTriggerCRM {
				trigger = node

				break
			}
		}

		if trigger == nil {
			continue
		}

		cfg := models.ParseTriggerConfig(trigger.Config)
		if !matchesCRMTrigger(cfg, event) {
			continue
		}

		s.logger.InfoContext(ctx, "CRM event matched funnel trigger",
			"funnel_id", funnel.ID,
			"funnel_name", funnel.Name,
			"event", event.Event,
			"contact_id", contactID)

		if !s.slotFree(ctx, funnel.ID, contactID) {
			continue
		}

		triggerData := map[string]any{
			"triggered_by": string(event.Event),
			"from":         event.From,
			"to":           event.To,
			"tag":          event.Tag,
		}
		for key, value := range event.Data {
			triggerData[key] = value
		}

		if _, err := s.engine.StartFunnelForContact(ctx, funnel.ID, contactID, triggerData); err != nil {
			s.logger.ErrorContext(ctx, "Failed to start funnel",
				"funnel_id", funnel.ID, "contact_id", contactID, "error", err)
		}
	}
}

func matchesCRMTrigger(cfg models.TriggerConfig, event CRMEvent) bool {
	if cfg.Event != event.Event {
		return false
	}

	switch event.Event {
	case models.TriggerEventLeadCreated:
		return true
	case models.TriggerEventTemperatureChanged:
		fromMatch := cfg.FromTemperature == models.TemperatureAny || cfg.FromTemperature == event.From

		return fromMatch && cfg.ToTemperature == event.To
	case models.TriggerEventTagAdded:
		return cfg.TagName == event.Tag
	default:
		return false
	}
}

// slotFree enforces one active execution per (funnel, contact). A stuck
// execution without progress for staleExecutionAge is released so the new
// trigger can take the slot.
func (s *Scheduler) slotFree(ctx context.Context, funnelID, contactID string) bool {
	existing, err := s.persistence.ActiveExecution(ctx, funnelID, contactID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to check for active execution",
			"funnel_id", funnelID, "contact_id", contactID, "error", err)

		return false
	}

	if existing == nil {
		return true
	}

	released, err := s.persistence.ReleaseStaleExecution(ctx, existing.ID, s.now().Add(-staleExecutionAge), staleReleaseReason)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to release stale execution",
			"execution_id", existing.ID, "error", err)

		return false
	}

	if !released {
		s.logger.DebugContext(ctx, "Execution already active for contact",
			"funnel_id", funnelID, "contact_id", contactID, "execution_id", existing.ID)

		return false
	}

	s.logger.WarnContext(ctx, "Released stale execution",
		"execution_id", existing.ID, "funnel_id", funnelID, "contact_id", contactID)

	return true
}
