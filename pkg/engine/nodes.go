package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nexusflow/funnel/pkg/events"
	"github.com/nexusflow/funnel/pkg/models"
	"github.com/nexusflow/funnel/pkg/otelhelper"
)

const defaultWhatsAppMessage = "Mensagem do funil"

// executeNode dispatches on the closed node type set. Unknown types cannot
// reach here for validated graphs, but live funnel edits can introduce them,
// so the default arm still fails the execution.
func (e *Engine) executeNode(ctx context.Context, node *models.Node, execution *models.Execution, funnel *models.Funnel) (*nodeResult, error) {
	switch node.Type {
	case models.NodeTypeTriggerWhatsApp, models.NodeTypeTriggerKeyword, models.NodeTypeTriggerCRM:
		return e.processTrigger(ctx, node)
	case models.NodeTypeSendWhatsApp:
		return e.processSendWhatsApp(ctx, node, execution, funnel)
	case models.NodeTypeSendEmail:
		return e.processSendEmail(ctx, node, execution)
	case models.NodeTypeSendTelegram:
		return e.processSendTelegram(ctx, node, execution)
	case models.NodeTypeAssignAgent:
		return e.processAssignAgent(ctx, node, execution, funnel)
	case models.NodeTypeAddTag:
		return e.processAddTag(ctx, node, execution)
	case models.NodeTypeRemoveTag:
		return e.processRemoveTag(ctx, node, execution)
	case models.NodeTypeUpdateLead:
		return e.processUpdateLead(ctx, node, execution)
	case models.NodeTypeUpdateTemperature:
		return e.processUpdateTemperature(ctx, node, execution)
	case models.NodeTypeWait:
		return e.processWait(ctx, node, execution)
	case models.NodeTypeCondition:
		return e.processCondition(ctx, node, execution)
	case models.NodeTypeFilterByTags:
		return e.processFilterByTags(ctx, node, execution)
	case models.NodeTypeRemoveFromFunnel:
		return e.processRemoveFromFunnel(ctx, node, execution)
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownNodeType, node.Type)
	}
}

// Triggers are entry markers; matching already happened before the execution
// was created.
func (e *Engine) processTrigger(_ context.Context, node *models.Node) (*nodeResult, error) {
	e.logger.Debug("Trigger node passed through", "node_id", node.ID, "node_title", node.Title)

	return &nodeResult{data: map[string]any{"triggered": true}}, nil
}

func (e *Engine) processSendWhatsApp(ctx context.Context, node *models.Node, execution *models.Execution, funnel *models.Funnel) (*nodeResult, error) {
	instance, err := e.persistence.MessagingInstanceByCompany(ctx, funnel.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("no messaging instance for company %s: %w", funnel.CompanyID, err)
	}

	if instance.Token == "" {
		return nil, fmt.Errorf("instance %s has no token configured", instance.InstanceName)
	}

	contact, err := e.persistence.ContactByID(ctx, execution.ContactID)
	if err != nil {
		return nil, fmt.Errorf("failed to load contact %s: %w", execution.ContactID, err)
	}

	phone := normalizePhone(contact.Phone)
	if phone == "" {
		return nil, fmt.Errorf("contact %s has no phone number", contact.ID)
	}

	message := models.ParseMessageConfig(node.Config).Message
	if message == "" {
		message = defaultWhatsAppMessage
	}

	message = renderTemplate(message, contact, phone)

	if err := e.messenger.SendText(ctx, instance, phone, message); err != nil {
		return nil, fmt.Errorf("failed to send whatsapp message: %w", err)
	}

	return &nodeResult{data: map[string]any{"sent": true, "phone": phone, "message": message}}, nil
}

func (e *Engine) processSendEmail(ctx context.Context, node *models.Node, execution *models.Execution) (*nodeResult, error) {
	contact, err := e.persistence.ContactByID(ctx, execution.ContactID)
	if err != nil {
		return nil, fmt.Errorf("failed to load contact %s: %w", execution.ContactID, err)
	}

	if contact.Email == "" {
		return nil, fmt.Errorf("contact %s has no email", contact.ID)
	}

	cfg := models.ParseEmailConfig(node.Config)
	subject := renderTemplate(cfg.Subject, contact, normalizePhone(contact.Phone))
	body := renderTemplate(cfg.Body, contact, normalizePhone(contact.Phone))

	if err := e.email.SendEmail(ctx, contact.Email, subject, body); err != nil {
		return nil, fmt.Errorf("failed to send email: %w", err)
	}

	return &nodeResult{data: map[string]any{"sent": true, "to": contact.Email}}, nil
}

func (e *Engine) processSendTelegram(ctx context.Context, node *models.Node, execution *models.Execution) (*nodeResult, error) {
	contact, err := e.persistence.ContactByID(ctx, execution.ContactID)
	if err != nil {
		return nil, fmt.Errorf("failed to load contact %s: %w", execution.ContactID, err)
	}

	phone := normalizePhone(contact.Phone)
	if phone == "" {
		return nil, fmt.Errorf("contact %s has no phone number", contact.ID)
	}

	message := renderTemplate(models.ParseMessageConfig(node.Config).Message, contact, phone)

	if err := e.telegram.SendTelegram(ctx, phone, message); err != nil {
		return nil, fmt.Errorf("failed to send telegram message: %w", err)
	}

	return &nodeResult{data: map[string]any{"sent": true, "to": phone}}, nil
}

// processAssignAgent kicks the assignment off in the background. The chat
// frontend polls for the flag, so the execution does not wait for the write;
// failures are logged and traced but never fail the node.
func (e *Engine) processAssignAgent(ctx context.Context, node *models.Node, execution *models.Execution, funnel *models.Funnel) (*nodeResult, error) {
	cfg, err := models.ParseAssignAgentConfig(node.Config)
	if err != nil {
		return nil, err
	}

	contact, err := e.persistence.ContactByID(ctx, execution.ContactID)
	if err != nil {
		return nil, fmt.Errorf("failed to load contact %s: %w", execution.ContactID, err)
	}

	phone := normalizePhone(contact.Phone)
	if phone == "" {
		return nil, fmt.Errorf("contact %s has no phone number", contact.ID)
	}

	jid := phone + "@s.whatsapp.net"

	e.asyncTasks.Add(1)

	go func() {
		defer e.asyncTasks.Done()

		asyncCtx, span := otelhelper.StartSpan(context.WithoutCancel(ctx), e.tracer, "engine.assign_agent",
			attribute.String(otelhelper.ExecutionIDKey, execution.ID),
			attribute.String(otelhelper.CompanyIDKey, funnel.CompanyID),
		)
		defer span.End()

		if err := e.agents.AssignAgent(asyncCtx, funnel.CompanyID, cfg.AgentID, jid); err != nil {
			otelhelper.SetError(span, err)
			e.logger.Error("Agent assignment failed",
				"execution_id", execution.ID,
				"agent_id", cfg.AgentID,
				"jid", jid,
				"error", err)

			return
		}

		e.logger.Info("Agent assigned", "agent_id", cfg.AgentID, "jid", jid)
	}()

	return &nodeResult{data: map[string]any{"agent_id": cfg.AgentID, "jid": jid, "phone": phone, "async": true}}, nil
}

func (e *Engine) processAddTag(ctx context.Context, node *models.Node, execution *models.Execution) (*nodeResult, error) {
	cfg, err := models.ParseTagConfig(node.Config)
	if err != nil {
		return nil, err
	}

	contact, err := e.persistence.ContactByID(ctx, execution.ContactID)
	if err != nil {
		return nil, fmt.Errorf("failed to load contact %s: %w", execution.ContactID, err)
	}

	if !contact.HasTag(cfg.Tag) {
		contact.Tags = append(contact.Tags, cfg.Tag)

		if err := e.persistence.SaveContact(ctx, contact); err != nil {
			return nil, fmt.Errorf("failed to save contact %s: %w", contact.ID, err)
		}
	}

	return &nodeResult{data: map[string]any{"tag": cfg.Tag}}, nil
}

func (e *Engine) processRemoveTag(ctx context.Context, node *models.Node, execution *models.Execution) (*nodeResult, error) {
	cfg, err := models.ParseTagConfig(node.Config)
	if err != nil {
		return nil, err
	}

	contact, err := e.persistence.ContactByID(ctx, execution.ContactID)
	if err != nil {
		return nil, fmt.Errorf("failed to load contact %s: %w", execution.ContactID, err)
	}

	if contact.HasTag(cfg.Tag) {
		contact.Tags = removeString(contact.Tags, cfg.Tag)

		if err := e.persistence.SaveContact(ctx, contact); err != nil {
			return nil, fmt.Errorf("failed to save contact %s: %w", contact.ID, err)
		}
	}

	return &nodeResult{data: map[string]any{"tag": cfg.Tag}}, nil
}

// processUpdateLead writes only the fields the node configures. Tags follow
// the configured submode; custom fields merge key-wise with existing values.
func (e *Engine) processUpdateLead(ctx context.Context, node *models.Node, execution *models.Execution) (*nodeResult, error) {
	cfg := models.ParseUpdateLeadConfig(node.Config)

	contact, err := e.persistence.ContactByID(ctx, execution.ContactID)
	if err != nil {
		return nil, fmt.Errorf("failed to load contact %s: %w", execution.ContactID, err)
	}

	updated := make(map[string]any)

	if cfg.Name != "" {
		contact.Name = cfg.Name
		updated["name"] = cfg.Name
	}

	if cfg.Email != "" {
		contact.Email = cfg.Email
		updated["email"] = cfg.Email
	}

	if cfg.Phone != "" {
		contact.Phone = cfg.Phone
		updated["phone"] = cfg.Phone
	}

	if cfg.Temperature != "" {
		contact.Temperature = cfg.Temperature
		updated["temperature"] = string(cfg.Temperature)
	}

	if cfg.Source != "" {
		contact.Source = cfg.Source
		updated["source"] = cfg.Source
	}

	if len(cfg.Tags) > 0 {
		switch cfg.TagsAction {
		case models.TagsActionAdd:
			for _, tag := range cfg.Tags {
				if !contact.HasTag(tag) {
					contact.Tags = append(contact.Tags, tag)
				}
			}

			updated["tags"] = contact.Tags
		case models.TagsActionReplace:
			contact.Tags = cfg.Tags
			updated["tags"] = contact.Tags
		case models.TagsActionRemove:
			for _, tag := range cfg.Tags {
				contact.Tags = removeString(contact.Tags, tag)
			}

			updated["tags"] = contact.Tags
		}
	}

	if len(cfg.CustomFields) > 0 {
		if contact.CustomFields == nil {
			contact.CustomFields = make(map[string]any)
		}

		for key, value := range cfg.CustomFields {
			contact.CustomFields[key] = value
		}

		updated["custom_fields"] = contact.CustomFields
	}

	if len(updated) == 0 {
		e.logger.Debug("update_lead has no fields to update", "node_id", node.ID)

		return &nodeResult{data: updated}, nil
	}

	if err := e.persistence.SaveContact(ctx, contact); err != nil {
		return nil, fmt.Errorf("failed to save contact %s: %w", contact.ID, err)
	}

	return &nodeResult{data: updated}, nil
}

func (e *Engine) processUpdateTemperature(ctx context.Context, node *models.Node, execution *models.Execution) (*nodeResult, error) {
	cfg := models.ParseUpdateTemperatureConfig(node.Config)

	contact, err := e.persistence.ContactByID(ctx, execution.ContactID)
	if err != nil {
		return nil, fmt.Errorf("failed to load contact %s: %w", execution.ContactID, err)
	}

	contact.Temperature = cfg.Temperature

	if err := e.persistence.SaveContact(ctx, contact); err != nil {
		return nil, fmt.Errorf("failed to save contact %s: %w", contact.ID, err)
	}

	return &nodeResult{data: map[string]any{"temperature": string(cfg.Temperature)}}, nil
}

// processWait flips the execution to waiting and stops the walk. The
// scheduler polls waiting executions and resumes past this node once the
// configured duration elapsed, measured from last_action_at.
func (e *Engine) processWait(ctx context.Context, node *models.Node, execution *models.Execution) (*nodeResult, error) {
	cfg := models.ParseWaitConfig(node.Config)
	duration := cfg.Duration()

	execution.Status = models.ExecutionStatusWaiting

	waiting := events.ExecutionWaiting{
		BaseEvent:   events.NewBaseEvent(events.ExecutionWaitingEvent, execution.FunnelID),
		ExecutionID: execution.ID,
		NodeID:      node.ID,
		ResumeAfter: e.now().UTC().Add(duration),
	}
	e.publish(ctx, execution.FunnelID, waiting)

	e.logger.Info("Execution entering wait",
		"execution_id", execution.ID,
		"wait_value", cfg.Value,
		"wait_unit", cfg.Unit)

	return &nodeResult{
		data: map[string]any{
			"waiting":     true,
			"duration_ms": duration.Milliseconds(),
			"wait_value":  cfg.Value,
			"wait_unit":   string(cfg.Unit),
		},
		stop: true,
	}, nil
}

func (e *Engine) processCondition(ctx context.Context, node *models.Node, execution *models.Execution) (*nodeResult, error) {
	cfg, err := models.ParseConditionConfig(node.Config)
	if err != nil {
		return nil, err
	}

	contact, err := e.persistence.ContactByID(ctx, execution.ContactID)
	if err != nil {
		return nil, fmt.Errorf("failed to load contact %s: %w", execution.ContactID, err)
	}

	var conditionMet bool

	switch cfg.Type {
	case models.ConditionTemperatureCheck:
		conditionMet = contact.Temperature == cfg.Temperature
	case models.ConditionCustomField:
		value, ok := contact.CustomFields[cfg.FieldName]
		conditionMet = ok && fmt.Sprintf("%v", value) == cfg.FieldValue
	case models.ConditionLeadScore:
		conditionMet = cfg.Operator.Compare(contact.LeadScore, cfg.ScoreValue)
	case models.ConditionTagCheck:
		conditionMet = contact.HasTag(cfg.Tag)
	default:
		// Graphs authored before condition_type existed carry only tag_check.
		conditionMet = contact.HasTag(cfg.Tag)
	}

	path := "no"
	if conditionMet {
		path = "yes"
	}

	return &nodeResult{data: map[string]any{"condition_met": conditionMet}, path: path}, nil
}

// processFilterByTags fails open: a filter with no tags configured lets the
// contact through the yes path.
func (e *Engine) processFilterByTags(ctx context.Context, node *models.Node, execution *models.Execution) (*nodeResult, error) {
	cfg, err := models.ParseFilterConfig(node.Config)
	if err != nil {
		return nil, err
	}

	if len(cfg.Tags) == 0 {
		e.logger.Warn("Filter node has no tags configured, passing through", "node_id", node.ID)

		return &nodeResult{data: map[string]any{"passed": true}, path: "yes"}, nil
	}

	contact, err := e.persistence.ContactByID(ctx, execution.ContactID)
	if err != nil {
		return nil, fmt.Errorf("failed to load contact %s: %w", execution.ContactID, err)
	}

	var passed bool

	switch cfg.Mode {
	case models.TagFilterHasAll:
		passed = contact.HasAllTags(cfg.Tags)
	case models.TagFilterHasAny:
		passed = contact.HasAnyTag(cfg.Tags)
	case models.TagFilterHasNone:
		passed = !contact.HasAnyTag(cfg.Tags)
	}

	path := "no"
	if passed {
		path = "yes"
	}

	return &nodeResult{
		data: map[string]any{
			"passed":       passed,
			"contact_tags": contact.Tags,
			"filter_tags":  cfg.Tags,
			"mode":         string(cfg.Mode),
		},
		path: path,
	}, nil
}

// processRemoveFromFunnel ends the run early when the contact's tags match
// the removal rule. A node with no tags configured never removes anyone.
func (e *Engine) processRemoveFromFunnel(ctx context.Context, node *models.Node, execution *models.Execution) (*nodeResult, error) {
	cfg, err := models.ParseRemovalConfig(node.Config)
	if err != nil {
		return nil, err
	}

	if len(cfg.Tags) == 0 {
		e.logger.Warn("Removal node has no tags configured, continuing execution", "node_id", node.ID)

		return &nodeResult{data: map[string]any{"removed": false}}, nil
	}

	contact, err := e.persistence.ContactByID(ctx, execution.ContactID)
	if err != nil {
		return nil, fmt.Errorf("failed to load contact %s: %w", execution.ContactID, err)
	}

	var shouldRemove bool

	switch cfg.Mode {
	case models.TagFilterHasAny:
		shouldRemove = contact.HasAnyTag(cfg.Tags)
	case models.TagFilterHasAll:
		shouldRemove = contact.HasAllTags(cfg.Tags)
	}

	if !shouldRemove {
		return &nodeResult{data: map[string]any{"removed": false}}, nil
	}

	now := e.now().UTC()
	execution.Status = models.ExecutionStatusCompleted
	execution.CompletedAt = &now

	if execution.Context == nil {
		execution.Context = make(map[string]any)
	}

	execution.Context["removed"] = true

	if err := e.persistence.AddFunnelStats(ctx, execution.FunnelID, models.FunnelStats{CompletedExecutions: 1}); err != nil {
		e.logger.Warn("Failed to update funnel stats", "funnel_id", execution.FunnelID, "error", err)
	}

	removed := events.ContactRemoved{
		BaseEvent:   events.NewBaseEvent(events.ContactRemovedEvent, execution.FunnelID),
		ExecutionID: execution.ID,
		ContactID:   contact.ID,
		NodeID:      node.ID,
	}
	e.publish(ctx, execution.FunnelID, removed)

	e.logger.Info("Contact removed from funnel",
		"execution_id", execution.ID,
		"contact_id", contact.ID,
		"tags", cfg.Tags)

	return &nodeResult{
		data: map[string]any{"removed": true, "reason": "tag_match", "tags": cfg.Tags},
		stop: true,
	}, nil
}

func removeString(values []string, target string) []string {
	out := values[:0]

	for _, v := range values {
		if v != target {
			out = append(out, v)
		}
	}

	return out
}
