// Package engine executes funnel graphs: it dispatches nodes, resolves edges
// and moves executions through running, waiting and terminal states.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/nexusflow/funnel/pkg/eventbus"
	"github.com/nexusflow/funnel/pkg/events"
	"github.com/nexusflow/funnel/pkg/models"
	"github.com/nexusflow/funnel/pkg/otelhelper"
	"github.com/nexusflow/funnel/pkg/persistence"
	"github.com/nexusflow/funnel/pkg/transport"
)

// nodeResult is what one node processor hands back to the dispatcher. A
// non-empty path selects the outgoing edge; stop suspends or terminates the
// run instead of advancing.
type nodeResult struct {
	data map[string]any
	path string
	stop bool
}

// Engine walks funnel executions node by node. All state lives in
// persistence; the engine itself is stateless and safe for concurrent use.
type Engine struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	messenger   transport.Messenger
	email       transport.EmailSender
	telegram    transport.TelegramSender
	agents      transport.AgentAssigner
	tracer      trace.Tracer
	logger      *slog.Logger
	now         func() time.Time

	asyncTasks sync.WaitGroup
}

type Option func(*Engine)

func WithMessenger(m transport.Messenger) Option {
	return func(e *Engine) { e.messenger = m }
}

func WithEmailSender(s transport.EmailSender) Option {
	return func(e *Engine) { e.email = s }
}

func WithTelegramSender(s transport.TelegramSender) Option {
	return func(e *Engine) { e.telegram = s }
}

func WithAgentAssigner(a transport.AgentAssigner) Option {
	return func(e *Engine) { e.agents = a }
}

func WithPublisher(p eventbus.EventPublisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(p persistence.Persistence, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		persistence: p,
		messenger:   transport.NewEvolutionClient("", logger),
		email:       transport.NewLoggingEmailSender(logger),
		telegram:    transport.NewLoggingTelegramSender(logger),
		agents:      transport.NewLoggingAgentAssigner(logger),
		tracer:      noop.NewTracerProvider().Tracer("funnel-engine"),
		logger:      logger.With("module", "engine"),
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// StartFunnelForContact creates a new execution anchored at the funnel's
// first trigger node and processes the graph until it suspends or ends.
// The returned execution is non-nil whenever one was created, even if a
// node later failed.
func (e *Engine) StartFunnelForContact(ctx context.Context, funnelID, contactID string, triggerData map[string]any) (*models.Execution, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.start_funnel",
		attribute.String(otelhelper.FunnelIDKey, funnelID),
		attribute.String(otelhelper.ContactIDKey, contactID),
	)
	defer span.End()

	funnel, err := e.persistence.FunnelByID(ctx, funnelID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to load funnel %s: %w", funnelID, err)
	}

	if !funnel.Active {
		otelhelper.SetError(span, ErrFunnelInactive)

		return nil, fmt.Errorf("funnel %s: %w", funnelID, ErrFunnelInactive)
	}

	startNode := funnel.Graph.FirstTrigger()
	if startNode == nil {
		otelhelper.SetError(span, ErrNoTriggerNode)

		return nil, fmt.Errorf("funnel %s: %w", funnelID, ErrNoTriggerNode)
	}

	execution := &models.Execution{
		ID:            e.generateID(),
		FunnelID:      funnelID,
		ContactID:     contactID,
		CurrentNodeID: startNode.ID,
		Status:        models.ExecutionStatusRunning,
		Context:       map[string]any{"trigger": triggerData},
		StartedAt:     e.now().UTC(),
	}

	if err := e.persistence.CreateExecution(ctx, execution); err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	if err := e.persistence.AddFunnelStats(ctx, funnelID, models.FunnelStats{TotalExecutions: 1}); err != nil {
		e.logger.WarnContext(ctx, "Failed to update funnel stats", "funnel_id", funnelID, "error", err)
	}

	started := events.ExecutionStarted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionStartedEvent, funnelID),
		ExecutionID: execution.ID,
		ContactID:   contactID,
		TriggerType: string(startNode.Type),
		TriggerData: triggerData,
	}
	e.publish(ctx, funnelID, started)

	e.logger.InfoContext(ctx, "Funnel execution started",
		"funnel_id", funnelID,
		"contact_id", contactID,
		"execution_id", execution.ID,
		"start_node", startNode.ID)

	if err := e.ProcessNode(ctx, execution.ID, startNode.ID); err != nil {
		otelhelper.SetError(span, err)

		return execution, err
	}

	return execution, nil
}

// ProcessNode runs one node of an execution and, unless the node suspended or
// terminated the run, recurses into the resolved next node. Failures mark the
// execution failed and surface as a NodeExecutionError.
func (e *Engine) ProcessNode(ctx context.Context, executionID, nodeID string) error {
	execution, err := e.persistence.ExecutionByID(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to load execution %s: %w", executionID, err)
	}

	funnel, err := e.persistence.FunnelByID(ctx, execution.FunnelID)
	if err != nil {
		return fmt.Errorf("failed to load funnel %s: %w", execution.FunnelID, err)
	}

	node := funnel.Graph.NodeByID(nodeID)
	if node == nil {
		err := fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)

		return e.failExecution(ctx, execution, nodeID, err)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.process_node",
		attribute.String(otelhelper.ExecutionIDKey, executionID),
		attribute.String(otelhelper.NodeIDKey, nodeID),
		attribute.String(otelhelper.NodeTypeKey, string(node.Type)),
	)
	defer span.End()

	e.logger.DebugContext(ctx, "Processing node",
		"execution_id", executionID,
		"node_id", nodeID,
		"node_type", node.Type,
		"node_title", node.Title)

	entry := &models.ActionLog{
		ID:          e.generateID(),
		ExecutionID: executionID,
		NodeID:      node.ID,
		NodeType:    node.Type,
		Status:      models.ActionLogStatusPending,
		Input:       node.Config,
		CreatedAt:   e.now().UTC(),
	}
	if err := e.persistence.CreateActionLog(ctx, entry); err != nil {
		e.logger.WarnContext(ctx, "Failed to create action log", "execution_id", executionID, "error", err)
	}

	startedAt := e.now()

	result, execErr := e.executeNode(ctx, node, execution, funnel)

	duration := e.now().Sub(startedAt).Milliseconds()

	if execErr != nil {
		entry.Status = models.ActionLogStatusFailed
		entry.ErrorMessage = execErr.Error()
		entry.DurationMS = duration

		if err := e.persistence.UpdateActionLog(ctx, entry); err != nil {
			e.logger.WarnContext(ctx, "Failed to update action log", "log_id", entry.ID, "error", err)
		}

		otelhelper.SetError(span, execErr)

		e.publishNodeExecuted(ctx, funnel.ID, entry)

		return e.failExecution(ctx, execution, nodeID, execErr)
	}

	entry.Status = models.ActionLogStatusSuccess
	entry.Output = result.data
	entry.DurationMS = duration

	if err := e.persistence.UpdateActionLog(ctx, entry); err != nil {
		e.logger.WarnContext(ctx, "Failed to update action log", "log_id", entry.ID, "error", err)
	}

	now := e.now().UTC()
	execution.CurrentNodeID = nodeID
	execution.LastActionAt = &now

	if err := e.persistence.UpdateExecution(ctx, execution); err != nil {
		return fmt.Errorf("failed to update execution %s: %w", executionID, err)
	}

	e.publishNodeExecuted(ctx, funnel.ID, entry)

	if result.stop {
		if execution.Status == models.ExecutionStatusCompleted {
			e.logger.InfoContext(ctx, "Execution terminated", "execution_id", executionID, "node_id", nodeID)
		} else {
			e.logger.InfoContext(ctx, "Execution suspended", "execution_id", executionID, "node_id", nodeID)
		}

		return nil
	}

	return e.MoveToNextNode(ctx, executionID, nodeID, result)
}

// MoveToNextNode resolves the outgoing edge of the current node and processes
// its target. No outgoing edge completes the execution. When the node emitted
// a path token, the first edge whose start handle references that token wins;
// otherwise, or when no edge matches, the first declared edge is taken.
func (e *Engine) MoveToNextNode(ctx context.Context, executionID, currentNodeID string, result *nodeResult) error {
	execution, err := e.persistence.ExecutionByID(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to load execution %s: %w", executionID, err)
	}

	funnel, err := e.persistence.FunnelByID(ctx, execution.FunnelID)
	if err != nil {
		return fmt.Errorf("failed to load funnel %s: %w", execution.FunnelID, err)
	}

	connections := funnel.Graph.ConnectionsFrom(currentNodeID)
	if len(connections) == 0 {
		return e.completeExecution(ctx, execution, currentNodeID)
	}

	next := connections[0]

	if result != nil && result.path != "" {
		for _, conn := range connections {
			if conn.Start.MatchesPath(result.path) {
				next = conn

				break
			}
		}
	}

	return e.ProcessNode(ctx, executionID, next.End.NodeID)
}

// ResumeExecution flips a waiting execution back to running and advances past
// its wait node. The scheduler calls this once the configured wait elapsed.
func (e *Engine) ResumeExecution(ctx context.Context, execution *models.Execution) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.resume_execution",
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.NodeIDKey, execution.CurrentNodeID),
	)
	defer span.End()

	var waitedMs int64
	if execution.LastActionAt != nil {
		waitedMs = e.now().Sub(*execution.LastActionAt).Milliseconds()
	}

	execution.Status = models.ExecutionStatusRunning
	if err := e.persistence.UpdateExecution(ctx, execution); err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to resume execution %s: %w", execution.ID, err)
	}

	resumed := events.ExecutionResumed{
		BaseEvent:   events.NewBaseEvent(events.ExecutionResumedEvent, execution.FunnelID),
		ExecutionID: execution.ID,
		NodeID:      execution.CurrentNodeID,
		WaitedMs:    waitedMs,
	}
	e.publish(ctx, execution.FunnelID, resumed)

	e.logger.InfoContext(ctx, "Resuming execution",
		"execution_id", execution.ID,
		"node_id", execution.CurrentNodeID,
		"waited_ms", waitedMs)

	return e.MoveToNextNode(ctx, execution.ID, execution.CurrentNodeID, nil)
}

// WaitAsync blocks until all fire-and-forget tasks spawned so far finished.
func (e *Engine) WaitAsync() {
	e.asyncTasks.Wait()
}

func (e *Engine) completeExecution(ctx context.Context, execution *models.Execution, finalNodeID string) error {
	now := e.now().UTC()
	execution.Status = models.ExecutionStatusCompleted
	execution.CompletedAt = &now

	if err := e.persistence.UpdateExecution(ctx, execution); err != nil {
		return fmt.Errorf("failed to complete execution %s: %w", execution.ID, err)
	}

	if err := e.persistence.AddFunnelStats(ctx, execution.FunnelID, models.FunnelStats{CompletedExecutions: 1}); err != nil {
		e.logger.WarnContext(ctx, "Failed to update funnel stats", "funnel_id", execution.FunnelID, "error", err)
	}

	completed := events.ExecutionCompleted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionCompletedEvent, execution.FunnelID),
		ExecutionID: execution.ID,
		ContactID:   execution.ContactID,
		FinalNodeID: finalNodeID,
		DurationMs:  now.Sub(execution.StartedAt).Milliseconds(),
	}
	e.publish(ctx, execution.FunnelID, completed)

	e.logger.InfoContext(ctx, "Execution completed",
		"execution_id", execution.ID,
		"funnel_id", execution.FunnelID,
		"final_node", finalNodeID)

	return nil
}

func (e *Engine) failExecution(ctx context.Context, execution *models.Execution, nodeID string, cause error) error {
	execution.Status = models.ExecutionStatusFailed
	execution.ErrorMessage = cause.Error()

	if err := e.persistence.UpdateExecution(ctx, execution); err != nil {
		e.logger.ErrorContext(ctx, "Failed to mark execution failed",
			"execution_id", execution.ID, "error", err)
	}

	if err := e.persistence.AddFunnelStats(ctx, execution.FunnelID, models.FunnelStats{FailedExecutions: 1}); err != nil {
		e.logger.WarnContext(ctx, "Failed to update funnel stats", "funnel_id", execution.FunnelID, "error", err)
	}

	failed := events.ExecutionFailed{
		BaseEvent:   events.NewBaseEvent(events.ExecutionFailedEvent, execution.FunnelID),
		ExecutionID: execution.ID,
		ContactID:   execution.ContactID,
		NodeID:      nodeID,
		Error:       cause.Error(),
	}
	e.publish(ctx, execution.FunnelID, failed)

	e.logger.ErrorContext(ctx, "Execution failed",
		"execution_id", execution.ID,
		"node_id", nodeID,
		"error", cause)

	return &NodeExecutionError{ExecutionID: execution.ID, NodeID: nodeID, Err: cause}
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, key, event); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish event",
			"event_type", event.GetType(), "error", err)
	}
}

func (e *Engine) publishNodeExecuted(ctx context.Context, funnelID string, entry *models.ActionLog) {
	executed := events.NodeExecuted{
		BaseEvent:   events.NewBaseEvent(events.NodeExecutedEvent, funnelID),
		ExecutionID: entry.ExecutionID,
		NodeID:      entry.NodeID,
		NodeType:    entry.NodeType,
		Status:      entry.Status,
		DurationMs:  entry.DurationMS,
		Error:       entry.ErrorMessage,
	}
	e.publish(ctx, funnelID, executed)
}

func (e *Engine) generateID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}
