// Package web provides the ingest and query HTTP API: inbound messages, CRM
// events, funnel definitions and execution inspection.
package web

import (
	"encoding/json"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/nexusflow/funnel/pkg/engine"
	"github.com/nexusflow/funnel/pkg/models"
	"github.com/nexusflow/funnel/pkg/persistence"
	"github.com/nexusflow/funnel/pkg/scheduler"
)

type APIHandlers struct {
	engine      *engine.Engine
	scheduler   *scheduler.Scheduler
	persistence persistence.Persistence
	validator   *validator.Validate
	logger      *slog.Logger
}

func NewAPIHandlers(
	eng *engine.Engine,
	sched *scheduler.Scheduler,
	p persistence.Persistence,
	validate *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		engine:      eng,
		scheduler:   sched,
		persistence: p,
		validator:   validate,
		logger:      logger.With("module", "web"),
	}
}

func (h *APIHandlers) Health(c fiber.Ctx) error {
	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"status": "ok"})
}

// PostMessage feeds one inbound message into the keyword and new-conversation
// trigger matchers. Matching and funnel starts run synchronously so the
// caller observes start failures in logs ordered with the request.
func (h *APIHandlers) PostMessage(c fiber.Ctx) error {
	companyID := c.Params("companyID")

	var req InboundMessageRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	h.scheduler.CheckAndTriggerFunnels(c.Context(), companyID, req.ContactID, req.Text)

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"accepted": true})
}

// PostCRMEvent feeds one lead lifecycle event into the trigger_crm matchers.
func (h *APIHandlers) PostCRMEvent(c fiber.Ctx) error {
	companyID := c.Params("companyID")

	var req CRMEventRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	h.scheduler.CheckCRMTriggers(c.Context(), companyID, req.ContactID, req.toEvent())

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"accepted": true})
}

// StartExecution starts a funnel for a contact without going through a
// trigger matcher. No duplicate-start guard applies here.
func (h *APIHandlers) StartExecution(c fiber.Ctx) error {
	funnelID := c.Params("funnelID")

	var req StartExecutionRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	execution, err := h.engine.StartFunnelForContact(c.Context(), funnelID, req.ContactID, req.TriggerData)
	if err != nil && execution == nil {
		return handleEngineError(c, err)
	}

	// A non-nil execution with an error means a node failed after the run
	// was created; the execution record carries the failure.
	return c.Status(fiber.StatusCreated).JSON(execution)
}

func (h *APIHandlers) GetFunnel(c fiber.Ctx) error {
	funnel, err := h.persistence.FunnelByID(c.Context(), c.Params("funnelID"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(funnel)
}

func (h *APIHandlers) CreateFunnel(c fiber.Ctx) error {
	var req CreateFunnelRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := models.ValidateGraphDocument(req.Graph); err != nil {
		return badRequest(c, err.Error())
	}

	var graph models.Graph
	if err := json.Unmarshal(req.Graph, &graph); err != nil {
		return badRequest(c, "invalid graph: "+err.Error())
	}

	if err := models.ValidateGraph(&graph); err != nil {
		return badRequest(c, err.Error())
	}

	funnel := &models.Funnel{
		CompanyID:   req.CompanyID,
		Name:        req.Name,
		Description: req.Description,
		Active:      req.Active,
		Graph:       graph,
	}

	if err := h.persistence.SaveFunnel(c.Context(), funnel); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(funnel)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.persistence.ExecutionByID(c.Context(), c.Params("executionID"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) GetExecutionLogs(c fiber.Ctx) error {
	executionID := c.Params("executionID")

	if _, err := h.persistence.ExecutionByID(c.Context(), executionID); err != nil {
		return handleEngineError(c, err)
	}

	logs, err := h.persistence.ActionLogsByExecution(c.Context(), executionID)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"execution_id": executionID, "logs": logs})
}
