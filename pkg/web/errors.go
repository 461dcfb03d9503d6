package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/nexusflow/funnel/pkg/engine"
	"github.com/nexusflow/funnel/pkg/persistence"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleEngineError maps engine and persistence failures onto problem
// responses.
func handleEngineError(c fiber.Ctx, err error) error {
	switch {
	case persistence.IsFunnelNotFound(err):
		return notFound(c, "funnel not found")
	case persistence.IsExecutionNotFound(err):
		return notFound(c, "execution not found")
	case errors.Is(err, persistence.ErrContactNotFound):
		return notFound(c, "contact not found")
	case errors.Is(err, engine.ErrFunnelInactive):
		return conflict(c, "funnel is not active")
	case errors.Is(err, engine.ErrNoTriggerNode):
		return badRequest(c, "funnel has no trigger node")
	default:
		return internalError(c, err)
	}
}
