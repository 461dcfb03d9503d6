package web

import (
	"github.com/gofiber/fiber/v3"
)

// NewApp wires the API routes onto a fresh fiber application.
func NewApp(handlers *APIHandlers) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "funnel-ingest",
	})

	app.Get("/health", handlers.Health)

	app.Post("/companies/:companyID/messages", handlers.PostMessage)
	app.Post("/companies/:companyID/crm-events", handlers.PostCRMEvent)

	app.Post("/funnels", handlers.CreateFunnel)
	app.Get("/funnels/:funnelID", handlers.GetFunnel)
	app.Post("/funnels/:funnelID/executions", handlers.StartExecution)

	app.Get("/executions/:executionID", handlers.GetExecution)
	app.Get("/executions/:executionID/logs", handlers.GetExecutionLogs)

	return app
}
