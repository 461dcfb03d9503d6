package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator/v10"
	cli "github.com/urfave/cli/v3"

	"github.com/nexusflow/funnel/pkg/cmd"
	"github.com/nexusflow/funnel/pkg/engine"
	"github.com/nexusflow/funnel/pkg/log"
	"github.com/nexusflow/funnel/pkg/scheduler"
	"github.com/nexusflow/funnel/pkg/transport"
	"github.com/nexusflow/funnel/pkg/web"
)

func main() {
	command := &cli.Command{
		Name:                  "funnel-ingest",
		Usage:                 "Serve the funnel ingest HTTP API: inbound messages, CRM events and manual starts",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "evolution-url",
				Usage:   "Base URL of the Evolution API used to send WhatsApp messages",
				Value:   transport.DefaultEvolutionURL,
				Sources: cli.EnvVars("EVOLUTION_API_URL"),
			},
			&cli.IntFlag{
				Name:    "port",
				Usage:   "HTTP listen port",
				Value:   9091,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("funnel-ingest")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	defer func() {
		if err := persistence.Close(ctx); err != nil {
			logger.Error("Failed to close persistence", "error", err)
		}
	}()

	eventBus := cmd.NewEventBus(command.String("event-bus"), "funnel-ingest", logger)
	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.Error("Failed to close event bus", "error", err)
		}
	}()

	eng := engine.NewEngine(persistence, logger,
		engine.WithPublisher(eventBus),
		engine.WithMessenger(transport.NewEvolutionClient(command.String("evolution-url"), logger)),
	)

	// The ingest service only matches triggers; polling jobs belong to funneld.
	sched := scheduler.NewScheduler(eng, persistence, logger)

	handlers := web.NewAPIHandlers(eng, sched, persistence, validator.New(), logger)
	app := web.NewApp(handlers)

	go func() {
		<-ctx.Done()

		if err := app.Shutdown(); err != nil {
			logger.Error("Failed to shut down HTTP server", "error", err)
		}
	}()

	addr := fmt.Sprintf(":%d", command.Int("port"))
	logger.Info("Funnel ingest API listening", "addr", addr)

	return app.Listen(addr)
}
