package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/nexusflow/funnel/pkg/cmd"
	"github.com/nexusflow/funnel/pkg/engine"
	"github.com/nexusflow/funnel/pkg/events"
	"github.com/nexusflow/funnel/pkg/log"
	"github.com/nexusflow/funnel/pkg/otelhelper"
	"github.com/nexusflow/funnel/pkg/receivers/queue"
	"github.com/nexusflow/funnel/pkg/scheduler"
	"github.com/nexusflow/funnel/pkg/transport"
)

func main() {
	command := &cli.Command{
		Name:                  "funneld",
		Usage:                 "Run the funnel execution daemon: wait resumption, no-response triggers and inbound message matching",
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
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis address of the inbound message queue (disabled when empty)",
				Value:   "",
				Sources: cli.EnvVars("REDIS_ADDR"),
			},
			&cli.StringFlag{
				Name:    "redis-queue",
				Usage:   "Redis list holding inbound messages",
				Value:   queue.DefaultQueue,
				Sources: cli.EnvVars("REDIS_QUEUE"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OTLP trace export",
				Sources: cli.EnvVars("TRACING_ENABLED"),
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

	logger := log.WithModule("funneld")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	defer func() {
		if err := persistence.Close(ctx); err != nil {
			logger.Error("Failed to close persistence", "error", err)
		}
	}()

	eventBus := cmd.NewEventBus(command.String("event-bus"), "funneld", logger)
	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.Error("Failed to close event bus", "error", err)
		}
	}()

	opts := []engine.Option{
		engine.WithPublisher(eventBus),
		engine.WithMessenger(transport.NewEvolutionClient(command.String("evolution-url"), logger)),
	}

	if command.Bool("tracing") {
		tracer, err := otelhelper.NewTracer(ctx, "funneld")
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}

		opts = append(opts, engine.WithTracer(tracer))
	}

	eng := engine.NewEngine(persistence, logger, opts...)
	sched := scheduler.NewScheduler(eng, persistence, logger)

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop(ctx)

	// Inbound events published on the bus (by webhook bridges or the CRM) are
	// routed to the same matchers the ingest API and the queue receiver feed.
	if err := eventBus.Handle(events.MessageReceivedEvent, func(ctx context.Context, event any) error {
		msg, ok := event.(*events.MessageReceived)
		if !ok {
			return fmt.Errorf("unexpected payload for %s", events.MessageReceivedEvent)
		}

		sched.CheckAndTriggerFunnels(ctx, msg.CompanyID, msg.ContactID, msg.Text)

		return nil
	}); err != nil {
		return fmt.Errorf("failed to register message handler: %w", err)
	}

	if err := eventBus.Handle(events.CRMEventReceivedEvent, func(ctx context.Context, event any) error {
		crm, ok := event.(*events.CRMEventReceived)
		if !ok {
			return fmt.Errorf("unexpected payload for %s", events.CRMEventReceivedEvent)
		}

		sched.CheckCRMTriggers(ctx, crm.CompanyID, crm.ContactID, scheduler.CRMEvent{
			Event: crm.Event,
			From:  crm.From,
			To:    crm.To,
			Tag:   crm.Tag,
			Data:  crm.Data,
		})

		return nil
	}); err != nil {
		return fmt.Errorf("failed to register crm event handler: %w", err)
	}

	if err := eventBus.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to inbound events: %w", err)
	}

	if addr := command.String("redis-addr"); addr != "" {
		receiver, err := queue.NewReceiver(queue.Config{
			Addr:  addr,
			Queue: command.String("redis-queue"),
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create queue receiver: %w", err)
		}

		err = receiver.Start(ctx, func(ctx context.Context, msg queue.InboundMessage) error {
			sched.CheckAndTriggerFunnels(ctx, msg.CompanyID, msg.ContactID, msg.Text)

			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to start queue receiver: %w", err)
		}

		defer func() {
			if err := receiver.Stop(ctx); err != nil {
				logger.Error("Failed to stop queue receiver", "error", err)
			}
		}()
	}

	logger.Info("Funnel daemon started")

	<-ctx.Done()

	logger.Info("Shutting down")

	return nil
}
