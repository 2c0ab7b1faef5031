package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	cli "github.com/urfave/cli/v3"

	pkgcmd "github.com/tracewatch/sentinel/pkg/cmd"
	"github.com/tracewatch/sentinel/pkg/config"
	"github.com/tracewatch/sentinel/pkg/engine"
	"github.com/tracewatch/sentinel/pkg/log"
	"github.com/tracewatch/sentinel/pkg/otelhelper"
	"github.com/tracewatch/sentinel/pkg/permissions"
	"github.com/tracewatch/sentinel/pkg/sandbox"
	"github.com/tracewatch/sentinel/pkg/scheduler"
	"github.com/tracewatch/sentinel/pkg/services"
	"github.com/tracewatch/sentinel/pkg/sinks"
)

const (
	defaultPort         = 9091
	schedulerStopBudget = 30 * time.Second
)

func main() {
	logger := log.WithModule("server")

	command := &cli.Command{
		Name:                  "sentinel-server",
		Usage:                 "Create, schedule and execute automation rules",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (file:// or redis://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, memory)",
				Value:   "memory",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "sink-url",
				Usage:   "Base URL of the trace store receiving feedback, tags and exports",
				Value:   "http://localhost:3000/api",
				Sources: cli.EnvVars("SINK_URL"),
			},
			&cli.StringFlag{
				Name:    "sink-api-key",
				Usage:   "Bearer token for the trace store sink",
				Sources: cli.EnvVars("SINK_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "rules-file",
				Usage:   "Optional YAML file with rules to provision at startup",
				Sources: cli.EnvVars("RULES_FILE"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OpenTelemetry tracing of rule executions",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Sentinel server")

			persistence, err := pkgcmd.NewPersistence(command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := pkgcmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			llmProvider, err := pkgcmd.NewLLMProviderFromEnv(logger)
			if err != nil {
				return err
			}

			sink := sinks.NewHTTPSink(logger, command.String("sink-url"), command.String("sink-api-key"))

			registry := pkgcmd.NewRegistry(logger, pkgcmd.RegistryDeps{
				LLMProvider: llmProvider,
				Sandbox:     sandbox.NewRunner(logger),
				Publisher:   eventBus,
				Sink:        sink,
			})

			engineOpts := []engine.Option{engine.WithStatisticsSink(sink)}

			if command.Bool("tracing") {
				tracer, err := otelhelper.NewTracer(ctx, "sentinel-server")
				if err != nil {
					return err
				}

				engineOpts = append(engineOpts, engine.WithTracer(tracer))
			}

			eng := engine.NewEngine(logger, registry, persistence, eventBus, engineOpts...)
			sched := scheduler.NewScheduler(logger, eng, persistence.Rules(), eventBus)

			if err := sched.Start(ctx); err != nil {
				return err
			}

			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), schedulerStopBudget)
				defer cancel()

				if err := sched.Stop(stopCtx); err != nil {
					logger.Error("Failed to stop scheduler cleanly", "error", err)
				}
			}()

			api := NewAPI(logger, persistence, registry, eng, sched)

			if rulesFile := command.String("rules-file"); rulesFile != "" {
				ruleService := services.NewRules(logger, persistence, registry,
					permissions.NewChecker(), sched, eng)

				if err := provisionRules(ctx, logger, ruleService, rulesFile); err != nil {
					return err
				}
			}

			if err := api.Start(command.Int("port")); err != nil {
				logger.ErrorContext(ctx, "API server stopped", "error", err)
			}

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

// provisionRules seeds the rules declared in a YAML file. Rules whose name
// is already taken are left untouched so restarts do not duplicate them.
func provisionRules(ctx context.Context, logger *slog.Logger, ruleService *services.Rules, path string) error {
	file, err := config.LoadRuleFile(path)
	if err != nil {
		return err
	}

	actor := permissions.Actor{ID: "system", Role: permissions.RoleAdmin}

	for _, rule := range file.Rules {
		created, err := ruleService.Create(ctx, actor, rule)
		if err != nil {
			if services.IsConflictError(err) {
				logger.InfoContext(ctx, "Rule already provisioned", "rule_name", rule.Name)

				continue
			}

			return err
		}

		logger.InfoContext(ctx, "Provisioned rule", "rule_id", created.ID, "rule_name", created.Name)
	}

	return nil
}
