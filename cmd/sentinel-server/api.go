// Package main provides the Sentinel API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/tracewatch/sentinel/pkg/engine"
	"github.com/tracewatch/sentinel/pkg/permissions"
	"github.com/tracewatch/sentinel/pkg/persistence"
	"github.com/tracewatch/sentinel/pkg/registry"
	"github.com/tracewatch/sentinel/pkg/scheduler"
	"github.com/tracewatch/sentinel/pkg/services"
	"github.com/tracewatch/sentinel/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	engine      *engine.Engine
	scheduler   *scheduler.Scheduler
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	eng *engine.Engine,
	sched *scheduler.Scheduler,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		registry:    registry,
		engine:      eng,
		scheduler:   sched,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	checker := permissions.NewChecker()
	ruleService := services.NewRules(a.logger, a.persistence, a.registry, checker, a.scheduler, a.engine)
	executionService := services.NewExecutions(a.logger, a.persistence, checker, a.engine)

	handlers := web.NewAPIHandlers(ruleService, executionService, a.validate, a.registry)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Sentinel API")
	})

	r := app.Group("/rules")
	r.Get("/", handlers.ListRules)
	r.Post("/", handlers.CreateRule)
	r.Get("/:id", handlers.GetRule)
	r.Patch("/:id", handlers.UpdateRule)
	r.Delete("/:id", handlers.DeleteRule)
	r.Post("/:id/activate", handlers.ActivateRule)
	r.Post("/:id/deactivate", handlers.DeactivateRule)
	r.Post("/:id/pause", handlers.PauseRule)
	r.Post("/:id/resume", handlers.ResumeRule)
	r.Post("/:id/execute", handlers.ExecuteRule)
	r.Get("/:id/executions", handlers.ListRuleExecutions)

	e := app.Group("/executions")
	e.Get("/:id", handlers.GetExecution)
	e.Post("/:id/cancel", handlers.CancelExecution)
	e.Post("/:id/retry", handlers.RetryExecution)

	app.Get("/components", handlers.ListComponents)
	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
