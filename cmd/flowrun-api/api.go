// Package main provides the flowrun API server implementation.
package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/dukex/flowrun/pkg/analytics"
	"github.com/dukex/flowrun/pkg/control"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/queue"
	"github.com/dukex/flowrun/pkg/retry"
	"github.com/dukex/flowrun/pkg/services"
	"github.com/dukex/flowrun/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	workflows   persistence.WorkflowRepository
	queue       queue.Queue
	policy      retry.Policy
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	workflows persistence.WorkflowRepository,
	queue queue.Queue,
	policy retry.Policy,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		workflows:   workflows,
		queue:       queue,
		policy:      policy,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	executionService := services.NewExecution(a.persistence, a.queue, a.policy, a.logger)
	controlService := control.NewService(a.persistence, a.workflows, executionService, a.logger)
	aggregator := analytics.NewAggregator(a.persistence.ExecutionReader())

	handlers := web.NewAPIHandlers(executionService, controlService, aggregator, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker(healthcheck.Config{
		Probe: func(c fiber.Ctx) bool {
			return a.persistence.HealthCheck(c.Context()) == nil
		},
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Flowrun API")
	})

	handlers.Register(app)

	return app
}

// Start serves the API until ctx is done.
func (a *API) Start(ctx context.Context, port int) error {
	app := a.App()

	go func() {
		<-ctx.Done()

		err := app.Shutdown()
		if err != nil {
			a.logger.Error("Failed to shutdown API", "error", err)
		}
	}()

	return app.Listen(":" + strconv.Itoa(port))
}
