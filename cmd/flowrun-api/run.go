package main

import (
	"context"

	"github.com/dukex/flowrun/pkg/cmd"
	"github.com/dukex/flowrun/pkg/engine"
	"github.com/dukex/flowrun/pkg/log"
	"github.com/dukex/flowrun/pkg/worker"
	cli "github.com/urfave/cli/v3"
)

func run(ctx context.Context, command *cli.Command) error {
	logger := log.WithModule("api")

	logger.InfoContext(ctx, "Initializing flowrun API")

	policy, err := cmd.NewRetryPolicy(
		command.Int("retry-attempts"),
		command.Float("retry-factor"),
		command.Duration("retry-min-timeout"),
	)
	if err != nil {
		return err
	}

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		err := persistence.Close(context.WithoutCancel(ctx))
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	catalogURL := command.String("catalog-url")
	if catalogURL == "" {
		catalogURL = command.String("database-url")
	}

	catalog, closeCatalog, err := cmd.NewCatalog(ctx, logger, catalogURL)
	if err != nil {
		return err
	}
	defer closeCatalog()

	q, err := cmd.NewQueue(logger, cmd.QueueConfig{
		Provider:     command.String("queue"),
		Name:         command.String("queue-name"),
		RedisURL:     command.String("redis-url"),
		KafkaBrokers: command.String("kafka-brokers"),
		Consumer:     "api",
		Prefetch:     command.Int("prefetch"),
	})
	if err != nil {
		return err
	}

	defer func() {
		err := q.Close()
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close queue", "error", err)
		}
	}()

	if command.Bool("embedded-worker") {
		registry, err := cmd.NewRegistry(logger)
		if err != nil {
			return err
		}

		executor := engine.NewExecutor(persistence, catalog, registry, policy, logger)

		go func() {
			err := worker.New("embedded", q, executor.Handle, logger).Run(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Embedded worker stopped", "error", err)
			}
		}()
	}

	api := NewAPI(logger, persistence, catalog, q, policy)

	return api.Start(ctx, command.Int("port"))
}
