package main

import (
	"context"
	"time"

	"github.com/dukex/flowrun/pkg/cmd"
	"github.com/dukex/flowrun/pkg/engine"
	"github.com/dukex/flowrun/pkg/log"
	"github.com/dukex/flowrun/pkg/worker"
	cli "github.com/urfave/cli/v3"
)

const defaultRetryMinTimeout = time.Second

func run(ctx context.Context, workerID string, command *cli.Command) error {
	logger := log.WithModule("flowrun-worker").With("worker_id", workerID)

	logger.InfoContext(ctx, "Initializing flowrun worker")

	policy, err := cmd.NewRetryPolicy(
		command.Int("retry-attempts"),
		command.Float("retry-factor"),
		command.Duration("retry-min-timeout"),
	)
	if err != nil {
		return err
	}

	tracer, shutdownTracer, err := cmd.NewTracer(ctx, command.Bool("otel-enabled"), "flowrun-worker")
	if err != nil {
		return err
	}

	defer func() {
		err := shutdownTracer(context.WithoutCancel(ctx))
		if err != nil {
			logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
		}
	}()

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

	registry, err := cmd.NewRegistry(logger)
	if err != nil {
		return err
	}

	q, err := cmd.NewQueue(logger, cmd.QueueConfig{
		Provider:     command.String("queue"),
		Name:         command.String("queue-name"),
		RedisURL:     command.String("redis-url"),
		KafkaBrokers: command.String("kafka-brokers"),
		Consumer:     workerID,
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

	executor := engine.NewExecutor(persistence, catalog, registry, policy, logger, engine.WithTracer(tracer))

	return worker.New(workerID, q, executor.Handle, logger).Run(ctx)
}
