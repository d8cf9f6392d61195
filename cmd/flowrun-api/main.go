package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/flowrun/pkg/cmd"
	"github.com/dukex/flowrun/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultPort            = 9091
	defaultRetryMinTimeout = 200 * time.Millisecond
)

func main() {
	cmd := &cli.Command{
		Name:                  "flowrun-api",
		Usage:                 "Trigger, control and inspect workflow executions",
		EnableShellCompletion: true,
		Flags:                 flags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, command)
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Execution store URL (postgres://... or file://...)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "catalog-url",
			Usage:   "Workflow catalog URL, defaults to the database URL",
			Sources: cli.EnvVars("CATALOG_URL"),
		},
		&cli.StringFlag{
			Name:    "queue",
			Usage:   "Execution queue provider (redis, kafka, gochannel)",
			Value:   "redis",
			Sources: cli.EnvVars("QUEUE_PROVIDER"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for the redis queue provider",
			Value:   "redis://localhost:6379/0",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers for the kafka queue provider",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "queue-name",
			Usage:   "Stream or topic holding execution jobs",
			Value:   cmd.DefaultQueueName,
			Sources: cli.EnvVars("QUEUE_NAME"),
		},
		&cli.IntFlag{
			Name:    "retry-attempts",
			Usage:   "Maximum enqueue attempts while the queue is unavailable",
			Value:   3,
			Sources: cli.EnvVars("RETRY_ATTEMPTS"),
		},
		&cli.FloatFlag{
			Name:    "retry-factor",
			Usage:   "Multiplier applied to the delay after every retry",
			Value:   2,
			Sources: cli.EnvVars("RETRY_FACTOR"),
		},
		&cli.DurationFlag{
			Name:    "retry-min-timeout",
			Usage:   "Delay before the first retry",
			Value:   defaultRetryMinTimeout,
			Sources: cli.EnvVars("RETRY_MIN_TIMEOUT"),
		},
		&cli.BoolFlag{
			Name:    "embedded-worker",
			Usage:   "Run a worker inside the API process (required by the gochannel queue)",
			Sources: cli.EnvVars("EMBEDDED_WORKER"),
		},
		&cli.IntFlag{
			Name:    "prefetch",
			Usage:   "Maximum number of executions run concurrently by the embedded worker",
			Value:   1,
			Sources: cli.EnvVars("PREFETCH"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}
