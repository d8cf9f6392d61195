// Package worker runs the consumer loop of an execution worker process.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/flowrun/pkg/queue"
	"github.com/dukex/flowrun/pkg/retry"
)

const (
	DefaultReconnectMinDelay = 500 * time.Millisecond
	DefaultReconnectMaxDelay = 30 * time.Second
)

// Worker consumes jobs from a queue and hands them to a handler, reconnecting while the broker is
// unavailable.
type Worker struct {
	id      string
	queue   queue.Queue
	handler queue.Handler
	logger  *slog.Logger

	minDelay time.Duration
	maxDelay time.Duration
}

// New creates a worker. handler is usually engine.Executor.Handle.
func New(id string, q queue.Queue, handler queue.Handler, logger *slog.Logger) *Worker {
	return &Worker{
		id:       id,
		queue:    q,
		handler:  handler,
		logger:   logger.With("module", "worker", "worker_id", id),
		minDelay: DefaultReconnectMinDelay,
		maxDelay: DefaultReconnectMaxDelay,
	}
}

// WithReconnectDelay bounds the wait between reconnection attempts.
func (w *Worker) WithReconnectDelay(minDelay, maxDelay time.Duration) *Worker {
	w.minDelay = minDelay
	w.maxDelay = maxDelay

	return w
}

// Run consumes until ctx is done. A broker outage resets the connection and retries with an
// exponential delay; any other consume error is returned.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker")

	delays := backoff.NewExponentialBackOff()
	delays.InitialInterval = w.minDelay
	delays.MaxInterval = w.maxDelay
	delays.MaxElapsedTime = 0

	for {
		err := w.queue.Consume(ctx, w.handler)
		if ctx.Err() != nil {
			w.logger.InfoContext(ctx, "Worker stopped")

			return nil
		}

		if err == nil {
			delays.Reset()

			continue
		}

		if !queue.IsUnavailable(err) {
			w.logger.ErrorContext(ctx, "Consumer failed", "error", err)

			return err
		}

		delay := delays.NextBackOff()
		w.logger.WarnContext(ctx, "Queue unavailable, reconnecting", "error", err, "delay", delay)

		resetErr := w.queue.Reset()
		if resetErr != nil {
			w.logger.WarnContext(ctx, "Failed to reset queue connection", "error", resetErr)
		}

		if retry.Wait(ctx, delay) != nil {
			w.logger.InfoContext(ctx, "Worker stopped")

			return nil
		}
	}
}
