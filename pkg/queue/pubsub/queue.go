// Package pubsub implements the Execution Queue on a watermill publisher/subscriber pair.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/flowrun/pkg/queue"
)

const errorMetadataKey = "flowrun_error"

// Channel is a connected publisher/subscriber pair.
type Channel struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	// FanOut marks subscribers that deliver every message to every subscription. Consume then opens
	// a single subscription regardless of prefetch.
	FanOut bool
}

// Close closes the publisher and, when it is a distinct instance, the subscriber.
func (c Channel) Close() error {
	var errs []error

	if c.Publisher != nil {
		errs = append(errs, c.Publisher.Close())
	}

	if c.Subscriber != nil && any(c.Subscriber) != any(c.Publisher) {
		errs = append(errs, c.Subscriber.Close())
	}

	return errors.Join(errs...)
}

// Dialer opens a Channel.
type Dialer func(ctx context.Context) (Channel, error)

// Config configures topics and delivery.
type Config struct {
	Topic string
	// PoisonTopic receives undecodable messages. Defaults to Topic + ".poison".
	PoisonTopic string
	// Prefetch is the number of concurrent subscriptions, each holding one unacknowledged message.
	// On Kafka the subscriptions join one consumer group, so only as many of them receive
	// messages as the topic has partitions.
	Prefetch int
	// RedeliveryDelay is waited before a failed message is nacked.
	RedeliveryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.PoisonTopic == "" {
		c.PoisonTopic = c.Topic + ".poison"
	}

	if c.Prefetch < 1 {
		c.Prefetch = 1
	}

	if c.RedeliveryDelay <= 0 {
		c.RedeliveryDelay = time.Second
	}

	return c
}

// Queue implements queue.Queue on watermill.
type Queue struct {
	conn   *queue.Conn[Channel]
	config Config
	logger *slog.Logger
}

// New creates a queue that dials lazily.
func New(logger *slog.Logger, dial Dialer, config Config) *Queue {
	config = config.withDefaults()

	return &Queue{
		conn:   queue.NewConn[Channel](dial, Channel.Close),
		config: config,
		logger: logger.With("module", "pubsub_queue", "topic", config.Topic),
	}
}

// Enqueue publishes the job to the topic.
func (q *Queue) Enqueue(ctx context.Context, job queue.Job) error {
	payload, err := queue.EncodeJob(job)
	if err != nil {
		return err
	}

	channel, err := q.conn.Get(ctx)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)

	err = channel.Publisher.Publish(q.config.Topic, msg)
	if err != nil {
		return queue.Unavailable(fmt.Errorf("publish to %s: %w", q.config.Topic, err))
	}

	q.logger.DebugContext(ctx, "job enqueued", "message_id", msg.UUID, "execution_id", job.ExecutionID)

	return nil
}

// Reset drops the cached channel.
func (q *Queue) Reset() error {
	return q.conn.Reset()
}

// Close closes the channel.
func (q *Queue) Close() error {
	return q.conn.Close()
}

// Consume subscribes to the topic until ctx is done. A subscription closed by the broker ends
// Consume with an ErrQueueUnavailable error.
func (q *Queue) Consume(ctx context.Context, handler queue.Handler) error {
	channel, err := q.conn.Get(ctx)
	if err != nil {
		return err
	}

	subscriptions := q.config.Prefetch
	if channel.FanOut {
		subscriptions = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	streams := make([]<-chan *message.Message, 0, subscriptions)

	for range subscriptions {
		messages, err := channel.Subscriber.Subscribe(ctx, q.config.Topic)
		if err != nil {
			return queue.Unavailable(fmt.Errorf("subscribe to %s: %w", q.config.Topic, err))
		}

		streams = append(streams, messages)
	}

	q.logger.InfoContext(ctx, "Starting topic consumer", "subscriptions", subscriptions)

	var (
		wg       sync.WaitGroup
		once     sync.Once
		closedBy error
	)

	for _, messages := range streams {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for msg := range messages {
				q.process(ctx, channel, msg, handler)
			}

			if ctx.Err() == nil {
				once.Do(func() {
					closedBy = queue.Unavailable(fmt.Errorf("subscription to %s closed", q.config.Topic))
				})
				cancel()
			}
		}()
	}

	wg.Wait()

	if closedBy != nil {
		return closedBy
	}

	q.logger.InfoContext(ctx, "Topic consumer stopped")

	return nil
}

func (q *Queue) process(ctx context.Context, channel Channel, msg *message.Message, handler queue.Handler) {
	logger := q.logger.With("message_id", msg.UUID)

	job, err := queue.DecodeJob(msg.Payload)
	if err == nil {
		logger = logger.With("execution_id", job.ExecutionID)
		err = handler(ctx, job)
	}

	switch queue.Decide(err) {
	case queue.OutcomeAck:
		msg.Ack()
	case queue.OutcomeDeadLetter:
		logger.WarnContext(ctx, "dead-lettering poison message", "error", err)

		poison := message.NewMessage(watermill.NewUUID(), msg.Payload)
		maps.Copy(poison.Metadata, msg.Metadata)
		poison.Metadata.Set(errorMetadataKey, err.Error())

		pubErr := channel.Publisher.Publish(q.config.PoisonTopic, poison)
		if pubErr != nil {
			logger.ErrorContext(ctx, "failed to dead-letter message", "error", pubErr)
			msg.Nack()

			return
		}

		msg.Ack()
	case queue.OutcomeRedeliver:
		logger.ErrorContext(ctx, "job nacked for redelivery", "error", err)

		select {
		case <-time.After(q.config.RedeliveryDelay):
		case <-ctx.Done():
		}

		msg.Nack()
	}
}
