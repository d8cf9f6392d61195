// Package redisstream implements the Execution Queue on a Redis Stream consumer group.
package redisstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dukex/flowrun/pkg/queue"
	redis "github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

const (
	payloadField = "payload"
	ackTimeout   = 5 * time.Second
)

// Config configures the stream, its consumer group and delivery limits.
type Config struct {
	// Stream is the stream key; dead letters go to "<Stream>:dead".
	Stream string
	// Group is the consumer group shared by every worker.
	Group string
	// Consumer names this process inside the group.
	Consumer string
	// Prefetch is the maximum number of unacknowledged messages held by this consumer.
	Prefetch int
	// Block bounds how long one XREADGROUP waits for new messages.
	Block time.Duration
	// ClaimMinIdle is how long a message must stay unacknowledged before another consumer may claim it.
	ClaimMinIdle time.Duration
	// ReclaimSchedule is the cron spec of the reclaim pass. It must run more often than ClaimMinIdle.
	ReclaimSchedule string
}

func (c Config) withDefaults() Config {
	if c.Group == "" {
		c.Group = "flowrun-workers"
	}

	if c.Consumer == "" {
		c.Consumer = "worker"
	}

	if c.Prefetch < 1 {
		c.Prefetch = 1
	}

	if c.Block <= 0 {
		c.Block = 2 * time.Second
	}

	if c.ClaimMinIdle <= 0 {
		c.ClaimMinIdle = 5 * time.Minute
	}

	if c.ReclaimSchedule == "" {
		c.ReclaimSchedule = "@every 30s"
	}

	return c
}

// DeadLetterStream returns the dead-letter stream key.
func (c Config) DeadLetterStream() string {
	return c.Stream + ":dead"
}

// Queue implements queue.Queue on Redis Streams.
type Queue struct {
	conn   *queue.Conn[*redis.Client]
	config Config
	logger *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New creates a queue that dials Redis lazily with the given options.
func New(logger *slog.Logger, options *redis.Options, config Config) *Queue {
	dial := func(ctx context.Context) (*redis.Client, error) {
		client := redis.NewClient(options)

		err := client.Ping(ctx).Err()
		if err != nil {
			_ = client.Close()

			return nil, fmt.Errorf("failed to connect to redis at %s: %w", options.Addr, err)
		}

		return client, nil
	}

	return &Queue{
		conn:     queue.NewConn(dial, (*redis.Client).Close),
		config:   config.withDefaults(),
		logger:   logger.With("module", "redis_queue", "stream", config.Stream),
		inFlight: make(map[string]struct{}),
	}
}

// NewFromURL parses a redis:// URL and creates the queue.
func NewFromURL(logger *slog.Logger, redisURL string, config Config) (*Queue, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	return New(logger, options, config), nil
}

// Enqueue appends the job to the stream.
func (q *Queue) Enqueue(ctx context.Context, job queue.Job) error {
	payload, err := queue.EncodeJob(job)
	if err != nil {
		return err
	}

	client, err := q.conn.Get(ctx)
	if err != nil {
		return err
	}

	id, err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.config.Stream,
		Values: map[string]any{payloadField: string(payload)},
	}).Result()
	if err != nil {
		return queue.Unavailable(fmt.Errorf("xadd: %w", err))
	}

	q.logger.DebugContext(ctx, "job enqueued", "message_id", id, "execution_id", job.ExecutionID)

	return nil
}

// Reset drops the cached Redis client.
func (q *Queue) Reset() error {
	return q.conn.Reset()
}

// Close closes the Redis client.
func (q *Queue) Close() error {
	return q.conn.Close()
}

// Consume reads the stream as a member of the consumer group until ctx is done.
func (q *Queue) Consume(ctx context.Context, handler queue.Handler) error {
	client, err := q.conn.Get(ctx)
	if err != nil {
		return err
	}

	err = q.ensureGroup(ctx, client)
	if err != nil {
		return err
	}

	reclaimed := make(chan redis.XMessage, q.config.Prefetch)

	scheduler := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err = scheduler.AddFunc(q.config.ReclaimSchedule, func() {
		q.reclaim(ctx, client, reclaimed)
	})
	if err != nil {
		return fmt.Errorf("invalid reclaim schedule %q: %w", q.config.ReclaimSchedule, err)
	}

	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	q.logger.InfoContext(ctx, "Starting stream consumer",
		"group", q.config.Group,
		"consumer", q.config.Consumer,
		"prefetch", q.config.Prefetch,
	)

	slots := make(chan struct{}, q.config.Prefetch)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		free := acquire(ctx, slots)
		if free == 0 {
			q.logger.InfoContext(ctx, "Stream consumer stopped")

			return nil
		}

		messages := drain(reclaimed, free)

		if len(messages) < free {
			read, err := q.read(ctx, client, free-len(messages))
			if err != nil {
				release(slots, free)

				if ctx.Err() != nil {
					return nil
				}

				return err
			}

			messages = append(messages, read...)
		}

		release(slots, free-len(messages))

		for _, message := range messages {
			q.track(message.ID, true)
			wg.Add(1)

			go func() {
				defer wg.Done()
				defer release(slots, 1)
				defer q.track(message.ID, false)

				q.process(ctx, client, message, handler)
			}()
		}
	}
}

func (q *Queue) ensureGroup(ctx context.Context, client *redis.Client) error {
	err := client.XGroupCreateMkStream(ctx, q.config.Stream, q.config.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return queue.Unavailable(fmt.Errorf("create consumer group: %w", err))
	}

	return nil
}

func (q *Queue) read(ctx context.Context, client *redis.Client, count int) ([]redis.XMessage, error) {
	streams, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.config.Group,
		Consumer: q.config.Consumer,
		Streams:  []string{q.config.Stream, ">"},
		Count:    int64(count),
		Block:    q.config.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, queue.Unavailable(fmt.Errorf("xreadgroup: %w", err))
	}

	var messages []redis.XMessage
	for _, stream := range streams {
		messages = append(messages, stream.Messages...)
	}

	return messages, nil
}

func (q *Queue) process(ctx context.Context, client *redis.Client, message redis.XMessage, handler queue.Handler) {
	logger := q.logger.With("message_id", message.ID)

	payload, _ := message.Values[payloadField].(string)

	job, err := queue.DecodeJob([]byte(payload))
	if err == nil {
		logger = logger.With("execution_id", job.ExecutionID)
		err = handler(ctx, job)
	}

	outcome := queue.Decide(err)

	// Acknowledgements must reach Redis even when the consumer is shutting down.
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
	defer cancel()

	switch outcome {
	case queue.OutcomeAck:
		q.ack(ackCtx, client, logger, message.ID)
	case queue.OutcomeDeadLetter:
		logger.WarnContext(ctx, "dead-lettering poison message", "error", err)

		deadErr := client.XAdd(ackCtx, &redis.XAddArgs{
			Stream: q.config.DeadLetterStream(),
			Values: map[string]any{
				payloadField: payload,
				"message_id": message.ID,
				"error":      err.Error(),
			},
		}).Err()
		if deadErr != nil {
			logger.ErrorContext(ctx, "failed to dead-letter message", "error", deadErr)

			return
		}

		q.ack(ackCtx, client, logger, message.ID)
	case queue.OutcomeRedeliver:
		logger.ErrorContext(ctx, "job left pending for redelivery", "error", err)
	}
}

func (q *Queue) ack(ctx context.Context, client *redis.Client, logger *slog.Logger, id string) {
	err := client.XAck(ctx, q.config.Stream, q.config.Group, id).Err()
	if err != nil {
		logger.ErrorContext(ctx, "failed to ack message", "error", err)
	}
}

// reclaim refreshes the idle time of messages this consumer is processing, then claims messages
// other consumers left pending for longer than ClaimMinIdle, as many as the buffer can hold.
func (q *Queue) reclaim(ctx context.Context, client *redis.Client, reclaimed chan<- redis.XMessage) {
	if ctx.Err() != nil {
		return
	}

	inFlight := q.inFlightIDs()
	if len(inFlight) > 0 {
		err := client.XClaimJustID(ctx, &redis.XClaimArgs{
			Stream:   q.config.Stream,
			Group:    q.config.Group,
			Consumer: q.config.Consumer,
			MinIdle:  0,
			Messages: inFlight,
		}).Err()
		if err != nil {
			q.logger.WarnContext(ctx, "failed to refresh in-flight messages", "error", err)
		}
	}

	room := cap(reclaimed) - len(reclaimed)
	if room == 0 {
		return
	}

	messages, _, err := client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.config.Stream,
		Group:    q.config.Group,
		Consumer: q.config.Consumer,
		MinIdle:  q.config.ClaimMinIdle,
		Start:    "0-0",
		Count:    int64(room),
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			q.logger.WarnContext(ctx, "failed to reclaim pending messages", "error", err)
		}

		return
	}

	for _, message := range messages {
		if q.isInFlight(message.ID) {
			continue
		}

		q.logger.InfoContext(ctx, "reclaimed stale message", "message_id", message.ID)

		select {
		case reclaimed <- message:
		default:
			return
		}
	}
}

func (q *Queue) track(id string, inFlight bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if inFlight {
		q.inFlight[id] = struct{}{}
	} else {
		delete(q.inFlight, id)
	}
}

func (q *Queue) isInFlight(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, ok := q.inFlight[id]

	return ok
}

func (q *Queue) inFlightIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := make([]string, 0, len(q.inFlight))
	for id := range q.inFlight {
		ids = append(ids, id)
	}

	return ids
}

// acquire blocks until at least one slot is free, then takes every other free slot. It returns 0
// when ctx is done.
func acquire(ctx context.Context, slots chan struct{}) int {
	select {
	case slots <- struct{}{}:
	case <-ctx.Done():
		return 0
	}

	taken := 1

	for taken < cap(slots) {
		select {
		case slots <- struct{}{}:
			taken++
		default:
			return taken
		}
	}

	return taken
}

func release(slots chan struct{}, n int) {
	for range n {
		<-slots
	}
}

func drain(reclaimed <-chan redis.XMessage, limit int) []redis.XMessage {
	var messages []redis.XMessage

	for len(messages) < limit {
		select {
		case message := <-reclaimed:
			messages = append(messages, message)
		default:
			return messages
		}
	}

	return messages
}
