package pubsub_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/flowrun/pkg/channels/gochannel"
	"github.com/dukex/flowrun/pkg/queue"
	"github.com/dukex/flowrun/pkg/queue/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	queue   *pubsub.Queue
	dials   atomic.Int32
	channel pubsub.Channel
	mu      sync.Mutex
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	h := &harness{}

	dial := func(context.Context) (pubsub.Channel, error) {
		h.dials.Add(1)

		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			return pubsub.Channel{}, err
		}

		h.mu.Lock()
		defer h.mu.Unlock()

		h.channel = pubsub.Channel{Publisher: pub, Subscriber: sub, FanOut: true}

		return h.channel, nil
	}

	h.queue = pubsub.New(logger, dial, pubsub.Config{
		Topic:           "jobs",
		Prefetch:        4,
		RedeliveryDelay: 10 * time.Millisecond,
	})

	t.Cleanup(func() { _ = h.queue.Close() })

	return h
}

func (h *harness) current() pubsub.Channel {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.channel
}

func consume(t *testing.T, q *pubsub.Queue, handler queue.Handler) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- q.Consume(ctx, handler) }()

	t.Cleanup(cancel)

	return cancel, done
}

func TestQueue_DeliversAndAcks(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.queue.Enqueue(t.Context(), queue.NewJob("exec-1", "wf-1")))
	require.NoError(t, h.queue.Enqueue(t.Context(), queue.NewJob("exec-2", "wf-1")))

	var mu sync.Mutex
	var seen []string

	cancel, done := consume(t, h.queue, func(_ context.Context, job queue.Job) error {
		mu.Lock()
		defer mu.Unlock()

		seen = append(seen, job.ExecutionID)

		return nil
	})

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(seen) == 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	assert.ElementsMatch(t, []string{"exec-1", "exec-2"}, seen)
	assert.Equal(t, int32(1), h.dials.Load(), "connection is dialed once and reused")
}

func TestQueue_DeadLettersPoison(t *testing.T) {
	h := newHarness(t)

	// Dial by enqueueing a valid job first.
	require.NoError(t, h.queue.Enqueue(t.Context(), queue.NewJob("exec-1", "wf-1")))
	channel := h.current()

	require.NoError(t, channel.Publisher.Publish("jobs", message.NewMessage(watermill.NewUUID(), []byte("{{"))))

	poisoned, err := channel.Subscriber.Subscribe(t.Context(), "jobs.poison")
	require.NoError(t, err)

	var handled atomic.Int32

	consume(t, h.queue, func(context.Context, queue.Job) error {
		handled.Add(1)

		return nil
	})

	select {
	case msg := <-poisoned:
		msg.Ack()
		assert.Equal(t, "{{", string(msg.Payload))
		assert.Contains(t, msg.Metadata.Get("flowrun_error"), "poison message")
	case <-time.After(5 * time.Second):
		t.Fatal("poison message was not dead-lettered")
	}

	assert.Eventually(t, func() bool { return handled.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestQueue_RedeliversOnHandlerError(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.queue.Enqueue(t.Context(), queue.NewJob("exec-1", "wf-1")))

	var attempts atomic.Int32

	consume(t, h.queue, func(context.Context, queue.Job) error {
		if attempts.Add(1) < 3 {
			return errors.New("store unavailable")
		}

		return nil
	})

	assert.Eventually(t, func() bool { return attempts.Load() == 3 }, 5*time.Second, 10*time.Millisecond)
}

func TestQueue_ConsumeFailsWhenSubscriptionCloses(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.queue.Enqueue(t.Context(), queue.NewJob("exec-1", "wf-1")))

	delivered := make(chan struct{}, 1)

	_, done := consume(t, h.queue, func(context.Context, queue.Job) error {
		select {
		case delivered <- struct{}{}:
		default:
		}

		return nil
	})

	<-delivered
	require.NoError(t, h.queue.Reset())

	select {
	case err := <-done:
		assert.True(t, queue.IsUnavailable(err))
	case <-time.After(5 * time.Second):
		t.Fatal("consume did not return after the subscription closed")
	}

	require.NoError(t, h.queue.Enqueue(t.Context(), queue.NewJob("exec-2", "wf-1")))
	assert.Equal(t, int32(2), h.dials.Load(), "reset forces a new dial")
}

func TestQueue_LazyConnection(t *testing.T) {
	var dials atomic.Int32

	q := pubsub.New(slog.New(slog.DiscardHandler), func(context.Context) (pubsub.Channel, error) {
		dials.Add(1)

		return pubsub.Channel{}, errors.New("connection refused")
	}, pubsub.Config{Topic: "jobs"})

	assert.Zero(t, dials.Load())

	err := q.Enqueue(t.Context(), queue.NewJob("exec-1", "wf-1"))
	require.Error(t, err)
	assert.True(t, queue.IsUnavailable(err))

	err = q.Consume(t.Context(), func(context.Context, queue.Job) error { return nil })
	assert.True(t, queue.IsUnavailable(err))
	assert.Equal(t, int32(2), dials.Load())
}
