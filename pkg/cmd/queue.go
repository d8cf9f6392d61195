package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/flowrun/pkg/channels/gochannel"
	"github.com/dukex/flowrun/pkg/channels/kafka"
	"github.com/dukex/flowrun/pkg/queue"
	"github.com/dukex/flowrun/pkg/queue/pubsub"
	"github.com/dukex/flowrun/pkg/queue/redisstream"
)

const DefaultQueueName = "flowrun.executions"

// QueueConfig selects and configures the Execution Queue backend.
type QueueConfig struct {
	// Provider is redis, kafka or gochannel.
	Provider     string
	Name         string
	RedisURL     string
	KafkaBrokers string
	// Consumer identifies this process inside the consumer group.
	Consumer string
	Prefetch int
}

// NewQueue creates the queue backend. No connection is made until first use. The gochannel
// provider keeps jobs in process memory, so producer and consumer must share the returned queue.
func NewQueue(logger *slog.Logger, config QueueConfig) (queue.Queue, error) {
	name := config.Name
	if name == "" {
		name = DefaultQueueName
	}

	switch config.Provider {
	case "redis":
		return redisstream.NewFromURL(logger, config.RedisURL, redisstream.Config{
			Stream:   name,
			Consumer: config.Consumer,
			Prefetch: config.Prefetch,
		})
	case "kafka":
		brokers := strings.Split(config.KafkaBrokers, ",")
		dial := func(context.Context) (pubsub.Channel, error) {
			pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), brokers, name+".workers")
			if err != nil {
				return pubsub.Channel{}, err
			}

			return pubsub.Channel{Publisher: pub, Subscriber: sub}, nil
		}

		return pubsub.New(logger, dial, pubsub.Config{Topic: name, Prefetch: config.Prefetch}), nil
	case "gochannel":
		dial := func(context.Context) (pubsub.Channel, error) {
			pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
			if err != nil {
				return pubsub.Channel{}, err
			}

			return pubsub.Channel{Publisher: pub, Subscriber: sub, FanOut: true}, nil
		}

		return pubsub.New(logger, dial, pubsub.Config{Topic: name, Prefetch: config.Prefetch}), nil
	default:
		return nil, fmt.Errorf("unsupported queue provider: %s", config.Provider)
	}
}
