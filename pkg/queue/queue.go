// Package queue defines the durable Execution Queue contract shared by the API and the workers.
package queue

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrQueueUnavailable indicates no connection could be established or the broker rejected a write.
	ErrQueueUnavailable = errors.New("queue unavailable")

	// ErrPoison marks a message that can never be processed. It is dead-lettered and acknowledged.
	ErrPoison = errors.New("poison message")
)

// Unavailable wraps cause as ErrQueueUnavailable.
func Unavailable(cause error) error {
	return fmt.Errorf("%w: %w", ErrQueueUnavailable, cause)
}

// Poison wraps cause as ErrPoison.
func Poison(cause error) error {
	return fmt.Errorf("%w: %w", ErrPoison, cause)
}

// IsUnavailable reports whether err is a queue availability failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrQueueUnavailable)
}

// Handler processes one job. Its result decides the message fate, see Decide.
type Handler func(ctx context.Context, job Job) error

// Queue is a durable, at-least-once, competing-consumers work queue of execution jobs.
type Queue interface {
	// Enqueue publishes job persistently and returns once the broker acknowledged it.
	Enqueue(ctx context.Context, job Job) error

	// Consume delivers jobs to handler, at most the configured prefetch at a time, until ctx is
	// done. It returns an ErrQueueUnavailable error when the broker connection fails.
	Consume(ctx context.Context, handler Handler) error

	// Reset drops the cached connection; the next call dials again.
	Reset() error

	// Close releases the connection.
	Close() error
}

// Outcome is what a backend does with a delivered message.
type Outcome int

const (
	// OutcomeAck removes the message.
	OutcomeAck Outcome = iota
	// OutcomeDeadLetter copies the message to the dead-letter destination, then removes it.
	OutcomeDeadLetter
	// OutcomeRedeliver leaves the message unacknowledged so the broker delivers it again.
	OutcomeRedeliver
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAck:
		return "ack"
	case OutcomeDeadLetter:
		return "dead_letter"
	case OutcomeRedeliver:
		return "redeliver"
	}

	return "unknown"
}

// Decide maps a handler result to a message outcome.
func Decide(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeAck
	case errors.Is(err, ErrPoison):
		return OutcomeDeadLetter
	default:
		return OutcomeRedeliver
	}
}
