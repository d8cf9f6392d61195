// Package retry holds the node retry policy shared by every worker.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultAttempts   = 3
	DefaultFactor     = 2.0
	DefaultMinTimeout = 1000 * time.Millisecond
)

// Policy bounds how often a failing node is invoked and how long to wait between tries.
type Policy struct {
	// Attempts is the maximum number of invocations per node, the first one included.
	Attempts int
	// Factor multiplies the delay after every retry.
	Factor float64
	// MinTimeout is the delay before the first retry.
	MinTimeout time.Duration
}

// OnRetry is called after a transient failure, before waiting delay for the next attempt.
// attempt is the 1-indexed attempt that just failed.
type OnRetry func(attempt int, err error, delay time.Duration)

// DefaultPolicy returns attempts=3, factor=2, minTimeout=1s.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:   DefaultAttempts,
		Factor:     DefaultFactor,
		MinTimeout: DefaultMinTimeout,
	}
}

// Validate reports a policy that cannot be applied.
func (p Policy) Validate() error {
	if p.Attempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1, got %d", p.Attempts)
	}

	if p.Factor < 1 {
		return fmt.Errorf("retry factor must be at least 1, got %v", p.Factor)
	}

	if p.MinTimeout < 0 {
		return fmt.Errorf("retry min timeout must not be negative, got %s", p.MinTimeout)
	}

	return nil
}

// Delay returns the wait before retry k (1-indexed): MinTimeout × Factor^(k-1).
func (p Policy) Delay(k int) time.Duration {
	if k < 1 {
		return 0
	}

	return time.Duration(float64(p.MinTimeout) * math.Pow(p.Factor, float64(k-1)))
}

// Delays returns every wait the policy produces, one per retry.
func (p Policy) Delays() []time.Duration {
	delays := make([]time.Duration, 0, max(p.Attempts-1, 0))

	for k := 1; k < p.Attempts; k++ {
		delays = append(delays, p.Delay(k))
	}

	return delays
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = p.MinTimeout
	exponential.Multiplier = p.Factor
	exponential.RandomizationFactor = 0
	exponential.MaxInterval = time.Duration(math.MaxInt64)
	exponential.MaxElapsedTime = 0

	retries := max(p.Attempts-1, 0)

	return backoff.WithContext(backoff.WithMaxRetries(exponential, uint64(retries)), ctx)
}

// Do invokes fn until it succeeds, returns an error isTransient rejects, or the policy's attempts
// are exhausted. It returns the number of invocations and the last error. Waiting stops early with
// the context error when ctx is done.
func Do(
	ctx context.Context,
	policy Policy,
	isTransient func(error) bool,
	fn func(ctx context.Context, attempt int) error,
	onRetry ...OnRetry,
) (int, error) {
	attempt := 0

	operation := func() error {
		attempt++

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}

		if !isTransient(err) {
			return backoff.Permanent(err)
		}

		return err
	}

	notify := func(err error, delay time.Duration) {
		for _, hook := range onRetry {
			hook(attempt, err, delay)
		}
	}

	err := backoff.RetryNotify(operation, policy.backOff(ctx), notify)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return attempt, permanent.Err
		}

		return attempt, err
	}

	return attempt, nil
}

// Wait sleeps for delay or returns early with the context error.
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
