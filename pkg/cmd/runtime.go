package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/flowrun/pkg/otelhelper"
	"github.com/dukex/flowrun/pkg/retry"
	"go.opentelemetry.io/otel/trace"
)

// NewTracer returns an OTLP tracer when enabled and a no-op tracer otherwise.
//
// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func NewTracer(ctx context.Context, enabled bool, serviceName string) (trace.Tracer, otelhelper.Shutdown, error) {
	if !enabled {
		return otelhelper.NoopTracer(), func(context.Context) error { return nil }, nil
	}

	tracer, shutdown, err := otelhelper.NewTracer(ctx, serviceName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	return tracer, shutdown, nil
}

// NewRetryPolicy builds and validates the node and enqueue retry policy.
func NewRetryPolicy(attempts int, factor float64, minTimeout time.Duration) (retry.Policy, error) {
	policy := retry.Policy{
		Attempts:   attempts,
		Factor:     factor,
		MinTimeout: minTimeout,
	}

	err := policy.Validate()
	if err != nil {
		return retry.Policy{}, err
	}

	return policy, nil
}
