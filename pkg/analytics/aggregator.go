// Package analytics computes read-only execution statistics for a workflow over a trailing window.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/flowrun/pkg/persistence"
)

// MaxDays bounds the trailing window.
const MaxDays = 365

// ErrInvalidWindow is returned for a window outside 1..MaxDays days.
var ErrInvalidWindow = errors.New("invalid analytics window")

// Summary holds every aggregate for one workflow and window.
type Summary struct {
	WorkflowID string        `json:"workflow_id"`
	Days       int           `json:"days"`
	Since      time.Time     `json:"since"`
	Status     StatusCounts  `json:"status"`
	Durations  DurationStats `json:"durations"`
	Nodes      []NodeStat    `json:"nodes"`
	Daily      []DailyBucket `json:"daily"`
}

// Aggregator reads execution rows and computes statistics. It never writes.
type Aggregator struct {
	reader persistence.ExecutionReader
	now    func() time.Time
}

// NewAggregator creates an aggregator over reader.
func NewAggregator(reader persistence.ExecutionReader) *Aggregator {
	return &Aggregator{
		reader: reader,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock returns a copy of the aggregator using now as its time source.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	clone := *a
	clone.now = now

	return &clone
}

// Since returns the start of a window of the given days ending now.
func (a *Aggregator) Since(days int) (time.Time, error) {
	if days < 1 || days > MaxDays {
		return time.Time{}, fmt.Errorf("%w: days must be between 1 and %d, got %d", ErrInvalidWindow, MaxDays, days)
	}

	return a.now().UTC().Add(-time.Duration(days) * 24 * time.Hour), nil
}

// StatusCounts counts the workflow's executions per status.
func (a *Aggregator) StatusCounts(ctx context.Context, workflowID string, days int) (StatusCounts, error) {
	since, err := a.Since(days)
	if err != nil {
		return StatusCounts{}, err
	}

	executions, err := a.reader.ExecutionsSince(ctx, workflowID, since)
	if err != nil {
		return StatusCounts{}, fmt.Errorf("read executions: %w", err)
	}

	return ComputeStatusCounts(executions), nil
}

// DurationStats returns min, average and max duration of completed executions.
func (a *Aggregator) DurationStats(ctx context.Context, workflowID string, days int) (DurationStats, error) {
	since, err := a.Since(days)
	if err != nil {
		return DurationStats{}, err
	}

	executions, err := a.reader.ExecutionsSince(ctx, workflowID, since)
	if err != nil {
		return DurationStats{}, fmt.Errorf("read executions: %w", err)
	}

	return ComputeDurationStats(executions), nil
}

// NodeStats counts node outcomes across the workflow's executions.
func (a *Aggregator) NodeStats(ctx context.Context, workflowID string, days int) ([]NodeStat, error) {
	since, err := a.Since(days)
	if err != nil {
		return nil, err
	}

	nodes, err := a.reader.NodeExecutionsSince(ctx, workflowID, since)
	if err != nil {
		return nil, fmt.Errorf("read node executions: %w", err)
	}

	return ComputeNodeStats(nodes), nil
}

// DailyTrend buckets the workflow's executions per UTC day.
func (a *Aggregator) DailyTrend(ctx context.Context, workflowID string, days int) ([]DailyBucket, error) {
	since, err := a.Since(days)
	if err != nil {
		return nil, err
	}

	executions, err := a.reader.ExecutionsSince(ctx, workflowID, since)
	if err != nil {
		return nil, fmt.Errorf("read executions: %w", err)
	}

	return ComputeDailyTrend(executions), nil
}

// Summary computes every aggregate from a single read of the window.
func (a *Aggregator) Summary(ctx context.Context, workflowID string, days int) (*Summary, error) {
	since, err := a.Since(days)
	if err != nil {
		return nil, err
	}

	executions, err := a.reader.ExecutionsSince(ctx, workflowID, since)
	if err != nil {
		return nil, fmt.Errorf("read executions: %w", err)
	}

	nodes, err := a.reader.NodeExecutionsSince(ctx, workflowID, since)
	if err != nil {
		return nil, fmt.Errorf("read node executions: %w", err)
	}

	return &Summary{
		WorkflowID: workflowID,
		Days:       days,
		Since:      since,
		Status:     ComputeStatusCounts(executions),
		Durations:  ComputeDurationStats(executions),
		Nodes:      ComputeNodeStats(nodes),
		Daily:      ComputeDailyTrend(executions),
	}, nil
}
