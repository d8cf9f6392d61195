package analytics

import (
	"cmp"
	"slices"
	"time"

	"github.com/dukex/flowrun/pkg/models"
)

// DayLayout is the format of DailyBucket.Date.
const DayLayout = "2006-01-02"

// StatusCounts counts executions per status.
type StatusCounts struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Paused    int `json:"paused"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// DurationStats describes the wall-clock duration of completed executions.
type DurationStats struct {
	Count int   `json:"count"`
	MinMs int64 `json:"min_ms"`
	AvgMs int64 `json:"avg_ms"`
	MaxMs int64 `json:"max_ms"`
}

// NodeStat counts the outcomes of one workflow node.
type NodeStat struct {
	NodeID    string `json:"node_id"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Total     int    `json:"total"`
}

// DailyBucket aggregates the executions started on one UTC calendar day.
type DailyBucket struct {
	Date          string  `json:"date"`
	Total         int     `json:"total"`
	Completed     int     `json:"completed"`
	Failed        int     `json:"failed"`
	SuccessRate   float64 `json:"success_rate"`
	FailureRate   float64 `json:"failure_rate"`
	AvgDurationMs int64   `json:"avg_duration_ms"`
}

// ComputeStatusCounts counts executions per status.
func ComputeStatusCounts(executions []*models.Execution) StatusCounts {
	var counts StatusCounts

	for _, execution := range executions {
		switch execution.Status {
		case models.ExecutionStatusPending:
			counts.Pending++
		case models.ExecutionStatusRunning:
			counts.Running++
		case models.ExecutionStatusPaused:
			counts.Paused++
		case models.ExecutionStatusCompleted:
			counts.Completed++
		case models.ExecutionStatusFailed:
			counts.Failed++
		default:
			continue
		}

		counts.Total++
	}

	return counts
}

// ComputeDurationStats returns min, average and max duration over completed executions.
func ComputeDurationStats(executions []*models.Execution) DurationStats {
	var (
		stats DurationStats
		sum   time.Duration
		low   time.Duration
		high  time.Duration
	)

	for _, execution := range executions {
		if execution.Status != models.ExecutionStatusCompleted {
			continue
		}

		duration, ok := execution.Duration()
		if !ok {
			continue
		}

		if stats.Count == 0 || duration < low {
			low = duration
		}

		if stats.Count == 0 || duration > high {
			high = duration
		}

		sum += duration
		stats.Count++
	}

	if stats.Count == 0 {
		return stats
	}

	stats.MinMs = low.Milliseconds()
	stats.MaxMs = high.Milliseconds()
	stats.AvgMs = (sum / time.Duration(stats.Count)).Milliseconds()

	return stats
}

// ComputeNodeStats counts terminal node outcomes per node id, sorted by node id.
func ComputeNodeStats(nodes []*models.NodeExecution) []NodeStat {
	byNode := make(map[string]*NodeStat)

	for _, row := range nodes {
		stat, ok := byNode[row.NodeID]
		if !ok {
			stat = &NodeStat{NodeID: row.NodeID}
			byNode[row.NodeID] = stat
		}

		switch row.Status {
		case models.NodeStatusCompleted:
			stat.Completed++
		case models.NodeStatusFailed:
			stat.Failed++
		case models.NodeStatusSkipped:
			stat.Skipped++
		case models.NodeStatusPending, models.NodeStatusRunning:
		}

		stat.Total++
	}

	stats := make([]NodeStat, 0, len(byNode))
	for _, stat := range byNode {
		stats = append(stats, *stat)
	}

	slices.SortFunc(stats, func(a, b NodeStat) int {
		return cmp.Compare(a.NodeID, b.NodeID)
	})

	return stats
}

// ComputeDailyTrend buckets executions by the UTC date of StartedAt. Only days with at least one
// execution appear, in ascending order. Rates are percentages of the bucket total; the average
// duration covers the bucket's finished executions.
func ComputeDailyTrend(executions []*models.Execution) []DailyBucket {
	type accumulator struct {
		bucket   DailyBucket
		finished int
		sum      time.Duration
	}

	byDay := make(map[string]*accumulator)

	for _, execution := range executions {
		day := execution.StartedAt.UTC().Format(DayLayout)

		acc, ok := byDay[day]
		if !ok {
			acc = &accumulator{bucket: DailyBucket{Date: day}}
			byDay[day] = acc
		}

		acc.bucket.Total++

		switch execution.Status {
		case models.ExecutionStatusCompleted:
			acc.bucket.Completed++
		case models.ExecutionStatusFailed:
			acc.bucket.Failed++
		case models.ExecutionStatusPending, models.ExecutionStatusRunning, models.ExecutionStatusPaused:
		}

		if duration, ok := execution.Duration(); ok {
			acc.finished++
			acc.sum += duration
		}
	}

	series := make([]DailyBucket, 0, len(byDay))

	for _, acc := range byDay {
		bucket := acc.bucket
		bucket.SuccessRate = rate(bucket.Completed, bucket.Total)
		bucket.FailureRate = rate(bucket.Failed, bucket.Total)

		if acc.finished > 0 {
			bucket.AvgDurationMs = (acc.sum / time.Duration(acc.finished)).Milliseconds()
		}

		series = append(series, bucket)
	}

	slices.SortFunc(series, func(a, b DailyBucket) int {
		return cmp.Compare(a.Date, b.Date)
	})

	return series
}

func rate(count, total int) float64 {
	if total == 0 {
		return 0
	}

	return float64(count) / float64(total) * 100
}
