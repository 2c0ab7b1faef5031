package models

import (
	"sort"
	"time"
)

// latencySampleCap bounds the latency reservoir used for percentile
// recomputation. Old samples are dropped FIFO.
const latencySampleCap = 256

// trendBucketCount is how many hourly buckets the trend window keeps.
const trendBucketCount = 24

// TrendBucket aggregates executions that started within one hour.
type TrendBucket struct {
	Hour      time.Time `json:"hour"`
	Total     int64     `json:"total"`
	Succeeded int64     `json:"succeeded"`
	Failed    int64     `json:"failed"`
}

// RuleStatistics holds a rule's running execution counters, latency
// percentiles and hourly trend buckets. Mutations must go through Record
// under the owner's lock; concurrent executions of the same rule otherwise
// lose updates.
type RuleStatistics struct {
	TotalExecutions      int64      `json:"total_executions"`
	SuccessfulExecutions int64      `json:"successful_executions"`
	FailedExecutions     int64      `json:"failed_executions"`
	SkippedExecutions    int64      `json:"skipped_executions"`
	SuccessRate          float64    `json:"success_rate"`
	AverageDurationMS    float64    `json:"average_duration_ms"`
	P95DurationMS        int64      `json:"p95_duration_ms"`
	P99DurationMS        int64      `json:"p99_duration_ms"`
	LastExecutedAt       *time.Time `json:"last_executed_at,omitempty"`

	LatencySamplesMS []int64       `json:"latency_samples_ms,omitempty"`
	Trend            []TrendBucket `json:"trend,omitempty"`
}

// Record folds one finished execution into the statistics.
func (s *RuleStatistics) Record(status ExecutionStatus, duration time.Duration, at time.Time) {
	s.TotalExecutions++

	switch status {
	case ExecutionStatusCompleted:
		s.SuccessfulExecutions++
	case ExecutionStatusSkipped:
		s.SkippedExecutions++
	default:
		s.FailedExecutions++
	}

	counted := s.SuccessfulExecutions + s.FailedExecutions
	if counted > 0 {
		s.SuccessRate = float64(s.SuccessfulExecutions) / float64(counted)
	}

	at = at.UTC()
	s.LastExecutedAt = &at

	ms := duration.Milliseconds()
	prior := float64(len(s.LatencySamplesMS))
	s.AverageDurationMS = (s.AverageDurationMS*prior + float64(ms)) / (prior + 1)

	s.LatencySamplesMS = append(s.LatencySamplesMS, ms)
	if len(s.LatencySamplesMS) > latencySampleCap {
		s.LatencySamplesMS = s.LatencySamplesMS[len(s.LatencySamplesMS)-latencySampleCap:]
	}

	s.P95DurationMS = percentile(s.LatencySamplesMS, 0.95)
	s.P99DurationMS = percentile(s.LatencySamplesMS, 0.99)

	s.recordTrend(status, at)
}

func (s *RuleStatistics) recordTrend(status ExecutionStatus, at time.Time) {
	hour := at.Truncate(time.Hour)

	if n := len(s.Trend); n > 0 && s.Trend[n-1].Hour.Equal(hour) {
		bucket := &s.Trend[n-1]
		bucket.Total++
		applyTrendStatus(bucket, status)

		return
	}

	s.Trend = append(s.Trend, TrendBucket{Hour: hour, Total: 1})
	applyTrendStatus(&s.Trend[len(s.Trend)-1], status)

	if len(s.Trend) > trendBucketCount {
		s.Trend = s.Trend[len(s.Trend)-trendBucketCount:]
	}
}

func applyTrendStatus(bucket *TrendBucket, status ExecutionStatus) {
	switch status {
	case ExecutionStatusCompleted:
		bucket.Succeeded++
	case ExecutionStatusSkipped:
	default:
		bucket.Failed++
	}
}

// percentile computes the nearest-rank percentile of the samples.
func percentile(samples []int64, p float64) int64 {
	if len(samples) == 0 {
		return 0
	}

	sorted := make([]int64, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rank := int(p*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}

	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}

	return sorted[rank]
}
