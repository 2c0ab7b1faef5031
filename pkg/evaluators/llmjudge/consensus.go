package llmjudge

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/tracewatch/sentinel/pkg/models"
)

// runConsensus performs N independent evaluations with jittered temperature
// and aggregates them by response format. Failed attempts contribute a nil
// entry and are excluded from aggregation.
func (j *Judge) runConsensus(ctx context.Context, prompt string, result *models.EvaluatorResult, logger *slog.Logger) {
	count := j.config.ConsensusCount
	attempts := make([]*parsed, count)

	for i := 0; i < count; i++ {
		temperature := j.config.Temperature + jitter(i)

		response, err := j.complete(ctx, prompt, temperature)
		if err != nil {
			logger.Warn("consensus attempt failed", "attempt", i, "error", err)

			continue
		}

		p := j.parse(response.Content)
		attempts[i] = &p
	}

	succeeded := 0

	for _, a := range attempts {
		if a != nil {
			succeeded++
		}
	}

	if succeeded == 0 {
		result.Status = models.ComponentStatusFailed
		result.Value = nil
		confidence := 0.0
		result.Confidence = &confidence
		result.Error = fmt.Sprintf("all %d consensus attempts failed", count)

		return
	}

	result.Status = models.ComponentStatusCompleted

	switch j.config.ResponseFormat {
	case FormatScore:
		aggregateScores(attempts, result)
	case FormatClassification:
		aggregateVotes(attempts, result)
	default:
		aggregateBest(attempts, result)
	}

	result.Warnings = append(result.Warnings,
		fmt.Sprintf("consensus: %d/%d attempts succeeded", succeeded, count))
}

// jitter produces a deterministic ±0.05 temperature offset per attempt.
func jitter(attempt int) float64 {
	switch attempt % 3 {
	case 1:
		return 0.05
	case 2:
		return -0.05
	default:
		return 0
	}
}

// aggregateScores averages the numeric samples; agreement is one minus the
// relative coefficient of variation, so identical samples agree perfectly.
func aggregateScores(attempts []*parsed, result *models.EvaluatorResult) {
	var scores []float64

	for _, a := range attempts {
		if a == nil {
			continue
		}

		if f, ok := a.value.(float64); ok {
			scores = append(scores, f)
		}
	}

	if len(scores) == 0 {
		result.Status = models.ComponentStatusFailed
		confidence := 0.0
		result.Confidence = &confidence
		result.Error = "no parseable scores among consensus attempts"

		return
	}

	var sum float64
	for _, s := range scores {
		sum += s
	}

	mean := sum / float64(len(scores))

	var variance float64
	for _, s := range scores {
		variance += (s - mean) * (s - mean)
	}

	variance /= float64(len(scores))
	stddev := math.Sqrt(variance)

	agreement := 1.0
	if stddev > 0 && mean != 0 {
		agreement = clamp01(1 - stddev/math.Abs(mean))
	} else if stddev > 0 {
		agreement = 0
	}

	result.Value = mean
	result.Confidence = &agreement
}

// aggregateVotes picks the majority label; confidence is the vote share.
func aggregateVotes(attempts []*parsed, result *models.EvaluatorResult) {
	votes := make(map[string]int)
	total := 0

	for _, a := range attempts {
		if a == nil || a.label == "" {
			continue
		}

		votes[a.label]++
		total++
	}

	if total == 0 {
		result.Status = models.ComponentStatusFailed
		confidence := 0.0
		result.Confidence = &confidence
		result.Error = "no attempt matched a declared label"

		return
	}

	var winner string

	for label, count := range votes {
		if count > votes[winner] || winner == "" {
			winner = label
		}
	}

	share := float64(votes[winner]) / float64(total)
	result.Value = winner
	result.Confidence = &share
}

// aggregateBest keeps the single attempt with the highest confidence.
func aggregateBest(attempts []*parsed, result *models.EvaluatorResult) {
	var best *parsed

	for _, a := range attempts {
		if a == nil {
			continue
		}

		if best == nil || a.confidence > best.confidence {
			best = a
		}
	}

	result.Value = best.value
	confidence := best.confidence
	result.Confidence = &confidence
	result.Warnings = append(result.Warnings, best.warnings...)
}
