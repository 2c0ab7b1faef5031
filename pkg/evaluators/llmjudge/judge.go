package llmjudge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tracewatch/sentinel/pkg/llm"
	"github.com/tracewatch/sentinel/pkg/models"
	"github.com/tracewatch/sentinel/pkg/protocol"
	"github.com/tracewatch/sentinel/pkg/template"
)

// Judge evaluates input data by asking an LLM and parsing the answer
// according to the configured response format.
type Judge struct {
	config   *Config
	provider llm.Provider
}

// NewJudge builds a judge from a validated configuration.
func NewJudge(config map[string]any, provider llm.Provider) (*Judge, error) {
	cfg, err := parseConfig(config)
	if err != nil {
		return nil, err
	}

	return &Judge{config: cfg, provider: provider}, nil
}

// Run performs single or consensus evaluation, never returning a Go error
// for provider failures: those become a failed result.
func (j *Judge) Run(ctx context.Context, execCtx protocol.ExecutionContext, logger *slog.Logger) (*models.EvaluatorResult, error) {
	logger = logger.With("module", "llm_judge", "evaluator_id", j.config.ID)

	result := &models.EvaluatorResult{
		EvaluatorID: j.config.ID,
		Name:        j.config.Name,
		StartedAt:   time.Now().UTC(),
	}

	prompt := j.buildPrompt(execCtx.InputData)

	if j.config.ConsensusCount > 1 {
		j.runConsensus(ctx, prompt, result, logger)
	} else {
		j.runSingle(ctx, prompt, j.config.Temperature, result, logger)
	}

	j.applyConfidencePolicy(result, logger)
	finish(result)

	return result, nil
}

func (j *Judge) runSingle(ctx context.Context, prompt string, temperature float64, result *models.EvaluatorResult, logger *slog.Logger) {
	response, err := j.complete(ctx, prompt, temperature)
	if err != nil {
		failResult(result, err)
		logger.Warn("completion failed", "error", result.Error)

		return
	}

	parsed := j.parse(response.Content)
	result.Status = models.ComponentStatusCompleted
	result.Value = parsed.value
	result.Confidence = &parsed.confidence
	result.Warnings = append(result.Warnings, parsed.warnings...)
}

func (j *Judge) complete(ctx context.Context, prompt string, temperature float64) (*llm.CompletionResponse, error) {
	return j.provider.GenerateCompletion(ctx, llm.CompletionRequest{
		Model:        j.config.Model,
		SystemPrompt: j.config.SystemPrompt,
		UserPrompt:   prompt,
		Temperature:  temperature,
		MaxTokens:    j.config.MaxTokens,
	})
}

// buildPrompt substitutes input data into the template and appends the
// format-specific response instructions.
func (j *Judge) buildPrompt(input map[string]any) string {
	prompt := template.SubstitutePaths(j.config.PromptTemplate, input)

	switch j.config.ResponseFormat {
	case FormatJSON:
		prompt += "\n\nRespond with a single JSON object. Include a \"confidence\" field between 0 and 1."
	case FormatScore:
		prompt += fmt.Sprintf("\n\nRespond with a single numeric score between %g and %g. No other text.",
			j.config.ScoreRange.Min, j.config.ScoreRange.Max)
	case FormatClassification:
		prompt += "\n\nRespond with exactly one of: " + strings.Join(j.config.Labels, ", ")
	case FormatText:
	}

	return prompt
}

// applyConfidencePolicy flags a low-confidence result and surfaces the
// configured fallback evaluator for the orchestrator. It never invokes the
// fallback itself.
func (j *Judge) applyConfidencePolicy(result *models.EvaluatorResult, logger *slog.Logger) {
	if j.config.ConfidenceThreshold <= 0 || result.Confidence == nil {
		return
	}

	if *result.Confidence >= j.config.ConfidenceThreshold {
		return
	}

	result.Warnings = append(result.Warnings, fmt.Sprintf(
		"confidence %.2f below threshold %.2f", *result.Confidence, j.config.ConfidenceThreshold))

	if j.config.FallbackEvaluatorID != "" {
		result.FallbackEvaluatorID = j.config.FallbackEvaluatorID
	}

	logger.Warn("low confidence result",
		"confidence", *result.Confidence, "threshold", j.config.ConfidenceThreshold)
}

func failResult(result *models.EvaluatorResult, err error) {
	result.Status = models.ComponentStatusFailed

	if errors.Is(err, context.DeadlineExceeded) {
		result.Error = "timeout: " + err.Error()

		return
	}

	result.Error = err.Error()
}

func finish(result *models.EvaluatorResult) {
	result.CompletedAt = time.Now().UTC()
	result.DurationMS = result.CompletedAt.Sub(result.StartedAt).Milliseconds()
}
