package llmjudge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracewatch/sentinel/pkg/llm"
	"github.com/tracewatch/sentinel/pkg/models"
	"github.com/tracewatch/sentinel/pkg/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func execContext(input map[string]any) protocol.ExecutionContext {
	return protocol.ExecutionContext{
		ExecutionID: "exec-1",
		RuleID:      "rule-1",
		InputData:   input,
	}
}

func TestNewJudge_ConfigValidation(t *testing.T) {
	provider := llm.NewStaticProvider()

	tests := []struct {
		name    string
		config  map[string]any
		wantErr bool
	}{
		{
			name:    "missing prompt template",
			config:  map[string]any{"response_format": "score"},
			wantErr: true,
		},
		{
			name: "classification without labels",
			config: map[string]any{
				"prompt_template": "classify {text}",
				"response_format": "classification",
			},
			wantErr: true,
		},
		{
			name: "unknown response format",
			config: map[string]any{
				"prompt_template": "rate {text}",
				"response_format": "xml",
			},
			wantErr: true,
		},
		{
			name: "valid score config",
			config: map[string]any{
				"prompt_template": "rate {text}",
				"response_format": "score",
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewJudge(tt.config, provider)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrConfigInvalid)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestJudge_ScoreFormat(t *testing.T) {
	provider := llm.NewStaticProvider("0.85")
	judge, err := NewJudge(map[string]any{
		"id":              "quality",
		"prompt_template": "rate the quality of {response.text}",
		"response_format": "score",
		"score_range":     map[string]any{"min": 0.0, "max": 1.0},
	}, provider)
	require.NoError(t, err)

	result, err := judge.Run(context.Background(), execContext(map[string]any{
		"response": map[string]any{"text": "hello world"},
	}), testLogger())
	require.NoError(t, err)

	assert.Equal(t, models.ComponentStatusCompleted, result.Status)
	assert.InDelta(t, 0.85, result.Value, 1e-9)
	// numeric-only response in range: 0.7 + 0.2 + 0.1
	require.NotNil(t, result.Confidence)
	assert.InDelta(t, 1.0, *result.Confidence, 1e-9)

	calls := provider.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].UserPrompt, "rate the quality of hello world")
}

func TestJudge_ScoreFormat_NoNumber(t *testing.T) {
	provider := llm.NewStaticProvider("I cannot rate this.")
	judge, err := NewJudge(map[string]any{
		"prompt_template": "rate {text}",
		"response_format": "score",
	}, provider)
	require.NoError(t, err)

	result, err := judge.Run(context.Background(), execContext(map[string]any{"text": "x"}), testLogger())
	require.NoError(t, err)

	assert.Nil(t, result.Value)
	require.NotNil(t, result.Confidence)
	assert.Zero(t, *result.Confidence)
	assert.NotEmpty(t, result.Warnings)
}

func TestJudge_JSONFormat(t *testing.T) {
	provider := llm.NewStaticProvider(`Here is my verdict: {"helpful": true, "confidence": 0.92}`)
	judge, err := NewJudge(map[string]any{
		"prompt_template": "judge {text}",
		"response_format": "json",
	}, provider)
	require.NoError(t, err)

	result, err := judge.Run(context.Background(), execContext(map[string]any{"text": "x"}), testLogger())
	require.NoError(t, err)

	value, ok := result.Value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, value["helpful"])
	require.NotNil(t, result.Confidence)
	assert.InDelta(t, 0.92, *result.Confidence, 1e-9)
}

func TestJudge_JSONFormat_Unparseable(t *testing.T) {
	provider := llm.NewStaticProvider("not json at all")
	judge, err := NewJudge(map[string]any{
		"prompt_template": "judge {text}",
		"response_format": "json",
	}, provider)
	require.NoError(t, err)

	result, err := judge.Run(context.Background(), execContext(map[string]any{"text": "x"}), testLogger())
	require.NoError(t, err)

	assert.Equal(t, "not json at all", result.Value)
	require.NotNil(t, result.Confidence)
	assert.InDelta(t, 0.3, *result.Confidence, 1e-9)
}

func TestJudge_ClassificationFormat(t *testing.T) {
	provider := llm.NewStaticProvider("Positive")
	judge, err := NewJudge(map[string]any{
		"prompt_template": "classify {text}",
		"response_format": "classification",
		"labels":          []any{"positive", "negative", "neutral"},
	}, provider)
	require.NoError(t, err)

	result, err := judge.Run(context.Background(), execContext(map[string]any{"text": "great"}), testLogger())
	require.NoError(t, err)

	assert.Equal(t, "positive", result.Value)
	require.NotNil(t, result.Confidence)
	assert.InDelta(t, 1.0, *result.Confidence, 1e-9)
}

func TestJudge_ProviderFailure(t *testing.T) {
	provider := llm.NewStaticProvider().FailWith(errors.New("backend down"))
	judge, err := NewJudge(map[string]any{
		"prompt_template": "rate {text}",
		"response_format": "score",
	}, provider)
	require.NoError(t, err)

	result, err := judge.Run(context.Background(), execContext(map[string]any{"text": "x"}), testLogger())
	require.NoError(t, err)

	assert.Equal(t, models.ComponentStatusFailed, result.Status)
	assert.Contains(t, result.Error, "backend down")
}

func TestJudge_Timeout(t *testing.T) {
	provider := llm.NewStaticProvider().FailWith(context.DeadlineExceeded)
	judge, err := NewJudge(map[string]any{
		"prompt_template": "rate {text}",
		"response_format": "score",
	}, provider)
	require.NoError(t, err)

	result, err := judge.Run(context.Background(), execContext(map[string]any{"text": "x"}), testLogger())
	require.NoError(t, err)

	assert.Equal(t, models.ComponentStatusFailed, result.Status)
	assert.Contains(t, result.Error, "timeout")
}

func TestJudge_ConsensusScore_IdenticalSamples(t *testing.T) {
	provider := llm.NewRepeatingProvider("0.8")
	judge, err := NewJudge(map[string]any{
		"prompt_template": "rate {text}",
		"response_format": "score",
		"consensus_count": 3,
	}, provider)
	require.NoError(t, err)

	result, err := judge.Run(context.Background(), execContext(map[string]any{"text": "x"}), testLogger())
	require.NoError(t, err)

	assert.Equal(t, models.ComponentStatusCompleted, result.Status)
	assert.InDelta(t, 0.8, result.Value, 1e-9)
	// identical samples agree perfectly
	require.NotNil(t, result.Confidence)
	assert.InDelta(t, 1.0, *result.Confidence, 1e-9)
	assert.Len(t, provider.Calls(), 3)
}

func TestJudge_ConsensusScore_Disagreement(t *testing.T) {
	provider := llm.NewStaticProvider("0.2", "0.8", "0.5")
	judge, err := NewJudge(map[string]any{
		"prompt_template": "rate {text}",
		"response_format": "score",
		"consensus_count": 3,
	}, provider)
	require.NoError(t, err)

	result, err := judge.Run(context.Background(), execContext(map[string]any{"text": "x"}), testLogger())
	require.NoError(t, err)

	assert.InDelta(t, 0.5, result.Value, 1e-9)
	require.NotNil(t, result.Confidence)
	assert.Less(t, *result.Confidence, 1.0)
	assert.Greater(t, *result.Confidence, 0.0)
}

func TestJudge_ConsensusClassification_Unanimous(t *testing.T) {
	provider := llm.NewRepeatingProvider("spam")
	judge, err := NewJudge(map[string]any{
		"prompt_template": "classify {text}",
		"response_format": "classification",
		"labels":          []any{"spam", "ham"},
		"consensus_count": 3,
	}, provider)
	require.NoError(t, err)

	result, err := judge.Run(context.Background(), execContext(map[string]any{"text": "x"}), testLogger())
	require.NoError(t, err)

	assert.Equal(t, "spam", result.Value)
	require.NotNil(t, result.Confidence)
	assert.InDelta(t, 1.0, *result.Confidence, 1e-9)
}

func TestJudge_ConsensusClassification_MajorityVote(t *testing.T) {
	provider := llm.NewStaticProvider("spam", "ham", "spam")
	judge, err := NewJudge(map[string]any{
		"prompt_template": "classify {text}",
		"response_format": "classification",
		"labels":          []any{"spam", "ham"},
		"consensus_count": 3,
	}, provider)
	require.NoError(t, err)

	result, err := judge.Run(context.Background(), execContext(map[string]any{"text": "x"}), testLogger())
	require.NoError(t, err)

	assert.Equal(t, "spam", result.Value)
	require.NotNil(t, result.Confidence)
	assert.InDelta(t, 2.0/3.0, *result.Confidence, 1e-9)
}

func TestJudge_ConsensusAllFail(t *testing.T) {
	provider := llm.NewStaticProvider().
		FailWith(errors.New("down")).
		FailWith(errors.New("down")).
		FailWith(errors.New("down"))
	judge, err := NewJudge(map[string]any{
		"prompt_template": "rate {text}",
		"response_format": "score",
		"consensus_count": 3,
	}, provider)
	require.NoError(t, err)

	result, err := judge.Run(context.Background(), execContext(map[string]any{"text": "x"}), testLogger())
	require.NoError(t, err)

	assert.Equal(t, models.ComponentStatusFailed, result.Status)
	assert.Nil(t, result.Value)
	require.NotNil(t, result.Confidence)
	assert.Zero(t, *result.Confidence)
}

func TestJudge_ConsensusTemperatureJitter(t *testing.T) {
	provider := llm.NewRepeatingProvider("0.5")
	judge, err := NewJudge(map[string]any{
		"prompt_template": "rate {text}",
		"response_format": "score",
		"temperature":     0.5,
		"consensus_count": 3,
	}, provider)
	require.NoError(t, err)

	_, err = judge.Run(context.Background(), execContext(map[string]any{"text": "x"}), testLogger())
	require.NoError(t, err)

	calls := provider.Calls()
	require.Len(t, calls, 3)

	temps := make([]float64, 0, len(calls))
	for _, call := range calls {
		temps = append(temps, call.Temperature)
	}

	sort.Float64s(temps)
	assert.InDelta(t, 0.45, temps[0], 1e-9)
	assert.InDelta(t, 0.5, temps[1], 1e-9)
	assert.InDelta(t, 0.55, temps[2], 1e-9)
}

func TestJudge_LowConfidenceFallback(t *testing.T) {
	provider := llm.NewStaticProvider("somewhere around 0.4 I think, though it is hard to say for sure")
	judge, err := NewJudge(map[string]any{
		"prompt_template":       "rate {text}",
		"response_format":       "score",
		"confidence_threshold":  0.9,
		"fallback_evaluator_id": "backup-judge",
	}, provider)
	require.NoError(t, err)

	result, err := judge.Run(context.Background(), execContext(map[string]any{"text": "x"}), testLogger())
	require.NoError(t, err)

	assert.Equal(t, models.ComponentStatusCompleted, result.Status)
	assert.Equal(t, "backup-judge", result.FallbackEvaluatorID)
	assert.NotEmpty(t, result.Warnings)
}

func TestJudge_TextFormatSentiment(t *testing.T) {
	provider := llm.NewStaticProvider("The response is excellent and very helpful overall.")
	judge, err := NewJudge(map[string]any{
		"prompt_template": "summarize {text}",
	}, provider)
	require.NoError(t, err)

	result, err := judge.Run(context.Background(), execContext(map[string]any{"text": "x"}), testLogger())
	require.NoError(t, err)

	value, ok := result.Value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "positive", value["sentiment"])
	assert.NotEmpty(t, value["keywords"])
}

func TestFactory(t *testing.T) {
	factory := NewFactory(llm.NewStaticProvider())

	assert.Equal(t, models.EvaluatorTypeLLMJudge, factory.ID())
	assert.NotEmpty(t, factory.Schema())

	evaluator, err := factory.Create(map[string]any{
		"prompt_template": "rate {text}",
		"response_format": "score",
	})
	require.NoError(t, err)
	assert.NotNil(t, evaluator)
}
