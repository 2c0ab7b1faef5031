package llmjudge

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// parsed is the outcome of interpreting one model response.
type parsed struct {
	value      any
	confidence float64
	warnings   []string
	// label is set for classification responses that matched.
	label string
}

var numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

func (j *Judge) parse(content string) parsed {
	switch j.config.ResponseFormat {
	case FormatJSON:
		return parseJSON(content)
	case FormatScore:
		return parseScore(content, j.config.ScoreRange)
	case FormatClassification:
		return parseClassification(content, j.config.Labels)
	default:
		return parseText(content)
	}
}

// parseJSON extracts the first {...} or [...] block. Unparseable responses
// degrade to the raw text with low confidence.
func parseJSON(content string) parsed {
	block := extractJSONBlock(content)

	if block != "" {
		var value any
		if err := json.Unmarshal([]byte(block), &value); err == nil {
			return parsed{value: value, confidence: jsonConfidence(value)}
		}
	}

	return parsed{
		value:      strings.TrimSpace(content),
		confidence: 0.3,
		warnings:   []string{"response was not parseable JSON"},
	}
}

// jsonConfidence reads a confidence/score field out of the parsed object,
// defaulting to 0.8.
func jsonConfidence(value any) float64 {
	obj, ok := value.(map[string]any)
	if !ok {
		return 0.8
	}

	for _, key := range []string{"confidence", "score"} {
		if f, ok := obj[key].(float64); ok && f >= 0 && f <= 1 {
			return f
		}
	}

	return 0.8
}

// extractJSONBlock returns the first balanced {...} or [...] region.
func extractJSONBlock(content string) string {
	start := -1

	var open, close byte

	for i := 0; i < len(content); i++ {
		if content[i] == '{' || content[i] == '[' {
			start = i
			open = content[i]

			if open == '{' {
				close = '}'
			} else {
				close = ']'
			}

			break
		}
	}

	if start < 0 {
		return ""
	}

	depth := 0

	for i := start; i < len(content); i++ {
		switch content[i] {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}

	return ""
}

// parseScore extracts the first numeric token. Confidence reflects response
// clarity: numeric-only +0.2, in-range +0.1, rambling −0.1, base 0.7.
func parseScore(content string, scoreRange *ScoreRange) parsed {
	trimmed := strings.TrimSpace(content)

	match := numberPattern.FindString(trimmed)
	if match == "" {
		return parsed{
			value:      nil,
			confidence: 0,
			warnings:   []string{"no numeric score in response"},
		}
	}

	score, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return parsed{value: nil, confidence: 0, warnings: []string{"unparseable numeric score"}}
	}

	confidence := 0.7

	if trimmed == match {
		confidence += 0.2
	}

	if score >= scoreRange.Min && score <= scoreRange.Max {
		confidence += 0.1
	}

	if len(trimmed) > 200 {
		confidence -= 0.1
	}

	return parsed{value: score, confidence: clamp01(confidence)}
}

// parseClassification matches against the declared label set. Exact
// case-insensitive matches score 1.0; a label appearing inside a longer
// response scores by match-length ratio.
func parseClassification(content string, labels []string) parsed {
	trimmed := strings.TrimSpace(content)
	lower := strings.ToLower(trimmed)

	for _, label := range labels {
		if lower == strings.ToLower(label) {
			return parsed{value: label, confidence: 1.0, label: label}
		}
	}

	best := parsed{value: trimmed, confidence: 0}

	for _, label := range labels {
		if strings.Contains(lower, strings.ToLower(label)) {
			ratio := float64(len(label)) / float64(len(trimmed))
			if ratio > best.confidence {
				best = parsed{value: label, confidence: clamp01(ratio), label: label}
			}
		}
	}

	if best.label == "" {
		best.warnings = []string{"response matched no declared label"}
	}

	return best
}

// parseText returns the trimmed text with a lightweight sentiment score and
// frequency-based keywords. Confidence is fixed.
func parseText(content string) parsed {
	trimmed := strings.TrimSpace(content)
	score, label := sentiment(trimmed)

	return parsed{
		value: map[string]any{
			"text":            trimmed,
			"sentiment_score": score,
			"sentiment":       label,
			"keywords":        keywords(trimmed, 5),
		},
		confidence: 0.7,
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}

	if f > 1 {
		return 1
	}

	return f
}
