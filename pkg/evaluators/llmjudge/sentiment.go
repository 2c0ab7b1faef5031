package llmjudge

import (
	"regexp"
	"sort"
	"strings"
)

var wordPattern = regexp.MustCompile(`[a-zA-Z]+`)

var positiveWords = map[string]bool{
	"good": true, "great": true, "excellent": true, "correct": true,
	"accurate": true, "helpful": true, "clear": true, "relevant": true,
	"strong": true, "well": true, "positive": true, "success": true,
	"successful": true, "precise": true, "complete": true,
}

var negativeWords = map[string]bool{
	"bad": true, "poor": true, "wrong": true, "incorrect": true,
	"inaccurate": true, "unhelpful": true, "unclear": true, "irrelevant": true,
	"weak": true, "negative": true, "failure": true, "failed": true,
	"missing": true, "incomplete": true, "error": true,
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "from": true,
	"has": true, "have": true, "in": true, "is": true, "it": true,
	"its": true, "of": true, "on": true, "or": true, "that": true,
	"the": true, "this": true, "to": true, "was": true, "were": true,
	"with": true, "will": true, "not": true, "no": true,
}

// sentiment computes a crude word-list polarity in [-1, 1] plus a label.
func sentiment(text string) (float64, string) {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	if len(words) == 0 {
		return 0, "neutral"
	}

	var pos, neg int

	for _, word := range words {
		if positiveWords[word] {
			pos++
		}

		if negativeWords[word] {
			neg++
		}
	}

	score := float64(pos-neg) / float64(len(words))

	switch {
	case score > 0.01:
		return score, "positive"
	case score < -0.01:
		return score, "negative"
	default:
		return score, "neutral"
	}
}

// keywords extracts the top-N most frequent non-stopword words.
func keywords(text string, limit int) []string {
	counts := make(map[string]int)

	for _, word := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if stopwords[word] || len(word) < 3 {
			continue
		}

		counts[word]++
	}

	out := make([]string, 0, len(counts))
	for word := range counts {
		out = append(out, word)
	}

	sort.Slice(out, func(i, j int) bool {
		if counts[out[i]] != counts[out[j]] {
			return counts[out[i]] > counts[out[j]]
		}

		return out[i] < out[j]
	})

	if len(out) > limit {
		out = out[:limit]
	}

	return out
}
