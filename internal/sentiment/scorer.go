// Package sentiment implements deterministic lexicon-based sentiment scoring.
package sentiment

import (
	"strings"

	"github.com/mentionwatch/mentionwatch/internal/monitor"
)

// intensifierBoost is the weight multiplier applied to the polarity match
// immediately following an intensifier token.
const intensifierBoost = 1.5

// Lexicon holds the word lists the scorer matches against. Entries are
// matched as lowercase substrings of whitespace tokens.
type Lexicon struct {
	Positive     []string
	Negative     []string
	Intensifiers []string
}

// Result is the outcome of scoring one text.
type Result struct {
	Label      monitor.SentimentLabel `json:"label"`
	Score      float64                `json:"score"`
	Confidence float64                `json:"confidence"`
}

// Scorer scores text against a fixed lexicon. Pure and stateless after
// construction; identical lexicon and input always produce identical output.
type Scorer struct {
	positive     []string
	negative     []string
	intensifiers []string
}

// New builds a Scorer from a lexicon. Entries are normalized to lowercase.
func New(lex Lexicon) *Scorer {
	return &Scorer{
		positive:     lowerAll(lex.Positive),
		negative:     lowerAll(lex.Negative),
		intensifiers: lowerAll(lex.Intensifiers),
	}
}

// NewDefault builds a Scorer over the built-in English lexicon.
func NewDefault() *Scorer {
	return New(DefaultLexicon())
}

// Score tokenizes on whitespace and accumulates polarity weights. An
// intensifier boosts only the next polarity match. No signal at all is
// defined as neutral with score 0 and confidence 0.5, not an error.
func (s *Scorer) Score(text string) Result {
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		return Result{Label: monitor.SentimentNeutral, Score: 0, Confidence: 0.5}
	}

	var (
		positiveWeight float64
		negativeWeight float64
		multiplier     = 1.0
	)
	for _, tok := range tokens {
		switch {
		case matchesAny(tok, s.intensifiers):
			multiplier = intensifierBoost
		case matchesAny(tok, s.positive):
			positiveWeight += multiplier
			multiplier = 1.0
		case matchesAny(tok, s.negative):
			negativeWeight += multiplier
			multiplier = 1.0
		}
	}

	totalWeight := positiveWeight + negativeWeight
	if totalWeight == 0 {
		return Result{Label: monitor.SentimentNeutral, Score: 0, Confidence: 0.5}
	}

	score := (positiveWeight - negativeWeight) / totalWeight
	confidence := totalWeight / float64(len(tokens))
	if confidence > 1 {
		confidence = 1
	}
	return Result{Label: labelFor(score), Score: score, Confidence: confidence}
}

// ScoreBatch scores each text independently; there is no cross-item state.
func (s *Scorer) ScoreBatch(texts []string) []Result {
	results := make([]Result, len(texts))
	for i, text := range texts {
		results[i] = s.Score(text)
	}
	return results
}

func labelFor(score float64) monitor.SentimentLabel {
	switch {
	case score > 0.1:
		return monitor.SentimentPositive
	case score < -0.1:
		return monitor.SentimentNegative
	default:
		return monitor.SentimentNeutral
	}
}

func matchesAny(token string, entries []string) bool {
	for _, entry := range entries {
		if strings.Contains(token, entry) {
			return true
		}
	}
	return false
}

func lowerAll(entries []string) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(strings.ToLower(e))
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}
