package retrieval

import (
	"strings"
	"unicode"
)

// IntentWeightChunk weights intent-term matches when scoring candidate
// chunks (spec.md §4.6.4, §8 invariant 6).
const IntentWeightChunk = 0.5

// IntentWeightSnippet weights intent-term matches when scoring candidate
// snippet sections (spec.md §4.6.5). It is kept below 1.0 so one intent
// match counts for less than one query match; four or more intent matches
// still outweigh a single query match.
const IntentWeightSnippet = 0.3

var intentStopWords = map[string]bool{
	"the": true, "a": true, "an": true, "for": true, "of": true, "to": true,
	"is": true, "about": true, "looking": true, "notes": true, "find": true,
	"what": true, "how": true, "and": true, "or": true,
}

// ExtractTerms lowercases text, splits on whitespace, strips surrounding
// punctuation while preserving internal hyphens, and keeps tokens longer
// than one character.
func ExtractTerms(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		trimmed := strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if len(trimmed) > 1 {
			terms = append(terms, trimmed)
		}
	}
	return terms
}

// ExtractIntentTerms is ExtractTerms with the fixed intent stop-word
// list removed (spec.md §4.6.4).
func ExtractIntentTerms(intent string) []string {
	terms := ExtractTerms(intent)
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if !intentStopWords[t] {
			out = append(out, t)
		}
	}
	return out
}

// ScoreChunk scores a candidate chunk's text against query and intent
// terms (spec.md §4.6.4 / §8 invariant 6):
//
//	sum(1 for each query term present) + IntentWeightChunk * sum(1 for each intent term present)
func ScoreChunk(chunkText string, queryTerms, intentTerms []string) float64 {
	lower := strings.ToLower(chunkText)

	var score float64
	for _, t := range queryTerms {
		if strings.Contains(lower, t) {
			score++
		}
	}
	var intentHits int
	for _, t := range intentTerms {
		if strings.Contains(lower, t) {
			intentHits++
		}
	}
	score += IntentWeightChunk * float64(intentHits)
	return score
}
