package query

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/qmd-dev/qmd/internal/qmderrors"
)

// CompileLex compiles a lex: line's body into an FTS5 MATCH expression
// (spec.md §4.5). An empty string return with a nil error means "no
// lexical query": the caller should skip the lexical channel entirely.
func CompileLex(body string) (string, error) {
	runes := []rune(body)
	i := 0
	var positives, negatives []string

	for i < len(runes) {
		if unicode.IsSpace(runes[i]) {
			i++
			continue
		}

		negate := false
		if runes[i] == '-' {
			negate = true
			i++
			if i >= len(runes) {
				break
			}
		}

		var term string
		if runes[i] == '"' {
			i++
			start := i
			closed := false
			for i < len(runes) {
				if runes[i] == '"' {
					closed = true
					break
				}
				i++
			}
			if !closed {
				return "", qmderrors.InvalidQuery("unmatched quote in lexical query", 0)
			}
			phrase := sanitizePhrase(string(runes[start:i]))
			i++ // consume closing quote
			if phrase == "" {
				continue
			}
			term = fmt.Sprintf(`"%s"`, phrase)
		} else {
			start := i
			for i < len(runes) && !unicode.IsSpace(runes[i]) {
				i++
			}
			word := sanitizeWord(string(runes[start:i]))
			if word == "" {
				continue
			}
			term = fmt.Sprintf(`"%s"*`, word)
		}

		if negate {
			negatives = append(negatives, "NOT "+term)
		} else {
			positives = append(positives, term)
		}
	}

	if len(positives) == 0 {
		return "", nil
	}

	result := strings.Join(positives, " AND ")
	for _, n := range negatives {
		result += " " + n
	}
	return result, nil
}

// sanitizeWord drops every character that isn't alphanumeric or an
// apostrophe, then lowercases what remains.
func sanitizeWord(word string) string {
	var b strings.Builder
	for _, r := range word {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// sanitizePhrase sanitizes a quoted phrase word-by-word, preserving the
// inter-word boundary as a single space.
func sanitizePhrase(phrase string) string {
	words := strings.Fields(phrase)
	sanitized := make([]string, 0, len(words))
	for _, w := range words {
		if s := sanitizeWord(w); s != "" {
			sanitized = append(sanitized, s)
		}
	}
	return strings.Join(sanitized, " ")
}
