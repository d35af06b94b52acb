package retrieval

import "strings"

// DefaultSnippetLen is the default maxLen for ExtractSnippet.
const DefaultSnippetLen = 500

type section struct {
	text      string
	startLine int
	startPos  int // rune offset into body
}

// splitSections partitions body into candidate sections at heading
// lines (Markdown '#' lines) and blank-line boundaries (spec.md §4.6.5).
func splitSections(body string) []section {
	lines := strings.Split(body, "\n")

	var sections []section
	var cur strings.Builder
	curStartLine, curStartPos := 1, 0
	pos := 0

	flush := func() {
		if cur.Len() > 0 {
			sections = append(sections, section{text: cur.String(), startLine: curStartLine, startPos: curStartPos})
			cur.Reset()
		}
	}

	for i, line := range lines {
		lineNum := i + 1
		trimmed := strings.TrimSpace(line)
		isHeading := strings.HasPrefix(trimmed, "#")
		isBlank := trimmed == ""

		if (isHeading || isBlank) && cur.Len() > 0 {
			flush()
		}
		if !isBlank {
			if cur.Len() == 0 {
				curStartLine = lineNum
				curStartPos = pos
			}
			cur.WriteString(line)
			if i < len(lines)-1 {
				cur.WriteString("\n")
			}
		}
		pos += len([]rune(line)) + 1
	}
	flush()

	if len(sections) == 0 {
		sections = append(sections, section{text: body, startLine: 1, startPos: 0})
	}
	return sections
}

// scoreSection scores a section the same way as ScoreChunk but with the
// snippet-specific intent weight.
func scoreSection(text string, queryTerms, intentTerms []string) float64 {
	lower := strings.ToLower(text)
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
	score += IntentWeightSnippet * float64(intentHits)
	return score
}

// firstMatchOffset returns the rune offset of the earliest occurrence of
// any query term in text (case-insensitive), or -1 if none match.
func firstMatchOffset(text string, queryTerms []string) int {
	lower := strings.ToLower(text)
	best := -1
	for _, t := range queryTerms {
		if t == "" {
			continue
		}
		if idx := strings.Index(lower, t); idx >= 0 {
			runeIdx := len([]rune(lower[:idx]))
			if best == -1 || runeIdx < best {
				best = runeIdx
			}
		}
	}
	return best
}

// ExtractSnippet selects the best-matching section of body and returns
// up to maxLen characters starting at the first matched query term
// within it, along with the 1-based line number of that anchor
// (spec.md §4.6.5). An empty query or a body with no match falls back
// to the first maxLen characters of body, line 1.
func ExtractSnippet(body, queryText, intentText string, maxLen int) (string, int) {
	if maxLen <= 0 {
		maxLen = DefaultSnippetLen
	}
	bodyRunes := []rune(body)

	queryTerms := ExtractTerms(queryText)
	if len(queryTerms) == 0 {
		return truncate(bodyRunes, 0, maxLen), 1
	}
	intentTerms := ExtractIntentTerms(intentText)

	sections := splitSections(body)

	bestIdx := -1
	bestScore := -1.0
	for i, s := range sections {
		score := scoreSection(s.text, queryTerms, intentTerms)
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	if bestIdx == -1 || bestScore == 0 {
		return truncate(bodyRunes, 0, maxLen), 1
	}

	chosen := sections[bestIdx]
	offsetInSection := firstMatchOffset(chosen.text, queryTerms)
	if offsetInSection < 0 {
		// The section scored highest on intent alone (spec.md §8 scenario
		// F): anchor on the first intent-term match instead of the start
		// of the document.
		offsetInSection = firstMatchOffset(chosen.text, intentTerms)
	}
	if offsetInSection < 0 {
		offsetInSection = 0
	}

	anchor := chosen.startPos + offsetInSection
	if anchor > len(bodyRunes) {
		anchor = len(bodyRunes)
	}
	line := 1 + strings.Count(string(bodyRunes[:anchor]), "\n")

	return truncate(bodyRunes, anchor, maxLen), line
}

func truncate(bodyRunes []rune, start, maxLen int) string {
	if start < 0 {
		start = 0
	}
	if start > len(bodyRunes) {
		start = len(bodyRunes)
	}
	end := start + maxLen
	if end > len(bodyRunes) {
		end = len(bodyRunes)
	}
	return string(bodyRunes[start:end])
}
