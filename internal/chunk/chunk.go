// Package chunk implements the deterministic, body-only chunking policy of
// spec.md §4.3: ~1024-character chunks with ~128-character overlap,
// preferring paragraph, then sentence, then word boundaries, and never
// splitting inside a fenced code block.
package chunk

import (
	"regexp"
	"strings"
)

// Default sizing, per spec.md §4.3.
const (
	DefaultTargetSize = 1024
	DefaultOverlap    = 128

	// boundarySearchWindow bounds how far back from the target end we'll
	// scan for a preferred break point before giving up and hard-cutting.
	boundarySearchWindow = DefaultTargetSize / 2
)

// Chunk is one contiguous slice of a document body.
type Chunk struct {
	// Seq is the 0-based, dense index of this chunk within the body.
	Seq int
	// Pos is the chunk's starting character (rune) offset in the body.
	Pos int
	// Text is the chunk's content.
	Text string
}

// Options configures the chunker.
type Options struct {
	TargetSize int
	Overlap    int
}

// DefaultOptions returns the spec's default sizing.
func DefaultOptions() Options {
	return Options{TargetSize: DefaultTargetSize, Overlap: DefaultOverlap}
}

var fencedCodeBlockPattern = regexp.MustCompile("(?s)```.*?```")

type span struct{ start, end int }

// codeSpans returns the rune-offset spans of fenced code blocks in body.
// An unterminated fence (no closing ```) extends to the end of the body.
func codeSpans(body string) []span {
	matches := fencedCodeBlockPattern.FindAllStringIndex(body, -1)
	spans := make([]span, 0, len(matches))
	for _, m := range matches {
		spans = append(spans, span{start: byteToRune(body, m[0]), end: byteToRune(body, m[1])})
	}

	// An odd number of remaining ``` fences (outside matched pairs) means an
	// unterminated block; treat it as extending to EOF so we never split
	// inside it either.
	consumed := make([]bool, len(body))
	for _, m := range matches {
		for i := m[0]; i < m[1]; i++ {
			consumed[i] = true
		}
	}
	idx := 0
	for {
		rel := strings.Index(body[idx:], "```")
		if rel < 0 {
			break
		}
		pos := idx + rel
		if !consumed[pos] {
			spans = append(spans, span{start: byteToRune(body, pos), end: len([]rune(body))})
			break
		}
		idx = pos + 3
	}
	return spans
}

func byteToRune(s string, byteOffset int) int {
	return len([]rune(s[:byteOffset]))
}

// Split splits body into dense, 0-indexed chunks per the policy in spec.md §4.3.
func Split(body string, opts Options) []Chunk {
	if opts.TargetSize <= 0 {
		opts.TargetSize = DefaultTargetSize
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.TargetSize {
		opts.Overlap = DefaultOverlap
	}

	runes := []rune(body)
	n := len(runes)
	if n == 0 {
		return nil
	}

	spans := codeSpans(body)

	var chunks []Chunk
	start := 0
	seq := 0
	for start < n {
		end := start + opts.TargetSize
		if end >= n {
			end = n
		} else {
			end = adjustBoundary(runes, start, end, spans)
		}
		if end <= start {
			end = minInt(start+1, n)
		}

		chunks = append(chunks, Chunk{
			Seq:  seq,
			Pos:  start,
			Text: string(runes[start:end]),
		})
		seq++

		if end >= n {
			break
		}
		next := pullOutOfSpan(end-opts.Overlap, spans)
		if next <= start || next > end {
			next = end
		}
		start = next
	}
	return chunks
}

// adjustBoundary nudges a target cut point to the nearest preferred
// boundary (paragraph > sentence > word), never inside a code span.
func adjustBoundary(runes []rune, start, target int, spans []span) int {
	target = pullOutOfSpan(target, spans)

	lo := maxInt(start+1, target-boundarySearchWindow)
	hi := minInt(len(runes), target+boundarySearchWindow)

	if p := findLastParagraphBreak(runes, lo, target); p > 0 {
		return pullOutOfSpan(p, spans)
	}
	if p := findLastSentenceBreak(runes, lo, target); p > 0 {
		return pullOutOfSpan(p, spans)
	}
	if p := findLastWordBreak(runes, lo, target); p > 0 {
		return pullOutOfSpan(p, spans)
	}
	// No boundary found looking backward; try looking forward within the
	// window rather than hard-cutting mid-word/mid-block.
	if p := findFirstWordBreak(runes, target, hi); p > 0 {
		return pullOutOfSpan(p, spans)
	}
	return target
}

// pullOutOfSpan pushes a cut point to the end of any code span it falls
// inside of, so we never split inside fenced code.
func pullOutOfSpan(pos int, spans []span) int {
	for _, s := range spans {
		if pos > s.start && pos < s.end {
			return s.end
		}
	}
	return pos
}

func findLastParagraphBreak(runes []rune, lo, hi int) int {
	for i := hi; i > lo; i-- {
		if i >= 2 && runes[i-1] == '\n' && runes[i-2] == '\n' {
			return i
		}
	}
	return -1
}

var sentenceEnders = map[rune]bool{'.': true, '!': true, '?': true}

func findLastSentenceBreak(runes []rune, lo, hi int) int {
	for i := hi; i > lo; i-- {
		if i >= 1 && sentenceEnders[runes[i-1]] {
			if i < len(runes) && (runes[i] == ' ' || runes[i] == '\n') {
				return i
			}
			if i == len(runes) {
				return i
			}
		}
	}
	return -1
}

func findLastWordBreak(runes []rune, lo, hi int) int {
	for i := hi; i > lo; i-- {
		if isSpace(runes[i-1]) {
			return i
		}
	}
	return -1
}

func findFirstWordBreak(runes []rune, lo, hi int) int {
	for i := lo; i < hi; i++ {
		if isSpace(runes[i]) {
			return i
		}
	}
	return -1
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
