// Package query implements the Query Compiler (spec.md §4.5): parsing a
// structured query document into typed sub-queries, and compiling a
// lexical (lex:) line into an FTS5 MATCH expression.
package query

import (
	"fmt"
	"strings"

	"github.com/qmd-dev/qmd/internal/qmderrors"
)

// Kind identifies a sub-query's retrieval channel.
type Kind string

const (
	KindLex    Kind = "lex"
	KindVec    Kind = "vec"
	KindHyde   Kind = "hyde"
	KindExpand Kind = "expand"
)

var prefixes = []struct {
	kind   Kind
	prefix string
}{
	{KindLex, "lex:"},
	{KindVec, "vec:"},
	{KindHyde, "hyde:"},
	{KindExpand, "expand:"},
}

// SubQuery is one typed line of a structured query document.
type SubQuery struct {
	Kind Kind
	Body string
	Line int // 1-based line number in the original input
}

// ParseResult is the outcome of parsing a query document. Exactly one of
// (len(SubQueries) > 0) or ExpandFallback is true.
type ParseResult struct {
	SubQueries []SubQuery

	// ExpandFallback is set when the input was blank, a single unprefixed
	// line, or a single expand: line — all of which delegate to
	// Gateway.ExpandQuery rather than naming explicit channels.
	ExpandFallback bool
	ExpandQuery    string
}

type classifiedLine struct {
	kind       Kind
	body       string
	raw        string
	line       int
	recognized bool
}

func splitPrefix(trimmed string) (Kind, string, bool) {
	for _, p := range prefixes {
		if strings.HasPrefix(trimmed, p.prefix) {
			return p.kind, strings.TrimSpace(trimmed[len(p.prefix):]), true
		}
	}
	return "", "", false
}

// Parse parses a structured query document per spec.md §4.5.
func Parse(input string) (*ParseResult, error) {
	if strings.TrimSpace(input) == "" {
		return &ParseResult{ExpandFallback: true}, nil
	}

	lines := strings.Split(input, "\n")
	var items []classifiedLine
	for i, raw := range lines {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		kind, body, ok := splitPrefix(trimmed)
		items = append(items, classifiedLine{kind: kind, body: body, raw: trimmed, line: i + 1, recognized: ok})
	}

	if len(items) == 1 {
		it := items[0]
		if !it.recognized {
			return &ParseResult{ExpandFallback: true, ExpandQuery: it.raw}, nil
		}
		if it.kind == KindExpand {
			return &ParseResult{ExpandFallback: true, ExpandQuery: it.body}, nil
		}
	}

	var sawExpand, sawTyped bool
	var subs []SubQuery
	for _, it := range items {
		if !it.recognized {
			return nil, qmderrors.InvalidQuery(
				fmt.Sprintf("query line %d is missing a lex:/vec:/hyde: prefix", it.line), it.line)
		}
		if it.kind == KindExpand {
			sawExpand = true
		} else {
			sawTyped = true
		}
		if it.body == "" {
			return nil, qmderrors.InvalidQuery(
				fmt.Sprintf("%s: line has an empty body", it.kind), it.line)
		}
		subs = append(subs, SubQuery{Kind: it.kind, Body: it.body, Line: it.line})
	}

	if sawExpand && sawTyped {
		return nil, qmderrors.InvalidQuery("expand: cannot be mixed with typed lex:/vec:/hyde: lines", 0)
	}

	return &ParseResult{SubQueries: subs}, nil
}

// ValidateSemantic rejects FTS-style negation in a vec:/hyde: body, since
// the semantic channel has no way to express "not this concept".
func ValidateSemantic(body string) error {
	for _, tok := range strings.Fields(body) {
		if strings.HasPrefix(tok, "-") {
			return qmderrors.InvalidQuery(
				`semantic queries cannot use lexical negation ("-term" or "-\"phrase\"")`, 0)
		}
	}
	return nil
}
