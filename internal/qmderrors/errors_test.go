package qmderrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvalidQueryIncludesLine(t *testing.T) {
	err := InvalidQuery("typed line is empty", 3)
	require.Equal(t, CodeInvalidQuery, err.Code)
	assert.Equal(t, "3", err.Details["line"])
	assert.Equal(t, CategoryQuery, err.Category)
}

func TestScopeViolationIsFatal(t *testing.T) {
	err := ScopeViolation("scope mismatch")
	assert.Equal(t, SeverityFatal, err.Severity)
	assert.False(t, err.Retryable)
}

func TestProviderTransientRetryable(t *testing.T) {
	err := ProviderTransient("429 too many requests", nil)
	assert.True(t, err.Retryable)
	assert.Equal(t, SeverityWarning, err.Severity)
}

func TestIsMatchesByCode(t *testing.T) {
	err := NotFound("collection", "notes")
	target := New(CodeNotFound, "", nil)
	assert.True(t, errors.Is(err, target))

	other := New(CodeIOFailure, "", nil)
	assert.False(t, errors.Is(err, other))
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := IOFailure("failed to write content", cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestWithDetailAndSuggestionChain(t *testing.T) {
	err := New(CodeNotFound, "missing", nil).
		WithDetail("path", "notes/a.md").
		WithSuggestion("check the collection name")
	assert.Equal(t, "notes/a.md", err.Details["path"])
	assert.Contains(t, err.Error(), "check the collection name")
}
