package scope

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qmd-dev/qmd/internal/config"
	"github.com/qmd-dev/qmd/internal/qmderrors"
)

type fakeMeta struct {
	values map[string]string
}

func newFakeMeta() *fakeMeta {
	return &fakeMeta{values: make(map[string]string)}
}

func (m *fakeMeta) GetMeta(_ context.Context, key string) (string, bool, error) {
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *fakeMeta) SetMeta(_ context.Context, key, value string) error {
	m.values[key] = value
	return nil
}

func (m *fakeMeta) DeleteMeta(_ context.Context, key string) error {
	delete(m.values, key)
	return nil
}

type fakeCounter int

func (c fakeCounter) Count() int { return int(c) }

func TestGuardLocalBackendWithNoStoredMetaIsOK(t *testing.T) {
	meta := newFakeMeta()
	err := Guard(context.Background(), config.BackendLocal, Scope{}, meta, fakeCounter(0))
	assert.NoError(t, err)
}

func TestGuardLocalBackendWithStoredApiMetaIsRejected(t *testing.T) {
	meta := newFakeMeta()
	require.NoError(t, Record(context.Background(), meta, Scope{BaseURL: "https://api.openai.com/v1", Model: "text-embedding-3-small"}))

	err := Guard(context.Background(), config.BackendLocal, Scope{}, meta, fakeCounter(5))
	require.Error(t, err)
	assert.True(t, qmderrors.IsCode(err, qmderrors.CodeScopeViolation))
}

func TestGuardApiBackendNoStoredMetaNoVectorsIsOK(t *testing.T) {
	meta := newFakeMeta()
	current := Scope{BaseURL: "https://api.openai.com/v1", Model: "text-embedding-3-small"}
	err := Guard(context.Background(), config.BackendAPI, current, meta, fakeCounter(0))
	assert.NoError(t, err)
}

func TestGuardApiBackendNoStoredMetaButVectorsExistIsAmbiguous(t *testing.T) {
	meta := newFakeMeta()
	current := Scope{BaseURL: "https://api.openai.com/v1", Model: "text-embedding-3-small"}
	err := Guard(context.Background(), config.BackendAPI, current, meta, fakeCounter(12))
	require.Error(t, err)
	assert.True(t, qmderrors.IsCode(err, qmderrors.CodeScopeViolation))
}

func TestGuardApiBackendMatchingScopeIsOK(t *testing.T) {
	meta := newFakeMeta()
	current := Scope{BaseURL: "https://api.openai.com/v1", Model: "text-embedding-3-small"}
	require.NoError(t, Record(context.Background(), meta, current))

	err := Guard(context.Background(), config.BackendAPI, current, meta, fakeCounter(100))
	assert.NoError(t, err)
}

// TestGuardScenarioE grounds spec.md §8 scenario E literally: stored scope
// (https://api.openai.com/v1, text-embedding-3-small), current scope swaps
// the model to text-embedding-3-large; the error must contain "scope
// mismatch", "Stored scope", "Current scope", and "qmd embed -f".
func TestGuardScenarioE(t *testing.T) {
	meta := newFakeMeta()
	stored := Scope{BaseURL: "https://api.openai.com/v1", Model: "text-embedding-3-small"}
	require.NoError(t, Record(context.Background(), meta, stored))

	current := Scope{BaseURL: "https://api.openai.com/v1", Model: "text-embedding-3-large"}
	err := Guard(context.Background(), config.BackendAPI, current, meta, fakeCounter(42))
	require.Error(t, err)
	assert.True(t, qmderrors.IsCode(err, qmderrors.CodeScopeViolation))

	msg := err.Error()
	assert.Contains(t, msg, "scope mismatch")
	assert.Contains(t, msg, "Stored scope")
	assert.Contains(t, msg, "Current scope")
	assert.Contains(t, msg, "qmd embed -f")
}

func TestGuardUnknownBackendIsOK(t *testing.T) {
	meta := newFakeMeta()
	err := Guard(context.Background(), config.BackendUnknown, Scope{}, meta, fakeCounter(0))
	assert.NoError(t, err)
}

func TestClearRemovesStoredScope(t *testing.T) {
	meta := newFakeMeta()
	require.NoError(t, Record(context.Background(), meta, Scope{BaseURL: "https://api.openai.com/v1", Model: "m"}))
	require.NoError(t, Clear(context.Background(), meta))

	_, ok, err := Load(context.Background(), meta)
	require.NoError(t, err)
	assert.False(t, ok)
}
