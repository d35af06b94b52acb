package qmd

import (
	"context"

	"github.com/qmd-dev/qmd/internal/content"
	"github.com/qmd-dev/qmd/internal/qmderrors"
)

// Collection re-exports the catalog's collection record so callers never
// need to import internal/content directly.
type Collection = content.Collection

// EnsureCollection returns the named collection, creating it with root/
// pattern/context if it doesn't exist yet. Existing collections are
// returned unchanged; root/pattern/context are only honored on creation.
func (e *Engine) EnsureCollection(ctx context.Context, name, root, pattern, contextText string) (*Collection, error) {
	existing, err := e.store.GetCollection(ctx, name)
	if err == nil {
		return existing, nil
	}
	if !qmderrors.IsCode(err, qmderrors.CodeNotFound) {
		return nil, err
	}
	return e.store.CreateCollection(ctx, name, root, pattern, contextText)
}

// Collections lists every registered collection.
func (e *Engine) Collections(ctx context.Context) ([]*Collection, error) {
	return e.store.ListCollections(ctx)
}
