// Package scope implements the Scope Guard and Index Meta (spec.md §4.7):
// before any vector read or write, the configured embedding backend and
// scope (base URL + model) are checked against what was last used to
// populate the vector index, refusing silently-mixed-dimension corruption.
package scope

import (
	"context"
	"fmt"

	"github.com/qmd-dev/qmd/internal/config"
	"github.com/qmd-dev/qmd/internal/qmderrors"
)

// Meta keys persisted in the shared api_meta table (content.Store), named
// after the teacher's StateKeyIndexDimension/StateKeyIndexModel pair but
// generalized from a single model string to the full (base_url, model)
// scope tuple spec.md §4.7 requires.
const (
	metaKeyEmbedBaseURL = "index_embedding_base_url"
	metaKeyEmbedModel   = "index_embedding_model"
)

// Scope is the (base URL, model) tuple that anchors a vector index.
type Scope struct {
	BaseURL string
	Model   string
}

func (s Scope) String() string {
	return fmt.Sprintf("%s / %s", s.BaseURL, s.Model)
}

func (s Scope) empty() bool {
	return s.BaseURL == "" && s.Model == ""
}

// MetaStore is the subset of content.Store the guard needs, decoupling
// this package from the concrete SQLite store.
type MetaStore interface {
	GetMeta(ctx context.Context, key string) (string, bool, error)
	SetMeta(ctx context.Context, key, value string) error
	DeleteMeta(ctx context.Context, key string) error
}

// VectorCounter reports how many vectors currently exist, so the guard can
// detect legacy vectors indexed before scope meta was ever recorded.
type VectorCounter interface {
	Count() int
}

// Load reads the stored scope, if any, from meta.
func Load(ctx context.Context, meta MetaStore) (Scope, bool, error) {
	baseURL, ok1, err := meta.GetMeta(ctx, metaKeyEmbedBaseURL)
	if err != nil {
		return Scope{}, false, err
	}
	model, ok2, err := meta.GetMeta(ctx, metaKeyEmbedModel)
	if err != nil {
		return Scope{}, false, err
	}
	if !ok1 && !ok2 {
		return Scope{}, false, nil
	}
	return Scope{BaseURL: baseURL, Model: model}, true, nil
}

// Record persists the current scope, called once on first successful
// remote embed (spec.md §4.7).
func Record(ctx context.Context, meta MetaStore, s Scope) error {
	if err := meta.SetMeta(ctx, metaKeyEmbedBaseURL, s.BaseURL); err != nil {
		return err
	}
	return meta.SetMeta(ctx, metaKeyEmbedModel, s.Model)
}

// Clear removes stored scope meta, the effect of an explicit "force
// re-embed" command (spec.md §4.7).
func Clear(ctx context.Context, meta MetaStore) error {
	if err := meta.DeleteMeta(ctx, metaKeyEmbedBaseURL); err != nil {
		return err
	}
	return meta.DeleteMeta(ctx, metaKeyEmbedModel)
}

// Guard computes the scope-guard outcome for the configured backend
// against stored meta and current vector count, per spec.md §4.7:
//
//   - backend local: scope meta present -> LocalBackendWithApiMeta.
//   - backend api: no stored meta but vectors exist -> AmbiguousLegacyVectors;
//     stored meta differs from current -> ScopeMismatch naming both scopes;
//     match -> nil.
//   - backend unknown: nil (validated elsewhere).
func Guard(ctx context.Context, backend config.Backend, current Scope, meta MetaStore, vectors VectorCounter) error {
	stored, hasStored, err := Load(ctx, meta)
	if err != nil {
		return err
	}

	switch backend {
	case config.BackendLocal:
		if hasStored && !stored.empty() {
			return qmderrors.ScopeViolation(
				"local backend configured but this index has stored api embedding scope meta").
				WithSuggestion("switch QMD_LLM_BACKEND to api, or run 'qmd embed -f' to clear scope meta and re-embed locally")
		}
		return nil

	case config.BackendAPI:
		if !hasStored || stored.empty() {
			if vectors != nil && vectors.Count() > 0 {
				return qmderrors.ScopeViolation(
					"index has vectors but no recorded embedding scope meta (ambiguous legacy vectors)").
					WithSuggestion("run 'qmd embed -f' to re-embed and record scope meta")
			}
			return nil
		}
		if stored != current {
			return qmderrors.ScopeViolation(fmt.Sprintf(
				"scope mismatch: index embeddings were computed with a different scope than the one currently configured.\nStored scope: %s\nCurrent scope: %s",
				stored, current)).
				WithSuggestion("run 'qmd embed -f' to re-embed with the current scope")
		}
		return nil

	default:
		return nil
	}
}
