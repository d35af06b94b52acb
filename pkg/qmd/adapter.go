package qmd

import (
	"context"

	"github.com/qmd-dev/qmd/internal/content"
	"github.com/qmd-dev/qmd/internal/retrieval"
)

// storeDocumentSource adapts internal/content.Store to
// internal/retrieval.DocumentSource, resolving a content hash to the
// catalog/body data the pipeline enriches hits with.
type storeDocumentSource struct {
	store *content.Store
}

var _ retrieval.DocumentSource = (*storeDocumentSource)(nil)

func (a *storeDocumentSource) LookupMetaByHash(hash string) (retrieval.DocumentMeta, bool, error) {
	ctx := context.Background()

	doc, err := a.store.LookupActiveByHash(ctx, hash)
	if err != nil {
		return retrieval.DocumentMeta{}, false, nil
	}

	body, err := a.store.LookupByHash(ctx, hash)
	if err != nil {
		return retrieval.DocumentMeta{}, false, err
	}

	displayPath := doc.DisplayPath
	if displayPath == "" {
		displayPath = doc.Path
	}

	return retrieval.DocumentMeta{
		Hash:        hash,
		DocID:       doc.DocID(),
		Title:       doc.Title,
		DisplayPath: displayPath,
		Collection:  doc.Collection,
		ModifiedAt:  doc.ModifiedAt,
		Body:        body,
	}, true, nil
}
