// Package terms maps terms to stable per-index GUIDs and maintains the
// term/document join used to find candidate documents for a query.
package terms

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/komodo-search/komodo/internal/metadata"
	apperrors "github.com/komodo-search/komodo/pkg/errors"
)

// Index is the term dictionary of every Komodo index sharing one metadata
// store. All calls are scoped by index GUID.
type Index struct {
	store  metadata.Store
	group  singleflight.Group
	logger *slog.Logger
}

func New(store metadata.Store) *Index {
	return &Index{
		store:  store,
		logger: slog.Default().With("component", "term-index"),
	}
}

// ResolveOrCreate returns the GUID of term in the index, creating the
// mapping on first sight. Concurrent callers for the same term share one
// insert.
func (ix *Index) ResolveOrCreate(ctx context.Context, indexGUID, term string) (string, error) {
	if indexGUID == "" || term == "" {
		return "", apperrors.New(apperrors.IDMissingParams, apperrors.ErrInvalidInput, "index and term are required")
	}
	tm, err := ix.store.GetTerm(ctx, indexGUID, term)
	if err == nil {
		return tm.GUID, nil
	}
	if !apperrors.IsNotFound(err) {
		return "", apperrors.Wrap(apperrors.IDReadError, err, "resolving term")
	}
	v, err, _ := ix.group.Do(indexGUID+"|"+term, func() (any, error) {
		stored, err := ix.store.InsertTerm(ctx, metadata.TermMap{
			GUID:      metadata.NewGUID(),
			IndexGUID: indexGUID,
			Term:      term,
			Created:   time.Now().UTC(),
		})
		if err != nil {
			return "", err
		}
		return stored.GUID, nil
	})
	if err != nil {
		return "", apperrors.Wrap(apperrors.IDWriteError, err, fmt.Sprintf("creating term %q", term))
	}
	return v.(string), nil
}

// Link records that the term occurs in the document.
func (ix *Index) Link(ctx context.Context, indexGUID, termGUID, sourceGUID, parsedGUID string) error {
	return ix.LinkMany(ctx, []metadata.TermDoc{{
		IndexGUID:          indexGUID,
		TermGUID:           termGUID,
		SourceDocumentGUID: sourceGUID,
		ParsedDocumentGUID: parsedGUID,
	}})
}

// LinkMany writes a batch of links in one transaction. Existing links are
// left untouched.
func (ix *Index) LinkMany(ctx context.Context, links []metadata.TermDoc) error {
	if err := ix.store.InsertTermDocs(ctx, links); err != nil {
		return apperrors.Wrap(apperrors.IDWriteError, err, "linking terms")
	}
	return nil
}

// LinkDocument resolves every term and links it to the document.
func (ix *Index) LinkDocument(ctx context.Context, indexGUID, sourceGUID, parsedGUID string, terms []string) error {
	links := make([]metadata.TermDoc, 0, len(terms))
	for _, term := range terms {
		termGUID, err := ix.ResolveOrCreate(ctx, indexGUID, term)
		if err != nil {
			return err
		}
		links = append(links, metadata.TermDoc{
			IndexGUID:          indexGUID,
			TermGUID:           termGUID,
			SourceDocumentGUID: sourceGUID,
			ParsedDocumentGUID: parsedGUID,
		})
	}
	if err := ix.LinkMany(ctx, links); err != nil {
		return err
	}
	ix.logger.Debug("document linked", "index_guid", indexGUID, "document", sourceGUID, "terms", len(links))
	return nil
}

// Unlink removes every term link of the document. Term map rows are kept.
func (ix *Index) Unlink(ctx context.Context, indexGUID, sourceGUID string) error {
	if err := ix.store.DeleteTermDocsBySource(ctx, indexGUID, sourceGUID); err != nil {
		return apperrors.Wrap(apperrors.IDDeleteError, err, "unlinking document terms")
	}
	return nil
}

// DocumentsForTerm returns the source GUIDs linked to term in ascending
// order, or an empty slice when the term has never been seen.
func (ix *Index) DocumentsForTerm(ctx context.Context, indexGUID, term string) ([]string, error) {
	tm, err := ix.store.GetTerm(ctx, indexGUID, term)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return []string{}, nil
		}
		return nil, apperrors.Wrap(apperrors.IDReadError, err, "looking up term")
	}
	guids, err := ix.store.SourceGUIDsForTerm(ctx, indexGUID, tm.GUID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.IDReadError, err, "listing term documents")
	}
	return guids, nil
}
