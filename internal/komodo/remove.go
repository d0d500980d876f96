package komodo

import (
	"context"

	apperrors "github.com/komodo-search/komodo/pkg/errors"
)

// Remove deletes a document's bookkeeping: its term links, postings,
// parsed row and source row. With destroy set the stored source bytes and
// parsed content go too. Deletes run from derived data towards the source
// of truth so an interrupted Remove never leaves postings pointing at a
// missing document.
func (i *Index) Remove(ctx context.Context, guid string, destroy bool) error {
	if guid == "" {
		return apperrors.New(apperrors.IDMissingParams, apperrors.ErrInvalidInput, "document guid is required")
	}
	done, err := i.begin()
	if err != nil {
		return err
	}
	defer done()
	unlock := i.locks.lock(guid)
	defer unlock()

	if _, err := i.meta.GetSourceDocument(ctx, i.rec.GUID, guid); err != nil {
		if apperrors.IsNotFound(err) {
			return apperrors.Wrap(apperrors.IDRetrieveFailed, err, "removing document")
		}
		return apperrors.Wrap(apperrors.IDReadError, err, "removing document")
	}

	linked, err := i.meta.TermGUIDsForSource(ctx, i.rec.GUID, guid)
	if err != nil {
		return apperrors.Wrap(apperrors.IDReadError, err, "reading term links")
	}
	if err := i.terms.Unlink(ctx, i.rec.GUID, guid); err != nil {
		return apperrors.Wrap(apperrors.IDDeleteError, err, "removing term links")
	}
	if err := i.postings.Delete(ctx, guid); err != nil {
		return apperrors.Wrap(apperrors.IDDeleteError, err, "removing postings")
	}

	pd, err := i.meta.GetParsedDocumentBySource(ctx, i.rec.GUID, guid)
	if err != nil && !apperrors.IsNotFound(err) {
		return apperrors.Wrap(apperrors.IDReadError, err, "reading parsed document")
	}
	if destroy {
		if err := i.parsed.Delete(ctx, guid); err != nil {
			return apperrors.Wrap(apperrors.IDDeleteError, err, "removing parsed content")
		}
	}
	if err == nil {
		if err := i.meta.DeleteParsedDocument(ctx, i.rec.GUID, pd.GUID); err != nil {
			return apperrors.Wrap(apperrors.IDDeleteError, err, "removing parsed document")
		}
	}

	if destroy {
		if err := i.source.Delete(ctx, guid); err != nil {
			return apperrors.Wrap(apperrors.IDDeleteError, err, "removing source content")
		}
	}
	if err := i.meta.DeleteSourceDocument(ctx, i.rec.GUID, guid); err != nil {
		return apperrors.Wrap(apperrors.IDDeleteError, err, "removing source document")
	}

	i.invalidate(ctx)
	i.metrics.DocumentRemoved(destroy)
	i.logger.Info("document removed", "document", guid, "destroy", destroy, "term_links", len(linked))
	return nil
}
