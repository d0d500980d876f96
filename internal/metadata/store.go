package metadata

import (
	"context"
	"time"
)

// Store is the relational contract of the engine. Implementations must
// scope every document, term and link operation by index GUID.
type Store interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error

	CreateIndex(ctx context.Context, rec IndexRecord) error
	DeleteIndex(ctx context.Context, guid string) error
	GetIndexByName(ctx context.Context, name string) (IndexRecord, error)
	ListIndices(ctx context.Context) ([]IndexRecord, error)
	// PurgeIndex deletes every document, term and link row of an index.
	PurgeIndex(ctx context.Context, indexGUID string) error

	InsertSourceDocument(ctx context.Context, doc SourceDocument) error
	GetSourceDocument(ctx context.Context, indexGUID, guid string) (SourceDocument, error)
	// ListSourceDocuments returns documents ordered by GUID ascending.
	ListSourceDocuments(ctx context.Context, indexGUID string, page Page) ([]SourceDocument, error)
	SetSourceIndexed(ctx context.Context, indexGUID, guid string, at time.Time) error
	DeleteSourceDocument(ctx context.Context, indexGUID, guid string) error

	InsertParsedDocument(ctx context.Context, doc ParsedDocument) error
	GetParsedDocumentBySource(ctx context.Context, indexGUID, sourceGUID string) (ParsedDocument, error)
	DeleteParsedDocument(ctx context.Context, indexGUID, guid string) error

	GetTerm(ctx context.Context, indexGUID, term string) (TermMap, error)
	// InsertTerm inserts tm unless (index, term) exists and returns the
	// stored row either way.
	InsertTerm(ctx context.Context, tm TermMap) (TermMap, error)

	InsertTermDocs(ctx context.Context, links []TermDoc) error
	DeleteTermDocsBySource(ctx context.Context, indexGUID, sourceGUID string) error
	// SourceGUIDsForTerm returns linked source document GUIDs, ascending.
	SourceGUIDsForTerm(ctx context.Context, indexGUID, termGUID string) ([]string, error)
	TermGUIDsForSource(ctx context.Context, indexGUID, sourceGUID string) ([]string, error)

	Stats(ctx context.Context, indexGUID string) (IndexStats, error)
	Close() error
}
