// Package metadata persists the relational records of the engine: index
// definitions, source and parsed document metadata, and the term map and
// term/document join tables.
package metadata

import (
	"time"

	"github.com/google/uuid"

	"github.com/komodo-search/komodo/internal/parser"
)

// NewGUID returns a fresh random identifier.
func NewGUID() string {
	return uuid.NewString()
}

// IndexRecord is one logical search index.
type IndexRecord struct {
	GUID      string    `json:"guid"`
	OwnerGUID string    `json:"owner_guid"`
	Name      string    `json:"name"`
	Created   time.Time `json:"created"`
}

// SourceDocument is the metadata of an ingested document. It is immutable
// once written except for Indexed.
type SourceDocument struct {
	GUID          string              `json:"guid"`
	OwnerGUID     string              `json:"owner_guid"`
	IndexGUID     string              `json:"index_guid"`
	Name          string              `json:"name"`
	Title         string              `json:"title"`
	Tags          []string            `json:"tags"`
	DocumentType  parser.DocumentType `json:"document_type"`
	SourceURL     string              `json:"source_url,omitempty"`
	ContentType   string              `json:"content_type"`
	ContentLength int64               `json:"content_length"`
	ContentMD5    string              `json:"content_md5"`
	Created       time.Time           `json:"created"`
	Indexed       *time.Time          `json:"indexed,omitempty"`
}

// ParsedDocument is the metadata of a successfully parsed source document.
type ParsedDocument struct {
	GUID                string              `json:"guid"`
	SourceDocumentGUID  string              `json:"source_document_guid"`
	OwnerGUID           string              `json:"owner_guid"`
	IndexGUID           string              `json:"index_guid"`
	DocumentType        parser.DocumentType `json:"document_type"`
	SourceContentLength int64               `json:"source_content_length"`
	ParsedContentLength int64               `json:"parsed_content_length"`
	TermCount           int64               `json:"term_count"`
	PostingCount        int64               `json:"posting_count"`
	Created             time.Time           `json:"created"`
	Indexed             *time.Time          `json:"indexed,omitempty"`
}

// TermMap assigns a stable GUID to a term within one index.
type TermMap struct {
	GUID      string    `json:"guid"`
	IndexGUID string    `json:"index_guid"`
	Term      string    `json:"term"`
	Created   time.Time `json:"created"`
}

// TermDoc links a term to a document within one index.
type TermDoc struct {
	IndexGUID          string `json:"index_guid"`
	TermGUID           string `json:"term_guid"`
	SourceDocumentGUID string `json:"source_document_guid"`
	ParsedDocumentGUID string `json:"parsed_document_guid"`
}

// IndexStats aggregates the row counts of one index.
type IndexStats struct {
	SourceDocuments    int64 `json:"source_documents"`
	SourceContentBytes int64 `json:"source_content_bytes"`
	ParsedDocuments    int64 `json:"parsed_documents"`
	ParsedContentBytes int64 `json:"parsed_content_bytes"`
	IndexedDocuments   int64 `json:"indexed_documents"`
	Terms              int64 `json:"terms"`
	TermDocuments      int64 `json:"term_documents"`
	Postings           int64 `json:"postings"`
}

// Page selects a window of an ordered listing. Limit <= 0 means no limit.
// NameContains, when set, first narrows the listing to documents whose name
// contains it, compared case-insensitively and matched literally.
type Page struct {
	Offset       int
	Limit        int
	NameContains string
}
