package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/komodo-search/komodo/internal/parser"
	"github.com/komodo-search/komodo/pkg/database"
	apperrors "github.com/komodo-search/komodo/pkg/errors"
)

// Compile-time check: SQLStore implements Store.
var _ Store = (*SQLStore)(nil)

// SQLStore implements Store on PostgreSQL or SQLite through database/sql.
type SQLStore struct {
	db     *database.Client
	logger *slog.Logger
}

func NewSQLStore(db *database.Client) *SQLStore {
	return &SQLStore{
		db:     db,
		logger: slog.Default().With("component", "metadata-store", "dialect", string(db.Dialect)),
	}
}

func (s *SQLStore) q(query string) string {
	return s.db.Rebind(query)
}

// ascending orders by col byte-wise on both engines, the same order the
// in-memory store produces. Postgres would otherwise use the database
// locale.
func (s *SQLStore) ascending(col string) string {
	if s.db.Dialect == database.Postgres {
		return ` ORDER BY ` + col + ` COLLATE "C" ASC`
	}
	return ` ORDER BY ` + col + ` ASC`
}

func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	s.logger.Info("metadata schema ready", "tables", 5)
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) CreateIndex(ctx context.Context, rec IndexRecord) error {
	_, err := s.db.DB.ExecContext(ctx, s.q(
		`INSERT INTO indices (guid, owner_guid, name, created) VALUES (?, ?, ?, ?)`),
		rec.GUID, rec.OwnerGUID, rec.Name, toNanos(rec.Created))
	if err != nil {
		return fmt.Errorf("inserting index %s: %w", rec.Name, err)
	}
	return nil
}

func (s *SQLStore) DeleteIndex(ctx context.Context, guid string) error {
	if _, err := s.db.DB.ExecContext(ctx, s.q(`DELETE FROM indices WHERE guid = ?`), guid); err != nil {
		return fmt.Errorf("deleting index %s: %w", guid, err)
	}
	return nil
}

func (s *SQLStore) GetIndexByName(ctx context.Context, name string) (IndexRecord, error) {
	var (
		rec     IndexRecord
		created int64
	)
	err := s.db.DB.QueryRowContext(ctx, s.q(
		`SELECT guid, owner_guid, name, created FROM indices WHERE name = ?`), name).
		Scan(&rec.GUID, &rec.OwnerGUID, &rec.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return IndexRecord{}, fmt.Errorf("index %s: %w", name, apperrors.ErrIndexNotFound)
	}
	if err != nil {
		return IndexRecord{}, fmt.Errorf("querying index %s: %w", name, err)
	}
	rec.Created = fromNanos(created)
	return rec, nil
}

func (s *SQLStore) ListIndices(ctx context.Context) ([]IndexRecord, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT guid, owner_guid, name, created FROM indices ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing indices: %w", err)
	}
	defer rows.Close()
	var out []IndexRecord
	for rows.Next() {
		var (
			rec     IndexRecord
			created int64
		)
		if err := rows.Scan(&rec.GUID, &rec.OwnerGUID, &rec.Name, &created); err != nil {
			return nil, fmt.Errorf("scanning index row: %w", err)
		}
		rec.Created = fromNanos(created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLStore) PurgeIndex(ctx context.Context, indexGUID string) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"term_docs", "term_maps", "parsed_documents", "source_documents"} {
			if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM `+table+` WHERE index_guid = ?`), indexGUID); err != nil {
				return fmt.Errorf("purging %s: %w", table, err)
			}
		}
		return nil
	})
}

const sourceColumns = `guid, owner_guid, index_guid, name, title, tags, document_type, source_url,
	content_type, content_length, content_md5, created, indexed`

func (s *SQLStore) InsertSourceDocument(ctx context.Context, doc SourceDocument) error {
	tags, err := json.Marshal(nonNilTags(doc.Tags))
	if err != nil {
		return fmt.Errorf("encoding tags: %w", err)
	}
	_, err = s.db.DB.ExecContext(ctx, s.q(
		`INSERT INTO source_documents (`+sourceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		doc.GUID, doc.OwnerGUID, doc.IndexGUID, doc.Name, doc.Title, string(tags), string(doc.DocumentType),
		doc.SourceURL, doc.ContentType, doc.ContentLength, doc.ContentMD5, toNanos(doc.Created), nullNanos(doc.Indexed))
	if err != nil {
		return fmt.Errorf("inserting source document %s: %w", doc.GUID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSource(row scanner) (SourceDocument, error) {
	var (
		doc           SourceDocument
		tags, docType string
		created       int64
		indexed       sql.NullInt64
	)
	err := row.Scan(&doc.GUID, &doc.OwnerGUID, &doc.IndexGUID, &doc.Name, &doc.Title, &tags, &docType,
		&doc.SourceURL, &doc.ContentType, &doc.ContentLength, &doc.ContentMD5, &created, &indexed)
	if err != nil {
		return SourceDocument{}, err
	}
	if err := json.Unmarshal([]byte(tags), &doc.Tags); err != nil {
		return SourceDocument{}, fmt.Errorf("decoding tags of %s: %w", doc.GUID, err)
	}
	doc.DocumentType = parser.DocumentType(docType)
	doc.Created = fromNanos(created)
	doc.Indexed = fromNullNanos(indexed)
	return doc, nil
}

func (s *SQLStore) GetSourceDocument(ctx context.Context, indexGUID, guid string) (SourceDocument, error) {
	row := s.db.DB.QueryRowContext(ctx, s.q(
		`SELECT `+sourceColumns+` FROM source_documents WHERE index_guid = ? AND guid = ?`), indexGUID, guid)
	doc, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SourceDocument{}, fmt.Errorf("source document %s: %w", guid, apperrors.ErrDocumentNotFound)
	}
	if err != nil {
		return SourceDocument{}, fmt.Errorf("querying source document %s: %w", guid, err)
	}
	return doc, nil
}

func (s *SQLStore) ListSourceDocuments(ctx context.Context, indexGUID string, page Page) ([]SourceDocument, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + sourceColumns + ` FROM source_documents WHERE index_guid = ?`)
	args := []any{indexGUID}
	if page.NameContains != "" {
		b.WriteString(` AND LOWER(name) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+database.EscapeLike(strings.ToLower(page.NameContains))+"%")
	}
	b.WriteString(s.ascending("guid"))
	if page.Limit > 0 {
		b.WriteString(` LIMIT ?`)
		args = append(args, page.Limit)
	} else if s.db.Dialect == database.Sqlite && page.Offset > 0 {
		// sqlite requires LIMIT before OFFSET
		b.WriteString(` LIMIT -1`)
	}
	if page.Offset > 0 {
		b.WriteString(` OFFSET ?`)
		args = append(args, page.Offset)
	}
	rows, err := s.db.DB.QueryContext(ctx, s.q(b.String()), args...)
	if err != nil {
		return nil, fmt.Errorf("listing source documents: %w", err)
	}
	defer rows.Close()
	var out []SourceDocument
	for rows.Next() {
		doc, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning source document: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *SQLStore) SetSourceIndexed(ctx context.Context, indexGUID, guid string, at time.Time) error {
	res, err := s.db.DB.ExecContext(ctx, s.q(
		`UPDATE source_documents SET indexed = ? WHERE index_guid = ? AND guid = ?`), toNanos(at), indexGUID, guid)
	if err != nil {
		return fmt.Errorf("updating source document %s: %w", guid, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("source document %s: %w", guid, apperrors.ErrDocumentNotFound)
	}
	return nil
}

func (s *SQLStore) DeleteSourceDocument(ctx context.Context, indexGUID, guid string) error {
	if _, err := s.db.DB.ExecContext(ctx, s.q(
		`DELETE FROM source_documents WHERE index_guid = ? AND guid = ?`), indexGUID, guid); err != nil {
		return fmt.Errorf("deleting source document %s: %w", guid, err)
	}
	return nil
}

const parsedColumns = `guid, source_document_guid, owner_guid, index_guid, document_type,
	source_content_length, parsed_content_length, term_count, posting_count, created, indexed`

func (s *SQLStore) InsertParsedDocument(ctx context.Context, doc ParsedDocument) error {
	_, err := s.db.DB.ExecContext(ctx, s.q(
		`INSERT INTO parsed_documents (`+parsedColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		doc.GUID, doc.SourceDocumentGUID, doc.OwnerGUID, doc.IndexGUID, string(doc.DocumentType),
		doc.SourceContentLength, doc.ParsedContentLength, doc.TermCount, doc.PostingCount,
		toNanos(doc.Created), nullNanos(doc.Indexed))
	if err != nil {
		return fmt.Errorf("inserting parsed document %s: %w", doc.GUID, err)
	}
	return nil
}

func (s *SQLStore) GetParsedDocumentBySource(ctx context.Context, indexGUID, sourceGUID string) (ParsedDocument, error) {
	var (
		doc     ParsedDocument
		docType string
		created int64
		indexed sql.NullInt64
	)
	err := s.db.DB.QueryRowContext(ctx, s.q(
		`SELECT `+parsedColumns+` FROM parsed_documents WHERE index_guid = ? AND source_document_guid = ?`),
		indexGUID, sourceGUID).
		Scan(&doc.GUID, &doc.SourceDocumentGUID, &doc.OwnerGUID, &doc.IndexGUID, &docType,
			&doc.SourceContentLength, &doc.ParsedContentLength, &doc.TermCount, &doc.PostingCount, &created, &indexed)
	if errors.Is(err, sql.ErrNoRows) {
		return ParsedDocument{}, fmt.Errorf("parsed document for %s: %w", sourceGUID, apperrors.ErrDocumentNotFound)
	}
	if err != nil {
		return ParsedDocument{}, fmt.Errorf("querying parsed document for %s: %w", sourceGUID, err)
	}
	doc.DocumentType = parser.DocumentType(docType)
	doc.Created = fromNanos(created)
	doc.Indexed = fromNullNanos(indexed)
	return doc, nil
}

func (s *SQLStore) DeleteParsedDocument(ctx context.Context, indexGUID, guid string) error {
	if _, err := s.db.DB.ExecContext(ctx, s.q(
		`DELETE FROM parsed_documents WHERE index_guid = ? AND guid = ?`), indexGUID, guid); err != nil {
		return fmt.Errorf("deleting parsed document %s: %w", guid, err)
	}
	return nil
}

func (s *SQLStore) GetTerm(ctx context.Context, indexGUID, term string) (TermMap, error) {
	var (
		tm      TermMap
		created int64
	)
	err := s.db.DB.QueryRowContext(ctx, s.q(
		`SELECT guid, index_guid, term, created FROM term_maps WHERE index_guid = ? AND term = ?`), indexGUID, term).
		Scan(&tm.GUID, &tm.IndexGUID, &tm.Term, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return TermMap{}, fmt.Errorf("term %q: %w", term, apperrors.ErrNotFound)
	}
	if err != nil {
		return TermMap{}, fmt.Errorf("querying term %q: %w", term, err)
	}
	tm.Created = fromNanos(created)
	return tm, nil
}

func (s *SQLStore) InsertTerm(ctx context.Context, tm TermMap) (TermMap, error) {
	_, err := s.db.DB.ExecContext(ctx, s.q(
		`INSERT INTO term_maps (guid, index_guid, term, created) VALUES (?, ?, ?, ?)
		ON CONFLICT (index_guid, term) DO NOTHING`),
		tm.GUID, tm.IndexGUID, tm.Term, toNanos(tm.Created))
	if err != nil {
		return TermMap{}, fmt.Errorf("inserting term %q: %w", tm.Term, err)
	}
	return s.GetTerm(ctx, tm.IndexGUID, tm.Term)
}

func (s *SQLStore) InsertTermDocs(ctx context.Context, links []TermDoc) error {
	if len(links) == 0 {
		return nil
	}
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.q(
			`INSERT INTO term_docs (index_guid, term_guid, source_document_guid, parsed_document_guid)
			VALUES (?, ?, ?, ?) ON CONFLICT (index_guid, term_guid, source_document_guid) DO NOTHING`))
		if err != nil {
			return fmt.Errorf("preparing term doc insert: %w", err)
		}
		defer stmt.Close()
		for _, l := range links {
			if _, err := stmt.ExecContext(ctx, l.IndexGUID, l.TermGUID, l.SourceDocumentGUID, l.ParsedDocumentGUID); err != nil {
				return fmt.Errorf("inserting term doc %s/%s: %w", l.TermGUID, l.SourceDocumentGUID, err)
			}
		}
		return nil
	})
}

func (s *SQLStore) DeleteTermDocsBySource(ctx context.Context, indexGUID, sourceGUID string) error {
	if _, err := s.db.DB.ExecContext(ctx, s.q(
		`DELETE FROM term_docs WHERE index_guid = ? AND source_document_guid = ?`), indexGUID, sourceGUID); err != nil {
		return fmt.Errorf("deleting term docs of %s: %w", sourceGUID, err)
	}
	return nil
}

func (s *SQLStore) SourceGUIDsForTerm(ctx context.Context, indexGUID, termGUID string) ([]string, error) {
	return s.queryStrings(ctx, s.q(
		`SELECT source_document_guid FROM term_docs WHERE index_guid = ? AND term_guid = ?`+
			s.ascending("source_document_guid")), indexGUID, termGUID)
}

func (s *SQLStore) TermGUIDsForSource(ctx context.Context, indexGUID, sourceGUID string) ([]string, error) {
	return s.queryStrings(ctx, s.q(
		`SELECT term_guid FROM term_docs WHERE index_guid = ? AND source_document_guid = ?`+
			s.ascending("term_guid")), indexGUID, sourceGUID)
}

func (s *SQLStore) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying term docs: %w", err)
	}
	defer rows.Close()
	out := make([]string, 0)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning term doc: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLStore) Stats(ctx context.Context, indexGUID string) (IndexStats, error) {
	var st IndexStats
	err := s.db.DB.QueryRowContext(ctx, s.q(
		`SELECT COUNT(*), COALESCE(SUM(content_length), 0), COUNT(indexed)
		FROM source_documents WHERE index_guid = ?`), indexGUID).
		Scan(&st.SourceDocuments, &st.SourceContentBytes, &st.IndexedDocuments)
	if err != nil {
		return st, fmt.Errorf("source document stats: %w", err)
	}
	err = s.db.DB.QueryRowContext(ctx, s.q(
		`SELECT COUNT(*), COALESCE(SUM(parsed_content_length), 0), COALESCE(SUM(posting_count), 0)
		FROM parsed_documents WHERE index_guid = ?`), indexGUID).
		Scan(&st.ParsedDocuments, &st.ParsedContentBytes, &st.Postings)
	if err != nil {
		return st, fmt.Errorf("parsed document stats: %w", err)
	}
	if err := s.db.DB.QueryRowContext(ctx, s.q(
		`SELECT COUNT(*) FROM term_maps WHERE index_guid = ?`), indexGUID).Scan(&st.Terms); err != nil {
		return st, fmt.Errorf("term stats: %w", err)
	}
	if err := s.db.DB.QueryRowContext(ctx, s.q(
		`SELECT COUNT(*) FROM term_docs WHERE index_guid = ?`), indexGUID).Scan(&st.TermDocuments); err != nil {
		return st, fmt.Errorf("term doc stats: %w", err)
	}
	return st, nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
