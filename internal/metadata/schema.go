package metadata

// Timestamps are stored as unix nanoseconds so both dialects share one
// schema.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS indices (
		guid       VARCHAR(64) PRIMARY KEY,
		owner_guid VARCHAR(64) NOT NULL,
		name       VARCHAR(256) NOT NULL UNIQUE,
		created    BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS source_documents (
		guid           VARCHAR(64) PRIMARY KEY,
		owner_guid     VARCHAR(64) NOT NULL,
		index_guid     VARCHAR(64) NOT NULL,
		name           TEXT NOT NULL,
		title          TEXT NOT NULL,
		tags           TEXT NOT NULL,
		document_type  VARCHAR(16) NOT NULL,
		source_url     TEXT NOT NULL,
		content_type   VARCHAR(256) NOT NULL,
		content_length BIGINT NOT NULL,
		content_md5    VARCHAR(64) NOT NULL,
		created        BIGINT NOT NULL,
		indexed        BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_source_documents_index ON source_documents (index_guid, guid)`,
	`CREATE TABLE IF NOT EXISTS parsed_documents (
		guid                  VARCHAR(64) PRIMARY KEY,
		source_document_guid  VARCHAR(64) NOT NULL,
		owner_guid            VARCHAR(64) NOT NULL,
		index_guid            VARCHAR(64) NOT NULL,
		document_type         VARCHAR(16) NOT NULL,
		source_content_length BIGINT NOT NULL,
		parsed_content_length BIGINT NOT NULL,
		term_count            BIGINT NOT NULL,
		posting_count         BIGINT NOT NULL,
		created               BIGINT NOT NULL,
		indexed               BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_parsed_documents_source ON parsed_documents (index_guid, source_document_guid)`,
	`CREATE TABLE IF NOT EXISTS term_maps (
		guid       VARCHAR(64) PRIMARY KEY,
		index_guid VARCHAR(64) NOT NULL,
		term       TEXT NOT NULL,
		created    BIGINT NOT NULL,
		UNIQUE (index_guid, term)
	)`,
	`CREATE TABLE IF NOT EXISTS term_docs (
		index_guid           VARCHAR(64) NOT NULL,
		term_guid            VARCHAR(64) NOT NULL,
		source_document_guid VARCHAR(64) NOT NULL,
		parsed_document_guid VARCHAR(64) NOT NULL,
		PRIMARY KEY (index_guid, term_guid, source_document_guid)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_term_docs_source ON term_docs (index_guid, source_document_guid)`,
}
