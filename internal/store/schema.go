package store

// schema is applied once at Open and is idempotent via IF NOT EXISTS,
// matching the teacher's convention of keeping DDL inline rather than
// behind a migration tool since the store has a single fixed shape.
const schema = `
PRAGMA journal_mode = WAL;
PRAGMA busy_timeout = 5000;
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS urls (
	normalized_url      TEXT PRIMARY KEY,
	source              TEXT NOT NULL,
	status              TEXT NOT NULL,
	attempt_count       INTEGER NOT NULL DEFAULT 0,
	last_attempt_at     DATETIME,
	error_message       TEXT,
	extractor_used      TEXT,
	block_reason        TEXT,
	gdelt_publish_date  DATETIME,
	gdelt_themes        TEXT,
	gdelt_tone          REAL,
	discovered_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_urls_status ON urls (status);
CREATE INDEX IF NOT EXISTS idx_urls_source_status ON urls (source, status);

CREATE TABLE IF NOT EXISTS articles (
	article_id             INTEGER PRIMARY KEY AUTOINCREMENT,
	normalized_url         TEXT NOT NULL UNIQUE REFERENCES urls(normalized_url),
	source                 TEXT NOT NULL,
	headline               TEXT,
	authors                TEXT,
	publish_date           DATETIME,
	publish_date_source    TEXT,
	publish_date_diverged  INTEGER NOT NULL DEFAULT 0,
	full_text              TEXT NOT NULL,
	word_count             INTEGER NOT NULL,
	content_hash           TEXT NOT NULL UNIQUE,
	extraction_timestamp   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_articles_source ON articles (source);
CREATE INDEX IF NOT EXISTS idx_articles_publish_date ON articles (publish_date);

CREATE TABLE IF NOT EXISTS proxies (
	id                          INTEGER PRIMARY KEY AUTOINCREMENT,
	host                        TEXT NOT NULL,
	port                        INTEGER NOT NULL,
	protocol                    TEXT NOT NULL,
	last_validated_at           DATETIME,
	success_count               INTEGER NOT NULL DEFAULT 0,
	consecutive_failure_count   INTEGER NOT NULL DEFAULT 0,
	is_active                   INTEGER NOT NULL DEFAULT 1,
	UNIQUE(host, port)
);

CREATE INDEX IF NOT EXISTS idx_proxies_active ON proxies (is_active);
`
