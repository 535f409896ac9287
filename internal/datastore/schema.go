package datastore

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS vendor (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	rank INTEGER NOT NULL UNIQUE,
	data_server_uri TEXT,
	data_server_user TEXT,
	data_server_password TEXT,
	image_server_uri TEXT
)`,
	`CREATE TABLE IF NOT EXISTS source (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	vendor_id INTEGER NOT NULL REFERENCES vendor(id),
	match_id TEXT NOT NULL,
	match_type TEXT NOT NULL,
	original_file TEXT,
	original_last_modified DATETIME,
	original_content_length INTEGER,
	date DATETIME NOT NULL,
	last_indexed DATETIME,
	UNIQUE (vendor_id, match_id)
)`,
	`CREATE INDEX IF NOT EXISTS idx_source_match ON source(match_id, match_type, vendor_id)`,
	`CREATE TABLE IF NOT EXISTS image (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_id INTEGER NOT NULL UNIQUE REFERENCES source(id) ON DELETE CASCADE,
	image_format TEXT NOT NULL,
	size INTEGER NOT NULL,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	cover_store_url TEXT NOT NULL,
	created DATETIME NOT NULL,
	updated DATETIME NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS search (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_id INTEGER REFERENCES source(id) ON DELETE SET NULL,
	is_identifier TEXT NOT NULL,
	is_type TEXT NOT NULL,
	image_url TEXT NOT NULL,
	image_format TEXT NOT NULL,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	collection BOOLEAN NOT NULL DEFAULT 0,
	UNIQUE (is_identifier, is_type)
)`,
	`CREATE INDEX IF NOT EXISTS idx_search_source ON search(source_id)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS vendor (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	rank INTEGER NOT NULL UNIQUE,
	data_server_uri TEXT,
	data_server_user TEXT,
	data_server_password TEXT,
	image_server_uri TEXT
)`,
	`CREATE TABLE IF NOT EXISTS source (
	id BIGSERIAL PRIMARY KEY,
	vendor_id INTEGER NOT NULL REFERENCES vendor(id),
	match_id TEXT NOT NULL,
	match_type TEXT NOT NULL,
	original_file TEXT,
	original_last_modified TIMESTAMPTZ,
	original_content_length BIGINT,
	date TIMESTAMPTZ NOT NULL,
	last_indexed TIMESTAMPTZ,
	UNIQUE (vendor_id, match_id)
)`,
	`CREATE INDEX IF NOT EXISTS idx_source_match ON source(match_id, match_type, vendor_id)`,
	`CREATE TABLE IF NOT EXISTS image (
	id BIGSERIAL PRIMARY KEY,
	source_id BIGINT NOT NULL UNIQUE REFERENCES source(id) ON DELETE CASCADE,
	image_format TEXT NOT NULL,
	size BIGINT NOT NULL,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	cover_store_url TEXT NOT NULL,
	created TIMESTAMPTZ NOT NULL,
	updated TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS search (
	id BIGSERIAL PRIMARY KEY,
	source_id BIGINT REFERENCES source(id) ON DELETE SET NULL,
	is_identifier TEXT NOT NULL,
	is_type TEXT NOT NULL,
	image_url TEXT NOT NULL,
	image_format TEXT NOT NULL,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	collection BOOLEAN NOT NULL DEFAULT FALSE,
	UNIQUE (is_identifier, is_type)
)`,
	`CREATE INDEX IF NOT EXISTS idx_search_source ON search(source_id)`,
}
