package cache

// DatawellTable caches datawell search results keyed by identifier type and
// identifier.
const DatawellTable = "datawell_cache"

// DatawellCacheSchema defines the schema for the datawell search cache
const DatawellCacheSchema = `
CREATE TABLE IF NOT EXISTS datawell_cache (
	cache_key TEXT PRIMARY KEY NOT NULL,
	data TEXT NOT NULL,
	cached_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_datawell_expires_at ON datawell_cache(expires_at);
`

// AllCacheSchemas contains all cache table schemas for easy initialization
var AllCacheSchemas = []string{
	DatawellCacheSchema,
}

// ValidCacheTableNames is the whitelist of allowed cache table names
// Used to prevent SQL injection when interpolating table names
var ValidCacheTableNames = map[string]bool{
	DatawellTable: true,
}
