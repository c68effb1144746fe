package schemas

// The run record and the aggregate result are stored as JSON documents, the other
// columns only exist for lookups and ordering.

const SQLITE_SCHEMA = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    status TEXT NOT NULL,
    entity TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_created_at
ON runs (created_at);

CREATE TABLE IF NOT EXISTS aggregates (
    run_id TEXT PRIMARY KEY REFERENCES runs (id),
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    entity TEXT NOT NULL
);
`

const POSTGRES_SCHEMA = `
CREATE TABLE IF NOT EXISTS runs (
    id VARCHAR(64) PRIMARY KEY,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    status VARCHAR(32) NOT NULL,
    entity JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_created_at
ON runs (created_at);

CREATE TABLE IF NOT EXISTS aggregates (
    run_id VARCHAR(64) PRIMARY KEY REFERENCES runs (id),
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    entity JSONB NOT NULL
);
`

// SchemaForDriver returns the schema for a database/sql driver name, empty when the driver is unknown.
func SchemaForDriver(driver string) string {
	switch driver {
	case "sqlite":
		return SQLITE_SCHEMA
	case "pgx":
		return POSTGRES_SCHEMA
	default:
		return ""
	}
}
