package store

const schemaVersion = 1

var schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);

CREATE TABLE IF NOT EXISTS measurements (
	job_id        TEXT PRIMARY KEY,
	initiative_id TEXT NOT NULL,
	phase         TEXT NOT NULL,
	family        TEXT NOT NULL,
	payload       BLOB NOT NULL,
	created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_measurements_initiative ON measurements(initiative_id);

CREATE TABLE IF NOT EXISTS runs (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	id             TEXT NOT NULL UNIQUE,
	config_path    TEXT,
	budget         REAL NOT NULL,
	evaluated      INTEGER NOT NULL,
	selected       INTEGER NOT NULL,
	budget_used    REAL NOT NULL,
	mean_abs_error REAL NOT NULL,
	result         BLOB,
	created_at     TEXT NOT NULL
);
`
