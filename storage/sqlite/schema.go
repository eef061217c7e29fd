package sqlite

// Schema creates the tables used by Storage. It is idempotent.
// Timestamps are stored as RFC 3339 text in UTC.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id                  TEXT PRIMARY KEY,
	email               TEXT NOT NULL DEFAULT '',
	api_key             TEXT NOT NULL UNIQUE,
	stripe_id           TEXT UNIQUE,
	checkout_session_id TEXT,
	subscription_id     TEXT,
	credit              INTEGER NOT NULL DEFAULT 0,
	trees               INTEGER NOT NULL DEFAULT 0,
	created_at          TEXT NOT NULL,
	updated_at          TEXT NOT NULL,
	CHECK (subscription_id IS NULL OR stripe_id IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS users_checkout_session_id_idx ON users (checkout_session_id);

CREATE TABLE IF NOT EXISTS ledger_entries (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	occurred_at TEXT NOT NULL,
	trees       INTEGER NOT NULL,
	stripe_id   TEXT NOT NULL,
	invoice_id  TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS ledger_entries_stripe_id_idx ON ledger_entries (stripe_id);
`
