package postgres

// Schema creates the tables used by Storage. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id                  TEXT PRIMARY KEY,
	email               TEXT NOT NULL DEFAULT '',
	api_key             TEXT NOT NULL UNIQUE,
	stripe_id           TEXT UNIQUE,
	checkout_session_id TEXT,
	subscription_id     TEXT,
	credit              BIGINT NOT NULL DEFAULT 0,
	trees               BIGINT NOT NULL DEFAULT 0,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT users_subscription_needs_customer CHECK (subscription_id IS NULL OR stripe_id IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS users_checkout_session_id_idx ON users (checkout_session_id);

CREATE TABLE IF NOT EXISTS ledger_entries (
	id          TEXT PRIMARY KEY,
	occurred_at TIMESTAMPTZ NOT NULL,
	trees       BIGINT NOT NULL,
	stripe_id   TEXT NOT NULL,
	invoice_id  TEXT NOT NULL DEFAULT '',
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS ledger_entries_stripe_id_idx ON ledger_entries (stripe_id);
`
