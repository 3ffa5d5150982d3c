package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is the engine's storage layout. The unique index on
// ledger_entries.external_reference is the idempotency guard: two
// concurrent postings with the same reference provably collapse to one
// committed row. The CHECK on accounts.balance is a last line of
// defense behind the transactional balance check.
const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	account_id UUID PRIMARY KEY,
	email      TEXT UNIQUE NOT NULL,
	balance    BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
	is_active  BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS access_keys (
	key_id     UUID PRIMARY KEY,
	account_id UUID NOT NULL REFERENCES accounts(account_id),
	api_key    TEXT UNIQUE NOT NULL,
	revoked    BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	entry_id           UUID PRIMARY KEY,
	account_id         UUID NOT NULL REFERENCES accounts(account_id),
	access_key         TEXT,
	credits            BIGINT NOT NULL,
	cost_estimate_usd  DOUBLE PRECISION NOT NULL DEFAULT 0,
	external_reference TEXT UNIQUE NOT NULL,
	description        TEXT NOT NULL DEFAULT '',
	usage_detail       JSONB,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_ledger_account_created
	ON ledger_entries (account_id, created_at DESC);

CREATE TABLE IF NOT EXISTS workflows (
	workflow_id    UUID PRIMARY KEY,
	account_id     UUID NOT NULL REFERENCES accounts(account_id),
	access_key     TEXT NOT NULL,
	name           TEXT NOT NULL,
	adapter        TEXT,
	status         TEXT NOT NULL DEFAULT 'open',
	entries        JSONB NOT NULL DEFAULT '[]',
	total_credits  BIGINT NOT NULL DEFAULT 0,
	total_cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
	status_code    INT,
	error_message  TEXT,
	opened_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	closed_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_workflows_status_opened
	ON workflows (status, opened_at);
`

// Migrate applies the schema. All statements are idempotent, so it is
// safe to run on every startup.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
