package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nexusai/credit-engine/internal/domain"
)

// LedgerRepository reads the append-only ledger. Writes happen only
// through insertLedgerEntry inside the account and workflow
// repositories' transactions, so every posting carries the uniqueness
// guarantee of the external_reference index.
type LedgerRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewLedgerRepository creates a new PostgreSQL ledger repository.
func NewLedgerRepository(db *sql.DB, logger *slog.Logger) *LedgerRepository {
	return &LedgerRepository{db: db, logger: logger}
}

// insertLedgerEntry appends one entry within the caller's transaction.
// Returns false when the external reference already exists; the ON
// CONFLICT clause makes two racing inserts with the same reference
// collapse to one committed row.
func insertLedgerEntry(ctx context.Context, tx *sql.Tx, e *domain.LedgerEntry) (bool, error) {
	var usageDetail any
	if len(e.Usage) > 0 {
		b, err := json.Marshal(e.Usage)
		if err != nil {
			return false, fmt.Errorf("failed to marshal usage detail: %w", err)
		}
		usageDetail = b
	}

	var accessKey any
	if e.AccessKey != "" {
		accessKey = e.AccessKey
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries
			(entry_id, account_id, access_key, credits, cost_estimate_usd, external_reference, description, usage_detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (external_reference) DO NOTHING`,
		e.ID, e.AccountID, accessKey, e.Credits, e.CostEstimateUSD, e.ExternalReference, e.Description, usageDetail,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// Query returns entries matching the filter, newest first.
func (r *LedgerRepository) Query(ctx context.Context, f domain.LedgerFilter) ([]domain.LedgerEntry, error) {
	query := `
		SELECT entry_id, account_id, access_key, credits, cost_estimate_usd,
		       external_reference, description, usage_detail, created_at
		FROM ledger_entries WHERE 1=1`
	var args []any

	if f.AccountID != "" {
		args = append(args, f.AccountID)
		query += fmt.Sprintf(" AND account_id = $%d", len(args))
	}
	if f.AccessKey != "" {
		args = append(args, f.AccessKey)
		query += fmt.Sprintf(" AND access_key = $%d", len(args))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !f.Until.IsZero() {
		args = append(args, f.Until)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var accessKey sql.NullString
		var usageDetail []byte
		if err := rows.Scan(&e.ID, &e.AccountID, &accessKey, &e.Credits, &e.CostEstimateUSD,
			&e.ExternalReference, &e.Description, &usageDetail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.AccessKey = accessKey.String
		if len(usageDetail) > 0 {
			if err := json.Unmarshal(usageDetail, &e.Usage); err != nil {
				r.logger.Warn("failed to unmarshal usage detail, returning entry without it",
					"entry_id", e.ID, "error", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Replay recomputes an account balance from the full ledger.
func (r *LedgerRepository) Replay(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(credits), 0) FROM ledger_entries WHERE account_id = $1`,
		accountID,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("failed to replay ledger for account %s: %w", accountID, err)
	}
	return balance, nil
}

// ProviderBreakdown aggregates the per-service usage detail attached to
// an account's debit entries.
func (r *LedgerRepository) ProviderBreakdown(ctx context.Context, accountID string, since time.Time) ([]domain.ProviderUsage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT u->>'service_kind',
		       u->>'provider',
		       COUNT(*),
		       COALESCE(SUM((u->>'credits_charged')::bigint), 0),
		       COALESCE(SUM((u->>'cost_estimate_usd')::float8), 0)
		FROM ledger_entries, jsonb_array_elements(usage_detail) AS u
		WHERE account_id = $1 AND created_at >= $2 AND usage_detail IS NOT NULL
		GROUP BY 1, 2
		ORDER BY 4 DESC`,
		accountID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query provider breakdown: %w", err)
	}
	defer rows.Close()

	var out []domain.ProviderUsage
	for rows.Next() {
		var pu domain.ProviderUsage
		var kind string
		if err := rows.Scan(&kind, &pu.Provider, &pu.UsageCount, &pu.TotalCredits, &pu.TotalCostUSD); err != nil {
			return nil, err
		}
		pu.ServiceKind = domain.ServiceKind(kind)
		out = append(out, pu)
	}
	return out, rows.Err()
}

// KeyBreakdown aggregates debits per access key for an account.
func (r *LedgerRepository) KeyBreakdown(ctx context.Context, accountID string, since time.Time) ([]domain.KeyUsage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT access_key, COUNT(*), COALESCE(SUM(-credits), 0), COALESCE(SUM(cost_estimate_usd), 0)
		FROM ledger_entries
		WHERE account_id = $1 AND credits < 0 AND access_key IS NOT NULL AND created_at >= $2
		GROUP BY access_key
		ORDER BY 3 DESC`,
		accountID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query key breakdown: %w", err)
	}
	defer rows.Close()

	var out []domain.KeyUsage
	for rows.Next() {
		var ku domain.KeyUsage
		if err := rows.Scan(&ku.AccessKey, &ku.Postings, &ku.TotalCredits, &ku.TotalCostUSD); err != nil {
			return nil, err
		}
		out = append(out, ku)
	}
	return out, rows.Err()
}

// TopAccounts returns the heaviest-consuming accounts over a window.
func (r *LedgerRepository) TopAccounts(ctx context.Context, since time.Time, limit int) ([]domain.AccountUsage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT account_id, COUNT(*), COALESCE(SUM(-credits), 0)
		FROM ledger_entries
		WHERE credits < 0 AND created_at >= $1
		GROUP BY account_id
		ORDER BY 3 DESC
		LIMIT $2`,
		since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query top accounts: %w", err)
	}
	defer rows.Close()

	var out []domain.AccountUsage
	for rows.Next() {
		var au domain.AccountUsage
		if err := rows.Scan(&au.AccountID, &au.Postings, &au.TotalCredits); err != nil {
			return nil, err
		}
		out = append(out, au)
	}
	return out, rows.Err()
}
