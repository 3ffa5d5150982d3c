package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nexusai/credit-engine/internal/domain"
)

// AccountRepository implements domain.AccountRepository on PostgreSQL.
// Grant and Debit run as single transactions that lock the account row
// with SELECT ... FOR UPDATE, so concurrent postings against the same
// account linearize and the balance check can never race the write.
type AccountRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewAccountRepository creates a new PostgreSQL account repository.
func NewAccountRepository(db *sql.DB, logger *slog.Logger) *AccountRepository {
	return &AccountRepository{db: db, logger: logger}
}

func (r *AccountRepository) Create(ctx context.Context, email string) (*domain.Account, error) {
	acct := &domain.Account{ID: uuid.NewString(), Email: email, IsActive: true}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO accounts (account_id, email) VALUES ($1, $2)
		RETURNING created_at`,
		acct.ID, email,
	).Scan(&acct.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return acct, nil
}

func (r *AccountRepository) Get(ctx context.Context, accountID string) (*domain.Account, error) {
	var acct domain.Account
	err := r.db.QueryRowContext(ctx, `
		SELECT account_id, email, balance, is_active, created_at
		FROM accounts WHERE account_id = $1`,
		accountID,
	).Scan(&acct.ID, &acct.Email, &acct.Balance, &acct.IsActive, &acct.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &acct, nil
}

func (r *AccountRepository) Deactivate(ctx context.Context, accountID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET is_active = FALSE WHERE account_id = $1`, accountID)
	if err != nil {
		return fmt.Errorf("failed to deactivate account: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// Grant applies a positive posting. The ledger insert and the balance
// update commit together; a duplicate external reference leaves the
// balance untouched.
func (r *AccountRepository) Grant(ctx context.Context, p domain.GrantParams) (domain.PostResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.PostResult{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	balance, err := lockAccount(ctx, tx, p.AccountID)
	if err != nil {
		return domain.PostResult{}, err
	}

	applied, err := insertLedgerEntry(ctx, tx, &domain.LedgerEntry{
		ID:                uuid.NewString(),
		AccountID:         p.AccountID,
		Credits:           p.Credits,
		CostEstimateUSD:   p.CostPaidUSD,
		ExternalReference: p.ExternalReference,
		Description:       p.Description,
	})
	if err != nil {
		return domain.PostResult{}, err
	}
	if !applied {
		if err := tx.Commit(); err != nil {
			return domain.PostResult{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}
		return domain.PostResult{Applied: false, Duplicate: true, Balance: balance}, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE accounts SET balance = balance + $1 WHERE account_id = $2`,
		p.Credits, p.AccountID,
	); err != nil {
		return domain.PostResult{}, fmt.Errorf("failed to update balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.PostResult{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return domain.PostResult{Applied: true, Balance: balance + p.Credits}, nil
}

// Debit applies a negative posting. The balance check, the ledger
// insert, and the balance update are one atomic unit under the account
// row lock; an insufficient balance writes nothing.
func (r *AccountRepository) Debit(ctx context.Context, p domain.DebitParams) (domain.PostResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.PostResult{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	balance, err := lockAccount(ctx, tx, p.AccountID)
	if err != nil {
		return domain.PostResult{}, err
	}

	// Same-reference retries for this account serialize on the row lock,
	// so this pre-check is race-free; the unique index backstops
	// cross-account collisions below.
	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM ledger_entries WHERE external_reference = $1)`,
		p.ExternalReference,
	).Scan(&exists); err != nil {
		return domain.PostResult{}, fmt.Errorf("failed to check reference: %w", err)
	}
	if exists {
		if err := tx.Commit(); err != nil {
			return domain.PostResult{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}
		return domain.PostResult{Applied: false, Duplicate: true, Balance: balance}, nil
	}

	if balance < p.Credits {
		return domain.PostResult{Applied: false, Balance: balance, Deficit: p.Credits - balance}, nil
	}

	applied, err := insertLedgerEntry(ctx, tx, &domain.LedgerEntry{
		ID:                uuid.NewString(),
		AccountID:         p.AccountID,
		AccessKey:         p.AccessKey,
		Credits:           -p.Credits,
		CostEstimateUSD:   p.CostEstimateUSD,
		ExternalReference: p.ExternalReference,
		Description:       p.Description,
		Usage:             p.Usage,
	})
	if err != nil {
		return domain.PostResult{}, err
	}
	if !applied {
		if err := tx.Commit(); err != nil {
			return domain.PostResult{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}
		return domain.PostResult{Applied: false, Duplicate: true, Balance: balance}, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE accounts SET balance = balance - $1 WHERE account_id = $2`,
		p.Credits, p.AccountID,
	); err != nil {
		return domain.PostResult{}, fmt.Errorf("failed to update balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.PostResult{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return domain.PostResult{Applied: true, Balance: balance - p.Credits}, nil
}

// lockAccount acquires the row lock that serializes postings for one
// account and returns the current balance.
func lockAccount(ctx context.Context, tx *sql.Tx, accountID string) (int64, error) {
	var balance int64
	var active bool
	err := tx.QueryRowContext(ctx,
		`SELECT balance, is_active FROM accounts WHERE account_id = $1 FOR UPDATE`,
		accountID,
	).Scan(&balance, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to lock account: %w", err)
	}
	if !active {
		return 0, domain.ErrAccountInactive
	}
	return balance, nil
}
