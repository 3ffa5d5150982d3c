package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nexusai/credit-engine/internal/domain"
)

// WorkflowRepository persists workflows in the same database as the
// ledger, so record and settle observe identical state no matter which
// process handles them. Settlement runs the debit inside the workflow
// transaction: the status transition, the ledger entry, and the
// balance update commit together or not at all.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new PostgreSQL workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

func (r *WorkflowRepository) Create(ctx context.Context, wf *domain.Workflow) error {
	var adapter any
	if wf.Adapter != "" {
		adapter = wf.Adapter
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO workflows (workflow_id, account_id, access_key, name, adapter, status, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		wf.ID, wf.AccountID, wf.AccessKey, wf.Name, adapter, wf.Status, wf.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}
	return nil
}

func (r *WorkflowRepository) Get(ctx context.Context, workflowID string) (*domain.Workflow, error) {
	wf, err := scanWorkflow(r.db.QueryRowContext(ctx, `
		SELECT workflow_id, account_id, access_key, name, adapter, status, entries,
		       total_credits, total_cost_usd, status_code, error_message, opened_at, closed_at
		FROM workflows WHERE workflow_id = $1`,
		workflowID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrWorkflowNotFound
	}
	return wf, err
}

// AppendUsage adds one priced entry to an open workflow under the
// workflow row lock and returns the new running total.
func (r *WorkflowRepository) AppendUsage(ctx context.Context, workflowID string, usage domain.ServiceUsage) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	var status string
	var entriesRaw []byte
	var totalCredits int64
	var totalCost float64
	err = tx.QueryRowContext(ctx, `
		SELECT status, entries, total_credits, total_cost_usd
		FROM workflows WHERE workflow_id = $1 FOR UPDATE`,
		workflowID,
	).Scan(&status, &entriesRaw, &totalCredits, &totalCost)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrWorkflowNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to lock workflow: %w", err)
	}
	if domain.WorkflowStatus(status) != domain.WorkflowOpen {
		return 0, domain.ErrWorkflowNotFound
	}

	var entries []domain.ServiceUsage
	if err := json.Unmarshal(entriesRaw, &entries); err != nil {
		return 0, fmt.Errorf("failed to unmarshal workflow entries: %w", err)
	}
	entries = append(entries, usage)
	updatedRaw, err := json.Marshal(entries)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal workflow entries: %w", err)
	}

	totalCredits += usage.CreditsCharged
	totalCost += usage.CostEstimateUSD
	if _, err := tx.ExecContext(ctx, `
		UPDATE workflows SET entries = $1, total_credits = $2, total_cost_usd = $3
		WHERE workflow_id = $4`,
		updatedRaw, totalCredits, totalCost, workflowID,
	); err != nil {
		return 0, fmt.Errorf("failed to update workflow: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return totalCredits, nil
}

// Settle closes an open workflow and posts its debit atomically, with
// the workflow id as the ledger's external reference. An already
// settled workflow returns the stored settlement; a void workflow is
// reported as not found.
func (r *WorkflowRepository) Settle(ctx context.Context, workflowID string, statusCode int, errorMessage string) (*domain.Settlement, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	wf, err := scanWorkflow(tx.QueryRowContext(ctx, `
		SELECT workflow_id, account_id, access_key, name, adapter, status, entries,
		       total_credits, total_cost_usd, status_code, error_message, opened_at, closed_at
		FROM workflows WHERE workflow_id = $1 FOR UPDATE`,
		workflowID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrWorkflowNotFound
	}
	if err != nil {
		return nil, err
	}

	switch wf.Status {
	case domain.WorkflowVoid:
		return nil, domain.ErrWorkflowNotFound
	case domain.WorkflowSettled:
		balance, err := accountBalance(ctx, tx, wf.AccountID)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}
		return &domain.Settlement{
			WorkflowID:   wf.ID,
			TotalCredits: wf.TotalCredits,
			TotalCostUSD: wf.TotalCostUSD,
			Entries:      wf.Entries,
			Charged:      wf.TotalCredits > 0,
			Balance:      balance,
			Duplicate:    true,
		}, nil
	}

	settlement := &domain.Settlement{
		WorkflowID:   wf.ID,
		TotalCredits: wf.TotalCredits,
		TotalCostUSD: wf.TotalCostUSD,
		Entries:      wf.Entries,
	}

	if len(wf.Entries) > 0 {
		// A settled workflow with any usage charges at least one credit,
		// even when every entry priced to zero.
		total := max64(wf.TotalCredits, 1)
		settlement.TotalCredits = total

		balance, err := lockAccount(ctx, tx, wf.AccountID)
		if err != nil {
			return nil, err
		}
		if balance < total {
			// Nothing is written; the workflow stays open so the caller
			// can retry after a top-up or abandon it.
			return nil, &domain.InsufficientCreditsError{
				Current:  balance,
				Required: total,
				Deficit:  total - balance,
			}
		}

		applied, err := insertLedgerEntry(ctx, tx, &domain.LedgerEntry{
			ID:                uuid.NewString(),
			AccountID:         wf.AccountID,
			AccessKey:         wf.AccessKey,
			Credits:           -total,
			CostEstimateUSD:   wf.TotalCostUSD,
			ExternalReference: wf.ID,
			Description:       "workflow settlement: " + wf.Name,
			Usage:             wf.Entries,
		})
		if err != nil {
			return nil, err
		}
		if applied {
			if _, err := tx.ExecContext(ctx,
				`UPDATE accounts SET balance = balance - $1 WHERE account_id = $2`,
				total, wf.AccountID,
			); err != nil {
				return nil, fmt.Errorf("failed to update balance: %w", err)
			}
			balance -= total
		}
		settlement.Charged = true
		settlement.Balance = balance
	} else {
		balance, err := accountBalance(ctx, tx, wf.AccountID)
		if err != nil {
			return nil, err
		}
		settlement.Balance = balance
	}

	var errMsg any
	if errorMessage != "" {
		errMsg = errorMessage
	}
	// total_credits is rewritten so a duplicate settle reads back the
	// amount actually charged.
	if _, err := tx.ExecContext(ctx, `
		UPDATE workflows SET status = $1, status_code = $2, error_message = $3,
		       total_credits = $4, closed_at = NOW()
		WHERE workflow_id = $5`,
		domain.WorkflowSettled, statusCode, errMsg, settlement.TotalCredits, workflowID,
	); err != nil {
		return nil, fmt.Errorf("failed to mark workflow settled: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return settlement, nil
}

// Void transitions an open workflow to void. Voiding an already void
// workflow is a no-op; a settled one is reported as not found.
func (r *WorkflowRepository) Void(ctx context.Context, workflowID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE workflows SET status = $1, closed_at = NOW()
		WHERE workflow_id = $2 AND status = $3`,
		domain.WorkflowVoid, workflowID, domain.WorkflowOpen,
	)
	if err != nil {
		return fmt.Errorf("failed to void workflow: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 1 {
		return nil
	}

	var status string
	err = r.db.QueryRowContext(ctx,
		`SELECT status FROM workflows WHERE workflow_id = $1`, workflowID,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrWorkflowNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check workflow status: %w", err)
	}
	if domain.WorkflowStatus(status) == domain.WorkflowVoid {
		return nil
	}
	return domain.ErrWorkflowNotFound
}

// ReapStale voids every workflow still open past the cutoff. The
// status guard in the WHERE clause is the same transition guard
// settlement uses, so a workflow can never be reaped and settled both.
func (r *WorkflowRepository) ReapStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE workflows SET status = $1, closed_at = NOW()
		WHERE status = $2 AND opened_at < $3`,
		domain.WorkflowVoid, domain.WorkflowOpen, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reap workflows: %w", err)
	}
	return res.RowsAffected()
}

func accountBalance(ctx context.Context, tx *sql.Tx, accountID string) (int64, error) {
	var balance int64
	err := tx.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE account_id = $1`, accountID,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*domain.Workflow, error) {
	var wf domain.Workflow
	var adapter, errMsg sql.NullString
	var statusCode sql.NullInt64
	var closedAt sql.NullTime
	var entriesRaw []byte

	err := row.Scan(&wf.ID, &wf.AccountID, &wf.AccessKey, &wf.Name, &adapter, &wf.Status, &entriesRaw,
		&wf.TotalCredits, &wf.TotalCostUSD, &statusCode, &errMsg, &wf.OpenedAt, &closedAt)
	if err != nil {
		return nil, err
	}

	wf.Adapter = adapter.String
	wf.ErrorMessage = errMsg.String
	wf.StatusCode = int(statusCode.Int64)
	if closedAt.Valid {
		t := closedAt.Time
		wf.ClosedAt = &t
	}
	if len(entriesRaw) > 0 {
		if err := json.Unmarshal(entriesRaw, &wf.Entries); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workflow entries: %w", err)
		}
	}
	return &wf, nil
}
